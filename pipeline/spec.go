// Package pipeline validates a pipeline description, starts one stage
// runtime per descriptor in dependency order and supervises them until a
// single Outcome is reached.
package pipeline

import (
	"fmt"
	"time"

	"github.com/hiagors92/open-filter-challange/address"
	"github.com/hiagors92/open-filter-challange/runtime"
	"github.com/hiagors92/open-filter-challange/types"
)

// Reserved stage config keys. Everything else goes to Options.Extra.
const (
	keyID          = "id"
	keySources     = "sources"
	keyInputs      = "inputs"
	keyOutputs     = "outputs"
	keyMaxInFlight = "max_in_flight"
	keyStopTimeout = "stop_timeout"
)

// Descriptor is the immutable description of one stage.
type Descriptor struct {
	Name           string
	Implementation string
	Inputs         []address.TopicAddress
	Outputs        []address.TopicAddress
	Options        runtime.Options
}

// Spec is an ordered list of descriptors plus the run-wide defaults. It is
// read-only once built.
type Spec struct {
	Name     string
	Defaults types.Defaults
	Stages   []Descriptor
}

// Names returns the stage names in declaration order.
func (s *Spec) Names() []string {
	names := make([]string, len(s.Stages))
	for i, d := range s.Stages {
		names[i] = d.Name
	}
	return names
}

// BuildSpec turns a parsed pipeline config into a Spec. Addresses are parsed
// here, so malformed endpoints fail before anything runs.
func BuildSpec(cfg *types.PipelineConfig) (*Spec, error) {
	if cfg == nil || len(cfg.Filters) == 0 {
		return nil, types.ConfigError("pipeline has no stages")
	}
	spec := &Spec{
		Name:     cfg.Name,
		Defaults: cfg.Defaults.WithFallbacks(),
		Stages:   make([]Descriptor, 0, len(cfg.Filters)),
	}
	for i, ref := range cfg.Filters {
		d, err := buildDescriptor(i, ref, spec.Defaults)
		if err != nil {
			return nil, err
		}
		spec.Stages = append(spec.Stages, d)
	}
	return spec, nil
}

func buildDescriptor(i int, ref types.FilterRef, defaults types.Defaults) (Descriptor, error) {
	name := ref.ID()
	if name == "" {
		if v, ok := ref.Config[keyID]; ok && v != nil {
			return Descriptor{}, types.ConfigError("filters[%d]: id must be a string, got %T", i, v)
		}
		name = ref.Implementation
	}

	rawInputs := ref.Config[keySources]
	if rawInputs == nil {
		rawInputs = ref.Config[keyInputs]
	} else if ref.Config[keyInputs] != nil {
		return Descriptor{}, types.ConfigError("stage %s: set either sources or inputs, not both", name)
	}
	inputs, err := address.ParseList(rawInputs, address.Input)
	if err != nil {
		return Descriptor{}, fmt.Errorf("stage %s: %w", name, err)
	}
	outputs, err := address.ParseList(ref.Config[keyOutputs], address.Output)
	if err != nil {
		return Descriptor{}, fmt.Errorf("stage %s: %w", name, err)
	}

	opts := runtime.Options{
		Name:           name,
		Implementation: ref.Implementation,
		Inputs:         inputs,
		Outputs:        outputs,
		MaxInFlight:    defaults.MaxInFlight,
		StopTimeout:    defaults.StopTimeout,
		Extra:          make(map[string]any),
	}
	for k, v := range ref.Config {
		switch k {
		case keyID, keySources, keyInputs, keyOutputs, keyMaxInFlight, keyStopTimeout:
		default:
			opts.Extra[k] = v
		}
	}

	reserved := runtime.Options{Extra: ref.Config}
	if opts.MaxInFlight, err = reserved.GetInt(keyMaxInFlight, opts.MaxInFlight); err != nil {
		return Descriptor{}, fmt.Errorf("stage %s: %w", name, err)
	}
	if opts.MaxInFlight < 0 {
		return Descriptor{}, types.ConfigError("stage %s: max_in_flight must be >= 0", name)
	}
	if opts.StopTimeout, err = reserved.GetDuration(keyStopTimeout, opts.StopTimeout); err != nil {
		return Descriptor{}, fmt.Errorf("stage %s: %w", name, err)
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = types.DefaultStopTimeout
	}

	return Descriptor{
		Name:           name,
		Implementation: ref.Implementation,
		Inputs:         inputs,
		Outputs:        outputs,
		Options:        opts,
	}, nil
}

// stopTimeout is the cooperative stop bound for d.
func (d Descriptor) stopTimeout() time.Duration {
	if d.Options.StopTimeout > 0 {
		return d.Options.StopTimeout
	}
	return types.DefaultStopTimeout
}
