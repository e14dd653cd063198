package validate

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hiagors92/open-filter-challange/address"
	"github.com/hiagors92/open-filter-challange/pipeline"
	"github.com/hiagors92/open-filter-challange/registry"
	"github.com/hiagors92/open-filter-challange/types"
)

// minStopTimeout is the shortest stop timeout accepted without a warning.
const minStopTimeout = 100 * time.Millisecond

// ValidationResult holds errors and warnings from config validation.
type ValidationResult struct {
	Errors   []string
	Warnings []string
}

// IsValid returns true if there are no validation errors.
func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

func (r *ValidationResult) errorf(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *ValidationResult) warnf(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// ValidatePipelineConfig checks cfg the way the orchestrator would before
// starting anything: addresses, the binding graph and, when reg is not
// nil, that every implementation is registered.
func ValidatePipelineConfig(cfg *types.PipelineConfig, reg *registry.Registry) *ValidationResult {
	r := &ValidationResult{}
	if cfg == nil || len(cfg.Filters) == 0 {
		r.errorf("at least one filter is required")
		return r
	}

	for i, f := range cfg.Filters {
		if f.Implementation == "" {
			r.errorf("filters[%d]: implementation is required", i)
			continue
		}
		if reg == nil {
			continue
		}
		canonical, _, err := reg.Resolve(f.Implementation)
		if err != nil {
			r.errorf("filters[%d]: %s", i, trimClass(err))
		} else if canonical != f.Implementation {
			r.warnf("filters[%d]: implementation %q resolved to %q", i, f.Implementation, canonical)
		}
	}
	if !r.IsValid() {
		return r
	}

	spec, err := pipeline.BuildSpec(cfg)
	if err != nil {
		r.errorf("%s", trimClass(err))
		return r
	}
	for _, err := range pipeline.Check(spec) {
		r.errorf("%s", trimClass(err))
	}
	if _, err := pipeline.StartOrder(spec); err != nil {
		r.errorf("%s", trimClass(err))
	}

	for _, d := range spec.Stages {
		if len(d.Inputs) == 0 && len(d.Outputs) == 0 {
			r.warnf("stage %s has no inputs and no outputs", d.Name)
		}
		if d.Options.MaxInFlight > 0 {
			r.warnf("stage %s: max_in_flight %d drops the oldest message when a consumer falls behind", d.Name, d.Options.MaxInFlight)
		}
		if d.Options.StopTimeout < minStopTimeout {
			r.warnf("stage %s: stop_timeout %s is very short; slow filters will be force-terminated", d.Name, d.Options.StopTimeout)
		}
		for _, in := range d.Inputs {
			if in.Transport == address.TCP && in.IsExternal() {
				r.warnf("stage %s: input %s is served outside this pipeline", d.Name, in)
			}
		}
	}
	return r
}

// trimClass drops the leading "configuration error: " from messages that
// are already reported under ERROR.
func trimClass(err error) string {
	msg := err.Error()
	if errors.Is(err, types.ErrConfiguration) {
		msg = strings.Replace(msg, types.ErrConfiguration.Error()+": ", "", 1)
	}
	return msg
}
