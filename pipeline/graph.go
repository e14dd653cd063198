package pipeline

import (
	"sort"
	"strings"

	"github.com/hiagors92/open-filter-challange/address"
	"github.com/hiagors92/open-filter-challange/types"
)

// Validate checks the address graph of spec and returns the first problem,
// or nil. Every problem is an ErrConfiguration error.
func Validate(spec *Spec) error {
	if errs := Check(spec); len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// Check returns every problem in the address graph of spec:
//   - stage names must be unique;
//   - no two endpoints may bind the same endpoint and topic;
//   - every non-external input must be fed by another stage;
//   - every local connect-mode output must reach a bound input.
func Check(spec *Spec) []error {
	if spec == nil || len(spec.Stages) == 0 {
		return []error{types.ConfigError("pipeline has no stages")}
	}
	var errs []error

	names := make(map[string]int, len(spec.Stages))
	for i, d := range spec.Stages {
		if d.Name == "" {
			errs = append(errs, types.ConfigError("stage %d: name is required", i))
			continue
		}
		if prev, ok := names[d.Name]; ok {
			errs = append(errs, types.ConfigError("duplicate stage name %q (stages %d and %d)", d.Name, prev, i))
			continue
		}
		names[d.Name] = i
	}

	errs = append(errs, checkBindings(spec)...)

	for i, d := range spec.Stages {
		for _, in := range d.Inputs {
			if in.IsExternal() {
				continue
			}
			if len(feeders(spec, i, in)) == 0 {
				errs = append(errs, unmatched(spec, i, in, "input"))
			}
		}
		for _, out := range d.Outputs {
			if out.BindMode != address.Connect || out.IsExternal() {
				continue
			}
			if len(feeders(spec, i, out)) == 0 {
				errs = append(errs, unmatched(spec, i, out, "output"))
			}
		}
	}
	return errs
}

// bindKey identifies what a bind-mode endpoint occupies. A tcp listener
// owns its port whatever the topic.
func bindKey(a address.TopicAddress) string {
	if a.Transport == address.TCP {
		return a.EndpointKey()
	}
	return a.Key()
}

func checkBindings(spec *Spec) []error {
	type owner struct {
		stage int
		addr  address.TopicAddress
	}
	var errs []error
	bound := make(map[string]owner)
	for i, d := range spec.Stages {
		eps := append(append([]address.TopicAddress(nil), d.Outputs...), d.Inputs...)
		for _, a := range eps {
			if a.BindMode != address.Bind || (a.Transport == address.File && isInput(d, a)) {
				continue
			}
			key := bindKey(a)
			if prev, ok := bound[key]; ok {
				errs = append(errs, types.ConfigError("duplicate binding: %s is bound by stage %s and by stage %s",
					a, spec.Stages[prev.stage].Name, d.Name))
				continue
			}
			bound[key] = owner{stage: i, addr: a}
		}
	}
	return errs
}

func isInput(d Descriptor, a address.TopicAddress) bool {
	for _, in := range d.Inputs {
		if in.Key() == a.Key() && in.BindMode == a.BindMode {
			return true
		}
	}
	return false
}

// feeders returns the other stages whose opposite-side address pairs with
// a. For an input that means outputs, for an output it means inputs.
func feeders(spec *Spec, self int, a address.TopicAddress) []int {
	input := isInput(spec.Stages[self], a)
	var out []int
	for j, d := range spec.Stages {
		if j == self {
			continue
		}
		candidates := d.Outputs
		if !input {
			candidates = d.Inputs
		}
		for _, b := range candidates {
			if pairs(a, b) {
				out = append(out, j)
				break
			}
		}
	}
	return out
}

// pairs reports whether a and b name the same stream with exactly one side
// binding it.
func pairs(a, b address.TopicAddress) bool {
	return a.Key() == b.Key() && a.BindMode != b.BindMode
}

func unmatched(spec *Spec, self int, a address.TopicAddress, side string) error {
	name := spec.Stages[self].Name
	for j, d := range spec.Stages {
		if j == self {
			continue
		}
		for _, b := range append(append([]address.TopicAddress(nil), d.Outputs...), d.Inputs...) {
			if b.EndpointKey() == a.EndpointKey() && b.Topic != a.Topic {
				return types.ConfigError("stage %s: %s %s: topic %q does not match %s of stage %s (topic %q)",
					name, side, a, a.Topic, b, d.Name, b.Topic)
			}
			if b.Key() == a.Key() && b.BindMode == a.BindMode {
				return types.ConfigError("stage %s: %s %s: both sides use %s mode with stage %s",
					name, side, a, a.BindMode, d.Name)
			}
		}
	}
	if side == "input" {
		return types.ConfigError("stage %s: input %s has no matching output", name, a)
	}
	return types.ConfigError("stage %s: output %s connects to no bound input", name, a)
}

// StartOrder returns stage indexes such that every stage binding an
// endpoint comes before the stages connecting to it. Ties keep declaration
// order. A cycle is a configuration error.
func StartOrder(spec *Spec) ([]int, error) {
	n := len(spec.Stages)
	after := make([]map[int]struct{}, n) // binder -> connectors
	indegree := make([]int, n)
	for i := range after {
		after[i] = make(map[int]struct{})
	}

	addEdge := func(from, to int) {
		if _, ok := after[from][to]; ok {
			return
		}
		after[from][to] = struct{}{}
		indegree[to]++
	}

	for i, d := range spec.Stages {
		for _, a := range append(append([]address.TopicAddress(nil), d.Outputs...), d.Inputs...) {
			if a.BindMode != address.Connect {
				continue
			}
			for _, j := range feeders(spec, i, a) {
				addEdge(j, i)
			}
		}
	}

	order := make([]int, 0, n)
	done := make([]bool, n)
	for len(order) < n {
		next := -1
		for i := 0; i < n; i++ {
			if !done[i] && indegree[i] == 0 {
				next = i
				break
			}
		}
		if next < 0 {
			var cyc []string
			for i := 0; i < n; i++ {
				if !done[i] {
					cyc = append(cyc, spec.Stages[i].Name)
				}
			}
			sort.Strings(cyc)
			return nil, types.ConfigError("dependency cycle between stages: %s", strings.Join(cyc, ", "))
		}
		done[next] = true
		order = append(order, next)
		for j := range after[next] {
			indegree[j]--
		}
	}
	return order, nil
}
