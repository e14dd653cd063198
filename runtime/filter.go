// Package runtime runs one pipeline stage: it binds the stage's addresses,
// drives the wrapped Filter and reports state changes.
package runtime

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hiagors92/open-filter-challange/address"
	"github.com/hiagors92/open-filter-challange/types"
)

// Message is the unit of data exchanged between stages.
type Message = types.Message

// Filter is the contract every stage implementation satisfies.
type Filter interface {
	// Init validates opts and prepares the filter. A bad option value is
	// reported as an ErrConfiguration error.
	Init(ctx context.Context, opts Options) error
	// Process handles one input message and returns zero or more outputs.
	Process(ctx context.Context, msg *Message) ([]*Message, error)
	// Shutdown releases resources and flushes any artifacts.
	Shutdown(ctx context.Context) error
}

// Generator is implemented by source filters that produce messages
// without inputs. Generate is called once and should return when ctx is
// done, when emit fails, or when the source is exhausted.
type Generator interface {
	Generate(ctx context.Context, emit func(*Message) error) error
}

// Factory creates a fresh, uninitialised filter.
type Factory func() Filter

// Options is the typed configuration of one stage.
type Options struct {
	Name           string
	Implementation string
	Inputs         []address.TopicAddress
	Outputs        []address.TopicAddress
	// MaxInFlight > 0 switches outputs to drop-oldest buffering.
	MaxInFlight int
	StopTimeout time.Duration
	// Extra holds implementation-specific keys, passed through unvalidated.
	Extra map[string]any
}

// Has reports whether key is set in Extra.
func (o Options) Has(key string) bool {
	_, ok := o.Extra[key]
	return ok
}

// GetString returns Extra[key] formatted as a string, or def when unset.
func (o Options) GetString(key, def string) string {
	v, ok := o.Extra[key]
	if !ok || v == nil {
		return def
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// GetBool returns Extra[key] as a bool. Strings such as "true" are accepted.
func (o Options) GetBool(key string, def bool) (bool, error) {
	v, ok := o.Extra[key]
	if !ok || v == nil {
		return def, nil
	}
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		parsed, err := strconv.ParseBool(b)
		if err != nil {
			return def, types.ConfigError("option %s: %q is not a boolean", key, b)
		}
		return parsed, nil
	}
	return def, types.ConfigError("option %s: expected boolean, got %T", key, v)
}

// GetInt returns Extra[key] as an int.
func (o Options) GetInt(key string, def int) (int, error) {
	v, ok := o.Extra[key]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case uint64:
		return int(n), nil
	case float64:
		if n != float64(int(n)) {
			return def, types.ConfigError("option %s: %v is not an integer", key, n)
		}
		return int(n), nil
	case string:
		parsed, err := strconv.Atoi(n)
		if err != nil {
			return def, types.ConfigError("option %s: %q is not an integer", key, n)
		}
		return parsed, nil
	}
	return def, types.ConfigError("option %s: expected integer, got %T", key, v)
}

// GetDuration returns Extra[key] parsed as a Go duration string. Bare numbers
// are taken as seconds.
func (o Options) GetDuration(key string, def time.Duration) (time.Duration, error) {
	v, ok := o.Extra[key]
	if !ok || v == nil {
		return def, nil
	}
	d, err := types.DurationValue(v)
	if err != nil {
		return def, types.ConfigError("option %s: %v", key, err)
	}
	return d, nil
}

// GetStringSlice returns Extra[key] as a list of strings. A single string is
// split on commas.
func (o Options) GetStringSlice(key string) []string {
	v, ok := o.Extra[key]
	if !ok || v == nil {
		return nil
	}
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			out = append(out, fmt.Sprint(item))
		}
		return out
	case string:
		var out []string
		for _, part := range strings.Split(list, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out
	}
	return []string{fmt.Sprint(v)}
}
