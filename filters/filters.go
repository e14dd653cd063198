// Package filters registers the built-in stage implementations.
package filters

import (
	"fmt"

	"github.com/hiagors92/open-filter-challange/filters/benchmark"
	"github.com/hiagors92/open-filter-challange/filters/ocr"
	"github.com/hiagors92/open-filter-challange/filters/videoin"
	"github.com/hiagors92/open-filter-challange/filters/webvis"
	"github.com/hiagors92/open-filter-challange/registry"
	"github.com/hiagors92/open-filter-challange/runtime"
)

// builtin lists every implementation id with its factory.
var builtin = []struct {
	id      string
	factory runtime.Factory
	aliases []string
}{
	{videoin.ID, videoin.New, []string{"video_in"}},
	{ocr.ID, ocr.New, []string{ocr.Alias}},
	{webvis.ID, webvis.New, nil},
	{benchmark.ID, benchmark.New, nil},
}

// RegisterAll registers the built-in implementations and their aliases
// in reg.
func RegisterAll(reg *registry.Registry) error {
	for _, b := range builtin {
		if err := reg.Register(b.id, b.factory); err != nil {
			return fmt.Errorf("registering %s: %w", b.id, err)
		}
		for _, a := range b.aliases {
			if err := reg.Alias(a, b.id); err != nil {
				return fmt.Errorf("registering %s: %w", b.id, err)
			}
		}
	}
	return nil
}

// NewRegistry returns a registry holding the built-in implementations.
func NewRegistry() *registry.Registry {
	reg := registry.New()
	if err := RegisterAll(reg); err != nil {
		panic(err)
	}
	return reg
}
