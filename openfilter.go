// Package openfilter provides a high-level API for building and running
// filter pipelines as a library, without the CLI.
package openfilter

import (
	"context"

	"go.opentelemetry.io/otel/trace"

	"github.com/hiagors92/open-filter-challange/config"
	"github.com/hiagors92/open-filter-challange/filters"
	"github.com/hiagors92/open-filter-challange/pipeline"
	"github.com/hiagors92/open-filter-challange/registry"
	"github.com/hiagors92/open-filter-challange/runtime"
	"github.com/hiagors92/open-filter-challange/types"
	"github.com/hiagors92/open-filter-challange/validate"
)

// ─── Config API ───────────────────────────────────────────────────────

// LoadConfig reads a pipeline.yaml file.
func LoadConfig(path string) (*types.PipelineConfig, error) {
	return config.LoadPipelineConfig(path)
}

// DefaultConfig returns the built-in OCR demo pipeline reading video.
func DefaultConfig(video string) *types.PipelineConfig {
	return config.DefaultOCRPipeline(video)
}

// ─── Validate API ─────────────────────────────────────────────────────

// ValidateConfig checks cfg against reg, or the built-in filters when reg
// is nil.
func ValidateConfig(cfg *types.PipelineConfig, reg *registry.Registry) *validate.ValidationResult {
	if reg == nil {
		reg = filters.NewRegistry()
	}
	return validate.ValidatePipelineConfig(cfg, reg)
}

// ValidateYAML validates raw pipeline.yaml bytes against the schema.
func ValidateYAML(data []byte) ([]string, error) {
	return validate.ValidatePipelineYAML(data)
}

// ─── Run API ──────────────────────────────────────────────────────────

// RunConfig configures one pipeline run. Every field is optional.
type RunConfig struct {
	Registry       *registry.Registry // defaults to the built-in filters
	Logger         runtime.Logger
	Hooks          *runtime.HookRegistry
	Metrics        *runtime.Metrics
	TracerProvider trace.TracerProvider
	Observers      []pipeline.Observer
}

// Run builds a spec from cfg and runs it to completion. Configuration
// errors are reported through the Outcome like any other failure.
func Run(ctx context.Context, cfg *types.PipelineConfig, rc RunConfig) *pipeline.Outcome {
	reg := rc.Registry
	if reg == nil {
		reg = filters.NewRegistry()
	}
	opts := []pipeline.Option{}
	if rc.Logger != nil {
		opts = append(opts, pipeline.WithLogger(rc.Logger))
	}
	if rc.Hooks != nil {
		opts = append(opts, pipeline.WithHooks(rc.Hooks))
	}
	if rc.Metrics != nil {
		opts = append(opts, pipeline.WithMetrics(rc.Metrics))
	}
	if rc.TracerProvider != nil {
		opts = append(opts, pipeline.WithTracerProvider(rc.TracerProvider))
	}
	for _, obs := range rc.Observers {
		opts = append(opts, pipeline.WithObserver(obs))
	}
	return pipeline.New(reg, opts...).RunConfig(ctx, cfg)
}

// RunMulti runs the given (implementation, config) pairs as one pipeline
// with the built-in filters.
func RunMulti(ctx context.Context, refs ...types.FilterRef) *pipeline.Outcome {
	return Run(ctx, &types.PipelineConfig{Filters: refs}, RunConfig{})
}
