package validate

import (
	"context"
	"strings"
	"testing"

	"github.com/hiagors92/open-filter-challange/registry"
	"github.com/hiagors92/open-filter-challange/runtime"
	"github.com/hiagors92/open-filter-challange/types"
)

const validYAML = `
name: ocr-demo
defaults:
  stop_timeout: 5s
filters:
  - implementation: VideoIn
    config:
      id: VideoIn
      sources:
        - source: file://example_video.mp4
          options:
            loop: true
      outputs: tcp://*:5550
  - implementation: FilterOpticalCharacterRecognition
    config:
      id: OCRFilter
      sources: tcp://localhost:5550
      outputs:
        - tcp://*:5552
      ocr_engine: easyocr
      forward_ocr_texts: true
  - implementation: Webvis
    config:
      id: Webvis
      sources: tcp://localhost:5552
`

type nopFilter struct{}

func (nopFilter) Init(context.Context, runtime.Options) error { return nil }
func (nopFilter) Process(context.Context, *runtime.Message) ([]*runtime.Message, error) {
	return nil, nil
}
func (nopFilter) Shutdown(context.Context) error { return nil }

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg := registry.New()
	for _, id := range []string{"VideoIn", "FilterOpticalCharacterRecognition", "Webvis"} {
		if err := reg.Register(id, func() runtime.Filter { return nopFilter{} }); err != nil {
			t.Fatalf("Register(%s): %v", id, err)
		}
	}
	return reg
}

func TestValidatePipelineYAML(t *testing.T) {
	errs, err := ValidatePipelineYAML([]byte(validYAML))
	if err != nil {
		t.Fatalf("ValidatePipelineYAML() error: %v", err)
	}
	if len(errs) != 0 {
		t.Fatalf("expected no schema errors, got %v", errs)
	}
}

func TestValidatePipelineYAML_Violations(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"empty", "", "filters"},
		{"no filters", "filters: []", "filters"},
		{"missing implementation", "filters:\n  - config: {id: a}", "implementation"},
		{"unknown top-level key", "filters:\n  - implementation: A\nextra: 1", "extra"},
		{"bad address", "filters:\n  - implementation: A\n    config:\n      outputs: localhost:5550", "outputs"},
		{"negative max_in_flight", "filters:\n  - implementation: A\n    config:\n      max_in_flight: -2", "max_in_flight"},
		{"bad default duration", "defaults:\n  stop_timeout: soon\nfilters:\n  - implementation: A", "stop_timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs, err := ValidatePipelineYAML([]byte(tt.yaml))
			if err != nil {
				t.Fatalf("ValidatePipelineYAML() error: %v", err)
			}
			if len(errs) == 0 {
				t.Fatal("expected schema errors")
			}
			if !strings.Contains(strings.Join(errs, "\n"), tt.want) {
				t.Errorf("errors %v do not mention %q", errs, tt.want)
			}
		})
	}
}

func TestValidatePipelineYAML_NumericSeconds(t *testing.T) {
	doc := `
defaults:
  stop_timeout: 5
  connect_backoff: 0.25
filters:
  - implementation: A
    config:
      stop_timeout: 2
`
	errs, err := ValidatePipelineYAML([]byte(doc))
	if err != nil {
		t.Fatalf("ValidatePipelineYAML() error: %v", err)
	}
	if len(errs) != 0 {
		t.Fatalf("numeric seconds should be accepted everywhere, got %v", errs)
	}

	errs, err = ValidatePipelineYAML([]byte("defaults:\n  stop_timeout: 0\nfilters:\n  - implementation: A\n"))
	if err != nil {
		t.Fatalf("ValidatePipelineYAML() error: %v", err)
	}
	if len(errs) == 0 {
		t.Error("expected a zero stop_timeout to be rejected")
	}
}

func TestValidatePipelineYAML_Malformed(t *testing.T) {
	if _, err := ValidatePipelineYAML([]byte("filters: [")); err == nil {
		t.Fatal("expected YAML parse error")
	}
}

func TestValidatePipelineConfig_Valid(t *testing.T) {
	cfg, err := types.ParsePipelineConfig([]byte(validYAML))
	if err != nil {
		t.Fatalf("ParsePipelineConfig() error: %v", err)
	}
	r := ValidatePipelineConfig(cfg, testRegistry(t))
	if !r.IsValid() {
		t.Fatalf("expected valid, got errors %v", r.Errors)
	}
	if len(r.Warnings) != 0 {
		t.Errorf("expected no warnings, got %v", r.Warnings)
	}
}

func TestValidatePipelineConfig_Errors(t *testing.T) {
	tests := []struct {
		name string
		cfg  *types.PipelineConfig
		want string
	}{
		{
			name: "nil",
			want: "at least one filter",
		},
		{
			name: "unknown implementation",
			cfg: &types.PipelineConfig{Filters: []types.FilterRef{
				{Implementation: "Nope"},
			}},
			want: `unknown implementation "Nope"`,
		},
		{
			name: "unmatched input",
			cfg: &types.PipelineConfig{Filters: []types.FilterRef{
				{Implementation: "Webvis", Config: map[string]any{"sources": "tcp://localhost:5552"}},
			}},
			want: "no matching output",
		},
		{
			name: "duplicate binding",
			cfg: &types.PipelineConfig{Filters: []types.FilterRef{
				{Implementation: "VideoIn", Config: map[string]any{"id": "a", "outputs": "tcp://*:5550"}},
				{Implementation: "VideoIn", Config: map[string]any{"id": "b", "outputs": "tcp://0.0.0.0:5550"}},
			}},
			want: "duplicate binding",
		},
		{
			name: "bad address",
			cfg: &types.PipelineConfig{Filters: []types.FilterRef{
				{Implementation: "VideoIn", Config: map[string]any{"outputs": "udp://*:5550"}},
			}},
			want: "unsupported transport",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := ValidatePipelineConfig(tt.cfg, testRegistry(t))
			if r.IsValid() {
				t.Fatal("expected errors")
			}
			joined := strings.Join(r.Errors, "\n")
			if !strings.Contains(joined, tt.want) {
				t.Errorf("errors %q do not mention %q", joined, tt.want)
			}
			if strings.Contains(joined, "configuration error:") {
				t.Errorf("errors should not repeat the error class: %q", joined)
			}
		})
	}
}

func TestValidatePipelineConfig_Warnings(t *testing.T) {
	cfg := &types.PipelineConfig{Filters: []types.FilterRef{
		{Implementation: "videoin", Config: map[string]any{
			"id":            "src",
			"sources":       "tcp://camera.local:7000",
			"outputs":       "inproc://frames",
			"max_in_flight": 8,
			"stop_timeout":  "10ms",
		}},
		{Implementation: "Webvis", Config: map[string]any{"id": "vis", "sources": "inproc://frames"}},
		{Implementation: "Webvis", Config: map[string]any{"id": "idle"}},
	}}
	r := ValidatePipelineConfig(cfg, testRegistry(t))
	if !r.IsValid() {
		t.Fatalf("expected valid, got %v", r.Errors)
	}

	joined := strings.Join(r.Warnings, "\n")
	for _, want := range []string{
		`resolved to "VideoIn"`,
		"max_in_flight 8",
		"stop_timeout 10ms",
		"served outside this pipeline",
		"stage idle has no inputs and no outputs",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("warnings missing %q:\n%s", want, joined)
		}
	}
}

func TestValidatePipelineConfig_NoRegistry(t *testing.T) {
	cfg := &types.PipelineConfig{Filters: []types.FilterRef{
		{Implementation: "Anything", Config: map[string]any{"outputs": "inproc://x"}},
	}}
	if r := ValidatePipelineConfig(cfg, nil); !r.IsValid() {
		t.Fatalf("without a registry implementations are not checked: %v", r.Errors)
	}
}
