package types

import (
	"errors"
	"testing"
	"time"
)

func TestParsePipelineConfig(t *testing.T) {
	data := []byte(`
name: hello-ocr
defaults:
  stop_timeout: 2s
  connect_retries: 3
filters:
  - implementation: VideoIn
    config:
      id: VideoIn
      outputs: ["tcp://*:5550"]
  - implementation: Webvis
    config:
      id: Webvis
      sources: ["tcp://localhost:5550"]
`)
	cfg, err := ParsePipelineConfig(data)
	if err != nil {
		t.Fatalf("ParsePipelineConfig() error: %v", err)
	}
	if cfg.Name != "hello-ocr" {
		t.Errorf("name: got %q", cfg.Name)
	}
	if len(cfg.Filters) != 2 {
		t.Fatalf("filters: got %d, want 2", len(cfg.Filters))
	}
	if cfg.Filters[0].ID() != "VideoIn" {
		t.Errorf("filters[0].ID(): got %q", cfg.Filters[0].ID())
	}
	if cfg.Defaults.StopTimeout != 2*time.Second {
		t.Errorf("stop_timeout: got %v", cfg.Defaults.StopTimeout)
	}
	if cfg.Defaults.ConnectRetries != 3 {
		t.Errorf("connect_retries: got %d", cfg.Defaults.ConnectRetries)
	}
}

func TestParsePipelineConfig_NumericDefaults(t *testing.T) {
	cfg, err := ParsePipelineConfig([]byte(`
defaults:
  stop_timeout: 5
  connect_backoff: 0.5
  max_in_flight: 4
filters:
  - implementation: VideoIn
`))
	if err != nil {
		t.Fatalf("ParsePipelineConfig() error: %v", err)
	}
	if cfg.Defaults.StopTimeout != 5*time.Second {
		t.Errorf("stop_timeout: got %v, want 5s", cfg.Defaults.StopTimeout)
	}
	if cfg.Defaults.ConnectBackoff != 500*time.Millisecond {
		t.Errorf("connect_backoff: got %v, want 500ms", cfg.Defaults.ConnectBackoff)
	}
	if cfg.Defaults.MaxInFlight != 4 {
		t.Errorf("max_in_flight: got %d", cfg.Defaults.MaxInFlight)
	}
}

func TestParsePipelineConfig_BadDefaultDuration(t *testing.T) {
	for _, v := range []string{"soon", "[1, 2]"} {
		_, err := ParsePipelineConfig([]byte("defaults:\n  stop_timeout: " + v + "\nfilters:\n  - implementation: A\n"))
		if err == nil {
			t.Fatalf("stop_timeout %s: expected error", v)
		}
		if !errors.Is(err, ErrConfiguration) {
			t.Errorf("stop_timeout %s: expected ErrConfiguration, got %v", v, err)
		}
	}
}

func TestDurationValue(t *testing.T) {
	tests := []struct {
		in   any
		want time.Duration
	}{
		{nil, 0},
		{"250ms", 250 * time.Millisecond},
		{3, 3 * time.Second},
		{1.5, 1500 * time.Millisecond},
	}
	for _, tt := range tests {
		got, err := DurationValue(tt.in)
		if err != nil {
			t.Fatalf("DurationValue(%v) error: %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("DurationValue(%v): got %v, want %v", tt.in, got, tt.want)
		}
	}
	if _, err := DurationValue(true); err == nil {
		t.Error("expected error for a bool")
	}
}

func TestParsePipelineConfig_MissingImplementation(t *testing.T) {
	_, err := ParsePipelineConfig([]byte("filters:\n  - config: {id: a}\n"))
	if err == nil {
		t.Fatal("expected error for missing implementation")
	}
	if !errors.Is(err, ErrConfiguration) {
		t.Errorf("expected ErrConfiguration, got %v", err)
	}
}

func TestParsePipelineConfig_Empty(t *testing.T) {
	if _, err := ParsePipelineConfig([]byte("name: x\n")); err == nil {
		t.Fatal("expected error for empty filter list")
	}
}

func TestParsePipelineConfig_InvalidYAML(t *testing.T) {
	if _, err := ParsePipelineConfig([]byte("filters: [")); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestDefaultsWithFallbacks(t *testing.T) {
	d := Defaults{ConnectRetries: 2}.WithFallbacks()
	if d.ConnectRetries != 2 {
		t.Errorf("connect_retries overridden: got %d", d.ConnectRetries)
	}
	if d.StopTimeout != DefaultStopTimeout {
		t.Errorf("stop_timeout: got %v", d.StopTimeout)
	}
	if d.ConnectBackoff != DefaultConnectBackoff {
		t.Errorf("connect_backoff: got %v", d.ConnectBackoff)
	}
}

func TestWrapStage(t *testing.T) {
	if WrapStage("a", nil) != nil {
		t.Fatal("nil error should stay nil")
	}
	err := WrapStage("ocr", ErrProcessing)
	if !errors.Is(err, ErrProcessing) {
		t.Errorf("wrapped error lost its class: %v", err)
	}
	if got := err.Error(); got != "stage ocr: processing error" {
		t.Errorf("Error(): got %q", got)
	}
	if again := WrapStage("other", err); again != err {
		t.Errorf("double wrap should be a no-op, got %v", again)
	}
}
