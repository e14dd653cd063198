package cmd

import (
	"strings"
	"testing"
)

const validPipeline = `
name: ocr-demo
filters:
  - implementation: VideoIn
    config:
      id: VideoIn
      outputs: inproc://frames
  - implementation: FilterOpticalCharacterRecognition
    config:
      id: OCRFilter
      sources: inproc://frames
      outputs: inproc://texts
  - implementation: Webvis
    config:
      id: Webvis
      sources: inproc://texts
`

func TestRunValidate_ValidConfig(t *testing.T) {
	errOut := resetGlobals(t)
	cfgFile = writePipelineYAML(t, t.TempDir(), validPipeline)

	if err := runValidate(nil, nil); err != nil {
		t.Fatalf("expected valid config, got: %v\n%s", err, errOut)
	}
}

func TestRunValidate_SchemaViolation(t *testing.T) {
	errOut := resetGlobals(t)
	cfgFile = writePipelineYAML(t, t.TempDir(), "filters: []\n")

	if err := runValidate(nil, nil); err == nil {
		t.Fatal("expected validation error for an empty filter list")
	}
	if !strings.Contains(errOut.String(), "ERROR: schema:") {
		t.Errorf("expected a schema error line, got:\n%s", errOut)
	}
}

func TestRunValidate_UnknownImplementation(t *testing.T) {
	errOut := resetGlobals(t)
	cfgFile = writePipelineYAML(t, t.TempDir(), `
filters:
  - implementation: Nope
    config:
      id: x
      outputs: inproc://a
`)

	if err := runValidate(nil, nil); err == nil {
		t.Fatal("expected validation error for an unknown implementation")
	}
	if !strings.Contains(errOut.String(), "ERROR:") || !strings.Contains(errOut.String(), "Nope") {
		t.Errorf("expected an error naming the implementation, got:\n%s", errOut)
	}
}

func TestRunValidate_StrictWarnings(t *testing.T) {
	errOut := resetGlobals(t)
	cfgFile = writePipelineYAML(t, t.TempDir(), strings.Replace(validPipeline,
		"      outputs: inproc://texts\n",
		"      outputs: inproc://texts\n      max_in_flight: 2\n", 1))

	if err := runValidate(nil, nil); err != nil {
		t.Fatalf("warnings alone should pass without --strict: %v", err)
	}
	if !strings.Contains(errOut.String(), "WARNING:") {
		t.Fatalf("expected a warning line, got:\n%s", errOut)
	}

	strict = true
	if err := runValidate(nil, nil); err == nil {
		t.Error("expected --strict to turn warnings into a failure")
	}
}

func TestRunValidate_MissingFile(t *testing.T) {
	resetGlobals(t)
	cfgFile = "/nonexistent/pipeline.yaml"

	if err := runValidate(nil, nil); err == nil {
		t.Error("expected error for a missing config file")
	}
}
