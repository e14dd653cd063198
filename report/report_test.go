package report

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hiagors92/open-filter-challange/pipeline"
	"github.com/hiagors92/open-filter-challange/runtime"
	"github.com/hiagors92/open-filter-challange/types"
)

func successOutcome() *pipeline.Outcome {
	now := time.Now()
	return &pipeline.Outcome{
		RunID:    uuid.New(),
		Pipeline: "ocr-demo",
		Success:  true,
		Stages:   []string{"VideoIn", "OCRFilter"},
		States: map[string]runtime.StateSnapshot{
			"VideoIn":   {State: runtime.Stopped, Since: now},
			"OCRFilter": {State: runtime.Stopped, Since: now},
		},
		StartedAt:  now.Add(-time.Second),
		FinishedAt: now,
	}
}

func failedOutcome(err error) *pipeline.Outcome {
	out := successOutcome()
	out.Success = false
	out.Err = err
	out.States["OCRFilter"] = runtime.StateSnapshot{State: runtime.Failed, Reason: err, Since: time.Now()}
	return out
}

func TestLine(t *testing.T) {
	if got := Line(successOutcome()); got != "" {
		t.Errorf("Line(success) = %q, want empty", got)
	}

	err := &types.StageError{Stage: "OCRFilter", Err: types.ConfigError(`unsupported ocr_engine "invalid_engine"`)}
	got := Line(failedOutcome(err))
	want := "[ERRO]: " + err.Error()
	if got != want {
		t.Errorf("Line(failed) = %q, want %q", got, want)
	}

	if got := Line(nil); !strings.HasPrefix(got, Prefix) {
		t.Errorf("Line(nil) = %q, want prefix %q", got, Prefix)
	}
}

func TestLine_KeepsReasonVerbatim(t *testing.T) {
	reasons := []error{
		errors.New("input file:///tmp/x/nonexistent_video.mp4: no such file or directory"),
		fmt.Errorf("wrapped: %w", types.ErrForcedTermination),
		errors.New("multi\nline reason"),
	}
	for _, r := range reasons {
		got := Line(failedOutcome(r))
		if !strings.Contains(got, r.Error()) {
			t.Errorf("Line dropped reason %q: got %q", r, got)
		}
	}
}

func TestExit(t *testing.T) {
	var buf bytes.Buffer
	if code := Exit(&buf, successOutcome()); code != ExitSuccess {
		t.Errorf("Exit(success) = %d, want %d", code, ExitSuccess)
	}
	if buf.Len() != 0 {
		t.Errorf("Exit(success) wrote %q", buf.String())
	}

	buf.Reset()
	err := errors.New("stage VideoIn: bind error: open missing.mp4: no such file or directory")
	if code := Exit(&buf, failedOutcome(err)); code != ExitFailure {
		t.Errorf("Exit(failed) = %d, want %d", code, ExitFailure)
	}
	if got, want := buf.String(), "[ERRO]: "+err.Error()+"\n"; got != want {
		t.Errorf("Exit output = %q, want %q (no color for non-terminals)", got, want)
	}

	buf.Reset()
	if code := Exit(&buf, nil); code != ExitFailure {
		t.Errorf("Exit(nil) = %d, want %d", code, ExitFailure)
	}
}

func TestSummary(t *testing.T) {
	err := errors.New("processing error: boom")
	s := Summary(failedOutcome(err), 100)
	for _, want := range []string{"ocr-demo", "failed", "VideoIn", "stopped", "OCRFilter", "boom"} {
		if !strings.Contains(s, want) {
			t.Errorf("Summary missing %q:\n%s", want, s)
		}
	}

	if !strings.Contains(Summary(successOutcome(), 80), "success") {
		t.Error("Summary of a successful run should say success")
	}
	if Summary(nil, 80) != "" {
		t.Error("Summary(nil) should be empty")
	}
}
