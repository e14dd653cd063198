package filters

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hiagors92/open-filter-challange/config"
	"github.com/hiagors92/open-filter-challange/filters/ocr"
	"github.com/hiagors92/open-filter-challange/pipeline"
	"github.com/hiagors92/open-filter-challange/runtime"
	"github.com/hiagors92/open-filter-challange/types"
)

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func run(t *testing.T, cfg *types.PipelineConfig) *pipeline.Outcome {
	t.Helper()
	cfg.Defaults = types.Defaults{StopTimeout: 2 * time.Second, ConnectRetries: 5, ConnectBackoff: 10 * time.Millisecond}
	spec, err := pipeline.BuildSpec(cfg)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return pipeline.New(NewRegistry()).Run(ctx, spec)
}

func TestRegisterAll(t *testing.T) {
	reg := NewRegistry()
	assert.Equal(t, []string{"Benchmark", "FilterOpticalCharacterRecognition", "VideoIn", "Webvis"}, reg.Names())

	id, _, err := reg.Resolve("ocr")
	require.NoError(t, err)
	assert.Equal(t, ocr.ID, id)

	assert.Error(t, RegisterAll(reg), "registering twice must fail")
}

func TestBuiltinPipeline_VideoFile(t *testing.T) {
	dir := t.TempDir()
	video := filepath.Join(dir, "clip.mp4")
	var content []byte
	for i := 0; i < 6; i++ {
		chunk := make([]byte, 64)
		copy(chunk, fmt.Sprintf("\x00CAPTION %d\x00", i))
		content = append(content, chunk...)
	}
	require.NoError(t, os.WriteFile(video, content, 0o644))

	results := filepath.Join(dir, "output", "ocr_results.json")
	bench := filepath.Join(dir, "benchmark_results.csv")
	frames, texts := freePort(t), freePort(t)

	cfg := &types.PipelineConfig{
		Name: "file-demo",
		Filters: []types.FilterRef{
			{Implementation: "VideoIn", Config: map[string]any{
				"id":      "VideoIn",
				"sources": []any{map[string]any{"source": "file://" + video, "options": map[string]any{"frame_size": 64}}},
				"outputs": []any{fmt.Sprintf("tcp://*:%d", frames)},
			}},
			{Implementation: "ocr", Config: map[string]any{
				"id":                "OCRFilter",
				"sources":           fmt.Sprintf("tcp://localhost:%d", frames),
				"outputs":           []any{fmt.Sprintf("tcp://*:%d", texts), "inproc://bench"},
				"ocr_engine":        "tesseract",
				"forward_ocr_texts": true,
				"output_json_path":  results,
			}},
			{Implementation: "Webvis", Config: map[string]any{
				"id":      "Webvis",
				"sources": fmt.Sprintf("tcp://localhost:%d", texts),
				"port":    0,
			}},
			{Implementation: "Benchmark", Config: map[string]any{
				"id":          "Benchmark",
				"sources":     "inproc://bench",
				"output_path": bench,
				"interval":    "50ms",
			}},
		},
	}

	out := run(t, cfg)
	require.True(t, out.Success, "run failed: %v", out.Err)
	assert.Equal(t, 4, out.Count(runtime.Stopped))

	data, err := os.ReadFile(results)
	require.NoError(t, err)
	var records []ocr.Record
	require.NoError(t, json.Unmarshal(data, &records))
	require.Len(t, records, 6)
	for i, r := range records {
		assert.Equal(t, uint64(i), r.Frame)
		assert.Equal(t, "tesseract", r.Engine)
		require.Len(t, r.Texts, 1)
		assert.Equal(t, "CAPTION", r.Texts[0].Text)
	}

	_, err = os.Stat(bench)
	assert.NoError(t, err, "benchmark results must be written")
}

func TestBuiltinPipeline_MissingVideo(t *testing.T) {
	dir := t.TempDir()
	missing := filepath.Join(dir, "nonexistent_video.mp4")

	cfg := config.DefaultOCRPipeline(missing)
	// Keep the demo topology on free ports and without the HTTP server.
	frames, texts := freePort(t), freePort(t)
	cfg.Filters[0].Config["outputs"] = []any{fmt.Sprintf("tcp://*:%d", frames)}
	cfg.Filters[1].Config["sources"] = []any{fmt.Sprintf("tcp://localhost:%d", frames)}
	cfg.Filters[1].Config["outputs"] = []any{fmt.Sprintf("tcp://*:%d", texts)}
	cfg.Filters[1].Config["output_json_path"] = filepath.Join(dir, "ocr.json")
	cfg.Filters[2].Config["sources"] = []any{fmt.Sprintf("tcp://localhost:%d", texts)}
	cfg.Filters[2].Config["port"] = 0

	out := run(t, cfg)
	require.False(t, out.Success)
	assert.ErrorIs(t, out.Err, types.ErrBind)
	assert.Contains(t, out.Err.Error(), missing)
	assert.Contains(t, out.Err.Error(), "no such file or directory")
	assert.Equal(t, runtime.Failed, out.States[config.VideoInID].State)
	assert.NotEqual(t, runtime.Running, out.States[config.WebvisID].State)
}

func TestBuiltinPipeline_InvalidEngine(t *testing.T) {
	cfg := &types.PipelineConfig{Filters: []types.FilterRef{
		{Implementation: "VideoIn", Config: map[string]any{"id": "src", "outputs": "inproc://frames", "max_frames": 1}},
		{Implementation: "ocr", Config: map[string]any{"id": "OCRFilter", "sources": "inproc://frames", "ocr_engine": "invalid_engine", "output_json_path": ""}},
	}}
	out := run(t, cfg)
	require.False(t, out.Success)
	assert.ErrorIs(t, out.Err, types.ErrConfiguration)
	assert.Contains(t, out.Err.Error(), `unsupported ocr_engine "invalid_engine"`)
	assert.Equal(t, 0, out.Count(runtime.Running))
}

func TestBuiltinPipeline_SyntheticSource(t *testing.T) {
	dir := t.TempDir()
	cfg := &types.PipelineConfig{Filters: []types.FilterRef{
		{Implementation: "VideoIn", Config: map[string]any{"id": "src", "outputs": "inproc://frames", "max_frames": 25, "frame_size": 256}},
		{Implementation: "ocr", Config: map[string]any{
			"id":               "OCRFilter",
			"sources":          "inproc://frames",
			"outputs":          "inproc://texts",
			"output_json_path": filepath.Join(dir, "ocr.json"),
		}},
		{Implementation: "Webvis", Config: map[string]any{"id": "vis", "sources": "inproc://texts", "port": 0}},
	}}
	out := run(t, cfg)
	require.True(t, out.Success, "run failed: %v", out.Err)

	data, err := os.ReadFile(filepath.Join(dir, "ocr.json"))
	require.NoError(t, err)
	var records []ocr.Record
	require.NoError(t, json.Unmarshal(data, &records))
	require.Len(t, records, 25)
	assert.Equal(t, "FRAME 000024 OPENFILTER TEST PATTERN", records[24].Texts[0].Text)
}
