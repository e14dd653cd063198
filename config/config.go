// Package config loads pipeline.yaml files and provides the built-in OCR
// demo pipeline used when no file is given.
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/hiagors92/open-filter-challange/address"
	"github.com/hiagors92/open-filter-challange/types"
)

// Ports and ids of the built-in OCR demo pipeline.
const (
	DefaultVideo     = "example_video.mp4"
	FramesPort       = 5550
	TextsPort        = 5552
	VideoInID        = "VideoIn"
	OCRFilterID      = "OCRFilter"
	WebvisID         = "Webvis"
	DefaultOCREngine = "easyocr"
	BenchmarkID      = "Benchmark"
)

// LoadPipelineConfig reads and parses a pipeline.yaml file from the given path.
func LoadPipelineConfig(path string) (*types.PipelineConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading pipeline config %s: %w", path, err)
	}
	return types.ParsePipelineConfig(data)
}

// DefaultOCRPipeline returns the three-stage demo: a looping video source
// feeding OCR, whose texts are forwarded to the web visualizer. An empty
// video selects DefaultVideo.
func DefaultOCRPipeline(video string) *types.PipelineConfig {
	if video == "" {
		video = DefaultVideo
	}
	return &types.PipelineConfig{
		Name: "ocr-demo",
		Filters: []types.FilterRef{
			{
				Implementation: "VideoIn",
				Config: map[string]any{
					"id":      VideoInID,
					"outputs": []any{fmt.Sprintf("tcp://*:%d", FramesPort)},
					"sources": []any{map[string]any{
						"source":  fileURL(video),
						"topic":   "main",
						"options": map[string]any{"loop": true},
					}},
				},
			},
			{
				Implementation: "FilterOpticalCharacterRecognition",
				Config: map[string]any{
					"id":                OCRFilterID,
					"sources":           []any{fmt.Sprintf("tcp://localhost:%d", FramesPort)},
					"outputs":           []any{fmt.Sprintf("tcp://*:%d", TextsPort)},
					"ocr_engine":        DefaultOCREngine,
					"forward_ocr_texts": true,
				},
			},
			{
				Implementation: "Webvis",
				Config: map[string]any{
					"id":      WebvisID,
					"sources": []any{fmt.Sprintf("tcp://localhost:%d", TextsPort)},
				},
			},
		},
	}
}

// WithBenchmark appends a Benchmark stage subscribed to the first stream
// output of the last stage that publishes one; in the demo that is the OCR
// texts. Wildcard tcp binds are dialed on localhost. An empty path keeps the
// stage's default output file.
func WithBenchmark(cfg *types.PipelineConfig, path string) error {
	for _, f := range cfg.Filters {
		if f.ID() == BenchmarkID {
			return types.ConfigError("stage id %q is already taken", BenchmarkID)
		}
	}

	var source string
	for i := len(cfg.Filters) - 1; i >= 0 && source == ""; i-- {
		outputs, err := address.ParseList(cfg.Filters[i].Config["outputs"], address.Output)
		if err != nil {
			return err
		}
		for _, out := range outputs {
			if out.Transport == address.File {
				continue
			}
			source = subscribeTo(out)
			break
		}
	}
	if source == "" {
		return types.ConfigError("benchmark: no stage publishes a stream to observe")
	}

	stage := map[string]any{
		"id":      BenchmarkID,
		"sources": []any{source},
	}
	if path != "" {
		stage["output_path"] = path
	}
	cfg.Filters = append(cfg.Filters, types.FilterRef{Implementation: "Benchmark", Config: stage})
	return nil
}

// subscribeTo renders the input address that connects to out.
func subscribeTo(out address.TopicAddress) string {
	in := address.TopicAddress{Transport: out.Transport, Endpoint: out.Endpoint, Topic: out.Topic}
	if out.Transport == address.TCP {
		host := out.Host()
		if host == "*" || host == "0.0.0.0" || host == "::" {
			host = "localhost"
		}
		in.Endpoint = net.JoinHostPort(host, strconv.Itoa(out.Port()))
	}
	return in.String()
}

// OverrideVideo replaces the file sources of every VideoIn stage in cfg
// with path, keeping their topic and options. It reports how many sources
// were replaced.
func OverrideVideo(cfg *types.PipelineConfig, path string) int {
	n := 0
	for _, f := range cfg.Filters {
		if !strings.EqualFold(f.Implementation, "VideoIn") || f.Config == nil {
			continue
		}
		switch sources := f.Config["sources"].(type) {
		case string:
			if strings.HasPrefix(sources, "file://") {
				f.Config["sources"] = fileURL(path)
				n++
			}
		case []any:
			for i, s := range sources {
				switch v := s.(type) {
				case string:
					if strings.HasPrefix(v, "file://") {
						sources[i] = fileURL(path)
						n++
					}
				case map[string]any:
					if src, _ := v["source"].(string); strings.HasPrefix(src, "file://") {
						v["source"] = fileURL(path)
						n++
					}
				}
			}
		}
	}
	return n
}

func fileURL(path string) string {
	if strings.Contains(path, "://") {
		return path
	}
	return "file://" + filepath.ToSlash(path)
}
