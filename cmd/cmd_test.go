package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hiagors92/open-filter-challange/types"
)

// resetGlobals restores every flag variable after the test and captures
// stderr in the returned buffer.
func resetGlobals(t *testing.T) *bytes.Buffer {
	t.Helper()
	oldCfg, oldVerbose, oldTheme := cfgFile, verbose, themeOverride
	oldStrict, oldBench := strict, runBenchmark
	oldVideo, oldStop, oldMetrics, oldTUI := runVideo, runStopTimeout, runMetricsAddr, runTUI
	oldStderr := stderr
	t.Cleanup(func() {
		cfgFile, verbose, themeOverride = oldCfg, oldVerbose, oldTheme
		strict, runBenchmark = oldStrict, oldBench
		runVideo, runStopTimeout, runMetricsAddr, runTUI = oldVideo, oldStop, oldMetrics, oldTUI
		stderr = oldStderr
	})

	var buf bytes.Buffer
	stderr = &buf
	cfgFile = defaultConfigFile
	verbose, strict, runTUI = false, false, false
	runVideo, runMetricsAddr, runBenchmark = "", "", ""
	runStopTimeout = 0
	return &buf
}

func writePipelineYAML(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "pipeline.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing pipeline.yaml: %v", err)
	}
	return path
}

func TestRootCmd_Subcommands(t *testing.T) {
	want := map[string]bool{"run": false, "validate": false, "filters": false}
	for _, c := range rootCmd.Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("subcommand %q not registered", name)
		}
	}
}

func TestRootCmd_FlagDefaults(t *testing.T) {
	f := rootCmd.PersistentFlags().Lookup("config")
	if f == nil || f.DefValue != "pipeline.yaml" {
		t.Fatalf("config flag default: got %v, want pipeline.yaml", f)
	}
	if f := runCmd.Flags().Lookup("stop-timeout"); f == nil || f.DefValue != "0s" {
		t.Errorf("stop-timeout default: got %v, want 0s", f)
	}
	if f := runCmd.Flags().Lookup("tui"); f == nil || f.DefValue != "false" {
		t.Errorf("tui should default to false, got %v", f)
	}
	if f := runCmd.Flags().Lookup("benchmark"); f == nil || f.DefValue != "" || f.NoOptDefVal != "benchmark_results.csv" {
		t.Errorf("benchmark flag: got %+v, want off by default and benchmark_results.csv when bare", f)
	}
}

func TestSetVersionInfo(t *testing.T) {
	old := appVersion
	defer func() { appVersion = old }()

	SetVersionInfo("1.2.3", "abc123")
	if appVersion != "1.2.3" || rootCmd.Version != "1.2.3" {
		t.Errorf("version not applied: app=%q root=%q", appVersion, rootCmd.Version)
	}
}

func TestRunFilters(t *testing.T) {
	var out bytes.Buffer
	filtersCmd.SetOut(&out)
	defer filtersCmd.SetOut(nil)

	if err := runFilters(filtersCmd, nil); err != nil {
		t.Fatalf("runFilters: %v", err)
	}
	got := out.String()
	for _, want := range []string{
		"Benchmark\n",
		"FilterOpticalCharacterRecognition (aliases: ocr)\n",
		"VideoIn (aliases: video_in)\n",
		"Webvis\n",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}

func TestExecute_ReportsErrorOnce(t *testing.T) {
	errOut := resetGlobals(t)
	missing := filepath.Join(t.TempDir(), "missing.yaml")

	rootCmd.SetArgs([]string{"validate", "--config", missing})
	defer rootCmd.SetArgs(nil)

	if code := Execute(); code != 1 {
		t.Fatalf("exit code: got %d, want 1", code)
	}
	got := errOut.String()
	if strings.Count(got, "[ERRO]:") != 1 {
		t.Errorf("want exactly one [ERRO] line, got:\n%s", got)
	}
	if !strings.Contains(got, "loading config") {
		t.Errorf("error line should name the failure, got:\n%s", got)
	}
}

func TestLoadRunConfig_DefaultDemo(t *testing.T) {
	resetGlobals(t)
	t.Chdir(t.TempDir())
	runVideo = "clips/street.mp4"

	cfg, err := loadRunConfig()
	if err != nil {
		t.Fatalf("loadRunConfig: %v", err)
	}
	if cfg.Name != "ocr-demo" || len(cfg.Filters) != 3 {
		t.Fatalf("expected the OCR demo pipeline, got %q with %d filters", cfg.Name, len(cfg.Filters))
	}
	data, err := types.MarshalPipelineConfig(cfg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(data), "street.mp4") {
		t.Errorf("demo pipeline should read the --video file:\n%s", data)
	}
}

func TestLoadRunConfig_ExplicitMissing(t *testing.T) {
	resetGlobals(t)
	cfgFile = filepath.Join(t.TempDir(), "other.yaml")

	if _, err := loadRunConfig(); err == nil {
		t.Error("expected error for a missing explicit config")
	}
}

func TestLoadRunConfig_VideoOverride(t *testing.T) {
	errOut := resetGlobals(t)
	dir := t.TempDir()
	cfgFile = writePipelineYAML(t, dir, `
filters:
  - implementation: VideoIn
    config:
      id: src
      sources: file://old.mp4
      outputs: inproc://frames
  - implementation: Webvis
    config:
      sources: inproc://frames
      port: 0
`)
	runVideo = "/data/new.mp4"

	cfg, err := loadRunConfig()
	if err != nil {
		t.Fatalf("loadRunConfig: %v", err)
	}
	data, _ := types.MarshalPipelineConfig(cfg)
	if !strings.Contains(string(data), "new.mp4") || strings.Contains(string(data), "old.mp4") {
		t.Errorf("file source not replaced:\n%s", data)
	}
	if errOut.Len() != 0 {
		t.Errorf("unexpected warning: %s", errOut)
	}
}

func TestLoadRunConfig_VideoIgnoredWarning(t *testing.T) {
	errOut := resetGlobals(t)
	cfgFile = writePipelineYAML(t, t.TempDir(), `
filters:
  - implementation: VideoIn
    config:
      outputs: inproc://frames
  - implementation: Webvis
    config:
      sources: inproc://frames
      port: 0
`)
	runVideo = "/data/new.mp4"

	if _, err := loadRunConfig(); err != nil {
		t.Fatalf("loadRunConfig: %v", err)
	}
	if !strings.Contains(errOut.String(), "WARNING: --video ignored") {
		t.Errorf("expected ignored-video warning, got %q", errOut)
	}
}

func TestServeMetrics(t *testing.T) {
	if _, err := serveMetrics("not-an-address", nil); err == nil {
		t.Error("expected listener error for a bad address")
	}
}
