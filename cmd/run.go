package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	openfilter "github.com/hiagors92/open-filter-challange"
	"github.com/hiagors92/open-filter-challange/config"
	"github.com/hiagors92/open-filter-challange/filters/benchmark"
	"github.com/hiagors92/open-filter-challange/internal/tui"
	"github.com/hiagors92/open-filter-challange/pipeline"
	"github.com/hiagors92/open-filter-challange/report"
	"github.com/hiagors92/open-filter-challange/runtime"
	"github.com/hiagors92/open-filter-challange/types"
)

var (
	runVideo       string
	runStopTimeout time.Duration
	runMetricsAddr string
	runTUI         bool
	runBenchmark   string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the pipeline until it finishes or is interrupted",
	Long: `Run loads the pipeline config (or the built-in OCR demo when the default
config file is absent) and runs it to completion. On failure a single
"[ERRO]: <reason>" line is printed to stderr and the exit status is 1.`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runVideo, "video", "", "video file for the pipeline's file sources")
	runCmd.Flags().DurationVar(&runStopTimeout, "stop-timeout", 0, "grace period before a stopping stage is killed (0 keeps the config value)")
	runCmd.Flags().StringVar(&runMetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9090)")
	runCmd.Flags().BoolVar(&runTUI, "tui", false, "show a live stage monitor when stdout is a terminal")
	runCmd.Flags().StringVar(&runBenchmark, "benchmark", "", "add a Benchmark stage writing CPU, memory and throughput samples to this CSV")
	runCmd.Flags().Lookup("benchmark").NoOptDefVal = benchmark.DefaultOutputPath
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadRunConfig()
	if err != nil {
		return err
	}
	if runBenchmark != "" {
		if err := config.WithBenchmark(cfg, runBenchmark); err != nil {
			return fmt.Errorf("adding benchmark stage: %w", err)
		}
	}
	if runStopTimeout > 0 {
		cfg.Defaults.StopTimeout = runStopTimeout
	}

	ctx := context.Background()
	if cmd != nil && cmd.Context() != nil {
		ctx = cmd.Context()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics := runtime.NewMetrics(nil)
	if runMetricsAddr != "" {
		shutdown, err := serveMetrics(runMetricsAddr, metrics)
		if err != nil {
			return err
		}
		defer shutdown()
	}

	rc := openfilter.RunConfig{Metrics: metrics}
	var out *pipeline.Outcome
	if runTUI && term.IsTerminal(int(os.Stdout.Fd())) {
		rc.Logger = runtime.NopLogger{}
		out = runWithMonitor(ctx, cfg, rc)
	} else {
		rc.Logger = runtime.NewJSONLogger(stderr, verbose)
		out = openfilter.Run(ctx, cfg, rc)
	}

	if verbose {
		fmt.Fprintln(stderr, report.Summary(out, 80))
	}
	if report.Exit(stderr, out) != report.ExitSuccess {
		return errReported
	}
	return nil
}

// loadRunConfig reads cfgFile. Only the default path may be absent, in
// which case the built-in OCR demo runs.
func loadRunConfig() (*types.PipelineConfig, error) {
	if cfgFile == defaultConfigFile {
		if _, err := os.Stat(cfgFile); errors.Is(err, os.ErrNotExist) {
			video := runVideo
			if video == "" {
				video = config.DefaultVideo
			}
			return config.DefaultOCRPipeline(video), nil
		}
	}
	cfg, err := config.LoadPipelineConfig(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if runVideo != "" && config.OverrideVideo(cfg, runVideo) == 0 {
		fmt.Fprintf(stderr, "WARNING: --video ignored, %s has no file sources\n", cfgFile)
	}
	return cfg, nil
}

func serveMetrics(addr string, metrics *runtime.Metrics) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listener: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go srv.Serve(ln) //nolint:errcheck
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(ctx) //nolint:errcheck
	}, nil
}

// runWithMonitor runs the pipeline behind a bubbletea stage monitor. Key
// presses cancel the run; the monitor exits once the outcome is known.
func runWithMonitor(ctx context.Context, cfg *types.PipelineConfig, rc openfilter.RunConfig) *pipeline.Outcome {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var stages []string
	if spec, err := pipeline.BuildSpec(cfg); err == nil {
		stages = spec.Names()
	}
	name := cfg.Name
	if name == "" {
		name = "pipeline"
	}

	model := tui.NewMonitorModel(tui.DetectTheme(themeOverride), appVersion, name, stages, cancel)
	p := tea.NewProgram(model)

	rc.Observers = append(rc.Observers, func(ev runtime.StateEvent) {
		p.Send(tui.StageEventMsg{Event: ev})
	})

	done := make(chan *pipeline.Outcome, 1)
	go func() {
		out := openfilter.Run(ctx, cfg, rc)
		p.Send(tui.RunDoneMsg{Success: out.Success, Err: out.Err})
		done <- out
	}()

	if _, err := p.Run(); err != nil {
		fmt.Fprintf(stderr, "WARNING: monitor exited: %v\n", err)
		cancel()
	}
	return <-done
}
