package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/san-kum/wbcsim/internal/config"
	"github.com/san-kum/wbcsim/internal/controller"
	"github.com/san-kum/wbcsim/internal/experiment"
	"github.com/san-kum/wbcsim/internal/integrators"
	"github.com/san-kum/wbcsim/internal/logging"
	"github.com/san-kum/wbcsim/internal/sim"
	"github.com/san-kum/wbcsim/internal/storage"
	"github.com/san-kum/wbcsim/internal/telemetry"
	"github.com/san-kum/wbcsim/internal/viz"
)

var (
	dataDir     string
	configFile  string
	dt          float64
	duration    float64
	ticks       int
	integrator  string
	logLevel    string
	logFormat   string
	metricsAddr string
	noSave      bool
	perFrame    int
	theme       string
	outFile     string
	svgFile     string

	gridParams   []string
	tuneMetric   string
	parallel     int
	top          int
	trials       int
	perturbation float64
	seed         int64
)

// main registers the wbcsim commands and exits with status 1 when the
// selected command fails.
func main() {
	rootCmd := &cobra.Command{
		Use:          "wbcsim",
		Short:        "task-space whole-body controller for a biped",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&dataDir, "data", ".wbcsim", "data directory")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "console", "log format (console, json)")

	runCmd := &cobra.Command{
		Use:   "run [preset]",
		Short: "run the closed loop and store the result",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runSimulation,
	}
	addSimFlags(runCmd)
	runCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address while running")
	runCmd.Flags().BoolVar(&noSave, "no-save", false, "do not store the run")

	liveCmd := &cobra.Command{
		Use:   "live [preset]",
		Short: "run the closed loop with the live monitor",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runLive,
	}
	addSimFlags(liveCmd)
	liveCmd.Flags().IntVar(&perFrame, "ticks-per-frame", 10, "control ticks per redraw")
	liveCmd.Flags().StringVar(&theme, "theme", viz.ThemeNeon.Name, "color theme ("+strings.Join(viz.ThemeNames(), ", ")+")")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "list stored runs",
		Args:  cobra.NoArgs,
		RunE:  listRuns,
	}

	plotCmd := &cobra.Command{
		Use:   "plot [run_id]",
		Short: "plot tracking, solve time and torques of a run",
		Args:  cobra.ExactArgs(1),
		RunE:  plotRun,
	}

	analyzeCmd := &cobra.Command{
		Use:   "analyze [run_id]",
		Short: "tracking lag, frequency and portrait of a run",
		Args:  cobra.ExactArgs(1),
		RunE:  analyzeRun,
	}

	exportJSONCmd := &cobra.Command{
		Use:   "export-json [run_id]",
		Short: "export run data to JSON",
		Args:  cobra.ExactArgs(1),
		RunE:  exportJSON,
	}
	exportJSONCmd.Flags().StringVarP(&outFile, "out", "o", "", "output file (default stdout)")

	presetsCmd := &cobra.Command{
		Use:   "presets",
		Short: "list available presets",
		Args:  cobra.NoArgs,
		RunE:  listPresets,
	}

	describeCmd := &cobra.Command{
		Use:   "describe [preset]",
		Short: "show the robot model and controller wiring of a preset",
		Args:  cobra.MaximumNArgs(1),
		RunE:  describePreset,
	}
	describeCmd.Flags().StringVar(&configFile, "config", "", "config file path (yaml)")
	describeCmd.Flags().StringVar(&svgFile, "svg", "", "write the home pose as svg to this file")

	exportSVGCmd := &cobra.Command{
		Use:   "export-svg [run_id]",
		Short: "plot the tracked target of a run as SVG",
		Args:  cobra.ExactArgs(1),
		RunE:  exportSVG,
	}
	exportSVGCmd.Flags().StringVarP(&outFile, "out", "o", "", "output file (default <run_id>.svg)")

	compareCmd := &cobra.Command{
		Use:   "compare [preset] [preset] ...",
		Short: "run presets concurrently and compare their metrics",
		Args:  cobra.MinimumNArgs(2),
		RunE:  comparePresets,
	}
	compareCmd.Flags().Float64Var(&dt, "dt", config.DefaultDt, "control period (s)")
	compareCmd.Flags().IntVar(&ticks, "ticks", 0, "number of control ticks (overrides duration)")
	compareCmd.Flags().Float64Var(&duration, "time", config.DefaultDuration, "duration (s)")

	tuneCmd := &cobra.Command{
		Use:   "tune [preset]",
		Short: "grid search controller parameters and rank by a metric",
		Args:  cobra.MaximumNArgs(1),
		RunE:  tuneGains,
	}
	addSimFlags(tuneCmd)
	tuneCmd.Flags().StringArrayVar(&gridParams, "param", nil, "parameter grid as name=v1,v2 (repeatable)")
	tuneCmd.Flags().StringVar(&tuneMetric, "metric", "tracking_rms", "metric to minimize")
	tuneCmd.Flags().IntVar(&parallel, "parallel", 4, "experiments run at once")
	tuneCmd.Flags().IntVar(&top, "top", 10, "rows to print")

	scenarioCmd := &cobra.Command{
		Use:   "scenario [file.yaml]",
		Short: "run the steps of a scenario file in order",
		Args:  cobra.ExactArgs(1),
		RunE:  runScenarioFile,
	}

	monteCarloCmd := &cobra.Command{
		Use:   "montecarlo [preset]",
		Short: "run trials from randomly perturbed initial velocities",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runMonteCarlo,
	}
	monteCarloCmd.Flags().IntVar(&trials, "trials", 8, "number of trials")
	monteCarloCmd.Flags().Float64Var(&perturbation, "perturbation", 0.1, "max absolute initial velocity")
	monteCarloCmd.Flags().IntVar(&ticks, "ticks", 0, "control ticks per trial (default from preset)")
	monteCarloCmd.Flags().Int64Var(&seed, "seed", 1, "random seed")

	rootCmd.AddCommand(runCmd, liveCmd, listCmd, plotCmd, analyzeCmd, exportJSONCmd, presetsCmd, describeCmd, compareCmd,
		exportSVGCmd, tuneCmd, scenarioCmd, monteCarloCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func addSimFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&configFile, "config", "", "config file path (yaml), replaces the preset")
	cmd.Flags().Float64Var(&dt, "dt", config.DefaultDt, "control period (s)")
	cmd.Flags().Float64Var(&duration, "time", config.DefaultDuration, "duration (s)")
	cmd.Flags().IntVar(&ticks, "ticks", 0, "number of control ticks (overrides duration)")
	cmd.Flags().StringVar(&integrator, "integrator", config.DefaultIntegrator,
		"plant integrator ("+strings.Join(integrators.Names(), ", ")+")")
}

// loadConfig resolves the preset, then the config file, then flags the
// user set explicitly.
func loadConfig(cmd *cobra.Command, args []string) (*config.Config, string, error) {
	name := "floating"
	if len(args) > 0 {
		name = args[0]
	}
	cfg := config.GetPreset(name)
	if cfg == nil {
		return nil, "", fmt.Errorf("unknown preset: %s (available: %v)", name, config.ListPresets())
	}

	if configFile != "" {
		loaded, err := config.Load(configFile)
		if err != nil {
			return nil, "", fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
		name = strings.TrimSuffix(filepath.Base(configFile), filepath.Ext(configFile))
	}

	flags := cmd.Flags()
	if flags.Changed("dt") {
		cfg.Sim.Dt = dt
	}
	if flags.Changed("time") {
		cfg.Sim.Duration = duration
		cfg.Sim.Ticks = 0
	}
	if flags.Changed("ticks") {
		cfg.Sim.Ticks = ticks
	}
	if flags.Changed("integrator") {
		cfg.Sim.Integrator = integrator
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = logLevel
	}
	if flags.Changed("log-format") {
		cfg.Log.Format = logFormat
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}
	return cfg, name, nil
}

func runSimulation(cmd *cobra.Command, args []string) error {
	cfg, name, err := loadConfig(cmd, args)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var recorder telemetry.Recorder = telemetry.Nop{}
	if metricsAddr != "" {
		recorder = telemetry.Prometheus{}
		serveCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			if err := telemetry.Serve(serveCtx, metricsAddr, logger.Named("telemetry")); err != nil {
				logger.Error("metrics endpoint failed", zap.Error(err))
			}
		}()
	}

	exp := experiment.New(name, cfg, experiment.WithLogger(logger), experiment.WithRecorder(recorder))
	if err := exp.Setup(); err != nil {
		return err
	}

	fmt.Printf("running %s (%s, %d ticks)...\n", name, exp.Profile(), cfg.Sim.NumTicks())
	start := time.Now()
	result, err := exp.Run(ctx)
	if err != nil {
		return err
	}
	elapsed := time.Since(start)

	fmt.Printf("completed in %v\n", elapsed)
	if !noSave {
		st := storage.New(dataDir)
		if err := st.Init(); err != nil {
			return err
		}
		runID, err := st.Save(storage.RunInfo{
			Preset:     name,
			Profile:    exp.Profile().String(),
			Dt:         cfg.Sim.Dt,
			Integrator: cfg.Sim.Integrator,
		}, result)
		if err != nil {
			return err
		}
		fmt.Printf("run id: %s\n", runID)
	}
	fmt.Printf("ticks: %d (failed %d)\n", result.StepsTaken, result.Failures)
	for _, e := range result.Errors {
		var se sim.SimError
		if errors.As(e, &se) {
			fmt.Printf("stopped: %v\n", se)
		}
	}
	printMetrics(result.Metrics)
	return nil
}

func runLive(cmd *cobra.Command, args []string) error {
	cfg, name, err := loadConfig(cmd, args)
	if err != nil {
		return err
	}
	viz.SetTheme(theme)

	// the monitor owns the terminal, so the loop runs without logging
	exp := experiment.New(name, cfg, experiment.WithLogger(logging.NewNop()))
	start := func() (viz.Stepper, error) {
		if err := exp.Setup(); err != nil {
			return nil, err
		}
		return exp.Start()
	}

	// a throwaway setup provides the model for drawing
	if err := exp.Setup(); err != nil {
		return err
	}
	tree := exp.Plant().Model()
	ground := 0.0
	if exp.Profile() == controller.Fixed {
		ground = cfg.Controller.Reference.ToeHeight
	}

	m, err := viz.NewMonitor(name, exp.Profile(), start,
		viz.WithTicksPerFrame(perFrame),
		viz.WithSkeleton(tree.Skeleton, ground),
		viz.WithEffortLimits(tree.ActuatorEffortLimits()))
	if err != nil {
		return err
	}

	_, err = tea.NewProgram(m, tea.WithAltScreen()).Run()
	return err
}
