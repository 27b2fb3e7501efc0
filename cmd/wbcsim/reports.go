package main

import (
	"context"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/guptarohit/asciigraph"
	"github.com/spf13/cobra"

	"github.com/san-kum/wbcsim/internal/analysis"
	"github.com/san-kum/wbcsim/internal/config"
	"github.com/san-kum/wbcsim/internal/controller"
	"github.com/san-kum/wbcsim/internal/experiment"
	"github.com/san-kum/wbcsim/internal/export"
	"github.com/san-kum/wbcsim/internal/logging"
	"github.com/san-kum/wbcsim/internal/sim"
	"github.com/san-kum/wbcsim/internal/storage"
	"github.com/san-kum/wbcsim/internal/viz"
)

func printMetrics(m map[string]float64) {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	fmt.Println("\nmetrics:")
	for _, name := range names {
		fmt.Printf("  %s: %.6f\n", name, m[name])
	}
}

func listRuns(cmd *cobra.Command, args []string) error {
	runs, err := storage.New(dataDir).List()
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("no runs found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPRESET\tPROFILE\tTIME\tTICKS\tDT\tINTEG\tFAILED\tTRACKING")
	for _, run := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%.4fs\t%s\t%d\t%.5f\n",
			run.ID,
			run.Preset,
			run.Profile,
			run.Timestamp.Format("2006-01-02 15:04:05"),
			run.Ticks,
			run.Dt,
			run.Integrator,
			run.Failures,
			run.Metrics["tracking_rms"],
		)
	}
	return w.Flush()
}

func loadRun(runID string) (*storage.RunMetadata, *storage.Series, error) {
	st := storage.New(dataDir)
	meta, err := st.Load(runID)
	if err != nil {
		return nil, nil, err
	}
	series, err := st.LoadSeries(runID)
	if err != nil {
		return nil, nil, err
	}
	if series.Len() == 0 {
		return nil, nil, fmt.Errorf("run %s has no ticks", runID)
	}
	return meta, series, nil
}

// trackedSeries returns the reference and measured heights of the
// profile's tracked target, skipping failed ticks.
func trackedSeries(meta *storage.RunMetadata, series *storage.Series) (label string, ref, got []float64) {
	pick := func(h controller.Heights) float64 { return h.RightToe }
	label = "right toe height"
	if meta.Profile == controller.Floating.String() {
		pick = func(h controller.Heights) float64 { return h.CoM }
		label = "com height"
	}
	for i := range series.Times {
		if series.Failed[i] {
			continue
		}
		ref = append(ref, pick(series.Reference[i]))
		got = append(got, pick(series.Measured[i]))
	}
	return label, ref, got
}

func plotRun(cmd *cobra.Command, args []string) error {
	meta, series, err := loadRun(args[0])
	if err != nil {
		return err
	}

	fmt.Printf("run: %s\n", meta.ID)
	fmt.Printf("preset: %s (%s)\n", meta.Preset, meta.Profile)
	fmt.Printf("ticks: %d\n\n", series.Len())

	label, ref, got := trackedSeries(meta, series)
	if len(ref) > 1 {
		fmt.Println(asciigraph.PlotMany([][]float64{ref, got},
			asciigraph.Height(10),
			asciigraph.Width(80),
			asciigraph.SeriesColors(asciigraph.Gray, asciigraph.Green),
			asciigraph.Caption(label+": reference (gray) / measured (green)"),
		))
		fmt.Println()
	}

	iters := make([]float64, series.Len())
	for i, n := range series.Iterations {
		iters[i] = float64(n)
	}
	fmt.Println(asciigraph.Plot(iters,
		asciigraph.Height(6),
		asciigraph.Width(80),
		asciigraph.Caption("qp iterations"),
	))
	fmt.Println()

	// the joints carrying the largest peak torque
	type peak struct {
		joint int
		value float64
	}
	peaks := make([]peak, meta.Actuators)
	for j := range peaks {
		peaks[j].joint = j
		for _, row := range series.Torques {
			if j < len(row) {
				peaks[j].value = math.Max(peaks[j].value, math.Abs(row[j]))
			}
		}
	}
	sort.Slice(peaks, func(a, b int) bool { return peaks[a].value > peaks[b].value })
	for _, p := range peaks[:min(3, len(peaks))] {
		data := make([]float64, series.Len())
		for i, row := range series.Torques {
			data[i] = row[p.joint]
		}
		fmt.Println(asciigraph.Plot(data,
			asciigraph.Height(6),
			asciigraph.Width(80),
			asciigraph.Caption(fmt.Sprintf("tau%d (Nm)", p.joint)),
		))
		fmt.Println()
	}
	return nil
}

func analyzeRun(cmd *cobra.Command, args []string) error {
	meta, series, err := loadRun(args[0])
	if err != nil {
		return err
	}
	label, ref, got := trackedSeries(meta, series)
	if len(ref) < 4 {
		return fmt.Errorf("run %s has too few successful ticks", meta.ID)
	}

	fmt.Printf("tracking analysis: %s\n", meta.ID)
	fmt.Printf("target: %s\n\n", label)

	lag, corr := analysis.EstimateLag(ref, got, len(ref)/4)
	fmt.Printf("lag: %d ticks (%.1f ms), correlation %.4f\n", lag, float64(lag)*meta.Dt*1000, corr)
	fmt.Printf("reference frequency: %.3f hz\n", analysis.DominantFrequency(ref, meta.Dt))
	fmt.Printf("measured frequency: %.3f hz\n", analysis.DominantFrequency(got, meta.Dt))
	fmt.Printf("rms error: %.6f m\n\n", meta.Metrics["tracking_rms"])

	fmt.Println("measured vs reference (diagonal is perfect tracking)")
	fmt.Print(analysis.TrackingPortrait(ref, got, 60, 20))
	return nil
}

func exportJSON(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	if outFile == "" {
		return st.ExportJSON(os.Stdout, args[0])
	}
	f, err := os.Create(outFile)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := st.ExportJSON(f, args[0]); err != nil {
		return err
	}
	fmt.Printf("exported %s to %s\n", args[0], outFile)
	return nil
}

func listPresets(cmd *cobra.Command, args []string) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PRESET\tPROFILE\tTICKS\tDT\tINTEG")
	for _, name := range config.ListPresets() {
		cfg := config.GetPreset(name)
		fmt.Fprintf(w, "%s\t%s\t%d\t%.4fs\t%s\n",
			name, controller.ProfileFor(cfg.Robot.FloatingBase), cfg.Sim.NumTicks(), cfg.Sim.Dt, cfg.Sim.Integrator)
	}
	return w.Flush()
}

func describePreset(cmd *cobra.Command, args []string) error {
	cfg, name, err := loadConfig(cmd, args)
	if err != nil {
		return err
	}
	exp := experiment.New(name, cfg, experiment.WithLogger(logging.NewNop()))
	if err := exp.Setup(); err != nil {
		return err
	}
	tree := exp.Plant().Model()
	ctrl := exp.Controller()

	fmt.Printf("preset: %s\n", name)
	fmt.Printf("model: %s (%s base)\n", tree.Name(), exp.Profile())
	fmt.Printf("dofs: nq=%d nv=%d actuated=%d\n", tree.NQ(), tree.NV(), tree.NA())
	fmt.Printf("mass: %.3f kg\n\n", tree.TotalMass())

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ACTUATOR\tJOINT\tEFFORT LIMIT")
	limits := tree.ActuatorEffortLimits()
	for i, joint := range tree.ActuatedJointNames() {
		fmt.Fprintf(w, "%d\t%s\t%.1f Nm\n", i, joint, limits[i])
	}
	if err := w.Flush(); err != nil {
		return err
	}

	frames := tree.FrameNames()
	sort.Strings(frames)
	fmt.Printf("\nframes: %s\n", strings.Join(frames, ", "))
	fmt.Printf("tasks: %s\n", strings.Join(ctrl.TaskNames(), ", "))
	fmt.Printf("constraints: %s\n", strings.Join(ctrl.ConstraintNames(), ", "))

	if svgFile == "" {
		return nil
	}
	segs, err := tree.Skeleton(tree.HomeConfiguration())
	if err != nil {
		return err
	}
	ground := 0.0
	if exp.Profile() == controller.Fixed {
		ground = cfg.Controller.Reference.ToeHeight
	}
	canvas := viz.NewCanvas(40, 30)
	canvas.DrawSideView(segs, ground)
	if err := os.WriteFile(svgFile, []byte(export.CanvasToSVG(canvas, 6)), 0644); err != nil {
		return err
	}
	fmt.Printf("\nhome pose written to %s\n", svgFile)
	return nil
}

// exportSVG plots the tracked target of a run, with gaps at failed ticks.
func exportSVG(cmd *cobra.Command, args []string) error {
	meta, series, err := loadRun(args[0])
	if err != nil {
		return err
	}
	label, _, _ := trackedSeries(meta, series)
	pick := func(h controller.Heights) float64 { return h.RightToe }
	if meta.Profile == controller.Floating.String() {
		pick = func(h controller.Heights) float64 { return h.CoM }
	}
	ref := make([]float64, series.Len())
	got := make([]float64, series.Len())
	for i := range series.Times {
		ref[i], got[i] = pick(series.Reference[i]), pick(series.Measured[i])
		if series.Failed[i] {
			ref[i], got[i] = math.NaN(), math.NaN()
		}
	}
	svg := export.SeriesToSVG(series.Times, []export.Line{
		{Label: label + " reference", Color: "#888888", Values: ref},
		{Label: label + " measured", Color: "#00ff00", Values: got},
	}, 800, 300)
	if svg == "" {
		return fmt.Errorf("run %s has nothing to plot", meta.ID)
	}

	path := outFile
	if path == "" {
		path = meta.ID + ".svg"
	}
	if err := os.WriteFile(path, []byte(svg), 0644); err != nil {
		return err
	}
	fmt.Printf("exported %s to %s\n", meta.ID, path)
	return nil
}

func comparePresets(cmd *cobra.Command, args []string) error {
	exps := make([]*experiment.Experiment, len(args))
	jobs := make([]sim.Job, len(args))
	for i, name := range args {
		cfg := config.GetPreset(name)
		if cfg == nil {
			return fmt.Errorf("unknown preset: %s (available: %v)", name, config.ListPresets())
		}
		if cmd.Flags().Changed("dt") {
			cfg.Sim.Dt = dt
		}
		if cmd.Flags().Changed("time") {
			cfg.Sim.Duration, cfg.Sim.Ticks = duration, 0
		}
		if cmd.Flags().Changed("ticks") {
			cfg.Sim.Ticks = ticks
		}
		exps[i] = experiment.New(name, cfg, experiment.WithLogger(logging.NewNop()))
		jobs[i] = exps[i].Job()
	}

	fmt.Printf("comparing %d presets...\n\n", len(args))
	results, err := sim.NewBatch(jobs...).Run(context.Background())
	if err != nil {
		return err
	}

	names := []string{"tracking_rms", "control_effort", "solve_ms", "failures"}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PRESET\tPROFILE\tTICKS\t"+strings.ToUpper(strings.Join(names, "\t")))
	for i, r := range results {
		fmt.Fprintf(w, "%s\t%s\t%d", exps[i].Name(), exps[i].Profile(), r.StepsTaken)
		for _, n := range names {
			fmt.Fprintf(w, "\t%.5f", r.Metrics[n])
		}
		fmt.Fprintln(w)
	}
	return w.Flush()
}
