package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/san-kum/wbcsim/internal/automation"
	"github.com/san-kum/wbcsim/internal/config"
	"github.com/san-kum/wbcsim/internal/logging"
	"github.com/san-kum/wbcsim/internal/optim"
	"github.com/san-kum/wbcsim/internal/storage"
)

// parseGridParam splits "com.kp=100,200" into a name and its values.
func parseGridParam(s string) (string, []float64, error) {
	name, list, ok := strings.Cut(s, "=")
	if !ok || name == "" || list == "" {
		return "", nil, fmt.Errorf("bad --param %q, want name=v1,v2", s)
	}
	var values []float64
	for _, f := range strings.Split(list, ",") {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return "", nil, fmt.Errorf("bad value in --param %q: %w", s, err)
		}
		values = append(values, v)
	}
	return name, values, nil
}

func tuneGains(cmd *cobra.Command, args []string) error {
	if _, _, err := loadConfig(cmd, args); err != nil {
		return err
	}
	if len(gridParams) == 0 {
		return fmt.Errorf("at least one --param is required (known: %s)", strings.Join(config.ParamNames(), ", "))
	}
	names := make([]string, len(gridParams))
	ranges := make([][]float64, len(gridParams))
	for i, p := range gridParams {
		var err error
		if names[i], ranges[i], err = parseGridParam(p); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g := optim.NewGridSearch(names, ranges)
	g.Parallel = parallel
	fmt.Printf("tuning %d combinations by %s...\n", len(g.Points()), tuneMetric)
	ranked, err := g.Search(ctx, func() *config.Config {
		cfg, _, _ := loadConfig(cmd, args)
		return cfg
	}, tuneMetric)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "RANK\t%s\t%s\tFAILURES\n", strings.ToUpper(strings.Join(names, "\t")), tuneMetric)
	for i, tr := range ranked {
		if i >= top {
			break
		}
		vals := make([]string, len(names))
		for j, n := range names {
			vals[j] = strconv.FormatFloat(tr.Params[n], 'g', -1, 64)
		}
		score := fmt.Sprintf("%.6g", tr.Score)
		if tr.Stopped {
			score = "stopped"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%.0f\n", i+1, strings.Join(vals, "\t"), score, tr.Failures)
	}
	return w.Flush()
}

func runScenarioFile(cmd *cobra.Command, args []string) error {
	sc, err := automation.LoadScenario(args[0])
	if err != nil {
		return err
	}
	logger, err := logging.New(logging.Config{Level: logLevel, Format: logFormat})
	if err != nil {
		return err
	}
	defer logger.Sync()

	st := storage.New(dataDir)
	if err := st.Init(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	results, err := automation.RunScenario(ctx, sc, st, logger)
	for _, r := range results {
		line := fmt.Sprintf("%-16s ticks=%d failed=%d tracking_rms=%.5f", r.Name,
			r.Result.StepsTaken, r.Result.Failures, r.Result.Metrics["tracking_rms"])
		if r.RunID != "" {
			line += " run=" + r.RunID
		}
		fmt.Println(line)
	}
	return err
}

func runMonteCarlo(cmd *cobra.Command, args []string) error {
	name := "floating"
	if len(args) > 0 {
		name = args[0]
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	results, err := automation.RunMonteCarlo(ctx, &automation.MonteCarloConfig{
		Preset:       name,
		Perturbation: perturbation,
		NumTrials:    trials,
		Ticks:        ticks,
		Seed:         seed,
	})
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TRIAL\tSTABLE\tFAILURES\tTRACKING_RMS")
	for _, r := range results {
		fmt.Fprintf(w, "%d\t%v\t%.0f\t%.5f\n", r.TrialID, r.Stable, r.Failures, r.TrackingRMS)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Printf("stable: %.0f%%\n", 100*automation.StableFraction(results))
	return nil
}
