package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/san-kum/rxsim/internal/analysis"
	"github.com/san-kum/rxsim/internal/automation"
	"github.com/san-kum/rxsim/internal/config"
	"github.com/san-kum/rxsim/internal/dynamo"
	"github.com/san-kum/rxsim/internal/experiment"
	"github.com/san-kum/rxsim/internal/logging"
	"github.com/san-kum/rxsim/internal/optim"
	"github.com/san-kum/rxsim/internal/storage"
	"github.com/san-kum/rxsim/internal/tui"
	"github.com/san-kum/rxsim/internal/viz"
)

var (
	dataDir  string
	logLevel string
	noSave   bool
	live     bool

	configFile  string
	preset      string
	params      []float64
	scales      []string
	size        int
	duration    float64
	outputs     int
	steadyState bool

	method      string
	solver      string
	sensitivity string
	ssMode      string
	rtol        float64
	atol        float64
	maxSteps    int
	preeq       bool

	sweepParam int
	sweepFrom  float64
	sweepTo    float64
	sweepN     int

	fitParams []int
	fitGrid   []string

	plotLimit int

	mcTrials int
	mcSpread float64
	mcSeed   int64
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "rxsim",
		Short:         "simulation and sensitivity engine for reaction networks",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			lvl, err := logging.ParseLevel(logLevel)
			if err != nil {
				return err
			}
			logger, err := logging.New(os.Stderr, lvl)
			if err != nil {
				return err
			}
			cmd.SetContext(logging.WithLogger(cmd.Context(), logger))
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVar(&dataDir, "data", ".rxsim", "data directory")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "WARN", "log level (DEBUG, INFO, WARN, ERROR)")

	runCmd := &cobra.Command{
		Use:   "run [model]",
		Short: "simulate a model and store the run",
		Args:  cobra.ExactArgs(1),
		RunE:  runSimulation,
	}
	addRunFlags(runCmd)
	runCmd.Flags().BoolVar(&noSave, "no-save", false, "do not store the run")
	runCmd.Flags().BoolVar(&live, "live", false, "show the run while it integrates")

	ssCmd := &cobra.Command{
		Use:   "steadystate [model]",
		Short: "find the steady state of a model",
		Args:  cobra.ExactArgs(1),
		RunE:  findSteadyState,
	}
	addRunFlags(ssCmd)

	checkCmd := &cobra.Command{
		Use:   "check [model]",
		Short: "compare sensitivities with finite differences",
		Args:  cobra.ExactArgs(1),
		RunE:  checkModel,
	}
	addRunFlags(checkCmd)

	sweepCmd := &cobra.Command{
		Use:   "sweep [model]",
		Short: "steady states over a range of one parameter",
		Args:  cobra.ExactArgs(1),
		RunE:  sweepModel,
	}
	addRunFlags(sweepCmd)
	sweepCmd.Flags().IntVar(&sweepParam, "param", 0, "index of the swept parameter")
	sweepCmd.Flags().Float64Var(&sweepFrom, "from", 0.1, "first value")
	sweepCmd.Flags().Float64Var(&sweepTo, "to", 2, "last value")
	sweepCmd.Flags().IntVar(&sweepN, "n", 11, "number of values")

	fitCmd := &cobra.Command{
		Use:   "fit [model]",
		Short: "grid search over parameters against the configured measurements",
		Args:  cobra.ExactArgs(1),
		RunE:  fitModel,
	}
	addRunFlags(fitCmd)
	fitCmd.Flags().IntSliceVar(&fitParams, "fit", nil, "indices of the fitted parameters")
	fitCmd.Flags().StringArrayVar(&fitGrid, "grid", nil, "comma separated values per fitted parameter")

	compareCmd := &cobra.Command{
		Use:   "compare [model] [method/sensitivity]...",
		Short: "compare steppers and sensitivity modes on the same model",
		Args:  cobra.MinimumNArgs(1),
		RunE:  compareVariants,
	}
	addRunFlags(compareCmd)

	scenarioCmd := &cobra.Command{
		Use:   "scenario [file]",
		Short: "run the steps of a scenario file",
		Args:  cobra.ExactArgs(1),
		RunE:  runScenario,
	}

	mcCmd := &cobra.Command{
		Use:   "montecarlo [model]",
		Short: "propagate parameter uncertainty to the final state",
		Args:  cobra.ExactArgs(1),
		RunE:  runMonteCarlo,
	}
	addRunFlags(mcCmd)
	mcCmd.Flags().IntVar(&mcTrials, "trials", 100, "number of trials")
	mcCmd.Flags().Float64Var(&mcSpread, "spread", 0.1, "standard deviation on the parameter scale")
	mcCmd.Flags().Int64Var(&mcSeed, "seed", 0, "random seed (0 picks one)")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "list stored runs",
		RunE:  listRuns,
	}

	plotCmd := &cobra.Command{
		Use:   "plot [run_id]",
		Short: "plot a stored run",
		Args:  cobra.ExactArgs(1),
		RunE:  plotRun,
	}
	plotCmd.Flags().IntVar(&plotLimit, "limit", 6, "maximum number of states to plot")

	exportCmd := &cobra.Command{
		Use:   "export [run_id]",
		Short: "export a stored run as json",
		Args:  cobra.ExactArgs(1),
		RunE:  exportRun,
	}

	modelsCmd := &cobra.Command{
		Use:   "models",
		Short: "list available models",
		RunE:  listModels,
	}

	presetsCmd := &cobra.Command{
		Use:   "presets [model]",
		Short: "list presets for a model",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			names := config.ListPresets(args[0])
			if len(names) == 0 {
				fmt.Printf("no presets for %s\n", args[0])
				return
			}
			for _, name := range names {
				fmt.Printf("  %s\n", name)
			}
		},
	}

	rootCmd.AddCommand(runCmd, ssCmd, checkCmd, sweepCmd, fitCmd, compareCmd, scenarioCmd, mcCmd, listCmd, plotCmd, exportCmd, modelsCmd, presetsCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, viz.StatusFailed.Render("error:"), err)
		stop()
		os.Exit(1)
	}
}

func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&configFile, "config", "", "config file path (yaml)")
	cmd.Flags().StringVar(&preset, "preset", "", "use preset configuration")
	cmd.Flags().Float64SliceVar(&params, "p", nil, "parameters on the configured scale")
	cmd.Flags().StringSliceVar(&scales, "scale", nil, "parameter scales (lin, log, log10)")
	cmd.Flags().IntVar(&size, "size", 0, "model size (chain)")
	cmd.Flags().Float64Var(&duration, "time", config.DefaultDuration, "duration")
	cmd.Flags().IntVar(&outputs, "outputs", config.DefaultOutputs, "number of output times")
	cmd.Flags().BoolVar(&steadyState, "steady-state", false, "append the steady state as a +Inf output")
	cmd.Flags().StringVar(&method, "method", "rosenbrock", "stepper (rosenbrock, rk45)")
	cmd.Flags().StringVar(&solver, "solver", "dense", "linear solver (dense, sparse-direct, iterative)")
	cmd.Flags().StringVar(&sensitivity, "sensitivity", "none", "sensitivity mode (none, forward, adjoint)")
	cmd.Flags().StringVar(&ssMode, "steady-state-mode", "integration", "steady state mode (integration, newton, off)")
	cmd.Flags().Float64Var(&rtol, "rtol", config.DefaultRelTol, "relative tolerance")
	cmd.Flags().Float64Var(&atol, "atol", config.DefaultAbsTol, "absolute tolerance")
	cmd.Flags().IntVar(&maxSteps, "max-steps", config.DefaultMaxSteps, "step budget")
	cmd.Flags().BoolVar(&preeq, "preequilibrate", false, "start from the steady state")
}

// loadConfig resolves preset, then config file, then explicitly set flags.
func loadConfig(cmd *cobra.Command, model string) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if preset != "" {
		cfg = config.GetPreset(model, preset)
		if cfg == nil {
			return nil, fmt.Errorf("unknown preset: %s (available: %v)", preset, config.ListPresets(model))
		}
	}
	if configFile != "" {
		loaded, err := config.Load(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
	}
	cfg.Model = model

	f := cmd.Flags()
	if f.Changed("p") {
		cfg.Parameters = params
	}
	if f.Changed("scale") {
		cfg.ParameterScale = scales
	}
	if f.Changed("size") {
		cfg.Size = size
	}
	if f.Changed("time") {
		cfg.Duration = duration
		cfg.OutputTimes = nil
	}
	if f.Changed("outputs") {
		cfg.Outputs = outputs
		cfg.OutputTimes = nil
	}
	if f.Changed("steady-state") {
		cfg.SteadyState = steadyState
	}
	if f.Changed("method") {
		cfg.Method = method
	}
	if f.Changed("solver") {
		cfg.LinearSolver = solver
	}
	if f.Changed("sensitivity") {
		cfg.SensitivityMode = sensitivity
	}
	if f.Changed("steady-state-mode") {
		cfg.SteadyStateMode = ssMode
	}
	if f.Changed("rtol") {
		cfg.RelTol = rtol
	}
	if f.Changed("atol") {
		cfg.AbsTol = atol
	}
	if f.Changed("max-steps") {
		cfg.MaxSteps = maxSteps
	}
	if f.Changed("preequilibrate") {
		cfg.Preequilibrate = preeq
	}
	return cfg, nil
}

func newExperiment(cmd *cobra.Command, model string) (*experiment.Experiment, error) {
	cfg, err := loadConfig(cmd, model)
	if err != nil {
		return nil, err
	}
	return experiment.New(experiment.NewRegistry(), cfg)
}

func runSimulation(cmd *cobra.Command, args []string) error {
	exp, err := newExperiment(cmd, args[0])
	if err != nil {
		return err
	}
	exp.WithDefaultMetrics()
	log := logging.FromContext(cmd.Context())

	info := exp.Info()
	start := time.Now()
	var result *dynamo.Result
	var runErr error
	if live {
		req, err := exp.Request()
		if err != nil {
			return err
		}
		result, runErr = tui.Watch(cmd.Context(), tui.NewLive(args[0], info.States, len(req.Times)),
			func(ctx context.Context, feed *tui.Feed) (*dynamo.Result, error) {
				exp.Driver().AddObserver(feed)
				return exp.Run(ctx)
			})
	} else {
		fmt.Printf("running %s...\n", args[0])
		result, runErr = exp.Run(cmd.Context())
	}
	if result == nil {
		return runErr
	}
	elapsed := time.Since(start)

	fmt.Println(viz.Summary(info, result))
	fmt.Printf("completed in %v\n", elapsed)

	if !noSave {
		st := storage.New(dataDir)
		if err := st.Init(); err != nil {
			return err
		}
		req, err := exp.Request()
		if err != nil {
			return err
		}
		meta := storage.RunMetadata{
			Model:       args[0],
			Method:      exp.Engine().Method.String(),
			Sensitivity: exp.Engine().Sensitivity.String(),
			States:      info.States,
			Parameters:  info.Parameters,
			Theta:       req.Parameters,
		}
		runID, err := st.Save(meta, result, runErr)
		if err != nil {
			return err
		}
		log.Info("run stored", "id", runID, "dir", dataDir)
		fmt.Printf("run id: %s\n", runID)
	}
	return runErr
}

func findSteadyState(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, args[0])
	if err != nil {
		return err
	}
	cfg.OutputTimes = []float64{cfg.T0}
	cfg.SteadyState = true
	exp, err := experiment.New(experiment.NewRegistry(), cfg)
	if err != nil {
		return err
	}
	result, err := exp.Run(cmd.Context())
	if err != nil {
		var nc *dynamo.NonConvergenceError
		if errors.As(err, &nc) {
			fmt.Printf("no steady state: %s after %d iterations (wrms %.3g)\n", nc.Stage, nc.Iterations, nc.WRMS)
		}
		return err
	}

	info := exp.Info()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STATE\tX_SS")
	for i, v := range result.XSS {
		fmt.Fprintf(w, "%s\t%.8g\n", stateName(info, i), v)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Printf("%s after %d iterations (t=%.4g)\n", result.Posteq.Strategy, result.Posteq.Iterations, result.Posteq.Time)
	if result.SxSS != nil {
		fmt.Println(viz.Subtle.Render("steady state sensitivities available"))
	}
	return nil
}

func checkModel(cmd *cobra.Command, args []string) error {
	exp, err := newExperiment(cmd, args[0])
	if err != nil {
		return err
	}
	req, err := exp.Request()
	if err != nil {
		return err
	}
	rep, err := analysis.CheckSensitivities(cmd.Context(), exp.Model(), exp.Engine(), req, analysis.CheckOptions{})
	if err != nil {
		return err
	}
	fmt.Printf("checked %d derivatives, worst: %s\n", rep.Checked, rep.Worst)
	if rep.OK {
		fmt.Println(viz.StatusFinished.Render("ok"))
		return nil
	}
	for _, m := range rep.Failed {
		fmt.Println("  " + m.String())
	}
	return fmt.Errorf("%d derivatives disagree with finite differences", len(rep.Failed))
}

func sweepModel(cmd *cobra.Command, args []string) error {
	exp, err := newExperiment(cmd, args[0])
	if err != nil {
		return err
	}
	req, err := exp.Request()
	if err != nil {
		return err
	}
	if sweepN < 2 {
		return fmt.Errorf("need at least 2 sweep values")
	}
	values := make([]float64, sweepN)
	for i := range values {
		values[i] = sweepFrom + (sweepTo-sweepFrom)*float64(i)/float64(sweepN-1)
	}
	points, err := analysis.SteadyStateSweep(cmd.Context(), exp.Model(), exp.Engine(), req.Parameters, sweepParam, values)
	if err != nil {
		return err
	}

	info := exp.Info()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	header := []string{strings.ToUpper(paramName(info, sweepParam))}
	for i := range info.States {
		header = append(header, strings.ToUpper(stateName(info, i)))
	}
	fmt.Fprintln(w, strings.Join(header, "\t"))
	for _, p := range points {
		cols := []string{strconv.FormatFloat(p.Param, 'g', 4, 64)}
		for i := range info.States {
			if p.Converged {
				cols = append(cols, strconv.FormatFloat(p.X[i], 'g', 6, 64))
			} else {
				cols = append(cols, "-")
			}
		}
		fmt.Fprintln(w, strings.Join(cols, "\t"))
	}
	return w.Flush()
}

func fitModel(cmd *cobra.Command, args []string) error {
	exp, err := newExperiment(cmd, args[0])
	if err != nil {
		return err
	}
	req, err := exp.Request()
	if err != nil {
		return err
	}
	if len(fitParams) != len(fitGrid) {
		return fmt.Errorf("got %d --fit indices but %d --grid lists", len(fitParams), len(fitGrid))
	}
	ranges := make([][]float64, len(fitGrid))
	for i, list := range fitGrid {
		for _, s := range strings.Split(list, ",") {
			v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
			if err != nil {
				return fmt.Errorf("grid %d: %w", i, err)
			}
			ranges[i] = append(ranges[i], v)
		}
	}

	best, points, err := optim.NewGridSearch(fitParams, ranges).Search(cmd.Context(), exp.NewRunner, req)
	if err != nil {
		return err
	}
	nllh := make([]float64, 0, len(points))
	for _, p := range points {
		if !math.IsInf(p.NLLH, 1) {
			nllh = append(nllh, p.NLLH)
		}
	}
	fmt.Println(viz.Sparkline(nllh))
	info := exp.Info()
	for i, v := range best.Theta {
		fmt.Printf("  %s = %.6g\n", paramName(info, i), v)
	}
	fmt.Printf("-llh = %.6g\n", best.NLLH)
	return nil
}

func compareVariants(cmd *cobra.Command, args []string) error {
	exp, err := newExperiment(cmd, args[0])
	if err != nil {
		return err
	}
	req, err := exp.Request()
	if err != nil {
		return err
	}

	names := args[1:]
	if len(names) == 0 {
		names = []string{"rosenbrock/forward", "rk45/forward", "rk45/adjoint"}
	}
	variants := make([]analysis.Variant, 0, len(names))
	for _, name := range names {
		v, err := analysis.ParseVariant(name)
		if err != nil {
			return err
		}
		variants = append(variants, v)
	}

	out, err := analysis.CompareVariants(cmd.Context(), exp.Model(), exp.Engine(), req, variants)
	if err != nil {
		return err
	}

	fmt.Printf("comparing %d variants for %s\n\n", len(out), args[0])
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "VARIANT\tSTATUS\tSTEPS\tRHS\tTIME_MS\tLLH\tMAX_DX\tMAX_DSLLH")
	for _, c := range out {
		status := c.Status.String()
		if c.Err != nil {
			status = "error: " + c.Err.Error()
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%.2f\t%.6g\t%.2e\t%.2e\n",
			c.Variant, status, c.Steps, c.RHSEvals, float64(c.Elapsed.Microseconds())/1000, c.LLH, c.StateDiff, c.GradientDiff)
	}
	return w.Flush()
}

func runScenario(cmd *cobra.Command, args []string) error {
	scenario, err := automation.LoadScenario(args[0])
	if err != nil {
		return err
	}
	st := storage.New(dataDir)
	if err := st.Init(); err != nil {
		return err
	}
	results, err := automation.RunScenario(cmd.Context(), scenario, experiment.NewRegistry(), st)
	if err != nil {
		return err
	}

	failed := 0
	for _, r := range results {
		switch {
		case r.Err != nil:
			failed++
			fmt.Printf("%s %s: %v\n", viz.StatusFailed.Render("FAIL"), r.Name, r.Err)
		case r.RunID != "":
			fmt.Printf("%s %s (%s)\n", viz.StatusFinished.Render("ok"), r.Name, r.RunID[:8])
		default:
			fmt.Printf("%s %s\n", viz.StatusFinished.Render("ok"), r.Name)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d steps failed", failed, len(results))
	}
	return nil
}

func runMonteCarlo(cmd *cobra.Command, args []string) error {
	exp, err := newExperiment(cmd, args[0])
	if err != nil {
		return err
	}
	sum, err := automation.RunMonteCarlo(cmd.Context(), exp, automation.MonteCarloConfig{
		Spread:    mcSpread,
		NumTrials: mcTrials,
		Seed:      mcSeed,
	})
	if err != nil {
		return err
	}

	fmt.Printf("%d trials, %d failed\n", len(sum.Trials), sum.Failed)
	if sum.Mean == nil {
		return nil
	}
	info := exp.Info()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STATE\tMEAN\tSTD")
	for i := range sum.Mean {
		fmt.Fprintf(w, "%s\t%.6g\t%.3g\n", stateName(info, i), sum.Mean[i], sum.Std[i])
	}
	return w.Flush()
}

func listRuns(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	runs, err := st.List()
	if err != nil {
		return err
	}

	if len(runs) == 0 {
		fmt.Println("no runs found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tMODEL\tTIME\tSTATUS\tMETHOD\tSENS\tSTEPS")

	for _, run := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%d\n",
			run.ID,
			run.Model,
			run.Timestamp.Local().Format("2006-01-02 15:04:05"),
			run.Status,
			run.Method,
			run.Sensitivity,
			run.Diagnostics.Steps,
		)
	}

	return w.Flush()
}

func plotRun(cmd *cobra.Command, args []string) error {
	runID := args[0]

	st := storage.New(dataDir)
	meta, err := st.Load(runID)
	if err != nil {
		return err
	}

	states, times, err := st.LoadStates(runID)
	if err != nil {
		return err
	}
	if len(states) == 0 {
		return fmt.Errorf("no data to plot")
	}

	fmt.Printf("run: %s\n", meta.ID)
	fmt.Printf("model: %s\n", meta.Model)
	fmt.Printf("samples: %d\n\n", len(states))

	info := dynamo.Info{Name: meta.Model, States: meta.States, Parameters: meta.Parameters}
	fmt.Println(viz.PlotStates(info, times, states, plotLimit))

	events, err := st.LoadEvents(runID)
	if err != nil {
		return err
	}
	for _, e := range events {
		fmt.Printf("event %s (root %d) at t=%.6g\n", e.Name, e.Root, e.Time)
	}
	return nil
}

func exportRun(cmd *cobra.Command, args []string) error {
	return storage.New(dataDir).ExportRun(os.Stdout, args[0])
}

func listModels(cmd *cobra.Command, args []string) error {
	reg := experiment.NewRegistry()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "MODEL\tSTATES\tPARAMETERS\tPRESETS")
	for _, name := range reg.ListModels() {
		m, err := reg.GetModel(name, 0)
		if err != nil {
			return err
		}
		info := experiment.Describe(name, m)
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", name,
			strings.Join(info.States, ","),
			strings.Join(info.Parameters, ","),
			strings.Join(config.ListPresets(name), ","))
	}
	return w.Flush()
}

func stateName(info dynamo.Info, i int) string {
	if i < len(info.States) {
		return info.States[i]
	}
	return fmt.Sprintf("x%d", i)
}

func paramName(info dynamo.Info, i int) string {
	if i < len(info.Parameters) {
		return info.Parameters[i]
	}
	return fmt.Sprintf("p%d", i)
}
