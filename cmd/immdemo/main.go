// Package main provides the immdemo CLI: run the estimation pipeline,
// render reports and serve them over HTTP.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/banshee-data/imm.demo/internal/config"
	"github.com/banshee-data/imm.demo/internal/filter"
	"github.com/banshee-data/imm.demo/internal/monitoring"
	"github.com/banshee-data/imm.demo/internal/pipeline"
	"github.com/banshee-data/imm.demo/internal/report"
	"github.com/banshee-data/imm.demo/internal/server"
	"github.com/banshee-data/imm.demo/internal/trajectory"
	"github.com/banshee-data/imm.demo/internal/version"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "immdemo",
		Short: "Kalman and IMM state-estimation demo",
		Long: `immdemo runs a constant-acceleration Kalman filter or a two-model
IMM over a synthetic trajectory with noisy position measurements, and
reports position error, 95% confidence bounds and chi-square coverage.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if quiet, _ := cmd.Flags().GetBool("quiet"); quiet {
				monitoring.SetLogger(nil)
			}
		},
	}
	pf := rootCmd.PersistentFlags()
	pf.String("config", "", "Simulation config file (.json, .yaml or .yml)")
	pf.String("filter", "", "Filter type: kalman or imm")
	pf.String("trajectory", "", "Trajectory: "+strings.Join(trajectory.Names(), ", "))
	pf.Uint64("seed", 0, "Noise seed")
	pf.Float64("max-time", 0, "Horizon in seconds")
	pf.Float64("measurement-noise", 0, "Measurement noise standard deviation")
	pf.Float64("process-noise", 0, "Process noise intensity")
	pf.Bool("quiet", false, "Suppress diagnostic logging")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	})

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the pipeline and print a summary",
		RunE:  runRun,
	}
	runCmd.Flags().Bool("json", false, "Write the full run (summary and snapshots) as JSON")
	rootCmd.AddCommand(runCmd)

	reportCmd := &cobra.Command{
		Use:   "report",
		Short: "Render the run as an HTML page and PNG plots",
		RunE:  runReport,
	}
	reportCmd.Flags().String("html", "report.html", "HTML output path (empty to skip)")
	reportCmd.Flags().String("png-dir", "", "Directory for PNG plots (empty to skip)")
	rootCmd.AddCommand(reportCmd)

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve reports and run data over HTTP",
		RunE:  runServe,
	}
	serveCmd.Flags().String("listen", ":8080", "Listen address")
	serveCmd.Flags().String("assets-host", "", "echarts assets host (default CDN)")
	rootCmd.AddCommand(serveCmd)

	return rootCmd
}

// loadConfig reads --config (or the built-in defaults) and applies any
// flag overrides.
func loadConfig(cmd *cobra.Command) (*config.SimulationConfig, error) {
	sc := config.DefaultSimulationConfig()
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		loaded, err := config.LoadSimulationConfig(path)
		if err != nil {
			return nil, err
		}
		sc = loaded
	}

	flags := cmd.Flags()
	if flags.Changed("filter") {
		v, _ := flags.GetString("filter")
		sc.FilterType = &v
	}
	if flags.Changed("trajectory") {
		v, _ := flags.GetString("trajectory")
		sc.Trajectory = &v
	}
	if flags.Changed("seed") {
		v, _ := flags.GetUint64("seed")
		sc.Seed = &v
	}
	floats := []struct {
		name string
		dst  **float64
	}{
		{"max-time", &sc.MaxTime},
		{"measurement-noise", &sc.MeasurementNoise},
		{"process-noise", &sc.ProcessNoise},
	}
	for _, f := range floats {
		if flags.Changed(f.name) {
			v, _ := flags.GetFloat64(f.name)
			*f.dst = &v
		}
	}

	if err := sc.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return sc, nil
}

func execute(cmd *cobra.Command) (*pipeline.Run, error) {
	sc, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	p, err := pipeline.NewFromSimulation(sc, pipeline.NewRegistry())
	if err != nil {
		return nil, err
	}
	return p.Run()
}

func runRun(cmd *cobra.Command, args []string) error {
	run, err := execute(cmd)
	if err != nil {
		return err
	}
	sum := run.Summary()

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		if sum.NonFiniteTick >= 0 {
			return fmt.Errorf("estimate became non-finite at tick %d; JSON cannot encode NaN or Inf", sum.NonFiniteTick)
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Summary   pipeline.Summary    `json:"summary"`
			Snapshots []pipeline.Snapshot `json:"snapshots"`
		}{sum, run.Snapshots})
	}
	return printSummary(cmd.OutOrStdout(), sum)
}

func printSummary(w io.Writer, sum pipeline.Summary) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "run\t%s\n", sum.RunID)
	fmt.Fprintf(tw, "filter\t%s\n", sum.Filter)
	fmt.Fprintf(tw, "ticks\t%d\n", sum.Ticks)
	fmt.Fprintf(tw, "measurements\t%d\n", sum.Measurements)
	fmt.Fprintf(tw, "bootstrap tick\t%d\n", sum.BootstrapTick)
	fmt.Fprintf(tw, "rmse\t%.3f\n", sum.RMSE)
	fmt.Fprintf(tw, "mean error\t%.3f\n", sum.MeanError)
	fmt.Fprintf(tw, "max error\t%.3f\n", sum.MaxError)
	fmt.Fprintf(tw, "coverage\t%.2f%%\n", 100*sum.Coverage)
	fmt.Fprintf(tw, "max asymmetry\t%.3g\n", sum.MaxAsymmetry)
	fmt.Fprintf(tw, "min eigenvalue\t%.3g\n", sum.MinEigenvalue)
	if sum.NonFiniteTick >= 0 {
		fmt.Fprintf(tw, "non-finite from tick\t%d\n", sum.NonFiniteTick)
	}
	if len(sum.MeanProbabilities) == 2 {
		fmt.Fprintf(tw, "mean mu (slow, fast)\t%.3f, %.3f\n", sum.MeanProbabilities[0], sum.MeanProbabilities[1])
	}
	return tw.Flush()
}

func runReport(cmd *cobra.Command, args []string) error {
	run, err := execute(cmd)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	if htmlPath, _ := cmd.Flags().GetString("html"); htmlPath != "" {
		f, err := os.Create(filepath.Clean(htmlPath))
		if err != nil {
			return fmt.Errorf("create report: %w", err)
		}
		title := fmt.Sprintf("IMM demo: %s", run.Config.FilterType)
		if err := report.WriteHTML(f, run, report.Options{Title: title}); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("close report: %w", err)
		}
		fmt.Fprintf(out, "wrote %s\n", htmlPath)
	}

	if dir, _ := cmd.Flags().GetString("png-dir"); dir != "" {
		paths, err := report.WritePNGs(dir, run.Config.FilterType.String(), run)
		if err != nil {
			return err
		}
		for _, p := range paths {
			fmt.Fprintf(out, "wrote %s\n", p)
		}
	}
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	sc, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	listen, _ := cmd.Flags().GetString("listen")
	assetsHost, _ := cmd.Flags().GetString("assets-host")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ft, _ := filter.ParseType(sc.GetFilterType())
	monitoring.Logf("serving %s on %s (default filter %s, trajectory %s)",
		version.String(), listen, ft, sc.GetTrajectory())
	srv := server.NewServer(sc, pipeline.NewRegistry(), server.WithAssetsHost(assetsHost))
	return srv.Start(ctx, listen)
}
