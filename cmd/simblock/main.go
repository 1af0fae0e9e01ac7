// Command simblock runs a single propagation-delay simulation and writes
// one delay-per-line observation to a timestamped output file, replacing
// the teacher's flag-parsed single-shot invocation with a cobra root
// command so a run's knobs can come from a config file, flags, or
// SIMBLOCK_-prefixed environment variables.
package main

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/Unipisa/SimBlock/internal/config"
	"github.com/Unipisa/SimBlock/internal/metrics"
	"github.com/Unipisa/SimBlock/internal/sim"
	"github.com/Unipisa/SimBlock/internal/simlog"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath   string
		networkTable string
		degreeTable  string
		seed         int64
		endHeight    int64
		outputDir    string
		logLevel     string
		metricsAddr  string
		trace        bool
	)

	cmd := &cobra.Command{
		Use:   "simblock",
		Short: "Simulate block propagation delay across a peer-to-peer network",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if seed != 0 {
				cfg.Seed = seed
			}
			if endHeight != 0 {
				cfg.EndBlockHeight = endHeight
			}
			if outputDir != "" {
				cfg.OutputDir = outputDir
			}

			table, err := config.LoadRegionTable(networkTable)
			if err != nil {
				return err
			}
			var degrees *config.DegreeDistribution
			if degreeTable != "" {
				degrees, err = config.LoadDegreeDistribution(degreeTable)
				if err != nil {
					return err
				}
			}

			if trace {
				logLevel = "debug"
			}
			log := simlog.New(logLevel)
			reg := prometheus.NewRegistry()
			m := metrics.NewRegistry(reg)
			if metricsAddr != "" {
				go serveMetrics(metricsAddr, reg, log)
			}

			runID := uuid.NewString()
			outPath := filepath.Join(cfg.OutputDir, fmt.Sprintf("latency_%s.txt", time.Now().Format("2006-01-02T15-04-05")))
			f, err := os.Create(outPath)
			if err != nil {
				return fmt.Errorf("simblock: create output file: %w", err)
			}
			defer f.Close()

			recorder := &delayRecorder{w: f}
			ctx, err := sim.Build(cfg, sim.Deps{
				Table:   table,
				Degrees: degrees,
				Log:     log,
				Metrics: m,
				Sink:    recorder,
				RunID:   runID,
			})
			if err != nil {
				return err
			}

			log.WithRun(runID, cfg.Seed).WithField("nodes", cfg.NumOfNodes).Info("simulation starting")
			if err := sim.Run(ctx, cfg.EndBlockHeight); err != nil {
				return fmt.Errorf("simblock: run: %w", err)
			}
			entry := log.WithRun(runID, cfg.Seed).WithField("output", outPath)
			if mean, median, p95, ok := recorder.summary(); ok {
				entry = entry.WithField("mean_ms", mean).WithField("median_ms", median).WithField("p95_ms", p95)
			}
			entry.Info("simulation complete")
			return nil
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to a YAML configuration file")
	cmd.Flags().StringVar(&networkTable, "network-table", "", "path to the region/latency/bandwidth table (required)")
	cmd.Flags().StringVar(&degreeTable, "degree-table", "", "path to the neighbor-count distribution file")
	cmd.Flags().Int64Var(&seed, "seed", 0, "PRNG seed override (0 keeps the config/default value)")
	cmd.Flags().Int64Var(&endHeight, "end-block-height", 0, "termination height override (0 keeps the config/default value)")
	cmd.Flags().StringVar(&outputDir, "output-dir", "", "directory to write the latency_<timestamp>.txt file into")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "if set, serve Prometheus metrics on this address (e.g. :9090)")
	cmd.Flags().BoolVar(&trace, "trace", false, "set the log level to debug, overriding --log-level (no per-task lines are logged)")
	cmd.MarkFlagRequired("network-table")

	return cmd
}

// delayRecorder tees every propagation-delay line the observer writes so the
// end-of-run summary can be computed without re-reading the output file.
type delayRecorder struct {
	w       *os.File
	samples []float64
}

func (r *delayRecorder) Write(p []byte) (int, error) {
	var ms float64
	if _, err := fmt.Sscanf(string(p), "%f", &ms); err == nil {
		r.samples = append(r.samples, ms)
	}
	return r.w.Write(p)
}

func (r *delayRecorder) summary() (mean, median, p95 float64, ok bool) {
	n := len(r.samples)
	if n == 0 {
		return 0, 0, 0, false
	}
	sorted := append([]float64(nil), r.samples...)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	mean = sum / float64(n)
	median = sorted[n/2]
	if idx := int(float64(n) * 0.95); idx < n {
		p95 = sorted[idx]
	} else {
		p95 = sorted[n-1]
	}
	return mean, median, p95, true
}

func serveMetrics(addr string, reg *prometheus.Registry, log *simlog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.WithField("addr", addr).Warnf("metrics server stopped: %v", err)
	}
}
