package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	memcache "github.com/pior/memcache-binary"
	"github.com/pior/memcache-binary/prommetrics"
)

type benchConfig struct {
	servers     []string
	duration    time.Duration
	concurrency int
	workloads   []string
	metricsAddr string
	maxConns    int32
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := benchConfig{}

	cmd := &cobra.Command{
		Use:          "memcache-bench",
		Short:        "Load memcached servers over the binary protocol and report throughput",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			selected, err := selectWorkloads(cfg.workloads)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg, selected)
		},
	}

	flags := cmd.Flags()
	flags.StringSliceVarP(&cfg.servers, "servers", "s", []string{"localhost:11211"}, "Memcache servers")
	flags.DurationVarP(&cfg.duration, "duration", "d", 5*time.Second, "Duration of each workload")
	flags.IntVarP(&cfg.concurrency, "concurrency", "c", 4, "Number of concurrent workers")
	flags.StringSliceVarP(&cfg.workloads, "workload", "w", []string{"all"}, "Workloads to run: "+strings.Join(workloadNames(), ", ")+" or all")
	flags.StringVar(&cfg.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while running")
	flags.Int32Var(&cfg.maxConns, "max-connections", 0, "Connections per server")

	return cmd
}

func run(ctx context.Context, cfg benchConfig, selected []workload) error {
	if ctx == nil {
		ctx = context.Background()
	}

	client, err := memcache.Connect(ctx, toServers(cfg.servers), memcache.Config{
		MaxSize: cfg.maxConns,
		Timeout: time.Second,
		Logger:  log.StandardLogger(),
	})
	if err != nil {
		return fmt.Errorf("make sure memcached is running on %s: %w", strings.Join(cfg.servers, ","), err)
	}
	defer client.Close()

	if cfg.metricsAddr != "" {
		server := serveMetrics(cfg.metricsAddr, client)
		defer server.Close()
	}

	for _, w := range selected {
		log.WithField("workload", w.name).Info("starting")

		if w.setup != nil {
			if err := w.setup(ctx, client); err != nil {
				return fmt.Errorf("%s setup: %w", w.name, err)
			}
		}

		result := runWorkload(ctx, cfg.duration, cfg.concurrency, func(ctx context.Context, worker, n int) error {
			return w.op(ctx, client, worker, n)
		})
		result.Workload = w.name
		result.print(os.Stdout)
	}

	stats := client.Stats()
	log.WithFields(log.Fields{
		"gets":     stats.Gets,
		"get_hits": stats.GetHits,
		"errors":   stats.Errors,
	}).Info("client totals")

	return nil
}

func toServers(addrs []string) []memcache.Server {
	servers := make([]memcache.Server, len(addrs))
	for i, addr := range addrs {
		servers[i] = memcache.Server{Addr: addr, Weight: 1}
	}
	return servers
}

func serveMetrics(addr string, client *memcache.Client) *http.Server {
	registry := prometheus.NewRegistry()
	registry.MustRegister(prommetrics.NewCollector(client))

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("metrics server failed")
		}
	}()
	log.WithField("addr", addr).Info("serving metrics")

	return server
}
