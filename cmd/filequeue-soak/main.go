package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/KimMachineGun/automemlimit/memlimit"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/szibis/filequeue/internal/config"
	"github.com/szibis/filequeue/internal/logging"
)

func main() {
	cfg := config.ParseFlags()

	if cfg.ShowHelp {
		config.PrintUsage()
		os.Exit(0)
	}

	if cfg.ShowVersion {
		config.PrintVersion()
		os.Exit(0)
	}

	logging.SetLevel(logging.ParseLevel(strings.ToLower(cfg.LogLevel)))
	logging.SetResource(map[string]string{"service.name": "filequeue-soak"})

	if err := cfg.Validate(); err != nil {
		logging.Fatal("invalid configuration", logging.F("error", err.Error()))
	}

	if cfg.MemoryLimitRatio > 0 {
		limit, err := memlimit.SetGoMemLimitWithOpts(
			memlimit.WithRatio(cfg.MemoryLimitRatio),
			memlimit.WithProvider(memlimit.ApplyFallback(memlimit.FromCgroup, memlimit.FromSystem)),
			memlimit.WithLogger(slog.New(slog.DiscardHandler)),
		)
		if err != nil {
			logging.Warn("failed to set memory limit", logging.F("error", err.Error()))
		} else {
			logging.Info("memory limit set", logging.F("limit_bytes", limit, "ratio", cfg.MemoryLimitRatio))
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var statsServer *http.Server
	if cfg.StatsAddr != "" {
		statsMux := http.NewServeMux()
		statsMux.Handle("/metrics", promhttp.Handler())
		statsServer = &http.Server{
			Addr:              cfg.StatsAddr,
			Handler:           statsMux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logging.Info("stats endpoint started", logging.F("addr", cfg.StatsAddr, "path", "/metrics"))
			if err := statsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logging.Error("stats server error", logging.F("error", err.Error()))
			}
		}()
	}

	s, err := newSoak(cfg)
	if err != nil {
		logging.Fatal("failed to open queue", logging.F("error", err.Error(), "dir", cfg.Queue.Dir))
	}

	// Stop producing on SIGINT/SIGTERM; consumers still drain the queue.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigChan:
			logging.Info("shutting down, draining queue")
			cancel()
		case <-ctx.Done():
		}
	}()

	logging.Info("filequeue-soak started", logging.F(
		"dir", cfg.Queue.Dir,
		"capacity", cfg.Queue.Capacity,
		"compression", cfg.Queue.Compression,
		"codec", cfg.Queue.Codec,
		"producers", cfg.Producers,
		"consumers", cfg.Consumers,
		"messages_per_producer", cfg.MessagesPerProducer,
		"payload_size", cfg.PayloadSize,
	))

	start := time.Now()
	report, runErr := s.run(ctx)
	elapsed := time.Since(start)
	st := s.stats()

	if err := s.close(); err != nil {
		logging.Error("failed to close queue", logging.F("error", err.Error()))
	}

	if statsServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		statsServer.Shutdown(shutdownCtx)
		shutdownCancel()
	}

	logging.Info("soak finished", logging.F(
		"elapsed", elapsed.String(),
		"produced", report.Produced,
		"consumed", report.Consumed,
		"duplicates", report.Duplicates,
		"missing", report.Missing,
		"corrupt", report.Corrupt,
		"unexpected", report.Unexpected,
		"distinct_estimate", report.DistinctEstimate,
		"spills", st.Spills,
		"chunk_loads", st.Loads,
		"swaps", st.Swaps,
		"reopens", s.reopens.Load(),
		"corrupt_chunks", s.corruptChunks.Load(),
	))

	if runErr != nil {
		logging.Fatal("soak failed", logging.F("error", runErr.Error()))
	}
	if !report.OK() {
		logging.Fatal("verification failed", logging.F("report", report.String()))
	}
}
