// Command pgcoreinspect is a small companion CLI for pgcore: it loads a
// fixture of PostgreSQL targets and smoke queries, runs them on a timer,
// and exposes the results plus Prometheus metrics over HTTP.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wirepg/pgcore"
	"github.com/wirepg/pgcore/internal/config"
	"github.com/wirepg/pgcore/internal/metrics"
)

// probeResult is the last outcome of running a target's smoke queries.
type probeResult struct {
	Target    string    `json:"target"`
	URL       string    `json:"url"`
	OK        bool      `json:"ok"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

type inspector struct {
	mu        sync.Mutex
	cfg       *config.Config
	collector *metrics.Collector
	results   map[string]probeResult
}

func newInspector(cfg *config.Config, collector *metrics.Collector) *inspector {
	return &inspector{cfg: cfg, collector: collector, results: make(map[string]probeResult)}
}

func (in *inspector) setConfig(cfg *config.Config) {
	in.mu.Lock()
	in.cfg = cfg
	in.mu.Unlock()
}

func (in *inspector) snapshotTargets() []config.Target {
	in.mu.Lock()
	defer in.mu.Unlock()
	return append([]config.Target(nil), in.cfg.Targets...)
}

func (in *inspector) recordResult(r probeResult) {
	in.mu.Lock()
	in.results[r.Target] = r
	in.mu.Unlock()
}

func (in *inspector) snapshotResults() []probeResult {
	in.mu.Lock()
	defer in.mu.Unlock()
	out := make([]probeResult, 0, len(in.results))
	for _, r := range in.results {
		out = append(out, r)
	}
	return out
}

// probeTarget opens a connection, runs every configured smoke query, and
// closes the connection again — pgcoreinspect never keeps connections
// open between ticks.
func (in *inspector) probeTarget(ctx context.Context, t config.Target) {
	result := probeResult{Target: t.Name, URL: t.Redacted().URL, CheckedAt: time.Now()}

	sess, err := pgcore.OpenWithRecorder(ctx, t.URL, nil, in.collector.ForTarget(t.Name))
	if err != nil {
		result.Error = err.Error()
		in.recordResult(result)
		slog.Warn("probe failed to connect", "target", t.Name, "err", err)
		return
	}
	defer sess.Close()

	for _, q := range t.Queries {
		stmt, err := sess.Prepare(q)
		if err != nil {
			result.Error = fmt.Sprintf("prepare %q: %v", q, err)
			in.recordResult(result)
			slog.Warn("probe query failed", "target", t.Name, "query", q, "err", err)
			return
		}
		rows, err := stmt.Query(nil, 0)
		if err != nil {
			stmt.Close()
			result.Error = fmt.Sprintf("query %q: %v", q, err)
			in.recordResult(result)
			return
		}
		for {
			row, err := rows.Next()
			if err != nil {
				result.Error = fmt.Sprintf("fetch %q: %v", q, err)
				break
			}
			if row == nil {
				break
			}
		}
		rows.Close()
		stmt.Close()
	}

	result.OK = result.Error == ""
	in.recordResult(result)
}

func (in *inspector) runOnce(ctx context.Context) {
	for _, t := range in.snapshotTargets() {
		in.probeTarget(ctx, t)
	}
}

func (in *inspector) statusHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(in.snapshotResults())
}

func main() {
	configPath := flag.String("config", "configs/pgcoreinspect.yaml", "path to the target fixture file")
	httpAddr := flag.String("addr", "0.0.0.0:9090", "address for the status/metrics HTTP server")
	interval := flag.Duration("interval", 30*time.Second, "how often to re-run smoke queries")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "path", *configPath, "err", err)
		os.Exit(1)
	}
	slog.Info("config loaded", "path", *configPath, "targets", len(cfg.Targets))

	collector := metrics.New()
	in := newInspector(cfg, collector)

	watcher, err := config.NewWatcher(*configPath, in.setConfig)
	if err != nil {
		slog.Warn("config hot-reload not available", "err", err)
	}

	router := mux.NewRouter()
	router.HandleFunc("/status", in.statusHandler).Methods("GET")
	router.Handle("/metrics", promhttp.HandlerFor(collector.Registry, promhttp.HandlerOpts{}))

	httpServer := &http.Server{
		Addr:         *httpAddr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("http server error", "err", err)
		}
	}()
	slog.Info("pgcoreinspect ready", "addr", *httpAddr)

	ctx, stop := context.WithCancel(context.Background())
	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	go in.runOnce(ctx)
	go func() {
		for {
			select {
			case <-ticker.C:
				in.runOnce(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("received signal, shutting down", "signal", sig.String())

	stop()
	if watcher != nil {
		watcher.Stop()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	httpServer.Shutdown(shutdownCtx)
	slog.Info("pgcoreinspect stopped")
}
