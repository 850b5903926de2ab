// Command diseasenet resolves a disease name and prints the enriched gene
// table as JSON. With -serve it runs an HTTP server exposing /search instead.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Sternrassler/diseasenet/internal/config"
	"github.com/Sternrassler/diseasenet/pkg/client"
	"github.com/Sternrassler/diseasenet/pkg/logging"
	"github.com/Sternrassler/diseasenet/pkg/metrics"
	"github.com/Sternrassler/diseasenet/pkg/pipeline"
	"github.com/Sternrassler/diseasenet/pkg/resolver"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const defaultServeAddr = ":8080"

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "diseasenet: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	flags := flag.NewFlagSet("diseasenet", flag.ContinueOnError)
	configPath := flags.String("config", "", "path to a YAML config file")
	serve := flags.Bool("serve", false, "serve /search over HTTP instead of running one query")
	if err := flags.Parse(args); err != nil {
		return err
	}
	query := strings.TrimSpace(strings.Join(flags.Args(), " "))
	if query == "" && !*serve {
		return errors.New("usage: diseasenet [-config file] [-serve] <disease name>")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	base := logging.Setup(logging.Config{
		Level:  logging.LogLevel(cfg.LogLevel),
		Pretty: cfg.LogPretty,
		Output: os.Stderr,
	})
	logger := logging.NewLogger("cmd")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisURL})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect to redis at %s: %w", cfg.RedisURL, err)
		}
		logger.Info().Str("addr", cfg.RedisURL).Msg("Connected to Redis")
	}

	svc, err := pipeline.FromConfig(cfg, rdb, base)
	if err != nil {
		return err
	}

	addr := cfg.MetricsAddr
	if *serve && addr == "" {
		addr = defaultServeAddr
	}
	var srv *http.Server
	if addr != "" {
		srv = &http.Server{
			Addr:              addr,
			Handler:           newMux(svc, rdb, logger),
			ReadHeaderTimeout: 5 * time.Second,
		}
		errCh := make(chan error, 1)
		go func() {
			logger.Info().Str("addr", addr).Str("user_agent", cfg.UserAgent).Msg("Starting HTTP server")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
		defer shutdown(srv, logger)

		if *serve {
			select {
			case <-ctx.Done():
				logger.Info().Msg("Shutting down")
				return nil
			case err := <-errCh:
				return fmt.Errorf("server failed: %w", err)
			}
		}
	}

	return searchOnce(ctx, svc, query, stdout, logger)
}

func shutdown(srv *http.Server, logger zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn().Err(err).Msg("Server shutdown failed")
	}
}

// searchOnce runs one search, logs its progress and writes the result JSON.
func searchOnce(ctx context.Context, svc *pipeline.Service, query string, stdout io.Writer, logger zerolog.Logger) error {
	search := svc.Search(ctx, query)
	for ev := range search.Events() {
		if ev.Done {
			break
		}
		logger.Info().
			Str("run_id", search.ID()).
			Int("completed", ev.Progress.CompletedGenes).
			Int("total", ev.Progress.TotalGenes).
			Str("gene", ev.Progress.CurrentGeneLabel).
			Msg("Progress")
	}

	result, err := search.Wait(ctx)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

func newMux(svc *pipeline.Service, rdb *redis.Client, logger zerolog.Logger) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler)
	mux.HandleFunc("/ready", readyHandler(rdb))
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/search", searchHandler(svc, logger))
	return mux
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

func readyHandler(rdb *redis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if rdb != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := rdb.Ping(ctx).Err(); err != nil {
				http.Error(w, fmt.Sprintf("redis unavailable: %v", err), http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "READY")
	}
}

func searchHandler(svc *pipeline.Service, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		query := strings.TrimSpace(r.URL.Query().Get("q"))
		if query == "" {
			http.Error(w, "missing query parameter q", http.StatusBadRequest)
			return
		}

		search := svc.Search(r.Context(), query)
		result, err := search.Wait(r.Context())
		if err != nil {
			search.Cancel()
			http.Error(w, err.Error(), statusFor(err))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(result); err != nil {
			logger.Warn().Err(err).Msg("Failed to write response")
		}
	}
}

func statusFor(err error) int {
	var unavailable *client.UpstreamUnavailableError
	switch {
	case errors.Is(err, resolver.ErrDiseaseNotFound):
		return http.StatusNotFound
	case errors.As(err, &unavailable):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
