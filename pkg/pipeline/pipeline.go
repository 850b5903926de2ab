// Package pipeline runs a disease search end to end: resolve the query,
// collect the disease genes, enrich every gene and merge the results.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/diseasenet/pkg/aggregate"
	"github.com/Sternrassler/diseasenet/pkg/client"
	"github.com/Sternrassler/diseasenet/pkg/enrich"
	"github.com/Sternrassler/diseasenet/pkg/logging"
	"github.com/Sternrassler/diseasenet/pkg/model"
	"github.com/Sternrassler/diseasenet/pkg/resolver"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for search runs.
var (
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "diseasenet_runs_total",
		Help: "Total search runs by result",
	}, []string{"result"})

	runDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "diseasenet_run_duration_seconds",
		Help:    "Duration of search runs in seconds",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
	})

	runsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "diseasenet_runs_active",
		Help: "Number of search runs in progress",
	})

	runGenes = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "diseasenet_run_genes",
		Help:    "Number of genes collected per run",
		Buckets: []float64{0, 5, 10, 25, 50, 100, 250, 500},
	})
)

// GeneSource provides the disease catalog and the genes of a disease.
type GeneSource interface {
	ListDiseases(ctx context.Context) ([]model.CatalogEntry, error)
	CollectGenes(ctx context.Context, diseaseID string) ([]model.GeneRecord, error)
}

// Enricher fans genes out to the enrichment sources.
type Enricher interface {
	Run(ctx context.Context, genes []model.GeneRecord) <-chan enrich.Completion
}

// Config holds pipeline configuration.
type Config struct {
	Resolver resolver.Config

	// RunTimeout bounds a whole run; 0 disables the bound.
	RunTimeout time.Duration

	// EventBuffer is the capacity of a run's event stream (default 16).
	EventBuffer int
}

// DefaultConfig returns the default pipeline configuration.
func DefaultConfig() Config {
	return Config{
		Resolver:    resolver.DefaultConfig(),
		EventBuffer: 16,
	}
}

// Service starts search runs.
type Service struct {
	genes    GeneSource
	enricher Enricher
	config   Config
	logger   zerolog.Logger
}

// New creates a search service.
func New(genes GeneSource, enricher Enricher, cfg Config, logger zerolog.Logger) (*Service, error) {
	if genes == nil {
		return nil, fmt.Errorf("gene source is required")
	}
	if enricher == nil {
		return nil, fmt.Errorf("enricher is required")
	}
	if err := cfg.Resolver.Validate(); err != nil {
		return nil, fmt.Errorf("resolver: %w", err)
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = DefaultConfig().EventBuffer
	}
	if cfg.RunTimeout < 0 {
		cfg.RunTimeout = 0
	}

	return &Service{
		genes:    genes,
		enricher: enricher,
		config:   cfg,
		logger:   logger.With().Str("component", "pipeline").Logger(),
	}, nil
}

// Search starts a run for query and returns its handle immediately.
func (s *Service) Search(ctx context.Context, query string) *Run {
	var cancel context.CancelFunc
	if s.config.RunTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, s.config.RunTimeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}

	r := newRun(uuid.NewString(), query, s.config.EventBuffer, cancel)
	go s.coordinate(ctx, r)
	return r
}

// coordinate drives one run. It is the only writer of the run's aggregator.
func (s *Service) coordinate(ctx context.Context, r *Run) {
	start := time.Now()
	runsActive.Inc()
	logger := logging.WithRun(s.logger, r.id).With().Str("query", r.query).Logger()
	logger.Info().Msg("Search started")

	result, err := s.execute(ctx, r, logger)
	r.cancel()

	label := resultLabel(err)
	runsTotal.WithLabelValues(label).Inc()
	runDuration.Observe(time.Since(start).Seconds())
	runsActive.Dec()

	if err != nil {
		logger.Warn().Err(err).Str("result", label).Dur("duration", time.Since(start)).Msg("Search failed")
	} else {
		logger.Info().
			Str("disease", result.Disease.CanonicalID).
			Int("rows", len(result.Rows)).
			Dur("duration", time.Since(start)).
			Msg("Search complete")
	}
	r.finish(result, err)
}

func (s *Service) execute(ctx context.Context, r *Run, logger zerolog.Logger) (*Result, error) {
	catalog, err := s.genes.ListDiseases(ctx)
	if err != nil {
		return nil, s.abort(ctx, "load disease catalog", err)
	}

	res, err := resolver.New(catalog, s.config.Resolver)
	if err != nil {
		return nil, err
	}
	disease, err := res.Best(r.query)
	if err != nil {
		return nil, err
	}
	matches := res.Resolve(r.query)
	logger.Info().
		Str("disease", disease.CanonicalID).
		Str("name", disease.DisplayName).
		Int("score", disease.MatchScore).
		Msg("Disease resolved")

	genes, err := s.genes.CollectGenes(ctx, disease.CanonicalID)
	if err != nil {
		return nil, s.abort(ctx, "collect genes", err)
	}
	runGenes.Observe(float64(len(genes)))

	table, err := aggregate.New(genes)
	if err != nil {
		return nil, err
	}
	r.trackProgress(table.Progress)
	r.publish(Event{Progress: table.Progress()})

	for c := range s.enricher.Run(ctx, genes) {
		progress, err := table.Record(c.Gene, c.Outcome)
		if err != nil {
			logger.Error().Err(err).Str("gene", c.Gene.Label()).Msg("Rejected completion")
			continue
		}
		r.publish(Event{Progress: progress})
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows, err := table.Finalize()
	if err != nil {
		return nil, err
	}

	return &Result{
		RunID:   r.id,
		Query:   r.query,
		Disease: disease,
		Matches: matches,
		Rows:    rows,
	}, nil
}

// abort prefers the context error over whatever failure cancellation caused.
func (s *Service) abort(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return fmt.Errorf("%s: %w", op, err)
}

func resultLabel(err error) string {
	var unavailable *client.UpstreamUnavailableError
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, resolver.ErrDiseaseNotFound):
		return "not_found"
	case errors.As(err, &unavailable):
		return "unavailable"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "error"
	}
}
