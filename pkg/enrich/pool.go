package enrich

import (
	"context"
	"sync"
	"time"

	"github.com/Sternrassler/diseasenet/pkg/model"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for enrichment tasks.
var (
	enrichTasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "diseasenet_enrich_tasks_total",
		Help: "Total enrichment tasks by outcome status",
	}, []string{"status"})

	enrichTaskDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "diseasenet_enrich_task_duration_seconds",
		Help:    "Duration of one gene enrichment task in seconds",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	})

	enrichWorkersBusy = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "diseasenet_enrich_workers_busy",
		Help: "Number of workers currently enriching a gene",
	})
)

// Annotator looks up the protein annotation of a gene. (nil, nil) means the
// gene has no annotation.
type Annotator interface {
	LookupByGene(ctx context.Context, gene model.GeneRecord) (*model.ProteinAnnotation, error)
}

// BioactivitySource looks up the active ligands of a gene.
type BioactivitySource interface {
	SearchByTarget(ctx context.Context, gene model.GeneRecord) ([]model.BioactivityRecord, error)
}

// Config holds worker pool configuration.
type Config struct {
	// Workers is the number of genes enriched at the same time.
	Workers int `yaml:"workers"`

	// TaskTimeout bounds one gene's enrichment; 0 disables the bound.
	TaskTimeout time.Duration `yaml:"task_timeout"`
}

// DefaultConfig returns the default pool configuration.
func DefaultConfig() Config {
	return Config{
		Workers: 5,
	}
}

// Completion reports the enrichment of the gene at Index of the input list.
type Completion struct {
	Index   int
	Gene    model.GeneRecord
	Outcome Outcome
}

type task struct {
	index int
	gene  model.GeneRecord
}

// Pool enriches genes with a fixed number of workers.
type Pool struct {
	annotator   Annotator
	bioactivity BioactivitySource
	config      Config
	logger      zerolog.Logger
}

// NewPool creates a worker pool over the two enrichment sources.
func NewPool(annotator Annotator, bioactivity BioactivitySource, config Config, logger zerolog.Logger) *Pool {
	if config.Workers <= 0 {
		config.Workers = DefaultConfig().Workers
	}
	if config.TaskTimeout < 0 {
		config.TaskTimeout = 0
	}

	return &Pool{
		annotator:   annotator,
		bioactivity: bioactivity,
		config:      config,
		logger:      logger.With().Str("component", "enrich").Logger(),
	}
}

// Run enriches genes and returns a channel that yields one Completion per
// processed gene, in completion order. The channel is closed when all
// workers have exited. After ctx is cancelled workers take no new genes, so
// fewer completions than genes may arrive.
func (p *Pool) Run(ctx context.Context, genes []model.GeneRecord) <-chan Completion {
	queue := make(chan task, len(genes))
	for i, g := range genes {
		queue <- task{index: i, gene: g}
	}
	close(queue)

	results := make(chan Completion, len(genes))
	workers := min(p.config.Workers, len(genes))

	p.logger.Debug().
		Int("genes", len(genes)).
		Int("workers", workers).
		Msg("Starting enrichment")

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go p.worker(ctx, queue, results, &wg, i)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	return results
}

// worker processes genes from the queue.
func (p *Pool) worker(ctx context.Context, queue <-chan task, results chan<- Completion, wg *sync.WaitGroup, workerID int) {
	defer wg.Done()
	processed := 0

	for t := range queue {
		select {
		case <-ctx.Done():
			p.logger.Debug().
				Int("worker_id", workerID).
				Int("genes_processed", processed).
				Msg("Worker stopping (context cancelled)")
			return
		default:
		}

		outcome := p.enrich(ctx, t.gene)

		select {
		case results <- Completion{Index: t.index, Gene: t.gene, Outcome: outcome}:
		case <-ctx.Done():
			return
		}
		processed++
	}

	p.logger.Debug().
		Int("worker_id", workerID).
		Int("genes_processed", processed).
		Msg("Worker completed")
}

// enrich runs both lookups for one gene concurrently. Neither lookup can
// cancel the other; their errors end up in the outcome.
func (p *Pool) enrich(ctx context.Context, gene model.GeneRecord) Outcome {
	start := time.Now()
	enrichWorkersBusy.Inc()
	defer enrichWorkersBusy.Dec()

	if p.config.TaskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.TaskTimeout)
		defer cancel()
	}

	var out Outcome
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		out.Annotation, out.AnnotationErr = p.annotator.LookupByGene(ctx, gene)
	}()
	go func() {
		defer wg.Done()
		out.Bioactivity, out.BioactivityErr = p.bioactivity.SearchByTarget(ctx, gene)
	}()
	wg.Wait()
	out.normalize()

	status := out.Status()
	enrichTasksTotal.WithLabelValues(string(status)).Inc()
	enrichTaskDuration.Observe(time.Since(start).Seconds())

	logger := p.logger.With().Str("gene", gene.Label()).Str("status", string(status)).Logger()
	if status == StatusComplete {
		logger.Debug().Dur("duration", time.Since(start)).Msg("Gene enriched")
	} else {
		logger.Warn().
			AnErr("annotation_error", out.AnnotationErr).
			AnErr("bioactivity_error", out.BioactivityErr).
			Msg("Gene enrichment degraded")
	}
	return out
}
