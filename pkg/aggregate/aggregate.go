// Package aggregate merges per-gene enrichment outcomes into the ordered
// result table and tracks run progress.
package aggregate

import (
	"errors"
	"fmt"
	"sync"

	"github.com/Sternrassler/diseasenet/pkg/enrich"
	"github.com/Sternrassler/diseasenet/pkg/model"
)

var (
	// ErrNotTerminal is returned by Finalize before every gene is recorded.
	ErrNotTerminal = errors.New("aggregation not complete")

	// ErrUnknownGene is returned when recording a gene outside the run.
	ErrUnknownGene = errors.New("gene not part of this run")

	// ErrDuplicateGene is returned when a gene is recorded twice.
	ErrDuplicateGene = errors.New("gene already recorded")
)

// Aggregator owns the result table of one run. Record must be called from a
// single goroutine; Progress and Finalize may be called from any goroutine.
type Aggregator struct {
	mu       sync.RWMutex
	genes    []model.GeneRecord
	index    map[string]int
	rows     []model.ResultRow
	recorded []bool
	progress model.ProgressState
}

// New creates an aggregator for genes. Gene ids must be unique.
func New(genes []model.GeneRecord) (*Aggregator, error) {
	a := &Aggregator{
		genes:    genes,
		index:    make(map[string]int, len(genes)),
		rows:     make([]model.ResultRow, len(genes)),
		recorded: make([]bool, len(genes)),
		progress: model.ProgressState{TotalGenes: len(genes)},
	}
	for i, g := range genes {
		if _, dup := a.index[g.GeneID]; dup {
			return nil, fmt.Errorf("duplicate gene id %q in gene list", g.GeneID)
		}
		a.index[g.GeneID] = i
	}
	return a, nil
}

// Record stores the outcome of gene at the gene's original position and
// returns the updated progress.
func (a *Aggregator) Record(gene model.GeneRecord, outcome enrich.Outcome) (model.ProgressState, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	i, ok := a.index[gene.GeneID]
	if !ok {
		return a.progress, fmt.Errorf("%w: %s", ErrUnknownGene, gene.GeneID)
	}
	if a.recorded[i] {
		return a.progress, fmt.Errorf("%w: %s", ErrDuplicateGene, gene.GeneID)
	}

	a.rows[i] = outcome.Row(a.genes[i])
	a.recorded[i] = true
	a.progress.CompletedGenes++
	a.progress.CurrentGeneLabel = a.genes[i].Label()
	return a.progress, nil
}

// Progress returns a snapshot of the run's progress.
func (a *Aggregator) Progress() model.ProgressState {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.progress
}

// Finalize returns a copy of the table, one row per gene in gene order.
func (a *Aggregator) Finalize() ([]model.ResultRow, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if !a.progress.Terminal() {
		return nil, fmt.Errorf("%w: %d/%d genes", ErrNotTerminal, a.progress.CompletedGenes, a.progress.TotalGenes)
	}
	rows := make([]model.ResultRow, len(a.rows))
	copy(rows, a.rows)
	return rows, nil
}
