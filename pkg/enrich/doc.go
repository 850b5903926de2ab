// Package enrich runs the per-gene enrichment fetches on a fixed-width
// worker pool.
//
// Every gene becomes one task. A task looks up the protein annotation and
// the bioactivity records at the same time and reports both results,
// successful or not, as a Completion. A failing source degrades the row of
// its own gene and nothing else.
//
// Example usage:
//
//	pool := enrich.NewPool(annotator, bioactivity, enrich.DefaultConfig(), logger)
//	for c := range pool.Run(ctx, genes) {
//		table.Record(c.Gene, c.Outcome)
//	}
//
// The pool:
//   - Queues all genes up front
//   - Spawns a fixed number of workers (default 5)
//   - Emits completions in completion order, tagged with the gene index
//   - Stops taking new genes once the context is cancelled
//   - Closes the completion channel when every worker has exited
package enrich
