package enrich

import "github.com/Sternrassler/diseasenet/pkg/model"

// Status classifies how much of a gene's enrichment succeeded.
type Status string

const (
	// StatusComplete means both lookups succeeded.
	StatusComplete Status = "complete"

	// StatusPartial means exactly one lookup failed.
	StatusPartial Status = "partial"

	// StatusFailed means both lookups failed.
	StatusFailed Status = "failed"
)

// Outcome holds the results of both lookups for one gene. A failed lookup
// leaves its data empty and sets its error.
type Outcome struct {
	Annotation     *model.ProteinAnnotation
	Bioactivity    []model.BioactivityRecord
	AnnotationErr  error
	BioactivityErr error
}

// Status classifies the outcome.
func (o Outcome) Status() Status {
	switch {
	case o.AnnotationErr == nil && o.BioactivityErr == nil:
		return StatusComplete
	case o.AnnotationErr != nil && o.BioactivityErr != nil:
		return StatusFailed
	default:
		return StatusPartial
	}
}

// Row merges the outcome into the result row of gene.
func (o Outcome) Row(gene model.GeneRecord) model.ResultRow {
	o.normalize()
	row := model.ResultRow{
		Gene:        gene,
		Annotation:  o.Annotation,
		Bioactivity: o.Bioactivity,
	}
	if o.AnnotationErr != nil {
		row.AnnotationError = o.AnnotationErr.Error()
	}
	if o.BioactivityErr != nil {
		row.BioactivityError = o.BioactivityErr.Error()
	}
	return row
}

// normalize drops data returned alongside an error and makes an empty
// bioactivity list non-nil.
func (o *Outcome) normalize() {
	if o.AnnotationErr != nil {
		o.Annotation = nil
	}
	if o.BioactivityErr != nil || o.Bioactivity == nil {
		o.Bioactivity = []model.BioactivityRecord{}
	}
}
