// Package model defines the records that flow through the disease → gene →
// enrichment pipeline.
package model

import (
	"strings"
)

// CatalogEntry is one disease in the pathway catalog, kept in catalog order.
type CatalogEntry struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// DiseaseMatch is a catalog entry accepted by the resolver for a query.
type DiseaseMatch struct {
	CanonicalID string `json:"canonical_id"`
	DisplayName string `json:"display_name"`

	// MatchScore is the similarity score in the range 0-100.
	MatchScore int `json:"match_score"`
}

// GeneRecord identifies one gene of a disease result set.
// GeneID is the catalog-native identifier (e.g. "hsa:2099") and is unique
// within a result set; Symbol is not.
type GeneRecord struct {
	Symbol string `json:"gene_symbol"`
	GeneID string `json:"gene_id"`
}

// EntrezID returns the NCBI gene id embedded in a human KEGG gene id
// ("hsa:2099" → "2099"). It returns "" for any other organism or format.
func (g GeneRecord) EntrezID() string {
	id, ok := strings.CutPrefix(g.GeneID, "hsa:")
	if !ok || id == "" {
		return ""
	}
	for _, r := range id {
		if r < '0' || r > '9' {
			return ""
		}
	}
	return id
}

// Label returns the display label used for progress reporting.
func (g GeneRecord) Label() string {
	if g.Symbol != "" {
		return g.Symbol
	}
	return g.GeneID
}

// ProteinAnnotation is the protein-level description of a gene.
type ProteinAnnotation struct {
	UniProtID      string   `json:"uniprot_id"`
	ProteinName    string   `json:"protein_name"`
	Receptors      []string `json:"receptors"`
	FunctionalRole string   `json:"functional_role"`

	// PDBIDs holds unique structure ids, best structure first.
	PDBIDs []string `json:"pdb_ids"`
}

// BioactivityRecord is one ligand measured active against a gene's product.
type BioactivityRecord struct {
	CID         string  `json:"cid"`
	LigandName  string  `json:"ligand_name"`
	Potency     float64 `json:"potency_um"`
	PotencyType string  `json:"potency_type"`
}

// ResultRow is the merged output for one gene. A row exists for every gene
// even when enrichment failed; the error fields say which part is missing.
type ResultRow struct {
	Gene        GeneRecord          `json:"gene"`
	Annotation  *ProteinAnnotation  `json:"annotation"`
	Bioactivity []BioactivityRecord `json:"bioactivity"`

	AnnotationError  string `json:"annotation_error,omitempty"`
	BioactivityError string `json:"bioactivity_error,omitempty"`
}

// Degraded reports whether any enrichment fetch failed for the row.
func (r ResultRow) Degraded() bool {
	return r.AnnotationError != "" || r.BioactivityError != ""
}

// ProgressState describes how far a run's enrichment has come.
type ProgressState struct {
	TotalGenes       int    `json:"total_genes"`
	CompletedGenes   int    `json:"completed_genes"`
	CurrentGeneLabel string `json:"current_gene_label"`
}

// Terminal returns true once every gene has been recorded.
func (p ProgressState) Terminal() bool {
	return p.CompletedGenes == p.TotalGenes
}

// Percent returns completion in the range 0-100. An empty run is complete.
func (p ProgressState) Percent() float64 {
	if p.TotalGenes == 0 {
		return 100
	}
	return float64(p.CompletedGenes) / float64(p.TotalGenes) * 100
}
