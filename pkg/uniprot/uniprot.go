// Package uniprot looks up protein annotation for human genes in UniProtKB.
package uniprot

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/Sternrassler/diseasenet/pkg/client"
	"github.com/Sternrassler/diseasenet/pkg/model"
	"github.com/rs/zerolog"
)

const (
	// DefaultBaseURL is the public UniProt REST endpoint.
	DefaultBaseURL = "https://rest.uniprot.org"

	// HumanTaxonomyID restricts searches to Homo sapiens.
	HumanTaxonomyID = 9606

	// MaxPDBIDs is the number of structures kept per protein.
	MaxPDBIDs = 3

	NoProteinName    = "Protein name not available"
	NoFunctionalRole = "Functional role not available"
)

// Fetcher performs one logical upstream lookup.
type Fetcher interface {
	Fetch(ctx context.Context, req client.Request) (*client.Response, error)
	Name() string
}

// Client is the UniProt annotation source.
type Client struct {
	fetcher Fetcher
	logger  zerolog.Logger
}

// New creates a UniProt client on top of fetcher.
func New(fetcher Fetcher, logger zerolog.Logger) *Client {
	return &Client{
		fetcher: fetcher,
		logger:  logger.With().Str("component", "uniprot").Logger(),
	}
}

type searchResponse struct {
	Results []searchResult `json:"results"`
}

type searchResult struct {
	PrimaryAccession   string `json:"primaryAccession"`
	ProteinDescription struct {
		RecommendedName struct {
			FullName struct {
				Value string `json:"value"`
			} `json:"fullName"`
		} `json:"recommendedName"`
	} `json:"proteinDescription"`
	Comments []struct {
		CommentType string `json:"commentType"`
		Texts       []struct {
			Value string `json:"value"`
		} `json:"texts"`
	} `json:"comments"`
}

// describesReceptor reports whether the first text of any FUNCTION comment
// mentions a receptor.
func (r searchResult) describesReceptor() bool {
	for _, c := range r.Comments {
		if c.CommentType != "FUNCTION" || len(c.Texts) == 0 {
			continue
		}
		if strings.Contains(strings.ToLower(c.Texts[0].Value), "receptor") {
			return true
		}
	}
	return false
}

// LookupByGene returns the annotation of the gene's best UniProt hit, or
// (nil, nil) when UniProt knows no human protein for the symbol.
func (c *Client) LookupByGene(ctx context.Context, gene model.GeneRecord) (*model.ProteinAnnotation, error) {
	logger := c.logger.With().Str("gene", gene.Label()).Logger()

	results, err := c.search(ctx, gene.Symbol)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", gene.Symbol, err)
	}
	if len(results) == 0 || results[0].PrimaryAccession == "" {
		logger.Debug().Msg("No UniProt entry for gene")
		return nil, nil
	}

	annotation := &model.ProteinAnnotation{
		UniProtID:      results[0].PrimaryAccession,
		ProteinName:    NoProteinName,
		Receptors:      receptors(results),
		FunctionalRole: NoFunctionalRole,
		PDBIDs:         []string{},
	}

	entry, err := c.Entry(ctx, annotation.UniProtID)
	switch {
	case client.IsNotFound(err):
		logger.Warn().Str("accession", annotation.UniProtID).Msg("UniProt entry missing, using defaults")
	case err != nil:
		return nil, fmt.Errorf("entry %s: %w", annotation.UniProtID, err)
	default:
		if entry.ProteinName != "" {
			annotation.ProteinName = entry.ProteinName
		}
		if entry.FunctionalRole != "" {
			annotation.FunctionalRole = entry.FunctionalRole
		}
		annotation.PDBIDs = entry.PDBIDs
	}

	logger.Debug().
		Str("accession", annotation.UniProtID).
		Int("receptors", len(annotation.Receptors)).
		Int("pdb_ids", len(annotation.PDBIDs)).
		Msg("Annotated gene")
	return annotation, nil
}

func (c *Client) search(ctx context.Context, symbol string) ([]searchResult, error) {
	if symbol == "" {
		return nil, nil
	}
	resp, err := c.fetcher.Fetch(ctx, client.Request{
		Path: "uniprotkb/search",
		Query: url.Values{
			"query":  {fmt.Sprintf("%s AND organism_id:%d", symbol, HumanTaxonomyID)},
			"format": {"json"},
		},
	})
	if err != nil {
		return nil, err
	}

	var parsed searchResponse
	if err := resp.JSON(&parsed); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	return parsed.Results, nil
}

// receptors collects the recommended names of hits whose function mentions a
// receptor, without duplicates, in result order.
func receptors(results []searchResult) []string {
	names := []string{}
	seen := make(map[string]struct{})
	for _, r := range results {
		if !r.describesReceptor() {
			continue
		}
		name := strings.TrimSpace(r.ProteinDescription.RecommendedName.FullName.Value)
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	return names
}
