// Package pubchem finds ligands measured active against a gene's product in
// PubChem bioassays.
package pubchem

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/Sternrassler/diseasenet/pkg/client"
	"github.com/Sternrassler/diseasenet/pkg/model"
	"github.com/rs/zerolog"
)

// DefaultBaseURL is the public PUG-REST endpoint.
const DefaultBaseURL = "https://pubchem.ncbi.nlm.nih.gov/rest/pug"

// Fetcher performs one logical upstream lookup.
type Fetcher interface {
	Fetch(ctx context.Context, req client.Request) (*client.Response, error)
	Name() string
}

// Config holds the bioactivity selection parameters.
type Config struct {
	// MaxLigands is the number of most potent ligands kept per gene.
	MaxLigands int `yaml:"max_ligands"`
}

// DefaultConfig returns the default selection parameters.
func DefaultConfig() Config {
	return Config{MaxLigands: 5}
}

// Client is the PubChem bioactivity source.
type Client struct {
	fetcher Fetcher
	config  Config
	logger  zerolog.Logger
}

// New creates a PubChem client on top of fetcher.
func New(fetcher Fetcher, cfg Config, logger zerolog.Logger) *Client {
	if cfg.MaxLigands <= 0 {
		cfg.MaxLigands = DefaultConfig().MaxLigands
	}
	return &Client{
		fetcher: fetcher,
		config:  cfg,
		logger:  logger.With().Str("component", "pubchem").Logger(),
	}
}

// SearchByTarget returns the most potent active ligands for the gene,
// most potent first. An unknown gene yields an empty list.
func (c *Client) SearchByTarget(ctx context.Context, gene model.GeneRecord) ([]model.BioactivityRecord, error) {
	logger := c.logger.With().Str("gene", gene.Label()).Logger()

	geneID := gene.EntrezID()
	if geneID == "" {
		id, err := c.GeneID(ctx, gene.Symbol)
		if err != nil {
			return nil, fmt.Errorf("gene id for %s: %w", gene.Symbol, err)
		}
		geneID = id
	}
	if geneID == "" {
		logger.Debug().Msg("No PubChem gene id for gene")
		return []model.BioactivityRecord{}, nil
	}

	activities, err := c.Activities(ctx, geneID)
	if err != nil {
		if client.IsNotFound(err) {
			return []model.BioactivityRecord{}, nil
		}
		return nil, fmt.Errorf("bioactivity for gene %s: %w", geneID, err)
	}

	records := SelectMostPotent(activities, c.config.MaxLigands)
	if len(records) == 0 {
		logger.Debug().Str("gene_id", geneID).Msg("No active ligands")
		return records, nil
	}

	names := c.titles(ctx, records, logger)
	for i := range records {
		records[i].LigandName = names[records[i].CID]
	}

	logger.Debug().Str("gene_id", geneID).Int("ligands", len(records)).Msg("Found active ligands")
	return records, nil
}

type summaryResponse struct {
	GeneSummaries struct {
		GeneSummary []struct {
			GeneID int `json:"GeneID"`
		} `json:"GeneSummary"`
	} `json:"GeneSummaries"`
}

// GeneID resolves a human gene symbol to its NCBI gene id; "" when PubChem
// does not know the symbol.
func (c *Client) GeneID(ctx context.Context, symbol string) (string, error) {
	if symbol == "" {
		return "", nil
	}
	resp, err := c.fetcher.Fetch(ctx, client.Request{
		Path: "gene/genesymbol/" + url.PathEscape(symbol) + "/summary/JSON",
	})
	if err != nil {
		if client.IsNotFound(err) {
			return "", nil
		}
		return "", err
	}

	var parsed summaryResponse
	if err := resp.JSON(&parsed); err != nil {
		return "", fmt.Errorf("decode gene summary: %w", err)
	}
	summaries := parsed.GeneSummaries.GeneSummary
	if len(summaries) == 0 || summaries[0].GeneID == 0 {
		return "", nil
	}
	return strconv.Itoa(summaries[0].GeneID), nil
}

// Activities fetches and parses the concise bioactivity table of a gene.
func (c *Client) Activities(ctx context.Context, geneID string) ([]Activity, error) {
	resp, err := c.fetcher.Fetch(ctx, client.Request{
		Path: "gene/geneid/" + url.PathEscape(geneID) + "/concise/JSON",
	})
	if err != nil {
		return nil, err
	}
	return ParseConcise(resp.Body)
}

// SelectMostPotent keeps active measurements with a positive potency, one
// per compound (its most potent), sorted by ascending potency then CID, and
// returns at most limit records. Ligand names are left empty.
func SelectMostPotent(activities []Activity, limit int) []model.BioactivityRecord {
	best := make(map[string]Activity)
	for _, a := range activities {
		if !a.Active() || a.Potency <= 0 || a.CID == "" {
			continue
		}
		if prev, ok := best[a.CID]; ok && prev.Potency <= a.Potency {
			continue
		}
		best[a.CID] = a
	}

	records := make([]model.BioactivityRecord, 0, len(best))
	for _, a := range best {
		records = append(records, model.BioactivityRecord{
			CID:         a.CID,
			Potency:     a.Potency,
			PotencyType: a.ActivityName,
		})
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].Potency != records[j].Potency {
			return records[i].Potency < records[j].Potency
		}
		return lessCID(records[i].CID, records[j].CID)
	})

	if len(records) > limit {
		records = records[:limit]
	}
	return records
}

// lessCID orders numeric CIDs numerically and anything else lexically.
func lessCID(a, b string) bool {
	na, errA := strconv.ParseInt(a, 10, 64)
	nb, errB := strconv.ParseInt(b, 10, 64)
	if errA == nil && errB == nil {
		return na < nb
	}
	return strings.Compare(a, b) < 0
}
