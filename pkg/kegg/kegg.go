// Package kegg reads the disease catalog and disease gene sets from the
// KEGG REST API.
package kegg

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/Sternrassler/diseasenet/pkg/client"
	"github.com/Sternrassler/diseasenet/pkg/model"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// DefaultBaseURL is the public KEGG REST endpoint.
const DefaultBaseURL = "https://rest.kegg.jp"

// maxPathwayFetches bounds concurrent KGML downloads per disease. The
// fetcher's limiter still paces the requests themselves.
const maxPathwayFetches = 4

// Fetcher performs one logical upstream lookup.
type Fetcher interface {
	Fetch(ctx context.Context, req client.Request) (*client.Response, error)
	Name() string
}

// Client is the KEGG gene collector.
type Client struct {
	fetcher Fetcher
	logger  zerolog.Logger
}

// New creates a KEGG client on top of fetcher.
func New(fetcher Fetcher, logger zerolog.Logger) *Client {
	return &Client{
		fetcher: fetcher,
		logger:  logger.With().Str("component", "kegg").Logger(),
	}
}

// ListDiseases returns the disease catalog in KEGG order. Ids are returned
// without the "ds:" database prefix.
func (c *Client) ListDiseases(ctx context.Context) ([]model.CatalogEntry, error) {
	resp, err := c.fetcher.Fetch(ctx, client.Request{Path: "list/disease", Accept: "text/plain"})
	if err != nil {
		return nil, c.fatal("list diseases", err)
	}

	entries := []model.CatalogEntry{}
	scanner := bufio.NewScanner(bytes.NewReader(resp.Body))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		id, name, ok := strings.Cut(scanner.Text(), "\t")
		if !ok {
			continue
		}
		id = strings.TrimPrefix(strings.TrimSpace(id), "ds:")
		name = strings.TrimSpace(name)
		if id == "" || name == "" {
			continue
		}
		entries = append(entries, model.CatalogEntry{ID: id, Name: name})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("parse disease list: %w", err)
	}

	c.logger.Debug().Int("entries", len(entries)).Msg("Loaded disease catalog")
	return entries, nil
}

// DiseasePathways returns the human pathway ids linked to a disease, in
// KEGG order.
func (c *Client) DiseasePathways(ctx context.Context, diseaseID string) ([]string, error) {
	path := "link/pathway/" + url.PathEscape(diseaseID)
	resp, err := c.fetcher.Fetch(ctx, client.Request{Path: path, Accept: "text/plain"})
	if err != nil {
		return nil, err
	}
	return parseLinks(resp.Body), nil
}

// CollectGenes returns the deduplicated genes of every human pathway linked
// to the disease, in first-seen order. A disease without pathways yields an
// empty list. An unreachable KEGG fails with *client.UpstreamUnavailableError.
func (c *Client) CollectGenes(ctx context.Context, diseaseID string) ([]model.GeneRecord, error) {
	logger := c.logger.With().Str("disease", diseaseID).Logger()

	pathways, err := c.DiseasePathways(ctx, diseaseID)
	if err != nil {
		if client.IsNotFound(err) {
			logger.Info().Msg("Disease has no linked pathways")
			return []model.GeneRecord{}, nil
		}
		return nil, c.fatal("link pathways", err)
	}

	// An unreachable KEGG cancels the remaining downloads; any other pathway
	// failure only drops that pathway.
	perPathway := make([][]model.GeneRecord, len(pathways))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxPathwayFetches)
	for i, pathway := range pathways {
		g.Go(func() error {
			records, err := c.PathwayGenes(gctx, pathway)
			if err != nil {
				if client.IsUnreachable(err) || gctx.Err() != nil {
					return c.fatal("pathway "+pathway, err)
				}
				logger.Warn().Err(err).Str("pathway", pathway).Msg("Skipping pathway")
				return nil
			}
			perPathway[i] = records
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	genes := []model.GeneRecord{}
	seen := make(map[string]struct{})
	for _, records := range perPathway {
		for _, gene := range records {
			if _, dup := seen[gene.GeneID]; dup {
				continue
			}
			seen[gene.GeneID] = struct{}{}
			genes = append(genes, gene)
		}
	}

	logger.Info().
		Int("pathways", len(pathways)).
		Int("genes", len(genes)).
		Msg("Collected disease genes")
	return genes, nil
}

// fatal wraps errors that end the run: an unreachable upstream becomes
// *client.UpstreamUnavailableError, anything else is annotated.
func (c *Client) fatal(op string, err error) error {
	if client.IsUnreachable(err) {
		return &client.UpstreamUnavailableError{Upstream: c.fetcher.Name(), Err: fmt.Errorf("%s: %w", op, err)}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// parseLinks extracts human pathway ids from a link/pathway body.
func parseLinks(body []byte) []string {
	var pathways []string
	seen := make(map[string]struct{})
	for _, line := range strings.Split(string(body), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 || !strings.Contains(fields[1], "hsa") {
			continue
		}
		id := strings.TrimPrefix(fields[1], "path:")
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		pathways = append(pathways, id)
	}
	return pathways
}
