package pubchem

import (
	"context"
	"strconv"
	"strings"

	"github.com/Sternrassler/diseasenet/pkg/client"
	"github.com/Sternrassler/diseasenet/pkg/model"
	"github.com/rs/zerolog"
)

type propertyResponse struct {
	PropertyTable struct {
		Properties []struct {
			CID   int    `json:"CID"`
			Title string `json:"Title"`
		} `json:"Properties"`
	} `json:"PropertyTable"`
}

// FallbackName is the ligand name used when PubChem has no title for a CID.
func FallbackName(cid string) string {
	return "Compound_" + cid
}

// titles looks up compound names for all records in one request. Any
// failure degrades the affected names to FallbackName.
func (c *Client) titles(ctx context.Context, records []model.BioactivityRecord, logger zerolog.Logger) map[string]string {
	names := make(map[string]string, len(records))
	cids := make([]string, 0, len(records))
	for _, r := range records {
		names[r.CID] = FallbackName(r.CID)
		cids = append(cids, r.CID)
	}

	resp, err := c.fetcher.Fetch(ctx, client.Request{
		Path: "compound/cid/" + strings.Join(cids, ",") + "/property/Title/JSON",
	})
	if err != nil {
		logger.Warn().Err(err).Msg("Compound title lookup failed, using fallback names")
		return names
	}

	var parsed propertyResponse
	if err := resp.JSON(&parsed); err != nil {
		logger.Warn().Err(err).Msg("Compound title response invalid, using fallback names")
		return names
	}
	for _, p := range parsed.PropertyTable.Properties {
		cid := strconv.Itoa(p.CID)
		if _, wanted := names[cid]; wanted && strings.TrimSpace(p.Title) != "" {
			names[cid] = strings.TrimSpace(p.Title)
		}
	}
	return names
}
