package kegg

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/url"
	"strings"

	"github.com/Sternrassler/diseasenet/pkg/client"
	"github.com/Sternrassler/diseasenet/pkg/model"
)

type kgmlPathway struct {
	Entries []kgmlEntry `xml:"entry"`
}

type kgmlEntry struct {
	Name     string         `xml:"name,attr"`
	Type     string         `xml:"type,attr"`
	Graphics []kgmlGraphics `xml:"graphics"`
}

type kgmlGraphics struct {
	Name string `xml:"name,attr"`
}

// PathwayGenes returns the gene entries of a pathway map in document order.
func (c *Client) PathwayGenes(ctx context.Context, pathwayID string) ([]model.GeneRecord, error) {
	path := "get/" + url.PathEscape(pathwayID) + "/kgml"
	resp, err := c.fetcher.Fetch(ctx, client.Request{Path: path, Accept: "application/xml"})
	if err != nil {
		return nil, err
	}
	return ParseKGML(resp.Body)
}

// ParseKGML extracts genes from a KGML document. Only gene and protein
// entries with graphics count; the symbol is the first graphics name and
// the gene id the first entry name.
func ParseKGML(data []byte) ([]model.GeneRecord, error) {
	var doc kgmlPathway
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse kgml: %w", err)
	}

	genes := []model.GeneRecord{}
	for _, e := range doc.Entries {
		if e.Type != "gene" && e.Type != "protein" {
			continue
		}
		if len(e.Graphics) == 0 {
			continue
		}
		ids := strings.Fields(e.Name)
		if len(ids) == 0 {
			continue
		}
		symbol, _, _ := strings.Cut(e.Graphics[0].Name, ",")
		symbol = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(symbol), "..."))
		if symbol == "" {
			continue
		}
		genes = append(genes, model.GeneRecord{Symbol: symbol, GeneID: ids[0]})
	}
	return genes, nil
}
