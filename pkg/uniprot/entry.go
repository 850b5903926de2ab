package uniprot

import (
	"context"
	"encoding/xml"
	"fmt"
	"math"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/Sternrassler/diseasenet/pkg/client"
)

// Entry is the part of a UniProtKB entry the annotation needs. Empty strings
// mean the entry does not carry the field.
type Entry struct {
	Accession      string
	ProteinName    string
	FunctionalRole string
	PDBIDs         []string
}

type xmlDocument struct {
	Entries []xmlEntry `xml:"entry"`
}

type xmlEntry struct {
	Accessions []string       `xml:"accession"`
	FullName   string         `xml:"protein>recommendedName>fullName"`
	Comments   []xmlComment   `xml:"comment"`
	References []xmlReference `xml:"dbReference"`
}

type xmlComment struct {
	Type string `xml:"type,attr"`
	Text string `xml:"text"`
}

type xmlReference struct {
	Type       string        `xml:"type,attr"`
	ID         string        `xml:"id,attr"`
	Properties []xmlProperty `xml:"property"`
}

type xmlProperty struct {
	Type  string `xml:"type,attr"`
	Value string `xml:"value,attr"`
}

func (r xmlReference) property(name string) string {
	for _, p := range r.Properties {
		if p.Type == name {
			return p.Value
		}
	}
	return ""
}

// Entry fetches and parses one UniProtKB entry in XML form.
func (c *Client) Entry(ctx context.Context, accession string) (*Entry, error) {
	resp, err := c.fetcher.Fetch(ctx, client.Request{
		Path:   "uniprotkb/" + url.PathEscape(accession) + ".xml",
		Accept: "application/xml",
	})
	if err != nil {
		return nil, err
	}
	return ParseEntry(resp.Body)
}

// ParseEntry extracts the recommended name, the function text and the
// ranked PDB structures from a UniProtKB XML document.
func ParseEntry(data []byte) (*Entry, error) {
	var doc xmlDocument
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse uniprot entry: %w", err)
	}
	if len(doc.Entries) == 0 {
		return nil, fmt.Errorf("parse uniprot entry: document has no entry")
	}
	e := doc.Entries[0]

	entry := &Entry{
		ProteinName: strings.TrimSpace(e.FullName),
		PDBIDs:      rankStructures(e.References),
	}
	if len(e.Accessions) > 0 {
		entry.Accession = e.Accessions[0]
	}
	for _, c := range e.Comments {
		if c.Type == "function" && strings.TrimSpace(c.Text) != "" {
			entry.FunctionalRole = strings.TrimSpace(c.Text)
			break
		}
	}
	return entry, nil
}

type structure struct {
	id         string
	xray       bool
	resolution float64
}

// rankStructures orders PDB references X-ray first, then by ascending
// resolution (unknown last), and keeps the best MaxPDBIDs unique ids.
func rankStructures(refs []xmlReference) []string {
	var structures []structure
	for _, r := range refs {
		if r.Type != "PDB" || r.ID == "" {
			continue
		}
		structures = append(structures, structure{
			id:         r.ID,
			xray:       r.property("method") == "X-ray",
			resolution: parseResolution(r.property("resolution")),
		})
	}

	sort.SliceStable(structures, func(i, j int) bool {
		if structures[i].xray != structures[j].xray {
			return structures[i].xray
		}
		return structures[i].resolution < structures[j].resolution
	})

	ids := []string{}
	seen := make(map[string]struct{})
	for _, s := range structures {
		if len(ids) == MaxPDBIDs {
			break
		}
		if _, dup := seen[s.id]; dup {
			continue
		}
		seen[s.id] = struct{}{}
		ids = append(ids, s.id)
	}
	return ids
}

// parseResolution reads values like "2.80 A"; unknown resolution sorts last.
func parseResolution(value string) float64 {
	value = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(value), "A"))
	r, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return math.Inf(1)
	}
	return r
}
