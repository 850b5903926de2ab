package testutil

import (
	"encoding/json"
	"fmt"
	"strings"
)

// KEGGGene is one gene entry of a KGML fixture.
type KEGGGene struct {
	ID     string // e.g. "hsa:2099"
	Symbol string
}

// KEGGDiseaseList renders a list/disease body from id/name pairs.
func KEGGDiseaseList(pairs ...[2]string) string {
	var b strings.Builder
	for _, p := range pairs {
		fmt.Fprintf(&b, "%s\t%s\n", p[0], p[1])
	}
	return b.String()
}

// KEGGPathwayLinks renders a link/pathway body for a disease.
func KEGGPathwayLinks(diseaseID string, pathways ...string) string {
	var b strings.Builder
	for _, p := range pathways {
		fmt.Fprintf(&b, "ds:%s\tpath:%s\n", strings.TrimPrefix(diseaseID, "ds:"), p)
	}
	return b.String()
}

// KGML renders a pathway KGML document containing gene entries and one
// compound entry that parsers must ignore.
func KGML(pathway string, genes ...KEGGGene) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0"?>` + "\n")
	fmt.Fprintf(&b, `<pathway name="path:%s" org="hsa" number="%s" title="Fixture">`+"\n",
		pathway, strings.TrimPrefix(pathway, "hsa"))
	for i, g := range genes {
		fmt.Fprintf(&b, `  <entry id="%d" name="%s" type="gene" link="https://www.kegg.jp/dbget-bin/www_bget?%s">`+"\n",
			i+1, g.ID, g.ID)
		fmt.Fprintf(&b, `    <graphics name="%s, ALIAS%d..." fgcolor="#000000" bgcolor="#BFFFBF" type="rectangle" x="10" y="10" width="46" height="17"/>`+"\n",
			g.Symbol, i+1)
		b.WriteString("  </entry>\n")
	}
	fmt.Fprintf(&b, `  <entry id="%d" name="cpd:C00076" type="compound">`+"\n", len(genes)+1)
	b.WriteString(`    <graphics name="C00076" type="circle" x="20" y="20" width="8" height="8"/>` + "\n")
	b.WriteString("  </entry>\n</pathway>\n")
	return b.String()
}

// UniProtResult is one search hit of a UniProt search fixture.
type UniProtResult struct {
	Accession string
	Name      string
	Function  string
}

// UniProtSearchJSON renders a uniprotkb/search JSON body.
func UniProtSearchJSON(results ...UniProtResult) string {
	type text struct {
		Value string `json:"value"`
	}
	type comment struct {
		CommentType string `json:"commentType"`
		Texts       []text `json:"texts"`
	}
	type result struct {
		PrimaryAccession   string    `json:"primaryAccession"`
		ProteinDescription any       `json:"proteinDescription"`
		Comments           []comment `json:"comments"`
	}

	out := struct {
		Results []result `json:"results"`
	}{Results: []result{}}
	for _, r := range results {
		res := result{
			PrimaryAccession: r.Accession,
			ProteinDescription: map[string]any{
				"recommendedName": map[string]any{"fullName": map[string]string{"value": r.Name}},
			},
		}
		if r.Function != "" {
			res.Comments = []comment{{CommentType: "FUNCTION", Texts: []text{{Value: r.Function}}}}
		}
		out.Results = append(out.Results, res)
	}
	return mustJSON(out)
}

// PDBFixture is one PDB cross-reference of a UniProt entry fixture.
type PDBFixture struct {
	ID         string
	Method     string // "X-ray", "NMR", "EM"
	Resolution string // "2.80 A", or "" when not applicable
}

// UniProtEntryXML renders a uniprotkb/<accession>.xml body. Empty name or
// function omit the element.
func UniProtEntryXML(accession, name, function string, pdbs ...PDBFixture) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	b.WriteString(`<uniprot xmlns="http://uniprot.org/uniprot">` + "\n")
	b.WriteString(`<entry dataset="Swiss-Prot">` + "\n")
	fmt.Fprintf(&b, "<accession>%s</accession>\n", accession)
	if name != "" {
		fmt.Fprintf(&b, "<protein><recommendedName><fullName>%s</fullName></recommendedName></protein>\n", name)
	}
	if function != "" {
		fmt.Fprintf(&b, `<comment type="function"><text evidence="1">%s</text></comment>`+"\n", function)
	}
	for _, p := range pdbs {
		fmt.Fprintf(&b, `<dbReference type="PDB" id="%s">`, p.ID)
		fmt.Fprintf(&b, `<property type="method" value="%s"/>`, p.Method)
		if p.Resolution != "" {
			fmt.Fprintf(&b, `<property type="resolution" value="%s"/>`, p.Resolution)
		}
		b.WriteString("</dbReference>\n")
	}
	b.WriteString(`<dbReference type="GO" id="GO:0005634"/>` + "\n")
	b.WriteString("</entry>\n</uniprot>\n")
	return b.String()
}

// PubChemGeneSummaryJSON renders a gene/genesymbol/<symbol>/summary/JSON body.
func PubChemGeneSummaryJSON(geneID int, symbol string) string {
	return mustJSON(map[string]any{
		"GeneSummaries": map[string]any{
			"GeneSummary": []map[string]any{{"GeneID": geneID, "Symbol": symbol, "TaxonomyID": 9606}},
		},
	})
}

// PubChemActivity is one row of a concise bioactivity fixture.
type PubChemActivity struct {
	CID     string
	Outcome string // "Active", "Inactive", ...
	Name    string // activity name, e.g. "IC50"
	Value   string // µM, may be empty
}

// PubChemConciseColumns is the column header of the concise bioactivity table.
var PubChemConciseColumns = []string{
	"AID", "SID", "CID", "Activity Outcome", "Target Accession", "Activity Name",
	"Qualifier", "Activity Value [uM]", "Assay Name", "Assay Type", "PubMed ID",
}

// PubChemConciseJSON renders a gene/geneid/<id>/concise/JSON body.
func PubChemConciseJSON(rows ...PubChemActivity) string {
	type row struct {
		Cell []string `json:"Cell"`
	}
	table := struct {
		Columns map[string][]string `json:"Columns"`
		Row     []row               `json:"Row"`
	}{Columns: map[string][]string{"Column": PubChemConciseColumns}, Row: []row{}}
	for i, r := range rows {
		table.Row = append(table.Row, row{Cell: []string{
			fmt.Sprint(1000 + i), fmt.Sprint(5000 + i), r.CID, r.Outcome, "P03372", r.Name,
			"=", r.Value, "Fixture assay", "Confirmatory", "",
		}})
	}
	return mustJSON(map[string]any{"Table": table})
}

// PubChemTitlesJSON renders a compound/cid/<cids>/property/Title/JSON body
// from cid/title pairs.
func PubChemTitlesJSON(pairs ...[2]string) string {
	props := []map[string]any{}
	for _, p := range pairs {
		var cid int
		fmt.Sscan(p[0], &cid)
		props = append(props, map[string]any{"CID": cid, "Title": p[1]})
	}
	return mustJSON(map[string]any{"PropertyTable": map[string]any{"Properties": props}})
}

func mustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(data)
}
