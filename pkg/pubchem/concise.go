package pubchem

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Activity is one row of a concise bioactivity table.
type Activity struct {
	CID          string
	Outcome      string
	ActivityName string

	// Potency is the activity value in µM; 0 when not reported.
	Potency float64
}

// Active reports whether the assay outcome is "Active".
func (a Activity) Active() bool {
	return a.Outcome == "Active"
}

// cell accepts both string and numeric JSON table cells.
type cell string

func (c *cell) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*c = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = cell(s)
		return nil
	}
	*c = cell(data)
	return nil
}

type conciseResponse struct {
	Table struct {
		Columns struct {
			Column []string `json:"Column"`
		} `json:"Columns"`
		Row []struct {
			Cell []cell `json:"Cell"`
		} `json:"Row"`
	} `json:"Table"`
}

// Column positions used when the table carries no usable header.
const (
	defaultCIDColumn     = 2
	defaultOutcomeColumn = 3
	defaultNameColumn    = 5
	defaultValueColumn   = 7
)

type columns struct {
	cid, outcome, name, value int
}

func resolveColumns(header []string) columns {
	cols := columns{cid: -1, outcome: -1, name: -1, value: -1}
	for i, h := range header {
		switch h = strings.TrimSpace(h); {
		case h == "CID":
			cols.cid = i
		case h == "Activity Outcome":
			cols.outcome = i
		case h == "Activity Name":
			cols.name = i
		case strings.HasPrefix(h, "Activity Value"):
			cols.value = i
		}
	}
	if cols.cid < 0 || cols.outcome < 0 || cols.value < 0 {
		return columns{
			cid:     defaultCIDColumn,
			outcome: defaultOutcomeColumn,
			name:    defaultNameColumn,
			value:   defaultValueColumn,
		}
	}
	return cols
}

// ParseConcise decodes a concise bioactivity table. Rows too short for the
// resolved columns are skipped; an unparsable activity value reads as 0.
func ParseConcise(data []byte) ([]Activity, error) {
	var parsed conciseResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("decode concise table: %w", err)
	}

	cols := resolveColumns(parsed.Table.Columns.Column)
	at := func(cells []cell, i int) string {
		if i < 0 || i >= len(cells) {
			return ""
		}
		return strings.TrimSpace(string(cells[i]))
	}

	activities := make([]Activity, 0, len(parsed.Table.Row))
	for _, row := range parsed.Table.Row {
		if len(row.Cell) <= max(cols.cid, cols.outcome) {
			continue
		}
		a := Activity{
			CID:          at(row.Cell, cols.cid),
			Outcome:      at(row.Cell, cols.outcome),
			ActivityName: at(row.Cell, cols.name),
		}
		if v, err := strconv.ParseFloat(at(row.Cell, cols.value), 64); err == nil {
			a.Potency = v
		}
		activities = append(activities, a)
	}
	return activities, nil
}
