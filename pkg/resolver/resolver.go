// Package resolver maps free-text disease names onto the disease catalog
// using token-set fuzzy matching.
package resolver

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/Sternrassler/diseasenet/pkg/model"
)

// ErrDiseaseNotFound is matched by every DiseaseNotFoundError.
var ErrDiseaseNotFound = errors.New("disease not recognized")

// DiseaseNotFoundError is returned when no catalog entry clears the threshold.
type DiseaseNotFoundError struct {
	Query string
}

// Error implements the error interface.
func (e *DiseaseNotFoundError) Error() string {
	return fmt.Sprintf("%s: %q", ErrDiseaseNotFound, e.Query)
}

// Is makes errors.Is(err, ErrDiseaseNotFound) hold.
func (e *DiseaseNotFoundError) Is(target error) bool {
	return target == ErrDiseaseNotFound
}

// Config holds the matching parameters.
type Config struct {
	// Threshold is the score a match must strictly exceed (0-100).
	Threshold int `yaml:"threshold"`

	// Limit is the maximum number of matches returned.
	Limit int `yaml:"limit"`
}

// DefaultConfig returns the default matching parameters.
func DefaultConfig() Config {
	return Config{
		Threshold: 60,
		Limit:     5,
	}
}

// Validate checks the matching parameters.
func (c Config) Validate() error {
	if c.Threshold < 0 || c.Threshold > 100 {
		return fmt.Errorf("threshold must be within 0-100 (got %d)", c.Threshold)
	}
	if c.Limit <= 0 {
		return fmt.Errorf("limit must be > 0 (got %d)", c.Limit)
	}
	return nil
}

// Resolver matches queries against one snapshot of the disease catalog.
// It is immutable after New and safe for concurrent use.
type Resolver struct {
	config  Config
	catalog []model.CatalogEntry
	tokens  [][]string
	byID    map[string]int
}

// New prepares a resolver for catalog. Catalog order decides ties.
func New(catalog []model.CatalogEntry, cfg Config) (*Resolver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	r := &Resolver{
		config:  cfg,
		catalog: catalog,
		tokens:  make([][]string, len(catalog)),
		byID:    make(map[string]int, len(catalog)),
	}
	for i, entry := range catalog {
		r.tokens[i] = Tokenize(entry.Name)
		id := canonicalID(entry.ID)
		if _, dup := r.byID[id]; !dup {
			r.byID[id] = i
		}
	}
	return r, nil
}

// Resolve returns up to Limit matches whose score exceeds Threshold, best
// first, ties in catalog order. It never fails; no match is an empty slice.
func (r *Resolver) Resolve(query string) []model.DiseaseMatch {
	query = strings.TrimSpace(query)
	if query == "" {
		return []model.DiseaseMatch{}
	}

	if i, ok := r.byID[canonicalID(query)]; ok {
		entry := r.catalog[i]
		return []model.DiseaseMatch{{CanonicalID: entry.ID, DisplayName: entry.Name, MatchScore: 100}}
	}

	qt := Tokenize(query)
	matches := []model.DiseaseMatch{}
	for i, entry := range r.catalog {
		score := TokenSetRatio(qt, r.tokens[i])
		if score <= r.config.Threshold {
			continue
		}
		matches = append(matches, model.DiseaseMatch{
			CanonicalID: entry.ID,
			DisplayName: entry.Name,
			MatchScore:  score,
		})
	}

	// Stable sort keeps catalog order among equal scores.
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].MatchScore > matches[j].MatchScore
	})
	if len(matches) > r.config.Limit {
		matches = matches[:r.config.Limit]
	}
	return matches
}

// Best returns the top match or a *DiseaseNotFoundError.
func (r *Resolver) Best(query string) (model.DiseaseMatch, error) {
	matches := r.Resolve(query)
	if len(matches) == 0 {
		return model.DiseaseMatch{}, &DiseaseNotFoundError{Query: query}
	}
	return matches[0], nil
}

// canonicalID reduces "ds:H00031", "h00031" and "H00031" to one key.
func canonicalID(id string) string {
	id = strings.TrimSpace(id)
	if len(id) > 3 && strings.EqualFold(id[:3], "ds:") {
		id = id[3:]
	}
	return strings.ToUpper(id)
}
