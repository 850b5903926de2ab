package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Sternrassler/diseasenet/internal/config"
	"github.com/Sternrassler/diseasenet/internal/testutil"
	"github.com/Sternrassler/diseasenet/pkg/client"
	"github.com/Sternrassler/diseasenet/pkg/model"
	"github.com/Sternrassler/diseasenet/pkg/resolver"
	"github.com/rs/zerolog"
)

// world is a set of mock upstreams serving a small breast cancer data set:
// three genes, each with a UniProt entry and PubChem ligands.
type world struct {
	kegg    *testutil.MockUpstream
	uniprot *testutil.MockUpstream
	pubchem *testutil.MockUpstream

	mu        sync.Mutex
	hang      map[string]bool
	hangCalls atomic.Int32
}

var uniprotHits = map[string]testutil.UniProtResult{
	"ESR1":  {Accession: "P03372", Name: "Estrogen receptor", Function: "Nuclear hormone receptor."},
	"BRCA1": {Accession: "P38398", Name: "Breast cancer type 1 susceptibility protein", Function: "E3 ubiquitin-protein ligase."},
	"ERBB2": {Accession: "P04626", Name: "Receptor tyrosine-protein kinase erbB-2", Function: "Part of several cell surface receptor complexes."},
}

func newWorld(t *testing.T) *world {
	t.Helper()

	w := &world{
		kegg:    testutil.NewMockUpstream(),
		uniprot: testutil.NewMockUpstream(),
		pubchem: testutil.NewMockUpstream(),
		hang:    make(map[string]bool),
	}
	t.Cleanup(func() {
		w.kegg.Close()
		w.uniprot.Close()
		w.pubchem.Close()
	})

	w.kegg.SetResponse("/list/disease", testutil.NewTextResponse(testutil.KEGGDiseaseList(
		[2]string{"H00030", "Cervical cancer"},
		[2]string{"H00031", "Breast cancer"},
		[2]string{"H00032", "Thyroid cancer"},
	)))
	w.kegg.SetResponse("/link/pathway/H00031", testutil.NewTextResponse(testutil.KEGGPathwayLinks("H00031", "hsa05224")))
	w.kegg.SetResponse("/get/hsa05224/kgml", testutil.NewXMLResponse(testutil.KGML("hsa05224",
		testutil.KEGGGene{ID: "hsa:2099", Symbol: "ESR1"},
		testutil.KEGGGene{ID: "hsa:672", Symbol: "BRCA1"},
		testutil.KEGGGene{ID: "hsa:2064", Symbol: "ERBB2"},
	)))

	w.uniprot.SetHandler("/uniprotkb/search", w.uniprotSearch)
	for _, hit := range uniprotHits {
		w.uniprot.SetResponse("/uniprotkb/"+hit.Accession+".xml", testutil.NewXMLResponse(
			testutil.UniProtEntryXML(hit.Accession, hit.Name, hit.Function,
				testutil.PDBFixture{ID: "1" + hit.Accession[1:4], Method: "X-ray", Resolution: "2.10 A"})))
	}

	w.pubchem.SetResponse("/gene/geneid/2099/concise/JSON", testutil.NewJSONResponse(testutil.PubChemConciseJSON(
		testutil.PubChemActivity{CID: "5757", Outcome: "Active", Name: "Ki", Value: "0.02"},
		testutil.PubChemActivity{CID: "2733526", Outcome: "Active", Name: "IC50", Value: "0.01"},
	)))
	w.pubchem.SetResponse("/compound/cid/2733526,5757/property/Title/JSON", testutil.NewJSONResponse(
		testutil.PubChemTitlesJSON([2]string{"2733526", "Tamoxifen"}, [2]string{"5757", "Estradiol"})))

	w.pubchem.SetResponse("/gene/geneid/672/concise/JSON", testutil.NewJSONResponse(testutil.PubChemConciseJSON(
		testutil.PubChemActivity{CID: "23725625", Outcome: "Active", Name: "IC50", Value: "0.005"},
	)))
	w.pubchem.SetResponse("/compound/cid/23725625/property/Title/JSON", testutil.NewJSONResponse(
		testutil.PubChemTitlesJSON([2]string{"23725625", "Olaparib"})))

	w.pubchem.SetResponse("/gene/geneid/2064/concise/JSON", testutil.NewJSONResponse(testutil.PubChemConciseJSON(
		testutil.PubChemActivity{CID: "208908", Outcome: "Active", Name: "IC50", Value: "0.01"},
		testutil.PubChemActivity{CID: "10184653", Outcome: "Active", Name: "IC50", Value: "0.0005"},
	)))
	w.pubchem.SetResponse("/compound/cid/10184653,208908/property/Title/JSON", testutil.NewJSONResponse(
		testutil.PubChemTitlesJSON([2]string{"10184653", "Afatinib"}, [2]string{"208908", "Lapatinib"})))

	return w
}

// hangAnnotation makes UniProt searches for symbol never answer.
func (w *world) hangAnnotation(symbol string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.hang[symbol] = true
}

func (w *world) uniprotSearch(rw http.ResponseWriter, r *http.Request) {
	symbol, _, _ := strings.Cut(r.URL.Query().Get("query"), " ")

	w.mu.Lock()
	hang := w.hang[symbol]
	w.mu.Unlock()
	if hang {
		w.hangCalls.Add(1)
		<-r.Context().Done()
		return
	}

	var body string
	if hit, ok := uniprotHits[symbol]; ok {
		body = testutil.UniProtSearchJSON(hit)
	} else {
		body = testutil.UniProtSearchJSON()
	}
	rw.Header().Set("Content-Type", "application/json")
	rw.Write([]byte(body))
}

func (w *world) config() config.Config {
	cfg := config.Default()
	retry := client.RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        5 * time.Millisecond,
		BackoffMultiplier: 2,
	}
	for _, u := range []struct {
		target *config.UpstreamConfig
		mock   *testutil.MockUpstream
	}{
		{&cfg.Upstreams.KEGG, w.kegg},
		{&cfg.Upstreams.UniProt, w.uniprot},
		{&cfg.Upstreams.PubChem, w.pubchem},
	} {
		u.target.BaseURL = u.mock.URL()
		u.target.RatePerSecond = 1000
		u.target.Timeout = 100 * time.Millisecond
		u.target.Retry = retry
	}
	return cfg
}

func (w *world) service(t *testing.T) *Service {
	t.Helper()
	s, err := FromConfig(w.config(), nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("FromConfig() error = %v", err)
	}
	return s
}

func waitRun(t *testing.T, r *Run) (*Result, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	return r.Wait(ctx)
}

func TestSearch_EndToEndWithAnnotationTimeout(t *testing.T) {
	w := newWorld(t)
	w.hangAnnotation("BRCA1")

	r := w.service(t).Search(context.Background(), "Breast cancer")
	result, err := waitRun(t, r)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}

	if result.Disease.CanonicalID != "H00031" || result.Disease.MatchScore != 100 {
		t.Errorf("Disease = %+v, want H00031 with score 100", result.Disease)
	}
	if result.RunID != r.ID() {
		t.Errorf("RunID = %q, want %q", result.RunID, r.ID())
	}
	if len(result.Rows) != 3 {
		t.Fatalf("len(Rows) = %d, want 3", len(result.Rows))
	}

	wantSymbols := []string{"ESR1", "BRCA1", "ERBB2"}
	for i, row := range result.Rows {
		if row.Gene.Symbol != wantSymbols[i] {
			t.Errorf("Rows[%d].Gene = %s, want %s", i, row.Gene.Symbol, wantSymbols[i])
		}
	}

	timedOut := result.Rows[1]
	if timedOut.Annotation != nil {
		t.Errorf("Rows[1].Annotation = %+v, want absent", timedOut.Annotation)
	}
	if timedOut.AnnotationError == "" {
		t.Error("Rows[1].AnnotationError is empty")
	}
	wantBio := []model.BioactivityRecord{{CID: "23725625", LigandName: "Olaparib", Potency: 0.005, PotencyType: "IC50"}}
	if len(timedOut.Bioactivity) != 1 || timedOut.Bioactivity[0] != wantBio[0] {
		t.Errorf("Rows[1].Bioactivity = %+v, want %+v", timedOut.Bioactivity, wantBio)
	}
	if timedOut.BioactivityError != "" {
		t.Errorf("Rows[1].BioactivityError = %q, want empty", timedOut.BioactivityError)
	}
	if got := w.hangCalls.Load(); got != 3 {
		t.Errorf("BRCA1 annotation attempts = %d, want 3", got)
	}

	esr1 := result.Rows[0]
	if esr1.Annotation == nil || esr1.Annotation.UniProtID != "P03372" {
		t.Fatalf("Rows[0].Annotation = %+v, want P03372", esr1.Annotation)
	}
	if len(esr1.Bioactivity) != 2 || esr1.Bioactivity[0].LigandName != "Tamoxifen" {
		t.Errorf("Rows[0].Bioactivity = %+v, want Tamoxifen first", esr1.Bioactivity)
	}
	if result.Rows[2].Annotation == nil || len(result.Rows[2].Annotation.Receptors) != 1 {
		t.Errorf("Rows[2].Annotation = %+v, want one receptor", result.Rows[2].Annotation)
	}

	progress := r.CurrentProgress()
	if progress.CompletedGenes != 3 || progress.TotalGenes != 3 {
		t.Errorf("progress = %d/%d, want 3/3", progress.CompletedGenes, progress.TotalGenes)
	}
}

func TestSearch_EventStream(t *testing.T) {
	w := newWorld(t)
	r := w.service(t).Search(context.Background(), "breast cancer")

	var events []Event
	timeout := time.After(20 * time.Second)
	for done := false; !done; {
		select {
		case ev, ok := <-r.Events():
			if !ok {
				done = true
				break
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatal("event stream not closed")
		}
	}

	if len(events) == 0 {
		t.Fatal("no events received")
	}
	last := events[len(events)-1]
	if !last.Done || last.Err != nil || last.Result == nil {
		t.Fatalf("terminal event = %+v, want Done with Result", last)
	}
	if last.Progress.CompletedGenes != 3 || !last.Progress.Terminal() {
		t.Errorf("terminal progress = %+v, want 3/3", last.Progress)
	}
	prev := 0
	for i, ev := range events {
		if ev.Done && i != len(events)-1 {
			t.Errorf("event %d is terminal but not last", i)
		}
		if ev.Progress.CompletedGenes < prev {
			t.Errorf("progress went backwards at event %d", i)
		}
		prev = ev.Progress.CompletedGenes
	}
}

func TestSearch_Idempotent(t *testing.T) {
	w := newWorld(t)
	s := w.service(t)

	var tables [2][]byte
	for i := range tables {
		result, err := waitRun(t, s.Search(context.Background(), "Breast cancer"))
		if err != nil {
			t.Fatalf("run %d: error = %v", i, err)
		}
		data, err := json.Marshal(struct {
			Disease model.DiseaseMatch
			Matches []model.DiseaseMatch
			Rows    []model.ResultRow
		}{result.Disease, result.Matches, result.Rows})
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		tables[i] = data
	}

	if string(tables[0]) != string(tables[1]) {
		t.Errorf("runs differ:\n%s\n%s", tables[0], tables[1])
	}
}

func TestSearch_DiseaseNotFound(t *testing.T) {
	w := newWorld(t)

	_, err := waitRun(t, w.service(t).Search(context.Background(), "xylophone"))
	var notFound *resolver.DiseaseNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("error = %v, want *resolver.DiseaseNotFoundError", err)
	}
	if notFound.Query != "xylophone" {
		t.Errorf("Query = %q, want xylophone", notFound.Query)
	}
	if got := w.kegg.PathCount("/link/pathway/H00031"); got != 0 {
		t.Errorf("gene collection ran %d times for an unknown disease", got)
	}
	if got := w.uniprot.GetRequestCount(); got != 0 {
		t.Errorf("enrichment ran (%d uniprot requests) for an unknown disease", got)
	}
}

func TestSearch_UpstreamUnavailable(t *testing.T) {
	tests := []struct {
		name  string
		path  string
		calls int
	}{
		{"catalog", "/list/disease", 3},
		{"pathway map", "/get/hsa05224/kgml", 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := newWorld(t)
			w.kegg.SetResponse(tt.path, testutil.NewServiceUnavailableResponse())

			_, err := waitRun(t, w.service(t).Search(context.Background(), "Breast cancer"))
			var unavailable *client.UpstreamUnavailableError
			if !errors.As(err, &unavailable) {
				t.Fatalf("error = %v, want *client.UpstreamUnavailableError", err)
			}
			if unavailable.Upstream != "kegg" {
				t.Errorf("Upstream = %q, want kegg", unavailable.Upstream)
			}
			if got := w.kegg.PathCount(tt.path); got != tt.calls {
				t.Errorf("calls = %d, want %d", got, tt.calls)
			}
			if got := w.uniprot.GetRequestCount(); got != 0 {
				t.Errorf("enrichment ran (%d uniprot requests) after a fatal failure", got)
			}
		})
	}
}

func TestSearch_NoGenes(t *testing.T) {
	w := newWorld(t)
	w.kegg.SetResponse("/link/pathway/H00031", testutil.NewNotFoundResponse())

	r := w.service(t).Search(context.Background(), "Breast cancer")
	result, err := waitRun(t, r)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if result.Rows == nil || len(result.Rows) != 0 {
		t.Errorf("Rows = %v, want empty table", result.Rows)
	}
	if p := r.CurrentProgress(); !p.Terminal() || p.Percent() != 100 {
		t.Errorf("progress = %+v, want terminal", p)
	}
}

func TestSearch_Cancel(t *testing.T) {
	w := newWorld(t)
	for symbol := range uniprotHits {
		w.hangAnnotation(symbol)
	}
	cfg := w.config()
	cfg.Upstreams.UniProt.Timeout = 10 * time.Second
	s, err := FromConfig(cfg, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("FromConfig() error = %v", err)
	}

	r := s.Search(context.Background(), "Breast cancer")
	deadline := time.Now().Add(10 * time.Second)
	for r.CurrentProgress().TotalGenes == 0 {
		if time.Now().After(deadline) {
			t.Fatal("genes were never collected")
		}
		time.Sleep(5 * time.Millisecond)
	}
	r.Cancel()

	result, err := waitRun(t, r)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
	if result != nil {
		t.Errorf("result = %+v, want no partial table", result)
	}
}

func TestRun_WaitHonoursContext(t *testing.T) {
	w := newWorld(t)
	w.hangAnnotation("ESR1")
	cfg := w.config()
	cfg.Upstreams.UniProt.Timeout = 10 * time.Second
	s, err := FromConfig(cfg, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("FromConfig() error = %v", err)
	}

	r := s.Search(context.Background(), "Breast cancer")
	defer r.Cancel()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := r.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait() error = %v, want deadline exceeded", err)
	}
}

func TestNew_Validation(t *testing.T) {
	w := newWorld(t)
	s := w.service(t)

	if _, err := New(nil, s.enricher, DefaultConfig(), zerolog.Nop()); err == nil {
		t.Error("expected error for nil gene source")
	}
	if _, err := New(s.genes, nil, DefaultConfig(), zerolog.Nop()); err == nil {
		t.Error("expected error for nil enricher")
	}
	bad := DefaultConfig()
	bad.Resolver.Limit = 0
	if _, err := New(s.genes, s.enricher, bad, zerolog.Nop()); err == nil {
		t.Error("expected error for invalid resolver config")
	}
}

func TestResultLabel(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "ok"},
		{&resolver.DiseaseNotFoundError{Query: "x"}, "not_found"},
		{&client.UpstreamUnavailableError{Upstream: "kegg"}, "unavailable"},
		{context.Canceled, "cancelled"},
		{errors.New("boom"), "error"},
	}

	for _, tt := range tests {
		if got := resultLabel(tt.err); got != tt.want {
			t.Errorf("resultLabel(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
