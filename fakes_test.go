package pipeline

import (
	"bytes"
	"context"
	"encoding/csv"
	"io"
	"net/http"
	"strings"
	"sync"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
)

type testObjectStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	err     error
}

func newTestObjectStore() *testObjectStore {
	return &testObjectStore{objects: map[string][]byte{}}
}

func (s *testObjectStore) put(_ context.Context, bucket, key string, r io.Reader, _ map[string]string) (int64, error) {
	if s.err != nil {
		return 0, s.err
	}

	b, err := io.ReadAll(r)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	uri := objectURI(bucket, key)
	if _, ok := s.objects[uri]; ok {
		return 0, &googleapi.Error{Code: http.StatusPreconditionFailed, Message: "object exists"}
	}
	s.objects[uri] = b

	return int64(len(b)), nil
}

// testWarehouse keeps per-table row counts and answers quality queries from
// canned results keyed by a substring of the SQL.
type testWarehouse struct {
	mu       sync.Mutex
	store    *testObjectStore
	datasets map[string]bool
	tables   map[string]uint64

	metadataCalls int
	createCalls   int
	createErr     error
	loadErr       error
	loads         []loadSpec

	// loadGate runs before every load without holding the lock.
	loadGate func(context.Context) error

	queries    []string
	results    map[string][]map[string]bigquery.Value
	queryErrAt string
}

func newTestWarehouse(store *testObjectStore) *testWarehouse {
	return &testWarehouse{
		store:    store,
		datasets: map[string]bool{},
		tables:   map[string]uint64{},
		results:  map[string][]map[string]bigquery.Value{},
	}
}

func (w *testWarehouse) datasetMetadata(_ context.Context, dataset string) (*bigquery.DatasetMetadata, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.metadataCalls++
	if !w.datasets[dataset] {
		return nil, &googleapi.Error{Code: http.StatusNotFound, Message: "Not found: Dataset p:" + dataset}
	}
	return &bigquery.DatasetMetadata{}, nil
}

func (w *testWarehouse) createDataset(_ context.Context, dataset string, _ *bigquery.DatasetMetadata) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.createCalls++
	if w.createErr != nil {
		return w.createErr
	}
	if w.datasets[dataset] {
		return &googleapi.Error{Code: http.StatusConflict, Message: "Already Exists: Dataset p:" + dataset}
	}
	w.datasets[dataset] = true
	return nil
}

func (w *testWarehouse) load(ctx context.Context, dataset string, spec loadSpec) error {
	if w.loadGate != nil {
		if err := w.loadGate(ctx); err != nil {
			return err
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.loads = append(w.loads, spec)
	if w.loadErr != nil {
		return w.loadErr
	}
	if !w.datasets[dataset] {
		return &bigquery.Error{Reason: "notFound", Message: "Not found: Dataset p:" + dataset}
	}

	rows, err := w.objectRows(spec)
	if err != nil {
		return err
	}

	key := dataset + "." + spec.Table
	if spec.WriteDisposition == bigquery.WriteTruncate {
		w.tables[key] = rows
	} else {
		w.tables[key] += rows
	}

	return nil
}

func (w *testWarehouse) objectRows(spec loadSpec) (uint64, error) {
	w.store.mu.Lock()
	body := w.store.objects[spec.SourceURI]
	w.store.mu.Unlock()

	records, err := csv.NewReader(bytes.NewReader(body)).ReadAll()
	if err != nil {
		return 0, err
	}

	n := len(records) - int(spec.SkipLeadingRows)
	if n < 0 {
		n = 0
	}
	return uint64(n), nil
}

func (w *testWarehouse) tableRows(_ context.Context, dataset, table string) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.tables[dataset+"."+table], nil
}

func (w *testWarehouse) query(_ context.Context, sql string) ([]map[string]bigquery.Value, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.queries = append(w.queries, sql)

	if w.queryErrAt != "" && strings.Contains(sql, w.queryErrAt) {
		return nil, &googleapi.Error{Code: http.StatusBadRequest, Message: "query failed"}
	}

	for substr, rows := range w.results {
		if strings.Contains(sql, substr) {
			return rows, nil
		}
	}

	return []map[string]bigquery.Value{}, nil
}

type testNotifier struct {
	mu      sync.Mutex
	reports []*Report
}

func (n *testNotifier) Notify(_ context.Context, r *Report) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.reports = append(n.reports, r)
	return nil
}
