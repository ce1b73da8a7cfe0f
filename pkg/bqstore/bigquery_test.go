package bqstore_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/illmade-knight/captionflow/pkg/bqstore"
	"github.com/illmade-knight/captionflow/pkg/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

// fakeBigQuery serves the three REST calls the inserter makes.
type fakeBigQuery struct {
	mu      sync.Mutex
	created map[string]interface{}
	rows    []map[string]interface{}
}

func (f *fakeBigQuery) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	body, _ := io.ReadAll(r.Body)

	switch {
	case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/tables/annotations"):
		if f.created == nil {
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"error":{"code":404,"message":"Not found: Table","status":"NOT_FOUND"}}`)
			return
		}
		_ = json.NewEncoder(w).Encode(f.created)
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/tables"):
		_ = json.Unmarshal(body, &f.created)
		_, _ = w.Write(body)
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/insertAll"):
		var req struct {
			Rows []map[string]interface{} `json:"rows"`
		}
		_ = json.Unmarshal(body, &req)
		f.rows = append(f.rows, req.Rows...)
		_, _ = io.WriteString(w, `{"kind":"bigquery#tableDataInsertAllResponse"}`)
	default:
		http.Error(w, "unexpected "+r.Method+" "+r.URL.Path, http.StatusBadRequest)
	}
}

func TestBigQueryInserter_CreatesTableAndInserts(t *testing.T) {
	fake := &fakeBigQuery{}
	server := httptest.NewServer(fake)
	defer server.Close()

	ctx := context.Background()
	cfg := &bqstore.BigQueryInserterConfig{ProjectID: "test-project", DatasetID: "captions", TableID: "annotations", PartitionField: "archived_at"}
	client, err := bqstore.NewBigQueryClient(ctx, cfg, zerolog.Nop(), option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	defer client.Close()

	inserter, err := bqstore.NewBigQueryInserter[types.ArchivedAnnotation](ctx, client, cfg, zerolog.Nop())
	require.NoError(t, err)

	fake.mu.Lock()
	require.NotNil(t, fake.created, "table should have been created")
	partitioning, _ := fake.created["timePartitioning"].(map[string]interface{})
	assert.Equal(t, "archived_at", partitioning["field"])
	fake.mu.Unlock()

	updated := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	rows := []*types.ArchivedAnnotation{
		{DocumentID: "d1", ImageURL: "https://x/1.png", Description: "a cat", Confidence: 0.92, UpdatedAt: updated, ArchivedAt: updated},
		nil,
	}
	require.NoError(t, inserter.InsertBatch(ctx, rows))

	fake.mu.Lock()
	defer fake.mu.Unlock()
	require.Len(t, fake.rows, 1)
	assert.Equal(t, rows[0].InsertID(), fake.rows[0]["insertId"])
	jsonRow, _ := fake.rows[0]["json"].(map[string]interface{})
	assert.Equal(t, "a cat", jsonRow["description"])
}

func TestInferredSchema(t *testing.T) {
	schema, err := bigquery.InferSchema(types.ArchivedAnnotation{})
	require.NoError(t, err)
	names := make([]string, 0, len(schema))
	for _, f := range schema {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"document_id", "image_url", "description", "confidence", "updated_at", "archived_at"}, names)
}

func TestNewBigQueryInserter_Validation(t *testing.T) {
	_, err := bqstore.NewBigQueryInserter[types.ArchivedAnnotation](context.Background(), nil, &bqstore.BigQueryInserterConfig{DatasetID: "d", TableID: "t"}, zerolog.Nop())
	assert.Error(t, err)
}
