package archive

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCatalogServer(store *memStorage) *httptest.Server {
	c := NewCatalog(store)
	c.now = func() time.Time { return time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC) }
	router := mux.NewRouter()
	c.Register(router)
	return httptest.NewServer(router)
}

func TestCatalogListsDayBatches(t *testing.T) {
	store := newMemStorage()
	store.objects["archive/2026-08-29/c1-abc.jsonl"] = []byte("{}\n{}\n")
	store.objects["archive/2026-08-29/c2-def.jsonl"] = []byte("{}\n")
	store.objects["archive/2026-08-28/c1-old.jsonl"] = []byte("{}\n")

	srv := newCatalogServer(store)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/archives")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Date     string  `json:"date"`
		Archives []Entry `json:"archives"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "2026-08-29", body.Date)
	require.Len(t, body.Archives, 2, "only the requested day is listed")
	for _, entry := range body.Archives {
		assert.Contains(t, entry.Key, "2026-08-29")
		assert.NotEmpty(t, entry.URL)
	}
}

func TestCatalogRejectsMalformedDate(t *testing.T) {
	srv := newCatalogServer(newMemStorage())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/archives?date=yesterday")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCatalogStreamsBatch(t *testing.T) {
	store := newMemStorage()
	store.objects["archive/2026-08-29/c1-abc.jsonl"] = []byte(`{"id":"m1"}` + "\n")

	srv := newCatalogServer(store)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/archives/archive/2026-08-29/c1-abc.jsonl")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, archiveContentType, resp.Header.Get("Content-Type"))

	var line struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&line))
	assert.Equal(t, "m1", line.ID)
}

func TestCatalogFetchUnknownKeyIs404(t *testing.T) {
	srv := newCatalogServer(newMemStorage())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/archives/archive/2026-08-29/missing.jsonl")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/api/v1/archives/etc/passwd")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
