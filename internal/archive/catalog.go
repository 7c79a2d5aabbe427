package archive

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	pkglog "github.com/codewitgabi/skill-barter-sync/pkg/log"
	"github.com/codewitgabi/skill-barter-sync/pkg/storage"
)

const downloadURLTTL = 15 * time.Minute

// Entry is one archived batch in a listing.
type Entry struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified,omitempty"`
	URL          string    `json:"url,omitempty"`
}

// Catalog serves read access to archived batches: a per-day listing with
// download links, and direct streaming of a single batch.
type Catalog struct {
	store storage.Storage
	now   func() time.Time
}

func NewCatalog(store storage.Storage) *Catalog {
	return &Catalog{store: store, now: time.Now}
}

// Register mounts the catalog routes.
func (c *Catalog) Register(r *mux.Router) {
	r.HandleFunc("/api/v1/archives", c.handleList).Methods(http.MethodGet)
	r.PathPrefix("/api/v1/archives/").HandlerFunc(c.handleFetch).Methods(http.MethodGet)
}

// handleList lists one day's batches, defaulting to today.
func (c *Catalog) handleList(w http.ResponseWriter, r *http.Request) {
	day := r.URL.Query().Get("date")
	if day == "" {
		day = c.now().UTC().Format(dayFormat)
	}
	if _, err := time.Parse(dayFormat, day); err != nil {
		http.Error(w, "invalid date, expected YYYY-MM-DD", http.StatusBadRequest)
		return
	}

	objects, err := c.store.List(r.Context(), keyPrefix+day+"/")
	if err != nil {
		pkglog.Ctx(r.Context()).Error().Err(err).Str("date", day).Msg("archive listing failed")
		http.Error(w, "listing failed", http.StatusInternalServerError)
		return
	}

	entries := make([]Entry, 0, len(objects))
	for _, obj := range objects {
		entry := Entry{Key: obj.Key, Size: obj.Size, LastModified: obj.LastModified}
		if url, err := c.store.GetURL(r.Context(), obj.Key, downloadURLTTL); err == nil {
			entry.URL = url
		}
		entries = append(entries, entry)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"date": day, "archives": entries})
}

// handleFetch streams one batch.
func (c *Catalog) handleFetch(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(r.URL.Path, "/api/v1/archives/")
	if !strings.HasPrefix(key, keyPrefix) || strings.Contains(key, "..") {
		http.NotFound(w, r)
		return
	}

	ok, err := c.store.Exists(r.Context(), key)
	if err != nil {
		pkglog.Ctx(r.Context()).Error().Err(err).Str("key", key).Msg("archive lookup failed")
		http.Error(w, "lookup failed", http.StatusInternalServerError)
		return
	}
	if !ok {
		http.NotFound(w, r)
		return
	}

	body, err := c.store.Read(r.Context(), key)
	if err != nil {
		pkglog.Ctx(r.Context()).Error().Err(err).Str("key", key).Msg("archive read failed")
		http.Error(w, "read failed", http.StatusInternalServerError)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", archiveContentType)
	io.Copy(w, body)
}
