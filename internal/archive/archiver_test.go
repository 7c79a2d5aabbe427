package archive

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codewitgabi/skill-barter-sync/internal/domain"
	"github.com/codewitgabi/skill-barter-sync/pkg/storage"
)

type memStorage struct {
	mu       sync.Mutex
	objects  map[string][]byte
	writeErr error
}

func newMemStorage() *memStorage {
	return &memStorage{objects: make(map[string][]byte)}
}

func (s *memStorage) Write(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return s.writeErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.objects[key] = data
	return nil
}

func (s *memStorage) Read(ctx context.Context, key string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	if !ok {
		return nil, errors.New("not found")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *memStorage) DeletePrefix(ctx context.Context, prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.objects {
		if strings.HasPrefix(key, prefix) {
			delete(s.objects, key)
		}
	}
	return nil
}

func (s *memStorage) List(ctx context.Context, prefix string) ([]storage.ObjectInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []storage.ObjectInfo
	for key, data := range s.objects {
		if strings.HasPrefix(key, prefix) {
			out = append(out, storage.ObjectInfo{Key: key, Size: int64(len(data))})
		}
	}
	return out, nil
}

func (s *memStorage) Exists(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[key]
	return ok, nil
}

func (s *memStorage) GetURL(ctx context.Context, key string, expires time.Duration) (string, error) {
	return key, nil
}

func (s *memStorage) keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.objects))
	for key := range s.objects {
		out = append(out, key)
	}
	return out
}

func testMessage(id, convID, text string) *domain.Message {
	return &domain.Message{
		ID:             id,
		ConversationID: convID,
		SenderID:       "alice",
		Text:           text,
		CreatedAt:      time.Now().UTC(),
	}
}

func TestArchiverFlushWritesJSONLines(t *testing.T) {
	store := newMemStorage()
	a := NewArchiver(store, Config{FlushInterval: time.Hour})
	ctx := context.Background()

	require.NoError(t, a.HandleMessage(ctx, testMessage("m1", "c1", "hello")))
	require.NoError(t, a.HandleMessage(ctx, testMessage("m2", "c1", "world")))
	require.NoError(t, a.HandleMessage(ctx, testMessage("m3", "c2", "other thread")))

	a.Flush(ctx)

	keys := store.keys()
	require.Len(t, keys, 2, "one object per conversation")
	for _, key := range keys {
		assert.Contains(t, key, "archive/")
		assert.Contains(t, key, ".jsonl")
	}

	var c1Key string
	for _, key := range keys {
		if strings.Contains(key, "c1") {
			c1Key = key
		}
	}
	require.NotEmpty(t, c1Key)

	r, err := store.Read(ctx, c1Key)
	require.NoError(t, err)
	defer r.Close()

	var lines []domain.Message
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		var m domain.Message
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &m))
		lines = append(lines, m)
	}
	require.Len(t, lines, 2)
	assert.Equal(t, "m1", lines[0].ID)
	assert.Equal(t, "m2", lines[1].ID)
}

func TestArchiverRejectsInvalidMessage(t *testing.T) {
	a := NewArchiver(newMemStorage(), Config{FlushInterval: time.Hour})

	assert.Error(t, a.HandleMessage(context.Background(), nil))
	assert.Error(t, a.HandleMessage(context.Background(), &domain.Message{}))
}

func TestArchiverRetainsBatchOnWriteFailure(t *testing.T) {
	store := newMemStorage()
	a := NewArchiver(store, Config{FlushInterval: time.Hour})
	ctx := context.Background()

	require.NoError(t, a.HandleMessage(ctx, testMessage("m1", "c1", "hello")))

	store.mu.Lock()
	store.writeErr = errors.New("storage down")
	store.mu.Unlock()
	a.Flush(ctx)
	assert.Empty(t, store.keys())

	store.mu.Lock()
	store.writeErr = nil
	store.mu.Unlock()
	a.Flush(ctx)
	assert.Len(t, store.keys(), 1, "failed batch is retried on the next flush")
}

func TestArchiverMaxBatchFlushesEarly(t *testing.T) {
	store := newMemStorage()
	a := NewArchiver(store, Config{FlushInterval: time.Hour, MaxBatch: 2})
	ctx := context.Background()

	require.NoError(t, a.HandleMessage(ctx, testMessage("m1", "c1", "one")))
	assert.Empty(t, store.keys())

	require.NoError(t, a.HandleMessage(ctx, testMessage("m2", "c1", "two")))
	assert.Len(t, store.keys(), 1, "hitting the batch cap flushes without waiting for the ticker")
}

func TestArchiverRetentionDropsExpiredDays(t *testing.T) {
	store := newMemStorage()
	a := NewArchiver(store, Config{FlushInterval: time.Hour, Retention: 7 * 24 * time.Hour})
	ctx := context.Background()

	current := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return current }

	store.objects["archive/2026-08-10/c1-old.jsonl"] = []byte("{}\n")
	store.objects["archive/2026-08-22/c1-boundary.jsonl"] = []byte("{}\n")
	store.objects["archive/2026-08-28/c1-fresh.jsonl"] = []byte("{}\n")

	a.purgeExpired(ctx)

	keys := store.keys()
	assert.NotContains(t, keys, "archive/2026-08-10/c1-old.jsonl")
	assert.Contains(t, keys, "archive/2026-08-22/c1-boundary.jsonl", "the cutoff day itself is kept")
	assert.Contains(t, keys, "archive/2026-08-28/c1-fresh.jsonl")
}

func TestArchiverCloseFlushesBuffered(t *testing.T) {
	store := newMemStorage()
	a := NewArchiver(store, Config{FlushInterval: time.Hour})
	go a.Run()

	require.NoError(t, a.HandleMessage(context.Background(), testMessage("m1", "c1", "bye")))
	a.Close()

	assert.Len(t, store.keys(), 1)
}
