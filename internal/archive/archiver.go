package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/ksuid"

	"github.com/codewitgabi/skill-barter-sync/internal/domain"
	pkglog "github.com/codewitgabi/skill-barter-sync/pkg/log"
	"github.com/codewitgabi/skill-barter-sync/pkg/storage"
)

const (
	keyPrefix = "archive/"
	dayFormat = "2006-01-02"

	archiveContentType = "application/x-ndjson"
)

// Config tunes the archiver's batching and retention.
type Config struct {
	// FlushInterval is how often buffered messages are written out.
	FlushInterval time.Duration
	// MaxBatch flushes a conversation's buffer early once it holds this
	// many messages.
	MaxBatch int
	// Retention drops whole day prefixes older than this. Zero keeps
	// everything.
	Retention time.Duration
	// RetentionSweepInterval is how often expired prefixes are checked.
	RetentionSweepInterval time.Duration
}

func (c *Config) applyDefaults() {
	if c.FlushInterval <= 0 {
		c.FlushInterval = 30 * time.Second
	}
	if c.MaxBatch <= 0 {
		c.MaxBatch = 500
	}
	if c.RetentionSweepInterval <= 0 {
		c.RetentionSweepInterval = time.Hour
	}
}

// Archiver consumes created messages and writes them to object storage as
// JSON Lines batches, one object per conversation per flush. Object keys
// embed the date and a KSUID so batches list in creation order.
type Archiver struct {
	store storage.Storage
	cfg   Config
	now   func() time.Time

	mu      sync.Mutex
	buffers map[string][]domain.Message
	stop    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

func NewArchiver(store storage.Storage, cfg Config) *Archiver {
	cfg.applyDefaults()
	return &Archiver{
		store:   store,
		cfg:     cfg,
		now:     time.Now,
		buffers: make(map[string][]domain.Message),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// Run flushes buffers and sweeps expired day prefixes until Close.
func (a *Archiver) Run() {
	flush := time.NewTicker(a.cfg.FlushInterval)
	retention := time.NewTicker(a.cfg.RetentionSweepInterval)
	defer func() {
		flush.Stop()
		retention.Stop()
		close(a.stopped)
	}()

	for {
		select {
		case <-flush.C:
			a.Flush(context.Background())
		case <-retention.C:
			if a.cfg.Retention > 0 {
				a.purgeExpired(context.Background())
			}
		case <-a.stop:
			return
		}
	}
}

// HandleMessage buffers one message for the next flush.
func (a *Archiver) HandleMessage(ctx context.Context, msg *domain.Message) error {
	if msg == nil || msg.ID == "" {
		return fmt.Errorf("invalid message")
	}

	a.mu.Lock()
	a.buffers[msg.ConversationID] = append(a.buffers[msg.ConversationID], *msg)
	full := len(a.buffers[msg.ConversationID]) >= a.cfg.MaxBatch
	a.mu.Unlock()

	if full {
		a.Flush(ctx)
	}
	return nil
}

// Flush writes every non-empty buffer to storage. A failed write puts the
// batch back so the next flush retries it.
func (a *Archiver) Flush(ctx context.Context) {
	a.mu.Lock()
	pending := a.buffers
	a.buffers = make(map[string][]domain.Message)
	a.mu.Unlock()

	for conversationID, messages := range pending {
		if len(messages) == 0 {
			continue
		}
		if err := a.writeBatch(ctx, conversationID, messages); err != nil {
			pkglog.L().Error().Err(err).
				Str(pkglog.FieldConversationID, conversationID).
				Int("messages", len(messages)).
				Msg("archive batch write failed, retrying on next flush")
			a.mu.Lock()
			a.buffers[conversationID] = append(messages, a.buffers[conversationID]...)
			a.mu.Unlock()
		}
	}
}

func (a *Archiver) writeBatch(ctx context.Context, conversationID string, messages []domain.Message) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i := range messages {
		if err := enc.Encode(&messages[i]); err != nil {
			return fmt.Errorf("failed to encode message: %w", err)
		}
	}

	key := fmt.Sprintf("%s%s/%s-%s.jsonl",
		keyPrefix, a.now().UTC().Format(dayFormat), conversationID, ksuid.New().String())
	if err := a.store.Write(ctx, key, &buf, int64(buf.Len()), archiveContentType); err != nil {
		return fmt.Errorf("failed to write archive object: %w", err)
	}

	pkglog.L().Info().
		Str(pkglog.FieldConversationID, conversationID).
		Str("key", key).
		Int("messages", len(messages)).
		Msg("archive batch written")
	return nil
}

// purgeExpired lists the archive tree and drops every day prefix whose
// date is older than the retention window.
func (a *Archiver) purgeExpired(ctx context.Context) {
	cutoff := a.now().UTC().Add(-a.cfg.Retention).Format(dayFormat)

	objects, err := a.store.List(ctx, keyPrefix)
	if err != nil {
		pkglog.L().Error().Err(err).Msg("retention sweep list failed")
		return
	}

	days := make(map[string]struct{})
	for _, obj := range objects {
		parts := strings.SplitN(obj.Key, "/", 3)
		if len(parts) < 3 {
			continue
		}
		if day := parts[1]; day < cutoff {
			days[day] = struct{}{}
		}
	}

	for day := range days {
		prefix := keyPrefix + day + "/"
		if err := a.store.DeletePrefix(ctx, prefix); err != nil {
			pkglog.L().Error().Err(err).Str("prefix", prefix).Msg("retention sweep delete failed")
			continue
		}
		pkglog.L().Info().Str("prefix", prefix).Msg("expired archive day removed")
	}
}

// Close stops the flush loop and writes out whatever is buffered.
func (a *Archiver) Close() {
	a.once.Do(func() {
		close(a.stop)
		<-a.stopped
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		a.Flush(ctx)
	})
}
