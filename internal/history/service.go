package history

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/codewitgabi/skill-barter-sync/internal/domain"
	"github.com/codewitgabi/skill-barter-sync/internal/repository"
	"github.com/codewitgabi/skill-barter-sync/internal/store"
	pkglog "github.com/codewitgabi/skill-barter-sync/pkg/log"
)

const (
	defaultLimit = 50
	maxLimit     = 100
)

// Page is one page of message history.
type Page struct {
	Messages   []domain.Message `json:"messages"`
	NextCursor string           `json:"next_cursor"`
	HasMore    bool             `json:"has_more"`
}

// Service serves read-only conversation and message queries. Cursor-bound
// history pages are immutable, so they are cached in Redis and deduplicated
// through singleflight under concurrent load.
type Service struct {
	repo      repository.ChatRepository
	presence  store.PresenceStore
	cache     PageCache
	cacheTTL  time.Duration
	threshold time.Duration
	sf        singleflight.Group
}

func NewService(
	repo repository.ChatRepository,
	presence store.PresenceStore,
	cache PageCache,
	cacheTTL time.Duration,
	threshold time.Duration,
) *Service {
	if threshold <= 0 {
		threshold = domain.DefaultOnlineThreshold
	}
	return &Service{
		repo:      repo,
		presence:  presence,
		cache:     cache,
		cacheTTL:  cacheTTL,
		threshold: threshold,
	}
}

// ListContacts returns the user's conversation list projected onto contact
// entries with point-in-time presence, newest conversation first.
func (s *Service) ListContacts(ctx context.Context, userID string) ([]domain.Contact, error) {
	convs, err := s.repo.ListConversations(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}

	ids := make([]string, 0, len(convs))
	for i := range convs {
		if other, ok := convs[i].Other(userID); ok {
			ids = append(ids, other.ID)
		}
	}
	records, err := s.presence.GetMany(ctx, ids)
	if err != nil {
		pkglog.Ctx(ctx).Warn().Err(err).Msg("presence lookup failed, contacts reported offline")
		records = map[string]domain.PresenceRecord{}
	}

	sort.Slice(convs, func(i, j int) bool {
		return convs[i].CreatedAt.After(convs[j].CreatedAt)
	})

	now := time.Now()
	contacts := make([]domain.Contact, 0, len(convs))
	for i := range convs {
		other, ok := convs[i].Other(userID)
		if !ok {
			continue
		}
		record, ok := records[other.ID]
		if !ok {
			record = domain.PresenceRecord{UserID: other.ID}
		}
		if contact, ok := domain.NewContact(&convs[i], userID, record, now, s.threshold); ok {
			contacts = append(contacts, contact)
		}
	}
	return contacts, nil
}

// GetMessages pages through a conversation the caller participates in.
// Cursorless pages are always fetched from the database so a fresh send is
// never hidden behind a stale cache entry.
func (s *Service) GetMessages(ctx context.Context, conversationID, userID, cursor string, limit int, direction string) (*Page, error) {
	conv, err := s.repo.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(userID) {
		return nil, repository.ErrNotParticipant
	}

	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	dir := repository.ParseDirection(direction)

	// Cursorless pages are mutable in either direction: backward they hold
	// the newest messages, forward they grow until the conversation fills
	// the first page. Only cursor-bound pages are immutable and cacheable.
	if cursor == "" {
		messages, nextCursor, hasMore, err := s.repo.ListMessages(ctx, conversationID, cursor, limit, dir)
		if err != nil {
			return nil, fmt.Errorf("failed to get messages from repository: %w", err)
		}
		return &Page{Messages: messages, NextCursor: nextCursor, HasMore: hasMore}, nil
	}

	cacheKey := s.cache.BuildKey(conversationID, cursor, direction, limit)
	result, err, _ := s.sf.Do(cacheKey, func() (interface{}, error) {
		return s.fetchWithCache(ctx, conversationID, cursor, limit, dir, cacheKey)
	})
	if err != nil {
		return nil, err
	}

	cached, ok := result.(*PageResult)
	if !ok {
		return nil, fmt.Errorf("unexpected result type from singleflight")
	}
	return &Page{Messages: cached.Messages, NextCursor: cached.NextCursor, HasMore: cached.HasMore}, nil
}

func (s *Service) fetchWithCache(
	ctx context.Context,
	conversationID, cursor string,
	limit int,
	dir repository.Direction,
	cacheKey string,
) (*PageResult, error) {
	cached, err := s.cache.Get(ctx, cacheKey)
	if err == nil {
		return cached, nil
	}
	if !errors.Is(err, ErrCacheMiss) {
		pkglog.Ctx(ctx).Warn().Err(err).Msg("cache get error")
	}

	messages, nextCursor, hasMore, err := s.repo.ListMessages(ctx, conversationID, cursor, limit, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to get messages from repository: %w", err)
	}

	result := &PageResult{Messages: messages, NextCursor: nextCursor, HasMore: hasMore}

	// Cache writes happen off the request path.
	go func() {
		cacheCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.cache.Set(cacheCtx, cacheKey, result, s.cacheTTL); err != nil {
			pkglog.L().Warn().Err(err).Msg("cache set error")
		}
	}()

	return result, nil
}
