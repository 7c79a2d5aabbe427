package handler

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/codewitgabi/skill-barter-sync/internal/domain"
	"github.com/codewitgabi/skill-barter-sync/internal/service"
	"github.com/codewitgabi/skill-barter-sync/internal/store"
	pkgjwt "github.com/codewitgabi/skill-barter-sync/pkg/jwt"
	pkglog "github.com/codewitgabi/skill-barter-sync/pkg/log"
	"github.com/codewitgabi/skill-barter-sync/pkg/timefmt"
)

// HTTPHandler is the small REST surface next to the WebSocket endpoint:
// health, point-in-time presence lookups, and conversation creation.
type HTTPHandler struct {
	store     store.PresenceStore
	chat      *service.Chat
	tokens    *pkgjwt.Manager
	threshold time.Duration
}

// NewHTTPHandler creates the REST handler.
func NewHTTPHandler(s store.PresenceStore, chat *service.Chat, tokens *pkgjwt.Manager, threshold time.Duration) *HTTPHandler {
	if threshold <= 0 {
		threshold = domain.DefaultOnlineThreshold
	}
	return &HTTPHandler{store: s, chat: chat, tokens: tokens, threshold: threshold}
}

// Register mounts the routes on the router.
func (h *HTTPHandler) Register(r *mux.Router) {
	r.HandleFunc("/health", h.Health).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/presence/{userID}", h.GetPresence).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/conversations", h.CreateConversation).Methods(http.MethodPost)
}

// Health reports liveness.
func (h *HTTPHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type presenceResponse struct {
	UserID   string `json:"user_id"`
	Online   bool   `json:"online"`
	LastSeen int64  `json:"last_seen"`
	Label    string `json:"label"`
}

// GetPresence returns one user's derived presence. A user with no record
// is reported offline, never an error.
func (h *HTTPHandler) GetPresence(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userID"]

	record, err := h.store.Get(r.Context(), userID)
	if err != nil {
		pkglog.Ctx(r.Context()).Error().Err(err).Str(pkglog.FieldUserID, userID).Msg("presence lookup failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "presence lookup failed"})
		return
	}

	now := time.Now()
	online := record.IsOnline(now, h.threshold)
	writeJSON(w, http.StatusOK, presenceResponse{
		UserID:   userID,
		Online:   online,
		LastSeen: record.LastSeen,
		Label:    timefmt.LastSeen(online, record.LastSeenTime(), now),
	})
}

type createConversationRequest struct {
	UserA             domain.Participant `json:"user_a"`
	UserB             domain.Participant `json:"user_b"`
	ExchangeRequestID string             `json:"exchange_request_id"`
}

// CreateConversation opens a thread between two users. The caller must be
// one of the two participants.
func (h *HTTPHandler) CreateConversation(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	var req createConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.UserA.ID == "" || req.UserB.ID == "" || req.UserA.ID == req.UserB.ID {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "two distinct participants required"})
		return
	}
	if claims.UserID != req.UserA.ID && claims.UserID != req.UserB.ID {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "caller must be a participant"})
		return
	}

	conv, err := h.chat.CreateConversation(r.Context(), req.UserA, req.UserB, req.ExchangeRequestID)
	if err != nil {
		pkglog.Ctx(r.Context()).Error().Err(err).Msg("conversation create failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "conversation create failed"})
		return
	}
	writeJSON(w, http.StatusCreated, conv)
}

func (h *HTTPHandler) authenticate(w http.ResponseWriter, r *http.Request) (*pkgjwt.Claims, bool) {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing bearer token"})
		return nil, false
	}
	claims, err := h.tokens.Validate(strings.TrimPrefix(header, "Bearer "))
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid token"})
		return nil, false
	}
	return claims, true
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
