package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/codewitgabi/skill-barter-sync/internal/bus"
	"github.com/codewitgabi/skill-barter-sync/internal/domain"
	"github.com/codewitgabi/skill-barter-sync/internal/hub"
	"github.com/codewitgabi/skill-barter-sync/internal/repository"
	"github.com/codewitgabi/skill-barter-sync/internal/service"
	"github.com/codewitgabi/skill-barter-sync/internal/store"
	pkgjwt "github.com/codewitgabi/skill-barter-sync/pkg/jwt"
	pkglog "github.com/codewitgabi/skill-barter-sync/pkg/log"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// session is the per-connection state built up after a successful auth
// frame: the user binding and which thread is currently open.
type session struct {
	userID string

	mu         sync.Mutex
	openThread string
}

func (s *session) setOpenThread(id string) {
	s.mu.Lock()
	s.openThread = id
	s.mu.Unlock()
}

// rosterRef is a refcounted roster shared by every session of one user on
// this instance. The roster closes when the last session disconnects.
type rosterRef struct {
	roster *service.Roster
	refs   int
}

// WSHandler owns the realtime sync endpoint. Each connection starts
// unauthenticated; the first frame must be an auth frame, after which the
// connection is bound to a user, presence goes online, and a roster
// synchronizer streams the conversation list. Sessions of the same user
// share one roster; its events reach all of them through the hub's user
// index.
type WSHandler struct {
	hub      *hub.Hub
	hubCfg   hub.Config
	tokens   *pkgjwt.Manager
	presence *service.Presence
	chat     *service.Chat
	repo     repository.ChatRepository
	store    store.PresenceStore
	bus      bus.Bus
	rosterTh time.Duration

	mu       sync.Mutex
	sessions map[string]*session
	rosters  map[string]*rosterRef
}

// NewWSHandler creates the WebSocket handler.
func NewWSHandler(
	h *hub.Hub,
	hubCfg hub.Config,
	tokens *pkgjwt.Manager,
	presence *service.Presence,
	chat *service.Chat,
	repo repository.ChatRepository,
	presenceStore store.PresenceStore,
	b bus.Bus,
	onlineThreshold time.Duration,
) *WSHandler {
	return &WSHandler{
		hub:      h,
		hubCfg:   hubCfg,
		tokens:   tokens,
		presence: presence,
		chat:     chat,
		repo:     repo,
		store:    presenceStore,
		bus:      b,
		rosterTh: onlineThreshold,
		sessions: make(map[string]*session),
		rosters:  make(map[string]*rosterRef),
	}
}

// ServeWS upgrades the connection and runs its read loop. Cleanup is
// ordered on disconnect: the roster tears down first, then presence goes
// offline with its usual grace period.
func (wh *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		pkglog.L().Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := hub.NewClient(uuid.NewString(), wh.hub, conn, wh.hubCfg)
	wh.hub.Register(client)

	go client.WritePump()
	client.ReadPump(wh.handleFrame)
	wh.disconnect(client)
}

func (wh *WSHandler) handleFrame(client *hub.Client, raw []byte) {
	var base domain.BaseMessage
	if err := json.Unmarshal(raw, &base); err != nil {
		client.SendMessage(domain.NewErrorMessage(domain.ErrCodeBadRequest, "malformed frame"))
		return
	}

	if base.Type == domain.MsgTypeAuth {
		wh.handleAuth(client, raw)
		return
	}

	sess := wh.session(client.ID)
	if sess == nil {
		client.SendMessage(domain.NewErrorMessage(domain.ErrCodeUnauthorized, "authenticate first"))
		return
	}

	switch base.Type {
	case domain.MsgTypeOpenThread:
		wh.handleOpenThread(client, sess, raw)
	case domain.MsgTypeCloseThread:
		sess.setOpenThread("")
	case domain.MsgTypeSendMessage:
		wh.handleSend(client, sess, raw)
	case domain.MsgTypeMarkRead:
		wh.handleMarkRead(client, sess, raw)
	case domain.MsgTypePing:
		wh.presence.Heartbeat(context.Background(), sess.userID)
		client.SendMessage(map[string]string{"type": domain.MsgTypePong})
	default:
		client.SendMessage(domain.NewErrorMessage(domain.ErrCodeBadRequest, "unknown message type"))
	}
}

func (wh *WSHandler) handleAuth(client *hub.Client, raw []byte) {
	var msg domain.AuthMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		client.SendMessage(domain.NewErrorMessage(domain.ErrCodeBadRequest, "malformed auth frame"))
		return
	}

	claims, err := wh.tokens.Validate(msg.Token)
	if err != nil {
		client.SendMessage(&domain.AuthResultMessage{
			Type:    domain.MsgTypeAuthResult,
			Success: false,
			Message: "invalid token",
		})
		return
	}

	if existing := wh.session(client.ID); existing != nil {
		// Re-auth on a bound connection is a no-op.
		client.SendMessage(&domain.AuthResultMessage{
			Type:    domain.MsgTypeAuthResult,
			Success: true,
			UserID:  existing.userID,
		})
		return
	}

	wh.hub.Bind(client, claims.UserID)
	if err := wh.presence.GoOnline(context.Background(), claims.UserID); err != nil {
		pkglog.L().Error().Err(err).Str(pkglog.FieldUserID, claims.UserID).Msg("failed to set presence online")
	}

	wh.mu.Lock()
	wh.sessions[client.ID] = &session{userID: claims.UserID}
	ref, attached := wh.rosters[claims.UserID]
	if attached {
		ref.refs++
	} else {
		ref = &rosterRef{
			roster: service.NewRoster(
				claims.UserID, wh.repo, wh.store, wh.bus, wh.rosterTh,
				func(event service.RosterEvent) { wh.forward(claims.UserID, event) },
			),
			refs: 1,
		}
		wh.rosters[claims.UserID] = ref
	}
	wh.mu.Unlock()

	client.SendMessage(&domain.AuthResultMessage{
		Type:    domain.MsgTypeAuthResult,
		Success: true,
		UserID:  claims.UserID,
	})

	if attached {
		// A roster for this user is already live; replay its snapshot so
		// the new session does not wait for the next event.
		if ref.roster.State() == service.RosterReady {
			client.SendMessage(&domain.RosterMessage{
				Type:     domain.MsgTypeRoster,
				Contacts: ref.roster.Contacts(),
			})
		}
	} else {
		go ref.roster.Start(context.Background())
	}

	pkglog.L().Info().
		Str(pkglog.FieldClientID, client.ID).
		Str(pkglog.FieldUserID, claims.UserID).
		Msg("connection authenticated")
}

// forward turns roster events into outbound frames. Delivery goes through
// the hub's user index: the hub goroutine owns every write into client
// send queues, and all active sessions of the user receive the frame.
func (wh *WSHandler) forward(userID string, event service.RosterEvent) {
	switch {
	case event.Snapshot != nil:
		wh.hub.SendToUser(userID, &domain.RosterMessage{Type: domain.MsgTypeRoster, Contacts: event.Snapshot})
	case event.Contact != nil:
		wh.hub.SendToUser(userID, &domain.ContactMessage{Type: domain.MsgTypeContact, Contact: *event.Contact})
	case event.Message != nil:
		wh.hub.SendToUser(userID, &domain.MessageMessage{Type: domain.MsgTypeMessage, Message: *event.Message})
	}
}

func (wh *WSHandler) handleOpenThread(client *hub.Client, sess *session, raw []byte) {
	var msg domain.OpenThreadMessage
	if err := json.Unmarshal(raw, &msg); err != nil || msg.ConversationID == "" {
		client.SendMessage(domain.NewErrorMessage(domain.ErrCodeBadRequest, "malformed open_thread frame"))
		return
	}

	_, messages, err := wh.chat.OpenThread(context.Background(), msg.ConversationID, sess.userID, msg.Limit)
	if err != nil {
		client.SendMessage(domain.NewErrorMessage(errCode(err), "failed to open thread"))
		return
	}

	sess.setOpenThread(msg.ConversationID)
	client.SendMessage(&domain.ThreadMessage{
		Type:           domain.MsgTypeThread,
		ConversationID: msg.ConversationID,
		Messages:       messages,
	})
}

func (wh *WSHandler) handleSend(client *hub.Client, sess *session, raw []byte) {
	var msg domain.SendMessageMessage
	if err := json.Unmarshal(raw, &msg); err != nil || msg.ConversationID == "" {
		client.SendMessage(domain.NewErrorMessage(domain.ErrCodeBadRequest, "malformed send_message frame"))
		return
	}

	created, _, err := wh.chat.Send(context.Background(), msg.ConversationID, sess.userID, msg.Text)
	if err != nil {
		errMsg := domain.NewErrorMessage(errCode(err), err.Error())
		errMsg.Ref = msg.Ref
		client.SendMessage(errMsg)
		return
	}

	client.SendMessage(&domain.SentMessage{
		Type:    domain.MsgTypeSent,
		Ref:     msg.Ref,
		Message: *created,
	})
}

func (wh *WSHandler) handleMarkRead(client *hub.Client, sess *session, raw []byte) {
	var msg domain.MarkReadMessage
	if err := json.Unmarshal(raw, &msg); err != nil || msg.ConversationID == "" {
		client.SendMessage(domain.NewErrorMessage(domain.ErrCodeBadRequest, "malformed mark_read frame"))
		return
	}

	if _, err := wh.chat.MarkRead(context.Background(), msg.ConversationID, sess.userID); err != nil {
		client.SendMessage(domain.NewErrorMessage(errCode(err), "failed to mark read"))
	}
}

func (wh *WSHandler) disconnect(client *hub.Client) {
	wh.mu.Lock()
	sess := wh.sessions[client.ID]
	delete(wh.sessions, client.ID)
	var toClose *service.Roster
	if sess != nil {
		if ref, ok := wh.rosters[sess.userID]; ok {
			ref.refs--
			if ref.refs <= 0 {
				delete(wh.rosters, sess.userID)
				toClose = ref.roster
			}
		}
	}
	wh.mu.Unlock()

	if sess == nil {
		return
	}
	if toClose != nil {
		toClose.Close()
	}
	wh.presence.GoOffline(context.Background(), sess.userID)

	pkglog.L().Info().
		Str(pkglog.FieldClientID, client.ID).
		Str(pkglog.FieldUserID, sess.userID).
		Int("remaining_sessions", wh.hub.UserSessionCount(sess.userID)).
		Msg("connection closed")
}

func (wh *WSHandler) session(clientID string) *session {
	wh.mu.Lock()
	defer wh.mu.Unlock()
	return wh.sessions[clientID]
}

func errCode(err error) string {
	switch {
	case errors.Is(err, service.ErrEmptyMessage):
		return domain.ErrCodeEmptyMessage
	case errors.Is(err, repository.ErrNotParticipant):
		return domain.ErrCodeForbidden
	case errors.Is(err, repository.ErrConversationNotFound):
		return domain.ErrCodeBadRequest
	default:
		return domain.ErrCodeSendFailed
	}
}
