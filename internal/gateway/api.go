// ABOUTME: HTTP API handlers for accounts, conversations, history and the assistant
// ABOUTME: JSON request bodies are validated; assistant answers stream back as SSE

package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"

	"github.com/2389/huddle/internal/assistant"
	"github.com/2389/huddle/internal/auth"
	"github.com/2389/huddle/internal/conversation"
	"github.com/2389/huddle/internal/room"
	"github.com/2389/huddle/internal/store"
)

const (
	defaultHistoryLimit = 100
	maxHistoryLimit     = 500
	userSearchLimit     = 20
	maxBodyBytes        = 1 << 20
)

// LoginRequest is the JSON request body for POST /api/auth/login.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// LoginResponse is the JSON response for a successful login or refresh.
type LoginResponse struct {
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	TokenType    string       `json:"token_type"`
	ExpiresIn    int64        `json:"expires_in"`
	User         UserResponse `json:"user"`
}

// SignupRequest is the JSON request body for POST /api/auth/signup.
type SignupRequest struct {
	Username string `json:"username" validate:"required,max=50"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

// SignupResponse is the JSON response for a created account.
type SignupResponse struct {
	User UserResponse `json:"user"`
}

// RefreshRequest is the optional JSON body for refresh and logout.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// UserResponse is the public view of an account.
type UserResponse struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
}

// CreateGroupRequest is the JSON request body for POST /api/groups.
type CreateGroupRequest struct {
	Name    string   `json:"name" validate:"required,max=100"`
	Members []string `json:"members" validate:"dive,len=32,hexadecimal"`
}

// JoinGroupRequest is the JSON request body for POST /api/groups/join.
type JoinGroupRequest struct {
	Name string `json:"name" validate:"required,max=100"`
}

// GroupResponse describes a group.
type GroupResponse struct {
	ID        string   `json:"id"`
	RoomID    string   `json:"room_id"`
	Name      string   `json:"name"`
	Members   []string `json:"members"`
	CreatedAt string   `json:"created_at"`
	Created   bool     `json:"created,omitempty"`
}

// DirectResponse describes a direct conversation from the caller's side.
type DirectResponse struct {
	ID        string `json:"id"`
	RoomID    string `json:"room_id"`
	PeerID    string `json:"peer_id"`
	CreatedAt string `json:"created_at"`
}

// MessageResponse is the JSON form of a logged message.
type MessageResponse struct {
	ID                string `json:"id"`
	RoomID            string `json:"room_id"`
	Seq               int64  `json:"seq"`
	SenderID          string `json:"sender_id"`
	SenderDisplayName string `json:"sender_display_name"`
	Content           string `json:"content"`
	CreatedAt         string `json:"created_at"`
}

// ChatResponse is one entry of GET /api/chats.
type ChatResponse struct {
	RoomID                 string           `json:"room_id"`
	Kind                   room.Kind        `json:"kind"`
	Name                   string           `json:"name"`
	GroupID                string           `json:"group_id,omitempty"`
	PeerID                 string           `json:"peer_id,omitempty"`
	ParticipantDisplayName string           `json:"participant_display_name,omitempty"`
	Members                []string         `json:"members,omitempty"`
	LastMessage            *MessageResponse `json:"last_message"`
}

// RoomMessagesResponse is the JSON response for GET /api/chats/{room_id}/messages.
type RoomMessagesResponse struct {
	RoomID   string            `json:"room_id"`
	Messages []MessageResponse `json:"messages"`
}

// AskRequest is the JSON request body for POST /api/ai.
type AskRequest struct {
	Content string `json:"content" validate:"required,max=8000"`
}

// AssistantEntryResponse is one entry of the assistant history.
type AssistantEntryResponse struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	HTML      string `json:"html,omitempty"`
	CreatedAt string `json:"created_at"`
}

// AssistantHistoryResponse is the JSON response for GET /api/ai/history.
type AssistantHistoryResponse struct {
	UserID    string                   `json:"user_id"`
	Entries   []AssistantEntryResponse `json:"entries"`
	CreatedAt string                   `json:"created_at"`
	UpdatedAt string                   `json:"updated_at"`
}

// newValidator reports request fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decodeRequest parses a JSON body into dst and validates it.
func (g *Gateway) decodeRequest(r *http.Request, dst any) error {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(dst); err != nil {
		return errors.New("invalid JSON body")
	}
	if err := g.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			if fe.Tag() == "required" {
				return fmt.Errorf("%s is required", fe.Field())
			}
			return fmt.Errorf("%s is invalid", fe.Field())
		}
		return err
	}
	return nil
}

// sendJSON writes v as a JSON response.
func (g *Gateway) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Debug("failed to write response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	g.sendJSON(w, status, map[string]string{"error": message})
}

// sendDomainError maps directory and authority errors to HTTP statuses.
func (g *Gateway) sendDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, conversation.ErrGroupNotFound),
		errors.Is(err, conversation.ErrConversationNotFound):
		g.sendJSONError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, conversation.ErrNotAMember),
		errors.Is(err, conversation.ErrNotAParticipant):
		g.sendJSONError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, conversation.ErrInvalidRoom),
		errors.Is(err, conversation.ErrInvalidName):
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
	default:
		g.logger.Error("request failed", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal_error")
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func toMessageResponse(m *store.Message) MessageResponse {
	return MessageResponse{
		ID:                m.ID,
		RoomID:            m.RoomID,
		Seq:               m.Seq,
		SenderID:          m.SenderID,
		SenderDisplayName: m.SenderDisplayName,
		Content:           m.Content,
		CreatedAt:         formatTime(m.CreatedAt),
	}
}

func toGroupResponse(grp *store.Group) GroupResponse {
	return GroupResponse{
		ID:        grp.ID,
		RoomID:    room.Group(grp.ID).String(),
		Name:      grp.Name,
		Members:   grp.Members,
		CreatedAt: formatTime(grp.CreatedAt),
	}
}

// principal returns the caller attached by the auth middleware.
func principal(r *http.Request) auth.Principal {
	p, _ := auth.FromContext(r.Context())
	return p
}

// handleSignup handles POST /api/auth/signup.
func (g *Gateway) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if err := g.decodeRequest(r, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		g.logger.Error("failed to hash password", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal_error")
		return
	}
	user := &store.User{
		ID:           store.NewID(),
		Username:     strings.TrimSpace(req.Username),
		Email:        req.Email,
		PasswordHash: hash,
		CreatedAt:    time.Now(),
	}
	if err := g.store.CreateUser(r.Context(), user); err != nil {
		if errors.Is(err, store.ErrDuplicateEmail) {
			g.sendJSONError(w, http.StatusConflict, "email_taken")
			return
		}
		g.logger.Error("failed to create user", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal_error")
		return
	}

	g.logger.Info("user signed up", "user_id", user.ID)
	g.sendJSON(w, http.StatusCreated, SignupResponse{
		User: UserResponse{ID: user.ID, Username: user.Username, Email: strings.ToLower(user.Email)},
	})
}

// handleLogin exchanges email and password for an access token and a
// refresh token, returned both in the body and as HttpOnly cookies.
func (g *Gateway) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := g.decodeRequest(r, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	user, err := g.store.GetUserByEmail(r.Context(), req.Email)
	if errors.Is(err, store.ErrNotFound) {
		g.sendJSONError(w, http.StatusUnauthorized, "invalid_credentials")
		return
	}
	if err != nil {
		g.logger.Error("failed to look up user", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal_error")
		return
	}
	if err := auth.CheckPassword(user.PasswordHash, req.Password); err != nil {
		g.sendJSONError(w, http.StatusUnauthorized, "invalid_credentials")
		return
	}

	resp, err := g.issueSession(w, r, user)
	if err != nil {
		g.logger.Error("failed to issue session", "user_id", user.ID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal_error")
		return
	}
	g.logger.Info("user logged in", "user_id", user.ID)
	g.sendJSON(w, http.StatusOK, resp)
}

// handleRefresh trades a refresh token for a new access token. The
// presented refresh token is consumed and a replacement is issued.
func (g *Gateway) handleRefresh(w http.ResponseWriter, r *http.Request) {
	token := g.refreshTokenFrom(r)
	if token == "" {
		g.sendJSONError(w, http.StatusUnauthorized, "invalid_refresh")
		return
	}

	sess, err := g.store.ConsumeRefreshSession(r.Context(), auth.HashRefreshToken(token))
	if errors.Is(err, store.ErrNotFound) {
		g.sendJSONError(w, http.StatusUnauthorized, "invalid_refresh")
		return
	}
	if err != nil {
		g.logger.Error("failed to consume refresh token", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal_error")
		return
	}

	user, err := g.store.GetUser(r.Context(), sess.UserID)
	if errors.Is(err, store.ErrNotFound) {
		g.sendJSONError(w, http.StatusUnauthorized, "invalid_refresh")
		return
	}
	if err != nil {
		g.logger.Error("failed to look up user", "user_id", sess.UserID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal_error")
		return
	}

	resp, err := g.issueSession(w, r, user)
	if err != nil {
		g.logger.Error("failed to issue session", "user_id", user.ID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal_error")
		return
	}
	g.logger.Debug("refreshed session", "user_id", user.ID)
	g.sendJSON(w, http.StatusOK, resp)
}

// handleLogout revokes the presented refresh token and clears both cookies.
func (g *Gateway) handleLogout(w http.ResponseWriter, r *http.Request) {
	if token := g.refreshTokenFrom(r); token != "" {
		_, err := g.store.ConsumeRefreshSession(r.Context(), auth.HashRefreshToken(token))
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			g.logger.Error("failed to revoke refresh token", "error", err)
			g.sendJSONError(w, http.StatusInternalServerError, "internal_error")
			return
		}
	}

	for _, name := range []string{g.config.Auth.CookieName, g.config.Auth.RefreshCookieName} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   r.TLS != nil,
			SameSite: http.SameSiteLaxMode,
		})
	}
	w.WriteHeader(http.StatusNoContent)
}

// issueSession mints an access token and a stored refresh token for user
// and sets both cookies.
func (g *Gateway) issueSession(w http.ResponseWriter, r *http.Request, user *store.User) (LoginResponse, error) {
	accessTTL := g.config.Auth.AccessTokenTTL
	access, err := g.verifier.Generate(user.ID, accessTTL)
	if err != nil {
		return LoginResponse{}, fmt.Errorf("access token: %w", err)
	}

	refreshTTL := g.config.Auth.RefreshTokenTTL
	refresh, digest, err := auth.NewRefreshToken()
	if err != nil {
		return LoginResponse{}, err
	}
	now := time.Now()
	if err := g.store.CreateRefreshSession(r.Context(), &store.RefreshSession{
		TokenHash: digest,
		UserID:    user.ID,
		CreatedAt: now,
		ExpiresAt: now.Add(refreshTTL),
	}); err != nil {
		return LoginResponse{}, fmt.Errorf("refresh session: %w", err)
	}

	g.setTokenCookie(w, r, g.config.Auth.CookieName, access, accessTTL)
	g.setTokenCookie(w, r, g.config.Auth.RefreshCookieName, refresh, refreshTTL)
	return LoginResponse{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "bearer",
		ExpiresIn:    int64(accessTTL.Seconds()),
		User:         UserResponse{ID: user.ID, Username: user.Username, Email: user.Email},
	}, nil
}

func (g *Gateway) setTokenCookie(w http.ResponseWriter, r *http.Request, name, value string, ttl time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
}

// refreshTokenFrom reads the refresh token from a JSON body, falling back to
// the refresh cookie. An empty or malformed body is not an error.
func (g *Gateway) refreshTokenFrom(r *http.Request) string {
	var req RefreshRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err == nil && req.RefreshToken != "" {
		return req.RefreshToken
	}
	if c, err := r.Cookie(g.config.Auth.RefreshCookieName); err == nil {
		return c.Value
	}
	return ""
}

func (g *Gateway) handleMe(w http.ResponseWriter, r *http.Request) {
	g.sendJSON(w, http.StatusOK, principal(r))
}

// handleSearchUsers handles GET /api/users/search?q=.
func (g *Gateway) handleSearchUsers(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		g.sendJSONError(w, http.StatusBadRequest, "q is required")
		return
	}

	users, err := g.store.SearchUsers(r.Context(), q, principal(r).ID, userSearchLimit)
	if err != nil {
		g.sendDomainError(w, err)
		return
	}
	g.sendJSON(w, http.StatusOK, lo.Map(users, func(u *store.User, _ int) UserResponse {
		return UserResponse{ID: u.ID, Username: u.Username}
	}))
}

// handleCreateGroup handles POST /api/groups. The creator is always a member.
func (g *Gateway) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	var req CreateGroupRequest
	if err := g.decodeRequest(r, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	for _, id := range lo.Uniq(req.Members) {
		if _, err := g.store.GetUser(r.Context(), id); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				g.sendJSONError(w, http.StatusBadRequest, "unknown member "+id)
				return
			}
			g.sendDomainError(w, err)
			return
		}
	}

	grp, err := g.directory.CreateGroup(r.Context(), req.Name, principal(r).ID, req.Members)
	if err != nil {
		g.sendDomainError(w, err)
		return
	}
	g.sendJSON(w, http.StatusCreated, toGroupResponse(grp))
}

// handleJoinGroup handles POST /api/groups/join, creating the group if no
// group has the name yet.
func (g *Gateway) handleJoinGroup(w http.ResponseWriter, r *http.Request) {
	var req JoinGroupRequest
	if err := g.decodeRequest(r, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	grp, created, err := g.directory.FindOrCreateGroupByName(r.Context(), req.Name, principal(r).ID)
	if err != nil {
		g.sendDomainError(w, err)
		return
	}

	resp := toGroupResponse(grp)
	resp.Created = created
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	g.sendJSON(w, status, resp)
}

func (g *Gateway) handleGetGroup(w http.ResponseWriter, r *http.Request) {
	grp, err := g.directory.GetGroup(r.Context(), r.PathValue("id"), principal(r).ID)
	if err != nil {
		g.sendDomainError(w, err)
		return
	}
	g.sendJSON(w, http.StatusOK, toGroupResponse(grp))
}

func (g *Gateway) handleDeleteGroup(w http.ResponseWriter, r *http.Request) {
	if err := g.directory.DeleteGroup(r.Context(), r.PathValue("id"), principal(r).ID); err != nil {
		g.sendDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleEnsureDM handles POST /api/dm/{other_id}.
func (g *Gateway) handleEnsureDM(w http.ResponseWriter, r *http.Request) {
	me := principal(r).ID
	other := r.PathValue("other_id")
	if !store.ValidID(other) {
		g.sendJSONError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	if _, err := g.store.GetUser(r.Context(), other); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			g.sendJSONError(w, http.StatusNotFound, "user_not_found")
			return
		}
		g.sendDomainError(w, err)
		return
	}

	dc, err := g.directory.EnsureDM(r.Context(), me, other)
	if err != nil {
		g.sendDomainError(w, err)
		return
	}
	g.sendJSON(w, http.StatusOK, DirectResponse{
		ID:        dc.ID,
		RoomID:    conversation.CanonicalDMID(me, other),
		PeerID:    other,
		CreatedAt: formatTime(dc.CreatedAt),
	})
}

func (g *Gateway) handleDeleteDM(w http.ResponseWriter, r *http.Request) {
	other := r.PathValue("other_id")
	if !store.ValidID(other) {
		g.sendJSONError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	if err := g.directory.DeleteDM(r.Context(), principal(r).ID, other); err != nil {
		g.sendDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleListChats handles GET /api/chats.
func (g *Gateway) handleListChats(w http.ResponseWriter, r *http.Request) {
	chats, err := g.directory.ListChats(r.Context(), principal(r).ID)
	if err != nil {
		g.sendDomainError(w, err)
		return
	}

	resp := lo.Map(chats, func(c conversation.ChatSummary, _ int) ChatResponse {
		out := ChatResponse{
			RoomID:  c.RoomID,
			Kind:    c.Kind,
			Name:    c.Name,
			GroupID: c.GroupID,
			PeerID:  c.PeerID,
			Members: c.Members,
		}
		if c.Kind == room.KindDirect {
			out.ParticipantDisplayName = c.Name
		}
		if c.LastMessage != nil {
			m := toMessageResponse(c.LastMessage)
			out.LastMessage = &m
		}
		return out
	})
	g.sendJSON(w, http.StatusOK, resp)
}

// handleRoomMessages handles GET /api/chats/{room_id}/messages?limit=.
// Reading history needs the same right as joining the room.
func (g *Gateway) handleRoomMessages(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			g.sendJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	roomID, err := room.Canonicalize(r.PathValue("room_id"))
	if err != nil {
		g.sendDomainError(w, conversation.ErrInvalidRoom)
		return
	}
	if err := g.authority.Authorize(r.Context(), principal(r), roomID, conversation.ActionJoin); err != nil {
		g.sendDomainError(w, err)
		return
	}

	msgs, err := g.store.ListMessages(r.Context(), roomID, limit)
	if err != nil {
		g.sendDomainError(w, err)
		return
	}
	g.sendJSON(w, http.StatusOK, RoomMessagesResponse{
		RoomID: roomID,
		Messages: lo.Map(msgs, func(m *store.Message, _ int) MessageResponse {
			return toMessageResponse(m)
		}),
	})
}

// assistantReady writes 503 and returns false when no model is configured.
func (g *Gateway) assistantReady(w http.ResponseWriter) bool {
	if g.pipeline == nil {
		g.sendJSONError(w, http.StatusServiceUnavailable, "assistant_disabled")
		return false
	}
	return true
}

// handleAssistantHistory handles GET /api/ai/history[?render=html].
// History is served from the store when no model is configured.
func (g *Gateway) handleAssistantHistory(w http.ResponseWriter, r *http.Request) {
	userID := principal(r).ID
	var (
		sess *store.AssistantSession
		err  error
	)
	if g.pipeline != nil {
		sess, err = g.pipeline.History(r.Context(), userID)
	} else {
		sess, err = g.store.GetOrCreateAssistantSession(r.Context(), userID)
	}
	if err != nil {
		g.sendDomainError(w, err)
		return
	}

	renderHTML := r.URL.Query().Get("render") == "html"
	entries := make([]AssistantEntryResponse, 0, len(sess.Entries))
	for _, e := range sess.Entries {
		entry := AssistantEntryResponse{
			Role:      string(e.Role),
			Content:   e.Content,
			CreatedAt: formatTime(e.CreatedAt),
		}
		if renderHTML && e.Role == store.RoleAssistant {
			html, err := renderMarkdown(e.Content)
			if err != nil {
				g.logger.Warn("failed to render assistant entry", "error", err)
			} else {
				entry.HTML = html
			}
		}
		entries = append(entries, entry)
	}

	g.sendJSON(w, http.StatusOK, AssistantHistoryResponse{
		UserID:    sess.UserID,
		Entries:   entries,
		CreatedAt: formatTime(sess.CreatedAt),
		UpdatedAt: formatTime(sess.UpdatedAt),
	})
}

func (g *Gateway) handleResetAssistant(w http.ResponseWriter, r *http.Request) {
	userID := principal(r).ID
	var err error
	if g.pipeline != nil {
		err = g.pipeline.Reset(r.Context(), userID)
	} else {
		err = g.store.ClearAssistantSession(r.Context(), userID)
	}
	if err != nil {
		g.sendDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleAsk handles POST /api/ai and streams the turn as SSE:
// started, intent, text..., then done or error.
func (g *Gateway) handleAsk(w http.ResponseWriter, r *http.Request) {
	if !g.assistantReady(w) {
		return
	}
	var req AskRequest
	if err := g.decodeRequest(r, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		g.logger.Error("streaming not supported")
		g.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	userID := principal(r).ID
	events, err := g.pipeline.Run(r.Context(), userID, req.Content)
	if errors.Is(err, assistant.ErrEmptyUtterance) {
		g.sendJSONError(w, http.StatusBadRequest, "content is required")
		return
	}
	if err != nil {
		g.sendDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	g.writeSSEEvent(w, "started", map[string]string{})
	flusher.Flush()

	failed := false
	for ev := range events {
		switch ev.Kind {
		case assistant.EventIntent:
			g.logger.Debug("assistant intent", "user_id", userID, "intent", ev.Intent)
			g.writeSSEEvent(w, "intent", map[string]string{"intent": string(ev.Intent)})
		case assistant.EventText:
			g.writeSSEEvent(w, "text", map[string]string{"text": ev.Text})
		case assistant.EventError:
			failed = true
			g.writeSSEEvent(w, "error", map[string]string{"error": assistantReason(ev.Err)})
		}
		flusher.Flush()
	}

	if !failed && r.Context().Err() == nil {
		g.writeSSEEvent(w, "done", map[string]string{})
		flusher.Flush()
	}
}

// assistantReason maps pipeline failures to stable client-facing strings.
func assistantReason(err error) string {
	switch {
	case errors.Is(err, assistant.ErrSearch):
		return "search_failed"
	case errors.Is(err, assistant.ErrGeneration):
		return "generation_failed"
	case errors.Is(err, assistant.ErrHistory):
		return "history_unavailable"
	default:
		return "internal_error"
	}
}

// writeSSEEvent writes a single SSE event to the response writer.
func (g *Gateway) writeSSEEvent(w http.ResponseWriter, event string, data any) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		g.logger.Error("failed to marshal SSE data", "error", err)
		return
	}

	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", dataJSON)
}
