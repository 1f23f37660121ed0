package gateway

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/nextlevelbuilder/gobutler/internal/agent"
	"github.com/nextlevelbuilder/gobutler/internal/providers"
	"github.com/nextlevelbuilder/gobutler/internal/store"
)

const maxBodyBytes = 10 << 20 // generous: chat bodies may carry an image

type chatRequest struct {
	UserID  string `json:"user_id"`
	Channel string `json:"channel,omitempty"`
	Message string `json:"message"`
	Image   *struct {
		MediaType string `json:"media_type"`
		Data      string `json:"data"`
	} `json:"image,omitempty"`
}

func (c *chatRequest) turn(defaultChannel string) agent.TurnRequest {
	req := agent.TurnRequest{
		UserID:  c.UserID,
		Channel: c.Channel,
		Message: c.Message,
	}
	if req.Channel == "" {
		req.Channel = defaultChannel
	}
	if c.Image != nil {
		req.Image = &providers.ImageAttachment{MediaType: c.Image.MediaType, Data: c.Image.Data}
	}
	return req
}

func decodeChat(w http.ResponseWriter, r *http.Request) (*chatRequest, bool) {
	var req chatRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return nil, false
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return nil, false
	}
	return &req, true
}

// handleChat is the batch modality: one reply, one JSON response. Plain
// text chat records under the pwa channel unless the client says otherwise.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeChat(w, r)
	if !ok {
		return
	}
	reply, err := s.turns.Chat(r.Context(), req.turn(store.ChannelPWA))
	if err != nil {
		slog.Error("chat failed", "user", req.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "chat failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"reply": reply})
}

// handleChatStream is the voice modality: raw text deltas over SSE.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeChat(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	_, err := s.turns.ChatStream(r.Context(), req.turn(store.ChannelVoice), func(delta string) {
		data, _ := json.Marshal(map[string]string{"text": delta})
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	})
	if err != nil {
		slog.Error("chat stream failed", "user", req.UserID, "error", err)
		data, _ := json.Marshal(map[string]string{"error": "chat failed"})
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
		return
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

// handleWebhook ingests events from the home automation hub. The shared
// secret is required; an unconfigured secret rejects everything.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	secret := s.cfg.Webhook.Secret
	if secret == "" {
		writeError(w, http.StatusServiceUnavailable, "webhook ingestion not configured")
		return
	}
	if r.Header.Get("X-Webhook-Secret") != secret {
		writeError(w, http.StatusUnauthorized, "bad webhook secret")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body failed")
		return
	}
	result, err := s.hooks.Ingest(r.Context(), r.PathValue("source"), body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type userView struct {
	ID          string                  `json:"id"`
	Name        string                  `json:"name"`
	Role        string                  `json:"role"`
	Permissions []string                `json:"permissions"`
	Soul        store.Soul              `json:"soul"`
	NotifyPrefs store.NotificationPrefs `json:"notification_prefs"`
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.users.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list users failed")
		return
	}
	views := make([]userView, 0, len(users))
	for _, u := range users {
		views = append(views, userView{
			ID: u.ID, Name: u.Name, Role: u.Role,
			Permissions: u.Permissions, Soul: u.Soul, NotifyPrefs: u.NotifyPrefs,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": views})
}

// handleUpdateSoul validates against the closed key allowlist before
// writing; unknown keys are rejected, not dropped.
func (s *Server) handleUpdateSoul(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var raw map[string]json.RawMessage
	if err := json.NewDecoder(io.LimitReader(r.Body, 64*1024)).Decode(&raw); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	for key := range raw {
		if !store.SoulKeys[key] {
			writeError(w, http.StatusBadRequest, "unknown soul field "+strconv.Quote(key))
			return
		}
	}
	merged, _ := json.Marshal(raw)
	var soul store.Soul
	if err := json.Unmarshal(merged, &soul); err != nil {
		writeError(w, http.StatusBadRequest, "invalid soul value")
		return
	}
	if err := s.users.UpdateSoul(r.Context(), id, soul); err != nil {
		writeError(w, http.StatusInternalServerError, "update soul failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleUpdatePrefs(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var prefs store.NotificationPrefs
	if err := json.NewDecoder(io.LimitReader(r.Body, 64*1024)).Decode(&prefs); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.users.UpdatePrefs(r.Context(), id, prefs); err != nil {
		writeError(w, http.StatusInternalServerError, "update prefs failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleUserAudit(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	records, err := s.audit.RecentForUser(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "audit lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": records})
}

func (s *Server) handleCreateInvite(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code      string `json:"code"`
		CreatedBy string `json:"created_by"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 4*1024)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Code == "" {
		writeError(w, http.StatusBadRequest, "code is required")
		return
	}
	if err := s.users.CreateInvite(r.Context(), req.Code, req.CreatedBy); err != nil {
		writeError(w, http.StatusInternalServerError, "create invite failed")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "ok"})
}

// handleRegister redeems an invite code and creates the account. The
// invite itself is the credential; no bearer required.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		InviteCode string `json:"invite_code"`
		UserID     string `json:"user_id"`
		Name       string `json:"name"`
		Phone      string `json:"phone"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 4*1024)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.InviteCode == "" || req.UserID == "" {
		writeError(w, http.StatusBadRequest, "invite_code and user_id are required")
		return
	}
	if req.UserID == store.DefaultUserID || req.UserID == store.SystemUserID {
		writeError(w, http.StatusBadRequest, "reserved user id")
		return
	}

	ok, err := s.users.RedeemInvite(r.Context(), req.InviteCode, req.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "redeem invite failed")
		return
	}
	if !ok {
		writeError(w, http.StatusForbidden, "invalid or used invite code")
		return
	}
	if err := s.users.Upsert(r.Context(), &store.User{
		ID:          req.UserID,
		Name:        req.Name,
		Role:        store.RoleUser,
		Phone:       req.Phone,
		NotifyPrefs: store.DefaultNotifyPrefs(),
	}); err != nil {
		writeError(w, http.StatusInternalServerError, "create user failed")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "ok", "user_id": req.UserID})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
