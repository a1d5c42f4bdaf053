package gateway

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"bizlinkone/backend/internal/platform/rbac"
	"bizlinkone/backend/internal/server/interceptors"
	"bizlinkone/backend/internal/telemetry"

	msgdomain "bizlinkone/backend/internal/message/domain"
	msgrepo "bizlinkone/backend/internal/message/repository"
	wsdomain "bizlinkone/backend/internal/workspace/domain"
)

const maxRequestBody = 64 << 10

type messageRequest struct {
	Body string `json:"body"`
}

type channelRequest struct {
	Name string `json:"name"`
}

// writeAccessError maps rbac failures to HTTP statuses.
func writeAccessError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, rbac.ErrUnauthenticated):
		writeError(w, http.StatusUnauthorized, "missing or invalid authorization")
	case errors.Is(err, rbac.ErrNotMember), errors.Is(err, rbac.ErrNotAdmin):
		writeError(w, http.StatusForbidden, err.Error())
	default:
		log.Printf("gateway: access check: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return false
	}
	return true
}

func (s *Server) listChannels(w http.ResponseWriter, r *http.Request) {
	workspaceID := mux.Vars(r)["workspace"]
	if _, err := rbac.RequireWorkspaceMember(r.Context(), s.deps.Members, workspaceID); err != nil {
		writeAccessError(w, err)
		return
	}
	channels, err := s.deps.Workspaces.ListChannels(r.Context(), workspaceID)
	if err != nil {
		log.Printf("gateway: list channels %s: %v", workspaceID, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if channels == nil {
		channels = []*wsdomain.Channel{}
	}
	writeJSON(w, http.StatusOK, channels)
}

func (s *Server) createChannel(w http.ResponseWriter, r *http.Request) {
	workspaceID := mux.Vars(r)["workspace"]
	if _, err := rbac.RequireWorkspaceAdmin(r.Context(), s.deps.Members, workspaceID); err != nil {
		writeAccessError(w, err)
		return
	}
	var req channelRequest
	if !decodeBody(w, r, &req) {
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		writeError(w, http.StatusBadRequest, "channel name is required")
		return
	}
	ch := &wsdomain.Channel{WorkspaceID: workspaceID, Name: name}
	if err := s.deps.Workspaces.CreateChannel(r.Context(), ch); err != nil {
		log.Printf("gateway: create channel in %s: %v", workspaceID, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusCreated, ch)
}

// channelScope checks membership and channel existence. It writes the response and returns false
// on failure.
func (s *Server) channelScope(w http.ResponseWriter, r *http.Request) (workspaceID, channelID string, ok bool) {
	vars := mux.Vars(r)
	workspaceID, channelID = vars["workspace"], vars["channel"]
	if _, err := rbac.RequireWorkspaceMember(r.Context(), s.deps.Members, workspaceID); err != nil {
		writeAccessError(w, err)
		return "", "", false
	}
	ch, err := s.deps.Workspaces.GetChannel(r.Context(), workspaceID, channelID)
	if err != nil {
		log.Printf("gateway: get channel %s/%s: %v", workspaceID, channelID, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return "", "", false
	}
	if ch == nil {
		writeError(w, http.StatusNotFound, "channel not found")
		return "", "", false
	}
	return workspaceID, channelID, true
}

func (s *Server) listMessages(w http.ResponseWriter, r *http.Request) {
	workspaceID, channelID, ok := s.channelScope(w, r)
	if !ok {
		return
	}
	limit := int32(msgrepo.DefaultListLimit)
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.ParseInt(v, 10, 32)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = int32(n)
	}
	msgs, err := s.deps.Messages.ListByChannel(r.Context(), workspaceID, channelID, limit)
	if err != nil {
		log.Printf("gateway: list messages %s/%s: %v", workspaceID, channelID, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if msgs == nil {
		msgs = []*msgdomain.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (s *Server) createMessage(w http.ResponseWriter, r *http.Request) {
	workspaceID, channelID, ok := s.channelScope(w, r)
	if !ok {
		return
	}
	var req messageRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := msgdomain.ValidateBody(req.Body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	userID, _ := interceptors.GetUserID(r.Context())
	m := &msgdomain.Message{WorkspaceID: workspaceID, ChannelID: channelID, UserID: userID, Body: req.Body}
	if err := s.deps.Messages.Create(r.Context(), m); err != nil {
		log.Printf("gateway: create message in %s/%s: %v", workspaceID, channelID, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.emitWrite(r, m, "create")
	writeJSON(w, http.StatusCreated, m)
}

// authorOrAdmin loads message id and checks the caller may change it: the author, or an admin
// of its workspace.
func (s *Server) authorOrAdmin(w http.ResponseWriter, r *http.Request) (*msgdomain.Message, bool) {
	id := mux.Vars(r)["id"]
	m, err := s.deps.Messages.GetByID(r.Context(), id)
	if err != nil {
		log.Printf("gateway: get message %s: %v", id, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return nil, false
	}
	if m == nil {
		writeError(w, http.StatusNotFound, "message not found")
		return nil, false
	}
	member, err := rbac.RequireWorkspaceMember(r.Context(), s.deps.Members, m.WorkspaceID)
	if err != nil {
		if errors.Is(err, rbac.ErrNotMember) {
			// Do not reveal messages of other workspaces.
			writeError(w, http.StatusNotFound, "message not found")
			return nil, false
		}
		writeAccessError(w, err)
		return nil, false
	}
	if m.UserID != member.UserID && !member.Role.IsAdmin() {
		writeError(w, http.StatusForbidden, "only the author or a workspace admin may change this message")
		return nil, false
	}
	return m, true
}

func (s *Server) updateMessage(w http.ResponseWriter, r *http.Request) {
	m, ok := s.authorOrAdmin(w, r)
	if !ok {
		return
	}
	var req messageRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := msgdomain.ValidateBody(req.Body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	updated, err := s.deps.Messages.UpdateBody(r.Context(), m.ID, req.Body)
	if err != nil {
		log.Printf("gateway: update message %s: %v", m.ID, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if updated == nil {
		writeError(w, http.StatusNotFound, "message not found")
		return
	}
	s.emitWrite(r, updated, "update")
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) deleteMessage(w http.ResponseWriter, r *http.Request) {
	m, ok := s.authorOrAdmin(w, r)
	if !ok {
		return
	}
	deleted, err := s.deps.Messages.Delete(r.Context(), m.ID)
	if err != nil {
		log.Printf("gateway: delete message %s: %v", m.ID, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if deleted == nil {
		writeError(w, http.StatusNotFound, "message not found")
		return
	}
	s.emitWrite(r, deleted, "delete")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) emitWrite(r *http.Request, m *msgdomain.Message, op string) {
	ev := telemetry.NewEvent(telemetry.EventMessageWritten, "gateway", map[string]string{
		"op":         op,
		"message_id": m.ID,
		"channel_id": m.ChannelID,
		"client_ip":  interceptors.ClientIPFromRequest(r),
	})
	ev.WorkspaceID = m.WorkspaceID
	ev.UserID, _ = interceptors.GetUserID(r.Context())
	telemetry.EmitAsync(s.deps.Emitter, r.Context(), ev)
}
