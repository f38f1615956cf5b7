package httpserver

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/wireadmit/wireguard-provisioning-backend/interfaces"
	"github.com/wireadmit/wireguard-provisioning-backend/provisioner"
)

// Handler binds the provisioning service to the HTTP API.
type Handler struct {
	service *provisioner.Service
	log     *slog.Logger
}

// NewHandler creates an API handler around the provisioning service.
func NewHandler(service *provisioner.Service, log *slog.Logger) *Handler {
	return &Handler{service: service, log: log}
}

// RegisterRequest is the body of POST /api/v1/register.
type RegisterRequest struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
	Session  string `json:"session"`
}

// ConfigRequest is the body of POST /api/v1/peers/{user_id}/config.
type ConfigRequest struct {
	Session string `json:"session"`
}

// DecisionRequest is the body of POST /api/v1/admin/decision.
type DecisionRequest struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
	Approve  bool   `json:"approve"`
}

// PeerSummary is the admin listing view of one peer. Private keys are
// never included.
type PeerSummary struct {
	UserID      int64  `json:"user_id"`
	Username    string `json:"username"`
	State       string `json:"state"`
	Address     string `json:"address,omitempty"`
	PublicKey   string `json:"public_key,omitempty"`
	Provisioned bool   `json:"provisioned"`
}

// ListResponse is the body of GET /api/v1/admin/peers.
type ListResponse struct {
	Count int           `json:"count"`
	Peers []PeerSummary `json:"peers"`
}

type statusResponse struct {
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// HandleRegister accepts a member registration request and forwards it
// to the administrator.
func (h *Handler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	msg, err := h.service.HandleRegister(r.Context(),
		interfaces.UserID(req.UserID),
		interfaces.Username(req.Username),
		interfaces.SessionHandle(req.Session))
	if err != nil {
		h.writeServiceError(w, r, err, msg)
		return
	}
	writeJSON(w, http.StatusAccepted, statusResponse{Status: msg})
}

// HandleConfigRequest provisions the peer and delivers the rendered
// config to the requester's session.
func (h *Handler) HandleConfigRequest(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed user ID")
		return
	}

	var req ConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	result, err := h.service.HandleConfigRequest(r.Context(), userID, interfaces.SessionHandle(req.Session))
	if err != nil {
		h.writeServiceError(w, r, err, "")
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "delivered", Detail: result.ArtifactPath})
}

// HandleDecision resolves a pending registration request.
func (h *Handler) HandleDecision(w http.ResponseWriter, r *http.Request) {
	var req DecisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	err := h.service.HandleAdminDecision(r.Context(), req.Approve,
		interfaces.UserID(req.UserID), interfaces.Username(req.Username))
	if err != nil {
		h.writeServiceError(w, r, err, "")
		return
	}

	status := "rejected"
	if req.Approve {
		status = "approved"
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: status})
}

// HandleRemove revokes a peer's grant and deletes its record. The caller
// may pass the member's session as a query parameter to have the removal
// announced to them.
func (h *Handler) HandleRemove(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed user ID")
		return
	}

	session := interfaces.SessionHandle(r.URL.Query().Get("session"))
	if err := h.service.HandleRemove(r.Context(), userID, session); err != nil {
		h.writeServiceError(w, r, err, "")
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "removed"})
}

// HandleList returns every durable peer record.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	peers, count, err := h.service.ListPeers(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err, "")
		return
	}

	resp := ListResponse{Count: count, Peers: make([]PeerSummary, 0, len(peers))}
	for _, peer := range peers {
		summary := PeerSummary{
			UserID:      int64(peer.UserID),
			Username:    peer.Username.String(),
			State:       peer.State.String(),
			Provisioned: peer.Provisioned(),
		}
		if peer.Provisioned() {
			summary.Address = peer.Address.String()
			summary.PublicKey = peer.Keypair.PublicKey
		}
		resp.Peers = append(resp.Peers, summary)
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleHelp returns the quick-start text.
func (h *Handler) HandleHelp(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(h.service.Help()))
}

// writeServiceError maps the service error taxonomy onto HTTP statuses.
// Internal failure details stay in the log; clients get the kind only.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error, detail string) {
	var status int
	switch {
	case errors.Is(err, interfaces.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, interfaces.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, interfaces.ErrAlreadyPending),
		errors.Is(err, interfaces.ErrAlreadyRegistered),
		errors.Is(err, interfaces.ErrDuplicatePeer):
		status = http.StatusConflict
	default:
		status = http.StatusInternalServerError
	}

	if status == http.StatusInternalServerError {
		h.log.Error("Request failed",
			slog.String("path", r.URL.Path),
			"err", err)
		writeError(w, status, "internal error")
		return
	}

	if detail == "" {
		detail = errorKind(err)
	}
	writeError(w, status, detail)
}

// errorKind returns the taxonomy name of the error for client responses.
func errorKind(err error) string {
	switch {
	case errors.Is(err, interfaces.ErrValidation):
		return "validation failed"
	case errors.Is(err, interfaces.ErrNotFound):
		return "not found"
	case errors.Is(err, interfaces.ErrAlreadyPending):
		return "request already pending"
	case errors.Is(err, interfaces.ErrAlreadyRegistered):
		return "already registered"
	case errors.Is(err, interfaces.ErrDuplicatePeer):
		return "duplicate peer"
	default:
		return "internal error"
	}
}

func userIDParam(r *http.Request) (interfaces.UserID, error) {
	raw := chi.URLParam(r, "user_id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, err
	}
	return interfaces.UserID(id), nil
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, statusResponse{Status: "error", Detail: detail})
}
