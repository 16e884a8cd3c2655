package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/astroniennn/com7-queue-flow/internal/models"
	"github.com/astroniennn/com7-queue-flow/internal/queue"
	"github.com/astroniennn/com7-queue-flow/internal/store"
	"github.com/astroniennn/com7-queue-flow/internal/watch"

	"github.com/google/uuid"
)

type PositionResolver interface {
	Resolve(ctx context.Context, ticketNumber int) (queue.Position, error)
}

type Handler struct {
	store    store.TicketStore
	resolver PositionResolver
}

func NewHandler(ticketStore store.TicketStore, resolver PositionResolver) *Handler {
	return &Handler{store: ticketStore, resolver: resolver}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/api/tickets", h.handleRegister)
	mux.HandleFunc("/api/tickets/lookup", h.handleLookup)
	mux.HandleFunc("/api/tickets/", h.handleTicketSubtree)
	mux.HandleFunc("/api/queue", h.handleQueue)
	mux.HandleFunc("/api/services", h.handleServices)
	mux.HandleFunc("/api/services/", h.handleServiceByID)
	mux.HandleFunc("/api/sounds", h.handleSounds)
	mux.HandleFunc("/api/stats/summary", h.handleStatsSummary)
	return mux
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
}

type registerRequest struct {
	RequestID string `json:"request_id"`
	Name      string `json:"name"`
	Phone     string `json:"phone"`
	ServiceID string `json:"service_id"`
}

type errorResponse struct {
	RequestID string        `json:"request_id"`
	Error     responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ticketResponse adds the derived queue position; position is never
// persisted, so it is attached at read time for waiting tickets.
type ticketResponse struct {
	models.Ticket
	Position             int `json:"position,omitempty"`
	RemainingWaitMinutes int `json:"remaining_wait_minutes,omitempty"`
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req registerRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	req.RequestID = strings.TrimSpace(req.RequestID)
	req.Name = strings.TrimSpace(req.Name)
	req.Phone = strings.TrimSpace(req.Phone)
	req.ServiceID = strings.TrimSpace(req.ServiceID)

	if req.Name == "" || req.Phone == "" || req.ServiceID == "" {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "name, phone, and service_id are required")
		return
	}
	if !isValidUUID(req.ServiceID) {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "service_id must be a UUID")
		return
	}
	if req.RequestID != "" && !isValidUUID(req.RequestID) {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "request_id must be a UUID when provided")
		return
	}

	ticket, err := h.store.RegisterTicket(r.Context(), store.RegisterTicketInput{
		RequestID:    req.RequestID,
		Name:         req.Name,
		Phone:        req.Phone,
		ServiceID:    req.ServiceID,
		RegisteredAt: time.Now().UTC(),
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, req.RequestID, status, code, msg)
		return
	}

	writeJSON(w, http.StatusOK, h.withPosition(r.Context(), ticket))
}

func (h *Handler) handleLookup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	phone := strings.TrimSpace(r.URL.Query().Get("phone"))
	if phone == "" {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "phone is required")
		return
	}

	ticket, err := h.store.FindTicketByPhone(r.Context(), phone)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}

	writeJSON(w, http.StatusOK, h.withPosition(r.Context(), ticket))
}

func (h *Handler) handleTicketSubtree(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/tickets/")
	parts := strings.Split(strings.Trim(path, "/"), "/")

	number, err := strconv.Atoi(parts[0])
	if err != nil || number <= 0 {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "ticket number must be a positive integer")
		return
	}

	switch {
	case len(parts) == 1:
		h.handleGetTicket(w, r, number)
	case len(parts) == 2 && parts[1] == "position":
		h.handlePosition(w, r, number)
	case len(parts) == 3 && parts[1] == "actions":
		h.handleAction(w, r, number, parts[2])
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleGetTicket(w http.ResponseWriter, r *http.Request, number int) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ticket, err := h.store.GetTicket(r.Context(), number)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}

	writeJSON(w, http.StatusOK, h.withPosition(r.Context(), ticket))
}

func (h *Handler) handlePosition(w http.ResponseWriter, r *http.Request, number int) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	pos, err := h.resolver.Resolve(r.Context(), number)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ticket_number":          pos.TicketNumber,
		"position":               pos.Position,
		"status":                 pos.Status,
		"estimated_wait_minutes": pos.EstimatedWaitMinutes,
		"remaining_wait_minutes": int(pos.RemainingWait.Minutes()),
	})
}

type actionRequest struct {
	RequestID string `json:"request_id"`
}

func (h *Handler) handleAction(w http.ResponseWriter, r *http.Request, number int, action string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if _, ok := store.TargetStatus(action); !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	var req actionRequest
	if r.Body != nil && r.ContentLength != 0 {
		decoder := json.NewDecoder(r.Body)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&req); err != nil {
			writeError(w, "", http.StatusBadRequest, "invalid_json", "invalid JSON payload")
			return
		}
	}
	req.RequestID = strings.TrimSpace(req.RequestID)
	if req.RequestID != "" && !isValidUUID(req.RequestID) {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "request_id must be a UUID when provided")
		return
	}

	ticket, err := h.store.ApplyAction(r.Context(), store.StatusActionInput{
		RequestID:    req.RequestID,
		TicketNumber: number,
		Action:       action,
		OccurredAt:   time.Now().UTC(),
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, req.RequestID, status, code, msg)
		return
	}

	writeJSON(w, http.StatusOK, ticket)
}

func (h *Handler) handleQueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var status models.Status
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		parsed, err := models.ParseStatus(raw)
		if err != nil {
			writeError(w, "", http.StatusBadRequest, "invalid_request", "unknown status filter")
			return
		}
		status = parsed
	}

	tickets, err := h.store.ListTickets(r.Context(), status)
	if err != nil {
		s, code, msg := mapError(err)
		writeError(w, "", s, code, msg)
		return
	}

	counts := map[models.Status]int{}
	for _, ticket := range tickets {
		counts[ticket.Status]++
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tickets": tickets,
		"counts":  counts,
	})
}

type serviceRequest struct {
	Name                 string `json:"name"`
	EstimatedWaitMinutes int    `json:"estimated_wait_minutes"`
	Active               *bool  `json:"active"`
}

func (h *Handler) handleServices(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		activeOnly := r.URL.Query().Get("active") == "true"
		services, err := h.store.ListServices(r.Context(), activeOnly)
		if err != nil {
			status, code, msg := mapError(err)
			writeError(w, "", status, code, msg)
			return
		}
		writeJSON(w, http.StatusOK, services)
	case http.MethodPost:
		input, ok := decodeServiceRequest(w, r)
		if !ok {
			return
		}
		service, err := h.store.CreateService(r.Context(), input)
		if err != nil {
			status, code, msg := mapError(err)
			writeError(w, "", status, code, msg)
			return
		}
		writeJSON(w, http.StatusOK, service)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleServiceByID(w http.ResponseWriter, r *http.Request) {
	serviceID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/services/"), "/")
	if !isValidUUID(serviceID) {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "service_id must be a UUID")
		return
	}

	switch r.Method {
	case http.MethodPut:
		input, ok := decodeServiceRequest(w, r)
		if !ok {
			return
		}
		service, err := h.store.UpdateService(r.Context(), serviceID, input)
		if err != nil {
			status, code, msg := mapError(err)
			writeError(w, "", status, code, msg)
			return
		}
		writeJSON(w, http.StatusOK, service)
	case http.MethodDelete:
		if err := h.store.DeleteService(r.Context(), serviceID); err != nil {
			status, code, msg := mapError(err)
			writeError(w, "", status, code, msg)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func decodeServiceRequest(w http.ResponseWriter, r *http.Request) (store.ServiceInput, bool) {
	var req serviceRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, "", http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return store.ServiceInput{}, false
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "name is required")
		return store.ServiceInput{}, false
	}
	if req.EstimatedWaitMinutes <= 0 {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "estimated_wait_minutes must be positive")
		return store.ServiceInput{}, false
	}
	active := true
	if req.Active != nil {
		active = *req.Active
	}
	return store.ServiceInput{
		Name:                 req.Name,
		EstimatedWaitMinutes: req.EstimatedWaitMinutes,
		Active:               active,
	}, true
}

func (h *Handler) handleSounds(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	urls := watch.ResolveSoundURLs(r.Context(), h.store)
	writeJSON(w, http.StatusOK, map[string]string{
		"almost":  urls[models.StatusAlmost],
		"serving": urls[models.StatusServing],
	})
}

func (h *Handler) handleStatsSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	now := time.Now().UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	summary, err := h.store.GetStatsSummary(r.Context(), dayStart)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

// withPosition attaches the derived position for waiting tickets. A
// failed resolution is logged and the ticket returned without a
// position rather than failing the whole read.
func (h *Handler) withPosition(ctx context.Context, ticket models.Ticket) ticketResponse {
	resp := ticketResponse{Ticket: ticket}
	if ticket.Status != models.StatusWaiting {
		return resp
	}
	pos, err := h.resolver.Resolve(ctx, ticket.TicketNumber)
	if err != nil {
		log.Printf("position resolve error ticket=%d: %v", ticket.TicketNumber, err)
		return resp
	}
	resp.Position = pos.Position
	resp.RemainingWaitMinutes = int(pos.RemainingWait.Minutes())
	return resp
}

func isValidUUID(value string) bool {
	_, err := uuid.Parse(value)
	return err == nil
}

func mapError(err error) (int, string, string) {
	switch {
	case errors.Is(err, store.ErrTicketNotFound):
		return http.StatusNotFound, "ticket_not_found", "ticket not found"
	case errors.Is(err, store.ErrServiceNotFound):
		return http.StatusNotFound, "service_not_found", "service not found"
	case errors.Is(err, store.ErrInvalidState):
		return http.StatusConflict, "invalid_state", "ticket state does not allow this action"
	case errors.Is(err, store.ErrUnavailable):
		return http.StatusServiceUnavailable, "backend_unavailable", "backend temporarily unavailable"
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

func writeError(w http.ResponseWriter, requestID string, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		RequestID: requestID,
		Error: responseError{
			Code:    code,
			Message: message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
