package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/webitel/device-gateway-service/internal/domain/model"
	"github.com/webitel/device-gateway-service/internal/service"
	"github.com/webitel/device-gateway-service/internal/service/dto"
)

// Handler is the REST control surface over the gateway service.
type Handler struct {
	logger    *slog.Logger
	commander service.Commander
}

func NewHandler(logger *slog.Logger, commander service.Commander) *Handler {
	return &Handler{logger: logger, commander: commander}
}

// Routes builds the API router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/devices", h.listDevices)
		r.Route("/devices/{device}", func(r chi.Router) {
			r.Get("/stats", h.stats)
			r.Post("/commands", h.submit)
			r.Delete("/commands", h.cancelSweep)
			r.Get("/commands/{id}", h.recentCompletion)
			r.Delete("/commands/{id}", h.cancelCommand)
			r.Route("/transactions", func(r chi.Router) {
				r.Post("/", h.beginTransaction)
				r.Post("/{txn}/commands", h.addTransactionCommand)
				r.Post("/{txn}/commit", h.commitTransaction)
				r.Delete("/{txn}", h.cancelTransaction)
			})
		})
	})
	return r
}

func (h *Handler) listDevices(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.commander.Devices())
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	snap, err := h.commander.Stats(chi.URLParam(r, "device"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	var req dto.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, model.ErrInvalidParameter)
		return
	}
	resp, err := h.commander.Submit(r.Context(), chi.URLParam(r, "device"), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	status := http.StatusAccepted
	if req.WaitMS > 0 {
		status = http.StatusOK
	}
	h.writeJSON(w, status, resp)
}

func (h *Handler) recentCompletion(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	payload, err := h.commander.RecentCompletion(chi.URLParam(r, "device"), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, payload)
}

func (h *Handler) cancelCommand(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.commander.CancelCommand(chi.URLParam(r, "device"), id); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) cancelSweep(w http.ResponseWriter, r *http.Request) {
	var olderThan time.Duration
	if raw := r.URL.Query().Get("older_than_ms"); raw != "" {
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || ms < 0 {
			h.writeError(w, model.ErrInvalidParameter)
			return
		}
		olderThan = time.Duration(ms) * time.Millisecond
	}

	n, err := h.commander.CancelSweep(chi.URLParam(r, "device"), r.URL.Query().Get("kind"), olderThan)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, dto.CancelSweepResponse{Cancelled: n})
}

func (h *Handler) beginTransaction(w http.ResponseWriter, r *http.Request) {
	var req dto.BeginTransactionRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.writeError(w, model.ErrInvalidParameter)
			return
		}
	}
	id, err := h.commander.BeginTransaction(chi.URLParam(r, "device"), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, dto.BeginTransactionResponse{TransactionID: id})
}

func (h *Handler) addTransactionCommand(w http.ResponseWriter, r *http.Request) {
	txn, err := parseID(chi.URLParam(r, "txn"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	var req dto.TransactionCommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, model.ErrInvalidParameter)
		return
	}
	if err := h.commander.AddTransactionCommand(chi.URLParam(r, "device"), txn, req); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) commitTransaction(w http.ResponseWriter, r *http.Request) {
	txn, err := parseID(chi.URLParam(r, "txn"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.commander.CommitTransaction(chi.URLParam(r, "device"), txn); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) cancelTransaction(w http.ResponseWriter, r *http.Request) {
	txn, err := parseID(chi.URLParam(r, "txn"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.commander.CancelTransaction(chi.URLParam(r, "device"), txn); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func parseID(raw string) (uint64, error) {
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, model.ErrInvalidParameter
	}
	return id, nil
}

type errorBody struct {
	Error string `json:"error"`
	Class string `json:"class"`
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	class := model.Classify(err)
	h.writeJSON(w, statusOf(class), errorBody{Error: err.Error(), Class: class.String()})
}

// statusOf maps the engine error taxonomy onto HTTP.
func statusOf(class model.Class) int {
	switch class {
	case model.ClassNotFound:
		return http.StatusNotFound
	case model.ClassInvalidParameter:
		return http.StatusBadRequest
	case model.ClassInvalidState:
		return http.StatusConflict
	case model.ClassQueueFull:
		return http.StatusTooManyRequests
	case model.ClassTimeout:
		return http.StatusGatewayTimeout
	case model.ClassCancelled:
		return http.StatusConflict
	case model.ClassLinkFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Warn("response encode failed", "error", err)
	}
}
