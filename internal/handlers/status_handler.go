package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	qrcode "github.com/skip2/go-qrcode"
	"github.com/smartspot/parking/internal/services"
	"github.com/smartspot/parking/internal/store"
)

// StatusHandler exposes the read-only operator surface: facility occupancy,
// session lookups, balances, audit tail and exit receipts.
type StatusHandler struct {
	occupancy *services.OccupancyService
	sessions  *services.SessionService
	ledger    *services.LedgerService
	audit     *services.AuditService
}

func NewStatusHandler(occupancy *services.OccupancyService, sessions *services.SessionService, ledger *services.LedgerService, audit *services.AuditService) *StatusHandler {
	return &StatusHandler{
		occupancy: occupancy,
		sessions:  sessions,
		ledger:    ledger,
		audit:     audit,
	}
}

type statusResponse struct {
	Available int             `json:"available"`
	Slots     map[string]bool `json:"slots"` // true means free
	Timestamp time.Time       `json:"timestamp"`
}

// GetStatus returns the facility-wide occupancy snapshot.
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	state, err := h.occupancy.Snapshot(r.Context())
	if err != nil {
		h.sendError(w, err)
		return
	}
	writeJSON(w, statusResponse{
		Available: state.Available,
		Slots:     state.Free,
		Timestamp: time.Now().UTC(),
	})
}

// GetSession returns the active session for a user.
func (h *StatusHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	publicID := chi.URLParam(r, "publicId")
	session, err := h.sessions.ActiveSession(r.Context(), publicID)
	if err != nil {
		h.sendError(w, err)
		return
	}
	writeJSON(w, map[string]any{
		"public_id":  session.PublicID,
		"status":     session.Status,
		"entry_time": session.EntryTime,
	})
}

// GetHistory returns every session for a user, newest entry first.
func (h *StatusHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	publicID := chi.URLParam(r, "publicId")
	sessions, err := h.sessions.History(r.Context(), publicID)
	if err != nil {
		h.sendError(w, err)
		return
	}
	items := make([]map[string]any, 0, len(sessions))
	for _, s := range sessions {
		item := map[string]any{
			"public_id":  s.PublicID,
			"status":     s.Status,
			"entry_time": s.EntryTime,
		}
		if s.ExitTime != nil {
			item["exit_time"] = s.ExitTime
		}
		if s.FeeCharged != nil {
			item["fee_charged"] = s.FeeCharged
		}
		items = append(items, item)
	}
	writeJSON(w, map[string]any{"sessions": items, "count": len(items)})
}

// GetBalance returns the wallet balance for a user.
func (h *StatusHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	publicID := chi.URLParam(r, "publicId")
	balance, err := h.ledger.GetBalance(r.Context(), publicID)
	if err != nil {
		h.sendError(w, err)
		return
	}
	writeJSON(w, map[string]any{"public_id": publicID, "balance": balance})
}

// GetReceipt renders the user's latest settled session as a QR code PNG.
func (h *StatusHandler) GetReceipt(w http.ResponseWriter, r *http.Request) {
	publicID := chi.URLParam(r, "publicId")
	session, err := h.sessions.LatestCompleted(r.Context(), publicID)
	if err != nil {
		if errors.Is(err, services.ErrNoActiveSession) {
			services.SendErrorResponse(w, "No completed parking session found", http.StatusNotFound, nil)
			return
		}
		h.sendError(w, err)
		return
	}

	payload, err := json.Marshal(map[string]any{
		"public_id":  session.PublicID,
		"entry_time": session.EntryTime,
		"exit_time":  session.ExitTime,
		"fee":        session.FeeCharged,
	})
	if err != nil {
		h.sendError(w, err)
		return
	}
	png, err := qrcode.Encode(string(payload), qrcode.Medium, 256)
	if err != nil {
		h.sendError(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Write(png)
}

// GetLogs returns the most recent audit entries, newest first.
func (h *StatusHandler) GetLogs(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 500 {
			services.SendErrorResponse(w, "limit must be an integer between 1 and 500", http.StatusBadRequest, nil)
			return
		}
		limit = n
	}
	entries, err := h.audit.Tail(r.Context(), limit)
	if err != nil {
		h.sendError(w, err)
		return
	}
	writeJSON(w, map[string]any{"entries": entries, "count": len(entries)})
}

// sendError maps service errors onto HTTP statuses.
func (h *StatusHandler) sendError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrInvalidIdentifier):
		services.SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
	case errors.Is(err, services.ErrAccountNotFound),
		errors.Is(err, services.ErrNoActiveSession),
		errors.Is(err, store.ErrNotFound):
		services.SendErrorResponse(w, err.Error(), http.StatusNotFound, nil)
	case errors.Is(err, services.ErrDuplicateAccount),
		errors.Is(err, services.ErrMultipleActiveSessions):
		services.SendErrorResponse(w, err.Error(), http.StatusConflict, nil)
	case errors.Is(err, store.ErrConflict), errors.Is(err, store.ErrUnavailable):
		services.SendErrorResponse(w, "Store temporarily unavailable, try again", http.StatusServiceUnavailable, nil)
	default:
		log.Printf("[API] Internal error: %v", err)
		services.SendErrorResponse(w, "An Internal Error Occurred", http.StatusInternalServerError, nil)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
