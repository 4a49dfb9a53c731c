package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/cryptodash/ticker-relay/pkg/models"
)

const historyPageSize = 100

// Store is the sink's read side; nil when the configured driver cannot
// serve reads (SINK_DRIVER=none).
type Store interface {
	Tokens(ctx context.Context) ([]models.Token, error)
	PriceHistory(ctx context.Context, symbol string, limit int) ([]models.PricePoint, error)
}

// Handler serves the dashboard's read endpoints and the health probe.
type Handler struct {
	store         Store
	upstreamState func() string
	sinkHealthy   func() bool
	logger        *zap.Logger
}

func NewHandler(store Store, upstreamState func() string, sinkHealthy func() bool, logger *zap.Logger) *Handler {
	return &Handler{
		store:         store,
		upstreamState: upstreamState,
		sinkHealthy:   sinkHealthy,
		logger:        logger,
	}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/api/tokens", h.handleTokens)
	mux.HandleFunc("/api/price-history", h.handlePriceHistory)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"upstream": h.upstreamState(),
		"sink":     h.sinkHealthy(),
	})
}

func (h *Handler) handleTokens(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusServiceUnavailable, "persistence is disabled")
		return
	}

	tokens, err := h.store.Tokens(r.Context())
	if err != nil {
		h.logger.Error("Token query failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to fetch tokens")
		return
	}
	if tokens == nil {
		tokens = []models.Token{}
	}
	writeJSON(w, http.StatusOK, tokens)
}

func (h *Handler) handlePriceHistory(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusServiceUnavailable, "persistence is disabled")
		return
	}

	symbol := strings.ToLower(r.URL.Query().Get("symbol"))
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "Symbol parameter is required")
		return
	}

	points, err := h.store.PriceHistory(r.Context(), symbol, historyPageSize)
	if err != nil {
		h.logger.Error("Price history query failed", zap.Error(err), zap.String("symbol", symbol))
		writeError(w, http.StatusInternalServerError, "Failed to fetch price history")
		return
	}
	if points == nil {
		points = []models.PricePoint{}
	}
	writeJSON(w, http.StatusOK, points)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
