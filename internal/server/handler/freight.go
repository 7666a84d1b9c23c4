package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/freightquote/internal/domain"
	"github.com/alanyoungcy/freightquote/internal/freight"
)

// maxBulkTargets bounds one bulk request; larger batches belong to bulk mode.
const maxBulkTargets = 200

// FreightService is the part of the freight engine the handler needs.
type FreightService interface {
	GetFreightCost(ctx context.Context, listingID, destination string, force bool) (domain.ConsensusResult, error)
	ClearCache(ctx context.Context, listingID string) (int, error)
	Invalidate(ctx context.Context, listingID string) (int64, error)
	History(ctx context.Context, listingID string, opts domain.ListOpts) ([]domain.FreightHistoryRecord, error)
	CalculateAll(ctx context.Context, targets []freight.Target, force bool) ([]freight.BulkResult, error)
}

// FreightHandler serves the freight cost endpoints.
type FreightHandler struct {
	svc    FreightService
	logger *slog.Logger
}

// NewFreightHandler creates a FreightHandler.
func NewFreightHandler(svc FreightService, logger *slog.Logger) *FreightHandler {
	return &FreightHandler{svc: svc, logger: logger.With(slog.String("handler", "freight"))}
}

// GetFreight returns the freight cost for a listing.
// GET /api/freight/{listingID}?destination=01310100&force=true
func (h *FreightHandler) GetFreight(w http.ResponseWriter, r *http.Request) {
	listingID := r.PathValue("listingID")
	destination := r.URL.Query().Get("destination")
	if destination == "" {
		writeError(w, http.StatusBadRequest, "destination query parameter required")
		return
	}

	res, err := h.svc.GetFreightCost(r.Context(), listingID, destination, parseBool(r.URL.Query().Get("force")))
	if err != nil {
		h.fail(w, r, "get freight", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type bulkRequest struct {
	Targets []freight.Target `json:"targets"`
	Force   bool             `json:"force"`
}

type bulkResponse struct {
	Results   []freight.BulkResult `json:"results"`
	Succeeded int                  `json:"succeeded"`
	Failed    int                  `json:"failed"`
}

// CalculateBulk computes freight for a batch of targets.
// POST /api/freight/bulk
func (h *FreightHandler) CalculateBulk(w http.ResponseWriter, r *http.Request) {
	var req bulkRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Targets) == 0 {
		writeError(w, http.StatusBadRequest, "targets must not be empty")
		return
	}
	if len(req.Targets) > maxBulkTargets {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("at most %d targets per request", maxBulkTargets))
		return
	}

	results, err := h.svc.CalculateAll(r.Context(), req.Targets, req.Force)
	if err != nil && len(results) == 0 {
		h.fail(w, r, "bulk calculation", err)
		return
	}

	resp := bulkResponse{Results: results}
	for _, res := range results {
		if res.Error != "" {
			resp.Failed++
		} else {
			resp.Succeeded++
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// ClearCache drops tier-1 entries for one listing or all listings.
// DELETE /api/freight/cache?listing_id=MLB1
func (h *FreightHandler) ClearCache(w http.ResponseWriter, r *http.Request) {
	listingID := strings.TrimSpace(r.URL.Query().Get("listing_id"))
	n, err := h.svc.ClearCache(r.Context(), listingID)
	if err != nil {
		h.fail(w, r, "clear cache", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"listing_id": listingID,
		"cleared":    n,
	})
}

// Invalidate marks a listing's persisted records stale.
// POST /api/freight/{listingID}/invalidate
func (h *FreightHandler) Invalidate(w http.ResponseWriter, r *http.Request) {
	listingID := r.PathValue("listingID")
	n, err := h.svc.Invalidate(r.Context(), listingID)
	if err != nil {
		h.fail(w, r, "invalidate", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"listing_id":  listingID,
		"invalidated": n,
	})
}

type historyResponse struct {
	ListingID string                        `json:"listing_id"`
	Records   []domain.FreightHistoryRecord `json:"records"`
}

// History lists a listing's persisted records, newest first.
// GET /api/freight/{listingID}/history?limit=50&offset=0
func (h *FreightHandler) History(w http.ResponseWriter, r *http.Request) {
	listingID := r.PathValue("listingID")
	recs, err := h.svc.History(r.Context(), listingID, parseListOpts(r))
	if err != nil {
		h.fail(w, r, "history", err)
		return
	}
	if recs == nil {
		recs = []domain.FreightHistoryRecord{}
	}
	writeJSON(w, http.StatusOK, historyResponse{ListingID: listingID, Records: recs})
}

func (h *FreightHandler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), op+" failed", slog.String("error", err.Error()))
	}
	writeError(w, status, err.Error())
}
