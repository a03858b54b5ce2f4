package handlers

import (
	"log"
	"net/http"

	"github.com/terraconnect/terra-connect/lib/utils"
)

func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Terra Connect server is running"))
}

// Health pings the store.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.requestContext(r)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		log.Printf("health check failed: %v", err)
		respondWithJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) GetTips(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.requestContext(r)
	defer cancel()

	tips, err := h.store.FindTips(ctx)
	if err != nil {
		respondWithStoreError(w, err, "Tip not found")
		return
	}
	respondWithJSON(w, http.StatusOK, tips)
}

func (h *Handler) GetEvents(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.requestContext(r)
	defer cancel()

	events, err := h.store.FindEvents(ctx)
	if err != nil {
		respondWithStoreError(w, err, "Event not found")
		return
	}
	respondWithJSON(w, http.StatusOK, events)
}

// GetCommunityTotals sums the targets of every finished join record per impact metric.
func (h *Handler) GetCommunityTotals(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.requestContext(r)
	defer cancel()

	communityStats, err := h.communityStats(ctx)
	if err != nil {
		respondWithStoreError(w, err, "Totals not found")
		return
	}
	respondWithJSON(w, http.StatusOK, communityStats)
}

// GetActivities returns the most recent activity records written by the
// queue consumer, optionally for one buyer.
func (h *Handler) GetActivities(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.requestContext(r)
	defer cancel()

	email := utils.NormalizeEmail(r.URL.Query().Get("buyer_email"))
	activities, err := h.store.FindActivities(ctx, email, activitiesLimit)
	if err != nil {
		respondWithStoreError(w, err, "Activity not found")
		return
	}
	respondWithJSON(w, http.StatusOK, activities)
}
