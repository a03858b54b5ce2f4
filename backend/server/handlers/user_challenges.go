package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/terraconnect/terra-connect/backend/models"
	"github.com/terraconnect/terra-connect/backend/queue"
	"github.com/terraconnect/terra-connect/backend/stats"
	storage "github.com/terraconnect/terra-connect/backend/storage/persistent"
	"github.com/terraconnect/terra-connect/lib/utils"
)

const userChallengeNotFound = "User challenge not found"

type userChallengeRequest struct {
	BuyerEmail   string  `json:"buyer_email"`
	ChallengeID  string  `json:"challenge_id"`
	Status       string  `json:"status"`
	Target       float64 `json:"target"`
	ImpactMetric string  `json:"impact_metric"`
}

func (req *userChallengeRequest) validate() error {
	if !utils.ValidateEmail(req.BuyerEmail) {
		return errors.New("buyer_email must be a valid email")
	}
	if req.ChallengeID == "" {
		return errors.New("challenge_id is required")
	}
	if req.Status != "" && !models.ValidStatus(req.Status) {
		return errors.New("status must be one of Not Started, Ongoing, Finished")
	}
	if req.Target < 0 {
		return errors.New("target must not be negative")
	}
	return nil
}

// decodeUserChallenge reads and validates a join record body. It writes the
// 400 response itself and reports whether the caller may continue.
func (h *Handler) decodeUserChallenge(w http.ResponseWriter, r *http.Request) (*models.UserChallenge, bool) {
	var req userChallengeRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	req.BuyerEmail = utils.NormalizeEmail(req.BuyerEmail)
	if err := req.validate(); err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}

	status := req.Status
	if status == "" {
		status = models.StatusNotStarted
	}
	return &models.UserChallenge{
		BuyerEmail:   req.BuyerEmail,
		ChallengeID:  req.ChallengeID,
		Status:       status,
		Target:       req.Target,
		ImpactMetric: req.ImpactMetric,
		JoinDate:     h.now().UTC(),
	}, true
}

// communityStats runs the finished-target aggregation and maps it onto the
// three summary fields.
func (h *Handler) communityStats(ctx context.Context) (models.CommunityStats, error) {
	totals, err := h.store.SumFinishedTargets(ctx)
	if err != nil {
		return models.CommunityStats{}, err
	}
	return stats.Summarize(totals), nil
}

// GetUserChallenges returns join records, newest first. The buyer_email
// query parameter narrows them to one participant.
func (h *Handler) GetUserChallenges(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.requestContext(r)
	defer cancel()

	email := utils.NormalizeEmail(r.URL.Query().Get("buyer_email"))
	records, err := h.store.FindUserChallenges(ctx, email)
	if err != nil {
		respondWithStoreError(w, err, userChallengeNotFound)
		return
	}
	respondWithJSON(w, http.StatusOK, records)
}

type statusRequest struct {
	Status string `json:"status"`
}

type statusResponse struct {
	Result         *models.UpdateAck     `json:"result"`
	CommunityStats models.CommunityStats `json:"communityStats"`
}

// UpdateUserChallengeStatus moves a join record to a new status and answers
// with the refreshed community totals, whether or not the status changed.
func (h *Handler) UpdateUserChallengeStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.requestContext(r)
	defer cancel()

	id, err := storage.ParseID(mux.Vars(r)["id"])
	if err != nil {
		respondWithStoreError(w, err, userChallengeNotFound)
		return
	}

	var req statusRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !models.ValidStatus(req.Status) {
		respondWithError(w, http.StatusBadRequest, "status must be one of Not Started, Ongoing, Finished")
		return
	}

	uc, err := h.store.FindUserChallenge(ctx, id)
	if err != nil {
		respondWithStoreError(w, err, userChallengeNotFound)
		return
	}

	var ack *models.UpdateAck
	if uc.Status != req.Status {
		result, err := h.store.UpdateUserChallengeStatus(ctx, id, req.Status)
		if err != nil {
			respondWithStoreError(w, err, userChallengeNotFound)
			return
		}
		ack = &models.UpdateAck{
			Acknowledged:  true,
			MatchedCount:  result.MatchedCount,
			ModifiedCount: result.ModifiedCount,
		}
	}

	communityStats, err := h.communityStats(ctx)
	if err != nil {
		respondWithStoreError(w, err, userChallengeNotFound)
		return
	}

	if ack != nil {
		h.publish(ctx, &queue.ActivityMessage{
			Type:         models.ActivityStatusChanged,
			BuyerEmail:   uc.BuyerEmail,
			ChallengeID:  uc.ChallengeID,
			Status:       req.Status,
			Target:       uc.Target,
			ImpactMetric: uc.ImpactMetric,
		})
	}
	respondWithJSON(w, http.StatusOK, statusResponse{Result: ack, CommunityStats: communityStats})
}

// CreateUserChallenge inserts a join record as given. The participant counter
// of the challenge is not touched.
func (h *Handler) CreateUserChallenge(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.requestContext(r)
	defer cancel()

	uc, ok := h.decodeUserChallenge(w, r)
	if !ok {
		return
	}

	created, err := h.store.AddUserChallenge(ctx, uc)
	if err != nil {
		respondWithStoreError(w, err, userChallengeNotFound)
		return
	}
	respondWithJSON(w, http.StatusCreated, models.InsertAck{Acknowledged: true, InsertedID: created.ID})
}

// CreateManualUserChallenge inserts a join record unless one already exists
// for the same participant and challenge.
func (h *Handler) CreateManualUserChallenge(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.requestContext(r)
	defer cancel()

	uc, ok := h.decodeUserChallenge(w, r)
	if !ok {
		return
	}

	exists, err := h.store.UserChallengeExists(ctx, uc.BuyerEmail, uc.ChallengeID)
	if err != nil {
		respondWithStoreError(w, err, userChallengeNotFound)
		return
	}
	if exists {
		respondWithStoreError(w, storage.ErrConflict, userChallengeNotFound)
		return
	}

	created, err := h.store.AddUserChallenge(ctx, uc)
	if err != nil {
		respondWithStoreError(w, err, userChallengeNotFound)
		return
	}
	respondWithJSON(w, http.StatusCreated, models.InsertAck{Acknowledged: true, InsertedID: created.ID})
}

type deleteCountResponse struct {
	Message      string `json:"message,omitempty"`
	DeletedCount int64  `json:"deletedCount"`
}

func (h *Handler) DeleteUserChallenge(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.requestContext(r)
	defer cancel()

	id, err := storage.ParseID(mux.Vars(r)["id"])
	if err != nil {
		respondWithStoreError(w, err, userChallengeNotFound)
		return
	}

	result, err := h.store.DeleteUserChallenge(ctx, id)
	if err != nil {
		respondWithStoreError(w, err, userChallengeNotFound)
		return
	}
	if result.DeletedCount == 0 {
		respondWithJSON(w, http.StatusNotFound, deleteCountResponse{Message: userChallengeNotFound})
		return
	}
	respondWithJSON(w, http.StatusOK, deleteCountResponse{DeletedCount: result.DeletedCount})
}
