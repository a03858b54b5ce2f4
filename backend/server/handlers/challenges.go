package handlers

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/terraconnect/terra-connect/backend/models"
	"github.com/terraconnect/terra-connect/backend/queue"
	storage "github.com/terraconnect/terra-connect/backend/storage/persistent"
	"github.com/terraconnect/terra-connect/lib/utils"
)

const challengeNotFound = "Challenge not found"

// createChallengeRequest is the body of POST /challenges. Counters and
// timestamps are set by the server.
type createChallengeRequest struct {
	Title        string  `json:"title"`
	Description  string  `json:"description"`
	Category     string  `json:"category"`
	ImageURL     string  `json:"imageUrl"`
	StartDate    string  `json:"startDate"`
	EndDate      string  `json:"endDate"`
	Target       float64 `json:"target"`
	ImpactMetric string  `json:"impactMetric"`
	CreatedBy    string  `json:"createdBy"`
}

// validate checks the request and rewrites its dates to DateLayout.
func (req *createChallengeRequest) validate() error {
	if req.Title == "" {
		return errors.New("title is required")
	}
	start, okStart := models.NormalizeDate(req.StartDate)
	end, okEnd := models.NormalizeDate(req.EndDate)
	if !okStart || !okEnd {
		return errors.New("startDate and endDate must be ISO dates")
	}
	req.StartDate, req.EndDate = start, end
	if req.StartDate > req.EndDate {
		return errors.New("startDate must not be after endDate")
	}
	if req.Target < 0 {
		return errors.New("target must not be negative")
	}
	if req.ImpactMetric == "" {
		return errors.New("impactMetric is required")
	}
	if !utils.ValidateEmail(req.CreatedBy) {
		return errors.New("createdBy must be a valid email")
	}
	return nil
}

// validateChallengeUpdate checks the update and rewrites its dates to DateLayout.
func validateChallengeUpdate(u *models.ChallengeUpdate) error {
	if u.Title != nil && *u.Title == "" {
		return errors.New("title must not be empty")
	}
	if u.StartDate != nil {
		start, ok := models.NormalizeDate(*u.StartDate)
		if !ok {
			return errors.New("startDate must be an ISO date")
		}
		u.StartDate = &start
	}
	if u.EndDate != nil {
		end, ok := models.NormalizeDate(*u.EndDate)
		if !ok {
			return errors.New("endDate must be an ISO date")
		}
		u.EndDate = &end
	}
	if u.StartDate != nil && u.EndDate != nil && *u.StartDate > *u.EndDate {
		return errors.New("startDate must not be after endDate")
	}
	if u.Target != nil && *u.Target < 0 {
		return errors.New("target must not be negative")
	}
	if u.ImpactMetric != nil && *u.ImpactMetric == "" {
		return errors.New("impactMetric must not be empty")
	}
	return nil
}

// GetChallenges returns every challenge.
func (h *Handler) GetChallenges(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.requestContext(r)
	defer cancel()

	challenges, err := h.store.FindChallenges(ctx)
	if err != nil {
		respondWithStoreError(w, err, challengeNotFound)
		return
	}
	respondWithJSON(w, http.StatusOK, challenges)
}

// GetActiveChallenges returns up to six challenges running today (UTC).
func (h *Handler) GetActiveChallenges(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.requestContext(r)
	defer cancel()

	today := h.now().UTC().Format(models.DateLayout)
	challenges, err := h.store.FindActiveChallenges(ctx, today, activeChallengesLimit)
	if err != nil {
		respondWithStoreError(w, err, challengeNotFound)
		return
	}
	respondWithJSON(w, http.StatusOK, challenges)
}

func (h *Handler) GetChallenge(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.requestContext(r)
	defer cancel()

	id, err := storage.ParseID(mux.Vars(r)["id"])
	if err != nil {
		respondWithStoreError(w, err, challengeNotFound)
		return
	}

	challenge, err := h.store.FindChallenge(ctx, id)
	if err != nil {
		respondWithStoreError(w, err, challengeNotFound)
		return
	}
	respondWithJSON(w, http.StatusOK, challenge)
}

// CreateChallenge inserts a challenge and answers with the insert acknowledgement.
func (h *Handler) CreateChallenge(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.requestContext(r)
	defer cancel()

	var req createChallengeRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.CreatedBy = utils.NormalizeEmail(req.CreatedBy)
	if err := req.validate(); err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	challenge, err := h.store.AddChallenge(ctx, &models.Challenge{
		Title:        req.Title,
		Description:  req.Description,
		Category:     req.Category,
		ImageURL:     req.ImageURL,
		StartDate:    req.StartDate,
		EndDate:      req.EndDate,
		Target:       req.Target,
		ImpactMetric: req.ImpactMetric,
		CreatedBy:    req.CreatedBy,
		CreatedAt:    h.now().UTC(),
	})
	if err != nil {
		respondWithStoreError(w, err, challengeNotFound)
		return
	}
	respondWithJSON(w, http.StatusCreated, models.InsertAck{Acknowledged: true, InsertedID: challenge.ID})
}

// UpdateChallenge applies the allow-listed fields of the body. Any other
// field, including participants and createdBy, is rejected.
func (h *Handler) UpdateChallenge(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.requestContext(r)
	defer cancel()

	id, err := storage.ParseID(mux.Vars(r)["id"])
	if err != nil {
		respondWithStoreError(w, err, challengeNotFound)
		return
	}

	var update models.ChallengeUpdate
	if err := decodeJSON(w, r, &update, true); err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := validateChallengeUpdate(&update); err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.store.UpdateChallenge(ctx, id, &update)
	if err != nil {
		respondWithStoreError(w, err, challengeNotFound)
		return
	}
	respondWithJSON(w, http.StatusOK, models.UpdateAck{
		Acknowledged:  true,
		MatchedCount:  result.MatchedCount,
		ModifiedCount: result.ModifiedCount,
	})
}

type deleteChallengeRequest struct {
	UserEmail string `json:"userEmail"`
}

type deleteChallengeResponse struct {
	Message      string `json:"message"`
	DeletedCount int64  `json:"deletedCount"`
}

// DeleteChallenge deletes a challenge when the body's userEmail is its creator.
func (h *Handler) DeleteChallenge(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.requestContext(r)
	defer cancel()

	id, err := storage.ParseID(mux.Vars(r)["id"])
	if err != nil {
		respondWithStoreError(w, err, challengeNotFound)
		return
	}

	var req deleteChallengeRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	result, err := h.store.DeleteChallenge(ctx, id, utils.NormalizeEmail(req.UserEmail))
	if err != nil {
		respondWithStoreError(w, err, challengeNotFound)
		return
	}
	respondWithJSON(w, http.StatusOK, deleteChallengeResponse{
		Message:      "Challenge deleted",
		DeletedCount: result.DeletedCount,
	})
}

type joinChallengeRequest struct {
	BuyerEmail string `json:"buyer_email"`
}

// JoinChallenge creates the caller's join record and bumps the participant counter.
func (h *Handler) JoinChallenge(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.requestContext(r)
	defer cancel()

	id, err := storage.ParseID(mux.Vars(r)["id"])
	if err != nil {
		respondWithStoreError(w, err, challengeNotFound)
		return
	}

	var req joinChallengeRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	email := utils.NormalizeEmail(req.BuyerEmail)
	if !utils.ValidateEmail(email) {
		respondWithError(w, http.StatusBadRequest, "buyer_email must be a valid email")
		return
	}

	uc, err := h.store.JoinChallenge(ctx, id, email)
	if err != nil {
		respondWithStoreError(w, err, challengeNotFound)
		return
	}

	h.publish(ctx, &queue.ActivityMessage{
		Type:         models.ActivityJoined,
		BuyerEmail:   uc.BuyerEmail,
		ChallengeID:  uc.ChallengeID,
		Status:       uc.Status,
		Target:       uc.Target,
		ImpactMetric: uc.ImpactMetric,
	})
	respondWithJSON(w, http.StatusCreated, uc)
}
