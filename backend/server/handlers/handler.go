package handlers

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/terraconnect/terra-connect/backend/queue"
	storage "github.com/terraconnect/terra-connect/backend/storage/persistent"
)

const (
	activeChallengesLimit = 6
	activitiesLimit       = 50
	requestTimeout        = 5 * time.Second
)

// Publisher sends activity messages. *queue.Queue implements it.
type Publisher interface {
	PublishActivity(ctx context.Context, message *queue.ActivityMessage) error
}

// Handler serves every endpoint from one injected store.
type Handler struct {
	store     storage.StorageInterface
	publisher Publisher
	now       func() time.Time
	timeout   time.Duration
}

// Option configures a Handler.
type Option func(*Handler)

// WithPublisher enables activity publishing.
func WithPublisher(p Publisher) Option {
	return func(h *Handler) { h.publisher = p }
}

// WithClock replaces time.Now, used to decide which challenges are active.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) { h.now = now }
}

func New(store storage.StorageInterface, opts ...Option) *Handler {
	h := &Handler{
		store:   store,
		now:     time.Now,
		timeout: requestTimeout,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes attaches every endpoint to r. Literal paths are registered
// before the ones with an {id} variable.
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/", h.Root).Methods(http.MethodGet)
	r.HandleFunc("/health", h.Health).Methods(http.MethodGet)

	r.HandleFunc("/challenges", h.GetChallenges).Methods(http.MethodGet)
	r.HandleFunc("/challenges", h.CreateChallenge).Methods(http.MethodPost)
	r.HandleFunc("/challenges/active", h.GetActiveChallenges).Methods(http.MethodGet)
	r.HandleFunc("/challenges/join/{id}", h.JoinChallenge).Methods(http.MethodPost)
	r.HandleFunc("/challenges/{id}", h.GetChallenge).Methods(http.MethodGet)
	r.HandleFunc("/challenges/{id}", h.UpdateChallenge).Methods(http.MethodPatch)
	r.HandleFunc("/challenges/{id}", h.DeleteChallenge).Methods(http.MethodDelete)

	r.HandleFunc("/user-challenges", h.GetUserChallenges).Methods(http.MethodGet)
	r.HandleFunc("/user-challenges", h.CreateUserChallenge).Methods(http.MethodPost)
	r.HandleFunc("/user-challenges/manual", h.CreateManualUserChallenge).Methods(http.MethodPost)
	r.HandleFunc("/user-challenges/{id}", h.UpdateUserChallengeStatus).Methods(http.MethodPatch)
	r.HandleFunc("/user-challenges/{id}", h.DeleteUserChallenge).Methods(http.MethodDelete)

	r.HandleFunc("/tips", h.GetTips).Methods(http.MethodGet)
	r.HandleFunc("/events", h.GetEvents).Methods(http.MethodGet)
	r.HandleFunc("/community-totals", h.GetCommunityTotals).Methods(http.MethodGet)
	r.HandleFunc("/activities", h.GetActivities).Methods(http.MethodGet)
}

func (h *Handler) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), h.timeout)
}

// publish hands message to the queue if one is configured. Failures are
// logged and never fail the request.
func (h *Handler) publish(ctx context.Context, message *queue.ActivityMessage) {
	if h.publisher == nil {
		return
	}
	if err := h.publisher.PublishActivity(ctx, message); err != nil {
		log.Printf("failed to publish %s activity: %v", message.Type, err)
	}
}
