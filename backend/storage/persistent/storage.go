package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/terraconnect/terra-connect/backend/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

var (
	ErrNotFound    = errors.New("document not found")
	ErrConflict    = errors.New("already joined")
	ErrForbidden   = errors.New("not the owner of this challenge")
	ErrInvalidID   = errors.New("invalid id")
	ErrEmptyUpdate = errors.New("nothing to update")
)

// DeleteResult represents the result of a deletion operation,
// specifically the count of documents deleted.
type DeleteResult struct {
	DeletedCount int64
}

// UpdateResult represents the result of an update operation,
// specifically the count of documents matched and modified.
type UpdateResult struct {
	MatchedCount  int64
	ModifiedCount int64
}

// StorageInterface defines the set of methods that any persistent storage
// backend needs to implement.
type StorageInterface interface {
	// Establishes a connection to the storage backend.
	Connect(dbName, uri string) error
	// Disconnects from the storage backend.
	Disconnect() error
	// Checks that the storage backend is reachable.
	Ping(ctx context.Context) error

	// Returns every challenge.
	FindChallenges(ctx context.Context) ([]models.Challenge, error)
	// Returns at most limit challenges running on the given ISO day.
	FindActiveChallenges(ctx context.Context, today string, limit int64) ([]models.Challenge, error)
	// Finds one challenge by id.
	FindChallenge(ctx context.Context, id primitive.ObjectID) (*models.Challenge, error)
	// Adds a new challenge.
	AddChallenge(ctx context.Context, challenge *models.Challenge) (*models.Challenge, error)
	// Applies an allow-listed update to a challenge.
	UpdateChallenge(ctx context.Context, id primitive.ObjectID, update *models.ChallengeUpdate) (*UpdateResult, error)
	// Deletes a challenge owned by userEmail.
	DeleteChallenge(ctx context.Context, id primitive.ObjectID, userEmail string) (*DeleteResult, error)
	// Creates a join record for buyerEmail and bumps the participant counter.
	JoinChallenge(ctx context.Context, id primitive.ObjectID, buyerEmail string) (*models.UserChallenge, error)

	// Returns join records, newest first, optionally for one buyer.
	FindUserChallenges(ctx context.Context, buyerEmail string) ([]models.UserChallenge, error)
	// Finds one join record by id.
	FindUserChallenge(ctx context.Context, id primitive.ObjectID) (*models.UserChallenge, error)
	// Reports whether a join record exists for the pair.
	UserChallengeExists(ctx context.Context, buyerEmail, challengeID string) (bool, error)
	// Adds a join record as given.
	AddUserChallenge(ctx context.Context, uc *models.UserChallenge) (*models.UserChallenge, error)
	// Sets the status of a join record.
	UpdateUserChallengeStatus(ctx context.Context, id primitive.ObjectID, status string) (*UpdateResult, error)
	// Deletes a join record by id.
	DeleteUserChallenge(ctx context.Context, id primitive.ObjectID) (*DeleteResult, error)
	// Sums the target of finished join records grouped by impact metric.
	SumFinishedTargets(ctx context.Context) ([]models.MetricTotal, error)

	// Returns every tip as stored.
	FindTips(ctx context.Context) ([]bson.M, error)
	// Returns every event as stored.
	FindEvents(ctx context.Context) ([]bson.M, error)

	// Records an activity delivered by the queue.
	AddActivity(ctx context.Context, activity *models.Activity) (*models.Activity, error)
	// Returns recent activities, newest first, optionally for one buyer.
	FindActivities(ctx context.Context, buyerEmail string, limit int64) ([]models.Activity, error)
}

// NewStorage creates a new StorageInterface with a MongoDB backend,
// using the provided URI to connect to the MongoDB server.
func NewStorage(dbName, uri string) (StorageInterface, error) {
	storage := NewMongoStorage()
	err := storage.Connect(dbName, uri)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	return storage, nil
}

// ParseID converts a hex path parameter into an ObjectID.
func ParseID(hex string) (primitive.ObjectID, error) {
	id, err := primitive.ObjectIDFromHex(hex)
	if err != nil {
		return primitive.NilObjectID, fmt.Errorf("%w: %q", ErrInvalidID, hex)
	}
	return id, nil
}
