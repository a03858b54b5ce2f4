package storage

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/terraconnect/terra-connect/backend/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const (
	challengesCollection     = "challenges"
	userChallengesCollection = "userChallenges"
	tipsCollection           = "tips"
	eventsCollection         = "events"
	activitiesCollection     = "activities"

	rollbackTimeout = 5 * time.Second
)

// MongoStorage is a struct representing a MongoDB storage.
// It owns the client and the collection handles used by every request.
type MongoStorage struct {
	client         *mongo.Client
	dbName         string
	challenges     *mongo.Collection
	userChallenges *mongo.Collection
	tips           *mongo.Collection
	events         *mongo.Collection
	activities     *mongo.Collection
}

// NewMongoStorage creates a new instance of MongoStorage.
// This function doesn't establish a connection to the MongoDB server.
// To connect to the server, use the Connect method of the returned MongoStorage instance.
func NewMongoStorage() *MongoStorage {
	return &MongoStorage{}
}

// Connect establishes a connection to the MongoDB server at the given URI and database name,
// pings it and sets up the indexes the queries below rely on.
func (m *MongoStorage) Connect(dbName, uri string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	clientOptions := options.Client().
		ApplyURI(uri).
		SetServerAPIOptions(options.ServerAPI(options.ServerAPIVersion1))
	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return fmt.Errorf("error connecting to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return fmt.Errorf("error pinging MongoDB: %w", err)
	}

	m.client = client
	m.dbName = dbName
	db := client.Database(dbName)
	m.challenges = db.Collection(challengesCollection)
	m.userChallenges = db.Collection(userChallengesCollection)
	m.tips = db.Collection(tipsCollection)
	m.events = db.Collection(eventsCollection)
	m.activities = db.Collection(activitiesCollection)

	return m.createIndexes(ctx)
}

func (m *MongoStorage) createIndexes(ctx context.Context) error {
	// One join record per (buyer_email, challenge_id). This is what makes
	// concurrent joins for the same pair safe. Data that already holds
	// duplicate pairs cannot take the index; the server then keeps running on
	// the pre-insert check alone until the duplicates are removed.
	_, err := m.userChallenges.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "buyer_email", Value: 1},
			{Key: "challenge_id", Value: 1},
		},
		Options: options.Index().SetUnique(true),
	})
	if mongo.IsDuplicateKeyError(err) {
		log.Printf("unique buyer_email and challenge_id index not created, duplicate join records exist: %v", err)
	} else if err != nil {
		return fmt.Errorf("error creating buyer_email and challenge_id index: %w", err)
	}

	// Listing a buyer's join records newest first.
	_, err = m.userChallenges.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "buyer_email", Value: 1},
			{Key: "join_date", Value: -1},
		},
	})
	if err != nil {
		return fmt.Errorf("error creating buyer_email and join_date index: %w", err)
	}

	// The community totals pipeline matches on status before grouping.
	_, err = m.userChallenges.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "status", Value: 1},
			{Key: "impact_metric", Value: 1},
		},
	})
	if err != nil {
		return fmt.Errorf("error creating status and impact_metric index: %w", err)
	}

	_, err = m.challenges.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "startDate", Value: 1},
			{Key: "endDate", Value: 1},
		},
	})
	if err != nil {
		return fmt.Errorf("error creating startDate and endDate index: %w", err)
	}

	// Redelivered queue messages must not produce a second activity.
	_, err = m.activities.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.M{"message_id": 1},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("error creating message_id index: %w", err)
	}

	_, err = m.activities.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "buyer_email", Value: 1},
			{Key: "timestamp", Value: -1},
		},
	})
	if err != nil {
		return fmt.Errorf("error creating buyer_email and timestamp index: %w", err)
	}

	return nil
}

// Disconnect closes the connection to the MongoDB server.
func (m *MongoStorage) Disconnect() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := m.client.Disconnect(ctx); err != nil {
		return fmt.Errorf("error disconnecting from MongoDB: %w", err)
	}
	return nil
}

// Ping checks that the primary is reachable.
func (m *MongoStorage) Ping(ctx context.Context) error {
	return m.client.Ping(ctx, readpref.Primary())
}

// decodeAll drains a cursor into a non-nil slice.
func decodeAll[T any](ctx context.Context, cursor *mongo.Cursor) ([]T, error) {
	defer cursor.Close(ctx)

	results := []T{}
	for cursor.Next(ctx) {
		var item T
		if err := cursor.Decode(&item); err != nil {
			return nil, err
		}
		results = append(results, item)
	}
	if err := cursor.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// FindChallenges returns every document of the 'challenges' collection.
func (m *MongoStorage) FindChallenges(ctx context.Context) ([]models.Challenge, error) {
	cursor, err := m.challenges.Find(ctx, bson.M{})
	if err != nil {
		return nil, err
	}
	return decodeAll[models.Challenge](ctx, cursor)
}

// FindActiveChallenges returns challenges with startDate <= today <= endDate.
// Dates are ISO strings so the comparison is lexicographic.
func (m *MongoStorage) FindActiveChallenges(ctx context.Context, today string, limit int64) ([]models.Challenge, error) {
	filter := bson.M{
		"startDate": bson.M{"$lte": today},
		"endDate":   bson.M{"$gte": today},
	}
	cursor, err := m.challenges.Find(ctx, filter, options.Find().SetLimit(limit))
	if err != nil {
		return nil, err
	}
	return decodeAll[models.Challenge](ctx, cursor)
}

// FindChallenge finds a challenge by id. Returns ErrNotFound when it does not exist.
func (m *MongoStorage) FindChallenge(ctx context.Context, id primitive.ObjectID) (*models.Challenge, error) {
	challenge := &models.Challenge{}
	err := m.challenges.FindOne(ctx, bson.M{"_id": id}).Decode(challenge)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("challenge %s: %w", id.Hex(), ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return challenge, nil
}

// AddChallenge inserts a challenge. The participant counter always starts at zero.
func (m *MongoStorage) AddChallenge(ctx context.Context, challenge *models.Challenge) (*models.Challenge, error) {
	challenge.ID = primitive.NilObjectID
	challenge.Participants = 0
	if challenge.CreatedAt.IsZero() {
		challenge.CreatedAt = time.Now().UTC()
	}
	challenge.UpdatedAt = nil

	result, err := m.challenges.InsertOne(ctx, challenge)
	if err != nil {
		return nil, err
	}
	challenge.ID = result.InsertedID.(primitive.ObjectID)
	return challenge, nil
}

// UpdateChallenge sets the non-nil fields of update and stamps updatedAt.
func (m *MongoStorage) UpdateChallenge(ctx context.Context, id primitive.ObjectID, update *models.ChallengeUpdate) (*UpdateResult, error) {
	set := challengeSetFields(update)
	if len(set) == 0 {
		return nil, ErrEmptyUpdate
	}
	set["updatedAt"] = time.Now().UTC()

	result, err := m.challenges.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": set})
	if err != nil {
		return nil, err
	}
	if result.MatchedCount == 0 {
		return nil, fmt.Errorf("challenge %s: %w", id.Hex(), ErrNotFound)
	}
	return &UpdateResult{MatchedCount: result.MatchedCount, ModifiedCount: result.ModifiedCount}, nil
}

func challengeSetFields(update *models.ChallengeUpdate) bson.M {
	set := bson.M{}
	if update == nil {
		return set
	}
	if update.Title != nil {
		set["title"] = *update.Title
	}
	if update.Description != nil {
		set["description"] = *update.Description
	}
	if update.Category != nil {
		set["category"] = *update.Category
	}
	if update.ImageURL != nil {
		set["imageUrl"] = *update.ImageURL
	}
	if update.StartDate != nil {
		set["startDate"] = *update.StartDate
	}
	if update.EndDate != nil {
		set["endDate"] = *update.EndDate
	}
	if update.Target != nil {
		set["target"] = *update.Target
	}
	if update.ImpactMetric != nil {
		set["impactMetric"] = *update.ImpactMetric
	}
	return set
}

// DeleteChallenge deletes a challenge if userEmail matches its createdBy field.
// A missing challenge is reported before ownership, and an empty userEmail owns nothing.
func (m *MongoStorage) DeleteChallenge(ctx context.Context, id primitive.ObjectID, userEmail string) (*DeleteResult, error) {
	challenge, err := m.FindChallenge(ctx, id)
	if err != nil {
		return nil, err
	}
	if userEmail == "" || challenge.CreatedBy != userEmail {
		return nil, ErrForbidden
	}

	result, err := m.challenges.DeleteOne(ctx, bson.M{"_id": id, "createdBy": userEmail})
	if err != nil {
		return nil, err
	}
	return &DeleteResult{DeletedCount: result.DeletedCount}, nil
}

// JoinChallenge creates a "Not Started" join record carrying a snapshot of the
// challenge target and impact metric, then increments the participant counter.
// An existing join record wins over a missing challenge.
// The unique (buyer_email, challenge_id) index turns a lost race into ErrConflict.
// If the counter cannot be incremented the join record is removed again.
func (m *MongoStorage) JoinChallenge(ctx context.Context, id primitive.ObjectID, buyerEmail string) (*models.UserChallenge, error) {
	exists, err := m.UserChallengeExists(ctx, buyerEmail, id.Hex())
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrConflict
	}

	challenge, err := m.FindChallenge(ctx, id)
	if err != nil {
		return nil, err
	}

	uc := &models.UserChallenge{
		BuyerEmail:   buyerEmail,
		ChallengeID:  id.Hex(),
		Status:       models.StatusNotStarted,
		Target:       challenge.Target,
		ImpactMetric: challenge.ImpactMetric,
		JoinDate:     time.Now().UTC(),
	}
	uc, err = m.AddUserChallenge(ctx, uc)
	if err != nil {
		return nil, err
	}

	result, err := m.challenges.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$inc": bson.M{"participants": 1}})
	if err == nil && result.MatchedCount == 0 {
		err = fmt.Errorf("challenge %s: %w", id.Hex(), ErrNotFound)
	}
	if err != nil {
		if delErr := m.removeJoinRecord(ctx, uc.ID); delErr != nil {
			return nil, fmt.Errorf("error incrementing participants (%v), rollback failed: %w", err, delErr)
		}
		return nil, err
	}

	return uc, nil
}

// removeJoinRecord deletes a join record whose counter increment failed. It
// runs even when ctx is already cancelled or past its deadline.
func (m *MongoStorage) removeJoinRecord(ctx context.Context, id primitive.ObjectID) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rollbackTimeout)
	defer cancel()

	_, err := m.userChallenges.DeleteOne(ctx, bson.M{"_id": id})
	return err
}

// FindUserChallenges returns join records sorted by join_date descending.
// An empty buyerEmail returns every record.
func (m *MongoStorage) FindUserChallenges(ctx context.Context, buyerEmail string) ([]models.UserChallenge, error) {
	filter := bson.M{}
	if buyerEmail != "" {
		filter["buyer_email"] = buyerEmail
	}
	opts := options.Find().SetSort(bson.D{{Key: "join_date", Value: -1}})
	cursor, err := m.userChallenges.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	return decodeAll[models.UserChallenge](ctx, cursor)
}

// FindUserChallenge finds a join record by id. Returns ErrNotFound when it does not exist.
func (m *MongoStorage) FindUserChallenge(ctx context.Context, id primitive.ObjectID) (*models.UserChallenge, error) {
	uc := &models.UserChallenge{}
	err := m.userChallenges.FindOne(ctx, bson.M{"_id": id}).Decode(uc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("user challenge %s: %w", id.Hex(), ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return uc, nil
}

// UserChallengeExists reports whether buyerEmail already has a join record for challengeID.
func (m *MongoStorage) UserChallengeExists(ctx context.Context, buyerEmail, challengeID string) (bool, error) {
	count, err := m.userChallenges.CountDocuments(ctx,
		bson.M{"buyer_email": buyerEmail, "challenge_id": challengeID},
		options.Count().SetLimit(1))
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// AddUserChallenge inserts a join record. A duplicate pair returns ErrConflict.
func (m *MongoStorage) AddUserChallenge(ctx context.Context, uc *models.UserChallenge) (*models.UserChallenge, error) {
	uc.ID = primitive.NilObjectID
	result, err := m.userChallenges.InsertOne(ctx, uc)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, ErrConflict
		}
		return nil, err
	}
	uc.ID = result.InsertedID.(primitive.ObjectID)
	return uc, nil
}

// UpdateUserChallengeStatus sets the status of a join record.
func (m *MongoStorage) UpdateUserChallengeStatus(ctx context.Context, id primitive.ObjectID, status string) (*UpdateResult, error) {
	result, err := m.userChallenges.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{"status": status}})
	if err != nil {
		return nil, err
	}
	if result.MatchedCount == 0 {
		return nil, fmt.Errorf("user challenge %s: %w", id.Hex(), ErrNotFound)
	}
	return &UpdateResult{MatchedCount: result.MatchedCount, ModifiedCount: result.ModifiedCount}, nil
}

// DeleteUserChallenge deletes a join record by id. It does not touch the
// challenge's participant counter.
func (m *MongoStorage) DeleteUserChallenge(ctx context.Context, id primitive.ObjectID) (*DeleteResult, error) {
	result, err := m.userChallenges.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return nil, err
	}
	return &DeleteResult{DeletedCount: result.DeletedCount}, nil
}

// SumFinishedTargets groups finished join records by impact_metric and sums their target.
func (m *MongoStorage) SumFinishedTargets(ctx context.Context) ([]models.MetricTotal, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.D{{Key: "status", Value: models.StatusFinished}}}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$impact_metric"},
			{Key: "total", Value: bson.D{{Key: "$sum", Value: "$target"}}},
		}}},
	}
	cursor, err := m.userChallenges.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	return decodeAll[models.MetricTotal](ctx, cursor)
}

// FindTips returns every tip document unchanged.
func (m *MongoStorage) FindTips(ctx context.Context) ([]bson.M, error) {
	cursor, err := m.tips.Find(ctx, bson.M{})
	if err != nil {
		return nil, err
	}
	return decodeAll[bson.M](ctx, cursor)
}

// FindEvents returns every event document unchanged.
func (m *MongoStorage) FindEvents(ctx context.Context) ([]bson.M, error) {
	cursor, err := m.events.Find(ctx, bson.M{})
	if err != nil {
		return nil, err
	}
	return decodeAll[bson.M](ctx, cursor)
}

// AddActivity records an activity. A message that was already recorded is
// reported as ErrConflict so the consumer can acknowledge it.
func (m *MongoStorage) AddActivity(ctx context.Context, activity *models.Activity) (*models.Activity, error) {
	activity.ID = primitive.NilObjectID
	result, err := m.activities.InsertOne(ctx, activity)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, ErrConflict
		}
		return nil, err
	}
	activity.ID = result.InsertedID.(primitive.ObjectID)
	return activity, nil
}

// FindActivities returns the newest activities, optionally restricted to one buyer.
func (m *MongoStorage) FindActivities(ctx context.Context, buyerEmail string, limit int64) ([]models.Activity, error) {
	filter := bson.M{}
	if buyerEmail != "" {
		filter["buyer_email"] = buyerEmail
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "timestamp", Value: -1}}).
		SetLimit(limit)
	cursor, err := m.activities.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	return decodeAll[models.Activity](ctx, cursor)
}
