package storage

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/terraconnect/terra-connect/backend/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// store is nil when no test database is configured; every test then skips.
var store *MongoStorage

// TestMain connects to the database named by TEST_DB_NAME, runs the tests and drops it.
func TestMain(m *testing.M) {
	_ = godotenv.Load("../../.env")

	mongodbURI := os.Getenv("MONGODB_URI")
	dbName := os.Getenv("TEST_DB_NAME")
	if dbName == "" {
		dbName = fmt.Sprintf("terraConnectTest_%d", time.Now().UnixNano())
	}

	if mongodbURI != "" {
		store = NewMongoStorage()
		if err := store.Connect(dbName, mongodbURI); err != nil {
			panic("Error initializing storage: " + err.Error())
		}
	}

	code := m.Run()

	if store != nil {
		_ = store.client.Database(dbName).Drop(context.Background())
		_ = store.Disconnect()
	}
	os.Exit(code)
}

func requireStore(t *testing.T) {
	t.Helper()
	if store == nil {
		t.Skip("MONGODB_URI not set")
	}
}

func addTestChallenge(t *testing.T, target float64, metric, start, end string) *models.Challenge {
	t.Helper()
	c, err := store.AddChallenge(context.Background(), &models.Challenge{
		Title:        "Test challenge",
		StartDate:    start,
		EndDate:      end,
		Target:       target,
		ImpactMetric: metric,
		CreatedBy:    "owner@example.com",
		Participants: 99,
	})
	require.NoError(t, err)
	return c
}

func TestAddChallengeResetsParticipants(t *testing.T) {
	requireStore(t)
	c := addTestChallenge(t, 5, models.MetricTrees, "2024-01-01", "2024-12-31")

	assert.NotEqual(t, primitive.NilObjectID, c.ID)

	found, err := store.FindChallenge(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, found.Participants)
	assert.False(t, found.CreatedAt.IsZero())
}

func TestFindChallengeNotFound(t *testing.T) {
	requireStore(t)
	_, err := store.FindChallenge(context.Background(), primitive.NewObjectID())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFindActiveChallenges(t *testing.T) {
	requireStore(t)
	ctx := context.Background()
	active := addTestChallenge(t, 1, models.MetricTrees, "2030-03-01", "2030-03-31")
	past := addTestChallenge(t, 1, models.MetricTrees, "2030-01-01", "2030-01-31")

	challenges, err := store.FindActiveChallenges(ctx, "2030-03-15", 6)
	require.NoError(t, err)

	ids := map[primitive.ObjectID]bool{}
	for _, c := range challenges {
		ids[c.ID] = true
	}
	assert.True(t, ids[active.ID])
	assert.False(t, ids[past.ID])
	assert.LessOrEqual(t, len(challenges), 6)
}

func TestUpdateChallengeAllowList(t *testing.T) {
	requireStore(t)
	ctx := context.Background()
	c := addTestChallenge(t, 1, models.MetricTrees, "2024-01-01", "2024-12-31")

	title := "Renamed"
	result, err := store.UpdateChallenge(ctx, c.ID, &models.ChallengeUpdate{Title: &title})
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.MatchedCount)

	found, err := store.FindChallenge(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", found.Title)
	assert.NotNil(t, found.UpdatedAt)

	_, err = store.UpdateChallenge(ctx, c.ID, &models.ChallengeUpdate{})
	assert.ErrorIs(t, err, ErrEmptyUpdate)

	_, err = store.UpdateChallenge(ctx, primitive.NewObjectID(), &models.ChallengeUpdate{Title: &title})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteChallengeOwnership(t *testing.T) {
	requireStore(t)
	ctx := context.Background()
	c := addTestChallenge(t, 1, models.MetricTrees, "2024-01-01", "2024-12-31")

	_, err := store.DeleteChallenge(ctx, c.ID, "someone@example.com")
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = store.FindChallenge(ctx, c.ID)
	require.NoError(t, err, "a forbidden delete must leave the challenge in place")

	result, err := store.DeleteChallenge(ctx, c.ID, "owner@example.com")
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.DeletedCount)

	_, err = store.DeleteChallenge(ctx, c.ID, "owner@example.com")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestJoinChallenge(t *testing.T) {
	requireStore(t)
	ctx := context.Background()
	c := addTestChallenge(t, 10, models.MetricEnergy, "2024-01-01", "2024-12-31")

	uc, err := store.JoinChallenge(ctx, c.ID, "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, models.StatusNotStarted, uc.Status)
	assert.Equal(t, float64(10), uc.Target)
	assert.Equal(t, models.MetricEnergy, uc.ImpactMetric)
	assert.Equal(t, c.ID.Hex(), uc.ChallengeID)

	_, err = store.JoinChallenge(ctx, c.ID, "a@example.com")
	assert.ErrorIs(t, err, ErrConflict)

	found, err := store.FindChallenge(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, found.Participants)

	records, err := store.FindUserChallenges(ctx, "a@example.com")
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestJoinChallengeConcurrent(t *testing.T) {
	requireStore(t)
	ctx := context.Background()
	c := addTestChallenge(t, 3, models.MetricPlastic, "2024-01-01", "2024-12-31")

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = store.JoinChallenge(ctx, c.ID, "racer@example.com")
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, ErrConflict)
		}
	}
	assert.Equal(t, 1, succeeded)

	found, err := store.FindChallenge(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, found.Participants)
}

func TestUserChallengeLifecycle(t *testing.T) {
	requireStore(t)
	ctx := context.Background()
	challengeID := primitive.NewObjectID().Hex()

	first, err := store.AddUserChallenge(ctx, &models.UserChallenge{
		BuyerEmail:   "life@example.com",
		ChallengeID:  challengeID,
		Status:       models.StatusNotStarted,
		Target:       4,
		ImpactMetric: models.MetricTrees,
		JoinDate:     time.Now().UTC(),
	})
	require.NoError(t, err)

	_, err = store.AddUserChallenge(ctx, &models.UserChallenge{
		BuyerEmail:  "life@example.com",
		ChallengeID: challengeID,
	})
	assert.ErrorIs(t, err, ErrConflict)

	exists, err := store.UserChallengeExists(ctx, "life@example.com", challengeID)
	require.NoError(t, err)
	assert.True(t, exists)

	result, err := store.UpdateUserChallengeStatus(ctx, first.ID, models.StatusFinished)
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.ModifiedCount)

	found, err := store.FindUserChallenge(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFinished, found.Status)

	deleted, err := store.DeleteUserChallenge(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted.DeletedCount)

	deleted, err = store.DeleteUserChallenge(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), deleted.DeletedCount)
}

func TestFindUserChallengesSortedByJoinDate(t *testing.T) {
	requireStore(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		_, err := store.AddUserChallenge(ctx, &models.UserChallenge{
			BuyerEmail:  "sorted@example.com",
			ChallengeID: primitive.NewObjectID().Hex(),
			Status:      models.StatusNotStarted,
			JoinDate:    base.Add(time.Duration(i) * time.Hour),
		})
		require.NoError(t, err)
	}

	records, err := store.FindUserChallenges(ctx, "sorted@example.com")
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.True(t, records[0].JoinDate.After(records[1].JoinDate))
	assert.True(t, records[1].JoinDate.After(records[2].JoinDate))
}

func TestSumFinishedTargets(t *testing.T) {
	requireStore(t)
	ctx := context.Background()

	// Start from a clean collection so the sums are exact.
	_, err := store.userChallenges.DeleteMany(ctx, bson.M{})
	require.NoError(t, err)

	records := []models.UserChallenge{
		{Status: models.StatusFinished, ImpactMetric: models.MetricEnergy, Target: 10},
		{Status: models.StatusFinished, ImpactMetric: models.MetricEnergy, Target: 2.5},
		{Status: models.StatusOngoing, ImpactMetric: models.MetricEnergy, Target: 100},
		{Status: models.StatusFinished, ImpactMetric: "unknown", Target: 7},
	}
	for i := range records {
		records[i].BuyerEmail = fmt.Sprintf("sum%d@example.com", i)
		records[i].ChallengeID = primitive.NewObjectID().Hex()
		_, err := store.AddUserChallenge(ctx, &records[i])
		require.NoError(t, err)
	}

	totals, err := store.SumFinishedTargets(ctx)
	require.NoError(t, err)

	byMetric := map[string]float64{}
	for _, total := range totals {
		byMetric[total.ImpactMetric] = total.Total
	}
	assert.Equal(t, 12.5, byMetric[models.MetricEnergy])
	assert.Equal(t, float64(7), byMetric["unknown"])
	assert.Len(t, totals, 2)
}

func TestAddActivityDeduplicates(t *testing.T) {
	requireStore(t)
	ctx := context.Background()
	activity := &models.Activity{
		MessageID:  primitive.NewObjectID().Hex(),
		Type:       models.ActivityJoined,
		BuyerEmail: "feed@example.com",
		Timestamp:  time.Now().UTC(),
	}

	_, err := store.AddActivity(ctx, activity)
	require.NoError(t, err)

	duplicate := *activity
	_, err = store.AddActivity(ctx, &duplicate)
	assert.ErrorIs(t, err, ErrConflict)

	activities, err := store.FindActivities(ctx, "feed@example.com", 10)
	require.NoError(t, err)
	assert.Len(t, activities, 1)
}

func TestDeleteChallengeEmptyEmail(t *testing.T) {
	requireStore(t)
	ctx := context.Background()

	_, err := store.DeleteChallenge(ctx, primitive.NewObjectID(), "")
	assert.ErrorIs(t, err, ErrNotFound)

	c := addTestChallenge(t, 1, models.MetricTrees, "2024-01-01", "2024-12-31")
	_, err = store.DeleteChallenge(ctx, c.ID, "")
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestJoinDeletedChallengeConflicts(t *testing.T) {
	requireStore(t)
	ctx := context.Background()
	gone := primitive.NewObjectID()

	_, err := store.AddUserChallenge(ctx, &models.UserChallenge{
		BuyerEmail:  "gone@example.com",
		ChallengeID: gone.Hex(),
		Status:      models.StatusNotStarted,
	})
	require.NoError(t, err)

	_, err = store.JoinChallenge(ctx, gone, "gone@example.com")
	assert.ErrorIs(t, err, ErrConflict)
}

func TestRemoveJoinRecordAfterCancel(t *testing.T) {
	requireStore(t)

	uc, err := store.AddUserChallenge(context.Background(), &models.UserChallenge{
		BuyerEmail:  "rollback@example.com",
		ChallengeID: primitive.NewObjectID().Hex(),
		Status:      models.StatusNotStarted,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, store.removeJoinRecord(ctx, uc.ID))

	_, err = store.FindUserChallenge(context.Background(), uc.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConnectWithDuplicateJoinRecords(t *testing.T) {
	requireStore(t)
	ctx := context.Background()
	dbName := fmt.Sprintf("terraConnectDupes_%d", time.Now().UnixNano())
	defer store.client.Database(dbName).Drop(ctx)

	records := store.client.Database(dbName).Collection(userChallengesCollection)
	for i := 0; i < 2; i++ {
		_, err := records.InsertOne(ctx, bson.M{"buyer_email": "dupe@example.com", "challenge_id": "c1"})
		require.NoError(t, err)
	}

	legacy := NewMongoStorage()
	require.NoError(t, legacy.Connect(dbName, os.Getenv("MONGODB_URI")))
	defer legacy.Disconnect()

	_, err := legacy.JoinChallenge(ctx, primitive.NewObjectID(), "dupe@example.com")
	assert.ErrorIs(t, err, ErrNotFound)
}
