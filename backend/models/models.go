package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Join record states.
const (
	StatusNotStarted = "Not Started"
	StatusOngoing    = "Ongoing"
	StatusFinished   = "Finished"
)

// Impact metric labels that the community totals know about.
const (
	MetricPlastic = "kg plastic saved"
	MetricEnergy  = "kWh saved"
	MetricTrees   = "Trees Planted"
)

// Activity types published on the activity queue.
const (
	ActivityJoined        = "challenge_joined"
	ActivityStatusChanged = "challenge_status_changed"
)

// DateLayout is the ISO date layout used for challenge start and end dates.
const DateLayout = "2006-01-02"

type Challenge struct {
	ID           primitive.ObjectID `bson:"_id,omitempty" json:"_id"`
	Title        string             `bson:"title" json:"title"`
	Description  string             `bson:"description,omitempty" json:"description,omitempty"`
	Category     string             `bson:"category,omitempty" json:"category,omitempty"`
	ImageURL     string             `bson:"imageUrl,omitempty" json:"imageUrl,omitempty"`
	StartDate    string             `bson:"startDate" json:"startDate"`
	EndDate      string             `bson:"endDate" json:"endDate"`
	Target       float64            `bson:"target" json:"target"`
	ImpactMetric string             `bson:"impactMetric" json:"impactMetric"`
	Participants int                `bson:"participants" json:"participants"`
	CreatedBy    string             `bson:"createdBy" json:"createdBy"`
	CreatedAt    time.Time          `bson:"createdAt" json:"createdAt"`
	UpdatedAt    *time.Time         `bson:"updatedAt,omitempty" json:"updatedAt,omitempty"`
}

// ChallengeUpdate lists the only fields a PATCH may touch. Nil fields are left alone.
type ChallengeUpdate struct {
	Title        *string  `json:"title"`
	Description  *string  `json:"description"`
	Category     *string  `json:"category"`
	ImageURL     *string  `json:"imageUrl"`
	StartDate    *string  `json:"startDate"`
	EndDate      *string  `json:"endDate"`
	Target       *float64 `json:"target"`
	ImpactMetric *string  `json:"impactMetric"`
}

// UserChallenge is one participant's join record. Target and ImpactMetric are
// copied from the challenge when the record is created.
type UserChallenge struct {
	ID           primitive.ObjectID `bson:"_id,omitempty" json:"_id"`
	BuyerEmail   string             `bson:"buyer_email" json:"buyer_email"`
	ChallengeID  string             `bson:"challenge_id" json:"challenge_id"`
	Status       string             `bson:"status" json:"status"`
	Target       float64            `bson:"target" json:"target"`
	ImpactMetric string             `bson:"impact_metric" json:"impact_metric"`
	JoinDate     time.Time          `bson:"join_date" json:"join_date"`
}

// MetricTotal is one group of the finished-target aggregation.
type MetricTotal struct {
	ImpactMetric string  `bson:"_id" json:"impactMetric"`
	Total        float64 `bson:"total" json:"total"`
}

type CommunityStats struct {
	PlasticSaved float64 `json:"plasticSaved"`
	KwhSaved     float64 `json:"kwhSaved"`
	TreesPlanted float64 `json:"treesPlanted"`
}

type Activity struct {
	ID           primitive.ObjectID `bson:"_id,omitempty" json:"_id"`
	MessageID    string             `bson:"message_id" json:"message_id"`
	Type         string             `bson:"type" json:"type"`
	BuyerEmail   string             `bson:"buyer_email" json:"buyer_email"`
	ChallengeID  string             `bson:"challenge_id" json:"challenge_id"`
	Status       string             `bson:"status,omitempty" json:"status,omitempty"`
	Target       float64            `bson:"target" json:"target"`
	ImpactMetric string             `bson:"impact_metric" json:"impact_metric"`
	Timestamp    time.Time          `bson:"timestamp" json:"timestamp"`
}

// InsertAck mirrors the acknowledgement returned by the store on insert.
type InsertAck struct {
	Acknowledged bool               `json:"acknowledged"`
	InsertedID   primitive.ObjectID `json:"insertedId"`
}

type UpdateAck struct {
	Acknowledged  bool  `json:"acknowledged"`
	MatchedCount  int64 `json:"matchedCount"`
	ModifiedCount int64 `json:"modifiedCount"`
}

// ValidStatus reports whether s is one of the three join record states.
func ValidStatus(s string) bool {
	switch s {
	case StatusNotStarted, StatusOngoing, StatusFinished:
		return true
	}
	return false
}

// ValidDate accepts a plain ISO date or a full RFC3339 timestamp.
func ValidDate(s string) bool {
	_, ok := NormalizeDate(s)
	return ok
}

// NormalizeDate converts a plain ISO date or an RFC3339 timestamp to the UTC
// day in DateLayout, the form challenge dates are stored and compared in.
func NormalizeDate(s string) (string, bool) {
	if t, err := time.Parse(DateLayout, s); err == nil {
		return t.Format(DateLayout), true
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return "", false
	}
	return t.UTC().Format(DateLayout), true
}
