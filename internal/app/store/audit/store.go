// internal/app/store/audit/store.go
package audit

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Event categories
const (
	CategoryAdmin   = "admin"
	CategorySharing = "sharing"
)

// Admin event types
const (
	EventAccountCreated       = "account_created"
	EventQuotaChanged         = "quota_changed"
	EventAccountStatusChanged = "account_status_changed"
	EventRoleChanged          = "role_changed"
	EventQuotaReconciled      = "quota_reconciled"
	EventAPIKeyCreated        = "apikey_created"
	EventAPIKeyRevoked        = "apikey_revoked"
)

// Sharing event types
const (
	EventShareGranted      = "share_granted"
	EventShareUpdated      = "share_updated"
	EventShareRevoked      = "share_revoked"
	EventPublicLinkCreated = "public_link_created"
	EventPublicLinkRevoked = "public_link_revoked"
)

// Event is one audit record.
type Event struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	CreatedAt time.Time          `bson:"created_at" json:"created_at"`

	Category  string `bson:"category" json:"category"`
	EventType string `bson:"event_type" json:"event_type"`

	// AccountID is the account the event is about; ActorID performed it.
	AccountID *primitive.ObjectID `bson:"account_id,omitempty" json:"account_id,omitempty"`
	ActorID   *primitive.ObjectID `bson:"actor_id,omitempty" json:"actor_id,omitempty"`
	ItemID    *primitive.ObjectID `bson:"item_id,omitempty" json:"item_id,omitempty"`

	IP        string `bson:"ip" json:"ip"`
	UserAgent string `bson:"user_agent,omitempty" json:"user_agent,omitempty"`

	Success       bool   `bson:"success" json:"success"`
	FailureReason string `bson:"failure_reason,omitempty" json:"failure_reason,omitempty"`

	Details map[string]string `bson:"details,omitempty" json:"details,omitempty"`
}

// QueryFilter narrows Query and Count. Zero fields match everything.
type QueryFilter struct {
	AccountID *primitive.ObjectID
	ActorID   *primitive.ObjectID
	ItemID    *primitive.ObjectID
	Category  string
	EventType string
	StartTime *time.Time
	EndTime   *time.Time
	Limit     int64
	Offset    int64
}

// Store manages audit event records. Indexes are created by
// system/indexes at startup.
type Store struct {
	c *mongo.Collection
}

func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection("audit_logs")}
}

// Log records an audit event.
func (s *Store) Log(ctx context.Context, event Event) error {
	if event.ID.IsZero() {
		event.ID = primitive.NewObjectID()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	_, err := s.c.InsertOne(ctx, event)
	return err
}

// Query returns matching events, newest first. Limit defaults to 100.
func (s *Store) Query(ctx context.Context, filter QueryFilter) ([]Event, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(limit).
		SetSkip(filter.Offset)

	cursor, err := s.c.Find(ctx, filter.query(), opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	events := []Event{}
	if err := cursor.All(ctx, &events); err != nil {
		return nil, err
	}
	return events, nil
}

// Count returns the number of events matching the filter, ignoring
// Limit and Offset.
func (s *Store) Count(ctx context.Context, filter QueryFilter) (int64, error) {
	return s.c.CountDocuments(ctx, filter.query())
}

func (f QueryFilter) query() bson.M {
	q := bson.M{}
	if f.AccountID != nil {
		q["account_id"] = *f.AccountID
	}
	if f.ActorID != nil {
		q["actor_id"] = *f.ActorID
	}
	if f.ItemID != nil {
		q["item_id"] = *f.ItemID
	}
	if f.Category != "" {
		q["category"] = f.Category
	}
	if f.EventType != "" {
		q["event_type"] = f.EventType
	}
	if f.StartTime != nil || f.EndTime != nil {
		tq := bson.M{}
		if f.StartTime != nil {
			tq["$gte"] = *f.StartTime
		}
		if f.EndTime != nil {
			tq["$lte"] = *f.EndTime
		}
		q["created_at"] = tq
	}
	return q
}
