// internal/app/store/apikeys/apikeystore.go
package apikeystore

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/crypto/bcrypt"
)

// APIKey is a bearer credential bound to one account.
type APIKey struct {
	ID         primitive.ObjectID `bson:"_id" json:"id"`
	AccountID  primitive.ObjectID `bson:"account_id" json:"account_id"`
	KeyHash    string             `bson:"key_hash" json:"-"`          // bcrypt hash of the key
	KeyPrefix  string             `bson:"key_prefix" json:"key_prefix"` // first 11 chars for lookup and display
	Name       string             `bson:"name" json:"name"`
	Status     string             `bson:"status" json:"status"` // "active", "revoked"
	LastUsedAt *time.Time         `bson:"last_used_at,omitempty" json:"last_used_at,omitempty"`
	UsageCount int64              `bson:"usage_count" json:"usage_count"`
	CreatedAt  time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt  time.Time          `bson:"updated_at" json:"updated_at"`
	RevokedAt  *time.Time         `bson:"revoked_at,omitempty" json:"revoked_at,omitempty"`
}

// Status constants for API keys.
const (
	StatusActive  = "active"
	StatusRevoked = "revoked"
)

// KeyPrefixLen is "sk_" plus 8 hex chars.
const KeyPrefixLen = 11

var (
	// ErrNotFound is returned when an API key is not found.
	ErrNotFound = errors.New("api key not found")
	// ErrInvalidKey is returned when an API key is invalid or does not match.
	ErrInvalidKey = errors.New("invalid api key")
	// ErrDuplicateName is returned when the account already has a key with this name.
	ErrDuplicateName = errors.New("an api key with this name already exists")
)

// Store provides API key persistence.
type Store struct {
	c *mongo.Collection
}

// New creates a new API key store.
func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection("api_keys")}
}

// GenerateKey generates a new cryptographically secure API key.
// Returns the full key (to show once) and its lookup prefix.
func GenerateKey() (fullKey, prefix string, err error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", "", err
	}

	fullKey = "sk_" + hex.EncodeToString(bytes)
	prefix = fullKey[:KeyPrefixLen]
	return fullKey, prefix, nil
}

func hashKey(key string) (string, error) {
	// Default cost: verification runs on every request.
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CreateResult contains the created key and the full key value.
type CreateResult struct {
	Key     APIKey
	FullKey string // only available at creation time
}

// Create issues a new key for accountID.
func (s *Store) Create(ctx context.Context, accountID primitive.ObjectID, name string) (CreateResult, error) {
	fullKey, prefix, err := GenerateKey()
	if err != nil {
		return CreateResult{}, err
	}

	keyHash, err := hashKey(fullKey)
	if err != nil {
		return CreateResult{}, err
	}

	now := time.Now()
	key := APIKey{
		ID:        primitive.NewObjectID(),
		AccountID: accountID,
		KeyHash:   keyHash,
		KeyPrefix: prefix,
		Name:      name,
		Status:    StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if _, err := s.c.InsertOne(ctx, key); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return CreateResult{}, ErrDuplicateName
		}
		return CreateResult{}, err
	}

	return CreateResult{Key: key, FullKey: fullKey}, nil
}

// Validate checks the provided key and returns its record. It also records
// usage on a best-effort basis.
func (s *Store) Validate(ctx context.Context, providedKey string) (*APIKey, error) {
	if len(providedKey) < KeyPrefixLen {
		return nil, ErrInvalidKey
	}
	prefix := providedKey[:KeyPrefixLen]

	cur, err := s.c.Find(ctx, bson.M{
		"key_prefix": prefix,
		"status":     StatusActive,
	})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var matchedKey *APIKey
	for cur.Next(ctx) {
		var key APIKey
		if err := cur.Decode(&key); err != nil {
			continue
		}
		if err := bcrypt.CompareHashAndPassword([]byte(key.KeyHash), []byte(providedKey)); err == nil {
			matchedKey = &key
			break
		}
	}

	if matchedKey == nil {
		return nil, ErrInvalidKey
	}

	now := time.Now()
	_, _ = s.c.UpdateOne(ctx, bson.M{"_id": matchedKey.ID}, bson.M{
		"$set": bson.M{"last_used_at": now, "updated_at": now},
		"$inc": bson.M{"usage_count": 1},
	})

	return matchedKey, nil
}

// GetByID retrieves an API key by its ID.
func (s *Store) GetByID(ctx context.Context, id primitive.ObjectID) (*APIKey, error) {
	var key APIKey
	if err := s.c.FindOne(ctx, bson.M{"_id": id}).Decode(&key); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &key, nil
}

// ListByAccount returns an account's keys, newest first.
func (s *Store) ListByAccount(ctx context.Context, accountID primitive.ObjectID) ([]APIKey, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	cur, err := s.c.Find(ctx, bson.M{"account_id": accountID}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var keys []APIKey
	if err := cur.All(ctx, &keys); err != nil {
		return nil, err
	}
	return keys, nil
}

// Revoke revokes an active key.
func (s *Store) Revoke(ctx context.Context, id primitive.ObjectID) error {
	now := time.Now()
	result, err := s.c.UpdateOne(ctx, bson.M{
		"_id":    id,
		"status": StatusActive,
	}, bson.M{
		"$set": bson.M{
			"status":     StatusRevoked,
			"revoked_at": now,
			"updated_at": now,
		},
	})
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}
