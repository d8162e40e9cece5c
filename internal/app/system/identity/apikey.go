package identity

import (
	"context"
	"errors"
	"strings"

	apikeystore "github.com/dalemusser/stratavault/internal/app/store/apikeys"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// KeyValidator is the part of the API key store the verifier needs.
type KeyValidator interface {
	Validate(ctx context.Context, key string) (*apikeystore.APIKey, error)
}

// APIKeyVerifier accepts account API keys.
type APIKeyVerifier struct {
	keys KeyValidator
}

func NewAPIKeyVerifier(keys KeyValidator) *APIKeyVerifier {
	return &APIKeyVerifier{keys: keys}
}

func (v *APIKeyVerifier) Verify(ctx context.Context, token string) (primitive.ObjectID, error) {
	if !strings.HasPrefix(token, "sk_") {
		return primitive.NilObjectID, ErrInvalidToken
	}
	key, err := v.keys.Validate(ctx, token)
	if errors.Is(err, apikeystore.ErrInvalidKey) {
		return primitive.NilObjectID, ErrInvalidToken
	}
	if err != nil {
		return primitive.NilObjectID, err
	}
	return key.AccountID, nil
}
