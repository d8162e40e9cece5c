// internal/domain/models/account.go
package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Account is a tenant of the vault. It owns files and folders and carries the
// cached byte counter the quota ledger maintains.
//
// StorageUsedBytes is an aggregate, not a live sum: only the quota ledger
// writes it (reserve on placement, release on purge, reconcile job).
type Account struct {
	ID       primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Email    string             `bson:"email" json:"email"`       // lowercase
	FullName string             `bson:"full_name" json:"full_name"`
	Role     string             `bson:"role" json:"role"`         // admin, user
	Status   string             `bson:"status" json:"status"`     // active, disabled

	StorageQuotaBytes int64 `bson:"storage_quota_bytes" json:"storage_quota_bytes"`
	StorageUsedBytes  int64 `bson:"storage_used_bytes" json:"storage_used_bytes"`

	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

// Account roles
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// Account statuses
const (
	StatusActive   = "active"
	StatusDisabled = "disabled"
)

// IsActive reports whether the account may use the service.
func (a *Account) IsActive() bool {
	return a.Status == StatusActive
}

// IsValidRole checks if a role is valid.
func IsValidRole(role string) bool {
	return role == RoleAdmin || role == RoleUser
}

// IsValidStatus checks if a status is valid.
func IsValidStatus(status string) bool {
	return status == StatusActive || status == StatusDisabled
}
