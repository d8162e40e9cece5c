package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// LegacyShare is the per-file share entry older records embed.
//
// Deprecated: ShareGrant is the only authorization record. Entries are
// migrated into share_grants at startup and removed from the file.
type LegacyShare struct {
	AccountID  primitive.ObjectID `bson:"account_id"`
	Permission Permission         `bson:"permission"`
	SharedAt   time.Time          `bson:"shared_at"`
}

// File is an uploaded blob bound to an owner and folder.
type File struct {
	Item `bson:",inline"`

	ContentKey      string  `bson:"content_key" json:"-"` // key in byte storage
	Size            int64   `bson:"size" json:"size"`
	ContentType     string  `bson:"content_type" json:"content_type"`
	DownloadCount   int64   `bson:"download_count" json:"download_count"`
	PublicLinkToken *string `bson:"public_link_token,omitempty" json:"public_link_token,omitempty"`

	LegacyShares []LegacyShare `bson:"shared_with,omitempty" json:"-"`
}
