// internal/app/bootstrap/dbdeps.go
package bootstrap

import (
	"github.com/dalemusser/stratavault/internal/app/system/notify"
	"github.com/dalemusser/waffle/pantry/storage"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
)

// DBDeps holds database and backend dependencies for this WAFFLE app.
//
// It is created in ConnectDB and passed to EnsureSchema, Startup,
// BuildHandler and Shutdown. Optional backends are nil when not configured.
type DBDeps struct {
	// MongoDB client and database
	MongoClient   *mongo.Client
	MongoDatabase *mongo.Database

	// Content holds file bytes (local disk or S3).
	Content storage.Store

	// Mailer sends share notifications. Nil when SMTP is not configured.
	Mailer *notify.Mailer

	// Redis relays live events between instances. Nil runs single-instance.
	Redis *redis.Client
}
