// Package txn runs a group of item updates in one MongoDB transaction when
// the deployment supports it.
//
// Lifecycle cascades use it so a trash or restore either lands on the whole
// subtree or on none of it. On a standalone server the group runs without a
// transaction; every update in a cascade filters on the current state, so a
// rerun after a partial failure converges.
package txn

import (
	"context"
	"errors"
	"strings"

	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// Func is one unit of work. ctx is a mongo.SessionContext inside a
// transaction and the caller's context otherwise.
type Func func(ctx context.Context) error

// Run executes fn in a transaction, or directly when transactions are not
// available. log may be nil.
func Run(ctx context.Context, db *mongo.Database, log *zap.Logger, fn Func) error {
	session, err := db.Client().StartSession()
	if err != nil {
		warn(log, "failed to start session, running without transaction", err)
		return fn(ctx)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc)
	})
	if err != nil && IsNotSupported(err) {
		warn(log, "transactions not supported, running without transaction", err)
		return fn(ctx)
	}
	return err
}

func warn(log *zap.Logger, msg string, err error) {
	if log != nil {
		log.Warn(msg, zap.Error(err))
	}
}

// IsNotSupported reports whether err means the deployment cannot run
// multi-document transactions (standalone server, DocumentDB without a
// replica set).
//
// Known codes: 20 (transaction numbers need a replica set), 51
// (IllegalOperation), 263 (operation not allowed in a transaction).
func IsNotSupported(err error) bool {
	if err == nil {
		return false
	}

	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) {
		switch cmdErr.Code {
		case 20, 51, 263:
			return true
		}
	}

	// Two keyword hits avoid matching unrelated failures that mention one.
	msg := strings.ToLower(err.Error())
	hits := 0
	for _, kw := range []string{"transaction", "replica set", "session", "not supported", "illegal operation"} {
		if strings.Contains(msg, kw) {
			hits++
		}
	}
	return hits >= 2
}
