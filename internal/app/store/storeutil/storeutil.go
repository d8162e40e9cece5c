// internal/app/store/storeutil/storeutil.go
package storeutil

import (
	"errors"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Visibility selects which lifecycle states a read may see.
type Visibility int

const (
	// Active hides trashed items. It is the zero value so every read that
	// does not ask otherwise filters trash out.
	Active Visibility = iota
	Trashed
	Any
)

// VisibilityFilter adds the lifecycle predicate for v to filter and returns it.
// Every item read goes through here.
func VisibilityFilter(filter bson.M, v Visibility) bson.M {
	if filter == nil {
		filter = bson.M{}
	}
	switch v {
	case Trashed:
		filter["is_deleted"] = true
	case Any:
	default:
		filter["is_deleted"] = false
	}
	return filter
}

// Paginate returns *options.FindOptions with skip/limit given a 1-based page.
func Paginate(limit, page int64) *options.FindOptions {
	if limit <= 0 {
		limit = 20
	}
	if page <= 0 {
		page = 1
	}
	sk := (page - 1) * limit
	return options.Find().SetLimit(limit).SetSkip(sk)
}

// SortOrder converts "asc"/"desc" into a Mongo sort direction. Anything else
// is ascending.
func SortOrder(order string) int {
	if strings.EqualFold(order, "desc") {
		return -1
	}
	return 1
}

// IsDuplicateKey reports whether err is a unique index violation.
func IsDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if mongo.IsDuplicateKeyError(err) {
		return true
	}
	var we mongo.WriteException
	if errors.As(err, &we) {
		for _, e := range we.WriteErrors {
			if e.Code == 11000 {
				return true
			}
		}
	}
	return strings.Contains(err.Error(), "E11000")
}
