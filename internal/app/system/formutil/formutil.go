// Package formutil reads path and query parameters for the JSON API and
// turns malformed input into apperr.Invalid so handlers can pass it straight
// to jsonutil.WriteError.
package formutil

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/dalemusser/stratavault/internal/app/store/items"
	"github.com/dalemusser/stratavault/internal/app/system/normalize"
	"github.com/dalemusser/stratavault/internal/domain/apperr"
	"github.com/dalemusser/stratavault/internal/domain/models"
	"github.com/go-chi/chi/v5"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// PathID parses the chi URL parameter name as an ObjectID.
func PathID(r *http.Request, name string) (primitive.ObjectID, error) {
	raw := chi.URLParam(r, name)
	id, err := primitive.ObjectIDFromHex(raw)
	if err != nil {
		return primitive.NilObjectID, apperr.Invalid("invalid %s", name)
	}
	return id, nil
}

// OptionalID parses raw as an ObjectID. Empty and "root" mean nil.
func OptionalID(raw, field string) (*primitive.ObjectID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "root" {
		return nil, nil
	}
	id, err := primitive.ObjectIDFromHex(raw)
	if err != nil {
		return nil, apperr.Invalid("invalid %s", field)
	}
	return &id, nil
}

// MaxPageSize caps ?limit= on listings.
const MaxPageSize = 500

// ListOptions reads type, q, sort, order, limit and page from the query
// string. Without a limit the whole listing is returned.
func ListOptions(r *http.Request) (items.ListOptions, error) {
	q := r.URL.Query()
	opts := items.ListOptions{
		Search: normalize.QueryParam(q.Get("q")),
		Sort:   normalize.QueryParam(q.Get("sort")),
		Order:  normalize.QueryParam(q.Get("order")),
	}
	if t := normalize.QueryParam(q.Get("type")); t != "" {
		opts.Type = models.ItemType(strings.ToLower(t))
		if !opts.Type.Valid() {
			return items.ListOptions{}, apperr.Invalid("type must be file or folder")
		}
	}
	limit, err := Int64(r, "limit", 0)
	if err != nil {
		return items.ListOptions{}, err
	}
	if limit < 0 || limit > MaxPageSize {
		return items.ListOptions{}, apperr.Invalid("limit must be between 0 and %d", MaxPageSize)
	}
	page, err := Int64(r, "page", 1)
	if err != nil {
		return items.ListOptions{}, err
	}
	if page < 1 {
		return items.ListOptions{}, apperr.Invalid("page must be at least 1")
	}
	opts.Limit, opts.Page = limit, page
	return opts, nil
}

// ItemType reads an optional ?type= filter.
func ItemType(r *http.Request) (models.ItemType, error) {
	t := models.ItemType(strings.ToLower(normalize.QueryParam(r.URL.Query().Get("type"))))
	if t != "" && !t.Valid() {
		return "", apperr.Invalid("type must be file or folder")
	}
	return t, nil
}

// Int64 parses an optional integer query parameter, returning def when absent.
func Int64(r *http.Request, name string, def int64) (int64, error) {
	raw := normalize.QueryParam(r.URL.Query().Get(name))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, apperr.Invalid("%s must be an integer", name)
	}
	return n, nil
}
