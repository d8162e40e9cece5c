// Package placement admits uploaded content into the tree: it checks type and
// size, reserves quota, writes bytes and creates the file record, undoing the
// earlier steps when a later one fails.
package placement

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/dalemusser/stratavault/internal/app/store/file"
	"github.com/dalemusser/stratavault/internal/app/store/items"
	"github.com/dalemusser/stratavault/internal/app/store/storeutil"
	"github.com/dalemusser/stratavault/internal/app/system/events"
	"github.com/dalemusser/stratavault/internal/app/system/metrics"
	"github.com/dalemusser/stratavault/internal/app/system/names"
	"github.com/dalemusser/stratavault/internal/app/system/quota"
	"github.com/dalemusser/stratavault/internal/app/system/sharing"
	"github.com/dalemusser/stratavault/internal/app/system/txn"
	"github.com/dalemusser/stratavault/internal/domain/apperr"
	"github.com/dalemusser/stratavault/internal/domain/models"
	"github.com/dalemusser/waffle/pantry/storage"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// sniffLen is how much of the body is inspected to detect its type.
const sniffLen = 3072

// ContentStore holds file bytes by key. storage.Store satisfies it.
type ContentStore interface {
	Put(ctx context.Context, path string, r io.Reader, opts *storage.PutOptions) error
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	Delete(ctx context.Context, path string) error
}

// Service places and serves file content.
type Service struct {
	db      *mongo.Database
	files   *file.Store
	items   *items.Store
	content ContentStore
	access  *sharing.Resolver
	ledger  *quota.Ledger
	policy  Policy
	events  events.Publisher
	metrics *metrics.Metrics
	log     *zap.Logger
	now     func() time.Time
}

// New creates a Service. pub and m may be nil.
func New(db *mongo.Database, content ContentStore, access *sharing.Resolver, ledger *quota.Ledger, policy Policy, pub events.Publisher, m *metrics.Metrics, log *zap.Logger) *Service {
	if pub == nil {
		pub = events.Nop{}
	}
	return &Service{
		db:      db,
		files:   file.New(db),
		items:   items.New(db),
		content: content,
		access:  access,
		ledger:  ledger,
		policy:  policy,
		events:  pub,
		metrics: m,
		log:     log,
		now:     time.Now,
	}
}

// PlaceInput describes an upload. A nil FolderID places the file at the
// actor's root.
type PlaceInput struct {
	FolderID     *primitive.ObjectID
	Body         io.Reader
	DeclaredSize int64
	MediaType    string
	FilenameHint string
}

// Place stores an upload and creates its record. The file belongs to, and is
// charged to, the destination folder's owner.
func (s *Service) Place(ctx context.Context, actorID primitive.ObjectID, in PlaceInput) (*models.File, error) {
	f, err := s.place(ctx, actorID, in)
	if err != nil {
		s.metrics.Placement(resultOf(err), 0)
		return nil, err
	}
	s.metrics.Placement("ok", f.Size)
	return f, nil
}

func (s *Service) place(ctx context.Context, actorID primitive.ObjectID, in PlaceInput) (*models.File, error) {
	name, err := names.Validate(in.FilenameHint)
	if err != nil {
		return nil, err
	}
	if err := s.policy.CheckSize(in.DeclaredSize); err != nil {
		return nil, err
	}
	if err := s.policy.CheckExtension(name); err != nil {
		return nil, err
	}
	if in.Body == nil {
		return nil, apperr.Invalid("missing file body")
	}

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(in.Body, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, apperr.Internal(err, "read upload")
	}
	head = head[:n]
	mediaType := EffectiveType(in.MediaType, head)
	if err := s.policy.CheckType(mediaType); err != nil {
		return nil, err
	}

	ownerID := actorID
	if in.FolderID != nil {
		dest, _, err := s.access.Require(ctx, actorID, *in.FolderID, models.PermissionWrite)
		if err != nil {
			return nil, err
		}
		if !dest.IsFolder() {
			return nil, apperr.NotFound("folder not found")
		}
		ownerID = dest.OwnerID
	}

	// Checked again by the unique index when the record is created.
	taken, err := s.items.NameTaken(ctx, ownerID, in.FolderID, models.ItemTypeFile, name)
	if err != nil {
		return nil, apperr.Internal(err, "check name")
	}
	if taken {
		return nil, apperr.Conflict("a file named %q already exists here", name)
	}

	if err := s.ledger.Reserve(ctx, ownerID, in.DeclaredSize); err != nil {
		return nil, err
	}

	key := ContentKey(ownerID, name, s.now())
	body := &countingReader{r: io.LimitReader(io.MultiReader(bytes.NewReader(head), in.Body), in.DeclaredSize+1)}
	if err := s.content.Put(ctx, key, body, &storage.PutOptions{ContentType: mediaType}); err != nil {
		// A partial write may have left bytes behind.
		s.compensate(ownerID, in.DeclaredSize, key)
		return nil, apperr.Internal(err, "store content")
	}
	if body.n != in.DeclaredSize {
		s.compensate(ownerID, in.DeclaredSize, key)
		return nil, apperr.Invalid("received %d bytes, expected %d", body.n, in.DeclaredSize)
	}

	var f *models.File
	err = txn.Run(ctx, s.db, s.log, func(ctx context.Context) error {
		var err error
		f, err = s.files.Create(ctx, file.CreateInput{
			ParentID:    in.FolderID,
			Name:        name,
			ContentKey:  key,
			Size:        in.DeclaredSize,
			ContentType: mediaType,
			OwnerID:     ownerID,
			CreatedByID: actorID,
		})
		return err
	})
	if err != nil {
		s.compensate(ownerID, in.DeclaredSize, key)
		switch {
		case storeutil.IsDuplicateKey(err):
			return nil, apperr.Conflict("a file named %q already exists here", name)
		case errors.Is(err, items.ErrParentInactive):
			return nil, apperr.NotFound("folder not found")
		}
		return nil, apperr.Internal(err, "create file record")
	}

	s.log.Info("file placed",
		zap.String("file_id", f.ID.Hex()),
		zap.String("owner_id", ownerID.Hex()),
		zap.String("actor_id", actorID.Hex()),
		zap.Int64("size", f.Size),
		zap.String("content_type", mediaType))
	s.events.Publish(ctx, events.ParentScope(ownerID, in.FolderID), events.FileCreated, map[string]any{
		"id": f.ID.Hex(), "name": f.Name, "size": f.Size,
	})
	return f, nil
}

// compensate undoes a reservation and any written bytes. It runs on a fresh
// context so a cancelled request still cleans up.
func (s *Service) compensate(ownerID primitive.ObjectID, size int64, key string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.content.Delete(ctx, key); err != nil {
		s.log.Warn("failed to remove content after failed upload",
			zap.String("content_key", key), zap.Error(err))
	}
	if err := s.ledger.Release(ctx, ownerID, size); err != nil {
		s.log.Error("failed to release reservation after failed upload",
			zap.String("account_id", ownerID.Hex()),
			zap.Int64("bytes", size),
			zap.Error(err))
	}
}

// Open returns a file and a reader for its bytes. The caller closes the
// reader.
func (s *Service) Open(ctx context.Context, actorID, fileID primitive.ObjectID) (*models.File, io.ReadCloser, error) {
	rec, _, err := s.access.Require(ctx, actorID, fileID, models.PermissionRead)
	if err != nil {
		return nil, nil, err
	}
	if rec.IsFolder() {
		return nil, nil, apperr.NotFound("file not found")
	}
	return s.open(ctx, rec.File())
}

// OpenPublic opens the file published under a public link token.
func (s *Service) OpenPublic(ctx context.Context, token string) (*models.File, io.ReadCloser, error) {
	f, err := s.access.ResolvePublicLink(ctx, token)
	if err != nil {
		return nil, nil, err
	}
	return s.open(ctx, f)
}

func (s *Service) open(ctx context.Context, f *models.File) (*models.File, io.ReadCloser, error) {
	rc, err := s.content.Get(ctx, f.ContentKey)
	if err != nil {
		return nil, nil, apperr.Internal(err, "open content")
	}
	if err := s.files.IncrementDownloads(ctx, f.ID); err != nil {
		s.log.Warn("failed to count download", zap.String("file_id", f.ID.Hex()), zap.Error(err))
	}
	return f, rc, nil
}

// EffectiveType picks the media type to record: the declared one, unless it
// is missing or generic, in which case the sniffed one.
func EffectiveType(declared string, head []byte) string {
	d := baseType(declared)
	if d != "" && d != "application/octet-stream" {
		return d
	}
	return baseType(mimetype.Detect(head).String())
}

// ContentKey builds the storage key for a new upload:
// files/<owner>/<yyyy>/<mm>/<uuid>-<slug><ext>.
func ContentKey(ownerID primitive.ObjectID, name string, at time.Time) string {
	ext := names.Ext(name)
	base := slug.Make(strings.TrimSuffix(name, path.Ext(name)))
	if e := slug.Make(strings.TrimPrefix(ext, ".")); e != "" {
		ext = "." + e
	} else {
		ext = ""
	}
	if base == "" {
		base = "file"
	}
	if len(base) > 64 {
		base = strings.Trim(base[:64], "-")
	}
	at = at.UTC()
	return fmt.Sprintf("files/%s/%04d/%02d/%s-%s%s",
		ownerID.Hex(), at.Year(), int(at.Month()), uuid.NewString(), base, ext)
}

func resultOf(err error) string {
	switch apperr.KindOf(err) {
	case apperr.KindQuotaExceeded:
		return "quota_exceeded"
	case apperr.KindTypeNotAllowed:
		return "type_not_allowed"
	case apperr.KindInvalid:
		return "invalid"
	case apperr.KindNotFound, apperr.KindForbidden:
		return "denied"
	case apperr.KindConflict:
		return "conflict"
	}
	return "error"
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
