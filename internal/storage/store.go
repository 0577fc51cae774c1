// Package storage implements the persistence hooks (onLoadDocument,
// afterLoadDocument, onStoreDocument, afterStoreDocument) as a gorm-backed
// Extension, adapted from the teacher's Yjs update repository
// (internal/repository/yjs_repo.go) into a whole-snapshot store keyed by
// document name rather than an append-only update log: the spec's
// debounced persistence pipeline (§4.6.3) already coalesces writes, so
// there is no need to replay an update history on load.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/ksuid"
	"gorm.io/gorm"

	"github.com/yproto/server/internal/crdtdoc"
	"github.com/yproto/server/internal/hooks"
)

// DocumentSnapshot is the persisted row for one document's CRDT state,
// adapted from the teacher's YjsUpdate model (internal/models/
// yjs_document.go) into a single upserted snapshot instead of an
// append-only log.
type DocumentSnapshot struct {
	ID           string    `gorm:"type:varchar(27);primaryKey" json:"id"`
	DocumentName string    `gorm:"type:varchar(512);uniqueIndex" json:"document_name"`
	Snapshot     []byte    `gorm:"type:bytea;not null" json:"-"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// BeforeCreate generates a KSUID primary key, matching the teacher's
// BeforeCreate hook convention.
func (s *DocumentSnapshot) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = ksuid.New().String()
	}
	return nil
}

// TableName overrides gorm's pluralization default, as the teacher does.
func (DocumentSnapshot) TableName() string {
	return "document_snapshots"
}

// Store wraps the gorm.DB handle used by the extension.
type Store struct {
	db *gorm.DB
}

// NewStore opens (and migrates) the Postgres-backed document store.
func NewStore(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&DocumentSnapshot{}); err != nil {
		return nil, fmt.Errorf("storage: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Load retrieves the persisted snapshot for documentName, if any.
func (s *Store) Load(ctx context.Context, documentName string) ([]byte, error) {
	var row DocumentSnapshot
	err := s.db.WithContext(ctx).Where("document_name = ?", documentName).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: load %s: %w", documentName, err)
	}
	return row.Snapshot, nil
}

// StoreSnapshot upserts the document's current snapshot.
func (s *Store) StoreSnapshot(ctx context.Context, documentName string, snapshot []byte) error {
	row := DocumentSnapshot{DocumentName: documentName, Snapshot: snapshot, UpdatedAt: time.Now()}
	err := s.db.WithContext(ctx).
		Where("document_name = ?", documentName).
		Assign(DocumentSnapshot{Snapshot: snapshot, UpdatedAt: row.UpdatedAt}).
		FirstOrCreate(&row).Error
	if err != nil {
		return fmt.Errorf("storage: store %s: %w", documentName, err)
	}
	return nil
}

// Extension wires Store's Load/StoreSnapshot into the four persistence
// hooks spec §4.6.2/§4.6.3 describe.
func Extension(store *Store) *hooks.Extension {
	return &hooks.Extension{
		Name:     "storage",
		Priority: 100,

		OnLoadDocument: func(ctx context.Context, payload *hooks.Payload) (any, error) {
			snapshot, err := store.Load(ctx, payload.DocumentName)
			if err != nil {
				return nil, err
			}
			if snapshot == nil {
				return &hooks.LoadResult{Kind: hooks.LoadKindNone}, nil
			}
			doc, err := crdtdoc.Load(snapshot)
			if err != nil {
				return nil, &hooks.HandlerError{Message: err.Error()}
			}
			return &hooks.LoadResult{Kind: hooks.LoadKindDoc, Doc: doc}, nil
		},

		AfterLoadDocument: func(ctx context.Context, payload *hooks.Payload) (any, error) {
			return nil, nil
		},

		OnStoreDocument: func(ctx context.Context, payload *hooks.Payload) (any, error) {
			if err := store.StoreSnapshot(ctx, payload.DocumentName, payload.Update); err != nil {
				// spec §7: errors without a message are swallowed; this one
				// carries a message, so the Kernel logs it at Error.
				return nil, &hooks.HandlerError{Message: err.Error()}
			}
			return nil, nil
		},

		AfterStoreDocument: func(ctx context.Context, payload *hooks.Payload) (any, error) {
			return nil, nil
		},
	}
}
