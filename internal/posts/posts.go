// Package posts implements the posts feature over the document store: a
// capped reverse-chronological list, point reads, gated writes, and a live
// view of the list.
package posts

import (
	"context"
	"time"

	apperrors "github.com/louisbranch/tidepool/internal/errors"
	"github.com/louisbranch/tidepool/internal/gateway"
	"github.com/louisbranch/tidepool/internal/live"
	"github.com/louisbranch/tidepool/internal/store"
)

// Table is the posts table name.
const Table = "post"

// ListLimit caps the list read.
const ListLimit = 10

const (
	indexByCreatedAt = "by_created_at"
	indexByUpdatedAt = "by_updated_at"
)

// Schema declares the posts table.
func Schema() store.TableSchema {
	return store.TableSchema{
		Name: Table,
		Fields: map[string]store.FieldType{
			"title":   store.FieldTypeString,
			"content": store.FieldTypeString,
		},
		Indexes: []store.IndexSchema{
			{Name: indexByCreatedAt, Fields: []string{store.FieldCreatedAt}},
			{Name: indexByUpdatedAt, Fields: []string{store.FieldUpdatedAt}},
		},
	}
}

// Post is one post document.
type Post struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// FromDocument maps a stored document to a post.
func FromDocument(doc store.Document) Post {
	return Post{
		ID:        doc.ID,
		Title:     doc.Field("title"),
		Content:   doc.Field("content"),
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
	}
}

// FromDocuments maps a snapshot of documents to posts.
func FromDocuments(docs []store.Document) []Post {
	posts := make([]Post, 0, len(docs))
	for _, doc := range docs {
		posts = append(posts, FromDocument(doc))
	}
	return posts
}

// ListQuery is the live-subscribable list read: newest first, capped.
func ListQuery() live.ScanQuery {
	return live.ScanQuery{Spec: store.ScanSpec{
		Table: Table,
		Index: indexByCreatedAt,
		Order: store.OrderDesc,
		Limit: ListLimit,
	}}
}

// Service exposes the posts operations.
type Service struct {
	store   store.Store
	gateway *gateway.Gateway
	engine  *live.Engine
}

// NewService builds the posts service.
func NewService(st store.Store, gw *gateway.Gateway, engine *live.Engine) *Service {
	return &Service{store: st, gateway: gw, engine: engine}
}

// List returns up to ListLimit posts, newest first. Open to anonymous
// callers from trusted origins.
func (s *Service) List(ctx context.Context) ([]Post, error) {
	if err := s.gateway.Authorize(ctx, false); err != nil {
		return nil, err
	}
	result, err := s.store.Scan(ctx, ListQuery().Spec)
	if err != nil {
		return nil, err
	}
	return FromDocuments(result.Docs), nil
}

// Get returns one post; a missing id reports found=false, not an error.
func (s *Service) Get(ctx context.Context, id string) (Post, bool, error) {
	if err := s.gateway.Authorize(ctx, false); err != nil {
		return Post{}, false, err
	}
	doc, found, err := s.store.Get(ctx, Table, id)
	if err != nil || !found {
		return Post{}, false, err
	}
	return FromDocument(doc), true, nil
}

// Create inserts a post for an authenticated caller.
func (s *Service) Create(ctx context.Context, title, content string) (Post, error) {
	if title == "" {
		return Post{}, apperrors.New(apperrors.CodeInvalidArgument, "title is required")
	}
	doc, err := s.gateway.Submit(ctx, gateway.Intent{
		Table: Table,
		Op:    gateway.OpCreate,
		Fields: map[string]any{
			"title":   title,
			"content": content,
		},
	})
	if err != nil {
		return Post{}, err
	}
	return FromDocument(doc), nil
}

// Remove deletes a post for an authenticated caller. A missing id fails
// NOT_FOUND; remove is not idempotent.
func (s *Service) Remove(ctx context.Context, id string) error {
	_, err := s.gateway.Submit(ctx, gateway.Intent{
		Table: Table,
		Op:    gateway.OpRemove,
		ID:    id,
	})
	return err
}

// Watch subscribes to the live list. The subscription ends when ctx is
// canceled.
func (s *Service) Watch(ctx context.Context) (*live.Subscription, error) {
	if err := s.gateway.Authorize(ctx, false); err != nil {
		return nil, err
	}
	return s.engine.Subscribe(ctx, ListQuery())
}
