// Package gateway is the single write path into the document store. Every
// mutation arrives as an intent, passes the origin and authentication gate,
// and only then touches storage.
package gateway

import (
	"context"
	"fmt"

	"github.com/louisbranch/tidepool/internal/auth"
	apperrors "github.com/louisbranch/tidepool/internal/errors"
	"github.com/louisbranch/tidepool/internal/platform/requestctx"
	"github.com/louisbranch/tidepool/internal/store"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Op is a mutation kind.
type Op int

const (
	// OpCreate inserts a new document.
	OpCreate Op = iota + 1
	// OpReplace swaps the field map of an existing document.
	OpReplace
	// OpRemove deletes a document by id.
	OpRemove
)

// String returns the wire name of the op.
func (o Op) String() string {
	switch o {
	case OpCreate:
		return "create"
	case OpReplace:
		return "replace"
	case OpRemove:
		return "remove"
	default:
		return "unknown"
	}
}

// Intent is one requested mutation.
type Intent struct {
	Table string
	Op    Op
	// ID targets an existing document for replace and remove.
	ID string
	// Fields is the payload for create and replace.
	Fields map[string]any
}

// Policy decides whether an intent requires an authenticated caller. The
// default policy protects every mutation.
type Policy func(Intent) bool

// ProtectAll is the default policy.
func ProtectAll(Intent) bool { return true }

// Gateway gates and applies mutations.
type Gateway struct {
	store     store.Store
	adapter   *auth.Adapter
	protected Policy
	tracer    trace.Tracer
}

// Option configures a gateway.
type Option func(*Gateway)

// WithPolicy overrides the protection policy.
func WithPolicy(policy Policy) Option {
	return func(g *Gateway) {
		if policy != nil {
			g.protected = policy
		}
	}
}

// New builds a gateway over the store and credential adapter.
func New(st store.Store, adapter *auth.Adapter, opts ...Option) *Gateway {
	g := &Gateway{
		store:     st,
		adapter:   adapter,
		protected: ProtectAll,
		tracer:    otel.Tracer("tidepool/gateway"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// resolve returns the request's credential resolution. The transport
// middleware resolves once per request and caches the result in context;
// requests arriving without a cached resolution are resolved here from the
// raw credential request.
func (g *Gateway) resolve(ctx context.Context) (auth.Resolution, error) {
	if resolution, ok := requestctx.ResolutionFromContext(ctx); ok {
		return resolution, nil
	}
	req, ok := requestctx.RequestFromContext(ctx)
	if !ok {
		return auth.Resolution{State: auth.StateAnonymous}, nil
	}
	return g.adapter.Resolve(ctx, req)
}

// Authorize checks the gate without mutating: rejected origins always fail,
// and protected access additionally requires a resolved identity. Reads use
// it with protected=false.
func (g *Gateway) Authorize(ctx context.Context, protected bool) error {
	resolution, err := g.resolve(ctx)
	if err != nil {
		return err
	}
	switch resolution.State {
	case auth.StateRejected:
		return apperrors.New(apperrors.CodeOriginRejected, "origin is not trusted")
	case auth.StateResolved:
		return nil
	default:
		if protected {
			return apperrors.New(apperrors.CodeUnauthenticated, "authentication required")
		}
		return nil
	}
}

// Submit applies one mutation intent. The gate runs before any store access:
// an unauthenticated protected intent never touches storage. Remove returns
// a zero document.
func (g *Gateway) Submit(ctx context.Context, intent Intent) (store.Document, error) {
	ctx, span := g.tracer.Start(ctx, "gateway.submit", trace.WithAttributes(
		attribute.String("intent.table", intent.Table),
		attribute.String("intent.op", intent.Op.String()),
	))
	defer span.End()

	doc, err := g.submit(ctx, intent)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(apperrors.GetCode(err)))
	}
	return doc, err
}

func (g *Gateway) submit(ctx context.Context, intent Intent) (store.Document, error) {
	if err := g.Authorize(ctx, g.protected(intent)); err != nil {
		return store.Document{}, err
	}

	switch intent.Op {
	case OpCreate:
		return g.store.Insert(ctx, intent.Table, intent.Fields)
	case OpReplace:
		return g.store.Replace(ctx, intent.Table, intent.ID, intent.Fields)
	case OpRemove:
		return store.Document{}, g.store.Delete(ctx, intent.Table, intent.ID)
	default:
		return store.Document{}, fmt.Errorf("unsupported op %d", intent.Op)
	}
}
