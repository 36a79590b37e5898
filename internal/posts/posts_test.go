package posts

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/louisbranch/tidepool/internal/auth"
	apperrors "github.com/louisbranch/tidepool/internal/errors"
	"github.com/louisbranch/tidepool/internal/gateway"
	"github.com/louisbranch/tidepool/internal/live"
	"github.com/louisbranch/tidepool/internal/platform/requestctx"
	"github.com/louisbranch/tidepool/internal/store"
	storebbolt "github.com/louisbranch/tidepool/internal/store/bbolt"
)

type noVerifier struct{}

func (noVerifier) VerifyToken(ctx context.Context, token string) (auth.Verification, error) {
	return auth.Verification{}, apperrors.New(apperrors.CodeUnauthenticated, "invalid session token")
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	schema, err := store.NewSchema(Schema())
	if err != nil {
		t.Fatalf("new schema: %v", err)
	}

	// Step the clock so createdAt ordering is deterministic in tests.
	base := time.Date(2026, 7, 1, 8, 0, 0, 0, time.UTC)
	calls := 0
	clock := func() time.Time {
		calls++
		return base.Add(time.Duration(calls) * time.Millisecond)
	}

	st, err := storebbolt.Open(filepath.Join(t.TempDir(), "posts.db"), schema, storebbolt.WithClock(clock))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	engine := live.NewEngine(st)
	st.AddCommitListener(engine)
	t.Cleanup(engine.Close)

	adapter := auth.NewAdapter(noVerifier{}, auth.NewOriginList(nil))
	return NewService(st, gateway.New(st, adapter), engine)
}

func authedContext() context.Context {
	return requestctx.WithResolution(context.Background(), auth.Resolution{
		State: auth.StateResolved,
		Ref:   auth.SessionRef{SessionID: "sess-1", UserID: "user-1"},
	})
}

func anonContext() context.Context {
	return requestctx.WithResolution(context.Background(), auth.Resolution{
		State: auth.StateAnonymous,
	})
}

func TestListOrderAndRemoval(t *testing.T) {
	service := newTestService(t)
	ctx := authedContext()

	a, err := service.Create(ctx, "A", "first")
	if err != nil {
		t.Fatalf("create A: %v", err)
	}
	b, err := service.Create(ctx, "B", "second")
	if err != nil {
		t.Fatalf("create B: %v", err)
	}
	c, err := service.Create(ctx, "C", "third")
	if err != nil {
		t.Fatalf("create C: %v", err)
	}

	listed, err := service.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	wantOrder := []string{c.ID, b.ID, a.ID}
	if len(listed) != 3 {
		t.Fatalf("expected 3 posts, got %d", len(listed))
	}
	for i, post := range listed {
		if post.ID != wantOrder[i] {
			t.Fatalf("position %d: expected %s, got %s", i, wantOrder[i], post.ID)
		}
	}

	if err := service.Remove(ctx, b.ID); err != nil {
		t.Fatalf("remove B: %v", err)
	}
	listed, err = service.List(ctx)
	if err != nil {
		t.Fatalf("list after remove: %v", err)
	}
	if len(listed) != 2 || listed[0].ID != c.ID || listed[1].ID != a.ID {
		t.Fatalf("expected [C A], got %+v", listed)
	}

	if err := service.Remove(ctx, b.ID); !apperrors.IsCode(err, apperrors.CodeNotFound) {
		t.Fatalf("expected %s on repeated remove, got %v", apperrors.CodeNotFound, err)
	}
}

func TestListCap(t *testing.T) {
	service := newTestService(t)
	ctx := authedContext()

	var newest Post
	for i := 0; i < ListLimit+3; i++ {
		post, err := service.Create(ctx, fmt.Sprintf("post-%d", i), "body")
		if err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
		newest = post
	}

	listed, err := service.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(listed) != ListLimit {
		t.Fatalf("expected list capped at %d, got %d", ListLimit, len(listed))
	}
	if listed[0].ID != newest.ID {
		t.Fatalf("expected newest post first, got %s", listed[0].ID)
	}
	for i := 1; i < len(listed); i++ {
		if listed[i].CreatedAt.After(listed[i-1].CreatedAt) {
			t.Fatalf("expected descending createdAt, got %v after %v", listed[i].CreatedAt, listed[i-1].CreatedAt)
		}
	}
}

func TestGet(t *testing.T) {
	service := newTestService(t)
	ctx := authedContext()

	created, err := service.Create(ctx, "hello", "world")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	post, found, err := service.Get(anonContext(), created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !found {
		t.Fatal("expected post to be found")
	}
	if post.Title != "hello" || post.Content != "world" {
		t.Fatalf("expected last-written fields, got %+v", post)
	}

	if _, found, err := service.Get(anonContext(), "never-inserted"); err != nil || found {
		t.Fatalf("expected (not found, nil), got (%v, %v)", found, err)
	}

	if err := service.Remove(ctx, created.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, found, err := service.Get(anonContext(), created.ID); err != nil || found {
		t.Fatalf("expected removed post to be gone, got (%v, %v)", found, err)
	}
}

func TestAnonymousReadsButCannotWrite(t *testing.T) {
	service := newTestService(t)

	if _, err := service.Create(authedContext(), "seed", "content"); err != nil {
		t.Fatalf("create: %v", err)
	}

	_, err := service.Create(anonContext(), "nope", "content")
	if !apperrors.IsCode(err, apperrors.CodeUnauthenticated) {
		t.Fatalf("expected %s, got %v", apperrors.CodeUnauthenticated, err)
	}

	listed, err := service.List(anonContext())
	if err != nil {
		t.Fatalf("anonymous list: %v", err)
	}
	if len(listed) != 1 {
		t.Fatalf("expected anonymous list to succeed with 1 post, got %d", len(listed))
	}
}

func TestCreateRequiresTitle(t *testing.T) {
	service := newTestService(t)

	_, err := service.Create(authedContext(), "", "content")
	if !apperrors.IsCode(err, apperrors.CodeInvalidArgument) {
		t.Fatalf("expected %s, got %v", apperrors.CodeInvalidArgument, err)
	}
}

func TestWatchReceivesExactlyOneSnapshotPerCreate(t *testing.T) {
	service := newTestService(t)
	ctx := authedContext()

	sub, err := service.Watch(ctx)
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	defer sub.Unsubscribe()

	initial := receiveSnapshot(t, sub)
	if len(initial.Docs) != 0 {
		t.Fatalf("expected empty initial snapshot, got %d docs", len(initial.Docs))
	}

	created, err := service.Create(ctx, "live", "content")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	snap := receiveSnapshot(t, sub)
	if snap.State != live.StateActive {
		t.Fatalf("expected active snapshot, got state %d", snap.State)
	}
	if len(snap.Docs) != 1 || snap.Docs[0].ID != created.ID {
		t.Fatalf("expected new post in snapshot, got %+v", snap.Docs)
	}

	// Exactly one: no duplicate snapshot follows.
	select {
	case extra := <-sub.Updates():
		t.Fatalf("expected no further snapshot, got %+v", extra)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestUpdatedAtIndexTracksReplace(t *testing.T) {
	schema, err := store.NewSchema(Schema())
	if err != nil {
		t.Fatalf("new schema: %v", err)
	}
	base := time.Date(2026, 7, 1, 8, 0, 0, 0, time.UTC)
	calls := 0
	clock := func() time.Time {
		calls++
		return base.Add(time.Duration(calls) * time.Millisecond)
	}
	st, err := storebbolt.Open(filepath.Join(t.TempDir(), "posts.db"), schema, storebbolt.WithClock(clock))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	ctx := context.Background()
	first, err := st.Insert(ctx, Table, map[string]any{"title": "first", "content": "one"})
	if err != nil {
		t.Fatalf("insert first: %v", err)
	}
	second, err := st.Insert(ctx, Table, map[string]any{"title": "second", "content": "two"})
	if err != nil {
		t.Fatalf("insert second: %v", err)
	}

	// Editing the older post moves it to the front of the updated view.
	if _, err := st.Replace(ctx, Table, first.ID, map[string]any{"title": "first", "content": "edited"}); err != nil {
		t.Fatalf("replace first: %v", err)
	}

	result, err := st.Scan(ctx, store.ScanSpec{
		Table: Table,
		Index: indexByUpdatedAt,
		Order: store.OrderDesc,
	})
	if err != nil {
		t.Fatalf("scan by_updated_at: %v", err)
	}
	if len(result.Docs) != 2 {
		t.Fatalf("expected 2 documents, got %d", len(result.Docs))
	}
	if result.Docs[0].ID != first.ID || result.Docs[1].ID != second.ID {
		t.Fatalf("expected edited post first, got %s then %s", result.Docs[0].ID, result.Docs[1].ID)
	}
}

func receiveSnapshot(t *testing.T, sub *live.Subscription) live.Snapshot {
	t.Helper()
	select {
	case snap, ok := <-sub.Updates():
		if !ok {
			t.Fatal("updates channel closed unexpectedly")
		}
		return snap
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for snapshot")
	}
	return live.Snapshot{}
}
