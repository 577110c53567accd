package navigation

import (
	"context"
	"testing"
	"time"

	"github.com/pitabwire/storefront/model"
)

func testSession(id string) Session {
	now := time.Now().UTC()
	return Session{
		ID:        id,
		State:     New(accessories()),
		Sort:      model.SortFeatured,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(time.Hour),
	}
}

func envelopeCode(t *testing.T, err error) string {
	t.Helper()
	envErr, ok := err.(*model.ErrorEnvelope)
	if !ok {
		t.Fatalf("error type = %T, want *model.ErrorEnvelope", err)
	}
	return envErr.Code
}

func TestMemorySessionStore_Create(t *testing.T) {
	store := NewMemorySessionStore()
	if err := store.Create(context.Background(), testSession("s-1")); err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if store.Len() != 1 {
		t.Errorf("Len() = %d, want 1", store.Len())
	}
}

func TestMemorySessionStore_Create_duplicate(t *testing.T) {
	store := NewMemorySessionStore()
	_ = store.Create(context.Background(), testSession("s-1"))

	err := store.Create(context.Background(), testSession("s-1"))
	if err == nil {
		t.Fatal("expected conflict error for duplicate")
	}
	if code := envelopeCode(t, err); code != model.ErrConflict {
		t.Errorf("code = %s, want %s", code, model.ErrConflict)
	}
}

func TestMemorySessionStore_Get_notFound(t *testing.T) {
	store := NewMemorySessionStore()
	_, err := store.Get(context.Background(), "missing")
	if err == nil {
		t.Fatal("expected not found error")
	}
	if code := envelopeCode(t, err); code != model.ErrNotFound {
		t.Errorf("code = %s, want %s", code, model.ErrNotFound)
	}
}

func TestMemorySessionStore_Update(t *testing.T) {
	store := NewMemorySessionStore()
	ctx := context.Background()
	sess := testSession("s-1")
	_ = store.Create(ctx, sess)

	sess.State = sess.State.SelectAtMain(accessories(), "For Him")
	updated, err := store.Update(ctx, sess)
	if err != nil {
		t.Fatalf("Update error: %v", err)
	}
	if updated.Version != 2 {
		t.Errorf("Version = %d, want 2", updated.Version)
	}

	got, _ := store.Get(ctx, "s-1")
	if got.Version != 2 {
		t.Errorf("stored Version = %d, want 2", got.Version)
	}
	if got.State.Level.Kind != LevelSubcategory {
		t.Errorf("stored Level.Kind = %v, want subcategory", got.State.Level.Kind)
	}
}

func TestMemorySessionStore_Update_versionConflict(t *testing.T) {
	store := NewMemorySessionStore()
	ctx := context.Background()
	sess := testSession("s-1")
	_ = store.Create(ctx, sess)

	if _, err := store.Update(ctx, sess); err != nil {
		t.Fatalf("first Update error: %v", err)
	}
	_, err := store.Update(ctx, sess)
	if err == nil {
		t.Fatal("expected version conflict")
	}
	if code := envelopeCode(t, err); code != model.ErrConflict {
		t.Errorf("code = %s, want %s", code, model.ErrConflict)
	}
}

func TestMemorySessionStore_expiry(t *testing.T) {
	store := NewMemorySessionStore()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	sess := testSession("s-1")
	sess.ExpiresAt = now.Add(time.Minute)
	_ = store.Create(context.Background(), sess)

	now = now.Add(2 * time.Minute)
	if _, err := store.Get(context.Background(), "s-1"); err == nil {
		t.Fatal("Get on expired session: expected not found")
	}
	if store.Len() != 0 {
		t.Errorf("Len() = %d, want expired session removed", store.Len())
	}
}

func TestMemorySessionStore_Sweep(t *testing.T) {
	store := NewMemorySessionStore()
	now := time.Now().UTC()

	live := testSession("live")
	stale := testSession("stale")
	stale.ExpiresAt = now.Add(-time.Second)
	forever := testSession("forever")
	forever.ExpiresAt = time.Time{}
	for _, s := range []Session{live, stale, forever} {
		store.sessions[s.ID] = s
	}

	if n := store.Sweep(now); n != 1 {
		t.Errorf("Sweep() = %d, want 1", n)
	}
	if store.Len() != 2 {
		t.Errorf("Len() = %d, want 2", store.Len())
	}
}

func TestMemorySessionStore_Delete(t *testing.T) {
	store := NewMemorySessionStore()
	ctx := context.Background()
	_ = store.Create(ctx, testSession("s-1"))

	if err := store.Delete(ctx, "s-1"); err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	if err := store.Delete(ctx, "s-1"); err == nil {
		t.Error("second Delete: expected not found")
	}
}
