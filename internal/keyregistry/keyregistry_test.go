package keyregistry

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/yourusername/edge-proxy/internal/statestore"
)

func newTestRegistry() *Registry {
	return New(statestore.NewMemoryStore(false), "apikeys", zap.NewNop())
}

func TestCreateThenValidate(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()

	rawKey, record, err := r.Create(ctx, CreateParams{Owner: "mobile-team"})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if rawKey == "" || record.KeyID == "" {
		t.Fatal("expected non-empty raw key and keyId")
	}

	consumer, err := r.Validate(ctx, rawKey)
	if err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	if consumer == nil {
		t.Fatal("expected a consumer for a freshly created key")
	}
	if consumer.KeyID != record.KeyID || consumer.Owner != "mobile-team" {
		t.Fatalf("unexpected consumer: %+v", consumer)
	}
}

func TestValidateUnknownKeyReturnsNilNil(t *testing.T) {
	r := newTestRegistry()
	consumer, err := r.Validate(context.Background(), "not-a-real-key")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if consumer != nil {
		t.Fatalf("expected nil consumer for unknown key, got %+v", consumer)
	}
}

func TestRevokedKeyDoesNotValidate(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()
	rawKey, record, _ := r.Create(ctx, CreateParams{Owner: "x"})

	if err := r.Revoke(ctx, record.KeyID); err != nil {
		t.Fatalf("revoke failed: %v", err)
	}

	consumer, err := r.Validate(ctx, rawKey)
	if err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	if consumer != nil {
		t.Fatal("expected revoked key to fail validation")
	}
}

func TestActivateRestoresValidation(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()
	rawKey, record, _ := r.Create(ctx, CreateParams{Owner: "x"})
	_ = r.Revoke(ctx, record.KeyID)
	if err := r.Activate(ctx, record.KeyID); err != nil {
		t.Fatalf("activate failed: %v", err)
	}

	consumer, err := r.Validate(ctx, rawKey)
	if err != nil || consumer == nil {
		t.Fatalf("expected reactivated key to validate, got consumer=%v err=%v", consumer, err)
	}
}

func TestExpiredKeyDoesNotValidate(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()
	past := time.Now().Add(-time.Hour)
	rawKey, _, _ := r.Create(ctx, CreateParams{Owner: "x", ExpiresAt: &past})

	consumer, err := r.Validate(ctx, rawKey)
	if err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	if consumer != nil {
		t.Fatal("expected expired key to fail validation")
	}
}

func TestDeleteRemovesRecordAndHashIndex(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()
	rawKey, record, _ := r.Create(ctx, CreateParams{Owner: "x"})

	if err := r.Delete(ctx, record.KeyID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	consumer, err := r.Validate(ctx, rawKey)
	if err != nil || consumer != nil {
		t.Fatalf("expected deleted key to fail validation, got consumer=%v err=%v", consumer, err)
	}

	if err := r.Delete(ctx, record.KeyID); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound deleting twice, got %v", err)
	}
}

func TestListOrdersByCreatedAtDescending(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()
	_, r1, _ := r.Create(ctx, CreateParams{Owner: "first"})
	time.Sleep(2 * time.Millisecond)
	_, r2, _ := r.Create(ctx, CreateParams{Owner: "second"})

	list, err := r.List(ctx)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(list) != 2 || list[0].KeyID != r2.KeyID || list[1].KeyID != r1.KeyID {
		t.Fatalf("expected descending createdAt order, got %+v", list)
	}
}

func TestListSelfHealsDanglingIndexEntry(t *testing.T) {
	store := statestore.NewMemoryStore(false)
	r := New(store, "apikeys", zap.NewNop())
	ctx := context.Background()

	// Inject a dangling index member with no backing record.
	if err := store.SAdd(ctx, "apikeys:index", "ghost-key-id"); err != nil {
		t.Fatal(err)
	}
	_, _, err := r.Create(ctx, CreateParams{Owner: "real"})
	if err != nil {
		t.Fatal(err)
	}

	list, err := r.List(ctx)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected the dangling entry to be dropped, got %+v", list)
	}

	members, _ := store.SMembers(ctx, "apikeys:index")
	for _, m := range members {
		if m == "ghost-key-id" {
			t.Fatal("expected dangling index entry to be self-healed away")
		}
	}
}
