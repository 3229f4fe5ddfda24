package registry

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/lcerda/pushledger/internal/docstore"
	"github.com/lcerda/pushledger/internal/retry"
)

func newTestRegistry(t *testing.T) (*TokenRegistry, *docstore.Memory) {
	t.Helper()

	store := docstore.NewMemory()
	r, err := New(store, retry.Policy{Delay: time.Millisecond, MaxRetries: 2}, zap.NewNop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return r, store
}

func TestRegisterAndListByUser(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	r, _ := newTestRegistry(t)

	if err := r.Register(ctx, "u1", "tok-a"); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := r.Register(ctx, "u1", "tok-b"); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := r.Register(ctx, "u2", "tok-c"); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	tokens, err := r.ListByUser(ctx, "u1")
	if err != nil {
		t.Fatalf("ListByUser() error = %v", err)
	}
	if len(tokens) != 2 {
		t.Fatalf("len(tokens) = %d, want 2", len(tokens))
	}
	if tokens[0] != "tok-a" || tokens[1] != "tok-b" {
		t.Fatalf("tokens = %v, want [tok-a tok-b]", tokens)
	}
}

func TestRegisterExistingTokenIsSuccess(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	r, _ := newTestRegistry(t)

	if err := r.Register(ctx, "u1", "tok-a"); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := r.Register(ctx, "u1", "tok-a"); err != nil {
		t.Fatalf("re-Register() error = %v, want nil", err)
	}
}

func TestListByUserEmpty(t *testing.T) {
	t.Parallel()

	r, _ := newTestRegistry(t)
	tokens, err := r.ListByUser(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("ListByUser() error = %v", err)
	}
	if len(tokens) != 0 {
		t.Fatalf("len(tokens) = %d, want 0", len(tokens))
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	r, store := newTestRegistry(t)

	if err := r.Register(ctx, "u1", "tok-a"); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := r.Delete(ctx, "tok-a"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := r.Delete(ctx, "tok-a"); err != nil {
		t.Fatalf("second Delete() error = %v, want nil", err)
	}

	docs, err := store.Query(ctx, Collection)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(docs) != 0 {
		t.Fatalf("remaining docs = %d, want 0", len(docs))
	}
}

func TestValidation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	r, _ := newTestRegistry(t)

	if err := r.Register(ctx, "", "tok"); err == nil {
		t.Fatal("expected error for empty user id")
	}
	if err := r.Register(ctx, "u1", ""); err == nil {
		t.Fatal("expected error for empty token")
	}
	if _, err := r.ListByUser(ctx, " "); err == nil {
		t.Fatal("expected error for blank user id")
	}
	if err := r.Delete(ctx, ""); err == nil {
		t.Fatal("expected error for empty token")
	}
}
