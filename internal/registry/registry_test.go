package registry

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/deskbridge-io/deskbridge/internal/store/sqlite"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	st, err := sqlite.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return New(st, nil)
}

func TestSubscribeAndList(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	if err := r.Subscribe(ctx, "u1", "SUP-1", "Open"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := r.Subscribe(ctx, "u1", "SUP-2", "In Progress"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := r.Subscribe(ctx, "u2", "SUP-1", "Open"); err != nil {
		t.Fatalf("subscribe other user: %v", err)
	}

	subs, err := r.ListUser(ctx, "u1")
	if err != nil {
		t.Fatalf("list user: %v", err)
	}
	if len(subs) != 2 {
		t.Fatalf("u1 has %d subscriptions, want 2", len(subs))
	}
	if subs[0].Status != "Open" && subs[1].Status != "Open" {
		t.Error("initial status not recorded")
	}

	all, err := r.ListAll(ctx)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("total subscriptions = %d, want 3", len(all))
	}
}

func TestSubscribeTwiceIsRejected(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	if err := r.Subscribe(ctx, "u1", "SUP-1", "Open"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	err := r.Subscribe(ctx, "u1", "SUP-1", "Open")
	if !errors.Is(err, ErrAlreadySubscribed) {
		t.Fatalf("err = %v, want ErrAlreadySubscribed", err)
	}

	subs, _ := r.ListUser(ctx, "u1")
	if len(subs) != 1 {
		t.Errorf("duplicate subscribe left %d records, want 1", len(subs))
	}
}

func TestUnsubscribe(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	if err := r.Subscribe(ctx, "u1", "SUP-1", "Open"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := r.Unsubscribe(ctx, "u1", "SUP-1"); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}

	subs, _ := r.ListUser(ctx, "u1")
	if len(subs) != 0 {
		t.Errorf("%d records left after unsubscribe, want 0", len(subs))
	}

	err := r.Unsubscribe(ctx, "u1", "SUP-1")
	if !errors.Is(err, ErrNotSubscribed) {
		t.Fatalf("err = %v, want ErrNotSubscribed", err)
	}
}

func TestUpdateStatus(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	if err := r.Subscribe(ctx, "u1", "SUP-1", "Open"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := r.UpdateStatus(ctx, "u1", "SUP-1", "In Progress"); err != nil {
		t.Fatalf("update status: %v", err)
	}

	subs, _ := r.ListUser(ctx, "u1")
	if len(subs) != 1 || subs[0].Status != "In Progress" {
		t.Errorf("subs = %+v", subs)
	}
}
