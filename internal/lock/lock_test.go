package lock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tenantd/tenantd/internal/storage"
)

// newTestService returns a lock service with a controllable clock.
func newTestService(t *testing.T) (*Service, *time.Time) {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := New(s)
	svc.now = func() time.Time { return now }
	return svc, &now
}

func TestAcquire_FreshLock(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	res, err := svc.Acquire(ctx, "job-x", 5, "")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Acquired {
		t.Fatal("Acquired = false, want true")
	}
	if res.HolderToken == "" {
		t.Error("expected a generated holder token")
	}
}

func TestAcquire_HeldByAnother(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	a, err := svc.Acquire(ctx, "job-x", 5, "")
	if err != nil {
		t.Fatal(err)
	}

	b, err := svc.Acquire(ctx, "job-x", 5, "")
	if err != nil {
		t.Fatal(err)
	}
	if b.Acquired {
		t.Fatal("second acquire succeeded while lock held")
	}
	if b.HolderToken != a.HolderToken {
		t.Errorf("conflict result token = %q, want current holder %q", b.HolderToken, a.HolderToken)
	}
	if !b.ExpiresAt.Equal(a.ExpiresAt) {
		t.Errorf("conflict result expiry = %v, want %v", b.ExpiresAt, a.ExpiresAt)
	}
}

func TestAcquire_AfterExpiry(t *testing.T) {
	svc, now := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Acquire(ctx, "job-x", 5, ""); err != nil {
		t.Fatal(err)
	}

	*now = now.Add(6 * time.Second)

	res, err := svc.Acquire(ctx, "job-x", 5, "")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Acquired {
		t.Fatal("acquire after expiry failed")
	}
}

func TestAcquire_SuppliedToken(t *testing.T) {
	svc, _ := newTestService(t)

	res, err := svc.Acquire(context.Background(), "job-x", 5, "worker-7")
	if err != nil {
		t.Fatal(err)
	}
	if res.HolderToken != "worker-7" {
		t.Errorf("token = %q, want worker-7", res.HolderToken)
	}
}

func TestRelease_TokenMismatch(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Acquire(ctx, "job-x", 5, "owner"); err != nil {
		t.Fatal(err)
	}

	_, err := svc.Release(ctx, "job-x", "impostor")
	if !errors.Is(err, ErrTokenMismatch) {
		t.Fatalf("err = %v, want ErrTokenMismatch", err)
	}

	// Lock must still be held.
	check, err := svc.Check(ctx, "job-x")
	if err != nil {
		t.Fatal(err)
	}
	if !check.Held {
		t.Error("lock released despite token mismatch")
	}
}

func TestRelease_AfterExpiryAndReacquire(t *testing.T) {
	svc, now := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Acquire(ctx, "job-x", 5, "first"); err != nil {
		t.Fatal(err)
	}
	*now = now.Add(10 * time.Second)
	if _, err := svc.Acquire(ctx, "job-x", 5, "second"); err != nil {
		t.Fatal(err)
	}

	// The original holder's lease expired and was reacquired; its token
	// must no longer release the lock.
	_, err := svc.Release(ctx, "job-x", "first")
	if !errors.Is(err, ErrTokenMismatch) {
		t.Fatalf("err = %v, want ErrTokenMismatch", err)
	}
}

func TestRelease_Succeeds(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	res, err := svc.Acquire(ctx, "job-x", 5, "")
	if err != nil {
		t.Fatal(err)
	}
	released, err := svc.Release(ctx, "job-x", res.HolderToken)
	if err != nil {
		t.Fatal(err)
	}
	if !released {
		t.Fatal("released = false")
	}

	check, err := svc.Check(ctx, "job-x")
	if err != nil {
		t.Fatal(err)
	}
	if check.Held {
		t.Error("lock still held after release")
	}
}

func TestExtend(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	res, err := svc.Acquire(ctx, "job-x", 5, "")
	if err != nil {
		t.Fatal(err)
	}
	lk, err := svc.Extend(ctx, "job-x", res.HolderToken, 30)
	if err != nil {
		t.Fatal(err)
	}
	want := res.ExpiresAt.Add(30 * time.Second)
	if !lk.ExpiresAt.Equal(want) {
		t.Errorf("expiry = %v, want %v", lk.ExpiresAt, want)
	}
}

func TestExtend_TokenMismatch(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Acquire(ctx, "job-x", 5, "owner"); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Extend(ctx, "job-x", "other", 30); !errors.Is(err, ErrTokenMismatch) {
		t.Fatalf("err = %v, want ErrTokenMismatch", err)
	}
}

func TestCheck_ExpiredIsFree(t *testing.T) {
	svc, now := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Acquire(ctx, "job-x", 5, ""); err != nil {
		t.Fatal(err)
	}
	*now = now.Add(6 * time.Second)

	check, err := svc.Check(ctx, "job-x")
	if err != nil {
		t.Fatal(err)
	}
	if check.Held {
		t.Error("expired lock reported as held")
	}
}

func TestList_LiveOnly(t *testing.T) {
	svc, now := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Acquire(ctx, "short", 2, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Acquire(ctx, "long", 60, ""); err != nil {
		t.Fatal(err)
	}
	*now = now.Add(5 * time.Second)

	locks, err := svc.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(locks) != 1 || locks[0].Name != "long" {
		t.Errorf("got %+v, want only the live lock \"long\"", locks)
	}
}
