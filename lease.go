package splice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Lease is an exclusive, time-bounded right to finalize one object name.
type Lease interface {
	// Release gives up the lease. Releasing a lease that expired and was
	// taken over by another owner is a no-op.
	Release(ctx context.Context) error
}

// Locker hands out finalize leases.
//
// Acquire returns ErrLeaseHeld if another owner holds an unexpired lease for
// name. Expired leases are taken over so a crashed finalizer cannot wedge an
// object forever.
type Locker interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (Lease, error)
}

var errMalformedLease = errors.New("malformed lease marker")

type leaseRecord struct {
	Owner     string    `json:"owner"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// BlobLocker implements Locker with marker blobs inside the session prefix.
//
// Each acquire creates the next generation's marker through
// BlobStore.PutIfAbsent and then lists the markers again: if any other marker
// is live the new one is withdrawn. Two acquirers can therefore both back off,
// but never both hold the lease. Expired markers are removed by the next
// successful acquire.
type BlobLocker struct {
	store BlobStore
	now   func() time.Time
}

// NewBlobLocker creates a BlobLocker over store.
func NewBlobLocker(store BlobStore) *BlobLocker {
	return &BlobLocker{store: store, now: time.Now}
}

// Acquire takes the finalize lease for name for ttl.
func (l *BlobLocker) Acquire(ctx context.Context, name string, ttl time.Duration) (Lease, error) {
	prefix, err := SessionPrefix(name)
	if err != nil {
		return nil, fmt.Errorf("acquire lease: %w", err)
	}

	held, err := l.markers(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("acquire lease %q: %w", name, err)
	}
	gen := 1
	for _, m := range held {
		if l.live(m) {
			return nil, fmt.Errorf("acquire lease %q: %w", name, ErrLeaseHeld)
		}
		gen = max(gen, m.gen+1)
	}

	owner := uuid.NewString()
	data, err := json.Marshal(leaseRecord{Owner: owner, ExpiresAt: l.now().Add(ttl).UTC()})
	if err != nil {
		return nil, fmt.Errorf("acquire lease %q: %w", name, err)
	}
	key := LeaseKey(prefix, gen)
	if err := l.store.PutIfAbsent(ctx, key, bytes.NewReader(data)); err != nil {
		if errors.Is(err, ErrExists) {
			return nil, fmt.Errorf("acquire lease %q: %w", name, ErrLeaseHeld)
		}
		return nil, fmt.Errorf("acquire lease %q: %w", name, storageErr(err))
	}
	lease := &blobLease{store: l.store, key: key, owner: owner}

	held, err = l.markers(ctx, prefix)
	if err != nil {
		l.withdraw(ctx, name, lease)
		return nil, fmt.Errorf("acquire lease %q: %w", name, err)
	}
	for _, m := range held {
		if m.gen != gen && l.live(m) {
			l.withdraw(ctx, name, lease)
			return nil, fmt.Errorf("acquire lease %q: %w", name, ErrLeaseHeld)
		}
	}

	for _, m := range held {
		if m.gen >= gen {
			continue
		}
		slog.Warn("taking over expired finalize lease", "name", name, "generation", m.gen,
			"owner", m.rec.Owner, "expires_at", m.rec.ExpiresAt)
		if err := l.store.Delete(ctx, m.key); err != nil && !errors.Is(err, ErrNotFound) {
			slog.Warn("failed to remove expired finalize lease", "key", m.key, "error", err)
		}
	}

	return lease, nil
}

type leaseMarker struct {
	gen   int
	key   string
	rec   leaseRecord
	valid bool
}

// markers lists the lease markers under prefix. A marker that cannot be
// decoded is returned with valid unset and counts as expired.
func (l *BlobLocker) markers(ctx context.Context, prefix string) ([]leaseMarker, error) {
	entries, err := l.store.List(ctx, prefix)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr(err)
	}

	var result []leaseMarker
	for _, e := range entries {
		if e.Dir {
			continue
		}
		gen, ok := ParseLeaseGeneration(e.Name)
		if !ok {
			continue
		}
		m := leaseMarker{gen: gen, key: LeaseKey(prefix, gen)}
		rec, err := readLease(ctx, l.store, m.key)
		switch {
		case errors.Is(err, ErrNotFound):
			continue
		case err == nil:
			m.rec, m.valid = rec, true
		case errors.Is(err, ErrStorageUnavailable), errors.Is(err, context.Canceled),
			errors.Is(err, context.DeadlineExceeded):
			return nil, err
		}
		result = append(result, m)
	}
	return result, nil
}

func (l *BlobLocker) live(m leaseMarker) bool {
	return m.valid && l.now().Before(m.rec.ExpiresAt)
}

func (l *BlobLocker) withdraw(ctx context.Context, name string, lease *blobLease) {
	if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
		slog.Warn("failed to withdraw finalize lease", "name", name, "error", err)
	}
}

type blobLease struct {
	store BlobStore
	key   string
	owner string
}

func (b *blobLease) Release(ctx context.Context) error {
	held, err := readLease(ctx, b.store, b.key)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("release lease: %w", err)
	}
	if held.Owner != b.owner {
		return nil
	}
	if err := b.store.Delete(ctx, b.key); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("release lease: %w", storageErr(err))
	}
	return nil
}

func readLease(ctx context.Context, store BlobStore, key string) (leaseRecord, error) {
	rc, err := store.Get(ctx, key)
	if err != nil {
		return leaseRecord{}, storageErr(err)
	}
	defer func() { _ = rc.Close() }()

	var rec leaseRecord
	if err := json.NewDecoder(rc).Decode(&rec); err != nil {
		return leaseRecord{}, fmt.Errorf("%w: %w", errMalformedLease, err)
	}
	return rec, nil
}
