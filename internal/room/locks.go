package room

import (
	"context"
	"encoding/json"
	"time"

	"github.com/masc-run/masc/internal/backend"
	"github.com/masc-run/masc/internal/masc"
	"github.com/masc-run/masc/internal/validate"
)

// Lock acquires an advisory lease lock on a repository-relative path,
// defaulting ttl to the 30-minute lock_expiry_minutes window (spec
// §4.3). If the previous holder's lease had already expired, Lock
// reclaims it silently for the caller but writes an audit record so the
// displaced owner is traceable.
func (r *Room) Lock(ctx context.Context, path, owner string, ttl time.Duration) error {
	if err := r.requireInit(ctx); err != nil {
		return err
	}
	if err := validate.SafePath(path); err != nil {
		return err
	}
	if err := validateAgentAndTask(owner, ""); err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = r.lockTTL
	}

	prev, hadPrev, err := r.rawLockRecord(ctx, path)
	if err != nil {
		return err
	}

	ok, err := r.backend.AcquireLock(ctx, path, owner, ttl)
	if err != nil {
		return err
	}
	if !ok {
		cur, found, _ := r.rawLockRecord(ctx, path)
		heldBy := owner
		if found {
			heldBy = cur.Owner
		}
		return masc.FileLocked(path, heldBy)
	}

	if hadPrev && prev.Owner != owner {
		r.recordEvent("lock_reclaimed", map[string]any{
			"file": path, "previous_owner": prev.Owner, "new_owner": owner,
			"expired_at": prev.ExpiresAt,
		})
	}
	return nil
}

// Unlock releases path iff owner is its recorded holder.
func (r *Room) Unlock(ctx context.Context, path, owner string) error {
	if err := r.requireInit(ctx); err != nil {
		return err
	}
	released, err := r.backend.ReleaseLock(ctx, path, owner)
	if err != nil {
		return err
	}
	if !released {
		return masc.NotOwner("unknown", owner).WithContext("file", path)
	}
	return nil
}

// ExtendLock renews path's lease for owner, failing with NotOwner if no
// lock record for path names owner. Expiry is not checked: a lapsed lease
// still recorded under owner is renewed.
func (r *Room) ExtendLock(ctx context.Context, path, owner string, ttl time.Duration) error {
	if err := r.requireInit(ctx); err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = r.lockTTL
	}
	ok, err := r.backend.ExtendLock(ctx, path, owner, ttl)
	if err != nil {
		return err
	}
	if !ok {
		return masc.NotOwner("unknown", owner).WithContext("file", path)
	}
	return nil
}

// LockStatus reports the current lock holder for path, or NotFound if
// unlocked.
func (r *Room) LockStatus(ctx context.Context, path string) (*backend.LockRecord, error) {
	if err := r.requireInit(ctx); err != nil {
		return nil, err
	}
	rec, found, err := r.rawLockRecord(ctx, path)
	if err != nil {
		return nil, err
	}
	if !found || rec.Expired(time.Now()) {
		return nil, masc.NotFound("lock", path)
	}
	return rec, nil
}

// rawLockRecord reads the lock record Backend wrote at "locks:"+path,
// which every driver stores through the same Get/Set path as ordinary
// keys (spec §4.2), without itself taking or releasing the lock.
func (r *Room) rawLockRecord(ctx context.Context, path string) (*backend.LockRecord, bool, error) {
	raw, found, err := r.backend.Get(ctx, "locks:"+path)
	if err != nil || !found {
		return nil, found, err
	}
	var rec backend.LockRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, false, masc.IoError("decode lock record", err)
	}
	return &rec, true, nil
}
