package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/julianstephens/guardian/internal/constants"
	"github.com/julianstephens/guardian/internal/models"
)

// ActiveMarker is the durable record of the session currently running for a user.
type ActiveMarker struct {
	SessionID string    `json:"session_id"`
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`
}

// Repository gives typed access to the per-user entities on top of a
// Provider. Read-modify-write operations on one user are serialized.
type Repository struct {
	p     Provider
	locks *keyedMutex
}

func NewRepository(p Provider) *Repository {
	return &Repository{p: p, locks: newKeyedMutex()}
}

// Provider returns the underlying key/value store.
func (r *Repository) Provider() Provider {
	return r.p
}

func (r *Repository) getJSON(ctx context.Context, userID, key string, v any) error {
	data, err := r.p.Get(ctx, userID, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

func (r *Repository) putJSON(ctx context.Context, userID, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return r.p.Put(ctx, userID, key, data)
}

// LoadProfile returns ErrNotFound for a user never seen before.
func (r *Repository) LoadProfile(ctx context.Context, userID string) (models.Profile, error) {
	var p models.Profile
	if err := r.getJSON(ctx, userID, constants.KeyProfile, &p); err != nil {
		return models.Profile{}, err
	}
	normalizeProfile(&p)
	return p, nil
}

// LoadOrCreateProfile returns the stored profile or persists a new one.
func (r *Repository) LoadOrCreateProfile(ctx context.Context, userID string, now time.Time) (models.Profile, error) {
	unlock := r.locks.Lock(userID)
	defer unlock()

	p, err := r.LoadProfile(ctx, userID)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return models.Profile{}, err
	}
	p = models.NewProfile(userID, now)
	if err := r.putJSON(ctx, userID, constants.KeyProfile, p); err != nil {
		return models.Profile{}, err
	}
	return p, nil
}

// UpdateProfile applies fn to the current profile (creating it if needed)
// and stores the result with Version incremented. fn returning an error
// aborts the write.
func (r *Repository) UpdateProfile(ctx context.Context, userID string, now time.Time, fn func(*models.Profile) error) (models.Profile, error) {
	unlock := r.locks.Lock(userID)
	defer unlock()

	return r.updateProfileLocked(ctx, userID, now, fn)
}

func (r *Repository) updateProfileLocked(ctx context.Context, userID string, now time.Time, fn func(*models.Profile) error) (models.Profile, error) {
	p, err := r.LoadProfile(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		p, err = models.NewProfile(userID, now), nil
		p.Version = 0
	}
	if err != nil {
		return models.Profile{}, err
	}

	if err := fn(&p); err != nil {
		return models.Profile{}, err
	}
	p.UserID = userID
	p.Version++
	p.UpdatedAt = now

	if err := r.putJSON(ctx, userID, constants.KeyProfile, p); err != nil {
		return models.Profile{}, err
	}
	return p, nil
}

func recordKey(rec models.SessionRecord) string {
	return constants.KeySessionPrefix + rec.StartedAt.UTC().Format("20060102T150405Z") + "/" + rec.SessionID
}

// CommitSession folds the session into the profile and then persists the
// record, in one per-user critical section. The profile goes first so a
// failure never leaves a record that History does not mention; when the
// record write fails the previous profile is put back.
func (r *Repository) CommitSession(ctx context.Context, rec models.SessionRecord, fold func(*models.Profile) error) (models.Profile, error) {
	unlock := r.locks.Lock(rec.UserID)
	defer unlock()

	prev, err := r.p.Get(ctx, rec.UserID, constants.KeyProfile)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return models.Profile{}, fmt.Errorf("update profile: %w", err)
	}
	p, err := r.updateProfileLocked(ctx, rec.UserID, rec.ClosedAt, fold)
	if err != nil {
		return models.Profile{}, fmt.Errorf("update profile: %w", err)
	}

	if err := r.putJSON(ctx, rec.UserID, recordKey(rec), rec); err != nil {
		var undo error
		if prev != nil {
			undo = r.p.Put(ctx, rec.UserID, constants.KeyProfile, prev)
		} else {
			undo = r.p.Delete(ctx, rec.UserID, constants.KeyProfile)
		}
		if undo != nil {
			return models.Profile{}, fmt.Errorf("save session record: %w (profile rollback failed: %v)", err, undo)
		}
		return models.Profile{}, fmt.Errorf("save session record: %w", err)
	}
	return p, nil
}

// ListSessionRecords returns stored records oldest first.
func (r *Repository) ListSessionRecords(ctx context.Context, userID string) ([]models.SessionRecord, error) {
	entries, err := r.p.Query(ctx, userID, constants.KeySessionPrefix)
	if err != nil {
		return nil, err
	}
	out := make([]models.SessionRecord, 0, len(entries))
	for _, e := range entries {
		var rec models.SessionRecord
		if err := json.Unmarshal(e.Value, &rec); err != nil {
			return nil, fmt.Errorf("decode %s: %w", e.Key, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// ActiveSession returns the durable active-session marker, or ErrNotFound.
func (r *Repository) ActiveSession(ctx context.Context, userID string) (ActiveMarker, error) {
	var m ActiveMarker
	if err := r.getJSON(ctx, userID, constants.KeyActiveSession, &m); err != nil {
		return ActiveMarker{}, err
	}
	return m, nil
}

// AcquireSession writes the active-session marker. A marker held by another
// session yields ErrMarkerHeld unless force is set.
func (r *Repository) AcquireSession(ctx context.Context, userID, sessionID string, now time.Time, force bool) error {
	unlock := r.locks.Lock(userID)
	defer unlock()

	current, err := r.ActiveSession(ctx, userID)
	switch {
	case err == nil:
		if current.SessionID != sessionID && !force {
			return fmt.Errorf("%w: session %s started %s", ErrMarkerHeld, current.SessionID, current.StartedAt.Format(time.RFC3339))
		}
	case !errors.Is(err, ErrNotFound):
		return err
	}

	return r.putJSON(ctx, userID, constants.KeyActiveSession, ActiveMarker{
		SessionID: sessionID,
		PID:       os.Getpid(),
		StartedAt: now,
	})
}

// ReleaseSession clears the marker if sessionID still owns it.
func (r *Repository) ReleaseSession(ctx context.Context, userID, sessionID string) error {
	unlock := r.locks.Lock(userID)
	defer unlock()

	current, err := r.ActiveSession(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if current.SessionID != sessionID {
		return nil
	}
	return r.p.Delete(ctx, userID, constants.KeyActiveSession)
}

// ClearSession removes any marker regardless of owner.
func (r *Repository) ClearSession(ctx context.Context, userID string) error {
	unlock := r.locks.Lock(userID)
	defer unlock()
	return r.p.Delete(ctx, userID, constants.KeyActiveSession)
}

func normalizeProfile(p *models.Profile) {
	if p.FatigueTriggers == nil {
		p.FatigueTriggers = map[string]int{}
	}
	if p.InterventionStats == nil {
		p.InterventionStats = map[models.InterventionKind]models.InterventionStat{}
	}
}

// keyedMutex hands out one mutex per key and frees it when unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: map[string]*refMutex{}}
}

// Lock blocks until key is free and returns its unlock function.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
