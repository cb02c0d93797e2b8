package storage_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/julianstephens/guardian/internal/constants"
	"github.com/julianstephens/guardian/internal/models"
	"github.com/julianstephens/guardian/internal/storage"
	"github.com/julianstephens/guardian/internal/storage/memory"
)

func newRepo(t *testing.T) (*storage.Repository, *memory.Store) {
	t.Helper()
	mem := memory.NewStore()
	if err := mem.Init(); err != nil {
		t.Fatal(err)
	}
	return storage.NewRepository(mem), mem
}

var t0 = time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)

func TestLoadOrCreateProfile(t *testing.T) {
	ctx := context.Background()
	repo, _ := newRepo(t)

	if _, err := repo.LoadProfile(ctx, "u1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("LoadProfile() error = %v, want ErrNotFound", err)
	}

	p, err := repo.LoadOrCreateProfile(ctx, "u1", t0)
	if err != nil {
		t.Fatalf("LoadOrCreateProfile() error = %v", err)
	}
	if p.UserID != "u1" || p.Version != 1 || !p.CreatedAt.Equal(t0) {
		t.Errorf("new profile = %+v", p)
	}

	again, err := repo.LoadOrCreateProfile(ctx, "u1", t0.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if !again.CreatedAt.Equal(t0) {
		t.Errorf("second call recreated profile: CreatedAt = %v", again.CreatedAt)
	}
	if again.FatigueTriggers == nil || again.InterventionStats == nil {
		t.Error("loaded profile maps not initialized")
	}
}

func TestUpdateProfileBumpsVersion(t *testing.T) {
	ctx := context.Background()
	repo, _ := newRepo(t)

	p, err := repo.UpdateProfile(ctx, "u1", t0, func(p *models.Profile) error {
		p.Goals = append(p.Goals, models.Goal{Name: "write report", Category: "writing", DurationMin: 60, Load: models.LoadHigh})
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if p.Version != 1 || len(p.Goals) != 1 {
		t.Errorf("first update = version %d, goals %d", p.Version, len(p.Goals))
	}

	p, err = repo.UpdateProfile(ctx, "u1", t0.Add(time.Minute), func(p *models.Profile) error {
		p.PeakFocus = []models.TimeRange{{Start: "09:00", End: "11:00"}}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if p.Version != 2 || len(p.Goals) != 1 || len(p.PeakFocus) != 1 {
		t.Errorf("second update = %+v", p)
	}
}

func TestUpdateProfileAbort(t *testing.T) {
	ctx := context.Background()
	repo, _ := newRepo(t)
	if _, err := repo.LoadOrCreateProfile(ctx, "u1", t0); err != nil {
		t.Fatal(err)
	}

	boom := errors.New("boom")
	_, err := repo.UpdateProfile(ctx, "u1", t0, func(p *models.Profile) error {
		p.Goals = append(p.Goals, models.Goal{Name: "x"})
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("UpdateProfile() error = %v, want boom", err)
	}
	p, _ := repo.LoadProfile(ctx, "u1")
	if len(p.Goals) != 0 || p.Version != 1 {
		t.Errorf("aborted update was written: %+v", p)
	}
}

func TestConcurrentHistoryAppendsAreNotLost(t *testing.T) {
	ctx := context.Background()
	repo, _ := newRepo(t)

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec := models.SessionRecord{
				SessionID: string(rune('a' + i)),
				UserID:    "u1",
				StartedAt: t0.Add(time.Duration(i) * time.Minute),
				ClosedAt:  t0.Add(time.Duration(i)*time.Minute + time.Second),
			}
			_, err := repo.CommitSession(ctx, rec, func(p *models.Profile) error {
				p.History = append(p.History, models.SessionSummary{SessionID: rec.SessionID})
				return nil
			})
			if err != nil {
				t.Errorf("CommitSession() error = %v", err)
			}
		}(i)
	}
	wg.Wait()

	p, err := repo.LoadProfile(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(p.History) != n {
		t.Errorf("history length = %d, want %d", len(p.History), n)
	}

	records, err := repo.ListSessionRecords(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != n {
		t.Fatalf("records = %d, want %d", len(records), n)
	}
	for i := 1; i < len(records); i++ {
		if records[i].StartedAt.Before(records[i-1].StartedAt) {
			t.Errorf("records not in start order at %d", i)
		}
	}
}

func TestCommitSessionStorageDown(t *testing.T) {
	ctx := context.Background()
	repo, mem := newRepo(t)
	mem.Fail(errors.New("offline"))

	_, err := repo.CommitSession(ctx, models.SessionRecord{SessionID: "s1", UserID: "u1"}, func(*models.Profile) error { return nil })
	if !errors.Is(err, storage.ErrUnavailable) {
		t.Errorf("CommitSession() error = %v, want ErrUnavailable", err)
	}
}

// recordWriteFails rejects session record writes and passes everything
// else through.
type recordWriteFails struct {
	*memory.Store
}

func (f recordWriteFails) Put(ctx context.Context, userID, key string, value []byte) error {
	if strings.HasPrefix(key, constants.KeySessionPrefix) {
		return fmt.Errorf("%w: disk full", storage.ErrUnavailable)
	}
	return f.Store.Put(ctx, userID, key, value)
}

func appendSummary(id string) func(*models.Profile) error {
	return func(p *models.Profile) error {
		p.History = append(p.History, models.SessionSummary{SessionID: id})
		return nil
	}
}

func TestCommitSessionFailureBetweenWritesLeavesNoRecord(t *testing.T) {
	ctx := context.Background()
	repo, mem := newRepo(t)

	rec := models.SessionRecord{SessionID: "s1", UserID: "u1", StartedAt: t0, ClosedAt: t0.Add(time.Hour)}
	_, err := repo.CommitSession(ctx, rec, func(p *models.Profile) error {
		// storage drops out after the fold has run
		mem.Fail(errors.New("offline"))
		return appendSummary("s1")(p)
	})
	if !errors.Is(err, storage.ErrUnavailable) {
		t.Fatalf("CommitSession() error = %v, want ErrUnavailable", err)
	}
	mem.Fail(nil)

	records, err := repo.ListSessionRecords(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 0 {
		t.Errorf("orphan records = %d, want 0", len(records))
	}
	if _, err := repo.LoadProfile(ctx, "u1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("LoadProfile() error = %v, want ErrNotFound", err)
	}
}

func TestCommitSessionRecordFailureRollsBackProfile(t *testing.T) {
	ctx := context.Background()
	mem := memory.NewStore()
	if err := mem.Init(); err != nil {
		t.Fatal(err)
	}

	// one earlier session committed normally
	good := storage.NewRepository(mem)
	first := models.SessionRecord{SessionID: "s1", UserID: "u1", StartedAt: t0, ClosedAt: t0.Add(time.Hour)}
	before, err := good.CommitSession(ctx, first, appendSummary("s1"))
	if err != nil {
		t.Fatal(err)
	}

	repo := storage.NewRepository(recordWriteFails{mem})
	second := models.SessionRecord{SessionID: "s2", UserID: "u1", StartedAt: t0.Add(2 * time.Hour), ClosedAt: t0.Add(3 * time.Hour)}
	if _, err := repo.CommitSession(ctx, second, appendSummary("s2")); !errors.Is(err, storage.ErrUnavailable) {
		t.Fatalf("CommitSession() error = %v, want ErrUnavailable", err)
	}

	p, err := good.LoadProfile(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if p.Version != before.Version || len(p.History) != 1 || p.History[0].SessionID != "s1" {
		t.Errorf("profile after failed commit = version %d history %+v, want version %d with s1 only", p.Version, p.History, before.Version)
	}
	records, err := good.ListSessionRecords(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 || records[0].SessionID != "s1" {
		t.Errorf("records = %+v, want s1 only", records)
	}

	// a first-ever session whose record fails leaves no profile behind
	other := models.SessionRecord{SessionID: "s3", UserID: "u2", StartedAt: t0, ClosedAt: t0.Add(time.Hour)}
	if _, err := repo.CommitSession(ctx, other, appendSummary("s3")); err == nil {
		t.Fatal("CommitSession() succeeded with failing record writes")
	}
	if _, err := good.LoadProfile(ctx, "u2"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("LoadProfile(u2) error = %v, want ErrNotFound", err)
	}
}

func TestSessionRecordsKeepTypedPayloads(t *testing.T) {
	ctx := context.Background()
	repo, _ := newRepo(t)

	rec := models.SessionRecord{
		SessionID: "s1", UserID: "u1", StartedAt: t0, ClosedAt: t0.Add(time.Hour),
		Messages: []models.Message{
			{ID: "m1", Type: models.MsgBurnoutAlert, Sender: models.RoleSentinel, Timestamp: t0,
				Payload: models.BurnoutAlert{Severity: "high"}},
			{ID: "m2", Type: models.MsgPlanRevision, Sender: models.RolePlanner, Timestamp: t0,
				Payload: models.PlanRevision{RevisionID: "r1", Kind: models.RevisionPatch, Status: models.RevisionApplied}},
			{ID: "m3", Type: models.MsgInterventionOutcome, Sender: models.RoleCoach, Timestamp: t0,
				Payload: models.InterventionOutcome{Accepted: true, RevisionID: "r1", RevisionApplied: true}},
		},
	}
	if _, err := repo.CommitSession(ctx, rec, appendSummary("s1")); err != nil {
		t.Fatal(err)
	}

	records, err := repo.ListSessionRecords(ctx, "u1")
	if err != nil {
		t.Fatalf("ListSessionRecords() error = %v", err)
	}
	if len(records) != 1 || len(records[0].Messages) != 3 {
		t.Fatalf("records = %+v", records)
	}
	msgs := records[0].Messages
	if a, ok := msgs[0].Payload.(models.BurnoutAlert); !ok || a.Severity != "high" {
		t.Errorf("alert payload = %#v", msgs[0].Payload)
	}
	if r, ok := msgs[1].Payload.(models.PlanRevision); !ok || r.Kind != models.RevisionPatch || r.Status != models.RevisionApplied {
		t.Errorf("revision payload = %#v", msgs[1].Payload)
	}
	if o, ok := msgs[2].Payload.(models.InterventionOutcome); !ok || !o.RevisionApplied {
		t.Errorf("outcome payload = %#v", msgs[2].Payload)
	}
}

func TestActiveSessionMarker(t *testing.T) {
	ctx := context.Background()
	repo, _ := newRepo(t)

	if err := repo.AcquireSession(ctx, "u1", "s1", t0, false); err != nil {
		t.Fatalf("AcquireSession(s1) error = %v", err)
	}
	if err := repo.AcquireSession(ctx, "u1", "s1", t0, false); err != nil {
		t.Errorf("re-acquire by owner error = %v", err)
	}
	if err := repo.AcquireSession(ctx, "u1", "s2", t0, false); !errors.Is(err, storage.ErrMarkerHeld) {
		t.Errorf("AcquireSession(s2) error = %v, want ErrMarkerHeld", err)
	}
	if err := repo.AcquireSession(ctx, "u2", "s3", t0, false); err != nil {
		t.Errorf("other user blocked: %v", err)
	}

	// a non-owner release leaves the marker in place
	if err := repo.ReleaseSession(ctx, "u1", "s2"); err != nil {
		t.Fatal(err)
	}
	m, err := repo.ActiveSession(ctx, "u1")
	if err != nil || m.SessionID != "s1" {
		t.Errorf("ActiveSession() = %+v, %v; want s1", m, err)
	}

	if err := repo.ReleaseSession(ctx, "u1", "s1"); err != nil {
		t.Fatal(err)
	}
	if _, err := repo.ActiveSession(ctx, "u1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("marker still present after release: %v", err)
	}

	if err := repo.AcquireSession(ctx, "u1", "s4", t0, false); err != nil {
		t.Fatal(err)
	}
	if err := repo.AcquireSession(ctx, "u1", "s5", t0, true); err != nil {
		t.Errorf("forced acquire error = %v", err)
	}
	if err := repo.ClearSession(ctx, "u1"); err != nil {
		t.Fatal(err)
	}
	if _, err := repo.ActiveSession(ctx, "u1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("ClearSession left marker: %v", err)
	}
}
