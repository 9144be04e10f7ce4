package storage

import (
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestMigrationsIdempotent runs Open twice on the same database and verifies
// the schema_version count stays correct (migration not re-applied).
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}
	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	if len(v1) != len(v2) {
		t.Errorf("migration count changed: %d -> %d", len(v1), len(v2))
	}
	if len(v2) != 2 {
		t.Errorf("applied migrations = %v, want 2", v2)
	}
}

func TestKV_GetMissingKey(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.Get("feedbackLog"); err != ErrNotFound {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestKV_SetOverwrites(t *testing.T) {
	s := openTestStore(t)

	if err := s.Set("verboseMode", "false"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Set("verboseMode", "true"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, err := s.Get("verboseMode")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != "true" {
		t.Errorf("value = %q, want %q", got, "true")
	}
	if _, err := s.UpdatedAt("verboseMode"); err != nil {
		t.Errorf("UpdatedAt: %v", err)
	}
}

func TestEntries_SaveListAddress(t *testing.T) {
	s := openTestStore(t)

	for i, fb := range []string{"first", "second", "third"} {
		e := Entry{
			ID:        fb,
			CreatedAt: time.Now().UTC(),
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			URL:       "https://example.com/",
			Title:     "Example",
			Feedback:  fb,
			Source:    "page",
		}
		if err := s.SaveEntry(e); err != nil {
			t.Fatalf("SaveEntry #%d: %v", i, err)
		}
	}

	entries, err := s.ListEntries(10, 0)
	if err != nil {
		t.Fatalf("ListEntries: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(entries))
	}
	for i, want := range []string{"first", "second", "third"} {
		if entries[i].Feedback != want {
			t.Errorf("entries[%d].Feedback = %q, want %q", i, entries[i].Feedback, want)
		}
	}

	page, err := s.ListEntries(1, 1)
	if err != nil {
		t.Fatalf("ListEntries page: %v", err)
	}
	if len(page) != 1 || page[0].ID != "second" {
		t.Errorf("paged entries = %+v, want [second]", page)
	}

	if err := s.MarkEntryAddressed("second", "fixed padding"); err != nil {
		t.Fatalf("MarkEntryAddressed: %v", err)
	}
	got, err := s.GetEntry("second")
	if err != nil {
		t.Fatalf("GetEntry: %v", err)
	}
	if !got.Addressed || got.Resolution != "fixed padding" || got.AddressedAt == "" {
		t.Errorf("entry after address = %+v", got)
	}

	if err := s.MarkEntryAddressed("missing", ""); err != ErrNotFound {
		t.Errorf("MarkEntryAddressed(missing) = %v, want ErrNotFound", err)
	}

	if err := s.DeleteAllEntries(); err != nil {
		t.Fatalf("DeleteAllEntries: %v", err)
	}
	n, err := s.CountEntries()
	if err != nil {
		t.Fatalf("CountEntries: %v", err)
	}
	if n != 0 {
		t.Errorf("CountEntries = %d, want 0", n)
	}
}

func TestJobs_ClaimCompleteFail(t *testing.T) {
	s := openTestStore(t)

	if err := s.EnqueueJob(Job{ID: "j1", Type: "mirror_write", PayloadJSON: `{}`}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	if err := s.EnqueueJob(Job{ID: "j2", Type: "mirror_write", PayloadJSON: `{}`, MaxAttempts: 1}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	job, err := s.ClaimNextJob([]string{"mirror_write"})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if job == nil || job.ID != "j1" {
		t.Fatalf("claimed %+v, want j1", job)
	}
	if err := s.CompleteJob(job.ID); err != nil {
		t.Fatalf("CompleteJob: %v", err)
	}

	job, err = s.ClaimNextJob([]string{"mirror_write"})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if job == nil || job.ID != "j2" {
		t.Fatalf("claimed %+v, want j2", job)
	}
	if err := s.FailJob(job.ID, "host down"); err != nil {
		t.Fatalf("FailJob: %v", err)
	}
	got, err := s.GetJob("j2")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != "failed" || got.LastError != "host down" {
		t.Errorf("job after fail = %+v", got)
	}

	job, err = s.ClaimNextJob([]string{"mirror_write"})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if job != nil {
		t.Errorf("expected no claimable job, got %+v", job)
	}
}

func TestJobs_FailRetriesWithBackoff(t *testing.T) {
	s := openTestStore(t)

	if err := s.EnqueueJob(Job{ID: "j1", Type: "mirror_write", PayloadJSON: `{}`}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	if _, err := s.ClaimNextJob([]string{"mirror_write"}); err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if err := s.FailJob("j1", "timeout"); err != nil {
		t.Fatalf("FailJob: %v", err)
	}

	got, err := s.GetJob("j1")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != "pending" || got.Attempts != 1 {
		t.Errorf("job = %+v, want pending with 1 attempt", got)
	}
	if !got.RunAfter.After(time.Now().UTC()) {
		t.Errorf("run_after %v should be in the future", got.RunAfter)
	}
}

func TestJobs_CancelOpen(t *testing.T) {
	s := openTestStore(t)

	for _, id := range []string{"a", "b", "c"} {
		if err := s.EnqueueJob(Job{ID: id, Type: "mirror_write", PayloadJSON: `{}`}); err != nil {
			t.Fatalf("EnqueueJob: %v", err)
		}
	}
	if err := s.EnqueueJob(Job{ID: "other", Type: "other", PayloadJSON: `{}`}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	claimed, err := s.ClaimNextJob([]string{"mirror_write"})
	if err != nil || claimed == nil {
		t.Fatalf("ClaimNextJob = %v, %v", claimed, err)
	}
	if err := s.CompleteJob(claimed.ID); err != nil {
		t.Fatal(err)
	}
	running, err := s.ClaimNextJob([]string{"mirror_write"})
	if err != nil || running == nil {
		t.Fatalf("ClaimNextJob = %v, %v", running, err)
	}

	n, err := s.CancelOpenJobs("mirror_write")
	if err != nil {
		t.Fatalf("CancelOpenJobs: %v", err)
	}
	if n != 2 {
		t.Errorf("cancelled %d jobs, want 2 (one running, one pending)", n)
	}
	if got, _ := s.GetJob(running.ID); got.Status != "cancelled" {
		t.Errorf("running job status = %s, want cancelled", got.Status)
	}
	if got, _ := s.GetJob(claimed.ID); got.Status != "completed" {
		t.Errorf("completed job status = %s, want completed", got.Status)
	}
	pending, err := s.CountJobs("other", "pending")
	if err != nil {
		t.Fatalf("CountJobs: %v", err)
	}
	if pending != 1 {
		t.Errorf("other pending = %d, want 1", pending)
	}
}
