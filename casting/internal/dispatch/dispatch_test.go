package dispatch

import (
	"context"
	"testing"

	"github.com/hazyhaar/casting/casting/internal/record"
	"github.com/hazyhaar/casting/casting/internal/store"
	"github.com/hazyhaar/casting/dbopen"
	"github.com/hazyhaar/casting/vtq"

	_ "modernc.org/sqlite"
)

func setup(t *testing.T) (*Dispatcher, *store.Store, *vtq.Q) {
	t.Helper()
	db := dbopen.OpenMemory(t, dbopen.WithSchema(store.Schema))
	q := vtq.New(db, vtq.Options{Queue: "classify"})
	if err := q.EnsureTable(context.Background()); err != nil {
		t.Fatal(err)
	}
	s := store.NewStore(db)
	return New(s, q, nil), s, q
}

func TestEnqueueRecord_Dedup(t *testing.T) {
	// WHAT: Same fingerprint from two origins yields one pending entry.
	// WHY: Duplicates are skipped regardless of origin.
	d, s, _ := setup(t)
	ctx := context.Background()

	web := record.Candidate{Title: "Senior Actor", SourceURL: "https://a.example", SourceName: "A"}
	chat := record.Candidate{Title: "Senior Actor", SourceGroup: "120363000000000001@g.us", SourceName: "B"}

	ok, err := d.EnqueueRecord(ctx, web)
	if err != nil || !ok {
		t.Fatalf("first = %v, %v", ok, err)
	}
	ok, err = d.EnqueueRecord(ctx, chat)
	if err != nil || ok {
		t.Fatalf("duplicate = %v, %v", ok, err)
	}

	got, _ := s.ListCandidates(ctx, record.StatusPending, 10)
	if len(got) != 1 || got[0].SourceURL != "https://a.example" {
		t.Fatalf("pending = %+v", got)
	}
}

func TestEnqueueRecord_CaseDiffersIsNew(t *testing.T) {
	d, s, _ := setup(t)
	ctx := context.Background()
	d.EnqueueRecord(ctx, record.Candidate{Title: "Actor"})
	d.EnqueueRecord(ctx, record.Candidate{Title: "actor"})
	n, _ := s.CountCandidates(ctx, record.StatusPending)
	if n != 2 {
		t.Fatalf("pending = %d, want 2", n)
	}
}

func TestEnqueueMessage_Idempotent(t *testing.T) {
	// WHAT: The same message published twice is one job.
	// WHY: A rerun after a partial failure may see the same message again.
	d, _, q := setup(t)
	ctx := context.Background()
	m := record.RawMessage{MessageID: "m1", Text: "Extras needed", SourceGroupID: "g1", SourceName: "G", OriginTimestamp: 42}

	if ok, err := d.EnqueueMessage(ctx, m); err != nil || !ok {
		t.Fatalf("first = %v, %v", ok, err)
	}
	if ok, _ := d.EnqueueMessage(ctx, m); ok {
		t.Fatal("second publish enqueued")
	}
	n, _ := q.Len(ctx)
	if n != 1 {
		t.Fatalf("queue len = %d, want 1", n)
	}

	jobs, err := q.BatchClaim(ctx, 1)
	if err != nil || len(jobs) != 1 {
		t.Fatalf("claim = %v, %v", jobs, err)
	}
	job := jobs[0]
	got, err := DecodeMessage(job.Payload)
	if err != nil {
		t.Fatal(err)
	}
	if got != m {
		t.Fatalf("decoded = %+v, want %+v", got, m)
	}
	if job.ID != MessageJobID(m) {
		t.Fatalf("job id = %s", job.ID)
	}
}
