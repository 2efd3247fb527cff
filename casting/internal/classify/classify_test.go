package classify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/hazyhaar/casting/casting/internal/dispatch"
	"github.com/hazyhaar/casting/casting/internal/record"
	"github.com/hazyhaar/casting/casting/internal/store"
	"github.com/hazyhaar/casting/connectivity"
	"github.com/hazyhaar/casting/dbopen"
	"github.com/hazyhaar/casting/vtq"

	_ "modernc.org/sqlite"
)

type stubExtractor struct {
	mu    sync.Mutex
	texts []string
	recs  []record.Candidate
	err   error
}

func (s *stubExtractor) Extract(ctx context.Context, text string) ([]record.Candidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.texts = append(s.texts, text)
	return s.recs, s.err
}

func (s *stubExtractor) set(recs []record.Candidate, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs, s.err = recs, err
}

func (s *stubExtractor) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.texts)
}

func setup(t *testing.T, x *stubExtractor, maxAttempts int) (*Worker, *dispatch.Dispatcher, *store.Store, *vtq.Q) {
	t.Helper()
	return setupWith(t, x, vtq.Options{Queue: "classify", MaxAttempts: maxAttempts, Backoff: time.Millisecond})
}

func setupWith(t *testing.T, x *stubExtractor, opts vtq.Options) (*Worker, *dispatch.Dispatcher, *store.Store, *vtq.Q) {
	t.Helper()
	db := dbopen.OpenMemory(t, dbopen.WithSchema(store.Schema))
	q := vtq.New(db, opts)
	if err := q.EnsureTable(context.Background()); err != nil {
		t.Fatal(err)
	}
	s := store.NewStore(db)
	d := dispatch.New(s, q, nil)
	return New(q, x, d, nil, nil), d, s, q
}

func TestWorker_ClassifiesMessage(t *testing.T) {
	// WHAT: A queued message becomes a pending candidate stamped with its group.
	// WHY: Chat sources reach moderation only through this worker.
	x := &stubExtractor{recs: []record.Candidate{{Title: "Models wanted", Location: "Lagos"}}}
	w, d, s, q := setup(t, x, 3)
	ctx := context.Background()

	d.EnqueueMessage(ctx, record.RawMessage{MessageID: "m1", Text: "Models wanted, Lagos",
		SourceGroupID: "120363000000000001@g.us", SourceName: "Lagos Castings"})

	if n := w.Drain(ctx); n != 1 {
		t.Fatalf("handled = %d, want 1", n)
	}
	if len(x.texts) != 1 || x.texts[0] != "Models wanted, Lagos" {
		t.Fatalf("extractor input = %v", x.texts)
	}
	got, _ := s.ListCandidates(ctx, record.StatusPending, 10)
	if len(got) != 1 || got[0].SourceGroup != "120363000000000001@g.us" || got[0].SourceName != "Lagos Castings" {
		t.Fatalf("candidates = %+v", got)
	}
	if n, _ := q.Len(ctx); n != 0 {
		t.Fatalf("queue len = %d, want 0", n)
	}
}

func TestWorker_NotACastingCallIsAcked(t *testing.T) {
	w, d, s, q := setup(t, &stubExtractor{}, 3)
	ctx := context.Background()
	d.EnqueueMessage(ctx, record.RawMessage{MessageID: "m1", Text: "good morning", SourceGroupID: "g"})

	w.Drain(ctx)
	if n, _ := q.Len(ctx); n != 0 {
		t.Fatalf("queue len = %d", n)
	}
	if n, _ := s.CountCandidates(ctx, ""); n != 0 {
		t.Fatalf("candidates = %d", n)
	}
}

func TestWorker_ExtractionFailureRetriedThenDiscarded(t *testing.T) {
	// WHAT: Failed extraction nacks the job; MaxAttempts bounds redelivery.
	// WHY: A permanently failing message must not block the queue forever.
	x := &stubExtractor{err: errors.New("503")}
	w, d, _, q := setup(t, x, 2)
	ctx := context.Background()
	d.EnqueueMessage(ctx, record.RawMessage{MessageID: "m1", Text: "casting", SourceGroupID: "g"})

	w.Drain(ctx) // attempt 1
	time.Sleep(10 * time.Millisecond)
	w.Drain(ctx) // attempt 2
	if n, _ := q.Len(ctx); n != 1 {
		t.Fatalf("queue len after 2 attempts = %d, want 1", n)
	}
	time.Sleep(10 * time.Millisecond)
	w.Drain(ctx) // attempt 3 > MaxAttempts: discarded
	if n, _ := q.Len(ctx); n != 0 {
		t.Fatalf("queue len = %d, want 0", n)
	}
	if x.calls() != 2 {
		t.Fatalf("extract calls = %d, want 2", x.calls())
	}
}

func TestWorker_UpstreamOutageKeepsMessage(t *testing.T) {
	// WHAT: While the extraction service is unavailable, a queued message
	// survives any number of claims and is classified once it recovers.
	// WHY: The chat watermark has already moved past the message; dropping
	// the job would lose it for good.
	outages := []error{
		&connectivity.ErrCircuitOpen{Service: "extract"},
		&connectivity.ErrCallTimeout{Service: "extract", Cause: context.DeadlineExceeded},
		&connectivity.StatusError{Service: "extract", StatusCode: http.StatusServiceUnavailable},
		&connectivity.StatusError{Service: "extract", StatusCode: http.StatusTooManyRequests},
	}
	for _, outage := range outages {
		t.Run(fmt.Sprintf("%T", outage), func(t *testing.T) {
			x := &stubExtractor{err: fmt.Errorf("extract: %w", outage)}
			w, d, s, q := setup(t, x, 2)
			ctx := context.Background()
			d.EnqueueMessage(ctx, record.RawMessage{MessageID: "m1", Text: "casting", SourceGroupID: "g"})

			for range 5 {
				w.Drain(ctx)
				time.Sleep(5 * time.Millisecond)
			}
			if x.calls() != 5 {
				t.Fatalf("extract calls = %d, want 5", x.calls())
			}
			if n, _ := q.Len(ctx); n != 1 {
				t.Fatalf("queue len = %d, want 1", n)
			}

			x.set([]record.Candidate{{Title: "Extras"}}, nil)
			if n := w.Drain(ctx); n != 1 {
				t.Fatalf("handled after recovery = %d, want 1", n)
			}
			if n, _ := s.CountCandidates(ctx, ""); n != 1 {
				t.Fatalf("candidates = %d, want 1", n)
			}
		})
	}
}

func TestWorker_RunDoesNotBurnAttemptsOnOutage(t *testing.T) {
	// WHAT: A consumer polling every 20ms against a failing extractor keeps
	// the message queued and retries it only after the backoff.
	x := &stubExtractor{err: errors.New("503")}
	w, d, _, q := setupWith(t, x, vtq.Options{Queue: "classify", PollInterval: 20 * time.Millisecond, MaxAttempts: 5})
	ctx := context.Background()
	d.EnqueueMessage(ctx, record.RawMessage{MessageID: "m1", Text: "casting", SourceGroupID: "g"})

	runCtx, cancel := context.WithTimeout(ctx, 300*time.Millisecond)
	defer cancel()
	w.Run(runCtx)

	if n, _ := q.Len(ctx); n != 1 {
		t.Fatalf("queue len = %d, want 1", n)
	}
	if x.calls() != 1 {
		t.Fatalf("extract calls = %d, want 1", x.calls())
	}
}

func TestUpstreamUnavailable(t *testing.T) {
	cases := map[string]struct {
		err  error
		want bool
	}{
		"circuit open": {&connectivity.ErrCircuitOpen{Service: "extract"}, true},
		"server error": {&connectivity.StatusError{StatusCode: 502}, true},
		"bad request":  {&connectivity.StatusError{StatusCode: 400}, false},
		"deadline":     {fmt.Errorf("x: %w", context.DeadlineExceeded), true},
		"malformed":    {errors.New("extract: malformed response"), false},
	}
	for name, tc := range cases {
		if got := upstreamUnavailable(tc.err); got != tc.want {
			t.Errorf("%s: upstreamUnavailable = %v, want %v", name, got, tc.want)
		}
	}
}

func TestWorker_DuplicateAcrossMessages(t *testing.T) {
	x := &stubExtractor{recs: []record.Candidate{{Title: "Senior Actor"}}}
	w, d, s, _ := setup(t, x, 3)
	ctx := context.Background()
	d.EnqueueMessage(ctx, record.RawMessage{MessageID: "m1", Text: "a", SourceGroupID: "g1"})
	d.EnqueueMessage(ctx, record.RawMessage{MessageID: "m2", Text: "a", SourceGroupID: "g2"})

	w.Drain(ctx)
	if n, _ := s.CountCandidates(ctx, ""); n != 1 {
		t.Fatalf("candidates = %d, want 1", n)
	}
}

func TestWorker_UndecodableDropped(t *testing.T) {
	w, _, _, q := setup(t, &stubExtractor{}, 3)
	ctx := context.Background()
	q.PublishOnce(ctx, "bad", []byte("{not json"))
	if n := w.Drain(ctx); n != 1 {
		t.Fatalf("handled = %d, want 1", n)
	}
	if n, _ := q.Len(ctx); n != 0 {
		t.Fatalf("queue len = %d", n)
	}
}
