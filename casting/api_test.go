package casting

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func apiServer(t *testing.T, svc *Service) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(svc.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url string, body any, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(ActorHeader, "bob")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", method, url, err)
		}
	}
	return resp.StatusCode
}

func TestAPI_Health(t *testing.T) {
	// WHAT: /health reports queue depth and breaker states.
	// WHY: Operators watch it to see an upstream tripping.
	u := newUpstream(t)
	srv := apiServer(t, newTestService(t, testConfig(u)))

	var body struct {
		Status   string            `json:"status"`
		Queued   int               `json:"queued_messages"`
		Breakers map[string]string `json:"breakers"`
	}
	if code := doJSON(t, "GET", srv.URL+"/health", nil, &body); code != 200 {
		t.Fatalf("code = %d", code)
	}
	if body.Status != "ok" || body.Breakers["extract"] != "closed" || len(body.Breakers) != 3 {
		t.Errorf("health = %+v", body)
	}
}

func TestAPI_SourcesLifecycle(t *testing.T) {
	// WHAT: Create, duplicate, invalid, deactivate, list.
	// WHY: Each service error maps to a distinct status code.
	u := newUpstream(t)
	srv := apiServer(t, newTestService(t, testConfig(u)))

	var src Source
	code := doJSON(t, "POST", srv.URL+"/api/sources",
		SourceInput{SourceType: "web", Identifier: testPage, DisplayName: "Example"}, &src)
	if code != http.StatusCreated || src.ID == "" || !src.Active {
		t.Fatalf("create: %d %+v", code, src)
	}
	if code := doJSON(t, "POST", srv.URL+"/api/sources",
		SourceInput{SourceType: "web", Identifier: testPage}, nil); code != http.StatusConflict {
		t.Errorf("duplicate: %d, want 409", code)
	}
	if code := doJSON(t, "POST", srv.URL+"/api/sources",
		SourceInput{SourceType: "chat", Identifier: "nope"}, nil); code != http.StatusBadRequest {
		t.Errorf("invalid: %d, want 400", code)
	}

	var updated Source
	if code := doJSON(t, "POST", srv.URL+"/api/sources/"+src.ID+"/active",
		map[string]bool{"active": false}, &updated); code != 200 || updated.Active {
		t.Errorf("deactivate: %d %+v", code, updated)
	}
	if code := doJSON(t, "POST", srv.URL+"/api/sources/missing/active",
		map[string]bool{"active": true}, nil); code != http.StatusNotFound {
		t.Errorf("unknown: %d, want 404", code)
	}
	if code := doJSON(t, "POST", srv.URL+"/api/sources/"+src.ID+"/active",
		map[string]string{}, nil); code != http.StatusBadRequest {
		t.Errorf("missing active: %d, want 400", code)
	}

	var list []Source
	if code := doJSON(t, "GET", srv.URL+"/api/sources", nil, &list); code != 200 || len(list) != 1 {
		t.Errorf("list: %d %d", code, len(list))
	}

	var trail []AuditEntry
	doJSON(t, "GET", srv.URL+"/api/audit/"+src.ID, nil, &trail)
	if len(trail) != 2 || trail[0].Actor != "bob" {
		t.Errorf("audit = %+v", trail)
	}
}

func TestAPI_RunAndModerate(t *testing.T) {
	// WHAT: POST /api/run fills the queue; moderation moves one entry once.
	// WHY: This is the operator's daily loop.
	u := newUpstream(t)
	srv := apiServer(t, newTestService(t, testConfig(u)))
	doJSON(t, "POST", srv.URL+"/api/sources", SourceInput{SourceType: "web", Identifier: testPage}, nil)

	var report RunReport
	if code := doJSON(t, "POST", srv.URL+"/api/run", nil, &report); code != 200 || report.RecordsQueued != 1 {
		t.Fatalf("run: %d %+v", code, &report)
	}

	var pending []Candidate
	doJSON(t, "GET", srv.URL+"/api/candidates?status=pending_review", nil, &pending)
	if len(pending) != 1 {
		t.Fatalf("pending = %d", len(pending))
	}
	id := pending[0].ID

	var c Candidate
	if code := doJSON(t, "POST", srv.URL+"/api/candidates/"+id+"/moderate",
		map[string]string{"status": "live"}, &c); code != 200 || c.Status != StatusLive {
		t.Fatalf("moderate: %d %+v", code, c)
	}
	if code := doJSON(t, "POST", srv.URL+"/api/candidates/"+id+"/moderate",
		map[string]string{"status": "rejected"}, nil); code != http.StatusConflict {
		t.Errorf("second decision: %d, want 409", code)
	}
	if code := doJSON(t, "POST", srv.URL+"/api/candidates/missing/moderate",
		map[string]string{"status": "live"}, nil); code != http.StatusNotFound {
		t.Errorf("unknown: %d, want 404", code)
	}
	if code := doJSON(t, "GET", srv.URL+"/api/candidates?status=bogus", nil, nil); code != http.StatusBadRequest {
		t.Errorf("bad status filter: %d, want 400", code)
	}

	var cycles []CycleLogEntry
	if code := doJSON(t, "GET", srv.URL+"/api/cycles", nil, &cycles); code != 200 || len(cycles) != 1 {
		t.Errorf("cycles: %d %d", code, len(cycles))
	}
}

func TestAPI_RunMissingCredentials(t *testing.T) {
	u := newUpstream(t)
	cfg := testConfig(u)
	cfg.Extract.APIKey = ""
	srv := apiServer(t, newTestService(t, cfg))
	if code := doJSON(t, "POST", srv.URL+"/api/run", nil, nil); code != http.StatusPreconditionFailed {
		t.Fatalf("code = %d, want 412", code)
	}
}

func TestAPI_RunInProgress(t *testing.T) {
	u := newUpstream(t)
	svc := newTestService(t, testConfig(u))
	srv := apiServer(t, svc)

	svc.runMu.Lock()
	defer svc.runMu.Unlock()
	if code := doJSON(t, "POST", srv.URL+"/api/run", nil, nil); code != http.StatusConflict {
		t.Fatalf("code = %d, want 409", code)
	}
}
