package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/gofrs/flock"

	"github.com/hazyhaar/casting/casting"
)

func testApp(t *testing.T) (*app, *bytes.Buffer) {
	t.Helper()
	cfg, err := loadConfig("")
	if err != nil {
		t.Fatal(err)
	}
	var out bytes.Buffer
	a := &app{
		ctx:    casting.WithActor(context.Background(), "test"),
		cli:    &CLI{DB: filepath.Join(t.TempDir(), "casting.db")},
		cfg:    cfg,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		out:    &out,
	}
	t.Cleanup(a.close)
	return a, &out
}

func TestRunCmd_Locked(t *testing.T) {
	// WHAT: A held lock makes run fail without touching the database.
	// WHY: Two overlapping cron runs would fetch every source twice.
	a, _ := testApp(t)
	held := flock.New(a.cli.DB + ".lock")
	if ok, err := held.TryLock(); err != nil || !ok {
		t.Fatalf("TryLock: %v %v", ok, err)
	}
	defer held.Unlock()

	err := (&RunCmd{}).Run(a)
	if !errors.Is(err, errRunLocked) {
		t.Fatalf("err = %v, want errRunLocked", err)
	}
	if a.db != nil {
		t.Error("database opened while locked")
	}
}

func TestServeCmd_Locked(t *testing.T) {
	// WHAT: serve refuses to start while a run holds the lock.
	// WHY: The scheduler and a cron run would poll the same groups at once.
	a, _ := testApp(t)
	held := flock.New(a.cli.DB + ".lock")
	if ok, err := held.TryLock(); err != nil || !ok {
		t.Fatalf("TryLock: %v %v", ok, err)
	}
	defer held.Unlock()

	err := (&ServeCmd{}).Run(a)
	if !errors.Is(err, errRunLocked) {
		t.Fatalf("err = %v, want errRunLocked", err)
	}
	if a.db != nil {
		t.Error("database opened while locked")
	}
}

func TestRunCmd_MissingCredentials(t *testing.T) {
	// WHAT: run without credentials fails with ErrMissingCredentials.
	// WHY: main maps any command error to exit status 1.
	a, _ := testApp(t)
	a.cfg.Extract.APIKey = ""
	err := (&RunCmd{}).Run(a)
	if !errors.Is(err, casting.ErrMissingCredentials) {
		t.Fatalf("err = %v, want ErrMissingCredentials", err)
	}
}

func TestSourcesCommands(t *testing.T) {
	// WHAT: add, deactivate and list round-trip through the database.
	// WHY: The CLI is the operator surface when the API is not served.
	a, out := testApp(t)
	add := &SourcesAddCmd{Type: "chat", Name: "Paris", Identifier: "120363012345678901@g.us"}
	if err := add.Run(a); err != nil {
		t.Fatalf("add: %v", err)
	}
	var src casting.Source
	if err := json.Unmarshal(out.Bytes(), &src); err != nil {
		t.Fatal(err)
	}
	out.Reset()

	if err := (&SourcesDeactivateCmd{ID: src.ID}).Run(a); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	out.Reset()

	if err := (&SourcesListCmd{}).Run(a); err != nil {
		t.Fatalf("list: %v", err)
	}
	var list []casting.Source
	if err := json.Unmarshal(out.Bytes(), &list); err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].Active || list[0].DisplayName != "Paris" {
		t.Fatalf("list = %+v", list)
	}

	if err := (&SourcesActivateCmd{ID: "missing"}).Run(a); !errors.Is(err, casting.ErrNotFound) {
		t.Errorf("unknown id: err = %v", err)
	}
}

func TestCandidatesModerate_Unknown(t *testing.T) {
	a, _ := testApp(t)
	err := (&CandidatesModerateCmd{ID: "missing", Status: "live"}).Run(a)
	if !errors.Is(err, casting.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
