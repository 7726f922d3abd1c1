package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ppiankov/repogate/internal/model"
)

func TestSQLiteSinkMirrorsChain(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "audit.db")

	db, err := OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	var buf bytes.Buffer
	stream := NewStreamSink(&buf)
	both := NewMultiSink(db, stream)

	for _, id := range []string{"c-0", "c-1"} {
		if err := both.Write(ctx, testEvent(id, model.Succeeded)); err != nil {
			t.Fatal(err)
		}
	}
	db.Close()

	// Resume from the last row.
	db, err = OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db.Close()
	both = NewMultiSink(db, stream)
	if err := both.Write(ctx, testEvent("c-2", model.Denied)); err != nil {
		t.Fatal(err)
	}

	n, err := db.Count(ctx)
	if err != nil || n != 3 {
		t.Fatalf("count = %d, %v", n, err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	for i, id := range []string{"c-0", "c-1", "c-2"} {
		var want Event
		json.Unmarshal([]byte(lines[i]), &want)

		got, err := db.Find(ctx, id)
		if err != nil || len(got) != 1 {
			t.Fatalf("find %s: %v, %d rows", id, err, len(got))
		}
		if got[0] != want {
			t.Fatalf("row %s differs from stream line\n got: %+v\nwant: %+v", id, got[0], want)
		}
	}
}

func TestSQLiteSinkIsInsertOnly(t *testing.T) {
	ctx := context.Background()
	db, err := OpenSQLite(ctx, filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	writeN(t, db, 1)

	if _, err := db.db.ExecContext(ctx, `UPDATE audit_events SET outcome = 'allowed'`); err == nil {
		t.Fatal("update should be rejected")
	}
	if _, err := db.db.ExecContext(ctx, `DELETE FROM audit_events`); err == nil {
		t.Fatal("delete should be rejected")
	}
	if n, _ := db.Count(ctx); n != 1 {
		t.Fatalf("count = %d", n)
	}
}

func TestSQLiteFindMissing(t *testing.T) {
	ctx := context.Background()
	db, err := OpenSQLite(ctx, filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	got, err := db.Find(ctx, "nope")
	if err != nil || len(got) != 0 {
		t.Fatalf("got %v, %v", got, err)
	}
}
