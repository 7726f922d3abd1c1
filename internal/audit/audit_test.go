package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/ppiankov/repogate/internal/model"
)

func newTestSink(t *testing.T, opts FileOptions) (*FileSink, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	s, err := OpenFile(path, opts)
	if err != nil {
		t.Fatalf("failed to open audit log: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, path
}

func testEvent(id string, outcome model.Outcome) Event {
	e := Event{
		Timestamp:     "2026-03-01T10:00:00.000Z",
		CorrelationID: id,
		Operation:     "get_repository",
		Target:        "acme/widgets",
		Outcome:       outcome,
		DurationMs:    12,
	}
	if outcome == model.Denied || outcome == model.Failed {
		e.Reason = "target not allowlisted"
	}
	return e
}

func writeN(t *testing.T, s Sink, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if err := s.Write(context.Background(), testEvent(fmt.Sprintf("c-%d", i), model.Succeeded)); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}

func TestSequentialWritesProduceValidChain(t *testing.T) {
	s, path := newTestSink(t, FileOptions{})
	writeN(t, s, 5)

	result := Verify(path)
	if !result.Valid {
		t.Fatalf("expected valid chain, got error at line %d: %s", result.ErrorLine, result.Error)
	}
	if result.Lines != 5 {
		t.Fatalf("expected 5 lines, got %d", result.Lines)
	}
}

func TestEventFieldOrder(t *testing.T) {
	s, path := newTestSink(t, FileOptions{})
	if err := s.Write(context.Background(), testEvent("c-1", model.Denied)); err != nil {
		t.Fatal(err)
	}
	line := readLines(t, path)[0]
	want := `{"timestamp":"2026-03-01T10:00:00.000Z","correlationId":"c-1","operation":"get_repository",` +
		`"target":"acme/widgets","outcome":"denied","reason":"target not allowlisted","durationMs":12,"prevHash":"` + GenesisHash + `"}`
	if line != want {
		t.Fatalf("line mismatch\n got: %s\nwant: %s", line, want)
	}
}

func TestReasonOmittedWhenEmpty(t *testing.T) {
	s, path := newTestSink(t, FileOptions{})
	writeN(t, s, 1)
	if strings.Contains(readLines(t, path)[0], `"reason"`) {
		t.Fatal("succeeded event should not carry a reason field")
	}
}

func TestVerifyDetectsTamperedEntry(t *testing.T) {
	s, path := newTestSink(t, FileOptions{})
	writeN(t, s, 3)
	s.Close()

	lines := readLines(t, path)
	lines[1] = strings.Replace(lines[1], `"succeeded"`, `"failed"`, 1)
	os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o600)

	result := Verify(path)
	if result.Valid {
		t.Fatal("expected tampered chain to be invalid")
	}
	if result.ErrorLine != 3 {
		t.Fatalf("expected error at line 3, got line %d", result.ErrorLine)
	}
}

func TestVerifyDetectsDeletedEntry(t *testing.T) {
	s, path := newTestSink(t, FileOptions{})
	writeN(t, s, 4)
	s.Close()

	lines := readLines(t, path)
	lines = append(lines[:1], lines[2:]...)
	os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o600)

	result := Verify(path)
	if result.Valid || result.ErrorLine != 2 {
		t.Fatalf("expected break at line 2, got %+v", result)
	}
}

func TestVerifyRejectsMissingGenesis(t *testing.T) {
	s, path := newTestSink(t, FileOptions{})
	writeN(t, s, 2)
	s.Close()

	lines := readLines(t, path)
	os.WriteFile(path, []byte(lines[1]+"\n"), 0o600)

	result := Verify(path)
	if result.Valid || result.ErrorLine != 1 {
		t.Fatalf("expected genesis failure on line 1, got %+v", result)
	}
	if !strings.Contains(result.Error, "genesis") {
		t.Fatalf("error = %q", result.Error)
	}
}

func TestVerifyMalformedLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.jsonl")
	os.WriteFile(path, []byte("not json\n"), 0o600)
	result := Verify(path)
	if result.Valid || result.ErrorLine != 1 {
		t.Fatalf("expected parse error on line 1, got %+v", result)
	}
}

func TestVerifyMissingFile(t *testing.T) {
	result := Verify(filepath.Join(t.TempDir(), "absent.jsonl"))
	if result.Valid || result.Error == "" {
		t.Fatalf("expected open error, got %+v", result)
	}
}

func TestReopenResumesChain(t *testing.T) {
	s, path := newTestSink(t, FileOptions{})
	writeN(t, s, 2)
	s.Close()

	s2, err := OpenFile(path, FileOptions{})
	if err != nil {
		t.Fatal(err)
	}
	writeN(t, s2, 1)
	s2.Close()

	result := Verify(path)
	if !result.Valid || result.Lines != 3 {
		t.Fatalf("chain did not resume: %+v", result)
	}
}

func TestConcurrentWritesKeepChain(t *testing.T) {
	s, path := newTestSink(t, FileOptions{})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := s.Write(context.Background(), testEvent(fmt.Sprintf("c-%d", i), model.Succeeded)); err != nil {
				t.Errorf("write %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	result := Verify(path)
	if !result.Valid || result.Lines != 20 {
		t.Fatalf("expected 20 chained lines, got %+v", result)
	}
}

func TestRotationContinuesChain(t *testing.T) {
	// MaxBytes 1 rotates before every write after the first.
	s, path := newTestSink(t, FileOptions{MaxBytes: 1, MaxBackups: 3})
	writeN(t, s, 3)

	if got := s.Rotations(); got != 2 {
		t.Fatalf("rotations = %d, want 2", got)
	}
	for _, p := range []string{path, BackupPath(path, 1), BackupPath(path, 2)} {
		if n := len(readLines(t, p)); n != 1 {
			t.Fatalf("%s holds %d lines, want 1", p, n)
		}
	}

	result := VerifyRotated(path, 3)
	if !result.Valid || result.Files != 3 || result.Lines != 3 {
		t.Fatalf("rotated chain invalid: %+v", result)
	}

	// The live file on its own links to its predecessor, not genesis.
	if Verify(path).Valid {
		t.Fatal("live file should not verify from genesis after rotation")
	}
}

func TestRotationDropsOldestBackup(t *testing.T) {
	s, path := newTestSink(t, FileOptions{MaxBytes: 1, MaxBackups: 2})
	writeN(t, s, 4)

	if _, err := os.Stat(BackupPath(path, 3)); !os.IsNotExist(err) {
		t.Fatalf("unexpected third backup: %v", err)
	}
	var oldest Event
	json.Unmarshal([]byte(readLines(t, BackupPath(path, 2))[0]), &oldest)
	if oldest.CorrelationID != "c-1" {
		t.Fatalf("oldest kept event = %s, want c-1", oldest.CorrelationID)
	}

	result := VerifyRotated(path, 2)
	if !result.Valid || result.Lines != 3 {
		t.Fatalf("expected anchored chain over 3 lines, got %+v", result)
	}
}

func TestVerifyRotatedDetectsTamperedBackup(t *testing.T) {
	s, path := newTestSink(t, FileOptions{MaxBytes: 1, MaxBackups: 3})
	writeN(t, s, 3)
	s.Close()

	b1 := BackupPath(path, 1)
	line := readLines(t, b1)[0]
	os.WriteFile(b1, []byte(strings.Replace(line, "acme/widgets", "acme/gadgets", 1)+"\n"), 0o600)

	result := VerifyRotated(path, 3)
	if result.Valid || result.ErrorFile != path {
		t.Fatalf("expected break detected in live file, got %+v", result)
	}
}

func TestReopenAfterExternalRemoval(t *testing.T) {
	s, path := newTestSink(t, FileOptions{})
	writeN(t, s, 1)
	first := readLines(t, path)[0]

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	if err := s.Reopen(); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	writeN(t, s, 1)

	lines := readLines(t, path)
	if len(lines) != 1 {
		t.Fatalf("expected fresh file with one line, got %d", len(lines))
	}
	var e Event
	json.Unmarshal([]byte(lines[0]), &e)
	if e.PrevHash != HashLine([]byte(first)) {
		t.Fatal("chain did not continue from memory after reopen")
	}
}

func TestReopenIfMoved(t *testing.T) {
	s, path := newTestSink(t, FileOptions{})
	writeN(t, s, 1)

	reopened, err := s.ReopenIfMoved()
	if err != nil || reopened {
		t.Fatalf("unmoved file: reopened=%v err=%v", reopened, err)
	}

	if err := os.Rename(path, path+".moved"); err != nil {
		t.Fatal(err)
	}
	reopened, err = s.ReopenIfMoved()
	if err != nil || !reopened {
		t.Fatalf("moved file: reopened=%v err=%v", reopened, err)
	}
	writeN(t, s, 1)
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected new file at configured path: %v", err)
	}
}

func TestWriteAfterClose(t *testing.T) {
	s, _ := newTestSink(t, FileOptions{})
	s.Close()
	if err := s.Write(context.Background(), testEvent("c-1", model.Succeeded)); err == nil {
		t.Fatal("expected error writing to closed sink")
	}
}

func TestFilePermissions(t *testing.T) {
	s, path := newTestSink(t, FileOptions{})
	writeN(t, s, 1)
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("mode = %o, want 600", perm)
	}
}

func TestEventValidate(t *testing.T) {
	cases := []struct {
		name string
		e    Event
		ok   bool
	}{
		{"succeeded", testEvent("c", model.Succeeded), true},
		{"denied with reason", testEvent("c", model.Denied), true},
		{"no correlation", Event{Outcome: model.Succeeded}, false},
		{"bad outcome", Event{CorrelationID: "c", Outcome: "maybe"}, false},
		{"denied without reason", Event{CorrelationID: "c", Outcome: model.Denied}, false},
		{"failed without reason", Event{CorrelationID: "c", Outcome: model.Failed}, false},
		{"negative duration", Event{CorrelationID: "c", Outcome: model.Succeeded, DurationMs: -1}, false},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.e.Validate()
			if (err == nil) != tt.ok {
				t.Fatalf("Validate() = %v, want ok=%v", err, tt.ok)
			}
		})
	}
}

// faultyFile fails the next Write after keep bytes, or the next Sync.
type faultyFile struct {
	logFile
	keep     int
	writeErr error
	syncErr  error
	truncErr error
}

func (f *faultyFile) Write(p []byte) (int, error) {
	if f.writeErr == nil {
		return f.logFile.Write(p)
	}
	n, _ := f.logFile.Write(p[:f.keep])
	return n, f.writeErr
}

func (f *faultyFile) Sync() error {
	if f.syncErr != nil {
		return f.syncErr
	}
	return f.logFile.Sync()
}

func (f *faultyFile) Truncate(size int64) error {
	if f.truncErr != nil {
		return f.truncErr
	}
	return f.logFile.Truncate(size)
}

func TestSyncFailureIsNotDuplicatedByFallback(t *testing.T) {
	s, path := newTestSink(t, FileOptions{})
	writeN(t, s, 1)
	orig := s.file
	s.file = &faultyFile{logFile: orig, syncErr: errors.New("input/output error")}

	backup := &memSink{kind: "stream"}
	var reported error
	fb := &Fallback{Primary: s, Secondary: backup, OnFailure: func(err error) { reported = err }}
	if err := fb.Write(context.Background(), testEvent("c-sync", model.Denied)); err != nil {
		t.Fatalf("fallback write: %v", err)
	}
	if !errors.Is(reported, ErrNotDurable) {
		t.Fatalf("reported = %v, want ErrNotDurable", reported)
	}
	if len(backup.events) != 0 {
		t.Fatalf("written event duplicated to fallback: %+v", backup.events)
	}

	s.file = orig
	writeN(t, s, 1)
	if result := Verify(path); !result.Valid || result.Lines != 3 {
		t.Fatalf("chain broken after sync failure: %+v", result)
	}
}

func TestPartialWriteIsCutBack(t *testing.T) {
	s, path := newTestSink(t, FileOptions{})
	writeN(t, s, 1)
	orig := s.file
	s.file = &faultyFile{logFile: orig, keep: 10, writeErr: errors.New("no space left on device")}

	backup := &memSink{kind: "stream"}
	fb := &Fallback{Primary: s, Secondary: backup}
	if err := fb.Write(context.Background(), testEvent("c-partial", model.Denied)); err != nil {
		t.Fatalf("fallback write: %v", err)
	}
	if len(backup.events) != 1 {
		t.Fatal("failed event was not written to the fallback")
	}
	if n := len(readLines(t, path)); n != 1 {
		t.Fatalf("log holds %d lines after cut back, want 1", n)
	}

	s.file = orig
	writeN(t, s, 1)
	if result := Verify(path); !result.Valid || result.Lines != 2 {
		t.Fatalf("chain broken after partial write: %+v", result)
	}
}

func TestPartialWriteLeftInPlaceStopsSink(t *testing.T) {
	s, _ := newTestSink(t, FileOptions{})
	orig := s.file
	s.file = &faultyFile{
		logFile:  orig,
		keep:     10,
		writeErr: errors.New("no space left on device"),
		truncErr: errors.New("read-only file system"),
	}
	if err := s.Write(context.Background(), testEvent("c-0", model.Succeeded)); err == nil {
		t.Fatal("expected write error")
	}

	s.file = orig
	err := s.Write(context.Background(), testEvent("c-1", model.Succeeded))
	if err == nil || !strings.Contains(err.Error(), "partial line") {
		t.Fatalf("sink kept appending after a torn line: %v", err)
	}
}

func TestRotationWithoutBackupsKeepsHistory(t *testing.T) {
	s, path := newTestSink(t, FileOptions{MaxBytes: 300, MaxBackups: 0})
	writeN(t, s, 3)

	if got := s.Rotations(); got != 0 {
		t.Fatalf("rotations = %d, want 0", got)
	}
	lines := readLines(t, path)
	if len(lines) != 3 {
		t.Fatalf("log holds %d lines, want 3", len(lines))
	}
	var first Event
	json.Unmarshal([]byte(lines[0]), &first)
	if first.CorrelationID != "c-0" {
		t.Fatalf("first event = %s, want c-0", first.CorrelationID)
	}
	if result := Verify(path); !result.Valid {
		t.Fatalf("chain invalid: %+v", result)
	}
}
