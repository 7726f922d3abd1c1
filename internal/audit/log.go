package audit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"sync"
)

// Sink persists audit events.
type Sink interface {
	Write(ctx context.Context, e Event) error
	Close() error
	// Kind names the sink for status reporting.
	Kind() string
}

// ErrNotDurable reports a line that reached the file and the chain but
// whose fsync failed. The event is recorded; callers must not write it
// again elsewhere.
var ErrNotDurable = errors.New("audit: event written but not synced")

// logFile is the part of *os.File the sink uses.
type logFile interface {
	io.Writer
	Sync() error
	Close() error
	Stat() (fs.FileInfo, error)
	Truncate(size int64) error
}

// FileOptions controls rotation. Rotation needs MaxBytes > 0 and
// MaxBackups >= 1; otherwise the file only grows.
type FileOptions struct {
	MaxBytes   int64
	MaxBackups int
}

// FileSink is an append-only JSONL audit log with SHA-256 hash
// chaining, fsync per line and size-based rotation. The chain continues
// across rotation: the first line of a fresh file links to the last
// line of the file it replaced.
type FileSink struct {
	path string
	opts FileOptions

	mu        sync.Mutex
	file      logFile
	broken    error
	size      int64
	chain     chain
	rotations int
	reopens   int
}

// OpenFile opens (or creates) path for appending. If the file already
// has lines, the chain resumes from the last one.
func OpenFile(path string, opts FileOptions) (*FileSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("audit: create directory: %w", err)
	}
	s := &FileSink{path: path, opts: opts, chain: newChain()}
	if err := s.open(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileSink) open() error {
	if last, err := lastLine(s.path); err != nil {
		return err
	} else if last != nil {
		s.chain.prevHash = HashLine(last)
	}

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("audit: open file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("audit: stat file: %w", err)
	}
	s.file = f
	s.size = info.Size()
	return nil
}

func lastLine(path string) ([]byte, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("audit: read existing log: %w", err)
	}
	defer f.Close()

	sc := newScanner(f)
	var last []byte
	for sc.Scan() {
		if len(sc.Bytes()) == 0 {
			continue
		}
		last = append(last[:0], sc.Bytes()...)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("audit: scan existing log: %w", err)
	}
	return last, nil
}

// Write appends e, rotating first when the line would push the file
// past MaxBytes. A failed write is cut back to the previous size so the
// event can be recorded elsewhere; if that fails too the sink refuses
// further writes.
func (s *FileSink) Write(_ context.Context, e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return errors.New("audit: file sink closed")
	}
	if s.broken != nil {
		return s.broken
	}

	line, hash, err := s.chain.encode(e)
	if err != nil {
		return err
	}
	line = append(line, '\n')

	if s.rotates() && s.size > 0 && s.size+int64(len(line)) > s.opts.MaxBytes {
		if err := s.rotate(); err != nil {
			return err
		}
	}

	n, err := s.file.Write(line)
	if err == nil && n < len(line) {
		err = io.ErrShortWrite
	}
	if err != nil {
		if n > 0 {
			if terr := s.file.Truncate(s.size); terr != nil {
				s.size += int64(n)
				s.broken = fmt.Errorf("audit: partial line left in log: %w", terr)
			}
		}
		return fmt.Errorf("audit: write event: %w", err)
	}
	s.size += int64(n)
	s.chain.prevHash = hash

	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("%w: %v", ErrNotDurable, err)
	}
	return nil
}

func (s *FileSink) rotates() bool {
	return s.opts.MaxBytes > 0 && s.opts.MaxBackups >= 1
}

// rotate shifts path.N-1 to path.N, ..., path to path.1 and opens a
// fresh path. The oldest backup is overwritten; the live file never is.
// Must be called with s.mu held.
func (s *FileSink) rotate() error {
	if err := s.file.Close(); err != nil {
		return fmt.Errorf("audit: close for rotation: %w", err)
	}
	s.file = nil

	for i := s.opts.MaxBackups - 1; i >= 1; i-- {
		err := os.Rename(BackupPath(s.path, i), BackupPath(s.path, i+1))
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("audit: rotate backup %d: %w", i, err)
		}
	}
	if err := os.Rename(s.path, BackupPath(s.path, 1)); err != nil {
		return fmt.Errorf("audit: rotate: %w", err)
	}

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("audit: open after rotation: %w", err)
	}
	s.file = f
	s.size = 0
	s.rotations++
	return nil
}

// Reopen closes the current handle and opens the configured path
// again. Used after the file was removed or renamed externally. When
// the path no longer holds lines the chain continues from memory.
func (s *FileSink) Reopen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reopen()
}

func (s *FileSink) reopen() error {
	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}
	s.reopens++
	return s.open()
}

// ReopenIfMoved reopens only when the open handle no longer refers to
// the file at the configured path.
func (s *FileSink) ReopenIfMoved() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return false, errors.New("audit: file sink closed")
	}
	cur, err := s.file.Stat()
	if err != nil {
		return true, s.reopen()
	}
	onDisk, err := os.Stat(s.path)
	if err == nil && os.SameFile(cur, onDisk) {
		return false, nil
	}
	return true, s.reopen()
}

// Reopens reports how many times the sink reopened its file.
func (s *FileSink) Reopens() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reopens
}

// Path returns the configured file path.
func (s *FileSink) Path() string { return s.path }

// Rotations reports how many times the file rotated since open.
func (s *FileSink) Rotations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rotations
}

func (s *FileSink) Kind() string { return "file" }

// Close closes the underlying file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

// BackupPath is the name of the n-th rotated file.
func BackupPath(path string, n int) string {
	return path + "." + strconv.Itoa(n)
}
