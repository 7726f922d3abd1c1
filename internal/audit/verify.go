package audit

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// VerifyResult holds the outcome of a hash chain verification.
type VerifyResult struct {
	Valid     bool   `json:"valid"`
	Files     int    `json:"files"`
	Lines     int    `json:"lines"`
	Error     string `json:"error,omitempty"`
	ErrorFile string `json:"errorFile,omitempty"`
	ErrorLine int    `json:"errorLine,omitempty"`
}

// Verify checks a single JSONL log whose first line must link to the
// genesis hash.
func Verify(path string) VerifyResult {
	res := VerifyResult{Files: 1}
	prev := GenesisHash
	if _, err := verifyFile(path, &prev, false, &res); err != nil {
		res.Error = err.Error()
		res.ErrorFile = path
		return res
	}
	res.Valid = true
	return res
}

// VerifyRotated checks path.backups ... path.1 oldest first and then
// path as one chain. Older files may have been dropped by rotation, so
// the first line of the oldest present file is accepted as the anchor.
func VerifyRotated(path string, backups int) VerifyResult {
	files := make([]string, 0, backups+1)
	for i := backups; i >= 1; i-- {
		p := BackupPath(path, i)
		if _, err := os.Stat(p); err == nil {
			files = append(files, p)
		} else if !errors.Is(err, fs.ErrNotExist) {
			return VerifyResult{Error: fmt.Sprintf("stat: %v", err), ErrorFile: p}
		}
	}
	files = append(files, path)

	var res VerifyResult
	prev := ""
	for i, p := range files {
		res.Files++
		if _, err := verifyFile(p, &prev, i == 0, &res); err != nil {
			res.Error = err.Error()
			res.ErrorFile = p
			return res
		}
	}
	res.Valid = true
	return res
}

// verifyFile walks one file, advancing prev. When anchor is set the
// first line's prevHash is taken as given.
func verifyFile(path string, prev *string, anchor bool, res *VerifyResult) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open: %w", err)
	}
	defer f.Close()

	sc := newScanner(f)
	n := 0
	for sc.Scan() {
		n++
		line := append([]byte(nil), sc.Bytes()...)

		var e Event
		if err := json.Unmarshal(line, &e); err != nil {
			res.ErrorLine = n
			return n, fmt.Errorf("parse error: %v", err)
		}
		switch {
		case anchor && n == 1:
		case e.PrevHash != *prev:
			res.ErrorLine = n
			if *prev == GenesisHash {
				return n, fmt.Errorf("first entry prevHash is %q, expected genesis hash", e.PrevHash)
			}
			return n, fmt.Errorf("hash mismatch: expected %s, got %s", *prev, e.PrevHash)
		}
		*prev = HashLine(line)
		res.Lines++
	}
	if err := sc.Err(); err != nil {
		return n, fmt.Errorf("scan: %w", err)
	}
	return n, nil
}
