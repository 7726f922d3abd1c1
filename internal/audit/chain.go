package audit

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
)

// GenesisHash is the prevHash of the first event in a new log.
const GenesisHash = "sha256:0000000000000000000000000000000000000000000000000000000000000000"

// maxLineBytes bounds a single JSONL line when scanning.
const maxLineBytes = 1 << 20

// HashLine returns "sha256:<hex>" of line.
func HashLine(line []byte) string {
	h := sha256.Sum256(line)
	return "sha256:" + hex.EncodeToString(h[:])
}

// chain links events. It is not safe for concurrent use; sinks guard it.
type chain struct {
	prevHash string
}

func newChain() chain { return chain{prevHash: GenesisHash} }

// encode stamps PrevHash and returns the line and its hash. The chain
// only advances once the caller has persisted the line.
func (c *chain) encode(e Event) ([]byte, string, error) {
	e.PrevHash = c.prevHash
	line, err := json.Marshal(e)
	if err != nil {
		return nil, "", fmt.Errorf("audit: marshal event: %w", err)
	}
	return line, HashLine(line), nil
}

func newScanner(r io.Reader) *bufio.Scanner {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	return s
}
