// Package audit provides the append-only, hash-chained decision log.
// Every policy evaluation, draft build, disposition change, and apply
// attempt lands here as one JSON line. The chain hash binds each entry
// to its predecessor so silent tampering is detectable by replay alone.
package audit

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/gowebpki/jcs"
)

// Kind identifies what event an entry records.
type Kind string

const (
	KindPolicyDecision Kind = "policy_decision"
	KindDraftBuilt     Kind = "draft_built"
	KindDisposition    Kind = "disposition_changed"
	KindApplyAttempt   Kind = "apply_attempt"
	KindChainVerified  Kind = "chain_verified"
)

// Entry is a single immutable audit record. PayloadHash covers the
// canonicalized payload; ChainHash covers (PayloadHash, previous
// ChainHash), so recomputing from entry 0 reproduces every stored hash.
type Entry struct {
	Seq         int64           `json:"seq"`
	Timestamp   time.Time       `json:"timestamp"`
	Kind        Kind            `json:"kind"`
	Payload     json.RawMessage `json:"payload"`
	PayloadHash string          `json:"payload_hash"`
	ChainHash   string          `json:"chain_hash"`
}

// Log is an append-only audit log backed by a single JSONL file.
// Appends are serialized through one mutex per log instance: chain-hash
// computation is inherently sequential, and a gap or reordering breaks
// replay as badly as a tampered entry. Open once per process, Close on
// shutdown; components receive the handle explicitly.
type Log struct {
	mu        sync.Mutex
	file      *os.File
	writer    *bufio.Writer
	path      string
	seq       int64
	lastChain string
}

// Open creates or reopens the audit log at path. Reopening scans the
// existing file to recover the last sequence number and chain hash so
// the chain continues unbroken across process restarts.
func Open(path string) (*Log, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}

	l := &Log{
		file:   file,
		writer: bufio.NewWriter(file),
		path:   path,
	}

	if err := l.loadTail(); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to recover audit log tail: %w", err)
	}

	return l, nil
}

// Close flushes and closes the log.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.writer.Flush(); err != nil {
		return err
	}
	return l.file.Close()
}

// Path returns the on-disk location of the log file.
func (l *Log) Path() string {
	return l.path
}

// Append records one event. The payload is marshaled, canonicalized,
// and chained onto the previous entry. A storage error is fatal to the
// call but leaves all prior entries intact.
func (l *Log) Append(kind Kind, payload any) (Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	raw, err := json.Marshal(payload)
	if err != nil {
		return Entry{}, fmt.Errorf("failed to marshal audit payload: %w", err)
	}

	payloadHash, err := hashPayload(raw)
	if err != nil {
		return Entry{}, err
	}

	entry := Entry{
		Seq:         l.seq + 1,
		Timestamp:   time.Now().UTC(),
		Kind:        kind,
		Payload:     raw,
		PayloadHash: payloadHash,
		ChainHash:   chainHash(payloadHash, l.lastChain),
	}

	if err := l.writeEntry(entry); err != nil {
		return Entry{}, err
	}

	l.seq = entry.Seq
	l.lastChain = entry.ChainHash
	return entry, nil
}

// writeEntry writes one JSONL line, flushed and fsynced for durability.
func (l *Log) writeEntry(entry Entry) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}

	if _, err := l.writer.Write(line); err != nil {
		return fmt.Errorf("failed to write audit entry: %w", err)
	}
	if err := l.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}
	if err := l.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush audit log: %w", err)
	}
	return l.file.Sync()
}

// loadTail recovers seq and chain state from an existing log file.
func (l *Log) loadTail() error {
	reader, err := NewReader(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer func() { _ = reader.Close() }()

	for {
		entry, err := reader.Next()
		if err != nil {
			break
		}
		l.seq = entry.Seq
		l.lastChain = entry.ChainHash
	}
	return nil
}

// hashPayload hashes the JCS-canonical form of the payload so the hash
// is independent of field order and map iteration in the producer.
func hashPayload(raw []byte) (string, error) {
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize audit payload: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// chainHash binds an entry to its predecessor. The genesis entry chains
// from the empty string.
func chainHash(payloadHash, prevChain string) string {
	sum := sha256.Sum256([]byte(payloadHash + prevChain))
	return hex.EncodeToString(sum[:])
}
