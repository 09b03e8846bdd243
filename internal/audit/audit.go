// Package audit implements the append-only audit log (component C): every
// outbound/inbound call through the Privacy Gate is recorded as one JSON
// line, never mutated afterward. The log doubles as the source of the
// privacy score surfaced by the management API.
package audit

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"privacycore/internal/errs"
)

// Direction classifies which way a call travels through the gate.
type Direction string

const (
	DirectionOutbound Direction = "outbound"
	DirectionInbound  Direction = "inbound"
)

// Entry is one append-only audit record. Entries never mutate after Append.
type Entry struct {
	Timestamp       int64     `json:"timestamp"`
	Provider        string    `json:"provider"`
	Model           string    `json:"model,omitempty"`
	Endpoint        string    `json:"endpoint,omitempty"`
	Direction       Direction `json:"direction"`
	PIIDetected     int       `json:"piiDetected"`
	PIIRedacted     bool      `json:"piiRedacted"`
	RedactedTypes   []string  `json:"redactedTypes,omitempty"`
	EstimatedTokens int       `json:"estimatedTokens"`
	LatencyMs       int64     `json:"latencyMs"`
	SessionID       string    `json:"sessionId,omitempty"`
	Channel         string    `json:"channel,omitempty"`
	Success         bool      `json:"success"`
}

// Filter narrows GetEntries to a subset of the log. A zero-value field is
// not applied as a constraint.
type Filter struct {
	SessionID string
	Provider  string
	Direction Direction
}

func (f Filter) matches(e Entry) bool {
	if f.SessionID != "" && e.SessionID != f.SessionID {
		return false
	}
	if f.Provider != "" && e.Provider != f.Provider {
		return false
	}
	if f.Direction != "" && e.Direction != f.Direction {
		return false
	}
	return true
}

// PrivacyScore summarizes the log's redaction effectiveness.
type PrivacyScore struct {
	TotalCalls     int     `json:"totalCalls"`
	PIICaught      int     `json:"piiCaught"`
	RedactionRate  float64 `json:"redactionRate"`
	Score          int     `json:"score"`
}

// Log is an append-only JSON Lines audit file. All methods are safe for
// concurrent use; writes are serialized by mu and fsync'd before return.
type Log struct {
	mu   sync.Mutex
	path string
}

// Open returns a Log backed by path, creating the parent directory if it
// is missing. The file itself is created lazily on first Append.
func Open(path string) (*Log, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errs.Wrap(errs.KindInternal, "create audit log directory", err)
	}
	return &Log{path: path}, nil
}

// Append writes entry as one JSON line and fsyncs before returning. The
// returned auditId is the hex SHA-256 of the appended line, matching
// the auditId is the hash of the appended entry.
func (l *Log) Append(entry Entry) (auditID string, err error) {
	line, err := json.Marshal(entry)
	if err != nil {
		return "", errs.Wrap(errs.KindInternal, "marshal audit entry", err)
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return "", errs.Wrap(errs.KindInternal, "open audit log", err)
	}
	defer f.Close()

	if _, err := f.Write(line); err != nil {
		return "", errs.Wrap(errs.KindInternal, "write audit entry", err)
	}
	if err := f.Sync(); err != nil {
		return "", errs.Wrap(errs.KindInternal, "fsync audit log", err)
	}

	sum := sha256.Sum256(line)
	return hex.EncodeToString(sum[:]), nil
}

// GetEntries reads the whole log and returns entries matching filter. A
// zero-value Filter matches everything. Malformed lines are skipped —
// the log is append-only and a single torn write must not fail the read
// of everything before it.
func (l *Log) GetEntries(filter Filter) ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, "open audit log", err)
	}
	defer f.Close()

	var out []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			continue
		}
		if filter.matches(e) {
			out = append(out, e)
		}
	}
	if err := scanner.Err(); err != nil {
		return out, errs.Wrap(errs.KindInternal, "scan audit log", err)
	}
	return out, nil
}

// GetPrivacyScore computes the redaction-effectiveness summary. TotalCalls
// counts every entry, inbound included; the PII figures cover outbound
// entries only.
func (l *Log) GetPrivacyScore() (PrivacyScore, error) {
	entries, err := l.GetEntries(Filter{})
	if err != nil {
		return PrivacyScore{}, err
	}

	var score PrivacyScore
	var redacted int
	for _, e := range entries {
		score.TotalCalls++
		if e.Direction != DirectionOutbound {
			continue
		}
		if e.PIIDetected > 0 {
			score.PIICaught++
			if e.PIIRedacted {
				redacted++
			}
		}
	}

	if score.PIICaught > 0 {
		score.RedactionRate = float64(redacted) / float64(score.PIICaught)
		score.Score = int(score.RedactionRate*100 + 0.5)
	} else {
		score.RedactionRate = 0
		score.Score = 100
	}
	return score, nil
}
