package session

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/harun/parley/internal/observability"
	"github.com/harun/parley/internal/tracing"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
)

// Transcript entry kinds besides the turn kinds output, last and error
const (
	EntryInput   = "input"
	EntryEvicted = "evicted"
	EntryRemoved = "removed"
)

// Entry is one line of a session transcript
type Entry struct {
	SessionID string    `json:"session_id"`
	Turn      int       `json:"turn"`
	Kind      string    `json:"kind"`
	Value     any       `json:"value,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Transcript persists session turns as one JSONL file per session id
type Transcript struct {
	dir        string
	writeLocks map[string]*sync.Mutex
	locksMu    sync.Mutex
}

// NewTranscript creates a transcript store rooted at dir
func NewTranscript(dir string) (*Transcript, error) {
	if dir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		dir = filepath.Join(homeDir, ".parley", "transcripts")
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create transcript directory: %w", err)
	}

	log.Info().Str("dir", dir).Msg("Transcript store initialized")

	return &Transcript{
		dir:        dir,
		writeLocks: make(map[string]*sync.Mutex),
	}, nil
}

// Dir returns the directory transcripts are written to
func (t *Transcript) Dir() string {
	return t.dir
}

// validateID rejects ids that are not safe to use as file names
func validateID(id string) error {
	if id == "" {
		return fmt.Errorf("session id cannot be empty")
	}
	if strings.Contains(id, "..") {
		return fmt.Errorf("session id cannot contain '..'")
	}
	if strings.ContainsAny(id, "/\\") {
		return fmt.Errorf("session id cannot contain path separators")
	}
	if strings.Contains(id, "\x00") {
		return fmt.Errorf("session id cannot contain null bytes")
	}
	return nil
}

func (t *Transcript) path(id string) string {
	return filepath.Join(t.dir, id+".jsonl")
}

func (t *Transcript) lockFor(id string) *sync.Mutex {
	t.locksMu.Lock()
	defer t.locksMu.Unlock()

	if lock, ok := t.writeLocks[id]; ok {
		return lock
	}
	lock := &sync.Mutex{}
	t.writeLocks[id] = lock
	return lock
}

// Append writes entry to the transcript of entry.SessionID
func (t *Transcript) Append(ctx context.Context, entry Entry) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, span := tracing.StartSpan(
		tracing.WithSessionID(ctx, entry.SessionID),
		"transcript.append",
		attribute.String("session_id", entry.SessionID),
		attribute.String("kind", entry.Kind),
	)
	var err error
	defer func() { tracing.EndSpan(span, err) }()

	start := time.Now()
	defer func() {
		observability.RecordTranscriptWrite(time.Since(start))
	}()

	if err = validateID(entry.SessionID); err != nil {
		return err
	}
	if entry.Kind == "" {
		err = fmt.Errorf("entry kind cannot be empty")
		return err
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	lock := t.lockFor(entry.SessionID)
	lock.Lock()
	defer lock.Unlock()

	file, err := os.OpenFile(t.path(entry.SessionID), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		err = fmt.Errorf("failed to open transcript: %w", err)
		return err
	}
	defer file.Close()

	data, err := json.Marshal(entry)
	if err != nil {
		err = fmt.Errorf("failed to marshal entry: %w", err)
		return err
	}

	if _, err = file.Write(append(data, '\n')); err != nil {
		err = fmt.Errorf("failed to write entry: %w", err)
		return err
	}

	logger := tracing.LoggerFromContext(ctx, log.Logger)
	logger.Debug().
		Str("kind", entry.Kind).
		Int("turn", entry.Turn).
		Msg("Transcript entry appended")

	return nil
}

// Load returns every readable entry of a session in write order. A missing
// transcript yields an empty slice.
func (t *Transcript) Load(id string) ([]Entry, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}

	file, err := os.Open(t.path(id))
	if os.IsNotExist(err) {
		return []Entry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open transcript: %w", err)
	}
	defer file.Close()

	entries := []Entry{}
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var entry Entry
		if err := json.Unmarshal(line, &entry); err != nil || entry.Kind == "" {
			log.Warn().
				Str("session_id", id).
				Int("line", lineNum).
				Msg("Skipping unreadable transcript line")
			continue
		}
		entries = append(entries, entry)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read transcript: %w", err)
	}
	return entries, nil
}

// Delete removes the transcript of a session
func (t *Transcript) Delete(id string) error {
	if err := validateID(id); err != nil {
		return err
	}

	lock := t.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	if err := os.Remove(t.path(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete transcript: %w", err)
	}

	t.locksMu.Lock()
	delete(t.writeLocks, id)
	t.locksMu.Unlock()

	log.Debug().Str("session_id", id).Msg("Transcript deleted")
	return nil
}

// List returns the ids that have a transcript, sorted
func (t *Transcript) List() ([]string, error) {
	files, err := os.ReadDir(t.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read transcript directory: %w", err)
	}

	ids := []string{}
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".jsonl") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(f.Name(), ".jsonl"))
	}
	sort.Strings(ids)
	return ids, nil
}

// Prune deletes transcripts last written before cutoff. Ids for which
// active reports true are kept regardless of age.
func (t *Transcript) Prune(cutoff time.Time, active func(id string) bool) (int, error) {
	ids, err := t.List()
	if err != nil {
		return 0, err
	}

	pruned := 0
	for _, id := range ids {
		if active != nil && active(id) {
			continue
		}
		info, err := os.Stat(t.path(id))
		if err != nil {
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		if err := t.Delete(id); err != nil {
			return pruned, err
		}
		pruned++
	}

	if pruned > 0 {
		log.Info().Int("count", pruned).Time("cutoff", cutoff).Msg("Pruned old transcripts")
	}
	return pruned, nil
}
