package temporal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/horizonlab/prospect/internal/api"
)

// Journal is the append-only file log behind the in-memory event store.
// Every recorded event and causal link is written as one JSON line and
// fsynced, so a restart replays the full event graph. Files are
// date-partitioned; the journal rolls to a new file at the first append
// past midnight.
type Journal struct {
	mu   sync.Mutex
	dir  string
	day  string
	file *os.File
	now  func() time.Time
}

// journalEntry is one line of the journal: either an event or a link.
type journalEntry struct {
	Kind     string             `json:"kind"` // "event" or "link"
	Event    *api.TemporalEvent `json:"event,omitempty"`
	CauseID  string             `json:"cause_id,omitempty"`
	EffectID string             `json:"effect_id,omitempty"`
	Strength float64            `json:"strength,omitempty"`
}

// NewJournal creates or opens today's journal file in dirPath.
func NewJournal(dirPath string) (*Journal, error) {
	if err := os.MkdirAll(dirPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}

	j := &Journal{dir: dirPath, now: time.Now}
	if err := j.roll(j.now().Format(journalDayFormat)); err != nil {
		return nil, err
	}
	return j, nil
}

const journalDayFormat = "20060102"

// roll closes the current file (if any) and opens the file for day.
// Caller holds j.mu, except during construction.
func (j *Journal) roll(day string) error {
	if j.file != nil {
		if err := j.file.Sync(); err != nil {
			return fmt.Errorf("failed to sync journal before roll: %w", err)
		}
		if err := j.file.Close(); err != nil {
			return fmt.Errorf("failed to close journal before roll: %w", err)
		}
		j.file = nil
	}

	path := filepath.Join(j.dir, fmt.Sprintf("events-%s.log", day))
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open journal file: %w", err)
	}
	j.file = file
	j.day = day
	return nil
}

// AppendEvent durably writes an event line.
func (j *Journal) AppendEvent(ev *api.TemporalEvent) error {
	return j.append(journalEntry{Kind: "event", Event: ev})
}

// AppendLink durably writes a causal-link line.
func (j *Journal) AppendLink(causeID, effectID string, strength float64) error {
	return j.append(journalEntry{Kind: "link", CauseID: causeID, EffectID: effectID, Strength: strength})
}

func (j *Journal) append(e journalEntry) error {
	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal journal entry: %w", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if day := j.now().Format(journalDayFormat); day != j.day {
		if err := j.roll(day); err != nil {
			return err
		}
	}

	if _, err := j.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to write journal entry: %w", err)
	}
	// fsync: an acknowledged event must survive a crash.
	if err := j.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync journal: %w", err)
	}
	return nil
}

// Close flushes and closes the journal file.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.file.Sync(); err != nil {
		return err
	}
	return j.file.Close()
}

// ReplayDir reads every journal file in dirPath in name order (daily files
// sort chronologically) and returns the entries. Malformed lines are
// skipped rather than aborting the replay.
func ReplayDir(dirPath string) ([]journalEntry, error) {
	paths, err := filepath.Glob(filepath.Join(dirPath, "events-*.log"))
	if err != nil {
		return nil, err
	}

	var entries []journalEntry
	for _, path := range paths {
		file, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		scanner := bufio.NewScanner(file)
		scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
		for scanner.Scan() {
			var e journalEntry
			if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
				continue
			}
			entries = append(entries, e)
		}
		if err := scanner.Err(); err != nil {
			file.Close()
			return nil, err
		}
		file.Close()
	}
	return entries, nil
}
