package temporal

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/horizonlab/prospect/internal/api"
)

func TestJournalRollsAtMidnight(t *testing.T) {
	dir := t.TempDir()
	j, err := NewJournal(dir)
	if err != nil {
		t.Fatalf("failed to open journal: %v", err)
	}
	defer j.Close()

	at := time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC)
	j.now = func() time.Time { return at }

	if err := j.AppendEvent(&api.TemporalEvent{ID: "e1", Timestamp: at}); err != nil {
		t.Fatalf("append before midnight failed: %v", err)
	}

	at = at.Add(2 * time.Hour) // past midnight
	if err := j.AppendEvent(&api.TemporalEvent{ID: "e2", Timestamp: at}); err != nil {
		t.Fatalf("append after midnight failed: %v", err)
	}

	for _, want := range []string{"events-20260301.log", "events-20260302.log"} {
		if _, err := os.Stat(filepath.Join(dir, want)); err != nil {
			t.Errorf("expected date-partitioned file %s: %v", want, err)
		}
	}

	// Both days replay in order.
	entries, err := ReplayDir(dir)
	if err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	var ids []string
	for _, e := range entries {
		if e.Kind == "event" {
			ids = append(ids, e.Event.ID)
		}
	}
	if len(ids) != 2 || ids[0] != "e1" || ids[1] != "e2" {
		t.Errorf("unexpected replayed event ids %v, want [e1 e2]", ids)
	}
}
