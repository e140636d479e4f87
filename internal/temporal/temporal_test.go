package temporal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/horizonlab/prospect/internal/api"
	"github.com/horizonlab/prospect/pkg/randx"
)

// testClock hands out timestamps advancing by a fixed step per call.
type testClock struct {
	now  time.Time
	step time.Duration
}

func (c *testClock) tick() time.Time {
	t := c.now
	c.now = c.now.Add(c.step)
	return t
}

func newTestEngine(t *testing.T, step time.Duration) (*Engine, *testClock) {
	t.Helper()
	store, err := NewMemoryStore("")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	clock := &testClock{
		now:  time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC),
		step: step,
	}
	e := NewEngine(store, api.DefaultEngineParams(), nil, zerolog.Nop(),
		WithClock(clock.tick),
		WithRand(randx.NewSeeded(42)),
	)
	return e, clock
}

func TestRecordEventComputesImpact(t *testing.T) {
	e, _ := newTestEngine(t, time.Hour)
	ctx := context.Background()

	crisis, err := e.RecordEvent(ctx, api.EventCrisis, "supply chain failure",
		map[string]float64{"magnitude": 5}, "financial", nil)
	if err != nil {
		t.Fatalf("record failed: %v", err)
	}

	// Crisis base 90, financial multiplier 1.2, magnitude scaling: capped at 100.
	if crisis.Impact != 100 {
		t.Errorf("crisis impact should cap at 100, got %.1f", crisis.Impact)
	}
	if crisis.Probability != 1.0 {
		t.Errorf("real events carry probability 1.0, got %.2f", crisis.Probability)
	}

	external, err := e.RecordEvent(ctx, api.EventExternal, "regulation change", nil, "operational", nil)
	if err != nil {
		t.Fatalf("record failed: %v", err)
	}
	// External base 40, operational multiplier 0.9, no magnitude.
	if got := external.Impact; got < 35.9 || got > 36.1 {
		t.Errorf("external impact = %.2f, want 36", got)
	}
}

func TestRecordEventDetectsCausality(t *testing.T) {
	e, _ := newTestEngine(t, 48*time.Hour)
	ctx := context.Background()

	cause, err := e.RecordEvent(ctx, api.EventDecision, "enter new market",
		map[string]float64{"budget": 2_000_000}, "strategic", []string{"ceo", "board"})
	if err != nil {
		t.Fatalf("record failed: %v", err)
	}

	// Two days later, same domain, same stakeholders, shared data field:
	// well above the causal threshold.
	effect, err := e.RecordEvent(ctx, api.EventOutcome, "market entry approved",
		map[string]float64{"budget": 1_800_000}, "strategic", []string{"ceo", "board"})
	if err != nil {
		t.Fatalf("record failed: %v", err)
	}

	found := false
	for _, id := range effect.CausedBy {
		if id == cause.ID {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected causal link from %s, got causes %v", cause.ID, effect.CausedBy)
	}

	s, ok, err := e.store.LinkStrength(ctx, cause.ID, effect.ID)
	if err != nil || !ok {
		t.Fatalf("link strength missing: ok=%v err=%v", ok, err)
	}
	if s <= e.params.CausalThreshold {
		t.Errorf("recorded strength %.3f should clear the threshold %.3f", s, e.params.CausalThreshold)
	}

	// The cause's consequences list mirrors the link.
	stored, err := e.GetEvent(ctx, cause.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if len(stored.Consequences) != 1 || stored.Consequences[0] != effect.ID {
		t.Errorf("cause consequences = %v, want [%s]", stored.Consequences, effect.ID)
	}
}

func TestRecordEventIgnoresDistantEvents(t *testing.T) {
	e, _ := newTestEngine(t, 45*24*time.Hour) // beyond the 30-day lookback
	ctx := context.Background()

	e.RecordEvent(ctx, api.EventDecision, "old decision", nil, "strategic", []string{"ceo"})
	late, err := e.RecordEvent(ctx, api.EventOutcome, "much later outcome", nil, "strategic", []string{"ceo"})
	if err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if len(late.CausedBy) != 0 {
		t.Errorf("events outside the lookback window must not link, got %v", late.CausedBy)
	}
}

func TestCausalStrengthOrdering(t *testing.T) {
	params := api.DefaultEngineParams()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	cause := &api.TemporalEvent{
		ID: "c", Timestamp: base, Domain: "financial",
		Stakeholders: []string{"cfo"},
		Data:         map[string]float64{"amount": 1},
	}
	effect := &api.TemporalEvent{
		ID: "e", Timestamp: base.Add(24 * time.Hour), Domain: "financial",
		Stakeholders: []string{"cfo"},
		Data:         map[string]float64{"amount": 2},
	}

	s, mechanisms := causalStrength(cause, effect, params)
	if s <= 0 || s > 1 {
		t.Fatalf("strength %.3f outside (0,1]", s)
	}
	if len(mechanisms) == 0 {
		t.Error("aligned events should report contributing mechanisms")
	}

	// An effect that precedes its cause scores zero.
	if s, _ := causalStrength(effect, cause, params); s != 0 {
		t.Errorf("reversed ordering must score 0, got %.3f", s)
	}
	// An event can never cause itself.
	if s, _ := causalStrength(cause, cause, params); s != 0 {
		t.Errorf("self-causation must score 0, got %.3f", s)
	}
}

func TestStakeholderOverlap(t *testing.T) {
	tests := []struct {
		a, b []string
		want float64
	}{
		{nil, nil, 0},
		{[]string{"ceo"}, nil, 0},
		{[]string{"ceo"}, []string{"ceo"}, 1},
		{[]string{"ceo", "cfo"}, []string{"cfo", "cto"}, 1.0 / 3},
	}
	for _, tt := range tests {
		if got := stakeholderOverlap(tt.a, tt.b); got != tt.want {
			t.Errorf("overlap(%v, %v) = %.4f, want %.4f", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestTraceCausalChainWalksToRoot(t *testing.T) {
	e, _ := newTestEngine(t, 24*time.Hour)
	ctx := context.Background()

	// Three same-domain events a day apart form a chain.
	root, _ := e.RecordEvent(ctx, api.EventDecision, "cut marketing budget", nil, "financial", []string{"cfo"})
	mid, _ := e.RecordEvent(ctx, api.EventOutcome, "lead volume drops", nil, "financial", []string{"cfo"})
	outcome, err := e.RecordEvent(ctx, api.EventCrisis, "revenue shortfall", nil, "financial", []string{"cfo"})
	if err != nil {
		t.Fatalf("record failed: %v", err)
	}

	chain, err := e.TraceCausalChain(ctx, outcome.ID, 10)
	if err != nil {
		t.Fatalf("trace failed: %v", err)
	}

	if chain.Outcome.ID != outcome.ID {
		t.Errorf("chain outcome = %s, want %s", chain.Outcome.ID, outcome.ID)
	}
	if chain.RootCause.ID != root.ID {
		t.Errorf("chain root = %s, want %s", chain.RootCause.ID, root.ID)
	}
	if chain.Strength <= 0 {
		t.Errorf("chain strength should be positive, got %.3f", chain.Strength)
	}
	if chain.Confidence <= 0 || chain.Confidence > 1 {
		t.Errorf("chain confidence %.3f outside (0,1]", chain.Confidence)
	}
	for _, ev := range chain.Intermediate {
		if ev.ID != mid.ID {
			t.Errorf("unexpected intermediate %s", ev.ID)
		}
	}
}

func TestTraceCausalChainRespectsMaxDepth(t *testing.T) {
	e, _ := newTestEngine(t, 24*time.Hour)
	ctx := context.Background()

	var last *api.TemporalEvent
	for i := 0; i < 6; i++ {
		ev, err := e.RecordEvent(ctx, api.EventOutcome, "step", nil, "financial", []string{"cfo"})
		if err != nil {
			t.Fatalf("record failed: %v", err)
		}
		last = ev
	}

	chain, err := e.TraceCausalChain(ctx, last.ID, 2)
	if err != nil {
		t.Fatalf("trace failed: %v", err)
	}
	// Depth 2: outcome plus at most two causes, so at most one intermediate.
	if len(chain.Intermediate) > 1 {
		t.Errorf("max depth 2 should cap intermediates at 1, got %d", len(chain.Intermediate))
	}
}

func TestTraceCausalChainNoCauses(t *testing.T) {
	e, _ := newTestEngine(t, time.Hour)
	ctx := context.Background()

	only, err := e.RecordEvent(ctx, api.EventMilestone, "company founded", nil, "strategic", nil)
	if err != nil {
		t.Fatalf("record failed: %v", err)
	}

	chain, err := e.TraceCausalChain(ctx, only.ID, 10)
	if err != nil {
		t.Fatalf("trace failed: %v", err)
	}
	if chain.RootCause.ID != only.ID {
		t.Errorf("causeless outcome should be its own root, got %s", chain.RootCause.ID)
	}
	if len(chain.Intermediate) != 0 {
		t.Errorf("causeless chain should have no intermediates, got %d", len(chain.Intermediate))
	}
}

func TestTraceCausalChainUnknownEvent(t *testing.T) {
	e, _ := newTestEngine(t, time.Hour)
	_, err := e.TraceCausalChain(context.Background(), "no-such-event", 10)
	if !errors.Is(err, api.ErrEventNotFound) {
		t.Fatalf("expected ErrEventNotFound, got %v", err)
	}
}

func TestCounterfactualBranchSharesPrefix(t *testing.T) {
	e, _ := newTestEngine(t, 24*time.Hour)
	ctx := context.Background()

	before, _ := e.RecordEvent(ctx, api.EventDecision, "hire sales team", nil, "operational", []string{"coo"})
	pivot, _ := e.RecordEvent(ctx, api.EventDecision, "launch product early", nil, "strategic", []string{"ceo"})
	after, err := e.RecordEvent(ctx, api.EventCrisis, "quality complaints spike", nil, "operational", []string{"coo"})
	if err != nil {
		t.Fatalf("record failed: %v", err)
	}

	analysis, err := e.PerformCounterfactualAnalysis(ctx, pivot.ID, "delay launch by a quarter", 3)
	if err != nil {
		t.Fatalf("counterfactual failed: %v", err)
	}

	if len(analysis.Counterfactuals) != 1 {
		t.Fatalf("expected one branch, got %d", len(analysis.Counterfactuals))
	}
	branch := analysis.Counterfactuals[0]

	// Events before the intervention are copied verbatim.
	if branch.Events[0].ID != before.ID || branch.Events[0].Description != before.Description {
		t.Errorf("pre-intervention event must be copied verbatim")
	}
	// The intervention event is replaced, with reduced probability.
	if branch.Events[1].ID != pivot.ID {
		t.Fatalf("branch should keep the intervention event id")
	}
	if branch.Events[1].Description != "delay launch by a quarter" {
		t.Errorf("intervention description not applied: %q", branch.Events[1].Description)
	}
	if branch.Events[1].Probability != 0.7 {
		t.Errorf("intervention probability = %.2f, want 0.7", branch.Events[1].Probability)
	}
	// Real events after the branch point never leak into the branch.
	for _, ev := range branch.Events {
		if ev.ID == after.ID {
			t.Error("post-intervention real event leaked into the branch")
		}
	}
	if branch.BranchPoint != pivot.ID {
		t.Errorf("branch point = %s, want %s", branch.BranchPoint, pivot.ID)
	}
}

func TestCounterfactualSimulatesForwardWeekly(t *testing.T) {
	e, _ := newTestEngine(t, 24*time.Hour)
	ctx := context.Background()

	e.RecordEvent(ctx, api.EventDecision, "expand to europe", nil, "strategic", []string{"ceo"})
	pivot, err := e.RecordEvent(ctx, api.EventDecision, "acquire competitor", nil, "strategic", []string{"ceo"})
	if err != nil {
		t.Fatalf("record failed: %v", err)
	}

	analysis, err := e.PerformCounterfactualAnalysis(ctx, pivot.ID, "pass on the acquisition", 3)
	if err != nil {
		t.Fatalf("counterfactual failed: %v", err)
	}
	branch := analysis.Counterfactuals[0]

	// 3 months at weekly steps: 12 synthetic events on top of the copied
	// prefix (2 events).
	synthetic := len(branch.Events) - 2
	if synthetic < 11 || synthetic > 13 {
		t.Errorf("expected ~12 weekly synthetic events, got %d", synthetic)
	}

	// Synthetic events sample their types from the real history: only
	// strategic decisions were recorded.
	for _, ev := range branch.Events[2:] {
		if ev.Type != api.EventDecision || ev.Domain != "strategic" {
			t.Errorf("synthetic event drew (%s, %s) outside the historical distribution", ev.Type, ev.Domain)
		}
		if ev.Probability >= 1.0 {
			t.Errorf("synthetic events must be uncertain, got probability %.2f", ev.Probability)
		}
	}

	if len(analysis.Deltas) != 3 {
		t.Errorf("expected financial/operational/strategic deltas, got %v", analysis.Deltas)
	}
	if len(analysis.Insights) == 0 {
		t.Error("insights must never be empty")
	}
}

func TestCounterfactualUnknownEvent(t *testing.T) {
	e, _ := newTestEngine(t, time.Hour)
	_, err := e.PerformCounterfactualAnalysis(context.Background(), "missing", "change", 3)
	if !errors.Is(err, api.ErrEventNotFound) {
		t.Fatalf("expected ErrEventNotFound, got %v", err)
	}
}

func TestMainTimelineOrderedWithOutcome(t *testing.T) {
	e, _ := newTestEngine(t, 24*time.Hour)
	ctx := context.Background()

	e.RecordEvent(ctx, api.EventMilestone, "first", nil, "strategic", nil)
	e.RecordEvent(ctx, api.EventMilestone, "second", nil, "strategic", nil)
	e.RecordEvent(ctx, api.EventMilestone, "third", nil, "strategic", nil)

	tl, err := e.MainTimeline(ctx)
	if err != nil {
		t.Fatalf("timeline failed: %v", err)
	}
	if len(tl.Events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(tl.Events))
	}
	for i := 1; i < len(tl.Events); i++ {
		if tl.Events[i].Timestamp.Before(tl.Events[i-1].Timestamp) {
			t.Fatal("timeline events out of order")
		}
	}
	if tl.Probability != 1.0 {
		t.Errorf("main timeline probability = %.2f, want 1.0", tl.Probability)
	}
	if tl.Outcome == nil {
		t.Fatal("main timeline should carry a projected outcome")
	}
}

func TestMemoryStoreJournalReplay(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := NewMemoryStore(dir)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	e := NewEngine(store, api.DefaultEngineParams(), nil, zerolog.Nop(),
		WithClock((&testClock{now: time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC), step: 24 * time.Hour}).tick),
		WithRand(randx.NewSeeded(1)),
	)

	cause, _ := e.RecordEvent(ctx, api.EventDecision, "raise prices", nil, "financial", []string{"cfo"})
	effect, err := e.RecordEvent(ctx, api.EventOutcome, "churn increases", nil, "financial", []string{"cfo"})
	if err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	// Reopen: the journal replays the full event graph, links included.
	reopened, err := NewMemoryStore(dir)
	if err != nil {
		t.Fatalf("failed to reopen store: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.Get(ctx, effect.ID)
	if err != nil {
		t.Fatalf("get after replay failed: %v", err)
	}
	if got.Description != "churn increases" {
		t.Errorf("replayed event corrupted: %q", got.Description)
	}

	found := false
	for _, id := range got.CausedBy {
		if id == cause.ID {
			found = true
		}
	}
	if !found {
		t.Errorf("causal link lost in replay: causes %v", got.CausedBy)
	}

	if _, ok, _ := reopened.LinkStrength(ctx, cause.ID, effect.ID); !ok {
		t.Error("link strength lost in replay")
	}
}

func TestMemoryStoreBeforeWindow(t *testing.T) {
	store, _ := NewMemoryStore("")
	ctx := context.Background()
	base := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		store.Append(ctx, &api.TemporalEvent{
			ID:        string(rune('a' + i)),
			Timestamp: base.Add(time.Duration(i) * 24 * time.Hour),
		})
	}

	// Window of 2 days before day 4: days 2 and 3, newest first.
	got, err := store.Before(ctx, base.Add(4*24*time.Hour), 48*time.Hour, 10)
	if err != nil {
		t.Fatalf("before failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 events in window, got %d", len(got))
	}
	if got[0].ID != "d" || got[1].ID != "c" {
		t.Errorf("expected [d c] newest first, got [%s %s]", got[0].ID, got[1].ID)
	}

	// Limit applies before the window is exhausted.
	got, _ = store.Before(ctx, base.Add(5*24*time.Hour), 10*24*time.Hour, 2)
	if len(got) != 2 {
		t.Errorf("limit 2 should cap the scan, got %d", len(got))
	}
}
