package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/horizonlab/prospect/internal/api"
	"github.com/horizonlab/prospect/internal/metrics"
	"github.com/horizonlab/prospect/internal/scenario"
	"github.com/horizonlab/prospect/internal/temporal"
	"github.com/horizonlab/prospect/pkg/randx"
)

var (
	// Global flags
	journalDir string
	verbose    bool

	// run flags
	paramsFile   string
	numScenarios int
	seed         int64

	// record flags
	eventType    string
	eventDomain  string
	stakeholders []string
	dataPairs    []string

	// trace flags
	maxDepth int

	// counterfactual flags
	change      string
	depthMonths int
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "prospectctl",
		Short: "Scenario simulation and causal analysis from the command line",
		Long: `prospectctl runs Monte-Carlo scenario analyses and manages the local
event journal: record events, trace causal chains, explore counterfactuals.`,
	}

	rootCmd.PersistentFlags().StringVarP(&journalDir, "journal-dir", "j", "data/events", "Event journal directory")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "Verbose logging")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(recordCmd())
	rootCmd.AddCommand(traceCmd())
	rootCmd.AddCommand(counterfactualCmd())
	rootCmd.AddCommand(statsCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func logger() zerolog.Logger {
	level := zerolog.WarnLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()
}

func openEngines() (*scenario.Engine, *temporal.Engine, temporal.Store, error) {
	log := logger()
	params := api.DefaultEngineParams()

	store, err := temporal.NewMemoryStore(journalDir)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to open event journal: %w", err)
	}

	m := metrics.New()
	events := temporal.NewEngine(store, params, m, log)

	opts := []scenario.EngineOption{scenario.WithTemporalEngine(events)}
	if seed != 0 {
		opts = append(opts, scenario.WithMasterSource(randx.NewLocked(randx.NewSeeded(seed))))
	}
	engine, err := scenario.NewEngine(params, m, log, opts...)
	if err != nil {
		store.Close()
		return nil, nil, nil, err
	}
	return engine, events, store, nil
}

// runCmd executes a scenario analysis from a parameters file
func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a Monte-Carlo scenario analysis",
		Long: `Loads scenario parameters (base state, variables, constraints,
objectives) from a JSON file and runs the full analysis pipeline.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(paramsFile)
			if err != nil {
				return fmt.Errorf("failed to read parameters: %w", err)
			}
			var params api.ScenarioParameters
			if err := json.Unmarshal(data, &params); err != nil {
				return fmt.Errorf("failed to parse parameters: %w", err)
			}

			engine, _, store, err := openEngines()
			if err != nil {
				return err
			}
			defer store.Close()

			analysis, err := engine.RunScenarioAnalysis(context.Background(), &params, numScenarios)
			if err != nil {
				return fmt.Errorf("analysis failed: %w", err)
			}

			fmt.Printf("=== Scenario Analysis ===\n")
			fmt.Printf("Scenarios evaluated: %d\n", analysis.TotalScenarios)
			if analysis.PartialCompletion {
				fmt.Printf("PARTIAL: %d batches dropped\n", analysis.DroppedBatches)
			}
			fmt.Printf("Elapsed: %v\n", analysis.Elapsed)
			fmt.Printf("\nExpected revenue: %.0f\n", analysis.ExpectedState.Financial.Revenue)
			fmt.Printf("Revenue %.0f%% CI: [%.0f, %.0f]\n",
				95.0, analysis.ConfidenceInterval[0], analysis.ConfidenceInterval[1])
			fmt.Printf("\nRisk:\n")
			fmt.Printf("  VaR:        %.4f\n", analysis.Risk.ValueAtRisk)
			fmt.Printf("  CVaR:       %.4f\n", analysis.Risk.ConditionalVaR)
			fmt.Printf("  Volatility: %.4f\n", analysis.Risk.Volatility)
			fmt.Printf("  Drawdown:   %.4f\n", analysis.Risk.MaxDrawdown)
			if analysis.Optimal != nil {
				fmt.Printf("\nOptimal scenario utility: %.4f (seed %d)\n",
					analysis.Optimal.Utility, analysis.Optimal.Params.Seed)
			}
			fmt.Printf("\nRecommendations:\n")
			for _, rec := range analysis.Recommendations {
				fmt.Printf("  - %s\n", rec)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&paramsFile, "params", "p", "", "Scenario parameters file (JSON)")
	cmd.Flags().IntVarP(&numScenarios, "scenarios", "n", 1000, "Number of scenarios to simulate")
	cmd.Flags().Int64Var(&seed, "seed", 0, "Master seed for reproducible runs (0 = random)")
	cmd.MarkFlagRequired("params")

	return cmd
}

// recordCmd appends an event to the journal
func recordCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "record <description>",
		Short: "Record a temporal event",
		Long: `Appends an event to the journal and runs causality detection against
recent prior events. Detected causal links are printed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := parseDataPairs(dataPairs)
			if err != nil {
				return err
			}

			_, events, store, err := openEngines()
			if err != nil {
				return err
			}
			defer store.Close()

			ev, err := events.RecordEvent(context.Background(),
				api.EventType(eventType), args[0], data, eventDomain, stakeholders)
			if err != nil {
				return fmt.Errorf("failed to record event: %w", err)
			}

			fmt.Printf("Recorded %s (impact %.1f)\n", ev.ID, ev.Impact)
			if len(ev.CausedBy) > 0 {
				fmt.Printf("Caused by:\n")
				for _, id := range ev.CausedBy {
					fmt.Printf("  - %s\n", id)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&eventType, "type", "t", "decision", "Event type: decision|outcome|external|milestone|crisis")
	cmd.Flags().StringVarP(&eventDomain, "domain", "d", "strategic", "Business domain: financial|operational|market|strategic")
	cmd.Flags().StringSliceVar(&stakeholders, "stakeholders", nil, "Stakeholders involved")
	cmd.Flags().StringSliceVar(&dataPairs, "data", nil, "Numeric data fields as key=value")

	return cmd
}

// traceCmd walks the causal chain behind an event
func traceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trace <event-id>",
		Short: "Trace the causal chain behind an outcome event",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, events, store, err := openEngines()
			if err != nil {
				return err
			}
			defer store.Close()

			chain, err := events.TraceCausalChain(context.Background(), args[0], maxDepth)
			if err != nil {
				return fmt.Errorf("trace failed: %w", err)
			}

			fmt.Printf("=== Causal Chain ===\n")
			fmt.Printf("Root cause: %s  %q\n", chain.RootCause.ID, chain.RootCause.Description)
			for _, ev := range chain.Intermediate {
				fmt.Printf("        |-> %s  %q\n", ev.ID, ev.Description)
			}
			fmt.Printf("Outcome:    %s  %q\n", chain.Outcome.ID, chain.Outcome.Description)
			fmt.Printf("\nStrength: %.3f  Confidence: %.3f\n", chain.Strength, chain.Confidence)
			if len(chain.Mechanisms) > 0 {
				fmt.Printf("Mechanisms: %s\n", strings.Join(chain.Mechanisms, ", "))
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&maxDepth, "max-depth", 10, "Maximum chain depth")

	return cmd
}

// counterfactualCmd re-simulates the timeline with a changed event
func counterfactualCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "counterfactual <event-id>",
		Short: "Explore a what-if timeline branching at an event",
		Long: `Branches the recorded timeline at the given event, applies the change,
and re-simulates forward. Reports outcome deltas against the real timeline.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, events, store, err := openEngines()
			if err != nil {
				return err
			}
			defer store.Close()

			analysis, err := events.PerformCounterfactualAnalysis(
				context.Background(), args[0], change, depthMonths)
			if err != nil {
				return fmt.Errorf("counterfactual failed: %w", err)
			}

			fmt.Printf("=== Counterfactual ===\n")
			fmt.Printf("Intervention at %s: %q\n",
				analysis.Intervention.Timestamp.Format(time.RFC3339), analysis.Intervention.Change)
			fmt.Printf("\nDeltas:\n")
			fmt.Printf("  financial:   %+.1f\n", analysis.Deltas["financial"])
			fmt.Printf("  operational: %+.1f\n", analysis.Deltas["operational"])
			fmt.Printf("  strategic:   %+.1f\n", analysis.Deltas["strategic"])
			fmt.Printf("\nInsights:\n")
			for _, in := range analysis.Insights {
				fmt.Printf("  - %s\n", in)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&change, "change", "c", "", "Description of the hypothetical change")
	cmd.Flags().IntVar(&depthMonths, "depth-months", 6, "How far forward to re-simulate")
	cmd.MarkFlagRequired("change")

	return cmd
}

// statsCmd summarizes the recorded timeline
func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Summarize the recorded timeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, events, store, err := openEngines()
			if err != nil {
				return err
			}
			defer store.Close()

			tl, err := events.MainTimeline(context.Background())
			if err != nil {
				return err
			}

			byType := make(map[api.EventType]int)
			links := 0
			for i := range tl.Events {
				byType[tl.Events[i].Type]++
				links += len(tl.Events[i].CausedBy)
			}

			fmt.Printf("=== Timeline ===\n")
			fmt.Printf("Events: %d\n", len(tl.Events))
			if len(tl.Events) > 0 {
				fmt.Printf("Span: %s .. %s\n",
					tl.Start.Format(time.RFC3339), tl.End.Format(time.RFC3339))
			}
			for typ, n := range byType {
				fmt.Printf("  %-10s %d\n", typ, n)
			}
			fmt.Printf("Causal links: %d\n", links)
			if tl.Outcome != nil {
				fmt.Printf("\nProjected outcome:\n")
				fmt.Printf("  revenue:    %.0f\n", tl.Outcome.Financial.Revenue)
				fmt.Printf("  efficiency: %.1f\n", tl.Outcome.Operational.Efficiency)
				fmt.Printf("  growth:     %.1f\n", tl.Outcome.Strategic.GrowthRate)
			}
			return nil
		},
	}
}

func parseDataPairs(pairs []string) (map[string]float64, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	data := make(map[string]float64, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok {
			return nil, fmt.Errorf("invalid data pair %q, expected key=value", p)
		}
		var f float64
		if _, err := fmt.Sscanf(v, "%g", &f); err != nil {
			return nil, fmt.Errorf("invalid numeric value in %q: %w", p, err)
		}
		data[k] = f
	}
	return data, nil
}
