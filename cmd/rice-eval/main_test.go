package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/ricesearch/rice-eval/internal/bus"
	"github.com/ricesearch/rice-eval/internal/config"
	"github.com/ricesearch/rice-eval/internal/evaluation"
)

const capitalsJSON = `{
  "queries": {"q1": "capital of France?", "q2": "capital of Japan?"},
  "corpus": {"doc_paris": "Paris is the capital of France.", "doc_tokyo": "Tokyo is the capital of Japan."},
  "relevant_docs": {"q1": ["doc_paris"], "q2": ["doc_tokyo"]}
}`

const capitalsRun = `{"q1": ["doc_lyon", "doc_paris"], "q2": ["doc_tokyo"]}`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := rootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestEvaluate_StaticRun(t *testing.T) {
	dir := t.TempDir()
	ds := writeFile(t, dir, "capitals.json", capitalsJSON)
	run := writeFile(t, dir, "run.json", capitalsRun)
	output := filepath.Join(dir, "out", "run.json")

	out, err := execute(t, "evaluate", "-d", ds, "--run", run, "--metrics", "hit_rate,mrr", "-o", output)
	if err != nil {
		t.Fatalf("evaluate error = %v\n%s", err, out)
	}

	for _, want := range []string{"dataset:  capitals", "queries:  2", "hit_rate  1.0000", "mrr       0.7500"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	data, err := os.ReadFile(output)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	var saved evaluation.Run
	if err := json.Unmarshal(data, &saved); err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if len(saved.Results) != 2 || saved.Results[0].QueryID != "q1" {
		t.Errorf("saved results = %+v", saved.Results)
	}
}

func TestEvaluate_JSONFormat(t *testing.T) {
	dir := t.TempDir()
	ds := writeFile(t, dir, "capitals.json", capitalsJSON)
	run := writeFile(t, dir, "run.json", capitalsRun)

	out, err := execute(t, "evaluate", "-d", ds, "--run", run, "--metrics", "precision@1", "--format", "json")
	if err != nil {
		t.Fatalf("evaluate error = %v", err)
	}
	var got evaluation.Run
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decode stdout: %v\n%s", err, out)
	}
	if got.Summary.Mean["precision@1"] != 0.5 {
		t.Errorf("mean precision@1 = %v, want 0.5", got.Summary.Mean["precision@1"])
	}
}

func TestEvaluate_Errors(t *testing.T) {
	dir := t.TempDir()
	ds := writeFile(t, dir, "capitals.json", capitalsJSON)
	run := writeFile(t, dir, "run.json", capitalsRun)
	partial := writeFile(t, dir, "partial.json", `{"q1": ["doc_paris"]}`)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"missing dataset flag", []string{"evaluate", "--run", run}, "dataset"},
		{"unknown metric", []string{"evaluate", "-d", ds, "--run", run, "--metrics", "bleu"}, "bleu"},
		{"bad format", []string{"evaluate", "-d", ds, "--run", run, "--format", "xml"}, "invalid format"},
		{"missing query in run", []string{"evaluate", "-d", ds, "--run", partial}, "capital of Japan?"},
		{"store without results", []string{"evaluate", "-d", ds, "--run", run, "--store"}, "--store"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want it to mention %q", err, tt.want)
			}
		})
	}
}

func TestEvaluate_ContinueReportsFailures(t *testing.T) {
	dir := t.TempDir()
	ds := writeFile(t, dir, "capitals.json", capitalsJSON)
	partial := writeFile(t, dir, "partial.json", `{"q1": ["doc_paris"]}`)

	out, err := execute(t, "evaluate", "-d", ds, "--run", partial, "--policy", "continue")
	if err != nil {
		t.Fatalf("evaluate error = %v", err)
	}
	if !strings.Contains(out, "1 failed queries") {
		t.Errorf("output = %s, want failure report", out)
	}
}

func TestMetricsCommand(t *testing.T) {
	out, err := execute(t, "metrics")
	if err != nil {
		t.Fatalf("metrics error = %v", err)
	}
	for _, name := range evaluation.DefaultRegistry().List() {
		if !strings.Contains(out, name+"\n") {
			t.Errorf("output missing %s", name)
		}
	}

	out, err = execute(t, "metrics", "--format", "json")
	if err != nil {
		t.Fatalf("metrics --format json error = %v", err)
	}
	var resp evaluation.MetricsResponse
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Metrics) != len(evaluation.Builtins()) {
		t.Errorf("Metrics = %v", resp.Metrics)
	}
}

func TestEventsCommand(t *testing.T) {
	dir := t.TempDir()
	ds := writeFile(t, dir, "capitals.json", capitalsJSON)
	run := writeFile(t, dir, "run.json", capitalsRun)
	journal := filepath.Join(dir, "events.jsonl")
	t.Setenv("RICE_EVAL_EVENT_JOURNAL", journal)

	var runIDs []string
	for i := 0; i < 2; i++ {
		out, err := execute(t, "evaluate", "-d", ds, "--run", run, "--metrics", "hit_rate", "--format", "json")
		if err != nil {
			t.Fatalf("evaluate error = %v", err)
		}
		var got evaluation.Run
		if err := json.Unmarshal([]byte(out), &got); err != nil {
			t.Fatalf("decode stdout: %v\n%s", err, out)
		}
		runIDs = append(runIDs, got.ID)
	}

	tests := []struct {
		name string
		args []string
		want int
	}{
		{"all from config", []string{"events"}, 8},
		{"one run", []string{"events", "--journal", journal, "--run", runIDs[0]}, 4},
		{"limit after filter", []string{"events", "--run", runIDs[1], "--limit", "3"}, 3},
		{"unknown run", []string{"events", "--run", "nope"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := execute(t, append(tt.args, "--format", "json")...)
			if err != nil {
				t.Fatalf("events error = %v", err)
			}
			var entries []bus.JournalEntry
			if err := json.Unmarshal([]byte(out), &entries); err != nil {
				t.Fatalf("decode stdout: %v\n%s", err, out)
			}
			if len(entries) != tt.want {
				t.Errorf("len(entries) = %d, want %d", len(entries), tt.want)
			}
		})
	}

	out, err := execute(t, "events", "--run", runIDs[0])
	if err != nil {
		t.Fatalf("events error = %v", err)
	}
	for _, want := range []string{"TOPIC", bus.TopicRunStarted, bus.TopicRunCompleted, runIDs[0]} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestEventsCommand_NoJournal(t *testing.T) {
	t.Setenv("RICE_EVAL_EVENT_JOURNAL", "")
	if _, err := execute(t, "events"); err == nil || !strings.Contains(err.Error(), "no journal") {
		t.Errorf("events error = %v, want no journal", err)
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version error = %v", err)
	}
	if !strings.HasPrefix(out, "rice-eval dev\n") {
		t.Errorf("output = %q", out)
	}
}

func TestApplyRetrieverFlags(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		wantType string
		check    func(t *testing.T, cfg *config.Config)
	}{
		{
			name:     "defaults untouched",
			args:     nil,
			wantType: "http",
		},
		{
			name:     "run implies static",
			args:     []string{"--run", "run.json"},
			wantType: "static",
			check: func(t *testing.T, cfg *config.Config) {
				if cfg.Retriever.RunFile != "run.json" {
					t.Errorf("RunFile = %s, want run.json", cfg.Retriever.RunFile)
				}
			},
		},
		{
			name:     "collection implies qdrant",
			args:     []string{"--collection", "docs"},
			wantType: "qdrant",
			check: func(t *testing.T, cfg *config.Config) {
				if cfg.Qdrant.Collection != "docs" {
					t.Errorf("Collection = %s, want docs", cfg.Qdrant.Collection)
				}
			},
		},
		{
			name:     "explicit type wins",
			args:     []string{"--run", "run.json", "--retriever", "http", "--url", "http://search:8080", "--top-k", "20", "--rate-limit", "5"},
			wantType: "http",
			check: func(t *testing.T, cfg *config.Config) {
				if cfg.Retriever.URL != "http://search:8080" || cfg.Retriever.TopK != 20 || cfg.Retriever.RateLimit != 5 {
					t.Errorf("Retriever = %+v", cfg.Retriever)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := &cobra.Command{Use: "test"}
			addRetrieverFlags(cmd)
			if err := cmd.ParseFlags(tt.args); err != nil {
				t.Fatalf("ParseFlags() error = %v", err)
			}
			cfg := config.Default()
			applyRetrieverFlags(cmd, cfg)

			if cfg.Retriever.Type != tt.wantType {
				t.Errorf("Type = %s, want %s", cfg.Retriever.Type, tt.wantType)
			}
			if tt.check != nil {
				tt.check(t, cfg)
			}
		})
	}
}

func TestDatasetName(t *testing.T) {
	tests := map[string]string{
		"capitals.json":           "capitals",
		"/data/eval/beir.v2.json": "beir.v2",
		"noext":                   "noext",
	}
	for in, want := range tests {
		if got := datasetName(in); got != want {
			t.Errorf("datasetName(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestPrintRun(t *testing.T) {
	results := []*evaluation.EvalResult{
		{QueryID: "q1", MetricDict: map[string]evaluation.MetricResult{"mrr": {Score: 1}}},
	}
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	run := &evaluation.Run{
		ID:         "run-1",
		Metrics:    []string{"mrr"},
		Workers:    4,
		StartedAt:  start,
		FinishedAt: start.Add(1234567 * time.Microsecond),
		Results:    results,
		Summary:    evaluation.Summarize(results),
		Failures:   []string{"query q2 failed"},
	}

	var buf bytes.Buffer
	if err := printRun(&buf, "text", run); err != nil {
		t.Fatalf("printRun() error = %v", err)
	}
	out := buf.String()
	for _, want := range []string{"Run run-1", "workers:  4", "duration: 1.235s", "mrr     1.0000", "1 failed queries", "query q2 failed"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "dataset:") {
		t.Error("unnamed dataset should not be printed")
	}
}
