package analytics

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/lucasnoah/reviewfactory/internal/db"
	"github.com/lucasnoah/reviewfactory/internal/pipeline"
)

// Source is the event log analytics reads. *db.DB satisfies it.
type Source interface {
	ToolRunsSince(ctx context.Context, since time.Time) ([]db.ToolRun, error)
	RunEventsSince(ctx context.Context, since time.Time) ([]db.RunEvent, error)
}

// ToolStat holds execution stats for one external tool.
type ToolStat struct {
	Tool        string  `json:"tool"`
	Count       int     `json:"count"`
	FailRate    float64 `json:"fail_rate_pct"`
	TimeoutRate float64 `json:"timeout_rate_pct"`
	Avg         float64 `json:"avg_seconds"`
	P50         float64 `json:"p50_seconds"`
	P95         float64 `json:"p95_seconds"`
	Findings    int     `json:"findings"`
}

// Throughput counts runs per day by how they ended.
type Throughput struct {
	Date      string `json:"date"`
	Queued    int    `json:"queued"`
	Completed int    `json:"completed"`
	Failed    int    `json:"failed"`
}

// StageDuration holds duration stats for a workflow stage.
type StageDuration struct {
	Stage string  `json:"stage"`
	Count int     `json:"count"`
	Avg   float64 `json:"avg_seconds"`
	P50   float64 `json:"p50_seconds"`
	P95   float64 `json:"p95_seconds"`
}

// Report bundles everything `runs stats` prints.
type Report struct {
	Since      time.Time       `json:"since"`
	Stages     []StageDuration `json:"stages"`
	Tools      []ToolStat      `json:"tools,omitempty"`
	Throughput []Throughput    `json:"throughput,omitempty"`
}

// Query aggregates stage durations from runs and, when src is non-nil, the
// tool and throughput stats from the event log.
func Query(ctx context.Context, src Source, runs []pipeline.RunState, since time.Time) (*Report, error) {
	rep := &Report{Since: since, Stages: StageDurations(runs, since)}
	if src == nil {
		return rep, nil
	}
	toolRuns, err := src.ToolRunsSince(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("load tool runs: %w", err)
	}
	events, err := src.RunEventsSince(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("load run events: %w", err)
	}
	rep.Tools = ToolStats(toolRuns)
	rep.Throughput = RunThroughput(events)
	return rep, nil
}

// ToolStats groups tool executions by tool, sorted by name.
func ToolStats(runs []db.ToolRun) []ToolStat {
	type acc struct {
		failed, timedOut, findings int
		durations                  []float64
	}
	byTool := make(map[string]*acc)
	for _, r := range runs {
		a, ok := byTool[r.Tool]
		if !ok {
			a = &acc{}
			byTool[r.Tool] = a
		}
		if r.Failed {
			a.failed++
		}
		if r.TimedOut {
			a.timedOut++
		}
		a.findings += r.Findings
		a.durations = append(a.durations, float64(r.DurationMs)/1000)
	}

	results := make([]ToolStat, 0, len(byTool))
	for tool, a := range byTool {
		sort.Float64s(a.durations)
		n := len(a.durations)
		results = append(results, ToolStat{
			Tool:        tool,
			Count:       n,
			FailRate:    pct(a.failed, n),
			TimeoutRate: pct(a.timedOut, n),
			Avg:         avg(a.durations),
			P50:         percentile(a.durations, 50),
			P95:         percentile(a.durations, 95),
			Findings:    a.findings,
		})
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].Tool < results[j].Tool
	})
	return results
}

// RunThroughput counts queued, completed and failed events per UTC day,
// oldest first.
func RunThroughput(events []db.RunEvent) []Throughput {
	byDay := make(map[string]*Throughput)
	for _, e := range events {
		day := e.CreatedAt.UTC().Format("2006-01-02")
		t, ok := byDay[day]
		if !ok {
			t = &Throughput{Date: day}
			byDay[day] = t
		}
		switch e.Event {
		case "queued":
			t.Queued++
		case "completed":
			t.Completed++
		case "failed":
			t.Failed++
		}
	}

	results := make([]Throughput, 0, len(byDay))
	for _, t := range byDay {
		results = append(results, *t)
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].Date < results[j].Date
	})
	return results
}

// StageDurations aggregates the stage records of runs created at or after
// since. Skipped stages are not counted.
func StageDurations(runs []pipeline.RunState, since time.Time) []StageDuration {
	stages := make(map[string][]int64)
	for _, rs := range runs {
		if rs.CreatedAt.Before(since) {
			continue
		}
		for _, st := range rs.Stages {
			if st.Outcome == "skipped" {
				continue
			}
			stages[st.Stage] = append(stages[st.Stage], st.DurationMs)
		}
	}

	results := make([]StageDuration, 0, len(stages))
	for stage, ms := range stages {
		if len(ms) == 0 {
			continue
		}
		secs := make([]float64, len(ms))
		for i, v := range ms {
			secs[i] = float64(v) / 1000
		}
		sort.Float64s(secs)
		results = append(results, StageDuration{
			Stage: stage,
			Count: len(secs),
			Avg:   avg(secs),
			P50:   percentile(secs, 50),
			P95:   percentile(secs, 95),
		})
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].Stage < results[j].Stage
	})
	return results
}

// --- helpers ---

func avg(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return math.Round(sum/float64(len(values))*10) / 10
}

func percentile(sorted []float64, p int) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := float64(p) / 100.0 * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper || upper >= len(sorted) {
		return math.Round(sorted[lower]*10) / 10
	}
	weight := rank - float64(lower)
	return math.Round((sorted[lower]*(1-weight)+sorted[upper]*weight)*10) / 10
}

func pct(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(n)/float64(total)*1000) / 10
}
