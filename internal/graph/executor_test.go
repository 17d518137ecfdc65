package graph

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// fanGraph is entry -> {w1, w2, w3} -> join -> end, the shape of the review
// workflow. Each worker appends its own items to "items".
func fanGraph(t *testing.T, workers map[string]StageFunc, join, end StageFunc, critical bool) *Graph {
	t.Helper()
	b := NewBuilder().
		AddField(Replace("seed")).
		AddField(Append[string]("items")).
		AddField(Replace("joined")).
		AddField(Replace("final")).
		AddStage(Stage{Name: "entry", Writes: []string{"seed"}, Critical: critical, Run: func(context.Context, *State) (Update, error) {
			return Update{"seed": "ok"}, nil
		}})
	names := make([]string, 0, len(workers))
	for n := range workers {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		b.AddStage(Stage{Name: n, After: []string{"entry"}, Writes: []string{"items"}, Run: workers[n]})
	}
	b.AddStage(Stage{Name: "join", After: names, Writes: []string{"joined"}, Run: join}).
		AddStage(Stage{Name: "end", After: []string{"join"}, Writes: []string{"final"}, Run: end}).
		SetEntry("entry").
		SetTerminal("end")
	g, err := b.Build()
	require.NoError(t, err)
	return g
}

func emit(items ...string) StageFunc {
	return func(context.Context, *State) (Update, error) {
		return Update{"items": items}, nil
	}
}

func collectJoin(ctx context.Context, s *State) (Update, error) {
	items, _ := Lookup[[]string](s, "items")
	return Update{"joined": len(items)}, nil
}

func TestExecutor_VisitsEveryStageOnce(t *testing.T) {
	var mu sync.Mutex
	visits := make(map[string]int)
	count := func(name string, f StageFunc) StageFunc {
		return func(ctx context.Context, s *State) (Update, error) {
			mu.Lock()
			visits[name]++
			mu.Unlock()
			return f(ctx, s)
		}
	}
	g := fanGraph(t, map[string]StageFunc{
		"style":       count("style", emit("s1")),
		"security":    count("security", emit("x1", "x2")),
		"performance": count("performance", emit()),
	}, count("join", collectJoin), count("end", noop), true)

	res, err := NewExecutor(g).Run(context.Background(), NewState(nil))
	require.NoError(t, err)
	require.Len(t, res.Stages, 6)
	for _, n := range []string{"style", "security", "performance", "join", "end"} {
		assert.Equal(t, 1, visits[n], n)
		sr, ok := res.Report(n)
		require.True(t, ok)
		assert.Equal(t, OutcomeSucceeded, sr.Outcome)
	}
	joined, _ := Lookup[int](res.State, "joined")
	assert.Equal(t, 3, joined)
}

func TestExecutor_FanOutRunsConcurrently(t *testing.T) {
	var inFlight, peak int32
	barrier := make(chan struct{})
	var arrived int32
	worker := func(context.Context, *State) (Update, error) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		if atomic.AddInt32(&arrived, 1) == 3 {
			close(barrier)
		}
		select {
		case <-barrier:
		case <-time.After(2 * time.Second):
			return nil, errors.New("siblings never arrived")
		}
		atomic.AddInt32(&inFlight, -1)
		return Update{"items": []string{"x"}}, nil
	}
	g := fanGraph(t, map[string]StageFunc{"a": worker, "b": worker, "c": worker}, collectJoin, noop, true)

	res, err := NewExecutor(g).Run(context.Background(), NewState(nil))
	require.NoError(t, err)
	assert.Empty(t, res.Failures())
	assert.EqualValues(t, 3, atomic.LoadInt32(&peak))
}

func TestExecutor_FanInWaitsForAllPredecessors(t *testing.T) {
	slow := func(context.Context, *State) (Update, error) {
		time.Sleep(30 * time.Millisecond)
		return Update{"items": []string{"slow"}}, nil
	}
	var sawSlow bool
	join := func(ctx context.Context, s *State) (Update, error) {
		items, _ := Lookup[[]string](s, "items")
		for _, it := range items {
			if it == "slow" {
				sawSlow = true
			}
		}
		return collectJoin(ctx, s)
	}
	g := fanGraph(t, map[string]StageFunc{"fast": emit("fast"), "slow": slow}, join, noop, true)

	_, err := NewExecutor(g).Run(context.Background(), NewState(nil))
	require.NoError(t, err)
	assert.True(t, sawSlow, "join ran before the slow predecessor finished")
}

func TestExecutor_AppendIsOrderIndependent(t *testing.T) {
	// Force each permutation of completion order with staggered delays.
	perms := [][3]int{{0, 1, 2}, {0, 2, 1}, {1, 0, 2}, {1, 2, 0}, {2, 0, 1}, {2, 1, 0}}
	for _, p := range perms {
		delay := func(rank int, items ...string) StageFunc {
			return func(context.Context, *State) (Update, error) {
				time.Sleep(time.Duration(rank) * 10 * time.Millisecond)
				return Update{"items": items}, nil
			}
		}
		g := fanGraph(t, map[string]StageFunc{
			"style":       delay(p[0], "s1", "s2"),
			"security":    delay(p[1], "x1"),
			"performance": delay(p[2], "p1", "p2", "p3"),
		}, collectJoin, noop, true)

		res, err := NewExecutor(g).Run(context.Background(), NewState(nil))
		require.NoError(t, err)
		items, _ := Lookup[[]string](res.State, "items")
		assert.ElementsMatch(t, []string{"s1", "s2", "x1", "p1", "p2", "p3"}, items, "perm %v", p)
	}
}

func TestExecutor_FailedBranchDoesNotBlockJoin(t *testing.T) {
	boom := func(context.Context, *State) (Update, error) { return nil, errors.New("tool crashed") }
	g := fanGraph(t, map[string]StageFunc{
		"style":       emit("s1"),
		"security":    boom,
		"performance": emit("p1"),
	}, collectJoin, noop, true)

	res, err := NewExecutor(g).Run(context.Background(), NewState(nil))
	require.NoError(t, err)

	fails := res.Failures()
	require.Len(t, fails, 1)
	assert.Equal(t, "security", fails[0].Stage)
	assert.ErrorContains(t, res.Err(), "tool crashed")

	joined, _ := Lookup[int](res.State, "joined")
	assert.Equal(t, 2, joined)
	sr, _ := res.Report("end")
	assert.Equal(t, OutcomeSucceeded, sr.Outcome)
}

func TestExecutor_PanicIsIsolated(t *testing.T) {
	g := fanGraph(t, map[string]StageFunc{
		"style": func(context.Context, *State) (Update, error) { panic("nil map") },
		"other": emit("o1"),
	}, collectJoin, noop, true)

	res, err := NewExecutor(g).Run(context.Background(), NewState(nil))
	require.NoError(t, err)
	sr, _ := res.Report("style")
	assert.Equal(t, OutcomeFailed, sr.Outcome)
	assert.ErrorIs(t, sr.Err, ErrStagePanic)
	joined, _ := Lookup[int](res.State, "joined")
	assert.Equal(t, 1, joined)
}

func TestExecutor_CriticalFailureSkipsDescendants(t *testing.T) {
	ran := false
	g, err := NewBuilder().
		AddStage(Stage{Name: "entry", Critical: true, Run: func(context.Context, *State) (Update, error) {
			return nil, errors.New("walk failed")
		}}).
		AddStage(Stage{Name: "work", After: []string{"entry"}, Run: func(context.Context, *State) (Update, error) {
			ran = true
			return nil, nil
		}}).
		AddStage(Stage{Name: "end", After: []string{"work"}, Run: noop}).
		SetEntry("entry").
		SetTerminal("end").
		Build()
	require.NoError(t, err)

	res, err := NewExecutor(g).Run(context.Background(), NewState(nil))
	require.NoError(t, err)
	assert.False(t, ran)
	for _, n := range []string{"work", "end"} {
		sr, ok := res.Report(n)
		require.True(t, ok)
		assert.Equal(t, OutcomeSkipped, sr.Outcome, n)
	}
}

func TestExecutor_UndeclaredWriteFailsStage(t *testing.T) {
	g, err := NewBuilder().
		AddField(Replace("mine")).
		AddField(Replace("theirs")).
		AddStage(Stage{Name: "a", Writes: []string{"mine"}, Run: func(context.Context, *State) (Update, error) {
			return Update{"mine": 1, "theirs": 2}, nil
		}}).
		AddStage(Stage{Name: "b", After: []string{"a"}, Writes: []string{"theirs"}, Run: noop}).
		SetEntry("a").
		SetTerminal("b").
		Build()
	require.NoError(t, err)

	res, err := NewExecutor(g).Run(context.Background(), NewState(nil))
	require.NoError(t, err)
	sr, _ := res.Report("a")
	assert.ErrorIs(t, sr.Err, ErrUndeclaredWrite)
	_, ok := res.State.Get("mine")
	assert.False(t, ok, "a rejected update must not be partially merged")
}

func TestExecutor_MaxParallel(t *testing.T) {
	var inFlight, peak int32
	worker := func(context.Context, *State) (Update, error) {
		n := atomic.AddInt32(&inFlight, 1)
		if n > atomic.LoadInt32(&peak) {
			atomic.StoreInt32(&peak, n)
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return nil, nil
	}
	g := fanGraph(t, map[string]StageFunc{"a": worker, "b": worker, "c": worker}, collectJoin, noop, true)

	_, err := NewExecutor(g, WithMaxParallel(1)).Run(context.Background(), NewState(nil))
	require.NoError(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(&peak))
}

func TestExecutor_ContextCancelStopsScheduling(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	blocker := func(ctx context.Context, s *State) (Update, error) {
		cancel()
		<-ctx.Done()
		return nil, ctx.Err()
	}
	joinRan := false
	join := func(context.Context, *State) (Update, error) {
		joinRan = true
		return nil, nil
	}
	g := fanGraph(t, map[string]StageFunc{"a": blocker}, join, noop, true)

	res, err := NewExecutor(g).Run(ctx, NewState(nil))
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, joinRan)
	require.Len(t, res.Stages, 4)
	sr, _ := res.Report("end")
	assert.Equal(t, OutcomeSkipped, sr.Outcome)
}

func TestExecutor_AbandonsStageIgnoringCancellation(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	stuck := func(context.Context, *State) (Update, error) {
		<-release
		return Update{"items": []string{"late"}}, nil
	}
	g := fanGraph(t, map[string]StageFunc{"stuck": stuck, "quick": emit("q")}, collectJoin, noop, true)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	type outcome struct {
		res *Result
		err error
	}
	out := make(chan outcome, 1)
	go func() {
		res, err := NewExecutor(g, WithAbandonAfter(20*time.Millisecond)).Run(ctx, NewState(nil))
		out <- outcome{res, err}
	}()

	var o outcome
	select {
	case o = <-out:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after its deadline")
	}
	require.ErrorIs(t, o.err, context.DeadlineExceeded)

	sr, ok := o.res.Report("stuck")
	require.True(t, ok)
	assert.Equal(t, OutcomeFailed, sr.Outcome)
	assert.ErrorIs(t, sr.Err, ErrStageAbandoned)
	assert.ErrorIs(t, sr.Err, context.DeadlineExceeded)

	for _, n := range []string{"join", "end"} {
		sr, ok := o.res.Report(n)
		require.True(t, ok, n)
		assert.Equal(t, OutcomeSkipped, sr.Outcome, n)
	}
	items, _ := Lookup[[]string](o.res.State, "items")
	assert.NotContains(t, items, "late")
}

func TestExecutor_ObserverAndSpans(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))

	var seen []string
	g := fanGraph(t, map[string]StageFunc{"a": emit("1")}, collectJoin, noop, true)
	_, err := NewExecutor(g,
		WithTracer(tp.Tracer("test")),
		WithObserver(func(sr StageReport) { seen = append(seen, sr.Stage) }),
	).Run(context.Background(), NewState(nil))
	require.NoError(t, err)

	assert.Equal(t, []string{"entry", "a", "join", "end"}, seen)
	var names []string
	for _, s := range rec.Ended() {
		names = append(names, s.Name())
	}
	assert.ElementsMatch(t, []string{"stage.entry", "stage.a", "stage.join", "stage.end"}, names)
}
