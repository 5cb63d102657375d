// ABOUTME: Tests for conflict detection, strategy application and engine bookkeeping.
// ABOUTME: Validates active-set retirement, history, statistics and per-id serialization.

package conflict

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEngine(strategy Strategy) *Engine {
	return NewEngine(strategy, "", testLogger())
}

func raw(s string) json.RawMessage {
	return json.RawMessage(s)
}

func TestDetect(t *testing.T) {
	t.Run("equal snapshots produce no conflict", func(t *testing.T) {
		e := newTestEngine(StrategyAutoMerge)

		// Key order and whitespace do not matter; equality is structural.
		c := e.Detect(TypeAgentState, raw(`{"a":1,"b":2}`), raw(`{ "b": 2, "a": 1 }`))
		assert.Nil(t, c)
		assert.Empty(t, e.ActiveConflicts())
		assert.Equal(t, 0, e.Statistics().TotalConflicts)
	})

	t.Run("unequal snapshots create an active conflict", func(t *testing.T) {
		e := newTestEngine(StrategyAutoMerge)

		local := raw(`{"health":"healthy"}`)
		remote := raw(`{"health":"degraded"}`)
		c := e.Detect(TypeAgentState, local, remote)
		require.NotNil(t, c)

		assert.Equal(t, TypeAgentState, c.Type)
		assert.Equal(t, SeverityMedium, c.Severity)
		assert.JSONEq(t, string(local), string(c.LocalState))
		assert.JSONEq(t, string(remote), string(c.RemoteState))
		assert.Nil(t, c.ResolvedAt)

		active := e.ActiveConflicts()
		require.Len(t, active, 1)
		assert.Equal(t, c.ID, active[0].ID)

		stats := e.Statistics()
		assert.Equal(t, 1, stats.TotalConflicts)
		assert.Equal(t, 1, stats.ByType[TypeAgentState])
	})

	t.Run("detection is idempotent on equal inputs", func(t *testing.T) {
		e := newTestEngine(StrategyAutoMerge)

		for i := 0; i < 5; i++ {
			assert.Nil(t, e.Detect(TypeCapability, raw(`[1,2,3]`), raw(`[1,2,3]`)))
		}
		assert.Equal(t, 0, e.Statistics().TotalConflicts)
	})

	t.Run("scalar and array snapshots are compared too", func(t *testing.T) {
		e := newTestEngine(StrategyAutoMerge)

		assert.Nil(t, e.Detect(TypeConfiguration, raw(`42`), raw(`42`)))
		assert.NotNil(t, e.Detect(TypeConfiguration, raw(`42`), raw(`43`)))
	})
}

func TestAddConflict(t *testing.T) {
	e := newTestEngine(StrategyAutoMerge)

	c := New(TypeTaskAssignment, SeverityHigh, "two owners", raw(`{"owner":"a"}`), raw(`{"owner":"b"}`))
	require.NoError(t, e.AddConflict(c))

	got, ok := e.Get(c.ID)
	require.True(t, ok)
	assert.Equal(t, SeverityHigh, got.Severity)
	assert.Equal(t, 1, e.Statistics().TotalConflicts)

	t.Run("duplicate id rejected", func(t *testing.T) {
		assert.Error(t, e.AddConflict(c))
	})

	t.Run("missing id rejected", func(t *testing.T) {
		assert.Error(t, e.AddConflict(&Conflict{}))
	})
}

func TestAutoMerge(t *testing.T) {
	t.Run("objects merge to key union with remote winning", func(t *testing.T) {
		e := newTestEngine(StrategyAutoMerge)
		c := e.Detect(TypeAgentState, raw(`{"a":1,"b":1}`), raw(`{"b":2,"c":3}`))
		require.NotNil(t, c)

		result, err := e.AttemptResolution(context.Background(), c.ID)
		require.NoError(t, err)
		assert.True(t, result.Success)
		assert.JSONEq(t, `{"a":1,"b":2,"c":3}`, string(result.ResolvedState))
	})

	t.Run("non-objects fall back to local", func(t *testing.T) {
		e := newTestEngine(StrategyAutoMerge)
		c := e.Detect(TypeConfiguration, raw(`[1,2]`), raw(`[3,4]`))
		require.NotNil(t, c)

		result, err := e.AttemptResolution(context.Background(), c.ID)
		require.NoError(t, err)
		assert.JSONEq(t, `[1,2]`, string(result.ResolvedState))
	})
}

func TestLastWriterWins(t *testing.T) {
	t.Run("objects behave exactly like auto merge", func(t *testing.T) {
		e := newTestEngine(StrategyLastWriterWins)
		c := e.Detect(TypeAgentState, raw(`{"a":1,"b":1}`), raw(`{"b":2,"c":3}`))
		require.NotNil(t, c)

		result, err := e.AttemptResolution(context.Background(), c.ID)
		require.NoError(t, err)
		assert.JSONEq(t, `{"a":1,"b":2,"c":3}`, string(result.ResolvedState))
	})

	t.Run("non-objects fall back to remote", func(t *testing.T) {
		e := newTestEngine(StrategyLastWriterWins)
		c := e.Detect(TypeConfiguration, raw(`[1,2]`), raw(`[3,4]`))
		require.NotNil(t, c)

		result, err := e.AttemptResolution(context.Background(), c.ID)
		require.NoError(t, err)
		assert.JSONEq(t, `[3,4]`, string(result.ResolvedState))
	})
}

func TestKeepLocalKeepRemote(t *testing.T) {
	cases := []struct {
		strategy Strategy
		want     string
	}{
		{StrategyKeepLocal, `{"v":"local"}`},
		{StrategyKeepRemote, `{"v":"remote"}`},
	}

	for _, tc := range cases {
		t.Run(string(tc.strategy), func(t *testing.T) {
			e := newTestEngine(tc.strategy)
			c := e.Detect(TypeAgentState, raw(`{"v":"local"}`), raw(`{"v":"remote"}`))
			require.NotNil(t, c)

			result, err := e.AttemptResolution(context.Background(), c.ID)
			require.NoError(t, err)
			assert.JSONEq(t, tc.want, string(result.ResolvedState))
		})
	}

	t.Run("identity projection for any shape", func(t *testing.T) {
		e := newTestEngine(StrategyKeepLocal)
		c := e.Detect(TypeConfiguration, raw(`"local"`), raw(`"remote"`))
		require.NotNil(t, c)

		result, err := e.AttemptResolution(context.Background(), c.ID)
		require.NoError(t, err)
		assert.JSONEq(t, `"local"`, string(result.ResolvedState))
	})
}

func TestSuccessfulResolutionRetiresConflict(t *testing.T) {
	e := newTestEngine(StrategyAutoMerge)
	c := e.Detect(TypeAgentState, raw(`{"a":1}`), raw(`{"a":2}`))
	require.NotNil(t, c)

	_, err := e.AttemptResolution(context.Background(), c.ID)
	require.NoError(t, err)

	// Absent from the active set.
	assert.Empty(t, e.ActiveConflicts())
	_, ok := e.Get(c.ID)
	assert.False(t, ok)

	// Present exactly once in history.
	history := e.History()
	require.Len(t, history, 1)
	assert.Equal(t, c.ID, history[0].ConflictID)
	assert.True(t, history[0].Success)

	stats := e.Statistics()
	assert.Equal(t, 1, stats.TotalResolved)
	assert.Equal(t, 0, stats.TotalFailed)
	assert.InDelta(t, 100.0, stats.SuccessRate, 0.001)
	assert.Equal(t, 1, stats.ByStrategy[StrategyAutoMerge])

	t.Run("second attempt finds nothing", func(t *testing.T) {
		_, err := e.AttemptResolution(context.Background(), c.ID)
		assert.ErrorIs(t, err, ErrConflictNotFound)
	})
}

func TestManualStrategy(t *testing.T) {
	e := newTestEngine(StrategyManual)
	c := e.Detect(TypeAgentState, raw(`{"a":1}`), raw(`{"a":2}`))
	require.NotNil(t, c)

	_, err := e.AttemptResolution(context.Background(), c.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrManualResolutionRequired)

	// The conflict stays pending and the resolved count is untouched.
	assert.Len(t, e.ActiveConflicts(), 1)
	stats := e.Statistics()
	assert.Equal(t, 0, stats.TotalResolved)
	assert.Equal(t, 1, stats.TotalFailed)
	assert.InDelta(t, 0.0, stats.SuccessRate, 0.001)

	t.Run("retriable with a different strategy", func(t *testing.T) {
		e.SetStrategy(StrategyKeepLocal, "")

		result, err := e.AttemptResolution(context.Background(), c.ID)
		require.NoError(t, err)
		assert.JSONEq(t, `{"a":1}`, string(result.ResolvedState))
		assert.Empty(t, e.ActiveConflicts())

		// Both attempts are in history.
		assert.Len(t, e.History(), 2)
	})
}

func TestCustomStrategy(t *testing.T) {
	t.Run("missing handler", func(t *testing.T) {
		e := NewEngine(StrategyCustom, "nope", testLogger())
		c := e.Detect(TypeAgentState, raw(`{"a":1}`), raw(`{"a":2}`))
		require.NotNil(t, c)

		_, err := e.AttemptResolution(context.Background(), c.ID)
		assert.ErrorIs(t, err, ErrHandlerNotFound)
		assert.Len(t, e.ActiveConflicts(), 1, "conflict stays retriable")
	})

	t.Run("registered handler result is returned verbatim", func(t *testing.T) {
		e := NewEngine(StrategyCustom, "prefer-remote", testLogger())
		handler := NewHandlerFunc("prefer-remote", func(_ context.Context, c Conflict) (*ResolutionResult, error) {
			return &ResolutionResult{
				Success:       true,
				Strategy:      StrategyCustom,
				ResolvedState: c.RemoteState,
				Message:       "remote preferred",
				Timestamp:     time.Now().UTC(),
			}, nil
		})
		require.NoError(t, e.AddHandler(handler))

		c := e.Detect(TypeAgentState, raw(`{"a":1}`), raw(`{"a":2}`))
		require.NotNil(t, c)

		result, err := e.AttemptResolution(context.Background(), c.ID)
		require.NoError(t, err)
		assert.Equal(t, "remote preferred", result.Message)
		assert.JSONEq(t, `{"a":2}`, string(result.ResolvedState))
		assert.Empty(t, e.ActiveConflicts())
	})

	t.Run("handler registered after a failed attempt unblocks retry", func(t *testing.T) {
		e := NewEngine(StrategyCustom, "late", testLogger())
		c := e.Detect(TypeAgentState, raw(`{"a":1}`), raw(`{"a":2}`))
		require.NotNil(t, c)

		_, err := e.AttemptResolution(context.Background(), c.ID)
		require.ErrorIs(t, err, ErrHandlerNotFound)

		late := NewHandlerFunc("late", func(_ context.Context, c Conflict) (*ResolutionResult, error) {
			return &ResolutionResult{
				Success:       true,
				Strategy:      StrategyCustom,
				ResolvedState: c.LocalState,
				Timestamp:     time.Now().UTC(),
			}, nil
		})
		require.NoError(t, e.AddHandler(late))

		result, err := e.AttemptResolution(context.Background(), c.ID)
		require.NoError(t, err)
		assert.True(t, result.Success)
	})
}

func TestHandlerRegistry(t *testing.T) {
	e := newTestEngine(StrategyCustom)
	h := NewAgentStateHandler()

	require.NoError(t, e.AddHandler(h))

	t.Run("duplicate name rejected", func(t *testing.T) {
		err := e.AddHandler(NewAgentStateHandler())
		assert.ErrorIs(t, err, ErrHandlerExists)
	})

	t.Run("remove unknown name errors", func(t *testing.T) {
		err := e.RemoveHandler("ghost")
		assert.ErrorIs(t, err, ErrHandlerNotFound)
	})

	t.Run("remove then re-add", func(t *testing.T) {
		require.NoError(t, e.RemoveHandler(h.Name()))
		assert.NoError(t, e.AddHandler(h))
	})
}

func TestStatisticsConsistency(t *testing.T) {
	e := newTestEngine(StrategyManual)

	c1 := e.Detect(TypeAgentState, raw(`{"a":1}`), raw(`{"a":2}`))
	c2 := e.Detect(TypeCapability, raw(`{"b":1}`), raw(`{"b":2}`))
	require.NotNil(t, c1)
	require.NotNil(t, c2)

	// Two failed manual attempts.
	_, err := e.AttemptResolution(context.Background(), c1.ID)
	require.Error(t, err)
	_, err = e.AttemptResolution(context.Background(), c2.ID)
	require.Error(t, err)

	// One success after switching strategy.
	e.SetStrategy(StrategyKeepRemote, "")
	_, err = e.AttemptResolution(context.Background(), c1.ID)
	require.NoError(t, err)

	stats := e.Statistics()
	assert.Equal(t, 2, stats.TotalConflicts)
	assert.Equal(t, 1, stats.TotalResolved)
	assert.Equal(t, 2, stats.TotalFailed)
	assert.InDelta(t, 50.0, stats.SuccessRate, 0.001)
	assert.Equal(t, 1, stats.ByType[TypeAgentState])
	assert.Equal(t, 1, stats.ByType[TypeCapability])
	assert.Equal(t, 2, stats.ByStrategy[StrategyManual])
	assert.Equal(t, 1, stats.ByStrategy[StrategyKeepRemote])
	assert.Len(t, e.History(), 3)
}

func TestConcurrentResolutionSameConflict(t *testing.T) {
	e := NewEngine(StrategyCustom, "slow", testLogger())

	// A handler that blocks until released, so concurrent attempts pile up
	// behind the per-id lock.
	release := make(chan struct{})
	handler := NewHandlerFunc("slow", func(_ context.Context, c Conflict) (*ResolutionResult, error) {
		<-release
		return &ResolutionResult{
			Success:       true,
			Strategy:      StrategyCustom,
			ResolvedState: c.LocalState,
			Timestamp:     time.Now().UTC(),
		}, nil
	})
	require.NoError(t, e.AddHandler(handler))

	c := e.Detect(TypeAgentState, raw(`{"a":1}`), raw(`{"a":2}`))
	require.NotNil(t, c)

	const attempts = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	var successes, notFound int

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.AttemptResolution(context.Background(), c.ID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case assert.ErrorIs(t, err, ErrConflictNotFound):
				notFound++
			}
		}()
	}

	close(release)
	wg.Wait()

	// Exactly one attempt wins; the rest observe the retired conflict.
	assert.Equal(t, 1, successes)
	assert.Equal(t, attempts-1, notFound)

	stats := e.Statistics()
	assert.Equal(t, 1, stats.TotalResolved)
	assert.Equal(t, 0, stats.TotalFailed)
	require.Len(t, e.History(), 1)
}

func TestConcurrentDetectionDistinctConflicts(t *testing.T) {
	e := newTestEngine(StrategyKeepLocal)

	const n = 16
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			remote := raw(fmt.Sprintf(`{"v":%d}`, i+2))
			_ = e.Detect(TypeAgentState, raw(`{"v":1}`), remote)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, n, e.Statistics().TotalConflicts)
	assert.Len(t, e.ActiveConflicts(), n)
}
