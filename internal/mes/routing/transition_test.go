package routing

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pred(id string, st Status) Predecessor {
	return Predecessor{Operation: Operation{ID: id, Status: st}, Type: DependencyFinishToStart}
}

func TestValidate_Identity(t *testing.T) {
	table := DefaultTransitions()
	for _, st := range AllStatuses {
		d, err := table.Validate(st, st, []Predecessor{pred("a", StatusPending)}, false)
		require.NoError(t, err, st)
		assert.True(t, d.NoOp, st)
		assert.Equal(t, st, d.Status)
	}
}

func TestValidate_PredecessorGate(t *testing.T) {
	table := DefaultTransitions()

	t.Run("blocked while predecessor pending", func(t *testing.T) {
		_, err := table.Validate(StatusPending, StatusRunning, []Predecessor{pred("a", StatusCompleted), pred("b", StatusRunning)}, false)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrPredecessorNotReady))

		var te *TransitionError
		require.True(t, errors.As(err, &te))
		assert.Equal(t, []string{"b"}, te.Blocking)
		assert.Contains(t, te.Error(), "waiting on b")
	})

	t.Run("scrapped predecessor never satisfies", func(t *testing.T) {
		_, err := table.Validate(StatusPending, StatusSetup, []Predecessor{pred("a", StatusScrapped)}, false)
		assert.ErrorIs(t, err, ErrPredecessorNotReady)
	})

	t.Run("skipped predecessor satisfies", func(t *testing.T) {
		d, err := table.Validate(StatusPending, StatusSetup, []Predecessor{pred("a", StatusSkipped)}, false)
		require.NoError(t, err)
		assert.False(t, d.Overridden)
	})

	t.Run("paused to running rechecks", func(t *testing.T) {
		_, err := table.Validate(StatusPaused, StatusRunning, []Predecessor{pred("a", StatusRunning)}, false)
		assert.ErrorIs(t, err, ErrPredecessorNotReady)
	})

	t.Run("paused to completed rechecks", func(t *testing.T) {
		_, err := table.Validate(StatusPaused, StatusCompleted, []Predecessor{pred("a", StatusPending), pred("b", StatusPending)}, false)
		var te *TransitionError
		require.True(t, errors.As(err, &te))
		assert.Equal(t, []string{"a", "b"}, te.Blocking)

		_, err = table.Validate(StatusPaused, StatusCompleted, []Predecessor{pred("a", StatusCompleted)}, false)
		assert.NoError(t, err)
	})

	t.Run("running to completed does not recheck", func(t *testing.T) {
		_, err := table.Validate(StatusRunning, StatusCompleted, []Predecessor{pred("a", StatusRunning)}, false)
		assert.NoError(t, err)
	})

	t.Run("setup to running does not recheck", func(t *testing.T) {
		_, err := table.Validate(StatusSetup, StatusRunning, []Predecessor{pred("a", StatusRunning)}, false)
		assert.NoError(t, err)
	})

	t.Run("override", func(t *testing.T) {
		d, err := table.Validate(StatusPending, StatusRunning, []Predecessor{pred("a", StatusPending)}, true)
		require.NoError(t, err)
		assert.True(t, d.Overridden)
	})

	t.Run("start to start", func(t *testing.T) {
		p := pred("a", StatusSetup)
		p.Type = DependencyStartToStart
		_, err := table.Validate(StatusPending, StatusRunning, []Predecessor{p}, false)
		assert.NoError(t, err)

		p.Status = StatusPending
		_, err = table.Validate(StatusPending, StatusRunning, []Predecessor{p}, false)
		assert.ErrorIs(t, err, ErrPredecessorNotReady)
	})
}

func TestValidate_BackTransition(t *testing.T) {
	table := DefaultTransitions()
	for _, from := range []Status{StatusCompleted, StatusScrapped, StatusSkipped} {
		for _, to := range []Status{StatusPending, StatusSetup, StatusRunning, StatusPaused} {
			_, err := table.Validate(from, to, nil, false)
			assert.ErrorIs(t, err, ErrIllegalBackTransition, "%s -> %s", from, to)

			d, err := table.Validate(from, to, nil, true)
			require.NoError(t, err)
			assert.True(t, d.Overridden)
		}
	}
}

func TestValidate_ScrapFromAnyNonTerminal(t *testing.T) {
	table := DefaultTransitions()
	blocked := []Predecessor{pred("a", StatusPending)}
	for _, from := range []Status{StatusPending, StatusSetup, StatusRunning, StatusPaused} {
		d, err := table.Validate(from, StatusScrapped, blocked, false)
		require.NoError(t, err, from)
		assert.False(t, d.Overridden)
	}
}

func TestValidate_NotInTable(t *testing.T) {
	table := DefaultTransitions()
	_, err := table.Validate(StatusPending, StatusCompleted, nil, false)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = table.Validate(StatusSetup, StatusSkipped, nil, false)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	// 未开工的工序不能直接暂停
	_, err = table.Validate(StatusPending, StatusPaused, nil, false)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = table.Validate("DONE", StatusRunning, nil, false)
	assert.ErrorIs(t, err, ErrUnknownStatus)
}

func TestParseTransitions(t *testing.T) {
	table, err := ParseTransitions(nil)
	require.NoError(t, err)
	assert.True(t, table.Allows(StatusRunning, StatusCompleted))

	table, err = ParseTransitions(map[string][]string{"pending": {"running"}, "RUNNING": {"completed"}})
	require.NoError(t, err)
	assert.True(t, table.Allows(StatusPending, StatusRunning))
	assert.False(t, table.Allows(StatusPending, StatusSetup))

	_, err = ParseTransitions(map[string][]string{"PENDING": {"DONE"}})
	assert.ErrorIs(t, err, ErrUnknownStatus)
}

func TestNextTimestamps(t *testing.T) {
	t0 := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Hour)
	t2 := t1.Add(time.Hour)

	ts := NextTimestamps(Timestamps{}, StatusSetup, t0)
	require.NotNil(t, ts.StartedAt)
	assert.Equal(t, t0, *ts.StartedAt)
	assert.Nil(t, ts.CompletedAt)

	ts = NextTimestamps(ts, StatusRunning, t1)
	assert.Equal(t, t0, *ts.StartedAt, "started_at is stamped once")

	ts = NextTimestamps(ts, StatusCompleted, t2)
	require.NotNil(t, ts.CompletedAt)
	assert.Equal(t, t2, *ts.CompletedAt)

	ts = NextTimestamps(ts, StatusPaused, t2.Add(time.Minute))
	assert.Nil(t, ts.CompletedAt, "completed_at cleared when leaving COMPLETED")
	assert.Equal(t, t0, *ts.StartedAt)

	scrapped := NextTimestamps(Timestamps{}, StatusScrapped, t0)
	assert.Nil(t, scrapped.StartedAt)
	assert.Nil(t, scrapped.CompletedAt)
}
