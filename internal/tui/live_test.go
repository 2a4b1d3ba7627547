package tui

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/san-kum/rxsim/internal/dynamo"
)

func update(t *testing.T, m Live, msg tea.Msg) (Live, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	live, ok := next.(Live)
	require.True(t, ok)
	return live, cmd
}

func TestLiveTracksOutputs(t *testing.T) {
	m := NewLive("decay", []string{"A", "B"}, 4)
	assert.Nil(t, m.Init())
	assert.Zero(t, m.Progress())

	var cmd tea.Cmd
	for i, x := range []dynamo.State{{1, 0}, {0.6, 0.4}} {
		m, cmd = update(t, m, OutputMsg{Index: i, Time: float64(i), State: x})
		assert.Nil(t, cmd)
	}
	assert.InDelta(t, 0.5, m.Progress(), 1e-12)

	view := m.View()
	assert.Contains(t, view, "decay")
	assert.Contains(t, view, "2/4")
	assert.Contains(t, view, "A")
	assert.Contains(t, view, "0.6")
	assert.Contains(t, view, "q to cancel")
}

func TestLiveFinishes(t *testing.T) {
	m := NewLive("decay", []string{"A"}, 2)
	m, _ = update(t, m, OutputMsg{Index: 1, Time: 1, State: dynamo.State{0.3}})

	res := &dynamo.Result{Status: dynamo.StatusFinished, Events: []dynamo.EventRecord{{Index: 0}}}
	m, cmd := update(t, m, DoneMsg{Result: res})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
	assert.False(t, m.Quit())
	assert.InDelta(t, 1, m.Progress(), 1e-12)

	view := m.View()
	assert.Contains(t, view, "finished")
	assert.Contains(t, view, "1 events")
}

func TestLiveShowsFailure(t *testing.T) {
	m := NewLive("decay", nil, 3)
	m, _ = update(t, m, DoneMsg{Err: errors.New("step size underflow")})
	view := m.View()
	assert.Contains(t, view, "failed")
	assert.Contains(t, view, "step size underflow")
}

func TestLiveQuitKey(t *testing.T) {
	m := NewLive("decay", nil, 3)
	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
	assert.True(t, m.Quit())
	assert.Contains(t, m.View(), "cancelled")
}

func TestLiveUnnamedStatesAndOverflow(t *testing.T) {
	m := NewLive("chain", nil, 1)
	x := make(dynamo.State, maxStateRows+3)
	m, _ = update(t, m, OutputMsg{Index: 0, State: x})
	view := m.View()
	assert.Contains(t, view, "x0")
	assert.Contains(t, view, "3 more")
	assert.Equal(t, maxStateRows, strings.Count(view, "\n  x"))
}

func TestFeedClonesState(t *testing.T) {
	var got []tea.Msg
	f := NewFeed(func(msg tea.Msg) { got = append(got, msg) })
	x := dynamo.State{1, 2}
	f.OnOutput(3, 0.5, x)
	x[0] = 9

	require.Len(t, got, 1)
	out := got[0].(OutputMsg)
	assert.Equal(t, 3, out.Index)
	assert.Equal(t, dynamo.State{1, 2}, out.State)
}

func TestWatchReturnsRunResult(t *testing.T) {
	want := &dynamo.Result{Status: dynamo.StatusFinished}
	res, err := Watch(context.Background(), NewLive("decay", []string{"A"}, 2),
		func(ctx context.Context, feed *Feed) (*dynamo.Result, error) {
			feed.OnOutput(0, 0, dynamo.State{1})
			feed.OnOutput(1, 1, dynamo.State{0.5})
			return want, nil
		},
		tea.WithInput(nil), tea.WithOutput(io.Discard), tea.WithoutRenderer())
	require.NoError(t, err)
	assert.Same(t, want, res)
}
