package tile

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdok/tiler/tilecoord"
)

func newTestTile(state State) Tile {
	return New(tilecoord.New(1, 0, 0), state, Options{})
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "idle", Idle.String())
	assert.Equal(t, "empty", Empty.String())
	assert.Equal(t, "state(9)", State(9).String())
	assert.False(t, Loading.Terminal())
	assert.True(t, Error.Terminal())
}

func TestSetState(t *testing.T) {
	tests := []struct {
		name      string
		sequence  []State
		wantPanic bool
	}{
		{name: "full path", sequence: []State{Loading, Loaded}},
		{name: "skip loading", sequence: []State{Loaded}},
		{name: "error to empty", sequence: []State{Loading, Error, Empty}},
		{name: "retry from error", sequence: []State{Loading, Error, Idle, Loading, Loaded}},
		{name: "same state twice", sequence: []State{Loading, Loading}},
		{name: "loaded back to loading", sequence: []State{Loading, Loaded, Loading}, wantPanic: true},
		{name: "empty back to idle", sequence: []State{Empty, Idle}, wantPanic: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tl := newTestTile(Idle)
			run := func() {
				for _, s := range tt.sequence {
					tl.SetState(s)
				}
			}
			if !tt.wantPanic {
				require.NotPanics(t, run)
				assert.Equal(t, tt.sequence[len(tt.sequence)-1], tl.State())
				return
			}
			var recovered any
			func() {
				defer func() { recovered = recover() }()
				run()
			}()
			err, ok := recovered.(error)
			require.True(t, ok, "expected an error panic, got %v", recovered)
			require.True(t, errors.Is(err, ErrStateSequence))
			var sequenceErr *StateSequenceError
			require.ErrorAs(t, err, &sequenceErr)
			assert.Equal(t, tilecoord.New(1, 0, 0), sequenceErr.Coord)
		})
	}
}

func TestSetStateFrom(t *testing.T) {
	tl := New(tilecoord.New(0, 0, 0), Idle, Options{}).(*plain)
	assert.False(t, tl.SetStateFrom(Loading, Loaded))
	assert.True(t, tl.SetStateFrom(Idle, Loading))
	assert.Equal(t, Loading, tl.State())
}

func TestListeners(t *testing.T) {
	tl := newTestTile(Idle)
	var seen []State
	first := tl.AddListener(func(changed Tile) {
		assert.Same(t, tl, changed)
		seen = append(seen, changed.State())
	})
	var order []int
	tl.AddListener(func(Tile) { order = append(order, 2) })
	tl.SetState(Loading)
	tl.RemoveListener(first)
	tl.SetState(Loaded)
	assert.Equal(t, []State{Loading}, seen)
	assert.Equal(t, []int{2, 2}, order)

	tl.SetKey("a")
	assert.Equal(t, "a", tl.Key())
	assert.Equal(t, []int{2, 2, 2}, order)
	tl.SetKey("a")
	assert.Equal(t, []int{2, 2, 2}, order)
}

func TestRefreshInterimChain_PrunesAfterLoaded(t *testing.T) {
	oldest := newTestTile(Loading)
	middle := newTestTile(Loading)
	middle.SetInterimTile(oldest)
	head := newTestTile(Idle)
	head.SetInterimTile(middle)

	middle.SetState(Loaded)
	head.RefreshInterimChain()

	assert.Same(t, middle, head.InterimTile())
	assert.Nil(t, middle.InterimTile())
	// idempotent
	head.RefreshInterimChain()
	assert.Same(t, middle, head.InterimTile())
}

func TestRefreshInterimChain(t *testing.T) {
	tests := []struct {
		name  string
		chain []State
		want  []State
	}{
		{name: "no chain", chain: nil, want: nil},
		{name: "idle entries are spliced out", chain: []State{Idle, Loading, Idle}, want: []State{Loading}},
		{name: "loading and error entries stay", chain: []State{Loading, Error, Empty}, want: []State{Loading, Error, Empty}},
		{name: "first loaded truncates", chain: []State{Loading, Loaded, Loading, Loaded}, want: []State{Loading, Loaded}},
		{name: "idle before loaded", chain: []State{Idle, Loaded, Idle}, want: []State{Loaded}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			head := newTestTile(Idle)
			prev := head
			for _, s := range tt.chain {
				next := newTestTile(s)
				prev.SetInterimTile(next)
				prev = next
			}
			head.RefreshInterimChain()
			var got []State
			for tl := head.InterimTile(); tl != nil; tl = tl.InterimTile() {
				got = append(got, tl.State())
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGetInterimTile(t *testing.T) {
	head := New(tilecoord.New(1, 0, 0), Idle, Options{Transition: Transition(time.Second)})
	assert.Same(t, head, head.GetInterimTile())

	loading := newTestTile(Loading)
	loaded := newTestTile(Loaded)
	head.SetInterimTile(loading)
	loading.SetInterimTile(loaded)

	now := time.Now()
	assert.Same(t, loaded, head.GetInterimTile())
	// the substitute is already visible, so the head no longer fades in
	assert.InDelta(t, 1.0, head.Alpha("r", now), 1e-12)
	assert.False(t, head.InTransition("r"))
}

func TestAlpha(t *testing.T) {
	tl := New(tilecoord.New(1, 0, 0), Idle, Options{Transition: Transition(100 * time.Millisecond)})
	start := time.Unix(1000, 0)

	assert.InDelta(t, 0.0, tl.Alpha("a", start), 1e-12)
	assert.True(t, tl.InTransition("a"))
	assert.InDelta(t, 0.125, tl.Alpha("a", start.Add(50*time.Millisecond)), 1e-9)
	assert.InDelta(t, 1.0, tl.Alpha("a", start.Add(100*time.Millisecond)), 1e-12)

	// renderers fade independently
	assert.InDelta(t, 0.0, tl.Alpha("b", start.Add(50*time.Millisecond)), 1e-12)

	tl.EndTransition("a")
	assert.False(t, tl.InTransition("a"))
	assert.InDelta(t, 1.0, tl.Alpha("a", start), 1e-12)
	assert.True(t, tl.InTransition("b"))
}

func TestAlpha_DefaultAndDisabled(t *testing.T) {
	def := newTestTile(Loaded)
	now := time.Now()
	assert.Less(t, def.Alpha("r", now), 1.0)
	assert.InDelta(t, 1.0, def.Alpha("r", now.Add(250*time.Millisecond)), 1e-12)

	disabled := New(tilecoord.New(1, 0, 0), Loaded, Options{Transition: Transition(0)})
	assert.InDelta(t, 1.0, disabled.Alpha("r", now), 1e-12)
	assert.False(t, disabled.InTransition("r"))
	disabled.EndTransition("r")
	assert.False(t, disabled.InTransition("r"))
}

func TestRelease(t *testing.T) {
	tests := []struct {
		state State
		want  State
	}{
		{state: Error, want: Empty},
		{state: Loaded, want: Loaded},
		{state: Idle, want: Idle},
	}
	for _, tt := range tests {
		t.Run(tt.state.String(), func(t *testing.T) {
			tl := newTestTile(tt.state)
			notified := 0
			tl.AddListener(func(Tile) { notified++ })
			tl.Release()
			assert.Equal(t, tt.want, tl.State())
			if tt.want != tt.state {
				assert.Equal(t, 1, notified)
			}
		})
	}
}

func TestBaseLoadIsNoop(t *testing.T) {
	tl := newTestTile(Idle)
	tl.Load()
	assert.Equal(t, Idle, tl.State())
}
