// Package tile holds the tile state machine shared by all tile kinds, and the interim
// chain that keeps superseded tiles visible while their replacement loads.
package tile

import (
	"sync"
	"time"

	"github.com/creasty/defaults"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/pdok/tiler/mathhelp"
	"github.com/pdok/tiler/tilecoord"
)

type ListenerKey uint64

// Listener is called after every state change, outside any tile lock.
type Listener func(Tile)

type Tile interface {
	Coord() tilecoord.Coord
	State() State
	// SetState panics with a *StateSequenceError when going backwards, except from Error.
	SetState(State)
	// Key identifies the source configuration that produced the tile.
	Key() string
	SetKey(string)
	Load()

	InterimTile() Tile
	SetInterimTile(Tile)
	// GetInterimTile returns the newest loaded tile of the chain, or the tile itself.
	GetInterimTile() Tile
	RefreshInterimChain()

	Alpha(rendererID string, now time.Time) float64
	InTransition(rendererID string) bool
	EndTransition(rendererID string)

	// Release is called when the tile is evicted from a cache.
	Release()

	AddListener(Listener) ListenerKey
	RemoveListener(ListenerKey)
}

// Options shared by all tile kinds.
type Options struct {
	// Transition is the fade-in duration. Zero disables fading.
	Transition *time.Duration `default:"250ms"`
}

// Transition is a helper for setting Options.Transition.
func Transition(d time.Duration) *time.Duration {
	return &d
}

// transitionDone marks a renderer whose fade has ended.
const transitionDone = -1

// Base implements everything of Tile except Load. Concrete kinds embed it and call Init.
type Base struct {
	self  Tile
	coord tilecoord.Coord

	mu               sync.Mutex
	state            State
	key              string
	interim          Tile
	transition       time.Duration
	transitionStarts map[string]int64
	listeners        *orderedmap.OrderedMap[ListenerKey, Listener]
	nextListenerKey  ListenerKey
}

// Init must be called once by the constructor of the embedding tile, passing the
// embedding tile as self so that chain walks and listeners see the outer type.
func (b *Base) Init(self Tile, coord tilecoord.Coord, state State, options Options) {
	if err := defaults.Set(&options); err != nil {
		panic(err)
	}
	b.self = self
	b.coord = coord
	b.state = state
	b.transition = *options.Transition
	b.transitionStarts = make(map[string]int64)
	b.listeners = orderedmap.New[ListenerKey, Listener]()
}

func (b *Base) Coord() tilecoord.Coord {
	return b.coord
}

func (b *Base) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Base) SetState(state State) {
	b.mu.Lock()
	if b.state != Error && state < b.state {
		err := &StateSequenceError{Coord: b.coord, From: b.state, To: state}
		b.mu.Unlock()
		panic(err)
	}
	b.state = state
	b.mu.Unlock()
	b.changed()
}

// SetStateFrom moves to state only when the tile is currently in from,
// and reports whether it did.
func (b *Base) SetStateFrom(from, state State) bool {
	b.mu.Lock()
	if b.state != from {
		b.mu.Unlock()
		return false
	}
	if from != Error && state < from {
		b.mu.Unlock()
		panic(&StateSequenceError{Coord: b.coord, From: from, To: state})
	}
	b.state = state
	b.mu.Unlock()
	b.changed()
	return true
}

// resetError puts an errored tile back to Idle without notifying, ahead of a retry.
func (b *Base) resetError() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Error {
		b.state = Idle
	}
}

func (b *Base) changed() {
	b.mu.Lock()
	listeners := make([]Listener, 0, b.listeners.Len())
	for pair := b.listeners.Oldest(); pair != nil; pair = pair.Next() {
		listeners = append(listeners, pair.Value)
	}
	b.mu.Unlock()
	for _, l := range listeners {
		l(b.self)
	}
}

func (b *Base) Key() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.key
}

func (b *Base) SetKey(key string) {
	b.mu.Lock()
	if b.key == key {
		b.mu.Unlock()
		return
	}
	b.key = key
	b.mu.Unlock()
	b.changed()
}

// Load does nothing; tile kinds that fetch a payload override it.
func (b *Base) Load() {}

func (b *Base) InterimTile() Tile {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.interim
}

func (b *Base) SetInterimTile(t Tile) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.interim = t
}

func (b *Base) GetInterimTile() Tile {
	for t := b.InterimTile(); t != nil; t = t.InterimTile() {
		if t.State() == Loaded {
			// the interim tile is already on screen, don't fade this one in
			b.mu.Lock()
			b.transition = 0
			b.mu.Unlock()
			return t
		}
	}
	return b.self
}

// RefreshInterimChain drops everything older than the first loaded tile of the chain,
// and splices out idle tiles that never started loading.
func (b *Base) RefreshInterimChain() {
	var prev Tile = b.self
	t := b.InterimTile()
	for t != nil {
		switch t.State() {
		case Loaded:
			t.SetInterimTile(nil)
			return
		case Idle:
			prev.SetInterimTile(t.InterimTile())
		default:
			prev = t
		}
		t = prev.InterimTile()
	}
}

// Alpha is the opacity of the tile for one renderer at now, fading in with a cubic ease.
func (b *Base) Alpha(rendererID string, now time.Time) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.transition == 0 {
		return 1
	}
	start, ok := b.transitionStarts[rendererID]
	if !ok {
		start = now.UnixNano()
		b.transitionStarts[rendererID] = start
	} else if start == transitionDone {
		return 1
	}
	delta := float64(now.UnixNano() - start)
	if delta >= float64(b.transition) {
		return 1
	}
	return mathhelp.EaseIn(mathhelp.Clamp(delta/float64(b.transition), 0, 1))
}

func (b *Base) InTransition(rendererID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.transition == 0 {
		return false
	}
	return b.transitionStarts[rendererID] != transitionDone
}

func (b *Base) EndTransition(rendererID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.transition != 0 {
		b.transitionStarts[rendererID] = transitionDone
	}
}

// Release moves an errored tile to Empty, which tells whoever still listens for
// it (a load queue) to stop tracking it.
func (b *Base) Release() {
	if b.State() == Error {
		b.SetState(Empty)
	}
}

func (b *Base) AddListener(l Listener) ListenerKey {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextListenerKey++
	b.listeners.Set(b.nextListenerKey, l)
	return b.nextListenerKey
}

func (b *Base) RemoveListener(key ListenerKey) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners.Delete(key)
}

// New returns a tile without a payload, for coordinates that have nothing to load.
func New(coord tilecoord.Coord, state State, options Options) Tile {
	t := &plain{}
	t.Init(t, coord, state, options)
	return t
}

type plain struct {
	Base
}
