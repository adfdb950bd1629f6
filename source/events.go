package source

import (
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/pdok/tiler/tile"
)

type EventType int

const (
	TileLoadStart EventType = iota
	TileLoadEnd
	TileLoadError
	// Change is sent when the source configuration changed; Tile is nil.
	Change
)

var eventTypeNames = [...]string{"tileloadstart", "tileloadend", "tileloaderror", "change"}

func (t EventType) String() string {
	if t < TileLoadStart || t > Change {
		return "unknown"
	}
	return eventTypeNames[t]
}

type Event struct {
	Type EventType
	Tile tile.Tile
}

type ListenerKey uint64

// events dispatches source events. It has its own lock: tile listeners feeding it run
// while the source lock may be held.
type events struct {
	listeners *orderedmap.OrderedMap[ListenerKey, func(Event)]
	nextKey   ListenerKey
	// loading holds the tiles between their load start and end.
	loading map[tile.Tile]struct{}
}

func newEvents() events {
	return events{
		listeners: orderedmap.New[ListenerKey, func(Event)](),
		loading:   make(map[tile.Tile]struct{}),
	}
}

// AddEventListener registers l for all events. Listeners run on the goroutine that
// caused the event and must not block.
func (s *Source) AddEventListener(l func(Event)) ListenerKey {
	s.eventMu.Lock()
	defer s.eventMu.Unlock()
	s.events.nextKey++
	s.events.listeners.Set(s.events.nextKey, l)
	return s.events.nextKey
}

func (s *Source) RemoveEventListener(key ListenerKey) {
	s.eventMu.Lock()
	defer s.eventMu.Unlock()
	s.events.listeners.Delete(key)
}

func (s *Source) dispatch(e Event) {
	s.eventMu.Lock()
	listeners := make([]func(Event), 0, s.events.listeners.Len())
	for pair := s.events.listeners.Oldest(); pair != nil; pair = pair.Next() {
		listeners = append(listeners, pair.Value)
	}
	s.eventMu.Unlock()
	for _, l := range listeners {
		l(e)
	}
}

func (s *Source) changed() {
	s.dispatch(Event{Type: Change})
}

// handleTileChange turns tile state changes into load events.
func (s *Source) handleTileChange(t tile.Tile) {
	state := t.State()
	var eventType EventType
	s.eventMu.Lock()
	_, wasLoading := s.events.loading[t]
	switch {
	case state == tile.Loading:
		s.events.loading[t] = struct{}{}
		eventType = TileLoadStart
	case wasLoading && state == tile.Loaded:
		delete(s.events.loading, t)
		eventType = TileLoadEnd
	case wasLoading && state == tile.Error:
		delete(s.events.loading, t)
		eventType = TileLoadError
	case wasLoading:
		delete(s.events.loading, t)
		s.eventMu.Unlock()
		return
	default:
		s.eventMu.Unlock()
		return
	}
	s.eventMu.Unlock()
	if eventType == TileLoadError {
		logLoadError(t)
	}
	s.dispatch(Event{Type: eventType, Tile: t})
}
