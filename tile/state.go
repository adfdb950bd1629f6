package tile

import (
	"errors"
	"fmt"

	"github.com/pdok/tiler/tilecoord"
)

// State of a tile. The numeric order is the order in which a tile moves forward.
type State int

const (
	Idle State = iota
	Loading
	Loaded
	Error
	Empty
)

var stateNames = [...]string{"idle", "loading", "loaded", "error", "empty"}

func (s State) String() string {
	if s < Idle || s > Empty {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// Terminal states end a load.
func (s State) Terminal() bool {
	return s == Loaded || s == Error || s == Empty
}

var ErrStateSequence = errors.New("invalid tile state sequence")

// StateSequenceError is the panic value of a backward state transition.
type StateSequenceError struct {
	Coord tilecoord.Coord
	From  State
	To    State
}

func (e *StateSequenceError) Error() string {
	return fmt.Sprintf("%v: tile %s cannot go from %s to %s", ErrStateSequence, e.Coord, e.From, e.To)
}

func (e *StateSequenceError) Is(target error) bool {
	return target == ErrStateSequence
}
