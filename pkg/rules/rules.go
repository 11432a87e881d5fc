// Package rules defines the contract between the session coordinator and a game rules
// engine, plus the move codec shared by every engine.
package rules

import "errors"

// ErrIllegalMove is returned by an Engine when it rejects a candidate move.
var ErrIllegalMove = errors.New("illegal move")

// Position is an opaque handle to a game position. Only the Engine that created a
// Position knows how to read it. Positions are never mutated in place: Move returns a new one.
type Position interface{}

// Color identifies the side to move
type Color string

// Possible sides in a two player board game
const (
	White Color = "w"
	Black Color = "b"
)

// Opp returns the opposite color for the given color.
func (c Color) Opp() Color {
	if c == White {
		return Black
	}

	return White
}

// Status summarizes a position for clients.
type Status struct {
	Turn     Color
	LastMove string
	Outcome  string // "*" while the game is running, "1-0", "0-1" or "1/2-1/2" once it ends
	Method   string // how the game ended, empty while running
}

// Over reports whether the game has ended.
func (s Status) Over() bool {
	return s.Outcome != "" && s.Outcome != "*"
}

// Engine owns move legality and position serialization.
type Engine interface {
	// New returns a position at the standard initial setup.
	New() Position
	// Move applies m to p. On rejection it returns an error wrapping ErrIllegalMove and p
	// is left untouched.
	Move(p Position, m Move) (Position, error)
	// Serialize renders p in the engine's canonical notation.
	Serialize(p Position) string
	// Status describes p.
	Status(p Position) Status
}
