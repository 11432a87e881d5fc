package rules

import (
	"errors"
	"fmt"
)

// ErrMalformedMove is returned by ParseMove for input that is not a board coordinate move.
var ErrMalformedMove = errors.New("malformed move")

// Move is a candidate move from one square to another, in board coordinates such as "e2".
type Move struct {
	From      string
	To        string
	Promotion string // one of "q", "r", "b", "n" or empty
}

// String renders the move in coordinate notation, e.g. "e2e4" or "e7e8q".
func (m Move) String() string {
	return m.From + m.To + m.Promotion
}

// ParseMove validates and splits a coordinate string: from = s[0:2], to = s[2:4] and an
// optional promotion piece at s[4]. It never panics.
func ParseMove(s string) (Move, error) {
	if len(s) != 4 && len(s) != 5 {
		return Move{}, fmt.Errorf("%w: %q must be 4 or 5 characters", ErrMalformedMove, s)
	}

	if !isSquare(s[0:2]) || !isSquare(s[2:4]) {
		return Move{}, fmt.Errorf("%w: %q is not a pair of board squares", ErrMalformedMove, s)
	}

	m := Move{From: s[0:2], To: s[2:4]}

	if len(s) == 5 {
		switch s[4] {
		case 'q', 'r', 'b', 'n':
			m.Promotion = s[4:5]
		default:
			return Move{}, fmt.Errorf("%w: %q has unknown promotion piece", ErrMalformedMove, s)
		}
	}

	return m, nil
}

func isSquare(sq string) bool {
	return len(sq) == 2 && sq[0] >= 'a' && sq[0] <= 'h' && sq[1] >= '1' && sq[1] <= '8'
}
