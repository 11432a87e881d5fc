package rules

import (
	"fmt"

	"github.com/corentings/chess/v2"
	"go.uber.org/zap"
)

// chessPosition wraps a chess game. The wrapped game is never moved after construction;
// ChessEngine.Move works on a clone.
type chessPosition struct {
	game     *chess.Game
	lastMove string
}

// ChessEngine is an Engine for standard chess backed by github.com/corentings/chess.
type ChessEngine struct {
	logger *zap.Logger
}

// NewChessEngine creates a chess rules engine
func NewChessEngine(logger *zap.Logger) *ChessEngine {
	return &ChessEngine{logger: logger.With(zap.String("component", "rules"))}
}

// New returns a game at the standard starting position
func (e *ChessEngine) New() Position {
	return &chessPosition{game: chess.NewGame()}
}

// Move applies a coordinate move. Legality is checked against the generated move list before
// anything is decoded, so arbitrary squares never reach the board update code.
func (e *ChessEngine) Move(p Position, m Move) (Position, error) {
	pos, ok := p.(*chessPosition)
	if !ok || pos == nil {
		return nil, fmt.Errorf("%w: position %T not created by the chess engine", ErrIllegalMove, p)
	}

	if pos.game.Outcome() != chess.NoOutcome {
		return nil, fmt.Errorf("%w: game is already over (%s)", ErrIllegalMove, pos.game.Outcome())
	}

	uci, legal := e.match(pos.game, m)
	if !legal {
		return nil, fmt.Errorf("%w: %s", ErrIllegalMove, m)
	}

	next := pos.game.Clone()

	candidate, err := chess.UCINotation{}.Decode(next.Position(), uci)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrIllegalMove, err)
	}

	if err := next.PushMove(chess.AlgebraicNotation{}.Encode(next.Position(), candidate), nil); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrIllegalMove, err)
	}

	e.logger.Debug(
		"processed move",
		zap.String("move", uci),
		zap.String("new_turn", next.Position().Turn().String()),
	)

	return &chessPosition{game: next, lastMove: uci}, nil
}

// match looks m up in the legal moves of g. A pawn move onto the last rank without a
// promotion piece promotes to a queen.
func (e *ChessEngine) match(g *chess.Game, m Move) (string, bool) {
	candidates := []string{m.String()}
	if m.Promotion == "" {
		candidates = append(candidates, m.String()+"q")
	}

	valid := g.ValidMoves()
	for _, uci := range candidates {
		for _, vm := range valid {
			if vm.String() == uci {
				return uci, true
			}
		}
	}

	return "", false
}

// Serialize returns the FEN of the position
func (e *ChessEngine) Serialize(p Position) string {
	pos, ok := p.(*chessPosition)
	if !ok || pos == nil {
		return ""
	}

	return pos.game.FEN()
}

// Status reports side to move, last move and outcome
func (e *ChessEngine) Status(p Position) Status {
	pos, ok := p.(*chessPosition)
	if !ok || pos == nil {
		return Status{}
	}

	turn := White
	if pos.game.Position().Turn() == chess.Black {
		turn = Black
	}

	return Status{
		Turn:     turn,
		LastMove: pos.lastMove,
		Outcome:  string(pos.game.Outcome()),
		Method:   methodName(pos.game.Method()),
	}
}

func methodName(m chess.Method) string {
	switch m {
	case chess.Checkmate:
		return "checkmate"
	case chess.Resignation:
		return "resignation"
	case chess.DrawOffer:
		return "draw_offer"
	case chess.Stalemate:
		return "stalemate"
	case chess.ThreefoldRepetition:
		return "threefold_repetition"
	case chess.FivefoldRepetition:
		return "fivefold_repetition"
	case chess.FiftyMoveRule:
		return "fifty_move_rule"
	case chess.SeventyFiveMoveRule:
		return "seventy_five_move_rule"
	case chess.InsufficientMaterial:
		return "insufficient_material"
	default:
		return ""
	}
}
