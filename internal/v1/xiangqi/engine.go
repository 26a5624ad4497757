// Package xiangqi implements the Chinese chess rule engine: board state,
// per-piece move generation, check detection and legality filtering.
// It is pure and performs no I/O; the room actor owns all persistence.
package xiangqi

// Board dimensions. Rows run 0 (black home rank) to 9 (red home rank).
const (
	Rows = 10
	Cols = 9
)

// Color identifies a side. Red sits on rows 7-9.
type Color int

const (
	Red   Color = 1
	Black Color = -1
)

// Opponent returns the other side.
func (c Color) Opponent() Color {
	return -c
}

// PieceType enumerates the seven piece kinds.
type PieceType byte

const (
	None     PieceType = 0
	King     PieceType = 'K'
	Advisor  PieceType = 'A'
	Elephant PieceType = 'E'
	Horse    PieceType = 'H'
	Chariot  PieceType = 'R'
	Cannon   PieceType = 'C'
	Soldier  PieceType = 'P'
)

// Piece is one occupied square. The zero value is an empty square.
type Piece struct {
	Type  PieceType
	Color Color
}

// IsEmpty reports whether the square holds no piece.
func (p Piece) IsEmpty() bool {
	return p.Type == None
}

// Point is a board coordinate.
type Point struct {
	R int `json:"r"`
	C int `json:"c"`
}

// InBounds reports whether the point lies on the board.
func (p Point) InBounds() bool {
	return p.R >= 0 && p.R < Rows && p.C >= 0 && p.C < Cols
}

// Move is a single ply with enough information to undo it.
type Move struct {
	From    Point
	To      Point
	Piece   Piece
	Capture Piece
}

// Step is the persisted form of a move: just the two endpoints.
type Step struct {
	From Point `json:"from"`
	To   Point `json:"to"`
}

// Engine is a board plus the side to move.
type Engine struct {
	Board [Rows][Cols]Piece
	Turn  Color
}

// NewEngine returns an engine with the standard opening layout, red to move.
func NewEngine() *Engine {
	e := &Engine{Turn: Red}

	backRank := []PieceType{Chariot, Horse, Elephant, Advisor, King, Advisor, Elephant, Horse, Chariot}
	for c, t := range backRank {
		e.Board[0][c] = Piece{Type: t, Color: Black}
		e.Board[9][c] = Piece{Type: t, Color: Red}
	}
	for _, c := range []int{1, 7} {
		e.Board[2][c] = Piece{Type: Cannon, Color: Black}
		e.Board[7][c] = Piece{Type: Cannon, Color: Red}
	}
	for c := 0; c < Cols; c += 2 {
		e.Board[3][c] = Piece{Type: Soldier, Color: Black}
		e.Board[6][c] = Piece{Type: Soldier, Color: Red}
	}
	return e
}

// At returns the piece at p. Callers must pass an in-bounds point.
func (e *Engine) At(p Point) Piece {
	return e.Board[p.R][p.C]
}

// Apply plays m: the destination is overwritten, the origin cleared and the
// turn flipped. Legality is the caller's responsibility (see FindLegalMove).
func (e *Engine) Apply(m Move) {
	e.Board[m.To.R][m.To.C] = e.Board[m.From.R][m.From.C]
	e.Board[m.From.R][m.From.C] = Piece{}
	e.Turn = e.Turn.Opponent()
}

// undo reverts m without touching the turn. Used by check simulation.
func (e *Engine) undo(m Move) {
	e.Board[m.From.R][m.From.C] = m.Piece
	e.Board[m.To.R][m.To.C] = m.Capture
}

// king locates the king of the given color.
func (e *Engine) king(color Color) (Point, bool) {
	for r := 0; r < Rows; r++ {
		for c := 3; c <= 5; c++ { // kings never leave the palace files
			p := e.Board[r][c]
			if p.Type == King && p.Color == color {
				return Point{r, c}, true
			}
		}
	}
	return Point{}, false
}

// CheckSource returns the square of a piece currently giving check to color,
// or ok=false when color is not in check. The two sources are the flying
// general (both kings on one file with nothing between) and any enemy piece
// with a pseudo-legal move onto the king's square.
func (e *Engine) CheckSource(color Color) (Point, bool) {
	kp, ok := e.king(color)
	if !ok {
		return Point{}, false
	}

	// Flying general.
	for _, dr := range []int{-1, 1} {
		for r := kp.R + dr; r >= 0 && r < Rows; r += dr {
			p := e.Board[r][kp.C]
			if p.IsEmpty() {
				continue
			}
			if p.Type == King && p.Color != color {
				return Point{r, kp.C}, true
			}
			break
		}
	}

	// Any enemy piece attacking the king square.
	for r := 0; r < Rows; r++ {
		for c := 0; c < Cols; c++ {
			p := e.Board[r][c]
			if p.IsEmpty() || p.Color == color {
				continue
			}
			for _, m := range e.pseudoMoves(Point{r, c}) {
				if m.To == kp {
					return Point{r, c}, true
				}
			}
		}
	}
	return Point{}, false
}

// InCheck reports whether color's king is attacked.
func (e *Engine) InCheck(color Color) bool {
	_, checked := e.CheckSource(color)
	return checked
}

// checkSimulate applies m, tests whether color is left in check, and undoes.
func (e *Engine) checkSimulate(m Move, color Color) bool {
	e.Board[m.To.R][m.To.C] = m.Piece
	e.Board[m.From.R][m.From.C] = Piece{}
	checked := e.InCheck(color)
	e.undo(m)
	return checked
}

// Moves generates all legal moves for color: pseudo-legal moves filtered by
// king safety on the post-move board.
func (e *Engine) Moves(color Color) []Move {
	var out []Move
	for r := 0; r < Rows; r++ {
		for c := 0; c < Cols; c++ {
			p := e.Board[r][c]
			if p.IsEmpty() || p.Color != color {
				continue
			}
			for _, m := range e.pseudoMoves(Point{r, c}) {
				if !e.checkSimulate(m, color) {
					out = append(out, m)
				}
			}
		}
	}
	return out
}

// HasLegalMove reports whether color has at least one legal reply.
func (e *Engine) HasLegalMove(color Color) bool {
	for r := 0; r < Rows; r++ {
		for c := 0; c < Cols; c++ {
			p := e.Board[r][c]
			if p.IsEmpty() || p.Color != color {
				continue
			}
			for _, m := range e.pseudoMoves(Point{r, c}) {
				if !e.checkSimulate(m, color) {
					return true
				}
			}
		}
	}
	return false
}

// FindLegalMove returns the legal move of the side to move from from to to,
// with capture information attached, or ok=false when no such move exists.
// The result does not depend on generation order.
func (e *Engine) FindLegalMove(from, to Point) (Move, bool) {
	if !from.InBounds() || !to.InBounds() {
		return Move{}, false
	}
	p := e.At(from)
	if p.IsEmpty() || p.Color != e.Turn {
		return Move{}, false
	}
	for _, m := range e.pseudoMoves(from) {
		if m.To != to {
			continue
		}
		if e.checkSimulate(m, e.Turn) {
			return Move{}, false
		}
		return m, true
	}
	return Move{}, false
}

// Replay reconstructs an engine by applying a persisted step list from the
// opening position. It fails on the first illegal step, so a record accepted
// by the server always replays to the same board.
func Replay(steps []Step) (*Engine, error) {
	e := NewEngine()
	for i, s := range steps {
		m, ok := e.FindLegalMove(s.From, s.To)
		if !ok {
			return nil, &ReplayError{Index: i, Step: s}
		}
		e.Apply(m)
	}
	return e, nil
}
