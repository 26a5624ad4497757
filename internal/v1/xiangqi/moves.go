package xiangqi

import "fmt"

// ReplayError reports the first illegal step in a persisted move list.
type ReplayError struct {
	Index int
	Step  Step
}

func (e *ReplayError) Error() string {
	return fmt.Sprintf("illegal step %d: (%d,%d)->(%d,%d)",
		e.Index, e.Step.From.R, e.Step.From.C, e.Step.To.R, e.Step.To.C)
}

var orthogonals = [4][2]int{{-1, 0}, {1, 0}, {0, -1}, {0, 1}}

// inPalace reports whether p lies in color's 3x3 palace.
func inPalace(p Point, color Color) bool {
	if p.C < 3 || p.C > 5 {
		return false
	}
	if color == Red {
		return p.R >= 7 && p.R <= 9
	}
	return p.R >= 0 && p.R <= 2
}

// ownSide reports whether p is on color's side of the river.
func ownSide(p Point, color Color) bool {
	if color == Red {
		return p.R >= 5
	}
	return p.R <= 4
}

// pseudoMoves generates the piece-shape moves from from, ignoring king
// safety. Capture squares holding a friendly piece are excluded here; check
// exposure is filtered later by checkSimulate.
func (e *Engine) pseudoMoves(from Point) []Move {
	p := e.At(from)
	switch p.Type {
	case Chariot:
		return e.chariotMoves(from, p)
	case Cannon:
		return e.cannonMoves(from, p)
	case Horse:
		return e.horseMoves(from, p)
	case Elephant:
		return e.elephantMoves(from, p)
	case Advisor:
		return e.advisorMoves(from, p)
	case King:
		return e.kingMoves(from, p)
	case Soldier:
		return e.soldierMoves(from, p)
	}
	return nil
}

// push appends a move to to out unless to holds a friendly piece.
func (e *Engine) push(out []Move, from Point, p Piece, to Point) []Move {
	if !to.InBounds() {
		return out
	}
	t := e.At(to)
	if !t.IsEmpty() && t.Color == p.Color {
		return out
	}
	return append(out, Move{From: from, To: to, Piece: p, Capture: t})
}

// chariotMoves slides in the four orthogonals until blocked, capturing the
// first enemy piece encountered.
func (e *Engine) chariotMoves(from Point, p Piece) []Move {
	var out []Move
	for _, d := range orthogonals {
		for to := (Point{from.R + d[0], from.C + d[1]}); to.InBounds(); to.R, to.C = to.R+d[0], to.C+d[1] {
			t := e.At(to)
			if t.IsEmpty() {
				out = append(out, Move{From: from, To: to, Piece: p})
				continue
			}
			if t.Color != p.Color {
				out = append(out, Move{From: from, To: to, Piece: p, Capture: t})
			}
			break
		}
	}
	return out
}

// cannonMoves slides over empty squares for quiet moves; a capture must jump
// exactly one screen piece and land on an enemy.
func (e *Engine) cannonMoves(from Point, p Piece) []Move {
	var out []Move
	for _, d := range orthogonals {
		screened := false
		for to := (Point{from.R + d[0], from.C + d[1]}); to.InBounds(); to.R, to.C = to.R+d[0], to.C+d[1] {
			t := e.At(to)
			if !screened {
				if t.IsEmpty() {
					out = append(out, Move{From: from, To: to, Piece: p})
					continue
				}
				screened = true // first blocker becomes the screen
				continue
			}
			if t.IsEmpty() {
				continue
			}
			if t.Color != p.Color {
				out = append(out, Move{From: from, To: to, Piece: p, Capture: t})
			}
			break
		}
	}
	return out
}

var horseSteps = [8][4]int{
	// dr, dc, legDr, legDc: the leg square must be empty ("hobbling the horse")
	{-2, -1, -1, 0}, {-2, 1, -1, 0},
	{2, -1, 1, 0}, {2, 1, 1, 0},
	{-1, -2, 0, -1}, {1, -2, 0, -1},
	{-1, 2, 0, 1}, {1, 2, 0, 1},
}

func (e *Engine) horseMoves(from Point, p Piece) []Move {
	var out []Move
	for _, s := range horseSteps {
		leg := Point{from.R + s[2], from.C + s[3]}
		if !leg.InBounds() || !e.At(leg).IsEmpty() {
			continue
		}
		out = e.push(out, from, p, Point{from.R + s[0], from.C + s[1]})
	}
	return out
}

// elephantMoves are the four diagonal-2 steps; the eye square must be empty
// and the destination may not cross the river.
func (e *Engine) elephantMoves(from Point, p Piece) []Move {
	var out []Move
	for _, d := range [4][2]int{{-2, -2}, {-2, 2}, {2, -2}, {2, 2}} {
		eye := Point{from.R + d[0]/2, from.C + d[1]/2}
		to := Point{from.R + d[0], from.C + d[1]}
		if !to.InBounds() || !ownSide(to, p.Color) {
			continue
		}
		if !e.At(eye).IsEmpty() {
			continue
		}
		out = e.push(out, from, p, to)
	}
	return out
}

func (e *Engine) advisorMoves(from Point, p Piece) []Move {
	var out []Move
	for _, d := range [4][2]int{{-1, -1}, {-1, 1}, {1, -1}, {1, 1}} {
		to := Point{from.R + d[0], from.C + d[1]}
		if !to.InBounds() || !inPalace(to, p.Color) {
			continue
		}
		out = e.push(out, from, p, to)
	}
	return out
}

func (e *Engine) kingMoves(from Point, p Piece) []Move {
	var out []Move
	for _, d := range orthogonals {
		to := Point{from.R + d[0], from.C + d[1]}
		if !to.InBounds() || !inPalace(to, p.Color) {
			continue
		}
		out = e.push(out, from, p, to)
	}
	return out
}

// soldierMoves: one step forward always; once across the river also one step
// sideways. Soldiers never retreat.
func (e *Engine) soldierMoves(from Point, p Piece) []Move {
	forward := -1 // red marches toward row 0
	if p.Color == Black {
		forward = 1
	}

	var out []Move
	out = e.push(out, from, p, Point{from.R + forward, from.C})
	if !ownSide(from, p.Color) {
		out = e.push(out, from, p, Point{from.R, from.C - 1})
		out = e.push(out, from, p, Point{from.R, from.C + 1})
	}
	return out
}
