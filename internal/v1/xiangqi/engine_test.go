package xiangqi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// place is a test helper for building positions square by square.
func place(e *Engine, r, c int, t PieceType, color Color) {
	e.Board[r][c] = Piece{Type: t, Color: color}
}

// bare returns an engine with an empty board holding only the two kings in
// non-facing palace files.
func bare(turn Color) *Engine {
	e := &Engine{Turn: turn}
	place(e, 0, 4, King, Black)
	place(e, 9, 3, King, Red)
	return e
}

func targets(moves []Move) map[Point]bool {
	out := make(map[Point]bool, len(moves))
	for _, m := range moves {
		out[m.To] = true
	}
	return out
}

func TestNewEngineLayout(t *testing.T) {
	e := NewEngine()

	assert.Equal(t, Red, e.Turn)
	assert.Equal(t, Piece{Type: King, Color: Red}, e.At(Point{9, 4}))
	assert.Equal(t, Piece{Type: King, Color: Black}, e.At(Point{0, 4}))
	assert.Equal(t, Piece{Type: Chariot, Color: Red}, e.At(Point{9, 0}))
	assert.Equal(t, Piece{Type: Chariot, Color: Black}, e.At(Point{0, 8}))
	assert.Equal(t, Piece{Type: Cannon, Color: Red}, e.At(Point{7, 1}))
	assert.Equal(t, Piece{Type: Cannon, Color: Black}, e.At(Point{2, 7}))

	for c := 0; c < Cols; c += 2 {
		assert.Equal(t, Piece{Type: Soldier, Color: Red}, e.At(Point{6, c}))
		assert.Equal(t, Piece{Type: Soldier, Color: Black}, e.At(Point{3, c}))
	}
	for c := 1; c < Cols; c += 2 {
		assert.True(t, e.At(Point{6, c}).IsEmpty())
		assert.True(t, e.At(Point{3, c}).IsEmpty())
	}
}

func TestSoldierMoves(t *testing.T) {
	t.Run("before the river only forward", func(t *testing.T) {
		e := bare(Red)
		place(e, 6, 4, Soldier, Red)

		got := targets(e.pseudoMoves(Point{6, 4}))
		assert.Equal(t, map[Point]bool{{5, 4}: true}, got)
	})

	t.Run("across the river gains sideways", func(t *testing.T) {
		e := bare(Red)
		place(e, 4, 4, Soldier, Red)

		got := targets(e.pseudoMoves(Point{4, 4}))
		assert.Equal(t, map[Point]bool{{3, 4}: true, {4, 3}: true, {4, 5}: true}, got)
	})

	t.Run("never retreats even on the last rank", func(t *testing.T) {
		e := bare(Black)
		place(e, 9, 0, Soldier, Black)

		got := targets(e.pseudoMoves(Point{9, 0}))
		assert.Equal(t, map[Point]bool{{9, 1}: true}, got)
	})
}

func TestHorseMoves(t *testing.T) {
	t.Run("free horse has eight targets", func(t *testing.T) {
		e := bare(Red)
		place(e, 5, 4, Horse, Red)

		assert.Len(t, e.pseudoMoves(Point{5, 4}), 8)
	})

	t.Run("occupied leg hobbles the horse", func(t *testing.T) {
		e := bare(Red)
		place(e, 5, 4, Horse, Red)
		place(e, 4, 4, Soldier, Black) // blocks both upward jumps

		got := targets(e.pseudoMoves(Point{5, 4}))
		assert.False(t, got[Point{3, 3}])
		assert.False(t, got[Point{3, 5}])
		assert.Len(t, got, 6)
	})
}

func TestCannonMoves(t *testing.T) {
	e := bare(Red)
	place(e, 5, 0, Cannon, Red)
	place(e, 5, 3, Soldier, Red)   // screen
	place(e, 5, 6, Soldier, Black) // capturable behind the screen
	place(e, 5, 8, Chariot, Black) // shielded by the soldier

	got := targets(e.pseudoMoves(Point{5, 0}))

	// Quiet slides stop before the screen.
	assert.True(t, got[Point{5, 1}])
	assert.True(t, got[Point{5, 2}])
	assert.False(t, got[Point{5, 3}], "cannot capture without a screen")

	// Exactly one screen allows exactly one capture.
	assert.True(t, got[Point{5, 6}])
	assert.False(t, got[Point{5, 8}], "second piece behind the screen is safe")
}

func TestElephantMoves(t *testing.T) {
	t.Run("cannot cross the river", func(t *testing.T) {
		e := bare(Red)
		place(e, 5, 2, Elephant, Red)

		got := targets(e.pseudoMoves(Point{5, 2}))
		assert.False(t, got[Point{3, 0}])
		assert.False(t, got[Point{3, 4}])
		assert.True(t, got[Point{7, 0}])
		assert.True(t, got[Point{7, 4}])
	})

	t.Run("blocked eye", func(t *testing.T) {
		e := bare(Red)
		place(e, 9, 2, Elephant, Red)
		place(e, 8, 3, Soldier, Red)

		got := targets(e.pseudoMoves(Point{9, 2}))
		assert.False(t, got[Point{7, 4}])
		assert.True(t, got[Point{7, 0}])
	})
}

func TestAdvisorStaysInPalace(t *testing.T) {
	e := bare(Red)
	place(e, 8, 4, Advisor, Red)

	got := targets(e.pseudoMoves(Point{8, 4}))
	assert.Equal(t, map[Point]bool{
		{7, 3}: true, {7, 5}: true, {9, 5}: true,
	}, got, "9,3 holds the king; every other palace corner is reachable")
}

func TestKingStaysInPalace(t *testing.T) {
	e := bare(Black)

	got := targets(e.pseudoMoves(Point{0, 4}))
	assert.Equal(t, map[Point]bool{
		{0, 3}: true, {0, 5}: true, {1, 4}: true,
	}, got)
}

func TestFlyingGeneral(t *testing.T) {
	e := &Engine{Turn: Red}
	place(e, 0, 4, King, Black)
	place(e, 9, 4, King, Red)

	assert.True(t, e.InCheck(Red))
	assert.True(t, e.InCheck(Black))

	// A screen on the shared file clears the check.
	place(e, 5, 4, Horse, Red)
	assert.False(t, e.InCheck(Red))
	assert.False(t, e.InCheck(Black))

	// And that screen may not jump away.
	e.Turn = Red
	_, ok := e.FindLegalMove(Point{5, 4}, Point{4, 2})
	assert.False(t, ok, "moving the screen exposes the flying general")
}

func TestPinnedPieceCannotLeaveFile(t *testing.T) {
	e := &Engine{Turn: Black}
	place(e, 0, 4, King, Black)
	place(e, 5, 4, Chariot, Black)
	place(e, 8, 4, Chariot, Red)
	place(e, 9, 3, King, Red)

	_, ok := e.FindLegalMove(Point{5, 4}, Point{5, 0})
	assert.False(t, ok, "leaving the file exposes the king")

	m, ok := e.FindLegalMove(Point{5, 4}, Point{6, 4})
	require.True(t, ok, "sliding along the pin file is legal")
	assert.Equal(t, Point{6, 4}, m.To)

	m, ok = e.FindLegalMove(Point{5, 4}, Point{8, 4})
	require.True(t, ok, "capturing the pinning chariot is legal")
	assert.Equal(t, Piece{Type: Chariot, Color: Red}, m.Capture)
}

func TestFindLegalMoveAuthority(t *testing.T) {
	e := NewEngine()

	_, ok := e.FindLegalMove(Point{3, 0}, Point{4, 0})
	assert.False(t, ok, "black piece cannot move on red's turn")

	_, ok = e.FindLegalMove(Point{-1, 0}, Point{0, 0})
	assert.False(t, ok)

	_, ok = e.FindLegalMove(Point{5, 5}, Point{5, 6})
	assert.False(t, ok, "empty origin")

	_, ok = e.FindLegalMove(Point{9, 0}, Point{9, 1})
	assert.False(t, ok, "destination holds a friendly horse")

	m, ok := e.FindLegalMove(Point{6, 4}, Point{5, 4})
	require.True(t, ok)
	e.Apply(m)
	assert.Equal(t, Black, e.Turn)
	assert.True(t, e.At(Point{6, 4}).IsEmpty())
	assert.Equal(t, Piece{Type: Soldier, Color: Red}, e.At(Point{5, 4}))
}

func TestCheckmate(t *testing.T) {
	e := &Engine{Turn: Black}
	place(e, 0, 4, King, Black)
	place(e, 0, 0, Chariot, Red) // checks along rank 0
	place(e, 1, 0, Chariot, Red) // seals rank 1
	place(e, 9, 3, King, Red)

	assert.True(t, e.InCheck(Black))
	assert.False(t, e.HasLegalMove(Black))

	src, checked := e.CheckSource(Black)
	require.True(t, checked)
	assert.Equal(t, Point{0, 0}, src)
}

func TestStalemate(t *testing.T) {
	e := &Engine{Turn: Black}
	place(e, 0, 3, King, Black)
	place(e, 1, 4, Soldier, Red) // covers 0,4 forward and 1,3 sideways
	place(e, 9, 4, King, Red)

	assert.False(t, e.InCheck(Black))
	assert.False(t, e.HasLegalMove(Black))
}

func TestMovesFilterSelfCheck(t *testing.T) {
	e := &Engine{Turn: Black}
	place(e, 0, 4, King, Black)
	place(e, 5, 4, Chariot, Black)
	place(e, 8, 4, Chariot, Red)
	place(e, 9, 3, King, Red)

	for _, m := range e.Moves(Black) {
		if m.From == (Point{5, 4}) {
			assert.Equal(t, 4, m.To.C, "pinned chariot may only move on its file")
		}
	}
}

func TestReplay(t *testing.T) {
	t.Run("empty list yields the opening", func(t *testing.T) {
		e, err := Replay(nil)
		require.NoError(t, err)
		assert.Equal(t, Red, e.Turn)
		assert.Equal(t, NewEngine().Board, e.Board)
	})

	t.Run("accepted steps replay to the same board", func(t *testing.T) {
		steps := []Step{
			{From: Point{7, 1}, To: Point{7, 4}}, // red cannon to the center file
			{From: Point{0, 1}, To: Point{2, 2}}, // black horse develops
			{From: Point{7, 4}, To: Point{3, 4}}, // cannon takes the center soldier
		}
		e, err := Replay(steps)
		require.NoError(t, err)
		assert.Equal(t, Black, e.Turn)
		assert.Equal(t, Piece{Type: Cannon, Color: Red}, e.At(Point{3, 4}))
		assert.True(t, e.At(Point{7, 1}).IsEmpty())
	})

	t.Run("illegal step reports its index", func(t *testing.T) {
		steps := []Step{
			{From: Point{6, 0}, To: Point{5, 0}},
			{From: Point{3, 0}, To: Point{4, 0}},
			{From: Point{9, 0}, To: Point{0, 0}}, // chariot through its own soldier
		}
		_, err := Replay(steps)
		require.Error(t, err)

		var re *ReplayError
		require.ErrorAs(t, err, &re)
		assert.Equal(t, 2, re.Index)
	})
}
