package main

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngineStartStandard(t *testing.T) {
	st := engineStart([]seatColor{colorRed, colorYellow}, modeStandard)

	require.Len(t, st.Seats, 2)
	assert.False(t, st.Over)
	assert.NotEmpty(t, st.Drawn)
	assert.NotEmpty(t, engineLegalMoves(st), "the seat holding the turn must have a legal move")

	// Standard mode deals every pawn into start except moves already
	// granted by the opening draw, which has not been applied yet.
	for _, seat := range st.Seats {
		for _, pos := range seat.Pawns {
			assert.Equal(t, posStart, pos)
		}
	}
}

func TestEngineStartAdult(t *testing.T) {
	st := engineStart([]seatColor{colorRed, colorYellow, colorGreen, colorBlue}, modeAdult)

	for _, seat := range st.Seats {
		assert.Equal(t, 0, seat.Pawns[0], "adult mode starts the first pawn on the track")
		assert.Equal(t, posStart, seat.Pawns[1])
	}
}

func TestEngineApplyUnknownMove(t *testing.T) {
	st := engineStart([]seatColor{colorRed, colorYellow}, modeStandard)

	_, _, err := engineApply(st, "bogus")
	require.Error(t, err)
}

func TestEngineApplyDoesNotMutateInput(t *testing.T) {
	st := engineStart([]seatColor{colorRed, colorYellow}, modeAdult)

	before, err := json.Marshal(st)
	require.NoError(t, err)

	moves := engineLegalMoves(st)
	require.NotEmpty(t, moves)
	_, _, err = engineApply(st, moves[0].ID)
	require.NoError(t, err)

	after, err := json.Marshal(st)
	require.NoError(t, err)
	assert.JSONEq(t, string(before), string(after))
}

// fixedState builds a deterministic state for move enumeration tests.
func fixedState(drawn card) *engineState {
	return &engineState{
		Mode: modeStandard,
		Seats: []engineSeat{
			{Color: colorRed, Pawns: [pawnCount]int{posStart, posStart, posStart, posStart}},
			{Color: colorYellow, Pawns: [pawnCount]int{posStart, posStart, posStart, posStart}},
		},
		Deck:  shuffledDeck(42, 0),
		Drawn: drawn,
		Seed:  42,
	}
}

func TestMovesForEnter(t *testing.T) {
	st := fixedState(card1)

	moves := movesFor(st, 0, card1)
	require.Len(t, moves, 4, "each pawn in start may enter on a 1")
	for _, m := range moves {
		assert.Equal(t, posStart, m.From)
		assert.Equal(t, 0, m.To)
	}
}

func TestMovesForNoBackwardFromStart(t *testing.T) {
	st := fixedState(card4)

	assert.Empty(t, movesFor(st, 0, card4), "a 4 cannot move pawns still in start")
}

func TestMovesForTenOffersBackward(t *testing.T) {
	st := fixedState(card10)
	st.Seats[0].Pawns[0] = 20

	moves := movesFor(st, 0, card10)
	require.Len(t, moves, 2)

	targets := []int{moves[0].To, moves[1].To}
	assert.Contains(t, targets, 30)
	assert.Contains(t, targets, 19)
}

func TestMovesForHomeRequiresExactCount(t *testing.T) {
	st := fixedState(card12)
	st.Seats[0].Pawns[0] = posHome - 5

	assert.Empty(t, movesFor(st, 0, card12), "overshooting home is illegal")

	st.Seats[0].Pawns[0] = posHome - 12
	moves := movesFor(st, 0, card12)
	require.Len(t, moves, 1)
	assert.Equal(t, posHome, moves[0].To)
}

func TestMovesForOwnPawnBlocks(t *testing.T) {
	st := fixedState(card1)
	st.Seats[0].Pawns[0] = 0

	moves := movesFor(st, 0, card1)
	for _, m := range moves {
		assert.NotEqual(t, posStart, m.From, "entry square is occupied by own pawn")
	}
}

func TestMovesForApologiesBumps(t *testing.T) {
	st := fixedState(cardApologies)
	st.Seats[1].Pawns[0] = 10 // yellow on the shared track

	moves := movesFor(st, 0, cardApologies)
	require.NotEmpty(t, moves)
	for _, m := range moves {
		assert.True(t, m.Bump)
		assert.Equal(t, posStart, m.From)
	}

	next, _, err := engineApply(st, moves[0].ID)
	require.NoError(t, err)
	assert.Equal(t, posStart, next.Seats[1].Pawns[0], "bumped pawn returns to start")
}

func TestEngineWinDetection(t *testing.T) {
	st := fixedState(card1)
	st.Seats[0].Pawns = [pawnCount]int{posHome, posHome, posHome, posHome - 1}

	moves := movesFor(st, 0, card1)
	require.Len(t, moves, 1)

	next, outcome, err := engineApply(st, moves[0].ID)
	require.NoError(t, err)
	assert.True(t, outcome.GameOver)
	assert.Equal(t, colorRed, outcome.Winner)
	assert.True(t, next.Over)
	assert.Equal(t, colorRed, next.Winner)
}

func TestEngineForfeitRotatesTurn(t *testing.T) {
	st := engineStart([]seatColor{colorRed, colorYellow, colorGreen}, modeAdult)

	holder := st.currentColor()
	next := engineForfeit(st, holder)

	assert.True(t, next.seat(holder).Forfeited)
	assert.NotEqual(t, holder, next.currentColor())
	assert.False(t, st.seat(holder).Forfeited, "forfeit must not mutate its input")
}

func TestEngineForfeitAllEndsGame(t *testing.T) {
	st := engineStart([]seatColor{colorRed, colorYellow}, modeAdult)

	st = engineForfeit(st, colorRed)
	st = engineForfeit(st, colorYellow)

	assert.True(t, st.Over)
}

func TestEngineGameRunsToCompletion(t *testing.T) {
	st := engineStart([]seatColor{colorRed, colorYellow}, modeAdult)

	for i := 0; i < 50000 && !st.Over; i++ {
		moves := engineLegalMoves(st)
		require.NotEmpty(t, moves, "the seat holding the turn must always have a move")

		next, _, err := engineApply(st, chooseProgrammaticMove(moves).ID)
		require.NoError(t, err)
		st = next
	}

	require.True(t, st.Over, "greedy play must finish the game")
	assert.NotEmpty(t, st.Winner)

	winner := st.seat(st.Winner)
	require.NotNil(t, winner)
	for _, pos := range winner.Pawns {
		assert.Equal(t, posHome, pos)
	}
}

func TestEnginePlayerViewPositions(t *testing.T) {
	st := fixedState(card1)
	st.Seats[0].Pawns = [pawnCount]int{posStart, 5, posSafe + 2, posHome}

	view := enginePlayerView(st, colorRed)
	require.Len(t, view.Players, 2)

	pawns := view.Players[0].Pawns
	assert.Equal(t, "start", pawns[0].Position)
	assert.Equal(t, "track", pawns[1].Position)
	assert.Equal(t, absSquare(colorRed, 5), pawns[1].Square)
	assert.Equal(t, "safe", pawns[2].Position)
	assert.Equal(t, 2, pawns[2].Square)
	assert.Equal(t, "home", pawns[3].Position)
}
