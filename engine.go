package main

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	mathrand "math/rand"
)

// The game engine is a collaborator of the coordinator, not part of it: the
// coordinator only ever calls engineStart, engineLegalMoves, engineApply,
// engineForfeit, and enginePlayerView. Every call is pure with respect to its
// inputs; the whole engine state is a value stored on the game record, and
// engineApply returns a fresh state rather than mutating its argument.

// Game modes.
const (
	modeStandard = "STANDARD"
	modeAdult    = "ADULT"
)

// Game visibilities.
const (
	visibilityPublic  = "PUBLIC"
	visibilityPrivate = "PRIVATE"
)

type seatColor string

const (
	colorRed    seatColor = "RED"
	colorYellow seatColor = "YELLOW"
	colorGreen  seatColor = "GREEN"
	colorBlue   seatColor = "BLUE"
)

// seatColors is the fixed seat assignment order.
var seatColors = []seatColor{colorRed, colorYellow, colorGreen, colorBlue}

type card string

const (
	card1         card = "1"
	card2         card = "2"
	card3         card = "3"
	card4         card = "4"
	card5         card = "5"
	card7         card = "7"
	card8         card = "8"
	card10        card = "10"
	card11        card = "11"
	card12        card = "12"
	cardApologies card = "APOLOGIES"
)

// Pawn positions are relative to the owning color: -1 in start, 0-59 on the
// shared track (absolute square = entry offset + relative, mod 60), 60-64 in
// the color's safe zone, 65 home.
const (
	posStart  = -1
	trackLen  = 60
	posSafe   = 60
	posHome   = 65
	pawnCount = 4
)

var deckComposition = []struct {
	card  card
	count int
}{
	{card1, 5},
	{card2, 4},
	{card3, 4},
	{card4, 4},
	{card5, 4},
	{card7, 4},
	{card8, 4},
	{card10, 4},
	{card11, 4},
	{card12, 4},
	{cardApologies, 4},
}

type engineSeat struct {
	Color     seatColor      `json:"color"`
	Pawns     [pawnCount]int `json:"pawns"`
	Forfeited bool           `json:"forfeited"`
}

// engineState is the full game state, stored on the game record as a value.
type engineState struct {
	Mode     string       `json:"mode"`
	Seats    []engineSeat `json:"seats"`
	Deck     []card       `json:"deck"`
	Discard  []card       `json:"discard"`
	Turn     int          `json:"turn"`
	Drawn    card         `json:"drawn"`
	Seed     int64        `json:"seed"`
	Shuffles int          `json:"shuffles"`
	Over     bool         `json:"game_over"`
	Winner   seatColor    `json:"winner,omitempty"`
}

type engineMove struct {
	ID   string
	Card card
	Pawn int
	From int
	To   int
	Bump bool
	Desc string
}

func (m engineMove) info() moveInfo {
	return moveInfo{
		MoveID:      m.ID,
		Card:        string(m.Card),
		Description: m.Desc,
	}
}

type engineOutcome struct {
	GameOver bool
	Winner   seatColor
	Next     seatColor
}

func entryOffset(c seatColor) int {
	for i, sc := range seatColors {
		if sc == c {
			return i * (trackLen / len(seatColors))
		}
	}
	return 0
}

// absSquare returns the absolute track square for a relative position, or -1
// when the pawn is off the shared track.
func absSquare(c seatColor, rel int) int {
	if rel < 0 || rel >= trackLen {
		return -1
	}
	return (entryOffset(c) + rel) % trackLen
}

// engineStart deals a fresh game for the given colors. ADULT mode begins with
// each color's first pawn already on the track for a faster game.
func engineStart(colors []seatColor, mode string) *engineState {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic("crypto/rand failure: " + err.Error())
	}
	seed := int64(binary.BigEndian.Uint64(b[:]) >> 1)

	st := &engineState{
		Mode: mode,
		Seed: seed,
	}
	for _, c := range colors {
		seat := engineSeat{Color: c}
		for i := range seat.Pawns {
			seat.Pawns[i] = posStart
		}
		if mode == modeAdult {
			seat.Pawns[0] = 0
		}
		st.Seats = append(st.Seats, seat)
	}

	st.Deck = shuffledDeck(seed, 0)
	st.Shuffles = 1
	st.Turn = -1
	advanceToPlayableSeat(st)

	return st
}

func shuffledDeck(seed int64, shuffles int) []card {
	deck := make([]card, 0, 45)
	for _, entry := range deckComposition {
		for i := 0; i < entry.count; i++ {
			deck = append(deck, entry.card)
		}
	}
	rng := mathrand.New(mathrand.NewSource(seed + int64(shuffles)))
	rng.Shuffle(len(deck), func(i, j int) {
		deck[i], deck[j] = deck[j], deck[i]
	})
	return deck
}

func (st *engineState) clone() *engineState {
	out := *st
	out.Seats = append([]engineSeat(nil), st.Seats...)
	out.Deck = append([]card(nil), st.Deck...)
	out.Discard = append([]card(nil), st.Discard...)
	return &out
}

func (st *engineState) seat(c seatColor) *engineSeat {
	for i := range st.Seats {
		if st.Seats[i].Color == c {
			return &st.Seats[i]
		}
	}
	return nil
}

func (st *engineState) currentColor() seatColor {
	return st.Seats[st.Turn].Color
}

// draw pops the top card, reshuffling the discard pile deterministically when
// the deck runs dry.
func (st *engineState) draw() card {
	if len(st.Deck) == 0 {
		st.Deck = shuffledDeck(st.Seed, st.Shuffles)
		st.Shuffles++
		st.Discard = st.Discard[:0]
	}
	c := st.Deck[0]
	st.Deck = st.Deck[1:]
	return c
}

func (st *engineState) ownAt(seatIdx, rel int) bool {
	if rel == posHome {
		return false
	}
	for _, p := range st.Seats[seatIdx].Pawns {
		if p == rel {
			return true
		}
	}
	return false
}

// movesFor enumerates the legal moves for a seat holding a drawn card.
func movesFor(st *engineState, seatIdx int, drawn card) []engineMove {
	seat := st.Seats[seatIdx]
	var moves []engineMove

	addAdvance := func(pawn, from, by int) {
		to := from + by
		if from < 0 || to > posHome || st.ownAt(seatIdx, to) {
			return
		}
		moves = append(moves, engineMove{
			ID:   fmt.Sprintf("%s:%s:%d:%d", seat.Color, drawn, pawn, to),
			Card: drawn,
			Pawn: pawn,
			From: from,
			To:   to,
			Bump: st.bumpsAt(seat.Color, to),
			Desc: fmt.Sprintf("Move pawn %d forward %d", pawn, by),
		})
	}

	addBackward := func(pawn, from, by int) {
		to := from - by
		if from < 0 || from >= trackLen || to < 0 || st.ownAt(seatIdx, to) {
			return
		}
		moves = append(moves, engineMove{
			ID:   fmt.Sprintf("%s:%s:%d:%d", seat.Color, drawn, pawn, to),
			Card: drawn,
			Pawn: pawn,
			From: from,
			To:   to,
			Bump: st.bumpsAt(seat.Color, to),
			Desc: fmt.Sprintf("Move pawn %d backward %d", pawn, by),
		})
	}

	addEnter := func(pawn int) {
		if st.ownAt(seatIdx, 0) {
			return
		}
		moves = append(moves, engineMove{
			ID:   fmt.Sprintf("%s:%s:%d:enter", seat.Color, drawn, pawn),
			Card: drawn,
			Pawn: pawn,
			From: posStart,
			To:   0,
			Bump: st.bumpsAt(seat.Color, 0),
			Desc: fmt.Sprintf("Move pawn %d out of start", pawn),
		})
	}

	for pawn, rel := range seat.Pawns {
		if rel == posHome {
			continue
		}
		switch drawn {
		case card1:
			if rel == posStart {
				addEnter(pawn)
			} else {
				addAdvance(pawn, rel, 1)
			}
		case card2:
			if rel == posStart {
				addEnter(pawn)
			} else {
				addAdvance(pawn, rel, 2)
			}
		case card3:
			addAdvance(pawn, rel, 3)
		case card4:
			addBackward(pawn, rel, 4)
		case card5:
			addAdvance(pawn, rel, 5)
		case card7:
			addAdvance(pawn, rel, 7)
		case card8:
			addAdvance(pawn, rel, 8)
		case card10:
			addAdvance(pawn, rel, 10)
			addBackward(pawn, rel, 1)
		case card11:
			addAdvance(pawn, rel, 11)
		case card12:
			addAdvance(pawn, rel, 12)
		case cardApologies:
			if rel != posStart {
				continue
			}
			for oi := range st.Seats {
				if oi == seatIdx {
					continue
				}
				for _, orel := range st.Seats[oi].Pawns {
					abs := absSquare(st.Seats[oi].Color, orel)
					if abs < 0 {
						continue
					}
					to := (abs - entryOffset(seat.Color) + trackLen) % trackLen
					if st.ownAt(seatIdx, to) {
						continue
					}
					moves = append(moves, engineMove{
						ID:   fmt.Sprintf("%s:%s:%d:%d", seat.Color, drawn, pawn, to),
						Card: drawn,
						Pawn: pawn,
						From: posStart,
						To:   to,
						Bump: true,
						Desc: fmt.Sprintf("Move pawn %d from start onto square %d, bumping its occupant", pawn, abs),
					})
				}
			}
		}
	}

	return moves
}

// bumpsAt reports whether landing at a relative position would bump an
// opponent pawn off the shared track.
func (st *engineState) bumpsAt(c seatColor, rel int) bool {
	abs := absSquare(c, rel)
	if abs < 0 {
		return false
	}
	for i := range st.Seats {
		if st.Seats[i].Color == c {
			continue
		}
		for _, orel := range st.Seats[i].Pawns {
			if absSquare(st.Seats[i].Color, orel) == abs {
				return true
			}
		}
	}
	return false
}

// engineLegalMoves enumerates the current seat's legal moves for the card
// already drawn.
func engineLegalMoves(st *engineState) []engineMove {
	if st.Over {
		return nil
	}
	return movesFor(st, st.Turn, st.Drawn)
}

// engineApply executes a move by id for the current seat and returns the
// successor state plus the turn outcome. The input state is never mutated.
func engineApply(st *engineState, moveID string) (*engineState, engineOutcome, error) {
	if st.Over {
		return nil, engineOutcome{}, fmt.Errorf("game is over")
	}

	var chosen *engineMove
	for _, m := range engineLegalMoves(st) {
		if m.ID == moveID {
			chosen = &m
			break
		}
	}
	if chosen == nil {
		return nil, engineOutcome{}, fmt.Errorf("no legal move with id %q", moveID)
	}

	next := st.clone()
	seat := &next.Seats[next.Turn]
	seat.Pawns[chosen.Pawn] = chosen.To

	// Bump any opponent pawn occupying the landing square.
	if abs := absSquare(seat.Color, chosen.To); abs >= 0 {
		for i := range next.Seats {
			if i == next.Turn {
				continue
			}
			for pi, orel := range next.Seats[i].Pawns {
				if absSquare(next.Seats[i].Color, orel) == abs {
					next.Seats[i].Pawns[pi] = posStart
				}
			}
		}
	}

	if allHome(seat) {
		next.Over = true
		next.Winner = seat.Color
		return next, engineOutcome{GameOver: true, Winner: seat.Color}, nil
	}

	next.Discard = append(next.Discard, next.Drawn)
	next.Drawn = ""
	advanceToPlayableSeat(next)
	if next.Over {
		return next, engineOutcome{GameOver: true, Winner: next.Winner}, nil
	}

	return next, engineOutcome{Next: next.currentColor()}, nil
}

func allHome(seat *engineSeat) bool {
	for _, p := range seat.Pawns {
		if p != posHome {
			return false
		}
	}
	return true
}

// advanceToPlayableSeat rotates the turn to the next non-forfeited seat with
// at least one legal move, drawing (and discarding unplayable cards) along
// the way. A long run of unplayable draws ends the game on points rather
// than spinning forever.
func advanceToPlayableSeat(st *engineState) {
	active := 0
	for i := range st.Seats {
		if !st.Seats[i].Forfeited {
			active++
		}
	}
	if active == 0 {
		st.Over = true
		st.Drawn = ""
		return
	}

	for i := 0; i < 1000; i++ {
		if st.Drawn == "" {
			for {
				st.Turn = (st.Turn + 1) % len(st.Seats)
				if !st.Seats[st.Turn].Forfeited {
					break
				}
			}
			st.Drawn = st.draw()
		}

		if len(movesFor(st, st.Turn, st.Drawn)) > 0 {
			return
		}
		st.Discard = append(st.Discard, st.Drawn)
		st.Drawn = ""
	}

	// Fully blocked board; settle by progress.
	st.Over = true
	st.Winner = leadingColor(st)
	st.Drawn = ""
}

func leadingColor(st *engineState) seatColor {
	best, bestScore := st.Seats[0].Color, -1
	for i := range st.Seats {
		score := 0
		for _, p := range st.Seats[i].Pawns {
			score += p + 1
		}
		if !st.Seats[i].Forfeited && score > bestScore {
			best, bestScore = st.Seats[i].Color, score
		}
	}
	return best
}

// engineForfeit removes a seat from turn rotation, rotating past it when it
// currently holds the turn. The input state is never mutated.
func engineForfeit(st *engineState, c seatColor) *engineState {
	next := st.clone()
	seat := next.seat(c)
	if seat == nil || seat.Forfeited {
		return next
	}
	seat.Forfeited = true

	if next.Over {
		return next
	}
	if next.currentColor() == c {
		next.Discard = append(next.Discard, next.Drawn)
		next.Drawn = ""
		advanceToPlayableSeat(next)
	}
	return next
}

// chooseProgrammaticMove picks a move for an engine-controlled seat: the
// first move that bumps an opponent, otherwise the farthest advance.
func chooseProgrammaticMove(moves []engineMove) engineMove {
	for _, m := range moves {
		if m.Bump {
			return m
		}
	}
	best := moves[0]
	for _, m := range moves[1:] {
		if m.To > best.To {
			best = m
		}
	}
	return best
}

// ---- Player views ----

type pawnView struct {
	ID       int    `json:"id"`
	Position string `json:"position"`
	Square   int    `json:"square,omitempty"`
}

type seatStateView struct {
	Color     string     `json:"color"`
	Pawns     []pawnView `json:"pawns"`
	Forfeited bool       `json:"forfeited,omitempty"`
}

type playerView struct {
	Color     string          `json:"color,omitempty"`
	Mode      string          `json:"mode"`
	Turn      string          `json:"turn,omitempty"`
	DrawnCard string          `json:"drawn_card,omitempty"`
	Players   []seatStateView `json:"players"`
	GameOver  bool            `json:"game_over"`
	Winner    string          `json:"winner,omitempty"`
}

// enginePlayerView renders the state as seen by one seat. Pass "" for an
// observer with no seat (e.g. state retrieval on a finished game).
func enginePlayerView(st *engineState, c seatColor) playerView {
	view := playerView{
		Color:    string(c),
		Mode:     st.Mode,
		GameOver: st.Over,
		Winner:   string(st.Winner),
	}
	if !st.Over {
		view.Turn = string(st.currentColor())
		view.DrawnCard = string(st.Drawn)
	}

	for i := range st.Seats {
		seat := st.Seats[i]
		sv := seatStateView{
			Color:     string(seat.Color),
			Forfeited: seat.Forfeited,
		}
		for pi, rel := range seat.Pawns {
			pv := pawnView{ID: pi}
			switch {
			case rel == posStart:
				pv.Position = "start"
			case rel == posHome:
				pv.Position = "home"
			case rel >= posSafe:
				pv.Position = "safe"
				pv.Square = rel - posSafe
			default:
				pv.Position = "track"
				pv.Square = absSquare(seat.Color, rel)
			}
			sv.Pawns = append(sv.Pawns, pv)
		}
		view.Players = append(view.Players, sv)
	}

	return view
}
