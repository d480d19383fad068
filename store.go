package main

import (
	"time"
)

// Player connection states.
const (
	connStateConnected    = "CONNECTED"
	connStateDisconnected = "DISCONNECTED"
)

// Activity states, shared by players and games.
const (
	activityActive   = "ACTIVE"
	activityIdle     = "IDLE"
	activityInactive = "INACTIVE"
)

// Player play states.
const (
	playStateWaiting  = "WAITING"
	playStateJoined   = "JOINED"
	playStatePlaying  = "PLAYING"
	playStateFinished = "FINISHED"
)

// Game states.
const (
	gameStateAdvertised = "ADVERTISED"
	gameStateStarted    = "STARTED"
	gameStateCompleted  = "COMPLETED"
	gameStateCancelled  = "CANCELLED"
)

// Seat states.
const (
	seatJoined       = "JOINED"
	seatPlaying      = "PLAYING"
	seatQuit         = "QUIT"
	seatDisconnected = "DISCONNECTED"
	seatFinished     = "FINISHED"
)

// Game completion reasons.
const (
	reasonWon            = "WON"
	reasonCancelled      = "CANCELLED"
	reasonNotViable      = "NOT_VIABLE"
	reasonInactiveGame   = "INACTIVE"
	reasonServerShutdown = "SHUTDOWN"
)

type player struct {
	id         string
	handle     string
	registered time.Time
	lastActive time.Time

	connState     string
	activityState string
	playState     string

	gameID string
	color  seatColor

	conn *client // nil while disconnected
}

type seat struct {
	color    seatColor
	playerID string // empty for a programmatic seat
	state    string
}

func (s *seat) programmatic() bool {
	return s.playerID == ""
}

type game struct {
	id           string
	name         string
	mode         string
	totalSeats   int
	advertiserID string
	visibility   string
	invited      []string

	advertised time.Time
	started    time.Time
	completed  time.Time
	lastActive time.Time

	state         string
	activityState string
	reason        string
	comment       string

	table  []seat
	engine *engineState
}

func (g *game) inProgress() bool {
	return g.state == gameStateAdvertised || g.state == gameStateStarted
}

func (g *game) seatFor(playerID string) *seat {
	for i := range g.table {
		if g.table[i].playerID == playerID {
			return &g.table[i]
		}
	}
	return nil
}

func (g *game) seatByColor(c seatColor) *seat {
	for i := range g.table {
		if g.table[i].color == c {
			return &g.table[i]
		}
	}
	return nil
}

func (g *game) humanSeats() int {
	count := 0
	for i := range g.table {
		if !g.table[i].programmatic() {
			count++
		}
	}
	return count
}

// viable reports whether a started game can continue: at least two seats
// still in play, and at least one of them human. A lone remaining player,
// human or not, has nobody left to play against.
func (g *game) viable() bool {
	active, humans := 0, 0
	for i := range g.table {
		if g.table[i].state != seatPlaying {
			continue
		}
		active++
		if !g.table[i].programmatic() {
			humans++
		}
	}
	return active >= 2 && humans >= 1
}

// freeColor returns the first color without a seat. Quits while advertised
// free seats mid-table, so allocation cannot go by table length.
func (g *game) freeColor() seatColor {
	for _, c := range seatColors {
		if g.seatByColor(c) == nil {
			return c
		}
	}
	panic("store: no free seat color in game " + g.id)
}

func (g *game) invitedHandle(handle string) bool {
	for _, h := range g.invited {
		if h == handle {
			return true
		}
	}
	return false
}

// store owns every connection, player, and game record. It is mutated only
// from coordinator handlers, so it carries no locks; the indices (handle to
// player, game id to game) are maintained in step with the primary maps.
type store struct {
	cfg *Config

	clients map[*client]struct{}
	players map[string]*player // by player id
	handles map[string]*player // by handle
	games   map[string]*game   // by game id
}

func newStore(cfg *Config) *store {
	return &store{
		cfg:     cfg,
		clients: make(map[*client]struct{}),
		players: make(map[string]*player),
		handles: make(map[string]*player),
		games:   make(map[string]*game),
	}
}

func (st *store) playerByID(id string) *player {
	return st.players[id]
}

func (st *store) playerByHandle(handle string) *player {
	return st.handles[handle]
}

func (st *store) gameByID(id string) *game {
	return st.games[id]
}

func (st *store) inProgressGames() int {
	count := 0
	for _, g := range st.games {
		if g.inProgress() {
			count++
		}
	}
	return count
}

// registerPlayer issues a fresh player and binds it to the connection.
func (st *store) registerPlayer(handle string, c *client, now time.Time) (*player, error) {
	if handle == "" {
		return nil, failf(reasonInvalidRequest, "handle must not be empty")
	}
	if _, taken := st.handles[handle]; taken {
		return nil, failf(reasonHandleTaken, "handle %q is already in use", handle)
	}
	if len(st.players) >= st.cfg.registeredPlayerLimit {
		return nil, failf(reasonUserLimit, "registered player limit (%d) reached", st.cfg.registeredPlayerLimit)
	}

	p := &player{
		id:            newPlayerID(),
		handle:        handle,
		registered:    now,
		lastActive:    now,
		connState:     connStateConnected,
		activityState: activityActive,
		playState:     playStateWaiting,
		conn:          c,
	}
	st.players[p.id] = p
	st.handles[p.handle] = p
	c.playerID = p.id

	return p, nil
}

// bindReregister rebinds an existing player to a new connection. The player's
// prior connection loses the binding, as does this connection's prior player:
// possession of the id is proof of identity, so the newest connection wins.
func (st *store) bindReregister(id string, c *client, now time.Time) (*player, error) {
	p := st.players[id]
	if p == nil {
		return nil, failf(reasonInvalidPlayer, "unknown player id")
	}

	if p.conn != nil && p.conn != c {
		p.conn.playerID = ""
		p.conn = nil
	}

	if c.playerID != "" && c.playerID != id {
		if prior := st.players[c.playerID]; prior != nil && prior.conn == c {
			prior.conn = nil
			prior.connState = connStateDisconnected
		}
	}

	p.conn = c
	p.connState = connStateConnected
	p.activityState = activityActive
	p.lastActive = now
	c.playerID = p.id

	return p, nil
}

// dropPlayer removes a player and its indices. Game cascades are the
// handlers' job; the store only enforces record consistency.
func (st *store) dropPlayer(p *player) {
	if p.conn != nil {
		p.conn.playerID = ""
		p.conn = nil
	}
	delete(st.players, p.id)
	delete(st.handles, p.handle)
}

// createGame allocates an advertised game and seats the advertiser at the
// first color.
func (st *store) createGame(advertiser *player, spec advertiseGameContext, now time.Time) (*game, error) {
	if advertiser.gameID != "" {
		return nil, failf(reasonAlreadyPlaying, "you are already in a game")
	}
	if spec.Name == "" {
		return nil, failf(reasonInvalidRequest, "game name must not be empty")
	}
	if spec.Mode != modeStandard && spec.Mode != modeAdult {
		return nil, failf(reasonInvalidRequest, "invalid mode %q", spec.Mode)
	}
	if spec.Visibility != visibilityPublic && spec.Visibility != visibilityPrivate {
		return nil, failf(reasonInvalidRequest, "invalid visibility %q", spec.Visibility)
	}
	if spec.Players < 2 || spec.Players > len(seatColors) {
		return nil, failf(reasonInvalidRequest, "invalid seat count %d (must be 2-4)", spec.Players)
	}
	if len(st.games) >= st.cfg.totalGameLimit {
		return nil, failf(reasonTotalGameLimit, "total game limit (%d) reached", st.cfg.totalGameLimit)
	}
	if st.inProgressGames() >= st.cfg.inProgressGameLimit {
		return nil, failf(reasonInProgressGameLimit, "in-progress game limit (%d) reached", st.cfg.inProgressGameLimit)
	}

	g := &game{
		id:            newGameID(func(id string) bool { _, ok := st.games[id]; return ok }),
		name:          spec.Name,
		mode:          spec.Mode,
		totalSeats:    spec.Players,
		advertiserID:  advertiser.id,
		visibility:    spec.Visibility,
		invited:       append([]string(nil), spec.Invited...),
		advertised:    now,
		lastActive:    now,
		state:         gameStateAdvertised,
		activityState: activityActive,
	}
	g.table = append(g.table, seat{
		color:    seatColors[0],
		playerID: advertiser.id,
		state:    seatJoined,
	})

	st.games[g.id] = g
	advertiser.gameID = g.id
	advertiser.color = seatColors[0]
	advertiser.playState = playStateJoined

	return g, nil
}

// joinGame seats a player in an advertised game.
func (st *store) joinGame(p *player, gameID string, now time.Time) (*game, error) {
	g := st.games[gameID]
	if g == nil {
		return nil, failf(reasonInvalidGame, "no such game")
	}
	if p.gameID != "" {
		return nil, failf(reasonAlreadyPlaying, "you are already in a game")
	}
	if g.state != gameStateAdvertised {
		return nil, failf(reasonGameAlreadyStarted, "game %q is no longer advertised", g.name)
	}
	if g.visibility == visibilityPrivate && !g.invitedHandle(p.handle) {
		return nil, failf(reasonNotInvited, "game %q is private", g.name)
	}
	if len(g.table) >= g.totalSeats {
		return nil, failf(reasonNoSeats, "game %q is full", g.name)
	}

	color := g.freeColor()
	g.table = append(g.table, seat{
		color:    color,
		playerID: p.id,
		state:    seatJoined,
	})

	p.gameID = g.id
	p.color = color
	p.playState = playStateJoined
	g.lastActive = now

	return g, nil
}

// dropGame removes a completed or cancelled game from the registry.
func (st *store) dropGame(g *game) {
	delete(st.games, g.id)
}

// touchPlayer records traffic from a player, resetting its activity state.
func (st *store) touchPlayer(p *player, now time.Time) {
	p.lastActive = now
	p.activityState = activityActive
}

// touchGame records traffic against a game.
func (st *store) touchGame(g *game, now time.Time) {
	g.lastActive = now
	g.activityState = activityActive
}

// checkInvariants verifies the cross-entity invariants that must hold
// between handler invocations. A violation is a programmer error.
func (st *store) checkInvariants() {
	for id, p := range st.players {
		if p.id != id {
			panic("store: player index corrupt for " + id)
		}
		if st.handles[p.handle] != p {
			panic("store: handle index corrupt for " + p.handle)
		}
		if p.gameID != "" {
			g := st.games[p.gameID]
			if g == nil {
				panic("store: player " + p.handle + " references missing game " + p.gameID)
			}
			if g.seatFor(p.id) == nil {
				panic("store: player " + p.handle + " not seated in game " + g.id)
			}
		} else if p.playState != playStateWaiting {
			panic("store: player " + p.handle + " has no game but play state " + p.playState)
		}
	}
	for id, g := range st.games {
		if g.id != id {
			panic("store: game index corrupt for " + id)
		}
		if g.state == gameStateStarted && len(g.table) != g.totalSeats {
			panic("store: started game " + g.id + " has unfilled seats")
		}
	}
	if len(st.players) > st.cfg.registeredPlayerLimit {
		panic("store: registered player limit exceeded")
	}
	if len(st.games) > st.cfg.totalGameLimit {
		panic("store: total game limit exceeded")
	}
	if st.inProgressGames() > st.cfg.inProgressGameLimit {
		panic("store: in-progress game limit exceeded")
	}
}
