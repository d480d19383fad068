package main

import (
	"sort"
	"sync/atomic"
	"time"
)

// The coordinator is the single serialization point: one goroutine consumes
// the mailbox and runs every handler to completion against the store. Socket
// readers, sweeper timers, and the shutdown path only ever enqueue events, so
// no state needs finer locks and every cross-entity transition has a total
// order.

type connectEvent struct {
	c *client
}

type requestEvent struct {
	c    *client
	data []byte
}

type disconnectEvent struct {
	c *client
}

type sweepEvent struct {
	kind sweepKind
}

type shutdownEvent struct {
	done chan struct{}
}

type server struct {
	cfg   *Config
	store *store

	events chan any
	done   chan struct{}

	// now is the clock used for all timestamps and threshold math;
	// tests substitute their own.
	now func() time.Time

	connCount   atomic.Int64
	playerCount atomic.Int64
	gameCount   atomic.Int64

	sweepPending [sweepKindCount]atomic.Bool

	wsURL string
}

func newServer(cfg *Config) *server {
	return &server{
		cfg:    cfg,
		store:  newStore(cfg),
		events: make(chan any, 256),
		done:   make(chan struct{}),
		now:    time.Now,
	}
}

// enqueue submits an event to the mailbox, dropping it once the loop has
// exited.
func (s *server) enqueue(ev any) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

func (s *server) run() {
	defer close(s.done)

	for ev := range s.events {
		if s.dispatch(ev) {
			return
		}
	}
}

// dispatch processes one event to completion. Returns true on shutdown.
func (s *server) dispatch(ev any) bool {
	switch ev := ev.(type) {
	case connectEvent:
		now := s.now()
		ev.c.connected = now
		ev.c.lastActive = now
		s.store.clients[ev.c] = struct{}{}

	case requestEvent:
		if _, tracked := s.store.clients[ev.c]; !tracked {
			break
		}
		ev.c.lastActive = s.now()
		ev.c.warnedIdle = false
		s.handleRequest(ev.c, ev.data)
		s.store.checkInvariants()

	case disconnectEvent:
		s.handleDisconnect(ev.c)
		s.store.checkInvariants()

	case sweepEvent:
		s.handleSweep(ev.kind)
		s.sweepPending[ev.kind].Store(false)
		s.store.checkInvariants()

	case shutdownEvent:
		s.handleShutdown()
		close(ev.done)
		return true
	}

	return false
}

// handleDisconnect tears down a closed connection: the bound player (if any)
// is marked disconnected and its seat cascades through game viability.
func (s *server) handleDisconnect(c *client) {
	if _, tracked := s.store.clients[c]; !tracked {
		return
	}
	delete(s.store.clients, c)
	c.dead = true
	c.shutdown()

	if c.playerID == "" {
		return
	}

	p := s.store.playerByID(c.playerID)
	c.playerID = ""
	if p == nil || p.conn != c {
		return
	}

	p.conn = nil
	p.connState = connStateDisconnected
	logf(s.cfg, "PLAYERS: %q disconnected", p.handle)

	s.removeFromGame(p, seatDisconnected, false)
}

// ---- Dispatcher ----

// Outbound delivery is fire-and-forget: a full send buffer marks the
// connection dead rather than blocking the coordinator, and the resulting
// socket close feeds back in as a disconnect event.

func (s *server) sendEvent(c *client, kind string, context any) {
	if c == nil || c.dead {
		return
	}
	if !c.trySend(encodeEvent(kind, context)) {
		c.dead = true
		c.shutdown()
	}
}

func (s *server) sendToPlayer(p *player, kind string, context any) {
	if p != nil {
		s.sendEvent(p.conn, kind, context)
	}
}

func (s *server) failRequest(c *client, err error) {
	reason := reasonInvalidRequest
	comment := err.Error()
	if re, ok := err.(*reqError); ok {
		reason = re.reason
		comment = re.comment
	}
	s.sendEvent(c, evRequestFailed, requestFailedContext{
		Reason:  reason,
		Comment: comment,
	})
}

func (s *server) broadcastAll(kind string, context any) {
	for c := range s.store.clients {
		s.sendEvent(c, kind, context)
	}
}

// broadcastGame delivers one event to every human seated in a game that is
// currently connected.
func (s *server) broadcastGame(g *game, kind string, context any) {
	for i := range g.table {
		if g.table[i].programmatic() {
			continue
		}
		if p := s.store.playerByID(g.table[i].playerID); p != nil {
			s.sendEvent(p.conn, kind, context)
		}
	}
}

// broadcastGameViews sends each seated connected player its own view of the
// game state.
func (s *server) broadcastGameViews(g *game) {
	for i := range g.table {
		if g.table[i].programmatic() {
			continue
		}
		p := s.store.playerByID(g.table[i].playerID)
		if p == nil {
			continue
		}
		s.sendEvent(p.conn, evGameStateChange, gameStateChangeContext{
			GameID: g.id,
			State:  enginePlayerView(g.engine, g.table[i].color),
		})
	}
}

// ---- Shared payload builders ----

func (s *server) describeGame(g *game) advertisedGame {
	handle := ""
	if adv := s.store.playerByID(g.advertiserID); adv != nil {
		handle = adv.handle
	}
	return advertisedGame{
		GameID:           g.id,
		Name:             g.name,
		Mode:             g.mode,
		AdvertiserHandle: handle,
		Players:          g.totalSeats,
		AvailableSeats:   g.totalSeats - len(g.table),
		Visibility:       g.visibility,
		Invited:          append([]string(nil), g.invited...),
		Advertised:       g.advertised,
	}
}

func (s *server) describeSeats(g *game) []gameSeatInfo {
	seats := make([]gameSeatInfo, 0, len(g.table))
	for i := range g.table {
		info := gameSeatInfo{
			Color: string(g.table[i].color),
			Type:  seatTypeProgrammatic,
			State: g.table[i].state,
		}
		if !g.table[i].programmatic() {
			info.Type = seatTypeHuman
			info.IsAdvertiser = g.table[i].playerID == g.advertiserID
			if p := s.store.playerByID(g.table[i].playerID); p != nil {
				info.Handle = p.handle
			}
		}
		seats = append(seats, info)
	}
	return seats
}

func (s *server) describePlayers() []registeredPlayer {
	players := make([]registeredPlayer, 0, len(s.store.players))
	for _, p := range s.store.players {
		players = append(players, registeredPlayer{
			Handle:           p.handle,
			RegistrationDate: p.registered,
			LastActive:       p.lastActive,
			ConnectionState:  p.connState,
			ActivityState:    p.activityState,
			PlayState:        p.playState,
			GameID:           p.gameID,
		})
	}
	sort.Slice(players, func(i, j int) bool {
		return players[i].Handle < players[j].Handle
	})
	return players
}

// ---- Shutdown ----

// handleShutdown broadcasts the final notice, cancels every in-progress
// game, and releases all connections. The caller stops the listener.
func (s *server) handleShutdown() {
	logf(s.cfg, "SERVE: Shutting down with %d connections, %d players, %d games",
		len(s.store.clients), len(s.store.players), len(s.store.games))

	s.broadcastAll(evServerShutdown, nil)

	for _, g := range s.store.games {
		if g.inProgress() {
			s.cancelGame(g, reasonServerShutdown, "server shutting down")
		}
	}

	for c := range s.store.clients {
		c.shutdown()
	}
}
