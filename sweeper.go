package main

import (
	"context"
	"time"
)

type sweepKind int

const (
	sweepWebsocket sweepKind = iota
	sweepPlayer
	sweepGame
	sweepObsolete
	sweepKindCount
)

func (k sweepKind) String() string {
	switch k {
	case sweepWebsocket:
		return "idle-websocket"
	case sweepPlayer:
		return "idle-player"
	case sweepGame:
		return "idle-game"
	case sweepObsolete:
		return "obsolete-game"
	}
	return "unknown"
}

// startSweepers launches one timer goroutine per sweep. The timers never
// touch state themselves; each tick is an event in the coordinator mailbox,
// and a tick that fires while the previous one is still queued is coalesced.
func (s *server) startSweepers(ctx context.Context) {
	type schedule struct {
		kind   sweepKind
		delay  time.Duration
		period time.Duration
	}

	for _, sched := range []schedule{
		{sweepWebsocket, s.cfg.idleWebsocketCheckDelay, s.cfg.idleWebsocketCheckPeriod},
		{sweepPlayer, s.cfg.idlePlayerCheckDelay, s.cfg.idlePlayerCheckPeriod},
		{sweepGame, s.cfg.idleGameCheckDelay, s.cfg.idleGameCheckPeriod},
		{sweepObsolete, s.cfg.obsoleteGameCheckDelay, s.cfg.obsoleteGameCheckPeriod},
	} {
		go s.runSweeper(ctx, sched.kind, sched.delay, sched.period)
	}
}

func (s *server) runSweeper(ctx context.Context, kind sweepKind, delay, period time.Duration) {
	select {
	case <-time.After(delay):
	case <-ctx.Done():
		return
	case <-s.done:
		return
	}

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if s.sweepPending[kind].CompareAndSwap(false, true) {
				s.enqueue(sweepEvent{kind: kind})
			}
		case <-ctx.Done():
			return
		case <-s.done:
			return
		}
	}
}

func (s *server) handleSweep(kind sweepKind) {
	switch kind {
	case sweepWebsocket:
		s.sweepConnections()
	case sweepPlayer:
		s.sweepPlayers()
	case sweepGame:
		s.sweepGames()
	case sweepObsolete:
		s.sweepObsoleteGames()
	}
}

// sweepConnections warns idle connections and force-closes inactive ones.
func (s *server) sweepConnections() {
	now := s.now()
	for c := range s.store.clients {
		gap := now.Sub(c.lastActive)
		switch {
		case gap >= s.cfg.websocketInactiveThreshold:
			logf(s.cfg, "SWEEP: Closing inactive connection %s", c.key)
			s.sendEvent(c, evWebsocketInactive, nil)
			s.handleDisconnect(c)
		case gap >= s.cfg.websocketIdleThreshold && !c.warnedIdle:
			c.warnedIdle = true
			s.sendEvent(c, evWebsocketIdle, nil)
		}
	}
}

// sweepPlayers walks activity thresholds for every registered player.
// Crossing the inactive threshold (or lingering disconnected past the idle
// threshold) unregisters the player through the same cascade as a quit.
func (s *server) sweepPlayers() {
	now := s.now()
	for _, p := range s.store.players {
		gap := now.Sub(p.lastActive)
		disconnected := p.connState == connStateDisconnected

		inactive := gap >= s.cfg.playerInactiveThreshold ||
			(disconnected && gap >= s.cfg.playerIdleThreshold)

		switch {
		case inactive:
			logf(s.cfg, "SWEEP: Unregistering inactive player %q", p.handle)
			p.activityState = activityInactive
			s.sendToPlayer(p, evPlayerInactive, nil)
			s.removeFromGame(p, seatQuit, true)
			s.store.dropPlayer(p)
			s.playerCount.Store(int64(len(s.store.players)))
		case gap >= s.cfg.playerIdleThreshold && p.activityState == activityActive:
			logf(s.cfg, "SWEEP: Player %q is idle", p.handle)
			p.activityState = activityIdle
			s.sendToPlayer(p, evPlayerIdle, nil)
		}
	}
}

// sweepGames warns idle games and cancels inactive ones.
func (s *server) sweepGames() {
	now := s.now()
	for _, g := range s.store.games {
		if !g.inProgress() {
			continue
		}
		gap := now.Sub(g.lastActive)
		switch {
		case gap >= s.cfg.gameInactiveThreshold:
			logf(s.cfg, "SWEEP: Cancelling inactive game %q", g.name)
			g.activityState = activityInactive
			s.broadcastGame(g, evGameInactive, gameIdleContext{GameID: g.id})
			s.cancelGame(g, reasonInactiveGame, "cancelled for inactivity")
		case gap >= s.cfg.gameIdleThreshold && g.activityState == activityActive:
			logf(s.cfg, "SWEEP: Game %q is idle", g.name)
			g.activityState = activityIdle
			s.broadcastGame(g, evGameIdle, gameIdleContext{GameID: g.id})
		}
	}
}

// sweepObsoleteGames purges completed and cancelled games past the retention
// threshold.
func (s *server) sweepObsoleteGames() {
	now := s.now()
	for _, g := range s.store.games {
		if g.inProgress() {
			continue
		}
		if now.Sub(g.completed) >= s.cfg.gameRetentionThreshold {
			logf(s.cfg, "SWEEP: Purging %s game %q", g.state, g.name)
			s.store.dropGame(g)
			s.gameCount.Store(int64(len(s.store.games)))
		}
	}
}
