package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlayerIdleThenInactive(t *testing.T) {
	cfg := newTestConfig()
	cfg.playerIdleThreshold = time.Minute
	cfg.playerInactiveThreshold = 2 * time.Minute
	s, clock := newTestServer(cfg)

	c := connect(s)
	register(t, s, c, "leela")

	clock.advance(61 * time.Second)
	s.dispatch(sweepEvent{kind: sweepPlayer})

	require.NotNil(t, find(drain(t, c), evPlayerIdle))
	assert.Equal(t, activityIdle, s.store.playerByHandle("leela").activityState)

	clock.advance(61 * time.Second)
	s.dispatch(sweepEvent{kind: sweepPlayer})

	require.NotNil(t, find(drain(t, c), evPlayerInactive))
	assert.Nil(t, s.store.playerByHandle("leela"), "inactive players are unregistered")

	// The handle is available again.
	register(t, s, c, "leela")
}

func TestPlayerIdleBoundary(t *testing.T) {
	cfg := newTestConfig()
	cfg.playerIdleThreshold = time.Minute
	cfg.playerInactiveThreshold = 2 * time.Minute
	s, clock := newTestServer(cfg)

	c := connect(s)
	register(t, s, c, "leela")

	clock.advance(time.Minute - time.Millisecond)
	s.dispatch(sweepEvent{kind: sweepPlayer})
	assert.Nil(t, find(drain(t, c), evPlayerIdle), "below the threshold nothing fires")

	clock.advance(2 * time.Millisecond)
	s.dispatch(sweepEvent{kind: sweepPlayer})
	assert.NotNil(t, find(drain(t, c), evPlayerIdle))
}

func TestPlayerTrafficResetsActivity(t *testing.T) {
	cfg := newTestConfig()
	cfg.playerIdleThreshold = time.Minute
	cfg.playerInactiveThreshold = 2 * time.Minute
	s, clock := newTestServer(cfg)

	c := connect(s)
	id := register(t, s, c, "leela")

	clock.advance(61 * time.Second)
	s.dispatch(sweepEvent{kind: sweepPlayer})
	drain(t, c)

	send(t, s, c, reqListPlayers, id, nil)
	drain(t, c)
	assert.Equal(t, activityActive, s.store.playerByHandle("leela").activityState)

	clock.advance(61 * time.Second)
	s.dispatch(sweepEvent{kind: sweepPlayer})
	assert.NotNil(t, find(drain(t, c), evPlayerIdle), "the idle clock restarts from the request")
	assert.NotNil(t, s.store.playerByHandle("leela"))
}

func TestDisconnectedPlayerReapedAtIdleThreshold(t *testing.T) {
	cfg := newTestConfig()
	cfg.playerIdleThreshold = time.Minute
	cfg.playerInactiveThreshold = 10 * time.Minute
	s, clock := newTestServer(cfg)

	c := connect(s)
	register(t, s, c, "leela")
	s.dispatch(disconnectEvent{c: c})

	clock.advance(61 * time.Second)
	s.dispatch(sweepEvent{kind: sweepPlayer})

	assert.Nil(t, s.store.playerByHandle("leela"),
		"a disconnected player is reaped at the idle threshold")
}

func TestInactivePlayerCascadesIntoGame(t *testing.T) {
	cfg := newTestConfig()
	cfg.playerIdleThreshold = time.Minute
	cfg.playerInactiveThreshold = 2 * time.Minute
	s, clock := newTestServer(cfg)

	a := connect(s)
	b := connect(s)
	idA := register(t, s, a, "leela")
	idB := register(t, s, b, "fry")

	gameID := advertise(t, s, a, idA, publicGame("duel", 2))
	send(t, s, b, reqJoinGame, idB, joinGameContext{GameID: gameID})
	drain(t, a)
	drain(t, b)

	clock.advance(121 * time.Second)
	s.dispatch(sweepEvent{kind: sweepPlayer})

	assert.Nil(t, s.store.playerByHandle("leela"))
	assert.Nil(t, s.store.playerByHandle("fry"))

	g := s.store.gameByID(gameID)
	require.NotNil(t, g, "the cancelled game is retained for retrieval")
	assert.Equal(t, gameStateCancelled, g.state)
	assert.Equal(t, reasonNotViable, g.reason)
}

func TestGameIdleThenInactive(t *testing.T) {
	cfg := newTestConfig()
	cfg.gameIdleThreshold = time.Minute
	cfg.gameInactiveThreshold = 2 * time.Minute
	s, clock := newTestServer(cfg)

	a := connect(s)
	idA := register(t, s, a, "leela")
	gameID := advertise(t, s, a, idA, publicGame("slow", 4))
	drain(t, a)

	clock.advance(61 * time.Second)
	s.dispatch(sweepEvent{kind: sweepGame})

	require.NotNil(t, find(drain(t, a), evGameIdle))
	assert.Equal(t, activityIdle, s.store.gameByID(gameID).activityState)

	clock.advance(61 * time.Second)
	s.dispatch(sweepEvent{kind: sweepGame})

	frames := drain(t, a)
	require.NotNil(t, find(frames, evGameInactive))
	cancelled := find(frames, evGameCancelled)
	require.NotNil(t, cancelled)
	assert.Equal(t, reasonInactiveGame, decodeContext[gameCancelledContext](t, cancelled).Reason)
	assert.Equal(t, gameStateCancelled, s.store.gameByID(gameID).state)
}

func TestObsoleteGamePurge(t *testing.T) {
	cfg := newTestConfig()
	cfg.gameRetentionThreshold = 10 * time.Minute
	s, clock := newTestServer(cfg)

	a := connect(s)
	idA := register(t, s, a, "leela")
	gameID := advertise(t, s, a, idA, publicGame("brief", 4))
	send(t, s, a, reqCancelGame, idA, nil)
	drain(t, a)

	clock.advance(9 * time.Minute)
	s.dispatch(sweepEvent{kind: sweepObsolete})
	assert.NotNil(t, s.store.gameByID(gameID), "retained until the threshold")

	clock.advance(2 * time.Minute)
	s.dispatch(sweepEvent{kind: sweepObsolete})
	assert.Nil(t, s.store.gameByID(gameID))
}

func TestConnectionIdleWarningAndClose(t *testing.T) {
	cfg := newTestConfig()
	cfg.websocketIdleThreshold = time.Minute
	cfg.websocketInactiveThreshold = 2 * time.Minute
	s, clock := newTestServer(cfg)

	c := connect(s)

	clock.advance(61 * time.Second)
	s.dispatch(sweepEvent{kind: sweepWebsocket})
	require.NotNil(t, find(drain(t, c), evWebsocketIdle))

	// The warning is sent once.
	s.dispatch(sweepEvent{kind: sweepWebsocket})
	assert.Nil(t, find(drain(t, c), evWebsocketIdle))

	clock.advance(61 * time.Second)
	s.dispatch(sweepEvent{kind: sweepWebsocket})

	frames := drain(t, c)
	require.NotNil(t, find(frames, evWebsocketInactive))
	_, tracked := s.store.clients[c]
	assert.False(t, tracked, "the inactive connection is dropped")
}

func TestConnectionCloseDisconnectsBoundPlayer(t *testing.T) {
	cfg := newTestConfig()
	cfg.websocketIdleThreshold = time.Minute
	cfg.websocketInactiveThreshold = 2 * time.Minute
	s, clock := newTestServer(cfg)

	c := connect(s)
	register(t, s, c, "leela")

	clock.advance(121 * time.Second)
	s.dispatch(sweepEvent{kind: sweepWebsocket})

	p := s.store.playerByHandle("leela")
	require.NotNil(t, p)
	assert.Equal(t, connStateDisconnected, p.connState)
	assert.Nil(t, p.conn)
}

func TestSweepTickCoalescing(t *testing.T) {
	s, _ := newTestServer(newTestConfig())

	require.True(t, s.sweepPending[sweepPlayer].CompareAndSwap(false, true),
		"first tick is accepted")
	require.False(t, s.sweepPending[sweepPlayer].CompareAndSwap(false, true),
		"a second tick while one is outstanding is coalesced")

	s.dispatch(sweepEvent{kind: sweepPlayer})
	require.True(t, s.sweepPending[sweepPlayer].CompareAndSwap(false, true),
		"processing the tick clears the pending flag")
}
