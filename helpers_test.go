package main

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// The coordinator tests drive dispatch() directly: events are handed to the
// loop body synchronously, outbound frames accumulate in each fake client's
// send buffer, and the clock is a variable the test advances by hand.

type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) now() time.Time {
	return f.t
}

func (f *fakeClock) advance(d time.Duration) {
	f.t = f.t.Add(d)
}

func newTestConfig() *Config {
	return &Config{
		bind:                       "127.0.0.1",
		port:                       8080,
		closeTimeout:               10 * time.Second,
		websocketLimit:             10,
		registeredPlayerLimit:      10,
		totalGameLimit:             10,
		inProgressGameLimit:        10,
		websocketIdleThreshold:     2 * time.Minute,
		websocketInactiveThreshold: 5 * time.Minute,
		playerIdleThreshold:        15 * time.Minute,
		playerInactiveThreshold:    30 * time.Minute,
		gameIdleThreshold:          10 * time.Minute,
		gameInactiveThreshold:      20 * time.Minute,
		gameRetentionThreshold:     30 * time.Minute,
		messageScope:               messageScopeServer,
	}
}

func newTestServer(cfg *Config) (*server, *fakeClock) {
	s := newServer(cfg)
	clock := newFakeClock()
	s.now = clock.now
	return s, clock
}

// connect creates a fake client (no socket) already tracked by the store.
func connect(s *server) *client {
	c := &client{
		send: make(chan []byte, 256),
		key:  "test",
	}
	s.dispatch(connectEvent{c: c})
	return c
}

type recvFrame struct {
	Message string          `json:"message"`
	Context json.RawMessage `json:"context"`
}

func makeFrame(t *testing.T, kind, auth string, context any) []byte {
	t.Helper()

	frame := map[string]any{"message": kind}
	if auth != "" {
		frame["authorization"] = authScheme + auth
	}
	if context != nil {
		frame["context"] = context
	}

	buf, err := json.Marshal(frame)
	require.NoError(t, err)
	return buf
}

func send(t *testing.T, s *server, c *client, kind, auth string, context any) {
	t.Helper()
	s.dispatch(requestEvent{c: c, data: makeFrame(t, kind, auth, context)})
}

// drain empties a client's send buffer and decodes every frame.
func drain(t *testing.T, c *client) []recvFrame {
	t.Helper()

	var out []recvFrame
	for {
		select {
		case buf, ok := <-c.send:
			if !ok {
				return out
			}
			var frame recvFrame
			require.NoError(t, json.Unmarshal(buf, &frame))
			out = append(out, frame)
		default:
			return out
		}
	}
}

// find returns the first frame of the given kind, or nil.
func find(frames []recvFrame, kind string) *recvFrame {
	for i := range frames {
		if frames[i].Message == kind {
			return &frames[i]
		}
	}
	return nil
}

func count(frames []recvFrame, kind string) int {
	n := 0
	for i := range frames {
		if frames[i].Message == kind {
			n++
		}
	}
	return n
}

func decodeContext[T any](t *testing.T, frame *recvFrame) T {
	t.Helper()

	var out T
	require.NotNil(t, frame)
	require.NoError(t, json.Unmarshal(frame.Context, &out))
	return out
}

// register runs a REGISTER_PLAYER round trip and returns the issued id.
func register(t *testing.T, s *server, c *client, handle string) string {
	t.Helper()

	send(t, s, c, reqRegisterPlayer, "", registerPlayerContext{Handle: handle})

	frames := drain(t, c)
	registered := find(frames, evPlayerRegistered)
	require.NotNil(t, registered, "expected PLAYER_REGISTERED, got %v", frames)

	ctx := decodeContext[playerRegisteredContext](t, registered)
	require.NotEmpty(t, ctx.PlayerID)
	return ctx.PlayerID
}

// requireFailure asserts that the only response was REQUEST_FAILED with the
// given reason.
func requireFailure(t *testing.T, frames []recvFrame, reason failureReason) {
	t.Helper()

	failed := find(frames, evRequestFailed)
	require.NotNil(t, failed, "expected REQUEST_FAILED, got %v", frames)

	ctx := decodeContext[requestFailedContext](t, failed)
	require.Equal(t, reason, ctx.Reason)
}

// advertise creates a game and returns its id.
func advertise(t *testing.T, s *server, c *client, auth string, spec advertiseGameContext) string {
	t.Helper()

	send(t, s, c, reqAdvertiseGame, auth, spec)

	frames := drain(t, c)
	advertised := find(frames, evGameAdvertised)
	require.NotNil(t, advertised, "expected GAME_ADVERTISED, got %v", frames)

	ctx := decodeContext[gameAdvertisedContext](t, advertised)
	require.NotEmpty(t, ctx.Game.GameID)
	return ctx.Game.GameID
}

func publicGame(name string, seats int) advertiseGameContext {
	return advertiseGameContext{
		Name:       name,
		Mode:       modeStandard,
		Players:    seats,
		Visibility: visibilityPublic,
	}
}
