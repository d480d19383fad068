package main

import (
	"encoding/json"
	"fmt"
	"sort"
)

// handleRequest decodes one inbound frame and runs the matching handler to
// completion. Validation failures emit a single REQUEST_FAILED and leave the
// store untouched; undecodable frames are transport errors and drop the
// connection.
func (s *server) handleRequest(c *client, data []byte) {
	if len(data) > maxFrameBytes {
		s.failRequest(c, failf(reasonMessageTooLarge, "frame exceeds %d bytes", maxFrameBytes))
		return
	}

	var frame requestFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		logf(s.cfg, "SERVE: Dropping connection %s: undecodable frame: %v", c.key, err)
		s.handleDisconnect(c)
		return
	}

	if frame.Message == reqRegisterPlayer {
		s.handleRegisterPlayer(c, frame)
		return
	}

	if frame.Message == reqReregisterPlayer {
		s.handleReregisterPlayer(c, frame)
		return
	}

	p := s.authorize(c, frame)
	if p == nil {
		return
	}
	s.store.touchPlayer(p, s.now())

	switch frame.Message {
	case reqUnregisterPlayer:
		s.handleUnregisterPlayer(c, p)
	case reqListPlayers:
		s.handleListPlayers(c)
	case reqAdvertiseGame:
		s.handleAdvertiseGame(c, p, frame)
	case reqListAvailableGames:
		s.handleListAvailableGames(c, p)
	case reqJoinGame:
		s.handleJoinGame(c, p, frame)
	case reqQuitGame:
		s.handleQuitGame(c, p)
	case reqStartGame:
		s.handleStartGame(c, p)
	case reqCancelGame:
		s.handleCancelGame(c, p)
	case reqExecuteMove:
		s.handleExecuteMove(c, p, frame)
	case reqRetrieveGameState:
		s.handleRetrieveGameState(c, p, frame)
	case reqSendMessage:
		s.handleSendMessage(c, p, frame)
	default:
		s.failRequest(c, failf(reasonInvalidRequest, "unrecognized message %q", frame.Message))
	}
}

// authorize resolves the credential on an authenticated frame. Identity is
// possession of the player id, but requests must arrive over the connection
// the player is bound to.
func (s *server) authorize(c *client, frame requestFrame) *player {
	id := frame.playerID()
	if id == "" {
		s.failRequest(c, failf(reasonNotAuthorized, "missing or malformed authorization"))
		return nil
	}
	p := s.store.playerByID(id)
	if p == nil {
		s.failRequest(c, failf(reasonNotAuthorized, "unknown player id"))
		return nil
	}
	if p.conn != c {
		s.failRequest(c, failf(reasonNotAuthorized, "connection is not bound to this player"))
		return nil
	}
	return p
}

func (s *server) handleRegisterPlayer(c *client, frame requestFrame) {
	if c.playerID != "" {
		s.failRequest(c, failf(reasonInvalidRequest, "connection is already bound to a player"))
		return
	}

	var ctx registerPlayerContext
	if err := json.Unmarshal(frame.Context, &ctx); err != nil {
		s.failRequest(c, failf(reasonInvalidRequest, "malformed context"))
		return
	}

	p, err := s.store.registerPlayer(ctx.Handle, c, s.now())
	if err != nil {
		s.failRequest(c, err)
		return
	}
	s.playerCount.Store(int64(len(s.store.players)))

	logf(s.cfg, "PLAYERS: %q registered", p.handle)
	s.sendEvent(c, evPlayerRegistered, playerRegisteredContext{
		PlayerID: p.id,
		Handle:   p.handle,
	})
}

func (s *server) handleReregisterPlayer(c *client, frame requestFrame) {
	id := frame.playerID()
	if id == "" {
		s.failRequest(c, failf(reasonNotAuthorized, "missing or malformed authorization"))
		return
	}

	p, err := s.store.bindReregister(id, c, s.now())
	if err != nil {
		s.failRequest(c, err)
		return
	}

	logf(s.cfg, "PLAYERS: %q reregistered", p.handle)
	s.sendEvent(c, evPlayerRegistered, playerRegisteredContext{
		PlayerID: p.id,
		Handle:   p.handle,
	})
}

func (s *server) handleUnregisterPlayer(c *client, p *player) {
	s.removeFromGame(p, seatQuit, true)
	handle := p.handle
	s.store.dropPlayer(p)
	s.playerCount.Store(int64(len(s.store.players)))

	logf(s.cfg, "PLAYERS: %q unregistered", handle)
	s.sendEvent(c, evPlayerUnregistered, playerUnregisteredContext{Handle: handle})
}

func (s *server) handleListPlayers(c *client) {
	s.sendEvent(c, evRegisteredPlayers, registeredPlayersContext{
		Players: s.describePlayers(),
	})
}

func (s *server) handleAdvertiseGame(c *client, p *player, frame requestFrame) {
	var ctx advertiseGameContext
	if err := json.Unmarshal(frame.Context, &ctx); err != nil {
		s.failRequest(c, failf(reasonInvalidRequest, "malformed context"))
		return
	}

	g, err := s.store.createGame(p, ctx, s.now())
	if err != nil {
		s.failRequest(c, err)
		return
	}
	s.gameCount.Store(int64(len(s.store.games)))

	logf(s.cfg, "GAMES: %q advertised %q (%s, %d seats, %s)", p.handle, g.name, g.mode, g.totalSeats, g.visibility)

	described := s.describeGame(g)
	s.sendEvent(c, evGameAdvertised, gameAdvertisedContext{Game: described})

	for _, handle := range g.invited {
		invited := s.store.playerByHandle(handle)
		if invited == nil || invited == p {
			continue
		}
		s.sendToPlayer(invited, evGameInvitation, gameInvitationContext{Game: described})
	}
}

func (s *server) handleListAvailableGames(c *client, p *player) {
	games := make([]advertisedGame, 0)
	for _, g := range s.store.games {
		if g.state != gameStateAdvertised {
			continue
		}
		if g.visibility == visibilityPrivate && g.advertiserID != p.id && !g.invitedHandle(p.handle) {
			continue
		}
		games = append(games, s.describeGame(g))
	}
	sort.Slice(games, func(i, j int) bool {
		return games[i].GameID < games[j].GameID
	})

	s.sendEvent(c, evAvailableGames, availableGamesContext{Games: games})
}

func (s *server) handleJoinGame(c *client, p *player, frame requestFrame) {
	var ctx joinGameContext
	if err := json.Unmarshal(frame.Context, &ctx); err != nil {
		s.failRequest(c, failf(reasonInvalidRequest, "malformed context"))
		return
	}

	g, err := s.store.joinGame(p, ctx.GameID, s.now())
	if err != nil {
		s.failRequest(c, err)
		return
	}

	logf(s.cfg, "GAMES: %q joined %q as %s", p.handle, g.name, p.color)

	advertiserHandle := ""
	if adv := s.store.playerByID(g.advertiserID); adv != nil {
		advertiserHandle = adv.handle
	}
	s.sendEvent(c, evGameJoined, gameJoinedContext{
		GameID:           g.id,
		Name:             g.name,
		Mode:             g.mode,
		AdvertiserHandle: advertiserHandle,
	})

	if len(g.table) == g.totalSeats {
		s.startGame(g)
		return
	}

	s.broadcastGame(g, evGamePlayerChange, gamePlayerChangeContext{
		GameID:  g.id,
		Comment: fmt.Sprintf("%s joined the game", p.handle),
		Players: s.describeSeats(g),
	})
}

func (s *server) handleStartGame(c *client, p *player) {
	g := s.store.gameByID(p.gameID)
	if g == nil {
		s.failRequest(c, failf(reasonInvalidGame, "you are not in a game"))
		return
	}
	if g.advertiserID != p.id {
		s.failRequest(c, failf(reasonNotAdvertiser, "only the advertiser may start the game"))
		return
	}
	if g.state != gameStateAdvertised {
		s.failRequest(c, failf(reasonInvalidGameState, "game is %s", g.state))
		return
	}

	s.store.touchGame(g, s.now())
	s.startGame(g)
}

func (s *server) handleCancelGame(c *client, p *player) {
	g := s.store.gameByID(p.gameID)
	if g == nil {
		s.failRequest(c, failf(reasonInvalidGame, "you are not in a game"))
		return
	}
	if g.advertiserID != p.id {
		s.failRequest(c, failf(reasonNotAdvertiser, "only the advertiser may cancel the game"))
		return
	}
	if !g.inProgress() {
		s.failRequest(c, failf(reasonInvalidGameState, "game is %s", g.state))
		return
	}

	s.cancelGame(g, reasonCancelled, fmt.Sprintf("cancelled by %s", p.handle))
}

func (s *server) handleQuitGame(c *client, p *player) {
	g := s.store.gameByID(p.gameID)
	if g == nil {
		s.failRequest(c, failf(reasonInvalidGame, "you are not in a game"))
		return
	}
	if !g.inProgress() {
		s.failRequest(c, failf(reasonInvalidGameState, "game is %s", g.state))
		return
	}

	logf(s.cfg, "GAMES: %q quit %q", p.handle, g.name)
	s.store.touchGame(g, s.now())
	s.removeFromGame(p, seatQuit, true)
}

func (s *server) handleExecuteMove(c *client, p *player, frame requestFrame) {
	var ctx executeMoveContext
	if err := json.Unmarshal(frame.Context, &ctx); err != nil {
		s.failRequest(c, failf(reasonInvalidRequest, "malformed context"))
		return
	}

	g := s.store.gameByID(p.gameID)
	if g == nil {
		s.failRequest(c, failf(reasonInvalidGame, "you are not in a game"))
		return
	}
	if g.state != gameStateStarted {
		s.failRequest(c, failf(reasonInvalidGameState, "game is %s", g.state))
		return
	}
	st := g.seatFor(p.id)
	if st == nil || st.state != seatPlaying || g.engine.currentColor() != p.color {
		s.failRequest(c, failf(reasonNotYourTurn, "it is not your turn"))
		return
	}

	next, _, err := engineApply(g.engine, ctx.MoveID)
	if err != nil {
		s.failRequest(c, failf(reasonIllegalMove, "%v", err))
		return
	}

	g.engine = next
	s.store.touchGame(g, s.now())
	s.broadcastGameViews(g)
	s.advanceGame(g)
}

func (s *server) handleRetrieveGameState(c *client, p *player, frame requestFrame) {
	var ctx joinGameContext
	if len(frame.Context) > 0 {
		if err := json.Unmarshal(frame.Context, &ctx); err != nil {
			s.failRequest(c, failf(reasonInvalidRequest, "malformed context"))
			return
		}
	}

	gameID := ctx.GameID
	if gameID == "" {
		gameID = p.gameID
	}

	g := s.store.gameByID(gameID)
	if g == nil {
		s.failRequest(c, failf(reasonInvalidGame, "no such game"))
		return
	}
	if g.engine == nil {
		s.failRequest(c, failf(reasonInvalidGameState, "game has not started"))
		return
	}

	// Completed and cancelled games remain retrievable until the obsolete
	// sweep purges them.
	color := p.color
	if st := g.seatFor(p.id); st != nil {
		color = st.color
	}
	s.sendEvent(c, evGameStateChange, gameStateChangeContext{
		GameID: g.id,
		State:  enginePlayerView(g.engine, color),
	})
}

func (s *server) handleSendMessage(c *client, p *player, frame requestFrame) {
	var ctx sendMessageContext
	if err := json.Unmarshal(frame.Context, &ctx); err != nil {
		s.failRequest(c, failf(reasonInvalidRequest, "malformed context"))
		return
	}
	if ctx.Message == "" || len(ctx.Recipients) == 0 {
		s.failRequest(c, failf(reasonInvalidRequest, "message and recipient_handles are required"))
		return
	}

	payload := playerMessageReceivedContext{
		SenderHandle:     p.handle,
		RecipientHandles: ctx.Recipients,
		Message:          ctx.Message,
	}

	// Unknown and disconnected recipients are dropped without feedback.
	for _, handle := range ctx.Recipients {
		recipient := s.store.playerByHandle(handle)
		if recipient == nil || recipient.connState != connStateConnected {
			continue
		}
		if s.cfg.messageScope == messageScopeGame && (p.gameID == "" || recipient.gameID != p.gameID) {
			continue
		}
		s.sendToPlayer(recipient, evPlayerMessageReceived, payload)
	}
}

// ---- Game lifecycle ----

// startGame converts unfilled seats to programmatic ones, initializes the
// engine, and moves every human seat into play.
func (s *server) startGame(g *game) {
	for len(g.table) < g.totalSeats {
		g.table = append(g.table, seat{
			color: g.freeColor(),
			state: seatPlaying,
		})
	}

	colors := make([]seatColor, 0, len(g.table))
	for i := range g.table {
		colors = append(colors, g.table[i].color)
	}

	now := s.now()
	g.engine = engineStart(colors, g.mode)
	g.state = gameStateStarted
	g.started = now
	g.lastActive = now

	for i := range g.table {
		st := &g.table[i]
		if st.programmatic() {
			continue
		}
		if st.state == seatJoined {
			st.state = seatPlaying
		}
		if p := s.store.playerByID(st.playerID); p != nil && st.state == seatPlaying {
			p.playState = playStatePlaying
		}
		// Seats whose player disconnected while the game was advertised
		// start forfeited.
		if st.state == seatDisconnected {
			g.engine = engineForfeit(g.engine, st.color)
		}
	}

	logf(s.cfg, "GAMES: %q started with %d humans", g.name, g.humanSeats())

	s.broadcastGame(g, evGameStarted, gameStartedContext{GameID: g.id})
	s.broadcastGame(g, evGamePlayerChange, gamePlayerChangeContext{
		GameID:  g.id,
		Players: s.describeSeats(g),
	})
	s.broadcastGameViews(g)
	s.advanceGame(g)
}

// advanceGame drives the game forward from the current engine state:
// programmatic turns are executed inline (each with its own state broadcast)
// until a human holds the turn or the game completes.
func (s *server) advanceGame(g *game) {
	for {
		if g.engine.Over {
			s.completeGame(g)
			return
		}

		color := g.engine.currentColor()
		st := g.seatByColor(color)
		if st == nil {
			s.cancelGame(g, reasonNotViable, fmt.Sprintf("engine turned to unseated color %s", color))
			return
		}

		if !st.programmatic() {
			s.promptTurn(g, st)
			return
		}

		moves := engineLegalMoves(g.engine)
		if len(moves) == 0 {
			s.cancelGame(g, reasonNotViable, fmt.Sprintf("engine produced no moves for %s", color))
			return
		}
		next, _, err := engineApply(g.engine, chooseProgrammaticMove(moves).ID)
		if err != nil {
			s.cancelGame(g, reasonNotViable, fmt.Sprintf("engine failure: %v", err))
			return
		}
		g.engine = next
		s.broadcastGameViews(g)
	}
}

func (s *server) promptTurn(g *game, st *seat) {
	p := s.store.playerByID(st.playerID)
	if p == nil {
		return
	}

	moves := engineLegalMoves(g.engine)
	infos := make([]moveInfo, 0, len(moves))
	for _, m := range moves {
		infos = append(infos, m.info())
	}

	s.sendToPlayer(p, evGamePlayerTurn, gamePlayerTurnContext{
		GameID:    g.id,
		Handle:    p.handle,
		Color:     string(st.color),
		DrawnCard: string(g.engine.Drawn),
		Moves:     infos,
	})
}

// completeGame finishes a game the engine reports as over.
func (s *server) completeGame(g *game) {
	winnerHandle := ""
	if g.engine.Winner != "" {
		if st := g.seatByColor(g.engine.Winner); st != nil && !st.programmatic() {
			if p := s.store.playerByID(st.playerID); p != nil {
				winnerHandle = p.handle
			}
		}
	}

	now := s.now()
	g.state = gameStateCompleted
	g.reason = reasonWon
	g.completed = now
	g.lastActive = now
	g.comment = fmt.Sprintf("game won by %s", g.engine.Winner)

	for i := range g.table {
		if g.table[i].state == seatPlaying {
			g.table[i].state = seatFinished
		}
	}

	logf(s.cfg, "GAMES: %q completed, won by %s", g.name, g.engine.Winner)

	s.broadcastGame(g, evGameCompleted, gameCompletedContext{
		GameID:       g.id,
		WinnerHandle: winnerHandle,
		Comment:      g.comment,
	})

	s.detachPlayers(g)
}

// cancelGame cancels an advertised or started game and releases its players.
func (s *server) cancelGame(g *game, reason, comment string) {
	if !g.inProgress() {
		return
	}

	now := s.now()
	g.state = gameStateCancelled
	g.reason = reason
	g.comment = comment
	g.completed = now
	g.lastActive = now

	logf(s.cfg, "GAMES: %q cancelled (%s): %s", g.name, reason, comment)

	s.broadcastGame(g, evGameCancelled, gameCancelledContext{
		GameID:  g.id,
		Reason:  reason,
		Comment: comment,
	})

	s.detachPlayers(g)
}

// detachPlayers clears current-game pointers once a game is finished. The
// seat table keeps its final states for retrieval until the obsolete sweep.
func (s *server) detachPlayers(g *game) {
	for i := range g.table {
		if g.table[i].programmatic() {
			continue
		}
		p := s.store.playerByID(g.table[i].playerID)
		if p == nil || p.gameID != g.id {
			continue
		}
		p.gameID = ""
		p.color = ""
		p.playState = playStateWaiting
	}
}

// removeFromGame is the shared cascade behind quit, unregister, disconnect,
// and inactivity: flag the seat, notify the others, then re-evaluate whether
// the game can continue. detach releases the player's current-game pointer
// (quit/unregister); a bare disconnect keeps the player seated.
func (s *server) removeFromGame(p *player, seatState string, detach bool) {
	g := s.store.gameByID(p.gameID)
	if g == nil {
		p.gameID = ""
		p.color = ""
		p.playState = playStateWaiting
		return
	}
	if !g.inProgress() {
		s.detachPlayers(g)
		return
	}

	st := g.seatFor(p.id)
	if st == nil {
		p.gameID = ""
		p.color = ""
		p.playState = playStateWaiting
		return
	}
	st.state = seatState
	color := st.color

	if detach {
		p.gameID = ""
		p.color = ""
		p.playState = playStateWaiting
	} else if p.playState == playStatePlaying {
		p.playState = playStateJoined
	}

	if g.state == gameStateAdvertised {
		if p.id == g.advertiserID && detach {
			s.cancelGame(g, reasonNotViable, fmt.Sprintf("advertiser %s left the game", p.handle))
			return
		}
		if detach {
			// Free the seat so another player can take it.
			for i := range g.table {
				if g.table[i].playerID == p.id {
					g.table = append(g.table[:i], g.table[i+1:]...)
					break
				}
			}
		}
		s.broadcastGame(g, evGamePlayerChange, gamePlayerChangeContext{
			GameID:  g.id,
			Comment: fmt.Sprintf("%s left the game", p.handle),
			Players: s.describeSeats(g),
		})
		return
	}

	s.broadcastGame(g, evGamePlayerChange, gamePlayerChangeContext{
		GameID:  g.id,
		Comment: fmt.Sprintf("%s is %s", p.handle, seatState),
		Players: s.describeSeats(g),
	})

	if !g.viable() {
		s.cancelGame(g, reasonNotViable, "not enough active players remain")
		return
	}

	hadTurn := g.engine.currentColor() == color
	g.engine = engineForfeit(g.engine, color)
	if hadTurn {
		s.broadcastGameViews(g)
		s.advanceGame(g)
	}
}
