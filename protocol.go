package main

import (
	"encoding/json"
	"strings"
	"time"
)

// Every WebSocket frame, in both directions, is one JSON object:
//
//	{"message": "<KIND>", "context": { ... }}
//
// Client frames after REGISTER_PLAYER also carry the issued credential,
// header-style: {"authorization": "Player <player-id>", ...}.

const maxFrameBytes = 64 * 1024

const authScheme = "Player "

// Request kinds (client to server).
const (
	reqRegisterPlayer     = "REGISTER_PLAYER"
	reqReregisterPlayer   = "REREGISTER_PLAYER"
	reqUnregisterPlayer   = "UNREGISTER_PLAYER"
	reqListPlayers        = "LIST_PLAYERS"
	reqAdvertiseGame      = "ADVERTISE_GAME"
	reqListAvailableGames = "LIST_AVAILABLE_GAMES"
	reqJoinGame           = "JOIN_GAME"
	reqQuitGame           = "QUIT_GAME"
	reqStartGame          = "START_GAME"
	reqCancelGame         = "CANCEL_GAME"
	reqExecuteMove        = "EXECUTE_MOVE"
	reqRetrieveGameState  = "RETRIEVE_GAME_STATE"
	reqSendMessage        = "SEND_MESSAGE"
)

// Event kinds (server to client).
const (
	evRequestFailed         = "REQUEST_FAILED"
	evServerShutdown        = "SERVER_SHUTDOWN"
	evRegisteredPlayers     = "REGISTERED_PLAYERS"
	evAvailableGames        = "AVAILABLE_GAMES"
	evPlayerRegistered      = "PLAYER_REGISTERED"
	evPlayerUnregistered    = "PLAYER_UNREGISTERED"
	evPlayerIdle            = "PLAYER_IDLE"
	evPlayerInactive        = "PLAYER_INACTIVE"
	evPlayerMessageReceived = "PLAYER_MESSAGE_RECEIVED"
	evGameAdvertised        = "GAME_ADVERTISED"
	evGameInvitation        = "GAME_INVITATION"
	evGameJoined            = "GAME_JOINED"
	evGameStarted           = "GAME_STARTED"
	evGameCancelled         = "GAME_CANCELLED"
	evGameCompleted         = "GAME_COMPLETED"
	evGameIdle              = "GAME_IDLE"
	evGameInactive          = "GAME_INACTIVE"
	evGamePlayerChange      = "GAME_PLAYER_CHANGE"
	evGameStateChange       = "GAME_STATE_CHANGE"
	evGamePlayerTurn        = "GAME_PLAYER_TURN"
	evWebsocketIdle         = "WEBSOCKET_IDLE"
	evWebsocketInactive     = "WEBSOCKET_INACTIVE"
)

// failureReason enumerates the client-attributable error kinds carried in
// REQUEST_FAILED events.
type failureReason string

const (
	reasonInvalidRequest      failureReason = "INVALID_REQUEST"
	reasonHandleTaken         failureReason = "HANDLE_TAKEN"
	reasonUserLimit           failureReason = "USER_LIMIT"
	reasonTotalGameLimit      failureReason = "TOTAL_GAME_LIMIT"
	reasonInProgressGameLimit failureReason = "IN_PROGRESS_GAME_LIMIT"
	reasonAlreadyPlaying      failureReason = "ALREADY_PLAYING"
	reasonInvalidPlayer       failureReason = "INVALID_PLAYER"
	reasonInvalidGame         failureReason = "INVALID_GAME"
	reasonGameAlreadyStarted  failureReason = "GAME_ALREADY_STARTED"
	reasonNotInvited          failureReason = "NOT_INVITED"
	reasonNoSeats             failureReason = "NO_SEATS"
	reasonNotAdvertiser       failureReason = "NOT_ADVERTISER"
	reasonNotYourTurn         failureReason = "NOT_YOUR_TURN"
	reasonIllegalMove         failureReason = "ILLEGAL_MOVE"
	reasonInvalidGameState    failureReason = "INVALID_GAME_STATE"
	reasonMessageTooLarge     failureReason = "MESSAGE_TOO_LARGE"
	reasonNotAuthorized       failureReason = "NOT_AUTHORIZED"
	reasonAlreadyConnected    failureReason = "ALREADY_CONNECTED"
)

// requestFrame is an inbound client frame before its context is decoded.
type requestFrame struct {
	Message       string          `json:"message"`
	Authorization string          `json:"authorization,omitempty"`
	Context       json.RawMessage `json:"context,omitempty"`
}

// playerID extracts the credential from the authorization field, or ""
// if the field is missing or malformed.
func (f *requestFrame) playerID() string {
	if !strings.HasPrefix(f.Authorization, authScheme) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(f.Authorization, authScheme))
}

// eventFrame is an outbound server frame.
type eventFrame struct {
	Message string `json:"message"`
	Context any    `json:"context,omitempty"`
}

func encodeEvent(kind string, context any) []byte {
	buf, err := json.Marshal(eventFrame{
		Message: kind,
		Context: context,
	})
	if err != nil {
		// All outbound payloads are plain data structs; failure to
		// marshal one is a programmer error.
		panic("encoding " + kind + " event: " + err.Error())
	}
	return buf
}

// ---- Request contexts ----

type registerPlayerContext struct {
	Handle string `json:"handle"`
}

type advertiseGameContext struct {
	Name       string   `json:"name"`
	Mode       string   `json:"mode"`
	Players    int      `json:"players"`
	Visibility string   `json:"visibility"`
	Invited    []string `json:"invited_handles"`
}

type joinGameContext struct {
	GameID string `json:"game_id"`
}

type executeMoveContext struct {
	MoveID string `json:"move_id"`
}

type sendMessageContext struct {
	Message    string   `json:"message"`
	Recipients []string `json:"recipient_handles"`
}

// ---- Event contexts ----

type requestFailedContext struct {
	Reason  failureReason `json:"reason"`
	Comment string        `json:"comment"`
}

type playerRegisteredContext struct {
	PlayerID string `json:"player_id"`
	Handle   string `json:"handle"`
}

type playerUnregisteredContext struct {
	Handle string `json:"handle"`
}

type registeredPlayer struct {
	Handle           string    `json:"handle"`
	RegistrationDate time.Time `json:"registration_date"`
	LastActive       time.Time `json:"last_active"`
	ConnectionState  string    `json:"connection_state"`
	ActivityState    string    `json:"activity_state"`
	PlayState        string    `json:"play_state"`
	GameID           string    `json:"game_id,omitempty"`
}

type registeredPlayersContext struct {
	Players []registeredPlayer `json:"players"`
}

type advertisedGame struct {
	GameID           string    `json:"game_id"`
	Name             string    `json:"name"`
	Mode             string    `json:"mode"`
	AdvertiserHandle string    `json:"advertiser_handle"`
	Players          int       `json:"players"`
	AvailableSeats   int       `json:"available_seats"`
	Visibility       string    `json:"visibility"`
	Invited          []string  `json:"invited_handles"`
	Advertised       time.Time `json:"advertised_date"`
}

type availableGamesContext struct {
	Games []advertisedGame `json:"games"`
}

type gameAdvertisedContext struct {
	Game advertisedGame `json:"game"`
}

type gameInvitationContext struct {
	Game advertisedGame `json:"game"`
}

type gameJoinedContext struct {
	GameID           string `json:"game_id"`
	Name             string `json:"name"`
	Mode             string `json:"mode"`
	AdvertiserHandle string `json:"advertiser_handle"`
}

type gameStartedContext struct {
	GameID string `json:"game_id"`
}

type gameCancelledContext struct {
	GameID  string `json:"game_id"`
	Reason  string `json:"reason"`
	Comment string `json:"comment,omitempty"`
}

type gameCompletedContext struct {
	GameID       string `json:"game_id"`
	WinnerHandle string `json:"winner_handle,omitempty"`
	Comment      string `json:"comment,omitempty"`
}

type gameIdleContext struct {
	GameID string `json:"game_id"`
}

type playerMessageReceivedContext struct {
	SenderHandle     string   `json:"sender_handle"`
	RecipientHandles []string `json:"recipient_handles"`
	Message          string   `json:"message"`
}

type gameSeatInfo struct {
	Handle       string `json:"handle,omitempty"`
	Color        string `json:"color"`
	Type         string `json:"type"`
	State        string `json:"state"`
	IsAdvertiser bool   `json:"is_advertiser,omitempty"`
}

type gamePlayerChangeContext struct {
	GameID  string         `json:"game_id"`
	Comment string         `json:"comment,omitempty"`
	Players []gameSeatInfo `json:"players"`
}

type gameStateChangeContext struct {
	GameID string     `json:"game_id"`
	State  playerView `json:"state"`
}

type gamePlayerTurnContext struct {
	GameID    string     `json:"game_id"`
	Handle    string     `json:"handle"`
	Color     string     `json:"color"`
	DrawnCard string     `json:"drawn_card"`
	Moves     []moveInfo `json:"moves"`
}

type moveInfo struct {
	MoveID      string `json:"move_id"`
	Card        string `json:"card"`
	Description string `json:"description"`
}

// Seat occupant types in game player listings.
const (
	seatTypeHuman        = "HUMAN"
	seatTypeProgrammatic = "PROGRAMMATIC"
)
