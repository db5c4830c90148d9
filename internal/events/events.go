// Package events defines the pub/sub contract that decouples the stateless
// request layer from the stateful relay and game loop.
//
// Channel naming:
//
//	lobby:{CODE}:events   lobby lifecycle and chat events
//	game:{SESSION}:events game session events
package events

import (
	"context"
	"encoding/json"
	"strings"
)

// Type identifies an event on the bus.
type Type string

const (
	// Lobby events.
	TypeLobbyCreated       Type = "lobby_created"
	TypePlayerJoined       Type = "player_joined"
	TypePlayerLeft         Type = "player_left"
	TypePlayerReady        Type = "player_ready"
	TypeLobbyUpdated       Type = "lobby_updated"
	TypeLobbyClosed        Type = "lobby_closed"
	TypeAllPlayersReady    Type = "all_players_ready"
	TypePlayerDisconnected Type = "player_disconnected"
	TypeSettingsUpdated    Type = "settings_updated"

	// Game events.
	TypeGameStarting   Type = "game_starting"
	TypeGameStarted    Type = "game_started"
	TypeQuestionSent   Type = "question_sent"
	TypePlayerAnswered Type = "player_answered"
	TypeRoundEnded     Type = "round_ended"
	TypeGameEnded      Type = "game_ended"
	TypeScoresUpdated  Type = "scores_updated"
	TypeGameError      Type = "game_error"

	// Chat events.
	TypeChatMessage Type = "chat_message"
)

// Envelope is the wire form of a published event.
type Envelope struct {
	Type Type            `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Message is a received event together with the channel it arrived on.
type Message struct {
	Channel string
	Type    Type
	Data    json.RawMessage
}

// Bus is the publish/subscribe channel between the API layer and the relay.
// Publish is fire-and-forget from the caller's perspective: implementations
// return the error for logging, but a failed publish must never fail the
// operation that triggered it.
type Bus interface {
	Publish(ctx context.Context, channel string, typ Type, data any) error
	Subscribe(ctx context.Context, patterns ...string) (Subscription, error)
}

// Subscription is a live pattern subscription on the bus.
type Subscription interface {
	Messages() <-chan Message
	Close() error
}

// LobbyChannel returns the event channel for a lobby code.
func LobbyChannel(code string) string {
	return "lobby:" + strings.ToUpper(code) + ":events"
}

// GameChannel returns the event channel for a game session.
func GameChannel(sessionID string) string {
	return "game:" + sessionID + ":events"
}

// LobbyPattern and GamePattern are the relay's wildcard subscriptions.
const (
	LobbyPattern = "lobby:*:events"
	GamePattern  = "game:*:events"
)

// Room extracts the room identifier (lobby code or session ID) from a
// channel name, or "" if the channel does not follow the naming scheme.
func Room(channel string) string {
	parts := strings.Split(channel, ":")
	if len(parts) != 3 || parts[2] != "events" {
		return ""
	}
	return parts[1]
}
