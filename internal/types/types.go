package types

import "encoding/json"

// Actions a client may request.
const (
	ActionCreateGame = "createGame"
	ActionFindGame   = "findGame"
	ActionJoinGame   = "joinGame"
	ActionBug        = "bug"
	ActionFix        = "fix"
)

// ClientMessage is decoded case-insensitively, so "passWord" and "gameid"
// both land in the right field.
type ClientMessage struct {
	Action string             `json:"action"`
	Player *PlayerCredentials `json:"player"`
	GameID string             `json:"gameId,omitempty"`
	Code   string             `json:"code,omitempty"`
}

type PlayerCredentials struct {
	Name     string `json:"name"`
	Password string `json:"password"`
}

// ServerMessage carries exactly one of its fields.
type ServerMessage struct {
	GameID string `json:"gameId,omitempty"`
	Code   string `json:"code,omitempty"`
	Error  string `json:"error,omitempty"`
}

// MarshalJSON writes only the populated field. A code delivery keeps its
// "code" key even when the payload is empty.
func (m ServerMessage) MarshalJSON() ([]byte, error) {
	switch {
	case m.Error != "":
		return json.Marshal(struct {
			Error string `json:"error"`
		}{m.Error})
	case m.GameID != "":
		return json.Marshal(struct {
			GameID string `json:"gameId"`
		}{m.GameID})
	default:
		return json.Marshal(struct {
			Code string `json:"code"`
		}{m.Code})
	}
}

func GameIDMessage(id string) ServerMessage { return ServerMessage{GameID: id} }
func CodeMessage(code string) ServerMessage { return ServerMessage{Code: code} }
func ErrorMessage(msg string) ServerMessage { return ServerMessage{Error: msg} }
