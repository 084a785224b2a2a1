package types

import "github.com/DoyleJ11/rps-rooms/internal/engine"

// ServerMessage is pushed down a room websocket.
type ServerMessage struct {
	Type    string       `json:"type"` // "Snapshot" | "Error"
	Version int64        `json:"version,omitempty"`
	Exists  bool         `json:"exists"`
	Room    *engine.Room `json:"room,omitempty"`
	Error   string       `json:"error,omitempty"`
}

const (
	MsgSnapshot = "Snapshot"
	MsgError    = "Error"
)

type MergeRequest struct {
	Patch        engine.Patch        `json:"patch"`
	Precondition engine.Precondition `json:"precondition"`
}

type ErrorResponse struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

const (
	CodeRoomExists         = "room_exists"
	CodeRoomNotFound       = "room_not_found"
	CodePreconditionFailed = "precondition_failed"
	CodeBadRequest         = "bad_request"
	CodeInternal           = "internal"
)

type CodeResponse struct {
	Code string `json:"code"`
}
