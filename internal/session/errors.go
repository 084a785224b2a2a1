package session

import "errors"

var (
	ErrEmptyRoomID          = errors.New("please enter a room id")
	ErrIdentityPending      = errors.New("authentication pending")
	ErrRoomFull             = errors.New("room is full")
	ErrNoRole               = errors.New("no role assigned")
	ErrNotActive            = errors.New("waiting for an opponent")
	ErrMoveAlreadySubmitted = errors.New("move already submitted")
	ErrCreateFailed         = errors.New("failed to create room")
	ErrClaimFailed          = errors.New("failed to join room")
	ErrSubmitFailed         = errors.New("failed to submit move")
	ErrResetFailed          = errors.New("failed to reset round")
	ErrRoomGone             = errors.New("room no longer exists")
	ErrSubscription         = errors.New("error listening to room")
	ErrClosed               = errors.New("session closed")
)

// User-facing notices.
const (
	NoticeEnterRoomID  = "Please enter a Room ID."
	NoticeAuthPending  = "Authentication pending. Please wait."
	NoticeRoomFull     = "Room is full! Try a different ID."
	NoticeCreateFailed = "Failed to create room."
	NoticeClaimFailed  = "Failed to join room."
	NoticeSubmitFailed = "Failed to submit move."
	NoticeResetFailed  = "Failed to start the next round."
	NoticeListenFailed = "Error listening to room."
	NoticeRoomGone     = "Room no longer exists."
	NoticeMoveQueued   = "Move saved for the next round."
)
