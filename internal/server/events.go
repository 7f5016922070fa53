package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mwhitfield/groupchat/internal/types"
)

var validate = validator.New()

type BaseEvent struct {
	Id        int       `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ClientEvent is an inbound frame. Exactly one variant pointer is set.
type ClientEvent struct {
	BaseEvent
	Join    *Join    `json:"join,omitempty"`
	Leave   *Leave   `json:"leave,omitempty"`
	Publish *Publish `json:"publish,omitempty"`
	Typing  *Typing  `json:"typing,omitempty"`
	Signal  *Signal  `json:"signal,omitempty"`

	UserId int     `json:"-"`
	client *Client `json:"-"`
	// silent suppresses acknowledgement replies; set on the synthetic
	// leave events generated by disconnect cleanup.
	silent bool `json:"-"`
}

type Join struct {
	ChannelId string `json:"channel_id" validate:"required"`
}

type Leave struct {
	ChannelId string `json:"channel_id" validate:"required"`
}

type Publish struct {
	ChannelId string            `json:"channel_id" validate:"required"`
	Content   string            `json:"content"`
	Type      types.MessageType `json:"type" validate:"required,oneof=text image file video"`
	File      *types.FileRef    `json:"file,omitempty"`
}

type Typing struct {
	ChannelId string `json:"channel_id" validate:"required"`
	Started   bool   `json:"started"`
}

// Signal carries opaque call-setup payloads between users. Payload is
// never inspected here.
type Signal struct {
	Kind         string          `json:"kind" validate:"required,oneof=offer answer ice-candidate end"`
	TargetUserId int             `json:"target_user_id" validate:"required"`
	FromUserId   int             `json:"from_user_id,omitempty"`
	Payload      json.RawMessage `json:"payload,omitempty"`
}

// validatePayload enforces the tagged-variant shape at the boundary,
// before an event enters any pipeline.
func (e *ClientEvent) validatePayload() error {
	var set int
	var payload any
	if e.Join != nil {
		set, payload = set+1, e.Join
	}
	if e.Leave != nil {
		set, payload = set+1, e.Leave
	}
	if e.Publish != nil {
		set, payload = set+1, e.Publish
	}
	if e.Typing != nil {
		set, payload = set+1, e.Typing
	}
	if e.Signal != nil {
		set, payload = set+1, e.Signal
	}

	if set != 1 {
		return errInvalidEvent
	}

	if err := validate.Struct(payload); err != nil {
		return fmt.Errorf("%w: %v", errInvalidEvent, err)
	}

	if e.Publish != nil {
		if e.Publish.Type == types.MessageTypeText {
			if strings.TrimSpace(e.Publish.Content) == "" {
				return errEmptyContent
			}
		} else if e.Publish.File == nil || e.Publish.File.Url == "" ||
			e.Publish.File.Name == "" || e.Publish.File.Size <= 0 || e.Publish.File.MimeType == "" {
			return errMissingFileRef
		}
	}

	return nil
}

// ServerEvent is an outbound frame.
type ServerEvent struct {
	BaseEvent
	Response     *Response      `json:"response,omitempty"`
	Message      *types.Message `json:"message,omitempty"`
	Notification *Notification  `json:"notification,omitempty"`
	Signal       *Signal        `json:"signal,omitempty"`

	SkipClient *Client `json:"-"`
}

type Response struct {
	ResponseCode int    `json:"response_code"`
	Error        string `json:"error,omitempty"`
	Data         any    `json:"data,omitempty"`
}

type Notification struct {
	Presence        *Presence        `json:"presence,omitempty"`
	ChannelPresence *ChannelPresence `json:"channel_presence,omitempty"`
	ChannelUsers    *ChannelUsers    `json:"channel_users,omitempty"`
	Typing          *TypingNotice    `json:"typing,omitempty"`
}

// Presence announces a user-online or user-offline transition.
type Presence struct {
	UserId   int        `json:"user_id"`
	Online   bool       `json:"online"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
}

// ChannelPresence announces a user joining or leaving a channel room.
type ChannelPresence struct {
	ChannelId string     `json:"channel_id"`
	User      types.User `json:"user"`
	Joined    bool       `json:"joined"`
}

// ChannelUsers is the room snapshot sent to a client on join.
type ChannelUsers struct {
	ChannelId string       `json:"channel_id"`
	Users     []types.User `json:"users"`
}

type TypingNotice struct {
	ChannelId string `json:"channel_id"`
	UserId    int    `json:"user_id"`
	Username  string `json:"username"`
	Started   bool   `json:"started"`
}

func NoErrOK(id int, data any) *ServerEvent {
	return &ServerEvent{
		BaseEvent: BaseEvent{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusOK,
			Data:         data,
		},
	}
}

func NoErrAccepted(id int) *ServerEvent {
	return &ServerEvent{
		BaseEvent: BaseEvent{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusAccepted,
		},
	}
}

func errEvent(id, code int, msg string) *ServerEvent {
	return &ServerEvent{
		BaseEvent: BaseEvent{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: code,
			Error:        msg,
		},
	}
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
