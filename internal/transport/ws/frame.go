package ws

import "github.com/srg/musebridge/internal/channel"

// FrameType identifies the kind of frame sent over the WebSocket connection.
type FrameType string

const (
	// server → client
	FrameHello  FrameType = "hello"
	FrameResult FrameType = "result"
	FrameEvent  FrameType = "event"
	FrameError  FrameType = "error"
	FrameEnd    FrameType = "end"

	// client → server
	FrameCall   FrameType = "call"
	FrameListen FrameType = "listen"
	FrameCancel FrameType = "cancel"
)

// Frame is the envelope exchanged between client and server.
//
// A call carries Method and Args and is answered by a result frame with the
// same ID holding either Payload, Error or NotImplemented. Listen and cancel
// carry a Channel and are acknowledged by an empty result. Event, error and
// end frames carry the Channel they belong to.
type Frame struct {
	Type           FrameType      `json:"type"`
	ID             uint64         `json:"id,omitempty"`
	Method         string         `json:"method,omitempty"`
	Channel        string         `json:"channel,omitempty"`
	Args           map[string]any `json:"args,omitempty"`
	Payload        any            `json:"payload,omitempty"`
	Error          *channel.Error `json:"error,omitempty"`
	NotImplemented bool           `json:"notImplemented,omitempty"`
	ClientID       string         `json:"clientId,omitempty"`
}
