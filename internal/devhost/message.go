package devhost

import "encoding/json"

// FrameType identifies a websocket frame between the page and the dev host.
type FrameType string

const (
	// page -> host
	FramePost FrameType = "post"

	// host -> page
	FrameInstance FrameType = "instance"
	FrameMessage  FrameType = "message"
	FrameReload   FrameType = "reload"
)

// Frame is one websocket message.
type Frame struct {
	Type     FrameType `json:"type"`
	Instance int32     `json:"instance"`
	Data     string    `json:"data"`
}

// ParseFrame decodes a frame sent by the page.
func ParseFrame(data []byte) (Frame, error) {
	var f Frame
	err := json.Unmarshal(data, &f)
	return f, err
}
