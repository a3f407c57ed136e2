package liveserver

// Message represents a WebSocket message. Target scopes the message to one
// watch target ("SPX:dte0"); empty means every client receives it.
type Message struct {
	Type   string      `json:"type"`
	Target string      `json:"target,omitempty"`
	Data   interface{} `json:"data"`
}

// MessageType constants
const (
	TypeSnapshot = "snapshot"
	TypeStatus   = "status"
	TypeError    = "error"
)

// NewMessage - Helper function to create a Message
func NewMessage(msgType, target string, data interface{}) Message {
	return Message{
		Type:   msgType,
		Target: target,
		Data:   data,
	}
}

// NewSnapshotMessage carries a freshly aggregated view.
func NewSnapshotMessage(target string, view interface{}) Message {
	return NewMessage(TypeSnapshot, target, view)
}

// NewStatusMessage carries poll health such as staleness and the last error.
func NewStatusMessage(target string, status interface{}) Message {
	return NewMessage(TypeStatus, target, status)
}
