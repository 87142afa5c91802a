package stream

// Message type tags sent server-to-client on the websocket.
const (
	TypeStart = "start"
	TypeChunk = "chunk"
	TypeDone  = "done"
	TypeError = "error"
	// TypeCancel is the only client-to-server control frame.
	TypeCancel = "cancel"
)

// Message is one server-to-client streaming frame. The Type field selects
// which of the optional fields are populated; a Message is never mutated
// after construction.
type Message struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId"`
	Seq       int    `json:"seq,omitempty"`
	Content   string `json:"content,omitempty"`
	Code      string `json:"code,omitempty"`
	Message   string `json:"message,omitempty"`
}

// Control is a client-to-server frame read from the websocket.
type Control struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId"`
}

// Start builds the frame announcing that a job began streaming.
func Start(requestID string) Message {
	return Message{Type: TypeStart, RequestID: requestID}
}

// Chunk builds one fragment frame. Seq starts at 1 and increases by one
// per fragment within a request.
func Chunk(requestID string, seq int, content string) Message {
	return Message{Type: TypeChunk, RequestID: requestID, Seq: seq, Content: content}
}

// Done builds the natural-completion frame.
func Done(requestID string) Message {
	return Message{Type: TypeDone, RequestID: requestID}
}

// Error builds the terminal error frame with a machine code and a human
// readable message.
func Error(requestID, code, message string) Message {
	return Message{Type: TypeError, RequestID: requestID, Code: code, Message: message}
}
