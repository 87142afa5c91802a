package connection

import (
	"errors"
	"sync"
	"testing"

	"github.com/textpilot/textpilot-daemon/internal/stream"
)

type fakeChannel struct {
	mu      sync.Mutex
	sent    []stream.Message
	sendErr error
	closed  bool
}

func (f *fakeChannel) Send(msg stream.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeChannel) messages() []stream.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]stream.Message(nil), f.sent...)
}

func TestConnectReplacesAndClosesPrevious(t *testing.T) {
	r := NewRegistry(nil)
	old := &fakeChannel{}
	r.Connect("u1", old)
	replacement := &fakeChannel{}
	r.Connect("u1", replacement)

	if !old.closed {
		t.Fatalf("previous channel must be closed on replacement")
	}
	r.Send("u1", stream.Start("req_a"))
	if len(old.messages()) != 0 {
		t.Fatalf("replaced channel must not receive messages")
	}
	if got := replacement.messages(); len(got) != 1 || got[0].Type != stream.TypeStart {
		t.Fatalf("replacement channel messages = %+v", got)
	}
}

func TestStaleDisconnectDoesNotEvictNewerChannel(t *testing.T) {
	r := NewRegistry(nil)
	old := &fakeChannel{}
	r.Connect("u1", old)
	newer := &fakeChannel{}
	r.Connect("u1", newer)

	// The old connection's teardown fires after the reconnect.
	r.Disconnect("u1", old)
	if !r.HasConnection("u1") {
		t.Fatalf("stale disconnect must not evict the newer channel")
	}

	r.Disconnect("u1", newer)
	if r.HasConnection("u1") {
		t.Fatalf("matching disconnect must remove the channel")
	}
}

func TestSendWithoutConnectionIsDropped(t *testing.T) {
	r := NewRegistry(nil)
	// Must not panic or error.
	r.Send("ghost", stream.Chunk("req_a", 1, "hi"))
	if r.HasConnection("ghost") {
		t.Fatalf("send must not create a registration")
	}
}

func TestSendErrorIsSwallowed(t *testing.T) {
	r := NewRegistry(nil)
	broken := &fakeChannel{sendErr: errors.New("pipe broken")}
	r.Connect("u1", broken)
	r.Send("u1", stream.Done("req_a"))
	// The channel stays registered; liveness is the reader's concern.
	if !r.HasConnection("u1") {
		t.Fatalf("send failure must not evict the channel")
	}
}
