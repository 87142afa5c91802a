package loopback

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/textpilot/textpilot-daemon/internal/engine"
)

// Ensure LoopbackEngine implements Engine.
var _ engine.Engine = (*LoopbackEngine)(nil)

// LoopbackEngine streams the prompt back word by word. It exists so the
// daemon can run without an upstream key and so the dispatch pipeline can
// be exercised deterministically in tests.
type LoopbackEngine struct {
	// Delay between fragments; zero means no pacing.
	Delay time.Duration
}

// New creates a LoopbackEngine instance.
func New() *LoopbackEngine {
	return &LoopbackEngine{}
}

// Stream yields one fragment per whitespace-separated word of the prompt.
func (e *LoopbackEngine) Stream(ctx context.Context, req engine.Request) (<-chan engine.Event, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, errors.New("loopback: empty prompt")
	}
	words := strings.Fields(req.Prompt)

	ch := make(chan engine.Event, 10)
	go func() {
		defer close(ch)
		for i, w := range words {
			if e.Delay > 0 {
				select {
				case <-time.After(e.Delay):
				case <-ctx.Done():
					return
				}
			} else {
				select {
				case <-ctx.Done():
					return
				default:
				}
			}
			fragment := w
			if i < len(words)-1 {
				fragment += " "
			}
			select {
			case ch <- engine.Event{Fragment: fragment}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}
