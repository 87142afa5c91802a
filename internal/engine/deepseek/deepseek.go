package deepseek

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/textpilot/textpilot-daemon/internal/engine"
)

const (
	defaultBaseURL = "https://api.deepseek.com"
	defaultModel   = "deepseek-chat"
)

// Ensure DeepSeekEngine implements Engine.
var _ engine.Engine = (*DeepSeekEngine)(nil)

// Config controls the DeepSeek chat completions client.
type Config struct {
	APIKey         string
	BaseURL        string
	Model          string
	RequestTimeout time.Duration
}

// DeepSeekEngine streams completions from the DeepSeek chat API, which is
// OpenAI wire compatible: JSON request with stream=true, SSE response of
// chat.completion.chunk objects terminated by "[DONE]".
type DeepSeekEngine struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

// New validates the config and returns a ready engine.
func New(cfg Config) (*DeepSeekEngine, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("deepseek: api key required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModel
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &DeepSeekEngine{
		apiKey:     cfg.APIKey,
		baseURL:    baseURL,
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chunkPayload struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
}

// Stream opens a streaming completion and converts SSE deltas into engine
// events. Context cancellation closes the response body, which unblocks
// the reader goroutine; the upstream call is abandoned, not interrupted.
func (e *DeepSeekEngine) Stream(ctx context.Context, req engine.Request) (<-chan engine.Event, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, errors.New("deepseek: empty prompt")
	}

	body, err := json.Marshal(chatRequest{
		Model:    e.model,
		Messages: []chatMessage{{Role: "user", Content: req.Prompt}},
		Stream:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("deepseek: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("deepseek: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+e.apiKey)
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("deepseek: send request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("deepseek: http %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	ch := make(chan engine.Event, 10)
	go func() {
		defer close(ch)
		defer resp.Body.Close()
		buf := make([]byte, 8192)
		leftover := ""
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			n, err := resp.Body.Read(buf)
			if n > 0 {
				data := leftover + string(buf[:n])
				lines := strings.Split(data, "\n")
				leftover = lines[len(lines)-1]
				for _, line := range lines[:len(lines)-1] {
					line = strings.TrimSpace(line)
					if !strings.HasPrefix(line, "data:") {
						continue
					}
					payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
					if payload == "" || payload == "[DONE]" {
						if payload == "[DONE]" {
							return
						}
						continue
					}
					var chunk chunkPayload
					if perr := json.Unmarshal([]byte(payload), &chunk); perr != nil {
						ch <- engine.Event{Err: fmt.Errorf("deepseek: parse stream: %w", perr)}
						return
					}
					for _, choice := range chunk.Choices {
						if choice.Delta.Content != "" {
							select {
							case ch <- engine.Event{Fragment: choice.Delta.Content}:
							case <-ctx.Done():
								return
							}
						}
						if choice.FinishReason != nil && *choice.FinishReason != "" {
							return
						}
					}
				}
			}
			if err != nil {
				if err == io.EOF {
					return
				}
				if ctx.Err() != nil {
					return
				}
				ch <- engine.Event{Err: fmt.Errorf("deepseek: read stream: %w", err)}
				return
			}
		}
	}()
	return ch, nil
}
