// ABOUTME: OpenAI-compatible chat completions client for classification and streaming answers
// ABOUTME: Streams content deltas over SSE until the [DONE] sentinel

package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// DefaultBaseURL points at Groq's OpenAI-compatible endpoint.
const DefaultBaseURL = "https://api.groq.com/openai/v1"

// ChatMessage is one prompt message.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// TokenStream yields generated text. Next returns io.EOF when the answer is complete.
type TokenStream interface {
	Next() (string, error)
	Close() error
}

// Completer returns a whole completion.
type Completer interface {
	Complete(ctx context.Context, messages []ChatMessage) (string, error)
}

// Generator streams a completion.
type Generator interface {
	Stream(ctx context.Context, messages []ChatMessage) (TokenStream, error)
}

// LLMClient talks to any server speaking the chat completions wire format.
type LLMClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
}

// NewLLMClient creates a client. A nil httpClient uses http.DefaultClient.
func NewLLMClient(httpClient *http.Client, baseURL, apiKey, model string) *LLMClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &LLMClient{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
	}
}

type completionRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Stream      bool          `json:"stream,omitempty"`
	Temperature float64       `json:"temperature"`
}

type completionResponse struct {
	Choices []struct {
		Message ChatMessage `json:"message"`
	} `json:"choices"`
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Complete sends a non-streaming request and returns the first choice.
func (c *LLMClient) Complete(ctx context.Context, messages []ChatMessage) (string, error) {
	resp, err := c.do(ctx, completionRequest{Model: c.model, Messages: messages}, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("llm: decoding response: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", errors.New("llm: response has no choices")
	}
	return out.Choices[0].Message.Content, nil
}

// Stream sends a streaming request.
func (c *LLMClient) Stream(ctx context.Context, messages []ChatMessage) (TokenStream, error) {
	resp, err := c.do(ctx, completionRequest{Model: c.model, Messages: messages, Stream: true, Temperature: 0.7}, true)
	if err != nil {
		return nil, err
	}
	return &sseTokenStream{body: resp.Body, events: newSSEReader(resp.Body)}, nil
}

func (c *LLMClient) do(ctx context.Context, body completionRequest, streaming bool) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("llm: marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("llm: creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if streaming {
		req.Header.Set("Accept", "text/event-stream")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("llm: sending request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("llm: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return resp, nil
}

// sseTokenStream yields content deltas. A stream is complete only after
// the [DONE] sentinel or a chunk carrying a finish_reason; a body that ends
// before either is reported as io.ErrUnexpectedEOF.
type sseTokenStream struct {
	body     io.ReadCloser
	events   *sseReader
	done     bool
	finished bool
}

func (s *sseTokenStream) Next() (string, error) {
	for !s.done {
		if !s.events.Next() {
			s.done = true
			if err := s.events.Err(); err != nil {
				return "", fmt.Errorf("llm: reading stream: %w", err)
			}
			break
		}

		data := s.events.Event().Data
		if data == "[DONE]" {
			s.done = true
			s.finished = true
			break
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return "", fmt.Errorf("llm: parsing stream chunk: %w", err)
		}
		if chunk.Error != nil {
			return "", fmt.Errorf("llm: stream error: %s: %s", chunk.Error.Type, chunk.Error.Message)
		}
		var token string
		for _, choice := range chunk.Choices {
			if choice.FinishReason != nil && *choice.FinishReason != "" {
				s.finished = true
			}
			if token == "" {
				token = choice.Delta.Content
			}
		}
		if token != "" {
			return token, nil
		}
	}
	if !s.finished {
		return "", fmt.Errorf("llm: stream ended before completion: %w", io.ErrUnexpectedEOF)
	}
	return "", io.EOF
}

func (s *sseTokenStream) Close() error {
	return s.body.Close()
}
