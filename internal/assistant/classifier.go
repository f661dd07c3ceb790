// ABOUTME: Intent classification deciding between plain chat and web-grounded answers
// ABOUTME: Fails open to chat on timeout, transport error or unparseable output

package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Intent is the classified purpose of an utterance.
type Intent string

const (
	IntentChat      Intent = "chat"
	IntentWebSearch Intent = "web_search"
)

const intentPrompt = `You are an intent classifier. Categorise the user's message into exactly one of two purposes:
- "chat": conversation, opinions, writing help, or anything answerable from general knowledge
- "web_search": questions about current events, live data, prices, weather, or anything that needs fresh information from the internet

Respond with only a JSON object of the form {"purpose": "chat"} or {"purpose": "web_search"}.`

// ErrClassification marks a failed classification. Classify recovers from it
// and only reports it in logs.
var ErrClassification = errors.New("classification failed")

// Classifier labels utterances.
type Classifier struct {
	llm     Completer
	timeout time.Duration
	logger  *slog.Logger
}

// NewClassifier creates a Classifier with the given per-call timeout.
func NewClassifier(llm Completer, timeout time.Duration, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Classifier{llm: llm, timeout: timeout, logger: logger.With("component", "classifier")}
}

// Classify returns the utterance's intent. It never fails; any problem
// yields IntentChat.
func (c *Classifier) Classify(ctx context.Context, utterance string) Intent {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	raw, err := c.llm.Complete(ctx, []ChatMessage{
		{Role: "system", Content: intentPrompt},
		{Role: "user", Content: utterance},
	})
	if err != nil {
		c.logger.Warn("defaulting to chat", "error", fmt.Errorf("%w: %v", ErrClassification, err))
		return IntentChat
	}

	intent, ok := parseIntent(raw)
	if !ok {
		c.logger.Warn("unparseable classification, defaulting to chat", "output", raw)
		return IntentChat
	}
	return intent
}

func parseIntent(raw string) (Intent, bool) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.Trim(raw, "`\n ")

	var out struct {
		Purpose string `json:"purpose"`
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return "", false
	}
	switch Intent(out.Purpose) {
	case IntentChat, IntentWebSearch:
		return Intent(out.Purpose), true
	}
	return "", false
}
