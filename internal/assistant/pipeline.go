// ABOUTME: Assistant pipeline that classifies, optionally searches, streams and records a turn
// ABOUTME: Turns for one user run one at a time; partial answers are kept on cancellation

package assistant

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/abadojack/whatlanggo"

	"github.com/2389/huddle/internal/keylock"
	"github.com/2389/huddle/internal/store"
)

// Pipeline errors.
var (
	ErrEmptyUtterance = errors.New("empty utterance")
	ErrSearch         = errors.New("web search failed")
	ErrGeneration     = errors.New("generation failed")
	ErrHistory        = errors.New("history unavailable")
)

const (
	// DefaultContextWindow is how many prior entries are sent with a turn.
	DefaultContextWindow = 20
	// DefaultTopK is how many search results ground an answer.
	DefaultTopK = 3

	chunkBuffer  = 16
	saveTimeout  = 5 * time.Second
	systemPrompt = "You are a helpful AI assistant. Respond to the user's query."
)

// EventKind tags a pipeline output.
type EventKind string

const (
	EventIntent EventKind = "intent"
	EventText   EventKind = "text"
	EventError  EventKind = "error"
)

// Event is one pipeline output. The stream is closed after the final event.
type Event struct {
	Kind   EventKind
	Intent Intent
	Text   string
	Err    error
}

// Options tunes a Pipeline.
type Options struct {
	ContextWindow int
	TopK          int
}

// Pipeline runs assistant turns.
type Pipeline struct {
	store      store.AssistantStore
	classifier *Classifier
	generator  Generator
	searcher   Searcher
	opts       Options
	users      *keylock.Map
	logger     *slog.Logger
}

// NewPipeline creates a Pipeline. Pass nil logger for default.
func NewPipeline(s store.AssistantStore, classifier *Classifier, generator Generator, searcher Searcher, opts Options, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.ContextWindow <= 0 {
		opts.ContextWindow = DefaultContextWindow
	}
	if opts.TopK <= 0 {
		opts.TopK = DefaultTopK
	}
	return &Pipeline{
		store:      s,
		classifier: classifier,
		generator:  generator,
		searcher:   searcher,
		opts:       opts,
		users:      keylock.New(),
		logger:     logger.With("component", "assistant"),
	}
}

// Run starts a turn for userID and returns its event stream. The user's
// utterance is recorded before anything else happens; whatever answer text
// was produced is recorded when the stream ends, even if ctx was cancelled.
func (p *Pipeline) Run(ctx context.Context, userID, utterance string) (<-chan Event, error) {
	utterance = strings.TrimSpace(utterance)
	if utterance == "" {
		return nil, ErrEmptyUtterance
	}

	out := make(chan Event, chunkBuffer)
	go func() {
		defer close(out)
		unlock := p.users.Lock(userID)
		defer unlock()
		p.turn(ctx, userID, utterance, out)
	}()
	return out, nil
}

func (p *Pipeline) turn(ctx context.Context, userID, utterance string, out chan<- Event) {
	emit := func(ev Event) bool {
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}
	fail := func(err error) {
		p.logger.Warn("assistant turn failed", "user", userID, "error", err)
		emit(Event{Kind: EventError, Err: err})
	}

	history, err := p.store.RecentAssistantEntries(ctx, userID, p.opts.ContextWindow)
	if err != nil {
		fail(fmt.Errorf("%w: %v", ErrHistory, err))
		return
	}
	if err := p.store.AppendAssistantEntry(ctx, userID, store.AssistantEntry{
		Role:      store.RoleUser,
		Content:   utterance,
		CreatedAt: time.Now(),
	}); err != nil {
		fail(fmt.Errorf("%w: %v", ErrHistory, err))
		return
	}

	intent := p.classifier.Classify(ctx, utterance)
	if !emit(Event{Kind: EventIntent, Intent: intent}) {
		return
	}

	prompt := utterance
	if intent == IntentWebSearch {
		results, err := p.searcher.Search(ctx, utterance, p.opts.TopK)
		if err != nil {
			fail(fmt.Errorf("%w: %v", ErrSearch, err))
			return
		}
		prompt = groundedPrompt(results, utterance)
	}

	stream, err := p.generator.Stream(ctx, composeMessages(history, prompt, utterance))
	if err != nil {
		fail(fmt.Errorf("%w: %v", ErrGeneration, err))
		return
	}
	defer stream.Close()

	var answer strings.Builder
	defer p.record(userID, &answer)

	for {
		token, err := stream.Next()
		if errors.Is(err, io.EOF) {
			p.logger.Debug("assistant turn complete", "user", userID, "intent", intent, "chars", answer.Len())
			return
		}
		if err != nil {
			if ctx.Err() == nil {
				fail(fmt.Errorf("%w: %v", ErrGeneration, err))
			}
			return
		}
		answer.WriteString(token)
		if !emit(Event{Kind: EventText, Text: token}) {
			p.logger.Debug("assistant turn cancelled", "user", userID, "chars", answer.Len())
			return
		}
	}
}

// record stores the produced answer on a context of its own so a cancelled
// turn still keeps its partial text.
func (p *Pipeline) record(userID string, answer *strings.Builder) {
	if answer.Len() == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()

	if err := p.store.AppendAssistantEntry(ctx, userID, store.AssistantEntry{
		Role:      store.RoleAssistant,
		Content:   answer.String(),
		CreatedAt: time.Now(),
	}); err != nil {
		p.logger.Error("failed to record assistant answer", "user", userID, "error", err)
	}
}

// History returns the user's full assistant session.
func (p *Pipeline) History(ctx context.Context, userID string) (*store.AssistantSession, error) {
	return p.store.GetOrCreateAssistantSession(ctx, userID)
}

// Reset clears the user's history once any running turn has finished.
func (p *Pipeline) Reset(ctx context.Context, userID string) error {
	unlock := p.users.Lock(userID)
	defer unlock()
	return p.store.ClearAssistantSession(ctx, userID)
}

func composeMessages(history []store.AssistantEntry, prompt, utterance string) []ChatMessage {
	msgs := make([]ChatMessage, 0, len(history)+2)
	msgs = append(msgs, ChatMessage{Role: "system", Content: systemInstruction(utterance)})
	for _, e := range history {
		msgs = append(msgs, ChatMessage{Role: string(e.Role), Content: e.Content})
	}
	return append(msgs, ChatMessage{Role: "user", Content: prompt})
}

// systemInstruction asks for a reply in the user's language when it is
// confidently something other than English.
func systemInstruction(utterance string) string {
	info := whatlanggo.Detect(utterance)
	if info.Confidence < 0.8 || info.Lang == whatlanggo.Eng {
		return systemPrompt
	}
	return systemPrompt + " Reply in " + info.Lang.String() + "."
}

func groundedPrompt(results []SearchResult, utterance string) string {
	var b strings.Builder
	b.WriteString("Based on these search results:\n")
	for i, r := range results {
		fmt.Fprintf(&b, "%d. %s (%s)\n%s\n", i+1, r.Title, r.URL, r.Content)
	}
	b.WriteString("\nAnswer the user's query: ")
	b.WriteString(utterance)
	return b.String()
}
