// ABOUTME: Hand-written fakes for the assistant's model and search dependencies
// ABOUTME: Scriptable completions, token streams and search results

package assistant

import (
	"context"
	"io"
	"sync"
)

type fakeCompleter struct {
	reply string
	err   error
	block bool
}

func (f *fakeCompleter) Complete(ctx context.Context, _ []ChatMessage) (string, error) {
	if f.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return f.reply, f.err
}

type fakeGenerator struct {
	mu       sync.Mutex
	tokens   []string
	err      error
	hold     chan struct{} // when set, each token waits for a receive
	prompts  [][]ChatMessage
	running  int
	maxSeen  int
	midError error
}

func (g *fakeGenerator) Stream(ctx context.Context, msgs []ChatMessage) (TokenStream, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return nil, g.err
	}
	g.prompts = append(g.prompts, msgs)
	g.running++
	g.maxSeen = max(g.maxSeen, g.running)
	return &fakeStream{gen: g, ctx: ctx, tokens: append([]string{}, g.tokens...)}, nil
}

func (g *fakeGenerator) lastPrompt() []ChatMessage {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.prompts[len(g.prompts)-1]
}

type fakeStream struct {
	gen    *fakeGenerator
	ctx    context.Context
	tokens []string
	closed bool
}

func (s *fakeStream) Next() (string, error) {
	if len(s.tokens) == 0 {
		if s.gen.midError != nil {
			return "", s.gen.midError
		}
		return "", io.EOF
	}
	if s.gen.hold != nil {
		select {
		case <-s.gen.hold:
		case <-s.ctx.Done():
			return "", s.ctx.Err()
		}
	}
	tok := s.tokens[0]
	s.tokens = s.tokens[1:]
	return tok, nil
}

func (s *fakeStream) Close() error {
	if !s.closed {
		s.closed = true
		s.gen.mu.Lock()
		s.gen.running--
		s.gen.mu.Unlock()
	}
	return nil
}

type fakeSearcher struct {
	results []SearchResult
	err     error
	queries []string
	topK    int
}

func (s *fakeSearcher) Search(_ context.Context, query string, topK int) ([]SearchResult, error) {
	s.queries = append(s.queries, query)
	s.topK = topK
	return s.results, s.err
}
