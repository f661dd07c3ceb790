// ABOUTME: Websocket transport that authenticates the handshake and runs a session per socket
// ABOUTME: Wraps gorilla/websocket with read limits, ping keepalive and write deadlines

package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/2389/huddle/internal/auth"
	"github.com/2389/huddle/internal/dedupe"
)

const maxFrameBytes = 64 * 1024

// TransportConfig tunes the websocket endpoint.
type TransportConfig struct {
	CookieName     string
	WriteTimeout   time.Duration
	PingInterval   time.Duration
	AllowedOrigins []string
}

// Transport is the http.Handler for the realtime endpoint.
type Transport struct {
	resolver *auth.Resolver
	registry *Registry
	router   *Router
	nonces   *dedupe.Window
	cfg      TransportConfig
	upgrader websocket.Upgrader
	logger   *slog.Logger

	ctx      context.Context
	cancel   context.CancelFunc
	sessions sync.WaitGroup
}

// NewTransport creates the realtime endpoint.
func NewTransport(cfg TransportConfig, resolver *auth.Resolver, registry *Registry, router *Router, nonces *dedupe.Window, logger *slog.Logger) *Transport {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.CookieName == "" {
		cfg.CookieName = auth.DefaultCookieName
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	t := &Transport{
		resolver: resolver,
		registry: registry,
		router:   router,
		nonces:   nonces,
		cfg:      cfg,
		logger:   logger.With("component", "websocket"),
		ctx:      ctx,
		cancel:   cancel,
	}
	t.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     t.checkOrigin,
	}
	return t
}

func (t *Transport) checkOrigin(r *http.Request) bool {
	if len(t.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range t.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// ServeHTTP authenticates the handshake and then serves the socket until it
// closes. Unauthenticated requests are refused before upgrading.
func (t *Transport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	principal, err := t.resolver.Authenticate(r.Context(), auth.CredentialFromRequest(r, t.cfg.CookieName))
	if err != nil {
		t.logger.Debug("handshake rejected", "remote", r.RemoteAddr, "error", err)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]string{"error": auth.Reason(err)})
		return
	}

	if t.ctx.Err() != nil {
		http.Error(w, `{"error":"shutting down"}`, http.StatusServiceUnavailable)
		return
	}

	ws, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		t.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	t.sessions.Add(1)
	defer t.sessions.Done()

	connID := uuid.NewString()
	conn := newWSConn(ws, t.cfg.WriteTimeout, t.cfg.PingInterval)
	session := NewSession(connID, principal, conn, t.registry, t.router, t.nonces, t.logger)

	t.logger.Info("websocket connected", "conn_id", connID, "principal", principal.ID, "remote", r.RemoteAddr)
	err = session.Run(t.ctx)
	if err != nil && !isExpectedClose(err) {
		t.logger.Warn("websocket session ended", "conn_id", connID, "error", err)
		return
	}
	t.logger.Info("websocket disconnected", "conn_id", connID)
}

// Shutdown stops every session and waits for them to finish or ctx to end.
func (t *Transport) Shutdown(ctx context.Context) error {
	t.cancel()
	done := make(chan struct{})
	go func() {
		t.sessions.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for websocket sessions: %w", ctx.Err())
	}
}

func isExpectedClose(err error) bool {
	return errors.Is(err, context.Canceled) || websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived)
}

// wsConn adapts a gorilla websocket to Conn. Writes come only from the
// session loop; pings use WriteControl, which may run concurrently.
type wsConn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration
	stop         chan struct{}
	closeOnce    sync.Once
}

func newWSConn(ws *websocket.Conn, writeTimeout, pingInterval time.Duration) *wsConn {
	c := &wsConn{
		ws:           ws,
		writeTimeout: writeTimeout,
		stop:         make(chan struct{}),
	}
	ws.SetReadLimit(maxFrameBytes)

	if pingInterval > 0 {
		pongWait := pingInterval * 2
		ws.SetReadDeadline(time.Now().Add(pongWait))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(pongWait))
		})
		go c.keepalive(pingInterval)
	}
	return c
}

func (c *wsConn) keepalive(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			deadline := time.Now().Add(c.writeTimeout)
			if err := c.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}

func (c *wsConn) ReadFrame() (*Frame, error) {
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		return nil, err
	}
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}
	return &f, nil
}

func (c *wsConn) WriteEvent(ev *Event) error {
	c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.ws.WriteJSON(ev)
}

func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.stop)
		deadline := time.Now().Add(time.Second)
		c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		err = c.ws.Close()
	})
	return err
}
