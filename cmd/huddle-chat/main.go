// ABOUTME: Terminal client for the huddle realtime endpoint
// ABOUTME: Reads slash commands and messages from stdin and prints room events

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/fatih/color"
	"github.com/gorilla/websocket"

	"github.com/2389/huddle/internal/realtime"
	"github.com/2389/huddle/internal/room"
	"github.com/2389/huddle/internal/store"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, in io.Reader, out io.Writer) error {
	cfg, err := loadConfig(getConfigPath())
	if err != nil {
		return err
	}
	wsURL, err := cfg.websocketURL()
	if err != nil {
		return err
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+cfg.Token)
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("connecting to %s: %s", wsURL, resp.Status)
		}
		return fmt.Errorf("connecting to %s: %w", wsURL, err)
	}
	defer conn.Close()

	c := &client{conn: conn, out: out}

	readErr := make(chan error, 1)
	go func() { readErr <- c.readLoop() }()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return nil
		case err := <-readErr:
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if err := c.handleLine(line); err != nil {
				if errors.Is(err, errQuit) {
					return nil
				}
				c.printf("%s", color.RedString("%v\n", err))
			}
		}
	}
}

var errQuit = errors.New("quit")

// client holds the connection and the room plain text is sent to.
// Only the stdin loop writes to the connection or touches current.
type client struct {
	conn *websocket.Conn
	out  io.Writer

	mu      sync.Mutex
	self    string
	current string
}

func (c *client) selfID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.self
}

func (c *client) printf(format string, args ...any) {
	fmt.Fprintf(c.out, format, args...)
}

func (c *client) handleLine(line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	if !strings.HasPrefix(line, "/") {
		if c.current == "" {
			return errors.New("join a room first: /join group:<id> or /dm <user-id>")
		}
		return c.send(realtime.Frame{
			Type:    realtime.FrameSend,
			RoomID:  c.current,
			Content: line,
			Nonce:   store.NewID(),
		})
	}

	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch cmd {
	case "/join":
		id, err := room.Canonicalize(arg)
		if err != nil {
			return err
		}
		return c.join(id)
	case "/dm":
		self := c.selfID()
		if self == "" {
			return errors.New("not ready yet")
		}
		if !store.ValidID(arg) {
			return errors.New("usage: /dm <user-id>")
		}
		return c.join(room.CanonicalDirect(self, arg))
	case "/leave":
		if c.current == "" {
			return errors.New("not in a room")
		}
		err := c.send(realtime.Frame{Type: realtime.FrameLeave, RoomID: c.current})
		c.current = ""
		return err
	case "/room":
		if c.current == "" {
			c.printf("no room\n")
		} else {
			c.printf("%s\n", c.current)
		}
		return nil
	case "/quit":
		return errQuit
	default:
		return fmt.Errorf("unknown command %s (try /join, /dm, /leave, /room, /quit)", cmd)
	}
}

func (c *client) join(roomID string) error {
	if err := c.send(realtime.Frame{Type: realtime.FrameJoin, RoomID: roomID}); err != nil {
		return err
	}
	c.current = roomID
	return nil
}

func (c *client) send(f realtime.Frame) error {
	return c.conn.WriteJSON(f)
}

func (c *client) readLoop() error {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return err
		}
		var ev realtime.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			continue
		}
		c.printf("%s", c.render(&ev))
	}
}

// render formats one event for the terminal. Ready events record the
// caller's own id for /dm.
func (c *client) render(ev *realtime.Event) string {
	switch ev.Type {
	case realtime.EventReady:
		if ev.Principal == nil {
			return color.GreenString("connected\n")
		}
		c.mu.Lock()
		c.self = ev.Principal.ID
		c.mu.Unlock()
		return color.GreenString("connected as %s (%s)\n", ev.Principal.DisplayName, ev.Principal.ID)
	case realtime.EventMessage:
		if ev.Message == nil {
			return ""
		}
		m := ev.Message
		return fmt.Sprintf("%s %s %s: %s\n",
			color.HiBlackString("%s", m.CreatedAt.Local().Format("15:04")),
			color.HiBlackString("[%s]", m.RoomID),
			color.CyanString("%s", m.SenderDisplayName),
			m.Content)
	case realtime.EventSystem:
		return color.YellowString("* [%s] %s\n", ev.RoomID, ev.Text)
	case realtime.EventError:
		if ev.RoomID != "" {
			return color.RedString("! %s (%s)\n", ev.Reason, ev.RoomID)
		}
		return color.RedString("! %s\n", ev.Reason)
	default:
		return ""
	}
}
