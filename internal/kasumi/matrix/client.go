// Package matrix adapts the bot to the Matrix protocol: it syncs with the
// homeserver, turns room messages into turns, and renders the engine's
// channel-neutral activities as Matrix messages (HTML with plain-text
// fallback). All channel-specific markup lives here and nowhere else.
package matrix

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/kasumi-bot/kasumi/internal/kasumi/dialog"
)

// typingTimeout is how long one typing notification stays visible; the next
// turn refreshes it.
const typingTimeout = 15 * time.Second

// Reconnection delays after a sync failure: start at backoffMin, double on
// every consecutive failure, cap at backoffMax.
const (
	backoffMin = 2 * time.Second
	backoffMax = 5 * time.Minute
)

func nextBackoff(d time.Duration) time.Duration {
	d *= 2
	if d > backoffMax {
		d = backoffMax
	}
	return d
}

// Config holds Matrix client configuration.
type Config struct {
	Homeserver  string
	UserID      string
	AccessToken string
	// Rooms is an optional allowlist of room IDs the bot answers in. Empty
	// means every room the bot is a member of.
	Rooms []string
	// DB is an optional SQLite connection used to persist the Matrix sync
	// token (next_batch) across restarts. When nil, an in-memory store is
	// used and all room history will be replayed on every restart.
	DB *sql.DB
}

// Message is one inbound chat message.
type Message struct {
	RoomID  string
	Sender  string
	Body    string
	EventID string
}

// MessageHandler processes incoming Matrix messages.
type MessageHandler func(ctx context.Context, msg Message)

// Client wraps the mautrix client.
type Client struct {
	client     *mautrix.Client
	config     *Config
	stopCh     chan struct{}
	msgHandler MessageHandler
}

// New creates a new Matrix client.
func New(config *Config) (*Client, error) {
	client, err := mautrix.NewClient(config.Homeserver, id.UserID(config.UserID), config.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Matrix client: %w", err)
	}

	c := &Client{
		client: client,
		config: config,
		stopCh: make(chan struct{}),
	}

	// Attach a persistent sync store so the bot resumes from the last known
	// position after a restart instead of replaying the full room history.
	if config.DB != nil {
		client.Store = newDBSyncStore(config.DB)
		slog.Info("Matrix sync store: using persistent SQLite store")
	} else {
		slog.Warn("Matrix sync store: no DB configured, using in-memory store (history will replay on restart)")
	}

	return c, nil
}

// Start begins syncing with the Matrix homeserver.
func (c *Client) Start(ctx context.Context, handler MessageHandler) error {
	c.msgHandler = handler

	// E2EE is not implemented; conversations happen in plaintext rooms.
	slog.Warn("Matrix E2EE is not enabled; messages are transmitted in plaintext")

	syncer := c.client.Syncer.(*mautrix.DefaultSyncer)
	syncer.OnEventType(event.EventMessage, c.handleMessage)
	syncer.OnEventType(event.StateMember, c.handleInvite)

	for _, roomID := range c.config.Rooms {
		if err := c.joinRoom(id.RoomID(roomID)); err != nil {
			return fmt.Errorf("failed to join room %s: %w", roomID, err)
		}
	}

	// Start syncing in background with exponential back-off reconnection.
	// Without retries a transient homeserver error would silently kill the
	// sync goroutine and leave the bot deaf to all new messages.
	go func() {
		backoff := backoffMin
		for {
			if err := c.client.Sync(); err != nil {
				select {
				case <-c.stopCh:
					return
				default:
				}
				slog.Error("Matrix sync stopped; reconnecting", "err", err, "backoff", backoff)
				select {
				case <-c.stopCh:
					return
				case <-time.After(backoff):
				}
				backoff = nextBackoff(backoff)
				continue
			}
			// Sync returned nil — only happens on a clean StopSync() call.
			return
		}
	}()

	return nil
}

// Stop stops the Matrix client.
func (c *Client) Stop() {
	close(c.stopCh)
	c.client.StopSync()
}

// Room returns a responder bound to one room. It satisfies the transport
// interface the bot's router expects.
func (c *Client) Room(roomID string) *RoomResponder {
	return &RoomResponder{client: c, roomID: id.RoomID(roomID)}
}

// UserID returns the client's user ID.
func (c *Client) UserID() string {
	return c.config.UserID
}

// allowed reports whether the bot answers in the given room.
func (c *Client) allowed(roomID string) bool {
	if len(c.config.Rooms) == 0 {
		return true
	}
	for _, r := range c.config.Rooms {
		if r == roomID {
			return true
		}
	}
	return false
}

// handleMessage filters inbound events down to user text messages and hands
// them to the registered handler.
func (c *Client) handleMessage(ctx context.Context, evt *event.Event) {
	if evt.Sender == id.UserID(c.config.UserID) {
		return
	}

	msgContent := evt.Content.AsMessage()
	if msgContent == nil || msgContent.MsgType != event.MsgText {
		return
	}

	if !c.allowed(evt.RoomID.String()) {
		return
	}

	if c.msgHandler != nil {
		c.msgHandler(ctx, Message{
			RoomID:  evt.RoomID.String(),
			Sender:  evt.Sender.String(),
			Body:    msgContent.Body,
			EventID: evt.ID.String(),
		})
	}
}

// handleInvite accepts invites so users can pull the bot into a direct chat.
func (c *Client) handleInvite(ctx context.Context, evt *event.Event) {
	member := evt.Content.AsMember()
	if member == nil || member.Membership != event.MembershipInvite {
		return
	}
	if evt.GetStateKey() != c.config.UserID {
		return
	}
	if !c.allowed(evt.RoomID.String()) {
		slog.Warn("ignoring invite to room outside the allowlist", "room", evt.RoomID)
		return
	}
	if err := c.joinRoom(evt.RoomID); err != nil {
		slog.Error("failed to accept invite", "room", evt.RoomID, "err", err)
	}
}

// joinRoom attempts to join a room.
func (c *Client) joinRoom(roomID id.RoomID) error {
	_, err := c.client.JoinRoomByID(context.Background(), roomID)
	if err != nil {
		// M_FORBIDDEN is returned by homeservers when the bot is already a
		// member of the room.
		if errors.Is(err, mautrix.MForbidden) {
			slog.Warn("joinRoom: already a member or access denied, continuing", "room", roomID)
			return nil
		}
		return err
	}
	return nil
}

// RoomResponder delivers activities to one room.
type RoomResponder struct {
	client *Client
	roomID id.RoomID
}

// SendActivity renders and sends one activity. Plain text goes out as-is;
// cards render to HTML with a plain-text fallback body.
func (r *RoomResponder) SendActivity(ctx context.Context, a dialog.Activity) error {
	plain, html := renderActivity(a)
	if html == "" {
		if _, err := r.client.client.SendText(ctx, r.roomID, plain); err != nil {
			return fmt.Errorf("failed to send message: %w", err)
		}
		return nil
	}

	content := event.MessageEventContent{
		MsgType:       event.MsgText,
		Body:          plain,
		Format:        event.FormatHTML,
		FormattedBody: html,
	}
	if _, err := r.client.client.SendMessageEvent(ctx, r.roomID, event.EventMessage, &content); err != nil {
		return fmt.Errorf("failed to send formatted message: %w", err)
	}
	return nil
}

// SendTyping shows the "working" indicator for this room.
func (r *RoomResponder) SendTyping(ctx context.Context) error {
	if _, err := r.client.client.UserTyping(ctx, r.roomID, true, typingTimeout); err != nil {
		return fmt.Errorf("failed to set typing: %w", err)
	}
	return nil
}
