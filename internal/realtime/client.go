package realtime

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"studybuddy-backend/internal/models"
	"studybuddy-backend/internal/roster"
)

const (
	viewRoster       = "roster"
	viewInbox        = "inbox"
	viewConversation = "conversation"
)

const fetchTimeout = 5 * time.Second

// clientFrame is what the browser sends: subscribe/unsubscribe plus the
// view it wants and any view parameters.
type clientFrame struct {
	Type       string    `json:"type"`
	View       string    `json:"view"`
	With       uuid.UUID `json:"with,omitempty"`
	Department string    `json:"department,omitempty"`
	Course     string    `json:"course,omitempty"`
}

// serverFrame is a pushed snapshot or control frame.
type serverFrame struct {
	Type string    `json:"type"`
	With uuid.UUID `json:"with,omitempty"`
	Data any       `json:"data,omitempty"`
}

type client struct {
	hub    *Hub
	userID uuid.UUID
	conn   *websocket.Conn
	subs   *subscriptionSet

	writeMu sync.Mutex
	closed  bool
}

func newClient(h *Hub, userID uuid.UUID, conn *websocket.Conn) *client {
	return &client{
		hub:    h,
		userID: userID,
		conn:   conn,
		subs:   newSubscriptionSet(),
	}
}

func (c *client) readLoop() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var frame clientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}

		switch frame.Type {
		case "subscribe":
			c.subscribe(frame)
		case "unsubscribe":
			c.subs.remove(viewKey(frame))
		}
	}
}

func (c *client) teardown() {
	c.subs.closeAll()

	c.writeMu.Lock()
	c.closed = true
	c.conn.Close()
	c.writeMu.Unlock()
}

// subscribe installs (or replaces) the subscription for a logical view and
// starts its refresh loop. The poll ticker and feed pokes both land on the
// same refresh function.
func (c *client) subscribe(frame clientFrame) {
	key := viewKey(frame)

	var refresh func(ctx context.Context) (serverFrame, error)
	switch frame.View {
	case viewRoster:
		filter := roster.Filter{Department: frame.Department, Course: frame.Course}
		refresh = func(ctx context.Context) (serverFrame, error) {
			view, err := c.hub.sessions.Roster(ctx, c.userID, filter)
			if err != nil {
				return serverFrame{}, err
			}
			return serverFrame{Type: viewRoster, Data: view}, nil
		}
	case viewInbox:
		refresh = func(ctx context.Context) (serverFrame, error) {
			summaries, err := c.hub.messages.Inbox(ctx, c.userID)
			if err != nil {
				return serverFrame{}, err
			}
			return serverFrame{Type: viewInbox, Data: summaries}, nil
		}
	case viewConversation:
		if frame.With == uuid.Nil {
			return
		}
		other := frame.With
		refresh = func(ctx context.Context) (serverFrame, error) {
			// The subscriber has this thread open, so inbound messages are
			// read the moment they are fetched.
			if err := c.hub.messages.MarkConversationRead(ctx, c.userID, other); err != nil {
				log.Printf("mark conversation read failed: %v", err)
			}
			thread, err := c.hub.messages.Conversation(ctx, c.userID, other)
			if err != nil {
				return serverFrame{}, err
			}
			return serverFrame{Type: viewConversation, With: other, Data: thread}, nil
		}
	default:
		return
	}

	sub := c.subs.add(key)
	go c.runView(sub, refresh)
}

// runView is the shared refresh loop: fetch-and-replace on subscribe, on
// every poll tick, and on every feed poke. A refresh failure is logged and
// retried on the next trigger, never pushed to the user.
func (c *client) runView(sub *subscription, refresh func(ctx context.Context) (serverFrame, error)) {
	ticker := time.NewTicker(c.hub.pollInterval)
	defer ticker.Stop()

	for {
		c.refreshView(sub, refresh)

		select {
		case <-sub.done:
			return
		case <-ticker.C:
		case <-sub.notify:
		}
	}
}

func (c *client) refreshView(sub *subscription, refresh func(ctx context.Context) (serverFrame, error)) {
	if sub.closed() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
	frame, err := refresh(ctx)
	cancel()
	if err != nil {
		log.Printf("view %s refresh failed: %v", sub.key, err)
		return
	}

	// Stale-response guard: the view may have been torn down while the
	// fetch was in flight.
	if sub.closed() {
		return
	}

	c.write(frame)
}

// handleEvent routes one feed envelope to the affected subscriptions. The
// payload is only ever used to decide who cares; the data pushed to the
// client always comes from a fresh fetch.
func (c *client) handleEvent(env models.ChangeEvent) {
	switch env.Table {
	case models.TableSessions:
		if env.Event == models.EventDelete {
			if s, ok := sessionFromEvent(env); ok && s.UserID == c.userID {
				// My own session was deleted elsewhere (another tab left,
				// or it was evicted). Force this client out.
				c.write(serverFrame{Type: "session_ended"})
				return
			}
		}
		if sub, ok := c.subs.get(viewRoster); ok {
			sub.poke()
		}

	case models.TableMessages:
		if sub, ok := c.subs.get(viewInbox); ok {
			sub.poke()
		}
		m, ok := messageFromEvent(env)
		if !ok {
			return
		}
		other := m.FromUser
		if other == c.userID {
			other = m.ToUser
		}
		if sub, ok := c.subs.get(conversationKey(other)); ok {
			sub.poke()
		}
	}
}

func (c *client) write(frame serverFrame) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed {
		return
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		log.Printf("WebSocket write failed: %v", err)
	}
}

func viewKey(frame clientFrame) string {
	if frame.View == viewConversation {
		return conversationKey(frame.With)
	}
	return frame.View
}

func conversationKey(other uuid.UUID) string {
	return viewConversation + ":" + other.String()
}
