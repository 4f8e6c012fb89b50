package presence

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/zhouzirui/tao-chat/backend/internal/model/chat"
	chatservice "github.com/zhouzirui/tao-chat/backend/internal/service/chat"
	"github.com/zhouzirui/tao-chat/backend/internal/service/roster"
)

// ErrUnknownConnection is returned for commands from a connection that was
// never registered or has already disconnected.
var ErrUnknownConnection = errors.New("unknown connection")

// Outbox hands events to one connection's transport. Deliver must not block;
// it returns false when the event could not be queued.
type Outbox interface {
	Deliver(evt Event) bool
}

// DefaultStoreTimeout bounds the store calls made by one command.
const DefaultStoreTimeout = 5 * time.Second

// Options tunes a Coordinator.
type Options struct {
	// HistoryLimit is the number of messages sent after a join.
	HistoryLimit int
	// StoreTimeout bounds the store calls of one command; the coordinator
	// lock is held across them.
	StoreTimeout time.Duration
}

type session struct {
	chat.ConnectionSession
	out Outbox
}

// Coordinator owns the connection lifecycle. Every command runs under one
// lock, so store mutations are linearizable and every recipient observes
// events in the order they were issued.
type Coordinator struct {
	mu       sync.Mutex
	users    roster.Store
	messages chatservice.Log
	opts     Options
	sessions map[string]*session
}

// New returns a Coordinator that exclusively owns users and messages.
func New(users roster.Store, messages chatservice.Log, opts Options) *Coordinator {
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = chat.DefaultRecentLimit
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = DefaultStoreTimeout
	}
	return &Coordinator{
		users:    users,
		messages: messages,
		opts:     opts,
		sessions: make(map[string]*session),
	}
}

// Connect registers a new, unauthenticated connection.
func (c *Coordinator) Connect(conn string, out Outbox) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.sessions[conn]; exists {
		return
	}
	c.sessions[conn] = &session{
		ConnectionSession: chat.ConnectionSession{ConnID: conn, State: chat.StateUnauthenticated},
		out:               out,
	}
}

// Handle processes one inbound command. Failures are reported to the
// originating connection as an error event and also returned.
func (c *Coordinator) Handle(ctx context.Context, cmd Command) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess, ok := c.sessions[cmd.Connection()]
	if !ok {
		if _, isDisconnect := cmd.(Disconnect); isDisconnect {
			return nil
		}
		return ErrUnknownConnection
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.StoreTimeout)
	defer cancel()

	switch cmd := cmd.(type) {
	case Join:
		return c.join(ctx, sess, cmd.Username)
	case SendMessage:
		return c.sendMessage(ctx, sess, cmd.Content)
	case TypingStart:
		c.typing(sess, true)
		return nil
	case TypingStop:
		c.typing(sess, false)
		return nil
	case ClearMessages:
		return c.clearMessages(ctx, sess)
	case Disconnect:
		return c.disconnect(ctx, sess)
	default:
		return fmt.Errorf("%w: unsupported command %T", chat.ErrInternal, cmd)
	}
}

// Stats is a point-in-time view of connection counts.
type Stats struct {
	Connections int `json:"connections"`
	Online      int `json:"online"`
}

// Stats counts open and authenticated connections.
func (c *Coordinator) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := Stats{Connections: len(c.sessions)}
	for _, sess := range c.sessions {
		if sess.Authenticated() {
			stats.Online++
		}
	}
	return stats
}

func (c *Coordinator) join(ctx context.Context, sess *session, username string) error {
	if sess.Authenticated() {
		return c.reject(sess, "join", chat.ErrAlreadyJoined, "")
	}

	identity, err := c.users.ResolveOrCreate(ctx, username)
	if err != nil {
		return c.reject(sess, "join", err, "Failed to join chat")
	}

	identity, err = c.users.Bind(ctx, identity.ID, sess.ConnID, c.aliveLocked)
	if err != nil {
		return c.reject(sess, "join", err, "Failed to join chat")
	}

	history, err := c.messages.Recent(ctx, c.opts.HistoryLimit)
	if err != nil {
		rollbackCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.StoreTimeout)
		defer cancel()
		if unbindErr := c.users.Unbind(rollbackCtx, sess.ConnID); unbindErr != nil {
			log.Printf("[presence] rollback bind for %s failed: %v", sess.ConnID, unbindErr)
		}
		return c.reject(sess, "join", err, "Failed to join chat")
	}

	sess.State = chat.StateAuthenticated
	sess.UserID = identity.ID
	sess.Username = identity.Username
	log.Printf("[presence] %s joined as %q (%s)", sess.ConnID, identity.Username, sess.State)

	c.deliver(sess, Joined{User: identity})
	c.deliver(sess, MessageHistory{Messages: history})
	c.broadcast(UserJoined{Username: identity.Username}, sess.ConnID)
	c.broadcastRoster(ctx)
	return nil
}

func (c *Coordinator) sendMessage(ctx context.Context, sess *session, content string) error {
	if !sess.Authenticated() {
		return c.reject(sess, "send", chat.ErrNotAuthenticated, "")
	}

	message, err := c.messages.Append(ctx, content, sess.Username, sess.UserID)
	if err != nil {
		return c.reject(sess, "send", err, "Failed to send message")
	}

	c.broadcast(NewMessage{Message: message}, "")
	return nil
}

func (c *Coordinator) typing(sess *session, isTyping bool) {
	if !sess.Authenticated() {
		return
	}
	c.broadcast(UserTyping{Username: sess.Username, IsTyping: isTyping}, sess.ConnID)
}

func (c *Coordinator) clearMessages(ctx context.Context, sess *session) error {
	if !sess.Authenticated() {
		return nil
	}

	if err := c.messages.Clear(ctx); err != nil {
		return c.reject(sess, "clear", err, "Failed to clear messages")
	}

	log.Printf("[presence] message log cleared by %q", sess.Username)
	c.broadcast(MessagesCleared{Username: sess.Username}, "")
	return nil
}

func (c *Coordinator) disconnect(ctx context.Context, sess *session) error {
	wasAuthenticated := sess.Authenticated()
	log.Printf("[presence] %s closing from %s", sess.ConnID, sess.State)
	sess.State = chat.StateClosed
	delete(c.sessions, sess.ConnID)

	if !wasAuthenticated {
		return nil
	}

	identity, found, err := c.users.FindByConnection(ctx, sess.ConnID)
	if err != nil {
		log.Printf("[presence] lookup on disconnect %s failed: %v", sess.ConnID, err)
		return asInternal(err)
	}
	if !found {
		return nil
	}

	if err := c.users.Unbind(ctx, sess.ConnID); err != nil {
		log.Printf("[presence] unbind on disconnect %s failed: %v", sess.ConnID, err)
		return asInternal(err)
	}
	log.Printf("[presence] %s left (%q)", sess.ConnID, identity.Username)

	c.broadcast(UserLeft{Username: identity.Username}, "")
	c.broadcastRoster(ctx)
	return nil
}

// reject reports err to the requester only. User errors are shown verbatim;
// anything else is logged and replaced by generic.
func (c *Coordinator) reject(sess *session, op string, err error, generic string) error {
	message := err.Error()
	if !chat.IsUserError(err) {
		log.Printf("[presence] %s failed for %s: %v", op, sess.ConnID, err)
		message = generic
		err = asInternal(err)
	}
	c.deliver(sess, Error{Message: message})
	return err
}

func (c *Coordinator) broadcastRoster(ctx context.Context) {
	users, err := c.users.ActiveRoster(ctx)
	if err != nil {
		log.Printf("[presence] roster snapshot failed: %v", err)
		return
	}
	c.broadcast(UsersUpdated{Users: users}, "")
}

// broadcast delivers evt to every authenticated session except the one
// identified by except.
func (c *Coordinator) broadcast(evt Event, except string) {
	for id, sess := range c.sessions {
		if id == except || !sess.Authenticated() {
			continue
		}
		c.deliver(sess, evt)
	}
}

func (c *Coordinator) deliver(sess *session, evt Event) {
	if !sess.out.Deliver(evt) {
		log.Printf("[presence] dropped %s for %s", evt.Name(), sess.ConnID)
	}
}

// aliveLocked is the roster liveness check; c.mu must be held.
func (c *Coordinator) aliveLocked(conn string) bool {
	sess, ok := c.sessions[conn]
	return ok && sess.State != chat.StateClosed
}

func asInternal(err error) error {
	if errors.Is(err, chat.ErrInternal) {
		return err
	}
	return fmt.Errorf("%w: %w", chat.ErrInternal, err)
}
