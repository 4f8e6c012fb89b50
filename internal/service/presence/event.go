package presence

import "github.com/zhouzirui/tao-chat/backend/internal/model/chat"

// Outbound event names, as seen on the wire.
const (
	EventJoined          = "joined"
	EventMessageHistory  = "message_history"
	EventNewMessage      = "new_message"
	EventUsersUpdated    = "users_updated"
	EventUserJoined      = "user_joined"
	EventUserLeft        = "user_left"
	EventUserTyping      = "user_typing"
	EventMessagesCleared = "messages_cleared"
	EventError           = "error"
)

// Event is an outbound notification for one or more connections.
type Event interface {
	Name() string
	// Payload is the value serialized as the event's data.
	Payload() any
	event()
}

// Joined confirms a successful join to the requester.
type Joined struct {
	User chat.Identity `json:"user"`
}

// MessageHistory carries the recent messages sent right after a join.
type MessageHistory struct {
	Messages []chat.Message
}

// NewMessage is broadcast for every accepted message.
type NewMessage struct {
	Message chat.Message
}

// UsersUpdated carries a fresh roster snapshot.
type UsersUpdated struct {
	Users []chat.Identity
}

// UserJoined tells the other participants that someone joined.
type UserJoined struct {
	Username string `json:"username"`
}

// UserLeft tells the remaining participants that someone left.
type UserLeft struct {
	Username string `json:"username"`
}

// UserTyping relays a typing notice.
type UserTyping struct {
	Username string `json:"username"`
	IsTyping bool   `json:"isTyping"`
}

// MessagesCleared reports that the log was wiped and by whom.
type MessagesCleared struct {
	Username string `json:"username"`
}

// Error is a failure scoped to the connection that caused it.
type Error struct {
	Message string `json:"message"`
}

func (Joined) Name() string          { return EventJoined }
func (MessageHistory) Name() string  { return EventMessageHistory }
func (NewMessage) Name() string      { return EventNewMessage }
func (UsersUpdated) Name() string    { return EventUsersUpdated }
func (UserJoined) Name() string      { return EventUserJoined }
func (UserLeft) Name() string        { return EventUserLeft }
func (UserTyping) Name() string      { return EventUserTyping }
func (MessagesCleared) Name() string { return EventMessagesCleared }
func (Error) Name() string           { return EventError }

func (e Joined) Payload() any          { return e }
func (e MessageHistory) Payload() any  { return nonNilMessages(e.Messages) }
func (e NewMessage) Payload() any      { return e.Message }
func (e UsersUpdated) Payload() any    { return nonNilUsers(e.Users) }
func (e UserJoined) Payload() any      { return e }
func (e UserLeft) Payload() any        { return e }
func (e UserTyping) Payload() any      { return e }
func (e MessagesCleared) Payload() any { return e }
func (e Error) Payload() any           { return e }

func (Joined) event()          {}
func (MessageHistory) event()  {}
func (NewMessage) event()      {}
func (UsersUpdated) event()    {}
func (UserJoined) event()      {}
func (UserLeft) event()        {}
func (UserTyping) event()      {}
func (MessagesCleared) event() {}
func (Error) event()           {}

// Arrays must encode as [] rather than null.
func nonNilMessages(m []chat.Message) []chat.Message {
	if m == nil {
		return []chat.Message{}
	}
	return m
}

func nonNilUsers(u []chat.Identity) []chat.Identity {
	if u == nil {
		return []chat.Identity{}
	}
	return u
}
