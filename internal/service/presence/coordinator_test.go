package presence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/tao-chat/backend/internal/model/chat"
	chatservice "github.com/zhouzirui/tao-chat/backend/internal/service/chat"
	"github.com/zhouzirui/tao-chat/backend/internal/service/roster"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
	refuse bool
}

func (r *recorder) Deliver(evt Event) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.refuse {
		return false
	}
	r.events = append(r.events, evt)
	return true
}

func (r *recorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, len(r.events))
	for i, evt := range r.events {
		names[i] = evt.Name()
	}
	return names
}

func (r *recorder) last(name string) (Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].Name() == name {
			return r.events[i], true
		}
	}
	return nil, false
}

func (r *recorder) reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

type fixture struct {
	coord    *Coordinator
	users    *roster.MemoryStore
	messages *chatservice.Service
}

func newFixture() *fixture {
	users := roster.NewMemoryStore(0)
	messages := chatservice.NewService(chatservice.Options{})
	return &fixture{
		coord:    New(users, messages, Options{}),
		users:    users,
		messages: messages,
	}
}

func (f *fixture) connect(conn string) *recorder {
	out := &recorder{}
	f.coord.Connect(conn, out)
	return out
}

func (f *fixture) join(t *testing.T, conn, username string) *recorder {
	t.Helper()
	out := f.connect(conn)
	require.NoError(t, f.coord.Handle(context.Background(), Join{Conn: conn, Username: username}))
	return out
}

func activeNames(t *testing.T, f *fixture) []string {
	t.Helper()
	users, err := f.users.ActiveRoster(context.Background())
	require.NoError(t, err)
	names := make([]string, len(users))
	for i, u := range users {
		names[i] = u.Username
	}
	return names
}

func TestJoinEmitsEventsInOrder(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	alice := f.join(t, "c-alice", "alice")
	assert.Equal(t, []string{EventJoined, EventMessageHistory, EventUsersUpdated}, alice.names())

	evt, _ := alice.last(EventJoined)
	joined := evt.(Joined)
	assert.Equal(t, "alice", joined.User.Username)
	assert.True(t, joined.User.BoundTo("c-alice"))

	alice.reset()
	bob := f.connect("c-bob")
	require.NoError(t, f.coord.Handle(ctx, Join{Conn: "c-bob", Username: "bob"}))

	assert.Equal(t, []string{EventUserJoined, EventUsersUpdated}, alice.names())
	assert.Equal(t, []string{EventJoined, EventMessageHistory, EventUsersUpdated}, bob.names())

	evt, _ = alice.last(EventUserJoined)
	assert.Equal(t, "bob", evt.(UserJoined).Username)

	evt, _ = bob.last(EventUsersUpdated)
	assert.Len(t, evt.(UsersUpdated).Users, 2)
}

func TestJoinDistinctUsernames(t *testing.T) {
	f := newFixture()
	for i := 0; i < 10; i++ {
		f.join(t, fmt.Sprintf("c-%d", i), fmt.Sprintf("user%d", i))
	}
	assert.Len(t, activeNames(t, f), 10)
	assert.Equal(t, Stats{Connections: 10, Online: 10}, f.coord.Stats())
}

func TestConcurrentJoinSameUsername(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	const conns = 8
	for i := 0; i < conns; i++ {
		f.connect(fmt.Sprintf("c-%d", i))
	}

	errs := make([]error, conns)
	var wg sync.WaitGroup
	for i := 0; i < conns; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = f.coord.Handle(ctx, Join{Conn: fmt.Sprintf("c-%d", i), Username: "alice"})
		}(i)
	}
	wg.Wait()

	var ok, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, chat.ErrConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, conns-1, conflicts)
	assert.Equal(t, []string{"alice"}, activeNames(t, f))
	assert.Equal(t, 1, f.users.Count())
}

func TestJoinConflictIsScopedAndRetryable(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	alice := f.join(t, "c-1", "alice")
	alice.reset()

	other := f.connect("c-2")
	err := f.coord.Handle(ctx, Join{Conn: "c-2", Username: "alice"})
	require.ErrorIs(t, err, chat.ErrConflict)

	assert.Equal(t, []string{EventError}, other.names())
	evt, _ := other.last(EventError)
	assert.Equal(t, "Username already taken", evt.(Error).Message)
	assert.Empty(t, alice.names(), "errors are never broadcast")

	require.NoError(t, f.coord.Handle(ctx, Join{Conn: "c-2", Username: "bob"}))
	assert.Equal(t, []string{"alice", "bob"}, activeNames(t, f))
}

func TestJoinValidationError(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	out := f.connect("c-1")

	err := f.coord.Handle(ctx, Join{Conn: "c-1", Username: "   "})
	require.ErrorIs(t, err, chat.ErrValidation)
	assert.Equal(t, []string{EventError}, out.names())

	// Still unauthenticated.
	err = f.coord.Handle(ctx, SendMessage{Conn: "c-1", Content: "hi"})
	require.ErrorIs(t, err, chat.ErrUnauthenticated)
}

func TestJoinTwiceIsRejected(t *testing.T) {
	f := newFixture()
	out := f.join(t, "c-1", "alice")
	out.reset()

	err := f.coord.Handle(context.Background(), Join{Conn: "c-1", Username: "alice2"})
	require.ErrorIs(t, err, chat.ErrValidation)
	assert.Equal(t, []string{EventError}, out.names())
	assert.Equal(t, []string{"alice"}, activeNames(t, f))
}

func TestRejoinAfterDisconnectReusesIdentity(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	first := f.join(t, "c-1", "alice")
	evt, _ := first.last(EventJoined)
	firstID := evt.(Joined).User.ID

	require.NoError(t, f.coord.Handle(ctx, Disconnect{Conn: "c-1"}))
	assert.Empty(t, activeNames(t, f))

	second := f.join(t, "c-2", "alice")
	evt, _ = second.last(EventJoined)
	assert.Equal(t, firstID, evt.(Joined).User.ID)
	assert.Equal(t, 1, f.users.Count())
}

func TestMessageBroadcastScenario(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	alice := f.join(t, "c-alice", "alice")
	bob := f.join(t, "c-bob", "bob")

	evt, _ := alice.last(EventUsersUpdated)
	assert.Len(t, evt.(UsersUpdated).Users, 2)
	evt, _ = bob.last(EventUsersUpdated)
	assert.Len(t, evt.(UsersUpdated).Users, 2)

	require.NoError(t, f.coord.Handle(ctx, SendMessage{Conn: "c-alice", Content: "hi"}))

	for _, out := range []*recorder{alice, bob} {
		evt, ok := out.last(EventNewMessage)
		require.True(t, ok)
		msg := evt.(NewMessage).Message
		assert.Equal(t, "hi", msg.Content)
		assert.Equal(t, "alice", msg.Username)
	}
}

func TestMessageHistoryOnJoin(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.join(t, "c-alice", "alice")
	for i := 0; i < 3; i++ {
		require.NoError(t, f.coord.Handle(ctx, SendMessage{Conn: "c-alice", Content: fmt.Sprintf("m%d", i)}))
	}

	bob := f.join(t, "c-bob", "bob")
	evt, ok := bob.last(EventMessageHistory)
	require.True(t, ok)
	history := evt.(MessageHistory).Messages
	require.Len(t, history, 3)
	assert.Equal(t, "m0", history[0].Content)
}

func TestSendMessageErrors(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	anon := f.connect("c-anon")
	err := f.coord.Handle(ctx, SendMessage{Conn: "c-anon", Content: "hi"})
	require.ErrorIs(t, err, chat.ErrUnauthenticated)
	evt, _ := anon.last(EventError)
	assert.Equal(t, "Not authenticated", evt.(Error).Message)

	alice := f.join(t, "c-alice", "alice")
	bob := f.join(t, "c-bob", "bob")
	alice.reset()
	bob.reset()

	err = f.coord.Handle(ctx, SendMessage{Conn: "c-alice", Content: "  "})
	require.ErrorIs(t, err, chat.ErrValidation)
	assert.Equal(t, []string{EventError}, alice.names())
	assert.Empty(t, bob.names())
}

func TestTypingScenario(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	alice := f.join(t, "c-alice", "alice")
	bob := f.join(t, "c-bob", "bob")
	alice.reset()
	bob.reset()

	require.NoError(t, f.coord.Handle(ctx, TypingStart{Conn: "c-alice"}))
	require.NoError(t, f.coord.Handle(ctx, TypingStop{Conn: "c-alice"}))

	assert.Empty(t, alice.names())
	require.Equal(t, []string{EventUserTyping, EventUserTyping}, bob.names())
	assert.Equal(t, UserTyping{Username: "alice", IsTyping: true}, bob.events[0])
	assert.Equal(t, UserTyping{Username: "alice", IsTyping: false}, bob.events[1])
}

func TestTypingIgnoredWhenUnauthenticated(t *testing.T) {
	f := newFixture()
	bob := f.join(t, "c-bob", "bob")
	bob.reset()
	anon := f.connect("c-anon")

	require.NoError(t, f.coord.Handle(context.Background(), TypingStart{Conn: "c-anon"}))
	assert.Empty(t, bob.names())
	assert.Empty(t, anon.names())
}

func TestClearMessages(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	alice := f.join(t, "c-alice", "alice")
	bob := f.join(t, "c-bob", "bob")
	require.NoError(t, f.coord.Handle(ctx, SendMessage{Conn: "c-alice", Content: "hi"}))

	anon := f.connect("c-anon")
	require.NoError(t, f.coord.Handle(ctx, ClearMessages{Conn: "c-anon"}))
	assert.Equal(t, 1, f.messages.Len())
	assert.Empty(t, anon.names())

	require.NoError(t, f.coord.Handle(ctx, ClearMessages{Conn: "c-bob"}))
	assert.Zero(t, f.messages.Len())

	for _, out := range []*recorder{alice, bob} {
		evt, ok := out.last(EventMessagesCleared)
		require.True(t, ok)
		assert.Equal(t, "bob", evt.(MessagesCleared).Username)
	}
}

func TestDisconnectBroadcastsAndIsIdempotent(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	alice := f.join(t, "c-alice", "alice")
	f.join(t, "c-bob", "bob")
	alice.reset()

	require.NoError(t, f.coord.Handle(ctx, Disconnect{Conn: "c-bob"}))
	assert.Equal(t, []string{EventUserLeft, EventUsersUpdated}, alice.names())
	evt, _ := alice.last(EventUserLeft)
	assert.Equal(t, "bob", evt.(UserLeft).Username)
	evt, _ = alice.last(EventUsersUpdated)
	assert.Len(t, evt.(UsersUpdated).Users, 1)

	require.NoError(t, f.coord.Handle(ctx, Disconnect{Conn: "c-bob"}))
	assert.Len(t, alice.names(), 2)
	assert.Equal(t, []string{"alice"}, activeNames(t, f))

	err := f.coord.Handle(ctx, SendMessage{Conn: "c-bob", Content: "ghost"})
	require.ErrorIs(t, err, ErrUnknownConnection)
}

func TestDisconnectUnauthenticatedIsSilent(t *testing.T) {
	f := newFixture()
	alice := f.join(t, "c-alice", "alice")
	alice.reset()
	f.connect("c-anon")

	require.NoError(t, f.coord.Handle(context.Background(), Disconnect{Conn: "c-anon"}))
	assert.Empty(t, alice.names())
	assert.Equal(t, Stats{Connections: 1, Online: 1}, f.coord.Stats())
}

func TestFailedDeliveryDoesNotAffectOthers(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	alice := f.join(t, "c-alice", "alice")
	bob := f.join(t, "c-bob", "bob")
	bob.mu.Lock()
	bob.refuse = true
	bob.mu.Unlock()

	require.NoError(t, f.coord.Handle(ctx, SendMessage{Conn: "c-alice", Content: "hi"}))
	_, ok := alice.last(EventNewMessage)
	assert.True(t, ok)
	assert.Equal(t, 1, f.messages.Len(), "mutation is kept when a delivery fails")
}

type failingLog struct {
	chatservice.Log
}

func (failingLog) Recent(context.Context, int) ([]chat.Message, error) {
	return nil, errors.New("disk on fire")
}

func (failingLog) Append(context.Context, string, string, string) (chat.Message, error) {
	return chat.Message{}, errors.New("disk on fire")
}

func TestInternalErrorsAreGeneric(t *testing.T) {
	users := roster.NewMemoryStore(0)
	coord := New(users, failingLog{}, Options{})
	ctx := context.Background()

	out := &recorder{}
	coord.Connect("c-1", out)
	err := coord.Handle(ctx, Join{Conn: "c-1", Username: "alice"})
	require.ErrorIs(t, err, chat.ErrInternal)

	evt, ok := out.last(EventError)
	require.True(t, ok)
	assert.Equal(t, "Failed to join chat", evt.(Error).Message)

	// The bind was rolled back, so the name is free again.
	active, err := users.ActiveRoster(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)
}

// stallingLog blocks in Recent until the caller's context expires.
type stallingLog struct {
	chatservice.Log
	entered chan struct{}
}

func (l stallingLog) Recent(ctx context.Context, _ int) ([]chat.Message, error) {
	close(l.entered)
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestStalledStoreTimesOutAndReleasesLock(t *testing.T) {
	users := roster.NewMemoryStore(0)
	stalled := stallingLog{entered: make(chan struct{})}
	coord := New(users, stalled, Options{StoreTimeout: 100 * time.Millisecond})

	alice := &recorder{}
	coord.Connect("c-1", alice)

	joinErr := make(chan error, 1)
	go func() {
		joinErr <- coord.Handle(context.Background(), Join{Conn: "c-1", Username: "alice"})
	}()
	<-stalled.entered

	connected := make(chan struct{})
	go func() {
		coord.Connect("c-2", &recorder{})
		close(connected)
	}()

	select {
	case <-connected:
	case <-time.After(2 * time.Second):
		t.Fatal("Connect stayed blocked behind a stalled store call")
	}

	err := <-joinErr
	require.ErrorIs(t, err, chat.ErrInternal)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	evt, ok := alice.last(EventError)
	require.True(t, ok)
	assert.Equal(t, "Failed to join chat", evt.(Error).Message)

	active, err := users.ActiveRoster(context.Background())
	require.NoError(t, err)
	assert.Empty(t, active)
	assert.Equal(t, Stats{Connections: 2, Online: 0}, coord.Stats())
}
