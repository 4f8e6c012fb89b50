package presence

// Command is an inbound request from one connection. The set of commands is
// closed; Coordinator.Handle switches over all of them.
type Command interface {
	Connection() string
	command()
}

// Join asks to authenticate the connection under Username.
type Join struct {
	Conn     string
	Username string
}

// SendMessage posts Content to the room.
type SendMessage struct {
	Conn    string
	Content string
}

// TypingStart announces that the user started typing.
type TypingStart struct {
	Conn string
}

// TypingStop announces that the user stopped typing.
type TypingStop struct {
	Conn string
}

// ClearMessages wipes the whole message log.
type ClearMessages struct {
	Conn string
}

// Disconnect reports that the transport session ended.
type Disconnect struct {
	Conn string
}

func (c Join) Connection() string          { return c.Conn }
func (c SendMessage) Connection() string   { return c.Conn }
func (c TypingStart) Connection() string   { return c.Conn }
func (c TypingStop) Connection() string    { return c.Conn }
func (c ClearMessages) Connection() string { return c.Conn }
func (c Disconnect) Connection() string    { return c.Conn }

func (Join) command()          {}
func (SendMessage) command()   {}
func (TypingStart) command()   {}
func (TypingStop) command()    {}
func (ClearMessages) command() {}
func (Disconnect) command()    {}
