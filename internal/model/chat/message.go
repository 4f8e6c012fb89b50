package chat

import "time"

// Message is a single chat line in the shared room.
type Message struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Username  string    `json:"username"`
	AuthorID  string    `json:"authorId"`
	Timestamp time.Time `json:"timestamp"`

	// Seq is the insertion sequence of the log; it defines ordering when
	// timestamps collide.
	Seq int64 `json:"-"`
}
