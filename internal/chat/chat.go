// Package chat holds the Talk2Me domain entities: users, messages and
// chats with their per-member unseen queues. None of these types are
// synchronized on their own; every access goes through the store, whose
// mutex serializes all mutations.
package chat

import "time"

// TimeLayout is the wire representation of message timestamps.
const TimeLayout = "2006-01-02 15:04:05"

// User is an account. Identity is the username alone; the digest is the
// hex-encoded SHA-256 of the password and never changes after creation.
type User struct {
	Name           string
	PasswordDigest string
}

// Message is one accepted chat message. Sender is a username rather than
// a *User so snapshots and chats never hold cyclic references.
type Message struct {
	Sender string
	Text   string
	SentAt time.Time
}

// Chat is a named room: a member set, the full ordered history and one
// unseen queue per member. The unseen map keys always equal the member
// set.
type Chat struct {
	name    string
	members map[string]struct{}
	history []Message
	unseen  map[string][]Message
}

// New returns an empty chat with the given name.
func New(name string) *Chat {
	return &Chat{
		name:    name,
		members: make(map[string]struct{}),
		unseen:  make(map[string][]Message),
	}
}

// Restore rebuilds a chat from snapshot data.
func Restore(name string, members []string, history []Message, unseen map[string][]Message) *Chat {
	c := New(name)
	for _, m := range members {
		c.members[m] = struct{}{}
		c.unseen[m] = nil
	}
	c.history = history
	for user, msgs := range unseen {
		if _, ok := c.members[user]; ok {
			c.unseen[user] = msgs
		}
	}
	return c
}

func (c *Chat) Name() string { return c.name }

// AddMember adds a user to the chat and initializes their unseen queue.
// Adding an existing member is a no-op and keeps their queue.
func (c *Chat) AddMember(username string) {
	if _, ok := c.members[username]; ok {
		return
	}
	c.members[username] = struct{}{}
	c.unseen[username] = nil
}

// RemoveMember drops a user from the member set and discards their
// unseen queue.
func (c *Chat) RemoveMember(username string) {
	delete(c.members, username)
	delete(c.unseen, username)
}

func (c *Chat) IsMember(username string) bool {
	_, ok := c.members[username]
	return ok
}

// Members returns the current member set. Ordering is not specified.
func (c *Chat) Members() []string {
	out := make([]string, 0, len(c.members))
	for m := range c.members {
		out = append(out, m)
	}
	return out
}

// Send appends the message to the history and to the unseen queue of
// every member except the sender.
func (c *Chat) Send(m Message) {
	c.history = append(c.history, m)
	for member := range c.members {
		if member == m.Sender {
			continue
		}
		c.unseen[member] = append(c.unseen[member], m)
	}
}

// TakeUnseen returns the user's unseen queue and resets it to empty.
func (c *Chat) TakeUnseen(username string) []Message {
	msgs := c.unseen[username]
	if _, ok := c.members[username]; ok {
		c.unseen[username] = nil
	}
	return msgs
}

// History returns the full ordered message history.
func (c *Chat) History() []Message {
	return c.history
}

// Unseen returns a copy of the unseen queues, for snapshotting.
func (c *Chat) Unseen() map[string][]Message {
	out := make(map[string][]Message, len(c.unseen))
	for user, msgs := range c.unseen {
		out[user] = append([]Message(nil), msgs...)
	}
	return out
}

// Len is the number of messages ever sent to the chat.
func (c *Chat) Len() int { return len(c.history) }
