// Package store is the process-wide registry of users, chats, sessions
// and front-server federation state. A single mutex serializes every
// operation; the snapshot write is the only I/O and happens outside the
// lock.
package store

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"talk2me/internal/chat"
	"talk2me/internal/wire"
)

// Store holds all mutable server state.
type Store struct {
	mu sync.Mutex

	users    map[string]*chat.User
	chats    map[string]*chat.Chat
	sessions map[string]string // token -> username

	// Front-server only: which chat server owns each delegated chat,
	// and how many chats each server carries.
	chatHome map[string]string
	load     map[string]int

	reqCount   int64
	avgLatency float64 // seconds, running mean

	snapshotPath string
}

// New creates a Store backed by the snapshot file at path. If the file
// exists the full state is restored from it; otherwise the store starts
// empty with a zero load entry per configured chat server.
func New(path string, chatServers []string) (*Store, error) {
	s := &Store{
		users:        make(map[string]*chat.User),
		chats:        make(map[string]*chat.Chat),
		sessions:     make(map[string]string),
		chatHome:     make(map[string]string),
		load:         make(map[string]int),
		snapshotPath: path,
	}

	restored, err := s.restore()
	if err != nil {
		return nil, err
	}
	if !restored {
		for _, addr := range chatServers {
			s.load[addr] = 0
		}
	}
	return s, nil
}

// --- User management ---

// ExistsUser reports whether the username is registered.
func (s *Store) ExistsUser(username string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.users[username]
	return ok
}

// CreateUser registers a user. The password is digested with SHA-256
// unless alreadyHashed is set, in which case it is stored verbatim (the
// federation provisioning path, where only the digest travels).
func (s *Store) CreateUser(username, password string, alreadyHashed bool) {
	digest := password
	if !alreadyHashed {
		digest = HashPassword(password)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[username] = &chat.User{Name: username, PasswordDigest: digest}
}

// VerifyPassword checks the password for a registered user. The digest
// comparison is constant time.
func (s *Store) VerifyPassword(username, password string) bool {
	digest := HashPassword(password)
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[username]
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(digest), []byte(u.PasswordDigest)) == 1
}

// PasswordDigest returns the stored digest for a user, for provisioning
// accounts on a chat server.
func (s *Store) PasswordDigest(username string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[username]
	if !ok {
		return "", false
	}
	return u.PasswordDigest, true
}

// OpenSession issues a fresh 64-hex-char token for the user.
func (s *Store) OpenSession(username string) string {
	token := newToken()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[token] = username
	return token
}

// CloseSession removes the token. Closing an unknown token is a no-op so
// teardown paths can retry safely.
func (s *Store) CloseSession(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, token)
}

// IsLoggedIn reports whether the token maps to an open session.
func (s *Store) IsLoggedIn(token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sessions[token]
	return ok
}

// SessionUser resolves a token to its username.
func (s *Store) SessionUser(token string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	username, ok := s.sessions[token]
	return username, ok
}

// --- Chat management ---

// ExistsChat reports whether the chat name is taken.
func (s *Store) ExistsChat(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.chats[name]
	return ok
}

// CreateChat adds an empty chat under the given name.
func (s *Store) CreateChat(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chats[name] = chat.New(name)
}

// AddUserToChat adds a registered user to an existing chat.
func (s *Store) AddUserToChat(username, chatName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[chatName]
	if !ok {
		return
	}
	if _, ok := s.users[username]; !ok {
		return
	}
	c.AddMember(username)
}

// RemoveUserFromChat drops the user from the chat's member set and
// discards their unseen queue. The chat itself is kept even when its
// last member leaves.
func (s *Store) RemoveUserFromChat(username, chatName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.chats[chatName]; ok {
		c.RemoveMember(username)
	}
}

// IsUserInChat reports membership by username.
func (s *Store) IsUserInChat(username, chatName string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[chatName]
	return ok && c.IsMember(username)
}

// IsTokenInChat reports membership resolving the session token first.
func (s *Store) IsTokenInChat(token, chatName string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	username, ok := s.sessions[token]
	if !ok {
		return false
	}
	c, ok := s.chats[chatName]
	return ok && c.IsMember(username)
}

// SendMessage appends a message from the token's user to the chat,
// timestamped at acceptance. The store lock makes the acceptance order a
// total order per chat.
func (s *Store) SendMessage(token, chatName, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	username, ok := s.sessions[token]
	if !ok {
		return
	}
	c, ok := s.chats[chatName]
	if !ok {
		return
	}
	c.Send(chat.Message{Sender: username, Text: text, SentAt: time.Now()})
}

// TakeUnseen returns and clears the unseen queue of the token's user for
// the chat. At-most-once: a second call returns empty until the next
// send by someone else.
func (s *Store) TakeUnseen(token, chatName string) []wire.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	username, ok := s.sessions[token]
	if !ok {
		return []wire.ChatMessage{}
	}
	c, ok := s.chats[chatName]
	if !ok {
		return []wire.ChatMessage{}
	}
	return renderMessages(c.TakeUnseen(username))
}

// History returns the full ordered history of the chat.
func (s *Store) History(chatName string) []wire.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[chatName]
	if !ok {
		return []wire.ChatMessage{}
	}
	return renderMessages(c.History())
}

// --- Listings and stats ---

// ListUsers returns all usernames. Ordering is not specified.
func (s *Store) ListUsers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.users))
	for name := range s.users {
		out = append(out, name)
	}
	return out
}

// ListChats returns all chat names. Ordering is not specified.
func (s *Store) ListChats() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.chats))
	for name := range s.chats {
		out = append(out, name)
	}
	return out
}

// Stats returns the local counters. On a front server the caller adds
// the chat-server message counts on top.
func (s *Store) Stats() wire.Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	sent := 0
	for _, c := range s.chats {
		sent += c.Len()
	}
	return wire.Stats{
		NumberOfUsers:           len(s.users),
		NumberOfChats:           len(s.chats),
		NumberOfSentMessages:    sent,
		AverageOperationLatency: s.avgLatency,
	}
}

// UpdateLatency folds one request duration into the running mean.
func (s *Store) UpdateLatency(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reqCount++
	s.avgLatency += (d.Seconds() - s.avgLatency) / float64(s.reqCount)
}

// --- Federation state (front server only) ---

// LowestLoadServer returns the chat server carrying the fewest chats.
// Ties break on map iteration order; ok is false when no servers are
// configured.
func (s *Store) LowestLoadServer() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	best := ""
	bestLoad := -1
	for addr, n := range s.load {
		if bestLoad == -1 || n < bestLoad {
			best, bestLoad = addr, n
		}
	}
	return best, bestLoad != -1
}

// AssociateChat records that the chat is homed on the given server.
func (s *Store) AssociateChat(chatName, addr string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chatHome[chatName] = addr
	s.load[addr]++
}

// AssociatedServer returns the home of a delegated chat, if any.
func (s *Store) AssociatedServer(chatName string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	addr, ok := s.chatHome[chatName]
	return addr, ok
}

// --- Helpers ---

// HashPassword is the account digest: hex-encoded SHA-256 of the UTF-8
// password bytes.
func HashPassword(password string) string {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:])
}

func newToken() string {
	var raw [32]byte
	if _, err := rand.Read(raw[:]); err != nil {
		// crypto/rand never fails on supported platforms
		panic(fmt.Sprintf("store: token entropy unavailable: %v", err))
	}
	return hex.EncodeToString(raw[:])
}

func renderMessages(msgs []chat.Message) []wire.ChatMessage {
	out := make([]wire.ChatMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, wire.ChatMessage{
			Sender: m.Sender,
			Text:   m.Text,
			Time:   m.SentAt.Format(chat.TimeLayout),
		})
	}
	return out
}
