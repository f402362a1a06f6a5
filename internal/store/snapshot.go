package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"talk2me/internal/chat"
)

// The snapshot is a versioned JSON document owned by this project, not a
// language serialization. It preserves exactly the seven store fields.
type snapshot struct {
	Version    int                     `json:"version"`
	Users      map[string]string       `json:"users"` // username -> digest
	Chats      map[string]chatSnapshot `json:"chats"`
	Sessions   map[string]string       `json:"sessions"`
	ChatHome   map[string]string       `json:"chat_home"`
	Load       map[string]int          `json:"load"`
	ReqCount   int64                   `json:"req_count"`
	AvgLatency float64                 `json:"avg_latency"`
}

type chatSnapshot struct {
	Members []string                     `json:"members"`
	History []messageSnapshot            `json:"history"`
	Unseen  map[string][]messageSnapshot `json:"unseen"`
}

type messageSnapshot struct {
	Sender string `json:"sender"`
	Text   string `json:"msg"`
	Time   string `json:"time"`
}

const snapshotVersion = 1

// Backup writes a crash-consistent snapshot of the whole store. The
// state is serialized under the lock; the file is written outside it,
// to a temp file first, synced, then renamed into place.
func (s *Store) Backup() error {
	s.mu.Lock()
	data, err := json.Marshal(s.snapshotLocked())
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("snapshot marshal: %w", err)
	}

	dir := filepath.Dir(s.snapshotPath)
	tmp, err := os.CreateTemp(dir, ".talk2me-snapshot-*")
	if err != nil {
		return fmt.Errorf("snapshot temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("snapshot write: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("snapshot sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("snapshot close: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.snapshotPath); err != nil {
		return fmt.Errorf("snapshot rename: %w", err)
	}
	return nil
}

func (s *Store) snapshotLocked() snapshot {
	snap := snapshot{
		Version:    snapshotVersion,
		Users:      make(map[string]string, len(s.users)),
		Chats:      make(map[string]chatSnapshot, len(s.chats)),
		Sessions:   make(map[string]string, len(s.sessions)),
		ChatHome:   make(map[string]string, len(s.chatHome)),
		Load:       make(map[string]int, len(s.load)),
		ReqCount:   s.reqCount,
		AvgLatency: s.avgLatency,
	}
	for name, u := range s.users {
		snap.Users[name] = u.PasswordDigest
	}
	for name, c := range s.chats {
		cs := chatSnapshot{
			Members: c.Members(),
			History: renderSnapshotMessages(c.History()),
			Unseen:  make(map[string][]messageSnapshot),
		}
		for user, msgs := range c.Unseen() {
			cs.Unseen[user] = renderSnapshotMessages(msgs)
		}
		snap.Chats[name] = cs
	}
	for token, user := range s.sessions {
		snap.Sessions[token] = user
	}
	for name, addr := range s.chatHome {
		snap.ChatHome[name] = addr
	}
	for addr, n := range s.load {
		snap.Load[addr] = n
	}
	return snap
}

// restore loads the snapshot file if present. Returns false when there
// is no snapshot and the store should start empty.
func (s *Store) restore() (bool, error) {
	data, err := os.ReadFile(s.snapshotPath)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("snapshot read: %w", err)
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return false, fmt.Errorf("snapshot parse: %w", err)
	}

	for name, digest := range snap.Users {
		s.users[name] = &chat.User{Name: name, PasswordDigest: digest}
	}
	for name, cs := range snap.Chats {
		history, err := parseSnapshotMessages(cs.History)
		if err != nil {
			return false, err
		}
		unseen := make(map[string][]chat.Message, len(cs.Unseen))
		for user, msgs := range cs.Unseen {
			parsed, err := parseSnapshotMessages(msgs)
			if err != nil {
				return false, err
			}
			unseen[user] = parsed
		}
		s.chats[name] = chat.Restore(name, cs.Members, history, unseen)
	}
	for token, user := range snap.Sessions {
		s.sessions[token] = user
	}
	for name, addr := range snap.ChatHome {
		s.chatHome[name] = addr
	}
	for addr, n := range snap.Load {
		s.load[addr] = n
	}
	s.reqCount = snap.ReqCount
	s.avgLatency = snap.AvgLatency
	return true, nil
}

func renderSnapshotMessages(msgs []chat.Message) []messageSnapshot {
	out := make([]messageSnapshot, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, messageSnapshot{
			Sender: m.Sender,
			Text:   m.Text,
			Time:   m.SentAt.Format(chat.TimeLayout),
		})
	}
	return out
}

func parseSnapshotMessages(msgs []messageSnapshot) ([]chat.Message, error) {
	out := make([]chat.Message, 0, len(msgs))
	for _, m := range msgs {
		at, err := time.ParseInLocation(chat.TimeLayout, m.Time, time.Local)
		if err != nil {
			return nil, fmt.Errorf("snapshot message time %q: %w", m.Time, err)
		}
		out = append(out, chat.Message{Sender: m.Sender, Text: m.Text, SentAt: at})
	}
	return out, nil
}
