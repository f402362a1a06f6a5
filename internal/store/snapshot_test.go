package store

import (
	"path/filepath"
	"sort"
	"testing"
)

func TestSnapshotRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "backup.json")

	s, err := New(path, []string{"s1:9999", "s2:9999"})
	if err != nil {
		t.Fatalf("store init: %v", err)
	}
	s.CreateUser("alice", "a", false)
	s.CreateUser("bob", "b", false)
	s.CreateChat("x")
	s.AddUserToChat("alice", "x")
	s.AddUserToChat("bob", "x")

	alice := s.OpenSession("alice")
	bob := s.OpenSession("bob")
	s.SendMessage(alice, "x", "hi")
	s.AssociateChat("x", "s1:9999")
	s.UpdateLatency(1000000) // 1ms

	if err := s.Backup(); err != nil {
		t.Fatalf("backup: %v", err)
	}

	// Simulated restart: a new store over the same snapshot file.
	r, err := New(path, nil)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}

	if got := sorted(r.ListUsers()); len(got) != 2 || got[0] != "alice" || got[1] != "bob" {
		t.Errorf("users after restore = %v", got)
	}
	if got := r.ListChats(); len(got) != 1 || got[0] != "x" {
		t.Errorf("chats after restore = %v", got)
	}
	if !r.VerifyPassword("alice", "a") {
		t.Error("password digest lost in restore")
	}

	// Sessions survive the restart.
	if !r.IsLoggedIn(alice) || !r.IsLoggedIn(bob) {
		t.Error("sessions lost in restore")
	}

	// Bob's unseen queue survives, then clears.
	if got := r.TakeUnseen(bob, "x"); len(got) != 1 || got[0].Sender != "alice" {
		t.Fatalf("bob unseen after restore = %v", got)
	}
	if got := r.TakeUnseen(bob, "x"); len(got) != 0 {
		t.Errorf("unseen should be spent, got %v", got)
	}

	if home, ok := r.AssociatedServer("x"); !ok || home != "s1:9999" {
		t.Errorf("chat home after restore = %q (%v)", home, ok)
	}
	addr, ok := r.LowestLoadServer()
	if !ok || addr != "s2:9999" {
		t.Errorf("lowest load after restore = %q (%v), want s2:9999", addr, ok)
	}

	stats := r.Stats()
	if stats.NumberOfSentMessages != 1 {
		t.Errorf("sent messages after restore = %d, want 1", stats.NumberOfSentMessages)
	}
	if stats.AverageOperationLatency == 0 {
		t.Error("latency average lost in restore")
	}
}

func TestSnapshotAbsentStartsEmpty(t *testing.T) {
	s, err := New(filepath.Join(t.TempDir(), "backup.json"), []string{"s1:9999"})
	if err != nil {
		t.Fatalf("store init: %v", err)
	}
	if len(s.ListUsers()) != 0 || len(s.ListChats()) != 0 {
		t.Fatal("fresh store should be empty")
	}
	// Configured servers are pre-populated at load zero.
	if addr, ok := s.LowestLoadServer(); !ok || addr != "s1:9999" {
		t.Errorf("lowest load = %q (%v), want s1:9999", addr, ok)
	}
}

func TestBackupOverwritesAtomically(t *testing.T) {
	path := filepath.Join(t.TempDir(), "backup.json")
	s, err := New(path, nil)
	if err != nil {
		t.Fatalf("store init: %v", err)
	}

	s.CreateUser("alice", "a", false)
	if err := s.Backup(); err != nil {
		t.Fatalf("first backup: %v", err)
	}
	s.CreateUser("bob", "b", false)
	if err := s.Backup(); err != nil {
		t.Fatalf("second backup: %v", err)
	}

	r, err := New(path, nil)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if got := len(r.ListUsers()); got != 2 {
		t.Errorf("users after second backup = %d, want 2", got)
	}
}

func sorted(in []string) []string {
	out := append([]string(nil), in...)
	sort.Strings(out)
	return out
}
