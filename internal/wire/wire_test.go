package wire

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
)

const testKey = "Ms_I0iVjanNosloNcbssrsCk-7MxGSQZNt5_C8UT66E="

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, []byte("payload")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := buf.String(); got != "payload\r\n" {
		t.Fatalf("framed = %q", got)
	}

	frame, err := ReadFrame(bufio.NewReader(&buf))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(frame) != "payload" {
		t.Errorf("frame = %q, want payload", frame)
	}
}

func TestReadFrameMultiple(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("one\r\ntwo\r\n"))

	first, err := ReadFrame(r)
	if err != nil || string(first) != "one" {
		t.Fatalf("first = %q, %v", first, err)
	}
	second, err := ReadFrame(r)
	if err != nil || string(second) != "two" {
		t.Fatalf("second = %q, %v", second, err)
	}
	if _, err := ReadFrame(r); !errors.Is(err, io.EOF) {
		t.Errorf("expected EOF, got %v", err)
	}
}

func TestReadFrameTooLarge(t *testing.T) {
	big := strings.Repeat("a", MaxFrameBytes+10) + "\r\n"
	if _, err := ReadFrame(bufio.NewReader(strings.NewReader(big))); !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key, err := ParseKey(testKey)
	if err != nil {
		t.Fatalf("parse key: %v", err)
	}

	req := Request{Operation: "login", Username: "alice", Password: "a"}
	plaintext, _ := json.Marshal(req)

	token, err := Encrypt(key, plaintext)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	opened, err := Decrypt(key, token)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}

	var got Request
	if err := json.Unmarshal(opened, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Operation != req.Operation || got.Username != req.Username || got.Password != req.Password {
		t.Errorf("round trip = %+v, want %+v", got, req)
	}
}

func TestDecryptWrongKeyFails(t *testing.T) {
	key, _ := ParseKey(testKey)
	other, err := NewKey()
	if err != nil {
		t.Fatalf("new key: %v", err)
	}

	token, _ := Encrypt(key, []byte("{}"))
	if _, err := Decrypt(other, token); !errors.Is(err, ErrDecrypt) {
		t.Fatalf("expected ErrDecrypt, got %v", err)
	}
}

func TestDecryptGarbageFails(t *testing.T) {
	key, _ := ParseKey(testKey)
	if _, err := Decrypt(key, []byte("not-a-token")); !errors.Is(err, ErrDecrypt) {
		t.Fatalf("expected ErrDecrypt, got %v", err)
	}
}

func TestNewKeyIsUsable(t *testing.T) {
	key, err := NewKey()
	if err != nil {
		t.Fatalf("new key: %v", err)
	}
	reparsed, err := ParseKey(key.Encode())
	if err != nil {
		t.Fatalf("reparse encoded key: %v", err)
	}
	token, _ := Encrypt(key, []byte("x"))
	if _, err := Decrypt(reparsed, token); err != nil {
		t.Errorf("decrypt with reparsed key: %v", err)
	}
}

func TestReplyEmptyMessagesSerializes(t *testing.T) {
	messages := []ChatMessage{}
	reply := Succeed("Login was successfully")
	reply.Messages = &messages

	data, err := json.Marshal(reply)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(data), `"messages":[]`) {
		t.Errorf("empty messages dropped: %s", data)
	}

	// Absent list stays absent.
	plain, _ := json.Marshal(Succeed("ok"))
	if strings.Contains(string(plain), "messages") {
		t.Errorf("unset messages serialized: %s", plain)
	}
}
