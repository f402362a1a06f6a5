// Package federation implements the front server's outbound side of the
// front↔chat-server protocol. Every call is one short-lived TCP round
// trip under the base envelope key.
package federation

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/fernet/fernet-go"
	"go.uber.org/zap"

	"talk2me/internal/wire"
)

// Client dials chat servers for delegation operations. All methods are
// best-effort at the call sites: the handlers decide what a failure
// means.
type Client struct {
	key         *fernet.Key
	dialTimeout time.Duration
	log         *zap.Logger
}

// New creates a federation client using the given base key.
func New(key *fernet.Key, dialTimeout time.Duration, log *zap.Logger) *Client {
	if dialTimeout <= 0 {
		dialTimeout = 3 * time.Second
	}
	return &Client{key: key, dialTimeout: dialTimeout, log: log}
}

// CreateChat tells a chat server to provision the chat and its member
// accounts. Passwords travel as digests only.
func (c *Client) CreateChat(addr, chatName string, members []wire.Member) error {
	return c.send(addr, wire.Request{
		ServerOperation: "createchat",
		ChatName:        chatName,
		Members:         members,
	})
}

// LeaveChat tells the chat server homing the chat that a user left.
func (c *Client) LeaveChat(addr, chatName, username string) error {
	return c.send(addr, wire.Request{
		ServerOperation: "leavechat",
		ChatName:        chatName,
		Username:        username,
	})
}

// Stats fetches the message counters of one chat server.
func (c *Client) Stats(addr string) (wire.Stats, error) {
	conn, err := net.DialTimeout("tcp", addr, c.dialTimeout)
	if err != nil {
		return wire.Stats{}, fmt.Errorf("federation dial %s: %w", addr, err)
	}
	defer conn.Close()

	if err := c.write(conn, wire.Request{ServerOperation: "stats"}); err != nil {
		return wire.Stats{}, err
	}

	frame, err := wire.ReadFrame(bufio.NewReader(conn))
	if err != nil {
		return wire.Stats{}, fmt.Errorf("federation read %s: %w", addr, err)
	}
	plaintext, err := wire.Decrypt(c.key, frame)
	if err != nil {
		return wire.Stats{}, fmt.Errorf("federation %s: %w", addr, err)
	}

	var reply wire.Reply
	if err := json.Unmarshal(plaintext, &reply); err != nil {
		return wire.Stats{}, fmt.Errorf("federation reply %s: %w", addr, err)
	}
	if !reply.Ok() || reply.Stats == nil {
		return wire.Stats{}, fmt.Errorf("federation %s: %s", addr, reply.Feedback)
	}
	return *reply.Stats, nil
}

func (c *Client) send(addr string, req wire.Request) error {
	conn, err := net.DialTimeout("tcp", addr, c.dialTimeout)
	if err != nil {
		return fmt.Errorf("federation dial %s: %w", addr, err)
	}
	defer conn.Close()

	if err := c.write(conn, req); err != nil {
		return err
	}
	c.log.Debug("federation request sent",
		zap.String("addr", addr),
		zap.String("server_operation", req.ServerOperation))
	return nil
}

func (c *Client) write(conn net.Conn, req wire.Request) error {
	plaintext, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("federation marshal: %w", err)
	}
	token, err := wire.Encrypt(c.key, plaintext)
	if err != nil {
		return err
	}
	if err := wire.WriteFrame(conn, token); err != nil {
		return fmt.Errorf("federation %s: %w", conn.RemoteAddr(), err)
	}
	return nil
}
