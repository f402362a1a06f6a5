// Package handler implements one handler per protocol operation,
// enforcing authentication and preconditions top-down: the first check
// to fail produces the Failure feedback and nothing is mutated after a
// failure.
package handler

import (
	"github.com/fernet/fernet-go"
	"go.uber.org/zap"

	"talk2me/internal/federation"
	"talk2me/internal/metrics"
	"talk2me/internal/store"
	"talk2me/internal/wire"
)

// Handler routes decoded requests against the store and the federation
// client. The same handler serves both roles: on a chat server the
// federation state is simply empty and never consulted.
type Handler struct {
	store       *store.Store
	fed         *federation.Client
	chatServers []string
	log         *zap.Logger
	metrics     *metrics.Registry
}

// New wires a handler. metrics may be nil in tests.
func New(st *store.Store, fed *federation.Client, chatServers []string, log *zap.Logger, m *metrics.Registry) *Handler {
	return &Handler{store: st, fed: fed, chatServers: chatServers, log: log, metrics: m}
}

// Result is what the dispatcher does with a handled request. A nil Reply
// means no answer is written (fire-and-forget federation operations).
// NextKey, when set, becomes the connection's envelope key after the
// reply is written. Token is a session opened for this connection that
// must be closed on teardown.
type Result struct {
	Reply    *wire.Reply
	NextKey  *fernet.Key
	Token    string
	Op       string
	ClientOp bool
}

// Handle dispatches one request. Requests carrying server_operation come
// from the front server; everything else is a client operation.
func (h *Handler) Handle(req wire.Request) Result {
	if req.ServerOperation != "" {
		return h.handleServerOperation(req)
	}

	res := Result{Op: req.Operation, ClientOp: true}
	switch req.Operation {
	case "register":
		res.Reply = h.register(req)
	case "login":
		res.Reply, res.NextKey, res.Token = h.login(req)
	case "createchat":
		res.Reply = h.createChat(req)
	case "sendmsg":
		res.Reply = h.sendMsg(req)
	case "recvmsg":
		res.Reply = h.recvMsg(req)
	case "leavechat":
		res.Reply = h.leaveChat(req)
	case "listusers":
		res.Reply = h.listUsers()
	case "listchats":
		res.Reply = h.listChats()
	case "stats":
		res.Reply = h.stats()
	default:
		res.Op = "invalid"
		res.Reply = wire.Fail("Invalid request")
	}
	return res
}

func (h *Handler) register(req wire.Request) *wire.Reply {
	if h.store.ExistsUser(req.Username) {
		return wire.Fail("Username already in use")
	}
	h.store.CreateUser(req.Username, req.Password, false)
	return wire.Succeed("User registered successfully")
}

// login opens a session. With a chatname it is the entry into chat mode:
// the reply carries the full history (and the unseen queue is cleared,
// since everything is being shown), unless the chat has been delegated,
// in which case the client is redirected to its home server. Every
// successful login also hands the client a fresh envelope key; the
// dispatcher swaps it in once the reply is on the wire.
func (h *Handler) login(req wire.Request) (*wire.Reply, *fernet.Key, string) {
	if req.ChatName != "" {
		if addr, ok := h.store.AssociatedServer(req.ChatName); ok {
			return &wire.Reply{Rpl: wire.Failure, Feedback: "Redirect client", Redirect: addr}, nil, ""
		}
	}

	if !h.store.ExistsUser(req.Username) {
		return wire.Fail("User isn't registered"), nil, ""
	}
	if !h.store.VerifyPassword(req.Username, req.Password) {
		return wire.Fail("Password is incorrect"), nil, ""
	}

	if req.ChatName != "" {
		if !h.store.ExistsChat(req.ChatName) {
			return wire.Fail("The chat doesn't exist"), nil, ""
		}
		if !h.store.IsUserInChat(req.Username, req.ChatName) {
			return wire.Fail("User is not in this chat"), nil, ""
		}
	}

	token := h.store.OpenSession(req.Username)

	key, err := wire.NewKey()
	if err != nil {
		h.store.CloseSession(token)
		h.log.Error("session key generation failed", zap.Error(err))
		return wire.Fail("Could not open a session"), nil, ""
	}

	reply := wire.Succeed("Login was successfully")
	reply.Token = token
	reply.EncryptionKey = key.Encode()

	if req.ChatName != "" {
		// All messages are returned, so the unseen queue is spent.
		h.store.TakeUnseen(token, req.ChatName)
		history := h.store.History(req.ChatName)
		reply.Messages = &history
	}
	return reply, key, token
}

// authenticate is the internal login used by createchat and leavechat.
// It opens a short-lived session the caller must close on every path.
func (h *Handler) authenticate(username, password string) (string, *wire.Reply) {
	if !h.store.ExistsUser(username) {
		return "", wire.Fail("User isn't registered")
	}
	if !h.store.VerifyPassword(username, password) {
		return "", wire.Fail("Password is incorrect")
	}
	return h.store.OpenSession(username), nil
}

func (h *Handler) createChat(req wire.Request) *wire.Reply {
	token, failed := h.authenticate(req.Username, req.Password)
	if failed != nil {
		return failed
	}
	defer h.store.CloseSession(token)

	if h.store.ExistsChat(req.ChatName) {
		return wire.Fail("A chat with the same name already exist")
	}
	for _, user := range req.Users {
		if !h.store.ExistsUser(user) {
			return wire.Fail(user + " is not registered")
		}
	}

	h.store.CreateChat(req.ChatName)
	h.store.AddUserToChat(req.Username, req.ChatName)
	for _, user := range req.Users {
		h.store.AddUserToChat(user, req.ChatName)
	}

	// Front server only: home the chat on the least-loaded server.
	// Provisioning is best-effort; the binding is recorded either way.
	if addr, ok := h.store.LowestLoadServer(); ok {
		members := h.provisionList(append(req.Users, req.Username))
		if err := h.fed.CreateChat(addr, req.ChatName, members); err != nil {
			h.federationFailed("createchat", addr, err)
		}
		h.store.AssociateChat(req.ChatName, addr)
	}

	return wire.Succeed("Created the chat successfully")
}

func (h *Handler) sendMsg(req wire.Request) *wire.Reply {
	if !h.store.IsLoggedIn(req.Token) {
		return wire.Fail("User was not logged in")
	}
	if !h.store.ExistsChat(req.ChatName) {
		return wire.Fail("Chat doesn't exist")
	}
	if !h.store.IsTokenInChat(req.Token, req.ChatName) {
		return wire.Fail("User is not in the chat")
	}
	h.store.SendMessage(req.Token, req.ChatName, req.Msg)
	return wire.Succeed("Message sent")
}

func (h *Handler) recvMsg(req wire.Request) *wire.Reply {
	if !h.store.IsLoggedIn(req.Token) {
		return wire.Fail("User was not logged in")
	}
	if !h.store.ExistsChat(req.ChatName) {
		return wire.Fail("Chat doesn't exist")
	}
	if !h.store.IsTokenInChat(req.Token, req.ChatName) {
		return wire.Fail("User is not in the chat")
	}
	messages := h.store.TakeUnseen(req.Token, req.ChatName)
	reply := wire.Succeed("Messages received")
	reply.Messages = &messages
	return reply
}

func (h *Handler) leaveChat(req wire.Request) *wire.Reply {
	token, failed := h.authenticate(req.Username, req.Password)
	if failed != nil {
		return failed
	}
	defer h.store.CloseSession(token)

	if !h.store.ExistsChat(req.ChatName) {
		return wire.Fail("Chat doesn't exist")
	}
	if !h.store.IsUserInChat(req.Username, req.ChatName) {
		return wire.Fail("User is not in the chat")
	}

	h.store.RemoveUserFromChat(req.Username, req.ChatName)

	if addr, ok := h.store.AssociatedServer(req.ChatName); ok {
		if err := h.fed.LeaveChat(addr, req.ChatName, req.Username); err != nil {
			h.federationFailed("leavechat", addr, err)
		}
	}

	return wire.Succeed("User removed successfully")
}

func (h *Handler) listUsers() *wire.Reply {
	users := h.store.ListUsers()
	reply := wire.Succeed("List of users sent")
	reply.Users = &users
	return reply
}

func (h *Handler) listChats() *wire.Reply {
	chats := h.store.ListChats()
	reply := wire.Succeed("List of chats sent")
	reply.Chats = &chats
	return reply
}

// stats aggregates local counters with the message counts of every
// configured chat server. Unreachable servers contribute nothing.
func (h *Handler) stats() *wire.Reply {
	st := h.store.Stats()
	for _, addr := range h.chatServers {
		remote, err := h.fed.Stats(addr)
		if err != nil {
			h.federationFailed("stats", addr, err)
			continue
		}
		st.NumberOfSentMessages += remote.NumberOfSentMessages
	}
	reply := wire.Succeed("Stats sent")
	reply.Stats = &st
	return reply
}

func (h *Handler) provisionList(usernames []string) []wire.Member {
	members := make([]wire.Member, 0, len(usernames))
	seen := make(map[string]struct{}, len(usernames))
	for _, name := range usernames {
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		digest, ok := h.store.PasswordDigest(name)
		if !ok {
			continue
		}
		members = append(members, wire.Member{Username: name, PasswordHash: digest})
	}
	return members
}

func (h *Handler) federationFailed(op, addr string, err error) {
	h.log.Warn("federation call failed",
		zap.String("server_operation", op),
		zap.String("addr", addr),
		zap.Error(err))
	if h.metrics != nil {
		h.metrics.FederationErrors.Inc()
	}
}
