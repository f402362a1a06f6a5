package handler

import (
	"go.uber.org/zap"

	"talk2me/internal/wire"
)

// handleServerOperation serves the chat-server side of federation.
// createchat and leavechat are fire-and-forget: the front server does
// not wait for an answer, so no reply is produced.
func (h *Handler) handleServerOperation(req wire.Request) Result {
	res := Result{Op: "server_" + req.ServerOperation}
	switch req.ServerOperation {
	case "createchat":
		h.serverCreateChat(req)
	case "leavechat":
		h.store.RemoveUserFromChat(req.Username, req.ChatName)
	case "stats":
		st := h.store.Stats()
		reply := wire.Succeed("Stats sent")
		reply.Stats = &st
		res.Reply = reply
	default:
		h.log.Warn("unknown server operation", zap.String("server_operation", req.ServerOperation))
	}
	return res
}

// serverCreateChat provisions a delegated chat: the chat itself plus an
// account per member. Accounts may already exist from another chat homed
// here; their stored digests are left untouched.
func (h *Handler) serverCreateChat(req wire.Request) {
	if !h.store.ExistsChat(req.ChatName) {
		h.store.CreateChat(req.ChatName)
	}
	for _, member := range req.Members {
		if !h.store.ExistsUser(member.Username) {
			h.store.CreateUser(member.Username, member.PasswordHash, true)
		}
		h.store.AddUserToChat(member.Username, req.ChatName)
	}
}
