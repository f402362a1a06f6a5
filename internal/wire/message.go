// Package wire defines the Talk2Me envelope: UTF-8 JSON documents wrapped
// in a Fernet ciphertext, one per CRLF-terminated frame.
package wire

// Reply status tags.
const (
	Success = "Success"
	Failure = "Failure"
)

// Request is the union of every client request and every front→chat
// federation request. Exactly one of Operation or ServerOperation is set.
type Request struct {
	Operation       string `json:"operation,omitempty"`
	ServerOperation string `json:"server_operation,omitempty"`

	Username string   `json:"username,omitempty"`
	Password string   `json:"password,omitempty"`
	ChatName string   `json:"chatname,omitempty"`
	Users    []string `json:"users,omitempty"`
	Token    string   `json:"token,omitempty"`
	Msg      string   `json:"msg,omitempty"`

	// Members carries username+digest pairs when the front server
	// provisions accounts on a chat server.
	Members []Member `json:"members,omitempty"`
}

// Member is one provisioned account in a federation createchat request.
// The password travels as its SHA-256 hex digest, never in the clear.
type Member struct {
	Username     string `json:"username"`
	PasswordHash string `json:"password_hash"`
}

// ChatMessage is one delivered message as the client sees it.
type ChatMessage struct {
	Sender string `json:"sender"`
	Text   string `json:"msg"`
	Time   string `json:"time"`
}

// Stats is the payload of a stats reply.
type Stats struct {
	NumberOfUsers           int     `json:"number_of_users"`
	NumberOfChats           int     `json:"number_of_chats"`
	NumberOfSentMessages    int     `json:"number_of_sent_messages"`
	AverageOperationLatency float64 `json:"average_operation_latency"`
}

// Reply is the server's answer to any request. The list fields are
// pointers so a present-but-empty list still serializes as [] instead of
// being dropped by omitempty.
type Reply struct {
	Rpl      string `json:"rpl"`
	Feedback string `json:"feedback"`

	Token         string `json:"token,omitempty"`
	EncryptionKey string `json:"encryption_key,omitempty"`
	Redirect      string `json:"redirect,omitempty"`

	Messages *[]ChatMessage `json:"messages,omitempty"`
	Users    *[]string      `json:"users,omitempty"`
	Chats    *[]string      `json:"chats,omitempty"`
	Stats    *Stats         `json:"stats,omitempty"`
}

// Ok reports whether the reply carries the Success tag. A redirect reply
// is tagged Failure but is not an error; callers check Redirect first.
func (r *Reply) Ok() bool { return r.Rpl == Success }

// Fail builds a Failure reply with the given feedback.
func Fail(feedback string) *Reply {
	return &Reply{Rpl: Failure, Feedback: feedback}
}

// Succeed builds a Success reply with the given feedback.
func Succeed(feedback string) *Reply {
	return &Reply{Rpl: Success, Feedback: feedback}
}
