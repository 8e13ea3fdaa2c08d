// Package ws relays offers and answers between peers connected to one
// WebSocket server. Each socket is addressed by the id the server assigns it.
package ws

type MessageType string

const (
	TypeGetMyID MessageType = "GetMyID"
	TypeID      MessageType = "ID"
	TypeOffer   MessageType = "Offer"
	TypeAnswer  MessageType = "Answer"
	TypeReject  MessageType = "Reject"
)

// Message is the single JSON shape exchanged in both directions. Clients
// leave From empty; the server stamps it with the sender's id.
type Message struct {
	Type   MessageType `json:"type"`
	ID     string      `json:"id,omitempty"`
	From   string      `json:"from,omitempty"`
	To     string      `json:"to,omitempty"`
	SDP    string      `json:"sdp,omitempty"`
	Reason string      `json:"reason,omitempty"`
}
