// Package signal is the signaling surface of the call server.
//
// Each websocket message (request, response or notice) is a JSON-encoded
// "packet" of the following structure:
//
//	id - (optional) a client packet id, echoed back in the response;
//	 t - (required) one of the predefined packet types;
//	 p - (optional) packet payload, its shape depends on the type.
//
// Example:
//
//	{"id":"1","t":"negotiate","p":{"roomId":"42","toSessionId":"b","fromSessionId":"a","sdpOffer":"v=0..."}}
//
// The HTTP routes take the bare payloads of the same requests.
package signal

import (
	"github.com/goccy/go-json"
	"github.com/videochat/groupcall/pkg/call"
	"github.com/videochat/groupcall/pkg/config"
)

type PT string

// Requests.
const (
	JoinRequest         PT = "join"
	NegotiateRequest    PT = "negotiate"
	IceCandidateRequest PT = "iceCandidate"
	LeaveRequest        PT = "leave"
)

// Server notices.
const (
	ExistingParticipants PT = "existing_participants"
	ParticipantJoined    PT = "participant_joined"
	ParticipantLeft      PT = "participant_left"
	IceCandidateNotice   PT = "ice_candidate"
	LinkConnected        PT = "link_connected"
	LinkFailed           PT = "link_failed"
	ErrorNotice          PT = "error"
)

type (
	In struct {
		Id      string          `json:"id,omitempty"`
		T       PT              `json:"t"`
		Payload json.RawMessage `json:"p,omitempty"`
	}
	Out struct {
		Id      string `json:"id,omitempty"`
		T       PT     `json:"t"`
		Payload any    `json:"p,omitempty"`
	}
)

type (
	ParticipantsPayload struct {
		RoomID       string   `json:"roomId"`
		Participants []string `json:"participants"`
	}
	SessionPayload struct {
		RoomID    string `json:"roomId"`
		SessionID string `json:"sessionId"`
	}
	CandidatePayload struct {
		RoomID    string         `json:"roomId"`
		From      string         `json:"fromSessionId"`
		Candidate call.Candidate `json:"candidate"`
	}
	LinkPayload struct {
		RoomID string `json:"roomId"`
		From   string `json:"fromSessionId"`
		State  string `json:"state"`
	}
	AnswerPayload struct {
		SdpAnswer string `json:"sdpAnswer"`
	}
	ErrorPayload struct {
		Code  int    `json:"code"`
		Error string `json:"error"`
	}
	// ConfigPayload is the client setup for the peer connections.
	ConfigPayload struct {
		RoomID     string             `json:"roomId"`
		IceServers []config.IceServer `json:"iceServers"`
	}
)
