package signal

import (
	"encoding/json"

	"github.com/Linkolnn/Icore/src/session"
	"github.com/pion/webrtc/v2"
)

// Outbound call events.
const (
	EventIncoming           = "call:incoming"
	EventParticipantJoined  = "call:participant-joined"
	EventParticipantLeft    = "call:participant-left"
	EventOffer              = "call:offer"
	EventAnswer             = "call:answer"
	EventICECandidate       = "call:ice-candidate"
	EventMediaToggled       = "call:media-toggled"
	EventScreenShareStarted = "call:screen-share-started"
	EventScreenShareStopped = "call:screen-share-stopped"
	EventEnded              = "call:ended"
)

// Reasons carried by EventEnded.
const (
	ReasonAllParticipantsLeft = "all_participants_left"
	ReasonEndedByInitiator    = "ended_by_initiator"
)

// Incoming is sent to the personal channel of every invited participant.
type Incoming struct {
	CallID      string             `json:"callId"`
	ChatID      string             `json:"chatId"`
	Type        session.CallType   `json:"type"`
	InitiatorID string             `json:"initiatorId"`
	Token       string             `json:"token"`
	ICEServers  []webrtc.ICEServer `json:"iceServers"`
}

// ParticipantEvent is the payload of joined and left notifications.
type ParticipantEvent struct {
	CallID string `json:"callId"`
	UserID string `json:"userId"`
}

// OfferEvent relays an SDP offer to its target.
type OfferEvent struct {
	CallID     string          `json:"callId"`
	FromUserID string          `json:"fromUserId"`
	Offer      json.RawMessage `json:"offer"`
}

// AnswerEvent relays an SDP answer to its target.
type AnswerEvent struct {
	CallID     string          `json:"callId"`
	FromUserID string          `json:"fromUserId"`
	Answer     json.RawMessage `json:"answer"`
}

// CandidateEvent relays an ICE candidate to its target.
type CandidateEvent struct {
	CallID     string          `json:"callId"`
	FromUserID string          `json:"fromUserId"`
	Candidate  json.RawMessage `json:"candidate"`
}

// MediaToggled is broadcast to the call room when a participant mutes or
// turns their camera on or off.
type MediaToggled struct {
	CallID  string           `json:"callId"`
	UserID  string           `json:"userId"`
	Type    session.CallType `json:"type"`
	Enabled bool             `json:"enabled"`
}

// Ended is broadcast to the call room when the session ends.
type Ended struct {
	CallID string `json:"callId"`
	Reason string `json:"reason"`
}

// Initiated is returned to the initiator of a call.
type Initiated struct {
	CallID     string               `json:"callId"`
	Token      string               `json:"token"`
	ICEServers []webrtc.ICEServer   `json:"iceServers"`
	Session    *session.CallSession `json:"session"`
}

// Joined is returned to a user joining a call.
type Joined struct {
	CallID     string               `json:"callId"`
	Session    *session.CallSession `json:"session"`
	ICEServers []webrtc.ICEServer   `json:"iceServers"`
}

// Refreshed is returned by RefreshToken.
type Refreshed struct {
	CallID string `json:"callId"`
	Token  string `json:"token"`
}
