package session

import (
	"bytes"
	"time"

	"github.com/ugorji/go/codec"
)

// CallType is the media type of a call.
type CallType string

const (
	// Audio is an audio-only call.
	Audio CallType = "audio"
	// Video is a call with video.
	Video CallType = "video"
)

// Valid returns true for known call types.
func (t CallType) Valid() bool {
	return t == Audio || t == Video
}

// Status is the status of a call session. It only ever moves forward:
// pending -> active -> ended.
type Status string

const (
	// Pending means fewer than two participants are connected.
	Pending Status = "pending"
	// Active means at least two participants have been connected.
	Active Status = "active"
	// Ended is terminal.
	Ended Status = "ended"
)

// ParticipantStatus is the status of one participant within a call.
type ParticipantStatus string

const (
	// Invited participants were notified but have not joined.
	Invited ParticipantStatus = "invited"
	// Joining participants entered the call room and are negotiating.
	Joining ParticipantStatus = "joining"
	// Connected participants have a negotiated peer connection.
	Connected ParticipantStatus = "connected"
	// Disconnected participants left. They may join again while the session
	// is not ended.
	Disconnected ParticipantStatus = "disconnected"
)

// Live returns true for statuses that keep a call alive.
func (s ParticipantStatus) Live() bool {
	return s == Joining || s == Connected
}

// SDPKind distinguishes offers from answers.
type SDPKind string

const (
	// Offer is an SDP offer.
	Offer SDPKind = "offer"
	// Answer is an SDP answer.
	Answer SDPKind = "answer"
)

// Participant is the state of one user within a call.
type Participant struct {
	UserID          string            `json:"userId"`
	Status          ParticipantStatus `json:"status"`
	JoinedAt        *time.Time        `json:"joinedAt,omitempty"`
	LeftAt          *time.Time        `json:"leftAt,omitempty"`
	IsMuted         bool              `json:"isMuted"`
	IsVideoOn       bool              `json:"isVideoOn"`
	IsScreenSharing bool              `json:"isScreenSharing"`
}

// CallSession is the record of a call.
type CallSession struct {
	CallID       string         `json:"callId"`
	ChatID       string         `json:"chatId"`
	Type         CallType       `json:"type"`
	InitiatorID  string         `json:"initiatorId"`
	Participants []*Participant `json:"participants"`
	Status       Status         `json:"status"`
	StartedAt    time.Time      `json:"startedAt"`
	EndedAt      *time.Time     `json:"endedAt,omitempty"`
}

// NewCallSession creates a pending session in which the initiator is the only
// connected participant and every other member is invited.
func NewCallSession(callID, chatID string, callType CallType, initiatorID string, members []string, now time.Time) *CallSession {
	s := &CallSession{
		CallID:       callID,
		ChatID:       chatID,
		Type:         callType,
		InitiatorID:  initiatorID,
		Participants: []*Participant{},
		Status:       Pending,
		StartedAt:    now,
	}

	joinedAt := now
	s.Participants = append(s.Participants, &Participant{
		UserID:    initiatorID,
		Status:    Connected,
		JoinedAt:  &joinedAt,
		IsVideoOn: callType == Video,
	})

	for _, m := range members {
		if m == initiatorID {
			continue
		}
		s.Participants = append(s.Participants, &Participant{
			UserID: m,
			Status: Invited,
		})
	}

	return s
}

// Participant returns the participant with the given user id, or nil.
func (s *CallSession) Participant(userID string) *Participant {
	for _, p := range s.Participants {
		if p.UserID == userID {
			return p
		}
	}
	return nil
}

// Count returns the number of participants in any of the given statuses.
func (s *CallSession) Count(statuses ...ParticipantStatus) int {
	n := 0
	for _, p := range s.Participants {
		for _, st := range statuses {
			if p.Status == st {
				n++
				break
			}
		}
	}
	return n
}

// UserIDs returns the ids of all participants in order.
func (s *CallSession) UserIDs() []string {
	res := make([]string, len(s.Participants))
	for i, p := range s.Participants {
		res[i] = p.UserID
	}
	return res
}

// Ended returns true if the session reached its terminal status.
func (s *CallSession) Ended() bool {
	return s.Status == Ended
}

// Join marks a user as joining, inserting them if they were not a participant
// yet. It returns false if the session is ended.
func (s *CallSession) Join(userID string, now time.Time) bool {
	if s.Ended() {
		return false
	}
	joinedAt := now
	p := s.Participant(userID)
	if p == nil {
		p = &Participant{UserID: userID}
		s.Participants = append(s.Participants, p)
	}
	p.Status = Joining
	p.JoinedAt = &joinedAt
	p.LeftAt = nil
	return true
}

// Leave marks a participant as disconnected. It returns false if the user is
// not a participant or already disconnected.
func (s *CallSession) Leave(userID string, now time.Time) bool {
	p := s.Participant(userID)
	if p == nil || p.Status == Disconnected {
		return false
	}
	leftAt := now
	p.Status = Disconnected
	p.LeftAt = &leftAt
	p.IsScreenSharing = false
	return true
}

// End disconnects every participant and moves the session to ended.
func (s *CallSession) End(now time.Time) {
	for _, p := range s.Participants {
		if p.Status != Disconnected {
			s.Leave(p.UserID, now)
		}
	}
	s.markEnded(now)
}

// Recompute derives the session status from participant statuses: active as
// soon as two participants are connected, ended when nobody is connected or
// joining. Status never moves backwards. It returns true if the status
// changed.
func (s *CallSession) Recompute(now time.Time) bool {
	if s.Ended() {
		return false
	}
	if s.Count(Connected, Joining) == 0 {
		s.markEnded(now)
		return true
	}
	if s.Status == Pending && s.Count(Connected) >= 2 {
		s.Status = Active
		return true
	}
	return false
}

func (s *CallSession) markEnded(now time.Time) {
	if s.Ended() {
		return
	}
	endedAt := now
	s.Status = Ended
	s.EndedAt = &endedAt
}

// Marshal encodes the session in canonical JSON.
func (s *CallSession) Marshal() ([]byte, error) {
	b := new(bytes.Buffer)
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	enc := codec.NewEncoder(b, jh)

	if err := enc.Encode(s); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// Unmarshal decodes a session from JSON.
func (s *CallSession) Unmarshal(data []byte) error {
	b := bytes.NewBuffer(data)
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	dec := codec.NewDecoder(b, jh)

	return dec.Decode(s)
}
