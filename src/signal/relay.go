package signal

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Linkolnn/Icore/src/common"
	"github.com/Linkolnn/Icore/src/session"
	"github.com/pion/webrtc/v2"
	"github.com/sirupsen/logrus"
)

// sender returns the session and checks that userID is connected or joining.
// The relay target is returned when it can still receive signaling; a target
// that left or never was a participant yields nil.
func (o *Orchestrator) sender(ctx context.Context, callID, userID, targetID string) (*session.CallSession, *session.Participant, error) {
	if targetID == "" {
		return nil, nil, common.NewErrMsg("Call", common.Validation, callID, "targetUserId is required")
	}
	sess, err := o.liveSession(ctx, callID)
	if err != nil {
		return nil, nil, err
	}
	if p := sess.Participant(userID); p == nil || !p.Status.Live() {
		return nil, nil, common.NewErrMsg("Call", common.Authorization, callID, "not in the call")
	}
	target := sess.Participant(targetID)
	if target == nil || target.Status == session.Disconnected {
		o.logger.WithFields(logrus.Fields{
			"call_id": callID,
			"target":  targetID,
		}).Debug("Dropping signaling for absent target")
		return sess, nil, nil
	}
	return sess, target, nil
}

// Offer stores the SDP offer of userID and forwards it, byte for byte, to
// the personal channel of the target.
func (o *Orchestrator) Offer(ctx context.Context, userID, callID, targetID string, offer json.RawMessage) error {
	if err := validateSDP(offer, webrtc.SDPTypeOffer); err != nil {
		return err
	}

	unlock := o.lockCall(callID)
	defer unlock()

	ctx, cancel := o.withTimeout(ctx)
	defer cancel()

	_, target, err := o.sender(ctx, callID, userID, targetID)
	if err != nil || target == nil {
		return err
	}

	if err := o.store.SetSDP(ctx, callID, userID, session.Offer, offer); err != nil {
		return fmt.Errorf("store offer: %w", err)
	}

	o.toUser(targetID, EventOffer, OfferEvent{
		CallID:     callID,
		FromUserID: userID,
		Offer:      offer,
	})
	return nil
}

// Answer stores the SDP answer of userID, marks them connected and forwards
// the answer to the target. The call becomes active once two participants
// are connected.
func (o *Orchestrator) Answer(ctx context.Context, userID, callID, targetID string, answer json.RawMessage) error {
	if err := validateSDP(answer, webrtc.SDPTypeAnswer); err != nil {
		return err
	}

	unlock := o.lockCall(callID)
	defer unlock()

	ctx, cancel := o.withTimeout(ctx)
	defer cancel()

	sess, target, err := o.sender(ctx, callID, userID, targetID)
	if err != nil {
		return err
	}

	if err := o.store.SetSDP(ctx, callID, userID, session.Answer, answer); err != nil {
		return fmt.Errorf("store answer: %w", err)
	}

	sess.Participant(userID).Status = session.Connected
	if sess.Recompute(o.now()) {
		o.logger.WithFields(logrus.Fields{
			"call_id": callID,
			"status":  sess.Status,
		}).Debug("Call status changed")
	}
	if err := o.store.SetSession(ctx, sess); err != nil {
		return fmt.Errorf("answer call: %w", err)
	}

	if target != nil {
		o.toUser(targetID, EventAnswer, AnswerEvent{
			CallID:     callID,
			FromUserID: userID,
			Answer:     answer,
		})
	}
	return nil
}

// ICECandidate appends a candidate to the queue of userID and forwards it to
// the target.
func (o *Orchestrator) ICECandidate(ctx context.Context, userID, callID, targetID string, candidate json.RawMessage) error {
	if err := validateCandidate(candidate); err != nil {
		return err
	}

	unlock := o.lockCall(callID)
	defer unlock()

	ctx, cancel := o.withTimeout(ctx)
	defer cancel()

	_, target, err := o.sender(ctx, callID, userID, targetID)
	if err != nil || target == nil {
		return err
	}

	if err := o.store.AppendICECandidate(ctx, callID, userID, candidate); err != nil {
		return fmt.Errorf("store ice candidate: %w", err)
	}

	o.toUser(targetID, EventICECandidate, CandidateEvent{
		CallID:     callID,
		FromUserID: userID,
		Candidate:  candidate,
	})
	return nil
}

// ToggleMedia mutes or unmutes the microphone (audio) or turns the camera on
// or off (video), and notifies the rest of the call room.
func (o *Orchestrator) ToggleMedia(ctx context.Context, userID, callID string, media session.CallType, enabled bool) error {
	if !media.Valid() {
		return common.NewErrMsg("Call", common.Validation, callID, "media type must be audio or video")
	}
	err := o.updateParticipant(ctx, userID, callID, func(p *session.Participant) {
		if media == session.Audio {
			p.IsMuted = !enabled
		} else {
			p.IsVideoOn = enabled
		}
	})
	if err != nil {
		return ignoreNoop(err)
	}
	o.toRoom(callID, EventMediaToggled, MediaToggled{
		CallID:  callID,
		UserID:  userID,
		Type:    media,
		Enabled: enabled,
	}, userID)
	return nil
}

// ScreenShareStart flags the user as sharing their screen. A user who joined
// with a call token needs the screen share permission.
func (o *Orchestrator) ScreenShareStart(ctx context.Context, userID, callID string) error {
	if p, ok := o.permissions(callID, userID); ok && !p.CanScreenShare {
		return common.NewErrMsg("Call", common.Authorization, callID, "screen sharing is not allowed")
	}
	err := o.updateParticipant(ctx, userID, callID, func(p *session.Participant) {
		p.IsScreenSharing = true
	})
	if err != nil {
		return ignoreNoop(err)
	}
	o.toRoom(callID, EventScreenShareStarted, ParticipantEvent{CallID: callID, UserID: userID}, userID)
	return nil
}

// ScreenShareStop clears the screen share flag of the user.
func (o *Orchestrator) ScreenShareStop(ctx context.Context, userID, callID string) error {
	err := o.updateParticipant(ctx, userID, callID, func(p *session.Participant) {
		p.IsScreenSharing = false
	})
	if err != nil {
		return ignoreNoop(err)
	}
	o.toRoom(callID, EventScreenShareStopped, ParticipantEvent{CallID: callID, UserID: userID}, userID)
	return nil
}

func ignoreNoop(err error) error {
	if common.Is(err, common.NotFound) {
		return nil
	}
	return err
}

// updateParticipant applies f to the participant record of a live user and
// saves the session. Missing sessions and users that are not in the call
// yield a NotFound error, which callers treat as a no-op.
func (o *Orchestrator) updateParticipant(ctx context.Context, userID, callID string, f func(*session.Participant)) error {
	unlock := o.lockCall(callID)
	defer unlock()

	ctx, cancel := o.withTimeout(ctx)
	defer cancel()

	sess, err := o.liveSession(ctx, callID)
	if err != nil {
		return err
	}
	p := sess.Participant(userID)
	if p == nil || !p.Status.Live() {
		return common.NewErrMsg("Call", common.NotFound, callID, "not in the call")
	}
	f(p)
	return o.store.SetSession(ctx, sess)
}
