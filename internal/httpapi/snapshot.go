package httpapi

import (
	"time"

	"github.com/shaike1/claude-phone/internal/callsession"
)

// turnView is one (user, assistant) exchange in the wire representation.
type turnView struct {
	Timestamp     time.Time `json:"timestamp"`
	UserText      string    `json:"user"`
	AssistantText string    `json:"assistant"`
}

// callView is the JSON snapshot of a Call Session returned by
// GET /api/call/:callId and GET /api/calls.
type callView struct {
	CallID      string     `json:"callId"`
	Direction   string     `json:"direction"`
	Mode        string     `json:"mode"`
	State       string     `json:"state"`
	To          string     `json:"to"`
	Device      string     `json:"device"`
	FailReason  string     `json:"reason,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	AnsweredAt  *time.Time `json:"answeredAt,omitempty"`
	EndedAt     *time.Time `json:"endedAt,omitempty"`
	Duration    float64    `json:"duration,omitempty"`
	TurnCount   int        `json:"turnCount"`
	Turns       []turnView `json:"conversation,omitempty"`
}

// newCallView renders a session snapshot. Conversation history is only
// populated for conversation-mode calls.
func newCallView(s callsession.Snapshot) callView {
	v := callView{
		CallID:     s.CallID,
		Direction:  string(s.Direction),
		Mode:       string(s.Mode),
		State:      string(s.State),
		To:         s.RemoteParty,
		Device:     s.DeviceName,
		FailReason: s.FailReason,
		CreatedAt:  s.CreatedAt,
		AnsweredAt: s.AnsweredAt,
		EndedAt:    s.EndedAt,
		TurnCount:  s.TurnCount,
	}
	if s.AnsweredAt != nil {
		v.Duration = s.DurationSeconds()
	}
	if s.Mode == callsession.ModeConversation {
		v.Turns = make([]turnView, 0, len(s.Turns))
		for _, t := range s.Turns {
			v.Turns = append(v.Turns, turnView{
				Timestamp:     t.Timestamp,
				UserText:      t.UserText,
				AssistantText: t.AssistantText,
			})
		}
	}
	return v
}
