package sipcore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
)

// Side identifies which role this process played in establishing a dialog.
type Side int

const (
	// SideUAC means this process sent the INVITE (outbound calls).
	SideUAC Side = iota
	// SideUAS means this process received the INVITE (inbound calls).
	SideUAS
)

// Dialog is the SIP-level handle kept per call: enough header state to
// emit an in-dialog BYE and to route an incoming BYE back to the owning
// call session.
type Dialog struct {
	SIPCallID string
	CallID    string // our process-unique call session id
	Side      Side

	inviteReq  *sip.Request
	inviteResp *sip.Response

	client *sipgo.Client

	hangupOnce sync.Once
}

// NewDialog wraps the INVITE request/response pair that established a
// dialog, in the given role.
func NewDialog(client *sipgo.Client, sipCallID, callID string, side Side, inviteReq *sip.Request, inviteResp *sip.Response) *Dialog {
	return &Dialog{
		SIPCallID:  sipCallID,
		CallID:     callID,
		Side:       side,
		inviteReq:  inviteReq,
		inviteResp: inviteResp,
		client:     client,
	}
}

// Hangup sends a BYE for this dialog. Safe to call more than once; only
// the first call actually sends anything. Satisfies callsession.DialogHandle.
func (d *Dialog) Hangup(ctx context.Context) error {
	var sendErr error
	d.hangupOnce.Do(func() {
		var bye *sip.Request
		if d.Side == SideUAC {
			bye = buildInDialogBYE(d.inviteReq, d.inviteResp)
		} else {
			bye = buildReverseDialogBYE(d.inviteReq)
		}
		sendErr = d.client.WriteRequest(bye)
	})
	return sendErr
}

// buildInDialogBYE creates a BYE for a dialog this process originated
// (outbound calls): from the UAC's own INVITE, to the remote Contact.
func buildInDialogBYE(inviteReq *sip.Request, inviteResp *sip.Response) *sip.Request {
	recipient := &inviteReq.Recipient
	if inviteResp != nil {
		if contact := inviteResp.Contact(); contact != nil {
			recipient = &contact.Address
		}
	}

	bye := sip.NewRequest(sip.BYE, *recipient.Clone())
	bye.SipVersion = inviteReq.SipVersion

	if h := inviteReq.From(); h != nil {
		bye.AppendHeader(sip.HeaderClone(h))
	}
	if inviteResp != nil {
		if h := inviteResp.To(); h != nil {
			bye.AppendHeader(sip.HeaderClone(h))
		}
	} else if h := inviteReq.To(); h != nil {
		bye.AppendHeader(sip.HeaderClone(h))
	}
	if h := inviteReq.CallID(); h != nil {
		bye.AppendHeader(sip.HeaderClone(h))
	}

	bye.AppendHeader(&sip.CSeqHeader{SeqNo: 2, MethodName: sip.BYE})
	maxFwd := sip.MaxForwardsHeader(70)
	bye.AppendHeader(&maxFwd)

	bye.SetTransport(inviteReq.Transport())
	return bye
}

// buildReverseDialogBYE creates a BYE for a dialog the remote party
// originated (inbound calls): we are now the initiator, so From/To swap
// relative to the original INVITE.
func buildReverseDialogBYE(calleeReq *sip.Request) *sip.Request {
	recipient := &calleeReq.Recipient
	if contact := calleeReq.Contact(); contact != nil {
		recipient = &contact.Address
	}

	bye := sip.NewRequest(sip.BYE, *recipient.Clone())
	bye.SipVersion = calleeReq.SipVersion

	if h := calleeReq.To(); h != nil {
		from := h.AsFrom()
		bye.AppendHeader(&from)
	}
	if h := calleeReq.From(); h != nil {
		to := h.AsTo()
		bye.AppendHeader(&to)
	}
	if h := calleeReq.CallID(); h != nil {
		bye.AppendHeader(sip.HeaderClone(h))
	}

	bye.AppendHeader(&sip.CSeqHeader{SeqNo: 1, MethodName: sip.BYE})
	maxFwd := sip.MaxForwardsHeader(70)
	bye.AppendHeader(&maxFwd)

	bye.SetTransport(calleeReq.Transport())
	return bye
}

// buildACKFor2xx creates the UAC-core ACK for a 2xx response to an INVITE,
// per RFC 3261 §13.2.2.4.
func buildACKFor2xx(inviteReq *sip.Request, inviteResp *sip.Response) *sip.Request {
	recipient := &inviteReq.Recipient
	if contact := inviteResp.Contact(); contact != nil {
		recipient = &contact.Address
	}

	ack := sip.NewRequest(sip.ACK, *recipient.Clone())
	ack.SipVersion = inviteReq.SipVersion

	if h := inviteReq.From(); h != nil {
		ack.AppendHeader(sip.HeaderClone(h))
	}
	if h := inviteResp.To(); h != nil {
		ack.AppendHeader(sip.HeaderClone(h))
	}
	if h := inviteReq.CallID(); h != nil {
		ack.AppendHeader(sip.HeaderClone(h))
	}
	if h := inviteReq.CSeq(); h != nil {
		ack.AppendHeader(sip.HeaderClone(h))
	}
	if cseq := ack.CSeq(); cseq != nil {
		cseq.MethodName = sip.ACK
	}

	maxFwd := sip.MaxForwardsHeader(70)
	ack.AppendHeader(&maxFwd)

	ack.SetTransport(inviteReq.Transport())
	return ack
}

// Registry maps a SIP Call-ID to the Dialog and our own process-unique call
// id, so OnBye/OnAck/OnCancel handlers (keyed by SIP Call-ID, per RFC 3261)
// can find the Call Session (keyed by our own opaque call id) that owns it.
type Registry struct {
	mu    sync.RWMutex
	byID  map[string]*Dialog
	ttl   time.Duration
	added map[string]time.Time
}

// NewRegistry creates an empty dialog Registry.
func NewRegistry() *Registry {
	return &Registry{
		byID:  make(map[string]*Dialog),
		added: make(map[string]time.Time),
		ttl:   24 * time.Hour,
	}
}

// Put registers d under its SIP Call-ID.
func (r *Registry) Put(d *Dialog) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[d.SIPCallID] = d
	r.added[d.SIPCallID] = time.Now()
}

// Get returns the Dialog for a SIP Call-ID, if any.
func (r *Registry) Get(sipCallID string) (*Dialog, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byID[sipCallID]
	return d, ok
}

// Remove drops the Dialog for a SIP Call-ID.
func (r *Registry) Remove(sipCallID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, sipCallID)
	delete(r.added, sipCallID)
}

// errNoDialog is returned by lookups that fail to resolve a session.
var errNoDialog = fmt.Errorf("sipcore: no dialog for call")
