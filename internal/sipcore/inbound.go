package sipcore

import (
	"context"
	"fmt"

	"github.com/emiago/sipgo/sip"
	"github.com/google/uuid"

	"github.com/shaike1/claude-phone/internal/callsession"
)

// handleInvite is the sipgo OnInvite callback: every INVITE this
// process receives is an inbound call arriving from the PBX/trunk, dialed
// to one of the Device Registry's extensions. Outbound calls are placed by
// this process itself and never arrive here.
func (c *Core) handleInvite(req *sip.Request, tx sip.ServerTransaction) {
	sipCallID := ""
	if h := req.CallID(); h != nil {
		sipCallID = h.Value()
	}

	trying := sip.NewResponseFromRequest(req, 100, "Trying", nil)
	if err := tx.Respond(trying); err != nil {
		c.logger.Error("failed to send 100 trying", "sip_call_id", sipCallID, "error", err)
		return
	}

	dialedExt := req.Recipient.User
	dev, ok := c.devices.Lookup(dialedExt)
	if !ok {
		dev = c.devices.Get(dialedExt)
	}

	callID := uuid.NewString()
	logger := c.logger.With("call_id", callID, "sip_call_id", sipCallID, "extension", dev.Extension)
	logger.Info("inbound invite received", "dialed", dialedExt, "from", req.From().Address.User)

	remoteParty := ""
	if from := req.From(); from != nil {
		remoteParty = from.Address.User
	}

	sess := c.sessions.Create(context.Background(), callID, callsession.Inbound, callsession.ModeConversation)
	c.sessions.Do(sess, func(s *callsession.Session) {
		s.DeviceExtension = dev.Extension
		s.DeviceName = dev.Name
		s.RemoteParty = remoteParty
		s.WebhookURL = c.webhookURL
		c.wireWebhook(s, dev.Extension)
		_ = s.Fire(callsession.EventRing)
	})

	endpoint, err := c.media.CreateEndpoint(sess.Context())
	if err != nil {
		logger.Error("allocating media endpoint failed", "error", err)
		c.sessions.End(context.Background(), callID, true, "media_engine_error")
		c.respondError(req, tx, 500, "Internal Server Error")
		return
	}

	if err := endpoint.Modify(sess.Context(), string(req.Body())); err != nil {
		logger.Error("negotiating media failed", "error", err)
		_ = endpoint.Destroy(context.Background())
		c.sessions.End(context.Background(), callID, true, "media_negotiation_failed")
		c.respondError(req, tx, 488, "Not Acceptable Here")
		return
	}

	okBody := []byte(endpoint.LocalSDP())
	okResponse := sip.NewResponseFromRequest(req, 200, "OK", okBody)
	if len(okBody) > 0 {
		okResponse.AppendHeader(sip.NewHeader("Content-Type", "application/sdp"))
	}
	okResponse.AppendHeader(sip.NewHeader("Contact", fmt.Sprintf("<sip:%s@%s>", dev.Extension, c.externalAddr)))

	if err := tx.Respond(okResponse); err != nil {
		logger.Error("sending 200 ok failed", "error", err)
		_ = endpoint.Destroy(context.Background())
		c.sessions.End(context.Background(), callID, true, "sip_transport_error")
		return
	}

	dlg := NewDialog(c.client, sipCallID, callID, SideUAS, req, nil)
	c.dialogs.Put(dlg)

	c.sessions.Do(sess, func(s *callsession.Session) {
		s.Endpoint = endpoint
		s.Dialog = dlg
		_ = s.Fire(callsession.EventAccept)
		_ = s.Fire(callsession.EventAnswer)
	})

	logger.Info("inbound call answered")
	go RunConversation(c.convDeps, sess, dev, endpoint)
}

// respondError sends a final error response to an INVITE transaction,
// logging (rather than returning) any transport failure — there is no
// further recourse once sending the response itself fails.
func (c *Core) respondError(req *sip.Request, tx sip.ServerTransaction, code int, reason string) {
	res := sip.NewResponseFromRequest(req, code, reason, nil)
	if err := tx.Respond(res); err != nil {
		c.logger.Error("failed to send error response", "code", code, "error", err)
	}
}
