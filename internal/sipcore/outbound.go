package sipcore

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
	"github.com/google/uuid"
	"github.com/icholy/digest"

	"github.com/shaike1/claude-phone/internal/callsession"
	"github.com/shaike1/claude-phone/internal/database/models"
	"github.com/shaike1/claude-phone/internal/errs"
	"github.com/shaike1/claude-phone/internal/media"
)

// OutboundCallRequest is the orchestration-level request to place a call,
// built by the HTTP control API from POST /api/outbound-call.
type OutboundCallRequest struct {
	To              string
	DeviceExtension string
	Mode            callsession.Mode
	Message         string
	WebhookURL      string

	// CallerID overrides the device's display name in the outbound From
	// header, when the caller supplied one.
	CallerID string

	// Context is extra per-call background appended to the device's system
	// prompt for this call only.
	Context string

	// RingTimeout overrides the configured outbound ring timeout for this
	// call, when positive.
	RingTimeout time.Duration
}

// mapSIPFailure maps a SIP final failure status from the far end to the
// reason string recorded on the call session and returned by the HTTP API.
func mapSIPFailure(statusCode int) string {
	switch {
	case statusCode == 486 || statusCode == 600:
		return "busy"
	case statusCode == 480 || statusCode == 408:
		return "no_answer"
	case statusCode == 404:
		return "not_found"
	case statusCode == 603:
		return "rejected"
	case statusCode == 401 || statusCode == 407:
		return "auth_failed"
	case statusCode == 403:
		return "forbidden"
	case statusCode == 503:
		return "service_unavailable"
	default:
		return "sip_failure"
	}
}

// dialString rewrites the destination for the outbound proxy: external
// E.164 numbers drop the "+" and any leading country code "1" and gain the
// "9" trunk-access prefix; internal extensions are dialed verbatim.
func dialString(to string) string {
	if !strings.HasPrefix(to, "+") {
		return to
	}
	digits := strings.TrimPrefix(to, "+")
	digits = strings.TrimPrefix(digits, "1")
	return "9" + digits
}

// PlaceCall originates an outbound call: it allocates media up front
// (early offer), sends the INVITE, follows provisional/final responses, and
// on answer launches the shared conversation loop. It returns as soon as
// the call session exists; call progress continues in the background and
// is observed via GetSession/webhooks.
func (c *Core) PlaceCall(ctx context.Context, reqIn OutboundCallRequest) (*callsession.Session, error) {
	dev, found := c.devices.Lookup(reqIn.DeviceExtension)
	if reqIn.DeviceExtension != "" && !found {
		return nil, fmt.Errorf("sipcore: device %q: %w", reqIn.DeviceExtension, errs.ErrNotFound)
	}
	if reqIn.DeviceExtension == "" {
		dev = c.devices.Get(reqIn.DeviceExtension)
	}
	if !dev.Registrable() {
		return nil, fmt.Errorf("sipcore: device %q has no SIP credentials configured: %w", dev.Extension, errs.ErrValidation)
	}

	mode := reqIn.Mode
	if mode == "" {
		mode = callsession.ModeConversation
	}

	callID := uuid.NewString()
	sess := c.sessions.Create(context.Background(), callID, callsession.Outbound, mode)
	c.sessions.Do(sess, func(s *callsession.Session) {
		s.DeviceExtension = dev.Extension
		s.DeviceName = dev.Name
		s.RemoteParty = reqIn.To
		s.InitialMessage = reqIn.Message
		s.WebhookURL = reqIn.WebhookURL
		s.CallerID = reqIn.CallerID
		s.PromptContext = reqIn.Context
		c.wireWebhook(s, reqIn.To)
	})

	logger := c.logger.With("call_id", callID, "to", reqIn.To, "device", dev.Extension)

	endpoint, err := c.media.CreateEndpoint(sess.Context())
	if err != nil {
		c.sessions.End(context.Background(), callID, true, "media_engine_error")
		return nil, fmt.Errorf("allocating media endpoint: %v: %w", err, errs.ErrUpstreamUnavailable)
	}

	c.sessions.Do(sess, func(s *callsession.Session) {
		s.Endpoint = endpoint
		_ = s.Fire(callsession.EventDial)
	})

	go c.runOutboundInvite(sess, dev, endpoint, dialString(reqIn.To), reqIn.RingTimeout, logger)

	return sess, nil
}

// runOutboundInvite sends the INVITE and drives the call through ringing,
// answer, and into the conversation loop (or failure), in the background.
func (c *Core) runOutboundInvite(sess *callsession.Session, dev models.Device, endpoint *media.Endpoint, to string, ringTimeout time.Duration, logger *slog.Logger) {
	if ringTimeout <= 0 {
		ringTimeout = c.outboundRingTimeout
	}
	ringCtx, cancelRing := context.WithTimeout(sess.Context(), ringTimeout)
	defer cancelRing()

	req, recipientStr, err := c.buildOutboundInvite(sess.CallID, dev, to, sess.CallerID, endpoint.LocalSDP())
	if err != nil {
		logger.Error("building outbound invite failed", "error", err)
		c.failOutbound(sess, endpoint, "internal_error")
		return
	}

	onRinging := func() {
		c.sessions.Do(sess, func(s *callsession.Session) { _ = s.Fire(callsession.EventRing) })
	}

	result := c.sendInviteAndAwait(ringCtx, req, recipientStr, dev, onRinging, logger)
	if result.err != nil {
		reason := "sip_failure"
		if ringCtx.Err() != nil {
			reason = "no_answer"
		}
		logger.Warn("outbound invite failed", "error", result.err, "reason", reason)
		c.failOutbound(sess, endpoint, reason)
		return
	}
	if !result.answered {
		logger.Info("outbound call not answered", "status", result.statusCode, "reason", result.reason)
		c.failOutbound(sess, endpoint, mapSIPFailure(result.statusCode))
		return
	}

	ackReq := buildACKFor2xx(result.req, result.res)
	if err := c.client.WriteRequest(ackReq); err != nil {
		logger.Error("sending ack to answering party failed", "error", err)
		c.failOutbound(sess, endpoint, "sip_failure")
		return
	}

	if err := endpoint.Modify(sess.Context(), string(result.res.Body())); err != nil {
		logger.Error("completing media negotiation failed", "error", err)
		c.failOutbound(sess, endpoint, "media_negotiation_failed")
		return
	}

	sipCallID := ""
	if h := result.req.CallID(); h != nil {
		sipCallID = h.Value()
	}
	dlg := NewDialog(c.client, sipCallID, sess.CallID, SideUAC, result.req, result.res)
	c.dialogs.Put(dlg)

	c.sessions.Do(sess, func(s *callsession.Session) {
		s.Dialog = dlg
		_ = s.Fire(callsession.EventAnswer)
	})

	logger.Info("outbound call answered")
	RunConversation(c.convDeps, sess, dev, endpoint)
}

func (c *Core) failOutbound(sess *callsession.Session, endpoint *media.Endpoint, reason string) {
	_ = endpoint.Destroy(context.Background())
	c.sessions.End(context.Background(), sess.CallID, true, reason)
}

// buildOutboundInvite constructs the early-offer INVITE for an outbound
// call, addressed through the configured outbound proxy (or directly to
// the SIP domain when no proxy is configured).
func (c *Core) buildOutboundInvite(callID string, dev models.Device, to, callerID, localSDP string) (*sip.Request, string, error) {
	target := c.outboundProxy
	if target == "" {
		target = c.sipDomain
	}

	recipientStr := fmt.Sprintf("sip:%s@%s", to, target)
	var recipient sip.Uri
	if err := sip.ParseUri(recipientStr, &recipient); err != nil {
		return nil, "", fmt.Errorf("parsing destination uri: %w", err)
	}

	req := sip.NewRequest(sip.INVITE, recipient)

	body := []byte(localSDP)
	if len(body) > 0 {
		req.SetBody(body)
		req.AppendHeader(sip.NewHeader("Content-Type", "application/sdp"))
	}

	req.AppendHeader(sip.NewHeader("Call-ID", callID))

	fromUser := dev.Extension
	if fromUser == "" {
		fromUser = "claude-phone"
	}
	displayName := dev.Name
	if callerID != "" {
		displayName = callerID
	}
	from := &sip.FromHeader{
		DisplayName: displayName,
		Address: sip.Uri{
			Scheme: "sip",
			User:   fromUser,
			Host:   c.sipDomain,
		},
	}
	from.Params.Add("tag", sip.GenerateTagN(16))
	req.AppendHeader(from)

	return req, recipientStr, nil
}

// outboundResult is the settled outcome of an outbound INVITE transaction.
type outboundResult struct {
	answered   bool
	statusCode int
	reason     string
	req        *sip.Request
	res        *sip.Response
	err        error
}

// sendInviteAndAwait sends req and follows its transaction through
// provisional and final responses, transparently handling one digest
// challenge from the destination.
func (c *Core) sendInviteAndAwait(ctx context.Context, req *sip.Request, recipientStr string, dev models.Device, onRinging func(), logger *slog.Logger) *outboundResult {
	tx, err := c.client.TransactionRequest(ctx, req, sipgo.ClientRequestBuild)
	if err != nil {
		return &outboundResult{err: fmt.Errorf("sending invite: %w", err)}
	}

	for {
		var res *sip.Response
		select {
		case <-ctx.Done():
			tx.Terminate()
			return &outboundResult{err: ctx.Err()}
		case <-tx.Done():
			tx.Terminate()
			return &outboundResult{err: fmt.Errorf("invite transaction ended: %w", tx.Err())}
		case res = <-tx.Responses():
		}

		switch {
		case res.StatusCode == 100:
			continue

		case res.StatusCode == 180 || res.StatusCode == 183:
			logger.Debug("outbound call progress", "status", res.StatusCode, "reason", res.Reason)
			if res.StatusCode == 180 && onRinging != nil {
				onRinging()
				onRinging = nil
			}
			continue

		case res.StatusCode == 401 || res.StatusCode == 407:
			tx.Terminate()
			return c.retryWithAuth(ctx, req, recipientStr, res, dev, onRinging, logger)

		case res.StatusCode >= 200 && res.StatusCode < 300:
			return &outboundResult{answered: true, req: req, res: res}

		default:
			tx.Terminate()
			return &outboundResult{statusCode: res.StatusCode, reason: res.Reason}
		}
	}
}

// retryWithAuth computes a digest credential from the device's SIP
// credentials and re-sends the INVITE once.
func (c *Core) retryWithAuth(ctx context.Context, origReq *sip.Request, recipientStr string, challenge *sip.Response, dev models.Device, onRinging func(), logger *slog.Logger) *outboundResult {
	authHeader, authzHeader := "WWW-Authenticate", "Authorization"
	if challenge.StatusCode == 407 {
		authHeader, authzHeader = "Proxy-Authenticate", "Proxy-Authorization"
	}

	hdr := challenge.GetHeader(authHeader)
	if hdr == nil {
		return &outboundResult{err: fmt.Errorf("received %d but no %s header", challenge.StatusCode, authHeader)}
	}

	chal, err := digest.ParseChallenge(hdr.Value())
	if err != nil {
		return &outboundResult{err: fmt.Errorf("parsing auth challenge: %w", err)}
	}

	cred, err := digest.Digest(chal, digest.Options{
		Method:   origReq.Method.String(),
		URI:      recipientStr,
		Username: dev.SIPAuthID,
		Password: dev.SIPPassword,
	})
	if err != nil {
		return &outboundResult{err: fmt.Errorf("computing digest: %w", err)}
	}

	authReq := origReq.Clone()
	authReq.RemoveHeader("Via")
	authReq.AppendHeader(sip.NewHeader(authzHeader, cred.String()))

	tx, err := c.client.TransactionRequest(ctx, authReq, sipgo.ClientRequestIncreaseCSEQ, sipgo.ClientRequestAddVia)
	if err != nil {
		return &outboundResult{err: fmt.Errorf("sending authenticated invite: %w", err)}
	}

	for {
		var res *sip.Response
		select {
		case <-ctx.Done():
			tx.Terminate()
			return &outboundResult{err: ctx.Err()}
		case <-tx.Done():
			tx.Terminate()
			return &outboundResult{err: fmt.Errorf("authenticated invite transaction ended: %w", tx.Err())}
		case res = <-tx.Responses():
		}

		switch {
		case res.StatusCode == 100, res.StatusCode == 180, res.StatusCode == 183:
			if res.StatusCode == 180 && onRinging != nil {
				onRinging()
				onRinging = nil
			}
			continue
		case res.StatusCode >= 200 && res.StatusCode < 300:
			return &outboundResult{answered: true, req: authReq, res: res}
		default:
			tx.Terminate()
			return &outboundResult{statusCode: res.StatusCode, reason: res.Reason}
		}
	}
}
