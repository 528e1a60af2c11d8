package sipcore

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"

	"github.com/shaike1/claude-phone/internal/audiofork"
	"github.com/shaike1/claude-phone/internal/callsession"
	"github.com/shaike1/claude-phone/internal/devices"
	"github.com/shaike1/claude-phone/internal/media"
	"github.com/shaike1/claude-phone/internal/webhook"
)

// Core wires the sipgo UA/Server/Client into the call-orchestration
// components: inbound and outbound call handling, the dialog registry, and
// the shared conversation loop.
type Core struct {
	ua     *sipgo.UserAgent
	srv    *sipgo.Server
	client *sipgo.Client

	devices  *devices.Registry
	sessions *callsession.Manager
	media    *media.Adapter
	fork     *audiofork.Server
	dialogs  *Registry
	convDeps *ConversationDeps
	webhooks *webhook.Dispatcher

	sipDomain           string
	sipPort             int
	externalAddr        string
	outboundProxy       string
	outboundRingTimeout time.Duration
	webhookURL          string

	logger *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Config bundles everything Core needs at construction time.
type Config struct {
	SIPDomain           string
	SIPPort             int
	ExternalAddress     string
	OutboundProxy       string
	OutboundRingTimeout time.Duration
	WebhookURL          string
}

// New creates a Core with its sipgo UA/Server/Client and registers every
// SIP method handler. It does not start listening; call Start for that.
func New(cfg Config, devReg *devices.Registry, sessions *callsession.Manager, mediaAdapter *media.Adapter, fork *audiofork.Server, convDeps *ConversationDeps, webhooks *webhook.Dispatcher, logger *slog.Logger) (*Core, error) {
	logger = logger.With("subsystem", "sipcore")

	ua, err := sipgo.NewUA(
		sipgo.WithUserAgent("claude-phone"),
		sipgo.WithUserAgentHostname(cfg.SIPDomain),
	)
	if err != nil {
		return nil, fmt.Errorf("creating sip user agent: %w", err)
	}

	srv, err := sipgo.NewServer(ua, sipgo.WithServerLogger(logger))
	if err != nil {
		ua.Close()
		return nil, fmt.Errorf("creating sip server: %w", err)
	}

	client, err := sipgo.NewClient(ua)
	if err != nil {
		srv.Close()
		ua.Close()
		return nil, fmt.Errorf("creating sip client: %w", err)
	}

	ringTimeout := cfg.OutboundRingTimeout
	if ringTimeout <= 0 {
		ringTimeout = 30 * time.Second
	}

	c := &Core{
		ua:                  ua,
		srv:                 srv,
		client:              client,
		devices:             devReg,
		sessions:            sessions,
		media:               mediaAdapter,
		fork:                fork,
		dialogs:             NewRegistry(),
		convDeps:            convDeps,
		webhooks:            webhooks,
		sipDomain:           cfg.SIPDomain,
		sipPort:             cfg.SIPPort,
		externalAddr:        cfg.ExternalAddress,
		outboundProxy:       cfg.OutboundProxy,
		outboundRingTimeout: ringTimeout,
		webhookURL:          cfg.WebhookURL,
		logger:              logger,
	}

	c.srv.OnInvite(c.handleInvite)
	c.srv.OnAck(c.handleACK)
	c.srv.OnBye(c.handleBye)
	c.srv.OnCancel(c.handleCancel)
	c.srv.OnInfo(c.handleInfo)

	return c, nil
}

// Client exposes the shared sipgo client, used by the Registrar to send
// REGISTER on behalf of every device.
func (c *Core) Client() *sipgo.Client { return c.client }

// UserAgent exposes the shared sipgo UA, used to construct the Registrar.
func (c *Core) UserAgent() *sipgo.UserAgent { return c.ua }

// Start begins listening on UDP and TCP at the configured SIP port. It
// returns once both listeners are launched; listener errors are logged,
// not returned, since one transport failing should not abort the other.
func (c *Core) Start(ctx context.Context) error {
	ctx, c.cancel = context.WithCancel(ctx)

	addr := fmt.Sprintf("0.0.0.0:%d", c.sipPort)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.logger.Info("sip udp listener starting", "addr", addr)
		if err := c.srv.ListenAndServe(ctx, "udp", addr); err != nil && ctx.Err() == nil {
			c.logger.Error("sip udp listener stopped", "error", err)
		}
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.logger.Info("sip tcp listener starting", "addr", addr)
		if err := c.srv.ListenAndServe(ctx, "tcp", addr); err != nil && ctx.Err() == nil {
			c.logger.Error("sip tcp listener stopped", "error", err)
		}
	}()

	return nil
}

// Stop cancels both listeners and waits for them to return, then closes
// the underlying UA.
func (c *Core) Stop() {
	c.logger.Info("stopping sip core")
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	c.ua.Close()
}

// handleACK is a no-op beyond logging: the dialog was already established
// by the 200 OK this ACK confirms, and media is already negotiated.
func (c *Core) handleACK(req *sip.Request, tx sip.ServerTransaction) {
	sipCallID := ""
	if h := req.CallID(); h != nil {
		sipCallID = h.Value()
	}
	c.logger.Debug("ack received", "sip_call_id", sipCallID)
}

// handleCancel answers a CANCEL with 200 OK and ends the call session whose
// dialog is in the dialog registry. An inbound dialog is registered only
// once its 200 OK has been sent, so a CANCEL that arrives before that finds
// no dialog and ends no session.
func (c *Core) handleCancel(req *sip.Request, tx sip.ServerTransaction) {
	sipCallID := ""
	if h := req.CallID(); h != nil {
		sipCallID = h.Value()
	}
	logger := c.logger.With("sip_call_id", sipCallID)
	logger.Info("cancel received")

	res := sip.NewResponseFromRequest(req, 200, "OK", nil)
	if err := tx.Respond(res); err != nil {
		logger.Error("failed to respond to cancel", "error", err)
	}

	dlg, ok := c.dialogs.Get(sipCallID)
	if !ok {
		return
	}
	c.dialogs.Remove(sipCallID)
	c.sessions.End(context.Background(), dlg.CallID, true, "cancelled")
}

// handleBye looks up the owning Call Session for an in-dialog BYE,
// acknowledges it, and ends the session. An unrecognized dialog gets a 481
// rather than a crash; the far end may be retransmitting after we already
// cleaned up.
func (c *Core) handleBye(req *sip.Request, tx sip.ServerTransaction) {
	sipCallID := ""
	if h := req.CallID(); h != nil {
		sipCallID = h.Value()
	}
	logger := c.logger.With("sip_call_id", sipCallID)

	callID, err := c.resolveCallID(sipCallID)
	if err != nil {
		logger.Warn("bye for unknown dialog", "error", err)
		res := sip.NewResponseFromRequest(req, 481, "Call/Transaction Does Not Exist", nil)
		if err := tx.Respond(res); err != nil {
			logger.Error("failed to respond to bye", "error", err)
		}
		return
	}

	res := sip.NewResponseFromRequest(req, 200, "OK", nil)
	if err := tx.Respond(res); err != nil {
		logger.Error("failed to respond to bye", "error", err)
	}

	c.dialogs.Remove(sipCallID)
	logger.Info("bye received, ending call session", "call_id", callID)
	c.sessions.End(context.Background(), callID, false, "")
}

// handleInfo relays DTMF digits carried in application/dtmf-relay INFO
// bodies to the call's audio-fork session, force-finalizing the current
// utterance on "#".
func (c *Core) handleInfo(req *sip.Request, tx sip.ServerTransaction) {
	sipCallID := ""
	if h := req.CallID(); h != nil {
		sipCallID = h.Value()
	}
	logger := c.logger.With("sip_call_id", sipCallID)

	res := sip.NewResponseFromRequest(req, 200, "OK", nil)
	if err := tx.Respond(res); err != nil {
		logger.Error("failed to respond to info", "error", err)
	}

	callID, err := c.resolveCallID(sipCallID)
	if err != nil {
		return
	}

	relay, err := audiofork.ParseDTMFRelay(string(req.Body()))
	if err != nil {
		logger.Debug("info body is not a dtmf relay", "error", err)
		return
	}

	logger.Debug("dtmf relay received", "call_id", callID, "signal", relay.Signal)
	if !audiofork.IsForceFinalize(relay.Signal) {
		return
	}

	forkSess, ok := c.fork.Session(callID)
	if !ok {
		return
	}
	forkSess.ForceFinalize()
}

// wireWebhook registers sess's onTransition callback so every state change
// delivers a webhook.Event to its configured WebhookURL. Must be called
// before the session's first Fire.
func (c *Core) wireWebhook(sess *callsession.Session, to string) {
	if c.webhooks == nil {
		return
	}
	sess.SetOnTransition(func(state callsession.State) {
		c.webhooks.Deliver(sess.WebhookURL, webhook.Event{
			CallID:    sess.CallID,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			State:     webhook.EventName(string(state)),
			To:        to,
			Duration:  sess.DurationSeconds(),
			Reason:    sess.FailReason,
		})
	})
}

// resolveCallID maps a SIP Call-ID to this process's opaque call id via
// the dialog registry.
func (c *Core) resolveCallID(sipCallID string) (string, error) {
	dlg, ok := c.dialogs.Get(sipCallID)
	if !ok {
		return "", errNoDialog
	}
	return dlg.CallID, nil
}
