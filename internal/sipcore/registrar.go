// Package sipcore implements the SIP-facing components: the per-device
// registrar, inbound/outbound call handling, and the UA/server bootstrap.
package sipcore

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
	"github.com/icholy/digest"

	"github.com/shaike1/claude-phone/internal/database/models"
)

// registerRetryInterval is the flat retry delay on transport error or a
// non-2xx/3xx/4xx-after-auth final response.
const registerRetryInterval = 60 * time.Second

// RegistrationStatus is the runtime state of one device's registration.
type RegistrationStatus string

const (
	RegStatusUnregistered RegistrationStatus = "unregistered"
	RegStatusRegistering  RegistrationStatus = "registering"
	RegStatusRegistered   RegistrationStatus = "registered"
	RegStatusFailed       RegistrationStatus = "failed"
)

// RegistrationState is a snapshot of a device's registration.
type RegistrationState struct {
	Extension    string
	Status       RegistrationStatus
	LastError    string
	RegisteredAt *time.Time
	ExpiresAt    *time.Time
}

type regEntry struct {
	device models.Device
	state  RegistrationState
	cancel context.CancelFunc
}

// Registrar manages one outbound REGISTER lifecycle per device.
type Registrar struct {
	ua            *sipgo.UserAgent
	client        *sipgo.Client
	domain        string
	registrarAddr string
	localAddr     string
	expiry        int
	logger        *slog.Logger

	mu      sync.RWMutex
	entries map[string]*regEntry
}

// NewRegistrar creates a Registrar targeting registrarAddr ("host:port")
// within sipDomain, advertising localAddr in Contact, requesting expiry
// seconds per REGISTER.
func NewRegistrar(ua *sipgo.UserAgent, sipDomain, registrarAddr, localAddr string, expiry int, logger *slog.Logger) (*Registrar, error) {
	client, err := sipgo.NewClient(ua)
	if err != nil {
		return nil, fmt.Errorf("creating sip client: %w", err)
	}
	if expiry <= 0 {
		expiry = 300
	}
	return &Registrar{
		ua:            ua,
		client:        client,
		domain:        sipDomain,
		registrarAddr: registrarAddr,
		localAddr:     localAddr,
		expiry:        expiry,
		logger:        logger.With("subsystem", "registrar"),
		entries:       make(map[string]*regEntry),
	}, nil
}

// StartDevice begins (or restarts) registration for a device. Devices
// without SIP credentials (models.Device.Registrable() == false) are
// rejected by the caller before this is invoked.
func (r *Registrar) StartDevice(ctx context.Context, dev models.Device) {
	r.StopDevice(dev.Extension)

	entryCtx, cancel := context.WithCancel(ctx)
	entry := &regEntry{
		device: dev,
		state:  RegistrationState{Extension: dev.Extension, Status: RegStatusRegistering},
		cancel: cancel,
	}

	r.mu.Lock()
	r.entries[dev.Extension] = entry
	r.mu.Unlock()

	go r.registrationLoop(entryCtx, entry)
}

// StopDevice cancels an in-flight registration loop, if any.
func (r *Registrar) StopDevice(extension string) {
	r.mu.Lock()
	entry, ok := r.entries[extension]
	if ok {
		delete(r.entries, extension)
	}
	r.mu.Unlock()

	if ok {
		entry.cancel()
	}
}

// GetStatus returns the registration snapshot for a device extension.
func (r *Registrar) GetStatus(extension string) (RegistrationState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[extension]
	if !ok {
		return RegistrationState{}, false
	}
	return entry.state, true
}

func (r *Registrar) setState(extension string, mutate func(*RegistrationState)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.entries[extension]; ok {
		mutate(&entry.state)
	}
}

// registrationLoop sends REGISTER, then re-registers at 90% of the granted
// expiry; on failure it retries after a flat registerRetryInterval. At
// most one REGISTER is ever in flight for a given device.
func (r *Registrar) registrationLoop(ctx context.Context, entry *regEntry) {
	dev := entry.device
	r.logger.Info("starting device registration", "extension", dev.Extension, "registrar", r.registrarAddr)

	for {
		granted, err := r.sendRegister(ctx, dev)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.logger.Warn("device registration failed", "extension", dev.Extension, "error", err)
			r.setState(dev.Extension, func(s *RegistrationState) {
				s.Status = RegStatusFailed
				s.LastError = err.Error()
			})

			select {
			case <-ctx.Done():
				return
			case <-time.After(registerRetryInterval):
				continue
			}
		}

		now := time.Now()
		expiresAt := now.Add(time.Duration(granted) * time.Second)
		r.setState(dev.Extension, func(s *RegistrationState) {
			s.Status = RegStatusRegistered
			s.LastError = ""
			s.RegisteredAt = &now
			s.ExpiresAt = &expiresAt
		})
		r.logger.Info("device registered", "extension", dev.Extension, "expires_in", granted)

		refresh := time.Duration(math.Max(30, math.Floor(0.9*float64(granted)))) * time.Second
		select {
		case <-ctx.Done():
			return
		case <-time.After(refresh):
		}
	}
}

// sendRegister sends one REGISTER, handling a single digest challenge,
// and returns the server-granted expiry.
func (r *Registrar) sendRegister(ctx context.Context, dev models.Device) (int, error) {
	recipientStr := fmt.Sprintf("sip:%s", r.registrarAddr)
	var recipient sip.Uri
	if err := sip.ParseUri(recipientStr, &recipient); err != nil {
		return 0, fmt.Errorf("parsing registrar uri: %w", err)
	}

	req := sip.NewRequest(sip.REGISTER, recipient)

	aor := fmt.Sprintf("<sip:%s@%s>", dev.Extension, r.domain)
	req.AppendHeader(sip.NewHeader("From", aor))
	req.AppendHeader(sip.NewHeader("To", aor))
	req.AppendHeader(sip.NewHeader("Contact", fmt.Sprintf("<sip:%s@%s>;expires=%d", dev.Extension, r.localAddr, r.expiry)))
	req.AppendHeader(sip.NewHeader("Expires", strconv.Itoa(r.expiry)))

	res, err := r.roundTrip(ctx, req)
	if err != nil {
		return 0, err
	}

	if res.StatusCode == 401 || res.StatusCode == 407 {
		authReq, err := r.buildAuthenticatedRequest(req, res, dev, recipientStr)
		if err != nil {
			return 0, err
		}
		res, err = r.roundTrip(ctx, authReq)
		if err != nil {
			return 0, err
		}
	}

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return 0, fmt.Errorf("register rejected: %d %s", res.StatusCode, res.Reason)
	}

	return grantedExpiry(res, r.expiry), nil
}

func (r *Registrar) roundTrip(ctx context.Context, req *sip.Request) (*sip.Response, error) {
	tx, err := r.client.TransactionRequest(ctx, req, sipgo.ClientRequestRegisterBuild)
	if err != nil {
		return nil, fmt.Errorf("sending register: %w", err)
	}
	defer tx.Terminate()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-tx.Done():
		return nil, fmt.Errorf("transaction terminated: %w", tx.Err())
	case res := <-tx.Responses():
		return res, nil
	}
}

func (r *Registrar) buildAuthenticatedRequest(req *sip.Request, res *sip.Response, dev models.Device, recipientStr string) (*sip.Request, error) {
	authHeader, authzHeader := "WWW-Authenticate", "Authorization"
	if res.StatusCode == 407 {
		authHeader, authzHeader = "Proxy-Authenticate", "Proxy-Authorization"
	}

	challengeHdr := res.GetHeader(authHeader)
	if challengeHdr == nil {
		return nil, fmt.Errorf("received %d but no %s header", res.StatusCode, authHeader)
	}

	chal, err := digest.ParseChallenge(challengeHdr.Value())
	if err != nil {
		return nil, fmt.Errorf("parsing auth challenge: %w", err)
	}

	cred, err := digest.Digest(chal, digest.Options{
		Method:   req.Method.String(),
		URI:      recipientStr,
		Username: dev.SIPAuthID,
		Password: dev.SIPPassword,
	})
	if err != nil {
		return nil, fmt.Errorf("computing digest: %w", err)
	}

	authReq := req.Clone()
	authReq.RemoveHeader("Via")
	authReq.AppendHeader(sip.NewHeader(authzHeader, cred.String()))
	return authReq, nil
}

// grantedExpiry extracts the server-granted expiry: Contact's expires
// param, else the Expires header, else the requested value.
func grantedExpiry(res *sip.Response, requested int) int {
	if contact := res.GetHeader("Contact"); contact != nil {
		if v := parseContactExpires(contact.Value()); v > 0 {
			return v
		}
	}
	if exp := res.GetHeader("Expires"); exp != nil {
		if v, err := strconv.Atoi(strings.TrimSpace(exp.Value())); err == nil && v > 0 {
			return v
		}
	}
	return requested
}

func parseContactExpires(contactValue string) int {
	lower := strings.ToLower(contactValue)
	idx := strings.Index(lower, ";expires=")
	if idx < 0 {
		return 0
	}
	rest := contactValue[idx+len(";expires="):]
	if end := strings.IndexAny(rest, ";,> \t"); end > 0 {
		rest = rest[:end]
	}
	v, err := strconv.Atoi(strings.TrimSpace(rest))
	if err != nil {
		return 0
	}
	return v
}
