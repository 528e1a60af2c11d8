package sipcore

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/shaike1/claude-phone/internal/aibridge"
	"github.com/shaike1/claude-phone/internal/audiofork"
	"github.com/shaike1/claude-phone/internal/callsession"
	"github.com/shaike1/claude-phone/internal/database/models"
	"github.com/shaike1/claude-phone/internal/media"
	"github.com/shaike1/claude-phone/internal/stt"
	"github.com/shaike1/claude-phone/internal/tts"
)

// Conversation timing defaults.
const (
	forkExpectTimeout    = 8 * time.Second
	utteranceWaitTimeout = 20 * time.Second
	maxConsecutiveStalls = 3
)

// apologyText is played when the AI bridge is unavailable for a turn.
const apologyText = "Sorry, I'm having trouble reaching my assistant right now."

// ConversationDeps bundles everything the conversation loop needs, wired
// once at startup and shared across every call.
type ConversationDeps struct {
	TTS       *tts.Chain
	STT       *stt.Chain
	AI        *aibridge.Client
	Store     *tts.Store
	Fork      *audiofork.Server
	Sessions  *callsession.Manager
	WSBaseURL string // e.g. "ws://198.51.100.10:8081"
	MaxTurns  int
	Logger    *slog.Logger
}

// RunConversation drives the shared body of both call directions once a
// call has reached StateAnswered: greet, fork audio, loop turns through
// STT -> AI -> TTS,
// and end the call session when the conversation concludes for any reason.
// Announce-mode calls play the opening message and hang up without forking
// audio or listening for a reply.
func RunConversation(deps *ConversationDeps, sess *callsession.Session, dev models.Device, endpoint *media.Endpoint) {
	ctx := sess.Context()
	logger := deps.Logger.With("call_id", sess.CallID)

	greeting := dev.Greeting
	if sess.InitialMessage != "" {
		greeting = sess.InitialMessage
	}

	systemPrompt := dev.SystemPrompt
	if sess.PromptContext != "" {
		systemPrompt = strings.TrimSpace(systemPrompt + "\n\n" + sess.PromptContext)
	}

	if greeting != "" {
		speak(ctx, deps, sess, dev, endpoint, greeting)
	}

	if sess.Mode == callsession.ModeAnnounce {
		deps.Sessions.End(ctx, sess.CallID, false, "")
		return
	}

	if ctx.Err() != nil {
		return
	}

	utteranceCh := make(chan audiofork.Utterance, 4)
	onUtterance := func(u audiofork.Utterance) {
		select {
		case utteranceCh <- u:
		default:
		}
	}

	forkSess := startAudioFork(ctx, deps, sess, endpoint, onUtterance, logger)
	if forkSess == nil {
		logger.Warn("conversation: no audio fork established, ending call")
		deps.Sessions.End(ctx, sess.CallID, true, "audio_fork_timeout")
		return
	}
	defer deps.Fork.Close(sess.CallID)
	defer deps.AI.EndSession(sess.CallID)

	deps.Sessions.Do(sess, func(s *callsession.Session) {
		s.CaptureGate = callsession.NewCaptureGate(forkSess.SetCaptureEnabled)
		s.CaptureGate.Set(true)
		_ = s.Fire(callsession.EventListen)
	})

	maxTurns := deps.MaxTurns
	if maxTurns <= 0 {
		maxTurns = 10
	}

	consecutiveStalls := 0
	consecutiveAIFailures := 0

	for {
		if ctx.Err() != nil {
			return
		}

		select {
		case <-ctx.Done():
			return
		case utt := <-utteranceCh:
			consecutiveStalls = 0

			text, err := deps.STT.Transcribe(ctx, utt.PCM, utt.SampleRate, dev.Language)
			if err != nil {
				logger.Warn("stt failed, continuing to listen", "error", err)
				continue
			}
			text = strings.TrimSpace(text)
			if text == "" {
				continue
			}

			deps.Sessions.Do(sess, func(s *callsession.Session) { _ = s.Fire(callsession.EventSpeak) })
			sess.CaptureGate.Set(false)

			var wg sync.WaitGroup
			var reply string
			var askErr error
			wg.Add(1)
			go func() {
				defer wg.Done()
				reply, askErr = deps.AI.Ask(ctx, text, sess.CallID, systemPrompt)
			}()
			if dev.ThinkingPhrase != "" {
				wg.Add(1)
				go func() {
					defer wg.Done()
					speak(ctx, deps, sess, dev, endpoint, dev.ThinkingPhrase)
				}()
			}
			wg.Wait()

			if askErr != nil {
				consecutiveAIFailures++
				logger.Warn("ai bridge failed", "error", askErr, "consecutive_failures", consecutiveAIFailures)
				speak(ctx, deps, sess, dev, endpoint, apologyText)

				if consecutiveAIFailures >= maxConsecutiveStalls {
					deps.Sessions.End(ctx, sess.CallID, true, "ai_unavailable")
					return
				}

				sess.CaptureGate.Set(true)
				deps.Sessions.Do(sess, func(s *callsession.Session) { _ = s.Fire(callsession.EventListen) })
				continue
			}
			consecutiveAIFailures = 0

			if reply != "" {
				speak(ctx, deps, sess, dev, endpoint, reply)
			}

			var turnCount int
			deps.Sessions.Do(sess, func(s *callsession.Session) {
				s.Turns = append(s.Turns, callsession.Turn{
					Timestamp:     time.Now(),
					UserText:      text,
					AssistantText: reply,
				})
				s.TurnCount++
				turnCount = s.TurnCount
			})

			if turnCount >= maxTurns {
				deps.Sessions.End(ctx, sess.CallID, false, "")
				return
			}

			sess.CaptureGate.Set(true)
			deps.Sessions.Do(sess, func(s *callsession.Session) { _ = s.Fire(callsession.EventListen) })

		case <-time.After(utteranceWaitTimeout):
			consecutiveStalls++
			if consecutiveStalls >= maxConsecutiveStalls {
				deps.Sessions.End(ctx, sess.CallID, true, "no_response")
				return
			}
		}
	}
}

// startAudioFork pre-registers an audio-fork expectation, instructs the
// media engine to begin forking, and waits for the WebSocket connection to
// land. Returns nil on timeout.
func startAudioFork(ctx context.Context, deps *ConversationDeps, sess *callsession.Session, endpoint *media.Endpoint, onUtterance func(audiofork.Utterance), logger *slog.Logger) *audiofork.Session {
	readyCh := make(chan *audiofork.Session, 1)
	go func() {
		readyCh <- deps.Fork.Expect(sess.CallID, forkExpectTimeout, onUtterance)
	}()

	wsURL := strings.TrimRight(deps.WSBaseURL, "/") + "/" + sess.CallID
	if err := endpoint.ForkAudio(ctx, wsURL, sess.CallID); err != nil {
		logger.Warn("instructing media engine to fork audio failed", "error", err)
	}

	select {
	case <-ctx.Done():
		return nil
	case s := <-readyCh:
		return s
	}
}

// speak synthesizes text through the TTS chain, saves it to the audio
// store, and plays it on endpoint. Failures are logged and swallowed: a
// silent beat is preferable to tearing down the call over one bad line.
func speak(ctx context.Context, deps *ConversationDeps, sess *callsession.Session, dev models.Device, endpoint *media.Endpoint, text string) {
	if ctx.Err() != nil {
		return
	}

	audio, ext, err := deps.TTS.Synthesize(ctx, text, dev.Language, dev.Voice)
	if err != nil {
		deps.Logger.Warn("tts synthesis failed", "call_id", sess.CallID, "error", err)
		return
	}

	url, err := deps.Store.Save(audio, ext)
	if err != nil {
		deps.Logger.Warn("saving synthesized audio failed", "call_id", sess.CallID, "error", err)
		return
	}

	if err := endpoint.Play(ctx, url); err != nil && ctx.Err() == nil {
		deps.Logger.Warn("playing synthesized audio failed", "call_id", sess.CallID, "error", err)
	}
}
