// Package audiofork implements the per-call WebSocket audio fork: a
// long-lived server that accepts a raw 16-bit PCM mono stream per call,
// runs voice-activity detection over it, and emits framed utterances to
// the conversation loop.
package audiofork

import (
	"encoding/binary"
	"math"
	"sync"
	"time"
)

// EndReason classifies why an utterance was finalized.
type EndReason string

const (
	EndSilence     EndReason = "end_silence"
	EndMaxDuration EndReason = "max_utterance"
	EndDTMF        EndReason = "dtmf_trigger"
)

// VAD tunables; overridable per session.
const (
	DefaultEndSilenceMS      = 1500
	DefaultMinSpeechMS       = 350
	DefaultMaxUtteranceMS    = 60000
	DefaultPreRollMS         = 200
	sampleRMSThreshold       = 650
	sampleAbsMaxThreshold    = 2200
	silenceNearZeroRatio     = 0.94
	finalizeMinSpeechRatio   = 0.12
	dtmfMinSpeechMS          = 100
	dtmfMinSpeechRatio       = 0.05
	bytesPerSample           = 2
	defaultSampleRate        = 16000
)

// Utterance is an accepted speech segment ready for the conversation loop.
type Utterance struct {
	CallID       string
	PCM          []byte
	SampleRate   int
	Duration     time.Duration
	SpeechMillis int64
	EndReason    EndReason
}

// chunkStats summarizes one chunk's amplitude characteristics under one
// endianness interpretation.
type chunkStats struct {
	rms    float64
	absMax float64
}

// sessionState is the VAD state machine's phase.
type sessionState int

const (
	stateIdle sessionState = iota
	stateInSpeech
)

// Session runs the VAD/framing state machine for one call's audio fork.
// Ingest runs on the websocket read-loop goroutine while SetCaptureEnabled
// (conversation loop) and ForceFinalize (SIP INFO handler) arrive from
// others; mu serializes all three.
type Session struct {
	CallID string

	EndSilenceMS   int
	MinSpeechMS    int
	MaxUtteranceMS int
	PreRollMS      int
	SampleRate     int

	mu sync.Mutex

	state           sessionState
	littleEndian    bool
	endiannessSet   bool
	preRoll         []byte
	buf             []byte
	speechBytes     int
	silenceMillis   int64
	utteranceMillis int64
	captureEnabled  bool

	onUtterance func(Utterance)
}

// NewSession creates a Session with default VAD parameters.
func NewSession(callID string, onUtterance func(Utterance)) *Session {
	return &Session{
		CallID:         callID,
		EndSilenceMS:   DefaultEndSilenceMS,
		MinSpeechMS:    DefaultMinSpeechMS,
		MaxUtteranceMS: DefaultMaxUtteranceMS,
		PreRollMS:      DefaultPreRollMS,
		SampleRate:     defaultSampleRate,
		captureEnabled: true,
		onUtterance:    onUtterance,
	}
}

// SetSampleRate applies the sample rate announced in a connection's
// metadata frame.
func (s *Session) SetSampleRate(rate int) {
	if rate <= 0 {
		return
	}
	s.mu.Lock()
	s.SampleRate = rate
	s.mu.Unlock()
}

// SetCaptureEnabled gates ingestion: false while the bot is speaking
// (barge-in window closed), true immediately after TTS completes.
func (s *Session) SetCaptureEnabled(enabled bool) {
	s.mu.Lock()
	s.captureEnabled = enabled
	s.mu.Unlock()
}

// preRollCapacity returns the byte budget for the pre-roll ring buffer.
func (s *Session) preRollCapacity() int {
	bytesPerMS := s.SampleRate * bytesPerSample / 1000
	return s.PreRollMS * bytesPerMS
}

// Ingest processes one binary chunk of raw PCM. Endianness starts as a
// provisional little-endian guess and is locked in on the first chunk that
// registers speech under the higher-scoring interpretation; a session whose
// opening chunks are silent keeps revising until speech arrives.
func (s *Session) Ingest(chunk []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.captureEnabled {
		return
	}
	if len(chunk) < bytesPerSample {
		return
	}

	if !s.endiannessSet {
		s.littleEndian = detectLittleEndian(chunk)
	}

	stats := analyzeChunk(chunk, s.littleEndian)
	speaking := stats.rms >= sampleRMSThreshold || stats.absMax >= sampleAbsMaxThreshold

	if !s.endiannessSet {
		if speaking {
			s.endiannessSet = true
		} else {
			s.littleEndian = true
		}
	}

	switch s.state {
	case stateIdle:
		if !speaking {
			s.accumulatePreRoll(chunk)
			return
		}
		s.beginUtterance()
		s.buf = append(s.buf, s.preRoll...)
		s.buf = append(s.buf, chunk...)
		s.speechBytes += len(chunk)
		s.utteranceMillis = s.chunkMillis(len(s.preRoll) + len(chunk))
	case stateInSpeech:
		s.buf = append(s.buf, chunk...)
		chunkMillis := s.chunkMillis(len(chunk))
		s.utteranceMillis += chunkMillis
		if speaking {
			s.speechBytes += len(chunk)
			s.silenceMillis = 0
		} else {
			nearZero := nearZeroRatio(chunk, s.littleEndian)
			if nearZero > silenceNearZeroRatio && stats.rms < sampleRMSThreshold {
				s.silenceMillis += chunkMillis
			}
		}

		if s.silenceMillis >= int64(s.EndSilenceMS) {
			s.finalize(EndSilence)
		} else if s.utteranceMillis >= int64(s.MaxUtteranceMS) {
			s.finalize(EndMaxDuration)
		}
	}
}

// chunkMillis converts a PCM byte count to stream milliseconds.
func (s *Session) chunkMillis(n int) int64 {
	return int64(n*1000) / int64(s.SampleRate*bytesPerSample)
}

// ForceFinalize finalizes any in-progress utterance immediately with
// reason dtmf_trigger, applying relaxed acceptance thresholds.
func (s *Session) ForceFinalize() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != stateInSpeech {
		return
	}
	s.finalize(EndDTMF)
}

func (s *Session) beginUtterance() {
	s.state = stateInSpeech
	s.silenceMillis = 0
	s.utteranceMillis = 0
	s.speechBytes = 0
	s.buf = s.buf[:0]
}

func (s *Session) accumulatePreRoll(chunk []byte) {
	s.preRoll = append(s.preRoll, chunk...)
	if cap := s.preRollCapacity(); len(s.preRoll) > cap {
		s.preRoll = s.preRoll[len(s.preRoll)-cap:]
	}
}

func (s *Session) finalize(reason EndReason) {
	pcm := s.buf
	totalBytes := len(pcm)
	speechMillis := s.chunkMillis(s.speechBytes)
	duration := time.Duration(s.chunkMillis(totalBytes)) * time.Millisecond

	minSpeechMS := s.MinSpeechMS
	minRatio := finalizeMinSpeechRatio
	if reason == EndDTMF {
		minSpeechMS = dtmfMinSpeechMS
		minRatio = dtmfMinSpeechRatio
	}

	var speechRatio float64
	if totalBytes > 0 {
		speechRatio = float64(s.speechBytes) / float64(totalBytes)
	}

	s.state = stateIdle
	s.buf = nil
	s.preRoll = nil
	s.silenceMillis = 0
	s.utteranceMillis = 0

	if speechMillis < int64(minSpeechMS) || speechRatio < minRatio {
		return
	}

	if s.onUtterance != nil {
		s.onUtterance(Utterance{
			CallID:       s.CallID,
			PCM:          pcm,
			SampleRate:   s.SampleRate,
			Duration:     duration,
			SpeechMillis: speechMillis,
			EndReason:    reason,
		})
	}
}

// detectLittleEndian scores both interpretations of chunk via (RMS + |max|)
// and returns whether little-endian scored higher.
func detectLittleEndian(chunk []byte) bool {
	le := analyzeChunk(chunk, true)
	be := analyzeChunk(chunk, false)
	return (le.rms + le.absMax) >= (be.rms + be.absMax)
}

func analyzeChunk(chunk []byte, littleEndian bool) chunkStats {
	n := len(chunk) / bytesPerSample
	if n == 0 {
		return chunkStats{}
	}

	var sumSquares float64
	var absMax float64
	for i := 0; i < n; i++ {
		off := i * bytesPerSample
		var sample int16
		if littleEndian {
			sample = int16(binary.LittleEndian.Uint16(chunk[off : off+2]))
		} else {
			sample = int16(binary.BigEndian.Uint16(chunk[off : off+2]))
		}
		v := float64(sample)
		sumSquares += v * v
		if abs := math.Abs(v); abs > absMax {
			absMax = abs
		}
	}

	return chunkStats{
		rms:    math.Sqrt(sumSquares / float64(n)),
		absMax: absMax,
	}
}

// nearZeroRatio returns the fraction of samples whose magnitude is below a
// small threshold, used to classify near-silence.
func nearZeroRatio(chunk []byte, littleEndian bool) float64 {
	const nearZeroThreshold = 200
	n := len(chunk) / bytesPerSample
	if n == 0 {
		return 0
	}
	var nearZero int
	for i := 0; i < n; i++ {
		off := i * bytesPerSample
		var sample int16
		if littleEndian {
			sample = int16(binary.LittleEndian.Uint16(chunk[off : off+2]))
		} else {
			sample = int16(binary.BigEndian.Uint16(chunk[off : off+2]))
		}
		if math.Abs(float64(sample)) < nearZeroThreshold {
			nearZero++
		}
	}
	return float64(nearZero) / float64(n)
}
