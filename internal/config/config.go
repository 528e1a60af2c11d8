package config

import (
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
)

// Config holds all runtime configuration for the call-orchestration core.
// Precedence: CLI flags > env vars > defaults.
type Config struct {
	DataDir   string
	HTTPPort  int
	WSPort    int
	LogLevel  string
	LogFormat string

	SIPPort         int    // local UDP/TCP listen port
	ExternalAddress string // advertised in SIP Contact/SDP
	SIPDomain       string // From/To domain
	SIPRegistrar    string // where REGISTER is sent
	OutboundProxy   string // where INVITEs egress

	AudioDir  string // TTS output directory
	StaticDir string // directory for static prompt assets served under /static

	CORSOrigins string // comma-separated allowed origins for the control API; empty disables CORS

	CloudTTSKey     string
	CloudTTSURL     string
	CloudSTTKey     string
	CloudSTTURL     string
	ElevenLabsKey   string
	OpenAIKey       string
	MossTTSURL      string
	LanguageDefault string

	GPUCloneEnabled bool
	GPUCloneURL     string

	FreeTTSCommand string // empty disables the free-web TTS fallback stage
	FreeTTSArgs    string // space-separated, prepended to --text/--lang
	FreeSTTCommand string // empty disables the free-web STT fallback stage
	FreeSTTArgs    string

	EncryptionKey string // hex-encoded 32-byte key for AES-256-GCM

	MediaEngineAddr      string // host:port of the external media engine admin API
	MediaEngineAdminPort int
	MediaEngineSecret    string

	AIGatewayURL string // base URL of the remote conversational AI gateway

	MaxConversationTurns int
	OutboundRingTimeout  int // seconds
}

const (
	defaultDataDir              = "./data"
	defaultHTTPPort             = 8080
	defaultWSPort               = 8081
	defaultLogLevel             = "info"
	defaultLogFormat            = "text"
	defaultLanguage             = "en"
	defaultMaxConversationTurns = 10
	defaultOutboundRingTimeout  = 30
	defaultSIPPort              = 5060
)

// envPrefix is the prefix for all environment variables recognized by this
// process.
const envPrefix = "CLAUDEPHONE_"

// Load parses configuration from CLI flags and environment variables.
// Precedence: CLI flags > env vars > defaults.
func Load() (*Config, error) {
	cfg := &Config{}

	fs := flag.NewFlagSet("claude-phone", flag.ContinueOnError)

	fs.StringVar(&cfg.DataDir, "data-dir", defaultDataDir, "data directory for the device registry database and audio files")
	fs.IntVar(&cfg.HTTPPort, "http-port", defaultHTTPPort, "control API HTTP listen port")
	fs.IntVar(&cfg.WSPort, "ws-port", defaultWSPort, "audio fork WebSocket listen port")
	fs.StringVar(&cfg.LogLevel, "log-level", defaultLogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFormat, "log-format", defaultLogFormat, "log output format (text, json)")
	fs.IntVar(&cfg.SIPPort, "sip-port", defaultSIPPort, "local UDP/TCP port the SIP core listens on")
	fs.StringVar(&cfg.ExternalAddress, "external-address", "", "host address advertised in SIP Contact/SDP, the LAN/private address when behind NAT (auto-detected from the first non-loopback IPv4 interface if empty)")
	fs.StringVar(&cfg.SIPDomain, "sip-domain", "", "SIP From/To domain")
	fs.StringVar(&cfg.SIPRegistrar, "sip-registrar", "", "SIP registrar address devices REGISTER against")
	fs.StringVar(&cfg.OutboundProxy, "outbound-proxy", "", "SIP proxy address outbound INVITEs egress through")
	fs.StringVar(&cfg.AudioDir, "audio-dir", "", "directory for generated TTS audio (defaults under data-dir)")
	fs.StringVar(&cfg.StaticDir, "static-dir", "", "directory for static prompt assets served under /static (defaults under data-dir)")
	fs.StringVar(&cfg.CORSOrigins, "cors-origins", "", "comma-separated origins allowed to call the control API (empty disables CORS)")
	fs.StringVar(&cfg.CloudTTSKey, "cloud-tts-key", "", "API key enabling the cloud text-to-speech provider")
	fs.StringVar(&cfg.CloudTTSURL, "cloud-tts-url", "https://api.cloud-speech.example.com/tts", "base URL of the cloud text-to-speech endpoint")
	fs.StringVar(&cfg.CloudSTTKey, "cloud-stt-key", "", "API key enabling the cloud speech-to-text provider")
	fs.StringVar(&cfg.CloudSTTURL, "cloud-stt-url", "https://api.cloud-speech.example.com/stt", "base URL of the cloud speech-to-text endpoint")
	fs.StringVar(&cfg.ElevenLabsKey, "elevenlabs-key", "", "API key enabling the ElevenLabs text-to-speech provider")
	fs.StringVar(&cfg.OpenAIKey, "openai-key", "", "API key enabling OpenAI-backed speech providers")
	fs.StringVar(&cfg.MossTTSURL, "moss-tts-url", "", "URL of a self-hosted MOSS-style text-to-speech endpoint")
	fs.StringVar(&cfg.LanguageDefault, "language-default", defaultLanguage, "fallback BCP-47 language code when a device does not specify one")
	fs.StringVar(&cfg.EncryptionKey, "encryption-key", "", "hex-encoded 32-byte key for AES-256-GCM encryption of device SIP passwords")
	fs.StringVar(&cfg.MediaEngineAddr, "media-engine-addr", "127.0.0.1:9000", "host:port of the external media engine admin API")
	fs.StringVar(&cfg.MediaEngineSecret, "media-engine-secret", "", "shared secret for authenticating to the media engine admin API")
	fs.BoolVar(&cfg.GPUCloneEnabled, "gpu-clone-enabled", false, "enable the GPU voice-clone text-to-speech stage")
	fs.StringVar(&cfg.GPUCloneURL, "gpu-clone-url", "", "base URL of the GPU voice-clone inference endpoint")
	fs.StringVar(&cfg.FreeTTSCommand, "free-tts-command", "", "external command-line tool for the last-resort text-to-speech stage (empty disables it)")
	fs.StringVar(&cfg.FreeTTSArgs, "free-tts-args", "", "space-separated arguments prepended ahead of --text/--lang for the free-web text-to-speech command")
	fs.StringVar(&cfg.FreeSTTCommand, "free-stt-command", "", "external command-line tool for the last-resort speech-to-text stage (empty disables it)")
	fs.StringVar(&cfg.FreeSTTArgs, "free-stt-args", "", "space-separated arguments prepended ahead of --lang for the free-web speech-to-text command")
	fs.StringVar(&cfg.AIGatewayURL, "ai-gateway-url", "http://127.0.0.1:7860", "base URL of the remote conversational AI gateway")
	fs.IntVar(&cfg.MaxConversationTurns, "max-conversation-turns", defaultMaxConversationTurns, "maximum AI turns before a call is force-ended")
	fs.IntVar(&cfg.OutboundRingTimeout, "outbound-ring-timeout", defaultOutboundRingTimeout, "seconds to ring an outbound call before giving up")

	if err := fs.Parse(os.Args[1:]); err != nil {
		return nil, fmt.Errorf("parsing flags: %w", err)
	}

	applyEnvOverrides(fs, cfg)

	if cfg.AudioDir == "" {
		cfg.AudioDir = cfg.DataDir + "/audio"
	}
	if cfg.StaticDir == "" {
		cfg.StaticDir = cfg.DataDir + "/static"
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides checks environment variables for any flag that was not
// explicitly provided on the command line. This preserves the precedence:
// CLI flags > env vars > defaults.
func applyEnvOverrides(fs *flag.FlagSet, cfg *Config) {
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})

	envMap := map[string]string{
		"data-dir":               envPrefix + "DATA_DIR",
		"http-port":              envPrefix + "HTTP_PORT",
		"ws-port":                envPrefix + "WS_PORT",
		"log-level":              envPrefix + "LOG_LEVEL",
		"log-format":             envPrefix + "LOG_FORMAT",
		"sip-port":               envPrefix + "SIP_PORT",
		"external-address":       envPrefix + "EXTERNAL_ADDRESS",
		"sip-domain":             envPrefix + "SIP_DOMAIN",
		"sip-registrar":          envPrefix + "SIP_REGISTRAR",
		"outbound-proxy":         envPrefix + "OUTBOUND_PROXY",
		"audio-dir":              envPrefix + "AUDIO_DIR",
		"static-dir":             envPrefix + "STATIC_DIR",
		"cors-origins":           envPrefix + "CORS_ORIGINS",
		"cloud-tts-key":          envPrefix + "CLOUD_TTS_KEY",
		"cloud-tts-url":          envPrefix + "CLOUD_TTS_URL",
		"cloud-stt-key":          envPrefix + "CLOUD_STT_KEY",
		"cloud-stt-url":          envPrefix + "CLOUD_STT_URL",
		"elevenlabs-key":         envPrefix + "ELEVENLABS_KEY",
		"openai-key":             envPrefix + "OPENAI_KEY",
		"moss-tts-url":           envPrefix + "MOSS_TTS_URL",
		"language-default":       envPrefix + "LANGUAGE_DEFAULT",
		"encryption-key":         envPrefix + "ENCRYPTION_KEY",
		"media-engine-addr":      envPrefix + "MEDIA_ENGINE_ADDR",
		"media-engine-secret":    envPrefix + "MEDIA_ENGINE_SECRET",
		"gpu-clone-enabled":      envPrefix + "GPU_CLONE_ENABLED",
		"gpu-clone-url":          envPrefix + "GPU_CLONE_URL",
		"free-tts-command":       envPrefix + "FREE_TTS_COMMAND",
		"free-tts-args":          envPrefix + "FREE_TTS_ARGS",
		"free-stt-command":       envPrefix + "FREE_STT_COMMAND",
		"free-stt-args":          envPrefix + "FREE_STT_ARGS",
		"ai-gateway-url":         envPrefix + "AI_GATEWAY_URL",
		"max-conversation-turns": envPrefix + "MAX_CONVERSATION_TURNS",
		"outbound-ring-timeout":  envPrefix + "OUTBOUND_RING_TIMEOUT",
	}

	for flagName, envVar := range envMap {
		if set[flagName] {
			continue
		}
		val, ok := os.LookupEnv(envVar)
		if !ok || val == "" {
			continue
		}
		switch flagName {
		case "data-dir":
			cfg.DataDir = val
		case "http-port":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.HTTPPort = v
			}
		case "ws-port":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.WSPort = v
			}
		case "log-level":
			cfg.LogLevel = val
		case "log-format":
			cfg.LogFormat = val
		case "sip-port":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.SIPPort = v
			}
		case "external-address":
			cfg.ExternalAddress = val
		case "sip-domain":
			cfg.SIPDomain = val
		case "sip-registrar":
			cfg.SIPRegistrar = val
		case "outbound-proxy":
			cfg.OutboundProxy = val
		case "audio-dir":
			cfg.AudioDir = val
		case "static-dir":
			cfg.StaticDir = val
		case "cors-origins":
			cfg.CORSOrigins = val
		case "cloud-tts-key":
			cfg.CloudTTSKey = val
		case "cloud-tts-url":
			cfg.CloudTTSURL = val
		case "cloud-stt-key":
			cfg.CloudSTTKey = val
		case "cloud-stt-url":
			cfg.CloudSTTURL = val
		case "elevenlabs-key":
			cfg.ElevenLabsKey = val
		case "openai-key":
			cfg.OpenAIKey = val
		case "moss-tts-url":
			cfg.MossTTSURL = val
		case "language-default":
			cfg.LanguageDefault = val
		case "encryption-key":
			cfg.EncryptionKey = val
		case "media-engine-addr":
			cfg.MediaEngineAddr = val
		case "media-engine-secret":
			cfg.MediaEngineSecret = val
		case "gpu-clone-enabled":
			if v, err := strconv.ParseBool(val); err == nil {
				cfg.GPUCloneEnabled = v
			}
		case "gpu-clone-url":
			cfg.GPUCloneURL = val
		case "free-tts-command":
			cfg.FreeTTSCommand = val
		case "free-tts-args":
			cfg.FreeTTSArgs = val
		case "free-stt-command":
			cfg.FreeSTTCommand = val
		case "free-stt-args":
			cfg.FreeSTTArgs = val
		case "ai-gateway-url":
			cfg.AIGatewayURL = val
		case "max-conversation-turns":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.MaxConversationTurns = v
			}
		case "outbound-ring-timeout":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.OutboundRingTimeout = v
			}
		}
	}
}

// validate checks that the config values are sane.
func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("http-port must be between 1 and 65535, got %d", c.HTTPPort)
	}
	if c.WSPort < 1 || c.WSPort > 65535 {
		return fmt.Errorf("ws-port must be between 1 and 65535, got %d", c.WSPort)
	}
	if c.WSPort == c.HTTPPort {
		return fmt.Errorf("ws-port and http-port must differ")
	}
	if c.SIPPort < 1 || c.SIPPort > 65535 {
		return fmt.Errorf("sip-port must be between 1 and 65535, got %d", c.SIPPort)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("log-level must be one of debug, info, warn, error; got %q", c.LogLevel)
	}
	c.LogLevel = strings.ToLower(c.LogLevel)

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.LogFormat)] {
		return fmt.Errorf("log-format must be one of text, json; got %q", c.LogFormat)
	}
	c.LogFormat = strings.ToLower(c.LogFormat)

	if c.MaxConversationTurns < 1 {
		return fmt.Errorf("max-conversation-turns must be positive, got %d", c.MaxConversationTurns)
	}
	if c.OutboundRingTimeout < 1 {
		return fmt.Errorf("outbound-ring-timeout must be positive, got %d", c.OutboundRingTimeout)
	}

	return nil
}

// HasCloudTTS reports whether a cloud TTS key is configured.
func (c *Config) HasCloudTTS() bool { return c.CloudTTSKey != "" }

// HasCloudSTT reports whether a cloud STT key is configured.
func (c *Config) HasCloudSTT() bool { return c.CloudSTTKey != "" }

// EncryptionKeyBytes returns the decoded 32-byte encryption key, or nil if
// no key is configured.
func (c *Config) EncryptionKeyBytes() ([]byte, error) {
	if c.EncryptionKey == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(c.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("decoding encryption key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must decode to 32 bytes, got %d", len(key))
	}
	return key, nil
}

// ExternalAddressOrDetected returns ExternalAddress if configured, else
// attempts to detect the machine's primary non-loopback IPv4 address.
// Falls back to "127.0.0.1" if detection fails.
func (c *Config) ExternalAddressOrDetected() string {
	if c.ExternalAddress != "" {
		return c.ExternalAddress
	}
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "127.0.0.1"
	}
	for _, addr := range addrs {
		if ipNet, ok := addr.(*net.IPNet); ok && !ipNet.IP.IsLoopback() {
			if ipNet.IP.To4() != nil {
				return ipNet.IP.String()
			}
		}
	}
	return "127.0.0.1"
}

// SlogHandler returns a slog.Handler configured with the appropriate format
// (text or json) and log level.
func (c *Config) SlogHandler(w *os.File) slog.Handler {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if c.LogFormat == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// SlogLevel returns the slog.Level corresponding to the configured log level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
