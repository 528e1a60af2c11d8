package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/shaike1/claude-phone/internal/aibridge"
	"github.com/shaike1/claude-phone/internal/audiofork"
	"github.com/shaike1/claude-phone/internal/callsession"
	"github.com/shaike1/claude-phone/internal/config"
	"github.com/shaike1/claude-phone/internal/database"
	"github.com/shaike1/claude-phone/internal/devices"
	"github.com/shaike1/claude-phone/internal/httpapi"
	"github.com/shaike1/claude-phone/internal/httpapi/middleware"
	"github.com/shaike1/claude-phone/internal/media"
	"github.com/shaike1/claude-phone/internal/sipcore"
	"github.com/shaike1/claude-phone/internal/stt"
	"github.com/shaike1/claude-phone/internal/tts"
	"github.com/shaike1/claude-phone/internal/webhook"
)

const (
	audioMaxAge        = 10 * time.Minute
	audioSweepInterval = 2 * time.Minute
	sessionSweepTick   = 30 * time.Second
	registrarExpiry    = 300
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(cfg.SlogHandler(os.Stdout))
	slog.SetDefault(logger)

	slog.Info("starting claude-phone",
		"http_port", cfg.HTTPPort,
		"ws_port", cfg.WSPort,
		"sip_port", cfg.SIPPort,
		"data_dir", cfg.DataDir,
	)

	db, err := database.Open(cfg.DataDir)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	var deviceRepo database.DeviceRepository
	if keyBytes, err := cfg.EncryptionKeyBytes(); err != nil {
		slog.Error("failed to decode encryption key", "error", err)
		os.Exit(1)
	} else if keyBytes != nil {
		enc, err := database.NewEncryptor(keyBytes)
		if err != nil {
			slog.Error("failed to create encryptor", "error", err)
			os.Exit(1)
		}
		deviceRepo = database.NewEncryptedDeviceRepository(db, enc)
		slog.Info("device password encryption enabled")
	} else {
		deviceRepo = database.NewDeviceRepository(db)
		slog.Warn("no encryption key configured, device SIP passwords stored in plaintext")
	}

	appCtx, appCancel := context.WithCancel(context.Background())
	defer appCancel()

	devReg, err := devices.New(appCtx, deviceRepo, logger)
	if err != nil {
		slog.Error("failed to load device registry", "error", err)
		os.Exit(1)
	}

	sessions := callsession.NewManager(logger)
	sessions.StartSweeper(appCtx, sessionSweepTick)
	defer sessions.Stop()

	mediaAdapter := media.New(cfg.MediaEngineAddr, cfg.MediaEngineSecret)

	forkServer := audiofork.NewServer(logger)

	gpuCloneURL := cfg.GPUCloneURL
	if gpuCloneURL == "" {
		gpuCloneURL = cfg.MossTTSURL
	}

	ttsChain := tts.NewChain(logger,
		tts.NewCloudProvider(cfg.CloudTTSKey, cfg.CloudTTSURL),
		tts.NewGPUCloneProvider(cfg.GPUCloneEnabled, gpuCloneURL),
		tts.NewFreeWebProvider(cfg.FreeTTSCommand, splitArgs(cfg.FreeTTSArgs)),
		tts.NewAPIAProvider(cfg.ElevenLabsKey),
		tts.NewAPIBProvider(cfg.OpenAIKey),
	)

	httpBaseURL := fmt.Sprintf("http://%s:%d", cfg.ExternalAddressOrDetected(), cfg.HTTPPort)

	audioStore, err := tts.NewStore(cfg.AudioDir, httpBaseURL, logger)
	if err != nil {
		slog.Error("failed to create audio store", "error", err)
		os.Exit(1)
	}
	audioStore.StartSweeper(appCtx, audioMaxAge, audioSweepInterval)

	sttChain := stt.NewChain(logger,
		stt.NewCloudProvider(cfg.CloudSTTKey, cfg.CloudSTTURL),
		stt.NewFreeWebProvider(cfg.FreeSTTCommand, splitArgs(cfg.FreeSTTArgs)),
		stt.NewAPIProvider(cfg.OpenAIKey),
	)

	aiClient := aibridge.NewClient(cfg.AIGatewayURL, logger)

	webhooks := webhook.NewDispatcher(logger)

	wsBaseURL := fmt.Sprintf("ws://%s:%d", cfg.ExternalAddressOrDetected(), cfg.WSPort)

	convDeps := &sipcore.ConversationDeps{
		TTS:       ttsChain,
		STT:       sttChain,
		AI:        aiClient,
		Store:     audioStore,
		Fork:      forkServer,
		Sessions:  sessions,
		WSBaseURL: wsBaseURL,
		MaxTurns:  cfg.MaxConversationTurns,
		Logger:    logger,
	}

	core, err := sipcore.New(sipcore.Config{
		SIPDomain:           cfg.SIPDomain,
		SIPPort:             cfg.SIPPort,
		ExternalAddress:     cfg.ExternalAddressOrDetected(),
		OutboundProxy:       cfg.OutboundProxy,
		OutboundRingTimeout: time.Duration(cfg.OutboundRingTimeout) * time.Second,
	}, devReg, sessions, mediaAdapter, forkServer, convDeps, webhooks, logger)
	if err != nil {
		slog.Error("failed to create sip core", "error", err)
		os.Exit(1)
	}
	if err := core.Start(appCtx); err != nil {
		slog.Error("failed to start sip core", "error", err)
		os.Exit(1)
	}
	defer core.Stop()

	registrar, err := sipcore.NewRegistrar(core.UserAgent(), cfg.SIPDomain, cfg.SIPRegistrar, cfg.ExternalAddressOrDetected(), registrarExpiry, logger)
	if err != nil {
		slog.Error("failed to create registrar", "error", err)
		os.Exit(1)
	}
	if cfg.SIPRegistrar != "" {
		for _, dev := range devReg.Registrable() {
			registrar.StartDevice(appCtx, dev)
		}
	}

	apiServer := httpapi.NewServer(httpapi.Deps{
		Devices:     devReg,
		Sessions:    sessions,
		Core:        core,
		AI:          aiClient,
		Store:       audioStore,
		StaticDir:   cfg.StaticDir,
		CORSOrigins: middleware.ParseCORSOrigins(cfg.CORSOrigins),
		Logger:      logger,
	})

	httpSrv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      apiServer,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	wsSrv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.WSPort),
		Handler:      forkServer,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // websocket connections are long-lived
		IdleTimeout:  0,
	}

	errCh := make(chan error, 2)

	go func() {
		slog.Info("http control api listening", "addr", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	go func() {
		slog.Info("audio fork websocket listening", "addr", wsSrv.Addr)
		if err := wsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("ws server: %w", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		slog.Error("server error", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutting down")
	appCancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}
	if err := wsSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("ws server shutdown error", "error", err)
	}

	slog.Info("claude-phone stopped")
}

// splitArgs splits a space-separated argument string, returning nil for an
// empty string.
func splitArgs(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Fields(s)
}
