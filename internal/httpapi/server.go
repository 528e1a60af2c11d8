package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/shaike1/claude-phone/internal/aibridge"
	"github.com/shaike1/claude-phone/internal/callsession"
	"github.com/shaike1/claude-phone/internal/devices"
	"github.com/shaike1/claude-phone/internal/httpapi/middleware"
	"github.com/shaike1/claude-phone/internal/sipcore"
	"github.com/shaike1/claude-phone/internal/tts"
)

// Server is the chi-routed HTTP Control API: a façade over the
// Device Registry, the Call Session manager, sipcore's outbound call
// placement, and the AI Bridge's synchronous query path. It owns no
// telephony state of its own.
type Server struct {
	router *chi.Mux

	devices  *devices.Registry
	sessions *callsession.Manager
	core     *sipcore.Core
	ai       *aibridge.Client
	store    *tts.Store

	staticDir string
	logger    *slog.Logger
}

// Deps bundles the Server's collaborators.
type Deps struct {
	Devices     *devices.Registry
	Sessions    *callsession.Manager
	Core        *sipcore.Core
	AI          *aibridge.Client
	Store       *tts.Store
	StaticDir   string
	CORSOrigins []string
	Logger      *slog.Logger
}

// NewServer builds the Server and mounts every route.
func NewServer(d Deps) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		devices:   d.Devices,
		sessions:  d.Sessions,
		core:      d.Core,
		ai:        d.AI,
		store:     d.Store,
		staticDir: d.StaticDir,
		logger:    d.Logger.With("subsystem", "httpapi"),
	}
	s.routes(d.CORSOrigins)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes(corsOrigins []string) {
	r := s.router

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.CORS(corsOrigins))
	r.Use(middleware.StructuredLogger(s.logger))
	r.Use(middleware.Recoverer)

	outboundLimiter := middleware.NewIPRateLimiter(middleware.DefaultRateLimitConfig())
	queryLimiter := middleware.NewIPRateLimiter(middleware.DefaultRateLimitConfig())

	r.Route("/api", func(r chi.Router) {
		r.With(middleware.RateLimit(outboundLimiter)).Post("/outbound-call", s.handleOutboundCall)
		r.Get("/call/{callId}", s.handleGetCall)
		r.Post("/call/{callId}/hangup", s.handleHangup)
		r.Get("/calls", s.handleListCalls)
		r.With(middleware.RateLimit(queryLimiter)).Post("/query", s.handleQuery)
		r.Get("/devices", s.handleListDevices)
		r.Post("/devices/reload", s.handleReloadDevices)
	})

	r.Post("/audio", s.handleAudioUpload)
	r.Handle("/audio-files/*", http.StripPrefix("/audio-files/", http.FileServer(http.Dir(s.store.Dir()))))
	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.Dir(s.staticDir))))
}
