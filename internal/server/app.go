package server

import (
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/Tyrowin/roomchat/internal/history"
	"github.com/Tyrowin/roomchat/internal/identity"
	"github.com/Tyrowin/roomchat/internal/presence"
	"github.com/Tyrowin/roomchat/internal/session"
)

// App owns one chat server instance: the session registry, the hub of open
// connections, the event router and the HTTP handlers in front of them.
type App struct {
	cfg      Config
	log      *zap.Logger
	registry *session.Registry
	hub      *Hub
	router   *Router
	history  history.Store
	upgrader websocket.Upgrader
	promReg  *prometheus.Registry
}

type appOptions struct {
	decoder    identity.Decoder
	mirror     presence.Mirror
	history    history.Store
	routerOpts []RouterOption
}

// Option customizes an App.
type Option func(*appOptions)

// WithDecoder sets the token decoder used by connection events.
func WithDecoder(d identity.Decoder) Option {
	return func(o *appOptions) { o.decoder = d }
}

// WithPresence mirrors session changes to m.
func WithPresence(m presence.Mirror) Option {
	return func(o *appOptions) { o.mirror = m }
}

// WithHistory sets the store behind the message history endpoint.
func WithHistory(s history.Store) Option {
	return func(o *appOptions) { o.history = s }
}

// WithRouterOptions passes extra options through to the event router.
func WithRouterOptions(opts ...RouterOption) Option {
	return func(o *appOptions) { o.routerOpts = append(o.routerOpts, opts...) }
}

// NewApp builds an App from cfg. The token decoder verifies HMAC signatures
// when cfg.JWTSecret is set and only parses claims otherwise.
func NewApp(cfg Config, log *zap.Logger, opts ...Option) *App {
	cfg = cfg.sanitize()

	o := appOptions{mirror: presence.Nop{}}
	for _, opt := range opts {
		opt(&o)
	}
	if o.decoder == nil {
		if cfg.JWTSecret != "" {
			o.decoder = identity.NewHMACDecoder([]byte(cfg.JWTSecret))
		} else {
			log.Warn("JWT_SECRET not set; token signatures are not verified")
			o.decoder = identity.NewUnverifiedDecoder()
		}
	}
	if o.history == nil {
		o.history = history.NewStaticStore()
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := NewMetrics(promReg)

	registry := session.NewRegistry()
	hub := NewHub(log, metrics)
	out := NewBroadcaster(hub, registry, log, metrics)

	routerOpts := append([]RouterOption{WithPresenceMirror(o.mirror, cfg.PresenceTimeout)}, o.routerOpts...)
	router := NewRouter(registry, out, o.decoder, log, metrics, routerOpts...)

	origins := newOriginPolicy(cfg.AllowedOrigins, log)

	return &App{
		cfg:      cfg,
		log:      log,
		registry: registry,
		hub:      hub,
		router:   router,
		history:  o.history,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     origins.checkOrigin,
		},
		promReg: promReg,
	}
}

// Start runs the hub loop in its own goroutine. Call it before serving.
func (a *App) Start() {
	go a.hub.Run()
	a.log.Info("hub started and ready to manage websocket connections")
}

// Shutdown closes every connection and waits for their pumps to stop.
func (a *App) Shutdown(timeout time.Duration) error {
	return a.hub.Shutdown(timeout)
}

// Registry exposes the session registry.
func (a *App) Registry() *session.Registry {
	return a.registry
}

// Hub exposes the connection hub.
func (a *App) Hub() *Hub {
	return a.hub
}
