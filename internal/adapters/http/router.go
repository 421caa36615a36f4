package http

import (
	"context"
	"os"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Stream/internal/adapters/signal"
	"github.com/dkeye/Stream/internal/app/orch"
	"github.com/dkeye/Stream/internal/config"
)

const clientTokenKey = "client_token"

func genClientToken() string {
	idStr := uuid.NewString()
	return idStr
}

// ClientTokenMiddleware gives every browser a stable token kept in the
// session cookie. It only labels connections in logs.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		sess := sessions.Default(c)
		token, _ := sess.Get(clientTokenKey).(string)
		if token == "" {
			token = genClientToken()
			sess.Set(clientTokenKey, token)
			if err := sess.Save(); err != nil {
				log.Warn().Err(err).Str("module", "adapters.http").Msg("session save")
			}
		}
		c.Set(clientTokenKey, token)
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, o *orch.Orchestrator) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	secret := cfg.Secret
	if secret == "" {
		secret = uuid.NewString()
		log.Warn().Str("module", "adapters.http").Msg("no secret configured, session cookies will not survive a restart")
	}
	store := cookie.NewStore([]byte(secret))
	store.Options(sessions.Options{Path: "/", MaxAge: 3600 * 24 * 7, HttpOnly: true})
	r.Use(sessions.Sessions("StreamSessions", store))
	r.Use(ClientTokenMiddleware())

	if cfg.StaticPath != "" {
		if _, err := os.Stat(cfg.StaticPath); err == nil {
			r.Static("/static", cfg.StaticPath)
			r.GET("/", func(c *gin.Context) {
				c.File(cfg.StaticPath + "/index.html")
			})
		}
	}

	h := &handlers{orch: o}
	r.GET("/healthz", h.health)

	ctrl := signal.NewSignalWSController(o,
		signal.NewRoomRateLimiter(cfg.Signal.CreateLimit, cfg.Signal.CreateInterval),
		signal.Options{
			ReadLimit:    cfg.ReadLimit,
			WriteTimeout: cfg.WriteTimeout,
			PingPeriod:   cfg.PingPeriod,
			SendBuffer:   cfg.Signal.SendBuffer,
		})

	api := r.Group("/api")
	api.GET("/rooms", h.listRooms)
	api.GET("/rooms/:id", h.roomStats)
	api.DELETE("/rooms/:id", h.stopRoom)
	api.GET("/rtp-capabilities", h.rtpCapabilities)
	api.GET("/ws/signal", func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("client", c.GetString(clientTokenKey)).Msg("ws signal endpoint hit")
		ctrl.HandleSignal(ctx, c)
	})

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")
	return r
}
