package http

import (
	"context"
	"net/http"
	"path/filepath"

	"github.com/dkeye/Relay/internal/adapters/signal"
	"github.com/dkeye/Relay/internal/config"
	handlers "github.com/dkeye/Relay/internal/transport/http"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	sessionCookie = "relay_session"
	// clientTokenKey is read back by the signal controller.
	clientTokenKey = "client_token"
	clientTokenTTL = 7 * 24 * 3600
)

// ClientTokenMiddleware keeps a per-browser id in the cookie session. The
// join limiter is keyed by it, so reconnecting does not reset the budget.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		sess := sessions.Default(c)
		token, _ := sess.Get(clientTokenKey).(string)
		if token == "" {
			token = uuid.NewString()
			sess.Set(clientTokenKey, token)
			if err := sess.Save(); err != nil {
				log.Warn().Err(err).Str("module", "adapters.http").Msg("save client session")
			}
		}
		c.Set(clientTokenKey, token)
		c.Next()
	}
}

func newSessionStore(secret string) sessions.Store {
	store := cookie.NewStore([]byte(secret))
	store.Options(sessions.Options{
		Path:     "/",
		MaxAge:   clientTokenTTL,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return store
}

// SetupRouter serves the demo page, the channel API and the signaling socket.
func SetupRouter(ctx context.Context, cfg *config.Config, ctrl *signal.SignalWSController, api *handlers.Handlers) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())
	r.Use(sessions.Sessions(sessionCookie, newSessionStore(cfg.Secret)))
	r.Use(ClientTokenMiddleware())

	mountPage(r, cfg.StaticPath)
	mountAPI(ctx, r.Group("/api"), ctrl, api)

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Bool("token_route", api != nil && api.Tokens != nil).Msg("router ready")
	return r
}

func mountPage(r *gin.Engine, static string) {
	index := filepath.Join(static, "index.html")
	r.Static("/static", static)
	r.GET("/", func(c *gin.Context) { c.File(index) })
}

func mountAPI(ctx context.Context, group *gin.RouterGroup, ctrl *signal.SignalWSController, api *handlers.Handlers) {
	if api != nil {
		api.Register(group)
	}
	group.GET("/ws/signal", func(c *gin.Context) {
		log.Debug().Str("module", "adapters.http").Str("client", c.GetString(clientTokenKey)).Msg("signal upgrade")
		ctrl.HandleSignal(ctx, c)
	})
}
