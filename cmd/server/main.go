package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	router "github.com/dkeye/Relay/internal/adapters/http"
	"github.com/dkeye/Relay/internal/adapters/rtc"
	signaling "github.com/dkeye/Relay/internal/adapters/signal"
	"github.com/dkeye/Relay/internal/app"
	"github.com/dkeye/Relay/internal/app/sfu"
	"github.com/dkeye/Relay/internal/auth"
	"github.com/dkeye/Relay/internal/config"
	"github.com/dkeye/Relay/internal/core"
	handlers "github.com/dkeye/Relay/internal/transport/http"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	zerolog.SetGlobalLevel(cfg.ZerologLevel())

	profile, err := cfg.ActiveProfile()
	if err != nil {
		log.Fatal().Err(err).Str("profile", cfg.Profile).Msg("bad profile")
	}

	api, err := rtc.NewAPI()
	if err != nil {
		log.Fatal().Err(err).Msg("webrtc api")
	}

	issuer := auth.NewIssuer(cfg.AppID, cfg.AppSecret, cfg.TokenTTL)
	svc := sfu.NewService(auth.NewVerifier(cfg.AppID, cfg.AppSecret))
	reg := app.NewRegistry()

	var policy app.Policy = app.SimplePolicy{}
	if cfg.DropLimit > 0 {
		policy = &app.TolerantPolicy{Limit: cfg.DropLimit}
	}

	ctrl := signaling.NewSignalWSController(signaling.Deps{
		Backend:     svc,
		Credentials: issuer,
		NewPlugin:   func() core.BotPlugin { return sfu.NewBotPlugin() },
		Profile:     profile,
		LogLevel:    cfg.ZerologLevel(),
		API:         api,
		ICE:         rtc.WebRTCConfig(cfg.ICEServers),
		Registry:    reg,
		Policy:      policy,
		Limiter:     signaling.NewJoinLimiter(cfg.JoinRate, cfg.JoinBurst),
		ReadLimit:   cfg.ReadLimit,
		PingPeriod:  cfg.PingPeriod,
	})

	rest := &handlers.Handlers{Channels: svc, Pages: reg}
	if cfg.Mode == "debug" {
		rest.Tokens = issuer
	}

	r := router.SetupRouter(ctx, cfg, ctrl, rest)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", addr).Str("profile", cfg.Profile).Msg("Relay server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("server error")
		os.Exit(1)
	}
	log.Info().Msg("Server exited gracefully")
}
