package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"

	router "github.com/dkeye/Stream/internal/adapters/http"
	"github.com/dkeye/Stream/internal/app"
	"github.com/dkeye/Stream/internal/app/orch"
	"github.com/dkeye/Stream/internal/config"
	"github.com/dkeye/Stream/internal/domain"
	"github.com/dkeye/Stream/internal/engine"
	"github.com/dkeye/Stream/internal/engine/pionengine"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if cfg.Mode == "debug" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}

	pool := app.NewWorkerPool(pionengine.New(), engine.WorkerSettings{
		RtcMinPort:  cfg.Media.RtcMinPort,
		RtcMaxPort:  cfg.Media.RtcMaxPort,
		ListenIP:    cfg.Media.ListenIP,
		AnnouncedIP: cfg.Media.AnnouncedIP,
		ICEServers:  cfg.Media.ICEServers,
	}, config.MediaCodecs, func(id domain.WorkerID, err error) {
		log.Fatal().Err(err).Int("worker", int(id)).Msg("media worker died")
	})
	initCtx, initCancel := context.WithTimeout(ctx, cfg.Media.EngineTimeout)
	err = pool.Initialize(initCtx, cfg.Media.Workers)
	initCancel()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start media workers")
	}
	defer pool.Close()

	transports := app.NewTransportRegistry()
	rooms := app.NewRoomRegistry(pool, transports)
	sessions := app.NewRegistry()
	o := &orch.Orchestrator{
		Pool:       pool,
		Transports: transports,
		Rooms:      rooms,
		Sessions:   sessions,
		Policy:     app.SimplePolicy{},
		Timeout:    cfg.Media.EngineTimeout,
	}
	sweeper := &app.Sweeper{
		Rooms:      rooms,
		Transports: transports,
		Sessions:   sessions,
		MaxAge:     cfg.Rooms.MaxAge,
		Interval:   cfg.Rooms.SweepInterval,
	}

	r := router.SetupRouter(ctx, cfg, o)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	var wg conc.WaitGroup
	wg.Go(func() { sweeper.Run(ctx) })
	wg.Go(func() {
		log.Info().Str("addr", addr).Int("workers", pool.Size()).Msg("Stream server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
			cancel()
		}
	})

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	wg.Wait()
	for _, st := range rooms.List() {
		rooms.CloseRoom(st.ID)
	}
	log.Info().Msg("Server exited gracefully")
}
