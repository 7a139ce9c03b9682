package main

import (
	"golang.org/x/sync/errgroup"

	"github.com/vbonduro/minerallens/internal/identify"
	"github.com/vbonduro/minerallens/internal/service"
	"github.com/vbonduro/minerallens/internal/session"
	"github.com/vbonduro/minerallens/internal/web"
	"github.com/vbonduro/minerallens/internal/web/static"
)

type ServeCmd struct{}

func (cmd *ServeCmd) Run(globals *Globals) error {
	cfg, logger := globals.cfg, globals.logger

	backend, err := newBackend(globals.ctx, cfg, logger)
	if err != nil {
		return err
	}

	sessions := session.NewStore(cfg.SessionTTL, func() *identify.Controller {
		return identify.NewController(backend, logger)
	}, logger)
	svc := service.NewIdentifyService(sessions, cfg.MaxUploadBytes, logger)
	server := web.NewServer(svc, static.FS, cfg.MaxUploadBytes, logger)

	g, ctx := errgroup.WithContext(globals.ctx)
	g.Go(func() error {
		return server.ListenAndServe(ctx, cfg.ListenAddr)
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutdown requested", "sessions", sessions.Len())
		return nil
	})
	return g.Wait()
}
