package cli

import (
	"encoding/json"
	"io"

	"go.uber.org/zap"

	"github.com/shohanonfire/payment-server/config"
	"github.com/shohanonfire/payment-server/logging"
	"github.com/shohanonfire/payment-server/service"
	"github.com/shohanonfire/payment-server/store"
)

// app is the wired-up core shared by every command.
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	store  store.Store
	svc    *service.Service
}

func openApp(configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(cfg.Storage.Driver, cfg.Storage.Path)
	if err != nil {
		return nil, err
	}

	svc, err := service.New(st, service.Config{
		BaseURL:       cfg.Links.BaseURL,
		DefaultExpiry: cfg.DefaultExpiry(),
	}, logger)
	if err != nil {
		st.Close()
		return nil, err
	}

	return &app{cfg: cfg, logger: logger, store: st, svc: svc}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.Warn("close store", zap.Error(err))
	}
	_ = a.logger.Sync()
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
