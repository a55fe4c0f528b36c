package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/qrave1/LiveClass/internal/application/config"
	"github.com/qrave1/LiveClass/internal/infra/adapters/api"
	"github.com/qrave1/LiveClass/internal/infra/adapters/media"
	"github.com/qrave1/LiveClass/internal/infra/adapters/memory"
	"github.com/qrave1/LiveClass/internal/infra/adapters/room"
	"github.com/qrave1/LiveClass/internal/usecase"
)

func setupLogger(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}

	slog.SetDefault(
		slog.New(
			slog.NewJSONHandler(
				os.Stdout,
				&slog.HandlerOptions{Level: level},
			),
		),
	)
}

// newSession собирает контроллер сессии со всеми адаптерами
func newSession(cfg *config.Config) (usecase.SessionUsecase, error) {
	devices, err := media.NewDevices(cfg.Media)
	if err != nil {
		return nil, fmt.Errorf("init media devices: %w", err)
	}

	apiClient := api.NewClient(cfg.API.BaseURL, cfg.API.AuthToken, cfg.API.Timeout)
	connector := room.NewConnector(cfg)
	profileCache := memory.NewProfileCacheRepository()

	return usecase.NewSessionUsecase(
		apiClient,
		connector,
		devices,
		apiClient,
		profileCache,
		usecase.SessionOptions{
			ConnectTimeout: cfg.ConnectTimeout,
			ProfileTimeout: cfg.ProfileTimeout,
		},
	), nil
}
