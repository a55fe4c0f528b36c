package server

import (
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/qrave1/LiveClass/internal/application/config"
	"github.com/qrave1/LiveClass/internal/infra/ports/http/handlers"
	"github.com/qrave1/LiveClass/internal/infra/ports/http/middleware"
)

func New(
	cfg *config.Config,
	sessionHandler *handlers.SessionHandler,
) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(echomw.Recover())
	e.Use(middleware.SlogLogger())
	e.Use(middleware.PrometheusMiddleware())

	if cfg.Debug {
		e.Use(echomw.CORS())
	}

	v1 := e.Group("/api/v1")
	{
		v1.GET("/session", sessionHandler.GetSession)
		v1.POST("/session/join", sessionHandler.Join)
		v1.POST("/session/leave", sessionHandler.Leave)

		v1.PUT("/media/camera", sessionHandler.SetCamera)
		v1.PUT("/media/microphone", sessionHandler.SetMicrophone)
		v1.POST("/media/screen/toggle", sessionHandler.ToggleScreenShare)

		v1.GET("/participants", sessionHandler.Participants)

		v1.GET("/chat", sessionHandler.Transcript)
		v1.POST("/chat", sessionHandler.SendChat)
	}

	return e
}
