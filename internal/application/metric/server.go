package metric

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type healthResponse struct {
	Status  string `json:"status"`
	Session string `json:"session,omitempty"`
}

// NewServer создает сервер метрик, state попадает в /health
func NewServer(state func() string) *echo.Echo {
	e := echo.New()

	e.HideBanner = true
	e.HidePort = true

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	e.GET("/health", func(c echo.Context) error {
		resp := healthResponse{Status: "ok"}
		if state != nil {
			resp.Session = state()
		}

		return c.JSON(http.StatusOK, resp)
	})

	return e
}
