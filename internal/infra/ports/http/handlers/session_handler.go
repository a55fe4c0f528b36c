package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/qrave1/LiveClass/internal/application/constant"
	"github.com/qrave1/LiveClass/internal/domain/models"
	"github.com/qrave1/LiveClass/internal/infra/ports/http/dto"
	"github.com/qrave1/LiveClass/internal/usecase"
)

type SessionHandler struct {
	session usecase.SessionUsecase
}

func NewSessionHandler(session usecase.SessionUsecase) *SessionHandler {
	return &SessionHandler{
		session: session,
	}
}

func (h *SessionHandler) GetSession(c echo.Context) error {
	return c.JSON(http.StatusOK, h.snapshot())
}

func (h *SessionHandler) Join(c echo.Context) error {
	var req dto.JoinRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid request"})
	}

	req.RoomID = strings.TrimSpace(req.RoomID)
	if req.RoomID == "" {
		return c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "room_id is required"})
	}

	err := h.session.Join(detach(c), models.SessionConfig{RoomID: req.RoomID, Privileged: req.Privileged})
	if err != nil {
		slog.Warn("join failed", slog.String(constant.RoomID, req.RoomID), slog.Any(constant.Error, err))
		return h.renderError(c, err)
	}

	return c.JSON(http.StatusOK, h.snapshot())
}

func (h *SessionHandler) Leave(c echo.Context) error {
	h.session.Leave(detach(c))

	return c.JSON(http.StatusOK, h.snapshot())
}

func (h *SessionHandler) SetCamera(c echo.Context) error {
	return h.toggle(c, models.SourceCamera, h.session.EnableCamera, h.session.DisableCamera)
}

func (h *SessionHandler) SetMicrophone(c echo.Context) error {
	return h.toggle(c, models.SourceMicrophone, h.session.EnableMicrophone, h.session.DisableMicrophone)
}

func (h *SessionHandler) ToggleScreenShare(c echo.Context) error {
	if err := h.session.ToggleScreenShare(detach(c)); err != nil {
		return h.renderError(c, err)
	}

	return c.JSON(http.StatusOK, h.session.Media())
}

func (h *SessionHandler) Participants(c echo.Context) error {
	return c.JSON(http.StatusOK, h.session.Participants())
}

func (h *SessionHandler) Transcript(c echo.Context) error {
	return c.JSON(http.StatusOK, h.session.Transcript())
}

func (h *SessionHandler) SendChat(c echo.Context) error {
	var req dto.ChatRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid request"})
	}

	msg, err := h.session.SendChatMessage(detach(c), req.Text)
	if err != nil {
		// сообщение уже в транскрипте, отдаём ошибку доставки
		return h.renderError(c, err)
	}

	if msg.ID == 0 {
		return c.NoContent(http.StatusNoContent)
	}

	return c.JSON(http.StatusCreated, msg)
}

func (h *SessionHandler) toggle(
	c echo.Context,
	source models.TrackSource,
	enable, disable func(ctx context.Context) error,
) error {
	var req dto.ToggleRequest
	if err := c.Bind(&req); err != nil || req.Enabled == nil {
		return c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "enabled is required"})
	}

	op := disable
	if *req.Enabled {
		op = enable
	}

	if err := op(detach(c)); err != nil {
		slog.Warn("media toggle failed", slog.String(constant.Source, source.String()), slog.Any(constant.Error, err))
		return h.renderError(c, err)
	}

	return c.JSON(http.StatusOK, h.session.Media())
}

// detach сохраняет значения запроса без его отмены
func detach(c echo.Context) context.Context {
	return context.WithoutCancel(c.Request().Context())
}

func (h *SessionHandler) snapshot() dto.SessionResponse {
	state := h.session.State()

	resp := dto.SessionResponse{
		State:     state.String(),
		Phase:     state.Phase.String(),
		Media:     h.session.Media(),
		LastError: dto.NewErrorResponse(h.session.LastError()),
	}

	if cfg, ok := h.session.Config(); ok {
		resp.RoomID = cfg.RoomID
		resp.Privileged = cfg.Privileged
	}

	return resp
}

func (h *SessionHandler) renderError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, usecase.ErrAlreadyJoined):
		return c.JSON(http.StatusConflict, dto.ErrorResponse{Error: err.Error(), Kind: "already_joined", Recoverable: true})
	case errors.Is(err, usecase.ErrSessionClosed):
		return c.JSON(http.StatusGone, dto.ErrorResponse{Error: err.Error(), Kind: "closed"})
	case errors.Is(err, usecase.ErrNotConnected):
		return c.JSON(http.StatusConflict, dto.ErrorResponse{Error: "not connected to a live class", Kind: "not_connected", Recoverable: true})
	}

	se := usecase.ClassifyError(err)

	return c.JSON(statusFor(se.Kind.Code), dto.NewErrorResponse(se))
}

func statusFor(code models.ErrorCode) int {
	switch code {
	case models.CodeAuthorizationRejected, models.CodeNotEnrolled:
		return http.StatusForbidden
	case models.CodeRoomNotActive:
		return http.StatusConflict
	case models.CodePermissionDenied, models.CodeDeviceNotFound:
		return http.StatusUnprocessableEntity
	case models.CodeNetworkUnreachable:
		return http.StatusServiceUnavailable
	case models.CodeTokenMalformed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
