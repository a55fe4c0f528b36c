package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/qrave1/LiveClass/internal/application/constant"
	"github.com/qrave1/LiveClass/internal/application/metric"
	"github.com/qrave1/LiveClass/internal/domain/events"
	"github.com/qrave1/LiveClass/internal/domain/models"
	"github.com/qrave1/LiveClass/internal/infra/adapters/memory"
)

// DataSender reliable data channel of the room.
type DataSender interface {
	SendData(ctx context.Context, payload []byte) error
}

// ChatUsecase текстовый чат поверх data channel комнаты
type ChatUsecase interface {
	// Send appends the message to the transcript before handing it to the transport.
	Send(ctx context.Context, text string) (models.ChatMessage, error)

	// Receive silently drops anything that is not a chat payload.
	Receive(payload []byte, senderIdentity string)

	Transcript() []models.ChatMessage
}

type chatUsecase struct {
	sender     DataSender
	transcript memory.ChatTranscriptRepository
	names      func(identity string) string
	onChange   func()
}

func NewChatUsecase(
	sender DataSender,
	transcript memory.ChatTranscriptRepository,
	names func(identity string) string,
	onChange func(),
) ChatUsecase {
	if names == nil {
		names = func(identity string) string { return identity }
	}

	if onChange == nil {
		onChange = func() {}
	}

	return &chatUsecase{
		sender:     sender,
		transcript: transcript,
		names:      names,
		onChange:   onChange,
	}
}

func (c *chatUsecase) Send(ctx context.Context, text string) (models.ChatMessage, error) {
	if strings.TrimSpace(text) == "" {
		return models.ChatMessage{}, nil
	}

	payload, err := events.EncodeChat(text)
	if err != nil {
		return models.ChatMessage{}, ClassifyError(fmt.Errorf("encode chat: %w", err))
	}

	msg := c.transcript.Append(models.ChatMessage{
		SenderDisplay: models.LocalSenderDisplay,
		Text:          text,
		IsLocal:       true,
	})
	metric.IncrementChatSent()
	c.onChange()

	if err = c.sender.SendData(ctx, payload); err != nil {
		slog.Warn("send chat message", slog.Any(constant.Error, err))

		return msg, ClassifyError(fmt.Errorf("send chat: %w", err))
	}

	return msg, nil
}

func (c *chatUsecase) Receive(payload []byte, senderIdentity string) {
	text, err := events.DecodeChat(payload)
	if err != nil {
		metric.IncrementDataPacketsDropped()
		slog.Debug("drop data packet", slog.Any(constant.Error, err), slog.String(constant.Identity, senderIdentity))

		return
	}

	sender := senderIdentity
	if senderIdentity != "" {
		sender = c.names(senderIdentity)
	}

	if sender == "" {
		sender = "Participant"
	}

	c.transcript.Append(models.ChatMessage{
		SenderDisplay: sender,
		Text:          text,
	})
	metric.IncrementChatReceived()
	c.onChange()
}

func (c *chatUsecase) Transcript() []models.ChatMessage {
	return c.transcript.List()
}
