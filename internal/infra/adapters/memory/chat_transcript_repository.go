package memory

import (
	"sync"
	"time"

	"github.com/qrave1/LiveClass/internal/domain/models"
)

// ChatTranscriptRepository append-only транскрипт чата в порядке вставки
type ChatTranscriptRepository interface {
	// Append assigns the next id and the append time and stores the message
	Append(msg models.ChatMessage) models.ChatMessage

	// List returns a copy of the transcript
	List() []models.ChatMessage

	Len() int
}

type chatTranscriptRepository struct {
	messages []models.ChatMessage
	nextID   uint64
	now      func() time.Time
	mu       sync.RWMutex
}

func NewChatTranscriptRepository() ChatTranscriptRepository {
	return &chatTranscriptRepository{
		messages: make([]models.ChatMessage, 0, 64),
		now:      time.Now,
	}
}

func (r *chatTranscriptRepository) Append(msg models.ChatMessage) models.ChatMessage {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	msg.ID = r.nextID
	msg.SentAt = r.now()

	r.messages = append(r.messages, msg)

	return msg
}

func (r *chatTranscriptRepository) List() []models.ChatMessage {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.ChatMessage, len(r.messages))
	copy(out, r.messages)

	return out
}

func (r *chatTranscriptRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.messages)
}
