package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/qrave1/LiveClass/internal/domain/models"
)

const maxErrorBody = 4096

// Error - не-2xx ответ бэкенда, текст содержит сообщение сервера
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("status %d: %s", e.Status, http.StatusText(e.Status))
	}

	return fmt.Sprintf("status %d: %s", e.Status, e.Message)
}

// Client ходит в REST бэкенд платформы за токеном комнаты и профилями участников
type Client struct {
	baseURL   string
	authToken string
	http      *http.Client
}

func NewClient(baseURL, authToken string, timeout time.Duration) *Client {
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		authToken: authToken,
		http:      &http.Client{Timeout: timeout},
	}
}

type tokenResponse struct {
	Token    string `json:"token"`
	URL      string `json:"url"`
	RoomName string `json:"roomName"`
}

// FetchJoinCredential GET /room/{roomId}/token
func (c *Client) FetchJoinCredential(ctx context.Context, roomID string) (models.JoinCredential, error) {
	var resp tokenResponse

	if err := c.get(ctx, "/room/"+url.PathEscape(roomID)+"/token", &resp); err != nil {
		return models.JoinCredential{}, fmt.Errorf("get room token: %w", err)
	}

	return models.JoinCredential{
		Token:     resp.Token,
		ServerURL: resp.URL,
		RoomName:  resp.RoomName,
	}, nil
}

// FetchProfile GET /participant/{identity}
func (c *Client) FetchProfile(ctx context.Context, identity string) (models.Profile, error) {
	var profile models.Profile

	if err := c.get(ctx, "/participant/"+url.PathEscape(identity), &profile); err != nil {
		return models.Profile{}, fmt.Errorf("get participant profile: %w", err)
	}

	return profile, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}

	req.Header.Set("Accept", "application/json")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(resp)
	}

	if err = json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	return nil
}

func decodeError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}

	apiErr := &Error{Status: resp.StatusCode}

	if json.Unmarshal(body, &payload) == nil {
		apiErr.Message = payload.Error
		if apiErr.Message == "" {
			apiErr.Message = payload.Message
		}
	}

	if apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(body))
	}

	if apiErr.Message == "" && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
		apiErr.Message = "authorization rejected"
	}

	return apiErr
}
