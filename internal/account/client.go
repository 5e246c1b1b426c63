package account

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/uslugihub/booking-backend/internal/pkg/apperror"
)

// Client передаёт директивы о надёжности исполнителей во внешний сервис
// управления аккаунтами. Само состояние аккаунта (блокировка, апелляции)
// принадлежит этому сервису; движок только сигнализирует.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт экземпляр клиента сервиса аккаунтов.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type directiveRequest struct {
	FreelancerID uuid.UUID `json:"freelancer_id"`
	Reason       string    `json:"reason"`
	EventCount   int       `json:"event_count"`
}

// RequestSuspension запрашивает приостановку аккаунта исполнителя.
func (c *Client) RequestSuspension(ctx context.Context, freelancerID uuid.UUID, eventCount int) error {
	return c.post(ctx, "/v1/accounts/suspend", directiveRequest{
		FreelancerID: freelancerID,
		Reason:       "last_minute_cancellations",
		EventCount:   eventCount,
	})
}

// SendWarning отправляет предупреждение исполнителю.
func (c *Client) SendWarning(ctx context.Context, freelancerID uuid.UUID, eventCount int) error {
	return c.post(ctx, "/v1/accounts/warn", directiveRequest{
		FreelancerID: freelancerID,
		Reason:       "last_minute_cancellations",
		EventCount:   eventCount,
	})
}

func (c *Client) post(ctx context.Context, path string, payload directiveRequest) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("account client: marshal %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("account client: request %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperror.Wrap(err, apperror.ErrCodeUpstream, "сервис аккаунтов недоступен")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apperror.Wrap(
			fmt.Errorf("status %d", resp.StatusCode),
			apperror.ErrCodeUpstream, "сервис аккаунтов отклонил директиву")
	}
	return nil
}
