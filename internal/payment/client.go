package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/uslugihub/booking-backend/internal/pkg/apperror"
)

// Client выполняет переводы средств через внешний платёжный процессинг.
// Захват средств с карты происходит вне этого сервиса; клиент отвечает
// только за исполнение release/refund переводов по уже захваченным деньгам.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт экземпляр клиента процессинга.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type transferRequest struct {
	MovementID  uuid.UUID `json:"movement_id"`
	Direction   string    `json:"direction"`
	Amount      int64     `json:"amount"`
	RecipientID uuid.UUID `json:"recipient_id"`
}

// Transfer отправляет перевод в процессинг. movementID передаётся как ключ
// идемпотентности: повтор после сбоя не приводит к двойному переводу.
func (c *Client) Transfer(ctx context.Context, movementID uuid.UUID, direction string, amount int64, recipientID uuid.UUID) error {
	body, err := json.Marshal(transferRequest{
		MovementID:  movementID,
		Direction:   direction,
		Amount:      amount,
		RecipientID: recipientID,
	})
	if err != nil {
		return fmt.Errorf("payment client: marshal %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/transfers", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("payment client: request %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", movementID.String())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperror.Wrap(err, apperror.ErrCodeUpstream, "платёжный процессинг недоступен")
	}
	defer resp.Body.Close()

	// 409 от процессинга означает, что перевод с этим ключом уже исполнен.
	if resp.StatusCode == http.StatusConflict {
		return nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return apperror.Wrap(
			fmt.Errorf("status %d: %s", resp.StatusCode, string(payload)),
			apperror.ErrCodeUpstream, "платёжный процессинг отклонил перевод")
	}
	return nil
}
