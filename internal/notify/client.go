// Package notify предоставляет клиент для внешнего сервиса уведомлений.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/mmeshcher/delivery-system/internal/model"
)

// Event описывает событие доставки, отправляемое внешним потребителям
// (мобильное приложение курьера, дашборд менеджера).
type Event struct {
	Type           string            `json:"type"`
	OrderID        int64             `json:"order_id"`
	DeliveryUserID int64             `json:"delivery_user_id"`
	Status         model.OrderStatus `json:"status,omitempty"`
	OccurredAt     time.Time         `json:"occurred_at"`
}

const (
	// EventAssigned отправляется при назначении заказа курьеру.
	EventAssigned = "delivery.assigned"
	// EventStatusChanged отправляется при смене статуса доставки.
	EventStatusChanged = "delivery.status_changed"
)

// Client инкапсулирует HTTP-взаимодействие с сервисом уведомлений.
// Отправка выполняется по принципу fire-and-forget и не влияет на исход запроса.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт HTTP-клиент для отправки уведомлений по указанному адресу.
func NewClient(baseURL string) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 3 * time.Second
	rc.Logger = nil

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: rc.StandardClient(),
	}
}

// Send отправляет событие сервису уведомлений.
func (c *Client) Send(ctx context.Context, e Event) error {
	if c == nil || c.baseURL == "" {
		return fmt.Errorf("notify client not configured")
	}

	base := c.baseURL
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	url := base + "/api/events"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	return nil
}
