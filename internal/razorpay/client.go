// Package razorpay предоставляет клиент платёжного шлюза Razorpay: создание заказов,
// проверку подписей и разбор событий вебхука.
package razorpay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

// ErrGateway возвращается, если шлюз отклонил запрос или недоступен.
var ErrGateway = errors.New("payment gateway error")

// Client инкапсулирует HTTP-взаимодействие с API Razorpay.
type Client struct {
	baseURL    string
	keyID      string
	keySecret  string
	httpClient *retryablehttp.Client
}

// Option настраивает клиент.
type Option func(*Client)

// WithRetryPolicy задаёт число повторов и границы ожидания между ними.
func WithRetryPolicy(maxRetries int, waitMin, waitMax time.Duration) Option {
	return func(c *Client) {
		c.httpClient.RetryMax = maxRetries
		c.httpClient.RetryWaitMin = waitMin
		c.httpClient.RetryWaitMax = waitMax
	}
}

// WithTimeout задаёт таймаут одной попытки запроса.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.HTTPClient.Timeout = d
	}
}

// WithLogger включает журналирование повторов через zap.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.httpClient.Logger = leveledLogger{s: logger.Sugar()}
		}
	}
}

// NewClient создаёт клиент API Razorpay с базовой аутентификацией по ключу.
func NewClient(baseURL, keyID, keySecret string, opts ...Option) *Client {
	hc := retryablehttp.NewClient()
	hc.RetryMax = 3
	hc.RetryWaitMin = 200 * time.Millisecond
	hc.RetryWaitMax = 2 * time.Second
	hc.HTTPClient.Timeout = 10 * time.Second
	hc.Logger = nil

	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		keyID:      keyID,
		keySecret:  keySecret,
		httpClient: hc,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OrderRequest описывает параметры создаваемого заказа.
type OrderRequest struct {
	// Amount: сумма в минорных единицах валюты.
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt"`
	Notes    map[string]string `json:"notes,omitempty"`
}

// Order описывает заказ, созданный в Razorpay.
type Order struct {
	ID         string `json:"id"`
	Entity     string `json:"entity"`
	Amount     int64  `json:"amount"`
	AmountPaid int64  `json:"amount_paid"`
	AmountDue  int64  `json:"amount_due"`
	Currency   string `json:"currency"`
	Receipt    string `json:"receipt"`
	Status     string `json:"status"`
	Notes      Notes  `json:"notes"`
	CreatedAt  int64  `json:"created_at"`
}

type apiError struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

// CreateOrder создаёт заказ на указанную сумму. Receipt служит ключом идемпотентности.
func (c *Client) CreateOrder(ctx context.Context, in OrderRequest) (*Order, error) {
	if c == nil || c.baseURL == "" {
		return nil, fmt.Errorf("%w: client not configured", ErrGateway)
	}
	if in.Amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrGateway)
	}

	body, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("encode order request: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/orders", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.keyID, c.keySecret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: do request: %v", ErrGateway, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrGateway, err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr apiError
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error.Code != "" {
			return nil, fmt.Errorf("%w: status %d: %s: %s", ErrGateway, resp.StatusCode, apiErr.Error.Code, apiErr.Error.Description)
		}
		return nil, fmt.Errorf("%w: unexpected status: %d", ErrGateway, resp.StatusCode)
	}

	var order Order
	if err := json.Unmarshal(raw, &order); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrGateway, err)
	}
	if order.ID == "" {
		return nil, fmt.Errorf("%w: order id is empty", ErrGateway)
	}

	return &order, nil
}

type leveledLogger struct {
	s *zap.SugaredLogger
}

func (l leveledLogger) Error(msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, keysAndValues...)
}

func (l leveledLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Infow(msg, keysAndValues...)
}

func (l leveledLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l leveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.s.Warnw(msg, keysAndValues...)
}
