// Package p24 — клиент REST API Przelewy24: регистрация транзакции,
// проверка подписи уведомления и подтверждение (verify) платежа.
package p24

import (
	"bytes"
	"context"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const (
	SandboxBaseURL    = "https://sandbox.przelewy24.pl"
	ProductionBaseURL = "https://secure.przelewy24.pl"

	registerPath = "/api/v1/transaction/register"
	verifyPath   = "/api/v1/transaction/verify"
	redirectPath = "/trnRequest/"

	// Время на оплату в минутах.
	defaultTimeLimit = 15
	maxResponseBytes = 1 << 20
)

// Config — учётные данные магазина в Przelewy24.
type Config struct {
	MerchantID int
	PosID      int
	APIKey     string
	CRC        string
	Sandbox    bool
	// BaseURL переопределяет адрес API (тесты).
	BaseURL string
}

// Configured сообщает, что заданы все учётные данные.
func (c Config) Configured() bool {
	return c.MerchantID > 0 && c.APIKey != "" && c.CRC != ""
}

// Client реализует domain.PaymentGateway поверх REST API Przelewy24.
type Client struct {
	cfg     Config
	baseURL string
	http    *http.Client
	logger  *log.Entry
}

// NewClient создаёт клиента. Таймаут задаётся контекстом вызова.
func NewClient(cfg Config, httpClient *http.Client, logger *log.Entry) *Client {
	if cfg.PosID == 0 {
		cfg.PosID = cfg.MerchantID
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = ProductionBaseURL
		if cfg.Sandbox {
			baseURL = SandboxBaseURL
		}
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if logger == nil {
		logger = log.WithField("component", "p24")
	}
	return &Client{
		cfg:     cfg,
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		logger:  logger,
	}
}

type registerRequest struct {
	MerchantID  int    `json:"merchantId"`
	PosID       int    `json:"posId"`
	SessionID   string `json:"sessionId"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	Description string `json:"description"`
	Email       string `json:"email"`
	Country     string `json:"country"`
	Language    string `json:"language"`
	Encoding    string `json:"encoding"`
	URLReturn   string `json:"urlReturn"`
	URLStatus   string `json:"urlStatus"`
	TimeLimit   int    `json:"timeLimit"`
	WaitForRes  bool   `json:"waitForResult"`
	Sign        string `json:"sign"`
}

type registerResponse struct {
	Data struct {
		Token string `json:"token"`
	} `json:"data"`
	ResponseCode int `json:"responseCode"`
}

// CreateSession регистрирует транзакцию и возвращает ссылку на оплату.
func (c *Client) CreateSession(ctx context.Context, req domain.SessionRequest) (string, error) {
	currency := req.Currency
	if currency == "" {
		currency = domain.DefaultCurrency
	}

	sign, err := signature(struct {
		SessionID  string `json:"sessionId"`
		MerchantID int    `json:"merchantId"`
		Amount     int64  `json:"amount"`
		Currency   string `json:"currency"`
		CRC        string `json:"crc"`
	}{req.SessionID, c.cfg.MerchantID, req.AmountMinor, currency, c.cfg.CRC})
	if err != nil {
		return "", err
	}

	body := registerRequest{
		MerchantID:  c.cfg.MerchantID,
		PosID:       c.cfg.PosID,
		SessionID:   req.SessionID,
		Amount:      req.AmountMinor,
		Currency:    currency,
		Description: req.Description,
		Email:       req.Email,
		Country:     domain.DefaultCountry,
		Language:    "pl",
		Encoding:    "UTF-8",
		URLReturn:   req.ReturnURL,
		URLStatus:   req.StatusURL,
		TimeLimit:   defaultTimeLimit,
		WaitForRes:  true,
		Sign:        sign,
	}

	var resp registerResponse
	if err := c.do(ctx, http.MethodPost, registerPath, body, &resp); err != nil {
		return "", fmt.Errorf("register transaction %s: %w", req.SessionID, err)
	}
	if resp.Data.Token == "" {
		return "", fmt.Errorf("register transaction %s: empty token (response code %d)", req.SessionID, resp.ResponseCode)
	}

	c.logger.WithField("session_id", req.SessionID).Debug("p24 transaction registered")
	return c.baseURL + redirectPath + resp.Data.Token, nil
}

// notification — тело уведомления, которое Przelewy24 шлёт на urlStatus.
type notification struct {
	MerchantID   int    `json:"merchantId"`
	PosID        int    `json:"posId"`
	SessionID    string `json:"sessionId"`
	Amount       int64  `json:"amount"`
	OriginAmount int64  `json:"originAmount"`
	Currency     string `json:"currency"`
	OrderID      int64  `json:"orderId"`
	MethodID     int    `json:"methodId"`
	Statement    string `json:"statement"`
	Sign         string `json:"sign"`
}

type verifyRequest struct {
	MerchantID int    `json:"merchantId"`
	PosID      int    `json:"posId"`
	SessionID  string `json:"sessionId"`
	Amount     int64  `json:"amount"`
	Currency   string `json:"currency"`
	OrderID    int64  `json:"orderId"`
	Sign       string `json:"sign"`
}

type verifyResponse struct {
	Data struct {
		Status string `json:"status"`
	} `json:"data"`
	ResponseCode int `json:"responseCode"`
}

// signEqual сравнивает hex-подписи без учёта регистра за постоянное время.
func signEqual(expected, got string) bool {
	return subtle.ConstantTimeCompare([]byte(strings.ToLower(expected)), []byte(strings.ToLower(got))) == 1
}

// VerifyNotification проверяет подпись уведомления и подтверждает транзакцию у провайдера.
func (c *Client) VerifyNotification(ctx context.Context, raw []byte) (domain.Notification, error) {
	var n notification
	if err := json.Unmarshal(raw, &n); err != nil {
		return domain.Notification{}, fmt.Errorf("%w: decode: %v", domain.ErrInvalidNotification, err)
	}
	if n.SessionID == "" || n.OrderID == 0 {
		return domain.Notification{}, fmt.Errorf("%w: missing sessionId or orderId", domain.ErrInvalidNotification)
	}
	if n.MerchantID != c.cfg.MerchantID || n.PosID != c.cfg.PosID {
		return domain.Notification{}, fmt.Errorf("%w: foreign merchant", domain.ErrInvalidNotification)
	}

	expected, err := c.notificationSign(n)
	if err != nil {
		return domain.Notification{}, err
	}
	if !signEqual(expected, n.Sign) {
		return domain.Notification{}, fmt.Errorf("%w: signature mismatch", domain.ErrInvalidNotification)
	}

	verifySign, err := signature(struct {
		SessionID string `json:"sessionId"`
		OrderID   int64  `json:"orderId"`
		Amount    int64  `json:"amount"`
		Currency  string `json:"currency"`
		CRC       string `json:"crc"`
	}{n.SessionID, n.OrderID, n.Amount, n.Currency, c.cfg.CRC})
	if err != nil {
		return domain.Notification{}, err
	}

	var resp verifyResponse
	err = c.do(ctx, http.MethodPut, verifyPath, verifyRequest{
		MerchantID: c.cfg.MerchantID,
		PosID:      c.cfg.PosID,
		SessionID:  n.SessionID,
		Amount:     n.Amount,
		Currency:   n.Currency,
		OrderID:    n.OrderID,
		Sign:       verifySign,
	}, &resp)
	if err != nil {
		return domain.Notification{}, fmt.Errorf("verify transaction %s: %w", n.SessionID, err)
	}
	if resp.Data.Status != "success" {
		return domain.Notification{}, fmt.Errorf("%w: verify status %q", domain.ErrInvalidNotification, resp.Data.Status)
	}

	return domain.Notification{
		SessionID:   n.SessionID,
		AmountMinor: n.Amount,
		Currency:    n.Currency,
		ProviderRef: fmt.Sprintf("%d", n.OrderID),
	}, nil
}

func (c *Client) notificationSign(n notification) (string, error) {
	return signature(struct {
		MerchantID   int    `json:"merchantId"`
		PosID        int    `json:"posId"`
		SessionID    string `json:"sessionId"`
		Amount       int64  `json:"amount"`
		OriginAmount int64  `json:"originAmount"`
		Currency     string `json:"currency"`
		OrderID      int64  `json:"orderId"`
		MethodID     int    `json:"methodId"`
		Statement    string `json:"statement"`
		CRC          string `json:"crc"`
	}{n.MerchantID, n.PosID, n.SessionID, n.Amount, n.OriginAmount, n.Currency, n.OrderID, n.MethodID, n.Statement, c.cfg.CRC})
}

// apiError — ответ API с кодом не 2xx.
type apiError struct {
	Status int
	Body   string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("p24 api status %d: %s", e.Status, e.Body)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(fmt.Sprintf("%d", c.cfg.PosID), c.cfg.APIKey)

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	c.logger.WithFields(log.Fields{
		"method":   method,
		"path":     path,
		"status":   resp.StatusCode,
		"duration": time.Since(started),
	}).Debug("p24 api call")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &apiError{Status: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// signature — SHA-384 от JSON-представления полей, как требует API.
func signature(fields any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(fields); err != nil {
		return "", fmt.Errorf("encode sign fields: %w", err)
	}
	sum := sha512.Sum384(bytes.TrimRight(buf.Bytes(), "\n"))
	return hex.EncodeToString(sum[:]), nil
}

var _ domain.PaymentGateway = (*Client)(nil)
