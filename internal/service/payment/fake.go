package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// FakeGateway — детерминированный шлюз для локального запуска и тестов.
// Уведомления подписываются HMAC-SHA256 общим секретом.
type FakeGateway struct {
	baseURL string
	secret  string

	mu        sync.Mutex
	sessions  map[string]domain.SessionRequest
	CreateErr error
	VerifyErr error

	CreateCalls int
	VerifyCalls int
}

// FakeNotificationPayload — формат тела уведомления фейкового провайдера.
type FakeNotificationPayload struct {
	SessionID   string `json:"sessionId"`
	AmountMinor int64  `json:"amount"`
	Currency    string `json:"currency"`
	OrderRef    string `json:"orderId"`
	Sign        string `json:"sign"`
}

// NewFakeGateway создаёт фейковый шлюз. baseURL используется в ссылке на оплату.
func NewFakeGateway(baseURL, secret string) *FakeGateway {
	return &FakeGateway{
		baseURL:  strings.TrimRight(baseURL, "/"),
		secret:   secret,
		sessions: make(map[string]domain.SessionRequest),
	}
}

// CreateSession запоминает сессию и возвращает ссылку вида {base}/pay/{session}.
func (g *FakeGateway) CreateSession(_ context.Context, req domain.SessionRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.CreateCalls++
	if g.CreateErr != nil {
		return "", g.CreateErr
	}
	g.sessions[req.SessionID] = req
	return fmt.Sprintf("%s/pay/%s", g.baseURL, req.SessionID), nil
}

// VerifyNotification проверяет подпись уведомления.
func (g *FakeGateway) VerifyNotification(_ context.Context, raw []byte) (domain.Notification, error) {
	g.mu.Lock()
	g.VerifyCalls++
	verifyErr := g.VerifyErr
	g.mu.Unlock()
	if verifyErr != nil {
		return domain.Notification{}, verifyErr
	}

	var payload FakeNotificationPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return domain.Notification{}, fmt.Errorf("%w: decode payload: %v", domain.ErrInvalidNotification, err)
	}
	if payload.SessionID == "" {
		return domain.Notification{}, fmt.Errorf("%w: empty session id", domain.ErrInvalidNotification)
	}
	expected := g.sign(payload.SessionID, payload.AmountMinor)
	if !hmac.Equal([]byte(expected), []byte(payload.Sign)) {
		return domain.Notification{}, fmt.Errorf("%w: signature mismatch", domain.ErrInvalidNotification)
	}

	currency := payload.Currency
	if currency == "" {
		currency = domain.DefaultCurrency
	}
	return domain.Notification{
		SessionID:   payload.SessionID,
		AmountMinor: payload.AmountMinor,
		Currency:    currency,
		ProviderRef: payload.OrderRef,
	}, nil
}

// Session возвращает зарегистрированную сессию.
func (g *FakeGateway) Session(sessionID string) (domain.SessionRequest, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	req, ok := g.sessions[sessionID]
	return req, ok
}

// Notification собирает подписанное уведомление об оплате сессии.
func (g *FakeGateway) Notification(sessionID string, amountMinor int64, providerRef string) []byte {
	data, _ := json.Marshal(FakeNotificationPayload{
		SessionID:   sessionID,
		AmountMinor: amountMinor,
		Currency:    domain.DefaultCurrency,
		OrderRef:    providerRef,
		Sign:        g.sign(sessionID, amountMinor),
	})
	return data
}

func (g *FakeGateway) sign(sessionID string, amountMinor int64) string {
	mac := hmac.New(sha256.New, []byte(g.secret))
	fmt.Fprintf(mac, "%s|%d", sessionID, amountMinor)
	return hex.EncodeToString(mac.Sum(nil))
}

var _ domain.PaymentGateway = (*FakeGateway)(nil)
