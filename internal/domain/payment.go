package domain

// SessionRequest — данные для регистрации платёжной сессии у провайдера.
type SessionRequest struct {
	SessionID   string
	AmountMinor int64
	Currency    string
	Email       string
	Description string
	ReturnURL   string
	StatusURL   string
}

// Notification — проверенное уведомление провайдера об оплате.
type Notification struct {
	SessionID   string
	AmountMinor int64
	Currency    string
	ProviderRef string
}

// Ack — ответ обработчика уведомлений.
type Ack struct {
	OrderID       string
	AlreadyPaid   bool
	CapturedLines int
}
