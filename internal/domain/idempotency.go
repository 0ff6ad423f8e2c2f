package domain

import "time"

// IdempotencyStatus - стадия обработки checkout-запроса с Idempotency-Key.
type IdempotencyStatus string

const (
	IdempotencyStatusProcessing IdempotencyStatus = "processing"
	IdempotencyStatusDone       IdempotencyStatus = "done"
	// IdempotencyStatusFailed тоже кэшируется: повтор получит тот же отказ, а не новую резервацию.
	IdempotencyStatusFailed IdempotencyStatus = "failed"
)

// IdempotencyRecord - сохранённый результат checkout для повторной выдачи клиенту.
type IdempotencyRecord struct {
	Key          string
	RequestHash  string
	ResponseBody []byte
	HTTPStatus   int
	Status       IdempotencyStatus
	TTLAt        time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (s IdempotencyStatus) Valid() bool {
	switch s {
	case IdempotencyStatusProcessing, IdempotencyStatusDone, IdempotencyStatusFailed:
		return true
	default:
		return false
	}
}

// Expired сообщает, что ключ больше не защищает от повторного checkout.
func (r IdempotencyRecord) Expired(now time.Time) bool {
	return !r.TTLAt.After(now)
}

// Replayable: запрос завершён и ответ можно отдать повторно без обращения к складу.
func (r IdempotencyRecord) Replayable() bool {
	if r.Status != IdempotencyStatusDone && r.Status != IdempotencyStatusFailed {
		return false
	}
	return r.HTTPStatus != 0 && len(r.ResponseBody) > 0
}
