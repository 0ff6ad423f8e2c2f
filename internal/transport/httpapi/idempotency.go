package httpapi

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const (
	idempotencyHeader    = "Idempotency-Key"
	idempotencyTTL       = 24 * time.Hour
	maxIdempotencyKeyLen = 128
)

// withIdempotency выполняет handler не более одного раза на Idempotency-Key.
// Без заголовка запрос обрабатывается как обычно.
func (a *API) withIdempotency(
	w http.ResponseWriter,
	r *http.Request,
	method string,
	body []byte,
	handler func(context.Context) (int, []byte),
) {
	key := strings.TrimSpace(r.Header.Get(idempotencyHeader))
	if a.deps.Idempotency == nil || key == "" {
		code, data := handler(r.Context())
		writeRaw(w, code, data)
		return
	}
	if len(key) > maxIdempotencyKeyLen {
		a.writeError(w, r, domain.NewValidationError(idempotencyHeader, "is too long"))
		return
	}

	entry := a.requestLogger(r).WithField("idempotency_key", key)
	hash := requestHash(method, body)

	record, err := a.deps.Idempotency.CreateProcessing(r.Context(), key, hash, time.Now().UTC().Add(idempotencyTTL))
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrIdempotencyHashMismatch):
			a.writeError(w, r, domain.ErrIdempotencyHashMismatch)
		case errors.Is(err, domain.ErrIdempotencyKeyAlreadyExists):
			a.replay(w, r, record)
		default:
			entry.WithError(err).Warn("failed to create idempotency record")
			a.writeError(w, r, err)
		}
		return
	}

	code, data := handler(r.Context())

	// Результат сохраняем даже при отменённом запросе клиента.
	storeCtx := context.WithoutCancel(r.Context())
	switch {
	case code >= http.StatusInternalServerError:
		// Сбой сервера не кешируем: клиент повторит запрос с тем же ключом.
		if err := a.deps.Idempotency.Delete(storeCtx, key); err != nil {
			entry.WithError(err).Warn("failed to release idempotency key after server error")
		}
	case code >= 200 && code < 300:
		err = a.deps.Idempotency.MarkDone(storeCtx, key, data, code)
	default:
		err = a.deps.Idempotency.MarkFailed(storeCtx, key, data, code)
	}
	if err != nil {
		entry.WithError(err).Warn("failed to store idempotent response")
	}

	writeRaw(w, code, data)
}

func (a *API) replay(w http.ResponseWriter, r *http.Request, record domain.IdempotencyRecord) {
	switch record.Status {
	case domain.IdempotencyStatusDone, domain.IdempotencyStatusFailed:
		if !record.Replayable() {
			a.writeError(w, r, errors.New("idempotency cache is empty"))
			return
		}
		w.Header().Set("Idempotent-Replayed", "true")
		writeRaw(w, record.HTTPStatus, record.ResponseBody)
	case domain.IdempotencyStatusProcessing:
		writeJSON(w, http.StatusConflict, errorBody{
			Error:     "request with the same idempotency key is already processing",
			RequestID: requestID(r),
		})
	default:
		a.writeError(w, r, errors.New("unknown idempotency record status"))
	}
}

func requestHash(method string, body []byte) string {
	sum := sha256.Sum256(append([]byte(method+":"), body...))
	return hex.EncodeToString(sum[:])
}

func writeRaw(w http.ResponseWriter, code int, data []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(data)
}
