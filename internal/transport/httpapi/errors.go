package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// errorBody — единый формат ответа с ошибкой.
type errorBody struct {
	Error     string `json:"error"`
	Details   any    `json:"details,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

type fieldDetails struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type stockDetails struct {
	VariantID string `json:"variantId"`
	Requested int    `json:"requested"`
	Available int    `json:"available"`
}

// classify переводит доменную ошибку в HTTP-статус и тело без внутренних деталей.
func classify(err error) (int, errorBody) {
	var (
		validationErr  *domain.ValidationError
		unavailableErr *domain.ItemUnavailableError
		stockErr       *domain.InsufficientStockError
	)

	switch {
	case errors.Is(err, domain.ErrGatewayUnavailable):
		return http.StatusServiceUnavailable, errorBody{Error: "payment provider unavailable, try again later"}
	case errors.Is(err, domain.ErrInvalidNotification):
		return http.StatusBadRequest, errorBody{Error: "invalid notification"}
	case errors.As(err, &validationErr):
		return http.StatusBadRequest, errorBody{
			Error:   "validation failed",
			Details: fieldDetails{Field: validationErr.Field, Message: validationErr.Message},
		}
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest, errorBody{Error: "validation failed"}
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized, errorBody{Error: "unauthorized"}
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden, errorBody{Error: "forbidden"}
	case errors.Is(err, domain.ErrOrderNotFound):
		return http.StatusNotFound, errorBody{Error: "order not found"}
	case errors.Is(err, domain.ErrStockItemNotFound):
		return http.StatusNotFound, errorBody{Error: "stock item not found"}
	case errors.As(err, &stockErr):
		return http.StatusConflict, errorBody{
			Error: "insufficient stock, try again",
			Details: stockDetails{
				VariantID: stockErr.VariantID,
				Requested: stockErr.Requested,
				Available: stockErr.Available,
			},
		}
	case errors.Is(err, domain.ErrConcurrentModification):
		return http.StatusConflict, errorBody{Error: "stock changed concurrently, try again"}
	case errors.Is(err, domain.ErrIdempotencyHashMismatch):
		return http.StatusConflict, errorBody{Error: "idempotency key is already used with a different payload"}
	case errors.Is(err, domain.ErrOrderStatusConflict):
		return http.StatusConflict, errorBody{Error: "order status conflict"}
	case errors.As(err, &unavailableErr):
		return http.StatusUnprocessableEntity, errorBody{
			Error:   "item unavailable",
			Details: map[string]string{"variantId": unavailableErr.VariantID},
		}
	case errors.Is(err, domain.ErrItemUnavailable):
		return http.StatusUnprocessableEntity, errorBody{Error: "item unavailable"}
	default:
		return http.StatusInternalServerError, errorBody{Error: "internal server error"}
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code, body := classify(err)
	body.RequestID = requestID(r)

	entry := a.requestLogger(r).WithError(err).WithField("status", code)
	if code >= http.StatusInternalServerError {
		entry.Error("request failed")
	} else {
		entry.Info("request rejected")
	}
	writeJSON(w, code, body)
}

// encodeError собирает тело ошибки для кэша идемпотентности.
func encodeError(r *http.Request, err error) (int, []byte) {
	code, body := classify(err)
	body.RequestID = requestID(r)
	data, _ := json.Marshal(body)
	return code, data
}

func requestID(r *http.Request) string {
	return middleware.GetReqID(r.Context())
}
