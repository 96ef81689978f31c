package handler

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/mmeshcher/mmo-shop/internal/model"
	"github.com/mmeshcher/mmo-shop/internal/payment"
	"github.com/mmeshcher/mmo-shop/internal/ratelimit"
	"github.com/mmeshcher/mmo-shop/internal/repository"
	"github.com/mmeshcher/mmo-shop/internal/service"
)

// paymentUnavailableMessage отдаётся покупателю вместо текста ошибки банковской ленты.
const paymentUnavailableMessage = "payment system temporarily unavailable, retry shortly"

// statusFor сопоставляет доменную ошибку HTTP-статусу.
func statusFor(err error) int {
	var (
		stockErr    *model.StockUnavailableError
		shortageErr *model.InsufficientStockError
		upstreamErr *payment.UpstreamError
	)

	switch {
	case errors.Is(err, service.ErrInvalidCart),
		errors.Is(err, service.ErrRejectReasonRequired),
		errors.Is(err, service.ErrNothingToImport):
		return http.StatusBadRequest
	case errors.Is(err, repository.ErrOrderNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrInvalidTransition),
		errors.As(err, &stockErr),
		errors.As(err, &shortageErr):
		return http.StatusConflict
	case errors.Is(err, ratelimit.ErrTooManyAttempts):
		return http.StatusTooManyRequests
	case errors.Is(err, payment.ErrNotConfigured):
		return http.StatusServiceUnavailable
	case errors.As(err, &upstreamErr),
		errors.Is(err, payment.ErrResponseFormat):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error, msg string, fields ...zap.Field) {
	status := statusFor(err)
	switch status {
	case http.StatusInternalServerError:
		h.logger.Error(msg, append(fields, zap.Error(err))...)
		http.Error(w, http.StatusText(status), status)
		return
	case http.StatusBadGateway, http.StatusServiceUnavailable:
		h.logger.Warn(msg, append(fields, zap.Error(err))...)
		http.Error(w, paymentUnavailableMessage, status)
		return
	}
	http.Error(w, err.Error(), status)
}
