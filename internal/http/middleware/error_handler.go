package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/escrow-ledger/internal/logger"
	"github.com/ignatzorin/escrow-ledger/internal/pkg/apperror"
)

// ErrorBody формат ошибки API.
type ErrorBody struct {
	Error   string         `json:"error"`
	Code    string         `json:"code"`
	Details map[string]any `json:"details,omitempty"`
}

// ErrorHandler обрабатывает ошибки централизованно.
// Хэндлеры кладут ошибку в c.Error, ответ формирует middleware.
// Внутренние ошибки маскируются.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() || len(c.Errors) == 0 {
			return
		}

		err := c.Errors.Last().Err
		status, body := ErrorResponse(err)

		if logger.Log != nil {
			entry := logger.Log.WithFields(logrus.Fields{
				"path":   c.Request.URL.Path,
				"method": c.Request.Method,
				"status": status,
				"code":   body.Code,
			})
			if status >= http.StatusInternalServerError {
				entry.WithField("error", err.Error()).Error("request error")
			} else {
				entry.Debug("request rejected")
			}
		}

		c.JSON(status, body)
	}
}

// ErrorResponse переводит ошибку в HTTP статус и тело ответа.
func ErrorResponse(err error) (int, ErrorBody) {
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		return http.StatusInternalServerError, ErrorBody{
			Error: "внутренняя ошибка сервера",
			Code:  string(apperror.ErrCodeInternal),
		}
	}

	status := appErr.HTTPStatus
	if status == 0 {
		status = http.StatusInternalServerError
	}

	// Нарушения целостности и внутренние ошибки наружу отдаём без подробностей.
	if status >= http.StatusInternalServerError {
		return status, ErrorBody{Error: appErr.Message, Code: string(appErr.Code)}
	}
	return status, ErrorBody{Error: appErr.Message, Code: string(appErr.Code), Details: appErr.Details}
}
