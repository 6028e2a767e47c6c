package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/vacationrental/booking-backend/internal/models"
	"github.com/vacationrental/booking-backend/internal/services"
	"github.com/vacationrental/booking-backend/internal/utils"
)

// requestMeta captures caller details for the payment audit trail
func requestMeta(c *gin.Context) services.RequestMeta {
	return services.RequestMeta{
		IPAddress: utils.GetRealIP(c),
		UserAgent: utils.GetUserAgent(c),
	}
}

// respondError writes an AppError as {error, code, statusCode}. Anything else is a 500
// whose details stay in the log.
func respondError(c *gin.Context, logger *logrus.Logger, err error) {
	var appErr *models.AppError
	if !errors.As(err, &appErr) {
		appErr = models.NewInternalError(err)
	}

	if appErr.StatusCode >= http.StatusInternalServerError {
		logger.WithError(err).WithFields(logrus.Fields{
			"path": c.Request.URL.Path,
			"code": appErr.Code,
		}).Error("Request failed")
		_ = c.Error(err)
	}

	c.JSON(appErr.StatusCode, gin.H{
		"error":      appErr.Message,
		"code":       appErr.Code,
		"statusCode": appErr.StatusCode,
	})
}

func invalidBody(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":      "invalid request: " + err.Error(),
		"code":       models.ErrCodeInvalidInput,
		"statusCode": http.StatusBadRequest,
	})
}
