package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/uslugihub/booking-backend/internal/dto"
	"github.com/uslugihub/booking-backend/internal/pkg/apperror"
)

// ValidateUUIDParam проверяет, что path-параметр является корректным UUID,
// до того как запрос дойдёт до хендлера.
func ValidateUUIDParam(name string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, err := uuid.Parse(c.Param(name)); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, dto.ErrorResponse{
				Error: "некорректный идентификатор: " + name,
				Code:  string(apperror.ErrCodeInvalidArg),
			})
			return
		}
		c.Next()
	}
}
