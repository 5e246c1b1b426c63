package common

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/uslugihub/booking-backend/internal/dto"
	"github.com/uslugihub/booking-backend/internal/http/middleware"
	"github.com/uslugihub/booking-backend/internal/pkg/apperror"
)

// CurrentUserID извлекает ID аутентифицированного пользователя из контекста.
func CurrentUserID(c *gin.Context) (uuid.UUID, bool) {
	v, ok := c.Get(middleware.ContextUserIDKey)
	if !ok {
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok
}

// CurrentUserRole извлекает роль аутентифицированного пользователя.
func CurrentUserRole(c *gin.Context) string {
	v, ok := c.Get(middleware.ContextRoleKey)
	if !ok {
		return ""
	}
	role, _ := v.(string)
	return role
}

// ParseUUIDParam разбирает path-параметр как UUID.
func ParseUUIDParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error: "некорректный идентификатор: " + name,
			Code:  string(apperror.ErrCodeInvalidArg),
		})
		return uuid.Nil, false
	}
	return id, true
}

// Pagination — параметры постраничной выборки из query string.
type Pagination struct {
	Limit  int
	Offset int
}

// GetPagination читает limit/offset с безопасными значениями по умолчанию.
func GetPagination(c *gin.Context) Pagination {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit <= 0 || limit > 100 {
		limit = 20
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		offset = 0
	}
	return Pagination{Limit: limit, Offset: offset}
}

// RespondError отдаёт ошибку клиенту, переводя *apperror.AppError в HTTP-статус.
func RespondError(c *gin.Context, err error) {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		c.AbortWithStatusJSON(appErr.HTTPStatus, dto.ErrorResponse{
			Error: appErr.Message,
			Code:  string(appErr.Code),
		})
		return
	}
	c.AbortWithStatusJSON(http.StatusInternalServerError, dto.ErrorResponse{
		Error: "внутренняя ошибка сервера",
		Code:  string(apperror.ErrCodeInternal),
	})
}
