package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/uslugihub/booking-backend/internal/dto"
	"github.com/uslugihub/booking-backend/internal/pkg/apperror"
	"github.com/uslugihub/booking-backend/internal/service"
)

// Ключи контекста Gin, под которыми хранится личность пользователя.
const (
	ContextUserIDKey = "user_id"
	ContextRoleKey   = "user_role"
)

// Auth проверяет Bearer-токен и кладёт ID и роль пользователя в контекст.
func Auth(tokens *service.TokenManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			abortUnauthorized(c, "отсутствует заголовок Authorization")
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			abortUnauthorized(c, "некорректный формат заголовка Authorization")
			return
		}

		userID, role, err := tokens.ParseAccess(parts[1])
		if err != nil {
			abortUnauthorized(c, "недействительный токен")
			return
		}

		c.Set(ContextUserIDKey, userID)
		c.Set(ContextRoleKey, role)
		c.Next()
	}
}

// RequireRole пропускает только пользователей с указанной ролью.
// Подключается после Auth.
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		v, ok := c.Get(ContextRoleKey)
		if !ok || v.(string) != role {
			c.AbortWithStatusJSON(http.StatusForbidden, dto.ErrorResponse{
				Error: "недостаточно прав",
				Code:  string(apperror.ErrCodeForbidden),
			})
			return
		}
		c.Next()
	}
}

func abortUnauthorized(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, dto.ErrorResponse{
		Error: msg,
		Code:  string(apperror.ErrCodeUnauthorized),
	})
}
