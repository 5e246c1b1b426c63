package models

// Роли пользователей в JWT-клеймах. Учётные записи живут в сервисе
// аккаунтов, здесь нужна только роль из токена.
const (
	RoleClient     = "client"
	RoleFreelancer = "freelancer"
	RoleAdmin      = "admin"
)
