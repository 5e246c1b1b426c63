package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/uslugihub/booking-backend/internal/dto"
	"github.com/uslugihub/booking-backend/internal/http/handlers/common"
	"github.com/uslugihub/booking-backend/internal/models"
	"github.com/uslugihub/booking-backend/internal/pkg/apperror"
	"github.com/uslugihub/booking-backend/internal/service"
)

// PolicyHandler обслуживает административные настройки: таблицу политик
// отмены и пороги надёжности исполнителей.
type PolicyHandler struct {
	policies    *service.PolicyService
	reliability *service.ReliabilityService
	log         *logrus.Entry
}

func NewPolicyHandler(policies *service.PolicyService, reliability *service.ReliabilityService, log *logrus.Entry) *PolicyHandler {
	return &PolicyHandler{policies: policies, reliability: reliability, log: log}
}

// GetPolicy обрабатывает GET /admin/policies/cancellation:
// действующая версия таблицы.
func (h *PolicyHandler) GetPolicy(c *gin.Context) {
	snapshot, err := h.policies.GetTiers(c.Request.Context())
	if err != nil {
		common.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"policy": snapshot})
}

// UpdatePolicy обрабатывает PUT /admin/policies/cancellation:
// публикует новую версию таблицы. Действующие бронирования продолжают
// рассчитываться по версии, действовавшей на момент заявки.
func (h *PolicyHandler) UpdatePolicy(c *gin.Context) {
	var req dto.UpdatePolicyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondError(c, apperror.Wrap(err, apperror.ErrCodeInvalidArg, "некорректное тело запроса"))
		return
	}

	tiers := make([]models.CancellationPolicyTier, 0, len(req.Tiers))
	for _, t := range req.Tiers {
		tiers = append(tiers, models.CancellationPolicyTier{
			HoursThreshold: t.HoursThreshold,
			RefundPercent:  t.RefundPercent,
		})
	}

	snapshot, err := h.policies.UpdateTiers(c.Request.Context(), tiers)
	if err != nil {
		common.RespondError(c, err)
		return
	}

	h.log.WithField("version", snapshot.Version).Info("опубликована новая версия политики отмены")
	c.JSON(http.StatusOK, gin.H{"policy": snapshot})
}

// GetReliabilityConfig обрабатывает GET /admin/policies/reliability.
func (h *PolicyHandler) GetReliabilityConfig(c *gin.Context) {
	cfg, err := h.policies.GetReliabilityConfig(c.Request.Context())
	if err != nil {
		common.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"config": cfg})
}

// UpdateReliabilityConfig обрабатывает PUT /admin/policies/reliability.
func (h *PolicyHandler) UpdateReliabilityConfig(c *gin.Context) {
	var req dto.UpdateReliabilityConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondError(c, apperror.Wrap(err, apperror.ErrCodeInvalidArg, "некорректное тело запроса"))
		return
	}

	cfg := &models.ReliabilityConfig{
		WarningThreshold:    req.WarningThreshold,
		SuspensionThreshold: req.SuspensionThreshold,
		TimeWindowDays:      req.TimeWindowDays,
	}
	if err := h.policies.UpdateReliabilityConfig(c.Request.Context(), cfg); err != nil {
		common.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"config": cfg})
}

// ListReliabilityEvents обрабатывает GET /admin/freelancers/:id/reliability:
// история отмен исполнителя.
func (h *PolicyHandler) ListReliabilityEvents(c *gin.Context) {
	freelancerID, ok := common.ParseUUIDParam(c, "id")
	if !ok {
		return
	}
	p := common.GetPagination(c)
	events, err := h.reliability.ListEvents(c.Request.Context(), freelancerID, p.Limit, p.Offset)
	if err != nil {
		common.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}
