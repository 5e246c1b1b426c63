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

// DisputeHandler обслуживает споры по бронированиям.
type DisputeHandler struct {
	disputes *service.DisputeService
	log      *logrus.Entry
}

func NewDisputeHandler(disputes *service.DisputeService, log *logrus.Entry) *DisputeHandler {
	return &DisputeHandler{disputes: disputes, log: log}
}

// Raise обрабатывает POST /bookings/:id/disputes: сторона бронирования
// открывает спор, escrow замораживается.
func (h *DisputeHandler) Raise(c *gin.Context) {
	bookingID, ok := common.ParseUUIDParam(c, "id")
	if !ok {
		return
	}
	actorID, ok := common.CurrentUserID(c)
	if !ok {
		common.RespondError(c, apperror.ErrUnauthorized)
		return
	}

	var req dto.RaiseDisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondError(c, apperror.Wrap(err, apperror.ErrCodeInvalidArg, "некорректное тело запроса"))
		return
	}

	dispute, err := h.disputes.Raise(c.Request.Context(), bookingID, actorID, req.Category, req.Description)
	if err != nil {
		common.RespondError(c, err)
		return
	}

	h.log.WithFields(logrus.Fields{
		"dispute_id": dispute.ID,
		"booking_id": bookingID,
	}).Info("открыт спор")

	c.JSON(http.StatusCreated, gin.H{"dispute": dispute})
}

// Get обрабатывает GET /disputes/:id: спор с комментариями, вложениями
// и историей бронирования. Внутренние комментарии видят только администраторы.
func (h *DisputeHandler) Get(c *gin.Context) {
	disputeID, ok := common.ParseUUIDParam(c, "id")
	if !ok {
		return
	}
	actorID, ok := common.CurrentUserID(c)
	if !ok {
		common.RespondError(c, apperror.ErrUnauthorized)
		return
	}

	isAdmin := common.CurrentUserRole(c) == models.RoleAdmin
	timeline, err := h.disputes.GetWithTimeline(c.Request.Context(), disputeID, isAdmin)
	if err != nil {
		common.RespondError(c, err)
		return
	}

	if !isAdmin && timeline.Dispute.InitiatorID != actorID {
		booking, err := h.disputes.BookingByDispute(c.Request.Context(), timeline.Dispute)
		if err != nil {
			common.RespondError(c, err)
			return
		}
		if !booking.IsParty(actorID) {
			common.RespondError(c, apperror.ErrForbidden)
			return
		}
	}

	c.JSON(http.StatusOK, timeline)
}

// List обрабатывает GET /disputes (только администратор): все споры,
// опционально по статусу.
func (h *DisputeHandler) List(c *gin.Context) {
	p := common.GetPagination(c)
	disputes, err := h.disputes.List(c.Request.Context(), c.Query("status"), p.Limit, p.Offset)
	if err != nil {
		common.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"disputes": disputes})
}

// ChangeStatus обрабатывает PATCH /disputes/:id/status (только администратор).
func (h *DisputeHandler) ChangeStatus(c *gin.Context) {
	disputeID, ok := common.ParseUUIDParam(c, "id")
	if !ok {
		return
	}
	adminID, ok := common.CurrentUserID(c)
	if !ok {
		common.RespondError(c, apperror.ErrUnauthorized)
		return
	}

	var req dto.ChangeDisputeStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondError(c, apperror.Wrap(err, apperror.ErrCodeInvalidArg, "некорректное тело запроса"))
		return
	}

	dispute, err := h.disputes.ChangeStatus(c.Request.Context(), disputeID, req.Status, adminID)
	if err != nil {
		common.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"dispute": dispute})
}

// Resolve обрабатывает POST /disputes/:id/resolve (только администратор).
func (h *DisputeHandler) Resolve(c *gin.Context) {
	disputeID, ok := common.ParseUUIDParam(c, "id")
	if !ok {
		return
	}
	adminID, ok := common.CurrentUserID(c)
	if !ok {
		common.RespondError(c, apperror.ErrUnauthorized)
		return
	}

	var req dto.ResolveDisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondError(c, apperror.Wrap(err, apperror.ErrCodeInvalidArg, "некорректное тело запроса"))
		return
	}

	dispute, err := h.disputes.Resolve(c.Request.Context(), service.ResolveInput{
		DisputeID:      disputeID,
		AdminID:        adminID,
		ResolutionType: req.ResolutionType,
		Amount:         req.Amount,
		Notes:          req.Notes,
	})
	if err != nil {
		common.RespondError(c, err)
		return
	}

	h.log.WithFields(logrus.Fields{
		"dispute_id": disputeID,
		"resolution": req.ResolutionType,
	}).Info("спор разрешён")

	c.JSON(http.StatusOK, gin.H{"dispute": dispute})
}

// AddNote обрабатывает POST /disputes/:id/notes.
// Внутренние комментарии доступны только администраторам.
func (h *DisputeHandler) AddNote(c *gin.Context) {
	disputeID, ok := common.ParseUUIDParam(c, "id")
	if !ok {
		return
	}
	actorID, ok := common.CurrentUserID(c)
	if !ok {
		common.RespondError(c, apperror.ErrUnauthorized)
		return
	}

	var req dto.AddDisputeNoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondError(c, apperror.Wrap(err, apperror.ErrCodeInvalidArg, "некорректное тело запроса"))
		return
	}

	if req.Internal && common.CurrentUserRole(c) != models.RoleAdmin {
		common.RespondError(c, apperror.ErrForbidden)
		return
	}

	note, err := h.disputes.AddNote(c.Request.Context(), disputeID, actorID, req.Body, req.Internal)
	if err != nil {
		common.RespondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"note": note})
}

// AddAttachment обрабатывает POST /disputes/:id/attachments.
func (h *DisputeHandler) AddAttachment(c *gin.Context) {
	disputeID, ok := common.ParseUUIDParam(c, "id")
	if !ok {
		return
	}
	actorID, ok := common.CurrentUserID(c)
	if !ok {
		common.RespondError(c, apperror.ErrUnauthorized)
		return
	}

	var req dto.AddDisputeAttachmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondError(c, apperror.Wrap(err, apperror.ErrCodeInvalidArg, "некорректное тело запроса"))
		return
	}

	attachment, err := h.disputes.AddAttachment(c.Request.Context(), disputeID, actorID, req.FileRef, req.FileName)
	if err != nil {
		common.RespondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"attachment": attachment})
}
