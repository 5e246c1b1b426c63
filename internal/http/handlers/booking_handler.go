package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/uslugihub/booking-backend/internal/dto"
	"github.com/uslugihub/booking-backend/internal/http/handlers/common"
	"github.com/uslugihub/booking-backend/internal/models"
	"github.com/uslugihub/booking-backend/internal/pkg/apperror"
	"github.com/uslugihub/booking-backend/internal/service"
)

// BookingHandler обслуживает жизненный цикл бронирований.
type BookingHandler struct {
	bookings *service.BookingService
	escrow   *service.EscrowService
	log      *logrus.Entry
}

func NewBookingHandler(bookings *service.BookingService, escrow *service.EscrowService, log *logrus.Entry) *BookingHandler {
	return &BookingHandler{bookings: bookings, escrow: escrow, log: log}
}

// Create обрабатывает POST /bookings: клиент создаёт заявку,
// средства захватываются в escrow сразу.
func (h *BookingHandler) Create(c *gin.Context) {
	clientID, ok := common.CurrentUserID(c)
	if !ok {
		common.RespondError(c, apperror.ErrUnauthorized)
		return
	}

	var req dto.CreateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondError(c, apperror.Wrap(err, apperror.ErrCodeInvalidArg, "некорректное тело запроса"))
		return
	}

	freelancerID, err := uuid.Parse(req.FreelancerID)
	if err != nil {
		common.RespondError(c, apperror.New(apperror.ErrCodeInvalidArg, "некорректный freelancer_id"))
		return
	}
	serviceID, err := uuid.Parse(req.ServiceID)
	if err != nil {
		common.RespondError(c, apperror.New(apperror.ErrCodeInvalidArg, "некорректный service_id"))
		return
	}

	booking, escrow, err := h.bookings.Request(c.Request.Context(), service.RequestBookingInput{
		ClientID:      clientID,
		FreelancerID:  freelancerID,
		ServiceID:     serviceID,
		StartAt:       req.StartAt,
		EndAt:         req.EndAt,
		Location:      req.Location,
		BaseAmount:    req.BaseAmount,
		MaterialsCost: req.MaterialsCost,
		TravelFee:     req.TravelFee,
	})
	if err != nil {
		common.RespondError(c, err)
		return
	}

	h.log.WithFields(logrus.Fields{
		"booking_id": booking.ID,
		"client_id":  clientID,
		"amount":     booking.TotalAmount,
	}).Info("создано бронирование")

	c.JSON(http.StatusCreated, gin.H{"booking": booking, "escrow": escrow})
}

// Accept обрабатывает POST /bookings/:id/accept (только исполнитель).
func (h *BookingHandler) Accept(c *gin.Context) {
	h.transition(c, func(bookingID, actorID uuid.UUID) (*models.Booking, error) {
		return h.bookings.Accept(c.Request.Context(), bookingID, actorID)
	})
}

// Decline обрабатывает POST /bookings/:id/decline (только исполнитель).
func (h *BookingHandler) Decline(c *gin.Context) {
	var req dto.CancelBookingRequest
	_ = c.ShouldBindJSON(&req)

	h.transition(c, func(bookingID, actorID uuid.UUID) (*models.Booking, error) {
		return h.bookings.Decline(c.Request.Context(), bookingID, actorID, req.Reason)
	})
}

// Cancel обрабатывает POST /bookings/:id/cancel. Финансовый эффект
// зависит от того, какая сторона отменяет.
func (h *BookingHandler) Cancel(c *gin.Context) {
	bookingID, ok := common.ParseUUIDParam(c, "id")
	if !ok {
		return
	}
	actorID, ok := common.CurrentUserID(c)
	if !ok {
		common.RespondError(c, apperror.ErrUnauthorized)
		return
	}

	var req dto.CancelBookingRequest
	_ = c.ShouldBindJSON(&req)

	booking, err := h.bookings.GetByID(c.Request.Context(), bookingID)
	if err != nil {
		common.RespondError(c, err)
		return
	}

	switch actorID {
	case booking.ClientID:
		booking, err = h.bookings.ClientCancel(c.Request.Context(), bookingID, actorID, req.Reason)
	case booking.FreelancerID:
		booking, err = h.bookings.FreelancerCancel(c.Request.Context(), bookingID, actorID, req.Reason)
	default:
		err = apperror.ErrForbidden
	}
	if err != nil {
		common.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"booking": booking})
}

// Complete обрабатывает POST /bookings/:id/complete.
func (h *BookingHandler) Complete(c *gin.Context) {
	h.transition(c, func(bookingID, actorID uuid.UUID) (*models.Booking, error) {
		return h.bookings.Complete(c.Request.Context(), bookingID, actorID)
	})
}

// Get обрабатывает GET /bookings/:id: бронирование, escrow
// и история изменений.
func (h *BookingHandler) Get(c *gin.Context) {
	bookingID, ok := common.ParseUUIDParam(c, "id")
	if !ok {
		return
	}
	actorID, ok := common.CurrentUserID(c)
	if !ok {
		common.RespondError(c, apperror.ErrUnauthorized)
		return
	}

	p := common.GetPagination(c)
	booking, trail, err := h.bookings.GetWithAudit(c.Request.Context(), bookingID, p.Limit, p.Offset)
	if err != nil {
		common.RespondError(c, err)
		return
	}

	if !booking.IsParty(actorID) && common.CurrentUserRole(c) != models.RoleAdmin {
		common.RespondError(c, apperror.ErrForbidden)
		return
	}

	escrow, err := h.escrow.GetByBookingID(c.Request.Context(), bookingID)
	if err != nil && !apperror.IsNotFound(err) {
		common.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"booking": booking, "escrow": escrow, "audit": trail})
}

// List обрабатывает GET /bookings: бронирования текущего пользователя,
// опционально отфильтрованные по статусу.
func (h *BookingHandler) List(c *gin.Context) {
	actorID, ok := common.CurrentUserID(c)
	if !ok {
		common.RespondError(c, apperror.ErrUnauthorized)
		return
	}

	p := common.GetPagination(c)
	bookings, err := h.bookings.ListByParty(c.Request.Context(), actorID, c.Query("status"), p.Limit, p.Offset)
	if err != nil {
		common.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"bookings": bookings})
}

// Movements обрабатывает GET /bookings/:id/movements: история движений
// средств по escrow бронирования.
func (h *BookingHandler) Movements(c *gin.Context) {
	bookingID, ok := common.ParseUUIDParam(c, "id")
	if !ok {
		return
	}
	actorID, ok := common.CurrentUserID(c)
	if !ok {
		common.RespondError(c, apperror.ErrUnauthorized)
		return
	}

	booking, err := h.bookings.GetByID(c.Request.Context(), bookingID)
	if err != nil {
		common.RespondError(c, err)
		return
	}
	if !booking.IsParty(actorID) && common.CurrentUserRole(c) != models.RoleAdmin {
		common.RespondError(c, apperror.ErrForbidden)
		return
	}

	escrow, err := h.escrow.GetByBookingID(c.Request.Context(), bookingID)
	if err != nil {
		common.RespondError(c, err)
		return
	}
	movements, err := h.escrow.ListMovements(c.Request.Context(), escrow.ID)
	if err != nil {
		common.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"escrow": escrow, "movements": movements})
}

func (h *BookingHandler) transition(c *gin.Context, fn func(bookingID, actorID uuid.UUID) (*models.Booking, error)) {
	bookingID, ok := common.ParseUUIDParam(c, "id")
	if !ok {
		return
	}
	actorID, ok := common.CurrentUserID(c)
	if !ok {
		common.RespondError(c, apperror.ErrUnauthorized)
		return
	}

	booking, err := fn(bookingID, actorID)
	if err != nil {
		common.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"booking": booking})
}
