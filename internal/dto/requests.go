package dto

import "time"

// CreateBookingRequest — заявка клиента на бронирование услуги.
type CreateBookingRequest struct {
	FreelancerID  string    `json:"freelancer_id" binding:"required,uuid"`
	ServiceID     string    `json:"service_id" binding:"required,uuid"`
	StartAt       time.Time `json:"start_at" binding:"required"`
	EndAt         time.Time `json:"end_at" binding:"required"`
	Location      string    `json:"location" binding:"required"`
	BaseAmount    int64     `json:"base_amount" binding:"required,gt=0"`
	MaterialsCost int64     `json:"materials_cost" binding:"gte=0"`
	TravelFee     int64     `json:"travel_fee" binding:"gte=0"`
}

// CancelBookingRequest — отмена или отклонение бронирования.
type CancelBookingRequest struct {
	Reason *string `json:"reason"`
}

// RaiseDisputeRequest — открытие спора по бронированию.
type RaiseDisputeRequest struct {
	Category    string `json:"category" binding:"required"`
	Description string `json:"description" binding:"required"`
}

// ChangeDisputeStatusRequest — перевод спора между new и in_review.
type ChangeDisputeStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// ResolveDisputeRequest — терминальное решение администратора по спору.
type ResolveDisputeRequest struct {
	ResolutionType string  `json:"resolution_type" binding:"required"`
	Amount         *int64  `json:"amount"`
	Notes          *string `json:"notes"`
}

// AddDisputeNoteRequest — комментарий к спору.
type AddDisputeNoteRequest struct {
	Body     string `json:"body" binding:"required"`
	Internal bool   `json:"internal"`
}

// AddDisputeAttachmentRequest — вложение-доказательство к спору.
type AddDisputeAttachmentRequest struct {
	FileRef  string `json:"file_ref" binding:"required"`
	FileName string `json:"file_name" binding:"required"`
}

// PolicyTierRequest — одна ступень таблицы политик отмены.
type PolicyTierRequest struct {
	HoursThreshold int `json:"hours_threshold" binding:"gte=0"`
	RefundPercent  int `json:"refund_percent" binding:"gte=0,lte=100"`
}

// UpdatePolicyRequest — замена таблицы политик отмены новой версией.
type UpdatePolicyRequest struct {
	Tiers []PolicyTierRequest `json:"tiers" binding:"required,min=1,dive"`
}

// UpdateReliabilityConfigRequest — настройка порогов надёжности исполнителей.
type UpdateReliabilityConfigRequest struct {
	WarningThreshold    int `json:"warning_threshold" binding:"required,gt=0"`
	SuspensionThreshold int `json:"suspension_threshold" binding:"required,gt=0"`
	TimeWindowDays      int `json:"time_window_days" binding:"required,gt=0"`
}
