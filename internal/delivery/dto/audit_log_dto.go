package dto

import (
	"time"

	"go-clinic-queue/internal/domain/entity"
)

// Request DTOs

type AuditLogQuery struct {
	Action string `validate:"omitempty,max=100"`
	UserID string `validate:"omitempty,uuid"`
	Page   int    `validate:"omitempty,gte=1"`
	Limit  int    `validate:"omitempty,gte=1,lte=200"`
}

// Response DTOs

type AuditLogResponse struct {
	ID        int64         `json:"id"`
	User      *UserResponse `json:"user,omitempty"`
	Action    string        `json:"action"`
	Metadata  entity.JSON   `json:"metadata"`
	CreatedAt time.Time     `json:"created_at"`
}

type AuditLogListResponse struct {
	Logs  []AuditLogResponse `json:"logs"`
	Total int64              `json:"total"`
	Page  int                `json:"page"`
	Limit int                `json:"limit"`
}
