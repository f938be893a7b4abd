package models

import (
	"time"

	"github.com/google/uuid"
)

// InvitationStatus represents the lifecycle state of an invitation.
// The only transition is pending -> accepted; expiry is evaluated at
// accept time rather than swept in the background.
type InvitationStatus string

const (
	InvitationStatusPending  InvitationStatus = "pending"
	InvitationStatusAccepted InvitationStatus = "accepted"
)

// TenantInvitation is a pending invite to join a tenant
type TenantInvitation struct {
	ID          uuid.UUID        `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	TenantID    uuid.UUID        `json:"tenant_id" gorm:"type:uuid;not null;index"`
	Email       string           `json:"email" gorm:"not null;index"`
	Role        TenantRole       `json:"role" gorm:"type:varchar(20);not null"`
	Permissions []string         `json:"permissions" gorm:"serializer:json;type:jsonb"`
	Token       string           `json:"token" gorm:"uniqueIndex;not null"`
	InvitedBy   string           `json:"invited_by" gorm:"type:varchar(255);not null"`
	Status      InvitationStatus `json:"status" gorm:"type:varchar(20);not null;default:'pending';index"`
	ExpiresAt   time.Time        `json:"expires_at" gorm:"not null"`
	AcceptedAt  *time.Time       `json:"accepted_at,omitempty"`
	AcceptedBy  string           `json:"accepted_by,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`

	Tenant *Tenant `json:"tenant,omitempty" gorm:"foreignKey:TenantID"`
}

// TableName returns the table name for the TenantInvitation model
func (TenantInvitation) TableName() string {
	return "tenant_invitations"
}

// IsExpired reports whether the invitation can no longer be accepted
func (i *TenantInvitation) IsExpired() bool {
	return time.Now().After(i.ExpiresAt)
}

// Accept marks the invitation accepted by the given user
func (i *TenantInvitation) Accept(userID string) {
	now := time.Now()
	i.Status = InvitationStatusAccepted
	i.AcceptedAt = &now
	i.AcceptedBy = userID
}
