package models

import (
	"time"

	"github.com/google/uuid"
)

// DomainType classifies a custom domain record
type DomainType string

const (
	DomainTypePrimary  DomainType = "primary"
	DomainTypeAlias    DomainType = "alias"
	DomainTypeRedirect DomainType = "redirect"
)

// DNSRecord is one expected DNS entry for domain ownership verification
type DNSRecord struct {
	Type  string `json:"type"` // CNAME or TXT
	Name  string `json:"name"`
	Value string `json:"value"`
}

// TenantDomain is a custom domain attached to a tenant. It starts
// unverified; IsVerified and SSLEnabled flip only after the stored DNS
// records are confirmed against live DNS.
type TenantDomain struct {
	ID           uuid.UUID   `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	TenantID     uuid.UUID   `json:"tenant_id" gorm:"type:uuid;not null;index"`
	Domain       string      `json:"domain" gorm:"uniqueIndex;not null"`
	Type         DomainType  `json:"type" gorm:"type:varchar(20);not null;default:'primary'"`
	IsVerified   bool        `json:"is_verified" gorm:"default:false"`
	VerifiedAt   *time.Time  `json:"verified_at,omitempty"`
	SSLEnabled   bool        `json:"ssl_enabled" gorm:"default:false"`
	SSLExpiresAt *time.Time  `json:"ssl_expires_at,omitempty"`
	DNSRecords   []DNSRecord `json:"dns_records" gorm:"serializer:json;type:jsonb"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`

	Tenant *Tenant `json:"tenant,omitempty" gorm:"foreignKey:TenantID"`
}

// TableName returns the table name for the TenantDomain model
func (TenantDomain) TableName() string {
	return "tenant_domains"
}
