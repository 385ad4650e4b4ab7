package models

import "time"

// Shipment statuses accepted by the API.
const (
	StatusFinalRelease   = "final_release"
	StatusPartialRelease = "partial_release"
	StatusRejected       = "rejected"
	StatusProdUpdated    = "prod_updated"
)

// ValidStatuses lists every accepted shipment status.
var ValidStatuses = []string{StatusFinalRelease, StatusPartialRelease, StatusRejected, StatusProdUpdated}

type User struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	Username       string    `gorm:"size:50;uniqueIndex;not null" json:"username"`
	Email          string    `gorm:"size:100;uniqueIndex;not null" json:"email"`
	HashedPassword string    `gorm:"size:255;not null" json:"-"`
	Role           string    `gorm:"size:20;default:read" json:"role"` // admin, write, read
	IsActive       string    `gorm:"size:10;default:active" json:"is_active"`
	CreatedAt      time.Time `json:"created_at"`
}

// Shipment is a versioned record. Every mutation must go through the store's
// compare-and-swap path; Version increments by exactly 1 per committed write
// and is never reset.
type Shipment struct {
	ID          uint   `gorm:"primaryKey" json:"id"`
	JobNumber   string `gorm:"size:30;uniqueIndex;not null" json:"job_number"`
	JobName     string `gorm:"size:200;not null" json:"job_name"`
	Week        string `gorm:"size:20" json:"week"`
	Description string `gorm:"type:text" json:"description"`

	Status string `gorm:"size:20;default:partial_release" json:"status"`

	// Date fields are stored as entered, MM/DD/YY or MM/DD/YYYY, empty allowed.
	QCRelease string `gorm:"size:20" json:"qc_release"`
	QCNotes   string `gorm:"type:text" json:"qc_notes"`
	Created   string `gorm:"size:20" json:"created"`
	ShipPlan  string `gorm:"size:20" json:"ship_plan"`
	Shipped   string `gorm:"size:20" json:"shipped"`

	InvoiceNumber string `gorm:"size:50" json:"invoice_number"`
	ShippingNotes string `gorm:"type:text" json:"shipping_notes"`

	CreatedBy      uint      `json:"created_by"`
	LastModifiedBy uint      `json:"last_modified_by"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`

	Version int `gorm:"not null;default:1" json:"version"`
}

// AuditLog rows are append-only: written inside the same transaction as the
// shipment mutation they document, never updated or deleted afterwards.
type AuditLog struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `json:"user_id"`
	Action    string    `gorm:"size:20" json:"action"` // create, update, delete
	TableName string    `gorm:"size:50" json:"table_name"`
	RecordID  uint      `json:"record_id"`
	Changes   string    `gorm:"type:text" json:"changes"` // JSON payload
	Timestamp time.Time `gorm:"autoCreateTime" json:"timestamp"`
}

// Field returns the value of a business field by its JSON name. Unknown
// fields return the empty string.
func (s *Shipment) Field(name string) string {
	switch name {
	case "job_number":
		return s.JobNumber
	case "job_name":
		return s.JobName
	case "week":
		return s.Week
	case "description":
		return s.Description
	case "status":
		return s.Status
	case "qc_release":
		return s.QCRelease
	case "qc_notes":
		return s.QCNotes
	case "created":
		return s.Created
	case "ship_plan":
		return s.ShipPlan
	case "shipped":
		return s.Shipped
	case "invoice_number":
		return s.InvoiceNumber
	case "shipping_notes":
		return s.ShippingNotes
	}
	return ""
}

// Snapshot returns the business fields of the record, used for delete
// backups in the audit trail.
func (s *Shipment) Snapshot() map[string]string {
	return map[string]string{
		"job_number":     s.JobNumber,
		"job_name":       s.JobName,
		"week":           s.Week,
		"description":    s.Description,
		"status":         s.Status,
		"qc_release":     s.QCRelease,
		"qc_notes":       s.QCNotes,
		"created":        s.Created,
		"ship_plan":      s.ShipPlan,
		"shipped":        s.Shipped,
		"invoice_number": s.InvoiceNumber,
		"shipping_notes": s.ShippingNotes,
	}
}
