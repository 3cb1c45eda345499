package shared

import "time"

// AuditedRecord carries identity, stamps, optimistic version and soft-delete
// state shared by roles, payments and expenses.
type AuditedRecord struct {
	ID        int64      `json:"id"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	CreatedBy string     `json:"createdBy,omitempty"`
	UpdatedBy string     `json:"updatedBy,omitempty"`
	Version   int64      `json:"version"`
	Deleted   bool       `json:"deleted"`
	DeletedAt *time.Time `json:"deletedAt,omitempty"`
	DeletedBy string     `json:"deletedBy,omitempty"`
}

// Stamp initialises creation metadata.
func (r *AuditedRecord) Stamp(actor string, now time.Time) {
	r.CreatedAt = now
	r.UpdatedAt = now
	r.CreatedBy = actor
	r.UpdatedBy = actor
}

// Touch records a modification by actor.
func (r *AuditedRecord) Touch(actor string, now time.Time) {
	r.UpdatedAt = now
	r.UpdatedBy = actor
}

// MarkDeleted soft deletes the record.
func (r *AuditedRecord) MarkDeleted(actor string, now time.Time) {
	r.Deleted = true
	r.DeletedAt = &now
	r.DeletedBy = actor
	r.Touch(actor, now)
}

// Restore clears soft-delete markers.
func (r *AuditedRecord) Restore() {
	r.Deleted = false
	r.DeletedAt = nil
	r.DeletedBy = ""
}

// Live reports whether the record has not been soft deleted.
func (r AuditedRecord) Live() bool {
	return !r.Deleted
}
