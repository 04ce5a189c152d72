package reverts

import "time"

type Status string

const (
	StatusPending  Status = "Pending"
	StatusApproved Status = "Approved"
	StatusRejected Status = "Rejected"
)

// Request pide volver los códigos de un episodio al snapshot "old" de una
// entrada del audit log. Requiere un segundo revisor (dual control).
// Una vez resuelta es inmutable.
type Request struct {
	ID string

	EpisodeID string
	AuditID   string

	RequestedBy string
	RequestedAt time.Time
	Notes       string

	Status Status

	ResolvedBy string // approver o rejecter; siempre distinto de RequestedBy
	ResolvedAt *time.Time
}
