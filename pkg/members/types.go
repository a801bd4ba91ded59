package members

import (
	"time"

	"github.com/fitstack/fitstack/pkg/tenant"
)

// Member is a gym customer record owned by one organization. Status follows
// the shared record lifecycle: deleted members keep their identifiers
// reserved, archived members release them.
type Member struct {
	ID        int64               `json:"id"`
	OrgID     int64               `json:"org_id"`
	Email     string              `json:"email"`
	Phone     string              `json:"phone,omitempty"`
	FullName  string              `json:"full_name"`
	Status    tenant.RecordStatus `json:"status"`
	JoinedAt  time.Time           `json:"joined_at"`
	Notes     string              `json:"notes,omitempty"`
	CreatedAt time.Time           `json:"created_at"`
	UpdatedAt time.Time           `json:"updated_at"`
	DeletedAt *time.Time          `json:"deleted_at,omitempty"`
}

// RegisterRequest carries the fields accepted at registration
type RegisterRequest struct {
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	FullName string `json:"full_name"`
	Notes    string `json:"notes"`
}
