package organization

import "time"

type Status string

var (
	Active    Status = "active"
	Suspended Status = "suspended"
	Archived  Status = "archived"
)

func (s Status) String() string {
	switch s {
	case Active, Suspended, Archived:
		return string(s)
	default:
		return ""
	}
}

type Organization struct {
	ID          string    `gorm:"column:id;primaryKey"`
	CreatedAt   time.Time `gorm:"column:created_at"`
	UpdatedAt   time.Time `gorm:"column:updated_at"`
	Name        string    `gorm:"column:name"`
	Slug        string    `gorm:"column:slug;uniqueIndex"`
	CountryCode string    `gorm:"column:country_code"`
	Timezone    string    `gorm:"column:timezone"`
	Status      Status    `gorm:"column:status"`
}

// Member ties a user to an organization with a role. The access token is the
// seam to the external identity collaborator: whatever issues sessions writes
// the opaque token here, and the role gates resolve against it.
type Member struct {
	ID             string    `gorm:"column:id;primaryKey"`
	OrganizationID string    `gorm:"column:organization_id;index"`
	UserID         string    `gorm:"column:user_id;index"`
	Name           string    `gorm:"column:name"`
	Role           string    `gorm:"column:role"`
	Phone          string    `gorm:"column:phone"`
	Email          string    `gorm:"column:email"`
	ReceiveAlerts  bool      `gorm:"column:receive_alerts;default:false"`
	AccessToken    string    `gorm:"column:access_token;index"`
	CreatedAt      time.Time `gorm:"column:created_at"`
	UpdatedAt      time.Time `gorm:"column:updated_at"`
}
