package domain

import "time"

// Profile is the read-only identity record of an app user, looked up to
// resolve the other participant of a call.
type Profile struct {
	ID          string    `json:"id" gorm:"column:id;primaryKey"`
	Username    string    `json:"username" gorm:"column:username"`
	DisplayName string    `json:"display_name" gorm:"column:display_name"`
	AvatarURL   string    `json:"avatar_url" gorm:"column:avatar_url"`
	CreatedAt   time.Time `json:"created_at" gorm:"column:created_at"`
}

func (Profile) TableName() string {
	return "profiles"
}

// Label returns the best human-readable name for the profile.
func (p *Profile) Label() string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	return p.Username
}
