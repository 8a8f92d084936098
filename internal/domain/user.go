package domain

// User roles
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User Model
type User struct {
	ID       uint   `gorm:"primaryKey" json:"id"`                        // Primary key
	Email    string `gorm:"size:191;uniqueIndex;not null" json:"email"` // Unique login email
	FullName string `gorm:"size:191;not null" json:"full_name"`         // Display name
	Password string `gorm:"not null" json:"-"`                          // Hashed password
	Role     string `gorm:"size:16;default:user" json:"role"`           // Role: user or admin
}

// UserSummary is the public identity carried in events and presence entries
type UserSummary struct {
	ID    uint   `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

// Summary returns the public view of u
func (u User) Summary() UserSummary {
	return UserSummary{ID: u.ID, Name: u.FullName, Email: u.Email}
}
