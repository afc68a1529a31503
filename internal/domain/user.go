package domain

import "time"

type User struct {
	ID           UserID        `gorm:"type:uuid;primaryKey" db:"id" json:"id"`
	Username     string        `gorm:"type:text;not null;uniqueIndex:ux_users_username" db:"username" json:"username"`
	Email        string        `gorm:"type:text;not null;uniqueIndex:ux_users_email" db:"email" json:"email"`
	FirstName    string        `gorm:"type:text" db:"first_name" json:"firstName"`
	LastName     string        `gorm:"type:text" db:"last_name" json:"lastName"`
	Role         Role          `gorm:"type:text;not null;default:staff" db:"role" json:"role"`
	Status       UserStatus    `gorm:"type:text;not null;default:active" db:"status" json:"status"`
	DepartmentID *DepartmentID `gorm:"type:uuid;index" db:"department_id" json:"departmentId,omitempty"`
	IsOnline     bool          `gorm:"not null;default:false" db:"is_online" json:"isOnline"`
	LastSeen     *time.Time    `db:"last_seen" json:"lastSeen,omitempty"`
	CreatedAt    time.Time     `gorm:"not null" db:"created_at" json:"createdAt"`
	UpdatedAt    time.Time     `gorm:"not null" db:"updated_at" json:"updatedAt"`
}

func (User) TableName() string { return "users" }

func (u *User) Active() bool { return u.Status == UserActive }

type Department struct {
	ID        DepartmentID `gorm:"type:uuid;primaryKey" db:"id" json:"id"`
	Name      string       `gorm:"type:text;not null;uniqueIndex:ux_departments_name" db:"name" json:"name"`
	CreatedAt time.Time    `gorm:"not null" db:"created_at" json:"createdAt"`
}

func (Department) TableName() string { return "departments" }
