package store

import "time"

// GORM models used for persistence.
type UserModel struct {
	ID           int64     `gorm:"primaryKey"`
	Owner        string    `gorm:"not null;uniqueIndex:idx_users_owner_user"`
	UserID       string    `gorm:"not null;uniqueIndex:idx_users_owner_user"`
	LastModified time.Time `gorm:"not null"`
}

type TurnModel struct {
	ID      int64  `gorm:"primaryKey"`
	Owner   string `gorm:"not null;uniqueIndex:idx_turns_owner_user_idx"`
	UserID  string `gorm:"not null;uniqueIndex:idx_turns_owner_user_idx"`
	Idx     int    `gorm:"not null;uniqueIndex:idx_turns_owner_user_idx"`
	Name    string `gorm:"not null"`
	Message string `gorm:"not null"`
}
