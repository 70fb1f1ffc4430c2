package models

import (
	"time"

	"github.com/uptrace/bun"
)

// LockModel represents one row of the distributed lock table. The primary
// key is the lock key itself, not a generated ID: acquisition is a single
// atomic upsert keyed on lock_key, never a read-then-write.
type LockModel struct {
	bun.BaseModel `bun:"table:locks,alias:lk"`

	LockKey   string    `bun:"lock_key,pk" json:"lock_key" validate:"required"`
	Owner     string    `bun:"owner,notnull" json:"owner" validate:"required"`
	LockType  string    `bun:"lock_type,notnull,default:'resource'" json:"lock_type" validate:"required,oneof=workflow node resource schedule"`
	LockData  JSONBMap  `bun:"lock_data,type:jsonb,default:'{}'" json:"lock_data,omitempty"`
	ExpiresAt time.Time `bun:"expires_at,notnull" json:"expires_at"`
	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt time.Time `bun:"updated_at,notnull,default:current_timestamp" json:"updated_at"`
}

// TableName returns the table name for LockModel.
func (LockModel) TableName() string {
	return "locks"
}

// BeforeInsert hook to set timestamps.
func (l *LockModel) BeforeInsert(ctx interface{}) error {
	now := time.Now()
	l.CreatedAt = now
	l.UpdatedAt = now
	if l.LockData == nil {
		l.LockData = make(JSONBMap)
	}
	return nil
}

// BeforeUpdate hook to update timestamp.
func (l *LockModel) BeforeUpdate(ctx interface{}) error {
	l.UpdatedAt = time.Now()
	return nil
}

// IsExpired reports whether the lock is no longer held as of now.
func (l *LockModel) IsExpired() bool {
	return l.ExpiresAt.Before(time.Now())
}

// HeldBy reports whether owner currently holds an unexpired lock.
func (l *LockModel) HeldBy(owner string) bool {
	return l.Owner == owner && !l.IsExpired()
}
