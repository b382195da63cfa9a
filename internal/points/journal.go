// File: internal/points/journal.go
package points

import (
	"context"

	"gorm.io/gorm"

	"kopiclub_backend/internal/common"
)

// EntryKind distinguishes journal entries.
type EntryKind string

const (
	KindAccrual    EntryKind = "accrual"
	KindRedemption EntryKind = "redemption"
)

// Entry is one row of the append-only points journal. The Firestore balance
// remains the source of truth; the journal exists for reporting.
type Entry struct {
	common.BaseModel
	UserID        string    `gorm:"type:varchar(128);not null;index"`
	Kind          EntryKind `gorm:"type:varchar(16);not null"`
	Amount        int64     `gorm:"not null;default:0"` // purchase amount; 0 for redemptions
	PointsDelta   int64     `gorm:"not null"`
	BalanceBefore int64     `gorm:"not null"`
	BalanceAfter  int64     `gorm:"not null"`
}

// TableName specifies the table name for the Entry model.
func (Entry) TableName() string {
	return "points_journal"
}

// Journal defines the interface for recording and reading ledger mutations.
type Journal interface {
	Record(ctx context.Context, entry *Entry) error
	ListByUser(ctx context.Context, userID string, page, pageSize int) ([]Entry, int64, error)
}

type gormJournal struct {
	db *gorm.DB
}

// NewGORMJournal creates a new GORM-backed points journal.
func NewGORMJournal(db *gorm.DB) Journal {
	return &gormJournal{db: db}
}

// AutoMigrate creates or updates the journal schema.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&Entry{})
}

// Record appends a journal entry.
func (j *gormJournal) Record(ctx context.Context, entry *Entry) error {
	return j.db.WithContext(ctx).Create(entry).Error
}

// ListByUser returns a page of the user's journal, newest first, along with
// the total entry count.
func (j *gormJournal) ListByUser(ctx context.Context, userID string, page, pageSize int) ([]Entry, int64, error) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}

	var total int64
	if err := j.db.WithContext(ctx).Model(&Entry{}).Where("user_id = ?", userID).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var entries []Entry
	err := j.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&entries).Error
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}
