package repository

import (
	"time"

	emaildomain "mailguard-backend/internal/email/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// syncRunRepository implements SyncRunRepository interface
type syncRunRepository struct {
	db *gorm.DB
}

// NewSyncRunRepository creates a new instance of syncRunRepository
func NewSyncRunRepository(db *gorm.DB) SyncRunRepository {
	return &syncRunRepository{
		db: db,
	}
}

func (r *syncRunRepository) Create(run *emaildomain.SyncRun) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	run.CreatedAt = time.Now()
	return r.db.Create(run).Error
}

func (r *syncRunRepository) Update(run *emaildomain.SyncRun) error {
	return r.db.Save(run).Error
}

func (r *syncRunRepository) FindByConnection(connectionID string, limit int) ([]*emaildomain.SyncRun, error) {
	if limit <= 0 {
		limit = 50
	}
	var runs []*emaildomain.SyncRun
	err := r.db.Where("connection_id = ?", connectionID).
		Order("started_at DESC").
		Limit(limit).
		Find(&runs).Error
	if err != nil {
		return nil, err
	}
	return runs, nil
}
