package repository

import (
	"errors"
	"time"

	conndomain "mailguard-backend/internal/connection/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// connectionRepository implements ConnectionRepository interface
type connectionRepository struct {
	db *gorm.DB
}

// NewConnectionRepository creates a new instance of connectionRepository
func NewConnectionRepository(db *gorm.DB) ConnectionRepository {
	return &connectionRepository{
		db: db,
	}
}

func (r *connectionRepository) Upsert(conn *conndomain.Connection) (*conndomain.Connection, error) {
	var existing conndomain.Connection
	err := r.db.Where("user_id = ? AND mailbox_email = ?", conn.UserID, conn.MailboxEmail).First(&existing).Error

	now := time.Now()
	if errors.Is(err, gorm.ErrRecordNotFound) {
		conn.ID = uuid.New().String()
		conn.Active = true
		conn.CreatedAt = now
		conn.UpdatedAt = now
		if err := r.db.Create(conn).Error; err != nil {
			return nil, err
		}
		return conn, nil
	}
	if err != nil {
		return nil, err
	}

	// Re-connect: keep the row, refresh credentials and settings.
	existing.Provider = conn.Provider
	existing.AccessToken = conn.AccessToken
	existing.RefreshToken = conn.RefreshToken
	existing.TokenExpiry = conn.TokenExpiry
	if conn.WebhookURL != "" {
		existing.WebhookURL = conn.WebhookURL
	}
	if len(conn.LabelMapping) > 0 {
		existing.LabelMapping = conn.LabelMapping
	}
	existing.Active = true
	existing.LastError = ""
	existing.UpdatedAt = now
	if err := r.db.Save(&existing).Error; err != nil {
		return nil, err
	}
	return &existing, nil
}

func (r *connectionRepository) Update(conn *conndomain.Connection) error {
	conn.UpdatedAt = time.Now()
	return r.db.Save(conn).Error
}

func (r *connectionRepository) FindByID(id string) (*conndomain.Connection, error) {
	var conn conndomain.Connection
	err := r.db.Where("id = ?", id).First(&conn).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &conn, nil
}

func (r *connectionRepository) FindByUserID(userID string) ([]*conndomain.Connection, error) {
	var conns []*conndomain.Connection
	err := r.db.Where("user_id = ?", userID).Find(&conns).Error
	if err != nil {
		return nil, err
	}
	return conns, nil
}

func (r *connectionRepository) FindActive() ([]*conndomain.Connection, error) {
	var conns []*conndomain.Connection
	err := r.db.Where("active = ?", true).Find(&conns).Error
	if err != nil {
		return nil, err
	}
	return conns, nil
}

func (r *connectionRepository) FindActiveByMailbox(mailboxEmail string) (*conndomain.Connection, error) {
	var conn conndomain.Connection
	err := r.db.Where("mailbox_email = ? AND active = ?", mailboxEmail, true).First(&conn).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &conn, nil
}

func (r *connectionRepository) Deactivate(id, reason string) error {
	return r.db.Model(&conndomain.Connection{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"active":     false,
			"last_error": reason,
			"updated_at": time.Now(),
		}).Error
}
