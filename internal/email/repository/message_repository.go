package repository

import (
	"errors"
	"time"

	emaildomain "mailguard-backend/internal/email/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// messageRepository implements MessageRepository interface
type messageRepository struct {
	db *gorm.DB
}

// NewMessageRepository creates a new instance of messageRepository
func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &messageRepository{
		db: db,
	}
}

func (r *messageRepository) Insert(msg *emaildomain.Message) (bool, error) {
	now := time.Now()
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.Classification == "" {
		msg.Classification = emaildomain.ClassificationPending
	}
	if msg.Status == "" {
		msg.Status = emaildomain.StatusPending
	}
	msg.CreatedAt = now
	msg.UpdatedAt = now

	err := r.db.Create(msg).Error
	if err != nil {
		// The uniqueness constraint doubles as the ingestion dedup guard.
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (r *messageRepository) Update(msg *emaildomain.Message) error {
	msg.UpdatedAt = time.Now()
	return r.db.Save(msg).Error
}

func (r *messageRepository) FindByProviderID(userID, providerMessageID string) (*emaildomain.Message, error) {
	var msg emaildomain.Message
	err := r.db.Where("user_id = ? AND provider_message_id = ?", userID, providerMessageID).First(&msg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &msg, nil
}
