package repository

import (
	"errors"
	"time"

	emaildomain "mailguard-backend/internal/email/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// blockedSenderRepository implements BlockedSenderRepository interface
type blockedSenderRepository struct {
	db *gorm.DB
}

// NewBlockedSenderRepository creates a new instance of blockedSenderRepository
func NewBlockedSenderRepository(db *gorm.DB) BlockedSenderRepository {
	return &blockedSenderRepository{
		db: db,
	}
}

func (r *blockedSenderRepository) CountFor(userID, senderEmail string) (int, error) {
	var sender emaildomain.BlockedSender
	err := r.db.Where("user_id = ? AND sender_email = ?", userID, senderEmail).First(&sender).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return sender.TotalEmailsBlocked, nil
}

func (r *blockedSenderRepository) RecordBlock(userID, senderEmail, reason string) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		var sender emaildomain.BlockedSender
		err := tx.Where("user_id = ? AND sender_email = ?", userID, senderEmail).First(&sender).Error

		now := time.Now()
		if errors.Is(err, gorm.ErrRecordNotFound) {
			sender = emaildomain.BlockedSender{
				ID:                 uuid.New().String(),
				UserID:             userID,
				SenderEmail:        senderEmail,
				TotalEmailsBlocked: 1,
				LastBlockedAt:      now,
				Reason:             reason,
				CreatedAt:          now,
				UpdatedAt:          now,
			}
			return tx.Create(&sender).Error
		}
		if err != nil {
			return err
		}

		sender.TotalEmailsBlocked++
		sender.LastBlockedAt = now
		if reason != "" {
			sender.Reason = reason
		}
		sender.UpdatedAt = now
		return tx.Save(&sender).Error
	})
}
