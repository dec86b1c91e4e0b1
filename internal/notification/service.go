package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	connrepo "mailguard-backend/internal/connection/repository"
	"mailguard-backend/internal/email/usecase"

	"cloud.google.com/go/pubsub"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
)

// HistoryCursor remembers the latest push history id seen per mailbox.
type HistoryCursor interface {
	SeenHistoryID(ctx context.Context, mailbox string, historyID uint64) (bool, error)
}

// GmailNotification is the payload Gmail publishes to the watch topic.
type GmailNotification struct {
	EmailAddress string `json:"emailAddress"`
	HistoryID    uint64 `json:"historyId"`
}

// Processor turns one Gmail push notification into an incremental sync of
// the matching connection. Duplicate deliveries are filtered against the
// redis history cursor, not in memory, so restarts and multiple instances
// agree on what was already handled. Shared by the Pub/Sub pull subscriber
// and the HTTP push endpoint.
type Processor struct {
	connRepo    connrepo.ConnectionRepository
	syncUsecase usecase.SyncUsecase
	cursor      HistoryCursor
	log         zerolog.Logger
}

func NewProcessor(connRepo connrepo.ConnectionRepository, syncUsecase usecase.SyncUsecase, cursor HistoryCursor, log zerolog.Logger) *Processor {
	return &Processor{
		connRepo:    connRepo,
		syncUsecase: syncUsecase,
		cursor:      cursor,
		log:         log,
	}
}

// Service pulls Gmail push notifications from a Pub/Sub subscription and
// hands them to the Processor.
type Service struct {
	processor    *Processor
	pubsubClient *pubsub.Client
	topicName    string
	subName      string
	log          zerolog.Logger
}

func NewService(projectID, topicName, credentialsFile string, processor *Processor, log zerolog.Logger) (*Service, error) {
	ctx := context.Background()

	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create pubsub client: %v", err)
	}

	return &Service{
		processor:    processor,
		pubsubClient: client,
		topicName:    topicName,
		subName:      topicName + "-sub", // Convention: topic-sub
		log:          log,
	}, nil
}

// Start ensures the subscription exists and blocks receiving messages until
// the context is cancelled.
func (s *Service) Start(ctx context.Context) {
	log := s.log.With().Str("topic", s.topicName).Str("subscription", s.subName).Logger()
	log.Info().Msg("starting push notification service")

	sub := s.pubsubClient.Subscription(s.subName)
	exists, err := sub.Exists(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to check subscription existence")
		return
	}

	if !exists {
		topic := s.pubsubClient.Topic(s.topicName)
		topicExists, err := topic.Exists(ctx)
		if err != nil {
			log.Error().Err(err).Msg("failed to check topic existence")
			return
		}
		if !topicExists {
			log.Error().Msg("topic does not exist, cannot create subscription")
			return
		}

		sub, err = s.pubsubClient.CreateSubscription(ctx, s.subName, pubsub.SubscriptionConfig{
			Topic:       topic,
			AckDeadline: 10 * time.Second,
		})
		if err != nil {
			log.Error().Err(err).Msg("failed to create subscription")
			return
		}
		log.Info().Msg("created subscription")
	}

	err = sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		s.processor.HandleNotification(ctx, msg.Data)
		// Ack regardless of outcome; the next sync pass covers anything a
		// failed handler missed, and redelivery would just refetch the same
		// window.
		msg.Ack()
	})
	if err != nil {
		log.Error().Err(err).Msg("pubsub receive ended")
	}
}

// HandleNotification processes one raw Gmail notification payload.
func (p *Processor) HandleNotification(ctx context.Context, data []byte) {
	var notification GmailNotification
	if err := json.Unmarshal(data, &notification); err != nil {
		p.log.Warn().Err(err).Msg("undecodable push notification dropped")
		return
	}
	if notification.EmailAddress == "" {
		p.log.Warn().Msg("push notification without mailbox address dropped")
		return
	}

	log := p.log.With().Str("mailbox", notification.EmailAddress).Uint64("history_id", notification.HistoryID).Logger()

	seen, err := p.cursor.SeenHistoryID(ctx, notification.EmailAddress, notification.HistoryID)
	if err != nil {
		// Degrade to syncing anyway; dedup is an optimization, missed mail is
		// not an option.
		log.Warn().Err(err).Msg("history cursor check failed")
	} else if seen {
		log.Debug().Msg("duplicate push notification skipped")
		return
	}

	conn, err := p.connRepo.FindActiveByMailbox(notification.EmailAddress)
	if err != nil {
		log.Error().Err(err).Msg("connection lookup failed for push notification")
		return
	}
	if conn == nil {
		log.Debug().Msg("push notification for unconnected mailbox dropped")
		return
	}

	summary := p.syncUsecase.SyncConnection(ctx, conn)
	log.Info().
		Int("new_emails", summary.NewEmails).
		Str("skipped", summary.Skipped).
		Msg("push-triggered sync completed")
}
