package activity

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"gymcoach/internal/pkg/logger"
	"gymcoach/internal/rabbitmq"
)

// Sink receives every recorded entry after it is persisted.
type Sink interface {
	Publish(ctx context.Context, e Entry) error
}

// Service is the activity log. Record never fails the caller.
type Service struct {
	db    *gorm.DB
	sinks []Sink
	now   func() time.Time
}

func NewService(db *gorm.DB, sinks ...Sink) *Service {
	return &Service{db: db, sinks: sinks, now: time.Now}
}

// Record persists e and fans it out to the sinks. Failures are logged and swallowed.
func (s *Service) Record(ctx context.Context, e Entry) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now().UTC()
	}

	log := logger.Logger.WithFields(logrus.Fields{
		"action":        e.Action,
		"engagement_id": deref(e.EngagementID),
		"member_id":     deref(e.MemberID),
		"coach_id":      deref(e.CoachID),
	})

	if err := s.db.WithContext(ctx).Create(&e).Error; err != nil {
		log.WithError(err).Warn("failed to write activity log")
	}

	for _, sink := range s.sinks {
		if err := sink.Publish(ctx, e); err != nil {
			log.WithError(err).Warn("failed to publish activity")
		}
	}

	log.Info(e.Details)
}

// Recent returns the latest entries, newest first.
func (s *Service) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var entries []Entry
	err := s.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&entries).Error
	return entries, err
}

// ForMember returns a member's entries, newest first.
func (s *Service) ForMember(ctx context.Context, memberID int64) ([]Entry, error) {
	var entries []Entry
	err := s.db.WithContext(ctx).
		Where("member_id = ?", memberID).
		Order("created_at DESC").
		Find(&entries).Error
	return entries, err
}

// PublisherSink forwards entries to a message broker so the notification service can react to them.
type PublisherSink struct {
	publisher rabbitmq.Publisher
	exchange  string
}

func NewPublisherSink(p rabbitmq.Publisher, exchange string) *PublisherSink {
	return &PublisherSink{publisher: p, exchange: exchange}
}

func (p *PublisherSink) Publish(_ context.Context, e Entry) error {
	body, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return p.publisher.Publish(p.exchange, "activity."+e.Action, body)
}

func deref(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}
