package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pasta/chat/internal/logging"
	"pasta/chat/internal/models"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// ErrUserNotFound is returned by FindUserByID.
var ErrUserNotFound = errors.New("user not found")

// Store is the write/administration side of a message store. Clients never write;
// the chat backend and the admin CLI do.
type Store interface {
	SaveMessage(ctx context.Context, userID, collection string, msg *models.StoredMessage) error
	RecentMessages(ctx context.Context, q Query) ([]models.StoredMessage, error)
	Purge(ctx context.Context, userID, collection string) (int, error)
}

// Service is the self-hosted message store: rows in PostgreSQL, change notifications over
// Redis Pub/Sub.
type Service struct {
	DB    *gorm.DB
	Redis *redis.Client
	now   func() time.Time
}

// NewStorageService Constructor
func NewStorageService(db *gorm.DB, rdb *redis.Client) *Service {
	return &Service{
		DB:    db,
		Redis: rdb,
		now:   time.Now,
	}
}

// Migrate creates or updates the tables the service needs.
func (s *Service) Migrate() error {
	return s.DB.AutoMigrate(&models.ChatHistory{}, &models.User{})
}

// ChannelName is the Pub/Sub channel announcing changes to one user's collection.
func ChannelName(userID, collection string) string {
	return "messages:" + userID + ":" + collection
}

// SaveMessage stores a turn, assigns its ID and timestamp, and announces the change. Once the
// row is committed the turn counts as stored; a failed announcement is only logged.
func (s *Service) SaveMessage(ctx context.Context, userID, collection string, msg *models.StoredMessage) error {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = s.now().UTC()
	}
	history := models.ChatHistory{
		UserID:      userID,
		Collection:  collection,
		Sender:      string(msg.Sender),
		Content:     msg.Content,
		Timestamp:   msg.Timestamp,
		RLEpisodeID: msg.RLEpisodeID,
	}

	if err := s.DB.WithContext(ctx).Create(&history).Error; err != nil {
		logging.Errorf("failed to save message for %s/%s: %v", userID, collection, err)
		return err
	}
	msg.ID = history.ToStored().ID

	if err := s.Publish(ctx, userID, collection, msg.ID); err != nil {
		logging.Errorf("message %s stored but change notification failed: %v", msg.ID, err)
	}
	return nil
}

// Publish announces a change to a collection. The payload is informational; watchers
// always re-read the whole window.
func (s *Service) Publish(ctx context.Context, userID, collection, payload string) error {
	if s.Redis == nil {
		return nil
	}
	if err := s.Redis.Publish(ctx, ChannelName(userID, collection), payload).Err(); err != nil {
		return fmt.Errorf("failed to publish change: %w", err)
	}
	return nil
}

// RecentMessages returns the newest q.Limit turns, newest first.
func (s *Service) RecentMessages(ctx context.Context, q Query) ([]models.StoredMessage, error) {
	var rows []models.ChatHistory
	err := s.DB.WithContext(ctx).
		Where("user_id = ? AND collection = ?", q.UserID, q.Collection).
		Order("timestamp desc, id desc").
		Limit(q.Limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}

	out := make([]models.StoredMessage, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.ToStored())
	}
	return out, nil
}

// Purge hard-deletes a user's collection and returns how many turns were removed.
func (s *Service) Purge(ctx context.Context, userID, collection string) (int, error) {
	result := s.DB.WithContext(ctx).Unscoped().
		Where("user_id = ? AND collection = ?", userID, collection).
		Delete(&models.ChatHistory{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to purge messages: %w", result.Error)
	}
	if err := s.Publish(ctx, userID, collection, "purge"); err != nil {
		logging.Error("purge notification failed", err)
	}
	return int(result.RowsAffected), nil
}

// Watch implements Watcher: it subscribes to the collection's channel and re-reads the
// window on every notification.
func (s *Service) Watch(ctx context.Context, q Query, fn func(Snapshot)) (*Subscription, error) {
	if s.Redis == nil {
		return nil, errors.New("storage: live queries need redis")
	}

	pubsub := s.Redis.Subscribe(ctx, ChannelName(q.UserID, q.Collection))
	// Wait for the subscription confirmation so no change between here and the first
	// read is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	return NewSubscription(ctx, func(ctx context.Context) {
		defer pubsub.Close()

		notify := make(chan struct{}, 1)
		go func() {
			defer close(notify)
			ch := pubsub.Channel()
			for {
				select {
				case <-ctx.Done():
					return
				case _, ok := <-ch:
					if !ok {
						return
					}
					select {
					case notify <- struct{}{}:
					default:
					}
				}
			}
		}()

		watchNotifications(ctx, notify, func(ctx context.Context) ([]models.StoredMessage, error) {
			return s.RecentMessages(ctx, q)
		}, fn)
		// let the forwarder see ctx.Done and exit before pubsub closes
		for range notify {
		}
	}), nil
}

// SaveUserIfNotExists returns the user with the given email, creating it with
// passwordHash on first contact.
func (s *Service) SaveUserIfNotExists(ctx context.Context, email, passwordHash string) (*models.User, bool, error) {
	var user models.User
	defaults := models.User{Email: email, PasswordHash: passwordHash}

	result := s.DB.WithContext(ctx).Where("email = ?", email).FirstOrCreate(&user, defaults)
	if result.Error != nil {
		logging.Errorf("failed to save user %s on first contact: %v", email, result.Error)
		return nil, false, result.Error
	}

	created := result.RowsAffected > 0
	if created {
		logging.Infow("new user saved", "uid", user.ID)
	}
	return &user, created, nil
}

// FindUserByID returns the user with the given ID.
func (s *Service) FindUserByID(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	err := s.DB.WithContext(ctx).Where("id = ?", id).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}
