package referral

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"referral-bot/internal/database"
	"referral-bot/internal/models"
)

type Registration struct {
	UserID      int64
	DisplayName string
	Handle      string
	ReferrerID  *int64
}

type Result struct {
	// Created is true only for the call that inserted the row.
	Created bool `json:"created"`
	// ReferralRecorded is true when the referrer increment was issued.
	ReferralRecorded bool `json:"referral_recorded"`
	// ReferrerFound is true when the increment hit an existing referrer row.
	ReferrerFound bool `json:"referrer_found"`
}

type Service struct {
	store   *database.Store
	timeout time.Duration
	log     *zap.Logger
}

// NewService returns the only writer of referral counts. A zero timeout leaves
// deadlines to the caller.
func NewService(store *database.Store, timeout time.Duration, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: store, timeout: timeout, log: log}
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

// Register creates the user if absent and, on creation only, credits the referrer once.
//
// The insert is a single INSERT ... ON CONFLICT (id) DO NOTHING whose affected
// row count decides creation, so concurrent calls for the same id produce one
// row and at most one increment. Insert and increment share a transaction: a
// failure in between leaves neither behind and the call can simply be retried.
func (s *Service) Register(ctx context.Context, reg Registration) (Result, error) {
	if reg.UserID <= 0 {
		return Result{}, ErrInvalidUserID
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	referrerID := normalizeReferrer(reg.UserID, reg.ReferrerID)
	user := models.User{
		ID:          reg.UserID,
		DisplayName: optional(reg.DisplayName),
		Handle:      optional(reg.Handle),
		ReferrerID:  referrerID,
	}

	var res Result
	err := s.store.DB(ctx).Transaction(func(tx *gorm.DB) error {
		insert := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoNothing: true,
		}).Create(&user)
		if insert.Error != nil {
			return fmt.Errorf("insert user: %w", insert.Error)
		}
		if insert.RowsAffected == 0 {
			return nil
		}
		res.Created = true

		if referrerID == nil {
			return nil
		}
		inc := tx.Model(&models.User{}).
			Where("id = ?", *referrerID).
			UpdateColumn("referral_count", gorm.Expr("referral_count + ?", 1))
		if inc.Error != nil {
			return fmt.Errorf("increment referrer %d: %w", *referrerID, inc.Error)
		}
		res.ReferralRecorded = true
		res.ReferrerFound = inc.RowsAffected > 0
		return nil
	})
	if err != nil {
		s.log.Warn("registration failed", zap.Int64("user_id", reg.UserID), zap.Error(err))
		return Result{}, fmt.Errorf("register user %d: %w: %w", reg.UserID, ErrStoreUnavailable, err)
	}

	if res.Created {
		fields := []zap.Field{zap.Int64("user_id", reg.UserID)}
		if referrerID != nil {
			fields = append(fields,
				zap.Int64("referrer_id", *referrerID),
				zap.Bool("referrer_found", res.ReferrerFound),
			)
		}
		s.log.Info("user registered", fields...)
	}
	return res, nil
}

// ReferralCount returns how many users id has referred. Unknown ids have zero.
func (s *Service) ReferralCount(ctx context.Context, id int64) (int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var counts []int64
	err := s.store.DB(ctx).Model(&models.User{}).
		Where("id = ?", id).
		Limit(1).
		Pluck("referral_count", &counts).Error
	if err != nil {
		return 0, fmt.Errorf("referral count of %d: %w: %w", id, ErrStoreUnavailable, err)
	}
	if len(counts) == 0 {
		return 0, nil
	}
	return counts[0], nil
}

// Lookup reads a user row. A missing row is reported with found=false, not an error.
func (s *Service) Lookup(ctx context.Context, id int64) (*models.User, bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var users []models.User
	if err := s.store.DB(ctx).Where("id = ?", id).Limit(1).Find(&users).Error; err != nil {
		return nil, false, fmt.Errorf("lookup user %d: %w: %w", id, ErrStoreUnavailable, err)
	}
	if len(users) == 0 {
		return nil, false, nil
	}
	return &users[0], true, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
