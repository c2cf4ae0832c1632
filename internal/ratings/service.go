package ratings

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/readingroom/catalog/internal/catalog"
	"github.com/readingroom/catalog/internal/fault"
	"github.com/readingroom/catalog/internal/visitors"
)

const (
	minRate = 1
	maxRate = 5
)

var (
	errMissingDatabase = errors.New("database handle is required")
	noOpLogger         = zap.NewNop()
)

// ServiceError carries an operation-scoped failure code and its cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the machine-readable failure code.
func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew = "ratings.service.new"
	opCastVote   = "ratings.cast_vote"
	opSumRating  = "ratings.sum_rating"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// ServiceConfig describes the dependencies required by the aggregator.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service enforces the one-rating-per-visitor invariant and computes the
// per-book mean on demand.
type Service struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewService constructs the rating aggregator.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{db: cfg.Database, clock: clock, logger: logger}, nil
}

// CastVote applies the three-way vote resolution for one (book, visitor)
// pair: create when absent, retract on an identical resubmission, or
// overwrite with the new value. The check-then-act sequence runs inside
// a transaction with a row lock; if a racing duplicate insert still
// trips the uniqueness constraint the vote is retried once, where it
// resolves as updated or deleted.
func (s *Service) CastVote(ctx context.Context, bookID, visitorID uint, rate int) (VoteReceipt, error) {
	if rate < minRate || rate > maxRate {
		cause := fmt.Errorf("%w: rate %d outside %d-%d", fault.ErrValidation, rate, minRate, maxRate)
		return VoteReceipt{}, newServiceError(opCastVote, "rate_out_of_range", cause)
	}
	if visitorID == 0 {
		cause := fmt.Errorf("%w: a resolved visitor identity is required", fault.ErrPermissionDenied)
		return VoteReceipt{}, newServiceError(opCastVote, "missing_visitor", cause)
	}

	receipt, err := s.castVoteOnce(ctx, bookID, visitorID, rate)
	if err != nil && isUniqueViolation(err) {
		s.logger.Warn("duplicate vote race, retrying",
			zap.Uint("book_id", bookID),
			zap.Uint("visitor_id", visitorID))
		receipt, err = s.castVoteOnce(ctx, bookID, visitorID, rate)
		if err != nil && isUniqueViolation(err) {
			cause := fmt.Errorf("%w: concurrent votes for book %d", fault.ErrConstraintViolation, bookID)
			return VoteReceipt{}, newServiceError(opCastVote, "vote_conflict", cause)
		}
	}
	return receipt, err
}

func (s *Service) castVoteOnce(ctx context.Context, bookID, visitorID uint, rate int) (VoteReceipt, error) {
	var receipt VoteReceipt
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var bookCount int64
		if err := tx.Model(&catalog.Book{}).Where("id = ?", bookID).Count(&bookCount).Error; err != nil {
			return newServiceError(opCastVote, "book_select_failed", err)
		}
		if bookCount == 0 {
			cause := fmt.Errorf("%w: book %d", fault.ErrNotFound, bookID)
			return newServiceError(opCastVote, "book_not_found", cause)
		}
		var visitorCount int64
		if err := tx.Model(&visitors.Visitor{}).Where("id = ?", visitorID).Count(&visitorCount).Error; err != nil {
			return newServiceError(opCastVote, "visitor_select_failed", err)
		}
		if visitorCount == 0 {
			cause := fmt.Errorf("%w: visitor %d", fault.ErrNotFound, visitorID)
			return newServiceError(opCastVote, "visitor_not_found", cause)
		}

		var existing BookRate
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("book_id = ? AND visitor_id = ?", bookID, visitorID).
			Take(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			created := BookRate{BookID: bookID, VisitorID: visitorID, Rate: rate, RatedAt: s.clock().UTC()}
			if err := tx.Create(&created).Error; err != nil {
				return newServiceError(opCastVote, "rate_insert_failed", err)
			}
			receipt.Status = VoteCreated
		case err != nil:
			return newServiceError(opCastVote, "rate_select_failed", err)
		case existing.Rate == rate:
			if err := tx.Delete(&BookRate{}, existing.ID).Error; err != nil {
				return newServiceError(opCastVote, "rate_delete_failed", err)
			}
			receipt.Status = VoteDeleted
		default:
			if err := tx.Model(&BookRate{}).Where("id = ?", existing.ID).
				Updates(map[string]interface{}{"rate": rate, "rated_at": s.clock().UTC()}).Error; err != nil {
				return newServiceError(opCastVote, "rate_update_failed", err)
			}
			receipt.Status = VoteUpdated
		}

		sum, err := sumRating(tx, bookID)
		if err != nil {
			return newServiceError(opCastVote, "sum_failed", err)
		}
		receipt.RatingSum = sum
		return nil
	})
	if txErr != nil {
		return VoteReceipt{}, txErr
	}
	return receipt, nil
}

// SumRating returns the arithmetic mean of the book's active ratings, 0
// when none exist.
func (s *Service) SumRating(ctx context.Context, bookID uint) (float64, error) {
	var bookCount int64
	if err := s.db.WithContext(ctx).Model(&catalog.Book{}).Where("id = ?", bookID).Count(&bookCount).Error; err != nil {
		return 0, newServiceError(opSumRating, "book_select_failed", err)
	}
	if bookCount == 0 {
		cause := fmt.Errorf("%w: book %d", fault.ErrNotFound, bookID)
		return 0, newServiceError(opSumRating, "book_not_found", cause)
	}
	sum, err := sumRating(s.db.WithContext(ctx), bookID)
	if err != nil {
		return 0, newServiceError(opSumRating, "query_failed", err)
	}
	return sum, nil
}

func sumRating(tx *gorm.DB, bookID uint) (float64, error) {
	var sum float64
	err := tx.Model(&BookRate{}).
		Where("book_id = ?", bookID).
		Select("COALESCE(AVG(rate), 0)").
		Scan(&sum).Error
	return sum, err
}

// isUniqueViolation matches the duplicate-key shapes of the drivers in
// use. GORM normalizes most of them to ErrDuplicatedKey; the sqlite
// driver surfaces the raw constraint message.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint")
}
