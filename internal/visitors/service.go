package visitors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/readingroom/catalog/internal/fault"
)

const (
	maxUsernameLength = 150
	maxNameLength     = 100
	maxBioLength      = 500
	minPasswordLength = 8
)

// ServiceConfig describes the dependencies required for visitor management.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service manages accounts and their one-to-one visitor profiles.
type Service struct {
	db     *gorm.DB
	now    func() time.Time
	logger *zap.Logger
}

// NewService constructs the visitor service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("visitors: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: cfg.Database, now: clock, logger: logger}, nil
}

// RegisterRequest carries the input for account registration.
type RegisterRequest struct {
	Username string
	Password string
	Name     string
	Surname  string
}

// Register creates an account with a hashed password and its visitor
// profile in one transaction. The visitor row always exists for a
// registered account.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (Visitor, error) {
	username := strings.TrimSpace(req.Username)
	if username == "" || utf8.RuneCountInString(username) > maxUsernameLength {
		return Visitor{}, fmt.Errorf("%w: username must be 1-%d characters", fault.ErrValidation, maxUsernameLength)
	}
	if utf8.RuneCountInString(req.Password) < minPasswordLength {
		return Visitor{}, fmt.Errorf("%w: password must be at least %d characters", fault.ErrValidation, minPasswordLength)
	}
	if utf8.RuneCountInString(req.Name) > maxNameLength || utf8.RuneCountInString(req.Surname) > maxNameLength {
		return Visitor{}, fmt.Errorf("%w: name and surname must not exceed %d characters", fault.ErrValidation, maxNameLength)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return Visitor{}, err
	}

	visitor := Visitor{
		Name:    strings.TrimSpace(req.Name),
		Surname: strings.TrimSpace(req.Surname),
	}
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing Account
		err := tx.Where("username = ?", username).Take(&existing).Error
		if err == nil {
			return fmt.Errorf("%w: username already registered", fault.ErrConstraintViolation)
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		account := Account{
			ID:           uuid.NewString(),
			Username:     username,
			PasswordHash: string(hash),
			CreatedAt:    s.now().UTC(),
			UpdatedAt:    s.now().UTC(),
		}
		if err := tx.Create(&account).Error; err != nil {
			return err
		}
		visitor.AccountID = account.ID
		return tx.Create(&visitor).Error
	})
	if txErr != nil {
		return Visitor{}, txErr
	}

	s.logger.Info("visitor registered",
		zap.String("account_id", visitor.AccountID),
		zap.Uint("visitor_id", visitor.ID))
	return visitor, nil
}

// Authenticate checks the username/password pair and returns the account
// with its visitor profile.
func (s *Service) Authenticate(ctx context.Context, username, password string) (Account, Visitor, error) {
	var account Account
	err := s.db.WithContext(ctx).Where("username = ?", strings.TrimSpace(username)).Take(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Account{}, Visitor{}, fmt.Errorf("%w: unknown username", fault.ErrPermissionDenied)
	}
	if err != nil {
		return Account{}, Visitor{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)) != nil {
		return Account{}, Visitor{}, fmt.Errorf("%w: wrong password", fault.ErrPermissionDenied)
	}

	visitor, err := s.ByAccount(ctx, account.ID)
	if err != nil {
		return Account{}, Visitor{}, err
	}
	return account, visitor, nil
}

// ByID loads a visitor profile by its identifier.
func (s *Service) ByID(ctx context.Context, visitorID uint) (Visitor, error) {
	var visitor Visitor
	err := s.db.WithContext(ctx).Take(&visitor, visitorID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Visitor{}, fmt.Errorf("%w: visitor %d", fault.ErrNotFound, visitorID)
	}
	if err != nil {
		return Visitor{}, err
	}
	return visitor, nil
}

// ByAccount resolves the visitor profile owned by an account.
func (s *Service) ByAccount(ctx context.Context, accountID string) (Visitor, error) {
	var visitor Visitor
	err := s.db.WithContext(ctx).Where("account_id = ?", accountID).Take(&visitor).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Visitor{}, fmt.Errorf("%w: no visitor for account %s", fault.ErrNotFound, accountID)
	}
	if err != nil {
		return Visitor{}, err
	}
	return visitor, nil
}

// ProfileUpdate carries the editable profile fields.
type ProfileUpdate struct {
	Name    string
	Surname string
	Bio     string
}

// UpdateProfile applies profile changes. Only the owning account may
// edit a visitor.
func (s *Service) UpdateProfile(ctx context.Context, visitorID uint, callerAccountID string, update ProfileUpdate) (Visitor, error) {
	visitor, err := s.ByID(ctx, visitorID)
	if err != nil {
		return Visitor{}, err
	}
	if visitor.AccountID != callerAccountID {
		return Visitor{}, fmt.Errorf("%w: visitor %d belongs to another account", fault.ErrPermissionDenied, visitorID)
	}
	if utf8.RuneCountInString(update.Name) > maxNameLength || utf8.RuneCountInString(update.Surname) > maxNameLength {
		return Visitor{}, fmt.Errorf("%w: name and surname must not exceed %d characters", fault.ErrValidation, maxNameLength)
	}
	if utf8.RuneCountInString(update.Bio) > maxBioLength {
		return Visitor{}, fmt.Errorf("%w: bio must not exceed %d characters", fault.ErrValidation, maxBioLength)
	}

	visitor.Name = strings.TrimSpace(update.Name)
	visitor.Surname = strings.TrimSpace(update.Surname)
	visitor.Bio = update.Bio
	if err := s.db.WithContext(ctx).Save(&visitor).Error; err != nil {
		return Visitor{}, err
	}
	return visitor, nil
}

// Delete removes a visitor and its account. Comments and ratings
// authored by the visitor are removed by foreign key cascade.
func (s *Service) Delete(ctx context.Context, visitorID uint) error {
	visitor, err := s.ByID(ctx, visitorID)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&Visitor{}, visitor.ID).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", visitor.AccountID).Delete(&Account{}).Error
	})
}
