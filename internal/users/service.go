package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/accessmap/internal/auth"
	"github.com/MarcoPoloResearchLab/accessmap/internal/ids"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const providerGoogle = "google"

var (
	// ErrInvalidIdentity indicates the claims did not contain a usable identifier.
	ErrInvalidIdentity = errors.New("users: invalid identity")
	// ErrUserNotFound indicates that no identity maps to the requested user id.
	ErrUserNotFound = errors.New("users: user not found")
)

// ServiceConfig describes the dependencies required for user identity resolution.
type ServiceConfig struct {
	Database    *gorm.DB
	Clock       func() time.Time
	IDProvider  ids.Provider
	AdminEmails []string
	Logger      *zap.Logger
}

// Service manages canonical user identifiers and provider-specific identities.
type Service struct {
	db          *gorm.DB
	now         func() time.Time
	idProvider  ids.Provider
	adminEmails map[string]struct{}
	logger      *zap.Logger
}

// NewService constructs the identity service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	if cfg.IDProvider == nil {
		return nil, fmt.Errorf("users: id provider required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	adminEmails := make(map[string]struct{}, len(cfg.AdminEmails))
	for _, email := range cfg.AdminEmails {
		if normalized := strings.ToLower(normalize(email)); normalized != "" {
			adminEmails[normalized] = struct{}{}
		}
	}
	return &Service{
		db:          cfg.Database,
		now:         clock,
		idProvider:  cfg.IDProvider,
		adminEmails: adminEmails,
		logger:      logger,
	}, nil
}

// ResolveUser returns the canonical user for verified Google claims.
// It creates the user on first sight and refreshes profile fields and role on later logins.
func (s *Service) ResolveUser(ctx context.Context, claims auth.GoogleClaims) (User, error) {
	subject := normalize(claims.Subject)
	if subject == "" {
		return User{}, ErrInvalidIdentity
	}
	role := s.roleFor(claims)

	var identity Identity
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		lookupErr := tx.
			Where("provider = ? AND subject = ?", providerGoogle, subject).
			Take(&identity).
			Error
		if errors.Is(lookupErr, gorm.ErrRecordNotFound) {
			userID, err := s.idProvider.NewID()
			if err != nil {
				return err
			}
			identity = Identity{
				Provider:    providerGoogle,
				Subject:     subject,
				UserID:      userID,
				Email:       normalize(claims.Email),
				DisplayName: normalize(claims.Name),
				AvatarURL:   normalize(claims.Picture),
				Role:        role,
				LastSeenAt:  s.now().UTC(),
			}
			return tx.Create(&identity).Error
		}
		if lookupErr != nil {
			return lookupErr
		}

		updates := map[string]interface{}{
			"last_seen_at": s.now().UTC(),
			"user_role":    role,
		}
		if email := normalize(claims.Email); email != "" && email != identity.Email {
			updates["user_email"] = email
			identity.Email = email
		}
		if display := normalize(claims.Name); display != "" && display != identity.DisplayName {
			updates["user_display_name"] = display
			identity.DisplayName = display
		}
		if avatar := normalize(claims.Picture); avatar != "" && avatar != identity.AvatarURL {
			updates["user_avatar_url"] = avatar
			identity.AvatarURL = avatar
		}
		identity.Role = role
		return tx.Model(&Identity{}).
			Where("provider = ? AND subject = ?", providerGoogle, subject).
			Updates(updates).
			Error
	})
	if err != nil {
		s.logger.Error("user resolution failed", zap.String("subject", subject), zap.Error(err))
		return User{}, err
	}
	return identity.user(), nil
}

// Profile loads the user with the given canonical id.
func (s *Service) Profile(ctx context.Context, userID string) (User, error) {
	userID = normalize(userID)
	if userID == "" {
		return User{}, ErrInvalidIdentity
	}
	var identity Identity
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Take(&identity).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, ErrUserNotFound
	}
	if err != nil {
		return User{}, err
	}
	return identity.user(), nil
}

// Only verified addresses earn the admin role.
func (s *Service) roleFor(claims auth.GoogleClaims) string {
	if !claims.EmailVerified {
		return auth.RoleUser
	}
	if _, ok := s.adminEmails[strings.ToLower(normalize(claims.Email))]; ok {
		return auth.RoleAdmin
	}
	return auth.RoleUser
}
