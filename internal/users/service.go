package users

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

var (
	// ErrInvalidIdentity indicates a username or password that cannot be stored.
	ErrInvalidIdentity = errors.New("users: invalid identity")
	// ErrInvalidCredentials indicates a failed login.
	ErrInvalidCredentials = errors.New("users: invalid credentials")
	// ErrUsernameTaken indicates that the username is already registered.
	ErrUsernameTaken = errors.New("users: username taken")
	// ErrIdentityNotFound indicates that a session refers to a login that no longer exists.
	ErrIdentityNotFound = errors.New("users: identity not found")
)

// ServiceConfig describes the dependencies required for login and profile resolution.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	HashCost int
}

// Service manages local logins and their role profiles.
type Service struct {
	db        *gorm.DB
	now       func() time.Time
	hashCost  int
	dummyHash []byte
}

// NewService constructs the user service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	cost := cfg.HashCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	dummyHash, err := bcrypt.GenerateFromPassword([]byte("maestro-timing-guard"), cost)
	if err != nil {
		return nil, fmt.Errorf("users: prepare password hashing: %w", err)
	}
	return &Service{
		db:        cfg.Database,
		now:       clock,
		hashCost:  cost,
		dummyHash: dummyHash,
	}, nil
}

// NewUserRequest describes a login together with its profile.
type NewUserRequest struct {
	Username    string
	Password    string
	DisplayName string
	Role        Role
}

// CreateUser stores an identity and its profile in one transaction.
func (s *Service) CreateUser(ctx context.Context, request NewUserRequest) (Principal, error) {
	username := normalize(request.Username)
	if username == "" || utf8.RuneCountInString(username) > maxUsernameLength {
		return Principal{}, fmt.Errorf("%w: username must be 1-%d characters", ErrInvalidIdentity, maxUsernameLength)
	}
	if request.Password == "" {
		return Principal{}, fmt.Errorf("%w: password required", ErrInvalidIdentity)
	}
	displayName := normalize(request.DisplayName)
	if displayName == "" || utf8.RuneCountInString(displayName) > maxDisplayNameLength {
		return Principal{}, fmt.Errorf("%w: display name must be 1-%d characters", ErrInvalidIdentity, maxDisplayNameLength)
	}
	role, err := ParseRole(string(request.Role))
	if err != nil {
		return Principal{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(request.Password), s.hashCost)
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %v", ErrInvalidIdentity, err)
	}

	identity := Identity{Username: username, PasswordHash: string(hash), LastSeenAt: s.now()}
	profile := Profile{DisplayName: displayName, Role: role}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&Identity{}).Where("username = ?", username).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrUsernameTaken
		}
		if err := tx.Create(&identity).Error; err != nil {
			return err
		}
		profile.IdentityID = identity.ID
		return tx.Create(&profile).Error
	})
	if err != nil {
		return Principal{}, err
	}
	return NewPrincipal(identity, &profile), nil
}

// Authenticate checks a username and password and returns the matching identity.
func (s *Service) Authenticate(ctx context.Context, username, password string) (Identity, error) {
	var identity Identity
	err := s.db.WithContext(ctx).Where("username = ?", normalize(username)).Take(&identity).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
		return Identity{}, ErrInvalidCredentials
	}
	if err != nil {
		return Identity{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(identity.PasswordHash), []byte(password)); err != nil {
		return Identity{}, ErrInvalidCredentials
	}

	identity.LastSeenAt = s.now()
	_ = s.db.WithContext(ctx).Model(&Identity{}).
		Where("id = ?", identity.ID).
		Update("last_seen_at", identity.LastSeenAt).
		Error
	return identity, nil
}

// ResolvePrincipal loads the identity and, when linked, its profile. A missing
// profile is not an error.
func (s *Service) ResolvePrincipal(ctx context.Context, identityID uint64) (Principal, error) {
	var identity Identity
	err := s.db.WithContext(ctx).Where("id = ?", identityID).Take(&identity).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Principal{}, ErrIdentityNotFound
	}
	if err != nil {
		return Principal{}, err
	}

	var profile Profile
	err = s.db.WithContext(ctx).Where("identity_id = ?", identityID).Take(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return NewPrincipal(identity, nil), nil
	}
	if err != nil {
		return Principal{}, err
	}
	return NewPrincipal(identity, &profile), nil
}

// CreateIdentity stores a login without a profile.
func (s *Service) CreateIdentity(ctx context.Context, username, password string) (Identity, error) {
	username = normalize(username)
	if username == "" || password == "" {
		return Identity{}, ErrInvalidIdentity
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.hashCost)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidIdentity, err)
	}
	identity := Identity{Username: username, PasswordHash: string(hash), LastSeenAt: s.now()}
	if err := s.db.WithContext(ctx).Create(&identity).Error; err != nil {
		return Identity{}, err
	}
	return identity, nil
}
