package users

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Role is the business classification attached to a login through its profile.
type Role string

const (
	// RoleNone marks a login without a linked profile.
	RoleNone Role = ""
	// RoleArtist may manage albums credited to its display name.
	RoleArtist Role = "artist"
	// RoleEditor may manage every album.
	RoleEditor Role = "editor"
	// RoleViewer may only browse.
	RoleViewer Role = "viewer"
)

const (
	maxDisplayNameLength = 512
	maxUsernameLength    = 150
)

// ErrInvalidRole indicates a role outside artist, editor and viewer.
var ErrInvalidRole = errors.New("users: invalid role")

// ParseRole validates a raw role name.
func ParseRole(raw string) (Role, error) {
	role := Role(strings.ToLower(strings.TrimSpace(raw)))
	switch role {
	case RoleArtist, RoleEditor, RoleViewer:
		return role, nil
	default:
		return RoleNone, fmt.Errorf("%w: %q", ErrInvalidRole, raw)
	}
}

func (r Role) String() string {
	if r == RoleNone {
		return "none"
	}
	return string(r)
}

// Identity is a local login.
type Identity struct {
	ID           uint64    `gorm:"column:id;primaryKey;autoIncrement"`
	Username     string    `gorm:"column:username;size:150;not null;uniqueIndex:idx_identities_username"`
	PasswordHash string    `gorm:"column:password_hash;size:255;not null"`
	LastSeenAt   time.Time `gorm:"column:last_seen_at"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing user identities.
func (Identity) TableName() string {
	return "user_identities"
}

// Profile attaches a display name and role to exactly one identity.
type Profile struct {
	ID          uint64    `gorm:"column:id;primaryKey;autoIncrement"`
	IdentityID  uint64    `gorm:"column:identity_id;not null;uniqueIndex:idx_profiles_identity"`
	DisplayName string    `gorm:"column:display_name;size:512;not null"`
	Role        Role      `gorm:"column:role;size:10;not null"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing role profiles.
func (Profile) TableName() string {
	return "user_profiles"
}

func (p Profile) String() string {
	return p.DisplayName
}

// Models lists every persisted user type for schema migration.
func Models() []interface{} {
	return []interface{}{&Identity{}, &Profile{}}
}

// Principal is the acting login of a request. The profile is optional; a
// principal without one has RoleNone.
type Principal struct {
	IdentityID uint64
	Username   string
	profile    *Profile
}

// NewPrincipal builds a principal from an identity and an optional profile.
func NewPrincipal(identity Identity, profile *Profile) Principal {
	principal := Principal{IdentityID: identity.ID, Username: identity.Username}
	if profile != nil {
		copied := *profile
		principal.profile = &copied
	}
	return principal
}

// Profile returns the linked profile and whether one exists.
func (p Principal) Profile() (Profile, bool) {
	if p.profile == nil {
		return Profile{}, false
	}
	return *p.profile, true
}

// Role returns the profile role, or RoleNone when there is no profile.
func (p Principal) Role() Role {
	if p.profile == nil {
		return RoleNone
	}
	return p.profile.Role
}

// DisplayName returns the profile display name, or the empty string without a profile.
func (p Principal) DisplayName() string {
	if p.profile == nil {
		return ""
	}
	return p.profile.DisplayName
}

// normalize value helper used across service implementation.
func normalize(value string) string {
	return strings.TrimSpace(value)
}
