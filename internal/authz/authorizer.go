// Package authz decides which catalog operations a principal may perform.
//
// Roles map onto a Casbin policy of (role, resource, action, scope) rules. The
// scope of an album request is "own" when the album is credited to the
// principal's display name and "other" otherwise; a rule with scope "any"
// matches both. Principals without a profile are denied before the policy is
// consulted, except for listing, which yields an empty result.
package authz

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	fileadapter "github.com/casbin/casbin/v2/persist/file-adapter"
	"github.com/eshygn/MyMusicMaestro/internal/catalog"
	"github.com/eshygn/MyMusicMaestro/internal/users"
	"go.uber.org/zap"
)

//go:embed model.conf
var embeddedModel string

//go:embed policy.csv
var embeddedPolicy string

// Action is an operation on a catalog resource.
type Action string

const (
	ActionList   Action = "list"
	ActionView   Action = "view"
	ActionCreate Action = "create"
	ActionEdit   Action = "edit"
	ActionDelete Action = "delete"
)

type resource string

const (
	resourceAlbum resource = "album"
	resourceSong  resource = "song"
)

const (
	scopeOwn   = "own"
	scopeOther = "other"
)

var (
	// ErrMissingProfile indicates a login with no role profile.
	ErrMissingProfile = errors.New("authz: no profile is linked to this login")
	// ErrForbidden indicates that the role may not perform the action at all.
	ErrForbidden = errors.New("authz: action not permitted for this role")
	// ErrNotOwner indicates that the role may perform the action only on its own albums.
	ErrNotOwner = errors.New("authz: album is credited to another artist")
)

// Config selects the policy source. An empty PolicyPath uses the embedded policy.
type Config struct {
	PolicyPath string
	Logger     *zap.Logger
}

// Authorizer evaluates the role matrix for principals.
type Authorizer struct {
	enforcer *casbin.SyncedEnforcer
	logger   *zap.Logger
}

// NewAuthorizer loads the embedded model and the configured policy.
func NewAuthorizer(cfg Config) (*Authorizer, error) {
	m, err := model.NewModelFromString(embeddedModel)
	if err != nil {
		return nil, fmt.Errorf("failed to load casbin model: %w", err)
	}

	var enforcer *casbin.SyncedEnforcer
	if cfg.PolicyPath != "" {
		if _, statErr := os.Stat(cfg.PolicyPath); statErr != nil {
			return nil, fmt.Errorf("authz policy file: %w", statErr)
		}
		enforcer, err = casbin.NewSyncedEnforcer(m, fileadapter.NewAdapter(cfg.PolicyPath))
	} else {
		enforcer, err = casbin.NewSyncedEnforcer(m)
		if err == nil {
			err = loadEmbeddedPolicy(enforcer, embeddedPolicy)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create casbin enforcer: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Authorizer{enforcer: enforcer, logger: logger}, nil
}

// loadEmbeddedPolicy parses policy CSV lines of the form "p, role, resource, action, scope".
func loadEmbeddedPolicy(enforcer *casbin.SyncedEnforcer, policy string) error {
	for _, line := range strings.Split(policy, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.Split(line, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		if parts[0] != "p" || len(parts) != 5 {
			return fmt.Errorf("malformed policy line %q", line)
		}
		if _, err := enforcer.AddPolicy(parts[1:]); err != nil {
			return fmt.Errorf("failed to add policy %v: %w", parts[1:], err)
		}
	}
	return nil
}

// AlbumListFilter returns the listing filter for the principal. The boolean is
// false when the principal may see no albums at all.
func (a *Authorizer) AlbumListFilter(principal users.Principal) (catalog.AlbumFilter, bool) {
	role := principal.Role()
	if role == users.RoleNone {
		return catalog.AlbumFilter{}, false
	}
	if a.allowed(role, resourceAlbum, ActionList, scopeOther) {
		return catalog.AlbumFilter{}, true
	}
	if a.allowed(role, resourceAlbum, ActionList, scopeOwn) {
		artist := principal.DisplayName()
		return catalog.AlbumFilter{Artist: &artist}, true
	}
	return catalog.AlbumFilter{}, false
}

// AuthorizeAlbum checks an album action. For ActionCreate the album is nil and
// the new album counts as the principal's own.
func (a *Authorizer) AuthorizeAlbum(principal users.Principal, action Action, album *catalog.Album) error {
	err := a.decideAlbum(principal, action, album)
	if err != nil {
		a.logDenied(principal, resourceAlbum, action, err)
	}
	return err
}

// AlbumAllowed answers the same question as AuthorizeAlbum without logging,
// for deciding which actions a page offers.
func (a *Authorizer) AlbumAllowed(principal users.Principal, action Action, album *catalog.Album) bool {
	return a.decideAlbum(principal, action, album) == nil
}

func (a *Authorizer) decideAlbum(principal users.Principal, action Action, album *catalog.Album) error {
	role := principal.Role()
	if role == users.RoleNone {
		return ErrMissingProfile
	}
	scope := scopeOwn
	if album != nil && !album.IsOwnedBy(principal.DisplayName()) {
		scope = scopeOther
	}
	if a.allowed(role, resourceAlbum, action, scope) {
		return nil
	}
	if scope == scopeOther && a.allowed(role, resourceAlbum, action, scopeOwn) {
		return ErrNotOwner
	}
	return ErrForbidden
}

// AuthorizeSong checks a song action. Songs have no owner.
func (a *Authorizer) AuthorizeSong(principal users.Principal, action Action) error {
	role := principal.Role()
	if role == users.RoleNone {
		a.logDenied(principal, resourceSong, action, ErrMissingProfile)
		return ErrMissingProfile
	}
	if a.allowed(role, resourceSong, action, scopeOther) {
		return nil
	}
	a.logDenied(principal, resourceSong, action, ErrForbidden)
	return ErrForbidden
}

// AuthorizeTracklist checks an action on a tracklist item of the given album.
// Reading needs view rights on the album; any change needs edit rights.
func (a *Authorizer) AuthorizeTracklist(principal users.Principal, action Action, album catalog.Album) error {
	switch action {
	case ActionList, ActionView:
		return a.AuthorizeAlbum(principal, ActionView, &album)
	default:
		return a.AuthorizeAlbum(principal, ActionEdit, &album)
	}
}

// CreditedArtist returns the artist an album written by the principal must carry.
// Artists are always credited under their display name; other roles keep the
// submitted value.
func (a *Authorizer) CreditedArtist(principal users.Principal, submitted string) string {
	if principal.Role() == users.RoleArtist {
		return principal.DisplayName()
	}
	return submitted
}

// CanCreateAlbums reports whether the principal may see the create action at all.
func (a *Authorizer) CanCreateAlbums(principal users.Principal) bool {
	return principal.Role() != users.RoleNone && a.allowed(principal.Role(), resourceAlbum, ActionCreate, scopeOwn)
}

func (a *Authorizer) allowed(role users.Role, res resource, action Action, scope string) bool {
	ok, err := a.enforcer.Enforce(string(role), string(res), string(action), scope)
	if err != nil {
		a.logger.Error("authorization enforcement failed",
			zap.String("role", role.String()),
			zap.String("resource", string(res)),
			zap.String("action", string(action)),
			zap.Error(err))
		return false
	}
	return ok
}

func (a *Authorizer) logDenied(principal users.Principal, res resource, action Action, reason error) {
	a.logger.Info("authorization denied",
		zap.Uint64("identity_id", principal.IdentityID),
		zap.String("role", principal.Role().String()),
		zap.String("resource", string(res)),
		zap.String("action", string(action)),
		zap.Error(reason))
}
