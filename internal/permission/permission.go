// Package permission decides what a user may do in a presentation.
//
// Authorize is a pure function of (role, action). Gate adds the lookup of a
// user's role in a presentation and turns a refusal into the matching error
// of the models taxonomy.
package permission

import (
	"context"
	"errors"

	"slidecollab/internal/models"
)

// Action is an operation subject to a role check
type Action int

const (
	ReadSnapshot Action = iota
	BroadcastEdit
	SaveSnapshot
	AddSlide
	DeleteSlide
	ChangeRole
	DeletePresentation
)

func (a Action) String() string {
	switch a {
	case ReadSnapshot:
		return "read snapshot"
	case BroadcastEdit:
		return "broadcast edit"
	case SaveSnapshot:
		return "save snapshot"
	case AddSlide:
		return "add slide"
	case DeleteSlide:
		return "delete slide"
	case ChangeRole:
		return "change role"
	case DeletePresentation:
		return "delete presentation"
	default:
		return "unknown"
	}
}

// minimumRole is the least privileged role allowed to perform each action
var minimumRole = map[Action]models.Role{
	ReadSnapshot:       models.RoleViewer,
	BroadcastEdit:      models.RoleEditor,
	SaveSnapshot:       models.RoleEditor,
	AddSlide:           models.RoleCreator,
	DeleteSlide:        models.RoleCreator,
	ChangeRole:         models.RoleCreator,
	DeletePresentation: models.RoleCreator,
}

// Authorize reports whether role may perform action. Unknown actions are denied.
func Authorize(role models.Role, action Action) bool {
	minimum, ok := minimumRole[action]
	if !ok {
		return false
	}
	return minimum <= role
}

// AuthorizeRoleChange reports whether an actor may move target from its
// current role to newRole. The Creator role can never be granted or revoked
// and nobody may change their own role.
func AuthorizeRoleChange(actorName string, actorRole models.Role, targetName string, targetRole models.Role, newRole models.Role) error {
	if !Authorize(actorRole, ChangeRole) {
		return models.ErrCreatorOnly
	}
	if actorName == targetName {
		return models.ErrOwnRole
	}
	if targetRole == models.RoleCreator || newRole == models.RoleCreator {
		return models.ErrCreatorLocked
	}
	return nil
}

// UserLookup resolves a user in a presentation
type UserLookup interface {
	GetUser(ctx context.Context, presentationID int64, name string) (*models.User, error)
}

// Gate checks actions against the roles stored for a presentation
type Gate struct {
	users UserLookup
}

// NewGate creates a gate backed by users
func NewGate(users UserLookup) *Gate {
	return &Gate{
		users: users,
	}
}

// CheckRole returns the role of username in a presentation, or
// models.ErrUserNotFound when the name was never registered there.
func (g *Gate) CheckRole(ctx context.Context, presentationID int64, username string) (models.Role, error) {
	if username == "" {
		return models.RoleViewer, models.ErrUnauthenticated
	}
	user, err := g.users.GetUser(ctx, presentationID, username)
	if err != nil {
		return models.RoleViewer, err
	}
	return user.Role, nil
}

// Require returns the caller's role when it allows action. Reading is open
// to everyone, including callers unknown to the presentation. Any other
// action fails with models.ErrUnauthenticated, models.ErrUserNotFound or a
// models.ErrPermissionDenied variant.
func (g *Gate) Require(ctx context.Context, presentationID int64, username string, action Action) (models.Role, error) {
	role, err := g.CheckRole(ctx, presentationID, username)
	if action == ReadSnapshot {
		if err != nil && !errors.Is(err, models.ErrNotFound) && !errors.Is(err, models.ErrUnauthenticated) {
			return role, err
		}
		return role, nil
	}
	if err != nil {
		return role, err
	}
	if !Authorize(role, action) {
		return role, denial(action)
	}
	return role, nil
}

func denial(action Action) error {
	switch action {
	case BroadcastEdit:
		return models.ErrEditDenied
	case SaveSnapshot:
		return models.ErrViewerDenied
	default:
		return models.ErrCreatorOnly
	}
}
