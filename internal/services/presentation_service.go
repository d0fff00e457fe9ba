package services

import (
	"context"
	"strings"

	"github.com/golang/glog"

	"slidecollab/internal/models"
	"slidecollab/internal/permission"
)

// PresentationService manages presentations, slides and roles on behalf of
// an explicitly named caller
type PresentationService struct {
	store *DocumentStore
	gate  *permission.Gate
}

// NewPresentationService creates a new presentation service
func NewPresentationService(store *DocumentStore, gate *permission.Gate) *PresentationService {
	return &PresentationService{
		store: store,
		gate:  gate,
	}
}

// PresentedSlide is a slide ready to show, with placeholders for blank slides
type PresentedSlide struct {
	ID       int64  `json:"id"`
	Order    int    `json:"order"`
	Snapshot string `json:"svgData"`
	Blank    bool   `json:"blank"`
}

// Create creates a presentation owned by username
func (ps *PresentationService) Create(ctx context.Context, username, title string) (*models.Presentation, error) {
	if username == "" {
		return nil, models.ErrUnauthenticated
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, models.ErrInvalidTitle
	}
	return ps.store.CreatePresentation(ctx, title, username)
}

// List returns all presentations, newest first
func (ps *PresentationService) List(ctx context.Context) ([]*models.Presentation, error) {
	return ps.store.ListPresentations(ctx)
}

// Visit loads a presentation for its edit page. A name seen for the first
// time in the presentation is registered as a Viewer.
func (ps *PresentationService) Visit(ctx context.Context, username string, presentationID int64) (*models.Presentation, *models.User, error) {
	if username == "" {
		return nil, nil, models.ErrUnauthenticated
	}
	presentation, err := ps.store.GetPresentation(ctx, presentationID)
	if err != nil {
		return nil, nil, err
	}

	user, created, err := ps.store.EnsureUser(ctx, presentationID, username)
	if err != nil {
		return nil, nil, err
	}
	if created {
		presentation.Users = append(presentation.Users, user)
	}
	return presentation, user, nil
}

// Delete removes a presentation. Creator only.
func (ps *PresentationService) Delete(ctx context.Context, username string, presentationID int64) error {
	if _, err := ps.store.GetPresentation(ctx, presentationID); err != nil {
		return err
	}
	if _, err := ps.gate.Require(ctx, presentationID, username, permission.DeletePresentation); err != nil {
		return err
	}
	return ps.store.DeletePresentation(ctx, presentationID)
}

// AddSlide appends a blank slide. Creator only.
func (ps *PresentationService) AddSlide(ctx context.Context, username string, presentationID int64) (*models.Slide, error) {
	if _, err := ps.store.GetPresentation(ctx, presentationID); err != nil {
		return nil, err
	}
	if _, err := ps.gate.Require(ctx, presentationID, username, permission.AddSlide); err != nil {
		return nil, err
	}
	return ps.store.AddSlide(ctx, presentationID)
}

// DeleteSlide removes a slide of a presentation. Creator only; the last
// slide is never removed. A slide of another presentation is not found.
func (ps *PresentationService) DeleteSlide(ctx context.Context, username string, presentationID int64, slideID int64) error {
	owner, err := ps.store.SlidePresentationID(ctx, slideID)
	if err != nil {
		return err
	}
	if owner != presentationID {
		return models.ErrSlideNotFound
	}
	if _, err := ps.gate.Require(ctx, presentationID, username, permission.DeleteSlide); err != nil {
		return err
	}
	return ps.store.DeleteSlide(ctx, slideID)
}

// UpdateUserRole changes the role of target. Only a Creator may do so, never
// for their own role, and never to or from Creator.
func (ps *PresentationService) UpdateUserRole(ctx context.Context, username string, presentationID int64, target string, newRoleName string) error {
	if _, err := ps.store.GetPresentation(ctx, presentationID); err != nil {
		return err
	}

	actorRole, err := ps.gate.CheckRole(ctx, presentationID, username)
	if err != nil {
		return err
	}
	if !permission.Authorize(actorRole, permission.ChangeRole) {
		return models.ErrCreatorOnly
	}

	targetUser, err := ps.store.GetUser(ctx, presentationID, target)
	if err != nil {
		return err
	}

	newRole, err := models.ParseRole(newRoleName)
	if err != nil {
		return err
	}

	if err := permission.AuthorizeRoleChange(username, actorRole, targetUser.Name, targetUser.Role, newRole); err != nil {
		glog.V(1).Infof("Role change refused: presentation=%d, actor=%s, target=%s, role=%s: %s", presentationID, username, target, newRole, err)
		return err
	}
	return ps.store.SetUserRole(ctx, presentationID, target, newRole)
}

// ListUsers returns the users of a presentation
func (ps *PresentationService) ListUsers(ctx context.Context, presentationID int64) ([]*models.User, error) {
	if _, err := ps.store.GetPresentation(ctx, presentationID); err != nil {
		return nil, err
	}
	return ps.store.ListUsers(ctx, presentationID)
}

// Present returns every slide in order with its snapshot; blank slides get a
// "Slide N" placeholder that is not persisted
func (ps *PresentationService) Present(ctx context.Context, presentationID int64) (*models.Presentation, []*PresentedSlide, error) {
	presentation, err := ps.store.GetPresentation(ctx, presentationID)
	if err != nil {
		return nil, nil, err
	}

	presented := make([]*PresentedSlide, 0, len(presentation.Slides))
	for _, summary := range presentation.Slides {
		slide, err := ps.store.GetSlide(ctx, summary.ID)
		if err != nil {
			// deleted between listing and loading
			continue
		}
		p := &PresentedSlide{
			ID:    slide.ID,
			Order: slide.Order,
		}
		if slide.IsBlank() {
			p.Snapshot = BlankSlideSnapshot(slide.Order)
			p.Blank = true
		} else {
			p.Snapshot = string(slide.Snapshot)
		}
		presented = append(presented, p)
	}
	return presentation, presented, nil
}
