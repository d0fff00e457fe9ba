package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Role is the privilege tier of a user within one presentation.
// Roles are ordered: Viewer < Editor < Creator.
type Role int

const (
	RoleViewer Role = iota
	RoleEditor
	RoleCreator
)

func (r Role) String() string {
	switch r {
	case RoleViewer:
		return "Viewer"
	case RoleEditor:
		return "Editor"
	case RoleCreator:
		return "Creator"
	default:
		return fmt.Sprintf("Role(%d)", int(r))
	}
}

// ParseRole parses the role names used on the wire ("Viewer", "Editor", "Creator")
func ParseRole(name string) (Role, error) {
	switch name {
	case "Viewer":
		return RoleViewer, nil
	case "Editor":
		return RoleEditor, nil
	case "Creator":
		return RoleCreator, nil
	default:
		return RoleViewer, fmt.Errorf("%w: %q", ErrInvalidRole, name)
	}
}

// MarshalJSON writes the role as its name
func (r Role) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

// UnmarshalJSON reads a role name
func (r *Role) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	role, err := ParseRole(name)
	if err != nil {
		return err
	}
	*r = role
	return nil
}

// Presentation is a deck of slides shared between users
type Presentation struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	CreatorName string    `json:"creatorName"`
	CreatedAt   time.Time `json:"createdAt"`
	Slides      []*Slide  `json:"slides,omitempty"`
	Users       []*User   `json:"users,omitempty"`
}

// Slide is one page of a presentation. Snapshot is nil for a blank slide.
type Slide struct {
	ID             int64     `json:"id"`
	PresentationID int64     `json:"presentationId"`
	Order          int       `json:"order"`
	Snapshot       []byte    `json:"-"`
	LastModified   time.Time `json:"lastModified"`
}

// IsBlank reports whether the slide has never been saved
func (s *Slide) IsBlank() bool {
	return len(s.Snapshot) == 0
}

// User is the membership record of a display name in one presentation
type User struct {
	ID             int64  `json:"id"`
	PresentationID int64  `json:"presentationId"`
	Name           string `json:"name"`
	Role           Role   `json:"role"`
}
