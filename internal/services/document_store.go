package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/golang/glog"
	"github.com/mattn/go-sqlite3"

	"slidecollab/internal/models"
)

// DocumentStore is the durable store for presentations, slides and users.
// Every mutation is a single atomic statement or transaction; there are no
// locks held across calls.
type DocumentStore struct {
	database *sql.DB
}

// NewDocumentStore creates a document store on an open database
func NewDocumentStore(database *sql.DB) *DocumentStore {
	return &DocumentStore{
		database: database,
	}
}

// Ping checks that the database is reachable
func (ds *DocumentStore) Ping(ctx context.Context) error {
	return ds.database.PingContext(ctx)
}

// CreatePresentation creates a presentation seeded with one slide (Order 1)
// and the creator recorded as Creator.
func (ds *DocumentStore) CreatePresentation(ctx context.Context, title, creatorName string) (*models.Presentation, error) {
	now := time.Now().UTC()

	tx, err := ds.database.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		"INSERT INTO presentations (title, creator_name, created_at) VALUES (?, ?, ?)",
		title, creatorName, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert presentation: %w", err)
	}
	presentationID, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get presentation id: %w", err)
	}

	result, err = tx.ExecContext(ctx,
		"INSERT INTO users (presentation_id, name, role) VALUES (?, ?, ?)",
		presentationID, creatorName, models.RoleCreator,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert creator: %w", err)
	}
	creatorID, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get creator id: %w", err)
	}

	result, err = tx.ExecContext(ctx,
		"INSERT INTO slides (presentation_id, slide_order, last_modified) VALUES (?, 1, ?)",
		presentationID, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert initial slide: %w", err)
	}
	slideID, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get slide id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit presentation: %w", err)
	}

	glog.V(1).Infof("Presentation created: id=%d, title=%q, creator=%s", presentationID, title, creatorName)

	return &models.Presentation{
		ID:          presentationID,
		Title:       title,
		CreatorName: creatorName,
		CreatedAt:   now,
		Slides: []*models.Slide{{
			ID:             slideID,
			PresentationID: presentationID,
			Order:          1,
			LastModified:   now,
		}},
		Users: []*models.User{{
			ID:             creatorID,
			PresentationID: presentationID,
			Name:           creatorName,
			Role:           models.RoleCreator,
		}},
	}, nil
}

// GetPresentation returns a presentation with its ordered slides and users.
// Slide snapshots are not loaded.
func (ds *DocumentStore) GetPresentation(ctx context.Context, presentationID int64) (*models.Presentation, error) {
	var presentation models.Presentation
	err := ds.database.QueryRowContext(ctx,
		"SELECT id, title, creator_name, created_at FROM presentations WHERE id = ?",
		presentationID,
	).Scan(&presentation.ID, &presentation.Title, &presentation.CreatorName, &presentation.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, models.ErrPresentationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query presentation: %w", err)
	}

	if presentation.Slides, err = ds.ListSlides(ctx, presentationID); err != nil {
		return nil, err
	}
	if presentation.Users, err = ds.ListUsers(ctx, presentationID); err != nil {
		return nil, err
	}
	return &presentation, nil
}

// ListPresentations returns all presentations, newest first, with their users
func (ds *DocumentStore) ListPresentations(ctx context.Context) ([]*models.Presentation, error) {
	rows, err := ds.database.QueryContext(ctx,
		"SELECT id, title, creator_name, created_at FROM presentations ORDER BY id DESC",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query presentations: %w", err)
	}

	presentations := make([]*models.Presentation, 0)
	for rows.Next() {
		var presentation models.Presentation
		if err := rows.Scan(&presentation.ID, &presentation.Title, &presentation.CreatorName, &presentation.CreatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan presentation: %w", err)
		}
		presentations = append(presentations, &presentation)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for _, presentation := range presentations {
		if presentation.Users, err = ds.ListUsers(ctx, presentation.ID); err != nil {
			return nil, err
		}
	}
	return presentations, nil
}

// DeletePresentation removes a presentation; slides and users cascade
func (ds *DocumentStore) DeletePresentation(ctx context.Context, presentationID int64) error {
	result, err := ds.database.ExecContext(ctx, "DELETE FROM presentations WHERE id = ?", presentationID)
	if err != nil {
		return fmt.Errorf("failed to delete presentation: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return models.ErrPresentationNotFound
	}

	glog.V(1).Infof("Presentation deleted: id=%d", presentationID)
	return nil
}

// AddSlide appends a blank slide with Order = max(Order)+1
func (ds *DocumentStore) AddSlide(ctx context.Context, presentationID int64) (*models.Slide, error) {
	now := time.Now().UTC()

	// the order is computed inside the insert so concurrent adds cannot pick the same value
	result, err := ds.database.ExecContext(ctx, `INSERT INTO slides (presentation_id, slide_order, last_modified)
		SELECT p.id, COALESCE((SELECT MAX(slide_order) FROM slides WHERE presentation_id = p.id), 0) + 1, ?
		FROM presentations p WHERE p.id = ?`,
		now, presentationID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert slide: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return nil, models.ErrPresentationNotFound
	}
	slideID, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get slide id: %w", err)
	}

	slide, err := ds.GetSlide(ctx, slideID)
	if err != nil {
		return nil, err
	}
	glog.V(1).Infof("Slide added: presentation=%d, slide=%d, order=%d", presentationID, slide.ID, slide.Order)
	return slide, nil
}

// DeleteSlide removes a slide unless it is the last one of its presentation
func (ds *DocumentStore) DeleteSlide(ctx context.Context, slideID int64) error {
	// the count guard is part of the delete so two concurrent deletes cannot empty a presentation
	result, err := ds.database.ExecContext(ctx, `DELETE FROM slides WHERE id = ?
		AND (SELECT COUNT(*) FROM slides s WHERE s.presentation_id = slides.presentation_id) > 1`,
		slideID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete slide: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		if _, err := ds.SlidePresentationID(ctx, slideID); err != nil {
			return err
		}
		return models.ErrLastSlide
	}

	glog.V(1).Infof("Slide deleted: slide=%d", slideID)
	return nil
}

// GetSlide returns a slide including its snapshot
func (ds *DocumentStore) GetSlide(ctx context.Context, slideID int64) (*models.Slide, error) {
	var slide models.Slide
	err := ds.database.QueryRowContext(ctx,
		"SELECT id, presentation_id, slide_order, snapshot, last_modified FROM slides WHERE id = ?",
		slideID,
	).Scan(&slide.ID, &slide.PresentationID, &slide.Order, &slide.Snapshot, &slide.LastModified)

	if err == sql.ErrNoRows {
		return nil, models.ErrSlideNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query slide: %w", err)
	}
	return &slide, nil
}

// SlidePresentationID returns the presentation that owns a slide
func (ds *DocumentStore) SlidePresentationID(ctx context.Context, slideID int64) (int64, error) {
	var presentationID int64
	err := ds.database.QueryRowContext(ctx,
		"SELECT presentation_id FROM slides WHERE id = ?",
		slideID,
	).Scan(&presentationID)

	if err == sql.ErrNoRows {
		return 0, models.ErrSlideNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to query slide: %w", err)
	}
	return presentationID, nil
}

// ListSlides returns the slides of a presentation by Order, without snapshots
func (ds *DocumentStore) ListSlides(ctx context.Context, presentationID int64) ([]*models.Slide, error) {
	rows, err := ds.database.QueryContext(ctx,
		"SELECT id, presentation_id, slide_order, last_modified FROM slides WHERE presentation_id = ? ORDER BY slide_order ASC",
		presentationID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query slides: %w", err)
	}
	defer rows.Close()

	slides := make([]*models.Slide, 0)
	for rows.Next() {
		var slide models.Slide
		if err := rows.Scan(&slide.ID, &slide.PresentationID, &slide.Order, &slide.LastModified); err != nil {
			return nil, fmt.Errorf("failed to scan slide: %w", err)
		}
		slides = append(slides, &slide)
	}
	return slides, rows.Err()
}

// UpdateSnapshot replaces a slide's snapshot and LastModified in one
// statement. Concurrent updates are last-writer-wins.
func (ds *DocumentStore) UpdateSnapshot(ctx context.Context, slideID int64, snapshot []byte, modified time.Time) error {
	result, err := ds.database.ExecContext(ctx,
		"UPDATE slides SET snapshot = ?, last_modified = ? WHERE id = ?",
		snapshot, modified.UTC(), slideID,
	)
	if err != nil {
		return fmt.Errorf("failed to update snapshot: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return models.ErrSlideNotFound
	}
	return nil
}

// EnsureUser records name in the presentation as a Viewer unless already
// present. It returns the stored user and whether it was created.
func (ds *DocumentStore) EnsureUser(ctx context.Context, presentationID int64, name string) (*models.User, bool, error) {
	result, err := ds.database.ExecContext(ctx,
		"INSERT OR IGNORE INTO users (presentation_id, name, role) VALUES (?, ?, ?)",
		presentationID, name, models.RoleViewer,
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintForeignKey {
			return nil, false, models.ErrPresentationNotFound
		}
		return nil, false, fmt.Errorf("failed to insert user: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	user, err := ds.GetUser(ctx, presentationID, name)
	if err != nil {
		return nil, false, err
	}
	if rowsAffected > 0 {
		glog.V(1).Infof("User registered: presentation=%d, name=%s, role=%s", presentationID, name, user.Role)
	}
	return user, rowsAffected > 0, nil
}

// GetUser returns the membership record of name in a presentation
func (ds *DocumentStore) GetUser(ctx context.Context, presentationID int64, name string) (*models.User, error) {
	var user models.User
	err := ds.database.QueryRowContext(ctx,
		"SELECT id, presentation_id, name, role FROM users WHERE presentation_id = ? AND name = ?",
		presentationID, name,
	).Scan(&user.ID, &user.PresentationID, &user.Name, &user.Role)

	if err == sql.ErrNoRows {
		return nil, models.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return &user, nil
}

// ListUsers returns all users of a presentation
func (ds *DocumentStore) ListUsers(ctx context.Context, presentationID int64) ([]*models.User, error) {
	rows, err := ds.database.QueryContext(ctx,
		"SELECT id, presentation_id, name, role FROM users WHERE presentation_id = ? ORDER BY id ASC",
		presentationID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	users := make([]*models.User, 0)
	for rows.Next() {
		var user models.User
		if err := rows.Scan(&user.ID, &user.PresentationID, &user.Name, &user.Role); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, &user)
	}
	return users, rows.Err()
}

// SetUserRole stores a new role for an existing user
func (ds *DocumentStore) SetUserRole(ctx context.Context, presentationID int64, name string, role models.Role) error {
	result, err := ds.database.ExecContext(ctx,
		"UPDATE users SET role = ? WHERE presentation_id = ? AND name = ?",
		role, presentationID, name,
	)
	if err != nil {
		return fmt.Errorf("failed to update user role: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return models.ErrUserNotFound
	}

	glog.V(1).Infof("User role updated: presentation=%d, name=%s, role=%s", presentationID, name, role)
	return nil
}
