package services

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/golang/glog"

	"slidecollab/internal/models"
	"slidecollab/internal/permission"
)

// SnapshotMarker must appear in every saved snapshot
const SnapshotMarker = "<svg"

// SaveNotifier announces a committed save to everyone in the slide's room
type SaveNotifier interface {
	NotifySaved(slideID int64)
}

type nopNotifier struct{}

func (nopNotifier) NotifySaved(int64) {}

// SnapshotService is the save pipeline for full slide snapshots and the read
// side for the latest snapshot. Saves are last-writer-wins: there is no
// version check between concurrent saves of the same slide.
type SnapshotService struct {
	store    *DocumentStore
	gate     *permission.Gate
	notifier SaveNotifier
	now      func() time.Time
}

// NewSnapshotService creates the pipeline. notifier may be nil.
func NewSnapshotService(store *DocumentStore, gate *permission.Gate, notifier SaveNotifier) *SnapshotService {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &SnapshotService{
		store:    store,
		gate:     gate,
		notifier: notifier,
		now:      time.Now,
	}
}

// SetNotifier replaces the room notifier
func (ss *SnapshotService) SetNotifier(notifier SaveNotifier) {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	ss.notifier = notifier
}

// ParseSlideID parses a slide identifier received as text
func ParseSlideID(slideID string) (int64, error) {
	if slideID == "" {
		return 0, models.ErrInvalidSlideID
	}
	id, err := strconv.ParseInt(strings.TrimSpace(slideID), 10, 64)
	if err != nil || id <= 0 {
		return 0, models.ErrInvalidSlideID
	}
	return id, nil
}

// ValidateSnapshot checks the structural marker of the snapshot format
func ValidateSnapshot(snapshot string) error {
	if snapshot == "" {
		return models.ErrEmptySnapshot
	}
	if !strings.Contains(snapshot, SnapshotMarker) {
		return models.ErrSnapshotFormat
	}
	return nil
}

// EncodeSnapshot converts validated snapshot text to its stored bytes
func EncodeSnapshot(snapshot string) ([]byte, error) {
	if !utf8.ValidString(snapshot) {
		return nil, models.ErrEncoding
	}
	data := []byte(snapshot)
	if len(data) == 0 {
		return nil, models.ErrEncoding
	}
	return data, nil
}

// Save validates and commits a full snapshot of a slide for username, then
// notifies the slide's room. Each precondition fails with its own error:
// invalid format, unauthenticated, slide not found, user not found,
// permission denied, encoding. The commit is not cancelled once started.
func (ss *SnapshotService) Save(ctx context.Context, slideID int64, username string, snapshot string) error {
	if err := ValidateSnapshot(snapshot); err != nil {
		return err
	}
	if username == "" {
		return models.ErrUnauthenticated
	}

	presentationID, err := ss.store.SlidePresentationID(ctx, slideID)
	if err != nil {
		return err
	}

	if _, err := ss.gate.Require(ctx, presentationID, username, permission.SaveSnapshot); err != nil {
		return err
	}

	data, err := EncodeSnapshot(snapshot)
	if err != nil {
		return err
	}

	// an in-flight commit runs to completion even if the caller gave up
	commitCtx := context.WithoutCancel(ctx)
	if err := ss.store.UpdateSnapshot(commitCtx, slideID, data, ss.now()); err != nil {
		return fmt.Errorf("failed to save slide %d: %w", slideID, err)
	}
	glog.V(1).Infof("Snapshot saved: slide=%d, user=%s, bytes=%d", slideID, username, len(data))

	ss.notifier.NotifySaved(slideID)
	return nil
}

// Get returns the slide with its stored snapshot
func (ss *SnapshotService) Get(ctx context.Context, slideID int64) (*models.Slide, error) {
	return ss.store.GetSlide(ctx, slideID)
}
