package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"

	"slidecollab/internal/models"
	"slidecollab/internal/permission"
)

type recordingNotifier struct {
	mu     sync.Mutex
	slides []int64
}

func (n *recordingNotifier) NotifySaved(slideID int64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.slides = append(n.slides, slideID)
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.slides)
}

type snapshotFixture struct {
	store          *DocumentStore
	snapshots      *SnapshotService
	notifier       *recordingNotifier
	presentationID int64
	slideID        int64
}

// newSnapshotFixture creates a presentation owned by alice with bob as
// Editor and carol as Viewer.
func newSnapshotFixture(t *testing.T) *snapshotFixture {
	t.Helper()
	ctx := context.Background()
	store := newTestStore(t)
	notifier := &recordingNotifier{}

	presentation, err := store.CreatePresentation(ctx, "Deck", "alice")
	if err != nil {
		t.Fatalf("create presentation: %s", err)
	}
	store.EnsureUser(ctx, presentation.ID, "bob")
	store.SetUserRole(ctx, presentation.ID, "bob", models.RoleEditor)
	store.EnsureUser(ctx, presentation.ID, "carol")

	return &snapshotFixture{
		store:          store,
		snapshots:      NewSnapshotService(store, permission.NewGate(store), notifier),
		notifier:       notifier,
		presentationID: presentation.ID,
		slideID:        presentation.Slides[0].ID,
	}
}

func TestParseSlideID(t *testing.T) {
	id, err := ParseSlideID("17")
	assert.Equal(t, nil, err)
	assert.Equal(t, int64(17), id)

	for _, bad := range []string{"", "abc", "-3", "0", "1.5"} {
		_, err := ParseSlideID(bad)
		assert.Equal(t, models.ErrInvalidSlideID, err)
	}
}

func TestValidateSnapshot(t *testing.T) {
	assert.Equal(t, models.ErrEmptySnapshot, ValidateSnapshot(""))
	assert.Equal(t, models.ErrSnapshotFormat, ValidateSnapshot("<div></div>"))
	assert.Equal(t, nil, ValidateSnapshot(`<?xml version="1.0"?><svg></svg>`))
}

func TestEncodeSnapshot(t *testing.T) {
	data, err := EncodeSnapshot("<svg>ü</svg>")
	assert.Equal(t, nil, err)
	assert.Equal(t, []byte("<svg>ü</svg>"), data)

	_, err = EncodeSnapshot("<svg>\xff</svg>")
	assert.Equal(t, models.ErrEncoding, err)
}

func TestSaveRoundTripIsByteExact(t *testing.T) {
	f := newSnapshotFixture(t)
	ctx := context.Background()

	snapshot := `<svg xmlns="http://www.w3.org/2000/svg"><path d="M0 0 L10 10"/><text>Grüße</text></svg>`
	err := f.snapshots.Save(ctx, f.slideID, "bob", snapshot)
	assert.Equal(t, nil, err)

	slide, err := f.snapshots.Get(ctx, f.slideID)
	assert.Equal(t, nil, err)
	assert.Equal(t, snapshot, string(slide.Snapshot))
	assert.Equal(t, []int64{f.slideID}, f.notifier.slides)
}

func TestSaveIsIdempotent(t *testing.T) {
	f := newSnapshotFixture(t)
	ctx := context.Background()
	snapshot := "<svg><circle r=\"4\"/></svg>"

	assert.Equal(t, nil, f.snapshots.Save(ctx, f.slideID, "alice", snapshot))
	first, _ := f.snapshots.Get(ctx, f.slideID)

	assert.Equal(t, nil, f.snapshots.Save(ctx, f.slideID, "alice", snapshot))
	second, _ := f.snapshots.Get(ctx, f.slideID)

	assert.Equal(t, first.Snapshot, second.Snapshot)
	assert.Equal(t, false, second.LastModified.Before(first.LastModified))
	assert.Equal(t, 2, f.notifier.count())
}

func TestSequentialSavesLastWriterWins(t *testing.T) {
	f := newSnapshotFixture(t)
	ctx := context.Background()

	assert.Equal(t, nil, f.snapshots.Save(ctx, f.slideID, "alice", "<svg>B1</svg>"))
	assert.Equal(t, nil, f.snapshots.Save(ctx, f.slideID, "bob", "<svg>B2</svg>"))

	slide, _ := f.snapshots.Get(ctx, f.slideID)
	assert.Equal(t, "<svg>B2</svg>", string(slide.Snapshot))
}

func TestConcurrentSavesKeepOneWholeSnapshot(t *testing.T) {
	f := newSnapshotFixture(t)
	ctx := context.Background()

	candidates := []string{"<svg>one</svg>", "<svg>two</svg>", "<svg>three</svg>"}
	var wg sync.WaitGroup
	for _, snapshot := range candidates {
		wg.Add(1)
		go func(snapshot string) {
			defer wg.Done()
			assert.Equal(t, nil, f.snapshots.Save(ctx, f.slideID, "bob", snapshot))
		}(snapshot)
	}
	wg.Wait()

	slide, _ := f.snapshots.Get(ctx, f.slideID)
	found := false
	for _, snapshot := range candidates {
		if string(slide.Snapshot) == snapshot {
			found = true
		}
	}
	assert.Equal(t, true, found)
}

func TestViewerSaveDenied(t *testing.T) {
	f := newSnapshotFixture(t)
	ctx := context.Background()

	err := f.snapshots.Save(ctx, f.slideID, "carol", "<svg>vandal</svg>")
	assert.Equal(t, models.ErrViewerDenied, err)
	assert.Equal(t, true, errors.Is(err, models.ErrPermissionDenied))

	slide, _ := f.snapshots.Get(ctx, f.slideID)
	assert.Equal(t, true, slide.IsBlank())
	assert.Equal(t, 0, f.notifier.count())
}

func TestSaveFailureOrder(t *testing.T) {
	f := newSnapshotFixture(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		slideID  int64
		username string
		snapshot string
		expected error
	}{
		{"empty snapshot wins over missing user", f.slideID, "", "", models.ErrEmptySnapshot},
		{"format checked before identity", f.slideID, "", "<div/>", models.ErrSnapshotFormat},
		{"anonymous", f.slideID, "", "<svg/>", models.ErrUnauthenticated},
		{"missing slide", 9999, "bob", "<svg/>", models.ErrSlideNotFound},
		{"unknown user", f.slideID, "mallory", "<svg/>", models.ErrUserNotFound},
		{"viewer", f.slideID, "carol", "<svg/>", models.ErrViewerDenied},
		{"bad encoding", f.slideID, "bob", "<svg>\xfe</svg>", models.ErrEncoding},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.snapshots.Save(ctx, tt.slideID, tt.username, tt.snapshot)
			assert.Equal(t, tt.expected, err)
		})
	}

	slide, _ := f.snapshots.Get(ctx, f.slideID)
	assert.Equal(t, true, slide.IsBlank())
	assert.Equal(t, 0, f.notifier.count())
}

func TestSaveCommitsDespiteCancelledContext(t *testing.T) {
	f := newSnapshotFixture(t)
	ctx, cancel := context.WithCancel(context.Background())

	// lookups honour the context, so cancel only once the pipeline reaches the store
	f.snapshots.now = func() time.Time {
		cancel()
		return time.Now()
	}
	err := f.snapshots.Save(ctx, f.slideID, "bob", "<svg>kept</svg>")
	assert.Equal(t, nil, err)

	slide, _ := f.snapshots.Get(context.Background(), f.slideID)
	assert.Equal(t, true, strings.Contains(string(slide.Snapshot), "kept"))
}

func TestPlaceholders(t *testing.T) {
	blank := BlankSlideSnapshot(3)
	assert.Equal(t, true, strings.Contains(blank, "Slide 3"))
	assert.Equal(t, nil, ValidateSnapshot(blank))

	failed := PlaceholderSnapshot("Slide Not Found (ID: <7>)", true)
	assert.Equal(t, true, strings.Contains(failed, `fill="red"`))
	assert.Equal(t, true, strings.Contains(failed, "&lt;7&gt;"))
}
