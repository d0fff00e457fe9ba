package models

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by the permission gate, the save pipeline and the
// realtime channel. The message of each error is what the user sees.
var (
	ErrUnauthenticated  = errors.New("User not authenticated")
	ErrPermissionDenied = errors.New("Permission denied")
	ErrNotFound         = errors.New("Not found")
	ErrInvalidFormat    = errors.New("Invalid format")
	ErrEncoding         = errors.New("Failed to encode SVG data")
	ErrLastSlide        = errors.New("Cannot delete the last slide")
	ErrTimeout          = errors.New("Operation timed out")
	ErrTransport        = errors.New("Connection lost")
)

var (
	ErrPresentationNotFound = fmt.Errorf("Presentation not found%w", silent(ErrNotFound))
	ErrSlideNotFound        = fmt.Errorf("Slide not found%w", silent(ErrNotFound))
	ErrUserNotFound         = fmt.Errorf("User not found in presentation%w", silent(ErrNotFound))

	ErrEditDenied    = fmt.Errorf("You don't have permission to edit this slide%w", silent(ErrPermissionDenied))
	ErrViewerDenied  = fmt.Errorf("Viewers cannot edit slides%w", silent(ErrPermissionDenied))
	ErrCreatorOnly   = fmt.Errorf("Only the creator can perform this action%w", silent(ErrPermissionDenied))
	ErrCreatorLocked = fmt.Errorf("Cannot change creator role%w", silent(ErrPermissionDenied))
	ErrOwnRole       = fmt.Errorf("Cannot change your own role%w", silent(ErrPermissionDenied))

	ErrEmptySnapshot  = fmt.Errorf("Empty SVG data received%w", silent(ErrInvalidFormat))
	ErrSnapshotFormat = fmt.Errorf("Invalid SVG data format%w", silent(ErrInvalidFormat))
	ErrInvalidSlideID = fmt.Errorf("Invalid slide ID%w", silent(ErrInvalidFormat))
	ErrInvalidRole    = fmt.Errorf("Invalid role%w", silent(ErrInvalidFormat))
	ErrInvalidTitle   = fmt.Errorf("Please enter a valid presentation title%w", silent(ErrInvalidFormat))
	ErrInvalidName    = fmt.Errorf("Please enter a valid username%w", silent(ErrInvalidFormat))
)

// silentError wraps a category error without adding to the message, so that
// specific errors read naturally and still match their category with errors.Is.
type silentError struct {
	err error
}

func silent(err error) error {
	return &silentError{err: err}
}

func (e *silentError) Error() string {
	return ""
}

func (e *silentError) Unwrap() error {
	return e.err
}

var userVisible = []error{
	ErrUnauthenticated,
	ErrPermissionDenied,
	ErrNotFound,
	ErrInvalidFormat,
	ErrEncoding,
	ErrLastSlide,
	ErrTimeout,
	ErrTransport,
}

// UserMessage returns the text shown to a user for err. Errors outside the
// taxonomy are reported generically.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	for _, known := range userVisible {
		if errors.Is(err, known) {
			return rootMessage(err)
		}
	}
	return fmt.Sprintf("An error occurred: %s", err)
}

// rootMessage strips wrapping context added with fmt.Errorf("...: %w") and
// returns the message of the innermost taxonomy error.
func rootMessage(err error) string {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err.Error()
		}
		if _, ok := next.(*silentError); ok {
			return err.Error()
		}
		err = next
	}
}
