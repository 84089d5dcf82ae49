package domain

import (
	"errors"
	"fmt"
)

var (
	ErrFetch       = errors.New("fetch feed")
	ErrParse       = errors.New("parse feed")
	ErrMapping     = errors.New("map feed item")
	ErrPersistence = errors.New("persist feed")
)

// MappingError reports a feed item that resolved to neither an identifier
// nor a link, so it has no identity key to reconcile against.
type MappingError struct {
	FeedURL string
	Index   int
	Title   string
}

func (e *MappingError) Error() string {
	return fmt.Sprintf("%s: item %d (title = %q) of %s has no identifier and no link",
		ErrMapping, e.Index, e.Title, e.FeedURL)
}

func (e *MappingError) Unwrap() error {
	return ErrMapping
}
