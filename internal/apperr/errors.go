// Package apperr holds the sentinel errors shared across todosync.
package apperr

import "errors"

var (
	ErrNotFound = errors.New("not found")

	// ErrConfiguration aborts the current pass (no database target configured).
	ErrConfiguration = errors.New("configuration error")
	// ErrRemoteQuery means the remote snapshot could not be fetched.
	ErrRemoteQuery = errors.New("remote query failed")
	// ErrRemoteWrite means a create, update or archive call failed.
	ErrRemoteWrite = errors.New("remote write failed")
	// ErrNoWorkspace means there is no editable root to rewrite files in.
	ErrNoWorkspace = errors.New("no workspace")
	// ErrMalformedIdentifier means a link is present but carries no usable id.
	ErrMalformedIdentifier = errors.New("malformed identifier")
)
