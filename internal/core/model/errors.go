package model

import "errors"

var (
	// ErrExtraction marks a unit whose extraction call failed or returned
	// unparseable output. The unit is skipped.
	ErrExtraction = errors.New("extraction failed")
	// ErrWrite marks a single failed store write. Processing continues.
	ErrWrite = errors.New("store write failed")
	// ErrResolution marks a relation whose endpoint could not be found.
	ErrResolution = errors.New("relation endpoint unresolved")
	// ErrMergeAbort is informational: a merge would exceed the alias
	// ceiling and a new node was created instead.
	ErrMergeAbort = errors.New("merge aborted")
	// ErrCheckpointIO ends a run; progress cannot be persisted.
	ErrCheckpointIO = errors.New("checkpoint io failed")
	// ErrTransient marks an external call worth retrying.
	ErrTransient = errors.New("transient external failure")
)
