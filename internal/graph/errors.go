package graph

import "errors"

// Sentinel errors for graph operations.
var (
	// ErrNodeNotFound is returned when a lookup names an id that is not in the graph.
	ErrNodeNotFound = errors.New("node not found")

	// ErrDuplicateNode is returned by BuildIndexes when two nodes share an id.
	ErrDuplicateNode = errors.New("duplicate node ID")

	// ErrDuplicateEdge is returned by BuildIndexes when two edges share an id.
	ErrDuplicateEdge = errors.New("duplicate edge ID")

	// ErrAlreadyIndexed is returned when BuildIndexes runs twice on one graph.
	ErrAlreadyIndexed = errors.New("graph is already indexed")

	// ErrGraphNotReady is returned when an operation needs a sealed graph
	// (indexed and navigable) and receives anything else.
	ErrGraphNotReady = errors.New("graph is not indexed and navigable")

	// ErrDanglingLink marks a link whose source or target atom does not exist.
	ErrDanglingLink = errors.New("dangling link")

	// ErrDuplicateAtom marks an atom whose id was already used by an earlier atom.
	ErrDuplicateAtom = errors.New("duplicate atom ID")

	// ErrBuildCancelled is returned when a build is cancelled via context.
	ErrBuildCancelled = errors.New("build cancelled")
)
