package ir

import "errors"

// Error kinds from spec.md §7. All but ErrCheckFailed are fatal: compilation
// aborts immediately, wrapped with call-site context via fmt.Errorf("%w: ...").
var (
	// Structural
	ErrNoActiveProgram   = errors.New("no active program region")
	ErrNestedProgram     = errors.New("a program region is already active")
	ErrNoLink            = errors.New("no link between source and destination rank")
	ErrUnknownCollective = errors.New("unknown collective")
	ErrUnknownProtocol   = errors.New("unknown protocol")

	// Shape
	ErrNotDivisor     = errors.New("split count does not evenly divide ref size")
	ErrBufferMismatch = errors.New("refs disagree on rank or buffer")
	ErrMissingSet     = errors.New("ref has unfilled holes")

	// Resource
	ErrPeerConflict = errors.New("threadblock already bound to a different peer")

	// Graph
	ErrUnreachableSlot   = errors.New("op references a slot with no producer")
	ErrDependencyCycle   = errors.New("dependency cycle across threadblocks")
	ErrUnmatchedSendRecv = errors.New("unmatched send or recv")
	ErrChannelReordered  = errors.New("matched sends observed out of order on their channel")

	// Oracle (non-fatal at compile time; surfaced as a bool, see Check)
	ErrCheckFailed = errors.New("collective correctness check failed")
)
