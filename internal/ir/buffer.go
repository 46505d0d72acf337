package ir

import "fmt"

// BufferKind names which of a rank's buffers a slot lives in.
type BufferKind int

const (
	// BufferInput is the rank's fixed-size input buffer.
	BufferInput BufferKind = iota
	// BufferOutput is the rank's fixed-size output buffer.
	BufferOutput
	// BufferScratch is a named, dynamically grown scratch buffer.
	BufferScratch
)

func (b BufferKind) String() string {
	switch b {
	case BufferInput:
		return "i"
	case BufferOutput:
		return "o"
	case BufferScratch:
		return "s"
	default:
		return fmt.Sprintf("BufferKind(%d)", int(b))
	}
}

// BufferRef names a concrete buffer on a rank: the built-in input/output
// buffers, or a named scratch buffer. Named scratch buffers compare equal by
// name; input/output compare equal by kind alone.
type BufferRef struct {
	Kind BufferKind
	Name string // only meaningful when Kind == BufferScratch
}

func Input() BufferRef  { return BufferRef{Kind: BufferInput} }
func Output() BufferRef { return BufferRef{Kind: BufferOutput} }
func Scratch(name string) BufferRef {
	return BufferRef{Kind: BufferScratch, Name: name}
}

func (b BufferRef) String() string {
	if b.Kind == BufferScratch {
		return b.Name
	}
	return b.Kind.String()
}

// Slot is a single addressable (rank, buffer, index) triple.
type Slot struct {
	Rank   int
	Buffer BufferRef
	Index  int
}
