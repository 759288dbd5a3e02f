package xmodel

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrUnsupportedVersion        = errors.New("unsupported version")
	ErrMalformedLine             = errors.New("malformed line")
	ErrMalformedNumber           = errors.New("malformed number")
	ErrInvalidParserState        = errors.New("invalid parser state")
	ErrNonTriangularFace         = errors.New("only triangular faces are supported")
	ErrOrphanVertex              = errors.New("vertex has no bone influence")
	ErrUnresolvedBoneReference   = errors.New("unresolved bone reference")
	ErrUnresolvedVertexReference = errors.New("unresolved vertex reference")
)

// ParseError reports the line that aborted a parse.
type ParseError struct {
	Line int
	Text string
	Err  error
}

func (e *ParseError) Error() string {
	if e.Line == 0 {
		return e.Err.Error()
	}
	return fmt.Sprintf("line %d %q: %v", e.Line, e.Text, e.Err)
}

func (e *ParseError) Cause() error  { return e.Err }
func (e *ParseError) Unwrap() error { return e.Err }
