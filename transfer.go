package netycat

import (
	"errors"
	"io"
)

// transferAllSync calls step on the untransferred remainder of p until
// all of it has been moved. A step that moves nothing, or reports
// [io.EOF], before p is exhausted ends the transfer with [ErrConnectionClosed].
// The returned count is the number of bytes moved either way.
func transferAllSync(p []byte, step func([]byte) (int, error)) (int, error) {
	total := 0
	for total < len(p) {
		n, err := step(p[total:])
		total += n
		switch {
		case errors.Is(err, io.EOF):
			return total, ErrConnectionClosed
		case err != nil:
			return total, err
		case n == 0:
			return total, ErrConnectionClosed
		}
	}
	return total, nil
}

// transferAll is the continuation form of [transferAllSync]: each
// completion of step either finishes the transfer or issues the next
// step for the remainder, so at most one step is in flight at a time.
// done is called exactly once. p must not be empty.
func transferAll(p []byte, step func([]byte, func(int, error)), done func(int, error)) {
	total := 0
	var next func(n int, err error)
	next = func(n int, err error) {
		total += n
		switch {
		case errors.Is(err, io.EOF):
			done(total, ErrConnectionClosed)
		case err != nil:
			done(total, err)
		case total >= len(p):
			done(total, nil)
		case n == 0:
			done(total, ErrConnectionClosed)
		default:
			step(p[total:], next)
		}
	}
	step(p, next)
}
