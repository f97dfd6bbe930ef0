package model

import (
	"errors"

	"eve-hoarder/internal/dump"
)

// isEOF reports whether err is the clean end-of-stream signal a streaming
// reader sees at a record boundary, as opposed to a mid-record corruption
// error: a short read at a record boundary is EOF, mid-record is corruption.
func isEOF(err error) bool {
	return errors.Is(err, dump.ErrEOF)
}
