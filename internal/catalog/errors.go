package catalog

import "fmt"

// Error reports malformed catalog inputs: a missing metadata file, a
// metadata-listed resolution without its image file, or a scene id collision.
// Catalog errors are fatal to the whole run since a partial catalog would
// silently drop tasks from every shard.
type Error struct {
	Subject string // scene or HDRI the problem was found in
	Reason  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("catalog: %s: %s", e.Subject, e.Reason)
}

func errf(subject, format string, args ...any) *Error {
	return &Error{Subject: subject, Reason: fmt.Sprintf(format, args...)}
}
