package artifact

import "errors"

// ErrNotFound is returned when no artifact exists for a session and id.
var ErrNotFound = errors.New("artifact not found")
