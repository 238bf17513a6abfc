package request

import "errors"

// ErrInvalidUniqueKey is returned when a Request's unique key would be
// empty or otherwise unusable for deduplication.
var ErrInvalidUniqueKey = errors.New("unique key must be a non-empty string")
