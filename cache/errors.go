package cache

import "errors"

// ErrInvalidArgument is the kind wrapped by every user-facing validation
// error: construction bounds, timestamp regression, non-positive TTL, and a
// sweep target ratio below the accepted floor. Test with
// errors.Is(err, ErrInvalidArgument).
var ErrInvalidArgument = errors.New("cache: invalid argument")
