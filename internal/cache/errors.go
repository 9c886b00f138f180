package cache

import "errors"

// ErrQuotaExceeded is returned by a Store when a write would exceed its byte quota.
var ErrQuotaExceeded = errors.New("storage quota exceeded")

// ErrUnavailable is reported when a tier's backing capability is missing or failed to open.
var ErrUnavailable = errors.New("storage capability unavailable")

// ErrCorrupted is reported when a stored entry cannot be decoded.
var ErrCorrupted = errors.New("cache entry is corrupted")

// ErrInvalidKey is returned by a Store for keys it cannot hold.
var ErrInvalidKey = errors.New("invalid cache key")
