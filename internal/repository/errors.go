package repository

import "errors"

// ErrVersionConflict is returned when a ticket was modified since it was read.
var ErrVersionConflict = errors.New("ticket version conflict")
