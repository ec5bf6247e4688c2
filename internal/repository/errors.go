package repository

import "errors"

// ErrNotFound reports a missing booking, driver, user or pricing row.
var ErrNotFound = errors.New("record not found")
