package model

import "errors"

// ErrNotFound is wrapped by repositories when a lookup matches no row.
var ErrNotFound = errors.New("not found")
