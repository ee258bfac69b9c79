// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Safe Bill Contributors

package store

import (
	sberr "github.com/safebill/assistant/pkg/errors"
)

// ErrSessionNotFound returns the not-found error every backend reports for an
// unknown session ID.
func ErrSessionNotFound(id string) error {
	return sberr.New(sberr.CodeStoreSessionGetNotFound, "session "+id+" not found", sberr.FieldSessionID(id))
}

// ErrSessionExists returns the conflict error for a duplicate session ID.
func ErrSessionExists(id string) error {
	return sberr.New(sberr.CodeStoreSessionUpdateConflict, "session "+id+" already exists", sberr.FieldSessionID(id))
}

// ErrDatabase wraps a backend failure.
func ErrDatabase(err error, format string, args ...any) error {
	return sberr.Wrapf(err, sberr.CodeStoreDatabaseFailure, format, args...)
}
