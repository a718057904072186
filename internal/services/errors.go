// Package services defines the business logic for solve synchronization,
// statistics aggregation, and sign-in. This file centralizes common
// service-level error values so that they can be consistently returned by
// service methods and checked by callers.
//
// These errors are intended for internal use by the service layer and
// translation into user-facing messages or HTTP status codes should be
// performed at the handler layer.
package services

import "errors"

var (
	// ErrHasIdentity is returned when a pushed solve carries a
	// repository-assigned id. Push only creates new solves; it can never
	// overwrite an existing record.
	ErrHasIdentity = errors.New("pushed solve must not carry an id")

	// ErrMissingStartTime is returned when a pushed solve lacks a numeric
	// startTime, the identity key of a solve within a user's collection.
	ErrMissingStartTime = errors.New("pushed solve requires a numeric startTime")

	// ErrUnknownProvider is returned when a login names an identity
	// provider this deployment is not configured for.
	ErrUnknownProvider = errors.New("unknown identity provider")

	// ErrUnknownScoreKind is returned when a statistics request names a
	// score dimension other than "time" or "moves".
	ErrUnknownScoreKind = errors.New(`score kind must be "time" or "moves"`)
)
