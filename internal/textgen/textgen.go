// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package textgen is the client for the external text-generation
// collaborator. Callers must tolerate every error in the taxonomy
// without crashing a job: each one counts as a failed attempt eligible
// for retry or fallback.
package textgen

import (
	"context"
	"errors"
)

var (
	// ErrProviderUnavailable means the provider rejected or could not
	// serve the request (network failure, overload, 5xx). Retryable.
	ErrProviderUnavailable = errors.New("text generation provider unavailable")

	// ErrSafetyBlocked means the provider refused the prompt on safety
	// grounds. Retryable only with a different prompt; jobs treat it as
	// a failed attempt.
	ErrSafetyBlocked = errors.New("text generation blocked by safety filter")

	// ErrTimeout means the call exceeded its deadline. Retryable.
	ErrTimeout = errors.New("text generation timed out")
)

// Generator produces text for a prompt. Implementations must honor the
// context deadline and map provider failures onto the package taxonomy.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}
