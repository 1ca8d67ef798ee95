// Copyright (C) 2025 Praxis Learning (oss@praxislearn.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import "errors"

// Sentinel errors for the tutor service. Handlers match on these with
// errors.Is and map them to HTTP statuses; raw upstream errors are wrapped
// and never serialized to clients (SEC-005).
var (
	// ErrInvalidRequest marks client-side validation failures.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrPolicyViolation marks student messages blocked by the policy engine.
	ErrPolicyViolation = errors.New("policy violation")

	// ErrStorage marks memory store read/write failures.
	ErrStorage = errors.New("storage failure")

	// ErrUpstreamUnavailable marks LLM failures that survived the fallback
	// tier. It is the only generation error that reaches the transport.
	ErrUpstreamUnavailable = errors.New("upstream model unavailable")

	// ErrStreamAborted marks streams cut short by client cancellation.
	ErrStreamAborted = errors.New("stream aborted")
)
