// Copyright (C) 2025 Praxis Learning (oss@praxislearn.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package extensions defines interfaces for hosted deployment functionality.
//
// This package provides extension points that allow hosted Praxis
// deployments (Praxis Classroom) to add capabilities without modifying the
// core open source codebase. The open source version uses no-op defaults
// for every interface.
//
// # Design Philosophy
//
// The open source tutor is a fully functional local service that works
// offline for a single learner. Classroom and institutional features
// (identity, compliance, content policies) are implemented by providing
// concrete implementations of these interfaces and injecting them via
// ServiceOptions.
//
// # Extension Categories
//
// The package is organized by domain:
//
//   - auth.go: Authentication and authorization (AuthProvider, AuthzProvider)
//   - audit.go: Compliance audit logging (AuditLogger)
//   - filter.go: Message transformation and PII redaction (MessageFilter)
//   - classifier.go: Data sensitivity classification (DataClassifier)
//   - request_auditor.go: Tamper-evident transcript chains (RequestAuditor)
//
// # Usage (Open Source)
//
//	opts := extensions.DefaultOptions()
//	handler := handlers.NewTeachHandler(teacher, monitor, opts)
//
// # Usage (Hosted)
//
//	opts := extensions.ServiceOptions{
//	    AuthProvider:  classroom.NewOIDCProvider(config),
//	    AuditLogger:   classroom.NewDistrictAuditor(config),
//	    MessageFilter: classroom.NewMinorSafetyFilter(policy),
//	}
//	handler := handlers.NewTeachHandler(teacher, monitor, opts)
//
// # Thread Safety
//
// All interface implementations must be safe for concurrent use.
// Multiple goroutines may call methods simultaneously.
package extensions

// ServiceOptions groups all extension points for service configuration.
//
// Pass this to handler constructors to enable hosted features. All fields
// are optional; nil values are replaced with no-op defaults when
// DefaultOptions() is called or when handlers check for nil.
type ServiceOptions struct {
	// AuthProvider validates authentication tokens.
	// Default: NopAuthProvider (always returns a valid local learner)
	AuthProvider AuthProvider

	// AuthzProvider checks authorization permissions.
	// Default: NopAuthzProvider (always allows all actions)
	AuthzProvider AuthzProvider

	// AuditLogger records security-relevant events.
	// Default: NopAuditLogger (discards all events)
	AuditLogger AuditLogger

	// MessageFilter transforms messages before/after the LLM.
	// Default: NopMessageFilter (passes through unchanged)
	MessageFilter MessageFilter

	// Classifier scans content for sensitive data.
	// Default: NopDataClassifier (reports everything as public)
	Classifier DataClassifier

	// RequestAuditor captures raw requests and responses for
	// tamper-evident transcript chains.
	// Default: NopRequestAuditor (discards everything)
	RequestAuditor RequestAuditor
}

// DefaultOptions returns ServiceOptions with no-op defaults.
//
// This is the configuration used by the open source version. All operations
// are allowed, no audit trail, no filtering, no classification.
func DefaultOptions() ServiceOptions {
	return ServiceOptions{
		AuthProvider:   &NopAuthProvider{},
		AuthzProvider:  &NopAuthzProvider{},
		AuditLogger:    &NopAuditLogger{},
		MessageFilter:  &NopMessageFilter{},
		Classifier:     &NopDataClassifier{},
		RequestAuditor: &NopRequestAuditor{},
	}
}

// WithAuth returns a copy of opts with the given AuthProvider.
// Useful for fluent configuration.
func (opts ServiceOptions) WithAuth(provider AuthProvider) ServiceOptions {
	opts.AuthProvider = provider
	return opts
}

// WithAuthz returns a copy of opts with the given AuthzProvider.
func (opts ServiceOptions) WithAuthz(provider AuthzProvider) ServiceOptions {
	opts.AuthzProvider = provider
	return opts
}

// WithAudit returns a copy of opts with the given AuditLogger.
func (opts ServiceOptions) WithAudit(logger AuditLogger) ServiceOptions {
	opts.AuditLogger = logger
	return opts
}

// WithFilter returns a copy of opts with the given MessageFilter.
func (opts ServiceOptions) WithFilter(filter MessageFilter) ServiceOptions {
	opts.MessageFilter = filter
	return opts
}

// WithClassifier returns a copy of opts with the given DataClassifier.
func (opts ServiceOptions) WithClassifier(classifier DataClassifier) ServiceOptions {
	opts.Classifier = classifier
	return opts
}

// WithRequestAuditor returns a copy of opts with the given RequestAuditor.
func (opts ServiceOptions) WithRequestAuditor(auditor RequestAuditor) ServiceOptions {
	opts.RequestAuditor = auditor
	return opts
}
