// Package timeouts defines shared timeout constants used across the service.
// Centralizing these values prevents drift between boundaries and makes the
// durations discoverable.
package timeouts

import "time"

// CredentialVerify caps the wait time for session verification so a slow or
// unreachable auth collaborator cannot hang the mutation gateway.
const CredentialVerify = 2 * time.Second

// ReadHeader limits how long the HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long the HTTP server waits for in-flight requests
// during graceful shutdown.
const Shutdown = 5 * time.Second

// SubscriptionRetry is the delay between recompute attempts after a
// transient store failure on a live subscription.
const SubscriptionRetry = time.Second
