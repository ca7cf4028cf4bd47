// Package gateway defines the contract to the external telephony operation:
// a call is accepted synchronously and completes asynchronously, reported
// out of band through the signal package (or never).
package gateway

import (
	"context"

	"github.com/IvanSScrobot/ardent-ms-call-retell/backlog"
)

// CallRef identifies an accepted call at the telephony provider. It is the
// correlation handle between a dispatched task and its completion signal.
type CallRef string

// Gateway submits one backlog task as an outbound call.
type Gateway interface {
	// Submit starts the call for the task and returns the provider's
	// call reference. Submission errors should be wrapped with
	// retry.MarkPermanent when the request can never succeed (validation,
	// authorization); everything else is treated as transient.
	Submit(ctx context.Context, task *backlog.Task) (CallRef, error)
}
