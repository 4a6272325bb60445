// Package notify publishes state-change events and driver offers. The core
// only supplies a subject and a payload; delivery mechanics belong to the
// notifications collaborator consuming the stream.
package notify

import "context"

// Subjects for the exposed event stream.
const (
	SubjectRideRequested = "ride.requested"
	SubjectRideAccepted  = "ride.accepted"
	SubjectRideStarted   = "ride.started"
	SubjectRideCompleted = "ride.completed"
	SubjectRideCanceled  = "ride.canceled"

	SubjectDispatchOffer = "dispatch.offer"

	SubjectReservationCreated  = "carpool.reservation_created"
	SubjectReservationCanceled = "carpool.reservation_canceled"

	SubjectJoinRequested = "carpool.join_requested"
	SubjectJoinAccepted  = "carpool.join_accepted"
	SubjectJoinRejected  = "carpool.join_rejected"
)

type Notifier interface {
	Publish(ctx context.Context, subject string, payload any) error
}

// Nop discards everything; used in tests and offline runs.
type Nop struct{}

func (Nop) Publish(context.Context, string, any) error { return nil }
