package schema

// EnrollmentStatus is the lifecycle state of an enrollment.
type EnrollmentStatus string

const (
	EnrollmentActive    EnrollmentStatus = "active"
	EnrollmentPaused    EnrollmentStatus = "paused"
	EnrollmentCompleted EnrollmentStatus = "completed"
	EnrollmentExited    EnrollmentStatus = "exited"
)

// IsTerminal reports whether no further transitions are possible.
func (s EnrollmentStatus) IsTerminal() bool {
	return s == EnrollmentCompleted || s == EnrollmentExited
}

// SignalType enumerates side-channel events recorded against an enrollment.
type SignalType string

const (
	SignalOpen        SignalType = "open"
	SignalClick       SignalType = "click"
	SignalReply       SignalType = "reply"
	SignalBounce      SignalType = "bounce"
	SignalUnsubscribe SignalType = "unsubscribe"
)

// Valid reports whether the signal type is known.
func (t SignalType) Valid() bool {
	switch t {
	case SignalOpen, SignalClick, SignalReply, SignalBounce, SignalUnsubscribe:
		return true
	}
	return false
}

// ExecutionStatus is the outcome of one step execution.
type ExecutionStatus string

const (
	ExecutionSuccess ExecutionStatus = "success"
	ExecutionFailed  ExecutionStatus = "failed"
)

// OutboundStatus is the state of a queued email.
type OutboundStatus string

const (
	OutboundQueued OutboundStatus = "queued"
)

// Exit and pause reasons written to enrollments.
const (
	ReasonSequencePaused = "Sequence paused"
	ReasonReplied        = "Replied to sequence email"
	ReasonBounced        = "Email bounced"
	ReasonUnsubscribed   = "Unsubscribed"
	ReasonManualExit     = "Exited manually"
)
