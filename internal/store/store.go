package store

import (
	"context"
	"time"

	"github.com/omnivurse/crm-eco-sub011/pkg/schema"
)

// Store defines the persistence contract of the enrollment engine.
// All implementations must be safe for concurrent use.
type Store interface {
	// Sequences
	CreateSequence(ctx context.Context, seq *Sequence) error
	GetSequence(ctx context.Context, id string) (*Sequence, error)
	UpdateSequenceStatus(ctx context.Context, id string, status schema.SequenceStatus) error
	ListSequences(ctx context.Context, filter SequenceFilter) ([]*Sequence, error)

	// Records (read-only to the processor)
	UpsertRecord(ctx context.Context, rec *Record) error
	GetRecord(ctx context.Context, id string) (*Record, error)
	AddRecordTag(ctx context.Context, recordID, tag string) error
	RemoveRecordTag(ctx context.Context, recordID, tag string) error
	HasRecordTag(ctx context.Context, recordID, tag string) (bool, error)

	// Signals (append-only)
	AppendSignal(ctx context.Context, sig *Signal) error
	HasSignal(ctx context.Context, enrollmentID string, signalType schema.SignalType) (bool, error)
	ListSignals(ctx context.Context, enrollmentID string) ([]*Signal, error)

	// Unsubscribes
	AddUnsubscribe(ctx context.Context, email, reason string) error
	IsUnsubscribed(ctx context.Context, email string) (bool, error)

	// Enrollments
	CreateEnrollment(ctx context.Context, enr *Enrollment) error
	GetEnrollment(ctx context.Context, id string) (*Enrollment, error)
	ListEnrollments(ctx context.Context, filter EnrollmentFilter) ([]*Enrollment, error)
	ClaimDue(ctx context.Context, owner string, now time.Time, lease time.Duration, limit int) ([]*Enrollment, error)
	ReleaseClaim(ctx context.Context, enrollmentID, owner string) error
	CommitTransition(ctx context.Context, enrollmentID string, tr Transition) error

	// Step executions (append-only)
	AppendExecution(ctx context.Context, exec *StepExecution) error
	ListExecutions(ctx context.Context, enrollmentID string) ([]*StepExecution, error)

	// Outbound queue table
	EnqueueOutbound(ctx context.Context, msg *OutboundEmail) error
	ListOutbound(ctx context.Context, filter OutboundFilter) ([]*OutboundEmail, error)

	// Maintenance
	Migrate(ctx context.Context) error
	Vacuum(ctx context.Context) error

	// Lifecycle
	Close() error
}
