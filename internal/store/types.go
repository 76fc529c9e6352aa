package store

import (
	"cmp"
	"encoding/json"
	"slices"
	"time"

	"github.com/omnivurse/crm-eco-sub011/pkg/schema"
)

// Sequence is the persisted form of a sequence with its steps ordered by step_order.
type Sequence struct {
	ID             string                  `json:"id"`
	OrganizationID string                  `json:"organization_id"`
	Name           string                  `json:"name"`
	Description    string                  `json:"description,omitempty"`
	Status         schema.SequenceStatus   `json:"status"`
	Settings       schema.SequenceSettings `json:"settings"`
	ExitConditions []schema.ExitCondition  `json:"exit_conditions,omitempty"`
	Steps          []*Step                 `json:"steps"`
	EnrolledCount  int                     `json:"enrolled_count"`
	CompletedCount int                     `json:"completed_count"`
	CreatedAt      time.Time               `json:"created_at"`
	UpdatedAt      time.Time               `json:"updated_at"`
}

// SequenceFromDefinition builds an unsaved draft sequence with its steps
// sorted by order.
func SequenceFromDefinition(def *schema.SequenceDefinition) *Sequence {
	seq := &Sequence{
		OrganizationID: def.OrganizationID,
		Name:           def.Name,
		Description:    def.Description,
		Status:         schema.SequenceStatusDraft,
		Settings:       def.Settings,
		ExitConditions: def.ExitConditions,
		Steps:          make([]*Step, 0, len(def.Steps)),
	}
	for _, sd := range def.Steps {
		seq.Steps = append(seq.Steps, &Step{
			Order:     sd.Order,
			Type:      sd.Type,
			Delay:     sd.Delay,
			Email:     sd.Email,
			Condition: sd.Condition,
		})
	}
	slices.SortStableFunc(seq.Steps, func(a, b *Step) int { return cmp.Compare(a.Order, b.Order) })
	return seq
}

// FirstStep returns the step with the lowest order, or nil for an empty sequence.
func (s *Sequence) FirstStep() *Step {
	if len(s.Steps) == 0 {
		return nil
	}
	return s.Steps[0]
}

// StepAfter returns the step with the smallest order strictly greater than order, or nil.
func (s *Sequence) StepAfter(order int) *Step {
	var next *Step
	for _, st := range s.Steps {
		if st.Order > order && (next == nil || st.Order < next.Order) {
			next = st
		}
	}
	return next
}

// StepByID returns the step with the given id, or nil.
func (s *Sequence) StepByID(id string) *Step {
	for _, st := range s.Steps {
		if st.ID == id {
			return st
		}
	}
	return nil
}

// Step is one persisted sequence step.
type Step struct {
	ID         string                  `json:"id"`
	SequenceID string                  `json:"sequence_id"`
	Order      int                     `json:"step_order"`
	Type       schema.StepType         `json:"step_type"`
	Delay      schema.Delay            `json:"delay"`
	Email      *schema.EmailConfig     `json:"email,omitempty"`
	Condition  *schema.ConditionConfig `json:"condition,omitempty"`
	CreatedAt  time.Time               `json:"created_at"`
}

// stepConfig is the JSON stored in sequence_steps.config.
type stepConfig struct {
	Email     *schema.EmailConfig     `json:"email,omitempty"`
	Condition *schema.ConditionConfig `json:"condition,omitempty"`
}

// Record is a snapshot of the enrolled external record.
type Record struct {
	ID        string         `json:"id"`
	ModuleKey string         `json:"module_key"`
	Email     string         `json:"email,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
	Tags      []string       `json:"tags,omitempty"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Enrollment is one record's cursor over a sequence.
type Enrollment struct {
	ID               string                  `json:"id"`
	SequenceID       string                  `json:"sequence_id"`
	RecordID         string                  `json:"record_id"`
	ModuleKey        string                  `json:"module_key"`
	Email            string                  `json:"email"`
	EnrolledBy       string                  `json:"enrolled_by,omitempty"`
	CurrentStepID    string                  `json:"current_step_id,omitempty"`
	CurrentStepOrder int                     `json:"current_step_order"`
	Status           schema.EnrollmentStatus `json:"status"`
	NextStepAt       *time.Time              `json:"next_step_at,omitempty"`
	EnrolledAt       time.Time               `json:"enrolled_at"`
	CompletedAt      *time.Time              `json:"completed_at,omitempty"`
	ExitedAt         *time.Time              `json:"exited_at,omitempty"`
	ExitReason       string                  `json:"exit_reason,omitempty"`
	ClaimedBy        string                  `json:"claimed_by,omitempty"`
	ClaimedUntil     *time.Time              `json:"claimed_until,omitempty"`
	UpdatedAt        time.Time               `json:"updated_at"`
}

// StepExecution is an immutable entry in the execution log.
type StepExecution struct {
	ID           int64                  `json:"id"`
	EnrollmentID string                 `json:"enrollment_id"`
	SequenceID   string                 `json:"sequence_id"`
	StepID       string                 `json:"step_id"`
	StepOrder    int                    `json:"step_order"`
	StepType     schema.StepType        `json:"step_type"`
	Status       schema.ExecutionStatus `json:"status"`
	Result       json.RawMessage        `json:"result,omitempty"`
	Error        string                 `json:"error,omitempty"`
	ExecutedAt   time.Time              `json:"executed_at"`
}

// Signal is an immutable side-channel event.
type Signal struct {
	ID           int64             `json:"id"`
	EnrollmentID string            `json:"enrollment_id,omitempty"`
	RecordID     string            `json:"record_id,omitempty"`
	Email        string            `json:"email,omitempty"`
	Type         schema.SignalType `json:"event_type"`
	Payload      json.RawMessage   `json:"payload,omitempty"`
	OccurredAt   time.Time         `json:"occurred_at"`
}

// OutboundEmail is one rendered message handed to the transport.
type OutboundEmail struct {
	ID           string                `json:"id"`
	To           string                `json:"to"`
	Subject      string                `json:"subject"`
	HTMLBody     string                `json:"html_body,omitempty"`
	TextBody     string                `json:"text_body,omitempty"`
	FromOverride string                `json:"from_override,omitempty"`
	SequenceID   string                `json:"sequence_id"`
	EnrollmentID string                `json:"enrollment_id"`
	StepID       string                `json:"step_id"`
	RecordID     string                `json:"record_id"`
	Status       schema.OutboundStatus `json:"status"`
	CreatedAt    time.Time             `json:"created_at"`
}

// Transition is the full post-step state written for an enrollment.
// Execution, when set, is appended in the same transaction.
type Transition struct {
	From               schema.EnrollmentStatus
	Status             schema.EnrollmentStatus
	CurrentStepID      string
	CurrentStepOrder   int
	NextStepAt         *time.Time
	CompletedAt        *time.Time
	ExitedAt           *time.Time
	ExitReason         string
	IncrementCompleted bool
	ClaimOwner         string // when set, the write only applies while the claim is held
	RetainClaim        bool   // keep the lease for a follow-up step in the same tick
	Execution          *StepExecution
}

// --- Filter types ---

// SequenceFilter controls sequence listing.
type SequenceFilter struct {
	OrganizationID string
	Status         *schema.SequenceStatus
	Limit          int
}

// EnrollmentFilter controls enrollment listing.
type EnrollmentFilter struct {
	SequenceID string
	RecordID   string
	Status     *schema.EnrollmentStatus
	Limit      int
	Offset     int
}

// OutboundFilter controls outbound email listing.
type OutboundFilter struct {
	SequenceID   string
	EnrollmentID string
	Status       *schema.OutboundStatus
	Limit        int
}
