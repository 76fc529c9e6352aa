package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/omnivurse/crm-eco-sub011/internal/diagram"
	"github.com/omnivurse/crm-eco-sub011/internal/engine"
	"github.com/omnivurse/crm-eco-sub011/internal/store"
	"github.com/omnivurse/crm-eco-sub011/pkg/schema"
)

// handleEnroll places a record into a sequence.
func (s *SequencerServer) handleEnroll(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sequenceID, err := req.RequireString("sequence_id")
	if err != nil {
		return mcp.NewToolResultError("sequence_id is required"), nil
	}
	recordID, err := req.RequireString("record_id")
	if err != nil {
		return mcp.NewToolResultError("record_id is required"), nil
	}
	moduleKey, err := req.RequireString("module_key")
	if err != nil {
		return mcp.NewToolResultError("module_key is required"), nil
	}
	email, err := req.RequireString("email")
	if err != nil {
		return mcp.NewToolResultError("email is required"), nil
	}

	enr, enrollErr := s.engine.Enroll(ctx, engine.EnrollRequest{
		SequenceID: sequenceID,
		RecordID:   recordID,
		ModuleKey:  moduleKey,
		Email:      email,
		EnrolledBy: req.GetString("enrolled_by", ""),
	})
	if enrollErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("enroll failed: %v", enrollErr)), nil
	}
	return marshalResult(enr)
}

// handleTick processes due enrollments, preferring the scheduler so a manual
// tick never overlaps a scheduled one.
func (s *SequencerServer) handleTick(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var (
		result engine.TickResult
		err    error
	)
	if s.ticker != nil {
		result, err = s.ticker.TriggerNow(ctx)
	} else {
		result, err = s.engine.Tick(ctx)
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("tick failed: %v", err)), nil
	}
	return marshalResult(result)
}

// handleStatus returns an enrollment with its history.
func (s *SequencerServer) handleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	enrollmentID, err := req.RequireString("enrollment_id")
	if err != nil {
		return mcp.NewToolResultError("enrollment_id is required"), nil
	}

	status, statusErr := s.engine.Status(ctx, enrollmentID)
	if statusErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("status query failed: %v", statusErr)), nil
	}
	return marshalResult(status)
}

// handleSignal records an email event.
func (s *SequencerServer) handleSignal(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	enrollmentID, err := req.RequireString("enrollment_id")
	if err != nil {
		return mcp.NewToolResultError("enrollment_id is required"), nil
	}
	eventType, err := req.RequireString("event_type")
	if err != nil {
		return mcp.NewToolResultError("event_type is required"), nil
	}

	sigReq := engine.SignalRequest{
		EnrollmentID: enrollmentID,
		Type:         schema.SignalType(eventType),
	}
	if payload := mcp.ParseStringMap(req, "payload", nil); payload != nil {
		raw, marshalErr := json.Marshal(payload)
		if marshalErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid payload: %v", marshalErr)), nil
		}
		sigReq.Payload = raw
	}

	sig, sigErr := s.engine.RecordSignal(ctx, sigReq)
	if sigErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("signal failed: %v", sigErr)), nil
	}
	return marshalResult(map[string]any{
		"ok":            true,
		"signal_id":     sig.ID,
		"enrollment_id": enrollmentID,
		"event_type":    eventType,
	})
}

// handleDefine registers a sequence definition, optionally activating it.
func (s *SequencerServer) handleDefine(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	defRaw := mcp.ParseStringMap(req, "definition", nil)
	if defRaw == nil {
		return mcp.NewToolResultError("definition is required"), nil
	}

	defBytes, marshalErr := json.Marshal(defRaw)
	if marshalErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid definition: %v", marshalErr)), nil
	}
	var def schema.SequenceDefinition
	if unmarshalErr := json.Unmarshal(defBytes, &def); unmarshalErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid definition: %v", unmarshalErr)), nil
	}

	seq, defErr := s.engine.DefineSequence(ctx, &def)
	if defErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("define failed: %v", defErr)), nil
	}

	if req.GetBool("activate", false) {
		activated, actErr := s.engine.SetSequenceStatus(ctx, seq.ID, schema.SequenceStatusActive)
		if actErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("sequence %s defined but activation failed: %v", seq.ID, actErr)), nil
		}
		seq = activated
	}

	return marshalResult(map[string]any{
		"sequence_id": seq.ID,
		"status":      seq.Status,
		"steps":       len(seq.Steps),
	})
}

// handleTransition changes the status of a sequence or an enrollment.
func (s *SequencerServer) handleTransition(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	resource, err := req.RequireString("resource")
	if err != nil {
		return mcp.NewToolResultError("resource is required"), nil
	}
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError("id is required"), nil
	}
	action, err := req.RequireString("action")
	if err != nil {
		return mcp.NewToolResultError("action is required"), nil
	}
	reason := req.GetString("reason", "")

	switch resource {
	case "sequence":
		return s.transitionSequence(ctx, id, action)
	case "enrollment":
		return s.transitionEnrollment(ctx, id, action, reason)
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown resource type: %s", resource)), nil
	}
}

var sequenceActions = map[string]schema.SequenceStatus{
	"activate": schema.SequenceStatusActive,
	"pause":    schema.SequenceStatusPaused,
	"archive":  schema.SequenceStatusArchived,
}

func (s *SequencerServer) transitionSequence(ctx context.Context, id, action string) (*mcp.CallToolResult, error) {
	to, ok := sequenceActions[action]
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("action %q does not apply to sequences", action)), nil
	}
	seq, err := s.engine.SetSequenceStatus(ctx, id, to)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("transition failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"sequence_id": seq.ID, "status": seq.Status})
}

func (s *SequencerServer) transitionEnrollment(ctx context.Context, id, action, reason string) (*mcp.CallToolResult, error) {
	var (
		enr *store.Enrollment
		err error
	)
	switch action {
	case "pause":
		enr, err = s.engine.Pause(ctx, id, reason)
	case "resume":
		enr, err = s.engine.Resume(ctx, id)
	case "exit":
		enr, err = s.engine.Exit(ctx, id, reason)
	default:
		return mcp.NewToolResultError(fmt.Sprintf("action %q does not apply to enrollments", action)), nil
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("transition failed: %v", err)), nil
	}
	return marshalResult(enr)
}

// handleQuery lists sequences or enrollments.
func (s *SequencerServer) handleQuery(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	resource, err := req.RequireString("resource")
	if err != nil {
		return mcp.NewToolResultError("resource is required"), nil
	}
	if s.store == nil {
		return mcp.NewToolResultError("query is unavailable without a store"), nil
	}

	filter := mcp.ParseStringMap(req, "filter", nil)

	switch resource {
	case "sequences":
		return s.querySequences(ctx, filter)
	case "enrollments":
		return s.queryEnrollments(ctx, filter)
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown resource type: %s", resource)), nil
	}
}

// --- Query helpers ---

func (s *SequencerServer) querySequences(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	sf := store.SequenceFilter{
		Limit: extractInt(filter, "limit", 50),
	}
	if status, ok := filter["status"].(string); ok && status != "" {
		ss := schema.SequenceStatus(status)
		sf.Status = &ss
	}
	if orgID, ok := filter["organization_id"].(string); ok {
		sf.OrganizationID = orgID
	}

	sequences, err := s.store.ListSequences(ctx, sf)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"sequences": sequences})
}

func (s *SequencerServer) queryEnrollments(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	ef := store.EnrollmentFilter{
		Limit:  extractInt(filter, "limit", 50),
		Offset: extractInt(filter, "offset", 0),
	}
	if status, ok := filter["status"].(string); ok && status != "" {
		es := schema.EnrollmentStatus(status)
		ef.Status = &es
	}
	if seqID, ok := filter["sequence_id"].(string); ok {
		ef.SequenceID = seqID
	}
	if recordID, ok := filter["record_id"].(string); ok {
		ef.RecordID = recordID
	}

	enrollments, err := s.store.ListEnrollments(ctx, ef)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"enrollments": enrollments})
}

// handleDiagram renders a sequence, optionally overlaid with one enrollment.
func (s *SequencerServer) handleDiagram(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sequenceID, err := req.RequireString("sequence_id")
	if err != nil {
		return mcp.NewToolResultError("sequence_id is required"), nil
	}
	format, err := req.RequireString("format")
	if err != nil {
		return mcp.NewToolResultError("format is required"), nil
	}
	if format != "ascii" && format != "mermaid" {
		return mcp.NewToolResultError("format must be ascii or mermaid"), nil
	}
	if s.store == nil {
		return mcp.NewToolResultError("diagram is unavailable without a store"), nil
	}

	seq, seqErr := s.store.GetSequence(ctx, sequenceID)
	if seqErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("sequence not found: %v", seqErr)), nil
	}

	var (
		enr   *store.Enrollment
		execs []*store.StepExecution
	)
	if enrollmentID := req.GetString("enrollment_id", ""); enrollmentID != "" {
		status, statusErr := s.engine.Status(ctx, enrollmentID)
		if statusErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("status query failed: %v", statusErr)), nil
		}
		enr, execs = status.Enrollment, status.Executions
	}

	model, buildErr := diagram.Build(seq, enr, execs)
	if buildErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("diagram build failed: %v", buildErr)), nil
	}
	text, renderErr := diagram.Render(model, format)
	if renderErr != nil {
		return mcp.NewToolResultError(renderErr.Error()), nil
	}
	return mcp.NewToolResultText(text), nil
}

// --- Internal helpers ---

// extractInt safely extracts an integer from a filter map.
func extractInt(filter map[string]any, key string, defaultVal int) int {
	if filter == nil {
		return defaultVal
	}
	v, ok := filter[key]
	if !ok {
		return defaultVal
	}
	switch val := v.(type) {
	case float64:
		return int(val)
	case int:
		return val
	case string:
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
