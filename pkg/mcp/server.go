package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/omnivurse/crm-eco-sub011/internal/engine"
	"github.com/omnivurse/crm-eco-sub011/internal/store"
	"github.com/omnivurse/crm-eco-sub011/internal/streaming"
	"github.com/omnivurse/crm-eco-sub011/pkg/schema"
)

// Sequencer is the subset of *engine.Engine exposed as tools.
type Sequencer interface {
	Enroll(ctx context.Context, req engine.EnrollRequest) (*store.Enrollment, error)
	Tick(ctx context.Context) (engine.TickResult, error)
	Status(ctx context.Context, enrollmentID string) (*engine.EnrollmentStatus, error)
	RecordSignal(ctx context.Context, req engine.SignalRequest) (*store.Signal, error)
	DefineSequence(ctx context.Context, def *schema.SequenceDefinition) (*store.Sequence, error)
	SetSequenceStatus(ctx context.Context, sequenceID string, to schema.SequenceStatus) (*store.Sequence, error)
	Pause(ctx context.Context, enrollmentID, reason string) (*store.Enrollment, error)
	Resume(ctx context.Context, enrollmentID string) (*store.Enrollment, error)
	Exit(ctx context.Context, enrollmentID, reason string) (*store.Enrollment, error)
}

// TickRunner runs a tick outside the regular schedule. *scheduler.Scheduler
// satisfies it and refuses overlapping ticks.
type TickRunner interface {
	TriggerNow(ctx context.Context) (engine.TickResult, error)
}

// SequencerServerDeps holds the dependencies for creating a SequencerServer.
type SequencerServerDeps struct {
	Engine Sequencer
	Store  store.Store
	Ticker TickRunner    // optional; Engine.Tick is used when nil
	Events streaming.Hub // optional; lifecycle events become client notifications
	Logger *slog.Logger
}

// SequencerServer wraps an MCP server with the enrollment tool handlers.
type SequencerServer struct {
	engine    Sequencer
	store     store.Store
	ticker    TickRunner
	events    streaming.Hub
	logger    *slog.Logger
	mcpServer *server.MCPServer
	notify    func(method string, params map[string]any)
}

// NewSequencerServer creates a SequencerServer with all tools registered.
func NewSequencerServer(deps SequencerServerDeps) *SequencerServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &SequencerServer{
		engine: deps.Engine,
		store:  deps.Store,
		ticker: deps.Ticker,
		events: deps.Events,
		logger: logger,
	}

	mcpSrv := server.NewMCPServer(
		"sequencer",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Sequencer drives records through timed email sequences. Use sequencer.define to register a sequence, sequencer.transition to activate, pause or archive it, sequencer.enroll to place a record in it, sequencer.signal to report opens, clicks, replies, bounces and unsubscribes, sequencer.status to inspect an enrollment, sequencer.query to list sequences or enrollments, sequencer.tick to process due enrollments now, and sequencer.diagram to draw a sequence with an enrollment's progress."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	s.notify = mcpSrv.SendNotificationToAllClients
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *SequencerServer) Serve(ctx context.Context) error {
	if s.events != nil {
		ch, cancel, err := s.events.Subscribe(ctx, streaming.Filter{})
		if err != nil {
			return err
		}
		defer cancel()
		go s.forwardEvents(ctx, ch)
	}
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// forwardEvents relays lifecycle events as MCP log notifications until ctx
// ends or ch closes.
func (s *SequencerServer) forwardEvents(ctx context.Context, ch <-chan streaming.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			s.notify("notifications/message", map[string]any{
				"level":  "info",
				"logger": "sequencer",
				"data":   ev.Map(),
			})
		}
	}
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *SequencerServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *SequencerServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: enrollTool(), Handler: s.handleEnroll},
		{Tool: tickTool(), Handler: s.handleTick},
		{Tool: statusTool(), Handler: s.handleStatus},
		{Tool: signalTool(), Handler: s.handleSignal},
		{Tool: defineTool(), Handler: s.handleDefine},
		{Tool: transitionTool(), Handler: s.handleTransition},
		{Tool: queryTool(), Handler: s.handleQuery},
		{Tool: diagramTool(), Handler: s.handleDiagram},
	}
}

// --- Tool definitions ---

func enrollTool() mcp.Tool {
	return mcp.NewTool("sequencer.enroll",
		mcp.WithDescription("Enroll a record into a sequence"),
		mcp.WithString("sequence_id", mcp.Required(), mcp.Description("ID of the sequence")),
		mcp.WithString("record_id", mcp.Required(), mcp.Description("ID of the CRM record")),
		mcp.WithString("module_key", mcp.Required(), mcp.Description("Module of the record, e.g. leads or contacts")),
		mcp.WithString("email", mcp.Required(), mcp.Description("Recipient email address")),
		mcp.WithString("enrolled_by", mcp.Description("User or agent performing the enrollment")),
	)
}

func tickTool() mcp.Tool {
	return mcp.NewTool("sequencer.tick",
		mcp.WithDescription("Process all due enrollments now"),
	)
}

func statusTool() mcp.Tool {
	return mcp.NewTool("sequencer.status",
		mcp.WithDescription("Get an enrollment with its execution log and signals"),
		mcp.WithString("enrollment_id", mcp.Required(), mcp.Description("ID of the enrollment")),
	)
}

func signalTool() mcp.Tool {
	return mcp.NewTool("sequencer.signal",
		mcp.WithDescription("Record an email event for an enrollment"),
		mcp.WithString("enrollment_id", mcp.Required(), mcp.Description("ID of the enrollment")),
		mcp.WithString("event_type", mcp.Required(),
			mcp.Enum("open", "click", "reply", "bounce", "unsubscribe"),
			mcp.Description("Type of event"),
		),
		mcp.WithObject("payload", mcp.Description("Event payload")),
	)
}

func defineTool() mcp.Tool {
	return mcp.NewTool("sequencer.define",
		mcp.WithDescription("Register a sequence definition as a draft"),
		mcp.WithObject("definition", mcp.Required(), mcp.Description("Sequence definition object")),
		mcp.WithBoolean("activate", mcp.Description("Activate the sequence after registering it")),
	)
}

func transitionTool() mcp.Tool {
	return mcp.NewTool("sequencer.transition",
		mcp.WithDescription("Change the status of a sequence or an enrollment"),
		mcp.WithString("resource", mcp.Required(),
			mcp.Enum("sequence", "enrollment"),
			mcp.Description("Kind of object to transition"),
		),
		mcp.WithString("id", mcp.Required(), mcp.Description("ID of the sequence or enrollment")),
		mcp.WithString("action", mcp.Required(),
			mcp.Enum("activate", "pause", "resume", "archive", "exit"),
			mcp.Description("activate, pause or archive for sequences; pause, resume or exit for enrollments"),
		),
		mcp.WithString("reason", mcp.Description("Reason stored on paused or exited enrollments")),
	)
}

func queryTool() mcp.Tool {
	return mcp.NewTool("sequencer.query",
		mcp.WithDescription("List sequences or enrollments"),
		mcp.WithString("resource", mcp.Required(),
			mcp.Enum("sequences", "enrollments"),
			mcp.Description("Type of resource to query"),
		),
		mcp.WithObject("filter", mcp.Description("Filter criteria (status, organization_id, sequence_id, record_id, limit, offset)")),
	)
}

func diagramTool() mcp.Tool {
	return mcp.NewTool("sequencer.diagram",
		mcp.WithDescription("Draw a sequence as ASCII art or a Mermaid flowchart"),
		mcp.WithString("sequence_id", mcp.Required(), mcp.Description("ID of the sequence")),
		mcp.WithString("enrollment_id", mcp.Description("Overlay the progress of this enrollment")),
		mcp.WithString("format", mcp.Required(),
			mcp.Enum("ascii", "mermaid"),
			mcp.Description("Output format: ascii (text) or mermaid (flowchart syntax)"),
		),
	)
}
