package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"gitdelayed/internal/core"
	"gitdelayed/internal/store"
)

const version = "1.0.0"

// MCPServer exposes scheduling as MCP tools.
type MCPServer struct {
	store    *store.Store
	service  *core.Service
	logger   *slog.Logger
	location *time.Location
	server   *server.MCPServer
}

// NewMCPServer creates a new MCP server instance with all tools registered.
func NewMCPServer(store *store.Store, service *core.Service, logger *slog.Logger) *MCPServer {
	s := &MCPServer{
		store:    store,
		service:  service,
		logger:   logger.With("component", "mcp"),
		location: service.Location(),
	}
	s.server = server.NewMCPServer(
		"gitdelayed",
		version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)
	s.registerTools(s.server)
	return s
}

// ServeStdio serves the tools over stdin/stdout until the client disconnects.
func (s *MCPServer) ServeStdio() error {
	s.logger.Info("MCP server starting on stdio")
	return server.ServeStdio(s.server)
}

// HTTPHandler serves the tools over the streamable HTTP transport.
func (s *MCPServer) HTTPHandler() http.Handler {
	return server.NewStreamableHTTPServer(s.server)
}

// registerTools registers all available MCP tools.
func (s *MCPServer) registerTools(mcpServer *server.MCPServer) {
	mcpServer.AddTool(mcp.NewTool("schedule_operation",
		mcp.WithDescription("Defer a git commit or push in a repository. Time accepts '+N minutes|hours|days', a weekday name (09:00 local) or 'YYYY-MM-DD HH:MM'."),
		mcp.WithString("time",
			mcp.Required(),
			mcp.Description("When to run, e.g. '+10 hours', 'Monday', '2025-11-04 09:00'"),
		),
		mcp.WithString("kind",
			mcp.Required(),
			mcp.Description("Operation to run"),
			mcp.Enum(string(core.KindCommit), string(core.KindPush)),
		),
		mcp.WithString("repo",
			mcp.Required(),
			mcp.Description("Path inside the target git working tree"),
		),
		mcp.WithString("message",
			mcp.Description("Commit message, required for commit"),
		),
	), s.handleSchedule)

	mcpServer.AddTool(mcp.NewTool("list_operations",
		mcp.WithDescription("List scheduled operations ordered by due time"),
		mcp.WithString("status",
			mcp.Description("Only show operations in this status"),
			mcp.Enum(statusNames()...),
		),
	), s.handleList)

	mcpServer.AddTool(mcp.NewTool("get_operation",
		mcp.WithDescription("Show one scheduled operation"),
		mcp.WithString("operation_id",
			mcp.Required(),
			mcp.Description("Operation ID"),
		),
	), s.handleGet)

	mcpServer.AddTool(mcp.NewTool("cancel_operation",
		mcp.WithDescription("Cancel a pending or retrying operation"),
		mcp.WithString("operation_id",
			mcp.Required(),
			mcp.Description("Operation ID"),
		),
	), s.handleCancel)

	mcpServer.AddTool(mcp.NewTool("list_executions",
		mcp.WithDescription("Show execution history, newest first"),
		mcp.WithString("operation_id",
			mcp.Description("Restrict to one operation"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Number of records to return, default 20"),
			mcp.Min(1),
			mcp.Max(200),
		),
	), s.handleListExecutions)

	mcpServer.AddTool(mcp.NewTool("preview_time",
		mcp.WithDescription("Resolve a time expression without scheduling anything"),
		mcp.WithString("time",
			mcp.Required(),
			mcp.Description("Time expression"),
		),
	), s.handlePreview)

	s.logger.Debug("MCP tools registered", "count", 6)
}

func (s *MCPServer) handleSchedule(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	repo := mcp.ParseString(request, "repo", "")
	if strings.TrimSpace(repo) == "" {
		return mcp.NewToolResultError("repo is required"), nil
	}
	op, err := s.service.Schedule(ctx, core.ScheduleRequest{
		Expr:    mcp.ParseString(request, "time", ""),
		Kind:    core.OperationKind(mcp.ParseString(request, "kind", "")),
		Message: mcp.ParseString(request, "message", ""),
		Dir:     repo,
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("schedule failed: %v", err)), nil
	}
	s.logger.Info("operation scheduled", "op_id", op.ID, "kind", op.Kind, "due_at", op.DueAt)
	return mcp.NewToolResultText(fmt.Sprintf("Scheduled %s\nID: %s\nRepository: %s\nDue: %s",
		op.Kind, op.ID, op.RepositoryPath, s.formatTime(&op.DueAt))), nil
}

func (s *MCPServer) handleList(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filter := core.OperationStatus(mcp.ParseString(request, "status", ""))
	if filter != "" && !filter.Valid() {
		return mcp.NewToolResultError(fmt.Sprintf("unknown status %q", filter)), nil
	}
	ops, corrupt, err := s.store.ListOperations(ctx)
	if err != nil {
		s.logger.Error("list operations", "err", err)
		return mcp.NewToolResultError(fmt.Sprintf("list operations failed: %v", err)), nil
	}

	var b strings.Builder
	shown := 0
	for _, op := range ops {
		if filter != "" && op.Status != filter {
			continue
		}
		shown++
		fmt.Fprintf(&b, "%s [%s] %s\n", op.ID, op.Status, op.Kind)
		fmt.Fprintf(&b, "  Repository: %s\n", op.RepositoryPath)
		fmt.Fprintf(&b, "  Due: %s\n", s.formatTime(&op.DueAt))
		if op.Status == core.StatusRetrying {
			fmt.Fprintf(&b, "  Next retry: %s (attempts %d)\n", s.formatTime(op.NextRetryAt), op.Attempts)
		}
		if op.Message != "" {
			fmt.Fprintf(&b, "  Message: %s\n", truncateString(op.Message, 60))
		}
	}
	for _, rec := range corrupt {
		fmt.Fprintf(&b, "%s [corrupt] %v\n", rec.ID, rec.Err)
	}
	if shown == 0 && len(corrupt) == 0 {
		return mcp.NewToolResultText("No operations found"), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Found %d operations:\n\n%s", shown, b.String())), nil
}

func (s *MCPServer) handleGet(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := mcp.ParseString(request, "operation_id", "")
	op, err := s.store.GetOperation(ctx, id)
	if err != nil {
		if errors.Is(err, core.ErrOperationNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("operation not found: %s", id)), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("get operation failed: %v", err)), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "ID: %s\n", op.ID)
	fmt.Fprintf(&b, "Kind: %s\n", op.Kind)
	fmt.Fprintf(&b, "Status: %s\n", op.Status)
	fmt.Fprintf(&b, "Repository: %s\n", op.RepositoryPath)
	if op.Message != "" {
		fmt.Fprintf(&b, "Message: %s\n", op.Message)
	}
	if op.Branch != "" {
		fmt.Fprintf(&b, "Branch: %s\n", op.Branch)
	}
	fmt.Fprintf(&b, "Due: %s\n", s.formatTime(&op.DueAt))
	fmt.Fprintf(&b, "Attempts: %d\n", op.Attempts)
	if op.NextRetryAt != nil {
		fmt.Fprintf(&b, "Next retry: %s\n", s.formatTime(op.NextRetryAt))
	}
	if op.LastError != nil {
		fmt.Fprintf(&b, "Last error: %s\n", *op.LastError)
	}
	fmt.Fprintf(&b, "Created: %s\n", s.formatTime(&op.CreatedAt))
	return mcp.NewToolResultText(b.String()), nil
}

func (s *MCPServer) handleCancel(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := mcp.ParseString(request, "operation_id", "")
	op, err := s.service.Cancel(ctx, id)
	switch {
	case errors.Is(err, core.ErrOperationNotFound):
		return mcp.NewToolResultError(fmt.Sprintf("operation not found: %s", id)), nil
	case errors.Is(err, core.ErrOperationExecuting):
		return mcp.NewToolResultError("operation is executing right now; try again once it finishes"), nil
	case errors.Is(err, core.ErrOperationFinal):
		return mcp.NewToolResultError(fmt.Sprintf("operation %s already finished", id)), nil
	case err != nil && op == nil:
		return mcp.NewToolResultError(fmt.Sprintf("cancel failed: %v", err)), nil
	case err != nil:
		s.logger.Warn("cancel recorded without history", "op_id", id, "err", err)
	}
	return mcp.NewToolResultText(fmt.Sprintf("Cancelled %s", op.ID)), nil
}

func (s *MCPServer) handleListExecutions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := mcp.ParseString(request, "operation_id", "")
	limit := int(mcp.ParseFloat64(request, "limit", 20))
	execs, err := s.store.ListExecutions(ctx, id, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("list executions failed: %v", err)), nil
	}
	if len(execs) == 0 {
		return mcp.NewToolResultText("No executions recorded"), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d executions:\n\n", len(execs))
	for _, e := range execs {
		fmt.Fprintf(&b, "[%s] %s attempt %d\n", e.Outcome, e.OperationID, e.Attempt)
		fmt.Fprintf(&b, "    Started: %s\n", s.formatTime(&e.StartedAt))
		fmt.Fprintf(&b, "    Took: %s\n", e.EndedAt.Sub(e.StartedAt).Round(time.Millisecond))
		if e.Error != nil {
			fmt.Fprintf(&b, "    Error: %s\n", *e.Error)
		}
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *MCPServer) handlePreview(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	expr := mcp.ParseString(request, "time", "")
	due, err := s.service.Preview(expr)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("%s resolves to %s (%s)", expr, s.formatTime(&due), s.location)), nil
}

func (s *MCPServer) formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.In(s.location).Format("2006-01-02 15:04:05")
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

func statusNames() []string {
	return []string{
		string(core.StatusPending),
		string(core.StatusExecuting),
		string(core.StatusRetrying),
		string(core.StatusSucceeded),
		string(core.StatusAbandoned),
		string(core.StatusCancelled),
	}
}
