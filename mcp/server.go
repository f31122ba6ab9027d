// Package mcp provides a Model Context Protocol (MCP) server that exposes
// the capability catalog, saved workflows, IR validation, planning, and
// execution to AI assistants.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spinje/pflow-sub005/capability"
	"github.com/spinje/pflow-sub005/executor"
	"github.com/spinje/pflow-sub005/planner"
	"github.com/spinje/pflow-sub005/schema"
	"github.com/spinje/pflow-sub005/store"
)

// Version is the MCP server version, set at build time.
var Version = "dev"

// irSchemaURI names the resource serving the IR JSON Schema.
const irSchemaURI = "pflow://schema/ir"

// Catalog is what the server needs from the capability registry: listing
// for discovery and validation, and binding for execution.
// *capability.Registry satisfies it.
type Catalog interface {
	capability.Catalog
	executor.Binder
}

// ServerOption configures optional Server behaviour.
type ServerOption func(*Server)

// WithWorkflowStore enables list_workflows and running saved workflows by name.
func WithWorkflowStore(ws store.WorkflowStore) ServerOption {
	return func(s *Server) { s.workflows = ws }
}

// WithPlanner enables the plan_workflow tool.
func WithPlanner(p *planner.Planner) ServerOption {
	return func(s *Server) { s.planner = p }
}

// WithExecutorOptions sets the options passed to every run_workflow execution.
func WithExecutorOptions(opts ...executor.Option) ServerOption {
	return func(s *Server) { s.execOpts = append(s.execOpts, opts...) }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// Server wraps an MCP server instance and the pflow components behind its tools.
type Server struct {
	mcpServer *server.MCPServer
	catalog   Catalog
	workflows store.WorkflowStore
	planner   *planner.Planner
	execOpts  []executor.Option
	logger    *slog.Logger
}

// NewServer creates an MCP server with every tool and resource registered.
// Tools that need a workflow store or planner report an error when called
// without one.
func NewServer(catalog Catalog, opts ...ServerOption) *Server {
	s := &Server{catalog: catalog, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}

	s.mcpServer = server.NewMCPServer(
		"pflow-mcp-server",
		Version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("This MCP server compiles natural-language requests into linear workflows "+
			"of capabilities and runs them. List capabilities and saved workflows, validate workflow IR, "+
			"plan a workflow from a request, and run saved or inline workflows with inputs."),
	)
	s.registerTools()
	s.registerResources()
	return s
}

// MCPServer returns the underlying mcp-go server instance.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// ServeStdio starts the MCP server over standard input/output.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcp.NewTool("list_capabilities",
			mcp.WithDescription("List every capability in the catalog with its inputs, params, and outputs. Node types in workflow IR must be one of these ids."),
			mcp.WithReadOnlyHintAnnotation(true),
		),
		s.handleListCapabilities,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("list_workflows",
			mcp.WithDescription("List saved workflows with their descriptions, keywords, inputs, and outputs."),
			mcp.WithReadOnlyHintAnnotation(true),
		),
		s.handleListWorkflows,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("validate_workflow",
			mcp.WithDescription("Validate a workflow IR document (JSON or YAML) against the IR schema and the capability catalog. Returns every violation with a code, path, and suggested fix."),
			mcp.WithString("workflow",
				mcp.Required(),
				mcp.Description("The workflow IR document as JSON or YAML text"),
			),
			mcp.WithReadOnlyHintAnnotation(true),
		),
		s.handleValidateWorkflow,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("plan_workflow",
			mcp.WithDescription("Compile a natural-language request into a validated workflow. Reuses a saved workflow when one matches. Returns the IR, the resolved inputs, and any required inputs that could not be determined. Does not execute."),
			mcp.WithString("request",
				mcp.Required(),
				mcp.Description("What the workflow should do"),
			),
			mcp.WithObject("params",
				mcp.Description("Input values to use instead of extracting them from the request"),
			),
			mcp.WithBoolean("save",
				mcp.Description("Save the generated workflow. Default: false"),
			),
			mcp.WithString("name",
				mcp.Description("Name to save the workflow under. Defaults to the synthesized name"),
			),
		),
		s.handlePlanWorkflow,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("run_workflow",
			mcp.WithDescription("Run a saved workflow by name, or an inline workflow IR document, with the given inputs. Returns the outputs and the per-node execution trace."),
			mcp.WithString("name",
				mcp.Description("Name of a saved workflow"),
			),
			mcp.WithString("workflow",
				mcp.Description("Inline workflow IR document as JSON or YAML text"),
			),
			mcp.WithObject("inputs",
				mcp.Description("Workflow input values"),
			),
		),
		s.handleRunWorkflow,
	)
}

func (s *Server) registerResources() {
	s.mcpServer.AddResource(
		mcp.NewResource(
			irSchemaURI,
			"Workflow IR JSON Schema",
			mcp.WithResourceDescription("The JSON Schema every workflow IR document must satisfy."),
			mcp.WithMIMEType("application/schema+json"),
		),
		s.handleIRSchema,
	)
}

func (s *Server) handleIRSchema(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	data, err := json.MarshalIndent(schema.GenerateIRSchema(), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal IR schema: %w", err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      irSchemaURI,
			MIMEType: "application/schema+json",
			Text:     string(data),
		},
	}, nil
}

// marshalToolResult serializes v as indented JSON text content.
func marshalToolResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("internal error: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
