package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/spinje/pflow-sub005/capability"
	"github.com/spinje/pflow-sub005/executor"
	"github.com/spinje/pflow-sub005/ir"
	"github.com/spinje/pflow-sub005/planner"
	"github.com/spinje/pflow-sub005/schema"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var titleCaser = cases.Title(language.English)

// Title turns a capability id such as "read-file" into "Read File".
func Title(id string) string {
	id = strings.TrimPrefix(id, "workflow/")
	return titleCaser.String(strings.NewReplacer("-", " ", "_", " ", ".", " ").Replace(id))
}

type capabilityInfo struct {
	ID          string                      `json:"id"`
	Title       string                      `json:"title"`
	Description string                      `json:"description"`
	Purpose     string                      `json:"purpose,omitempty"`
	Inputs      map[string]capability.Field `json:"inputs,omitempty"`
	Params      map[string]capability.Field `json:"params,omitempty"`
	Outputs     map[string]capability.Field `json:"outputs,omitempty"`
}

type violation struct {
	Code       string `json:"code"`
	Path       string `json:"path,omitempty"`
	Message    string `json:"message"`
	Suggestion string `json:"suggestion,omitempty"`
}

func violations(errs schema.ValidationErrors) []violation {
	out := make([]violation, 0, len(errs))
	for _, e := range errs {
		out = append(out, violation{Code: e.Code, Path: e.Path, Message: e.Message, Suggestion: e.Suggestion})
	}
	return out
}

func objectArg(req mcp.CallToolRequest, name string) map[string]any {
	if raw, ok := req.GetArguments()[name]; ok && raw != nil {
		if m, ok := raw.(map[string]any); ok {
			return m
		}
	}
	return nil
}

func (s *Server) handleListCapabilities(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	descs, err := s.catalog.List(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("list capabilities: %v", err)), nil
	}
	infos := make([]capabilityInfo, 0, len(descs))
	for _, d := range descs {
		infos = append(infos, capabilityInfo{
			ID:          d.ID,
			Title:       Title(d.ID),
			Description: d.Description,
			Purpose:     d.Purpose,
			Inputs:      d.Inputs,
			Params:      d.Params,
			Outputs:     d.Outputs,
		})
	}
	return marshalToolResult(map[string]any{
		"capabilities": infos,
		"count":        len(infos),
	})
}

func (s *Server) handleListWorkflows(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.workflows == nil {
		return mcp.NewToolResultError("no workflow store configured"), nil
	}
	list, err := s.workflows.List(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("list workflows: %v", err)), nil
	}
	return marshalToolResult(map[string]any{
		"workflows": list,
		"count":     len(list),
	})
}

func (s *Server) handleValidateWorkflow(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	doc := mcp.ParseString(req, "workflow", "")
	if strings.TrimSpace(doc) == "" {
		return mcp.NewToolResultError("workflow is required"), nil
	}
	descs, err := s.catalog.List(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("list capabilities: %v", err)), nil
	}

	wf, errs := schema.ValidateDocument([]byte(doc), schema.WithCatalog(descs))
	result := map[string]any{
		"valid":  len(errs) == 0,
		"errors": violations(errs),
	}
	if wf != nil {
		result["summary"] = fmt.Sprintf("%d nodes, %d inputs, %d outputs", len(wf.Nodes), len(wf.Inputs), len(wf.Outputs))
	}
	return marshalToolResult(result)
}

func (s *Server) handlePlanWorkflow(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.planner == nil {
		return mcp.NewToolResultError("no planner configured"), nil
	}
	request := mcp.ParseString(req, "request", "")
	if strings.TrimSpace(request) == "" {
		return mcp.NewToolResultError("request is required"), nil
	}

	res, err := s.planner.Plan(ctx, planner.PlanRequest{
		Request:  request,
		Provided: objectArg(req, "params"),
		Save:     mcp.ParseBoolean(req, "save", false),
		Name:     mcp.ParseString(req, "name", ""),
	})
	var missing *planner.MissingInputsError
	if err != nil && !errors.As(err, &missing) {
		s.logger.Warn("MCP plan failed", "error", err)
		result := map[string]any{"success": false, "error": err.Error()}
		var exhausted *planner.RetryExhaustedError
		if errors.As(err, &exhausted) {
			result["violations"] = violations(exhausted.Last)
			result["attempts"] = exhausted.Attempts
		}
		return marshalToolResult(result)
	}

	result := map[string]any{
		"success":  true,
		"ready":    missing == nil,
		"name":     res.Name,
		"reused":   res.Reused,
		"saved":    res.Saved,
		"workflow": res.Workflow,
		"inputs":   res.Inputs,
	}
	if res.History != nil {
		result["generations"] = res.History.Generations()
	}
	if missing != nil {
		result["missing_inputs"] = missing.Missing
		if len(missing.Ambiguous) > 0 {
			result["ambiguous_inputs"] = missing.Ambiguous
		}
		if len(missing.HintedButMissing) > 0 {
			result["mentioned_inputs"] = missing.HintedButMissing
		}
	}
	return marshalToolResult(result)
}

func (s *Server) handleRunWorkflow(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name := mcp.ParseString(req, "name", "")
	doc := mcp.ParseString(req, "workflow", "")

	var wf *ir.Workflow
	switch {
	case name != "" && doc != "":
		return mcp.NewToolResultError("provide either name or workflow, not both"), nil
	case name != "":
		if s.workflows == nil {
			return mcp.NewToolResultError("no workflow store configured"), nil
		}
		loaded, err := s.workflows.Load(ctx, name)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("load workflow: %v", err)), nil
		}
		wf = loaded
	case doc != "":
		parsed, err := ir.Parse([]byte(doc))
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("parse workflow: %v", err)), nil
		}
		wf = parsed
	default:
		return mcp.NewToolResultError("name or workflow is required"), nil
	}

	res, err := executor.Run(ctx, wf, s.catalog, objectArg(req, "inputs"), s.execOpts...)
	if err != nil {
		result := map[string]any{"success": false, "error": err.Error()}
		var compileErrs schema.ValidationErrors
		if errors.As(err, &compileErrs) {
			result["violations"] = violations(compileErrs)
		}
		var missing *executor.MissingInputError
		if errors.As(err, &missing) {
			result["missing_inputs"] = missing.Missing
		}
		var nodeErr *executor.NodeError
		if errors.As(err, &nodeErr) {
			result["failed_node"] = nodeErr.NodeID
		}
		if res != nil {
			result["execution_id"] = res.ExecutionID
			result["status"] = res.Status
			result["trace"] = res.Trace
			if node := res.FailedNode(); node != "" {
				result["failed_node"] = node
			}
		}
		return marshalToolResult(result)
	}
	return marshalToolResult(map[string]any{
		"success":      true,
		"execution_id": res.ExecutionID,
		"status":       res.Status,
		"outputs":      res.Outputs,
		"trace":        res.Trace,
	})
}
