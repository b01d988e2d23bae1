package assist

import (
	"context"
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Kurisu21/webeenthere-sub000/kit"
)

// RegisterMCP registers the assistant tools on an MCP server.
func (s *Service) RegisterMCP(srv *mcp.Server) {
	s.registerInstructTool(srv)
	s.registerSuggestTool(srv)
	s.registerHistoryTool(srv)
	s.registerSaveTool(srv)
}

// inputSchema builds a JSON Schema object with type "object".
func inputSchema(properties map[string]any, required []string) map[string]any {
	sch := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		sch["required"] = required
	}
	return sch
}

// --- instruct ---

type instructRequest struct {
	WebsiteID     string `json:"website_id"`
	Instruction   string `json:"instruction"`
	Selection     string `json:"selection,omitempty"`
	DeviceContext string `json:"device_context,omitempty"`
}

func (s *Service) registerInstructTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "webeenthere_instruct",
		Description: "Apply a natural-language edit to a website's canvas. Returns the explanation and whether the change was applied and saved.",
		InputSchema: inputSchema(map[string]any{
			"website_id":     map[string]any{"type": "string", "description": "Website to edit"},
			"instruction":    map[string]any{"type": "string", "description": "What to change, in plain language"},
			"selection":      map[string]any{"type": "string", "description": "Optional CSS criterion scoping the edit"},
			"device_context": map[string]any{"type": "string", "description": "Editing viewport, e.g. mobile"},
		}, []string{"website_id", "instruction"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*instructRequest)
		sess, err := s.Session(ctx, r.WebsiteID)
		if err != nil {
			return nil, err
		}
		return sess.Instruct(ctx, MutationRequest{
			Instruction:   r.Instruction,
			Selection:     r.Selection,
			DeviceContext: r.DeviceContext,
		})
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r instructRequest
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

// --- suggest ---

type suggestRequest struct {
	WebsiteID     string `json:"website_id"`
	DeviceContext string `json:"device_context,omitempty"`
}

func (s *Service) registerSuggestTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "webeenthere_suggest",
		Description: "Ask the assistant for one autonomous improvement to a website and apply it.",
		InputSchema: inputSchema(map[string]any{
			"website_id":     map[string]any{"type": "string", "description": "Website to improve"},
			"device_context": map[string]any{"type": "string", "description": "Editing viewport, e.g. mobile"},
		}, []string{"website_id"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*suggestRequest)
		sess, err := s.Session(ctx, r.WebsiteID)
		if err != nil {
			return nil, err
		}
		return sess.Suggest(ctx, r.DeviceContext)
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r suggestRequest
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

// --- history ---

type historyRequest struct {
	WebsiteID string `json:"website_id"`
	Page      int    `json:"page,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

func (s *Service) registerHistoryTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "webeenthere_history",
		Description: "Read a website's assistant conversation records, newest first.",
		InputSchema: inputSchema(map[string]any{
			"website_id": map[string]any{"type": "string", "description": "Website whose history to read"},
			"page":       map[string]any{"type": "integer", "description": "Page number, starting at 1"},
			"limit":      map[string]any{"type": "integer", "description": "Records per page (default 50, max 200)"},
		}, []string{"website_id"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*historyRequest)
		return s.History(ctx, r.WebsiteID, r.Page, r.Limit)
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r historyRequest
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

// --- save ---

type saveRequest struct {
	WebsiteID string `json:"website_id"`
}

func (s *Service) registerSaveTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "webeenthere_save",
		Description: "Persist a website's current canvas content.",
		InputSchema: inputSchema(map[string]any{
			"website_id": map[string]any{"type": "string", "description": "Website to save"},
		}, []string{"website_id"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*saveRequest)
		if err := s.SaveWebsite(ctx, r.WebsiteID); err != nil {
			return nil, err
		}
		return map[string]string{"status": "saved"}, nil
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r saveRequest
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}
