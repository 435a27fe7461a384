// Package mcp exposes the skill library over the Model Context Protocol so
// external assistants can query what the agent has learned.
package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/imjszhang/wiseflow/pkg/skills"
)

// Server wraps the skill manager as an MCP tool provider.
type Server struct {
	skills *skills.Manager
	server *server.MCPServer
}

// NewServer creates an MCP server over the skill library.
func NewServer(manager *skills.Manager, version string) *Server {
	s := &Server{skills: manager}

	mcpServer := server.NewMCPServer(
		"kaichi-skills",
		version,
		server.WithToolCapabilities(true),
	)
	s.registerTools(mcpServer)
	s.server = mcpServer
	return s
}

func (s *Server) registerTools(mcpServer *server.MCPServer) {
	mcpServer.AddTool(
		mcp.NewTool("skill_search",
			mcp.WithDescription("Search learned skills by name. Returns the code of matching skills."),
			mcp.WithString("query",
				mcp.Required(),
				mcp.Description("Substring matched against skill names (case-insensitive)"),
			),
		),
		s.handleSearch,
	)

	mcpServer.AddTool(
		mcp.NewTool("skill_get",
			mcp.WithDescription("Get a skill's code and JSON-Schema description by exact name."),
			mcp.WithString("name",
				mcp.Required(),
				mcp.Description("Exact skill name"),
			),
		),
		s.handleGet,
	)

	mcpServer.AddTool(
		mcp.NewTool("skill_list",
			mcp.WithDescription("List the names of all learned skills."),
		),
		s.handleList,
	)
}

func (s *Server) handleSearch(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query := request.GetString("query", "")
	if query == "" {
		return mcp.NewToolResultError("query parameter is required"), nil
	}

	codes, err := s.skills.RetrieveSkills(ctx, query)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("search failed: %v", err)), nil
	}
	if len(codes) == 0 {
		return mcp.NewToolResultText("No matching skills."), nil
	}
	return mcp.NewToolResultText(strings.Join(codes, "\n\n")), nil
}

func (s *Server) handleGet(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name := request.GetString("name", "")
	if name == "" {
		return mcp.NewToolResultError("name parameter is required"), nil
	}

	skill, ok := s.skills.GetSkill(name)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("skill %q not found", name)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("# %s\n\n%s\n\nDescription:\n%s", name, skill.Code, skill.Description)), nil
}

func (s *Server) handleList(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	names := s.skills.ListSkills()
	if len(names) == 0 {
		return mcp.NewToolResultText("No skills learned yet."), nil
	}
	return mcp.NewToolResultText(strings.Join(names, "\n")), nil
}

// ServeStdio starts the MCP server on stdio.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.server)
}
