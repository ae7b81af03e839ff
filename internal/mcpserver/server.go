// Package mcpserver exposes the technique matcher to MCP clients over stdio.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"yashubustudio/attackmapper/internal/app"
	"yashubustudio/attackmapper/mapper"
)

const maxSuggestions = 10

// Server answers mapping questions against one session.
type Server struct {
	version string
	session *app.Session
}

// New creates an MCP server backed by session.
func New(version string, session *app.Session) *Server {
	return &Server{version: version, session: session}
}

// Serve runs on stdio until the client disconnects.
func (s *Server) Serve() error {
	return mcpserver.ServeStdio(s.build())
}

func (s *Server) build() *mcpserver.MCPServer {
	srv := mcpserver.NewMCPServer(
		"attackmap",
		s.version,
		mcpserver.WithRecovery(),
		mcpserver.WithToolCapabilities(false),
	)

	srv.AddTool(
		mcp.NewTool("map_use_case",
			mcp.WithDescription("Find the MITRE ATT&CK techniques closest to a security use case description"),
			mcp.WithString("description",
				mcp.Description("Free-text use case description"),
				mcp.Required(),
			),
			mcp.WithNumber("top_k",
				mcp.Description("Number of candidate techniques to return"),
				mcp.DefaultNumber(1),
				mcp.Min(1),
				mcp.Max(maxSuggestions),
			),
			mcp.WithReadOnlyHintAnnotation(true),
		),
		s.handleMapUseCase,
	)

	srv.AddTool(
		mcp.NewTool("map_use_cases",
			mcp.WithDescription("Map a batch of use case descriptions and return per-technique counts and coverage"),
			mcp.WithArray("descriptions",
				mcp.Description("Use case descriptions, one per record"),
				mcp.Required(),
				mcp.WithStringItems(),
			),
			mcp.WithReadOnlyHintAnnotation(true),
		),
		s.handleMapUseCases,
	)

	srv.AddTool(
		mcp.NewTool("list_tactics",
			mcp.WithDescription("List the ATT&CK tactics in kill-chain order with their technique counts"),
			mcp.WithReadOnlyHintAnnotation(true),
		),
		s.handleListTactics,
	)
	return srv
}

func (s *Server) handleMapUseCase(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := request.RequireString("description")
	if err != nil {
		return mcp.NewToolResultError("missing required argument: description"), nil
	}
	k := request.GetInt("top_k", 1)
	if k < 1 {
		k = 1
	}
	if k > maxSuggestions {
		k = maxSuggestions
	}
	if _, err := s.session.Ensure(ctx); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("taxonomy unavailable: %v", err)), nil
	}
	matches, err := s.session.Service().Suggest(ctx, text, k)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("mapping failed: %v", err)), nil
	}
	return jsonResult(matches)
}

type batchResult struct {
	Records  int                 `json:"records"`
	Mapped   int                 `json:"mapped"`
	Failed   int                 `json:"failed"`
	Matches  []mapper.Match      `json:"matches"`
	Ranked   []mapper.TallyEntry `json:"ranked"`
	Coverage mapper.Coverage     `json:"coverage"`
	// Uncovered lists the technique IDs no record mapped to.
	Uncovered []string `json:"uncovered"`
}

func (s *Server) handleMapUseCases(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	descriptions, err := request.RequireStringSlice("descriptions")
	if err != nil || len(descriptions) == 0 {
		return mcp.NewToolResultError("descriptions must be a non-empty array of strings"), nil
	}
	tbl := &mapper.Table{Header: []string{"Description"}}
	for _, d := range descriptions {
		tbl.Rows = append(tbl.Rows, []string{d})
	}
	res, err := s.session.ProcessTable(ctx, tbl, "mcp")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("mapping failed: %v", err)), nil
	}
	uncovered := []string{}
	for _, tech := range mapper.Uncovered(res.Tally, s.session.Service().Taxonomy()) {
		uncovered = append(uncovered, tech.ID)
	}
	return jsonResult(batchResult{
		Records:   res.Records,
		Mapped:    res.Mapped,
		Failed:    res.Failed,
		Matches:   res.Matches,
		Ranked:    res.Tally.Ranked(),
		Coverage:  res.Coverage,
		Uncovered: uncovered,
	})
}

type tacticSummary struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	ShortName  string `json:"shortName"`
	Techniques int    `json:"techniques"`
}

func (s *Server) handleListTactics(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tax, err := s.session.Ensure(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("taxonomy unavailable: %v", err)), nil
	}
	out := make([]tacticSummary, 0, len(tax.Tactics))
	for _, col := range tax.Ordered() {
		out = append(out, tacticSummary{
			ID:         col.Tactic.ID,
			Name:       col.Tactic.Name,
			ShortName:  col.Tactic.ShortName,
			Techniques: len(col.Techniques),
		})
	}
	return jsonResult(out)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
