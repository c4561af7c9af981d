// Package mcpserver registers MCP tools that expose photo submission
// and queue operations. It adapts the application controller to the
// MCP SDK's tool handler interface.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/alexjbarnes/solara-sync/internal/catalog"
	"github.com/alexjbarnes/solara-sync/internal/state"
	"github.com/alexjbarnes/solara-sync/internal/uploader"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Service is what the tools need from the application.
type Service interface {
	Submit(ctx context.Context, batch uploader.Batch, progress uploader.ProgressFunc) (uploader.BatchResult, error)
	Sync(ctx context.Context, progress uploader.ProgressFunc) (uploader.SweepResult, error)
	Pending() ([]state.Record, error)
	Online() bool
	Catalog(ctx context.Context) (*catalog.Catalog, error)
}

// RegisterTools adds all tools to the given MCP server.
func RegisterTools(server *mcp.Server, svc Service) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "submit_photos",
		Description: "Submit photos from local paths with their classification (ciclo, sector, ruta, tecnico). Each photo is uploaded now if the endpoint is reachable, otherwise saved in the offline queue. At most 100 photos per call.",
	}, submitHandler(svc))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "queue_status",
		Description: "Show connectivity and the photos waiting in the offline queue. Photo content is not included.",
	}, queueStatusHandler(svc))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "sync_queue",
		Description: "Try to upload every queued photo now. Skipped when offline. If a sync is already running this returns an error and the running sync makes one more pass when it finishes.",
	}, syncHandler(svc))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "catalog",
		Description: "List the valid ciclos, sectores per ciclo, rutas per sector and known tecnicos. Falls back to the last cached copy when offline.",
	}, catalogHandler(svc))
}

// --- Input types ---
// The MCP SDK infers JSON schema from these struct types via jsonschema tags.

// SubmitInput holds parameters for submit_photos.
type SubmitInput struct {
	Ciclo   string   `json:"ciclo" jsonschema:"required,cycle the photos belong to"`
	Sector  string   `json:"sector" jsonschema:"required,sector within the cycle"`
	Ruta    string   `json:"ruta" jsonschema:"required,route within the sector"`
	Tecnico string   `json:"tecnico" jsonschema:"required,technician name, new names are accepted"`
	Paths   []string `json:"paths" jsonschema:"required,absolute paths of the photo files on this machine"`
}

// QueueStatusInput has no parameters.
type QueueStatusInput struct{}

// SyncInput has no parameters.
type SyncInput struct{}

// CatalogInput has no parameters.
type CatalogInput struct{}

// --- Output types ---

// ItemOutput reports one submitted photo.
type ItemOutput struct {
	Name    string `json:"name"`
	Outcome string `json:"outcome"`
	Error   string `json:"error,omitempty"`
}

// SubmitOutput is the result of submit_photos.
type SubmitOutput struct {
	Delivered int             `json:"delivered"`
	Queued    int             `json:"queued"`
	Failed    int             `json:"failed"`
	Pending   int             `json:"pending"`
	Status    uploader.Status `json:"status"`
	Items     []ItemOutput    `json:"items"`
}

// QueueItem is one pending photo.
type QueueItem struct {
	Key      string `json:"key"`
	Nombre   string `json:"nombre"`
	Ciclo    string `json:"ciclo"`
	Sector   string `json:"sector"`
	Ruta     string `json:"ruta"`
	Tecnico  string `json:"tecnico"`
	QueuedAt string `json:"queued_at"`
}

// QueueStatusOutput is the result of queue_status.
type QueueStatusOutput struct {
	Online  bool        `json:"online"`
	Pending int         `json:"pending"`
	Items   []QueueItem `json:"items"`
}

// SyncOutput is the result of sync_queue.
type SyncOutput struct {
	Skipped   bool            `json:"skipped"`
	Total     int             `json:"total"`
	Delivered int             `json:"delivered"`
	Failed    int             `json:"failed"`
	Remaining int             `json:"remaining"`
	Complete  bool            `json:"complete"`
	Status    uploader.Status `json:"status"`
}

// CatalogOutput is the result of catalog.
type CatalogOutput struct {
	Ciclos           []string            `json:"ciclos"`
	SectoresPorCiclo map[string][]string `json:"sectoresPorCiclo"`
	RutasPorSector   map[string][]string `json:"rutasPorSector"`
	Tecnicos         []string            `json:"tecnicos"`
	FetchedAt        string              `json:"fetched_at"`
	Stale            bool                `json:"stale"`
}

// --- Handlers ---

func submitHandler(svc Service) mcp.ToolHandlerFor[SubmitInput, *SubmitOutput] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input SubmitInput) (*mcp.CallToolResult, *SubmitOutput, error) {
		files := make([]uploader.File, len(input.Paths))
		for i, p := range input.Paths {
			if !filepath.IsAbs(p) {
				return nil, nil, fmt.Errorf("path %q must be absolute", p)
			}

			files[i] = uploader.File{Name: filepath.Base(p), Path: p}
		}

		res, err := svc.Submit(ctx, uploader.Batch{
			Ciclo:   input.Ciclo,
			Sector:  input.Sector,
			Ruta:    input.Ruta,
			Tecnico: input.Tecnico,
			Files:   files,
		}, nil)
		if err != nil {
			return nil, nil, err
		}

		out := &SubmitOutput{
			Delivered: res.Delivered,
			Queued:    res.Queued,
			Failed:    res.Failed,
			Pending:   res.Pending,
			Status:    res.Status,
			Items:     make([]ItemOutput, len(res.Items)),
		}

		for i, it := range res.Items {
			out.Items[i] = ItemOutput{Name: it.Name, Outcome: string(it.Outcome)}
			if it.Err != nil {
				out.Items[i].Error = it.Err.Error()
			}
		}

		return textResult(out), out, nil
	}
}

func queueStatusHandler(svc Service) mcp.ToolHandlerFor[QueueStatusInput, *QueueStatusOutput] {
	return func(_ context.Context, _ *mcp.CallToolRequest, _ QueueStatusInput) (*mcp.CallToolResult, *QueueStatusOutput, error) {
		records, err := svc.Pending()
		if err != nil {
			return nil, nil, err
		}

		out := &QueueStatusOutput{
			Online:  svc.Online(),
			Pending: len(records),
			Items:   make([]QueueItem, len(records)),
		}

		for i, rec := range records {
			out.Items[i] = QueueItem{
				Key:      rec.Key,
				Nombre:   rec.Nombre,
				Ciclo:    rec.Ciclo,
				Sector:   rec.Sector,
				Ruta:     rec.Ruta,
				Tecnico:  rec.Tecnico,
				QueuedAt: rec.QueuedAt.Format(time.RFC3339),
			}
		}

		return textResult(out), out, nil
	}
}

func syncHandler(svc Service) mcp.ToolHandlerFor[SyncInput, *SyncOutput] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, _ SyncInput) (*mcp.CallToolResult, *SyncOutput, error) {
		res, err := svc.Sync(ctx, nil)
		if err != nil {
			return nil, nil, err
		}

		out := &SyncOutput{
			Skipped:   res.Skipped,
			Total:     res.Total,
			Delivered: res.Delivered,
			Failed:    res.Failed,
			Remaining: res.Remaining,
			Complete:  res.Complete(),
			Status:    res.Status,
		}

		return textResult(out), out, nil
	}
}

func catalogHandler(svc Service) mcp.ToolHandlerFor[CatalogInput, *CatalogOutput] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, _ CatalogInput) (*mcp.CallToolResult, *CatalogOutput, error) {
		cat, err := svc.Catalog(ctx)
		if err != nil {
			return nil, nil, err
		}

		// Output schemas declare arrays and objects, so never emit null.
		out := &CatalogOutput{
			Ciclos:           nonNil(cat.Ciclos),
			SectoresPorCiclo: nonNilMap(cat.SectoresPorCiclo),
			RutasPorSector:   nonNilMap(cat.RutasPorSector),
			Tecnicos:         nonNil(cat.Tecnicos),
			FetchedAt:        cat.FetchedAt.Format(time.RFC3339),
			Stale:            cat.Stale,
		}

		return textResult(out), out, nil
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}

	return s
}

func nonNilMap(m map[string][]string) map[string][]string {
	if m == nil {
		return map[string][]string{}
	}

	return m
}

// textResult builds a CallToolResult with JSON text content from any value.
// This provides the unstructured content alongside the structured output
// that the SDK populates automatically.
func textResult(v any) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("error marshaling result: %v", err)}},
			IsError: true,
		}
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}
}
