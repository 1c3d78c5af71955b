package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/markatally/agentloop/internal/logger"
)

const createFileMaxBytes = 10 * 1024 * 1024

// CreateFileToolSpec defines the schema for the create_file tool
type CreateFileToolSpec struct{}

func (s *CreateFileToolSpec) Name() string {
	return "create_file"
}

func (s *CreateFileToolSpec) Description() string {
	return "Create a file with the given content. Use this to produce the " +
		"document, report or code artifact the user asked for."
}

func (s *CreateFileToolSpec) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"filename": map[string]interface{}{
				"type":        "string",
				"description": "Name of the file to create, including extension",
			},
			"content": map[string]interface{}{
				"type":        "string",
				"description": "Full content of the file",
			},
		},
		"required": []string{"filename", "content"},
	}
}

// CreateFileTool writes artifacts into a dedicated directory. Each artifact
// gets a generated file id and lives under its own subdirectory so repeated
// filenames never collide.
type CreateFileTool struct {
	artifactDir string
	log         *logger.Logger
}

// NewCreateFileToolFactory wires the artifact directory
func NewCreateFileToolFactory(artifactDir string) ToolFactory {
	return func(reg *Registry) ToolExecutor {
		return &CreateFileTool{
			artifactDir: artifactDir,
			log:         logger.Global().WithPrefix("create_file"),
		}
	}
}

func (t *CreateFileTool) Execute(ctx context.Context, params map[string]interface{}) *ToolResult {
	filename := strings.TrimSpace(GetStringParam(params, "filename", ""))
	if filename == "" {
		return &ToolResult{Error: "filename is required"}
	}
	if filepath.Base(filename) != filename || filename == "." || filename == ".." {
		return &ToolResult{Error: fmt.Sprintf("invalid filename %q: path separators are not allowed", filename)}
	}

	content, ok := params["content"].(string)
	if !ok {
		return &ToolResult{Error: "content is required"}
	}
	if len(content) > createFileMaxBytes {
		return &ToolResult{Error: fmt.Sprintf("content exceeds the %d byte limit", createFileMaxBytes)}
	}

	fileID := uuid.NewString()
	dir := filepath.Join(t.artifactDir, fileID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &ToolResult{Error: fmt.Sprintf("failed to create artifact directory: %v", err)}
	}

	path := filepath.Join(dir, filename)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return &ToolResult{Error: fmt.Sprintf("failed to write file: %v", err)}
	}

	t.log.Info("artifact %s written to %s (%d bytes)", fileID, path, len(content))

	return &ToolResult{
		Result: fmt.Sprintf("Created %s (%d bytes)", filename, len(content)),
		Artifact: &Artifact{
			FileID:   fileID,
			Path:     path,
			Name:     filename,
			MimeType: mimeTypeFor(filename),
			Size:     int64(len(content)),
		},
	}
}

func mimeTypeFor(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".md":
		return "text/markdown"
	case ".txt":
		return "text/plain"
	case ".html", ".htm":
		return "text/html"
	case ".json":
		return "application/json"
	case ".csv":
		return "text/csv"
	case ".go", ".py", ".js", ".ts", ".sh":
		return "text/plain"
	default:
		return "application/octet-stream"
	}
}
