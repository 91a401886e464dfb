package render

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"strings"
	"sync"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

var (
	markdownOnce sync.Once
	markdownMD   goldmark.Markdown
)

func markdown() goldmark.Markdown {
	markdownOnce.Do(func() {
		markdownMD = goldmark.New(goldmark.WithExtensions(extension.GFM))
	})
	return markdownMD
}

// HTML converts markdown to HTML. The default renderer drops raw HTML from
// the source, so the result is safe to embed.
func HTML(md string) (template.HTML, error) {
	var buf bytes.Buffer
	if err := markdown().Convert([]byte(md), &buf); err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	return template.HTML(buf.String()), nil
}

// Summary is what the result panel shows after a successful run.
type Summary struct {
	DatasetID  string
	DatasetURL string
	SpaceID    string
	SpaceURL   string
	// ServerName is the key used in the client configuration.
	ServerName string
	// DataRepoVariable names the space variable holding the dataset id.
	DataRepoVariable string
}

// SpaceHost returns the direct host of a space, e.g. alice-health-mcp.hf.space.
func SpaceHost(spaceID string) string {
	host := strings.ToLower(strings.NewReplacer("/", "-", "_", "-", ".", "-").Replace(spaceID))
	return host + ".hf.space"
}

// MCPEndpoint is the SSE endpoint the duplicated space exposes.
func MCPEndpoint(spaceID string) string {
	return "https://" + SpaceHost(spaceID) + "/gradio_api/mcp/sse"
}

// MCPConfig builds the client configuration block users paste into their
// MCP client settings.
func MCPConfig(serverName, spaceID string) (string, error) {
	if serverName == "" {
		serverName = "apple-health"
	}
	cfg := map[string]any{
		"mcpServers": map[string]any{
			serverName: map[string]any{
				"command": "npx",
				"args": []string{
					"mcp-remote",
					MCPEndpoint(spaceID),
					"--header",
					"Authorization:${AUTH_HEADER}",
				},
				"env": map[string]string{
					"AUTH_HEADER": "Bearer YOUR_HF_TOKEN_HERE",
				},
			},
		},
	}
	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// ResultMarkdown is the success message shown once both repositories exist.
func ResultMarkdown(s Summary) (string, error) {
	snippet, err := MCPConfig(s.ServerName, s.SpaceID)
	if err != nil {
		return "", err
	}
	variable := s.DataRepoVariable
	if variable == "" {
		variable = "DATA_REPO"
	}
	var b strings.Builder
	b.WriteString("## Landing zone ready\n\n")
	fmt.Fprintf(&b, "**Private dataset:** [%s](%s)\n\n", s.DatasetID, s.DatasetURL)
	b.WriteString("- Your export has been uploaded to the dataset.\n\n")
	fmt.Fprintf(&b, "**Query space:** [%s](%s)\n\n", s.SpaceID, s.SpaceURL)
	fmt.Fprintf(&b, "- The space reads the dataset named in its `%s` variable.\n", variable)
	b.WriteString("- It can take a few minutes to build before it answers.\n\n")
	b.WriteString("### MCP client configuration\n\n")
	b.WriteString("```json\n")
	b.WriteString(snippet)
	b.WriteString("\n```\n\n")
	b.WriteString("1. Replace `YOUR_HF_TOKEN_HERE` with a token that can read the dataset.\n")
	b.WriteString("2. Add the block to your MCP client configuration file.\n\n")
	b.WriteString("Both repositories are private and only visible to you.\n")
	return b.String(), nil
}
