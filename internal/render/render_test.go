package render

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestSpaceHost(t *testing.T) {
	assert.Equal(t, "alice-health-mcp.hf.space", SpaceHost("alice/health-mcp"))
	assert.Equal(t, "bob-my-zone-mcp.hf.space", SpaceHost("Bob/my_zone.mcp"))
}

func TestMCPConfig(t *testing.T) {
	raw, err := MCPConfig("", "alice/health-mcp")
	require.NoError(t, err)

	var cfg struct {
		MCPServers map[string]struct {
			Command string            `json:"command"`
			Args    []string          `json:"args"`
			Env     map[string]string `json:"env"`
		} `json:"mcpServers"`
	}
	require.NoError(t, json.Unmarshal([]byte(raw), &cfg))
	server, ok := cfg.MCPServers["apple-health"]
	require.True(t, ok, "default server name")
	assert.Equal(t, "npx", server.Command)
	assert.Equal(t, []string{
		"mcp-remote",
		"https://alice-health-mcp.hf.space/gradio_api/mcp/sse",
		"--header",
		"Authorization:${AUTH_HEADER}",
	}, server.Args)
	assert.Equal(t, "Bearer YOUR_HF_TOKEN_HERE", server.Env["AUTH_HEADER"])

	raw, err = MCPConfig("my-health", "alice/health-mcp")
	require.NoError(t, err)
	assert.Contains(t, raw, `"my-health"`)
}

func TestResultMarkdownToHTML(t *testing.T) {
	md, err := ResultMarkdown(Summary{
		DatasetID:  "alice/health-data",
		DatasetURL: "https://huggingface.co/datasets/alice/health-data",
		SpaceID:    "alice/health-mcp",
		SpaceURL:   "https://huggingface.co/spaces/alice/health-mcp",
	})
	require.NoError(t, err)
	assert.Contains(t, md, "[alice/health-data](https://huggingface.co/datasets/alice/health-data)")
	assert.Contains(t, md, "[alice/health-mcp](https://huggingface.co/spaces/alice/health-mcp)")
	assert.Contains(t, md, "```json")
	assert.Contains(t, md, "`DATA_REPO` variable")

	html, err := HTML(md)
	require.NoError(t, err)
	out := string(html)
	assert.Contains(t, out, `<a href="https://huggingface.co/datasets/alice/health-data">alice/health-data</a>`)
	assert.Contains(t, out, `<code class="language-json">`)
	assert.Contains(t, out, "alice-health-mcp.hf.space")
}

func TestResultMarkdownNamesConfiguredVariable(t *testing.T) {
	md, err := ResultMarkdown(Summary{
		DatasetID:        "alice/health-data",
		SpaceID:          "alice/health-mcp",
		ServerName:       "my-health",
		DataRepoVariable: "HEALTH_DATASET",
	})
	require.NoError(t, err)
	assert.Contains(t, md, "`HEALTH_DATASET` variable")
	assert.NotContains(t, md, "DATA_REPO")
	assert.Contains(t, md, `"my-health"`)
}

func TestHTMLDropsRawHTML(t *testing.T) {
	html, err := HTML("hello <script>alert(1)</script>")
	require.NoError(t, err)
	assert.NotContains(t, string(html), "<script>")
}

func TestDatasetCard(t *testing.T) {
	raw, err := DatasetCard{
		Owner:      "alice",
		ExportPath: "export.xml",
		SpaceID:    "alice/health-mcp",
		SpaceURL:   "https://huggingface.co/spaces/alice/health-mcp",
	}.Bytes()
	require.NoError(t, err)
	card := string(raw)
	require.True(t, strings.HasPrefix(card, "---\n"))

	parts := strings.SplitN(card, "---\n", 3)
	require.Len(t, parts, 3)
	var meta struct {
		PrettyName string   `yaml:"pretty_name"`
		Tags       []string `yaml:"tags"`
		Viewer     bool     `yaml:"viewer"`
	}
	require.NoError(t, yaml.Unmarshal([]byte(parts[1]), &meta))
	assert.Equal(t, "Apple Health export of alice", meta.PrettyName)
	assert.Contains(t, meta.Tags, "apple-health")
	assert.False(t, meta.Viewer)

	assert.Contains(t, parts[2], "`export.xml`")
	assert.Contains(t, parts[2], "[alice/health-mcp](https://huggingface.co/spaces/alice/health-mcp)")
}
