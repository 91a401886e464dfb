package render

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"
)

// DatasetCard holds the values of the README pushed next to the export.
type DatasetCard struct {
	Owner      string
	ExportPath string
	SpaceID    string
	SpaceURL   string
}

type cardMetadata struct {
	PrettyName string   `yaml:"pretty_name"`
	Tags       []string `yaml:"tags"`
	Viewer     bool     `yaml:"viewer"`
}

// Bytes renders the card: YAML front matter followed by a markdown body.
func (c DatasetCard) Bytes() ([]byte, error) {
	meta, err := yaml.Marshal(cardMetadata{
		PrettyName: "Apple Health export of " + c.Owner,
		Tags:       []string{"apple-health", "personal-data", "private"},
		Viewer:     false,
	})
	if err != nil {
		return nil, fmt.Errorf("encode card metadata: %w", err)
	}
	var b bytes.Buffer
	b.WriteString("---\n")
	b.Write(meta)
	b.WriteString("---\n\n")
	b.WriteString("# Apple Health Data\n\n")
	fmt.Fprintf(&b, "This is a private dataset containing the Apple Health export of %s.\n\n", c.Owner)
	b.WriteString("## Files\n\n")
	fmt.Fprintf(&b, "- `%s`: the original Apple Health export file\n\n", c.ExportPath)
	if c.SpaceID != "" {
		b.WriteString("## Query space\n\n")
		fmt.Fprintf(&b, "- Space: [%s](%s)\n\n", c.SpaceID, c.SpaceURL)
	}
	b.WriteString("## Privacy\n\n")
	b.WriteString("This dataset contains personal health information. Do not share access with others.\n")
	return b.Bytes(), nil
}
