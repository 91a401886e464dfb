package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"landingzone/internal/provision"
	"landingzone/internal/render"
)

var (
	projectName string
	exportFile  string
	hubToken    string
)

var provisionCmd = &cobra.Command{
	Use:   "provision",
	Short: "Create a landing zone with an access token instead of the web login",
	Long: `Creates <user>/<project>-data with the export file and duplicates the
query space template into <user>/<project>-mcp, both private.

The token needs write access to repositories; it defaults to $HF_TOKEN.`,
	Example: `  landingzone provision --project health --file ~/Downloads/export.xml`,
	Args:    cobra.NoArgs,
	RunE:    runProvision,
}

func init() {
	provisionCmd.Flags().StringVarP(&projectName, "project", "p", "", "project name (required)")
	provisionCmd.Flags().StringVarP(&exportFile, "file", "f", "", "Apple Health export file (required)")
	provisionCmd.Flags().StringVar(&hubToken, "token", os.Getenv("HF_TOKEN"), "hub access token")
	_ = provisionCmd.MarkFlagRequired("project")
	_ = provisionCmd.MarkFlagRequired("file")
}

func runProvision(cmd *cobra.Command, args []string) error {
	f, err := os.Open(exportFile)
	if err != nil {
		return fmt.Errorf("open export: %w", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat export: %w", err)
	}
	if info.IsDir() {
		return errors.New("export path is a directory")
	}

	workflow, err := newWorkflow()
	if err != nil {
		return err
	}
	result, err := workflow.Provision(cmd.Context(), &provision.Session{Token: hubToken}, provision.Request{
		ProjectName: projectName,
		FileName:    filepath.Base(exportFile),
		File:        f,
		Size:        info.Size(),
	})
	if err != nil {
		return err
	}

	md, err := render.ResultMarkdown(render.Summary{
		DatasetID:        result.DatasetID,
		DatasetURL:       result.DatasetURL,
		SpaceID:          result.SpaceID,
		SpaceURL:         result.SpaceURL,
		ServerName:       cfg.Hub.MCPServerName,
		DataRepoVariable: cfg.Hub.DataRepoVariable,
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), md)
	return nil
}
