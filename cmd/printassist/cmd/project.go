package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var (
	projectNotes string
)

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage projects",
	Long:  `Commands for creating, listing, and removing projects.`,
}

var projectCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a new project",
	Args:  cobra.ExactArgs(1),
	RunE:  runProjectCreate,
}

var projectDeleteCmd = &cobra.Command{
	Use:   "delete <project-id>",
	Short: "Delete a project and its plates/jobs",
	Args:  cobra.ExactArgs(1),
	RunE:  runProjectDelete,
}

var projectListCmd = &cobra.Command{
	Use:   "ls",
	Short: "List projects with completion progress",
	RunE:  runProjectList,
}

func init() {
	rootCmd.AddCommand(projectCmd)
	projectCmd.AddCommand(projectCreateCmd)
	projectCmd.AddCommand(projectDeleteCmd)
	projectCmd.AddCommand(projectListCmd)

	projectCreateCmd.Flags().StringVar(&projectNotes, "notes", "", "free-form notes for the project")
}

type projectResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Notes     string    `json:"notes,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type projectProgressResponse struct {
	projectResponse
	Completed int `json:"completed"`
	Total     int `json:"total"`
}

func runProjectCreate(cmd *cobra.Command, args []string) error {
	var result projectResponse
	if err := apiRequest("POST", "/projects", map[string]string{
		"name":  args[0],
		"notes": projectNotes,
	}, &result); err != nil {
		return err
	}

	if IsJSONOutput() {
		return printJSON(result)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Field", "Value")
	table.Append("ID", result.ID)
	table.Append("Name", result.Name)
	if result.Notes != "" {
		table.Append("Notes", result.Notes)
	}
	table.Append("Created At", result.CreatedAt.Format(time.RFC3339))
	table.Render()
	fmt.Printf("\nProject created: %s\n", result.ID)
	return nil
}

func runProjectDelete(cmd *cobra.Command, args []string) error {
	if err := apiRequest("DELETE", "/projects/"+args[0], nil, nil); err != nil {
		return err
	}
	fmt.Printf("Project %s deleted\n", args[0])
	return nil
}

func runProjectList(cmd *cobra.Command, args []string) error {
	var resp struct {
		Projects []projectProgressResponse `json:"projects"`
	}
	if err := apiRequest("GET", "/projects", nil, &resp); err != nil {
		return err
	}

	if IsJSONOutput() {
		return printJSON(resp.Projects)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("ID", "Name", "Progress", "Created")
	for _, p := range resp.Projects {
		table.Append(
			p.ID,
			p.Name,
			fmt.Sprintf("%d/%d", p.Completed, p.Total),
			p.CreatedAt.Format(time.RFC3339),
		)
	}
	table.Render()
	fmt.Printf("\nTotal projects: %d\n", len(resp.Projects))
	return nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
