package cmd

import (
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var plateCmd = &cobra.Command{
	Use:   "plate",
	Short: "Manage plates",
	Long:  `Commands for adjusting plate priority/quantity and removing plates.`,
}

var plateRemoveCmd = &cobra.Command{
	Use:   "rm <plate-id>",
	Short: "Delete a plate and all of its jobs",
	Args:  cobra.ExactArgs(1),
	RunE:  runPlateRemove,
}

var platePriorityCmd = &cobra.Command{
	Use:   "priority <plate-id> <priority>",
	Short: "Set a plate's scheduling priority",
	Args:  cobra.ExactArgs(2),
	RunE:  runPlatePriority,
}

var plateQuantityCmd = &cobra.Command{
	Use:   "quantity <plate-id> <quantity>",
	Short: "Set a plate's target quantity, reconciling queued jobs",
	Args:  cobra.ExactArgs(2),
	RunE:  runPlateQuantity,
}

var plateListCmd = &cobra.Command{
	Use:   "ls [project-id]",
	Short: "List plates, optionally scoped to a project",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runPlateList,
}

func init() {
	rootCmd.AddCommand(plateCmd)
	plateCmd.AddCommand(plateRemoveCmd)
	plateCmd.AddCommand(platePriorityCmd)
	plateCmd.AddCommand(plateQuantityCmd)
	plateCmd.AddCommand(plateListCmd)
}

type plateResponse struct {
	ID                       string `json:"id"`
	ProjectID                string `json:"project_id"`
	SourceFilename           string `json:"source_filename"`
	PlateNumber              int    `json:"plate_number"`
	Name                     string `json:"name"`
	EstimatedDurationSeconds int    `json:"estimated_duration_seconds"`
	QuantityNeeded           int    `json:"quantity_needed"`
	Priority                 int    `json:"priority"`
}

func runPlateRemove(cmd *cobra.Command, args []string) error {
	if err := apiRequest("DELETE", "/plates/"+args[0], nil, nil); err != nil {
		return err
	}
	fmt.Printf("Plate %s deleted\n", args[0])
	return nil
}

func runPlatePriority(cmd *cobra.Command, args []string) error {
	var priority int
	if _, err := fmt.Sscanf(args[1], "%d", &priority); err != nil {
		return fmt.Errorf("invalid priority %q: %w", args[1], err)
	}
	if err := apiRequest("PUT", "/plates/"+args[0]+"/priority", map[string]int{"priority": priority}, nil); err != nil {
		return err
	}
	fmt.Printf("Plate %s priority set to %d\n", args[0], priority)
	return nil
}

func runPlateQuantity(cmd *cobra.Command, args []string) error {
	var quantity int
	if _, err := fmt.Sscanf(args[1], "%d", &quantity); err != nil {
		return fmt.Errorf("invalid quantity %q: %w", args[1], err)
	}
	if err := apiRequest("PUT", "/plates/"+args[0]+"/quantity", map[string]int{"quantity": quantity}, nil); err != nil {
		return err
	}
	fmt.Printf("Plate %s quantity set to %d\n", args[0], quantity)
	return nil
}

func runPlateList(cmd *cobra.Command, args []string) error {
	var resp struct {
		Plates []plateResponse `json:"plates"`
	}
	path := "/schedule"
	if err := apiRequest("GET", path, nil, &resp); err != nil {
		return err
	}

	projectFilter := ""
	if len(args) == 1 {
		projectFilter = args[0]
	}

	if IsJSONOutput() {
		return printJSON(resp.Plates)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("ID", "Project", "Name", "Priority", "Quantity", "Duration (s)")
	count := 0
	for _, p := range resp.Plates {
		if projectFilter != "" && p.ProjectID != projectFilter {
			continue
		}
		table.Append(
			p.ID,
			p.ProjectID,
			p.Name,
			fmt.Sprintf("%d", p.Priority),
			fmt.Sprintf("%d", p.QuantityNeeded),
			fmt.Sprintf("%d", p.EstimatedDurationSeconds),
		)
		count++
	}
	table.Render()
	fmt.Printf("\nTotal plates: %d\n", count)
	return nil
}
