package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var windowCmd = &cobra.Command{
	Use:   "window",
	Short: "Manage printer unavailability windows",
}

var windowAddCmd = &cobra.Command{
	Use:   "add <start-RFC3339> <end-RFC3339>",
	Short: "Declare a printer unavailability window",
	Args:  cobra.ExactArgs(2),
	RunE:  runWindowAdd,
}

var windowRemoveCmd = &cobra.Command{
	Use:   "rm <window-id>",
	Short: "Remove an unavailability window",
	Args:  cobra.ExactArgs(1),
	RunE:  runWindowRemove,
}

var windowListCmd = &cobra.Command{
	Use:   "ls",
	Short: "List unavailability windows",
	RunE:  runWindowList,
}

func init() {
	rootCmd.AddCommand(windowCmd)
	windowCmd.AddCommand(windowAddCmd)
	windowCmd.AddCommand(windowRemoveCmd)
	windowCmd.AddCommand(windowListCmd)
}

type windowResponse struct {
	ID    string    `json:"id"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func runWindowAdd(cmd *cobra.Command, args []string) error {
	start, err := time.Parse(time.RFC3339, args[0])
	if err != nil {
		return fmt.Errorf("invalid start time %q: %w", args[0], err)
	}
	end, err := time.Parse(time.RFC3339, args[1])
	if err != nil {
		return fmt.Errorf("invalid end time %q: %w", args[1], err)
	}

	var result windowResponse
	if err := apiRequest("POST", "/windows", map[string]time.Time{"start": start, "end": end}, &result); err != nil {
		return err
	}
	fmt.Printf("Window created: %s\n", result.ID)
	return nil
}

func runWindowRemove(cmd *cobra.Command, args []string) error {
	if err := apiRequest("DELETE", "/windows/"+args[0], nil, nil); err != nil {
		return err
	}
	fmt.Printf("Window %s removed\n", args[0])
	return nil
}

func runWindowList(cmd *cobra.Command, args []string) error {
	var resp struct {
		Windows []windowResponse `json:"windows"`
	}
	if err := apiRequest("GET", "/schedule", nil, &resp); err != nil {
		return err
	}

	if IsJSONOutput() {
		return printJSON(resp.Windows)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("ID", "Start", "End")
	for _, w := range resp.Windows {
		table.Append(w.ID, w.Start.Format(time.RFC3339), w.End.Format(time.RFC3339))
	}
	table.Render()
	fmt.Printf("\nTotal windows: %d\n", len(resp.Windows))
	return nil
}
