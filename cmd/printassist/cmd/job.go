package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var failReason string

var jobCmd = &cobra.Command{
	Use:   "job",
	Short: "Manage jobs",
	Long:  `Commands for starting, completing, failing, and listing jobs.`,
}

var jobStartCmd = &cobra.Command{
	Use:   "start <job-id>",
	Short: "Start a queued job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobStart,
}

var jobCompleteCmd = &cobra.Command{
	Use:   "complete <job-id>",
	Short: "Mark a printing job as completed",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobComplete,
}

var jobFailCmd = &cobra.Command{
	Use:   "fail <job-id>",
	Short: "Mark a printing job as failed and queue a replacement",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobFail,
}

var jobListCmd = &cobra.Command{
	Use:   "ls",
	Short: "List all jobs",
	RunE:  runJobList,
}

func init() {
	rootCmd.AddCommand(jobCmd)
	jobCmd.AddCommand(jobStartCmd)
	jobCmd.AddCommand(jobCompleteCmd)
	jobCmd.AddCommand(jobFailCmd)
	jobCmd.AddCommand(jobListCmd)

	jobFailCmd.Flags().StringVar(&failReason, "reason", "", "reason the print failed")
}

type jobResponse struct {
	ID            string     `json:"id"`
	PlateID       string     `json:"plate_id"`
	Status        string     `json:"status"`
	CreatedAt     time.Time  `json:"created_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	EndedAt       *time.Time `json:"ended_at,omitempty"`
	FailureReason string     `json:"failure_reason,omitempty"`
}

func runJobStart(cmd *cobra.Command, args []string) error {
	if err := apiRequest("POST", "/jobs/"+args[0]+"/start", nil, nil); err != nil {
		return err
	}
	fmt.Printf("Job %s started\n", args[0])
	return nil
}

func runJobComplete(cmd *cobra.Command, args []string) error {
	if err := apiRequest("POST", "/jobs/"+args[0]+"/complete", nil, nil); err != nil {
		return err
	}
	fmt.Printf("Job %s completed\n", args[0])
	return nil
}

func runJobFail(cmd *cobra.Command, args []string) error {
	var resp struct {
		ReplacementJob jobResponse `json:"replacement_job"`
	}
	if err := apiRequest("POST", "/jobs/"+args[0]+"/fail", map[string]string{"reason": failReason}, &resp); err != nil {
		return err
	}
	fmt.Printf("Job %s failed; replacement job %s queued\n", args[0], resp.ReplacementJob.ID)
	return nil
}

func runJobList(cmd *cobra.Command, args []string) error {
	var resp struct {
		Jobs []jobResponse `json:"jobs"`
	}
	if err := apiRequest("GET", "/schedule", nil, &resp); err != nil {
		return err
	}

	if IsJSONOutput() {
		return printJSON(resp.Jobs)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("ID", "Plate", "Status", "Created", "Failure")
	for _, j := range resp.Jobs {
		table.Append(
			j.ID,
			j.PlateID,
			colorStatus(j.Status),
			j.CreatedAt.Format(time.RFC3339),
			j.FailureReason,
		)
	}
	table.Render()
	fmt.Printf("\nTotal jobs: %d\n", len(resp.Jobs))
	return nil
}

// colorStatus applies a status-specific color so a terminal listing
// makes the printing/failed jobs stand out at a glance.
func colorStatus(status string) string {
	switch status {
	case "printing":
		return color.CyanString(status)
	case "completed":
		return color.GreenString(status)
	case "failed":
		return color.RedString(status)
	default:
		return color.YellowString(status)
	}
}
