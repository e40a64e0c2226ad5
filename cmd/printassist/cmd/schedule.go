package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Show the projected print timeline",
	RunE:  runSchedule,
}

func init() {
	rootCmd.AddCommand(scheduleCmd)
}

type scheduledJobResponse struct {
	JobID               string    `json:"job_id"`
	PlateName           string    `json:"plate_name"`
	ScheduledStart      time.Time `json:"scheduled_start"`
	ScheduledEnd        time.Time `json:"scheduled_end"`
	SpansUnavailability bool      `json:"spans_unavailability"`
}

type scheduleResponse struct {
	Schedule       []scheduledJobResponse `json:"schedule"`
	ComputedAt     time.Time              `json:"computed_at"`
	NextBreakpoint *time.Time             `json:"next_breakpoint,omitempty"`
}

func runSchedule(cmd *cobra.Command, args []string) error {
	var result scheduleResponse
	if err := apiRequest("GET", "/schedule", nil, &result); err != nil {
		return err
	}

	if IsJSONOutput() {
		return printJSON(result)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Job", "Plate", "Start", "End", "Spans Window")
	for _, s := range result.Schedule {
		spans := ""
		if s.SpansUnavailability {
			spans = "yes"
		}
		table.Append(
			s.JobID,
			s.PlateName,
			s.ScheduledStart.Format(time.RFC3339),
			s.ScheduledEnd.Format(time.RFC3339),
			spans,
		)
	}
	table.Render()

	fmt.Printf("\nComputed at: %s\n", result.ComputedAt.Format(time.RFC3339))
	if result.NextBreakpoint != nil {
		fmt.Printf("Next breakpoint: %s\n", result.NextBreakpoint.Format(time.RFC3339))
	}
	return nil
}
