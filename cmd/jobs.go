package cmd

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"

	"github.com/leocalheirosdb1/sql-data-anonymizer/src/jobdb"
	"github.com/leocalheirosdb1/sql-data-anonymizer/src/utils"
)

// How many trailing log lines the detail view shows.
const jobLogTailSize = 50

var jobsCmd = &cobra.Command{
	Use:   "jobs [job-id]",
	Short: "List anonymization jobs, most recent first",
	Long: `Without arguments, lists all known anonymization jobs, most recent first.
With a job id, shows that job's status and the last 50 lines of its log.`,
	Args: cobra.MaximumNArgs(1),

	Run: func(cmd *cobra.Command, args []string) {
		store := openJobStore()
		defer store.Close()

		if len(args) == 1 {
			job, err := store.Get(args[0])
			if err != nil {
				utils.ErrExit("fetch job %s: %s", args[0], err)
			}
			displayJobDetail(job)
			return
		}

		jobs, err := store.ListAll()
		if err != nil {
			utils.ErrExit("list jobs: %s", err)
		}
		if len(jobs) == 0 {
			fmt.Println("No jobs found.")
			return
		}
		displayJobs(jobs)
	},
}

func init() {
	rootCmd.AddCommand(jobsCmd)
}

func displayJobs(jobs []*jobdb.Job) {
	table := uitable.New()
	headerfmt := color.New(color.FgGreen, color.Underline).SprintFunc()

	table.AddRow(headerfmt("JOB ID"), headerfmt("TARGET"), headerfmt("ENGINE"),
		headerfmt("STATUS"), headerfmt("STARTED"), headerfmt("DURATION"))
	for _, job := range jobs {
		table.AddRow(job.ID, fmt.Sprintf("%s/%s", job.Server, job.DBName), job.DBType,
			renderStatus(job.Status), job.StartedAt.Format("2006-01-02 15:04:05"), jobDuration(job))
	}
	fmt.Print("\n")
	fmt.Println(table)
	fmt.Print("\n")
}

func displayJobDetail(job *jobdb.Job) {
	fmt.Printf("Job:      %s\n", job.ID)
	fmt.Printf("Target:   %s/%s (%s)\n", job.Server, job.DBName, job.DBType)
	fmt.Printf("Status:   %s\n", renderStatus(job.Status))
	fmt.Printf("Started:  %s\n", job.StartedAt.Format("2006-01-02 15:04:05"))
	if job.CompletedAt != nil {
		fmt.Printf("Finished: %s (%s)\n", job.CompletedAt.Format("2006-01-02 15:04:05"), jobDuration(job))
	}
	if job.ErrorMessage != "" {
		fmt.Printf("Error:    %s\n", color.RedString(job.ErrorMessage))
	}

	logs := job.Logs
	if len(logs) > jobLogTailSize {
		fmt.Printf("\nLog (last %d of %d lines):\n", jobLogTailSize, len(logs))
		logs = logs[len(logs)-jobLogTailSize:]
	} else if len(logs) > 0 {
		fmt.Printf("\nLog:\n")
	}
	for _, line := range logs {
		fmt.Println(line)
	}
}

func renderStatus(status jobdb.JobStatus) string {
	switch status {
	case jobdb.COMPLETED:
		return color.GreenString(string(status))
	case jobdb.FAILED:
		return color.RedString(string(status))
	default:
		return string(status)
	}
}

func jobDuration(job *jobdb.Job) string {
	if job.CompletedAt == nil {
		return "-"
	}
	return job.CompletedAt.Sub(job.StartedAt).Round(time.Second).String()
}
