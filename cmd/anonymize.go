package cmd

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/leocalheirosdb1/sql-data-anonymizer/src/anondb"
	"github.com/leocalheirosdb1/sql-data-anonymizer/src/anonymizer"
	"github.com/leocalheirosdb1/sql-data-anonymizer/src/fake"
	"github.com/leocalheirosdb1/sql-data-anonymizer/src/jobdb"
	"github.com/leocalheirosdb1/sql-data-anonymizer/src/utils"
)

var (
	targetServer string
	targetDBName string
	targetDBType string
)

const jobPollInterval = 500 * time.Millisecond

var anonymizeCmd = &cobra.Command{
	Use:   "anonymize",
	Short: "Anonymize the sensitive columns of a database",
	Long: `Connects to the target database, discovers columns whose names mark them as
holding emails, CPFs or phone numbers, and rewrites every value with a realistic
substitute. The run is tracked as a job whose log can be inspected afterwards
with the jobs command.`,

	Run: func(cmd *cobra.Command, args []string) {
		if err := settings.Validate(); err != nil {
			utils.ErrExit("invalid settings: %s", err)
		}

		store := openJobStore()
		defer store.Close()

		service := newAnonymizationService(store)
		service.Start()
		defer service.Shutdown()

		jobID, err := service.Submit(targetServer, targetDBName, targetDBType)
		if err != nil {
			utils.ErrExit("submit anonymization job: %s", err)
		}
		utils.PrintAndLog("Job %s queued for %s/%s", jobID, targetServer, targetDBName)

		job := waitForJob(service, jobID)
		reportJobOutcome(job)
	},
}

func init() {
	rootCmd.AddCommand(anonymizeCmd)

	anonymizeCmd.Flags().StringVar(&targetServer, "server", "",
		"host of the database server to anonymize")
	anonymizeCmd.Flags().StringVar(&targetDBName, "database", "",
		"name of the database to anonymize")
	anonymizeCmd.Flags().StringVar(&targetDBType, "db-type", "",
		fmt.Sprintf("engine of the target database: %v", anondb.SupportedKinds()))

	anonymizeCmd.MarkFlagRequired("server")
	anonymizeCmd.MarkFlagRequired("database")
	anonymizeCmd.MarkFlagRequired("db-type")
}

func openJobStore() jobdb.Store {
	if settings.JobStorePath == "" {
		return jobdb.NewMemoryStore()
	}
	store, err := jobdb.NewSqliteStore(settings.JobStorePath)
	if err != nil {
		utils.ErrExit("open job store at %q: %s", settings.JobStorePath, err)
	}
	return store
}

func newAnonymizationService(store jobdb.Store) *anonymizer.Service {
	runner := anonymizer.NewRunner(fake.DefaultGenerators(), settings.BatchSize, settings.ScratchTableThreshold)
	return anonymizer.NewService(store, runner, makeSource)
}

func makeSource(server, dbname, dbtype string) *anondb.Source {
	source := &anondb.Source{
		DBType:                 dbtype,
		Host:                   server,
		Port:                   settings.Port,
		User:                   settings.User,
		Password:               settings.Password,
		DBName:                 dbname,
		Schema:                 settings.Schema,
		DBSid:                  settings.OracleDBSid,
		TNSAlias:               settings.OracleTNSAlias,
		ConnectionTimeout:      settings.ConnectionTimeout,
		TrustServerCertificate: settings.TrustServerCertificate,
	}
	source.ApplyPortDefault()
	return source
}

// waitForJob polls the job until it reaches a terminal status, echoing log
// lines to the console as they appear.
func waitForJob(service *anonymizer.Service, jobID string) *jobdb.Job {
	printed := 0
	for {
		job, err := service.GetStatus(jobID)
		if err != nil {
			utils.ErrExit("fetch job %s: %s", jobID, err)
		}
		for _, line := range job.Logs[printed:] {
			fmt.Println(line)
		}
		printed = len(job.Logs)
		if job.IsTerminal() {
			return job
		}
		time.Sleep(jobPollInterval)
	}
}

func reportJobOutcome(job *jobdb.Job) {
	switch job.Status {
	case jobdb.COMPLETED:
		fmt.Printf("\nJob %s: %s\n", job.ID, color.GreenString(string(job.Status)))
	case jobdb.FAILED:
		fmt.Printf("\nJob %s: %s\n", job.ID, color.RedString(string(job.Status)))
		utils.ErrExit("anonymization failed: %s", job.ErrorMessage)
	}
}
