package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/leocalheirosdb1/sql-data-anonymizer/src/config"
	"github.com/leocalheirosdb1/sql-data-anonymizer/src/utils"
)

var (
	cfgFile  string
	logDir   string
	settings = config.DefaultSettings()
)

var rootCmd = &cobra.Command{
	Use:   "sql-data-anonymizer",
	Short: "A CLI tool to anonymize personally identifiable data in SQL databases",
	Long: `A CLI tool that scans a SQL Server, Oracle or MySQL database for columns holding
personally identifiable data (emails, CPFs, phone numbers) and rewrites their values
in place with realistic substitutes, batch by batch.`,

	Run: func(cmd *cobra.Command, args []string) {
		if len(args) == 0 {
			cmd.Help()
			os.Exit(0)
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	cobra.CheckErr(rootCmd.Execute())
}

func init() {
	// Assigned here rather than in the rootCmd literal to avoid an
	// initialization cycle (the closure references bindSettings, which
	// references rootCmd).
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		if err := config.ValidateLogLevel(); err != nil {
			utils.ErrExit("%s", err)
		}
		InitLogging(logDir, cmd.Use)
		bindSettings()
	}

	cobra.OnInitialize(initConfig)
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default is $HOME/.sql-data-anonymizer.yaml)")

	rootCmd.PersistentFlags().StringVar(&logDir, "log-dir", ".",
		"directory under which the logs folder is created")

	rootCmd.PersistentFlags().StringVar(&config.LogLevel, "log-level", "info",
		"log level for the log file. Accepted values: (trace, debug, info, warn, error, fatal, panic)")

	registerConnectionFlags(rootCmd)
}

func registerConnectionFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVarP(&settings.User, "user", "u", "",
		"username with which to connect to the target database")

	cmd.PersistentFlags().StringVarP(&settings.Password, "password", "p", "",
		"password with which to connect to the target database")

	cmd.PersistentFlags().IntVar(&settings.Port, "port", 0,
		"port of the target database server (default: engine's well-known port)")

	cmd.PersistentFlags().StringVar(&settings.Schema, "schema", "",
		"schema holding the tables to anonymize (Oracle and SQL Server only)")

	cmd.PersistentFlags().StringVar(&settings.OracleDBSid, "oracle-db-sid", "",
		"SID of the Oracle database to connect to")

	cmd.PersistentFlags().StringVar(&settings.OracleTNSAlias, "oracle-tns-alias", "",
		"TNS alias of the Oracle database to connect to")

	cmd.PersistentFlags().IntVar(&settings.ConnectionTimeout, "connection-timeout", config.DEFAULT_CONNECTION_TIMEOUT,
		"connection timeout in seconds")

	cmd.PersistentFlags().BoolVar(&settings.TrustServerCertificate, "trust-server-certificate", true,
		"skip TLS certificate verification when connecting to SQL Server")

	cmd.PersistentFlags().IntVar(&settings.BatchSize, "batch-size", config.DEFAULT_BATCH_SIZE,
		"number of rows fetched and rewritten per window")

	cmd.PersistentFlags().IntVar(&settings.ScratchTableThreshold, "scratch-table-threshold", 0,
		"window size at or above which updates are staged through a scratch table (0 disables staging)")

	cmd.PersistentFlags().StringVar(&settings.JobStorePath, "job-store-path", "",
		"path of the SQLite file holding job history (default: jobs are kept in memory)")
}

// bindSettings lets config file and environment values back the flags that
// were not set explicitly on the command line.
func bindSettings() {
	rootCmd.PersistentFlags().VisitAll(func(f *pflag.Flag) {
		if !f.Changed && viper.IsSet(f.Name) {
			f.Value.Set(viper.GetString(f.Name))
		}
	})
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		// Find home directory.
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		// Search config in home directory with name ".sql-data-anonymizer" (without extension).
		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".sql-data-anonymizer")
	}

	viper.AutomaticEnv() // read in environment variables that match

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}
