package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"invoice-variance-service/cmd/variance/config"
	"invoice-variance-service/pkg/errors"
	"invoice-variance-service/pkg/logger"
)

var (
	cfgFile string
	verbose bool
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "variance",
	Short: "Invoice price variance tool",
	Long: `Variance extracts fields and line items from OCR'd invoice text, compares
each line against a pricing catalog and reports price variances. Reconciled
invoices can be kept in a SQLite history and analysed for price trends.

Examples:
  variance reconcile --catalog catalog.csv --invoices invoice1.txt,invoice2.json
  variance reconcile --catalog catalog.xlsx --invoices invoices/ --store history.db --output-format json
  variance trend --store history.db --start-date 2024-01-01
  variance extract --invoices invoice1.txt
  variance version`,
	Version:       getVersionString(),
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()

	// Global flags
	flags.StringVar(&cfgFile, "config", "", "config file (optional)")
	flags.BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	flags.String("log-level", "", "log level: debug, info, warn, error (default warn, info with --verbose)")
	flags.String("log-format", "text", "log format: text or json")

	// Inputs shared by reconcile, trend and extract
	flags.StringP("catalog", "c", "", "pricing catalog (.csv or .xlsx)")
	flags.String("catalog-sheet", "", "worksheet of an .xlsx catalog (default first sheet)")
	flags.StringSliceP("invoices", "i", nil, "invoice files or directories (.txt or .json), comma-separated")
	flags.Float64P("tolerance", "t", 0.05, "accepted price variance as a fraction (0.05 = 5%)")
	flags.Int("concurrency", 4, "invoices reconciled in parallel")
	flags.String("store", "", "SQLite history database (empty disables persistence)")

	// Output
	flags.StringP("output-format", "f", "console", "output format: console, json, csv")
	flags.StringP("output-file", "o", "", "output file path (default: stdout)")

	for _, name := range []string{
		"verbose", "log-level", "log-format",
		"catalog", "catalog-sheet", "invoices", "tolerance", "concurrency", "store",
		"output-format", "output-file",
	} {
		viper.BindPFlag(name, flags.Lookup(name))
	}
}

// initConfig reads in config file and ENV variables, then installs the
// global logger.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)

		if err := viper.ReadInConfig(); err != nil {
			fmt.Fprintf(os.Stderr, "Error reading config file: %s\n", err)
			os.Exit(errors.ConfigurationError(errors.CodeInvalidConfig, "config", cfgFile, err).GetExitCode())
		}

		if viper.GetBool("verbose") {
			fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
		}
	}

	// VARIANCE_OUTPUT_FORMAT overrides --output-format and so on
	viper.SetEnvPrefix("VARIANCE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	log, err := logger.NewLogger(config.CreateLoggerConfig(
		viper.GetString("log-level"),
		viper.GetString("log-format"),
		viper.GetBool("verbose"),
	))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error configuring logger: %s\n", err)
		os.Exit(errors.ConfigurationError(errors.CodeInvalidConfig, "log-level", viper.GetString("log-level"), err).GetExitCode())
	}
	logger.SetGlobalLogger(log)
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = getVersionString()
}

func getVersionString() string {
	if version == "dev" {
		return fmt.Sprintf("%s (commit %s, built %s)", version, commit, date)
	}
	return version
}
