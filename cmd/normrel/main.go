package main

import (
	"os"

	"github.com/mkallweit/normrel"
	"github.com/mkallweit/normrel/helper"
	"github.com/mkallweit/normrel/model"
	"github.com/spf13/cobra"
)

var (
	configPath  string
	storageRoot string
)

var rootCmd = &cobra.Command{
	Use:   "normrel",
	Short: "Document pipeline and relationship review",
	Long: `Uploads regulatory documents into the processing pipeline, discovers
relationships between them and manages the human review queue.

Database access is configured through environment variables (DB_HOST,
DB_PORT, DB_DATABASE, DB_USERNAME, DB_PASSWORD, DB_SCHEMA, DB_SSL_MODE),
a .env file is picked up automatically.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "normrel.yaml", "pipeline config file, missing file uses defaults")
	rootCmd.PersistentFlags().StringVar(&storageRoot, "storage", "normrel-data", "directory for uploaded files and extraction results")
}

// openNormrel builds the facade from flags and environment
func openNormrel() (*normrel.Normrel, error) {
	dbConfig, err := helper.NewDatabaseConfiguration()
	if err != nil {
		return nil, err
	}

	config, err := model.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	return normrel.NewNormrel(dbConfig, storageRoot, config)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
