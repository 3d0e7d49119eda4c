package main

import (
	"github.com/MarcoPoloResearchLab/accessmap/internal/database"
	"github.com/MarcoPoloResearchLab/accessmap/internal/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply schema and data migrations, then exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := logging.NewLogger(viper.GetString("log.level"), viper.GetString("log.format"))
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			databasePath := viper.GetString("database.path")
			db, err := database.OpenSQLite(databasePath, logger)
			if err != nil {
				return err
			}
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			defer sqlDB.Close()

			logger.Info("migrations complete", zap.String("path", databasePath))
			return nil
		},
	}
}
