package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/MarcoPoloResearchLab/accessmap/internal/client"
	"github.com/MarcoPoloResearchLab/accessmap/internal/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const defaultAPIBaseURL = "http://localhost:8080"

func newVoteCommand() *cobra.Command {
	voteCmd := &cobra.Command{
		Use:   "vote",
		Short: "Cast, retract or toggle a vote through the HTTP API",
	}
	voteCmd.PersistentFlags().String("report", "", "Report identifier")
	voteCmd.PersistentFlags().String("token", "", "Bearer token (defaults to ACCESSMAP_CLIENT_TOKEN)")
	voteCmd.PersistentFlags().String("base-url", defaultAPIBaseURL, "API base URL")
	bindFlag(voteCmd.PersistentFlags().Lookup, "client.token", "token")
	bindFlag(voteCmd.PersistentFlags().Lookup, "client.base_url", "base-url")

	voteCmd.AddCommand(
		newVoteActionCommand("cast", "Cast a vote on a report", func(cmd *cobra.Command, api *client.Client, reportID string) (any, error) {
			return api.CastVote(cmd.Context(), reportID)
		}),
		newVoteActionCommand("retract", "Retract a vote from a report", func(cmd *cobra.Command, api *client.Client, reportID string) (any, error) {
			return api.RetractVote(cmd.Context(), reportID)
		}),
		newVoteActionCommand("toggle", "Toggle a vote, falling back between cast and retract", func(cmd *cobra.Command, api *client.Client, reportID string) (any, error) {
			report, err := api.GetReport(cmd.Context(), reportID)
			if err != nil {
				return nil, err
			}
			return api.Toggle(cmd.Context(), client.TrackReport(report))
		}),
	)
	return voteCmd
}

type voteAction func(cmd *cobra.Command, api *client.Client, reportID string) (any, error)

func newVoteActionCommand(use, short string, action voteAction) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reportID, err := cmd.Flags().GetString("report")
			if err != nil {
				return err
			}
			reportID = strings.TrimSpace(reportID)
			if reportID == "" {
				return fmt.Errorf("--report is required")
			}

			logger, err := logging.NewLogger(viper.GetString("log.level"), "console")
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			api, err := client.New(client.Config{
				BaseURL:     viper.GetString("client.base_url"),
				Credentials: client.NewCredentials(viper.GetString("client.token")),
				Logger:      logger,
			})
			if err != nil {
				return err
			}

			result, err := action(cmd, api, reportID)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), result)
		},
	}
}

func writeJSON(out io.Writer, value any) error {
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}
