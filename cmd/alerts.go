package main

import (
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/credit-pipeline/internal/model"
	"github.com/sells-group/credit-pipeline/internal/store"
)

var (
	alertsUnacked bool
	alertsType    string
	alertsSince   time.Duration
	alertsLimit   int
	alertsAckBy   string
)

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "List and acknowledge stored alerts",
}

var alertsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored alerts, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("query"); err != nil {
			return err
		}
		filter := store.AlertFilter{
			UnacknowledgedOnly: alertsUnacked,
			Type:               model.AlertType(alertsType),
			Limit:              alertsLimit,
		}
		if alertsSince > 0 {
			filter.Since = time.Now().Add(-alertsSince)
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		alerts, err := st.ListAlerts(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "list alerts")
		}
		return printJSON(cmd.OutOrStdout(), alerts)
	},
}

var alertsAckCmd = &cobra.Command{
	Use:   "ack <alert-id>...",
	Short: "Acknowledge stored alerts",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("query"); err != nil {
			return err
		}
		if alertsAckBy == "" {
			return eris.New("--by is required")
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		n, err := st.AcknowledgeAlerts(ctx, args, alertsAckBy, time.Now().UTC())
		if err != nil {
			return eris.Wrap(err, "acknowledge alerts")
		}
		zap.L().Info("alerts acknowledged", zap.Int("updated", n), zap.Int("requested", len(args)))
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "acknowledged %d of %d alerts\n", n, len(args))
		return err
	},
}

func init() {
	alertsListCmd.Flags().BoolVar(&alertsUnacked, "unacknowledged", false, "only unacknowledged alerts")
	alertsListCmd.Flags().StringVar(&alertsType, "type", "", "filter by alert type, e.g. high_error_rate")
	alertsListCmd.Flags().DurationVar(&alertsSince, "since", 0, "only alerts newer than this duration, e.g. 24h")
	alertsListCmd.Flags().IntVar(&alertsLimit, "limit", store.DefaultListLimit, "maximum alerts to list")
	alertsAckCmd.Flags().StringVar(&alertsAckBy, "by", "", "who is acknowledging")

	alertsCmd.AddCommand(alertsListCmd, alertsAckCmd)
	rootCmd.AddCommand(alertsCmd)
}
