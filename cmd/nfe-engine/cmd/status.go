package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status [state]",
	Short: "Check whether an authority is operating",
	Long: `Query the status service (NfeStatusServico4) of a state authority.
Without an argument the configured state is used.

Examples:
  nfe-engine status --certificate cert.pfx
  nfe-engine status RS --environment production -f table`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	engine, _, err := newEngine(cmd.Context())
	if err != nil {
		return err
	}
	defer engine.Close()

	state := ""
	if len(args) == 1 {
		state = strings.ToUpper(args[0])
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
	defer cancel()

	res, err := engine.ServiceStatus(ctx, state)
	if err != nil {
		return err
	}

	if outputFormat == "json" {
		return printJSON(res)
	}
	fmt.Printf("cStat:  %d\n", res.StatusCode)
	fmt.Printf("Reason: %s\n", res.Reason)
	return nil
}
