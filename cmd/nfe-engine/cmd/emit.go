package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/rezonia/nfe-engine/pkg/nfelib"
)

var (
	saveTo        string
	stepTimeout   time.Duration
	justification string
	signedOutput  string
)

var emitCmd = &cobra.Command{
	Use:   "emit <document.json>",
	Short: "Calculate, sign and transmit a document",
	Long: `Run every remaining lifecycle step of a document up to the
authority's answer. DRAFT documents are calculated, CALCULATED documents
signed, SIGNED documents transmitted. A rejection for an unknown NCM
prints classification suggestions.

Examples:
  nfe-engine emit document.json --certificate cert.pfx --certificate-password secret
  nfe-engine emit document.json --save document.json`,
	Args: cobra.ExactArgs(1),
	RunE: runEmit,
}

var queryCmd = &cobra.Command{
	Use:   "query <document.json>",
	Short: "Poll the receipt of a queued lot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLifecycle(cmd, args[0], func(ctx context.Context, e *nfelib.Engine, doc *nfelib.FiscalDocument) (*nfelib.Outcome, error) {
			return e.QueryReceipt(ctx, doc)
		})
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <document.json>",
	Short: "Cancel an authorized document",
	Long: `Register the cancellation event (110111) of an AUTHORIZED document.
The justification must have between 15 and 255 characters.

Examples:
  nfe-engine cancel document.json --reason "Pedido cancelado pelo cliente" --save document.json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLifecycle(cmd, args[0], func(ctx context.Context, e *nfelib.Engine, doc *nfelib.FiscalDocument) (*nfelib.Outcome, error) {
			return e.Cancel(ctx, doc, justification)
		})
	},
}

var voidCmd = &cobra.Command{
	Use:   "void <document.json>",
	Short: "Void an unused document number",
	Long: `Register the voiding (inutilizacao) of the document's number so the
sequence has no unexplained gap.

Examples:
  nfe-engine void document.json --reason "Falha no sistema de faturamento"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLifecycle(cmd, args[0], func(ctx context.Context, e *nfelib.Engine, doc *nfelib.FiscalDocument) (*nfelib.Outcome, error) {
			return e.Void(ctx, doc, justification)
		})
	},
}

var reopenCmd = &cobra.Command{
	Use:   "reopen <document.json>",
	Short: "Send a rejected document back to DRAFT",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLifecycle(cmd, args[0], func(ctx context.Context, e *nfelib.Engine, doc *nfelib.FiscalDocument) (*nfelib.Outcome, error) {
			if err := e.Reopen(ctx, doc); err != nil {
				return nil, err
			}
			return &nfelib.Outcome{Status: doc.Status}, nil
		})
	},
}

func init() {
	rootCmd.AddCommand(emitCmd, queryCmd, cancelCmd, voidCmd, reopenCmd)

	for _, c := range []*cobra.Command{emitCmd, queryCmd, cancelCmd, voidCmd, reopenCmd} {
		c.Flags().StringVar(&saveTo, "save", "", "Write the updated document to this file")
		c.Flags().DurationVar(&stepTimeout, "timeout", 2*time.Minute, "Timeout of the whole operation, retries included")
	}
	emitCmd.Flags().StringVarP(&signedOutput, "output", "o", "", "Write the signed XML to this file")

	for _, c := range []*cobra.Command{cancelCmd, voidCmd} {
		c.Flags().StringVar(&justification, "reason", "", "Justification sent to the authority")
		_ = c.MarkFlagRequired("reason")
	}
}

func runEmit(cmd *cobra.Command, args []string) error {
	return runLifecycle(cmd, args[0], func(ctx context.Context, e *nfelib.Engine, doc *nfelib.FiscalDocument) (*nfelib.Outcome, error) {
		outcome, err := e.Emit(ctx, doc)
		if signedOutput != "" && len(doc.SignedXML) > 0 {
			if werr := os.WriteFile(signedOutput, doc.SignedXML, 0o644); werr != nil {
				return outcome, werr
			}
			printVerbose("Signed XML written to %s\n", signedOutput)
		}
		return outcome, err
	})
}

type lifecycleStep func(ctx context.Context, e *nfelib.Engine, doc *nfelib.FiscalDocument) (*nfelib.Outcome, error)

// runLifecycle loads a document, runs one step and reports the outcome.
// The document is saved even when the step fails, since the history and
// suggestions of a rejection live on it.
func runLifecycle(cmd *cobra.Command, path string, step lifecycleStep) error {
	doc, err := readDocument(path)
	if err != nil {
		return err
	}

	engine, _, err := newEngine(cmd.Context())
	if err != nil {
		return err
	}
	defer engine.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), stepTimeout)
	defer cancel()

	outcome, stepErr := step(ctx, engine, doc)
	if err := writeDocument(saveTo, doc); err != nil {
		return err
	}
	if stepErr != nil {
		return stepErr
	}

	if outputFormat == "json" {
		return printJSON(outcomeOutput(doc, outcome))
	}
	printOutcome(doc, outcome)
	return nil
}

// OutcomeOutput is the printed result of a lifecycle step
type OutcomeOutput struct {
	Status      nfelib.Status               `json:"status"`
	AccessKey   string                      `json:"access_key,omitempty"`
	Number      int64                       `json:"number,omitempty"`
	Result      *nfelib.Result              `json:"result,omitempty"`
	Protocol    *nfelib.Protocol            `json:"protocol,omitempty"`
	Receipt     string                      `json:"receipt,omitempty"`
	Attempts    int                         `json:"attempts,omitempty"`
	Suggestions map[int][]nfelib.Suggestion `json:"suggestions,omitempty"`
}

func outcomeOutput(doc *nfelib.FiscalDocument, outcome *nfelib.Outcome) OutcomeOutput {
	out := OutcomeOutput{
		Status:    doc.Status,
		AccessKey: doc.AccessKey,
		Number:    doc.Header.Number,
		Protocol:  doc.Protocol,
		Receipt:   doc.Receipt,
	}
	if outcome != nil {
		if outcome.Result.Found {
			res := outcome.Result
			out.Result = &res
		}
		out.Attempts = outcome.Attempts
		out.Suggestions = outcome.Suggestions
	}
	return out
}

func printOutcome(doc *nfelib.FiscalDocument, outcome *nfelib.Outcome) {
	out := outcomeOutput(doc, outcome)
	fmt.Printf("Status: %s\n", out.Status)
	if out.AccessKey != "" {
		fmt.Printf("  Key:      %s\n", out.AccessKey)
	}
	if out.Result != nil {
		fmt.Printf("  cStat:    %d %s\n", out.Result.StatusCode, out.Result.Reason)
	}
	if out.Protocol != nil {
		fmt.Printf("  Protocol: %s\n", out.Protocol.Number)
	}
	if out.Receipt != "" {
		fmt.Printf("  Receipt:  %s (query it later)\n", out.Receipt)
	}
	if out.Attempts > 1 {
		fmt.Printf("  Attempts: %d\n", out.Attempts)
	}
	for item, suggestions := range out.Suggestions {
		fmt.Printf("  Item %d NCM suggestions:\n", item)
		for _, s := range suggestions {
			fmt.Printf("    %s  %s (%s)\n", s.Code, s.Description, s.Source)
		}
	}
}
