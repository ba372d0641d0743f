package cmd

import (
	"github.com/spf13/cobra"
)

var renderOutput string

var renderCmd = &cobra.Command{
	Use:   "render <document.json>",
	Short: "Render the unsigned NF-e XML",
	Long: `Calculate a DRAFT document, generate its access key and write the
unsigned 4.00 XML.

Examples:
  nfe-engine render document.json
  nfe-engine render document.json -o nfe.xml`,
	Args: cobra.ExactArgs(1),
	RunE: runRender,
}

func init() {
	rootCmd.AddCommand(renderCmd)

	renderCmd.Flags().StringVarP(&renderOutput, "output", "o", "", "Output file (default: stdout)")
}

func runRender(cmd *cobra.Command, args []string) error {
	doc, err := readDocument(args[0])
	if err != nil {
		return err
	}

	engine, _, err := newEngine(cmd.Context())
	if err != nil {
		return err
	}
	defer engine.Close()

	out, err := engine.Render(cmd.Context(), doc)
	if err != nil {
		return err
	}
	printVerbose("Access key: %s\n", doc.AccessKey)
	return writeBytes(renderOutput, out)
}
