package cmd

import (
	"github.com/spf13/cobra"
)

var signOutput string

var signCmd = &cobra.Command{
	Use:   "sign <file.xml>",
	Short: "Sign an NF-e, event or voiding request",
	Long: `Sign an XML document with the configured A1 certificate. The signed
element (infNFe, infEvento or infInut) is detected from the content.

Examples:
  nfe-engine sign nfe.xml --certificate cert.pfx --certificate-password secret
  nfe-engine sign evento.xml -o evento-signed.xml`,
	Args: cobra.ExactArgs(1),
	RunE: runSign,
}

func init() {
	rootCmd.AddCommand(signCmd)

	signCmd.Flags().StringVarP(&signOutput, "output", "o", "", "Output file (default: stdout)")
}

func runSign(cmd *cobra.Command, args []string) error {
	data, err := readInput(args[0])
	if err != nil {
		return err
	}

	engine, _, err := newEngine(cmd.Context())
	if err != nil {
		return err
	}
	defer engine.Close()

	signed, err := engine.SignXML(cmd.Context(), data)
	if err != nil {
		return err
	}
	return writeBytes(signOutput, signed)
}
