package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/rezonia/nfe-engine/pkg/nfelib"
)

var calculateCmd = &cobra.Command{
	Use:   "calculate <document.json>",
	Short: "Calculate the taxes of every item",
	Long: `Resolve the fiscal context of each item and compute ICMS, ICMS-ST,
IPI, PIS, COFINS and the interstate differential. The document is not
modified.

Examples:
  nfe-engine calculate document.json
  nfe-engine calculate document.json -f table
  cat document.json | nfe-engine calculate -`,
	Args: cobra.ExactArgs(1),
	RunE: runCalculate,
}

func init() {
	rootCmd.AddCommand(calculateCmd)
}

func runCalculate(cmd *cobra.Command, args []string) error {
	doc, err := readDocument(args[0])
	if err != nil {
		return err
	}

	engine, _, err := newEngine(cmd.Context())
	if err != nil {
		return err
	}
	defer engine.Close()

	packages, err := engine.CalculateItems(doc)
	if err != nil {
		return err
	}
	printVerbose("Calculated %d items\n", len(packages))

	if outputFormat == "json" {
		return printJSON(packages)
	}
	printPackages(doc, packages)
	return nil
}

func printPackages(doc *nfelib.FiscalDocument, packages []*nfelib.CalculatedTaxPackage) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ITEM\tNCM\tCFOP\tBASE\tICMS\tIPI\tPIS\tCOFINS")
	for i, pkg := range packages {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			doc.Items[i].Number, doc.Items[i].NCM, pkg.CFOP, pkg.RootBase.StringFixed(2),
			amount(pkg.ICMSValue), amount(pkg.IPIValue), amount(pkg.PISValue), amount(pkg.COFINSValue))
	}
	_ = w.Flush()
}

func amount(v *decimal.Decimal) string {
	if v == nil {
		return "-"
	}
	return v.StringFixed(2)
}
