package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rezonia/nfe-engine/internal/accesskey"
	"github.com/rezonia/nfe-engine/internal/model"
)

var (
	keyIssuer       string
	keyEmittedAt    string
	keySeries       int
	keyNumber       int64
	keyEmissionType int
	keyRandomCode   string
)

var keyCmd = &cobra.Command{
	Use:   "key",
	Short: "Generate or decode NF-e access keys",
}

var keyGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a 44-digit access key",
	Long: `Generate an access key from its fields. The check digit is computed
with the modulo 11 rule; cNF is drawn at random unless --random-code is set.

Examples:
  nfe-engine key generate --state SP --issuer 12345678000195 --number 42
  nfe-engine key generate --state RJ --issuer 12345678000195 --series 2 --number 7 --emitted-at 2025-01`,
	RunE: runKeyGenerate,
}

var keyParseCmd = &cobra.Command{
	Use:   "parse <key>",
	Short: "Decode an access key",
	Args:  cobra.ExactArgs(1),
	RunE:  runKeyParse,
}

func init() {
	rootCmd.AddCommand(keyCmd)
	keyCmd.AddCommand(keyGenerateCmd, keyParseCmd)

	keyGenerateCmd.Flags().StringVar(&keyIssuer, "issuer", "", "Issuer CNPJ or CPF")
	keyGenerateCmd.Flags().StringVar(&keyEmittedAt, "emitted-at", "", "Emission month as YYYY-MM (default: current month)")
	keyGenerateCmd.Flags().IntVar(&keySeries, "series", 1, "Document series")
	keyGenerateCmd.Flags().Int64Var(&keyNumber, "number", 0, "Document number")
	keyGenerateCmd.Flags().IntVar(&keyEmissionType, "emission-type", 1, "Emission type (tpEmis)")
	keyGenerateCmd.Flags().StringVar(&keyRandomCode, "random-code", "", "Eight-digit cNF")
	_ = keyGenerateCmd.MarkFlagRequired("issuer")
	_ = keyGenerateCmd.MarkFlagRequired("number")
}

func runKeyGenerate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	emittedAt := time.Now()
	if keyEmittedAt != "" {
		t, err := time.Parse("2006-01", keyEmittedAt)
		if err != nil {
			return fmt.Errorf("invalid --emitted-at %q: expected YYYY-MM", keyEmittedAt)
		}
		emittedAt = t
	}

	key, code, err := accesskey.NewGenerator().Generate(accesskey.Params{
		State:        cfg.State,
		EmittedAt:    emittedAt,
		IssuerDoc:    keyIssuer,
		Model:        model.ModelNFe,
		Series:       keySeries,
		Number:       keyNumber,
		EmissionType: keyEmissionType,
		RandomCode:   keyRandomCode,
	})
	if err != nil {
		return err
	}

	if outputFormat == "json" {
		return printJSON(map[string]string{"access_key": key, "random_code": code})
	}
	fmt.Println(key)
	return nil
}

func runKeyParse(cmd *cobra.Command, args []string) error {
	key, err := accesskey.Parse(args[0])
	if err != nil {
		return err
	}
	if outputFormat == "json" {
		return printJSON(key)
	}

	state, _ := accesskey.StateFromCode(key.StateCode)
	fmt.Printf("State:         %s (%s)\n", state, key.StateCode)
	fmt.Printf("Year/month:    %s\n", key.YearMonth)
	fmt.Printf("Issuer:        %s\n", key.IssuerDoc)
	fmt.Printf("Model:         %s\n", key.Model)
	fmt.Printf("Series:        %d\n", key.Series)
	fmt.Printf("Number:        %d\n", key.Number)
	fmt.Printf("Emission type: %d\n", key.EmissionType)
	fmt.Printf("Random code:   %s\n", key.RandomCode)
	fmt.Printf("Check digit:   %d\n", key.CheckDigit)
	return nil
}
