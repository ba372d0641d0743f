package cmd

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/rezonia/nfe-engine/internal/accesskey"
	"github.com/rezonia/nfe-engine/internal/signature"
	"github.com/rezonia/nfe-engine/pkg/nfelib"
)

var verifyTimeout time.Duration

var verifyCmd = &cobra.Command{
	Use:   "verify <file|dir|glob>...",
	Short: "Check the signature of signed NF-e, event and voiding files",
	Long: `Check the XMLDSig signature over infNFe, infEvento or infInut.

Each file is checked for digest and RSA-SHA256 value, the certificate chain
(system roots plus --ca-bundle) and, with --ocsp, revocation. When the
signed Id carries an access key, the key is validated and its issuer CNPJ
root compared with the certificate holder.

Examples:
  nfe-engine verify nfe-signed.xml
  nfe-engine verify --ca-bundle icp-brasil.pem signed/
  nfe-engine verify -f json 'out/*.xml'`,
	Args: cobra.MinimumNArgs(1),
	RunE: runVerify,
}

func init() {
	rootCmd.AddCommand(verifyCmd)
	verifyCmd.Flags().DurationVar(&verifyTimeout, "timeout", time.Minute, "Per-file timeout, OCSP included")
}

// FileVerification is the per-file report of the verify command
type FileVerification struct {
	File      string `json:"file"`
	Target    string `json:"target,omitempty"`
	AccessKey string `json:"access_key,omitempty"`
	*signature.VerificationResult
}

var keyInID = regexp.MustCompile(`\d{44}`)

func runVerify(cmd *cobra.Command, args []string) error {
	files, err := collectXMLFiles(args)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no XML files matched %s", strings.Join(args, " "))
	}

	engine, _, err := newEngine(cmd.Context())
	if err != nil {
		return err
	}
	defer engine.Close()

	reports := make([]*FileVerification, 0, len(files))
	failed := 0
	for _, file := range files {
		printVerbose("Verifying %s\n", file)
		report := verifyFile(cmd.Context(), engine, file)
		if !report.Valid {
			failed++
		}
		reports = append(reports, report)
	}

	if outputFormat == "json" {
		if err := printJSON(reports); err != nil {
			return err
		}
	} else {
		printVerifyTable(reports)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d files failed verification", failed, len(reports))
	}
	return nil
}

func verifyFile(parent context.Context, engine *nfelib.Engine, path string) *FileVerification {
	report := &FileVerification{File: path, VerificationResult: signature.NewVerificationResult()}

	data, err := os.ReadFile(path)
	if err != nil {
		report.AddError(fmt.Sprintf("read: %v", err))
		return report
	}
	report.Target = signature.DetectTarget(data)

	ctx, cancel := context.WithTimeout(parent, verifyTimeout)
	defer cancel()

	res, err := engine.Verify(ctx, data)
	if err != nil {
		report.AddError(err.Error())
		return report
	}
	report.VerificationResult = res
	checkAccessKey(report)
	return report
}

// checkAccessKey validates the key embedded in the signed Id and, for an
// invoice, compares the issuer CNPJ root with the one in the certificate.
func checkAccessKey(report *FileVerification) {
	raw := keyInID.FindString(report.ReferenceID)
	if raw == "" {
		return
	}
	key, err := accesskey.Parse(raw)
	if err != nil {
		report.AddError(fmt.Sprintf("access key %s: %v", raw, err))
		return
	}
	report.AccessKey = raw

	if report.Target != signature.TargetInvoice || report.Signer == nil || len(report.Signer.Document) != 14 {
		return
	}
	if key.IssuerDoc[:8] != report.Signer.Document[:8] {
		report.AddWarning(fmt.Sprintf("issuer CNPJ root %s differs from certificate root %s",
			key.IssuerDoc[:8], report.Signer.Document[:8]))
	}
}

func printVerifyTable(reports []*FileVerification) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "FILE\tTARGET\tSIG\tCHAIN\tOCSP\tSIGNER\tRESULT")
	for _, r := range reports {
		signer := "-"
		if r.Signer != nil {
			signer = r.Signer.Name
		}
		result := "VALID"
		if !r.Valid {
			result = "INVALID"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n", r.File, r.Target,
			mark(r.SignatureValid), mark(r.CertChainValid), mark(r.NotRevoked), signer, result)
	}
	_ = w.Flush()

	for _, r := range reports {
		for _, e := range r.Errors {
			fmt.Printf("%s: error: %s\n", r.File, e)
		}
		for _, warn := range r.Warnings {
			fmt.Printf("%s: warning: %s\n", r.File, warn)
		}
	}
}

func mark(ok bool) string {
	if ok {
		return "ok"
	}
	return "--"
}

// collectXMLFiles expands globs and walks directories. The result is
// sorted and free of duplicates.
func collectXMLFiles(args []string) ([]string, error) {
	seen := make(map[string]struct{})
	add := func(path string) {
		if strings.EqualFold(filepath.Ext(path), ".xml") {
			seen[path] = struct{}{}
		}
	}

	for _, arg := range args {
		matches, err := filepath.Glob(arg)
		if err != nil {
			return nil, fmt.Errorf("bad pattern %q: %w", arg, err)
		}
		if len(matches) == 0 {
			matches = []string{arg}
		}
		for _, m := range matches {
			info, err := os.Stat(m)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", m, err)
			}
			if !info.IsDir() {
				add(m)
				continue
			}
			err = filepath.WalkDir(m, func(path string, d fs.DirEntry, err error) error {
				if err != nil {
					return err
				}
				if !d.IsDir() {
					add(path)
				}
				return nil
			})
			if err != nil {
				return nil, err
			}
		}
	}

	files := make([]string, 0, len(seen))
	for f := range seen {
		files = append(files, f)
	}
	sort.Strings(files)
	return files, nil
}
