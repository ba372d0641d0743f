// Package accesskey builds and parses the 44-digit NF-e access key (chave de acesso).
package accesskey

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/rezonia/nfe-engine/internal/model"
)

// Length of a full key and of the base the check digit covers
const (
	Length     = 44
	BaseLength = 43
)

// stateCodes are the IBGE numeric codes of each federative unit
var stateCodes = map[string]string{
	"RO": "11", "AC": "12", "AM": "13", "RR": "14", "PA": "15", "AP": "16", "TO": "17",
	"MA": "21", "PI": "22", "CE": "23", "RN": "24", "PB": "25", "PE": "26", "AL": "27",
	"SE": "28", "BA": "29", "MG": "31", "ES": "32", "RJ": "33", "SP": "35", "PR": "41",
	"SC": "42", "RS": "43", "MS": "50", "MT": "51", "GO": "52", "DF": "53",
}

// StateCode returns the IBGE code of a UF
func StateCode(uf string) (string, bool) {
	code, ok := stateCodes[strings.ToUpper(uf)]
	return code, ok
}

// StateFromCode returns the UF of an IBGE code
func StateFromCode(code string) (string, bool) {
	for uf, c := range stateCodes {
		if c == code {
			return uf, true
		}
	}
	return "", false
}

// Params are the fields encoded in a key
type Params struct {
	State        string // UF, e.g. "SP"
	EmittedAt    time.Time
	IssuerDoc    string // CNPJ or CPF, zero-padded to 14
	Model        model.DocumentModel
	Series       int
	Number       int64
	EmissionType int
	RandomCode   string // cNF; generated when empty
}

// Key is a parsed access key
type Key struct {
	StateCode    string `json:"state_code"`
	YearMonth    string `json:"year_month"`
	IssuerDoc    string `json:"issuer_document"`
	Model        string `json:"model"`
	Series       int    `json:"series"`
	Number       int64  `json:"number"`
	EmissionType int    `json:"emission_type"`
	RandomCode   string `json:"random_code"`
	CheckDigit   int    `json:"check_digit"`
}

// Generator builds access keys. The random source is only used for cNF.
type Generator struct {
	random io.Reader
}

// NewGenerator creates a generator reading cNF entropy from crypto/rand
func NewGenerator() *Generator {
	return &Generator{random: rand.Reader}
}

// NewGeneratorWithRandom creates a generator with a custom entropy source
func NewGeneratorWithRandom(r io.Reader) *Generator {
	return &Generator{random: r}
}

// Generate builds a 44-digit key and returns it with the cNF used
func (g *Generator) Generate(p Params) (key string, randomCode string, err error) {
	randomCode = p.RandomCode
	if randomCode == "" {
		randomCode, err = g.randomCode(p.Number)
		if err != nil {
			return "", "", err
		}
	}
	base, err := Base(p, randomCode)
	if err != nil {
		return "", "", err
	}
	return base + strconv.Itoa(CheckDigit(base)), randomCode, nil
}

// Base builds the 43 digits covered by the check digit
func Base(p Params, randomCode string) (string, error) {
	uf, ok := StateCode(p.State)
	if !ok {
		return "", model.NewValidationError("issuer.address.state", p.State, "state", "unknown federative unit")
	}
	doc := digitsOnly(p.IssuerDoc)
	if doc == "" || len(doc) > 14 {
		return "", model.NewValidationError("issuer.document", p.IssuerDoc, "length", "must have up to 14 digits")
	}
	mod := string(p.Model)
	if mod == "" {
		mod = string(model.ModelNFe)
	}
	if len(mod) != 2 || !model.IsDigits(mod) {
		return "", model.NewValidationError("model", mod, "format", "must be 2 digits")
	}
	if p.Series < 0 || p.Series > 999 {
		return "", model.NewValidationError("series", p.Series, "range", "must be between 0 and 999")
	}
	if p.Number < 1 || p.Number > 999999999 {
		return "", model.NewValidationError("number", p.Number, "range", "must be between 1 and 999999999")
	}
	emission := p.EmissionType
	if emission == 0 {
		emission = 1
	}
	if emission < 1 || emission > 9 {
		return "", model.NewValidationError("emission_type", emission, "range", "must be a single digit")
	}
	if len(randomCode) != 8 || !model.IsDigits(randomCode) {
		return "", model.NewValidationError("random_code", randomCode, "format", "must be 8 digits")
	}
	if p.EmittedAt.IsZero() {
		return "", model.NewValidationError("emitted_at", nil, "required", "emission date is required")
	}

	return fmt.Sprintf("%s%s%s%s%03d%09d%d%s",
		uf,
		p.EmittedAt.Format("0601"),
		strings.Repeat("0", 14-len(doc))+doc,
		mod,
		p.Series,
		p.Number,
		emission,
		randomCode,
	), nil
}

// CheckDigit computes the modulo-11 digit with cyclic weights 2..9 from the right.
// Remainders 0 and 1 map to 0.
func CheckDigit(base string) int {
	sum := 0
	weight := 2
	for i := len(base) - 1; i >= 0; i-- {
		sum += int(base[i]-'0') * weight
		weight++
		if weight > 9 {
			weight = 2
		}
	}
	rem := sum % 11
	if rem < 2 {
		return 0
	}
	return 11 - rem
}

// Valid reports whether key is 44 digits with a correct check digit
func Valid(key string) bool {
	if len(key) != Length || !model.IsDigits(key) {
		return false
	}
	return CheckDigit(key[:BaseLength]) == int(key[BaseLength]-'0')
}

// Parse splits a key into its fields after validating the check digit
func Parse(key string) (*Key, error) {
	key = digitsOnly(key)
	if len(key) != Length {
		return nil, model.NewValidationError("access_key", key, "length", "must have 44 digits")
	}
	if !Valid(key) {
		return nil, model.NewValidationError("access_key", key, "check_digit", "check digit does not match")
	}
	series, _ := strconv.Atoi(key[22:25])
	number, _ := strconv.ParseInt(key[25:34], 10, 64)
	return &Key{
		StateCode:    key[0:2],
		YearMonth:    key[2:6],
		IssuerDoc:    key[6:20],
		Model:        key[20:22],
		Series:       series,
		Number:       number,
		EmissionType: int(key[34] - '0'),
		RandomCode:   key[35:43],
		CheckDigit:   int(key[43] - '0'),
	}, nil
}

// randomCode draws an 8-digit cNF that differs from the document number
func (g *Generator) randomCode(number int64) (string, error) {
	limit := big.NewInt(100000000)
	for attempt := 0; attempt < 10; attempt++ {
		n, err := rand.Int(g.random, limit)
		if err != nil {
			return "", fmt.Errorf("failed to generate random code: %w", err)
		}
		if n.Int64() != number%100000000 {
			return fmt.Sprintf("%08d", n.Int64()), nil
		}
	}
	return "", fmt.Errorf("failed to generate random code distinct from number %d", number)
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
