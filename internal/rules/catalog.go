package rules

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/rezonia/nfe-engine/internal/model"
)

// Lookup is the read-only view of rule data the resolver needs.
// Misses are reported through the bool, never as errors.
type Lookup interface {
	OperationCode(code string) (*model.OperationCode, bool)
	MappedOperationCode(opType model.OperationType, origin, destination string) (*model.OperationCode, bool)
	DefaultOperationCode(direction model.Direction, scope model.Scope) (string, bool)
	ClassificationCode(code string) (*model.ClassificationCode, bool)
	Differential(ncm, cfop string) (*model.DifferentialOverride, bool)
	ProductProfile(productID string) (*model.StandardProfile, bool)
	OperationProfile(cfop string) (*model.StandardProfile, bool)
	ClassificationProfile(ncm string) (*model.StandardProfile, bool)
	ICMSRates() *ICMSRateTable
}

// MappingEntry is one row of the operation map
type MappingEntry struct {
	OperationType model.OperationType `yaml:"operation_type"`
	Origin        string              `yaml:"origin"`
	Destination   string              `yaml:"destination"`
	CFOP          string              `yaml:"cfop"`
}

// DefaultCodes are the fallback CFOPs per scope for one direction
type DefaultCodes struct {
	Internal   string `yaml:"internal"`
	Interstate string `yaml:"interstate"`
	Foreign    string `yaml:"foreign"`
}

// ProfileSet groups standard profiles by hierarchy level
type ProfileSet struct {
	Product        map[string]*model.StandardProfile `yaml:"product"`
	OperationCode  map[string]*model.StandardProfile `yaml:"operation_code"`
	Classification map[string]*model.StandardProfile `yaml:"classification_code"`
}

// CatalogFile is the YAML layout of a rule catalog
type CatalogFile struct {
	Defaults struct {
		Outbound DefaultCodes `yaml:"outbound"`
		Inbound  DefaultCodes `yaml:"inbound"`
	} `yaml:"defaults"`
	OperationCodes      []*model.OperationCode        `yaml:"operation_codes"`
	OperationMap        []MappingEntry                `yaml:"operation_map"`
	ClassificationCodes []*model.ClassificationCode   `yaml:"classification_codes"`
	Differentials       []*model.DifferentialOverride `yaml:"differentials"`
	Profiles            ProfileSet                    `yaml:"profiles"`
	ICMS                *ICMSRateTable                `yaml:"icms"`
}

// Catalog is an in-memory rule catalog handed to the core by its caller
type Catalog struct {
	operationCodes  map[string]*model.OperationCode
	operationMap    map[string]string
	defaults        map[model.Direction]DefaultCodes
	classifications map[string]*model.ClassificationCode
	differentials   map[string]*model.DifferentialOverride
	profiles        ProfileSet
	icms            *ICMSRateTable
}

// NewCatalog creates an empty catalog with the built-in fallback codes and ICMS table
func NewCatalog() *Catalog {
	c := &Catalog{
		operationCodes:  make(map[string]*model.OperationCode),
		operationMap:    make(map[string]string),
		classifications: make(map[string]*model.ClassificationCode),
		differentials:   make(map[string]*model.DifferentialOverride),
		profiles: ProfileSet{
			Product:        make(map[string]*model.StandardProfile),
			OperationCode:  make(map[string]*model.StandardProfile),
			Classification: make(map[string]*model.StandardProfile),
		},
		defaults: map[model.Direction]DefaultCodes{
			model.DirectionOutbound: {Internal: "5102", Interstate: "6102", Foreign: "7102"},
			model.DirectionInbound:  {Internal: "1102", Interstate: "2102", Foreign: "3102"},
		},
		icms: DefaultICMSRateTable(),
	}
	for _, op := range BuiltinOperationCodes() {
		c.operationCodes[op.Code] = op
	}
	return c
}

// LoadCatalog reads a YAML catalog file
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rule catalog %s: %w", path, err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes and validates a YAML catalog
func ParseCatalog(data []byte) (*Catalog, error) {
	var file CatalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to unmarshal rule catalog: %w", err)
	}

	c := NewCatalog()
	for _, op := range file.OperationCodes {
		if err := c.AddOperationCode(op); err != nil {
			return nil, err
		}
	}
	for _, m := range file.OperationMap {
		if err := c.MapOperation(m.OperationType, m.Origin, m.Destination, m.CFOP); err != nil {
			return nil, err
		}
	}
	for _, ncm := range file.ClassificationCodes {
		if err := c.AddClassificationCode(ncm); err != nil {
			return nil, err
		}
	}
	for _, d := range file.Differentials {
		c.AddDifferential(d)
	}
	for id, p := range file.Profiles.Product {
		c.SetProductProfile(id, p)
	}
	for cfop, p := range file.Profiles.OperationCode {
		c.SetOperationProfile(cfop, p)
	}
	for ncm, p := range file.Profiles.Classification {
		c.SetClassificationProfile(ncm, p)
	}
	if d := file.Defaults.Outbound; d.Internal != "" {
		c.defaults[model.DirectionOutbound] = d
	}
	if d := file.Defaults.Inbound; d.Internal != "" {
		c.defaults[model.DirectionInbound] = d
	}
	if file.ICMS != nil {
		for uf, rate := range file.ICMS.Internal {
			c.icms.Internal[strings.ToUpper(uf)] = rate
		}
		for pair, rate := range file.ICMS.Interstate {
			c.icms.Interstate[strings.ToUpper(pair)] = rate
		}
	}
	return c, nil
}

// AddOperationCode validates and registers a CFOP record
func (c *Catalog) AddOperationCode(op *model.OperationCode) error {
	if op == nil {
		return model.NewValidationError("cfop", nil, "required", "operation code record is nil")
	}
	if err := op.Validate(); err != nil {
		return err
	}
	c.operationCodes[op.Code] = op
	return nil
}

// MapOperation registers (type, origin, destination) -> cfop. The CFOP must be known.
func (c *Catalog) MapOperation(opType model.OperationType, origin, destination, cfop string) error {
	if _, ok := c.operationCodes[cfop]; !ok {
		return model.NewValidationError("operation_map", cfop, "reference", "mapped CFOP is not registered")
	}
	c.operationMap[mapKey(opType, origin, destination)] = cfop
	return nil
}

// AddClassificationCode registers an NCM record
func (c *Catalog) AddClassificationCode(ncm *model.ClassificationCode) error {
	if ncm == nil {
		return model.NewValidationError("ncm", nil, "required", "classification record is nil")
	}
	if err := ncm.Validate(); err != nil {
		return err
	}
	c.classifications[ncm.Code] = ncm
	return nil
}

// AddDifferential registers an (NCM, CFOP) override row
func (c *Catalog) AddDifferential(d *model.DifferentialOverride) {
	if d == nil {
		return
	}
	c.differentials[d.ClassificationCode+"/"+d.OperationCode] = d
}

// SetProductProfile registers a product-level profile
func (c *Catalog) SetProductProfile(productID string, p *model.StandardProfile) {
	if p != nil {
		c.profiles.Product[productID] = p
	}
}

// SetOperationProfile registers a CFOP-level profile
func (c *Catalog) SetOperationProfile(cfop string, p *model.StandardProfile) {
	if p != nil {
		c.profiles.OperationCode[cfop] = p
	}
}

// SetClassificationProfile registers an NCM-level profile
func (c *Catalog) SetClassificationProfile(ncm string, p *model.StandardProfile) {
	if p != nil {
		c.profiles.Classification[ncm] = p
	}
}

// RemoveProductProfile drops a product-level profile
func (c *Catalog) RemoveProductProfile(productID string) {
	delete(c.profiles.Product, productID)
}

// RemoveOperationProfile drops a CFOP-level profile
func (c *Catalog) RemoveOperationProfile(cfop string) {
	delete(c.profiles.OperationCode, cfop)
}

// ClassificationCodes lists registered NCM records
func (c *Catalog) ClassificationCodes() []*model.ClassificationCode {
	out := make([]*model.ClassificationCode, 0, len(c.classifications))
	for _, ncm := range c.classifications {
		out = append(out, ncm)
	}
	return out
}

func (c *Catalog) OperationCode(code string) (*model.OperationCode, bool) {
	op, ok := c.operationCodes[code]
	return op, ok
}

func (c *Catalog) MappedOperationCode(opType model.OperationType, origin, destination string) (*model.OperationCode, bool) {
	cfop, ok := c.operationMap[mapKey(opType, origin, destination)]
	if !ok {
		return nil, false
	}
	return c.OperationCode(cfop)
}

func (c *Catalog) DefaultOperationCode(direction model.Direction, scope model.Scope) (string, bool) {
	d, ok := c.defaults[direction]
	if !ok {
		return "", false
	}
	var code string
	switch scope {
	case model.ScopeInterstate:
		code = d.Interstate
	case model.ScopeForeign:
		code = d.Foreign
	default:
		code = d.Internal
	}
	return code, code != ""
}

func (c *Catalog) ClassificationCode(code string) (*model.ClassificationCode, bool) {
	ncm, ok := c.classifications[code]
	return ncm, ok
}

func (c *Catalog) Differential(ncm, cfop string) (*model.DifferentialOverride, bool) {
	d, ok := c.differentials[ncm+"/"+cfop]
	return d, ok
}

func (c *Catalog) ProductProfile(productID string) (*model.StandardProfile, bool) {
	if productID == "" {
		return nil, false
	}
	p, ok := c.profiles.Product[productID]
	return p, ok
}

func (c *Catalog) OperationProfile(cfop string) (*model.StandardProfile, bool) {
	p, ok := c.profiles.OperationCode[cfop]
	return p, ok
}

func (c *Catalog) ClassificationProfile(ncm string) (*model.StandardProfile, bool) {
	p, ok := c.profiles.Classification[ncm]
	return p, ok
}

func (c *Catalog) ICMSRates() *ICMSRateTable {
	return c.icms
}

func mapKey(opType model.OperationType, origin, destination string) string {
	return string(opType) + "|" + strings.ToUpper(origin) + "|" + strings.ToUpper(destination)
}

// BuiltinOperationCodes are the generic purchase/sale codes used as fallbacks
func BuiltinOperationCodes() []*model.OperationCode {
	taxed := func(code, desc string) *model.OperationCode {
		return &model.OperationCode{
			Code:              code,
			Description:       desc,
			RequiresICMS:      true,
			RequiresPISCOFINS: true,
		}
	}

	return []*model.OperationCode{
		taxed("5102", "Venda de mercadoria adquirida ou recebida de terceiros"),
		taxed("6102", "Venda de mercadoria adquirida ou recebida de terceiros (interestadual)"),
		{Code: "7102", Description: "Venda de mercadoria adquirida ou recebida de terceiros para o exterior"},
		taxed("1102", "Compra para comercialização"),
		taxed("2102", "Compra para comercialização (interestadual)"),
		taxed("3102", "Compra para comercialização (importação)"),
	}
}
