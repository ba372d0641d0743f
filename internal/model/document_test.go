package model_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezonia/nfe-engine/internal/model"
)

func TestStatus_CanTransition(t *testing.T) {
	tests := []struct {
		from, to model.Status
		want     bool
	}{
		{model.StatusDraft, model.StatusCalculated, true},
		{model.StatusDraft, model.StatusSigned, false},
		{model.StatusCalculated, model.StatusSigned, true},
		{model.StatusCalculated, model.StatusDraft, true},
		{model.StatusSigned, model.StatusTransmitted, true},
		{model.StatusSigned, model.StatusAuthorized, false},
		{model.StatusTransmitted, model.StatusAuthorized, true},
		{model.StatusTransmitted, model.StatusRejected, true},
		{model.StatusTransmitted, model.StatusVoided, false},
		{model.StatusRejected, model.StatusDraft, true},
		{model.StatusAuthorized, model.StatusCancelled, true},
		{model.StatusAuthorized, model.StatusVoided, true},
		{model.StatusAuthorized, model.StatusDraft, false},
		{model.StatusCancelled, model.StatusDraft, false},
		{model.StatusVoided, model.StatusCancelled, false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s->%s", tt.from, tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransition(tt.to))
		})
	}
}

func TestFiscalDocument_Transition(t *testing.T) {
	doc := &model.FiscalDocument{Status: model.StatusDraft}
	require.NoError(t, doc.Transition("calculate", model.StatusCalculated))
	assert.Equal(t, model.StatusCalculated, doc.Status)

	err := doc.Transition("transmit", model.StatusTransmitted)
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrStateViolation))
	assert.Equal(t, model.StatusCalculated, doc.Status)

	var stateErr *model.StateError
	require.True(t, errors.As(err, &stateErr))
	assert.Equal(t, "transmit", stateErr.Operation)
	assert.Equal(t, model.StatusCalculated, stateErr.From)
	assert.Contains(t, err.Error(), "CALCULATED -> TRANSMITTED")
}

func TestStatus_IsTerminal(t *testing.T) {
	assert.False(t, model.StatusDraft.IsTerminal())
	assert.False(t, model.StatusRejected.IsTerminal())
	assert.True(t, model.StatusAuthorized.IsTerminal())
	assert.True(t, model.StatusCancelled.IsTerminal())
	assert.True(t, model.StatusVoided.IsTerminal())
}

func TestFiscalDocument_CloneIsDeep(t *testing.T) {
	icms := decimal.NewFromInt(12)
	departure := time.Date(2025, 1, 16, 8, 0, 0, 0, time.UTC)
	doc := &model.FiscalDocument{
		Header:    model.Header{Number: 42, DepartureAt: &departure},
		Items:     []model.Item{{Number: 1, NCM: "84713012", Taxes: &model.CalculatedTaxPackage{CFOP: "6102", ICMSValue: &icms}}},
		Payments:  []model.Payment{{Method: "01", Amount: decimal.NewFromInt(100)}},
		SignedXML: []byte("<NFe/>"),
		Protocol:  &model.Protocol{Number: "135250000000001", StatusCode: 100},
	}

	c := doc.Clone()
	c.Items[0].NCM = "00000000"
	c.Items[0].Taxes.CFOP = "5102"
	c.Payments[0].Method = "03"
	c.SignedXML[1] = 'X'
	c.Protocol.Number = "other"
	*c.Header.DepartureAt = departure.Add(time.Hour)

	assert.Equal(t, "84713012", doc.Items[0].NCM)
	assert.Equal(t, "6102", doc.Items[0].Taxes.CFOP)
	assert.Equal(t, "01", doc.Payments[0].Method)
	assert.Equal(t, "<NFe/>", string(doc.SignedXML))
	assert.Equal(t, "135250000000001", doc.Protocol.Number)
	assert.Equal(t, departure, *doc.Header.DepartureAt)
}

func TestParseEnvironment(t *testing.T) {
	tests := []struct {
		in   string
		want model.Environment
		ok   bool
	}{
		{"production", model.EnvironmentProduction, true},
		{"1", model.EnvironmentProduction, true},
		{"homologation", model.EnvironmentHomologation, true},
		{"hom", model.EnvironmentHomologation, true},
		{"2", model.EnvironmentHomologation, true},
		{"staging", "", false},
	}
	for _, tt := range tests {
		got, ok := model.ParseEnvironment(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
	assert.Equal(t, "1", model.EnvironmentProduction.Code())
	assert.Equal(t, "2", model.EnvironmentHomologation.Code())
}

func TestOperationCode_Validate(t *testing.T) {
	assert.NoError(t, (&model.OperationCode{Code: "6102"}).Validate())
	assert.True(t, errors.Is((&model.OperationCode{Code: "610"}).Validate(), model.ErrValidation))
	assert.True(t, errors.Is((&model.OperationCode{Code: "4102"}).Validate(), model.ErrValidation))

	op := &model.OperationCode{Code: "7102"}
	assert.Equal(t, model.DirectionOutbound, op.Direction())
	assert.Equal(t, model.ScopeForeign, op.Scope())
	op = &model.OperationCode{Code: "2102"}
	assert.Equal(t, model.DirectionInbound, op.Direction())
	assert.Equal(t, model.ScopeInterstate, op.Scope())
}

func TestItem_IsImported(t *testing.T) {
	assert.False(t, model.Item{Origin: 0}.IsImported())
	assert.True(t, model.Item{Origin: 1}.IsImported())
	assert.True(t, model.Item{Origin: 8}.IsImported())
	assert.False(t, model.Item{Origin: 5}.IsImported())
}

func TestErrorKinds(t *testing.T) {
	cause := assert.AnError
	tests := []struct {
		name string
		err  error
		kind error
	}{
		{"validation", model.NewValidationError("ncm", "8471", "format", "must be 8 digits"), model.ErrValidation},
		{"parse", model.NewParseError("authorization", "no status", []byte("<x/>"), cause), model.ErrParse},
		{"transport", model.NewTransportError("https://sefaz", 503, 3, "unavailable", cause), model.ErrTransport},
		{"environment", &model.EnvironmentMismatchError{Declared: model.EnvironmentProduction, Configured: model.EnvironmentHomologation}, model.ErrEnvironmentMismatch},
		{"state", model.NewStateError("cancel", model.StatusDraft, model.StatusCancelled), model.ErrStateViolation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("emit: %w", tt.err)
			assert.True(t, errors.Is(wrapped, tt.kind))
			for _, other := range []error{model.ErrValidation, model.ErrParse, model.ErrTransport, model.ErrEnvironmentMismatch, model.ErrStateViolation} {
				if other != tt.kind {
					assert.False(t, errors.Is(tt.err, other), other.Error())
				}
			}
		})
	}
}

func TestErrorMessages(t *testing.T) {
	err := model.NewValidationError("ncm", "8471", "format", "must be 8 digits")
	assert.Contains(t, err.Error(), "ncm")
	assert.Contains(t, err.Error(), "8471")

	terr := model.NewTransportError("https://sefaz", 503, 3, "unavailable", assert.AnError)
	assert.Contains(t, terr.Error(), "3 attempt(s)")
	assert.Contains(t, terr.Error(), "status=503")
	require.ErrorIs(t, terr, assert.AnError)

	perr := model.NewParseError("authorization", "no status", []byte("<x/>"), nil)
	assert.Equal(t, "[authorization] no status", perr.Error())
	assert.Equal(t, []byte("<x/>"), perr.Raw)
}
