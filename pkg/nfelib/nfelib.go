// Package nfelib provides a public API for computing, signing and emitting
// Brazilian NF-e documents.
//
// It assembles the engine from a configuration and exposes the document
// lifecycle: calculate, render, sign, transmit, cancel and void.
//
// Example usage:
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	engine, err := nfelib.New(ctx, nfelib.Options{Config: cfg})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer engine.Close()
//	outcome, err := engine.Emit(ctx, doc)
package nfelib

import (
	"github.com/rezonia/nfe-engine/internal/emission"
	"github.com/rezonia/nfe-engine/internal/model"
	"github.com/rezonia/nfe-engine/internal/response"
	"github.com/rezonia/nfe-engine/internal/suggest"
)

// Re-export core types for public API
type (
	FiscalDocument       = model.FiscalDocument
	Header               = model.Header
	Party                = model.Party
	Address              = model.Address
	Item                 = model.Item
	Payment              = model.Payment
	Protocol             = model.Protocol
	CalculatedTaxPackage = model.CalculatedTaxPackage
	Status               = model.Status
	Environment          = model.Environment
	Outcome              = emission.Outcome
	HistoryEntry         = emission.HistoryEntry
	Result               = response.Result
	Suggestion           = suggest.Suggestion
)

// Re-export lifecycle states
const (
	StatusDraft       = model.StatusDraft
	StatusCalculated  = model.StatusCalculated
	StatusSigned      = model.StatusSigned
	StatusTransmitted = model.StatusTransmitted
	StatusAuthorized  = model.StatusAuthorized
	StatusRejected    = model.StatusRejected
	StatusCancelled   = model.StatusCancelled
	StatusVoided      = model.StatusVoided
)

// Re-export environments
const (
	EnvironmentProduction   = model.EnvironmentProduction
	EnvironmentHomologation = model.EnvironmentHomologation
)

// Re-export error kinds for errors.Is
var (
	ErrValidation          = model.ErrValidation
	ErrCertificate         = model.ErrCertificate
	ErrTransport           = model.ErrTransport
	ErrEnvironmentMismatch = model.ErrEnvironmentMismatch
	ErrParse               = model.ErrParse
	ErrStateViolation      = model.ErrStateViolation
)

// Re-export error types
type (
	ValidationError          = model.ValidationError
	ParseError               = model.ParseError
	TransportError           = model.TransportError
	EnvironmentMismatchError = model.EnvironmentMismatchError
	StateError               = model.StateError
)
