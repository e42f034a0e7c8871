package shared

import (
	appshared "github.com/odyssey-erp/odyssey-finance/internal/shared"
)

var (
	// ErrUnbalanced indicates debit != credit.
	ErrUnbalanced = appshared.NewValidation("accounting: journal lines must balance")
	// ErrNoLines indicates an entry without lines.
	ErrNoLines = appshared.NewValidation("accounting: journal requires lines")
	// ErrOneSided indicates an entry missing a debit or credit side.
	ErrOneSided = appshared.NewValidation("accounting: journal requires debit and credit lines")
	// ErrZeroTotal indicates an entry whose totals are zero.
	ErrZeroTotal = appshared.NewValidation("accounting: journal total must be positive")
	// ErrInvalidLine indicates a malformed journal line.
	ErrInvalidLine = appshared.NewValidation("accounting: invalid journal line")
	// ErrInvalidEntry indicates a malformed journal header.
	ErrInvalidEntry = appshared.NewValidation("accounting: invalid journal entry")
	// ErrInvalidStatus indicates action can't proceed.
	ErrInvalidStatus = appshared.NewPrecondition("accounting: invalid status transition")
	// ErrPostedImmutable indicates a write to a posted or reversed entry.
	ErrPostedImmutable = appshared.NewPrecondition("accounting: posted entries are immutable")
	// ErrAlreadyReversed indicates a second reversal attempt.
	ErrAlreadyReversed = appshared.NewPrecondition("accounting: journal entry already reversed")
	// ErrSourceAlreadyLinked indicates idempotency conflict.
	ErrSourceAlreadyLinked = appshared.NewPrecondition("accounting: source already linked")
	// ErrSourceConflict indicates the source link already exists.
	ErrSourceConflict = appshared.NewPrecondition("accounting: source link conflict")
	// ErrJournalNotFound indicates missing entry.
	ErrJournalNotFound = appshared.NewNotFound("accounting: journal entry not found")
	// ErrMappingNotFound indicates account mapping missing.
	ErrMappingNotFound = appshared.NewIntegrity("accounting: account mapping not found")
	// ErrAccountNotFound indicates a missing account row.
	ErrAccountNotFound = appshared.NewNotFound("accounting: account not found")
	// ErrControlAccountMissing indicates seed data lacks a control account.
	ErrControlAccountMissing = appshared.NewIntegrity("accounting: control account missing")
	// ErrAccountInUse indicates posted lines reference the account.
	ErrAccountInUse = appshared.NewPrecondition("accounting: account referenced by posted lines")
)
