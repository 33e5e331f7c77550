package engine

import (
	"errors"

	"speriment/internal/definition"
	"speriment/internal/ordering"
)

var (
	// ErrDefinition marks a definition that cannot be built: unknown banks,
	// uneven Latin-square groups, pseudorandomization without conditions,
	// malformed resources or gates.
	ErrDefinition = definition.ErrDefinition

	// ErrImpossibleOrdering is returned when pseudorandomization cannot keep
	// equal conditions apart.
	ErrImpossibleOrdering = ordering.ErrImpossibleOrdering

	ErrNoPage           = errors.New("no page is displayed")
	ErrNotReady         = errors.New("page resources are not ready")
	ErrContinueDisabled = errors.New("continue is disabled for this page")
	ErrInvalidSelection = errors.New("invalid selection")
	ErrSessionDone      = errors.New("session is complete")
	ErrAlreadyStarted   = errors.New("session already started")
)
