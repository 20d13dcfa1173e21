package errors

import "errors"

// Storage errors.
var (
	ErrNotFound     = errors.New("not found")
	ErrEmptyKey     = errors.New("empty key")
	ErrInvalidData  = errors.New("invalid data type")
	ErrEntityExists = errors.New("entity already exists")
)

// Configuration errors. All of these abort the process before the first
// training step executes.
var (
	ErrUnknownRole      = errors.New("unknown cluster role")
	ErrDuplicatePrimary = errors.New("only one replica of the primary coordinator expected")
	ErrInvalidBlendSpec = errors.New("invalid loss blend spec")
	ErrUnknownModel     = errors.New("unknown model identifier")
	ErrUnknownLoss      = errors.New("unknown loss identifier")
	ErrUnknownOptimizer = errors.New("unknown optimizer identifier")
	ErrUnknownReader    = errors.New("unknown reader identifier")
	ErrUnknownAugmenter = errors.New("unknown augmenter identifier")
	ErrUnknownTransform = errors.New("unknown transform identifier")
)

// Data source errors.
var ErrNoInputFiles = errors.New("input data pattern matched no files")

// Checkpoint errors. A corrupt checkpoint fails the resume attempt and is
// surfaced to the operator rather than silently falling back to a fresh
// model.
var ErrCorruptCheckpoint = errors.New("corrupt checkpoint")

// Expected loop-termination signals. These are informational, not failures.
var (
	ErrEpochExhausted   = errors.New("epoch limit reached")
	ErrStepLimitReached = errors.New("step limit reached")
)
