package gosynth

import (
	"errors"

	"github.com/brunobiangulo/gosynth/planner"
)

var (
	// ErrEnvironmentNotFound is returned when an environment ID does not exist.
	ErrEnvironmentNotFound = errors.New("gosynth: environment not found")

	// ErrNoConnectors is returned when an environment exposes no apps.
	ErrNoConnectors = errors.New("gosynth: environment has no connectors")

	// ErrNoSchemas is returned when no schema matches the environment's
	// connectors. It is the planner's sentinel so errors.Is works across
	// layers.
	ErrNoSchemas = planner.ErrNoSchemas

	// ErrLLMRequestFailed is returned when an LLM request fails.
	ErrLLMRequestFailed = errors.New("gosynth: LLM request failed")

	// ErrStoreClosed is returned when operating on a closed engine.
	ErrStoreClosed = errors.New("gosynth: store is closed")

	// ErrInvalidConfig is returned for invalid configuration values.
	ErrInvalidConfig = errors.New("gosynth: invalid configuration")
)
