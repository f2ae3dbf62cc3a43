// Package core defines the domain model for Vigil.
//
// # Architecture Overview
//
// The core package provides:
//   - Domain types (Event, Rule, Indicator, Alert, Agent, Action, Incident)
//   - The closed set of rule condition variants
//   - Constants and enums for status values
//   - The error taxonomy shared by every layer
//
// Storage, detection and transport packages depend on core; core depends on
// nothing inside the module. Interfaces are declared by the packages that
// consume them, not here.
package core
