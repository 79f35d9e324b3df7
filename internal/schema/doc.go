// Package schema knows which state fields each trait defines and how the
// standard commands map to state patches.
//
// It provides the validator and command function injected into device
// cells. Only the traits this service handles are described; unknown traits
// contribute no fields.
package schema
