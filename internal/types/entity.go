package types

import "fmt"

// EntityType names a class of persisted domain entities. Secondary-store ids
// are derived as "{entity_type}_{natural_key}" so the same primary row always
// maps to the same secondary document or node.
type EntityType string

const (
	EntityTypeQuote     EntityType = "quote"
	EntityTypeSignal    EntityType = "signal"
	EntityTypeTrade     EntityType = "trade"
	EntityTypeRiskEvent EntityType = "risk_event"
)

// Entity is anything the synchronization service can persist and propagate.
type Entity interface {
	// EntityType returns the entity class used for routing and id derivation.
	EntityType() EntityType
	// Key returns the natural key of the entity, stable across retries.
	Key() string
}

// SecondaryID derives the deterministic secondary-store id for an entity.
func SecondaryID(e Entity) string {
	return fmt.Sprintf("%s_%s", e.EntityType(), e.Key())
}
