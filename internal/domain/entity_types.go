package domain

// EntityType names one of the record kinds a package can carry.
type EntityType string

const (
	EntityBuilding     EntityType = "Building"
	EntityPropertyUnit EntityType = "PropertyUnit"
	EntityHousehold    EntityType = "Household"
	EntityPerson       EntityType = "Person"
	EntityRelation     EntityType = "PersonPropertyRelation"
	EntityClaim        EntityType = "Claim"
	EntityEvidence     EntityType = "Evidence"
	EntitySurvey       EntityType = "Survey"
)

// commitOrder is the dependency order for commit: parents before children.
// Surveys reference units only, so they go last with evidence.
var commitOrder = []EntityType{
	EntityBuilding,
	EntityPropertyUnit,
	EntityHousehold,
	EntityPerson,
	EntityRelation,
	EntityClaim,
	EntityEvidence,
	EntitySurvey,
}

// CommitOrder returns entity types parent-first. Callers must not mutate it.
func CommitOrder() []EntityType {
	return commitOrder
}

// refFields maps entity type to the payload fields that hold original-identifier
// references to other rows in the same package, with the ref's target type.
var refFields = map[EntityType]map[string]EntityType{
	EntityBuilding:     {},
	EntityPropertyUnit: {"buildingRef": EntityBuilding},
	EntityHousehold:    {"unitRef": EntityPropertyUnit},
	EntityPerson:       {"householdRef": EntityHousehold},
	EntityRelation:     {"personRef": EntityPerson, "unitRef": EntityPropertyUnit},
	EntityClaim:        {"claimantRef": EntityPerson, "unitRef": EntityPropertyUnit},
	EntityEvidence:     {"claimRef": EntityClaim},
	EntitySurvey:       {"unitRef": EntityPropertyUnit},
}

// RefFields returns the reference fields for an entity type.
func RefFields(et EntityType) map[string]EntityType {
	return refFields[et]
}

// ValidEntityType reports whether s names a known entity type.
func ValidEntityType(s string) bool {
	_, ok := refFields[EntityType(s)]
	return ok
}
