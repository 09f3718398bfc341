package db

// AttributeType is the scalar type of a key attribute.
type AttributeType string

const (
	AttributeString AttributeType = "S"
	AttributeNumber AttributeType = "N"
)

// KeyAttribute names a key attribute and its type.
type KeyAttribute struct {
	Name string
	Type AttributeType
}

// TableDefinition describes a pay-per-request table keyed by a hash key and an optional range key.
type TableDefinition struct {
	Name     string
	HashKey  KeyAttribute
	RangeKey *KeyAttribute
	Tags     map[string]string
}

// KeyNames returns the names of the key attributes, hash key first.
func (d TableDefinition) KeyNames() []string {
	names := []string{d.HashKey.Name}
	if d.RangeKey != nil {
		names = append(names, d.RangeKey.Name)
	}
	return names
}

// TableNames holds the configured names of the event tables.
type TableNames struct {
	EventsByToken string
	EventsSystem  string
}

// Attribute names shared by the event tables.
const (
	AttrToken        = "token"
	AttrEventID      = "eventID"
	AttrEventName    = "eventName"
	AttrTransaction  = "transaction"
	AttrCreationTime = "creationTime"
	AttrEventInfo    = "eventInfo"
)

// EventTables returns the definitions of the subject-scoped and system-wide event tables.
// Subject events are partitioned by token and sorted by eventID; system events are keyed by eventID.
func EventTables(names TableNames) []TableDefinition {
	tags := map[string]string{"project": "truly"}
	return []TableDefinition{
		{
			Name:     names.EventsByToken,
			HashKey:  KeyAttribute{Name: AttrToken, Type: AttributeString},
			RangeKey: &KeyAttribute{Name: AttrEventID, Type: AttributeNumber},
			Tags:     tags,
		},
		{
			Name:    names.EventsSystem,
			HashKey: KeyAttribute{Name: AttrEventID, Type: AttributeNumber},
			Tags:    tags,
		},
	}
}

// FilterTables returns the definitions whose name equals table, or all of them when table is empty.
func FilterTables(defs []TableDefinition, table string) []TableDefinition {
	if table == "" {
		return defs
	}
	var out []TableDefinition
	for _, d := range defs {
		if d.Name == table {
			out = append(out, d)
		}
	}
	return out
}
