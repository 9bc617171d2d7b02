package domain

// UserRecord is a local user row as a plain document.
type UserRecord map[string]any

// ID returns the primary key value serialized as a string.
func (u UserRecord) ID(primaryKey string) string {
	v, ok := u[primaryKey]
	if !ok || v == nil {
		return ""
	}
	return stringify(v)
}

// Without returns a shallow copy with the given fields removed.
func (u UserRecord) Without(fields ...string) UserRecord {
	out := make(UserRecord, len(u))
	for k, v := range u {
		out[k] = v
	}
	for _, f := range fields {
		delete(out, f)
	}
	return out
}

// Relation describes a collection eager-loaded with a user: rows of
// Collection whose ForeignKey equals the user's primary key, exposed under Name.
type Relation struct {
	Name       string `mapstructure:"name"`
	Collection string `mapstructure:"collection"`
	ForeignKey string `mapstructure:"foreign_key"`
}

// UserQuery selects one local user.
type UserQuery struct {
	Collection string
	PrimaryKey string
	ID         string
	// Scope holds extra equality conditions every matching row must satisfy.
	Scope   map[string]any
	Contain []Relation
}
