package mongodb

const (
	// SocialAccountsCollection holds one document per link.
	SocialAccountsCollection = "social_accounts"
	// CountersCollection backs the integer link ids.
	CountersCollection = "counters"

	// DefaultPrimaryKey is the user field InsertUser fills when missing.
	DefaultPrimaryKey = "id"
)
