package types

// Credentials are a user's exchange API keys, supplied by the rules registry.
type Credentials struct {
	APIKey    string `json:"api_key" mapstructure:"api_key"`
	APISecret string `json:"api_secret" mapstructure:"api_secret"`
}

// Valid reports whether both halves are present.
func (c Credentials) Valid() bool {
	return c.APIKey != "" && c.APISecret != ""
}

// UserSnapshot is one user's rules plus credentials as handed to the tick
// worker. The worker treats it as immutable for the duration of a batch.
type UserSnapshot struct {
	UserID      string      `json:"user_id" mapstructure:"user_id"`
	Credentials Credentials `json:"credentials" mapstructure:"credentials"`
	Rules       []Rule      `json:"rules" mapstructure:"rules"`
}
