package providers

// Credentials holds every provider's credential and endpoint parameter,
// keyed by field rather than by tag since each provider wants a different
// subset (an API key vs. a region/project pair). ConfigForTag narrows this
// down to the single Config a given ChatCompletion call needs.
type Credentials struct {
	OpenRouterAPIKey string
	OpenAIAPIKey     string
	AnthropicAPIKey  string

	GoogleProjectID string
	GoogleRegion    string

	AWSRegion string

	CloudflareAPIToken string
}

// ConfigForTag builds the Config a ChatCompletion call against the named
// provider tag needs. Each provider reads a single shared APIKey field
// (see types.go), so resolving per-call rather than storing one static
// Config is what lets one Registry address multiple providers with
// distinct credentials in the same session.
func ConfigForTag(tag string, creds Credentials) Config {
	cfg := Config{
		AWSRegion:     creds.AWSRegion,
		VertexProject: creds.GoogleProjectID,
		VertexRegion:  creds.GoogleRegion,
	}
	switch tag {
	case "openrouter":
		cfg.APIKey = creds.OpenRouterAPIKey
	case "openai":
		cfg.APIKey = creds.OpenAIAPIKey
	case "anthropic":
		cfg.APIKey = creds.AnthropicAPIKey
	case "cloudflare":
		cfg.APIKey = creds.CloudflareAPIToken
	case "amazon":
		// Bedrock authenticates via the AWS SDK's default credential chain;
		// APIKey is left empty unless a caller wants to force static keys
		// through the "access_key:secret_key" convention bedrock.go parses.
	}
	return cfg
}
