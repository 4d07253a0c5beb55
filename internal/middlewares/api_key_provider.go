package middlewares

// ConfigAPIKeyProvider resolves workspace API keys from a static lookup
// loaded at startup.
type ConfigAPIKeyProvider struct {
	keys map[string]string
}

func NewConfigAPIKeyProvider(keys map[string]string) *ConfigAPIKeyProvider {
	return &ConfigAPIKeyProvider{keys: keys}
}

func (p *ConfigAPIKeyProvider) ResolveAPIKey(key string) (string, bool) {
	userID, ok := p.keys[key]
	return userID, ok
}
