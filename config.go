package identity

// DefaultMinPasswordLength applies when a config does not set one.
const DefaultMinPasswordLength = 6

// StaticConfig is a literal Config implementation for wiring and tests.
type StaticConfig struct {
	AuthMode          AuthMode `json:"auth_mode"`
	SigningKey        string   `json:"signing_key"`
	TokenExpiration   int      `json:"token_expiration"`
	Issuer            string   `json:"issuer"`
	Audience          []string `json:"audience"`
	AdminAllowList    []string `json:"admin_allow_list"`
	ExchangeEndpoint  string   `json:"exchange_endpoint"`
	ProviderJWKSURL   string   `json:"provider_jwks_url"`
	DemoStatePath     string   `json:"demo_state_path"`
	MinPasswordLength int      `json:"min_password_length"`
}

var _ Config = StaticConfig{}

func (c StaticConfig) GetAuthMode() AuthMode {
	if c.AuthMode == "" {
		return AuthModeDemo
	}
	return c.AuthMode
}

func (c StaticConfig) GetSigningKey() string { return c.SigningKey }

func (c StaticConfig) GetTokenExpiration() int {
	if c.TokenExpiration <= 0 {
		return 24
	}
	return c.TokenExpiration
}

func (c StaticConfig) GetIssuer() string { return c.Issuer }

func (c StaticConfig) GetAudience() []string { return c.Audience }

func (c StaticConfig) GetAdminAllowList() []string { return c.AdminAllowList }

func (c StaticConfig) GetExchangeEndpoint() string { return c.ExchangeEndpoint }

func (c StaticConfig) GetProviderJWKSURL() string { return c.ProviderJWKSURL }

func (c StaticConfig) GetDemoStatePath() string { return c.DemoStatePath }

func (c StaticConfig) GetMinPasswordLength() int {
	if c.MinPasswordLength <= 0 {
		return DefaultMinPasswordLength
	}
	return c.MinPasswordLength
}
