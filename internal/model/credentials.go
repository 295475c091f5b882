package model

// Credential is one registered user as stored in the credentials file.
type Credential struct {
	Email    string `yaml:"email"`
	Name     string `yaml:"name"`
	Password string `yaml:"password"`
}

// CookieSettings configures the signed session cookie.
type CookieSettings struct {
	Name       string `yaml:"name"`
	Key        string `yaml:"key"`
	ExpiryDays int    `yaml:"expiry_days"`
}

// Preauthorized lists emails allowed to register when pre-authorization is enforced.
type Preauthorized struct {
	Emails []string `yaml:"emails"`
}

// CredentialsConfig is the whole credentials file.
type CredentialsConfig struct {
	Credentials struct {
		Usernames map[string]Credential `yaml:"usernames"`
	} `yaml:"credentials"`
	Cookie        CookieSettings `yaml:"cookie"`
	Preauthorized Preauthorized  `yaml:"preauthorized"`
}
