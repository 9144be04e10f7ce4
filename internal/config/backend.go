package config

// ConfigBackend abstracts platform-specific config storage: UserDefaults
// on macOS, a TOML file under $XDG_CONFIG_HOME elsewhere.
type ConfigBackend interface {
	GetString(key string) (val string, ok bool, err error)
	GetInt(key string) (val int, ok bool, err error)
	SetString(key, val string) error
	SetInt(key string, val int) error
	Delete(key string) error
}
