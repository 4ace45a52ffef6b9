package config

import "time"

type Config struct {
	Server    ServerConfig
	Transport TransportConfig
	Protocol  ProtocolConfig
	Store     StoreConfig
	Log       LogConfig
	// request type -> "N/unit", compiled into Limits by Load.
	RateLimits map[string]string `mapstructure:"limits"`
	Limits     map[string]Limit  `mapstructure:"-"`
}

type ServerConfig struct {
	Address         string
	Auth            AuthConfig
	ConnectionLimit ConnectionLimitConfig `mapstructure:"connectionLimit"`
	CorsOrigins     []string              `mapstructure:"corsOrigins"`
}

type AuthConfig struct {
	JWTSecret   string `mapstructure:"jwtSecret"`
	AllowGuests bool   `mapstructure:"allowGuests"`
}

type ConnectionLimitConfig struct {
	MaxPerUser int    `mapstructure:"maxPerUser"`
	Mode       string `mapstructure:"mode"` // "reject" or "cycle"
}

type TransportConfig struct {
	ReadTimeout time.Duration `mapstructure:"readTimeout"`
	SendBuffer  int           `mapstructure:"sendBuffer"`
}

type ProtocolConfig struct {
	Debounce          time.Duration `mapstructure:"debounce"`
	SerializeAdvances bool          `mapstructure:"serializeAdvances"`
}

type StoreConfig struct {
	Driver      string `mapstructure:"driver"` // "memory" or "postgres"
	DatabaseURL string `mapstructure:"databaseURL"`
	MaxConns    int32  `mapstructure:"maxConns"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}
