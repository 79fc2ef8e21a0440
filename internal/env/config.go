package env

import (
	"context"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	Host     string `env:"COOLSOCKET_HOST,default=0.0.0.0"`
	Port     int    `env:"COOLSOCKET_PORT,default=7363"`
	HTTPPort string `env:"COOLSOCKET_HTTP_PORT,default=7362"`

	AcceptTimeout time.Duration `env:"COOLSOCKET_ACCEPT_TIMEOUT,default=0s"`
	ReadTimeout   time.Duration `env:"COOLSOCKET_READ_TIMEOUT,default=0s"`
	MaxFrameSize  int64         `env:"COOLSOCKET_MAX_FRAME_SIZE,default=0"`
	Reuseport     bool          `env:"COOLSOCKET_REUSEPORT,default=true"`

	// TLSCert and TLSKey are paths to a PEM encoded certificate and key.
	// TLS is only enabled when both are set.
	TLSCert string `env:"COOLSOCKET_TLS_CERT"`
	TLSKey  string `env:"COOLSOCKET_TLS_KEY"`

	DebugHTTP bool   `env:"COOLSOCKET_DEBUG_HTTP"`
	LogLevel  string `env:"COOLSOCKET_LOG_LEVEL,default=info"`
}

// LoadConfig reads .env.local, if there is one, and then the process
// environment.
func LoadConfig(ctx context.Context) (*Config, error) {
	if err := godotenv.Load(".env.local"); err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	}

	return LoadConfigWith(ctx, envconfig.OsLookuper())
}

func LoadConfigWith(ctx context.Context, lookuper envconfig.Lookuper) (*Config, error) {
	config := Config{}

	if err := envconfig.ProcessWith(ctx, &config, lookuper); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) TLSEnabled() bool {
	return c.TLSCert != "" && c.TLSKey != ""
}
