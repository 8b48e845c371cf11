package dtunnel

import (
	"context"

	"github.com/sethvargo/go-envconfig"
)

// Config holds the process-wide constants spec.md §9 calls out as global
// state: read once at startup and threaded through constructors rather than
// consulted at point of use.
type Config struct {
	// IsInteractiveCLI gates the name prompt in name arbitration (§4.7
	// step 4/5). Derived elsewhere from TTY detection; this core only
	// consumes the resulting flag.
	IsInteractiveCLI bool `env:"TUNNEL_LAUNCHER_INTERACTIVE,default=false"`

	// ApplicationTag is the fixed tag identifying this agent's tunnels,
	// maintained on every live tunnel alongside the name and
	// protocol-version tags.
	ApplicationTag string `env:"TUNNEL_LAUNCHER_APP_TAG,default=tunnel-launcher"`

	// ProtocolVersion is embedded into the protocol-version tag as
	// "pv=<N>".
	ProtocolVersion string `env:"TUNNEL_LAUNCHER_PROTOCOL_VERSION,default=1"`

	// UserAgent is sent on every management API request.
	UserAgent string `env:"TUNNEL_LAUNCHER_USER_AGENT,default=tunnel-launcher-cli/1.0"`

	// ControlPort is the reserved port number whose forwarding record is
	// never deleted during endpoint hygiene.
	ControlPort int `env:"TUNNEL_LAUNCHER_CONTROL_PORT,default=31545"`
}

// ProtocolVersionTagPrefix is the fixed prefix identifying any
// protocol-version tag, regardless of which version it names.
const ProtocolVersionTagPrefix = "pv="

// ProtocolVersionTag returns the current protocol-version tag, e.g. "pv=1".
func (c Config) ProtocolVersionTag() string {
	return ProtocolVersionTagPrefix + c.ProtocolVersion
}

// LoadConfig reads Config from the environment once at startup.
func LoadConfig(ctx context.Context) (Config, error) {
	var cfg Config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
