package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/truly-network/eventlistener/pkg/db"
	"github.com/truly-network/eventlistener/pkg/utils"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

var (
	// ErrUnknownEnvironment is returned when ENVIRONMENT is neither development nor production.
	ErrUnknownEnvironment = errors.New("no configuration for this environment")
	// ErrMissingConfig is returned when a required variable has no value.
	ErrMissingConfig = errors.New("missing required configuration")
)

// Config is read once at startup and never mutated afterwards.
type Config struct {
	Environment string

	// Event source
	BlockchainURL string
	NetworkID     uint64
	ContractPath  string
	EventsFrom    string // genesis | latest | <block number>

	// Storage
	StoreBackend string // dynamodb | memory
	AWS          AWS
	Tables       db.TableNames

	// Ingestion
	MaxInFlight int // 0 = unbounded

	Redis Redis

	// Operations
	Addr      string
	StatsCron string
}

// AWS selects the DynamoDB region and, for local stacks, a custom endpoint.
type AWS struct {
	Region   string
	Endpoint string
}

// Redis configures the optional stored-event notifications.
type Redis struct {
	Enabled  bool
	Host     string
	Port     string
	Password string
	DB       int
}

// Addr returns host:port.
func (r Redis) Addr() string { return fmt.Sprintf("%s:%s", r.Host, r.Port) }

type profile struct {
	blockchainURL string
	networkID     uint64
	awsEndpoint   string
	awsRegion     string
}

var profiles = map[string]profile{
	EnvDevelopment: {
		blockchainURL: "ws://localhost:8545",
		networkID:     1669986775736, // ganache network id from the contract migration
		awsEndpoint:   "http://localhost:4566",
		awsRegion:     "eu-central-1",
	},
	EnvProduction: {
		networkID: 1,
		awsRegion: "eu-central-1",
	},
}

// Load builds the configuration from the environment. ENVIRONMENT picks the
// profile whose defaults apply to unset variables.
func Load() (Config, error) {
	env := strings.ToLower(utils.Env("ENVIRONMENT", ""))
	p, ok := profiles[env]
	if !ok {
		return Config{}, fmt.Errorf("%w: %q", ErrUnknownEnvironment, env)
	}

	cfg := Config{
		Environment:   env,
		BlockchainURL: utils.Env("BLOCKCHAIN_URL", p.blockchainURL),
		NetworkID:     utils.EnvUint64("NETWORK_ID", p.networkID),
		ContractPath:  utils.Env("CONTRACT_PATH", "../PureNFT/build/contracts/LightNFT.json"),
		EventsFrom:    utils.Env("EVENTS_FROM", "latest"),
		StoreBackend:  strings.ToLower(utils.Env("STORE_BACKEND", "dynamodb")),
		AWS: AWS{
			Region:   utils.Env("AWS_REGION", p.awsRegion),
			Endpoint: utils.Env("AWS_ENDPOINT", p.awsEndpoint),
		},
		Tables: db.TableNames{
			EventsByToken: utils.Env("TABLE_EVENTS_BY_TOKEN", "truly_eventsByToken"),
			EventsSystem:  utils.Env("TABLE_EVENTS_SYSTEM", "truly_eventsSystem"),
		},
		MaxInFlight: utils.EnvInt("EVENT_MAX_IN_FLIGHT", 0),
		Redis: Redis{
			Enabled:  utils.EnvBool("REDIS_ENABLED", false),
			Host:     utils.Env("REDIS_HOST", "localhost"),
			Port:     utils.Env("REDIS_PORT", "6379"),
			Password: utils.Env("REDIS_PASSWORD", ""),
			DB:       utils.EnvInt("REDIS_DB", 0),
		},
		Addr:      utils.Env("ADDR", ":3003"),
		StatsCron: utils.Env("STATS_CRON", "0 */1 * * * *"),
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.BlockchainURL == "" {
		return fmt.Errorf("%w: BLOCKCHAIN_URL", ErrMissingConfig)
	}
	if c.ContractPath == "" {
		return fmt.Errorf("%w: CONTRACT_PATH", ErrMissingConfig)
	}
	if c.StoreBackend == "dynamodb" && c.AWS.Region == "" && c.AWS.Endpoint == "" {
		return fmt.Errorf("%w: AWS_REGION", ErrMissingConfig)
	}
	switch c.StoreBackend {
	case "dynamodb", "memory":
	default:
		return fmt.Errorf("unsupported STORE_BACKEND %q", c.StoreBackend)
	}
	if c.Tables.EventsByToken == "" || c.Tables.EventsSystem == "" {
		return fmt.Errorf("%w: event table names", ErrMissingConfig)
	}
	return nil
}
