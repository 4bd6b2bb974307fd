package paymasterd

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"paymaster/activity"
)

// Config captures the runtime configuration for paymasterd.
type Config struct {
	ListenAddress string                 `yaml:"listen"`
	Location      string                 `yaml:"location"`
	PauseOnStart  bool                   `yaml:"pause"`
	Chains        map[string]ChainConfig `yaml:"chains"`
	SafeService   string                 `yaml:"safe_service"`
	Signer        SignerConfig           `yaml:"signer"`
	History       HistoryConfig          `yaml:"history"`
	Flows         FlowsConfig            `yaml:"flows"`
	Admin         AdminConfig            `yaml:"admin"`
}

// ChainConfig names the endpoints serving one chain.
type ChainConfig struct {
	RPC        string `yaml:"rpc"`
	BlockIndex string `yaml:"block_index"`
}

// SignerConfig locates the relay signing key. The key never appears in the
// main config file; it is read from the environment or a mounted file.
type SignerConfig struct {
	KeyEnv  string `yaml:"key_env"`
	KeyFile string `yaml:"key_file"`

	key string
}

// Key returns the resolved signing key.
func (s SignerConfig) Key() string { return s.key }

// HistoryConfig configures the block-explorer transfer history client.
type HistoryConfig struct {
	Endpoint          string  `yaml:"endpoint"`
	APIKeyEnv         string  `yaml:"api_key_env"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`

	apiKey string
}

// APIKey returns the resolved explorer API key, which may be empty.
func (h HistoryConfig) APIKey() string { return h.apiKey }

// FlowsConfig enables the payout flows this deployment runs. Every flow is
// optional; an absent flow returns not-found from its endpoints.
type FlowsConfig struct {
	Partners *PartnerFlowConfig `yaml:"partners"`
	Tiered   *TieredFlowConfig  `yaml:"tiered"`
	Seats    *SeatFlowConfig    `yaml:"seats"`
	Manual   *ManualFlowConfig  `yaml:"manual"`
}

// SourceConfig binds one subgraph activity counter to a chain.
type SourceConfig struct {
	Chain      string  `yaml:"chain"`
	Endpoint   string  `yaml:"endpoint"`
	Entity     string  `yaml:"entity"`
	ValueField string  `yaml:"value_field"`
	Scale      float64 `yaml:"scale"`
}

// PartnerFlowConfig configures the shared-budget proportional flow.
type PartnerFlowConfig struct {
	Registry string         `yaml:"registry"`
	Budget   float64        `yaml:"budget"`
	Token    string         `yaml:"token"`
	Chain    string         `yaml:"chain"`
	Safe     string         `yaml:"safe"`
	Sources  []SourceConfig `yaml:"sources"`
}

// TieredFlowConfig configures the per-partner tiered-rate flow.
type TieredFlowConfig struct {
	Registry  string                   `yaml:"registry"`
	Tiers     string                   `yaml:"tiers"`
	Token     string                   `yaml:"token"`
	Chain     string                   `yaml:"chain"`
	Safe      string                   `yaml:"safe"`
	Sources   []SourceConfig           `yaml:"sources"`
	PriceFeed activity.PriceFeedConfig `yaml:"price_feed"`
}

// SeatFlowConfig configures the fixed-stipend flow over seat NFTs.
type SeatFlowConfig struct {
	Councils string `yaml:"councils"`
	MaxSeats int    `yaml:"max_seats"`
	Token    string `yaml:"token"`
	Chain    string `yaml:"chain"`
	Safe     string `yaml:"safe"`
}

// ManualFlowConfig configures defaults for operator-entered payout runs.
type ManualFlowConfig struct {
	Tokens []string `yaml:"tokens"`
	Chain  string   `yaml:"chain"`
	Safe   string   `yaml:"safe"`
}

// AdminConfig captures security settings for the admin API.
type AdminConfig struct {
	BearerToken     string `yaml:"bearer_token"`
	BearerTokenFile string `yaml:"bearer_token_file"`
}

// LoadConfig reads configuration from the supplied path.
func LoadConfig(path string) (Config, error) {
	cfg := Config{}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()
	dec := yaml.NewDecoder(file)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	applyDefaults(&cfg)
	if err := cfg.Signer.normalise(); err != nil {
		return cfg, fmt.Errorf("signer: %w", err)
	}
	if err := cfg.History.normalise(); err != nil {
		return cfg, fmt.Errorf("history: %w", err)
	}
	if err := cfg.Admin.normalise(); err != nil {
		return cfg, fmt.Errorf("admin security: %w", err)
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":7090"
	}
	if cfg.Location == "" {
		cfg.Location = "Local"
	}
	if cfg.Chains == nil {
		cfg.Chains = map[string]ChainConfig{}
	}
	if cfg.History.RequestsPerSecond <= 0 {
		cfg.History.RequestsPerSecond = 5
	}
	if cfg.Flows.Seats != nil && cfg.Flows.Seats.MaxSeats <= 0 {
		cfg.Flows.Seats.MaxSeats = 30
	}
}

func validateConfig(cfg Config) error {
	if len(cfg.Chains) == 0 {
		return fmt.Errorf("at least one chain must be configured")
	}
	for name, chain := range cfg.Chains {
		if strings.TrimSpace(chain.RPC) == "" {
			return fmt.Errorf("chain %s: rpc must be configured", name)
		}
	}
	if strings.TrimSpace(cfg.SafeService) == "" {
		return fmt.Errorf("safe_service must be configured")
	}
	if strings.TrimSpace(cfg.History.Endpoint) == "" {
		return fmt.Errorf("history endpoint must be configured")
	}
	if cfg.Admin.BearerToken == "" {
		return fmt.Errorf("admin bearer_token must be configured")
	}
	for _, flow := range flowChains(cfg.Flows) {
		if _, ok := cfg.Chains[flow]; !ok {
			return fmt.Errorf("flow references unconfigured chain %s", flow)
		}
	}
	return nil
}

func flowChains(flows FlowsConfig) []string {
	var chains []string
	if flows.Partners != nil {
		chains = append(chains, flows.Partners.Chain)
		for _, src := range flows.Partners.Sources {
			chains = append(chains, src.Chain)
		}
	}
	if flows.Tiered != nil {
		chains = append(chains, flows.Tiered.Chain)
		for _, src := range flows.Tiered.Sources {
			chains = append(chains, src.Chain)
		}
	}
	if flows.Seats != nil {
		chains = append(chains, flows.Seats.Chain)
	}
	if flows.Manual != nil {
		chains = append(chains, flows.Manual.Chain)
	}
	return chains
}

func (s *SignerConfig) normalise() error {
	if s == nil {
		return fmt.Errorf("signer configuration missing")
	}
	s.KeyEnv = strings.TrimSpace(s.KeyEnv)
	s.KeyFile = strings.TrimSpace(s.KeyFile)
	switch {
	case s.KeyEnv != "":
		value := strings.TrimSpace(os.Getenv(s.KeyEnv))
		if value == "" {
			return fmt.Errorf("key_env %s is empty", s.KeyEnv)
		}
		s.key = value
	case s.KeyFile != "":
		contents, err := os.ReadFile(s.KeyFile)
		if err != nil {
			return fmt.Errorf("read key_file: %w", err)
		}
		s.key = strings.TrimSpace(string(contents))
	default:
		return fmt.Errorf("key_env or key_file is required")
	}
	return nil
}

func (h *HistoryConfig) normalise() error {
	if h == nil {
		return fmt.Errorf("history configuration missing")
	}
	if env := strings.TrimSpace(h.APIKeyEnv); env != "" {
		h.apiKey = strings.TrimSpace(os.Getenv(env))
	}
	return nil
}

func (a *AdminConfig) normalise() error {
	if a == nil {
		return fmt.Errorf("admin configuration missing")
	}
	token := strings.TrimSpace(a.BearerToken)
	if path := strings.TrimSpace(a.BearerTokenFile); path != "" {
		contents, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read bearer_token_file: %w", err)
		}
		token = strings.TrimSpace(string(contents))
	}
	a.BearerToken = token
	return nil
}
