package config

import "time"

// OracleConfig selects and tunes the oracle provider
type OracleConfig struct {
	Provider           string
	MaxBodySize        int
	Timeout            time.Duration
	BreakerMaxFailures uint32
	BreakerInterval    time.Duration
	BreakerTimeout     time.Duration
}

// BedrockConfig represents the configuration for Amazon Bedrock
type BedrockConfig struct {
	Region      string
	ModelID     string
	MaxTokens   int
	Temperature float32
	TopP        float32
}

// GeminiConfig represents the configuration for Google Gemini
type GeminiConfig struct {
	APIKey      string
	ModelName   string
	MaxTokens   int
	Temperature float32
	TopP        float32
}

// OpenAIConfig represents the configuration for OpenAI
type OpenAIConfig struct {
	APIKey         string
	ModelName      string
	DraftModelName string
	MaxTokens      int
	Temperature    float32
	TopP           float32
}

// StoreConfig selects the persistence backend
type StoreConfig struct {
	Type       string
	SQLitePath string
	MySQLDSN   string
}

// RulesConfig carries operator changes to the rule lexicon
type RulesConfig struct {
	Allowlist            []string
	Blocklist            []string
	PromoSenderPatterns  []string
	RetailDomains        []string
	HighPriorityKeywords []string
	SpamKeywords         []string
}

// FeaturesConfig replaces the feature extractor's word lists and patterns
type FeaturesConfig struct {
	SpamKeywords         []string
	MoneyRequestKeywords []string
	SuspiciousPatterns   []string
	MarketingDomainTerms []string
}

// TriageConfig holds pipeline settings
type TriageConfig struct {
	Owner          string
	Signature      string
	InitialSync    int
	InitialTarget  int
	BackgroundSync int
	RegularSync    int
	PollInterval   time.Duration
}

// IMAPConfig represents the mailbox the poller fetches from
type IMAPConfig struct {
	Enabled  bool
	Address  string
	Username string
	Password string
	TLS      bool
	Inbox    string
	Sent     string
}

// IngestConfig represents the SMTP content filter
type IngestConfig struct {
	Enabled         bool
	ListenAddress   string
	Domain          string
	MaxMessageBytes int64
	RelayAddress    string
	BlockSpam       bool
	ProcessTimeout  time.Duration
}

// RelayConfig represents the SMTP server approved replies are sent through
type RelayConfig struct {
	Address  string
	Username string
	Password string
	TLS      bool
	StartTLS bool
}

// GetOracle returns the oracle configuration
func (c *Config) GetOracle() (OracleConfig, error) {
	timeout, err := c.GetDuration("oracle.timeout")
	if err != nil {
		return OracleConfig{}, err
	}
	interval, err := c.GetDuration("oracle.breaker.interval")
	if err != nil {
		return OracleConfig{}, err
	}
	breakerTimeout, err := c.GetDuration("oracle.breaker.timeout")
	if err != nil {
		return OracleConfig{}, err
	}
	return OracleConfig{
		Provider:           c.GetString("oracle.provider"),
		MaxBodySize:        c.GetInt("oracle.max_body_size"),
		Timeout:            timeout,
		BreakerMaxFailures: uint32(c.GetInt("oracle.breaker.max_failures")),
		BreakerInterval:    interval,
		BreakerTimeout:     breakerTimeout,
	}, nil
}

// GetBedrock returns the Bedrock configuration
func (c *Config) GetBedrock() BedrockConfig {
	return BedrockConfig{
		Region:      c.GetString("bedrock.region"),
		ModelID:     c.GetString("bedrock.model_id"),
		MaxTokens:   c.GetInt("bedrock.max_tokens"),
		Temperature: float32(c.GetFloat64("bedrock.temperature")),
		TopP:        float32(c.GetFloat64("bedrock.top_p")),
	}
}

// GetGemini returns the Gemini configuration
func (c *Config) GetGemini() GeminiConfig {
	return GeminiConfig{
		APIKey:      c.GetString("gemini.api_key"),
		ModelName:   c.GetString("gemini.model_name"),
		MaxTokens:   c.GetInt("gemini.max_tokens"),
		Temperature: float32(c.GetFloat64("gemini.temperature")),
		TopP:        float32(c.GetFloat64("gemini.top_p")),
	}
}

// GetOpenAI returns the OpenAI configuration
func (c *Config) GetOpenAI() OpenAIConfig {
	return OpenAIConfig{
		APIKey:         c.GetString("openai.api_key"),
		ModelName:      c.GetString("openai.model_name"),
		DraftModelName: c.GetString("openai.draft_model_name"),
		MaxTokens:      c.GetInt("openai.max_tokens"),
		Temperature:    float32(c.GetFloat64("openai.temperature")),
		TopP:           float32(c.GetFloat64("openai.top_p")),
	}
}

// GetStore returns the store configuration
func (c *Config) GetStore() StoreConfig {
	return StoreConfig{
		Type:       c.GetString("store.type"),
		SQLitePath: c.GetString("store.sqlite_path"),
		MySQLDSN:   c.GetString("store.mysql_dsn"),
	}
}

// GetRules returns the rule lexicon overrides
func (c *Config) GetRules() RulesConfig {
	return RulesConfig{
		Allowlist:            c.GetStringSlice("rules.allowlist"),
		Blocklist:            c.GetStringSlice("rules.blocklist"),
		PromoSenderPatterns:  c.GetStringSlice("rules.promo_sender_patterns"),
		RetailDomains:        c.GetStringSlice("rules.retail_domains"),
		HighPriorityKeywords: c.GetStringSlice("rules.high_priority_keywords"),
		SpamKeywords:         c.GetStringSlice("rules.spam_keywords"),
	}
}

// GetFeatures returns the feature lexicon overrides
func (c *Config) GetFeatures() FeaturesConfig {
	return FeaturesConfig{
		SpamKeywords:         c.GetStringSlice("features.spam_keywords"),
		MoneyRequestKeywords: c.GetStringSlice("features.money_request_keywords"),
		SuspiciousPatterns:   c.GetStringSlice("features.suspicious_patterns"),
		MarketingDomainTerms: c.GetStringSlice("features.marketing_domain_terms"),
	}
}

// GetTriage returns the pipeline configuration
func (c *Config) GetTriage() (TriageConfig, error) {
	interval, err := c.GetDuration("triage.poll_interval")
	if err != nil {
		return TriageConfig{}, err
	}
	return TriageConfig{
		Owner:          c.GetString("triage.owner"),
		Signature:      c.GetString("triage.signature"),
		InitialSync:    c.GetInt("triage.initial_sync"),
		InitialTarget:  c.GetInt("triage.initial_target"),
		BackgroundSync: c.GetInt("triage.background_sync"),
		RegularSync:    c.GetInt("triage.regular_sync"),
		PollInterval:   interval,
	}, nil
}

// GetIMAP returns the IMAP source configuration
func (c *Config) GetIMAP() IMAPConfig {
	return IMAPConfig{
		Enabled:  c.GetBool("imap.enabled"),
		Address:  c.GetString("imap.address"),
		Username: c.GetString("imap.username"),
		Password: c.GetString("imap.password"),
		TLS:      c.GetBool("imap.tls"),
		Inbox:    c.GetString("imap.inbox"),
		Sent:     c.GetString("imap.sent"),
	}
}

// GetIngest returns the SMTP ingest configuration
func (c *Config) GetIngest() (IngestConfig, error) {
	timeout, err := c.GetDuration("ingest.process_timeout")
	if err != nil {
		return IngestConfig{}, err
	}
	return IngestConfig{
		Enabled:         c.GetBool("ingest.enabled"),
		ListenAddress:   c.GetString("ingest.listen_address"),
		Domain:          c.GetString("ingest.domain"),
		MaxMessageBytes: int64(c.GetInt("ingest.max_message_bytes")),
		RelayAddress:    c.GetString("ingest.relay_address"),
		BlockSpam:       c.GetBool("ingest.block_spam"),
		ProcessTimeout:  timeout,
	}, nil
}

// GetRelay returns the reply relay configuration
func (c *Config) GetRelay() RelayConfig {
	return RelayConfig{
		Address:  c.GetString("relay.address"),
		Username: c.GetString("relay.username"),
		Password: c.GetString("relay.password"),
		TLS:      c.GetBool("relay.tls"),
		StartTLS: c.GetBool("relay.starttls"),
	}
}
