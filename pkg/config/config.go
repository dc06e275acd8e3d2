// Package config loads and validates the analyzer configuration from the
// environment. Infrastructure settings (backend URL, AMQP, index prefix) live
// in AppConfig; retrieval and ranking knobs live in SearchConfig.
package config

import (
	"fmt"
	"os"
	"strconv"
)

// AppConfig holds infrastructure settings.
type AppConfig struct {
	ESURL                string
	ESProjectIndexPrefix string
	ESChunkNumber        int
	AppVersion           string
	AmqpURL              string
	ExchangeName         string
	HTTPPort             string
}

// SearchConfig holds the retrieval and ranking knobs.
type SearchConfig struct {
	MaxQueryTerms  int
	MinWordLength  int
	MinShouldMatch string
	BoostLaunch    float64

	BoostModelFolder                      string
	ProbabilityForCustomModelAutoAnalysis float64

	NoDefectMinSimilarity    float64
	ClusterLogsMinSimilarity float64
	SearchLogsMinSimilarity  float64

	SimilarityWeightsFolder string
}

// Config is the full analyzer configuration.
type Config struct {
	App    AppConfig
	Search SearchConfig
}

// LoadFromEnv loads configuration from environment variables, applying
// defaults for everything that is not set.
func LoadFromEnv() (*Config, error) {
	chunkNumber, err := strconv.Atoi(getEnvOrDefault("ES_CHUNK_NUMBER", "1000"))
	if err != nil {
		return nil, fmt.Errorf("invalid ES_CHUNK_NUMBER: %w", err)
	}
	maxQueryTerms, err := strconv.Atoi(getEnvOrDefault("ES_MAX_QUERY_TERMS", "50"))
	if err != nil {
		return nil, fmt.Errorf("invalid ES_MAX_QUERY_TERMS: %w", err)
	}
	minWordLength, err := strconv.Atoi(getEnvOrDefault("ES_MIN_WORD_LENGTH", "2"))
	if err != nil {
		return nil, fmt.Errorf("invalid ES_MIN_WORD_LENGTH: %w", err)
	}
	boostLaunch, err := parseFloatEnv("ES_BOOST_LAUNCH", "8.0")
	if err != nil {
		return nil, err
	}
	noDefectMinSimilarity, err := parseFloatEnv("PATTERN_LABEL_MIN_PERCENT_TO_SUGGEST", "0.95")
	if err != nil {
		return nil, err
	}
	clusterMinSimilarity, err := parseFloatEnv("CLUSTER_LOGS_MIN_SIMILARITY", "0.95")
	if err != nil {
		return nil, err
	}
	searchMinSimilarity, err := parseFloatEnv("SEARCH_LOGS_MIN_SIMILARITY", "0.95")
	if err != nil {
		return nil, err
	}
	customModelProb, err := parseFloatEnv("PROB_CUSTOM_MODEL_AUTO_ANALYSIS", "0.5")
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		App: AppConfig{
			ESURL:                getEnvOrDefault("ES_HOSTS", "http://localhost:9200"),
			ESProjectIndexPrefix: os.Getenv("ES_PROJECT_INDEX_PREFIX"),
			ESChunkNumber:        chunkNumber,
			AppVersion:           getEnvOrDefault("APP_VERSION", "dev"),
			AmqpURL:              os.Getenv("AMQP_URL"),
			ExchangeName:         getEnvOrDefault("AMQP_EXCHANGE_NAME", "analyzer"),
			HTTPPort:             getEnvOrDefault("HTTP_PORT", "5001"),
		},
		Search: SearchConfig{
			MaxQueryTerms:                         maxQueryTerms,
			MinWordLength:                         minWordLength,
			MinShouldMatch:                        getEnvOrDefault("ES_MIN_SHOULD_MATCH", "80%"),
			BoostLaunch:                           boostLaunch,
			BoostModelFolder:                      os.Getenv("BOOST_MODEL_FOLDER"),
			ProbabilityForCustomModelAutoAnalysis: customModelProb,
			NoDefectMinSimilarity:                 noDefectMinSimilarity,
			ClusterLogsMinSimilarity:              clusterMinSimilarity,
			SearchLogsMinSimilarity:               searchMinSimilarity,
			SimilarityWeightsFolder:               os.Getenv("SIMILARITY_WEIGHTS_FOLDER"),
		},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges. Called by LoadFromEnv; exported for tests and
// for callers that build a Config by hand.
func (c *Config) Validate() error {
	if c.App.ESURL == "" {
		return fmt.Errorf("ES_HOSTS must not be empty")
	}
	if c.App.ESChunkNumber <= 0 {
		return fmt.Errorf("ES_CHUNK_NUMBER must be positive, got %d", c.App.ESChunkNumber)
	}
	if c.Search.MaxQueryTerms <= 0 {
		return fmt.Errorf("ES_MAX_QUERY_TERMS must be positive, got %d", c.Search.MaxQueryTerms)
	}
	for name, v := range map[string]float64{
		"PATTERN_LABEL_MIN_PERCENT_TO_SUGGEST": c.Search.NoDefectMinSimilarity,
		"CLUSTER_LOGS_MIN_SIMILARITY":          c.Search.ClusterLogsMinSimilarity,
		"SEARCH_LOGS_MIN_SIMILARITY":           c.Search.SearchLogsMinSimilarity,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s must be within [0,1], got %v", name, v)
		}
	}
	if c.Search.ProbabilityForCustomModelAutoAnalysis < 0 || c.Search.ProbabilityForCustomModelAutoAnalysis > 1 {
		return fmt.Errorf("PROB_CUSTOM_MODEL_AUTO_ANALYSIS must be within [0,1], got %v",
			c.Search.ProbabilityForCustomModelAutoAnalysis)
	}
	return nil
}

func parseFloatEnv(key, defaultVal string) (float64, error) {
	v, err := strconv.ParseFloat(getEnvOrDefault(key, defaultVal), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
