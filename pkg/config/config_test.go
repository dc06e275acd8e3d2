package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromEnvDefaults(t *testing.T) {
	for _, key := range []string{
		"ES_HOSTS", "ES_CHUNK_NUMBER", "ES_MAX_QUERY_TERMS", "ES_MIN_WORD_LENGTH",
		"ES_BOOST_LAUNCH", "ES_MIN_SHOULD_MATCH", "PATTERN_LABEL_MIN_PERCENT_TO_SUGGEST",
		"CLUSTER_LOGS_MIN_SIMILARITY", "SEARCH_LOGS_MIN_SIMILARITY",
		"PROB_CUSTOM_MODEL_AUTO_ANALYSIS", "HTTP_PORT", "AMQP_EXCHANGE_NAME",
	} {
		t.Setenv(key, "")
	}

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:9200", cfg.App.ESURL)
	assert.Equal(t, 1000, cfg.App.ESChunkNumber)
	assert.Equal(t, "5001", cfg.App.HTTPPort)
	assert.Equal(t, "analyzer", cfg.App.ExchangeName)
	assert.Equal(t, 50, cfg.Search.MaxQueryTerms)
	assert.Equal(t, 2, cfg.Search.MinWordLength)
	assert.Equal(t, "80%", cfg.Search.MinShouldMatch)
	assert.Equal(t, 8.0, cfg.Search.BoostLaunch)
	assert.Equal(t, 0.95, cfg.Search.NoDefectMinSimilarity)
	assert.Equal(t, 0.95, cfg.Search.ClusterLogsMinSimilarity)
	assert.Equal(t, 0.95, cfg.Search.SearchLogsMinSimilarity)
	assert.Equal(t, 0.5, cfg.Search.ProbabilityForCustomModelAutoAnalysis)
}

func TestLoadFromEnvOverrides(t *testing.T) {
	t.Setenv("ES_HOSTS", "http://es.internal:9200")
	t.Setenv("ES_CHUNK_NUMBER", "500")
	t.Setenv("ES_MIN_SHOULD_MATCH", "90%")
	t.Setenv("CLUSTER_LOGS_MIN_SIMILARITY", "0.8")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "http://es.internal:9200", cfg.App.ESURL)
	assert.Equal(t, 500, cfg.App.ESChunkNumber)
	assert.Equal(t, "90%", cfg.Search.MinShouldMatch)
	assert.Equal(t, 0.8, cfg.Search.ClusterLogsMinSimilarity)
}

func TestLoadFromEnvRejectsMalformedValues(t *testing.T) {
	t.Setenv("ES_CHUNK_NUMBER", "not-a-number")

	_, err := LoadFromEnv()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			App: AppConfig{ESURL: "http://es:9200", ESChunkNumber: 1000},
			Search: SearchConfig{
				MaxQueryTerms:                         50,
				NoDefectMinSimilarity:                 0.95,
				ClusterLogsMinSimilarity:              0.95,
				SearchLogsMinSimilarity:               0.95,
				ProbabilityForCustomModelAutoAnalysis: 0.5,
			},
		}
	}

	t.Run("accepts a sane config", func(t *testing.T) {
		assert.NoError(t, valid().Validate())
	})

	t.Run("rejects empty backend url", func(t *testing.T) {
		cfg := valid()
		cfg.App.ESURL = ""
		assert.Error(t, cfg.Validate())
	})

	t.Run("rejects out-of-range similarity", func(t *testing.T) {
		cfg := valid()
		cfg.Search.ClusterLogsMinSimilarity = 1.5
		assert.Error(t, cfg.Validate())
	})

	t.Run("rejects out-of-range model probability", func(t *testing.T) {
		cfg := valid()
		cfg.Search.ProbabilityForCustomModelAutoAnalysis = -0.1
		assert.Error(t, cfg.Validate())
	})

	t.Run("rejects non-positive chunk number", func(t *testing.T) {
		cfg := valid()
		cfg.App.ESChunkNumber = 0
		assert.Error(t, cfg.Validate())
	})
}
