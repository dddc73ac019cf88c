package config

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

type Specification struct {
	Provider          string  `yaml:"provider"`
	APIKey            string  `yaml:"providerApiKey" envconfig:"PROVIDER_API_KEY"`
	EmbedModel        string  `yaml:"providerEmbedModel" envconfig:"PROVIDER_EMBEDDING_MODEL"`
	SummaryModel      string  `yaml:"providerSummaryModel" envconfig:"PROVIDER_SUMMARY_MODEL"`
	ProjectID         string  `yaml:"providerProjectID" envconfig:"PROVIDER_PROJECT_ID"`
	Location          string  `yaml:"providerLocation" envconfig:"PROVIDER_LOCATION"`
	BaseURL           string  `yaml:"providerBaseURL" envconfig:"PROVIDER_BASE_URL"`
	RequestsPerSecond float64 `yaml:"providerRequestsPerSecond" envconfig:"PROVIDER_RPS"`
	Dim               int     `yaml:"providerDim" envconfig:"EMBED_DIM"`

	Database    string `yaml:"database" envconfig:"DB_URL"`
	VectorIndex string `yaml:"vectorIndex" split_words:"true"`
	ChromemDir  string `yaml:"chromemDir" split_words:"true"`

	MinConfidence       float64       `yaml:"minConfidence" split_words:"true"`
	CandidateMultiplier int           `yaml:"candidateMultiplier" split_words:"true"`
	ResultLimit         int           `yaml:"resultLimit" split_words:"true"`
	Workers             int           `yaml:"workers" split_words:"true"`
	AdapterTimeout      time.Duration `yaml:"adapterTimeout" split_words:"true"`
	VerifyContent       bool          `yaml:"verifyContent" split_words:"true"`

	LogLevel string `yaml:"logLevel" split_words:"true"`
	Port     int    `yaml:"port" split_words:"true"`

	flags *pflag.FlagSet `ignored:"true"`
}

const envPrefix = "SORTSEEK"

func (s *Specification) Usage() {
	fmt.Fprint(os.Stderr, s.flags.FlagUsages())
}

// Load => defaults < YAML < env < flags.
// configPath may be ""; if so we auto-discover.
func Load(configPath string, fs *pflag.FlagSet) (Specification, error) {
	var cfg Specification

	setDefaults(&cfg)
	bindFlags(fs, &cfg)

	path := configPath
	if path == "" {
		if v := os.Getenv(envPrefix + "_CONFIG"); v != "" {
			path = v
		} else {
			for _, cand := range []string{
				"config/sortseek.yaml",
				"config/config.yaml",
				"./sortseek.yaml",
				"./config.yaml",
			} {
				if fileExists(cand) {
					path = cand
					break
				}
			}
		}
	}

	if path != "" {
		if !fileExists(path) {
			return Specification{}, fmt.Errorf("config file not found: %s", path)
		}
		if err := loadYAML(path, &cfg); err != nil {
			return Specification{}, fmt.Errorf("load yaml %s: %w", path, err)
		}
	}

	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return Specification{}, fmt.Errorf("env override: %w", err)
	}

	if err := fs.Parse(os.Args[1:]); err != nil {
		return Specification{}, err
	}
	applyChangedFlags(fs, &cfg)

	if err := cfg.validate(); err != nil {
		return Specification{}, err
	}
	return cfg, nil
}

func (s *Specification) validate() error {
	if strings.TrimSpace(s.Database) == "" {
		return fmt.Errorf("%s_DB_URL is required (env/file/flag)", envPrefix)
	}
	switch strings.ToLower(s.VectorIndex) {
	case "chromem", "pgvector":
	default:
		return fmt.Errorf("unsupported vector index: %s", s.VectorIndex)
	}
	if s.MinConfidence < -1 || s.MinConfidence > 1 {
		return fmt.Errorf("min confidence must be within [-1, 1], got %v", s.MinConfidence)
	}
	if s.CandidateMultiplier < 1 {
		s.CandidateMultiplier = 1
	}
	if s.Workers < 1 {
		s.Workers = defaultWorkers()
	}
	if strings.TrimSpace(s.LogLevel) == "" {
		s.LogLevel = "info"
	}
	return nil
}

// ---------- helpers ----------

func loadYAML(path string, into any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(b, into)
}

func fileExists(p string) bool {
	fi, err := os.Stat(p)
	return err == nil && !fi.IsDir()
}

func bindFlags(fs *pflag.FlagSet, c *Specification) {
	fs.String("config", "", "Path to config file")

	// --config must be known before flags are parsed so discovery can use it.
	for i, a := range os.Args {
		if a == "--config" {
			if i+1 < len(os.Args) && !strings.HasPrefix(os.Args[i+1], "-") {
				_ = os.Setenv(envPrefix+"_CONFIG", os.Args[i+1])
			}
		} else if strings.HasPrefix(a, "--config=") {
			parts := strings.SplitN(a, "=", 2)
			if len(parts) == 2 {
				_ = os.Setenv(envPrefix+"_CONFIG", parts[1])
			}
		}
	}

	fs.String("provider", c.Provider, "Provider (stub, openai, vertexai, ollama)")
	fs.String("provider-api-key", c.APIKey, "Provider API key")
	fs.String("provider-embedding-model", c.EmbedModel, "Provider embedding model")
	fs.String("provider-summary-model", c.SummaryModel, "Provider summary model")
	fs.String("provider-project-id", c.ProjectID, "Provider project ID")
	fs.String("provider-location", c.Location, "Provider location/region")
	fs.String("provider-base-url", c.BaseURL, "Provider base URL (openai-compatible or ollama server)")
	fs.Float64("provider-rps", c.RequestsPerSecond, "Provider requests per second (0 = unlimited)")
	fs.Int("embed-dim", c.Dim, "Embedding dimensionality")

	fs.String("db-url", c.Database, "Metadata database (postgres:// URL or sqlite file path)")
	fs.String("vector-index", c.VectorIndex, "Vector index backend (chromem|pgvector)")
	fs.String("chromem-dir", c.ChromemDir, "Directory for the embedded vector index")

	fs.Float64("min-confidence", c.MinConfidence, "Minimum similarity for a search result")
	fs.Int("candidate-multiplier", c.CandidateMultiplier, "Candidates requested per wanted result")
	fs.Int("result-limit", c.ResultLimit, "Default number of search results")
	fs.Int("workers", c.Workers, "Concurrent file reconciliations")
	fs.Duration("adapter-timeout", c.AdapterTimeout, "Timeout for each extractor/vectorizer call")
	fs.Bool("verify-content", c.VerifyContent, "Always hash file contents when evaluating changes")

	fs.String("log-level", c.LogLevel, "Log level (debug|info|warn|error)")
	fs.Int("port", c.Port, "API server port")

	copied := pflag.NewFlagSet("temp", pflag.ContinueOnError)
	*copied = *fs
	c.flags = copied
}

func applyChangedFlags(fs *pflag.FlagSet, c *Specification) {
	setStr := func(name string, dst *string) {
		if fs.Changed(name) {
			v, _ := fs.GetString(name)
			*dst = v
		}
	}
	setInt := func(name string, dst *int) {
		if fs.Changed(name) {
			v, _ := fs.GetInt(name)
			*dst = v
		}
	}
	setFloat := func(name string, dst *float64) {
		if fs.Changed(name) {
			v, _ := fs.GetFloat64(name)
			*dst = v
		}
	}
	setBool := func(name string, dst *bool) {
		if fs.Changed(name) {
			v, _ := fs.GetBool(name)
			*dst = v
		}
	}
	setDur := func(name string, dst *time.Duration) {
		if fs.Changed(name) {
			v, _ := fs.GetDuration(name)
			*dst = v
		}
	}

	setStr("provider", &c.Provider)
	setStr("provider-api-key", &c.APIKey)
	setStr("provider-embedding-model", &c.EmbedModel)
	setStr("provider-summary-model", &c.SummaryModel)
	setStr("provider-project-id", &c.ProjectID)
	setStr("provider-location", &c.Location)
	setStr("provider-base-url", &c.BaseURL)
	setFloat("provider-rps", &c.RequestsPerSecond)
	setInt("embed-dim", &c.Dim)

	setStr("db-url", &c.Database)
	setStr("vector-index", &c.VectorIndex)
	setStr("chromem-dir", &c.ChromemDir)

	setFloat("min-confidence", &c.MinConfidence)
	setInt("candidate-multiplier", &c.CandidateMultiplier)
	setInt("result-limit", &c.ResultLimit)
	setInt("workers", &c.Workers)
	setDur("adapter-timeout", &c.AdapterTimeout)
	setBool("verify-content", &c.VerifyContent)

	setStr("log-level", &c.LogLevel)
	setInt("port", &c.Port)
}

func defaultWorkers() int {
	n := runtime.NumCPU()
	if n > 8 {
		n = 8
	}
	return n
}

func setDefaults(c *Specification) {
	c.LogLevel = "info"
	c.Provider = "stub"
	c.Dim = 384
	c.Location = "us-central1"
	c.Database = "data/sortseek.db"
	c.VectorIndex = "chromem"
	c.ChromemDir = "data/embeddings"
	c.MinConfidence = 0.35
	c.CandidateMultiplier = 3
	c.ResultLimit = 10
	c.Workers = defaultWorkers()
	c.AdapterTimeout = 60 * time.Second
	c.VerifyContent = true
	c.Port = 8000
}
