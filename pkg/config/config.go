package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

var DebugLog func(string, ...interface{})

const (
	LevelChar = "char"
	LevelWord = "word"

	BackendNGram      = "ngram"
	BackendSubprocess = "subprocess"
)

type Config struct {
	DefaultSettings DefaultSettings `yaml:"default_settings"`
	Corpus          Corpus          `yaml:"corpus"`
	Tokenizer       Tokenizer       `yaml:"tokenizer"`
	Embedding       Embedding       `yaml:"embedding"`
	Model           Model           `yaml:"model"`
	Training        Training        `yaml:"training"`
	Generation      Generation      `yaml:"generation"`
	Database        Database        `yaml:"database"`
	Elastic         Elastic         `yaml:"elastic"`
	Server          Server          `yaml:"server"`
}

type DefaultSettings struct {
	// Timeout bounds a whole run, in minutes. Zero means no limit.
	Timeout int `yaml:"timeout"`
}

type Corpus struct {
	Dir      string `yaml:"dir"`
	Author   string `yaml:"author"`
	MaxChars int    `yaml:"max_chars"`
}

// Tokenizer points at the external tokenize/detokenize executables. Args may
// reference {input} and {output}, which are replaced with temp file paths.
// When Command is empty text is split on whitespace in-process.
type Tokenizer struct {
	Command           string   `yaml:"command"`
	Args              []string `yaml:"args"`
	DetokenizeCommand string   `yaml:"detokenize_command"`
	DetokenizeArgs    []string `yaml:"detokenize_args"`
}

type Embedding struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
	URL     string `yaml:"url"`
	Dim     int    `yaml:"dim"`
}

type Model struct {
	Level      string `yaml:"level"`
	Backend    string `yaml:"backend"`
	Script     string `yaml:"script"`
	Order      int    `yaml:"order"`
	MaxLen     int    `yaml:"maxlen"`
	Step       int    `yaml:"step"`
	VocabSize  int    `yaml:"vocab_size"`
	MaxWordLen int    `yaml:"max_word_len"`
	Checkpoint string `yaml:"checkpoint"`
}

type Training struct {
	Iterations        int       `yaml:"iterations"`
	BatchSize         int       `yaml:"batch_size"`
	ValSplit          float64   `yaml:"val_split"`
	SampleDiversities []float64 `yaml:"sample_diversities"`
	SampleLength      int       `yaml:"sample_length"`
	CheckpointEvery   int       `yaml:"checkpoint_every"`
	FinalLength       int       `yaml:"final_length"`
}

type Generation struct {
	Length    int     `yaml:"length"`
	Diversity float64 `yaml:"diversity"`
	BeamWidth int     `yaml:"beam_width"`
	Output    string  `yaml:"output"`
	Seed      uint64  `yaml:"seed"`
}

type Database struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

type Elastic struct {
	Enabled  bool   `yaml:"enabled"`
	URL      string `yaml:"url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Index    string `yaml:"index"`
}

type Server struct {
	Addr string `yaml:"addr"`
}

type Manager struct {
	config     *Config
	configPath string

	// Override runs after the file is parsed and before defaults are
	// applied, so command line values take part in level dependent defaults.
	Override func(*Config)
}

func NewManager(configPath string) *Manager {
	return &Manager{
		configPath: configPath,
	}
}

// LoadConfig reads the yaml file, fills unset fields with defaults and
// validates the result. A missing file is only an error when the path was
// given explicitly; otherwise the built-in defaults are used.
func (m *Manager) LoadConfig() error {
	explicit := m.configPath != ""
	if !explicit {
		m.configPath = m.findConfigFile()
	}

	var config Config

	if _, err := os.Stat(m.configPath); os.IsNotExist(err) {
		if explicit {
			return fmt.Errorf("config file not found at %s. Please create one based on config.yaml.example", m.configPath)
		}
		if DebugLog != nil {
			DebugLog("no config file found, using defaults")
		}
		m.configPath = ""
	} else {
		if DebugLog != nil {
			DebugLog("loading config from %s", m.configPath)
		}

		data, err := os.ReadFile(m.configPath)
		if err != nil {
			return fmt.Errorf("failed to read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, &config); err != nil {
			return fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if m.Override != nil {
		m.Override(&config)
	}

	ApplyDefaults(&config)

	if err := m.validateConfig(&config); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	m.config = &config
	return nil
}

func (m *Manager) GetConfig() *Config {
	return m.config
}

// ConfigPath returns the file the configuration was read from, or "" when
// defaults were used.
func (m *Manager) ConfigPath() string {
	return m.configPath
}

func (m *Manager) findConfigFile() string {
	if _, err := os.Stat("config.yaml"); err == nil {
		return "config.yaml"
	}

	if _, err := os.Stat("config/config.yaml"); err == nil {
		return "config/config.yaml"
	}

	if _, err := os.Stat(GetDefaultConfigPath()); err == nil {
		return GetDefaultConfigPath()
	}

	return "config/config.yaml"
}

// ApplyDefaults fills zero values. Window widths follow the level: words
// carry more information per token than characters, so they get a shorter
// context.
func ApplyDefaults(c *Config) {
	if c.Corpus.Dir == "" {
		c.Corpus.Dir = filepath.Join("datasets", "Gutenberg")
	}
	if c.Corpus.Author == "" {
		c.Corpus.Author = "George Alfred Henty"
	}

	if c.Model.Level == "" {
		c.Model.Level = LevelWord
	}
	c.Model.Level = strings.ToLower(c.Model.Level)
	if c.Model.Backend == "" {
		c.Model.Backend = BackendNGram
	}
	if c.Model.Order == 0 {
		c.Model.Order = 3
	}
	if c.Model.MaxLen == 0 {
		if c.Model.Level == LevelChar {
			c.Model.MaxLen = 40
		} else {
			c.Model.MaxLen = 20
		}
	}
	if c.Model.Step == 0 {
		c.Model.Step = 3
	}
	if c.Model.VocabSize == 0 {
		c.Model.VocabSize = 12000
	}
	if c.Model.MaxWordLen == 0 {
		c.Model.MaxWordLen = 50
	}
	if c.Model.Checkpoint == "" {
		c.Model.Checkpoint = fmt.Sprintf("gru_%s_rnn.gob", c.Model.Level)
	}

	if c.Corpus.MaxChars == 0 {
		if c.Model.Level == LevelChar {
			c.Corpus.MaxChars = 4000000
		} else {
			c.Corpus.MaxChars = 2000000
		}
	}

	if c.Embedding.Dim == 0 {
		c.Embedding.Dim = 300
	}

	if c.Training.Iterations == 0 {
		c.Training.Iterations = 80
	}
	if c.Training.BatchSize == 0 {
		c.Training.BatchSize = 512
	}
	if c.Training.ValSplit == 0 {
		c.Training.ValSplit = 0.05
	}
	if len(c.Training.SampleDiversities) == 0 {
		c.Training.SampleDiversities = []float64{1.2, 1.4, 1.6, 1.8}
	}
	if c.Training.SampleLength == 0 {
		c.Training.SampleLength = 50
	}
	if c.Training.CheckpointEvery == 0 {
		c.Training.CheckpointEvery = 10
	}
	if c.Training.FinalLength == 0 {
		c.Training.FinalLength = 1000
	}

	if c.Generation.Length == 0 {
		c.Generation.Length = 50
	}
	if c.Generation.Diversity == 0 {
		c.Generation.Diversity = 1.2
	}
	if c.Generation.BeamWidth == 0 {
		c.Generation.BeamWidth = 30
	}
	if c.Generation.Output == "" {
		c.Generation.Output = "generated_words.md"
	}

	if c.Database.Port == 0 {
		c.Database.Port = 5432
	}
	if c.Elastic.Index == "" {
		c.Elastic.Index = "bookrnn_samples"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
}

func (m *Manager) validateConfig(config *Config) error {
	if config.DefaultSettings.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative")
	}

	switch config.Model.Level {
	case LevelChar, LevelWord:
	default:
		return fmt.Errorf("unknown model level: %s", config.Model.Level)
	}

	switch config.Model.Backend {
	case BackendNGram:
	case BackendSubprocess:
		if config.Model.Script == "" {
			return fmt.Errorf("model.script is required for the %s backend", BackendSubprocess)
		}
	default:
		return fmt.Errorf("unknown model backend: %s", config.Model.Backend)
	}

	if config.Model.MaxLen < 1 {
		return fmt.Errorf("maxlen must be greater than 0")
	}
	if config.Model.Step < 1 {
		return fmt.Errorf("step must be greater than 0")
	}
	if config.Model.VocabSize < 2 {
		return fmt.Errorf("vocab_size must be at least 2")
	}
	if config.Training.ValSplit < 0 || config.Training.ValSplit >= 1 {
		return fmt.Errorf("val_split must be in [0, 1)")
	}
	for _, d := range config.Training.SampleDiversities {
		if d <= 0 {
			return fmt.Errorf("sample diversities must be greater than 0")
		}
	}
	if config.Generation.Diversity <= 0 {
		return fmt.Errorf("diversity must be greater than 0")
	}
	if config.Generation.BeamWidth < 1 {
		return fmt.Errorf("beam_width must be greater than 0")
	}

	return nil
}
