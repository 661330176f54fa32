package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/samogod/bookrnn/pkg/config"
	"github.com/samogod/bookrnn/pkg/database"
	"github.com/samogod/bookrnn/pkg/elastic"
	"github.com/samogod/bookrnn/pkg/trainer"
)

var DebugLog func(string, ...interface{})

var ErrUnknownMode = errors.New("unrecognized mode")

const (
	ModeTrain    = "train"
	ModeGenerate = "generate"
)

type Orchestrator struct {
	config        *config.Config
	configManager *config.Manager
	logger        *logrus.Logger
	db            *database.DB
	es            *elastic.Client
	out           io.Writer
}

// RunOptions carries command line overrides. Zero values fall back to the
// configuration.
type RunOptions struct {
	Mode       string
	Iterations int
	Words      int
	Diversity  float64
	BeamWidth  int
	Load       bool
	Output     string
	Seed       uint64
	Stream     bool
}

type RunResult struct {
	RunID      string
	Mode       string
	Level      string
	StartTime  time.Time
	EndTime    time.Time
	Duration   time.Duration
	Text       string
	Prob       float64
	OutputFile string
	Iterations []trainer.IterationResult
	Samples    int
}

type customFormatter struct{}

func (f *customFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	var levelText string
	switch entry.Level {
	case logrus.InfoLevel:
		levelText = "[INF]"
	case logrus.WarnLevel:
		levelText = "[WARN]"
	case logrus.ErrorLevel:
		levelText = "[ERR]"
	case logrus.DebugLevel:
		levelText = "[DBG]"
	default:
		levelText = "[???]"
	}
	return []byte(fmt.Sprintf("%s %s\n", levelText, entry.Message)), nil
}

// NewLogger returns the logger every run logs through.
func NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.InfoLevel)
	if DebugLog != nil {
		logger.SetLevel(logrus.DebugLevel)
	}
	logger.SetFormatter(&customFormatter{})
	return logger
}

// NewOrchestrator loads the configuration and connects the optional
// tracking stores. Store failures are logged and the run continues without
// them.
func NewOrchestrator(configPath string, override func(*config.Config)) (*Orchestrator, error) {
	logger := NewLogger()

	configManager := config.NewManager(configPath)
	configManager.Override = override
	if err := configManager.LoadConfig(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	cfg := configManager.GetConfig()

	db, err := database.New(&cfg.Database)
	if err != nil {
		logger.Warnf("Database initialization failed: %v", err)
	}

	o := New(cfg, logger)
	o.configManager = configManager
	o.db = db

	if cfg.Elastic.Enabled {
		es, err := elastic.New(elastic.Config{
			URL:      cfg.Elastic.URL,
			Username: cfg.Elastic.Username,
			Password: cfg.Elastic.Password,
			Index:    cfg.Elastic.Index,
		})
		if err != nil {
			logger.Warnf("Elasticsearch initialization failed: %v", err)
		} else {
			o.es = es
		}
	}

	return o, nil
}

// New builds an orchestrator around an already loaded configuration with
// no tracking stores.
func New(cfg *config.Config, logger *logrus.Logger) *Orchestrator {
	if logger == nil {
		logger = NewLogger()
	}
	return &Orchestrator{
		config: cfg,
		logger: logger,
		out:    os.Stdout,
	}
}

func (o *Orchestrator) GetConfig() *config.Config {
	return o.config
}

func (o *Orchestrator) GetDB() *database.DB {
	return o.db
}

func (o *Orchestrator) Logger() *logrus.Logger {
	return o.logger
}

// SetOutput redirects sample text that is printed while a run progresses.
func (o *Orchestrator) SetOutput(w io.Writer) {
	o.out = w
}

func (o *Orchestrator) Close() error {
	if o.db != nil {
		return o.db.Close()
	}
	return nil
}

// Run dispatches on opts.Mode.
func (o *Orchestrator) Run(ctx context.Context, opts RunOptions) (*RunResult, error) {
	if o.config.DefaultSettings.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(o.config.DefaultSettings.Timeout)*time.Minute)
		defer cancel()
	}

	switch opts.Mode {
	case ModeTrain, "":
		return o.RunTrain(ctx, opts)
	case ModeGenerate:
		return o.RunGenerate(ctx, opts)
	default:
		return nil, fmt.Errorf("%w: %q (expected %q or %q)", ErrUnknownMode, opts.Mode, ModeTrain, ModeGenerate)
	}
}

func (o *Orchestrator) newRand(seed uint64) rand.Source {
	if seed == 0 {
		seed = o.config.Generation.Seed
	}
	if seed == 0 {
		return rand.NewPCG(rand.Uint64(), rand.Uint64())
	}
	if DebugLog != nil {
		DebugLog("using random seed %d", seed)
	}
	return rand.NewPCG(seed, seed)
}

func (o *Orchestrator) generation(opts RunOptions) (length int, diversity float64, beamWidth int, output string) {
	gen := o.config.Generation
	length, diversity, beamWidth, output = gen.Length, gen.Diversity, gen.BeamWidth, gen.Output
	if opts.Words > 0 {
		length = opts.Words
	}
	if opts.Diversity > 0 {
		diversity = opts.Diversity
	}
	if opts.BeamWidth > 0 {
		beamWidth = opts.BeamWidth
	}
	if opts.Output != "" {
		output = opts.Output
	}
	return length, diversity, beamWidth, output
}
