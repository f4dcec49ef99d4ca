package app

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/specialistvlad/lorapack/internal/config"
	"github.com/specialistvlad/lorapack/internal/engine"
	"github.com/specialistvlad/lorapack/internal/notify"
	"github.com/specialistvlad/lorapack/internal/pipeline"
	"github.com/specialistvlad/lorapack/internal/sysprofile"
	"github.com/specialistvlad/lorapack/internal/tokenizer"
)

// ProgramName identifies the binary in crash reports.
const ProgramName = "lorapack"

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	outW   io.Writer
	inR    io.Reader
	logger *slog.Logger
	config *Config
	loader config.Loader
	runID  string

	getenv        func(string) string
	now           func() time.Time
	detector      sysprofile.Detector
	newTrainer    func(command []string) engine.Trainer
	loadTokenizer func(modelDir string) (tokenizer.Tokenizer, error)
	dial          func(ctx context.Context, opts notify.Options) (notify.Publisher, error)
	forcePublish  bool

	mu         sync.Mutex
	resolved   *config.RunConfiguration
	controller *pipeline.Controller
	httpServer *http.Server
	serverDone chan struct{}
}

// Option customizes an App.
type Option func(*App)

// WithTrainer makes every run use t instead of an ExecTrainer built from
// the engine command.
func WithTrainer(t engine.Trainer) Option {
	return func(a *App) {
		a.newTrainer = func([]string) engine.Trainer { return t }
	}
}

// WithPublisher makes every run publish progress to p, regardless of the
// notify configuration.
func WithPublisher(p notify.Publisher) Option {
	return func(a *App) {
		a.dial = func(context.Context, notify.Options) (notify.Publisher, error) { return p, nil }
		a.forcePublish = true
	}
}

// WithTokenizerLoader replaces tokenizer.Load.
func WithTokenizerLoader(load func(modelDir string) (tokenizer.Tokenizer, error)) Option {
	return func(a *App) { a.loadTokenizer = load }
}

// WithDetector replaces host detection.
func WithDetector(d sysprofile.Detector) Option {
	return func(a *App) { a.detector = d }
}

// WithGetenv replaces os.Getenv for operator identity lookup.
func WithGetenv(getenv func(string) string) Option {
	return func(a *App) { a.getenv = getenv }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(a *App) { a.now = now }
}

// NewApp is the constructor for the main application. Logs and prompts go
// to outW; prompt answers are read from inR.
func NewApp(outW io.Writer, inR io.Reader, appConfig *Config, loader config.Loader, opts ...Option) *App {
	a := &App{
		outW:     outW,
		inR:      inR,
		config:   appConfig,
		loader:   loader,
		runID:    uuid.New().String(),
		getenv:   os.Getenv,
		now:      time.Now,
		detector: &sysprofile.HostDetector{},
		newTrainer: func(command []string) engine.Trainer {
			return &engine.ExecTrainer{Command: command}
		},
		dial: func(ctx context.Context, opts notify.Options) (notify.Publisher, error) {
			return notify.Dial(ctx, opts)
		},
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = newLogger(appConfig.LogLevel, appConfig.LogFormat, outW).With("run_id", a.runID)
	a.logger.Debug("Logger configured successfully.")
	return a
}

// RunID returns the identifier of this run.
func (a *App) RunID() string {
	return a.runID
}

// State returns the pipeline state, or Idle before the pipeline starts.
func (a *App) State() pipeline.State {
	a.mu.Lock()
	c := a.controller
	a.mu.Unlock()
	if c == nil {
		return pipeline.Idle
	}
	return c.State()
}
