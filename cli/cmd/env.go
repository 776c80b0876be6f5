package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/espterm/adapter"
	"github.com/pithecene-io/espterm/adapter/redis"
	"github.com/pithecene-io/espterm/adapter/webhook"
	"github.com/pithecene-io/espterm/archive"
	"github.com/pithecene-io/espterm/cli/config"
	"github.com/pithecene-io/espterm/cli/render"
	"github.com/pithecene-io/espterm/log"
	"github.com/pithecene-io/espterm/session"
	"github.com/pithecene-io/espterm/stream"
	"github.com/pithecene-io/espterm/transfer"
)

const defaultLogLevel = "warn"

// settings is espterm.yaml with command-line overrides applied.
type settings struct {
	port            string
	baud            int
	readTimeout     time.Duration
	responseTimeout time.Duration
	settleDelay     time.Duration
	idleFlush       time.Duration
	contexts        []config.ContextConfig
	archive         config.ArchiveConfig
	adapter         config.AdapterConfig
	logLevel        string
	logFile         string
	stats           bool
}

func loadSettings(c *cli.Context) (*settings, error) {
	var (
		cfg *config.Config
		err error
	)
	if path := c.String(ConfigFlag.Name); path != "" {
		cfg, err = config.Load(path)
	} else {
		cfg, err = config.LoadDefault()
	}
	if err != nil {
		return nil, usageErr("%v", err)
	}

	s := &settings{
		port:            cfg.Port,
		baud:            cfg.Baud,
		readTimeout:     cfg.ReadTimeout.Duration,
		responseTimeout: cfg.ResponseTimeout.Duration,
		settleDelay:     cfg.SettleDelay.Duration,
		idleFlush:       cfg.IdleFlush.Duration,
		contexts:        cfg.Contexts,
		archive:         cfg.Archive,
		adapter:         cfg.Adapter,
		logLevel:        cfg.Log.Level,
		logFile:         cfg.Log.File,
		stats:           c.Bool(StatsFlag.Name),
	}
	if c.IsSet(PortFlag.Name) {
		s.port = c.String(PortFlag.Name)
	}
	if c.IsSet(BaudFlag.Name) {
		s.baud = c.Int(BaudFlag.Name)
	}
	if c.IsSet(TimeoutFlag.Name) {
		s.responseTimeout = c.Duration(TimeoutFlag.Name)
	}
	if c.IsSet(LogLevelFlag.Name) {
		s.logLevel = c.String(LogLevelFlag.Name)
	}
	if c.IsSet(LogFileFlag.Name) {
		s.logFile = c.String(LogFileFlag.Name)
	}
	if s.logLevel == "" {
		s.logLevel = defaultLogLevel
	}
	if s.baud < 0 {
		return nil, usageErr("baud must be positive, got %d", s.baud)
	}
	return s, nil
}

// env is everything one command invocation shares: settings, the logger,
// output streams and resources to release on exit.
type env struct {
	*settings
	sessionID string
	logger    *log.Logger
	out       io.Writer
	errOut    io.Writer

	mu            sync.Mutex
	closers       []func() error
	ad            adapter.Adapter
	adapterOpened bool
}

func newEnv(c *cli.Context) (*env, error) {
	s, err := loadSettings(c)
	if err != nil {
		return nil, err
	}
	e := &env{
		settings:  s,
		sessionID: uuid.NewString(),
		out:       c.App.Writer,
		errOut:    c.App.ErrWriter,
	}
	if e.out == nil {
		e.out = os.Stdout
	}
	if e.errOut == nil {
		e.errOut = os.Stderr
	}

	logOut := e.errOut
	if s.logFile != "" {
		f, err := os.OpenFile(s.logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644) //nolint:gosec // user-chosen log path
		if err != nil {
			return nil, usageErr("open log file: %v", err)
		}
		e.onClose(f.Close)
		logOut = f
	}
	logger, err := log.NewLoggerWithLevel(log.SessionMeta{
		SessionID: e.sessionID,
		Port:      s.port,
		Device:    archive.DeviceKey(s.port),
	}, logOut, s.logLevel)
	if err != nil {
		e.close()
		return nil, usageErr("%v", err)
	}
	e.logger = logger
	e.onClose(func() error {
		// Sync on a terminal returns EINVAL; nothing to report.
		_ = logger.Sync()
		return nil
	})
	return e, nil
}

func (e *env) onClose(fn func() error) {
	e.mu.Lock()
	e.closers = append(e.closers, fn)
	e.mu.Unlock()
}

// close runs the registered closers in reverse order.
func (e *env) close() {
	e.mu.Lock()
	fns := e.closers
	e.closers = nil
	e.mu.Unlock()
	for i := len(fns) - 1; i >= 0; i-- {
		if err := fns[i](); err != nil {
			e.logger.Warn("cleanup failed", map[string]any{"error": err.Error()})
		}
	}
}

// openSession opens the configured port. Port, timing, logger and
// configured contexts are filled in; the rest comes from opts.
func (e *env) openSession(ctx context.Context, opts session.Options) (*session.Session, error) {
	if e.port == "" {
		return nil, usageErr("no port configured: pass --port or set port in espterm.yaml")
	}
	opts.Port = e.port
	opts.Baud = e.baud
	opts.ReadTimeout = e.readTimeout
	opts.ResponseTimeout = e.responseTimeout
	opts.SettleDelay = e.settleDelay
	opts.IdleFlush = e.idleFlush
	opts.SessionID = e.sessionID
	opts.Logger = e.logger

	extra, err := e.contextSinks()
	if err != nil {
		return nil, err
	}
	opts.Contexts = append(opts.Contexts, extra...)

	s, err := session.Open(ctx, opts)
	if err != nil {
		return nil, err
	}
	e.onClose(s.Close)
	return s, nil
}

// contextSinks turns configured contexts into session contexts writing to
// their file, or to stderr with a name prefix.
func (e *env) contextSinks() ([]session.ContextSpec, error) {
	specs := make([]session.ContextSpec, 0, len(e.contexts))
	for _, cc := range e.contexts {
		var w io.Writer
		prefix := ""
		if cc.File != "" {
			f, err := os.OpenFile(cc.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644) //nolint:gosec // configured output path
			if err != nil {
				return nil, usageErr("context %s: %v", cc.Name, err)
			}
			e.onClose(f.Close)
			w = f
		} else {
			w = e.errOut
			prefix = "[" + cc.Name + "] "
		}
		specs = append(specs, session.ContextSpec{
			Name:     cc.Name,
			StartTag: cc.StartTag,
			EndTag:   cc.EndTag,
			Sink:     newLineWriter(w, prefix, nil),
		})
	}
	return specs, nil
}

// openArchive opens the configured archive for the current port. It
// returns nil when no backend is configured.
func (e *env) openArchive(ctx context.Context) (*archive.Archive, error) {
	acfg := archive.Config{Device: archive.DeviceKey(e.port)}
	switch e.archive.Backend {
	case "":
		return nil, nil
	case "fs":
		root := e.archive.Path
		if root == "" {
			root = ".espterm/archive"
		}
		if err := os.MkdirAll(root, 0o755); err != nil { //nolint:gosec // archive directory
			return nil, fmt.Errorf("archive: %w", err)
		}
		return archive.NewFS(root, acfg)
	case "s3":
		bucket, prefix := archive.ParseS3Path(e.archive.Path)
		return archive.NewS3(ctx, archive.S3Config{
			Bucket:       bucket,
			Prefix:       prefix,
			Region:       e.archive.Region,
			Endpoint:     e.archive.Endpoint,
			UsePathStyle: e.archive.S3PathStyle,
		}, acfg)
	default:
		return nil, usageErr("unknown archive backend %q (must be fs or s3)", e.archive.Backend)
	}
}

// openAdapter returns the configured event adapter, or nil. The adapter
// is opened once per invocation and shared.
func (e *env) openAdapter() (adapter.Adapter, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.adapterOpened {
		return e.ad, nil
	}
	retries := 3
	if e.adapter.Retries != nil {
		retries = *e.adapter.Retries
	}
	var (
		a   adapter.Adapter
		err error
	)
	switch e.adapter.Type {
	case "":
		e.adapterOpened = true
		return nil, nil
	case "redis":
		a, err = redis.New(redis.Config{
			URL:     e.adapter.URL,
			Prefix:  e.adapter.Prefix,
			Timeout: e.adapter.Timeout.Duration,
			Retries: retries,
		})
	case "webhook":
		a, err = webhook.New(webhook.Config{
			URL:     e.adapter.URL,
			Headers: e.adapter.Headers,
			Timeout: e.adapter.Timeout.Duration,
			Retries: retries,
			Events:  e.adapter.Events,
		})
	default:
		return nil, usageErr("unknown adapter type %q (must be redis or webhook)", e.adapter.Type)
	}
	if err != nil {
		return nil, usageErr("adapter: %v", err)
	}
	e.ad, e.adapterOpened = a, true
	e.closers = append(e.closers, a.Close)
	return a, nil
}

// newMonitor returns a session monitor notifying handlers and, when an
// adapter is configured, publishing each block as a monitor snapshot.
func (e *env) newMonitor(handlers ...session.MonitorHandler) (*session.Monitor, error) {
	mon := session.NewMonitor(handlers...)
	ad, err := e.openAdapter()
	if err != nil || ad == nil {
		return mon, err
	}
	fw := adapter.NewForwarder(ad, adapter.ForwarderConfig{
		SessionID: e.sessionID,
		Device:    archive.DeviceKey(e.port),
		Interval:  e.adapter.MonitorInterval.Duration,
		Logger:    e.logger.With("monitor"),
	})
	mon.AddHandler(fw)
	e.onClose(fw.Close)
	return mon, nil
}

// transferService builds a transfer.Service over s with the configured
// archive and adapter. Progress bars go to stderr when it is a terminal.
func (e *env) transferService(ctx context.Context, s *session.Session) (*transfer.Service, error) {
	arch, err := e.openArchive(ctx)
	if err != nil {
		return nil, err
	}
	ad, err := e.openAdapter()
	if err != nil {
		return nil, err
	}
	cfg := transfer.Config{
		SessionID: e.sessionID,
		Device:    archive.DeviceKey(e.port),
		Archive:   arch,
		Adapter:   ad,
		Logger:    e.logger.With("transfer"),
	}
	if render.IsTerminal(e.errOut) {
		cfg.Progress = transfer.NewProgressBar(e.errOut)
	}
	return transfer.New(s.Engine, cfg), nil
}

// renderer builds the output renderer from --format and --no-color.
func (e *env) renderer(c *cli.Context) (*render.Renderer, error) {
	r, err := render.New(c.String(FormatFlag.Name), c.Bool(NoColorFlag.Name), e.out)
	if err != nil {
		return nil, usageErr("%v", err)
	}
	return r, nil
}

// printStats renders the session metrics to stderr when --stats is set.
func (e *env) printStats(s *session.Session) {
	if !e.stats || s == nil {
		return
	}
	r, err := render.New(string(render.FormatYAML), true, e.errOut)
	if err != nil {
		return
	}
	_ = r.Render(s.Metrics.Snapshot())
}

// lineWriter is a stream.Consumer writing one line per call. It is
// shared by the demux goroutine and the engine, hence the mutex.
type lineWriter struct {
	mu     sync.Mutex
	w      io.Writer
	prefix string
	format func(string) string
}

var _ stream.Consumer = (*lineWriter)(nil)

func newLineWriter(w io.Writer, prefix string, format func(string) string) *lineWriter {
	return &lineWriter{w: w, prefix: prefix, format: format}
}

// Consume formats and writes line. format runs under the lock because
// renderers carry style between lines.
func (lw *lineWriter) Consume(line string) {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	if lw.format != nil {
		line = lw.format(line)
	}
	_, _ = io.WriteString(lw.w, lw.prefix+line+"\n")
}

// withSession runs fn against a freshly opened session and closes
// everything afterwards. Errors are mapped to exit codes.
func withSession(c *cli.Context, opts session.Options, fn func(ctx context.Context, e *env, s *session.Session) error) error {
	e, err := newEnv(c)
	if err != nil {
		return exitErr(err)
	}
	defer e.close()

	ctx, stop := signalContext(c.Context)
	defer stop()

	s, err := e.openSession(ctx, opts)
	if err != nil {
		return exitErr(err)
	}
	err = fn(ctx, e, s)
	if cerr := s.Close(); cerr != nil && err == nil && !errors.Is(cerr, context.Canceled) {
		e.logger.Warn("session close failed", map[string]any{"error": cerr.Error()})
	}
	e.printStats(s)
	return exitErr(err)
}

func joinArgs(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
