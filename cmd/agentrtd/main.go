// Command agentrtd is the server composition root: it wires the session
// registry (internal/registry), the composite transport
// (internal/transport), the agent loop (internal/agentloop), the approval
// gate (internal/approval), and the per-session stream buffer
// (internal/streambuf) into one running process, following the
// cmd/opencode-server/main.go wiring and shutdown shape this runtime is
// derived from.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/mymmrac/telego"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/dethon/agentrt/internal/agent"
	"github.com/dethon/agentrt/internal/agentloop"
	"github.com/dethon/agentrt/internal/approval"
	"github.com/dethon/agentrt/internal/chatkey"
	"github.com/dethon/agentrt/internal/config"
	"github.com/dethon/agentrt/internal/contracts"
	"github.com/dethon/agentrt/internal/dashboard"
	"github.com/dethon/agentrt/internal/logging"
	"github.com/dethon/agentrt/internal/obs"
	"github.com/dethon/agentrt/internal/persistence/filestore"
	"github.com/dethon/agentrt/internal/persistence/postgres"
	"github.com/dethon/agentrt/internal/persistence/sqlite"
	"github.com/dethon/agentrt/internal/provider"
	"github.com/dethon/agentrt/internal/registry"
	"github.com/dethon/agentrt/internal/sched"
	"github.com/dethon/agentrt/internal/streambuf"
	"github.com/dethon/agentrt/internal/transport"
	"github.com/dethon/agentrt/internal/transport/cli"
	"github.com/dethon/agentrt/internal/transport/queue"
	"github.com/dethon/agentrt/internal/transport/telegram"
	"github.com/dethon/agentrt/internal/transport/webui"
)

const Version = "0.1.0"

func main() {
	var directory string

	root := &cobra.Command{
		Use:     "agentrtd",
		Short:   "Run the agent runtime server",
		Version: Version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(directory)
		},
	}
	root.Flags().StringVar(&directory, "directory", "", "Project directory (config + persistence root)")

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "agentrtd: %v\n", err)
		os.Exit(1)
	}
}

func run(directory string) error {
	workDir := directory
	if workDir == "" {
		var err error
		workDir, err = os.Getwd()
		if err != nil {
			return fmt.Errorf("getwd: %w", err)
		}
	}

	logging.Init(logging.DefaultConfig())
	logger := logging.Logger.With().Str("service", "agentrtd").Logger()

	paths := config.GetPaths()
	if err := paths.EnsurePaths(); err != nil {
		logger.Fatal().Err(err).Msg("create data directories")
	}

	cfg, err := config.Load(workDir)
	if err != nil {
		logger.Fatal().Err(err).Msg("load configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	threadStates, scheduleStore, correlations, closePersistence := mustPersistence(ctx, *cfg, paths, logger)
	defer closePersistence()

	agentRegistry := agent.NewRegistry()
	if err := agentRegistry.LoadProfilesDir(paths.ProfilesDir()); err != nil {
		logger.Warn().Err(err).Msg("load yaml agent profiles")
	}
	agentRegistry.LoadFromConfig(cfg.Agents)

	llm, err := provider.New(provider.Config{
		APIKey:    cfg.Provider.APIKey,
		BaseURL:   cfg.Provider.BaseURL,
		Model:     cfg.Provider.Model,
		MaxTokens: cfg.Provider.MaxTokens,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("construct LLM provider")
	}

	gate := approval.New()
	sessions := registry.New(ctx)
	defer sessions.Close()

	metrics := obs.NewMetrics(prometheus.DefaultRegisterer)
	tracer := obs.NewTracer("agentrtd")

	buffers := newBufferStore()
	composite := transport.New(logger)

	webuiTransport := webui.New(logger, gate, buffers.fetch)
	composite.Add(webuiTransport)

	if cfg.Transports.Queue.Enabled {
		broker := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 64}, watermill.NopLogger{})
		composite.Add(queue.New(logger, queue.Config{
			Publisher:     broker,
			Subscriber:    broker,
			RequestTopic:  orDefault(cfg.Transports.Queue.RequestTopic, "agentrt.requests"),
			ResponseTopic: orDefault(cfg.Transports.Queue.ResponseTopic, "agentrt.responses"),
			DeadLetter:    orDefault(cfg.Transports.Queue.DeadLetterTopic, "agentrt.dead-letter"),
			KnownAgent:    agentRegistry.Exists,
			Correlations:  correlations,
		}))
	}

	if cfg.Transports.Telegram.Enabled && cfg.Transports.Telegram.BotToken != "" {
		bot, err := telego.NewBot(cfg.Transports.Telegram.BotToken)
		if err != nil {
			logger.Error().Err(err).Msg("construct telegram bot; telegram transport disabled")
		} else {
			composite.Add(telegram.New(logger, bot))
		}
	}

	if cfg.Transports.CLI.Enabled {
		key := chatkey.Key{
			ConversationID: cfg.Transports.CLI.ConversationID,
			ThreadID:       cfg.Transports.CLI.ThreadID,
			AgentID:        orDefault(cfg.Transports.CLI.AgentID, "default"),
		}
		cliTransport, err := cli.New(logger, key, orDefault(cfg.Transports.CLI.SenderID, "local"))
		if err != nil {
			logger.Error().Err(err).Msg("construct cli transport; cli transport disabled")
		} else {
			composite.Add(cliTransport)
		}
	}

	var dashboardSink *dashboard.Sink
	if cfg.Dashboard.Enabled {
		dashboardSink = dashboard.New(logger, cfg.Dashboard.BotToken, cfg.Dashboard.ChannelID)
	}

	app := &application{
		logger:        logger,
		cfg:           *cfg,
		composite:     composite,
		sessions:      sessions,
		buffers:       buffers,
		agentRegistry: agentRegistry,
		llm:           llm,
		gate:          gate,
		threadStates:  threadStates,
		metrics:       metrics,
		tracer:        tracer,
	}

	routed := make(chan contracts.RoutedChunk, 256)
	toTransports, toDashboard := fanOutChunks(ctx, routed)
	go composite.WriteChunks(ctx, toTransports)
	if dashboardSink != nil {
		go dashboardSink.Observe(ctx, toDashboard)
	} else {
		go drain(toDashboard)
	}

	go app.pump(ctx, routed)

	if scheduleStore != nil {
		scheduler := sched.New(scheduleStore, app.dispatchSchedule(routed), cfg.Scheduler.PollInterval, logger)
		go scheduler.Run(ctx)
	}

	metricsAddr := orDefault(cfg.Observability.MetricsAddr, ":9090")
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{Addr: metricsAddr, Handler: metricsMux}
	go func() {
		logger.Info().Str("addr", metricsAddr).Msg("metrics endpoint listening")
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("metrics server error")
		}
	}()

	webuiAddr := cfg.Transports.WebUI.Addr
	webuiServer := &http.Server{Addr: webuiAddr, Handler: webuiTransport.Router()}
	go func() {
		logger.Info().Str("addr", webuiAddr).Msg("webui transport listening")
		if err := webuiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("webui server error")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := webuiServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("webui shutdown")
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("metrics shutdown")
	}

	logger.Info().Msg("stopped")
	return nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// bufferStore tracks each active session's streambuf.Buffer so the webui
// resume endpoint and the scheduler's re-injected prompts can find it.
type bufferStore struct {
	mu      sync.Mutex
	buffers map[chatkey.Key]*streambuf.Buffer
}

func newBufferStore() *bufferStore {
	return &bufferStore{buffers: make(map[chatkey.Key]*streambuf.Buffer)}
}

func (s *bufferStore) getOrCreate(key chatkey.Key) *streambuf.Buffer {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf, ok := s.buffers[key]
	if !ok {
		buf = streambuf.New(0)
		s.buffers[key] = buf
	}
	return buf
}

func (s *bufferStore) remove(key chatkey.Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.buffers, key)
}

func (s *bufferStore) fetch(key chatkey.Key) (streambuf.State, bool) {
	s.mu.Lock()
	buf, ok := s.buffers[key]
	s.mu.Unlock()
	if !ok {
		return streambuf.State{}, false
	}
	return buf.Snapshot(), true
}

// fanOutChunks duplicates the routed-chunk stream to the composite
// transport fan-out and the dashboard observer, so the dashboard can mirror
// completed turns without being a registered MessengerClient.
func fanOutChunks(ctx context.Context, in <-chan contracts.RoutedChunk) (<-chan contracts.RoutedChunk, <-chan contracts.RoutedChunk) {
	toTransports := make(chan contracts.RoutedChunk, 256)
	toDashboard := make(chan contracts.RoutedChunk, 256)
	go func() {
		defer close(toTransports)
		defer close(toDashboard)
		for {
			select {
			case <-ctx.Done():
				return
			case rc, ok := <-in:
				if !ok {
					return
				}
				select {
				case toTransports <- rc:
				case <-ctx.Done():
					return
				}
				select {
				case toDashboard <- rc:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return toTransports, toDashboard
}

func drain(ch <-chan contracts.RoutedChunk) {
	for range ch {
	}
}

// application holds the collaborators a prompt needs to run one turn.
type application struct {
	logger        zerolog.Logger
	cfg           config.Config
	composite     *transport.Composite
	sessions      *registry.Registry
	buffers       *bufferStore
	agentRegistry *agent.Registry
	llm           contracts.LLM
	gate          *approval.Gate
	threadStates  contracts.ThreadStateStore
	metrics       *obs.Metrics
	tracer        obs.Tracer
}

// pump reads every transport's merged prompt stream and runs one turn per
// prompt, concurrently, fanning emitted chunks onto routed.
func (a *application) pump(ctx context.Context, routed chan<- contracts.RoutedChunk) {
	for prompt := range a.composite.ReadPrompts(ctx, 30*time.Second) {
		a.metrics.PromptsReceived.WithLabelValues(string(prompt.Source)).Inc()
		a.composite.BindKey(prompt.Key, prompt.Source)
		go a.runTurn(ctx, prompt, routed)
	}
}

func (a *application) runTurn(ctx context.Context, prompt contracts.Prompt, routed chan<- contracts.RoutedChunk) {
	spanCtx, span := a.tracer.StartSpan(ctx, "agentrtd.run_turn")
	defer span.End()

	sess, err := a.sessions.Resolve(spanCtx, prompt.Key, a.sessionFactory())
	if err != nil {
		a.logger.Error().Err(err).Str("key", prompt.Key.String()).Msg("resolve session")
		return
	}

	buf := a.buffers.getOrCreate(prompt.Key)
	profile := a.agentRegistry.GetOrDefault(prompt.Key.AgentID)

	loop := agentloop.New(a.llm, map[string]contracts.Tool{}, a.gate, a.logger)
	loop.Temperature = profile.Temperature

	emit := func(c contracts.Chunk) {
		kind := "content"
		switch {
		case c.Terminal:
			kind = "terminal"
		case c.ToolCallDelta != "":
			kind = "tool_call"
		case c.Reasoning != "":
			kind = "reasoning"
		case c.Approval != nil:
			kind = "approval"
		}
		a.metrics.ChunksEmitted.WithLabelValues(string(prompt.Source), kind).Inc()
		select {
		case routed <- contracts.RoutedChunk{Key: prompt.Key, Chunk: c, Source: prompt.Source}:
		case <-ctx.Done():
		}
	}

	if err := loop.RunTurn(spanCtx, sess, buf, prompt, emit); err != nil {
		a.tracer.RecordError(span, err)
		a.metrics.AgentLoopErrors.WithLabelValues(fmt.Sprintf("%t", ctx.Err() != nil)).Inc()
		a.logger.Error().Err(err).Str("key", prompt.Key.String()).Msg("turn failed")
	}

	buf.CompleteTurn(func() { a.buffers.remove(prompt.Key) })
}

// sessionFactory persists/refreshes the conversation's ThreadState on
// session creation, the one place ThreadStateStore is actually exercised
// (the transports themselves treat thread bookkeeping as the persistence
// layer's job, per spec.md §4.10).
func (a *application) sessionFactory() registry.Factory {
	return func(ctx context.Context, s *registry.Session) error {
		if a.threadStates == nil {
			return nil
		}
		key := s.Key.String()
		now := time.Now()
		if _, err := a.threadStates.Get(ctx, key); err != nil {
			state := contracts.ThreadState{
				ConversationID: s.Key.ConversationID,
				ThreadID:       s.Key.ThreadID,
				AgentID:        s.Key.AgentID,
				CreatedAt:      now,
				UpdatedAt:      now,
			}
			return a.threadStates.Put(ctx, key, state)
		}
		return nil
	}
}

// dispatchSchedule re-injects a due schedule's payload as a fresh prompt
// through the same turn path a live transport would use.
func (a *application) dispatchSchedule(routed chan<- contracts.RoutedChunk) sched.Dispatcher {
	return func(ctx context.Context, s contracts.Schedule) error {
		key, err := chatkey.Parse(s.Key)
		if err != nil {
			return err
		}
		prompt := contracts.Prompt{
			Text:     s.Payload,
			Key:      key,
			HasKey:   true,
			SenderID: "scheduler",
			Source:   contracts.SourceWebUI,
		}
		a.runTurn(ctx, prompt, routed)
		return nil
	}
}

// mustPersistence constructs the configured persistence backend's three
// stores, returning a cleanup function that releases any underlying
// connection.
func mustPersistence(ctx context.Context, cfg config.Config, paths *config.Paths, logger zerolog.Logger) (contracts.ThreadStateStore, contracts.ScheduleStore, contracts.CorrelationStore, func()) {
	switch cfg.Persistence.Backend {
	case config.BackendSQLite:
		path := orDefault(cfg.Persistence.SQLitePath, paths.SQLitePath())
		db, err := sqlite.Open(path)
		if err != nil {
			logger.Fatal().Err(err).Str("path", path).Msg("open sqlite")
		}
		return sqlite.NewThreadStateStore(db), sqlite.NewScheduleStore(db), sqlite.NewCorrelationStore(db), func() { db.Close() }

	case config.BackendPostgres:
		pool, err := postgres.NewPool(ctx, cfg.Persistence.PostgresDSN)
		if err != nil {
			logger.Fatal().Err(err).Msg("open postgres pool")
		}
		return postgres.NewThreadStateStore(pool), postgres.NewScheduleStore(pool), postgres.NewCorrelationStore(pool), func() { pool.Close() }

	default:
		base := paths.StoragePath()
		return filestore.NewThreadStateStore(base), filestore.NewScheduleStore(base), filestore.NewCorrelationStore(base), func() {}
	}
}
