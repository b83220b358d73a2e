package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"tailscale.com/tsnet"

	"github.com/flocklabs/flock/internal/a2a"
	"github.com/flocklabs/flock/internal/audit"
	"github.com/flocklabs/flock/internal/bus"
	"github.com/flocklabs/flock/internal/channels"
	"github.com/flocklabs/flock/internal/config"
	"github.com/flocklabs/flock/internal/gateway"
	"github.com/flocklabs/flock/internal/home"
	"github.com/flocklabs/flock/internal/migration"
	"github.com/flocklabs/flock/internal/registry"
	"github.com/flocklabs/flock/internal/routing"
	"github.com/flocklabs/flock/internal/scheduler"
	"github.com/flocklabs/flock/internal/session"
	"github.com/flocklabs/flock/internal/store"
	"github.com/flocklabs/flock/internal/store/pg"
	"github.com/flocklabs/flock/internal/store/sqlite"
	"github.com/flocklabs/flock/internal/telemetry"
	"github.com/flocklabs/flock/internal/triage"
)

// migrationSweepInterval is how often phase timeouts are checked.
const migrationSweepInterval = 30 * time.Second

// Node is one fully assembled Flock process.
type Node struct {
	Cfg    *config.Config
	Logger *slog.Logger

	Stores      *store.Stores
	Homes       *home.Manager
	Audit       *audit.Logger
	Events      *bus.Bus
	Nodes       *registry.NodeRegistry
	Assignments *registry.AssignmentStore
	Cards       *a2a.CardRegistry
	Channels    *channels.Service
	Sessions    *session.Manager
	Triage      *triage.Service
	Server      *a2a.Server
	Client      *a2a.Client
	Tickets     *migration.TicketStore
	Engine      *migration.Engine
	Handler     *migration.Handler
	Orch        *migration.Orchestrator
	Guard       *migration.Guard
	Scheduler   *scheduler.Scheduler
	Gateway     *gateway.Server

	a2aServer    *http.Server
	tsServer     *tsnet.Server
	pidPath      string
	stopTracing  telemetry.Shutdown
	runCtx       context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	shutdownOnce sync.Once
}

// Provider overrides the session provider; tests inject scripted ones.
type Option func(*options)

type options struct {
	provider session.Provider
}

func WithProvider(p session.Provider) Option {
	return func(o *options) { o.provider = p }
}

// New assembles a node from configuration. Nothing is listening yet;
// call Start.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*Node, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	stores, err := openStores(cfg)
	if err != nil {
		return nil, err
	}
	if err := stores.Migrate(ctx); err != nil {
		stores.Close()
		return nil, fmt.Errorf("migrate stores: %w", err)
	}

	n := &Node{
		Cfg:         cfg,
		Logger:      logger.With("node_id", cfg.NodeID),
		Stores:      stores,
		Events:      bus.New(),
		Nodes:       registry.NewNodeRegistry(),
		Assignments: registry.NewAssignmentStore(),
		Cards:       a2a.NewCardRegistry(),
		Triage:      triage.NewService(),
		Tickets:     migration.NewTicketStore(),
	}
	n.Homes = home.NewManager(stores.Homes, stores.Transitions, n.Logger)
	n.Audit = audit.NewLogger(stores.Audit, n.Logger)
	n.Channels = channels.NewService(stores.Channels, stores.ChannelMessages, n.Logger)

	provider := o.provider
	if provider == nil {
		provider = session.NewAnthropicProvider()
	}
	n.Sessions = session.NewManager(provider)

	n.registerNodes()
	if err := n.registerAgents(ctx); err != nil {
		stores.Close()
		return nil, err
	}

	n.Engine = migration.NewEngine(cfg.NodeID, n.Tickets, n.Homes, n.Nodes, n.Audit, n.Logger,
		migration.WithAssignments(n.Assignments))
	n.Guard = migration.NewGuard(n.Tickets)

	dataDir := config.ExpandHome(cfg.DataDir)
	tmpDir := cfg.TmpDir
	if tmpDir == "" {
		tmpDir = filepath.Join(dataDir, "tmp")
	}
	homeBase := filepath.Join(dataDir, "agents")
	workBase := cfg.VaultsBasePath
	if workBase == "" {
		workBase = filepath.Join(dataDir, "vaults")
	}

	paths := migration.Paths{
		HomePath: func(agentID string) string { return filepath.Join(homeBase, agentID) },
		WorkPath: func(agentID string) string { return filepath.Join(workBase, agentID) },
		TmpDir:   tmpDir,
	}
	// The factory reads n.Client at call time, after wiring completes.
	n.Orch = migration.NewOrchestrator(n.Engine, paths, func(endpoint string) migration.Transport {
		return migration.NewHTTPTransport(n.Client, endpoint)
	}, n.Logger)
	n.Handler = migration.NewHandler(cfg.NodeID, tmpDir, homeBase, workBase, n.Engine, n.Logger,
		migration.WithKnownPeers(cfg.KnownPeers),
		migration.WithOrchestrator(n.Orch))

	n.Server = a2a.NewServer(cfg.NodeID, cfg.A2ABasePath, n.Cards, stores.Tasks, n.Logger,
		a2a.WithFrozenGuard(n.Guard),
		a2a.WithMigrationHandler(n.Handler),
		a2a.WithRateLimit(100, 200))

	n.Client = a2a.NewClient(n.Server, n.resolver(), n.Logger,
		a2a.WithClientBasePath(cfg.A2ABasePath))

	n.Scheduler = scheduler.New(stores.AgentLoop, n.Client, n.Logger, schedulerOptions(cfg)...)

	n.Gateway = gateway.NewServer(gateway.Deps{
		NodeID: cfg.NodeID,
		Token:  cfg.Gateway.Token,
		Cards:  n.Cards,
		Nodes:  n.Nodes,
		Engine: n.Engine,
		Audit:  n.Audit,
		Events: n.Events,
		Homes:  stores.Homes,
	}, n.Logger)
	n.Gateway.SubscribeEvents()

	return n, nil
}

func openStores(cfg *config.Config) (*store.Stores, error) {
	switch cfg.DBBackend {
	case config.DBSQLite:
		return sqlite.NewStores(config.ExpandHome(cfg.DataDir))
	case config.DBPostgres:
		if cfg.PostgresDSN == "" {
			return nil, errors.New("postgres backend selected but FLOCK_POSTGRES_DSN is not set")
		}
		return pg.NewStores(cfg.PostgresDSN)
	default:
		return store.NewMemoryStores(), nil
	}
}

// registerNodes seeds the node registry with self and the configured
// remotes. Remotes start online; failed calls mark them offline later.
func (n *Node) registerNodes() {
	n.Nodes.Register(registry.NodeEntry{
		NodeID:      n.Cfg.NodeID,
		A2AEndpoint: fmt.Sprintf("http://127.0.0.1:%d", n.Cfg.A2APort),
		Status:      registry.NodeOnline,
	})
	for _, remote := range n.Cfg.RemoteNodes {
		n.Nodes.Register(registry.NodeEntry{
			NodeID:      remote.NodeID,
			A2AEndpoint: remote.A2AEndpoint,
			Status:      registry.NodeOnline,
		})
	}
}

// registerAgents builds an executor per configured agent, seeds its home
// directory and home record, and converges its work-loop state to AWAKE.
func (n *Node) registerAgents(ctx context.Context) error {
	peerIDs := make([]string, 0, len(n.Cfg.GatewayAgents))
	for _, spec := range n.Cfg.GatewayAgents {
		peerIDs = append(peerIDs, spec.ID)
	}

	for _, spec := range n.Cfg.GatewayAgents {
		role := a2a.Role(n.Cfg.ResolveRole(spec))

		homeDir := n.Cfg.AgentDataDir(spec.ID)
		created, err := EnsureHome(homeDir, spec, string(role), peerIDs)
		if err != nil {
			return fmt.Errorf("seed home for %s: %w", spec.ID, err)
		}
		if len(created) > 0 {
			n.Logger.Debug("home files seeded", "agent_id", spec.ID, "files", created)
		}

		if err := n.ensureHomeRecord(ctx, spec.ID); err != nil {
			return err
		}
		if _, err := n.Stores.AgentLoop.Init(ctx, spec.ID, store.LoopAwake); err != nil {
			return fmt.Errorf("init loop state for %s: %w", spec.ID, err)
		}
		n.Assignments.Assign(registry.AgentAssignment{
			AgentID:      spec.ID,
			NodeID:       n.Cfg.NodeID,
			PortablePath: homeDir,
		})

		cfg := session.Config{
			Model:              spec.Model,
			SystemPrompt:       spec.SystemPrompt,
			GetAPIKey:          func() string { return n.Cfg.AnthropicAPIKey },
			MaxContextMessages: 200,
		}
		if cfg.Model == "" {
			cfg.Model = n.Cfg.Model
		}
		execOpts := []a2a.ExecutorOption{}
		if role == a2a.RoleSysadmin {
			cfg.Tools = []session.ToolDef{{
				Name:        triage.ToolName,
				Description: "Classify an escalated sysadmin request as GREEN, YELLOW, or RED.",
				InputSchema: triage.ToolSchema(),
			}}
			execOpts = append(execOpts, a2a.WithTriage(n.Triage))
		}
		exec := a2a.NewSessionExecutor(spec.ID, role, n.Cfg.NodeID, cfg,
			n.Sessions, n.Stores.Tasks, n.Audit, n.Logger, execOpts...)

		n.Cards.Register(a2a.AgentCard{
			AgentID:     spec.ID,
			Name:        spec.ID,
			Description: spec.Archetype,
			Version:     "1.0",
			InputTypes:  []string{"text"},
			OutputTypes: []string{"text"},
			Flock: a2a.FlockInfo{
				NodeID:    n.Cfg.NodeID,
				Role:      role,
				Archetype: spec.Archetype,
			},
		}, exec)
	}
	n.Nodes.UpdateAgents(n.Cfg.NodeID, peerIDs)
	return nil
}

// ensureHomeRecord creates the home and walks it to IDLE on first boot.
// An existing record keeps whatever state it reached.
func (n *Node) ensureHomeRecord(ctx context.Context, agentID string) error {
	homeID := store.HomeID(agentID, n.Cfg.NodeID)
	if _, err := n.Homes.Get(ctx, homeID); err == nil {
		return nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return err
	}
	if _, err := n.Homes.Create(ctx, agentID, n.Cfg.NodeID, nil); err != nil {
		return err
	}
	for _, to := range []store.HomeState{store.HomeProvisioning, store.HomeIdle} {
		if _, err := n.Homes.Transition(ctx, homeID, to, "boot", "system"); err != nil {
			return err
		}
	}
	return nil
}

func (n *Node) resolver() a2a.Resolver {
	if n.Cfg.Topology == config.TopologyCentral {
		sysadmin := routing.NewCentralSysadminResolver(n.Assignments, n.Nodes, n.Cfg.NodeID)
		return routing.NewCentralResolver(sysadmin)
	}
	return routing.NewPeerResolver(n.Cards, n.Nodes)
}

func schedulerOptions(cfg *config.Config) []scheduler.Option {
	opts := []scheduler.Option{
		scheduler.WithIntervals(
			time.Duration(cfg.Scheduler.AwakeIntervalSec)*time.Second,
			time.Duration(cfg.Scheduler.ReactiveIntervalSec)*time.Second,
		),
	}
	if cfg.Scheduler.AwakeCron != "" || cfg.Scheduler.ReactiveCron != "" {
		opts = append(opts, scheduler.WithCron(cfg.Scheduler.AwakeCron, cfg.Scheduler.ReactiveCron))
	}
	return opts
}

// Start brings up listeners and background loops, then blocks until ctx
// is cancelled or a listener fails.
func (n *Node) Start(ctx context.Context) error {
	ctx, n.cancel = context.WithCancel(ctx)
	n.runCtx = ctx

	dataDir := config.ExpandHome(n.Cfg.DataDir)
	pidPath, err := WritePIDFile(dataDir)
	if err != nil {
		return err
	}
	n.pidPath = pidPath

	if n.Cfg.Telemetry.Enabled {
		stop, err := telemetry.Init(ctx, telemetry.Config{
			Endpoint: n.Cfg.Telemetry.Endpoint,
			Protocol: n.Cfg.Telemetry.Protocol,
			NodeID:   n.Cfg.NodeID,
		}, n.Logger)
		if err != nil {
			n.Logger.Warn("telemetry init failed", "error", err)
		} else {
			n.stopTracing = stop
		}
	}

	ln, err := n.listen()
	if err != nil {
		return err
	}
	n.a2aServer = &http.Server{Handler: n.Server.Handler()}

	errCh := make(chan error, 2)
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		if err := n.a2aServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("a2a server: %w", err)
		}
	}()
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		addr := fmt.Sprintf(":%d", n.Cfg.Gateway.Port)
		if err := n.Gateway.Start(ctx, addr); err != nil {
			errCh <- fmt.Errorf("gateway: %w", err)
		}
	}()

	n.Scheduler.Start(ctx)
	n.wg.Add(1)
	go n.sweepMigrations(ctx)
	n.wg.Add(1)
	go n.deliverPostMigrationNotes(ctx)

	n.Logger.Info("node started",
		"a2a_port", n.Cfg.A2APort,
		"gateway_port", n.Cfg.Gateway.Port,
		"topology", n.Cfg.Topology,
		"backend", n.Cfg.DBBackend)

	select {
	case <-ctx.Done():
		n.Shutdown(context.Background())
		return nil
	case err := <-errCh:
		n.Shutdown(context.Background())
		return err
	}
}

// ApplyConfig takes over the reloadable knobs from a freshly loaded
// config. Structural settings (ports, backend, topology) are ignored; a
// restart picks those up. Today the only live knob is scheduler cadence.
func (n *Node) ApplyConfig(cfg *config.Config) {
	if cfg.Scheduler == n.Cfg.Scheduler {
		return
	}
	n.Logger.Info("scheduler cadence updated",
		"awake_sec", cfg.Scheduler.AwakeIntervalSec,
		"reactive_sec", cfg.Scheduler.ReactiveIntervalSec,
		"awake_cron", cfg.Scheduler.AwakeCron,
		"reactive_cron", cfg.Scheduler.ReactiveCron)
	n.Scheduler.Stop()
	n.Cfg.Scheduler = cfg.Scheduler
	n.Scheduler = scheduler.New(n.Stores.AgentLoop, n.Client, n.Logger, schedulerOptions(cfg)...)
	if n.runCtx != nil {
		n.Scheduler.Start(n.runCtx)
	}
}

// listen binds the A2A listener, over the tailnet when configured.
func (n *Node) listen() (net.Listener, error) {
	addr := fmt.Sprintf(":%d", n.Cfg.A2APort)
	if n.Cfg.Tailscale.Hostname == "" {
		return net.Listen("tcp", addr)
	}
	n.tsServer = &tsnet.Server{
		Hostname: n.Cfg.Tailscale.Hostname,
		AuthKey:  n.Cfg.Tailscale.AuthKey,
		Dir:      config.ExpandHome(n.Cfg.Tailscale.StateDir),
	}
	ln, err := n.tsServer.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("tsnet listen: %w", err)
	}
	n.Logger.Info("a2a listening on tailnet", "hostname", n.Cfg.Tailscale.Hostname)
	return ln, nil
}

// deliverPostMigrationNotes hands a pending handshake note to its agent
// as the first message after boot, then acknowledges it. A note survives
// until the agent actually received it.
func (n *Node) deliverPostMigrationNotes(ctx context.Context) {
	defer n.wg.Done()
	for _, spec := range n.Cfg.GatewayAgents {
		if ctx.Err() != nil {
			return
		}
		homeDir := n.Cfg.AgentDataDir(spec.ID)
		if !migration.HasPostMigrationNote(homeDir) {
			continue
		}
		note, err := migration.ReadPostMigrationNote(homeDir)
		if err != nil {
			n.Logger.Warn("read post-migration note failed", "agent_id", spec.ID, "error", err)
			continue
		}
		meta := &a2a.FlockMeta{FlockType: a2a.TypeStatusUpdate, Urgency: a2a.UrgencyHigh}
		if _, err := n.Client.SendMessage(ctx, spec.ID, note, meta); err != nil {
			n.Logger.Warn("post-migration handshake failed", "agent_id", spec.ID, "error", err)
			continue
		}
		if err := migration.ClearPostMigrationNote(homeDir); err != nil {
			n.Logger.Warn("clear post-migration note failed", "agent_id", spec.ID, "error", err)
		}
		n.Logger.Info("post-migration note delivered", "agent_id", spec.ID)
	}
}

// sweepMigrations enforces per-phase timeouts on active tickets.
func (n *Node) sweepMigrations(ctx context.Context) {
	defer n.wg.Done()
	ticker := time.NewTicker(migrationSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.Engine.CheckTimeouts(ctx)
		}
	}
}

// Shutdown stops loops and listeners in reverse boot order. Safe to call
// more than once.
func (n *Node) Shutdown(ctx context.Context) {
	n.shutdownOnce.Do(func() {
		if n.cancel != nil {
			n.cancel()
		}
		n.Scheduler.Stop()
		if n.a2aServer != nil {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			_ = n.a2aServer.Shutdown(shutdownCtx)
			cancel()
		}
		if n.tsServer != nil {
			_ = n.tsServer.Close()
		}
		n.wg.Wait()
		if n.stopTracing != nil {
			_ = n.stopTracing(ctx)
		}
		if err := n.Stores.Close(); err != nil {
			n.Logger.Warn("store close failed", "error", err)
		}
		if n.pidPath != "" {
			_ = RemovePIDFile(n.pidPath)
		}
		n.Logger.Info("node stopped")
	})
}
