package daemon

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/denyherianto/delegate/internal/bus"
	"github.com/denyherianto/delegate/internal/config"
	"github.com/denyherianto/delegate/internal/dispatch"
	"github.com/denyherianto/delegate/internal/exec"
	"github.com/denyherianto/delegate/internal/httpapi"
	"github.com/denyherianto/delegate/internal/mailbox"
	"github.com/denyherianto/delegate/internal/merge"
	"github.com/denyherianto/delegate/internal/runtime"
	"github.com/denyherianto/delegate/internal/store"
	"github.com/denyherianto/delegate/internal/workflow"
)

// Daemon wires and runs every background loop over one shared store.
type Daemon struct {
	home *config.Home
	cfg  *config.Config

	singleton *Singleton
	db        *store.DB
	bus       *bus.Bus
	server    *http.Server
}

// New prepares a daemon for the given home. Nothing starts until Run.
func New(home *config.Home, cfg *config.Config) *Daemon {
	return &Daemon{
		home:      home,
		cfg:       cfg,
		singleton: NewSingleton(home.LockFile(), home.PIDFile()),
	}
}

// Run acquires the singleton lock, starts every loop, and blocks until
// SIGINT/SIGTERM or a fatal startup error.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.home.Ensure(); err != nil {
		return fmt.Errorf("preparing home: %w", err)
	}
	if err := d.singleton.Acquire(); err != nil {
		return err
	}
	defer d.singleton.Release()

	if err := MigrateHome(d.home); err != nil {
		return fmt.Errorf("home migration: %w", err)
	}

	db, err := store.Open(d.home.DBPath())
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrating store: %w", err)
	}
	d.db = db

	d.bus = bus.New()
	defer d.bus.Close()

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	engine := workflow.NewEngine(db, d.bus)
	mail := mailbox.New(db, d.bus)
	locks := merge.NewWorktreeLocks()

	allowlist, err := config.LoadAllowlist(d.home.AllowlistPath())
	if err != nil {
		return fmt.Errorf("loading allowlist: %w", err)
	}
	if err := allowlist.Watch(ctx); err != nil {
		log.Printf("[daemon] allowlist watch unavailable: %v", err)
	}

	apiKey, err := config.APIKey(d.cfg)
	if err != nil && !d.cfg.Anthropic.UseAWSBedrock {
		return err
	}
	client, err := runtime.NewClient(runtime.ClientConfig{
		Model:         d.cfg.Defaults.Model,
		APIKey:        apiKey,
		UseAWSBedrock: d.cfg.Anthropic.UseAWSBedrock,
		AWSRegion:     d.cfg.Anthropic.AWSRegion,
		AWSProfile:    d.cfg.Anthropic.AWSProfile,
	})
	if err != nil {
		return fmt.Errorf("creating API client: %w", err)
	}

	tools := dispatch.NewDomainTools(dispatch.ToolsConfig{
		DB:         db,
		Mail:       mail,
		Engine:     engine,
		Paths:      d.home,
		MainBranch: d.cfg.Merge.MainBranch,
	})
	agents := dispatch.NewAgents(runtime.New(client), d.home, dispatch.SessionSettings{
		Model:              d.cfg.Defaults.Model,
		MaxContextTokens:   d.cfg.Session.MaxContextTokens,
		RotationPrompt:     d.cfg.Session.RotationPrompt,
		DeniedBashPatterns: d.cfg.Session.DeniedBashPatterns,
		DisallowedTools:    d.cfg.Session.DisallowedTools,
	}, tools)

	dispatcher := dispatch.New(dispatch.Config{
		DB:            db,
		Mail:          mail,
		Agents:        agents,
		Locks:         locks,
		Bus:           d.bus,
		MaxConcurrent: d.cfg.Dispatch.MaxConcurrent,
		Interval:      d.cfg.Dispatch.Interval,
		StopTimeout:   d.cfg.Dispatch.StopTimeout,
	})

	coordinator := merge.NewCoordinator(merge.Config{
		DB:         db,
		Engine:     engine,
		Bus:        d.bus,
		Locks:      locks,
		Runner:     exec.NewRunner(),
		Paths:      d.home,
		Interval:   d.cfg.Merge.Interval,
		MainBranch: d.cfg.Merge.MainBranch,
	})

	router := mailbox.NewRouter(db, d.bus, d.cfg.Defaults.HumanMember, time.Second)

	handler := httpapi.NewHandler(db, engine, mail, d.bus, d.home)
	d.server = &http.Server{
		Addr:    d.cfg.HTTP.Listen,
		Handler: handler,
	}

	errc := make(chan error, 1)
	go func() {
		log.Printf("[daemon] http listening on %s", d.cfg.HTTP.Listen)
		if err := d.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	// The store and bus close on return, so every loop must have drained
	// before then.
	loops := startLoops(ctx, dispatcher.Run, coordinator.Run, router.Run)

	log.Printf("[daemon] started, pid %d", os.Getpid())

	select {
	case <-ctx.Done():
	case err := <-errc:
		cancel()
		log.Printf("[daemon] http server failed: %v", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := d.server.Shutdown(shutdownCtx); err != nil {
		log.Printf("[daemon] http shutdown: %v", err)
	}

	loops.Wait()
	log.Printf("[daemon] stopped")
	return nil
}

// startLoops runs each loop in its own goroutine and returns the group to
// wait on once the context is cancelled.
func startLoops(ctx context.Context, loops ...func(context.Context)) *sync.WaitGroup {
	var wg sync.WaitGroup
	for _, loop := range loops {
		wg.Add(1)
		go func(run func(context.Context)) {
			defer wg.Done()
			run(ctx)
		}(loop)
	}
	return &wg
}

// Stop signals a running daemon: SIGTERM, then SIGKILL if it has not
// exited within the grace period.
func Stop(lockPath, pidPath string, grace time.Duration) error {
	pid, ok := RunningPID(lockPath, pidPath)
	if !ok {
		return errors.New("daemon is not running")
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("signaling pid %d: %w", pid, err)
	}

	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		if _, running := RunningPID(lockPath, pidPath); !running {
			return nil
		}
		time.Sleep(200 * time.Millisecond)
	}

	log.Printf("[daemon] pid %d ignored SIGTERM for %s, killing", pid, grace)
	return proc.Signal(syscall.SIGKILL)
}
