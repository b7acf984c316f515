package dispatch

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/denyherianto/delegate/internal/bus"
	"github.com/denyherianto/delegate/internal/mailbox"
	"github.com/denyherianto/delegate/internal/merge"
	"github.com/denyherianto/delegate/internal/store"
	"github.com/denyherianto/delegate/pkg/models"
)

const (
	defaultMaxConcurrent = 32
	defaultInterval      = time.Second
	defaultStopTimeout   = 15 * time.Second
)

// Config configures a Dispatcher.
type Config struct {
	DB     *store.DB
	Mail   *mailbox.Mailbox
	Agents *Agents
	Locks  *merge.WorktreeLocks
	Bus    *bus.Bus
	// MaxConcurrent caps in-flight turns across all teams. Default 32.
	MaxConcurrent int
	// Interval is the scheduling cadence. Default 1s.
	Interval time.Duration
	// StopTimeout bounds the wait for in-flight turns on shutdown.
	StopTimeout time.Duration
}

// Dispatcher gives agents turns. Teams are visited round-robin so a
// chatty team cannot starve the others; each agent has at most one turn
// in flight.
type Dispatcher struct {
	db     *store.DB
	mail   *mailbox.Mailbox
	agents *Agents
	locks  *merge.WorktreeLocks
	bus    *bus.Bus

	interval    time.Duration
	stopTimeout time.Duration
	sem         chan struct{}

	mu      sync.Mutex
	running map[agentKey]bool
	offset  int

	wg sync.WaitGroup
}

// New creates a dispatcher.
func New(cfg Config) *Dispatcher {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = defaultMaxConcurrent
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = defaultStopTimeout
	}
	return &Dispatcher{
		db:          cfg.DB,
		mail:        cfg.Mail,
		agents:      cfg.Agents,
		locks:       cfg.Locks,
		bus:         cfg.Bus,
		interval:    cfg.Interval,
		stopTimeout: cfg.StopTimeout,
		sem:         make(chan struct{}, cfg.MaxConcurrent),
		running:     make(map[agentKey]bool),
	}
}

// Run schedules turns until ctx is cancelled, then waits for in-flight
// turns up to the stop timeout.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.drain()
			return
		case <-ticker.C:
			if err := d.Sweep(ctx); err != nil {
				log.Printf("[dispatch] sweep failed: %v", err)
			}
		}
	}
}

// drain waits for running turns, giving up after the stop timeout.
func (d *Dispatcher) drain() {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(d.stopTimeout):
		log.Printf("[dispatch] shutdown: gave up waiting for in-flight turns after %s", d.stopTimeout)
	}
}

// Sweep visits every team once, starting after the last team served.
func (d *Dispatcher) Sweep(ctx context.Context) error {
	teams, err := d.db.ListTeams()
	if err != nil {
		return err
	}
	if len(teams) == 0 {
		return nil
	}

	d.mu.Lock()
	start := d.offset % len(teams)
	d.offset++
	d.mu.Unlock()

	for i := 0; i < len(teams); i++ {
		team := teams[(start+i)%len(teams)]
		if err := d.sweepTeam(ctx, team.Name); err != nil {
			log.Printf("[dispatch] %s: %v", team.Name, err)
		}
	}
	return nil
}

func (d *Dispatcher) sweepTeam(ctx context.Context, team string) error {
	agents, err := d.db.ListAgents(team)
	if err != nil {
		return err
	}
	for _, agent := range agents {
		eligible, err := d.eligible(agent)
		if err != nil {
			log.Printf("[dispatch] %s/%s: eligibility: %v", team, agent.Name, err)
			continue
		}
		if !eligible {
			continue
		}
		d.start(ctx, agent)
	}
	return nil
}

// eligible reports whether the agent should get a turn: not already
// running, not the DRI of a task mid-merge, and with either unread mail
// or an open task on its plate.
func (d *Dispatcher) eligible(agent *models.Agent) (bool, error) {
	key := agentKey{team: agent.Team, name: agent.Name}

	d.mu.Lock()
	busy := d.running[key]
	d.mu.Unlock()
	if busy {
		return false, nil
	}

	merging, err := d.db.ListTasks(agent.Team, store.TaskFilter{
		Status: models.TaskStatusMerging,
		DRI:    agent.Name,
	})
	if err != nil {
		return false, err
	}
	if len(merging) > 0 {
		return false, nil
	}

	unread, err := d.mail.HasUnread(agent.Team, agent.Name)
	if err != nil {
		return false, err
	}
	if unread {
		return true, nil
	}

	open, err := d.db.ListTasks(agent.Team, store.TaskFilter{
		Statuses: []models.TaskStatus{
			models.TaskStatusAssigned,
			models.TaskStatusInProgress,
			models.TaskStatusRejected,
		},
		DRI:   agent.Name,
		Limit: 1,
	})
	if err != nil {
		return false, err
	}
	return len(open) > 0, nil
}

// start launches the agent's turn, respecting the concurrency cap.
func (d *Dispatcher) start(ctx context.Context, agent *models.Agent) {
	select {
	case d.sem <- struct{}{}:
	default:
		return // at capacity, next sweep retries
	}

	key := agentKey{team: agent.Team, name: agent.Name}
	d.mu.Lock()
	d.running[key] = true
	d.mu.Unlock()

	d.wg.Add(1)
	go func() {
		defer func() {
			d.mu.Lock()
			delete(d.running, key)
			d.mu.Unlock()
			<-d.sem
			d.wg.Done()
		}()
		d.runTurn(ctx, agent)
	}()
}

// runTurn reads the agent's mail, runs one session turn under the
// worktree read lock, and marks the mail processed afterwards.
func (d *Dispatcher) runTurn(ctx context.Context, agent *models.Agent) {
	inbox, err := d.mail.ReadInbox(agent.Team, agent.Name, true)
	if err != nil {
		log.Printf("[dispatch] %s/%s: inbox: %v", agent.Team, agent.Name, err)
		return
	}

	ids := make([]int64, len(inbox))
	for i, msg := range inbox {
		ids[i] = msg.ID
	}
	if len(ids) > 0 {
		if err := d.mail.MarkSeen(agent.Team, ids...); err != nil {
			log.Printf("[dispatch] %s/%s: mark seen: %v", agent.Team, agent.Name, err)
		}
	}

	if d.bus != nil {
		d.bus.Broadcast(bus.EventTurnStarted, bus.Event{Team: agent.Team, Agent: agent.Name})
	}

	d.locks.AcquireRead(agent.Team, agent.Name)
	_, err = d.agents.SessionFor(agent).Send(ctx, composePrompt(inbox))
	d.locks.ReleaseRead(agent.Team, agent.Name)

	if err != nil {
		log.Printf("[dispatch] %s/%s: turn: %v", agent.Team, agent.Name, err)
		if d.bus != nil {
			d.bus.Broadcast(bus.EventTurnEnded, bus.Event{Team: agent.Team, Agent: agent.Name, Error: err.Error()})
		}
		return
	}

	// Processed only after a successful turn so a crashed turn re-delivers.
	if len(ids) > 0 {
		if err := d.mail.MarkProcessed(agent.Team, ids...); err != nil {
			log.Printf("[dispatch] %s/%s: mark processed: %v", agent.Team, agent.Name, err)
		}
	}

	d.snapshotSession(agent)

	if d.bus != nil {
		d.bus.Broadcast(bus.EventTurnEnded, bus.Event{Team: agent.Team, Agent: agent.Name})
	}
}

// snapshotSession persists the agent's usage accounting so cost survives
// a daemon restart.
func (d *Dispatcher) snapshotSession(agent *models.Agent) {
	s := d.agents.SessionFor(agent)
	usage := s.Usage()
	state := &store.SessionState{
		Team:             agent.Team,
		Agent:            agent.Name,
		SessionID:        s.ID(),
		Generation:       s.Generation(),
		InputTokens:      usage.InputTokens,
		OutputTokens:     usage.OutputTokens,
		CacheReadTokens:  usage.CacheReadTokens,
		CacheWriteTokens: usage.CacheWriteTokens,
		Cost:             usage.Cost,
		Turns:            s.Turns(),
	}
	if err := d.db.SaveSessionState(state); err != nil {
		log.Printf("[dispatch] %s/%s: snapshot session: %v", agent.Team, agent.Name, err)
	}
}

// composePrompt turns unread mail into the turn prompt. With no mail the
// agent is prompted to continue its open task.
func composePrompt(inbox []*models.Message) string {
	if len(inbox) == 0 {
		return "You have no new messages. Continue working on your current task."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "You have %d new message(s):\n\n", len(inbox))
	for _, msg := range inbox {
		fmt.Fprintf(&b, "--- From %s at %s ---\n%s\n\n",
			msg.Sender, msg.CreatedAt.Format(time.RFC3339), msg.Body)
	}
	b.WriteString("Handle these messages, then continue your current task.")
	return b.String()
}
