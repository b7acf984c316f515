package mailbox

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/denyherianto/delegate/internal/bus"
	"github.com/denyherianto/delegate/internal/store"
	"github.com/denyherianto/delegate/pkg/models"
)

// Router periodically scans each team's mailboxes. Under immediate
// delivery its job narrows to surfacing newly delivered messages on the
// event bus and collecting messages addressed to the configured human
// member onto the UI notification queue.
type Router struct {
	db       *store.DB
	bus      *bus.Bus
	human    string
	interval time.Duration

	mu sync.Mutex
	// lastScan tracks, per team, the creation time of the newest message
	// already surfaced.
	lastScan map[string]time.Time
	// notifications is the pending human-bound message queue, oldest first.
	notifications []*models.Message
}

// NewRouter creates a router. human is the org's default human member name;
// messages addressed to it are queued for the UI.
func NewRouter(db *store.DB, b *bus.Bus, human string, interval time.Duration) *Router {
	if interval <= 0 {
		interval = time.Second
	}
	return &Router{
		db:       db,
		bus:      b,
		human:    human,
		interval: interval,
		lastScan: make(map[string]time.Time),
	}
}

// Run scans on the configured cadence until ctx is cancelled.
func (r *Router) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Scan(); err != nil {
				log.Printf("[router] scan failed: %v", err)
			}
		}
	}
}

// Scan runs one routing pass over every team.
func (r *Router) Scan() error {
	teams, err := r.db.ListTeams()
	if err != nil {
		return err
	}
	for _, team := range teams {
		r.scanTeam(team.Name)
	}
	return nil
}

func (r *Router) scanTeam(team string) {
	r.mu.Lock()
	since := r.lastScan[team]
	r.mu.Unlock()

	msgs, err := r.db.Conversation(team, r.human, store.MessageFilter{
		Since: since,
		Kind:  models.MessageKindChat,
	})
	if err != nil {
		log.Printf("[router] %s: conversation query failed: %v", team, err)
		return
	}

	newest := since
	for _, msg := range msgs {
		if msg.CreatedAt.After(newest) {
			newest = msg.CreatedAt
		}
		if msg.Recipient != r.human {
			continue
		}
		r.mu.Lock()
		r.notifications = append(r.notifications, msg)
		r.mu.Unlock()
		if r.bus != nil {
			r.bus.Broadcast(bus.EventMessageDelivered, bus.Event{
				Team:    team,
				Agent:   msg.Recipient,
				Sender:  msg.Sender,
				Message: "message for operator",
			})
		}
	}

	r.mu.Lock()
	r.lastScan[team] = newest
	r.mu.Unlock()
}

// DrainNotifications returns and clears the pending human-bound messages.
func (r *Router) DrainNotifications() []*models.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	msgs := r.notifications
	r.notifications = nil
	return msgs
}

// ReportDeliveryFailure records a delivery failure as an event row so the
// original payload is never lost, and surfaces it on the bus.
func (r *Router) ReportDeliveryFailure(team, sender, recipient, body string, cause error) {
	detail := "delivery to " + recipient + " failed: " + cause.Error() + "\noriginal message:\n" + body
	if _, err := r.db.AppendEvent(team, sender, sender, detail); err != nil {
		log.Printf("[router] failed to record delivery failure: %v", err)
	}
	if r.bus != nil {
		r.bus.Broadcast(bus.EventMessageDelivered, bus.Event{
			Team:    team,
			Sender:  sender,
			Message: "delivery failure",
			Error:   cause.Error(),
		})
	}
}
