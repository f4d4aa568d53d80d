package brain

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/firstcontact-eis/coordinator/internal/model"
)

// ContextProvider supplies the read-only snapshots the orchestrator gathers
// before deciding. Implementations wrap the external case-management and
// scheduling systems; all methods must be safe for concurrent use.
type ContextProvider interface {
	// Client resolves one client record.
	Client(ctx context.Context, id string) (*model.Client, error)
	// Candidates returns clients that could benefit from the event, e.g.
	// waitlisted clients when a slot opens. Bounded by BusinessRules.MaxCandidates.
	Candidates(ctx context.Context, event model.Event) ([]model.Client, error)
	// ProviderCapacity reports availability for the event's provider.
	ProviderCapacity(ctx context.Context, event model.Event) (model.ProviderCapacity, error)
	// SystemState reports the health of surrounding systems.
	SystemState(ctx context.Context) (model.SystemState, error)
	// HistoricalPatterns returns advisory outcomes of similar past events.
	HistoricalPatterns(ctx context.Context, event model.Event) ([]model.HistoricalPattern, error)
	// BusinessRules returns the tunable thresholds.
	BusinessRules() model.BusinessRules
}

// DemoProvider is an in-memory ContextProvider with a small seeded caseload,
// used in demo mode and tests. Mutations via SetClient are test conveniences.
type DemoProvider struct {
	mu      sync.RWMutex
	clients map[string]model.Client
	rules   model.BusinessRules
	logger  *slog.Logger
}

// NewDemoProvider seeds a provider with a representative caseload: one
// waitlisted client who is fully ready, plus others missing one readiness
// criterion each, so scoring and tie-break paths are all reachable.
func NewDemoProvider(rules model.BusinessRules, logger *slog.Logger) *DemoProvider {
	waitlisted := time.Now().UTC().Add(-45 * 24 * time.Hour)
	recent := time.Now().UTC().Add(-10 * 24 * time.Hour)
	p := &DemoProvider{
		clients: map[string]model.Client{},
		rules:   rules,
		logger:  logger,
	}
	for _, c := range []model.Client{
		{ID: "client-001", Name: "Jordan Reyes", UrgencyScore: 8, DocumentsComplete: true, TransportCompatible: true, HasConflict: false, WaitlistedSince: &waitlisted, HousingReady: true},
		{ID: "client-002", Name: "Sam Okafor", UrgencyScore: 9, DocumentsComplete: false, TransportCompatible: true, HasConflict: false, WaitlistedSince: &recent},
		{ID: "client-003", Name: "Ana Petrov", UrgencyScore: 6, DocumentsComplete: true, TransportCompatible: false, HasConflict: false, WaitlistedSince: &recent, HousingReady: true},
		{ID: "client-004", Name: "Lee Tran", UrgencyScore: 7, DocumentsComplete: true, TransportCompatible: true, HasConflict: true, WaitlistedSince: &recent},
	} {
		p.clients[c.ID] = c
	}
	return p
}

// SetClient inserts or replaces a client record.
func (p *DemoProvider) SetClient(c model.Client) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clients[c.ID] = c
}

func (p *DemoProvider) Client(ctx context.Context, id string) (*model.Client, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c, ok := p.clients[id]
	if !ok {
		return nil, fmt.Errorf("brain: client %s not found", id)
	}
	return &c, nil
}

func (p *DemoProvider) Candidates(ctx context.Context, event model.Event) ([]model.Client, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	affected := ""
	if event.ClientID != nil {
		affected = *event.ClientID
	}
	var out []model.Client
	for _, c := range p.clients {
		if c.ID == affected {
			continue
		}
		if c.WaitlistedSince == nil {
			continue
		}
		out = append(out, c)
		if len(out) >= p.rules.MaxCandidates {
			break
		}
	}
	return out, nil
}

func (p *DemoProvider) ProviderCapacity(ctx context.Context, event model.Event) (model.ProviderCapacity, error) {
	id := "provider-demo"
	if event.ProviderID != nil {
		id = *event.ProviderID
	}
	return model.ProviderCapacity{
		ProviderID:     id,
		OpenSlots:      1,
		NextAvailable:  time.Now().UTC().Add(24 * time.Hour),
		AcceptsWalkIns: false,
	}, nil
}

func (p *DemoProvider) SystemState(ctx context.Context) (model.SystemState, error) {
	return model.SystemState{TransportOnline: true, NotificationsOnline: true}, nil
}

func (p *DemoProvider) HistoricalPatterns(ctx context.Context, event model.Event) ([]model.HistoricalPattern, error) {
	if event.Type != model.EventAppointmentCancelled && event.Type != model.EventAppointmentNoShow {
		return nil, nil
	}
	return []model.HistoricalPattern{
		{
			EventType:   event.Type,
			Description: "slot backfill from waitlist",
			SuccessRate: 0.87,
			SampleSize:  52,
		},
	}, nil
}

func (p *DemoProvider) BusinessRules() model.BusinessRules {
	return p.rules
}
