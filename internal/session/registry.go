package session

import (
	"context"
	"log"
	"time"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/retailmesh/fedmine-engine/internal/store"
	"github.com/retailmesh/fedmine-engine/pkg/models"
)

// Registry tracks which stores are live. Liveness is pure heartbeat
// recency: a store that misses heartbeats for longer than inactiveAfter
// is flipped to inactive by the periodic sweep, and any heartbeat or
// re-registration flips it straight back.
type Registry struct {
	st            store.Store
	inactiveAfter time.Duration
	sweepEvery    time.Duration
	notify        func(event string, payload map[string]any)

	// now is swapped out by tests.
	now func() time.Time
}

// NewRegistry wires a registry over the store. notify may be nil.
func NewRegistry(st store.Store, inactiveAfter, sweepEvery time.Duration, notify func(event string, payload map[string]any)) *Registry {
	return &Registry{
		st:            st,
		inactiveAfter: inactiveAfter,
		sweepEvery:    sweepEvery,
		notify:        notify,
		now:           time.Now,
	}
}

// Register creates or refreshes a store registration. Re-registering is
// how a store announces it came back, so it also counts as a heartbeat.
func (r *Registry) Register(ctx context.Context, id, name, ip string) (models.Store, bool, error) {
	now := r.now()
	created, err := r.st.UpsertStore(ctx, models.Store{
		ID:               id,
		Name:             name,
		IP:               ip,
		ConnectionStatus: models.StoreActive,
		LastSeen:         now,
		RegisteredAt:     now,
	})
	if err != nil {
		return models.Store{}, false, err
	}
	st, err := r.st.GetStore(ctx, id)
	if err != nil {
		return models.Store{}, created, err
	}
	r.emit("store_registered", map[string]any{
		"store_id":   st.ID,
		"store_name": st.Name,
		"created":    created,
	})
	return st, created, nil
}

// Heartbeat refreshes a store's last-seen time and returns the recorded
// instant.
func (r *Registry) Heartbeat(ctx context.Context, id, ip string) (time.Time, error) {
	now := r.now()
	if err := r.st.Heartbeat(ctx, id, ip, now); err != nil {
		return time.Time{}, err
	}
	return now, nil
}

// ActiveStores returns the ids of currently active stores as a set, the
// shape round collection wants for eligibility intersection.
func (r *Registry) ActiveStores(ctx context.Context) (mapset.Set[string], error) {
	ids, err := r.st.ActiveStoreIDs(ctx)
	if err != nil {
		return nil, err
	}
	return mapset.NewSet(ids...), nil
}

// Run sweeps liveness until the context is cancelled.
func (r *Registry) Run(ctx context.Context) {
	log.Printf("[Registry] Liveness sweep every %s, inactive after %s", r.sweepEvery, r.inactiveAfter)
	ticker := time.NewTicker(r.sweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[Registry] Liveness sweep stopped")
			return
		case <-ticker.C:
			if n, err := r.sweepOnce(ctx); err != nil {
				log.Printf("[Registry] Sweep failed: %v", err)
			} else if n > 0 {
				log.Printf("[Registry] Marked %d store(s) inactive", n)
			}
		}
	}
}

func (r *Registry) sweepOnce(ctx context.Context) (int, error) {
	cutoff := r.now().Add(-r.inactiveAfter)
	flipped, err := r.st.SweepInactive(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	for _, s := range flipped {
		r.emit("store_inactive", map[string]any{
			"store_id":  s.ID,
			"last_seen": s.LastSeen,
		})
	}
	return len(flipped), nil
}

func (r *Registry) emit(event string, payload map[string]any) {
	if r.notify != nil {
		r.notify(event, payload)
	}
}
