package subscription

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/codeGROOVE-dev/retry"

	"github.com/user/sunbot/pkg/logger"
)

// entry holds the subscribers of one (kind, location) pair.
type entry struct {
	location Location
	targets  map[int64]Target
}

// unresolved is a persisted subscription whose target could not be resolved
// at load time for a reason other than the target being gone. It is written
// back on every save until the subscriber is added or removed again.
type unresolved struct {
	kind     Kind
	location Location
	sub      SubscriberRecord
}

// Registry is the concurrency-safe store of daily bulletin subscriptions.
// All access to the tables goes through its methods; the lock is only held
// for in-memory work, never across disk or network I/O.
type Registry struct {
	mu         sync.Mutex
	tables     map[Kind]map[string]*entry
	unresolved []unresolved
	observer   Observer

	// saveMu orders snapshot and write so the newest snapshot lands last.
	saveMu sync.Mutex
	store  *FileStore

	resolveAttempts uint
	resolveDelay    time.Duration
}

// NewRegistry creates an empty registry persisted to store. A nil store
// makes Save and Load no-ops.
func NewRegistry(store *FileStore) *Registry {
	return &Registry{
		tables: map[Kind]map[string]*entry{
			User:  {},
			Guild: {},
		},
		store:           store,
		resolveAttempts: 3,
		resolveDelay:    time.Second,
	}
}

// SetResolveRetry configures how often Load retries a resolver that fails
// with anything but ErrTargetNotFound.
func (r *Registry) SetResolveRetry(attempts uint, delay time.Duration) {
	if attempts == 0 {
		attempts = 1
	}
	r.resolveAttempts = attempts
	r.resolveDelay = delay
}

// Observe registers the observer notified on pair creation and deletion.
// Pairs that already exist are reported immediately.
func (r *Registry) Observe(o Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.observer = o
	if o == nil {
		return
	}
	for kind, table := range r.tables {
		for _, e := range table {
			o.LocationAdded(kind, e.location)
		}
	}
}

// ListSubscribers returns a snapshot of the subscription table for kind.
// The returned maps are copies: later registry mutations do not show up in
// them and callers may iterate them without any locking.
func (r *Registry) ListSubscribers(kind Kind) (map[Location]map[int64]Target, error) {
	if err := kind.Validate(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	table := r.tables[kind]
	snapshot := make(map[Location]map[int64]Target, len(table))
	for _, e := range table {
		targets := make(map[int64]Target, len(e.targets))
		for id, t := range e.targets {
			targets[id] = t
		}
		snapshot[e.location] = targets
	}
	return snapshot, nil
}

// IsSubscribed reports whether subID receives the bulletin for locationName.
func (r *Registry) IsSubscribed(kind Kind, subID int64, locationName string) (bool, error) {
	if err := kind.Validate(); err != nil {
		return false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.tables[kind][locationName]
	if !ok {
		return false, nil
	}
	_, ok = e.targets[subID]
	return ok, nil
}

// GetTarget returns the target registered for subID at locationName, or
// ErrNotSubscribed.
func (r *Registry) GetTarget(kind Kind, subID int64, locationName string) (Target, error) {
	if err := kind.Validate(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.tables[kind][locationName]; ok {
		if t, ok := e.targets[subID]; ok {
			return t, nil
		}
	}
	return nil, fmt.Errorf("%s %d at %s: %w", kind, subID, locationName, ErrNotSubscribed)
}

// Add subscribes subID to locationName, creating the pair when needed. An
// existing subscription has its target replaced. The timezone is only used
// when the location is new to this kind.
func (r *Registry) Add(kind Kind, subID int64, target Target, locationName, locationTZ string) error {
	if err := kind.Validate(); err != nil {
		return err
	}
	if target == nil {
		return errors.New("nil notification target")
	}

	r.mu.Lock()
	table := r.tables[kind]
	e, ok := table[locationName]
	if !ok {
		e = &entry{
			location: NewLocation(locationName, locationTZ),
			targets:  make(map[int64]Target),
		}
		table[locationName] = e
		if r.observer != nil {
			r.observer.LocationAdded(kind, e.location)
		}
	}
	_, replaced := e.targets[subID]
	e.targets[subID] = target
	r.forgetUnresolved(kind, subID, locationName)
	r.mu.Unlock()

	logger.Info().
		Str("kind", kind.String()).
		Int64("sub_id", subID).
		Str("location", locationName).
		Bool("replaced", replaced).
		Msg("Subscriber added")
	return nil
}

// Replace swaps the target of an existing subscription. It fails with
// ErrNotSubscribed instead of creating the pair, so the stored timezone is
// never lost when the subscriber left in the meantime.
func (r *Registry) Replace(kind Kind, subID int64, target Target, locationName string) error {
	if err := kind.Validate(); err != nil {
		return err
	}
	if target == nil {
		return errors.New("nil notification target")
	}

	r.mu.Lock()
	e, ok := r.tables[kind][locationName]
	if ok {
		_, ok = e.targets[subID]
	}
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%s %d at %s: %w", kind, subID, locationName, ErrNotSubscribed)
	}
	e.targets[subID] = target
	r.mu.Unlock()

	logger.Info().
		Str("kind", kind.String()).
		Int64("sub_id", subID).
		Str("location", locationName).
		Int64("entity_id", target.EntityID()).
		Msg("Subscriber target replaced")
	return nil
}

// Remove unsubscribes subID from locationName. It returns false when there
// was nothing to remove. The pair is dropped once its last subscriber leaves.
func (r *Registry) Remove(kind Kind, subID int64, locationName string) (bool, error) {
	if err := kind.Validate(); err != nil {
		return false, err
	}

	r.mu.Lock()
	forgotten := r.forgetUnresolved(kind, subID, locationName)
	table := r.tables[kind]
	e, ok := table[locationName]
	if ok {
		_, ok = e.targets[subID]
	}
	if !ok {
		r.mu.Unlock()
		if forgotten {
			return true, nil
		}
		logger.Warn().
			Str("kind", kind.String()).
			Int64("sub_id", subID).
			Str("location", locationName).
			Msg("Subscriber is not subscribed to location")
		return false, nil
	}

	delete(e.targets, subID)
	if len(e.targets) == 0 {
		delete(table, locationName)
		if r.observer != nil {
			r.observer.LocationRemoved(kind, e.location)
		}
	}
	r.mu.Unlock()

	logger.Info().
		Str("kind", kind.String()).
		Int64("sub_id", subID).
		Str("location", locationName).
		Msg("Subscriber removed")
	return true, nil
}

// LocationsOf returns the locations subID is subscribed to.
func (r *Registry) LocationsOf(kind Kind, subID int64) ([]Location, error) {
	if err := kind.Validate(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var locs []Location
	for _, e := range r.tables[kind] {
		if _, ok := e.targets[subID]; ok {
			locs = append(locs, e.location)
		}
	}
	return locs, nil
}

// forgetUnresolved drops the pending record for subID at locationName.
// Callers hold r.mu.
func (r *Registry) forgetUnresolved(kind Kind, subID int64, locationName string) bool {
	found := false
	kept := r.unresolved[:0]
	for _, u := range r.unresolved {
		if u.kind == kind && u.sub.SubID == subID && u.location.Name() == locationName {
			found = true
			continue
		}
		kept = append(kept, u)
	}
	r.unresolved = kept
	return found
}

// Stats summarises the registry for one kind.
type Stats struct {
	Locations     int `json:"locations"`
	Subscriptions int `json:"subscriptions"`
}

// Count returns per-kind location and subscription counts.
func (r *Registry) Count() map[Kind]Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[Kind]Stats, len(r.tables))
	for kind, table := range r.tables {
		s := Stats{Locations: len(table)}
		for _, e := range table {
			s.Subscriptions += len(e.targets)
		}
		out[kind] = s
	}
	return out
}

// Save writes every subscription to the file store. Only IDs and location
// name/timezone are persisted; live targets are rebuilt by Load.
func (r *Registry) Save(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	r.saveMu.Lock()
	defer r.saveMu.Unlock()

	snap := r.snapshot()
	if err := r.store.Write(snap); err != nil {
		return fmt.Errorf("save subscriptions: %w", err)
	}

	logger.Debug().Str("path", r.store.Path()).Msg("Subscriptions saved")
	return nil
}

// snapshot copies the tables into their persisted form under the lock.
func (r *Registry) snapshot() *Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := &Snapshot{}
	for _, kind := range Kinds() {
		byName := make(map[string]*LocationRecord, len(r.tables[kind]))
		var order []string
		record := func(loc Location) *LocationRecord {
			rec, ok := byName[loc.Name()]
			if !ok {
				rec = &LocationRecord{Name: loc.Name(), TZ: loc.TZ(), Subscribers: []SubscriberRecord{}}
				byName[loc.Name()] = rec
				order = append(order, loc.Name())
			}
			return rec
		}

		for _, e := range r.tables[kind] {
			rec := record(e.location)
			for subID, t := range e.targets {
				rec.Subscribers = append(rec.Subscribers, SubscriberRecord{SubID: subID, EntityID: t.EntityID()})
			}
		}
		for _, u := range r.unresolved {
			if u.kind != kind {
				continue
			}
			rec := record(u.location)
			rec.Subscribers = append(rec.Subscribers, u.sub)
		}

		records := make([]LocationRecord, 0, len(order))
		for _, name := range order {
			records = append(records, *byName[name])
		}
		snap.set(kind, records)
	}
	snap.sort()
	return snap
}

// Load repopulates the registry from the file store. Each subscriber is
// resolved to a live target with userResolver (User kind) or
// channelResolver (Guild kind). Subscribers whose target is gone
// (ErrTargetNotFound or a nil target) are dropped and logged. Other resolver
// errors are retried; when they persist the record is kept aside and saved
// again, but receives no bulletin until the next load. A missing save file
// leaves the registry empty.
func (r *Registry) Load(ctx context.Context, userResolver, channelResolver Resolver) error {
	if r.store == nil {
		return nil
	}

	snap, err := r.store.Read()
	if err != nil {
		return fmt.Errorf("load subscriptions: %w", err)
	}

	r.mu.Lock()
	r.unresolved = nil
	r.mu.Unlock()

	loaded, dropped, kept := 0, 0, 0
	for _, kind := range Kinds() {
		resolve := userResolver
		if kind == Guild {
			resolve = channelResolver
		}
		if resolve == nil {
			return fmt.Errorf("no resolver for %s subscriptions", kind)
		}

		for _, rec := range snap.records(kind) {
			for _, sub := range rec.Subscribers {
				if err := ctx.Err(); err != nil {
					return err
				}

				target, err := r.resolve(ctx, resolve, sub.EntityID)
				if errors.Is(err, ErrTargetNotFound) {
					dropped++
					logger.Error().
						Err(err).
						Str("kind", kind.String()).
						Int64("sub_id", sub.SubID).
						Int64("entity_id", sub.EntityID).
						Str("location", rec.Name).
						Msg("Dropping subscription, target no longer exists")
					continue
				}
				if err != nil {
					if ctxErr := ctx.Err(); ctxErr != nil {
						return ctxErr
					}
					kept++
					r.mu.Lock()
					r.unresolved = append(r.unresolved, unresolved{
						kind:     kind,
						location: NewLocation(rec.Name, rec.TZ),
						sub:      sub,
					})
					r.mu.Unlock()
					logger.Warn().
						Err(err).
						Str("kind", kind.String()).
						Int64("sub_id", sub.SubID).
						Int64("entity_id", sub.EntityID).
						Str("location", rec.Name).
						Msg("Keeping subscription, target could not be resolved")
					continue
				}

				if err := r.Add(kind, sub.SubID, target, rec.Name, rec.TZ); err != nil {
					return err
				}
				loaded++
			}
		}
	}

	logger.Info().
		Int("loaded", loaded).
		Int("dropped", dropped).
		Int("unresolved", kept).
		Str("path", r.store.Path()).
		Msg("Subscriptions loaded")
	return nil
}

// resolve runs resolver with retries. ErrTargetNotFound and a nil target are
// final; the last error is returned when every attempt fails.
func (r *Registry) resolve(ctx context.Context, resolver Resolver, entityID int64) (Target, error) {
	var (
		target  Target
		lastErr error
	)
	err := retry.Do(
		func() error {
			t, err := resolver(ctx, entityID)
			if err == nil && t == nil {
				err = ErrTargetNotFound
			}
			lastErr = err
			if err != nil {
				return err
			}
			target = t
			return nil
		},
		retry.Attempts(r.resolveAttempts),
		retry.Delay(r.resolveDelay),
		retry.MaxDelay(30*time.Second),
		retry.Context(ctx),
		retry.RetryIf(func(err error) bool {
			return !errors.Is(err, ErrTargetNotFound)
		}),
		retry.OnRetry(func(n uint, err error) {
			logger.Debug().Err(err).Uint("attempt", n).Int64("entity_id", entityID).Msg("Retrying target resolution")
		}),
	)
	if err != nil {
		if lastErr == nil {
			lastErr = err
		}
		return nil, lastErr
	}
	return target, nil
}
