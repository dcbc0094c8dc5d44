package presence

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/fathima-sithara/realtime-chat/internal/domain"
	"github.com/fathima-sithara/realtime-chat/internal/events"
	"github.com/fathima-sithara/realtime-chat/internal/metrics"
	"go.uber.org/zap"
)

var (
	ErrConnectionBound  = errors.New("connection already bound to another identity")
	ErrConnectionClosed = errors.New("connection already deregistered")
)

// Store persists the online flag and last-seen time.
type Store interface {
	SetPresence(ctx context.Context, id string, online bool, lastSeen *time.Time) error
}

// Broadcaster delivers an event to every live connection.
type Broadcaster interface {
	PublishAll(eventType string, payload interface{}) error
}

// Mirror copies transitions to a shared cache.
type Mirror interface {
	SetOnline(ctx context.Context, userID string) error
	SetOffline(ctx context.Context, userID string, lastSeen time.Time) error
}

type Emitter interface {
	Emit(name, key string, data interface{})
}

type Option func(*Registry)

func WithMirror(m Mirror) Option { return func(r *Registry) { r.mirror = m } }

func WithEmitter(e Emitter) Option { return func(r *Registry) { r.emitter = e } }

func WithMetrics(m *metrics.Metrics) Option { return func(r *Registry) { r.metrics = m } }

func WithClock(now func() time.Time) Option { return func(r *Registry) { r.now = now } }

const tombstoneTTL = 5 * time.Minute

// Registry maps each identity to its set of live connections and is the
// single answer to "is this identity online". Transitions of one identity are
// serialised, including the store write, so online and offline flags land in
// the order they happened.
type Registry struct {
	mu     sync.RWMutex
	conns  map[string]map[string]struct{} // identity -> connection ids
	owners map[string]string              // connection id -> identity
	// closed remembers deregistered connections so a late Register for the
	// same handle cannot resurrect presence.
	closed    map[string]time.Time
	lastPrune time.Time

	locks *keyedMutex

	store   Store
	bc      Broadcaster
	mirror  Mirror
	emitter Emitter
	metrics *metrics.Metrics
	log     *zap.SugaredLogger
	now     func() time.Time
}

func NewRegistry(store Store, bc Broadcaster, log *zap.SugaredLogger, opts ...Option) *Registry {
	r := &Registry{
		conns:  make(map[string]map[string]struct{}),
		owners: make(map[string]string),
		closed: make(map[string]time.Time),
		locks:  newKeyedMutex(),
		store:  store,
		bc:     bc,
		log:    log,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Register binds connID to identity. The first connection of an identity
// marks it online. Registering the same pair twice is a no-op, and a
// connection that was already deregistered gets ErrConnectionClosed.
func (r *Registry) Register(ctx context.Context, identity, connID string) error {
	unlock := r.locks.Lock(identity)
	defer unlock()

	r.mu.Lock()
	if owner, ok := r.owners[connID]; ok {
		r.mu.Unlock()
		if owner == identity {
			return nil
		}
		return ErrConnectionBound
	}
	if _, gone := r.closed[connID]; gone {
		r.mu.Unlock()
		r.log.Debugw("register after deregister ignored", "conn", connID, "user", identity)
		return ErrConnectionClosed
	}
	set, ok := r.conns[identity]
	if !ok {
		set = make(map[string]struct{})
		r.conns[identity] = set
	}
	set[connID] = struct{}{}
	r.owners[connID] = identity
	first := len(set) == 1
	online := len(r.conns)
	r.mu.Unlock()

	if !first {
		return nil
	}
	r.setOnlineGauge(online)
	return r.transition(ctx, identity, true)
}

// Deregister drops connID. Removing the last connection of an identity marks
// it offline. Unknown connections are ignored.
func (r *Registry) Deregister(ctx context.Context, connID string) error {
	r.mu.Lock()
	identity, ok := r.owners[connID]
	if !ok {
		r.tombstone(connID)
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	unlock := r.locks.Lock(identity)
	defer unlock()

	r.mu.Lock()
	if _, still := r.owners[connID]; !still {
		r.mu.Unlock()
		return nil
	}
	delete(r.owners, connID)
	r.tombstone(connID)
	set := r.conns[identity]
	delete(set, connID)
	last := len(set) == 0
	if last {
		delete(r.conns, identity)
	}
	online := len(r.conns)
	r.mu.Unlock()

	if !last {
		return nil
	}
	r.setOnlineGauge(online)
	return r.transition(ctx, identity, false)
}

// tombstone records connID and prunes old entries. Caller holds r.mu.
func (r *Registry) tombstone(connID string) {
	now := r.now()
	r.closed[connID] = now
	if now.Sub(r.lastPrune) < time.Minute {
		return
	}
	r.lastPrune = now
	for id, at := range r.closed {
		if now.Sub(at) > tombstoneTTL {
			delete(r.closed, id)
		}
	}
}

func (r *Registry) transition(ctx context.Context, identity string, online bool) error {
	var lastSeen *time.Time
	if !online {
		t := r.now()
		lastSeen = &t
	}

	err := r.store.SetPresence(ctx, identity, online, lastSeen)
	if err != nil {
		r.log.Errorw("persist presence", "user", identity, "online", online, "err", err)
	}

	if r.mirror != nil {
		var merr error
		if online {
			merr = r.mirror.SetOnline(ctx, identity)
		} else {
			merr = r.mirror.SetOffline(ctx, identity, *lastSeen)
		}
		if merr != nil {
			r.log.Warnw("mirror presence", "user", identity, "err", merr)
		}
	}

	payload := domain.UserStatusPayload{UserID: identity, IsOnline: online, LastSeen: lastSeen}
	if berr := r.bc.PublishAll(domain.EventUserStatus, payload); berr != nil {
		r.log.Warnw("broadcast presence", "user", identity, "err", berr)
	}
	if r.emitter != nil {
		r.emitter.Emit(events.PresenceChanged, identity, payload)
	}
	return err
}

func (r *Registry) setOnlineGauge(n int) {
	if r.metrics != nil {
		r.metrics.OnlineUsers.Set(float64(n))
	}
}

func (r *Registry) IsOnline(identity string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns[identity]) > 0
}

// AnyOnline reports whether at least one of ids is online.
func (r *Registry) AnyOnline(ids []string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, id := range ids {
		if len(r.conns[id]) > 0 {
			return true
		}
	}
	return false
}

// IdentityOf returns the identity a connection is bound to.
func (r *Registry) IdentityOf(connID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.owners[connID]
	return id, ok
}

// Online returns the online identities in sorted order.
func (r *Registry) Online() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.conns))
	for id := range r.conns {
		out = append(out, id)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}
