package identity

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/NolanFox/rhodesli/internal/database"
	"github.com/NolanFox/rhodesli/internal/mergecheck"
	"github.com/NolanFox/rhodesli/internal/names"
)

// Registry is the authoritative store of identities and the sole owner of
// face-to-identity assignment.
//
// Every mutation is applied in memory and persisted as a complete snapshot
// before it returns; if the snapshot cannot be written the mutation is rolled
// back. Reads may run alongside a writer and observe the state before or
// after it; writers are serialized.
type Registry struct {
	mu sync.RWMutex

	backend   database.SnapshotBackend
	logger    *zap.Logger
	validator *mergecheck.Validator
	now       func() time.Time
	newID     func() string

	identities map[string]*Identity
	history    []HistoryEntry
	faceOwner  map[string]string // face ID -> live identity ID
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the registry logger. The merge validator logs through it too.
func WithLogger(l *zap.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithIDGenerator overrides identity ID generation.
func WithIDGenerator(newID func() string) Option {
	return func(r *Registry) { r.newID = newID }
}

// NewRegistry creates an empty registry persisting through backend.
func NewRegistry(backend database.SnapshotBackend, opts ...Option) *Registry {
	r := &Registry{
		backend:    backend,
		logger:     zap.NewNop(),
		now:        func() time.Time { return time.Now().UTC() },
		newID:      uuid.NewString,
		identities: make(map[string]*Identity),
		faceOwner:  make(map[string]string),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.validator = mergecheck.New(r.logger, mergecheck.WithCaller(mergecheck.CallerMerge))
	return r
}

// Load replaces the registry contents with the persisted snapshot. Corrupt
// snapshots are returned as *database.SnapshotError; a missing snapshot as
// database.ErrSnapshotNotFound. The registry is left untouched on error.
func (r *Registry) Load(ctx context.Context) error {
	data, err := r.backend.ReadSnapshot(ctx, database.SnapshotIdentities)
	if err != nil {
		return fmt.Errorf("load identities: %w", err)
	}

	identities, history, err := decodeSnapshot(data)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.identities = identities
	r.history = history
	r.rebuildFaceIndex()
	r.mu.Unlock()
	r.logger.Info("identities loaded", zap.Int("identities", len(identities)), zap.Int("history", len(history)))
	return nil
}

// LoadOrEmpty loads the snapshot, starting empty when none has been written yet.
// Corrupt snapshots are still returned as errors.
func (r *Registry) LoadOrEmpty(ctx context.Context) error {
	err := r.Load(ctx)
	if errors.Is(err, database.ErrSnapshotNotFound) {
		r.logger.Info("no identities snapshot found, starting empty")
		return nil
	}
	return err
}

// Save validates and persists the complete snapshot.
func (r *Registry) Save(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.save(ctx)
}

func (r *Registry) save(ctx context.Context) error {
	data, err := encodeSnapshot(r.identities, r.history)
	if err != nil {
		return err
	}
	if err := r.backend.WriteSnapshot(ctx, database.SnapshotIdentities, data); err != nil {
		return fmt.Errorf("save identities: %w", err)
	}
	return nil
}

func (r *Registry) rebuildFaceIndex() {
	r.faceOwner = make(map[string]string)
	for id, ident := range r.identities {
		if ident.IsTombstone() {
			continue
		}
		for _, f := range ident.MemberFaceIDs() {
			r.faceOwner[f] = id
		}
	}
}

// txn captures the state of touched identities so a failed save can be undone.
type txn struct {
	before     map[string]*Identity // nil value: identity did not exist
	historyLen int
}

func (r *Registry) begin(ids ...string) *txn {
	t := &txn{before: make(map[string]*Identity), historyLen: len(r.history)}
	for _, id := range ids {
		r.track(t, id)
	}
	return t
}

func (r *Registry) track(t *txn, id string) {
	if _, seen := t.before[id]; seen {
		return
	}
	if ident, ok := r.identities[id]; ok {
		t.before[id] = ident.clone()
	} else {
		t.before[id] = nil
	}
}

// commit persists the snapshot, rolling back the transaction on failure.
func (r *Registry) commit(ctx context.Context, t *txn) error {
	if err := r.save(ctx); err != nil {
		for id, prev := range t.before {
			if prev == nil {
				delete(r.identities, id)
			} else {
				r.identities[id] = prev
			}
		}
		r.history = r.history[:t.historyLen]
		r.rebuildFaceIndex()
		r.logger.Error("mutation rolled back", zap.Error(err))
		return err
	}
	return nil
}

// record appends a history entry to the identity and the global log.
func (r *Registry) record(ident *Identity, e HistoryEntry) {
	e.Timestamp = r.now()
	e.IdentityID = ident.ID
	ident.History = append(ident.History, e)
	r.history = append(r.history, e)
}

// touch bumps the version and modification time of an identity.
func (r *Registry) touch(ident *Identity) {
	ident.VersionID++
	ident.UpdatedAt = r.now()
}

// live returns a non-tombstoned identity.
func (r *Registry) live(id string) (*Identity, error) {
	ident, ok := r.identities[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	if ident.IsTombstone() {
		return nil, fmt.Errorf("%s merged into %s: %w", id, ident.MergedInto, ErrMerged)
	}
	return ident, nil
}

// Identity returns a copy of an identity, including tombstones.
func (r *Registry) Identity(id string) (*Identity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ident, ok := r.identities[id]
	if !ok {
		return nil, false
	}
	return ident.clone(), true
}

// Resolve follows a tombstone redirect exactly one hop and returns the live
// identity ID. Returns false for unknown IDs and for redirects that do not
// end at a live identity.
func (r *Registry) Resolve(id string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.resolve(id)
}

func (r *Registry) resolve(id string) (string, bool) {
	ident, ok := r.identities[id]
	if !ok {
		return "", false
	}
	if !ident.IsTombstone() {
		return id, true
	}
	next, ok := r.identities[ident.MergedInto]
	if !ok || next.IsTombstone() || next.ID == id {
		return "", false
	}
	return next.ID, true
}

// AnchorFaceIDs returns the anchors of an identity, nil if unknown.
func (r *Registry) AnchorFaceIDs(id string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ident, ok := r.identities[id]
	if !ok {
		return nil
	}
	return append([]string(nil), ident.AnchorIDs...)
}

// CandidateFaceIDs returns the candidates of an identity, nil if unknown.
func (r *Registry) CandidateFaceIDs(id string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ident, ok := r.identities[id]
	if !ok {
		return nil
	}
	return append([]string(nil), ident.CandidateIDs...)
}

// MemberFaceIDs returns anchors and candidates of an identity.
func (r *Registry) MemberFaceIDs(id string) ([]string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.memberFaceIDs(id)
}

func (r *Registry) memberFaceIDs(id string) ([]string, bool) {
	ident, ok := r.identities[id]
	if !ok {
		return nil, false
	}
	return ident.MemberFaceIDs(), true
}

// IdentityForFace returns the live identity a face belongs to.
func (r *Registry) IdentityForFace(faceID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.faceOwner[faceID]
	return id, ok
}

// IsIdentityRejected reports whether a and b were marked as different people.
// Rejections are written on both sides; either side is accepted on read so
// snapshots written by older tools still behave.
func (r *Registry) IsIdentityRejected(a, b string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.isIdentityRejected(a, b)
}

func (r *Registry) isIdentityRejected(a, b string) bool {
	identA, okA := r.identities[a]
	identB, okB := r.identities[b]
	if !okA || !okB {
		return false
	}
	return inSet(identA.NegativeIDs, IdentityNegative(b)) || inSet(identB.NegativeIDs, IdentityNegative(a))
}

// ListOptions filters ListIdentities.
type ListOptions struct {
	State         State // empty: any state
	IncludeMerged bool  // include tombstones
}

// ListIdentities returns copies of identities ordered by creation time then ID.
func (r *Registry) ListIdentities(opts ListOptions) []*Identity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Identity
	for _, ident := range r.identities {
		if ident.IsTombstone() && !opts.IncludeMerged {
			continue
		}
		if opts.State != "" && ident.State != opts.State {
			continue
		}
		out = append(out, ident.clone())
	}
	sortIdentities(out)
	return out
}

// LiveIdentityIDs returns the IDs of all live identities, sorted.
func (r *Registry) LiveIdentityIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.identities))
	for id, ident := range r.identities {
		if !ident.IsTombstone() {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// SearchIdentities finds live identities whose name contains query, ignoring
// case and diacritics. Results are ordered by name then ID.
func (r *Registry) SearchIdentities(query, excludeID string) []*Identity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Identity
	for id, ident := range r.identities {
		if ident.IsTombstone() || id == excludeID || ident.Name == "" {
			continue
		}
		if !names.Contains(ident.Name, query) {
			continue
		}
		out = append(out, ident.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// History returns the global change log, optionally limited to one identity.
func (r *Registry) History(identityID string) []HistoryEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if identityID == "" {
		return append([]HistoryEntry(nil), r.history...)
	}
	ident, ok := r.identities[identityID]
	if !ok {
		return nil
	}
	return append([]HistoryEntry(nil), ident.History...)
}

// Len returns the number of identities including tombstones.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.identities)
}

// lockedView exposes registry reads to the merge validator while a writer
// already holds the lock.
type lockedView struct{ r *Registry }

func (v lockedView) MemberFaceIDs(id string) ([]string, bool) { return v.r.memberFaceIDs(id) }

func (v lockedView) IsIdentityRejected(a, b string) bool { return v.r.isIdentityRejected(a, b) }

func sortIdentities(ids []*Identity) {
	sort.Slice(ids, func(i, j int) bool {
		if !ids[i].CreatedAt.Equal(ids[j].CreatedAt) {
			return ids[i].CreatedAt.Before(ids[j].CreatedAt)
		}
		return ids[i].ID < ids[j].ID
	})
}
