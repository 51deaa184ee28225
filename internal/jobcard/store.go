package jobcard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"jobcard-backend/internal/async"
	"jobcard-backend/internal/cache"
	"jobcard-backend/internal/errs"
	"jobcard-backend/internal/idalloc"
	"jobcard-backend/internal/logging"
	"jobcard-backend/internal/models"
)

const (
	// CacheKey holds the JSON snapshot of the whole collection.
	CacheKey = "jobCards"
	// PendingCacheKey holds the ids of records that only exist locally.
	PendingCacheKey = "jobCards:pending"
	// KeptCacheKeyPrefix scopes, per engineer, records still pending when a
	// session ended.
	KeptCacheKeyPrefix = "jobCards:kept:"

	DefaultLoadTimeout   = 10 * time.Second
	DefaultInsertTimeout = 10 * time.Second
)

// Remote is the durable store capability the job card flows need.
type Remote interface {
	idalloc.Source
	InsertJobCard(ctx context.Context, row models.JobCardRow) (*models.JobCardRow, error)
	// GetJobCard returns nil when no row has the id.
	GetJobCard(ctx context.Context, id string) (*models.JobCardRow, error)
	ListJobCards(ctx context.Context) ([]models.JobCardRow, error)
}

type State int

const (
	StateEmpty State = iota
	StateLoading
	StateLoaded
	StateLoadedFromCache
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateLoaded:
		return "loaded"
	case StateLoadedFromCache:
		return "loaded_from_cache"
	default:
		return "empty"
	}
}

// Store owns the session's in-memory job card collection and reconciles it
// with the durable store and the local cache.
//
// Load, Create, SyncPending and Clear are serialized by writeMu so two
// mutations never interleave. Reset does not wait for them: it bumps the
// generation, and a mutation that started under an older generation drops its
// result.
type Store struct {
	remote        Remote
	cache         cache.Cache
	alloc         *idalloc.Allocator
	loc           *time.Location
	now           func() time.Time
	loadTimeout   time.Duration
	insertTimeout time.Duration

	writeMu sync.Mutex

	mu         sync.RWMutex
	cards      []models.JobCard
	pending    []string
	state      State
	owner      string
	generation uint64
}

// Result describes a created job card.
type Result struct {
	ID string
	// Pending is set when the record only exists on this device.
	Pending bool
}

type Option func(*Store)

func WithLocation(loc *time.Location) Option {
	return func(s *Store) {
		if loc != nil {
			s.loc = loc
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func WithTimeouts(load, insert time.Duration) Option {
	return func(s *Store) {
		if load > 0 {
			s.loadTimeout = load
		}
		if insert > 0 {
			s.insertTimeout = insert
		}
	}
}

func NewStore(remote Remote, c cache.Cache, alloc *idalloc.Allocator, opts ...Option) *Store {
	s := &Store{
		remote:        remote,
		cache:         c,
		alloc:         alloc,
		loc:           time.Local,
		now:           time.Now,
		loadTimeout:   DefaultLoadTimeout,
		insertTimeout: DefaultInsertTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) logCtx(ctx context.Context) context.Context {
	return logging.WithAttrs(ctx, slog.String("component", "jobcard.store"))
}

// SetOwner names the engineer whose session the collection belongs to. Records
// another engineer left on the device stay parked until that engineer signs in.
// An empty owner accepts every local record.
func (s *Store) SetOwner(engineerID string) {
	s.mu.Lock()
	s.owner = engineerID
	s.mu.Unlock()
}

// Load fills the collection, preferring the durable store and falling back to
// the local cache. It is a no-op once the collection holds records.
func (s *Store) Load(ctx context.Context) State {
	ctx = s.logCtx(ctx)
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	if len(s.cards) > 0 {
		state := s.state
		s.mu.Unlock()
		return state
	}
	gen, owner := s.generation, s.owner
	s.state = StateLoading
	s.mu.Unlock()

	rows, err := async.Race(ctx, s.loadTimeout, s.remote.ListJobCards)
	if err != nil {
		logging.Warn(ctx, "remote load failed, using local cache", slog.Any("err", errs.Loggable(err)))
		return s.loadFromCache(ctx, gen, owner)
	}

	cards := make([]models.JobCard, 0, len(rows))
	byID := make(map[string]models.JobCardRow, len(rows))
	taken := make([]string, 0, len(rows))
	for _, row := range rows {
		cards = append(cards, FromRow(row, s.loc))
		byID[row.ID] = row
		taken = append(taken, row.ID)
	}

	// Records that never reached the durable store stay in the collection
	// until SyncPending promotes them.
	snapshot, _ := s.readSnapshot(ctx)
	local := s.localPending(ctx, owner, snapshot, s.readPending(ctx))
	for _, c := range local {
		taken = append(taken, c.ID)
	}
	var stillPending []string
	for _, c := range local {
		if row, ok := byID[c.ID]; ok {
			if sameRecord(c, row) {
				continue
			}
			old := c.ID
			c.ID = s.alloc.Next(ctx, taken)
			taken = append(taken, c.ID)
			logging.Warn(ctx, "job card id taken by another record, renumbering",
				slog.String("id", old), slog.String("new_id", c.ID))
		}
		cards = append(cards, c)
		stillPending = append(stillPending, c.ID)
	}

	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		logging.Info(ctx, "discarding load result from a previous session")
		return StateEmpty
	}
	s.cards = cards
	s.pending = stillPending
	s.state = StateLoaded
	snap := slices.Clone(cards)
	s.mu.Unlock()

	if s.writeSnapshot(ctx, snap, stillPending) && owner != "" {
		s.dropKept(ctx, owner)
	}
	logging.Info(ctx, "job cards loaded", slog.Int("count", len(cards)), slog.Int("pending", len(stillPending)))

	if len(stillPending) > 0 {
		if _, err := s.syncPending(ctx); err != nil {
			logging.Warn(ctx, "pending job cards not synced", slog.Any("err", errs.Loggable(err)))
		}
	}
	return StateLoaded
}

func (s *Store) loadFromCache(ctx context.Context, gen uint64, owner string) State {
	cards, found := s.readSnapshot(ctx)
	pendingIDs := s.readPending(ctx)
	mine := s.localPending(ctx, owner, cards, pendingIDs)

	// Drop pending records that were parked for someone else, and append this
	// engineer's parked records.
	keep := make(map[string]bool, len(mine))
	for _, c := range mine {
		keep[c.ID] = true
	}
	isPending := make(map[string]bool, len(pendingIDs))
	for _, id := range pendingIDs {
		isPending[id] = true
	}
	merged := make([]models.JobCard, 0, len(cards)+len(mine))
	for _, c := range cards {
		if isPending[c.ID] && !keep[c.ID] {
			continue
		}
		merged = append(merged, c)
		delete(keep, c.ID)
	}
	pending := make([]string, 0, len(mine))
	for _, c := range mine {
		if keep[c.ID] {
			merged = append(merged, c)
		}
		pending = append(pending, c.ID)
	}

	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return StateEmpty
	}
	if !found && len(merged) == 0 {
		s.cards = nil
		s.pending = nil
		s.state = StateEmpty
		s.mu.Unlock()
		return StateEmpty
	}
	if len(pending) == 0 {
		pending = nil
	}
	s.cards = merged
	s.pending = pending
	s.state = StateLoadedFromCache
	snap := slices.Clone(merged)
	s.mu.Unlock()

	if s.writeSnapshot(ctx, snap, pending) && owner != "" {
		s.dropKept(ctx, owner)
	}
	return StateLoadedFromCache
}

// localPending returns the locally-kept records owner may take into the
// collection: pending records from the snapshot plus owner's parked ones.
// Pending records of other engineers are parked under their own key.
func (s *Store) localPending(ctx context.Context, owner string, snapshot []models.JobCard, pendingIDs []string) []models.JobCard {
	byID := make(map[string]models.JobCard, len(snapshot))
	for _, c := range snapshot {
		byID[c.ID] = c
	}
	var mine, theirs []models.JobCard
	seen := make(map[string]bool)
	for _, id := range pendingIDs {
		c, ok := byID[id]
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		if owner != "" && c.EngineerID != owner {
			theirs = append(theirs, c)
			continue
		}
		mine = append(mine, c)
	}
	if len(theirs) > 0 {
		if err := s.keep(ctx, theirs); err != nil {
			logging.Error(ctx, "failed to park job cards of another engineer", slog.Any("err", errs.Loggable(err)))
		}
	}
	if owner == "" {
		return mine
	}
	for _, c := range s.readKept(ctx, owner) {
		if !seen[c.ID] {
			seen[c.ID] = true
			mine = append(mine, c)
		}
	}
	return mine
}

// Create stamps, numbers and persists a new job card and returns its id. Only
// an invalid draft yields an error: when the durable insert fails the record
// is kept locally, cached, and marked pending.
func (s *Store) Create(ctx context.Context, who models.Identity, draft models.Draft) (string, error) {
	r, err := s.Add(ctx, who, draft)
	return r.ID, err
}

// Add is Create, also reporting whether the record only exists on this
// device. A record whose session ended while its insert was in flight is
// parked on the device for its engineer if the insert failed.
func (s *Store) Add(ctx context.Context, who models.Identity, draft models.Draft) (Result, error) {
	ctx = s.logCtx(ctx)
	if err := ValidateDraft(draft); err != nil {
		return Result{}, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.RLock()
	gen := s.generation
	ids := make([]string, len(s.cards))
	for i, c := range s.cards {
		ids[i] = c.ID
	}
	s.mu.RUnlock()

	card := newCard(s.alloc.Next(ctx, ids), who, draft, s.now().In(s.loc))
	row, err := ToRow(card, s.loc)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidDraft, err)
	}

	saved, err := async.Race(ctx, s.insertTimeout, func(ctx context.Context) (*models.JobCardRow, error) {
		return s.remote.InsertJobCard(ctx, row)
	})
	if err == nil && saved == nil {
		err = errors.New("insert returned no row")
	}

	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		if err == nil {
			logging.Info(ctx, "session ended during create, record is in the durable store", slog.String("id", card.ID))
			return Result{ID: card.ID}, nil
		}
		logging.Warn(ctx, "session ended during create, keeping job card on device",
			slog.String("id", card.ID), slog.Any("err", errs.Loggable(err)))
		if kerr := s.keep(ctx, []models.JobCard{card}); kerr != nil {
			logging.Error(ctx, "failed to keep job card on device", slog.String("id", card.ID), slog.Any("err", errs.Loggable(kerr)))
		}
		return Result{ID: card.ID, Pending: true}, nil
	}
	if err == nil {
		card = FromRow(*saved, s.loc)
		s.cards = append([]models.JobCard{card}, s.cards...)
	} else {
		logging.Warn(ctx, "remote insert failed, keeping job card locally",
			slog.String("id", card.ID), slog.Any("err", errs.Loggable(err)))
		s.cards = append(s.cards, card)
		s.pending = append(s.pending, card.ID)
	}
	if s.state == StateEmpty || s.state == StateLoading {
		s.state = StateLoadedFromCache
		if err == nil {
			s.state = StateLoaded
		}
	}
	snapshot := slices.Clone(s.cards)
	pending := slices.Clone(s.pending)
	s.mu.Unlock()

	s.writeSnapshot(ctx, snapshot, pending)
	return Result{ID: card.ID, Pending: err != nil}, nil
}

// SyncPending inserts locally-kept records into the durable store and swaps in
// the canonical rows. It returns how many records left the pending list.
func (s *Store) SyncPending(ctx context.Context) (int, error) {
	ctx = s.logCtx(ctx)
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.syncPending(ctx)
}

func (s *Store) syncPending(ctx context.Context) (int, error) {
	s.mu.RLock()
	gen := s.generation
	var local []models.JobCard
	for _, id := range s.pending {
		if i := s.indexOf(id); i >= 0 {
			local = append(local, s.cards[i])
		}
	}
	taken := make([]string, len(s.cards))
	for i, c := range s.cards {
		taken[i] = c.ID
	}
	s.mu.RUnlock()
	if len(local) == 0 {
		return 0, nil
	}

	// An insert that lost its timeout race may still have landed.
	recent, err := async.Race(ctx, s.insertTimeout, func(ctx context.Context) ([]string, error) {
		return s.remote.RecentJobCardIDs(ctx, s.alloc.Prefix(), s.alloc.Window())
	})
	if err != nil {
		return 0, errs.Wrap(err, "check committed job cards")
	}
	landed := make(map[string]bool, len(recent))
	for _, id := range recent {
		landed[id] = true
	}

	promoted := make(map[string]models.JobCard)
	var failures []error
	for _, card := range local {
		id := card.ID
		if landed[id] {
			existing, err := async.Race(ctx, s.insertTimeout, func(ctx context.Context) (*models.JobCardRow, error) {
				return s.remote.GetJobCard(ctx, id)
			})
			if err != nil {
				failures = append(failures, errs.Wrapf(err, "check %s", id))
				continue
			}
			if existing != nil && sameRecord(card, *existing) {
				promoted[id] = FromRow(*existing, s.loc)
				continue
			}
			if existing != nil {
				card.ID = s.alloc.Next(ctx, taken)
				taken = append(taken, card.ID)
				logging.Warn(ctx, "job card id taken by another record, renumbering",
					slog.String("id", id), slog.String("new_id", card.ID))
			}
		}

		row, err := ToRow(card, s.loc)
		if err != nil {
			failures = append(failures, errs.Wrapf(err, "map %s", id))
			continue
		}
		saved, err := async.Race(ctx, s.insertTimeout, func(ctx context.Context) (*models.JobCardRow, error) {
			return s.remote.InsertJobCard(ctx, row)
		})
		if err != nil || saved == nil {
			failures = append(failures, fmt.Errorf("insert %s: %w", card.ID, err))
			continue
		}
		promoted[id] = FromRow(*saved, s.loc)
	}

	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return 0, nil
	}
	for id, canonical := range promoted {
		if i := s.indexOf(id); i >= 0 {
			s.cards[i] = canonical
		}
	}
	s.pending = slices.DeleteFunc(s.pending, func(id string) bool {
		_, ok := promoted[id]
		return ok
	})
	if len(s.pending) == 0 {
		s.pending = nil
	}
	snapshot := slices.Clone(s.cards)
	pending := slices.Clone(s.pending)
	s.mu.Unlock()

	s.writeSnapshot(ctx, snapshot, pending)
	if len(promoted) > 0 {
		logging.Info(ctx, "pending job cards synced", slog.Int("synced", len(promoted)), slog.Int("remaining", len(pending)))
	}
	return len(promoted), errors.Join(failures...)
}

// sameRecord reports whether row is the durable copy of c rather than another
// record that happens to carry the same id.
func sameRecord(c models.JobCard, row models.JobCardRow) bool {
	return c.EngineerID == row.EngineerID &&
		c.CreatedAt.Truncate(time.Microsecond).Equal(row.CreatedAt.Truncate(time.Microsecond))
}

// Reset empties the collection for a new session. Mutations still in flight
// finish without touching the new state.
func (s *Store) Reset() {
	s.mu.Lock()
	s.generation++
	s.cards = nil
	s.pending = nil
	s.state = StateEmpty
	s.owner = ""
	s.mu.Unlock()
}

// ClearCache removes the cached collection. Records still pending are parked
// under their engineer's key so that engineer's next Load can promote them.
// It waits for an in-flight mutation and returns how many records were kept.
func (s *Store) ClearCache(ctx context.Context) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.clearCache(ctx)
}

// Clear is ClearCache followed by Reset, with no mutation in between.
func (s *Store) Clear(ctx context.Context) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	kept, err := s.clearCache(ctx)
	s.Reset()
	return kept, err
}

func (s *Store) clearCache(ctx context.Context) (int, error) {
	s.mu.RLock()
	var kept []models.JobCard
	for _, id := range s.pending {
		if i := s.indexOf(id); i >= 0 {
			kept = append(kept, s.cards[i])
		}
	}
	s.mu.RUnlock()

	// The snapshot stays until the pending records are parked elsewhere.
	if err := s.keep(ctx, kept); err != nil {
		return 0, err
	}
	return len(kept), errors.Join(
		errs.Wrap(s.cache.Delete(ctx, CacheKey), "delete job card cache"),
		errs.Wrap(s.cache.Delete(ctx, PendingCacheKey), "delete pending job cards"),
	)
}

// KeptCacheKey holds the records engineerID left pending on this device.
func KeptCacheKey(engineerID string) string {
	return KeptCacheKeyPrefix + engineerID
}

// keep parks cards under their engineers' keys, merging with what is already
// parked there.
func (s *Store) keep(ctx context.Context, cards []models.JobCard) error {
	byEngineer := make(map[string][]models.JobCard)
	var order []string
	for _, c := range cards {
		if _, ok := byEngineer[c.EngineerID]; !ok {
			order = append(order, c.EngineerID)
		}
		byEngineer[c.EngineerID] = append(byEngineer[c.EngineerID], c)
	}

	var failures []error
	for _, engineerID := range order {
		parked := s.readKept(ctx, engineerID)
		for _, c := range byEngineer[engineerID] {
			if !slices.ContainsFunc(parked, func(p models.JobCard) bool { return p.ID == c.ID }) {
				parked = append(parked, c)
			}
		}
		b, err := json.Marshal(parked)
		if err != nil {
			failures = append(failures, errs.Wrap(err, "encode kept job cards"))
			continue
		}
		failures = append(failures, errs.Wrap(s.cache.Set(ctx, KeptCacheKey(engineerID), string(b)), "write kept job cards"))
	}
	return errors.Join(failures...)
}

func (s *Store) readKept(ctx context.Context, engineerID string) []models.JobCard {
	raw, found, err := s.cache.Get(ctx, KeptCacheKey(engineerID))
	if err != nil {
		logging.Warn(ctx, "failed to read kept job cards", slog.Any("err", errs.Loggable(err)))
		return nil
	}
	if !found {
		return nil
	}
	var cards []models.JobCard
	if err := json.Unmarshal([]byte(raw), &cards); err != nil {
		logging.Warn(ctx, "discarding unreadable kept job cards", slog.Any("err", errs.Loggable(err)))
		return nil
	}
	for i := range cards {
		cards[i].CreatedAt = cards[i].CreatedAt.In(s.loc)
	}
	return cards
}

func (s *Store) dropKept(ctx context.Context, engineerID string) {
	if err := s.cache.Delete(ctx, KeptCacheKey(engineerID)); err != nil {
		logging.Warn(ctx, "failed to clear kept job cards", slog.Any("err", errs.Loggable(err)))
	}
}

func (s *Store) All() []models.JobCard {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.cards)
}

func (s *Store) ByEngineer(engineerID string) []models.JobCard {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.JobCard, 0)
	for _, c := range s.cards {
		if c.EngineerID == engineerID {
			out = append(out, c)
		}
	}
	return out
}

func (s *Store) Get(id string) (models.JobCard, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.indexOf(id); i >= 0 {
		return s.cards[i], true
	}
	return models.JobCard{}, false
}

func (s *Store) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Store) IsPending(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Contains(s.pending, id)
}

func (s *Store) PendingIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.pending)
}

// indexOf must be called with mu held.
func (s *Store) indexOf(id string) int {
	return slices.IndexFunc(s.cards, func(c models.JobCard) bool { return c.ID == id })
}

func newCard(id string, who models.Identity, d models.Draft, createdAt time.Time) models.JobCard {
	return models.JobCard{
		ID:                  id,
		HospitalName:        d.HospitalName,
		MachineType:         d.MachineType,
		MachineModel:        d.MachineModel,
		SerialNumber:        d.SerialNumber,
		ProblemReported:     d.ProblemReported,
		ServicePerformed:    d.ServicePerformed,
		EngineerName:        who.Name,
		EngineerID:          who.ID,
		DateTime:            d.DateTime,
		CreatedAt:           createdAt,
		Status:              models.StatusCompleted,
		FacilitySignature:   d.FacilitySignature,
		EngineerSignature:   d.EngineerSignature,
		BeforeServiceImages: slices.Clone(d.BeforeServiceImages),
		AfterServiceImages:  slices.Clone(d.AfterServiceImages),
		FacilityStampImage:  d.FacilityStampImage,
		ManualUpload:        d.ManualUpload,
		ManualFile:          d.ManualFile,
		ManualReason:        d.ManualReason,
	}
}

func (s *Store) readSnapshot(ctx context.Context) ([]models.JobCard, bool) {
	raw, found, err := s.cache.Get(ctx, CacheKey)
	if err != nil {
		logging.Warn(ctx, "failed to read job card cache", slog.Any("err", errs.Loggable(err)))
		return nil, false
	}
	if !found {
		return nil, false
	}
	var cards []models.JobCard
	if err := json.Unmarshal([]byte(raw), &cards); err != nil {
		logging.Warn(ctx, "discarding unreadable job card cache", slog.Any("err", errs.Loggable(err)))
		return nil, false
	}
	for i := range cards {
		cards[i].CreatedAt = cards[i].CreatedAt.In(s.loc)
	}
	return cards, true
}

func (s *Store) readPending(ctx context.Context) []string {
	raw, found, err := s.cache.Get(ctx, PendingCacheKey)
	if err != nil || !found {
		return nil
	}
	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return nil
	}
	return ids
}

// writeSnapshot overwrites the cached collection wholesale and reports whether
// it was written. Cache failures are logged; the in-memory collection stays
// authoritative for the session.
func (s *Store) writeSnapshot(ctx context.Context, cards []models.JobCard, pending []string) bool {
	if cards == nil {
		cards = []models.JobCard{}
	}
	b, err := json.Marshal(cards)
	if err != nil {
		logging.Error(ctx, "failed to encode job card cache", slog.Any("err", errs.Loggable(err)))
		return false
	}
	if err := s.cache.Set(ctx, CacheKey, string(b)); err != nil {
		logging.Error(ctx, "failed to write job card cache", slog.Any("err", errs.Loggable(err)))
		return false
	}

	if len(pending) == 0 {
		if err := s.cache.Delete(ctx, PendingCacheKey); err != nil {
			logging.Error(ctx, "failed to clear pending job cards", slog.Any("err", errs.Loggable(err)))
		}
		return true
	}
	b, err = json.Marshal(pending)
	if err != nil {
		return false
	}
	if err := s.cache.Set(ctx, PendingCacheKey, string(b)); err != nil {
		logging.Error(ctx, "failed to write pending job cards", slog.Any("err", errs.Loggable(err)))
		return false
	}
	return true
}
