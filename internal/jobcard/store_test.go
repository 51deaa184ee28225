package jobcard_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobcard-backend/internal/cache"
	"jobcard-backend/internal/idalloc"
	"jobcard-backend/internal/jobcard"
	"jobcard-backend/internal/mock"
	"jobcard-backend/internal/models"
)

var (
	errNetwork = errors.New("network unreachable")
	engineer   = models.Identity{ID: "eng-1", Email: "sam@example.com", Name: "Sam Okafor", Role: models.RoleEngineer}
	fixedNow   = time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
)

type fixture struct {
	remote *mock.Remote
	cache  *cache.MemoryCache
	store  *jobcard.Store
}

func newFixture(t *testing.T, remote *mock.Remote) *fixture {
	t.Helper()
	c := cache.NewMemoryCache()
	alloc := idalloc.New(remote, "PRE", idalloc.WithTimeout(50*time.Millisecond))
	store := jobcard.NewStore(remote, c, alloc,
		jobcard.WithLocation(time.UTC),
		jobcard.WithClock(func() time.Time { return fixedNow }),
		jobcard.WithTimeouts(50*time.Millisecond, 50*time.Millisecond),
	)
	return &fixture{remote: remote, cache: c, store: store}
}

func (f *fixture) cached(t *testing.T) []models.JobCard {
	t.Helper()
	raw, ok, err := f.cache.Get(context.Background(), jobcard.CacheKey)
	require.NoError(t, err)
	require.True(t, ok, "cache snapshot missing")
	var cards []models.JobCard
	require.NoError(t, json.Unmarshal([]byte(raw), &cards))
	return cards
}

func (f *fixture) kept(t *testing.T, engineerID string) []models.JobCard {
	t.Helper()
	raw, ok, err := f.cache.Get(context.Background(), jobcard.KeptCacheKey(engineerID))
	require.NoError(t, err)
	if !ok {
		return nil
	}
	var cards []models.JobCard
	require.NoError(t, json.Unmarshal([]byte(raw), &cards))
	return cards
}

func (f *fixture) seedCache(t *testing.T, cards []models.JobCard) {
	t.Helper()
	b, err := json.Marshal(cards)
	require.NoError(t, err)
	require.NoError(t, f.cache.Set(context.Background(), jobcard.CacheKey, string(b)))
}

func row(id string, createdAt time.Time) models.JobCardRow {
	return models.JobCardRow{
		ID:               id,
		HospitalName:     "General Hospital",
		MachineType:      "CT",
		MachineModel:     "Revolution",
		SerialNumber:     "CT-123",
		ProblemReported:  "noise",
		ServicePerformed: "fixed",
		EngineerName:     engineer.Name,
		EngineerID:       engineer.ID,
		DateTime:         "2026-03-01T10:00:00Z",
		CreatedAt:        createdAt,
		Status:           "completed",
	}
}

func cachedCard(id string, createdAt time.Time) models.JobCard {
	return jobcard.FromRow(row(id, createdAt), time.UTC)
}

func assertSameCards(t *testing.T, want, got []models.JobCard) {
	t.Helper()
	require.Len(t, got, len(want))
	for i := range want {
		assert.True(t, want[i].CreatedAt.Equal(got[i].CreatedAt), "createdAt of %s", want[i].ID)
		w, g := want[i], got[i]
		w.CreatedAt, g.CreatedAt = time.Time{}, time.Time{}
		assert.Equal(t, w, g)
	}
}

func TestLoad_FromRemote(t *testing.T) {
	remote := mock.NewRemote(
		row("PRE-00001", fixedNow.Add(-2*time.Hour)),
		row("PRE-00002", fixedNow.Add(-time.Hour)),
	)
	f := newFixture(t, remote)

	state := f.store.Load(context.Background())

	assert.Equal(t, jobcard.StateLoaded, state)
	all := f.store.All()
	require.Len(t, all, 2)
	assert.Equal(t, "PRE-00002", all[0].ID, "newest first")
	assert.Equal(t, "2026-03-01T10:00", all[0].DateTime)
	assertSameCards(t, all, f.cached(t))
}

func TestLoad_GuardSkipsSecondLoad(t *testing.T) {
	remote := mock.NewRemote(row("PRE-00001", fixedNow))
	f := newFixture(t, remote)

	f.store.Load(context.Background())
	state := f.store.Load(context.Background())

	assert.Equal(t, jobcard.StateLoaded, state)
	assert.Equal(t, 1, remote.ListCalls)
}

func TestLoad_FallsBackToCache(t *testing.T) {
	remote := mock.NewRemote()
	remote.SetErrors(errNetwork, nil, nil)
	f := newFixture(t, remote)
	seeded := []models.JobCard{cachedCard("PRE-00002", fixedNow), cachedCard("PRE-00001", fixedNow.Add(-time.Minute))}
	f.seedCache(t, seeded)

	state := f.store.Load(context.Background())

	assert.Equal(t, jobcard.StateLoadedFromCache, state)
	assertSameCards(t, seeded, f.store.All())
}

func TestLoad_TimeoutFallsBackToCache(t *testing.T) {
	remote := mock.NewRemote(row("PRE-00009", fixedNow))
	block := make(chan struct{})
	defer close(block)
	remote.SetBlock(block)
	f := newFixture(t, remote)
	f.seedCache(t, []models.JobCard{cachedCard("PRE-00001", fixedNow)})

	state := f.store.Load(context.Background())

	assert.Equal(t, jobcard.StateLoadedFromCache, state)
	require.Len(t, f.store.All(), 1)
	assert.Equal(t, "PRE-00001", f.store.All()[0].ID)
}

func TestLoad_NoRemoteNoCache(t *testing.T) {
	remote := mock.NewRemote()
	remote.SetErrors(errNetwork, nil, nil)
	f := newFixture(t, remote)

	assert.Equal(t, jobcard.StateEmpty, f.store.Load(context.Background()))
	assert.Empty(t, f.store.All())
}

func TestCreate_DurableInsert(t *testing.T) {
	remote := mock.NewRemote(row("PRE-00004", fixedNow.Add(-time.Hour)))
	f := newFixture(t, remote)
	f.store.Load(context.Background())

	id, err := f.store.Create(context.Background(), engineer, validDraft())

	require.NoError(t, err)
	assert.Equal(t, "PRE-00005", id)
	all := f.store.All()
	require.Len(t, all, 2)
	assert.Equal(t, id, all[0].ID, "durable creates are prepended")
	assert.Equal(t, models.StatusCompleted, all[0].Status)
	assert.Equal(t, engineer.ID, all[0].EngineerID)
	assert.Equal(t, engineer.Name, all[0].EngineerName)
	assert.True(t, fixedNow.Equal(all[0].CreatedAt))
	assert.Equal(t, "2026-02-14T11:00", all[0].DateTime)
	assert.False(t, f.store.IsPending(id))

	rows := remote.Rows()
	require.Len(t, rows, 2)
	assert.Equal(t, "2026-02-14T11:00:00Z", rows[1].DateTime)
	assertSameCards(t, all, f.cached(t))
}

func TestCreate_RejectsInvalidDraft(t *testing.T) {
	f := newFixture(t, mock.NewRemote())
	d := validDraft()
	d.HospitalName = ""

	id, err := f.store.Create(context.Background(), engineer, d)

	assert.ErrorIs(t, err, jobcard.ErrInvalidDraft)
	assert.Empty(t, id)
	assert.Empty(t, f.store.All())
	assert.Zero(t, f.remote.InsertCalls)
}

func TestCreate_FallbackKeepsRecordLocally(t *testing.T) {
	remote := mock.NewRemote()
	remote.SetErrors(nil, errNetwork, nil)
	f := newFixture(t, remote)

	id, err := f.store.Create(context.Background(), engineer, validDraft())

	require.NoError(t, err)
	assert.Regexp(t, `^PRE-\d{5}$`, id)
	all := f.store.All()
	require.Len(t, all, 1)
	assert.Equal(t, id, all[0].ID)
	assert.True(t, f.store.IsPending(id))
	assertSameCards(t, all, f.cached(t))
}

func TestEndToEnd_OfflineLoadThenOfflineCreate(t *testing.T) {
	remote := mock.NewRemote()
	remote.SetErrors(errNetwork, errNetwork, errNetwork)
	f := newFixture(t, remote)
	seeded := []models.JobCard{cachedCard("PRE-00001", fixedNow.Add(-time.Hour)), cachedCard("PRE-00002", fixedNow.Add(-time.Minute))}
	f.seedCache(t, seeded)

	f.store.Load(context.Background())
	assertSameCards(t, seeded, f.store.All())

	id, err := f.store.Create(context.Background(), engineer, validDraft())
	require.NoError(t, err)
	assert.Equal(t, "PRE-00003", id)

	all := f.store.All()
	require.Len(t, all, 3)
	assert.Equal(t, "PRE-00003", all[2].ID)
	assertSameCards(t, all, f.cached(t))
}

func TestByEngineerAndGet(t *testing.T) {
	other := row("PRE-00002", fixedNow)
	other.EngineerID = "eng-2"
	f := newFixture(t, mock.NewRemote(row("PRE-00001", fixedNow.Add(-time.Hour)), other))
	f.store.Load(context.Background())

	mine := f.store.ByEngineer("eng-1")
	require.Len(t, mine, 1)
	assert.Equal(t, "PRE-00001", mine[0].ID)
	assert.Empty(t, f.store.ByEngineer("nobody"))

	card, ok := f.store.Get("PRE-00002")
	assert.True(t, ok)
	assert.Equal(t, "eng-2", card.EngineerID)
	_, ok = f.store.Get("PRE-99999")
	assert.False(t, ok)
}

func TestSyncPending_PromotesLocalRecords(t *testing.T) {
	remote := mock.NewRemote()
	remote.SetErrors(nil, errNetwork, nil)
	f := newFixture(t, remote)
	id, err := f.store.Create(context.Background(), engineer, validDraft())
	require.NoError(t, err)
	require.True(t, f.store.IsPending(id))

	remote.SetErrors(nil, nil, nil)
	synced, err := f.store.SyncPending(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, synced)
	assert.False(t, f.store.IsPending(id))
	assert.Empty(t, f.store.PendingIDs())
	require.Len(t, remote.Rows(), 1)
	assert.Equal(t, id, remote.Rows()[0].ID)

	_, found, err := f.cache.Get(context.Background(), jobcard.PendingCacheKey)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSyncPending_SkipsInsertsThatLanded(t *testing.T) {
	remote := mock.NewRemote()
	remote.CommitOnBlock = true
	block := make(chan struct{})
	remote.SetBlock(block)
	f := newFixture(t, remote)

	id, err := f.store.Create(context.Background(), engineer, validDraft())
	require.NoError(t, err)
	require.True(t, f.store.IsPending(id))
	close(block)

	require.Eventually(t, func() bool { return len(remote.Rows()) == 1 }, time.Second, 5*time.Millisecond)
	remote.SetBlock(nil)
	synced, err := f.store.SyncPending(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, synced)
	assert.Len(t, remote.Rows(), 1, "no duplicate insert")
	assert.False(t, f.store.IsPending(id))
}

func TestSyncPending_RenumbersWhenIDTakenByAnotherRecord(t *testing.T) {
	ctx := context.Background()
	remote := mock.NewRemote()
	remote.SetErrors(nil, errNetwork, errNetwork)
	f := newFixture(t, remote)
	id, err := f.store.Create(ctx, engineer, validDraft())
	require.NoError(t, err)
	require.Equal(t, "PRE-00001", id)

	remote.SetErrors(nil, nil, nil)
	other := row("PRE-00001", fixedNow.Add(time.Minute))
	other.EngineerID = "eng-2"
	other.HospitalName = "Other Device Hospital"
	_, err = remote.InsertJobCard(ctx, other)
	require.NoError(t, err)

	synced, err := f.store.SyncPending(ctx)

	require.NoError(t, err)
	assert.Equal(t, 1, synced)
	assert.Empty(t, f.store.PendingIDs())
	mine := f.store.ByEngineer(engineer.ID)
	require.Len(t, mine, 1)
	assert.Equal(t, "PRE-00002", mine[0].ID)

	rows := remote.Rows()
	require.Len(t, rows, 2)
	assert.Equal(t, "PRE-00002", rows[1].ID)
	assert.Equal(t, engineer.ID, rows[1].EngineerID)

	f.store.Reset()
	f.store.Load(ctx)
	require.Len(t, f.store.ByEngineer(engineer.ID), 1)
	assert.Len(t, f.store.All(), 2)
}

func TestSyncPending_UsesAllocatorWindow(t *testing.T) {
	ctx := context.Background()
	remote := mock.NewRemote()
	remote.CommitOnBlock = true
	block := make(chan struct{})
	remote.SetBlock(block)
	store := jobcard.NewStore(remote, cache.NewMemoryCache(),
		idalloc.New(remote, "PRE", idalloc.WithTimeout(50*time.Millisecond), idalloc.WithWindow(200)),
		jobcard.WithLocation(time.UTC),
		jobcard.WithClock(func() time.Time { return fixedNow }),
		jobcard.WithTimeouts(50*time.Millisecond, 50*time.Millisecond),
	)

	id, err := store.Create(ctx, engineer, validDraft())
	require.NoError(t, err)
	require.True(t, store.IsPending(id))
	close(block)
	require.Eventually(t, func() bool { return len(remote.Rows()) == 1 }, time.Second, 5*time.Millisecond)
	remote.SetBlock(nil)

	// Push the landed row past the default window.
	for i := range 150 {
		r := row(fmt.Sprintf("PRE-%05d", 101+i), fixedNow.Add(time.Duration(i+1)*time.Minute))
		r.EngineerID = "eng-2"
		_, err := remote.InsertJobCard(ctx, r)
		require.NoError(t, err)
	}

	synced, err := store.SyncPending(ctx)

	require.NoError(t, err)
	assert.Equal(t, 1, synced)
	assert.False(t, store.IsPending(id))
	assert.Len(t, remote.Rows(), 151)
}

func TestClear_WaitsForCreateInFlight(t *testing.T) {
	ctx := context.Background()
	remote := mock.NewRemote()
	block := make(chan struct{})
	defer close(block)
	remote.SetBlock(block)
	f := newFixture(t, remote)

	done := make(chan jobcard.Result, 1)
	go func() {
		r, err := f.store.Add(ctx, engineer, validDraft())
		assert.NoError(t, err)
		done <- r
	}()
	require.Eventually(t, func() bool { return remote.Inserts() == 1 }, time.Second, time.Millisecond)

	kept, err := f.store.Clear(ctx)
	created := <-done

	require.NoError(t, err)
	assert.True(t, created.Pending)
	assert.Equal(t, 1, kept)
	assert.Empty(t, f.store.All())
	parked := f.kept(t, engineer.ID)
	require.Len(t, parked, 1)
	assert.Equal(t, created.ID, parked[0].ID)
	_, found, err := f.cache.Get(ctx, jobcard.CacheKey)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestCreate_ResetMidInsertKeepsRecordOnDevice(t *testing.T) {
	ctx := context.Background()
	remote := mock.NewRemote()
	block := make(chan struct{})
	remote.SetBlock(block)
	f := newFixture(t, remote)
	f.store = jobcard.NewStore(remote, f.cache, idalloc.New(remote, "PRE", idalloc.WithTimeout(20*time.Millisecond)),
		jobcard.WithLocation(time.UTC),
		jobcard.WithClock(func() time.Time { return fixedNow }),
		jobcard.WithTimeouts(50*time.Millisecond, 500*time.Millisecond),
	)

	done := make(chan jobcard.Result, 1)
	go func() {
		r, err := f.store.Add(ctx, engineer, validDraft())
		assert.NoError(t, err)
		done <- r
	}()
	require.Eventually(t, func() bool { return remote.Inserts() == 1 }, time.Second, time.Millisecond)
	f.store.Reset()
	created := <-done

	assert.True(t, created.Pending)
	assert.Empty(t, f.store.All())
	parked := f.kept(t, engineer.ID)
	require.Len(t, parked, 1)
	assert.Equal(t, created.ID, parked[0].ID)
	assert.Empty(t, remote.Rows())

	close(block)
	remote.SetBlock(nil)
	f.store.SetOwner(engineer.ID)
	assert.Equal(t, jobcard.StateLoaded, f.store.Load(ctx))
	assert.Empty(t, f.store.PendingIDs())
	require.Len(t, remote.Rows(), 1)
	assert.Equal(t, created.ID, remote.Rows()[0].ID)
	assert.Empty(t, f.kept(t, engineer.ID))
}

func TestLoad_LeavesOtherEngineersRecordsParked(t *testing.T) {
	ctx := context.Background()
	remote := mock.NewRemote()
	remote.SetErrors(nil, errNetwork, nil)
	f := newFixture(t, remote)
	f.store.SetOwner(engineer.ID)
	id, err := f.store.Create(ctx, engineer, validDraft())
	require.NoError(t, err)
	_, err = f.store.Clear(ctx)
	require.NoError(t, err)

	remote.SetErrors(nil, nil, nil)
	f.store.SetOwner("eng-2")
	f.store.Load(ctx)

	_, ok := f.store.Get(id)
	assert.False(t, ok)
	assert.Empty(t, f.store.PendingIDs())
	assert.Empty(t, remote.Rows())
	assert.Len(t, f.kept(t, engineer.ID), 1)

	f.store.Reset()
	f.store.SetOwner(engineer.ID)
	f.store.Load(ctx)

	assert.Empty(t, f.store.PendingIDs())
	require.Len(t, remote.Rows(), 1)
	assert.Equal(t, id, remote.Rows()[0].ID)
	assert.Empty(t, f.kept(t, engineer.ID))
}

func TestLoad_ParksPendingOfAnotherEngineer(t *testing.T) {
	ctx := context.Background()
	remote := mock.NewRemote()
	f := newFixture(t, remote)
	theirs := cachedCard("PRE-00001", fixedNow)
	theirs.EngineerID = "eng-2"
	f.seedCache(t, []models.JobCard{theirs})
	require.NoError(t, f.cache.Set(ctx, jobcard.PendingCacheKey, `["PRE-00001"]`))

	f.store.SetOwner(engineer.ID)
	f.store.Load(ctx)

	assert.Empty(t, f.store.All())
	assert.Empty(t, remote.Rows())
	parked := f.kept(t, "eng-2")
	require.Len(t, parked, 1)
	assert.Equal(t, "PRE-00001", parked[0].ID)
}

func TestLoad_RenumbersPendingWhenIDTaken(t *testing.T) {
	ctx := context.Background()
	other := row("PRE-00001", fixedNow.Add(-time.Hour))
	other.EngineerID = "eng-2"
	remote := mock.NewRemote(other)
	f := newFixture(t, remote)
	f.seedCache(t, []models.JobCard{cachedCard("PRE-00001", fixedNow)})
	require.NoError(t, f.cache.Set(ctx, jobcard.PendingCacheKey, `["PRE-00001"]`))

	f.store.Load(ctx)

	assert.Empty(t, f.store.PendingIDs())
	mine := f.store.ByEngineer(engineer.ID)
	require.Len(t, mine, 1)
	assert.Equal(t, "PRE-00002", mine[0].ID)
	assert.Len(t, remote.Rows(), 2)
}

func TestLoad_MergesAndSyncsPendingFromCache(t *testing.T) {
	remote := mock.NewRemote(row("PRE-00001", fixedNow.Add(-time.Hour)))
	f := newFixture(t, remote)
	local := cachedCard("PRE-00002", fixedNow)
	f.seedCache(t, []models.JobCard{local})
	require.NoError(t, f.cache.Set(context.Background(), jobcard.PendingCacheKey, `["PRE-00002"]`))

	state := f.store.Load(context.Background())

	assert.Equal(t, jobcard.StateLoaded, state)
	assert.Len(t, f.store.All(), 2)
	assert.Empty(t, f.store.PendingIDs())
	assert.Len(t, remote.Rows(), 2)
}

func TestReset_FencesInFlightLoad(t *testing.T) {
	remote := mock.NewRemote(row("PRE-00001", fixedNow))
	block := make(chan struct{})
	remote.SetBlock(block)
	c := cache.NewMemoryCache()
	store := jobcard.NewStore(remote, c, idalloc.New(remote, "PRE"),
		jobcard.WithLocation(time.UTC),
		jobcard.WithTimeouts(time.Minute, time.Minute),
	)

	var wg sync.WaitGroup
	wg.Add(1)
	var state jobcard.State
	go func() {
		defer wg.Done()
		state = store.Load(context.Background())
	}()

	require.Eventually(t, func() bool { return store.State() == jobcard.StateLoading }, time.Second, time.Millisecond)
	store.Reset()
	close(block)
	wg.Wait()

	assert.Equal(t, jobcard.StateEmpty, state)
	assert.Equal(t, jobcard.StateEmpty, store.State())
	assert.Empty(t, store.All())
}

func TestCreate_SerializedWithLoad(t *testing.T) {
	remote := mock.NewRemote(row("PRE-00010", fixedNow.Add(-time.Hour)))
	block := make(chan struct{})
	remote.SetBlock(block)
	f := newFixture(t, remote)
	f.store = jobcard.NewStore(remote, f.cache, idalloc.New(remote, "PRE"),
		jobcard.WithLocation(time.UTC),
		jobcard.WithClock(func() time.Time { return fixedNow }),
		jobcard.WithTimeouts(time.Minute, time.Minute),
	)

	loaded := make(chan struct{})
	go func() {
		f.store.Load(context.Background())
		close(loaded)
	}()
	require.Eventually(t, func() bool { return f.store.State() == jobcard.StateLoading }, time.Second, time.Millisecond)

	created := make(chan string)
	go func() {
		id, _ := f.store.Create(context.Background(), engineer, validDraft())
		created <- id
	}()
	close(block)
	<-loaded
	id := <-created

	assert.Equal(t, "PRE-00011", id)
	all := f.store.All()
	require.Len(t, all, 2, "load result is not lost to the create")
	assert.Equal(t, "PRE-00011", all[0].ID)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "empty", jobcard.StateEmpty.String())
	assert.Equal(t, "loading", jobcard.StateLoading.String())
	assert.Equal(t, "loaded", jobcard.StateLoaded.String())
	assert.Equal(t, "loaded_from_cache", jobcard.StateLoadedFromCache.String())
}
