package app_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acsdeveloper2025/caseflow-mobile-sub002/internal/app"
	"github.com/acsdeveloper2025/caseflow-mobile-sub002/internal/cipher"
	"github.com/acsdeveloper2025/caseflow-mobile-sub002/internal/domain"
	"github.com/acsdeveloper2025/caseflow-mobile-sub002/internal/keys"
	"github.com/acsdeveloper2025/caseflow-mobile-sub002/internal/metrics"
	"github.com/acsdeveloper2025/caseflow-mobile-sub002/internal/store"
	"github.com/acsdeveloper2025/caseflow-mobile-sub002/internal/store/memory"
)

type fixedClock struct{ now time.Time }

func (f fixedClock) Now() time.Time { return f.now }

// fakeRemote serves attachments from a map and counts fetches.
type fakeRemote struct {
	mu       sync.Mutex
	cases    map[string][]domain.RemoteAttachment
	blobs    map[string][]byte
	listErr  map[string]error
	fetchErr map[string]error
	fetches  map[string]int
	gate     chan struct{} // when non-nil, Fetch blocks until closed
	started  chan struct{}
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		cases:    map[string][]domain.RemoteAttachment{},
		blobs:    map[string][]byte{},
		listErr:  map[string]error{},
		fetchErr: map[string]error{},
		fetches:  map[string]int{},
	}
}

func (f *fakeRemote) add(caseID, id string, data []byte) {
	f.cases[caseID] = append(f.cases[caseID], domain.RemoteAttachment{ID: id, Name: id + ".bin", Size: int64(len(data)), Locator: "loc/" + id})
	f.blobs["loc/"+id] = data
}

func (f *fakeRemote) ListCaseAttachments(_ context.Context, caseID string) ([]domain.RemoteAttachment, error) {
	if err := f.listErr[caseID]; err != nil {
		return nil, err
	}
	return f.cases[caseID], nil
}

func (f *fakeRemote) Fetch(ctx context.Context, id, locator string, progress app.ProgressFunc) ([]byte, error) {
	if f.started != nil {
		select {
		case f.started <- struct{}{}:
		default:
		}
	}
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	f.fetches[id]++
	f.mu.Unlock()
	if err := f.fetchErr[id]; err != nil {
		return nil, err
	}
	data, ok := f.blobs[locator]
	if !ok {
		return nil, fmt.Errorf("no blob at %s", locator)
	}
	if progress != nil {
		progress(50)
		progress(100)
	}
	return data, nil
}

func (f *fakeRemote) fetchCount(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches[id]
}

type countingRecorder struct {
	mu sync.Mutex
	c  map[string]int64
}

func (r *countingRecorder) Inc(name string, delta int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.c == nil {
		r.c = map[string]int64{}
	}
	r.c[name] += delta
}

func (r *countingRecorder) get(name string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.c[name]
}

type harness struct {
	svc    *app.Service
	remote *fakeRemote
	med    *memory.Medium
	rec    *countingRecorder
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clk := fixedClock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
	med := memory.New()
	km := keys.New(med, keys.Config{Iterations: 1000, Clock: clk})
	eng, err := cipher.New(km, cipher.Config{RecordIterations: 100, MasterIterations: 1000})
	require.NoError(t, err)
	remote := newFakeRemote()
	rec := &countingRecorder{}
	svc := &app.Service{
		Store:   store.New(med, eng, store.Options{Clock: clk}),
		Keys:    km,
		Remote:  remote,
		Metrics: rec,
		Clock:   clk,
	}
	require.NoError(t, svc.Init(context.Background()))
	return &harness{svc: svc, remote: remote, med: med, rec: rec}
}

func TestServiceNotReadyBeforeInit(t *testing.T) {
	med := memory.New()
	km := keys.New(med, keys.Config{Iterations: 1000})
	eng, _ := cipher.New(km, cipher.Config{RecordIterations: 100})
	svc := &app.Service{Store: store.New(med, eng, store.Options{}), Keys: km}
	ctx := context.Background()

	assert.False(t, svc.Ready())
	_, err := svc.Download(ctx, app.DownloadRequest{ID: "a1"})
	assert.ErrorIs(t, err, domain.ErrNotInitialized)
	_, _, err = svc.GetOfflineAttachment(ctx, "a1")
	assert.ErrorIs(t, err, domain.ErrNotInitialized)
	_, err = svc.ListOffline(ctx, "")
	assert.ErrorIs(t, err, domain.ErrNotInitialized)
	_, err = svc.GetStats(ctx)
	assert.ErrorIs(t, err, domain.ErrNotInitialized)
	assert.False(t, svc.IsAvailableOffline(ctx, "a1"))

	require.NoError(t, svc.Init(ctx))
	assert.True(t, svc.Ready())
}

func TestServiceInitMissingDependencies(t *testing.T) {
	svc := &app.Service{}
	assert.ErrorIs(t, svc.Init(context.Background()), domain.ErrInitialization)
}

func TestDownloadHelloScenario(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.remote.blobs["remote/a1"] = []byte("hello")

	rec, err := h.svc.Download(ctx, app.DownloadRequest{
		ID:      "a1",
		Locator: "remote/a1",
		Meta:    domain.Metadata{OriginalName: "hello.txt", MimeType: "text/plain", CaseID: "case-9"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(5), rec.Size)

	st, ok := h.svc.GetDownloadStatus("a1")
	require.True(t, ok)
	assert.Equal(t, domain.StateCompleted, st.State)
	assert.Equal(t, 100, st.Progress)

	assert.True(t, h.svc.IsAvailableOffline(ctx, "a1"))
	data, got, err := h.svc.GetOfflineAttachment(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
	assert.Equal(t, "case-9", got.CaseID)

	stats, err := h.svc.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalAttachments)
	assert.Equal(t, int64(5), stats.TotalSize)
	assert.Equal(t, int64(16), stats.EncryptedSize)

	assert.Equal(t, int64(1), h.rec.get(metrics.CounterAttachmentsStored))
	assert.Equal(t, int64(1), h.rec.get(metrics.CounterAttachmentsDownloaded))
}

func TestDownloadIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.remote.blobs["l"] = []byte("payload")
	req := app.DownloadRequest{ID: "once", Locator: "l", Meta: domain.Metadata{OriginalName: "o"}}

	first, err := h.svc.Download(ctx, req)
	require.NoError(t, err)
	second, err := h.svc.Download(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, 1, h.remote.fetchCount("once"))
	assert.Equal(t, first.Checksum, second.Checksum)
	stats, _ := h.svc.GetStats(ctx)
	assert.Equal(t, int64(1), stats.TotalAttachments)
}

func TestDownloadFailureStatus(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.remote.fetchErr["bad"] = errors.New("connection reset")

	_, err := h.svc.Download(ctx, app.DownloadRequest{ID: "bad", Locator: "x", Meta: domain.Metadata{OriginalName: "b"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrDownload)

	st, ok := h.svc.GetDownloadStatus("bad")
	require.True(t, ok)
	assert.Equal(t, domain.StateFailed, st.State)
	assert.Contains(t, st.Error, "connection reset")
	assert.False(t, h.svc.IsAvailableOffline(ctx, "bad"))
	assert.Equal(t, int64(1), h.rec.get(metrics.CounterDownloadFailures))
}

func TestDownloadStoreFailureWrapsCause(t *testing.T) {
	h := newHarness(t)
	h.remote.blobs["l"] = []byte("x")
	_, err := h.svc.Download(context.Background(), app.DownloadRequest{ID: "m", Locator: "l"})
	assert.ErrorIs(t, err, domain.ErrDownload)
	assert.ErrorIs(t, err, domain.ErrInvalidMetadata)
}

func TestDownloadWithoutFetcher(t *testing.T) {
	h := newHarness(t)
	h.svc.Remote = nil
	_, err := h.svc.Download(context.Background(), app.DownloadRequest{ID: "z", Meta: domain.Metadata{OriginalName: "z"}})
	assert.ErrorIs(t, err, domain.ErrDownload)
}

func TestDownloadFetcherOverride(t *testing.T) {
	h := newHarness(t)
	override := newFakeRemote()
	override.blobs["o"] = []byte("from override")
	_, err := h.svc.Download(context.Background(), app.DownloadRequest{ID: "ov", Locator: "o", Meta: domain.Metadata{OriginalName: "ov"}, Fetcher: override})
	require.NoError(t, err)
	assert.Equal(t, 1, override.fetchCount("ov"))
	assert.Equal(t, 0, h.remote.fetchCount("ov"))
}

func TestSyncMany(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.remote.add("c1", "c1-a", []byte("aaa"))
	h.remote.add("c1", "c1-b", []byte("bbb"))
	h.remote.add("c2", "c2-a", []byte("ccc"))
	h.remote.add("c2", "c2-bad", []byte("ddd"))
	h.remote.fetchErr["c2-bad"] = errors.New("500")
	h.remote.listErr["c3"] = errors.New("forbidden")

	_, err := h.svc.Download(ctx, app.DownloadRequest{ID: "c1-a", Locator: "loc/c1-a", Meta: domain.Metadata{OriginalName: "pre"}})
	require.NoError(t, err)

	res := h.svc.SyncMany(ctx, []string{"c1", "c2", "c3"})
	assert.False(t, res.Skipped)
	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, 2, res.Succeeded, "c1-b and c2-a")
	assert.Equal(t, 2, res.Failed, "c2-bad and the c3 listing")
	assert.Equal(t, 1, h.remote.fetchCount("c1-a"), "already offline attachment must not be refetched")

	recs, err := h.svc.ListOffline(ctx, "c2")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "c2-a", recs[0].ID)
	assert.Equal(t, int64(1), h.rec.get(metrics.CounterSyncRuns))
}

func TestSyncManySingleFlight(t *testing.T) {
	h := newHarness(t)
	h.remote.add("c", "slow", []byte("zzz"))
	h.remote.gate = make(chan struct{})
	h.remote.started = make(chan struct{}, 1)

	done := make(chan app.SyncResult)
	go func() { done <- h.svc.SyncMany(context.Background(), []string{"c"}) }()

	select {
	case <-h.remote.started:
	case <-time.After(2 * time.Second):
		t.Fatal("first sync never reached fetch")
	}
	overlap := h.svc.SyncMany(context.Background(), []string{"c"})
	assert.True(t, overlap.Skipped)
	assert.Zero(t, overlap.Succeeded)
	assert.Zero(t, overlap.Failed)

	close(h.remote.gate)
	first := <-done
	assert.False(t, first.Skipped)
	assert.Equal(t, 1, first.Succeeded)

	again := h.svc.SyncMany(context.Background(), []string{"c"})
	assert.False(t, again.Skipped, "flag must be released after a run")
}

func TestSyncManyWithoutRemote(t *testing.T) {
	h := newHarness(t)
	h.svc.Remote = nil
	res := h.svc.SyncMany(context.Background(), []string{"a", "b"})
	assert.Equal(t, 2, res.Failed)
}

func TestRemoveOffline(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.remote.blobs["l"] = []byte("x")
	_, err := h.svc.Download(ctx, app.DownloadRequest{ID: "r", Locator: "l", Meta: domain.Metadata{OriginalName: "r"}})
	require.NoError(t, err)

	removed, err := h.svc.RemoveOffline(ctx, "r")
	require.NoError(t, err)
	assert.True(t, removed)
	_, ok := h.svc.GetDownloadStatus("r")
	assert.False(t, ok)
	assert.False(t, h.svc.IsAvailableOffline(ctx, "r"))

	removed, err = h.svc.RemoveOffline(ctx, "r")
	require.NoError(t, err)
	assert.False(t, removed)
	assert.Equal(t, int64(1), h.rec.get(metrics.CounterAttachmentsDeleted))
}

func TestGetOfflineAttachmentIntegrityFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.remote.blobs["l"] = []byte("0123456789abcdef0123456789abcdef0123456789abcdef")
	_, err := h.svc.Download(ctx, app.DownloadRequest{ID: "i", Locator: "l", Meta: domain.Metadata{OriginalName: "i"}})
	require.NoError(t, err)

	ct, _, _ := h.med.Get(ctx, "attachment:data:i")
	ct[0] ^= 0x01
	require.NoError(t, h.med.Set(ctx, "attachment:data:i", ct))
	h.svc.Store.ClearCache()

	_, _, err = h.svc.GetOfflineAttachment(ctx, "i")
	assert.ErrorIs(t, err, domain.ErrIntegrity)
	assert.Equal(t, int64(1), h.rec.get(metrics.CounterIntegrityFailures))
}

func TestClearAll(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for _, id := range []string{"x1", "x2", "x3"} {
		h.remote.blobs[id] = []byte(id)
		_, err := h.svc.Download(ctx, app.DownloadRequest{ID: id, Locator: id, Meta: domain.Metadata{OriginalName: id}})
		require.NoError(t, err)
	}
	ok, err := h.svc.ClearAll(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	recs, _ := h.svc.ListOffline(ctx, "")
	assert.Empty(t, recs)
	stats, _ := h.svc.GetStats(ctx)
	assert.Zero(t, stats.TotalAttachments)
	_, found := h.svc.GetDownloadStatus("x1")
	assert.False(t, found)
	assert.True(t, h.svc.Ready(), "clearing data keeps the key")
}

func TestClearAllRemovesUnreadableRecords(t *testing.T) {
	for _, reset := range []bool{false, true} {
		name := "clear all"
		if reset {
			name = "reset security"
		}
		t.Run(name, func(t *testing.T) {
			h := newHarness(t)
			ctx := context.Background()
			for _, id := range []string{"s", "t"} {
				h.remote.blobs[id] = []byte("payload " + id)
				_, err := h.svc.Download(ctx, app.DownloadRequest{ID: id, Locator: id, Meta: domain.Metadata{OriginalName: id}})
				require.NoError(t, err)
			}
			require.NoError(t, h.med.Set(ctx, "attachment:meta:s", []byte("garbage")))
			require.NoError(t, h.med.Set(ctx, "attachment:data:orphan", []byte("0123456789abcdef")))

			if reset {
				require.NoError(t, h.svc.ResetSecurity(ctx))
			} else {
				ok, err := h.svc.ClearAll(ctx)
				require.NoError(t, err)
				assert.True(t, ok)
				assert.Equal(t, int64(3), h.rec.get(metrics.CounterAttachmentsDeleted))
			}

			left, err := h.med.ListKeys(ctx)
			require.NoError(t, err)
			for _, k := range left {
				assert.NotContains(t, k, "attachment:meta:")
				assert.NotContains(t, k, "attachment:data:")
			}
			stats, err := h.svc.Store.Stats(ctx)
			require.NoError(t, err)
			assert.Zero(t, stats.TotalAttachments)
			assert.Zero(t, stats.EncryptedSize)
		})
	}
}

func TestResetSecurity(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.remote.blobs["l"] = []byte("secret")
	_, err := h.svc.Download(ctx, app.DownloadRequest{ID: "s", Locator: "l", Meta: domain.Metadata{OriginalName: "s"}})
	require.NoError(t, err)

	require.NoError(t, h.svc.ResetSecurity(ctx))
	assert.False(t, h.svc.Ready())
	_, present, _ := h.med.Get(ctx, keys.MediumKey)
	assert.False(t, present)
	assert.Equal(t, 0, h.med.Len()-1, "only the stats entry may remain")

	require.NoError(t, h.svc.Init(ctx))
	assert.False(t, h.svc.IsAvailableOffline(ctx, "s"))
}
