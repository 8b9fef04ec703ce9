package resolver

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/varoOP/stripcache/internal/cache"
	"github.com/varoOP/stripcache/internal/database"
	"github.com/varoOP/stripcache/internal/domain"
)

var (
	first  = day("1989-04-16")
	newest = day("2023-03-09")
)

func day(s string) time.Time {
	t, err := time.Parse(domain.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

// fakeSource fails each date with the queued kinds before succeeding.
type fakeSource struct {
	mu      sync.Mutex
	queued  map[string][]domain.ScrapeErrorKind
	calls   map[string]int
	release chan struct{}
}

func newFakeSource() *fakeSource {
	return &fakeSource{queued: map[string][]domain.ScrapeErrorKind{}, calls: map[string]int{}}
}

func (f *fakeSource) fail(date string, kinds ...domain.ScrapeErrorKind) {
	f.queued[date] = kinds
}

func (f *fakeSource) Fetch(ctx context.Context, date time.Time) (*domain.Comic, error) {
	key := domain.FormatDate(date)

	f.mu.Lock()
	f.calls[key]++
	var kind domain.ScrapeErrorKind
	if q := f.queued[key]; len(q) > 0 {
		kind = q[0]
		if kind != domain.ScrapeNotFound {
			f.queued[key] = q[1:]
		}
	}
	release := f.release
	f.mu.Unlock()

	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, domain.NewScrapeError(domain.ScrapeNetwork, date, ctx.Err())
		}
	}

	if kind != 0 {
		return nil, domain.NewScrapeError(kind, date, nil)
	}
	return &domain.Comic{
		Date:      date,
		ImageURL:  "https://assets.example.com/" + key,
		Title:     "Strip " + key,
		Width:     900,
		Height:    280,
		Permalink: "https://example.com/strip/" + key,
	}, nil
}

func (f *fakeSource) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

type fixedLatest struct {
	date time.Time
	err  error
}

func (l fixedLatest) Latest(ctx context.Context) (time.Time, error)  { return l.date, l.err }
func (l fixedLatest) Refresh(ctx context.Context) (time.Time, error) { return l.date, l.err }

type unavailableRepo struct {
	*database.MemoryRepo
}

func (unavailableRepo) Get(ctx context.Context, date time.Time) (*domain.Comic, error) {
	return nil, errors.Wrap(domain.ErrStoreUnavailable, "timeout")
}

func (unavailableRepo) Upsert(ctx context.Context, comic *domain.Comic) error {
	return errors.Wrap(domain.ErrStoreUnavailable, "timeout")
}

type fixture struct {
	svc    *service
	repo   domain.CacheRepo
	source *fakeSource
}

func newFixture(repo domain.CacheRepo, maxRetries int) *fixture {
	source := newFakeSource()
	svc := NewService(
		zerolog.Nop(),
		cache.NewService(zerolog.Nop(), repo, 0, nil),
		source,
		fixedLatest{date: newest},
		Config{FirstDate: first, MaxRetries: maxRetries, RetryBackoff: time.Millisecond, RandomAttempts: 3},
		nil,
	).(*service)

	return &fixture{svc: svc, repo: repo, source: source}
}

func TestResolveColdThenWarm(t *testing.T) {
	f := newFixture(database.NewMemoryRepo(), 0)
	ctx := context.Background()

	cold, err := f.svc.Resolve(ctx, Request{Kind: KindDate, Date: day("2000-01-01")})
	require.NoError(t, err)

	warm, err := f.svc.Resolve(ctx, Request{Kind: KindDate, Date: day("2000-01-01")})
	require.NoError(t, err)

	assert.Equal(t, cold, warm)
	assert.Equal(t, 1, f.source.total())
	assert.Equal(t, "2000-01-01", cold.Date)
	assert.Equal(t, "1999-12-31", cold.PreviousDate)
	assert.Equal(t, "2000-01-02", cold.NextDate)
	assert.False(t, cold.DisableLeft)
	assert.False(t, cold.DisableRight)
}

func TestResolveKinds(t *testing.T) {
	tests := []struct {
		name        string
		req         Request
		date        string
		left, right bool
	}{
		{name: "first", req: Request{Kind: KindFirst}, date: "1989-04-16", left: true},
		{name: "latest", req: Request{Kind: KindLatest}, date: "2023-03-09", right: true},
		{name: "back", req: Request{Kind: KindRelative, Date: day("2000-03-01"), Delta: -1}, date: "2000-02-29"},
		{name: "forward", req: Request{Kind: KindRelative, Date: day("2023-03-08"), Delta: 1}, date: "2023-03-09", right: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(database.NewMemoryRepo(), 0)

			view, err := f.svc.Resolve(context.Background(), tt.req)
			require.NoError(t, err)
			assert.Equal(t, tt.date, view.Date)
			assert.Equal(t, tt.left, view.DisableLeft)
			assert.Equal(t, tt.right, view.DisableRight)
		})
	}
}

func TestResolveOutOfRange(t *testing.T) {
	tests := []struct {
		name string
		req  Request
		want error
	}{
		{name: "after latest", req: Request{Kind: KindDate, Date: day("2023-03-10")}, want: domain.ErrNotYetPublished},
		{name: "past latest", req: Request{Kind: KindRelative, Date: newest, Delta: 1}, want: domain.ErrNotYetPublished},
		{name: "before first", req: Request{Kind: KindDate, Date: day("1989-04-15")}, want: domain.ErrComicNotFound},
		{name: "before first relative", req: Request{Kind: KindRelative, Date: first, Delta: -1}, want: domain.ErrComicNotFound},
		{name: "unknown kind", req: Request{Kind: Kind(42)}, want: domain.ErrInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(database.NewMemoryRepo(), 0)

			_, err := f.svc.Resolve(context.Background(), tt.req)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, 0, f.source.total(), "must not reach the source")
		})
	}
}

func TestResolveDataGap(t *testing.T) {
	repo := database.NewMemoryRepo()
	f := newFixture(repo, 2)
	f.source.fail("2000-01-01", domain.ScrapeNotFound)

	_, err := f.svc.Resolve(context.Background(), Request{Kind: KindDate, Date: day("2000-01-01")})
	assert.ErrorIs(t, err, domain.ErrComicNotFound)
	assert.Equal(t, 1, f.source.total(), "not found is not retried")

	n, err := repo.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestResolveRetriesNetwork(t *testing.T) {
	f := newFixture(database.NewMemoryRepo(), 2)
	f.source.fail("2000-01-01", domain.ScrapeNetwork, domain.ScrapeNetwork)

	view, err := f.svc.Resolve(context.Background(), Request{Kind: KindDate, Date: day("2000-01-01")})
	require.NoError(t, err)
	assert.Equal(t, "2000-01-01", view.Date)
	assert.Equal(t, 3, f.source.total())
}

func TestResolveRetriesExhausted(t *testing.T) {
	f := newFixture(database.NewMemoryRepo(), 1)
	f.source.fail("2000-01-01", domain.ScrapeNetwork, domain.ScrapeNetwork, domain.ScrapeNetwork)

	_, err := f.svc.Resolve(context.Background(), Request{Kind: KindDate, Date: day("2000-01-01")})
	assert.True(t, domain.IsScrapeKind(err, domain.ScrapeNetwork), "%v", err)
	assert.Equal(t, 2, f.source.total())
}

func TestResolveMalformedNotRetried(t *testing.T) {
	f := newFixture(database.NewMemoryRepo(), 3)
	f.source.fail("2000-01-01", domain.ScrapeMalformed)

	_, err := f.svc.Resolve(context.Background(), Request{Kind: KindDate, Date: day("2000-01-01")})
	assert.True(t, domain.IsScrapeKind(err, domain.ScrapeMalformed), "%v", err)
	assert.Equal(t, 1, f.source.total())
}

func TestResolveStoreUnavailable(t *testing.T) {
	f := newFixture(unavailableRepo{database.NewMemoryRepo()}, 0)

	view, err := f.svc.Resolve(context.Background(), Request{Kind: KindDate, Date: day("2000-01-01")})
	require.NoError(t, err)
	assert.Equal(t, "https://assets.example.com/2000-01-01", view.ImageURL)
}

func TestResolveLatestUnknown(t *testing.T) {
	f := newFixture(database.NewMemoryRepo(), 0)
	f.svc.latest = fixedLatest{err: errors.Wrap(domain.ErrLatestUnknown, "source down")}

	_, err := f.svc.Resolve(context.Background(), Request{Kind: KindDate, Date: day("2000-01-01")})
	assert.ErrorIs(t, err, domain.ErrLatestUnknown)
}

func TestResolveRandomWithinBounds(t *testing.T) {
	f := newFixture(database.NewMemoryRepo(), 0)

	for i := 0; i < 1000; i++ {
		view, err := f.svc.Resolve(context.Background(), Request{Kind: KindRandom})
		require.NoError(t, err)

		date := day(view.Date)
		require.False(t, date.Before(first), view.Date)
		require.False(t, date.After(newest), view.Date)
	}
}

func TestResolveRandomInclusiveBounds(t *testing.T) {
	f := newFixture(database.NewMemoryRepo(), 0)
	span := domain.DaysBetween(first, newest)

	f.svc.intn = func(n int) int { return 0 }
	view, err := f.svc.Resolve(context.Background(), Request{Kind: KindRandom})
	require.NoError(t, err)
	assert.Equal(t, "1989-04-16", view.Date)

	f.svc.intn = func(n int) int {
		assert.Equal(t, span+1, n)
		return n - 1
	}
	view, err = f.svc.Resolve(context.Background(), Request{Kind: KindRandom})
	require.NoError(t, err)
	assert.Equal(t, "2023-03-09", view.Date)
}

func TestResolveRandomResamplesGaps(t *testing.T) {
	f := newFixture(database.NewMemoryRepo(), 0)
	f.source.fail("1989-04-17", domain.ScrapeNotFound)

	offsets := []int{1, 1, 2}
	f.svc.intn = func(n int) int {
		o := offsets[0]
		offsets = offsets[1:]
		return o
	}

	view, err := f.svc.Resolve(context.Background(), Request{Kind: KindRandom})
	require.NoError(t, err)
	assert.Equal(t, "1989-04-18", view.Date)

	offsets = []int{1, 1, 1}
	_, err = f.svc.Resolve(context.Background(), Request{Kind: KindRandom})
	assert.ErrorIs(t, err, domain.ErrComicNotFound)
}

func TestResolveCoalescesScrapes(t *testing.T) {
	f := newFixture(database.NewMemoryRepo(), 0)
	f.source.release = make(chan struct{})

	var wg sync.WaitGroup
	views := make([]*domain.ComicView, 8)
	for i := range views {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := f.svc.Resolve(context.Background(), Request{Kind: KindDate, Date: day("2000-01-01")})
			assert.NoError(t, err)
			views[i] = v
		}(i)
	}

	require.Eventually(t, func() bool { return f.source.total() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(f.source.release)
	wg.Wait()

	assert.Equal(t, 1, f.source.total())
	for _, v := range views {
		require.NotNil(t, v)
		assert.Equal(t, "2000-01-01", v.Date)
	}
}

func TestResolveSurvivesCanceledWaiter(t *testing.T) {
	f := newFixture(database.NewMemoryRepo(), 0)
	f.source.release = make(chan struct{})
	req := Request{Kind: KindDate, Date: day("2000-01-01")}

	ctx, cancel := context.WithCancel(context.Background())
	canceled := make(chan error, 1)
	go func() {
		_, err := f.svc.Resolve(ctx, req)
		canceled <- err
	}()
	require.Eventually(t, func() bool { return f.source.total() == 1 }, time.Second, 5*time.Millisecond)

	type result struct {
		view *domain.ComicView
		err  error
	}
	other := make(chan result, 1)
	go func() {
		v, err := f.svc.Resolve(context.Background(), req)
		other <- result{v, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	select {
	case err := <-canceled:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("canceled caller kept waiting")
	}

	close(f.source.release)
	select {
	case r := <-other:
		require.NoError(t, r.err)
		assert.Equal(t, "2000-01-01", r.view.Date)
	case <-time.After(time.Second):
		t.Fatal("remaining caller never resolved")
	}
	assert.Equal(t, 1, f.source.total())
}

func TestResolveSharedScrapeTimeout(t *testing.T) {
	f := newFixture(database.NewMemoryRepo(), 0)
	f.source.release = make(chan struct{})
	defer close(f.source.release)
	f.svc.cfg.ScrapeTimeout = 20 * time.Millisecond

	_, err := f.svc.Resolve(context.Background(), Request{Kind: KindDate, Date: day("2000-01-01")})
	assert.True(t, domain.IsScrapeKind(err, domain.ScrapeNetwork), "%v", err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
