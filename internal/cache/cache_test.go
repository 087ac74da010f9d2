package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type plate struct {
	Dish  string `json:"dish"`
	Count int    `json:"count"`
}

func setupMiniredis(t *testing.T) *miniredis.Miniredis {
	t.Helper()
	mr := miniredis.RunT(t)
	SetClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { SetClient(nil) })
	return mr
}

func counting(calls *int32, dish string) func(context.Context) (plate, error) {
	return func(context.Context) (plate, error) {
		n := atomic.AddInt32(calls, 1)
		return plate{Dish: dish, Count: int(n)}, nil
	}
}

func TestAside_MissThenHit(t *testing.T) {
	mr := setupMiniredis(t)
	ctx := context.Background()
	var calls int32

	first, err := Aside(ctx, PostKey("p1"), PostTTL, counting(&calls, "ramen"))
	require.NoError(t, err)
	second, err := Aside(ctx, PostKey("p1"), PostTTL, counting(&calls, "ramen"))
	require.NoError(t, err)

	assert.EqualValues(t, 1, calls)
	assert.Equal(t, first, second)
	assert.Equal(t, PostTTL, mr.TTL(PostKey("p1")))
}

func TestAside_InvalidateForcesRefetch(t *testing.T) {
	mr := setupMiniredis(t)
	ctx := context.Background()
	var calls int32

	_, err := Aside(ctx, PostKey("p2"), PostTTL, counting(&calls, "curry"))
	require.NoError(t, err)
	assert.True(t, mr.Exists(PostKey("p2")))

	InvalidatePost(ctx, "p2")
	assert.False(t, mr.Exists(PostKey("p2")))

	v, err := Aside(ctx, PostKey("p2"), PostTTL, counting(&calls, "curry"))
	require.NoError(t, err)
	assert.Equal(t, 2, v.Count)
}

func TestAside_FetchErrorIsNotCached(t *testing.T) {
	mr := setupMiniredis(t)
	boom := errors.New("db down")

	_, err := Aside(context.Background(), PostKey("p3"), PostTTL, func(context.Context) (plate, error) {
		return plate{}, boom
	})
	assert.ErrorIs(t, err, boom)
	assert.False(t, mr.Exists(PostKey("p3")))
}

func TestAside_NoClientCallsFetch(t *testing.T) {
	SetClient(nil)
	var calls int32
	v, err := Aside(context.Background(), PostKey("p4"), PostTTL, counting(&calls, "tacos"))
	require.NoError(t, err)
	assert.Equal(t, "tacos", v.Dish)
	assert.EqualValues(t, 1, calls)
}

func TestAside_RedisDownFallsBackToFetch(t *testing.T) {
	mr := setupMiniredis(t)
	mr.Close()

	var calls int32
	_, err := Aside(context.Background(), PostKey("p5"), PostTTL, counting(&calls, "pho"))
	require.NoError(t, err)
	assert.EqualValues(t, 1, calls)
}

func TestAside_ConcurrentMissesShareOneFetch(t *testing.T) {
	setupMiniredis(t)
	ctx := context.Background()
	var calls int32
	release := make(chan struct{})

	slow := func(context.Context) (plate, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return plate{Dish: "paella"}, nil
	}

	var wg sync.WaitGroup
	results := make([]plate, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := Aside(ctx, PostKey("p6"), PostTTL, slow)
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.EqualValues(t, 1, calls)
	for _, v := range results {
		assert.Equal(t, "paella", v.Dish)
	}
}

func TestAside_InvalidateDuringLoadIsNotStored(t *testing.T) {
	mr := setupMiniredis(t)
	ctx := context.Background()
	var calls, stored int32 = 0, 5
	started, release := make(chan struct{}), make(chan struct{})

	load := func(context.Context) (plate, error) {
		v := plate{Dish: "gyoza", Count: int(atomic.LoadInt32(&stored))}
		if atomic.AddInt32(&calls, 1) == 1 {
			close(started)
			<-release
		}
		return v, nil
	}

	done := make(chan plate, 1)
	go func() {
		v, err := Aside(ctx, PostKey("p7"), PostTTL, load)
		assert.NoError(t, err)
		done <- v
	}()

	<-started
	atomic.StoreInt32(&stored, 6)
	InvalidatePost(ctx, "p7")
	close(release)

	assert.Equal(t, 5, (<-done).Count)
	assert.False(t, mr.Exists(PostKey("p7")))

	v, err := Aside(ctx, PostKey("p7"), PostTTL, load)
	require.NoError(t, err)
	assert.Equal(t, 6, v.Count)
	assert.EqualValues(t, 2, calls)
	assert.True(t, mr.Exists(PostKey("p7")))
}

func TestAside_CancelledCallerDoesNotFailOthers(t *testing.T) {
	setupMiniredis(t)
	var once sync.Once
	started, release := make(chan struct{}), make(chan struct{})

	load := func(ctx context.Context) (plate, error) {
		once.Do(func() { close(started) })
		select {
		case <-release:
			return plate{Dish: "bibimbap"}, nil
		case <-ctx.Done():
			return plate{}, ctx.Err()
		}
	}

	first, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := Aside(first, PostKey("p8"), PostTTL, load)
		firstErr <- err
	}()
	<-started

	type result struct {
		v   plate
		err error
	}
	second := make(chan result, 1)
	go func() {
		v, err := Aside(context.Background(), PostKey("p8"), PostTTL, load)
		second <- result{v, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-firstErr, context.Canceled)
	close(release)

	got := <-second
	require.NoError(t, got.err)
	assert.Equal(t, "bibimbap", got.v.Dish)
}

func TestInvalidate_BumpsGeneration(t *testing.T) {
	mr := setupMiniredis(t)
	ctx := context.Background()

	require.NoError(t, Invalidate(ctx, PostKey("p9")))
	require.NoError(t, Invalidate(ctx, PostKey("p9")))

	gen, err := mr.Get(generationKey(PostKey("p9")))
	require.NoError(t, err)
	assert.Equal(t, "2", gen)
	assert.Equal(t, generationTTL, mr.TTL(generationKey(PostKey("p9"))))
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "post:abc", PostKey("abc"))
	assert.Equal(t, "session:j1", SessionKey("j1"))
	assert.Equal(t, "session:identity:u1", IdentitySessionsKey("u1"))
}

func TestParseOptions(t *testing.T) {
	opts, err := ParseOptions("localhost:6379")
	require.NoError(t, err)
	assert.Equal(t, "localhost:6379", opts.Addr)

	opts, err = ParseOptions("redis://:pw@cache:6380/2")
	require.NoError(t, err)
	assert.Equal(t, "cache:6380", opts.Addr)
	assert.Equal(t, "pw", opts.Password)
	assert.Equal(t, 2, opts.DB)

	_, err = ParseOptions("  ")
	assert.Error(t, err)
	_, err = ParseOptions("redis://cache:6379/notadb")
	assert.Error(t, err)
}

func TestInitRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	t.Cleanup(func() { SetClient(nil) })

	c := InitRedis(context.Background(), mr.Addr())
	require.NotNil(t, c)
	t.Cleanup(func() { _ = c.Close() })
	assert.Same(t, c, client)

	mr.Close()
	assert.Nil(t, InitRedis(context.Background(), mr.Addr()))
	assert.Nil(t, client)
}
