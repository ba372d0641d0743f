package sequence_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezonia/nfe-engine/internal/model"
	"github.com/rezonia/nfe-engine/internal/sequence"
)

func testKey() sequence.Key {
	return sequence.Key{CompanyID: "c-" + uuid.NewString(), Branch: "matriz", Model: model.ModelNFe, Series: 1}
}

// allocateConcurrently draws n numbers from 8 goroutines and returns them
func allocateConcurrently(t *testing.T, alloc sequence.Allocator, key sequence.Key, n int) map[int64]bool {
	t.Helper()
	var (
		mu   sync.Mutex
		seen = make(map[int64]bool, n)
		wg   sync.WaitGroup
	)
	jobs := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		jobs <- struct{}{}
	}
	close(jobs)

	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range jobs {
				got, err := alloc.Next(context.Background(), key)
				if !assert.NoError(t, err) {
					return
				}
				mu.Lock()
				assert.False(t, seen[got], "duplicate number %d", got)
				seen[got] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return seen
}

func TestMemory_Sequential(t *testing.T) {
	alloc := sequence.NewMemory()
	key := testKey()

	for want := int64(1); want <= 3; want++ {
		got, err := alloc.Next(context.Background(), key)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	other := key
	other.Series = 2
	got, err := alloc.Next(context.Background(), other)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got, "series are independent")
}

func TestMemory_Seed(t *testing.T) {
	alloc := sequence.NewMemory()
	key := testKey()
	alloc.Seed(key, 41)
	alloc.Seed(key, 10)

	got, err := alloc.Next(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, int64(42), got)
}

func TestMemory_Exhausted(t *testing.T) {
	alloc := sequence.NewMemory()
	key := testKey()
	alloc.Seed(key, sequence.MaxNumber)

	_, err := alloc.Next(context.Background(), key)
	assert.True(t, errors.Is(err, model.ErrValidation))
}

func TestMemory_Concurrent(t *testing.T) {
	seen := allocateConcurrently(t, sequence.NewMemory(), testKey(), 200)
	assert.Len(t, seen, 200)
	for i := int64(1); i <= 200; i++ {
		assert.True(t, seen[i], "missing %d", i)
	}
}

func TestKey_Validate(t *testing.T) {
	_, err := sequence.NewMemory().Next(context.Background(), sequence.Key{Series: 1})
	assert.True(t, errors.Is(err, model.ErrValidation))

	_, err = sequence.NewMemory().Next(context.Background(), sequence.Key{CompanyID: "x", Series: 1000})
	assert.True(t, errors.Is(err, model.ErrValidation))
}

func TestKeyOf_DefaultsModel(t *testing.T) {
	key := sequence.KeyOf(model.Header{CompanyID: "acme", Series: 3})
	assert.Equal(t, model.ModelNFe, key.Model)
	assert.Equal(t, "acme::55:3", key.String())
}

func TestPostgres_Concurrent(t *testing.T) {
	_ = godotenv.Load("../../.env")
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping integration test")
	}

	ctx := context.Background()
	pool, err := sequence.NewPool(ctx, url)
	require.NoError(t, err)
	defer pool.Close()

	alloc := sequence.NewPostgres(pool)
	require.NoError(t, alloc.Migrate(ctx))

	key := testKey()
	require.NoError(t, alloc.Seed(ctx, key, 100))

	seen := allocateConcurrently(t, alloc, key, 50)
	assert.Len(t, seen, 50)
	assert.True(t, seen[101])
	assert.True(t, seen[150])
}

func TestRedis_Concurrent(t *testing.T) {
	_ = godotenv.Load("../../.env")
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set, skipping integration test")
	}

	ctx := context.Background()
	client, err := sequence.NewRedisClient(ctx, url)
	require.NoError(t, err)
	defer client.Close()

	alloc := sequence.NewRedis(client)
	key := testKey()
	require.NoError(t, alloc.Seed(ctx, key, 7))

	seen := allocateConcurrently(t, alloc, key, 50)
	assert.Len(t, seen, 50)
	assert.True(t, seen[8])
	assert.True(t, seen[57])
}
