package tokencache

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Chichichkin/forgelog/internal/testutils"
)

func strPtr(s string) *string {
	return &s
}

func TestCache_ReadMissRequeriesStore(t *testing.T) {
	store := testutils.NewMockStore()
	c := New(store, "sdk-1", nil)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		_, ok := c.Read(ctx)
		assert.False(t, ok)
		gets, _, _ := store.Stats()
		assert.Equal(t, i, gets)
	}

	store.Put(KeyFor("sdk-1"), "tok")

	token, ok := c.Read(ctx)
	assert.True(t, ok)
	assert.Equal(t, "tok", token)

	for i := 0; i < 3; i++ {
		token, ok = c.Read(ctx)
		assert.True(t, ok)
		assert.Equal(t, "tok", token)
	}
	gets, _, _ := store.Stats()
	assert.Equal(t, 4, gets, "a present token must be served from memory")
}

func TestCache_StoreFailureIsNotCached(t *testing.T) {
	store := testutils.NewMockStore()
	store.Put(KeyFor("sdk-1"), "tok")
	store.SetFailGet(true)
	c := New(store, "sdk-1", nil)
	ctx := context.Background()

	_, ok := c.Read(ctx)
	assert.False(t, ok)
	_, ok = c.Read(ctx)
	assert.False(t, ok)

	store.SetFailGet(false)
	token, ok := c.Read(ctx)
	assert.True(t, ok)
	assert.Equal(t, "tok", token)

	gets, _, _ := store.Stats()
	assert.Equal(t, 3, gets)
}

func TestCache_WritePersistsAndCaches(t *testing.T) {
	store := testutils.NewMockStore()
	c := New(store, "sdk-1", nil)
	ctx := context.Background()

	c.Write(ctx, strPtr("tok"))

	v, ok := store.Value("device_sdk-1")
	assert.True(t, ok)
	assert.Equal(t, "tok", v)

	token, ok := c.Read(ctx)
	assert.True(t, ok)
	assert.Equal(t, "tok", token)
	gets, sets, _ := store.Stats()
	assert.Equal(t, 0, gets)
	assert.Equal(t, 1, sets)
}

func TestCache_WriteNilDeletes(t *testing.T) {
	store := testutils.NewMockStore()
	c := New(store, "sdk-1", nil)
	ctx := context.Background()

	c.Write(ctx, strPtr("tok"))
	c.Write(ctx, nil)

	_, ok := store.Value("device_sdk-1")
	assert.False(t, ok)
	_, ok = c.Read(ctx)
	assert.False(t, ok)
	_, _, deletes := store.Stats()
	assert.Equal(t, 1, deletes)
}

func TestCache_PersistFailureKeepsMemory(t *testing.T) {
	store := testutils.NewMockStore()
	store.FailWrite = true
	c := New(store, "sdk-1", nil)
	ctx := context.Background()

	c.Write(ctx, strPtr("tok"))

	token, ok := c.Read(ctx)
	assert.True(t, ok)
	assert.Equal(t, "tok", token)
	_, persisted := store.Value("device_sdk-1")
	assert.False(t, persisted)
}

func TestCache_ConcurrentAccess(t *testing.T) {
	store := testutils.NewMockStore()
	c := New(store, "sdk-1", nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			c.Write(ctx, strPtr("tok"))
		}()
		go func() {
			defer wg.Done()
			c.Read(ctx)
		}()
	}
	wg.Wait()

	token, ok := c.Read(ctx)
	assert.True(t, ok)
	assert.Equal(t, "tok", token)
}
