package mmp

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/KeyIP-MMP/internal/domain/fragment"
	"github.com/turtacn/KeyIP-MMP/internal/infrastructure/database/redis"
	pkgerrors "github.com/turtacn/KeyIP-MMP/pkg/errors"
)

func newTestCache(t *testing.T) (redis.Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return redis.NewRedisCache(redis.NewClientFromUniversal(rdb, nil), nil, redis.WithoutJitter()), mr
}

func TestCachedFragmenter_HitsAfterFirstCall(t *testing.T) {
	cache, mr := newTestCache(t)
	eng := &fakeEngine{}
	cf := NewCachedFragmenter(eng, cache, time.Hour, 3, 100, nil, nil)
	m := fragment.Molecule{Text: "CCO", CompoundID: "ethanol"}

	first, err := cf.Fragment(context.Background(), m)
	require.NoError(t, err)
	second, err := cf.Fragment(context.Background(), m)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), eng.calls.Load())
	hits, misses := cf.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), misses)

	key := "mmp:" + cf.Key(m)
	assert.True(t, mr.Exists(key))
	assert.Equal(t, time.Hour, mr.TTL(key))
}

func TestCachedFragmenter_KeySeparatesInputs(t *testing.T) {
	cache, _ := newTestCache(t)
	a := NewCachedFragmenter(&fakeEngine{}, cache, time.Hour, 3, 100, nil, nil)
	b := NewCachedFragmenter(&fakeEngine{}, cache, time.Hour, 2, 100, nil, nil)
	m := fragment.Molecule{Text: "CCO", CompoundID: "ethanol"}

	assert.Equal(t, a.Key(m), a.Key(m))
	assert.NotEqual(t, a.Key(m), b.Key(m))
	assert.NotEqual(t, a.Key(m), a.Key(fragment.Molecule{Text: "CCO", CompoundID: "other"}))
	assert.NotEqual(t, a.Key(m), a.Key(fragment.Molecule{Text: "CCN", CompoundID: "ethanol"}))
}

func TestCachedFragmenter_ErrorsAreNotCached(t *testing.T) {
	cache, _ := newTestCache(t)
	eng := &fakeEngine{errs: map[string]error{"C1CC": pkgerrors.New(pkgerrors.ErrCodeMoleculeInvalidSMILES, "unclosed ring")}}
	cf := NewCachedFragmenter(eng, cache, time.Hour, 3, 100, nil, nil)
	m := fragment.Molecule{Text: "C1CC", CompoundID: "bad"}

	for i := 0; i < 2; i++ {
		_, err := cf.Fragment(context.Background(), m)
		assert.True(t, pkgerrors.IsCode(err, pkgerrors.ErrCodeMoleculeInvalidSMILES))
	}
	assert.Equal(t, int32(2), eng.calls.Load())
}

func TestCachedFragmenter_FallsBackWhenRedisIsDown(t *testing.T) {
	cache, mr := newTestCache(t)
	mr.Close()
	eng := &fakeEngine{}
	cf := NewCachedFragmenter(eng, cache, time.Hour, 3, 100, nil, nil)

	res, err := cf.Fragment(context.Background(), fragment.Molecule{Text: "CCO", CompoundID: "1"})
	require.NoError(t, err)
	assert.Len(t, res.Records, 2)
	assert.Equal(t, int32(1), eng.calls.Load())
}

func TestCachedFragmenter_InService(t *testing.T) {
	cache, _ := newTestCache(t)
	eng := &fakeEngine{}
	cf := NewCachedFragmenter(eng, cache, time.Hour, 3, 100, nil, nil)
	svc := NewService(cf, ServiceConfig{Workers: 1}, nil, nil)
	ms := molecules(3)

	for i := 0; i < 2; i++ {
		sink := &CollectingSink{}
		_, err := svc.Run(context.Background(), ms, sink)
		require.NoError(t, err)
		assert.Len(t, sink.Records, 6)
	}
	assert.Equal(t, int32(3), eng.calls.Load())
}
