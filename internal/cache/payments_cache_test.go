package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"moneyfusion/internal/domain"
	"moneyfusion/internal/repository/payments_repo/memory"
)

type countingRepo struct {
	*memory.PaymentRepository
	gets int
}

func (c *countingRepo) GetByToken(ctx context.Context, token string) (*domain.Payment, error) {
	c.gets++
	return c.PaymentRepository.GetByToken(ctx, token)
}

// pausingRepo holds the first GetByToken after the inner read until release
// is closed.
type pausingRepo struct {
	*memory.PaymentRepository
	read    chan struct{}
	release chan struct{}
	once    sync.Once
}

func (p *pausingRepo) GetByToken(ctx context.Context, token string) (*domain.Payment, error) {
	got, err := p.PaymentRepository.GetByToken(ctx, token)
	p.once.Do(func() {
		close(p.read)
		<-p.release
	})
	return got, err
}

func setup(t *testing.T) (*PaymentRepository, *countingRepo, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	inner := &countingRepo{PaymentRepository: memory.NewPaymentRepository(nil)}
	return NewPaymentRepository(inner, client, time.Minute, zap.NewNop()), inner, mr
}

func payment() *domain.Payment {
	now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	return &domain.Payment{
		Token:       "T1",
		Amount:      decimal.NewFromInt(5000),
		Status:      domain.PaymentStatusPending,
		Metadata:    map[string]string{domain.MetadataUserID: "7"},
		RawResponse: map[string]any{"token": "T1"},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func TestReadThrough(t *testing.T) {
	ctx := context.Background()
	repo, inner, mr := setup(t)
	require.NoError(t, inner.PaymentRepository.Create(ctx, payment()))

	first, err := repo.GetByToken(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, 1, inner.gets)
	assert.True(t, mr.Exists(keyPrefix+"T1"))

	second, err := repo.GetByToken(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, 1, inner.gets, "second read is served from redis")
	assert.True(t, first.Amount.Equal(second.Amount))
	assert.Equal(t, "7", second.UserID())
}

func TestCompareAndSwapRefreshesCache(t *testing.T) {
	ctx := context.Background()
	repo, inner, _ := setup(t)
	require.NoError(t, repo.Create(ctx, payment()))

	next, err := repo.GetByToken(ctx, "T1")
	require.NoError(t, err)
	next.Status = domain.PaymentStatusPaid
	require.NoError(t, repo.CompareAndSwap(ctx, next, domain.PaymentStatusPending, 0, nil))

	cached, err := repo.GetByToken(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusPaid, cached.Status)
	assert.Equal(t, int64(1), cached.Version)
	assert.Equal(t, 0, inner.gets)
}

func TestLostRaceEvicts(t *testing.T) {
	ctx := context.Background()
	repo, _, mr := setup(t)
	require.NoError(t, repo.Create(ctx, payment()))

	stale := payment()
	stale.Status = domain.PaymentStatusFailed
	err := repo.CompareAndSwap(ctx, stale, domain.PaymentStatusPending, 5, nil)

	assert.ErrorIs(t, err, domain.ErrConcurrentUpdate)
	assert.False(t, mr.Exists(keyPrefix+"T1"))
}

func TestRedisDownFallsThrough(t *testing.T) {
	ctx := context.Background()
	repo, inner, mr := setup(t)
	require.NoError(t, inner.PaymentRepository.Create(ctx, payment()))
	mr.Close()

	p, err := repo.GetByToken(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, "T1", p.Token)

	_, err = repo.GetByToken(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSlowFillDoesNotOverwriteNewerVersion(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	inner := &pausingRepo{
		PaymentRepository: memory.NewPaymentRepository(nil),
		read:              make(chan struct{}),
		release:           make(chan struct{}),
	}
	require.NoError(t, inner.PaymentRepository.Create(ctx, payment()))
	repo := NewPaymentRepository(inner, client, time.Minute, zap.NewNop())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		stale, err := repo.GetByToken(ctx, "T1")
		assert.NoError(t, err)
		assert.Equal(t, domain.PaymentStatusPending, stale.Status)
	}()
	<-inner.read

	next := payment()
	next.Status = domain.PaymentStatusPaid
	require.NoError(t, repo.CompareAndSwap(ctx, next, domain.PaymentStatusPending, 0, nil))
	close(inner.release)
	wg.Wait()

	cached, err := repo.GetByToken(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusPaid, cached.Status)
	assert.Equal(t, int64(1), cached.Version)
	assert.Equal(t, "1", mr.HGet(keyPrefix+"T1", "version"))
}

func TestStoreSetsTTL(t *testing.T) {
	ctx := context.Background()
	repo, _, mr := setup(t)
	require.NoError(t, repo.Create(ctx, payment()))

	assert.Equal(t, time.Minute, mr.TTL(keyPrefix+"T1"))
}
