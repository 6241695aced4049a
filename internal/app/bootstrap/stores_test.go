package bootstrap

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"moneyfusion/internal/cache"
	"moneyfusion/internal/config"
	payments_memory "moneyfusion/internal/repository/payments_repo/memory"
)

func TestOpenStores_Memory(t *testing.T) {
	cfg := &config.Config{StoreDriver: config.StoreDriverMemory}

	s, err := OpenStores(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer s.Close()

	assert.IsType(t, &payments_memory.PaymentRepository{}, s.Payments)
	assert.NotNil(t, s.Webhooks)
	assert.NotNil(t, s.Outbox)
}

func TestOpenStores_MemoryWithRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := &config.Config{StoreDriver: config.StoreDriverMemory, RedisAddr: mr.Addr(), RedisTTL: time.Minute}

	s, err := OpenStores(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer s.Close()

	assert.IsType(t, &cache.PaymentRepository{}, s.Payments)
}

func TestOpenStores_RedisUnreachable(t *testing.T) {
	cfg := &config.Config{StoreDriver: config.StoreDriverMemory, RedisAddr: "127.0.0.1:1"}

	_, err := OpenStores(context.Background(), cfg, zap.NewNop())
	assert.Error(t, err)
}

func TestDBConfig(t *testing.T) {
	cfg := &config.Config{}
	cfg.DBConfig.Host = "db"
	cfg.DBConfig.Port = 5433
	cfg.DBConfig.Name = "payments"

	dbCfg := DBConfig(cfg)

	assert.Equal(t, "db", dbCfg.Host)
	assert.Equal(t, 5433, dbCfg.Port)
	assert.Equal(t, "payments", dbCfg.DBName)
}
