package outbox

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"moneyfusion/internal/domain"
	"moneyfusion/internal/repository/outbox_repo/memory"
)

type produced struct {
	topic, key string
	value      []byte
}

type fakeProducer struct {
	fail bool
	out  []produced
}

func (f *fakeProducer) Produce(_ context.Context, topic, key string, value []byte) error {
	if f.fail {
		return errors.New("broker unavailable")
	}
	f.out = append(f.out, produced{topic: topic, key: key, value: value})
	return nil
}

func (f *fakeProducer) Close() error { return nil }

func message(id, msgType string, at time.Time) *domain.OutboxMessage {
	return &domain.OutboxMessage{
		ID:          id,
		AggregateID: "T-" + id,
		MessageType: msgType,
		Payload:     []byte(`{"token":"T-` + id + `"}`),
		Status:      domain.OutboxStatusPending,
		CreatedAt:   at,
	}
}

func pendingCount(repo *memory.OutboxRepository) int {
	n := 0
	for _, m := range repo.Messages() {
		if m.Status == domain.OutboxStatusPending {
			n++
		}
	}
	return n
}

func newProcessor(repo OutboxRepository, producer *fakeProducer) *Processor {
	topics := map[string]string{domain.MessageTypePaymentStatusUpdated: "moneyfusion_payment_status"}
	return NewProcessor(repo, producer, topics, time.Millisecond, time.Second, zap.NewNop())
}

func TestProcessOnce(t *testing.T) {
	repo := memory.NewOutboxRepository()
	base := time.Now()
	repo.Append(message("1", domain.MessageTypePaymentStatusUpdated, base))
	repo.Append(message("2", domain.MessageTypePaymentStatusUpdated, base.Add(time.Second)))
	repo.Append(message("3", "something.else", base.Add(2*time.Second)))
	producer := &fakeProducer{}

	newProcessor(repo, producer).ProcessOnce(context.Background())

	require.Len(t, producer.out, 2)
	assert.Equal(t, "moneyfusion_payment_status", producer.out[0].topic)
	assert.Equal(t, "T-1", producer.out[0].key)
	assert.Equal(t, "T-2", producer.out[1].key)

	statuses := map[string]domain.OutboxMessageStatus{}
	for _, m := range repo.Messages() {
		statuses[m.ID] = m.Status
	}
	assert.Equal(t, domain.OutboxStatusSent, statuses["1"])
	assert.Equal(t, domain.OutboxStatusSent, statuses["2"])
	assert.Equal(t, domain.OutboxStatusFailed, statuses["3"])
}

func TestProcessOnce_ProducerFailureKeepsMessagePending(t *testing.T) {
	repo := memory.NewOutboxRepository()
	repo.Append(message("1", domain.MessageTypePaymentStatusUpdated, time.Now()))

	newProcessor(repo, &fakeProducer{fail: true}).ProcessOnce(context.Background())

	assert.Equal(t, 1, pendingCount(repo))
	producer := &fakeProducer{}
	newProcessor(repo, producer).ProcessOnce(context.Background())
	assert.Len(t, producer.out, 1, "released message is retried on the next poll")
	assert.Zero(t, pendingCount(repo))
}

func TestProcessOnce_ConcurrentProcessorsPublishOnce(t *testing.T) {
	repo := memory.NewOutboxRepository()
	base := time.Now()
	for i := 0; i < 20; i++ {
		repo.Append(message(strconv.Itoa(i), domain.MessageTypePaymentStatusUpdated, base.Add(time.Duration(i)*time.Millisecond)))
	}
	producers := []*fakeProducer{{}, {}, {}}

	var wg sync.WaitGroup
	for _, producer := range producers {
		wg.Add(1)
		go func(producer *fakeProducer) {
			defer wg.Done()
			newProcessor(repo, producer).ProcessOnce(context.Background())
		}(producer)
	}
	wg.Wait()

	seen := map[string]int{}
	for _, producer := range producers {
		for _, out := range producer.out {
			seen[out.key]++
		}
	}
	assert.Len(t, seen, 20)
	for key, n := range seen {
		assert.Equal(t, 1, n, key)
	}
	assert.Zero(t, pendingCount(repo))
}

func TestClaimPendingMessages_Lease(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOutboxRepository()
	repo.Append(message("1", domain.MessageTypePaymentStatusUpdated, time.Now()))

	claimed, err := repo.ClaimPendingMessages(ctx, 10, time.Hour)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	again, err := repo.ClaimPendingMessages(ctx, 10, time.Hour)
	require.NoError(t, err)
	assert.Empty(t, again, "leased message is not handed out twice")

	require.NoError(t, repo.ReleaseMessages(ctx, []string{"1"}))
	released, err := repo.ClaimPendingMessages(ctx, 10, time.Millisecond)
	require.NoError(t, err)
	assert.Len(t, released, 1)

	require.Eventually(t, func() bool {
		expired, err := repo.ClaimPendingMessages(ctx, 10, time.Hour)
		return err == nil && len(expired) == 1
	}, time.Second, 5*time.Millisecond, "expired lease makes the message claimable")
}

func TestStartStopsOnCancel(t *testing.T) {
	repo := memory.NewOutboxRepository()
	repo.Append(message("1", domain.MessageTypePaymentStatusUpdated, time.Now()))
	producer := &fakeProducer{}
	p := newProcessor(repo, producer)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return pendingCount(repo) == 0
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("processor did not stop")
	}
}
