package outbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

type flakyPublisher struct {
	failures int
	calls    int
	msgs     []*nats.Msg
}

func (p *flakyPublisher) PublishMsg(msg *nats.Msg) error {
	p.calls++
	if p.calls <= p.failures {
		return errors.New("broker unavailable")
	}
	p.msgs = append(p.msgs, msg)
	return nil
}

func testWorker(pub natsPublisher, retryMax int) *Worker {
	return &Worker{
		publisher: pub,
		logger:    zap.NewNop(),
		cfg:       WorkerConfig{RetryMax: retryMax},
		tracer:    otel.Tracer("outbox.test"),
	}
}

func TestNewWorkerDefaults(t *testing.T) {
	w := NewWorker(nil, nil, nil, WorkerConfig{})
	require.Equal(t, 200*time.Millisecond, w.cfg.PollInterval)
	require.Equal(t, 100, w.cfg.BatchSize)
	require.Equal(t, 3, w.cfg.RetryMax)
	require.NotNil(t, w.logger)
}

func TestRunRequiresConnections(t *testing.T) {
	w := NewWorker(nil, nil, zap.NewNop(), WorkerConfig{})
	require.Error(t, w.Run(context.Background()))
}

func TestPublishWithRetryRecovers(t *testing.T) {
	pub := &flakyPublisher{failures: 2}
	w := testWorker(pub, 3)
	rec := record{ID: 7, Topic: "booking.events", Payload: []byte(`{"type":"BOOKING_CONFIRMED"}`), CreatedAt: time.Now()}

	err := w.publishWithRetry(context.Background(), rec)
	require.NoError(t, err)
	require.Equal(t, 3, pub.calls)
	require.Len(t, pub.msgs, 1)
	require.Equal(t, "booking.events", pub.msgs[0].Subject)
	require.JSONEq(t, `{"type":"BOOKING_CONFIRMED"}`, string(pub.msgs[0].Data))
}

func TestPublishWithRetryExhausts(t *testing.T) {
	pub := &flakyPublisher{failures: 10}
	w := testWorker(pub, 2)
	rec := record{ID: 9, Topic: "booking.events", Payload: []byte(`{}`), CreatedAt: time.Now()}

	err := w.publishWithRetry(context.Background(), rec)
	require.Error(t, err)
	require.Equal(t, 2, pub.calls)
}

func TestPublishWithRetryRejectsEmptyTopic(t *testing.T) {
	pub := &flakyPublisher{}
	w := testWorker(pub, 2)

	err := w.publishWithRetry(context.Background(), record{ID: 1})
	require.Error(t, err)
	require.Zero(t, pub.calls)
}
