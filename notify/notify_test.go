package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"vigil/core"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testMessage() AlertMessage {
	event := core.NewEvent()
	event.Source = "syslog"
	event.Message = "Failed password for root"
	alert := core.NewRuleAlert(event, &core.Rule{ID: "ssh-failed", Description: "Failed SSH", Severity: core.SeverityHigh})
	return NewAlertMessage(alert, event)
}

func TestBreaker_OpensAndRecovers(t *testing.T) {
	now := time.Now()
	b := NewBreaker(BreakerConfig{MaxFailures: 2, Cooldown: time.Minute})
	b.now = func() time.Time { return now }
	boom := errors.New("boom")

	require.NoError(t, b.Allow())
	b.Record(boom)
	assert.Equal(t, BreakerClosed, b.State())
	b.Record(boom)
	assert.Equal(t, BreakerOpen, b.State())
	assert.ErrorIs(t, b.Allow(), ErrBreakerOpen)

	now = now.Add(2 * time.Minute)
	require.NoError(t, b.Allow(), "probe after cooldown")
	assert.ErrorIs(t, b.Allow(), ErrBreakerOpen, "one probe at a time")

	from, to := b.Record(nil)
	assert.Equal(t, BreakerHalfOpen, from)
	assert.Equal(t, BreakerClosed, to)
	assert.NoError(t, b.Allow())
}

func TestWebhook_SignsRequests(t *testing.T) {
	var (
		gotBody []byte
		gotTS   string
		gotSig  string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotTS = r.Header.Get(HeaderTimestamp)
		gotSig = r.Header.Get(HeaderSignature)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	hook, err := NewWebhook(WebhookConfig{URL: server.URL, Secret: "s3cret"}, zap.NewNop().Sugar())
	require.NoError(t, err)

	msg := testMessage()
	require.NoError(t, hook.Send(context.Background(), msg))

	assert.NotEmpty(t, gotTS)
	assert.True(t, Verify("s3cret", gotTS, gotBody, gotSig))
	assert.False(t, Verify("other", gotTS, gotBody, gotSig))

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(gotBody, &decoded))
	assert.Equal(t, EventAlertCreated, decoded["type"])
	assert.Equal(t, msg.Alert.ID, decoded["alert"].(map[string]interface{})["id"])
}

func TestSign_KnownVector(t *testing.T) {
	assert.Equal(t, "sha256=9d713ed406bb7076d4123f0dc2c39d2df5c654ed4b0cd56b52c8b4c940bd63ae",
		Sign("key", "1700000000", []byte("{}")))
	assert.NotEqual(t, Sign("key", "1700000000", []byte("{}")), Sign("key", "1700000001", []byte("{}")))
}

func TestWebhook_Non2xxOpensBreaker(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	hook, err := NewWebhook(WebhookConfig{
		URL:     server.URL,
		Breaker: BreakerConfig{MaxFailures: 2, Cooldown: time.Hour},
	}, zap.NewNop().Sugar())
	require.NoError(t, err)

	ctx := context.Background()
	assert.Error(t, hook.Send(ctx, testMessage()))
	assert.Error(t, hook.Send(ctx, testMessage()))
	assert.ErrorIs(t, hook.Send(ctx, testMessage()), ErrBreakerOpen)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestNewWebhook_InvalidURL(t *testing.T) {
	for _, u := range []string{"", "ftp://example.com", "http://", "::bad"} {
		_, err := NewWebhook(WebhookConfig{URL: u}, zap.NewNop().Sugar())
		assert.Error(t, err, u)
	}
}

func TestRedisStream_Send(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	sink := NewRedisStream(client, RedisStreamConfig{Stream: "alerts", MaxLen: 100}, zap.NewNop().Sugar())
	msg := testMessage()
	require.NoError(t, sink.Send(context.Background(), msg))

	entries, err := client.XRange(context.Background(), "alerts", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, msg.Alert.ID, entries[0].Values["alert_id"])
	assert.Equal(t, "high", entries[0].Values["severity"])
	assert.Contains(t, entries[0].Values["payload"], msg.Event.ID)
}

type fakeWriter struct {
	mu       sync.Mutex
	messages []kafka.Message
	err      error
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

func TestKafkaTopic_Send(t *testing.T) {
	writer := &fakeWriter{}
	sink := NewKafkaTopicWithWriter(writer, "vigil.alerts", zap.NewNop().Sugar())
	msg := testMessage()

	require.NoError(t, sink.Send(context.Background(), msg))
	require.Len(t, writer.messages, 1)
	assert.Equal(t, msg.Alert.ID, string(writer.messages[0].Key))

	writer.err = errors.New("broker down")
	assert.ErrorContains(t, sink.Send(context.Background(), msg), "vigil.alerts")
}

func TestNewKafkaTopic_Validation(t *testing.T) {
	_, err := NewKafkaTopic(KafkaConfig{Topic: "t"}, zap.NewNop().Sugar())
	assert.Error(t, err)
	_, err = NewKafkaTopic(KafkaConfig{Brokers: []string{"localhost:9092"}}, zap.NewNop().Sugar())
	assert.Error(t, err)

	sink, err := NewKafkaTopic(KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "t"}, zap.NewNop().Sugar())
	require.NoError(t, err)
	assert.NoError(t, sink.Close())
}

type recordingSink struct {
	name  string
	mu    sync.Mutex
	ids   []string
	err   error
	panic bool
	block chan struct{}
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Send(_ context.Context, msg AlertMessage) error {
	if s.block != nil {
		<-s.block
	}
	if s.panic {
		panic("sink exploded")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = append(s.ids, msg.Alert.ID)
	return s.err
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ids)
}

func TestDispatcher_FansOutAndDrains(t *testing.T) {
	failing := &recordingSink{name: "failing", err: errors.New("nope")}
	panicking := &recordingSink{name: "panicking", panic: true}
	ok := &recordingSink{name: "ok"}

	d := NewDispatcher([]Sink{failing, panicking, ok}, DispatcherConfig{QueueSize: 16}, zap.NewNop().Sugar())
	for i := 0; i < 5; i++ {
		msg := testMessage()
		d.Publish(msg.Alert, msg.Event)
	}

	require.NoError(t, d.Close(context.Background()))
	assert.Equal(t, 5, ok.count())
	assert.Equal(t, 5, failing.count())

	// Publishing after close is a no-op
	msg := testMessage()
	d.Publish(msg.Alert, msg.Event)
	assert.Equal(t, 5, ok.count())
}

func TestDispatcher_DropsWhenFull(t *testing.T) {
	block := make(chan struct{})
	slow := &recordingSink{name: "slow", block: block}

	d := NewDispatcher([]Sink{slow}, DispatcherConfig{QueueSize: 1}, zap.NewNop().Sugar())
	for i := 0; i < 10; i++ {
		msg := testMessage()
		d.Publish(msg.Alert, msg.Event)
	}
	close(block)

	require.NoError(t, d.Close(context.Background()))
	delivered := slow.count()
	assert.GreaterOrEqual(t, delivered, 1)
	assert.LessOrEqual(t, delivered, 2, "at most one in flight plus one queued")
}
