package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	exchange string
	key      string
	msg      amqp.Publishing
}

type fakeChannel struct {
	mu         sync.Mutex
	declared   []string
	kind       string
	published  []published
	closed     bool
	declareErr error
	publishErr error
}

func (f *fakeChannel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	f.declared = append(f.declared, name)
	f.kind = kind
	return f.declareErr
}

func (f *fakeChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, published{exchange: exchange, key: key, msg: msg})
	return nil
}

func (f *fakeChannel) IsClosed() bool { return f.closed }

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

func TestRabbitMQPublisher_Publish(t *testing.T) {
	t.Parallel()

	ch := &fakeChannel{}
	p, err := newPublisher(ch, DefaultExchangeName)
	require.NoError(t, err)
	assert.Equal(t, []string{"chapters"}, ch.declared)
	assert.Equal(t, amqp.ExchangeTopic, ch.kind)

	e := New(TypeChaptersUploaded, "api-key", 1, 2, 3)
	require.NoError(t, p.Publish(context.Background(), e))

	require.Len(t, ch.published, 1)
	got := ch.published[0]
	assert.Equal(t, "chapters", got.exchange)
	assert.Equal(t, "chapters.uploaded", got.key)
	assert.Equal(t, "application/json", got.msg.ContentType)
	assert.Equal(t, amqp.Persistent, got.msg.DeliveryMode)
	assert.Equal(t, e.ID.String(), got.msg.MessageId)

	var decoded Event
	require.NoError(t, json.Unmarshal(got.msg.Body, &decoded))
	assert.Equal(t, []int64{1, 2, 3}, decoded.ChapterIDs)
	assert.Equal(t, TypeChaptersUploaded, decoded.Type)
}

func TestRabbitMQPublisher_ConcurrentPublish(t *testing.T) {
	t.Parallel()

	ch := &fakeChannel{}
	p, err := newPublisher(ch, DefaultExchangeName)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			assert.NoError(t, p.Publish(context.Background(), New(TypeChapterCreated, "", id)))
		}(int64(i))
	}
	wg.Wait()
	assert.Len(t, ch.published, 20)
}

func TestRabbitMQPublisher_Errors(t *testing.T) {
	t.Parallel()

	_, err := newPublisher(&fakeChannel{declareErr: errors.New("access refused")}, DefaultExchangeName)
	assert.ErrorContains(t, err, "failed to declare exchange")

	ch := &fakeChannel{publishErr: amqp.ErrClosed}
	p, err := newPublisher(ch, DefaultExchangeName)
	require.NoError(t, err)
	err = p.Publish(context.Background(), New(TypeChapterCreated, "", 9))
	assert.ErrorIs(t, err, amqp.ErrClosed)
}

func TestRabbitMQPublisher_HealthAndClose(t *testing.T) {
	t.Parallel()

	ch := &fakeChannel{}
	p, err := newPublisher(ch, DefaultExchangeName)
	require.NoError(t, err)

	assert.NoError(t, p.HealthCheck(context.Background()))
	require.NoError(t, p.Close())
	assert.Error(t, p.HealthCheck(context.Background()))
}

func TestNop(t *testing.T) {
	t.Parallel()

	var p Publisher = Nop{}
	assert.NoError(t, p.Publish(context.Background(), New(TypeChapterCreated, "", 1)))
	assert.NoError(t, p.HealthCheck(context.Background()))
	assert.NoError(t, p.Close())
}
