package poller

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"gotest.tools/v3/assert"
)

type fakeReader struct {
	mu       sync.Mutex
	messages []kafka.Message
	cancel   context.CancelFunc
}

// ReadMessage pops the next preloaded message; once drained it cancels
// the poller's context so Run returns.
func (r *fakeReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.messages) == 0 {
		r.cancel()
		return kafka.Message{}, context.Canceled
	}
	m := r.messages[0]
	r.messages = r.messages[1:]
	return m, nil
}

func (r *fakeReader) Close() error { return nil }

type recordingInvalidator struct {
	mu     sync.Mutex
	owners []string
}

func (i *recordingInvalidator) InvalidateExternal(_ context.Context, ownerID string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.owners = append(i.owners, ownerID)
}

func (i *recordingInvalidator) calls() []string {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := make([]string, len(i.owners))
	copy(out, i.owners)
	return out
}

func runPoller(t *testing.T, inv CartInvalidator, messages []kafka.Message) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	reader := &fakeReader{messages: messages, cancel: cancel}
	p := newPollerWithReader(inv, reader, "instance-1", zap.NewNop())
	p.Run(ctx)

	assert.Assert(t, ctx.Err() != nil, "poller should stop because the reader drained, not by timeout")
}

func TestPoller_InvalidatesPerEvent(t *testing.T) {
	inv := &recordingInvalidator{}
	runPoller(t, inv, []kafka.Message{
		{Value: []byte(`{"owner_id":"owner-1","event":"cart.changed"}`)},
		{Value: []byte(`{"owner_id":"owner-2","event":"cart.changed"}`)},
	})

	assert.DeepEqual(t, []string{"owner-1", "owner-2"}, inv.calls())
}

func TestPoller_SkipsOwnEvents(t *testing.T) {
	inv := &recordingInvalidator{}
	runPoller(t, inv, []kafka.Message{
		{
			Value:   []byte(`{"owner_id":"owner-1","event":"cart.changed"}`),
			Headers: []kafka.Header{{Key: "origin", Value: []byte("instance-1")}},
		},
		{
			Value:   []byte(`{"owner_id":"owner-2","event":"cart.changed"}`),
			Headers: []kafka.Header{{Key: "origin", Value: []byte("instance-other")}},
		},
	})

	assert.DeepEqual(t, []string{"owner-2"}, inv.calls())
}

func TestPoller_IgnoresMalformedEvents(t *testing.T) {
	inv := &recordingInvalidator{}
	runPoller(t, inv, []kafka.Message{
		{Value: []byte(`not json`)},
		{Value: []byte(`{"event":"cart.changed"}`)},
		{Value: []byte(`{"owner_id":"owner-3","event":"cart.changed"}`)},
	})

	assert.DeepEqual(t, []string{"owner-3"}, inv.calls())
}
