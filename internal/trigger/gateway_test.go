package trigger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattiam/launchpad/internal/infra/embedded"
	"github.com/lattiam/launchpad/internal/interfaces"
	"github.com/lattiam/launchpad/internal/registry"
)

func testApps() Applications {
	return &registry.Inventory{Applications: []interfaces.Application{
		{Name: "shop", Repository: "acme/shop", Targets: "role=web"},
		{Name: "shop-canary", Repository: "acme/shop", Targets: "web-1"},
	}}
}

func newTestGateway(t *testing.T, secret string) (*Gateway, *embedded.Queue) {
	t.Helper()
	queue := embedded.NewQueue(4)
	t.Cleanup(queue.Close)
	return NewGateway(queue, testApps, secret), queue
}

func TestGatewayAccept(t *testing.T) {
	t.Parallel()
	body := []byte(`{"repository": "acme/shop", "revision": "4f2a9c1"}`)

	t.Run("QueuesMappedRepository", func(t *testing.T) {
		t.Parallel()
		gw, queue := newTestGateway(t, "")

		req, err := gw.Accept(context.Background(), Delivery{Body: body})
		require.NoError(t, err)
		require.NotNil(t, req)
		assert.Contains(t, req.ID, "req-")
		assert.Equal(t, "shop", req.Application)
		assert.Equal(t, "4f2a9c1", req.Revision)

		queued, err := queue.Dequeue(context.Background())
		require.NoError(t, err)
		assert.Equal(t, req.ID, queued.ID)
	})

	t.Run("DeliveryIDBecomesRequestID", func(t *testing.T) {
		t.Parallel()
		gw, _ := newTestGateway(t, "")

		req, err := gw.Accept(context.Background(), Delivery{Event: "push", ID: "72d3162e", Body: body})
		require.NoError(t, err)
		assert.Equal(t, "72d3162e", req.ID)
	})

	t.Run("ExplicitApplication", func(t *testing.T) {
		t.Parallel()
		gw, _ := newTestGateway(t, "")

		req, err := gw.Accept(context.Background(), Delivery{
			Body: []byte(`{"repository": "acme/shop", "revision": "4f2a9c1", "application": "shop-canary"}`),
		})
		require.NoError(t, err)
		assert.Equal(t, "shop-canary", req.Application)
	})

	t.Run("UnmappedRepository", func(t *testing.T) {
		t.Parallel()
		gw, queue := newTestGateway(t, "")

		_, err := gw.Accept(context.Background(), Delivery{Body: []byte(`{"repository": "acme/blog", "revision": "1"}`)})
		assert.True(t, interfaces.IsKind(err, interfaces.KindNotFound))
		assert.Equal(t, 0, queue.Size())
	})

	t.Run("PingIsNotQueued", func(t *testing.T) {
		t.Parallel()
		gw, queue := newTestGateway(t, "")

		req, err := gw.Accept(context.Background(), Delivery{Event: "ping", Body: []byte(`{"zen": "hi", "hook_id": 1}`)})
		require.NoError(t, err)
		assert.Nil(t, req)
		assert.Equal(t, 0, queue.Size())
	})

	t.Run("SignatureRequiredWhenSecretSet", func(t *testing.T) {
		t.Parallel()
		gw, queue := newTestGateway(t, "s3cret")

		_, err := gw.Accept(context.Background(), Delivery{Body: body, Signature: Sign("wrong", body)})
		assert.True(t, interfaces.IsKind(err, interfaces.KindAuthentication))

		_, err = gw.Accept(context.Background(), Delivery{Body: body, Signature: Sign("s3cret", body)})
		require.NoError(t, err)
		assert.Equal(t, 1, queue.Size())
	})

	t.Run("UnsupportedEvent", func(t *testing.T) {
		t.Parallel()
		gw, _ := newTestGateway(t, "")

		_, err := gw.Accept(context.Background(), Delivery{Event: "issues", Body: body})
		assert.True(t, interfaces.IsKind(err, interfaces.KindInvalidInput))
	})

	t.Run("ClosedQueueIsUnavailable", func(t *testing.T) {
		t.Parallel()
		gw, queue := newTestGateway(t, "")
		queue.Close()

		_, err := gw.Accept(context.Background(), Delivery{Body: body})
		assert.True(t, interfaces.IsKind(err, interfaces.KindQueueUnavailable))
	})
}
