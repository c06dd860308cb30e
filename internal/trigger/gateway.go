package trigger

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-uuid"

	"github.com/lattiam/launchpad/internal/interfaces"
	"github.com/lattiam/launchpad/pkg/logging"
)

// Applications maps repositories and names to configured applications
type Applications interface {
	Application(name string) (interfaces.Application, bool)
	ApplicationForRepository(repo string) (interfaces.Application, bool)
}

// Delivery is one webhook call as received over HTTP
type Delivery struct {
	Event     string // X-GitHub-Event, empty for generic senders
	ID        string // X-GitHub-Delivery; reused as the request id when present
	Signature string
	Body      []byte
}

// Gateway validates push deliveries and queues them as trigger requests
type Gateway struct {
	queue  interfaces.TriggerQueue
	apps   func() Applications
	secret string
	logger *logging.Logger
}

// NewGateway creates a gateway. apps is called per delivery so inventory
// reloads take effect immediately. An empty secret disables signature checks.
func NewGateway(queue interfaces.TriggerQueue, apps func() Applications, secret string) *Gateway {
	return &Gateway{queue: queue, apps: apps, secret: secret, logger: logging.Trigger}
}

// Accept verifies and queues a delivery. It returns a nil request for pings.
func (g *Gateway) Accept(ctx context.Context, d Delivery) (*interfaces.TriggerRequest, error) {
	if g.secret != "" {
		if err := VerifySignature(g.secret, d.Signature, d.Body); err != nil {
			g.logger.Warn("Rejected delivery %q: %v", d.ID, err)
			return nil, err
		}
	}
	if IsPing(d.Event, d.Body) {
		g.logger.Info("Received ping delivery %q", d.ID)
		return nil, nil
	}
	if d.Event != "" && d.Event != "push" {
		return nil, interfaces.NewError(interfaces.KindInvalidInput, "unsupported event %q", d.Event)
	}

	push, err := ParsePush(d.Body)
	if err != nil {
		return nil, err
	}

	apps := g.apps()
	app, ok := apps.ApplicationForRepository(push.Repository)
	if push.Application != "" {
		app, ok = apps.Application(push.Application)
	}
	if !ok {
		return nil, interfaces.NewError(interfaces.KindNotFound, "no application is mapped to repository %q", push.Repository)
	}

	id := d.ID
	if id == "" {
		if id, err = NewRequestID(); err != nil {
			return nil, err
		}
	}

	req := &interfaces.TriggerRequest{
		ID:          id,
		Repository:  push.Repository,
		Revision:    push.Revision,
		Application: app.Name,
		Targets:     push.Targets,
		ReceivedAt:  time.Now().UTC(),
	}
	if err := g.queue.Enqueue(ctx, req); err != nil {
		return nil, err
	}

	g.logger.Info("Queued %s for %s@%s", req.ID, app.Name, req.Revision)
	return req, nil
}

// NewRequestID returns a fresh trigger request id
func NewRequestID() (string, error) {
	id, err := uuid.GenerateUUID()
	if err != nil {
		return "", fmt.Errorf("generate request id: %w", err)
	}
	return "req-" + id, nil
}
