package mqtt

import (
	"context"
	"errors"
	"log"
	"sync"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/sutera/worldloader/internal/events"
	"github.com/sutera/worldloader/internal/orchestrator"
)

// pubSub is the part of Client a Trigger needs.
type pubSub interface {
	Subscribe(topic string, handler paho.MessageHandler) error
	Publish(topic string, retained bool, payload []byte) error
}

// Loader runs load requests. *orchestrator.Orchestrator implements it.
type Loader interface {
	Load(ctx context.Context, req orchestrator.Request) orchestrator.Result
	Reload(ctx context.Context, source string) (orchestrator.Result, error)
}

// Trigger turns messages on the load topic into world loads and publishes
// each outcome on the result topic.
type Trigger struct {
	client pubSub
	loader Loader
	topics Topics

	ctx context.Context
	wg  sync.WaitGroup
}

// NewTrigger creates a trigger. Loads started by it use ctx.
func NewTrigger(ctx context.Context, client pubSub, loader Loader, topics Topics) *Trigger {
	return &Trigger{client: client, loader: loader, topics: topics, ctx: ctx}
}

// Start subscribes to the load topic.
func (t *Trigger) Start() error {
	return t.client.Subscribe(t.topics.Load(), t.handle)
}

// Wait blocks until every load started by the trigger has finished.
func (t *Trigger) Wait() {
	t.wg.Wait()
}

func (t *Trigger) handle(_ paho.Client, msg paho.Message) {
	req, err := ParseLoadRequest(msg.Payload())
	if err != nil {
		events.Emit("warning", "trigger.invalid", err.Error(), map[string]interface{}{
			"topic": msg.Topic(),
		})
		return
	}
	events.Emit("info", "trigger.received", "", map[string]interface{}{
		"topic":      msg.Topic(),
		"path":       req.Path,
		"reload":     req.Reload,
		"request_id": req.RequestID,
	})

	// Paho delivers messages in order on one goroutine; loads run elsewhere
	// so a slow load does not stall delivery.
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		t.run(req)
	}()
}

func (t *Trigger) run(req *LoadRequest) {
	var res orchestrator.Result
	if req.Reload {
		r, err := t.loader.Reload(t.ctx, orchestrator.SourceMQTT)
		if errors.Is(err, orchestrator.ErrNoWorld) {
			events.Emit("warning", "trigger.invalid", err.Error(), map[string]interface{}{
				"request_id": req.RequestID,
			})
			return
		}
		res = r
	} else {
		res = t.loader.Load(t.ctx, orchestrator.Request{
			Path:      req.Path,
			Source:    orchestrator.SourceMQTT,
			RequestID: req.RequestID,
		})
	}
	res.RequestID = req.RequestID

	b, err := encodeResult(res)
	if err != nil {
		log.Printf("mqtt: encode result: %v", err)
		return
	}
	if err := t.client.Publish(t.topics.Result(), false, b); err != nil {
		log.Printf("mqtt: publish result: %v", err)
	}
}
