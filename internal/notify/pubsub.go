package notify

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/angelmondragon/vetsync/pkg/logger"
)

const defaultPublishTimeout = 15 * time.Second

type publisher interface {
	Publish(context.Context, *gcppubsub.Message) publishResult
}

type publishResult interface {
	Get(context.Context) (string, error)
}

// PubSubForwarder republishes applied changes to a Pub/Sub topic so out-of-process stores can consume them.
type PubSubForwarder struct {
	pub      publisher
	logg     *logger.Logger
	deviceID string
	timeout  time.Duration
}

// NewPubSubForwarder wraps a v2 publisher handle.
func NewPubSubForwarder(p *gcppubsub.Publisher, deviceID string, logg *logger.Logger) (*PubSubForwarder, error) {
	if p == nil {
		return nil, errors.New("pubsub publisher is required")
	}
	return newForwarder(&gcpPublisher{Publisher: p}, deviceID, logg), nil
}

func newForwarder(pub publisher, deviceID string, logg *logger.Logger) *PubSubForwarder {
	if logg == nil {
		logg = logger.Nop()
	}
	return &PubSubForwarder{
		pub:      pub,
		logg:     logg,
		deviceID: deviceID,
		timeout:  defaultPublishTimeout,
	}
}

// HandleChange publishes synchronously and logs failures; nothing is returned to the dispatcher.
func (f *PubSubForwarder) HandleChange(ctx context.Context, change AppliedChange) {
	fields := map[string]any{
		"entity_type": change.EntityType,
		"entity_id":   change.EntityID,
		"change_type": change.ChangeType,
	}
	if err := f.publish(ctx, change); err != nil {
		f.logg.Error(f.logg.WithFields(ctx, fields), "forward applied change failed", err)
		return
	}
	f.logg.Debug(f.logg.WithFields(ctx, fields), "applied change forwarded")
}

func (f *PubSubForwarder) publish(ctx context.Context, change AppliedChange) error {
	data, err := json.Marshal(change)
	if err != nil {
		return err
	}
	msg := &gcppubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"entity_type": change.EntityType,
			"entity_id":   change.EntityID,
			"change_type": string(change.ChangeType),
			"device_id":   f.deviceID,
			"applied_at":  time.Now().UTC().Format(time.RFC3339Nano),
		},
	}

	publishCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	result := f.pub.Publish(publishCtx, msg)
	if result == nil {
		return errors.New("publisher returned nil result")
	}
	_, err = result.Get(publishCtx)
	return err
}

type gcpPublisher struct {
	*gcppubsub.Publisher
}

func (p *gcpPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	if p == nil || p.Publisher == nil {
		return nil
	}
	return &gcpPublishResult{PublishResult: p.Publisher.Publish(ctx, msg)}
}

type gcpPublishResult struct {
	*gcppubsub.PublishResult
}

func (r *gcpPublishResult) Get(ctx context.Context) (string, error) {
	if r == nil || r.PublishResult == nil {
		return "", errors.New("publish result unavailable")
	}
	return r.PublishResult.Get(ctx)
}
