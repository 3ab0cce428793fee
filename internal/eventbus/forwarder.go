package eventbus

import (
	"context"
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/flexprice/flexcore/internal/external"
	"github.com/flexprice/flexcore/internal/logger"
)

// Publisher implements external.Analytics by publishing batches onto the
// bus instead of writing them directly, decoupling EntitlementStorage's
// flush call from the ClickHouse writer's latency and availability.
type Publisher struct {
	bus Bus
	log *logger.Logger
}

func NewPublisher(bus Bus, log *logger.Logger) *Publisher {
	return &Publisher{bus: bus, log: log}
}

// GetUsageBillingFeatures has no meaningful async form — the billing
// materializer needs a synchronous answer, so this is left unimplemented
// on the publish side; callers that need aggregation wire the real
// Analytics adapter instead of this publisher.
func (p *Publisher) GetUsageBillingFeatures(ctx context.Context, projectID, customerID string, features []external.UsageFeatureQuery, startAt, endAt int64) ([]external.UsageFeatureResult, error) {
	return nil, external.ErrAggregationNotSupportedByPublisher
}

func (p *Publisher) IngestFeaturesUsage(ctx context.Context, records []external.UsageRecord) (external.IngestResult, error) {
	if len(records) == 0 {
		return external.IngestResult{}, nil
	}
	payload, err := json.Marshal(records)
	if err != nil {
		return external.IngestResult{}, err
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	if err := p.bus.Publish(ctx, TopicUsageEvents, msg); err != nil {
		return external.IngestResult{QuarantinedRows: len(records)}, err
	}
	return external.IngestResult{SuccessfulRows: len(records)}, nil
}

func (p *Publisher) IngestFeaturesVerification(ctx context.Context, records []external.VerificationRecord) (external.IngestResult, error) {
	if len(records) == 0 {
		return external.IngestResult{}, nil
	}
	payload, err := json.Marshal(records)
	if err != nil {
		return external.IngestResult{}, err
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	if err := p.bus.Publish(ctx, TopicVerificationEvents, msg); err != nil {
		return external.IngestResult{QuarantinedRows: len(records)}, err
	}
	return external.IngestResult{SuccessfulRows: len(records)}, nil
}

var _ external.Analytics = (*Publisher)(nil)

// Forwarder subscribes to both topics and replays each decoded batch
// into the real Analytics sink, acking only on success so watermill's
// consumer-group redelivery covers a sink outage.
type Forwarder struct {
	bus  Bus
	sink external.Analytics
	log  *logger.Logger
}

func NewForwarder(bus Bus, sink external.Analytics, log *logger.Logger) *Forwarder {
	return &Forwarder{bus: bus, sink: sink, log: log}
}

// Run blocks, draining both topics until ctx is canceled.
func (f *Forwarder) Run(ctx context.Context) error {
	usageCh, err := f.bus.Subscribe(ctx, TopicUsageEvents)
	if err != nil {
		return err
	}
	verifyCh, err := f.bus.Subscribe(ctx, TopicVerificationEvents)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-usageCh:
			if !ok {
				usageCh = nil
				continue
			}
			f.handleUsage(ctx, msg)
		case msg, ok := <-verifyCh:
			if !ok {
				verifyCh = nil
				continue
			}
			f.handleVerification(ctx, msg)
		}
	}
}

func (f *Forwarder) handleUsage(ctx context.Context, msg *message.Message) {
	var records []external.UsageRecord
	if err := json.Unmarshal(msg.Payload, &records); err != nil {
		f.log.Errorf("forwarder: malformed usage batch %s, dropping: %v", msg.UUID, err)
		msg.Ack()
		return
	}
	if _, err := f.sink.IngestFeaturesUsage(ctx, records); err != nil {
		f.log.Errorf("forwarder: usage sink write failed for batch %s, will retry: %v", msg.UUID, err)
		msg.Nack()
		return
	}
	msg.Ack()
}

func (f *Forwarder) handleVerification(ctx context.Context, msg *message.Message) {
	var records []external.VerificationRecord
	if err := json.Unmarshal(msg.Payload, &records); err != nil {
		f.log.Errorf("forwarder: malformed verification batch %s, dropping: %v", msg.UUID, err)
		msg.Ack()
		return
	}
	if _, err := f.sink.IngestFeaturesVerification(ctx, records); err != nil {
		f.log.Errorf("forwarder: verification sink write failed for batch %s, will retry: %v", msg.UUID, err)
		msg.Nack()
		return
	}
	msg.Ack()
}
