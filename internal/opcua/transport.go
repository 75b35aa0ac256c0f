package opcua

import (
	"context"
	"fmt"
	"time"

	"github.com/gopcua/opcua"
	"github.com/gopcua/opcua/ua"

	"github.com/fieldpulse/daqagent/internal/config"
)

// clientHandleBase keeps generated client handles distinct from zero, which
// ua.MonitoredItemCreateRequest treats as "unset."
const clientHandleBase = 1

// GopcuaTransport is the production Transport, backed by
// github.com/gopcua/opcua. One instance is created per Session and is
// reused across reconnects; each Run call works with a new client.
type GopcuaTransport struct {
	endpointURL    string
	sessionTimeout time.Duration
}

// NewGopcuaTransport constructs a Transport for one OPC UA endpoint.
func NewGopcuaTransport(cfg config.ServerConfig) *GopcuaTransport {
	return &GopcuaTransport{
		endpointURL:    cfg.EndpointURL,
		sessionTimeout: cfg.EffectiveSessionTimeout(),
	}
}

// Run dials the endpoint, builds one subscription whose publishing
// interval is the minimum across defs, registers a monitored item per
// enabled definition with its own sampling interval and queue policy, and
// pumps DataChange notifications into onNotification until ctx is
// cancelled or the connection is lost.
func (t *GopcuaTransport) Run(ctx context.Context, defs []config.SubscriptionDef, onConnected func(), onNotification func(Notification)) error {
	client, err := opcua.NewClient(t.endpointURL, opcua.SessionTimeout(t.sessionTimeout))
	if err != nil {
		return fmt.Errorf("create opcua client: %w", err)
	}

	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer client.Close(ctx)

	notifyCh := make(chan *opcua.PublishNotificationData, 64)
	sub, err := client.Subscribe(ctx, &opcua.SubscriptionParameters{
		Interval: publishInterval(defs),
	}, notifyCh)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	defer sub.Cancel(ctx)

	nodeLookup := make(map[uint32]config.SubscriptionDef, len(defs))
	var requests []*ua.MonitoredItemCreateRequest
	handle := uint32(clientHandleBase)
	for _, def := range defs {
		if !def.Enabled {
			continue
		}
		id, err := ua.ParseNodeID(def.NodeID)
		if err != nil {
			return fmt.Errorf("parse node id %q: %w", def.NodeID, err)
		}
		req := opcua.NewMonitoredItemCreateRequestWithDefaults(id, ua.AttributeIDValue, handle)
		req.RequestedParameters.SamplingInterval = float64(def.SamplingIntervalMS)
		req.RequestedParameters.QueueSize = def.QueueSize
		req.RequestedParameters.DiscardOldest = def.DiscardOldest
		requests = append(requests, req)
		nodeLookup[handle] = def
		handle++
	}

	if len(requests) > 0 {
		if _, err := sub.Monitor(ctx, ua.TimestampsToReturnBoth, requests...); err != nil {
			return fmt.Errorf("monitor items: %w", err)
		}
	}

	onConnected()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-notifyCh:
			if !ok {
				return fmt.Errorf("opcua: notification channel closed")
			}
			if msg.Error != nil {
				return fmt.Errorf("opcua: subscription error: %w", msg.Error)
			}
			change, ok := msg.Value.(*ua.DataChangeNotification)
			if !ok {
				continue
			}
			for _, item := range change.MonitoredItems {
				def, known := nodeLookup[item.ClientHandle]
				if !known {
					continue
				}
				onNotification(toNotification(def, item))
			}
		}
	}
}

func publishInterval(defs []config.SubscriptionDef) time.Duration {
	min := 0
	for _, def := range defs {
		if !def.Enabled {
			continue
		}
		if min == 0 || def.PublishIntervalMS < min {
			min = def.PublishIntervalMS
		}
	}
	if min <= 0 {
		min = 1000
	}
	return time.Duration(min) * time.Millisecond
}

func toNotification(def config.SubscriptionDef, item *ua.MonitoredItemNotification) Notification {
	n := Notification{
		NodeID:      def.NodeID,
		DisplayName: def.DisplayName,
		StatusCode:  uint32(item.Value.Status),
		Value:       decodeVariant(item.Value),
	}
	if !item.Value.SourceTimestamp.IsZero() {
		ts := item.Value.SourceTimestamp
		n.SourceTime = &ts
	}
	if !item.Value.ServerTimestamp.IsZero() {
		ts := item.Value.ServerTimestamp
		n.ServerTime = &ts
	}
	return n
}
