package chatproxy

import (
	"context"
	"net/url"
	"sort"

	"go.uber.org/zap"

	v1 "github.com/missionctl/missionctl/pkg/api/v1"
)

// EventSink receives the synthetic events the proxy derives from observed
// traffic. *ingest.Service satisfies it.
type EventSink interface {
	Ingest(ctx context.Context, in *v1.EventIn) (*v1.Event, error)
}

// emit records one synthetic event for the feed. The proxied exchange never
// fails on emission problems, and the request context is deliberately not
// used: the observation should land even when the peer is already gone.
func (p *Proxy) emit(slug, eventType string, payload map[string]interface{}) {
	agent := slug
	if _, err := p.events.Ingest(context.Background(), &v1.EventIn{
		Type:    eventType,
		Agent:   &agent,
		Payload: payload,
	}); err != nil {
		p.logger.Warn("failed to record proxy event",
			zap.String("type", eventType),
			zap.String("agent", slug),
			zap.Error(err))
	}
}

func sortedQueryKeys(values url.Values) []string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
