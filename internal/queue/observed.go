package queue

import "github.com/aak1247/sitetap/internal/obs"

type observedPublisher struct {
	inner   Publisher
	metrics *obs.Metrics
}

// ObservePublisher counts published messages per topic and result.
func ObservePublisher(p Publisher, m *obs.Metrics) Publisher {
	if p == nil || m == nil {
		return p
	}
	if _, ok := p.(*observedPublisher); ok {
		return p
	}
	return &observedPublisher{inner: p, metrics: m}
}

func (p *observedPublisher) Publish(topic string, body []byte) error {
	err := p.inner.Publish(topic, body)
	p.metrics.ObservePublish(topic, 1, err)
	return err
}

func (p *observedPublisher) MultiPublish(topic string, bodies [][]byte) error {
	bp, ok := p.inner.(BatchPublisher)
	if !ok {
		for _, b := range bodies {
			if err := p.Publish(topic, b); err != nil {
				return err
			}
		}
		return nil
	}
	err := bp.MultiPublish(topic, bodies)
	p.metrics.ObservePublish(topic, len(bodies), err)
	return err
}
