package hilltop

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Publisher publishes peak reports to MQTT
type Publisher struct {
	client        mqtt.Client
	publishPrefix string
	qos           byte
	retain        bool
	reports       map[string]*PeakReport
	mu            sync.RWMutex
}

// NewPublisher creates a new report publisher under prefix
// If client is nil, publishing is disabled (for testing)
func NewPublisher(client mqtt.Client, prefix string) *Publisher {
	if prefix == "" {
		prefix = DefaultPublishPrefix
	}
	return &Publisher{
		client:        client,
		publishPrefix: prefix,
		qos:           0,    // QoS 0 for report updates (fire and forget)
		retain:        true, // Retain for latest report
		reports:       make(map[string]*PeakReport),
	}
}

// PublishReport publishes a source's report to its own topic and refreshes
// the combined topic
func (p *Publisher) PublishReport(report *PeakReport) error {
	if p.client == nil || !p.client.IsConnected() {
		return fmt.Errorf("MQTT client not connected")
	}

	p.mu.Lock()
	p.reports[report.Source] = report
	p.mu.Unlock()

	if err := p.publishIndividual(report); err != nil {
		log.Printf("[MQTT] Error publishing peaks for %s: %v", report.Source, err)
		return err
	}
	if err := p.publishCombined(); err != nil {
		log.Printf("[MQTT] Error publishing combined peaks: %v", err)
		return err
	}
	return nil
}

// publishIndividual publishes a report to hilltop/{source}/peaks
func (p *Publisher) publishIndividual(report *PeakReport) error {
	topic := fmt.Sprintf("%s/%s/peaks", p.publishPrefix, report.Source)

	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshaling report: %w", err)
	}

	token := p.client.Publish(topic, p.qos, p.retain, payload)
	if token.WaitTimeout(2*time.Second) && token.Error() != nil {
		return fmt.Errorf("publishing to %s: %w", topic, token.Error())
	}

	log.Printf("[MQTT] Published %d peaks for %s (mean difference %d)",
		len(report.Peaks), report.Source, report.MeanDifference)
	return nil
}

// publishCombined publishes the latest report of every source to hilltop/peaks
func (p *Publisher) publishCombined() error {
	p.mu.RLock()
	sources := make(map[string]*PeakReport, len(p.reports))
	for id, r := range p.reports {
		sources[id] = r
	}
	p.mu.RUnlock()

	topic := fmt.Sprintf("%s/peaks", p.publishPrefix)
	message := map[string]interface{}{
		"sources":   sources,
		"timestamp": time.Now().Unix(),
	}

	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("marshaling combined peaks: %w", err)
	}

	token := p.client.Publish(topic, p.qos, p.retain, payload)
	if token.WaitTimeout(2*time.Second) && token.Error() != nil {
		return fmt.Errorf("publishing to %s: %w", topic, token.Error())
	}
	return nil
}

// GetReport returns the last published report for a source
func (p *Publisher) GetReport(sourceID string) (*PeakReport, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	r, ok := p.reports[sourceID]
	return r, ok
}

// ClearReport forgets a source's report (e.g., after a baseline reset) and
// republishes the combined topic when connected
func (p *Publisher) ClearReport(sourceID string) error {
	p.mu.Lock()
	delete(p.reports, sourceID)
	p.mu.Unlock()

	if p.client == nil || !p.client.IsConnected() {
		return nil
	}
	return p.publishCombined()
}

// SetQoS sets the Quality of Service level for publishing (0, 1, or 2)
func (p *Publisher) SetQoS(qos byte) {
	if qos <= 2 {
		p.qos = qos
	}
}

// SetRetain sets whether published messages should be retained by the broker
func (p *Publisher) SetRetain(retain bool) {
	p.retain = retain
}
