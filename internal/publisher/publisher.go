// Package publisher emits risk alerts to the outbound Kafka topic.
//
// Publishing is fire-and-forget: the consumer hands an alert over and
// moves on. Broker errors are surfaced through the producer's error
// channel, logged, and counted, but never propagated back to the event
// path.
package publisher

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/IBM/sarama"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mbd888/riskwatch/internal/event"
)

// DefaultTopic is the outbound alert topic.
const DefaultTopic = "risk-alerts"

var (
	publishTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "riskwatch",
		Subsystem: "publisher",
		Name:      "alerts_total",
		Help:      "Total alerts handed to the producer.",
	})
	publishErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "riskwatch",
		Subsystem: "publisher",
		Name:      "errors_total",
		Help:      "Total alert publish failures by reason.",
	}, []string{"reason"})
)

func init() {
	prometheus.MustRegister(publishTotal, publishErrors)
}

// Publisher sends an alert to the risk-alerts topic, keyed by entity id.
// Implementations must not block the caller on broker I/O.
type Publisher interface {
	Publish(alert *event.RiskAlert)
	Close() error
}

// Kafka publishes alerts through a sarama async producer.
type Kafka struct {
	producer sarama.AsyncProducer
	topic    string
	logger   *slog.Logger

	closeOnce sync.Once
	drained   sync.WaitGroup
}

// NewKafka creates an async alert producer for the given brokers.
func NewKafka(brokers []string, topic string, logger *slog.Logger) (*Kafka, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.RequiredAcks = sarama.WaitForLocal
	cfg.Producer.Return.Errors = true
	cfg.Producer.Return.Successes = false

	producer, err := sarama.NewAsyncProducer(brokers, cfg)
	if err != nil {
		return nil, err
	}
	k := &Kafka{producer: producer, topic: topic, logger: logger}

	// Drain the error channel for the producer's lifetime.
	k.drained.Add(1)
	go func() {
		defer k.drained.Done()
		for perr := range producer.Errors() {
			publishErrors.WithLabelValues("broker").Inc()
			logger.Error("alert publish failed",
				"topic", perr.Msg.Topic, "error", perr.Err)
		}
	}()

	return k, nil
}

// Publish enqueues alert for delivery. Marshal failures and a saturated
// producer queue drop the alert with an error log; the alert is still in
// the recent-alerts cache either way.
func (k *Kafka) Publish(alert *event.RiskAlert) {
	publishTotal.Inc()

	payload, err := json.Marshal(alert)
	if err != nil {
		publishErrors.WithLabelValues("marshal").Inc()
		k.logger.Error("alert marshal failed", "alert_id", alert.AlertID, "error", err)
		return
	}

	msg := &sarama.ProducerMessage{
		Topic: k.topic,
		Key:   sarama.StringEncoder(alert.Key()),
		Value: sarama.ByteEncoder(payload),
	}
	select {
	case k.producer.Input() <- msg:
	default:
		publishErrors.WithLabelValues("queue_full").Inc()
		k.logger.Error("producer queue full, dropping alert", "alert_id", alert.AlertID)
	}
}

// Close shuts the producer down and waits for the error drain to finish.
func (k *Kafka) Close() error {
	var err error
	k.closeOnce.Do(func() {
		err = k.producer.Close()
		k.drained.Wait()
	})
	return err
}

// Memory is an in-process Publisher for tests and broker-less runs.
type Memory struct {
	mu     sync.Mutex
	alerts []*event.RiskAlert
}

// NewMemory creates an in-memory publisher.
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Publish(alert *event.RiskAlert) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts = append(m.alerts, alert)
}

func (m *Memory) Close() error { return nil }

// Published returns a copy of every published alert in order.
func (m *Memory) Published() []*event.RiskAlert {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]*event.RiskAlert, len(m.alerts))
	copy(result, m.alerts)
	return result
}
