// Package mqbus adapts contracts.MessageQueue onto NSQ: one producer per
// spider process, one consumer per subscribed topic/channel pair.
package mqbus

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/nsqio/go-nsq"

	"github.com/deepcrawl/spidercore/internal/contracts"
	"github.com/deepcrawl/spidercore/internal/logging"
)

// BacklogGauge receives per-topic/channel queue-depth samples. Implemented
// by internal/metrics; kept as a narrow interface here so mqbus does not
// need to import the Prometheus registry.
type BacklogGauge interface {
	SetQueueDepth(topic, channel string, depth int64)
}

// NSQBus implements contracts.MessageQueue over a single nsqd/nsqlookupd
// pair, mirroring the teacher's split between a producer (cmd/ingest) and
// per-topic consumers (cmd/worker).
type NSQBus struct {
	nsqdTCPAddr    string
	lookupHTTPAddr string
	logger         *logging.Logger

	mu       sync.Mutex
	producer *nsq.Producer
}

// New builds an NSQBus. The producer connection is lazy: it is opened on
// the first Publish call.
func New(nsqdTCPAddr, lookupHTTPAddr string, logger *logging.Logger) *NSQBus {
	return &NSQBus{nsqdTCPAddr: nsqdTCPAddr, lookupHTTPAddr: lookupHTTPAddr, logger: logger}
}

func (b *NSQBus) ensureProducer() (*nsq.Producer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.producer != nil {
		return b.producer, nil
	}
	p, err := nsq.NewProducer(b.nsqdTCPAddr, nsq.NewConfig())
	if err != nil {
		return nil, err
	}
	b.producer = p
	return p, nil
}

// Publish implements contracts.MessageQueue.
func (b *NSQBus) Publish(ctx context.Context, topic string, payload []byte) error {
	p, err := b.ensureProducer()
	if err != nil {
		return err
	}
	return p.Publish(topic, payload)
}

// Subscribe implements contracts.MessageQueue, mirroring cmd/worker's
// manual-ack handler shape: a bad/erroring frame still gets Finish()ed so
// it is not redelivered forever, while a handler error that the bus
// itself cannot act on is simply logged.
func (b *NSQBus) Subscribe(ctx context.Context, topic, channel string, handler contracts.MessageHandler) (contracts.Subscription, error) {
	conf := nsq.NewConfig()
	conf.MaxInFlight = 1000

	consumer, err := nsq.NewConsumer(topic, channel, conf)
	if err != nil {
		return nil, err
	}

	consumer.AddHandler(nsq.HandlerFunc(func(m *nsq.Message) error {
		m.DisableAutoResponse()
		defer func() {
			if !m.HasResponded() {
				m.Finish()
			}
		}()

		if err := handler(ctx, m.Body); err != nil {
			b.logger.Plain().WithError(err).WithField("topic", topic).Warn("message handler returned error")
		}
		m.Finish()
		return nil
	}))

	if err := consumer.ConnectToNSQD(b.nsqdTCPAddr); err != nil {
		return nil, err
	}
	if err := consumer.ConnectToNSQLookupd(b.lookupHTTPAddr); err != nil {
		return nil, err
	}

	sub := &subscription{consumer: consumer, done: make(chan struct{})}
	go func() {
		<-consumer.StopChan
		close(sub.done)
	}()
	go func() {
		<-ctx.Done()
		sub.Stop()
	}()
	return sub, nil
}

// Ping implements health.Pinger by hitting nsqd's admin HTTP ping
// endpoint with the caller's deadline.
func (b *NSQBus) Ping(ctx context.Context) error {
	nsqdHTTPAddr := strings.Replace(b.nsqdTCPAddr, ":4150", ":4151", 1)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("http://%s/ping", nsqdHTTPAddr), nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("nsqd ping: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// Close stops the shared producer, if one was opened.
func (b *NSQBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.producer != nil {
		b.producer.Stop()
	}
}

type subscription struct {
	consumer *nsq.Consumer
	done     chan struct{}
	stopOnce sync.Once
}

func (s *subscription) Stop() {
	s.stopOnce.Do(func() {
		s.consumer.Stop()
	})
}

func (s *subscription) Done() <-chan struct{} {
	return s.done
}

// StartBacklogMonitor polls nsqd's HTTP stats endpoint every 15 seconds and
// reports each topic/channel queue depth to gauge, until ctx is cancelled.
// Grounded on cmd/worker's startBacklogMonitor: nsqd's admin HTTP port is
// the TCP port with the last octet 4150 replaced by 4151.
func (b *NSQBus) StartBacklogMonitor(ctx context.Context, gauge BacklogGauge) {
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()

		httpClient := &http.Client{Timeout: 5 * time.Second}
		nsqdHTTPAddr := strings.Replace(b.nsqdTCPAddr, ":4150", ":4151", 1)

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				b.pollBacklog(httpClient, nsqdHTTPAddr, gauge)
			}
		}
	}()
}

func (b *NSQBus) pollBacklog(httpClient *http.Client, nsqdHTTPAddr string, gauge BacklogGauge) {
	resp, err := httpClient.Get(fmt.Sprintf("http://%s/stats?format=json", nsqdHTTPAddr))
	if err != nil {
		b.logger.Plain().WithError(err).Warn("failed to get nsq stats")
		return
	}
	defer resp.Body.Close()

	var stats struct {
		Topics []struct {
			Name     string `json:"topic_name"`
			Channels []struct {
				Name  string `json:"channel_name"`
				Depth int64  `json:"depth"`
			} `json:"channels"`
		} `json:"topics"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		b.logger.Plain().WithError(err).Warn("failed to decode nsq stats")
		return
	}

	for _, topic := range stats.Topics {
		for _, channel := range topic.Channels {
			gauge.SetQueueDepth(topic.Name, channel.Name, channel.Depth)
		}
	}
}

var _ contracts.MessageQueue = (*NSQBus)(nil)
