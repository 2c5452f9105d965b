// Package notify listens for "new fix available" messages on MQTT so the
// active device can be refreshed without waiting for the next poll.
package notify

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"trail-svr/internal/observability"
)

const DefaultTopic = "trail/+/fix"

// DeviceFromTopic returns the segment matched by the single "+" wildcard of
// pattern, or false when topic does not match.
func DeviceFromTopic(pattern, topic string) (string, bool) {
	ps := strings.Split(pattern, "/")
	ts := strings.Split(topic, "/")
	if len(ps) != len(ts) {
		return "", false
	}
	device := ""
	for i, p := range ps {
		switch p {
		case "+":
			if ts[i] == "" {
				return "", false
			}
			device = ts[i]
		default:
			if p != ts[i] {
				return "", false
			}
		}
	}
	return device, device != ""
}

// Subscriber calls OnFix with the device id of every notification.
type Subscriber struct {
	topic  string
	onFix  func(deviceID string)
	client mqtt.Client
	log    *slog.Logger
}

func NewSubscriber(broker, clientID, topic string, onFix func(string), logger *slog.Logger) *Subscriber {
	if topic == "" {
		topic = DefaultTopic
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Subscriber{topic: topic, onFix: onFix, log: logger.With("component", "notify")}

	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOnConnectHandler(func(c mqtt.Client) {
			// subscriptions are not kept across reconnects with a clean session
			if token := c.Subscribe(s.topic, 0, s.handle); token.Wait() && token.Error() != nil {
				s.log.Error("mqtt subscribe failed", "topic", s.topic, "err", token.Error())
				return
			}
			s.log.Info("mqtt subscribed", "topic", s.topic)
		}).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			s.log.Warn("mqtt connection lost", "err", err)
		})
	s.client = mqtt.NewClient(opts)
	return s
}

// Connect dials the broker, waiting at most timeout for the first attempt.
// The client keeps retrying in the background afterwards.
func (s *Subscriber) Connect(timeout time.Duration) error {
	token := s.client.Connect()
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("mqtt connect: no answer within %s", timeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	return nil
}

func (s *Subscriber) handle(_ mqtt.Client, msg mqtt.Message) {
	device, ok := DeviceFromTopic(s.topic, msg.Topic())
	if !ok {
		s.log.Debug("ignoring notification", "topic", msg.Topic())
		return
	}
	observability.Notifications.Inc()
	if s.onFix != nil {
		s.onFix(device)
	}
}

func (s *Subscriber) Close() {
	s.client.Disconnect(250)
}
