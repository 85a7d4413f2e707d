package mqttsink

import (
	"crypto/tls"
	"fmt"
	"net/url"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
)

// Publisher is the broker surface the sink needs
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
	Close()
}

// PahoPublisher publishes through an eclipse paho client
type PahoPublisher struct {
	cli     mqtt.Client
	timeout time.Duration
}

// BrokerServer converts a broker URL (mqtt://, tcp://, ssl://, tls://, ws://, wss://)
// into the server string paho expects.
func BrokerServer(brokerURL string) (string, *url.URL, error) {
	u, err := url.Parse(brokerURL)
	if err != nil {
		return "", nil, fmt.Errorf("invalid broker url %q: %w", brokerURL, err)
	}
	switch u.Scheme {
	case "mqtt", "tcp":
		return "tcp://" + u.Host, u, nil
	case "ssl", "tls", "mqtts":
		return "ssl://" + u.Host, u, nil
	case "ws", "wss":
		return u.Scheme + "://" + u.Host + u.Path, u, nil
	default:
		return "", nil, fmt.Errorf("unsupported broker scheme %q", u.Scheme)
	}
}

// Dial connects to brokerURL and waits for the connection.
func Dial(brokerURL, clientID string, logger *logrus.Logger) (*PahoPublisher, error) {
	if logger == nil {
		logger = logrus.New()
	}
	server, u, err := BrokerServer(brokerURL)
	if err != nil {
		return nil, err
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(server)
	opts.SetClientID(clientID + "-" + time.Now().Format("150405.000"))
	opts.SetAutoReconnect(true)
	opts.OnConnect = func(mqtt.Client) {
		logger.WithField("broker", server).Info("MQTT connected")
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		logger.WithError(err).Warn("MQTT connection lost")
	}
	if u.User != nil {
		pw, _ := u.User.Password()
		opts.SetUsername(u.User.Username())
		opts.SetPassword(pw)
	}
	if u.Scheme == "ssl" || u.Scheme == "tls" || u.Scheme == "mqtts" || u.Scheme == "wss" {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	cli := mqtt.NewClient(opts)
	if t := cli.Connect(); t.Wait() && t.Error() != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", server, t.Error())
	}
	return &PahoPublisher{cli: cli, timeout: 5 * time.Second}, nil
}

func (p *PahoPublisher) Publish(topic string, qos byte, retained bool, payload []byte) error {
	t := p.cli.Publish(topic, qos, retained, payload)
	if !t.WaitTimeout(p.timeout) {
		return fmt.Errorf("mqtt publish %s: timeout after %s", topic, p.timeout)
	}
	return t.Error()
}

func (p *PahoPublisher) Close() {
	p.cli.Disconnect(250)
}
