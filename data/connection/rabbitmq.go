package connection

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/everstory/authcore/data/config"

	amqp "github.com/rabbitmq/amqp091-go"
)

// newRabbitMQConnection creates a new RabbitMQ connection. The URL may be a
// full amqp:// URL or a bare host:port combined with the credential fields.
func newRabbitMQConnection(conf *config.RabbitMQ) (*amqp.Connection, error) {
	if conf == nil || conf.URL == "" {
		return nil, errors.New("rabbitmq configuration is nil or empty")
	}

	connURL := conf.URL
	if !strings.HasPrefix(connURL, "amqp://") && !strings.HasPrefix(connURL, "amqps://") {
		u := url.URL{
			Scheme: "amqp",
			Host:   connURL,
		}

		if conf.Username != "" || conf.Password != "" {
			u.User = url.UserPassword(conf.Username, conf.Password)
		}

		if conf.Vhost != "" {
			u.Path = "/" + strings.TrimPrefix(conf.Vhost, "/")
		}

		connURL = u.String()
	}

	conn, err := amqp.DialConfig(connURL, amqp.Config{
		Dial:      amqp.DefaultDial(conf.ConnectionTimeout),
		Heartbeat: conf.HeartbeatInterval,
	})
	if err != nil {
		return nil, fmt.Errorf("rabbitmq connect error: %w", err)
	}

	return conn, nil
}
