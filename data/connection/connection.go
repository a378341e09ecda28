// Package connection manages the data store connections shared by a service.
// Connections are opened once at startup and passed explicitly to the layers
// that need them; nothing in this package is a package-level singleton.
package connection

import (
	"context"
	"database/sql"
	"errors"
	"sync"

	"github.com/everstory/authcore/data/config"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
)

// Connections holds all database connections and clients.
type Connections struct {
	DB     *sql.DB
	RC     *redis.Client
	RMQ    *amqp.Connection
	closed bool
	mu     sync.Mutex
}

// New creates the connections configured in conf. Stores with empty
// configuration are skipped.
func New(conf *config.Data) (*Connections, error) {
	c := &Connections{}
	var err error

	if conf.Database != nil && conf.Database.Source != "" {
		c.DB, err = newDBConnection(conf.Database)
		if err != nil {
			return nil, err
		}
	}

	if conf.Redis != nil && conf.Redis.Addr != "" {
		c.RC, err = newRedisClient(conf.Redis)
		if err != nil {
			return nil, err
		}
	}

	if conf.RabbitMQ != nil && conf.RabbitMQ.URL != "" {
		c.RMQ, err = newRabbitMQConnection(conf.RabbitMQ)
		if err != nil {
			return nil, err
		}
	}

	return c, nil
}

// Close closes all data connections.
func (c *Connections) Close() (errs []error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	if c.RC != nil {
		if err := c.RC.Close(); err != nil {
			errs = append(errs, errors.New("redis close error: "+err.Error()))
		}
		c.RC = nil
	}

	if c.DB != nil {
		if err := c.DB.Close(); err != nil {
			errs = append(errs, errors.New("database close error: "+err.Error()))
		}
		c.DB = nil
	}

	if c.RMQ != nil && !c.RMQ.IsClosed() {
		if err := c.RMQ.Close(); err != nil {
			errs = append(errs, errors.New("rabbitmq close error: "+err.Error()))
		}
		c.RMQ = nil
	}

	c.closed = true
	return errs
}

// Ping verifies the liveness of every open connection.
func (c *Connections) Ping(ctx context.Context) error {
	if c.DB != nil {
		if err := c.DB.PingContext(ctx); err != nil {
			return err
		}
	}
	if c.RC != nil {
		if err := c.RC.Ping(ctx).Err(); err != nil {
			return err
		}
	}
	if c.RMQ != nil && c.RMQ.IsClosed() {
		return errors.New("rabbitmq connection is closed")
	}
	return nil
}
