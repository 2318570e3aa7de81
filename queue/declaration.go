package queue

import (
	"fmt"
	"strings"
	"time"

	"github.com/mrjvadi/go-signal-server/config"
)

// ExchangeKind decides how an exchange routes to bound queues.
type ExchangeKind string

const (
	// Fanout ignores routing keys; every bound queue sees every message.
	Fanout ExchangeKind = "fanout"
	// Direct delivers to queues bound with the publisher's routing key.
	Direct ExchangeKind = "direct"
)

type ExchangeConfig struct {
	Name       string
	Kind       ExchangeKind
	Durable    bool
	AutoDelete bool
}

type QueueConfig struct {
	Name       string
	RoutingKey string
	Durable    bool
	// Transient queues belong to the declaring process and are removed with it.
	Transient  bool
	AutoDelete bool
}

// Declaration is everything needed to declare an exchange, declare a queue and
// bind one to the other.
type Declaration struct {
	Exchange ExchangeConfig
	Queue    QueueConfig
}

// DefaultDeclaration is used when a signal is enqueued on a key nobody
// declared: a direct exchange and a queue bound with its own name.
func DefaultDeclaration(key Key) Declaration {
	return Declaration{
		Exchange: ExchangeConfig{Name: key.Exchange, Kind: Direct},
		Queue:    QueueConfig{Name: key.Queue, RoutingKey: key.Queue},
	}
}

func (d Declaration) Key() Key {
	return Key{Exchange: d.Exchange.Name, Queue: d.Queue.Name}
}

func (d Declaration) Validate() error {
	if d.Exchange.Name == "" {
		return fmt.Errorf("%w: exchange name is required", ErrInvalidDeclaration)
	}
	if d.Queue.Name == "" {
		return fmt.Errorf("%w: queue name is required", ErrInvalidDeclaration)
	}
	switch d.Exchange.Kind {
	case Fanout, Direct:
	default:
		return fmt.Errorf("%w: exchange kind %q", ErrInvalidDeclaration, d.Exchange.Kind)
	}
	return nil
}

// topic is the broker-side name a message is published to: the exchange, plus
// the routing key for direct exchanges, under an optional virtual host.
func (d Declaration) topic(vhost, sep string) string {
	name := d.Exchange.Name
	if d.Exchange.Kind == Direct && d.Queue.RoutingKey != "" {
		name += sep + d.Queue.RoutingKey
	}
	if vhost != "" {
		name = vhost + sep + name
	}
	return name
}

func (d Declaration) removeOnClose() bool {
	return d.Queue.Transient || d.Queue.AutoDelete
}

// ParseExchangeKind accepts fanout or direct in any case. Empty means direct.
func ParseExchangeKind(s string) (ExchangeKind, error) {
	switch ExchangeKind(strings.ToLower(s)) {
	case Fanout:
		return Fanout, nil
	case Direct, "":
		return Direct, nil
	}
	return "", fmt.Errorf("%w: exchange kind %q", ErrInvalidDeclaration, s)
}

// Service names a queue backend.
type Service string

const (
	ServiceMemory Service = "memory"
	ServiceRedis  Service = "redis"
	ServiceNATS   Service = "nats"
)

// ParseService accepts a backend name in any case. Empty means memory.
func ParseService(s string) (Service, error) {
	if s == "" {
		return ServiceMemory, nil
	}
	svc, err := config.ParseEnum(s, ServiceMemory, ServiceRedis, ServiceNATS)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidDeclaration, err)
	}
	return svc, nil
}

// BrokerConfig is the connection side of a queue backend.
type BrokerConfig struct {
	Service     Service
	Host        string
	VirtualHost string
	Username    string
	Password    string

	// StreamLength caps non-durable Redis streams (approximate MAXLEN); 0 disables trimming.
	StreamLength int64
	// ReadBlock is how long one Redis XREADGROUP call blocks.
	ReadBlock time.Duration
	// MaxJobs bounds concurrent listener invocations per Redis queue.
	MaxJobs int
}

func (c BrokerConfig) Validate() error {
	switch c.Service {
	case ServiceMemory:
		return nil
	case ServiceRedis, ServiceNATS:
		if c.Host == "" {
			return fmt.Errorf("%w: broker host is required for %s", ErrInvalidDeclaration, c.Service)
		}
		return nil
	}
	return fmt.Errorf("%w: unknown queue service %q", ErrInvalidDeclaration, c.Service)
}
