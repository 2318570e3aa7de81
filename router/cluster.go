package router

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mrjvadi/go-signal-server/config"
	"github.com/mrjvadi/go-signal-server/queue"
	"github.com/mrjvadi/go-signal-server/signal"
)

// Topology decides how cluster messages are spread over processes.
type Topology string

const (
	// TopologyFanout binds a queue per process, so every process sees every
	// request and response and keeps only those it owns.
	TopologyFanout Topology = "fanout"
	// TopologyShared binds one requests queue for all processes, so the broker
	// hands each request to one of them, which executes it wherever the
	// sender is connected. Responses still fan out to every process and are
	// delivered by the one holding the recipient.
	TopologyShared Topology = "shared"
)

func ParseTopology(s string) (Topology, error) {
	if s == "" {
		return TopologyFanout, nil
	}
	return config.ParseEnum(s, TopologyFanout, TopologyShared)
}

type ClusterConfig struct {
	Topology Topology
	// NodeID names this process in per-process queue names. A random id is
	// used when empty.
	NodeID    string
	Requests  queue.Declaration
	Responses queue.Declaration
}

func (c *ClusterConfig) requestBinding(d queue.Declaration) queue.Declaration {
	return bind(d, c.NodeID, c.Topology != TopologyShared)
}

// responseBinding is per process in every topology: only the process holding
// the recipient's connections can deliver a response.
func (c *ClusterConfig) responseBinding(d queue.Declaration) queue.Declaration {
	return bind(d, c.NodeID, true)
}

// bind fills in defaults and, for perNode, names the queue after the process
// so every process sees every message.
func bind(d queue.Declaration, nodeID string, perNode bool) queue.Declaration {
	if d.Exchange.Kind == "" {
		d.Exchange.Kind = queue.Fanout
	}
	base := d.Queue.Name
	if base == "" {
		base = d.Exchange.Name
	}
	if d.Queue.RoutingKey == "" {
		d.Queue.RoutingKey = base
	}
	d.Queue.Name = base
	if perNode {
		d.Queue.Name = base + "." + nodeID
		d.Queue.Transient = true
	}
	return d
}

func (r *Router) provision(ctx context.Context) error {
	if r.cluster.NodeID == "" {
		r.cluster.NodeID = uuid.NewString()
	}
	if r.cluster.Topology == "" {
		r.cluster.Topology = TopologyFanout
	}

	channels := []struct {
		decl   queue.Declaration
		key    *queue.Key
		listen queue.Listener
	}{
		{r.cluster.requestBinding(r.cluster.Requests), &r.requests, r.onRequest},
		{r.cluster.responseBinding(r.cluster.Responses), &r.responses, r.onResponse},
	}
	for _, ch := range channels {
		q, err := r.handler.CreateQueue(ctx, ch.decl)
		if err != nil {
			return fmt.Errorf("router: provision %s: %w", ch.decl.Key(), err)
		}
		id, err := r.handler.AddEvent(q.Key(), ch.listen)
		if err != nil {
			return fmt.Errorf("router: subscribe %s: %w", q.Key(), err)
		}
		*ch.key = q.Key()
		r.subs = append(r.subs, subscription{key: q.Key(), id: id})
	}

	r.logger.Info("cluster channels ready",
		zap.String("node", r.cluster.NodeID),
		zap.String("topology", string(r.cluster.Topology)),
		zap.Stringer("requests", r.requests),
		zap.Stringer("responses", r.responses))
	return nil
}

// onRequest runs a request taken off the requests channel. In the fanout
// topology every process receives it and only the one holding the originating
// connection runs it; in the shared topology the broker already picked one.
func (r *Router) onRequest(ctx context.Context, sig *signal.Signal) {
	if sig == nil || !sig.IsValid() {
		r.logger.Warn("dropping invalid cluster request", zap.Stringer("signal", sig))
		r.metrics.dropped("invalid")
		return
	}
	if r.cluster.Topology != TopologyShared && !r.ownsOrigin(sig) {
		r.logger.Debug("request owned elsewhere", zap.String("sender", sig.Sender), zap.String("connection", sig.SenderConnectionID))
		r.metrics.dropped("not_owner")
		return
	}

	ext, err := r.resolve(sig)
	if err != nil {
		r.logger.Error("cluster request failed", zap.String("route", sig.Route()), zap.Error(err))
		return
	}
	if ext == nil {
		return
	}

	resp := r.execute(ctx, ext, sig)
	if resp == nil {
		return
	}
	if resp.Recipient == "" {
		resp.Recipient = sig.Sender
	}
	if err := r.handler.Enqueue(ctx, r.responses, resp); err != nil {
		r.logger.Error("publish response failed", zap.String("route", resp.Route()), zap.Error(err))
	}
}

// onResponse delivers a response to the recipient's connections on this
// process. Processes without any drop it.
func (r *Router) onResponse(ctx context.Context, sig *signal.Signal) {
	if sig == nil || sig.Recipient == "" {
		r.metrics.dropped("invalid")
		return
	}
	conns := r.registry.ConnectionsByClientID(sig.Recipient)
	if len(conns) == 0 {
		r.metrics.dropped("no_connection")
		return
	}
	if err := r.sendAll(ctx, conns, sig); err != nil {
		r.logger.Warn("response delivery incomplete", zap.String("recipient", sig.Recipient), zap.Error(err))
	}
}

func (r *Router) ownsOrigin(sig *signal.Signal) bool {
	conns := r.registry.ConnectionsByClientID(sig.Sender)
	if sig.SenderConnectionID == "" {
		return len(conns) > 0
	}
	for _, c := range conns {
		if c.UniqueID() == sig.SenderConnectionID {
			return true
		}
	}
	return false
}
