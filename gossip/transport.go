package gossip

import (
	"bufio"
	"context"
	"errors"
	"io"
	"time"

	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/protocol"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/arqmesh/arqmesh/p2p"
)

// ProtocolID returns the stream protocol id for the gossip type.
func ProtocolID(typ Type) protocol.ID {
	return protocol.ID("/arqmesh/gossip/" + typ.String() + "/1.0.0")
}

const (
	// defaultInitiateInterval paces outgoing round attempts.
	defaultInitiateInterval = 10 * time.Second
	// defaultInboundRate bounds inbound message processing per second,
	// across all peers.
	defaultInboundRate  = 100
	defaultInboundBurst = 200
	// maxConcurrentInitiates bounds in-flight outgoing conversations.
	maxConcurrentInitiates = 4
)

// PeerScorer receives the outcome of outgoing conversations, feeding
// responsiveness scoring for later peer selection.
type PeerScorer interface {
	OnFailure(p2p.Peer)
	OnLatency(id p2p.Peer, size int, latency time.Duration)
}

// Transport drives a ShardedGossip instance over libp2p streams: it
// serves inbound conversations and periodically initiates outbound
// ones.
type Transport struct {
	logger   *zap.Logger
	host     host.Host
	gossip   *ShardedGossip
	limiter  *rate.Limiter
	scorer   PeerScorer
	interval time.Duration
}

// TransportOpt configures a Transport.
type TransportOpt func(*Transport)

// WithTransportLogger sets the logger.
func WithTransportLogger(logger *zap.Logger) TransportOpt {
	return func(t *Transport) {
		t.logger = logger
	}
}

// WithInitiateInterval sets the pacing of outgoing round attempts.
func WithInitiateInterval(d time.Duration) TransportOpt {
	return func(t *Transport) {
		t.interval = d
	}
}

// WithInboundRateLimit bounds inbound message processing.
func WithInboundRateLimit(perSecond, burst int) TransportOpt {
	return func(t *Transport) {
		t.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithPeerScorer reports conversation outcomes to the scorer.
func WithPeerScorer(s PeerScorer) TransportOpt {
	return func(t *Transport) {
		t.scorer = s
	}
}

// NewTransport wires the gossip instance to the host and registers its
// stream handler.
func NewTransport(h host.Host, g *ShardedGossip, opts ...TransportOpt) *Transport {
	t := &Transport{
		logger:   zap.NewNop(),
		host:     h,
		gossip:   g,
		limiter:  rate.NewLimiter(defaultInboundRate, defaultInboundBurst),
		interval: defaultInitiateInterval,
	}
	for _, opt := range opts {
		opt(t)
	}
	h.SetStreamHandler(ProtocolID(g.typ), t.handleStream)
	return t
}

// Run initiates rounds on the configured interval until the context is
// canceled.
func (t *Transport) Run(ctx context.Context) error {
	var eg errgroup.Group
	eg.SetLimit(maxConcurrentInitiates)
	ticker := t.gossip.clock.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			err := eg.Wait()
			if err == nil {
				err = ctx.Err()
			}
			return err
		case <-ticker.Chan():
		}
		out, err := t.gossip.TryInitiate(ctx)
		if err != nil {
			t.logger.Warn("initiate failed", zap.Error(err))
			continue
		}
		if out == nil {
			continue
		}
		eg.Go(func() error {
			if err := t.initiate(ctx, out); err != nil {
				t.logger.Debug("outgoing round failed",
					zap.Stringer("peer", out.To), zap.Error(err))
				t.gossip.closeRound(out.To)
			}
			return nil
		})
	}
}

func (t *Transport) initiate(ctx context.Context, out *Outgoing) error {
	stream, err := t.host.NewStream(ctx, out.To, ProtocolID(t.gossip.typ))
	if err != nil {
		if t.scorer != nil {
			t.scorer.OnFailure(out.To)
		}
		return err
	}
	defer stream.Close()
	start := t.gossip.clock.Now()
	sent, err := t.converse(ctx, stream, out.To, out.Msgs)
	if t.scorer != nil {
		if err != nil {
			t.scorer.OnFailure(out.To)
		} else {
			t.scorer.OnLatency(out.To, sent, t.gossip.clock.Since(start))
		}
	}
	return err
}

func (t *Transport) handleStream(stream network.Stream) {
	defer stream.Close()
	peer := stream.Conn().RemotePeer()
	if _, err := t.converse(context.Background(), stream, peer, nil); err != nil {
		t.logger.Debug("inbound round failed",
			zap.Stringer("peer", peer), zap.Error(err))
	}
}

// converse runs one side of a duplex round conversation: write the
// opening messages, then alternate reading a message and writing the
// replies Process produces, until the stream ends or the round does.
// It returns the number of bytes written.
func (t *Transport) converse(ctx context.Context, stream network.Stream, peer p2p.Peer, opening []Message) (int, error) {
	deadline := t.gossip.cfg.RoundTimeout
	w := &countingWriter{w: stream}
	for _, m := range opening {
		if err := WriteMessage(w, m); err != nil {
			return w.n, err
		}
	}
	rd := bufio.NewReader(stream)
	for {
		if err := stream.SetDeadline(time.Now().Add(deadline)); err != nil {
			return w.n, err
		}
		msg, err := ReadMessage(rd)
		if errors.Is(err, io.EOF) {
			return w.n, nil
		}
		if err != nil {
			return w.n, err
		}
		if err := t.limiter.Wait(ctx); err != nil {
			return w.n, err
		}
		replies, err := t.gossip.Process(ctx, peer, msg)
		if err != nil {
			return w.n, err
		}
		for _, r := range replies {
			if err := WriteMessage(w, r); err != nil {
				return w.n, err
			}
		}
		if len(replies) == 0 {
			if _, active := t.gossip.RoundFor(peer); !active {
				return w.n, nil
			}
		}
	}
}

// countingWriter tracks bytes written for latency normalization.
type countingWriter struct {
	w io.Writer
	n int
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += n
	return n, err
}
