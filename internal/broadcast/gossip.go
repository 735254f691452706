package broadcast

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/hashicorp/memberlist"
)

// GossipConfig configures a memberlist-backed channel.
type GossipConfig struct {
	// NodeName must be unique among peers. Typically the tab id.
	NodeName string

	// BindAddr is the address to bind for gossip communication.
	BindAddr string

	// BindPort is the port to bind. 0 picks a free port.
	BindPort int

	// Seeds are peers to join at startup.
	Seeds []string

	Logger *slog.Logger
}

// Gossip is a Channel that sends each message to every known peer with
// memberlist's best-effort UDP transport and delivers it locally.
type Gossip struct {
	list   *memberlist.Memberlist
	logger *slog.Logger
	subs   subscribers

	mu     sync.Mutex
	closed bool
}

var _ Channel = (*Gossip)(nil)

// NewGossip starts a memberlist node and joins the seeds, if any.
func NewGossip(cfg GossipConfig) (*Gossip, error) {
	if cfg.NodeName == "" {
		return nil, fmt.Errorf("gossip broadcast: node name is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	g := &Gossip{logger: cfg.Logger}

	mlConfig := memberlist.DefaultLocalConfig()
	mlConfig.Name = cfg.NodeName
	if cfg.BindAddr != "" {
		mlConfig.BindAddr = cfg.BindAddr
	}
	mlConfig.BindPort = cfg.BindPort
	mlConfig.AdvertisePort = cfg.BindPort
	mlConfig.Delegate = &messageDelegate{gossip: g}
	mlConfig.Events = &eventDelegate{logger: cfg.Logger}
	mlConfig.LogOutput = &slogWriter{logger: cfg.Logger}

	list, err := memberlist.Create(mlConfig)
	if err != nil {
		return nil, fmt.Errorf("gossip broadcast: create memberlist: %w", err)
	}
	g.list = list

	if len(cfg.Seeds) > 0 {
		n, err := list.Join(cfg.Seeds)
		if err != nil {
			list.Shutdown()
			return nil, fmt.Errorf("gossip broadcast: join seeds: %w", err)
		}
		cfg.Logger.Info("gossip broadcast joined peers",
			"node", cfg.NodeName,
			"seeds", cfg.Seeds,
			"joined_count", n)
	} else {
		cfg.Logger.Info("gossip broadcast started", "node", cfg.NodeName)
	}

	return g, nil
}

// Addr returns the host:port peers can join.
func (g *Gossip) Addr() string {
	node := g.list.LocalNode()
	return fmt.Sprintf("%s:%d", node.Addr, node.Port)
}

// Members returns the number of live members, including this node.
func (g *Gossip) Members() int {
	return g.list.NumMembers()
}

// Publish delivers msg locally and sends it to every other member.
// Send failures to individual peers are logged, not returned.
func (g *Gossip) Publish(msg []byte) error {
	g.mu.Lock()
	closed := g.closed
	g.mu.Unlock()
	if closed {
		return ErrClosed
	}

	g.subs.deliver(msg)

	local := g.list.LocalNode().Name
	for _, node := range g.list.Members() {
		if node.Name == local {
			continue
		}
		if err := g.list.SendBestEffort(node, msg); err != nil {
			g.logger.Debug("gossip send failed", "peer", node.Name, "error", err)
		}
	}
	return nil
}

// Subscribe registers fn for messages.
func (g *Gossip) Subscribe(fn func(msg []byte)) func() {
	return g.subs.add(fn)
}

// Close leaves the cluster and shuts the node down.
func (g *Gossip) Close() error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil
	}
	g.closed = true
	g.mu.Unlock()

	if err := g.list.Leave(0); err != nil {
		g.logger.Debug("gossip leave failed", "error", err)
	}
	if err := g.list.Shutdown(); err != nil {
		return fmt.Errorf("gossip broadcast: shutdown: %w", err)
	}
	return nil
}

// messageDelegate implements memberlist.Delegate.
type messageDelegate struct {
	gossip *Gossip
}

func (d *messageDelegate) NodeMeta(limit int) []byte { return nil }

// NotifyMsg is called for every user message received from a peer.
func (d *messageDelegate) NotifyMsg(msg []byte) {
	d.gossip.subs.deliver(msg)
}

func (d *messageDelegate) GetBroadcasts(overhead, limit int) [][]byte { return nil }

func (d *messageDelegate) LocalState(join bool) []byte { return nil }

func (d *messageDelegate) MergeRemoteState(buf []byte, join bool) {}

// eventDelegate logs membership changes.
type eventDelegate struct {
	logger *slog.Logger
}

func (e *eventDelegate) NotifyJoin(node *memberlist.Node) {
	e.logger.Debug("gossip peer joined", "peer", node.Name, "addr", node.Address())
}

func (e *eventDelegate) NotifyLeave(node *memberlist.Node) {
	e.logger.Debug("gossip peer left", "peer", node.Name)
}

func (e *eventDelegate) NotifyUpdate(node *memberlist.Node) {}

// slogWriter adapts slog.Logger to io.Writer for memberlist.
type slogWriter struct {
	logger *slog.Logger
}

func (w *slogWriter) Write(p []byte) (n int, err error) {
	w.logger.Debug(string(p))
	return len(p), nil
}
