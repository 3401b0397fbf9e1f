package network

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/TheusHen/DPM/dpm/crypto"
	"github.com/TheusHen/DPM/dpm/discovery"
	"github.com/TheusHen/DPM/dpm/identity"
	"github.com/TheusHen/DPM/dpm/pake"
	"github.com/TheusHen/DPM/dpm/protocol"
	"github.com/TheusHen/DPM/dpm/session"
	"github.com/TheusHen/DPM/dpm/vault"
)

var (
	ErrNetwork        = errors.New("network: request to one or more peers failed")
	ErrNetworkChanged = errors.New("network: peer count does not match fragment count")
	ErrNoPeers        = errors.New("network: no peers found")
	ErrClosed         = errors.New("network: controller closed")
	ErrInvalidConfig  = errors.New("network: invalid config")
)

// Config wires a Controller to its collaborators.
type Config struct {
	Props  identity.Properties
	Secret *crypto.Secret
	Store  *vault.FragmentStore

	// Transport carries discovery datagrams. The controller owns it.
	Transport discovery.Transport

	// Session configures every connection. LocalID is taken from Props and
	// Engine is built from Secret when unset.
	Session session.Options

	// Window is how long a discovery round collects echoes.
	Window time.Duration
	// ListenHost is where per-request servers are opened.
	ListenHost string

	Logger zerolog.Logger
}

// Controller collects and distributes fragments across the network and
// answers the requests of other nodes.
type Controller struct {
	cfg  Config
	log  zerolog.Logger
	disc *discovery.Service

	size atomic.Int32

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	closeOnce sync.Once
}

// New validates cfg and starts reading discovery datagrams. The node does not
// answer peers until StartDiscoveryListener.
func New(cfg Config) (*Controller, error) {
	if cfg.Store == nil || cfg.Transport == nil {
		return nil, fmt.Errorf("%w: store and transport are required", ErrInvalidConfig)
	}
	if cfg.Props.NodeID.IsZero() {
		return nil, fmt.Errorf("%w: missing node id", ErrInvalidConfig)
	}
	if cfg.Session.Engine == nil {
		if cfg.Secret == nil {
			return nil, fmt.Errorf("%w: secret or engine is required", ErrInvalidConfig)
		}
		cfg.Session.Engine = pake.NewEngine(cfg.Secret)
	}
	cfg.Session.LocalID = cfg.Props.NodeID
	cfg.Session.Logger = cfg.Logger
	if cfg.Window <= 0 {
		cfg.Window = discovery.DefaultWindow
	}
	if cfg.ListenHost == "" {
		cfg.ListenHost = "0.0.0.0"
	}

	c := &Controller{
		cfg: cfg,
		log: cfg.Logger.With().Str("node", cfg.Props.NodeID.String()).Logger(),
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.size.Store(1)
	c.disc = discovery.NewService(cfg.Transport, cfg.Props.NetworkID, discovery.ResponderFunc(c.respond), c.log)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := c.disc.Run(c.ctx); err != nil {
			c.log.Error().Err(err).Msg("discovery loop stopped")
		}
	}()
	return c, nil
}

// NetworkSize is this node plus the peers that answered the last
// GetNetworkFragments.
func (c *Controller) NetworkSize() int { return int(c.size.Load()) }

// StartDiscoveryListener answers discovery requests from other nodes until
// ctx is done or the controller is closed.
func (c *Controller) StartDiscoveryListener(ctx context.Context) {
	c.disc.SetListening(true)
	c.log.Info().Msg("discovery listener started")
	context.AfterFunc(ctx, func() { c.disc.SetListening(false) })
}

// respond opens a one-shot server for a peer that asked to discover us.
func (c *Controller) respond(context.Context) (uint16, error) {
	if c.ctx.Err() != nil {
		return 0, ErrClosed
	}
	srv, err := session.Listen(c.cfg.ListenHost, c.cfg.Session, c)
	if err != nil {
		return 0, err
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		_ = srv.Serve(c.ctx)
	}()
	return srv.Port(), nil
}

func (c *Controller) connect(ctx context.Context, peer netip.AddrPort, req protocol.Packet, wantResponse bool, out chan<- session.Result) {
	cl := session.NewClient(peer, c.cfg.Session)
	cl.SetRequest(req, wantResponse)
	go func() { out <- cl.Run(ctx) }()
}

// GetNetworkFragments asks every discovered peer for its fragment. Clients
// are started as echoes arrive and results are collected in completion order.
// Fragments from nodes that hold none are returned as empty fragments.
func (c *Controller) GetNetworkFragments(ctx context.Context) ([]vault.Fragment, error) {
	peers, err := c.disc.Discover(ctx, c.cfg.Window)
	if err != nil {
		return nil, err
	}

	req := protocol.GetFragment{NetworkID: c.cfg.Props.NetworkID}
	results := make(chan session.Result)
	started := 0
	for peer := range peers {
		c.connect(ctx, peer, req, true, results)
		started++
	}

	var (
		frags []vault.Fragment
		errs  []error
	)
	for i := 0; i < started; i++ {
		r := <-results
		frag, err := fragmentResponse(r)
		if err != nil {
			errs = append(errs, fmt.Errorf("peer %s: %w", r.Dest, err))
			continue
		}
		frags = append(frags, frag)
	}

	c.size.Store(int32(1 + len(frags)))
	c.log.Debug().Int("network_size", c.NetworkSize()).Int("failed", len(errs)).Msg("collected network fragments")
	if len(errs) > 0 {
		for _, f := range frags {
			f.Wipe()
		}
		return nil, fmt.Errorf("%w: %w", ErrNetwork, errors.Join(errs...))
	}
	return frags, nil
}

func fragmentResponse(r session.Result) (vault.Fragment, error) {
	if r.Err != nil {
		return vault.Fragment{}, r.Err
	}
	p, ok := r.Response.(protocol.Fragment)
	if !ok {
		return vault.Fragment{}, fmt.Errorf("%w: %T", session.ErrUnexpectedPacket, r.Response)
	}
	if err := p.Fragment.Validate(); err != nil {
		return vault.Fragment{}, err
	}
	return p.Fragment, nil
}

// SendNetworkFragments gives one fragment to each discovered peer. Nothing is
// sent unless exactly len(frags) peers answer the discovery round.
func (c *Controller) SendNetworkFragments(ctx context.Context, frags []vault.Fragment) error {
	if len(frags) == 0 {
		return nil
	}
	round, err := c.disc.Discover(ctx, c.cfg.Window)
	if err != nil {
		return err
	}
	var peers []netip.AddrPort
	for p := range round {
		peers = append(peers, p)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	switch {
	case len(peers) == 0:
		return ErrNoPeers
	case len(peers) != len(frags):
		return fmt.Errorf("%w: %d peers, %d fragments", ErrNetworkChanged, len(peers), len(frags))
	}

	results := make(chan session.Result)
	for i, peer := range peers {
		c.connect(ctx, peer, protocol.Fragment{Fragment: frags[i]}, false, results)
	}
	var errs []error
	for range peers {
		if r := <-results; r.Err != nil {
			errs = append(errs, fmt.Errorf("peer %s: %w", r.Dest, r.Err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrNetwork, errors.Join(errs...))
	}
	c.log.Debug().Int("peers", len(peers)).Msg("distributed fragments")
	return nil
}

// Close stops answering peers, waits for open servers and releases the
// discovery transport.
func (c *Controller) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		err = c.disc.Close()
		c.wg.Wait()
	})
	return err
}
