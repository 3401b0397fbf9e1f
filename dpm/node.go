package dpm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/rs/zerolog"

	"github.com/TheusHen/DPM/dpm/config"
	"github.com/TheusHen/DPM/dpm/crypto"
	"github.com/TheusHen/DPM/dpm/discovery"
	"github.com/TheusHen/DPM/dpm/identity"
	"github.com/TheusHen/DPM/dpm/network"
	"github.com/TheusHen/DPM/dpm/pake"
	"github.com/TheusHen/DPM/dpm/session"
	"github.com/TheusHen/DPM/dpm/vault"
)

var (
	ErrSignedIn    = errors.New("dpm: already signed in")
	ErrNotSignedIn = errors.New("dpm: not signed in")
	ErrProvisioned = errors.New("dpm: device already belongs to a network")
	ErrNoVault     = errors.New("dpm: vault not constructed")
)

// TransportFunc opens the discovery transport of a signed-in node.
type TransportFunc func(cfg config.Config) (discovery.Transport, error)

// MulticastTransport is the default TransportFunc.
func MulticastTransport(cfg config.Config) (discovery.Transport, error) {
	return discovery.ListenMulticast(cfg.MulticastGroup, discovery.MulticastOptions{
		Interface: cfg.MulticastInterface,
		Loopback:  cfg.MulticastLoopback,
	})
}

type NodeOption func(*Node)

func WithLogger(l zerolog.Logger) NodeOption {
	return func(n *Node) { n.log = l }
}

func WithTransport(fn TransportFunc) NodeOption {
	return func(n *Node) { n.transport = fn }
}

// Node is one device of a user's network.
type Node struct {
	cfg       config.Config
	log       zerolog.Logger
	transport TransportFunc

	mu     sync.Mutex
	secret *crypto.Secret
	props  identity.Properties
	store  *vault.FragmentStore
	ctrl   *network.Controller
	vault  *vault.Vault
}

func NewNode(cfg config.Config, opts ...NodeOption) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	n := &Node{cfg: cfg, log: zerolog.Nop(), transport: MulticastTransport}
	for _, o := range opts {
		o(n)
	}
	return n, nil
}

// Provisioned reports whether this device already joined a network.
func (n *Node) Provisioned() bool {
	_, err := identity.LoadProperties(n.cfg.PropertiesPath())
	return err == nil
}

// Properties returns the identity of the signed-in node.
func (n *Node) Properties() identity.Properties {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.props
}

// SignIn unlocks an already provisioned device and starts answering peers.
func (n *Node) SignIn(ctx context.Context, password []byte) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.ctrl != nil {
		return ErrSignedIn
	}
	props, err := identity.LoadProperties(n.cfg.PropertiesPath())
	if err != nil {
		return err
	}
	secret, err := crypto.Derive(password)
	if err != nil {
		return err
	}
	if err := props.Verify(secret); err != nil {
		secret.Wipe()
		return err
	}
	if err := n.start(ctx, secret, props); err != nil {
		secret.Wipe()
		return err
	}
	n.log.Info().Str("node", props.NodeID.String()).Msg("signed in")
	return nil
}

// Provision makes this device a member of a network. An empty seed creates a
// new network; otherwise the device joins the network named by seed, which
// must be reachable with the same password. The vault is redistributed over
// the enlarged network. If that first round fails the device is left
// unprovisioned and signed out, so Provision can be retried.
func (n *Node) Provision(ctx context.Context, password []byte, seed string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.ctrl != nil {
		return ErrSignedIn
	}
	if _, err := identity.LoadProperties(n.cfg.PropertiesPath()); err == nil {
		return ErrProvisioned
	} else if !errors.Is(err, identity.ErrNoProperties) {
		return err
	}

	if seed == "" {
		var err error
		if seed, err = identity.NewSeed(); err != nil {
			return err
		}
	}
	secret, err := crypto.Derive(password)
	if err != nil {
		return err
	}
	props, err := identity.NewProperties(secret, seed)
	if err != nil {
		secret.Wipe()
		return err
	}
	if err := os.MkdirAll(n.cfg.DataDir, 0o700); err != nil {
		secret.Wipe()
		return err
	}
	if err := identity.SaveProperties(n.cfg.PropertiesPath(), props); err != nil {
		secret.Wipe()
		return err
	}
	if err := n.start(ctx, secret, props); err != nil {
		secret.Wipe()
		return err
	}
	n.log.Info().Str("node", props.NodeID.String()).Str("network", props.NetworkID.String()).Msg("provisioned")

	if err := n.initialise(ctx); err != nil {
		stopErr := n.stop()
		if rmErr := os.Remove(n.cfg.PropertiesPath()); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			stopErr = errors.Join(stopErr, rmErr)
		}
		if rmErr := os.Remove(n.cfg.FragmentPath()); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			stopErr = errors.Join(stopErr, rmErr)
		}
		return errors.Join(fmt.Errorf("initialise vault: %w", err), stopErr)
	}
	return nil
}

// initialise rebuilds the vault from the network, or starts an empty one on
// the first device, and spreads it over every node including this one.
func (n *Node) initialise(ctx context.Context) error {
	frags, err := n.ctrl.GetNetworkFragments(ctx)
	if err != nil {
		return err
	}
	v, err := vaultFromNetwork(frags)
	if err != nil {
		return err
	}
	if err := n.distribute(ctx, v); err != nil {
		v.Clear()
		return err
	}
	n.vault = v
	return nil
}

// vaultFromNetwork rebuilds the vault held by peers, or returns an empty one
// when no peer holds anything. The fragments are wiped either way.
func vaultFromNetwork(frags []vault.Fragment) (*vault.Vault, error) {
	defer func() {
		for _, f := range frags {
			f.Wipe()
		}
	}()
	for _, f := range frags {
		if !f.Empty() {
			return vault.Reconstruct(frags)
		}
	}
	return vault.New(), nil
}

func (n *Node) distribute(ctx context.Context, v *vault.Vault) error {
	size := n.ctrl.NetworkSize()
	shares, err := vault.Split(v, size)
	if err != nil {
		return err
	}
	defer func() {
		for _, s := range shares {
			s.Wipe()
		}
	}()
	if err := n.ctrl.SendNetworkFragments(ctx, shares[1:]); err != nil {
		return err
	}
	if err := n.store.Save(shares[0]); err != nil {
		return err
	}
	n.log.Debug().Int("network_size", size).Msg("vault distributed")
	return nil
}

func (n *Node) start(ctx context.Context, secret *crypto.Secret, props identity.Properties) error {
	tr, err := n.transport(n.cfg)
	if err != nil {
		return fmt.Errorf("open discovery transport: %w", err)
	}
	opts := session.DefaultOptions(props.NodeID, pake.NewEngine(secret))
	opts.ConnectTimeout = n.cfg.ConnectTimeout
	opts.HandshakeTimeout = n.cfg.HandshakeTimeout
	opts.TransferTimeout = n.cfg.TransferTimeout
	opts.AcceptTimeout = n.cfg.AcceptTimeout

	store := vault.NewFragmentStore(n.cfg.FragmentPath(), secret)
	ctrl, err := network.New(network.Config{
		Props:      props,
		Secret:     secret,
		Store:      store,
		Transport:  tr,
		Session:    opts,
		Window:     n.cfg.DiscoveryWindow,
		ListenHost: n.cfg.ListenHost,
		Logger:     n.log,
	})
	if err != nil {
		_ = tr.Close()
		return err
	}
	ctrl.StartDiscoveryListener(context.WithoutCancel(ctx))

	n.secret, n.props, n.store, n.ctrl = secret, props, store, ctrl
	return nil
}

// ConstructVault collects every fragment of the network and rebuilds the vault.
func (n *Node) ConstructVault(ctx context.Context) (*vault.Vault, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.ctrl == nil {
		return nil, ErrNotSignedIn
	}
	local, err := n.store.Load()
	if err != nil && !errors.Is(err, vault.ErrNoFragment) {
		return nil, err
	}
	frags, err := n.ctrl.GetNetworkFragments(ctx)
	if err != nil {
		return nil, err
	}
	v, err := vault.Reconstruct(append(frags, local))
	for _, f := range frags {
		f.Wipe()
	}
	local.Wipe()
	if err != nil {
		return nil, err
	}
	if n.vault != nil {
		n.vault.Clear()
	}
	n.vault = v
	n.log.Debug().Int("network_size", n.ctrl.NetworkSize()).Int("entries", v.Len()).Msg("vault constructed")
	return v, nil
}

// NotifyVaultChange refragments the current vault over the network size seen
// by the last collection and hands the fragments out.
func (n *Node) NotifyVaultChange(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.ctrl == nil {
		return ErrNotSignedIn
	}
	if n.vault == nil {
		return ErrNoVault
	}
	return n.distribute(ctx, n.vault)
}

// Vault returns the last constructed vault, or nil.
func (n *Node) Vault() *vault.Vault {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.vault
}

// SignOut forgets the vault and the password and stops answering peers.
func (n *Node) SignOut() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.ctrl == nil {
		return ErrNotSignedIn
	}
	err := n.stop()
	n.log.Info().Msg("signed out")
	return err
}

// stop releases everything start acquired. n.mu must be held.
func (n *Node) stop() error {
	err := n.ctrl.Close()
	if n.vault != nil {
		n.vault.Clear()
	}
	n.secret.Wipe()
	n.secret, n.store, n.ctrl, n.vault = nil, nil, nil, nil
	n.props = identity.Properties{}
	return err
}

func (n *Node) Close() error {
	if err := n.SignOut(); err != nil && !errors.Is(err, ErrNotSignedIn) {
		return err
	}
	return nil
}
