package router

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/mdns"
	"github.com/rs/zerolog/log"
)

const (
	mdnsServiceName = "_fipa-agentd._tcp"
	peerCacheTTL    = 10 * time.Minute
)

// Discovery maintains the set of peers learned via LAN mDNS broadcast
// and bootstrap configuration, mirroring DiscoveryService's peer cache
// without the libp2p Kademlia DHT: a flat cluster of agentd nodes is
// small enough that a wide-area DHT is unneeded overhead.
type Discovery struct {
	mu    sync.Mutex
	peers map[string]*Peer
}

func NewDiscovery() *Discovery {
	return &Discovery{peers: make(map[string]*Peer)}
}

func (d *Discovery) AddPeer(nodeID string, addr string, source PeerSource) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	if p, ok := d.peers[nodeID]; ok {
		if !containsAddr(p.Addresses, addr) {
			p.Addresses = append(p.Addresses, addr)
		}
		p.LastSeen = now
		return
	}
	d.peers[nodeID] = &Peer{
		NodeID:       nodeID,
		Addresses:    []string{addr},
		Source:       source,
		DiscoveredAt: now,
		LastSeen:     now,
	}
	log.Info().Str("node", nodeID).Str("addr", addr).Msg("discovered peer")
}

func containsAddr(addrs []string, addr string) bool {
	for _, a := range addrs {
		if a == addr {
			return true
		}
	}
	return false
}

func (d *Discovery) RemovePeer(nodeID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.peers, nodeID)
}

func (d *Discovery) Lookup(nodeID string) (*Peer, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.peers[nodeID]
	return p, ok
}

func (d *Discovery) Peers() []Peer {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Peer, 0, len(d.peers))
	for _, p := range d.peers {
		out = append(out, *p)
	}
	return out
}

// ListNodes implements actor.NodeLister, giving a migrating agent the
// set of candidate target nodes visible to the guest's list-nodes call.
func (d *Discovery) ListNodes() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, 0, len(d.peers))
	for id := range d.peers {
		out = append(out, id)
	}
	return out
}

// CleanupStale drops peers that have not been seen within peerCacheTTL,
// run periodically the way the original discovery service did.
func (d *Discovery) CleanupStale() {
	d.mu.Lock()
	defer d.mu.Unlock()
	cutoff := time.Now().Add(-peerCacheTTL)
	for id, p := range d.peers {
		if p.LastSeen.Before(cutoff) {
			delete(d.peers, id)
		}
	}
}

// AdvertiseMDNS registers this node on the LAN so other agentd nodes can
// discover it without bootstrap peers configured.
func AdvertiseMDNS(nodeID string, rpcPort int) (*mdns.Server, error) {
	info := []string{"agentd-node"}
	service, err := mdns.NewMDNSService(nodeID, mdnsServiceName, "", "", rpcPort, nil, info)
	if err != nil {
		return nil, err
	}
	return mdns.NewServer(&mdns.Config{Zone: service})
}

// BrowseMDNS runs a single LAN discovery sweep and feeds results into d.
func BrowseMDNS(ctx context.Context, d *Discovery) error {
	entries := make(chan *mdns.ServiceEntry, 16)
	go func() {
		for e := range entries {
			addr := e.AddrV4.String() + ":" + strconv.Itoa(e.Port)
			d.AddPeer(e.Name, addr, SourceMdns)
		}
	}()
	defer close(entries)

	params := mdns.DefaultParams(mdnsServiceName)
	params.Entries = entries
	params.Timeout = 3 * time.Second
	return mdns.Query(params)
}
