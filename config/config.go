// Package config describes the cluster topology netpeer needs to resolve
// peer addresses, and the login details its bootstrap helper needs to
// start remote peers over SSH. It is the direct descendant of
// configs/configs.go: same JSON-on-disk shape, renamed from "drones" to
// the BSP vocabulary of processors.
package config

import (
	"encoding/json"
	"os"
)

// Peer describes one other processor in the job: where to reach it, and
// the processor id it will claim.
type Peer struct {
	Address string
	Port    string
	PID     int
}

// RemotePeer extends Peer with the credentials bootstrap needs to start it
// over SSH, mirroring configs.go's DroneManagerConfig.
type RemotePeer struct {
	Peer
	Username string
	Password string
}

// Topology is the on-disk shape of a job's configuration, the direct
// descendant of configs.Config: IsCoordinator distinguishes the processor
// that starts the others (coordinator == configs.go's "CBM", the central
// barrier manager) from a processor that was started by one.
type Topology struct {
	// IsCoordinator is true on the processor that bootstraps the others.
	IsCoordinator bool

	// Remotes lists the peers to start, valid only when IsCoordinator.
	Remotes []RemotePeer

	// Coordinator is this peer's bootstrapper's address, valid only when
	// !IsCoordinator.
	Coordinator string

	// Peers is the full roster of processors in the job, as seen by every
	// non-coordinator processor once bootstrap has assigned ids.
	Peers []Peer
}

// Load reads a Topology from a JSON file, the same shape ReadConfig reads
// from config.json.
func Load(path string) (Topology, error) {
	var t Topology
	data, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := json.Unmarshal(data, &t); err != nil {
		return t, err
	}
	return t, nil
}

// Save writes a Topology to path as JSON, the same role configs.WriteConfig
// plays for the coordinator handing each remote its own config.json.
func Save(path string, t Topology) error {
	data, err := json.Marshal(t)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// PID returns the processor id this topology assigns to address, or -1 if
// it doesn't appear in Peers.
func (t Topology) PID(address string) int {
	for _, p := range t.Peers {
		if p.Address == address {
			return p.PID
		}
	}
	return -1
}
