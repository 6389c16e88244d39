// Package p2p implements the Levin-framed peer-to-peer transport: handshake,
// peer lists, a connection maker, and block/transaction relay (§4.5).
package p2p

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/blake2b"
)

// LocalPeerID is a node's self-chosen 64-bit identifier, advertised during
// handshake and used to recognize a back-ping reply as coming from the peer
// that advertised the dialed port. Unlike the teacher's libp2p identity (an
// Ed25519 keypair backing a dial-authenticated PeerID), CryptoNote's peer_id
// carries no cryptographic binding to the TCP connection it rides on, so
// there is nothing to rotate for privacy; it is generated once and persisted
// so restarts keep presenting the same id to peers that remember it.
type LocalPeerID struct {
	mu sync.RWMutex
	id uint64
}

// LoadOrCreatePeerID resolves a persistent peer id the same way the teacher
// resolved a persistent libp2p identity: an explicit env var path first,
// then the XDG config path, generating and saving a fresh id if neither
// exists yet.
func LoadOrCreatePeerID(envVar, xdgName string) (*LocalPeerID, error) {
	if envPath := os.Getenv(envVar); envPath != "" {
		id, err := loadPeerID(envPath)
		if err == nil {
			return &LocalPeerID{id: id}, nil
		}
		id = generatePeerID()
		if err := savePeerID(envPath, id); err != nil {
			return nil, fmt.Errorf("p2p: save peer id to %s: %w", envPath, err)
		}
		log.Printf("p2p: generated persistent peer id %016x (saved to %s)", id, envPath)
		return &LocalPeerID{id: id}, nil
	}

	if xdgPath, err := defaultPeerIDPath(xdgName); err == nil {
		if id, err := loadPeerID(xdgPath); err == nil {
			return &LocalPeerID{id: id}, nil
		}
		id := generatePeerID()
		if err := savePeerID(xdgPath, id); err != nil {
			log.Printf("p2p: could not persist peer id at %s: %v", xdgPath, err)
			return &LocalPeerID{id: id}, nil
		}
		return &LocalPeerID{id: id}, nil
	}

	return &LocalPeerID{id: generatePeerID()}, nil
}

func defaultPeerIDPath(name string) (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, name, "peer_id"), nil
}

func loadPeerID(path string) (uint64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	if len(data) != 8 {
		return 0, fmt.Errorf("p2p: malformed peer id file %s", path)
	}
	return binary.LittleEndian.Uint64(data), nil
}

func savePeerID(path string, id uint64) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, id)
	return os.WriteFile(path, buf, 0600)
}

// generatePeerID hashes fresh random bytes through blake2b and folds the
// digest down to 64 bits, rather than taking crypto/rand output directly, so
// the id's distribution doesn't depend on trusting a single entropy read.
func generatePeerID() uint64 {
	seed := make([]byte, 32)
	if _, err := rand.Read(seed); err != nil {
		panic(fmt.Sprintf("p2p: reading random seed: %v", err))
	}
	digest := blake2b.Sum256(seed)
	return binary.LittleEndian.Uint64(digest[:8])
}

func (l *LocalPeerID) Get() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.id
}
