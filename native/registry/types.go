package registry

import (
	"encoding/binary"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Status is the lifecycle state of a listed resource.
type Status uint8

const (
	// StatusUnused marks a listed resource that nobody is renting.
	StatusUnused Status = iota
	// StatusLocked marks a resource reserved by a pending order.
	StatusLocked
	// StatusInuse marks a resource backing a live agreement.
	StatusInuse
	// StatusOffline marks a resource taken down by the health check. It can
	// only be removed.
	StatusOffline
)

func (s Status) String() string {
	switch s {
	case StatusUnused:
		return "unused"
	case StatusLocked:
		return "locked"
	case StatusInuse:
		return "inuse"
	case StatusOffline:
		return "offline"
	default:
		return "unknown"
	}
}

// Config describes the machine behind a listing.
type Config struct {
	CPU      uint64
	Memory   uint64
	System   string
	CPUModel string
}

// Points is the reward weight of a configuration.
func (c Config) Points() uint64 {
	return c.CPU + c.Memory
}

// RentalInfo holds the listing terms.
type RentalInfo struct {
	UnitPrice *big.Int
	Duration  uint64
	EndTick   uint64
}

// Resource is a listed compute resource.
type Resource struct {
	Index          uint64
	Owner          common.Address
	PeerID         string
	Config         Config
	Rental         RentalInfo
	Status         Status
	Collateral     *big.Int
	FaultCount     uint64
	RegisteredAt   uint64
	RegisteredTime uint64
}

// Clone returns a deep copy of the resource.
func (r *Resource) Clone() *Resource {
	if r == nil {
		return nil
	}
	clone := *r
	clone.Rental.UnitPrice = copyInt(r.Rental.UnitPrice)
	clone.Collateral = copyInt(r.Collateral)
	return &clone
}

func copyInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

// ProviderPoints aggregates the online capacity of one owner.
type ProviderPoints struct {
	Points    uint64
	CPU       uint64
	Memory    uint64
	Resources uint64
}

// Totals aggregates the online capacity of the whole catalog.
type Totals struct {
	Points    uint64
	CPU       uint64
	Memory    uint64
	Resources uint64
}

var (
	resourcePrefix = []byte("registry/resource/")
	expiryPrefix   = []byte("registry/expiry/")
	ownerPrefix    = []byte("registry/owner/")
	pointsPrefix   = []byte("registry/points/")
	peerPrefix     = []byte("registry/peer/")
	sequenceKey    = []byte("registry/sequence")
	totalsKey      = []byte("registry/totals")
	onlinePrefix   = []byte("registry/online/")
	providerPrefix = []byte("registry/providers/")
)

func uintKey(prefix []byte, v uint64) []byte {
	key := make([]byte, len(prefix)+8)
	copy(key, prefix)
	binary.BigEndian.PutUint64(key[len(prefix):], v)
	return key
}

func addressKey(prefix []byte, addr common.Address) []byte {
	key := make([]byte, len(prefix)+common.AddressLength)
	copy(key, prefix)
	copy(key[len(prefix):], addr[:])
	return key
}

func resourceKey(index uint64) []byte { return uintKey(resourcePrefix, index) }

func expiryKey(tick uint64) []byte { return uintKey(expiryPrefix, tick) }

func ownerKey(owner common.Address) []byte { return addressKey(ownerPrefix, owner) }

func pointsKey(owner common.Address) []byte { return addressKey(pointsPrefix, owner) }

func providerKey(owner common.Address) []byte { return addressKey(providerPrefix, owner) }

func peerKey(peerID string) []byte {
	return append(append([]byte(nil), peerPrefix...), crypto.Keccak256([]byte(peerID))...)
}
