package rental

import (
	"encoding/binary"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"gridmarket/native/bank"
	"gridmarket/native/registry"
)

// EscrowAddress holds prepaid rent until it is earned or refunded.
var EscrowAddress = bank.ModuleAddress("rental")

// OrderStatus is the lifecycle state of a rental order.
type OrderStatus uint8

const (
	OrderPending OrderStatus = iota
	OrderFinished
	OrderCanceled
)

func (s OrderStatus) String() string {
	switch s {
	case OrderPending:
		return "pending"
	case OrderFinished:
		return "finished"
	case OrderCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Order is a tenant's request for a new lease or, when Renewal is set, for
// extending AgreementIndex.
type Order struct {
	Index          uint64
	Tenant         common.Address
	ResourceIndex  uint64
	CreatedAt      uint64
	RentDuration   uint64
	Time           uint64
	Status         OrderStatus
	Renewal        bool
	AgreementIndex uint64
	PubKey         []byte
}

// AgreementStatus is the lifecycle state of a rental agreement.
type AgreementStatus uint8

const (
	AgreementUsing AgreementStatus = iota
	AgreementFinished
	AgreementPunished
)

func (s AgreementStatus) String() string {
	switch s {
	case AgreementUsing:
		return "using"
	case AgreementFinished:
		return "finished"
	case AgreementPunished:
		return "punished"
	default:
		return "unknown"
	}
}

// Snapshot freezes the resource terms an agreement was signed under.
type Snapshot struct {
	PeerID    string
	Config    registry.Config
	UnitPrice *big.Int
}

// Agreement is a live or settled lease. Checkpoint marks how far rent has
// been earned; it never exceeds End and never moves backwards.
type Agreement struct {
	Index         uint64
	Provider      common.Address
	Tenant        common.Address
	ResourceIndex uint64
	Snapshot      Snapshot
	Start         uint64
	End           uint64
	Checkpoint    uint64
	Status        AgreementStatus
	RentTotal     *big.Int
	RentWithdrawn *big.Int
	ClientFee     *big.Int
	PubKey        []byte
}

func (a *Agreement) normalise() {
	if a.Snapshot.UnitPrice == nil {
		a.Snapshot.UnitPrice = big.NewInt(0)
	}
	if a.RentTotal == nil {
		a.RentTotal = big.NewInt(0)
	}
	if a.RentWithdrawn == nil {
		a.RentWithdrawn = big.NewInt(0)
	}
	if a.ClientFee == nil {
		a.ClientFee = big.NewInt(0)
	}
}

var (
	orderPrefix       = []byte("rental/order/")
	agreementPrefix   = []byte("rental/agreement/")
	bucketPrefix      = []byte("rental/expiry/")
	providerPrefix    = []byte("rental/provider/")
	tenantPrefix      = []byte("rental/tenant/")
	orderSequence     = []byte("rental/sequence/order")
	agreementSequence = []byte("rental/sequence/agreement")
	livePrefix        = []byte("rental/live/")
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

func orderKey(index uint64) []byte { return uintKey(orderPrefix, index) }

func agreementKey(index uint64) []byte { return uintKey(agreementPrefix, index) }

func liveKey(index uint64) []byte { return uintKey(livePrefix, index) }

func bucketKey(tick uint64) []byte { return uintKey(bucketPrefix, tick) }

func providerKey(addr common.Address) []byte { return addressKey(providerPrefix, addr) }

func tenantKey(addr common.Address) []byte { return addressKey(tenantPrefix, addr) }
