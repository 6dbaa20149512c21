package rewards

import (
	"encoding/binary"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	coreerrors "gridmarket/core/errors"
	"gridmarket/native/bank"
)

// PotAddress funds every reward payout. Seized stake lands here too.
var PotAddress = bank.ModuleAddress("rewards")

// Variant selects how a task's payout is split.
type Variant uint8

const (
	// VariantGateway splits the payout by online duration.
	VariantGateway Variant = iota
	// VariantProvider splits part of the payout by resource points and the
	// rest equally per provider.
	VariantProvider
	// VariantClient splits the payout equally per live agreement.
	VariantClient
)

// Variants lists every variant in payout order.
var Variants = []Variant{VariantGateway, VariantProvider, VariantClient}

func (v Variant) String() string {
	switch v {
	case VariantGateway:
		return "gateway"
	case VariantProvider:
		return "provider"
	case VariantClient:
		return "client"
	default:
		return "unknown"
	}
}

// ParseVariant resolves a variant from its name.
func ParseVariant(name string) (Variant, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "gateway":
		return VariantGateway, nil
	case "provider":
		return VariantProvider, nil
	case "client":
		return VariantClient, nil
	default:
		return 0, fmt.Errorf("rewards: %q: %w", name, coreerrors.ErrUnknownVariant)
	}
}

func (v Variant) valid() bool { return v <= VariantClient }

// Entry is one contributor of a reward dataset. Weight is the online
// duration for gateways and the resource points for providers; client
// entries ignore it.
type Entry struct {
	Account common.Address
	Weight  uint64
}

// Task is a queued payout. Its entries are stored one per key and deleted
// as the cursor passes them.
//
// Payout, TotalWeight and ShareCount describe the whole distribution the
// task belongs to. An epoch snapshot too large for one task is split into
// parts that share those totals, each crediting its own Length entries.
type Task struct {
	ID          uint64
	Variant     Variant
	Payout      *big.Int
	Length      uint64
	TotalWeight *big.Int
	EnqueuedAt  uint64
	Credited    *big.Int
	// ShareCount divides the equal part of a payout: distinct providers for
	// provider tasks, agreements for client tasks.
	ShareCount uint64
	Part       uint64
	Parts      uint64
}

func (t *Task) normalise() {
	if t.Payout == nil {
		t.Payout = big.NewInt(0)
	}
	if t.TotalWeight == nil {
		t.TotalWeight = big.NewInt(0)
	}
	if t.Credited == nil {
		t.Credited = big.NewInt(0)
	}
}

// Queue is the FIFO of pending task ids plus the cursor into it. An empty
// queue has both cursors at zero.
type Queue struct {
	Tasks     []uint64
	TaskIndex uint64
	ItemIndex uint64
}

// Active reports whether a task is running.
func (q Queue) Active() bool { return len(q.Tasks) > 0 }

// Income accumulates credited shares until they are paid out.
type Income struct {
	TotalIncome *big.Int
}

var (
	taskPrefix    = []byte("rewards/task/")
	entryPrefix   = []byte("rewards/entry/")
	incomePrefix  = []byte("rewards/income/")
	pendingPrefix = []byte("rewards/pending/")
	buildPrefix   = []byte("rewards/build/")
	queueKey      = []byte("rewards/queue")
	taskSequence  = []byte("rewards/sequence")
)

func taskKey(id uint64) []byte {
	key := make([]byte, len(taskPrefix)+8)
	copy(key, taskPrefix)
	binary.BigEndian.PutUint64(key[len(taskPrefix):], id)
	return key
}

func entryKey(id, item uint64) []byte {
	key := make([]byte, len(entryPrefix)+16)
	copy(key, entryPrefix)
	binary.BigEndian.PutUint64(key[len(entryPrefix):], id)
	binary.BigEndian.PutUint64(key[len(entryPrefix)+8:], item)
	return key
}

func incomeKey(v Variant, addr common.Address) []byte {
	key := make([]byte, 0, len(incomePrefix)+1+common.AddressLength)
	key = append(key, incomePrefix...)
	key = append(key, byte(v))
	return append(key, addr[:]...)
}

// pendingVariantPrefix scopes the pending-income index of one variant. Each
// member key appends the account address.
func pendingVariantPrefix(v Variant) []byte {
	return append(append([]byte(nil), pendingPrefix...), byte(v))
}

func pendingKey(v Variant, addr common.Address) []byte {
	return append(pendingVariantPrefix(v), addr[:]...)
}

func buildKey(v Variant) []byte {
	return append(append([]byte(nil), buildPrefix...), byte(v))
}
