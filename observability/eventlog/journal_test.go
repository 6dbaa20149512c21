package eventlog

import (
	"context"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"gridmarket/core/events"
)

func newTestJournal(t *testing.T) *Journal {
	t.Helper()
	db, err := Open("sqlite", fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()))
	require.NoError(t, err)
	journal, err := New(db)
	require.NoError(t, err)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var calls int
	journal.SetNowFunc(func() time.Time {
		calls++
		return base.Add(time.Duration(calls) * time.Second)
	})
	return journal
}

func TestJournalStoresFlattenedEvents(t *testing.T) {
	journal := newTestJournal(t)
	journal.Emit(events.ResourceRegistered{
		Index:      1,
		Owner:      common.HexToAddress("0x01"),
		PeerID:     "peer-1",
		Collateral: big.NewInt(4000),
		UnitPrice:  big.NewInt(3),
		EndTick:    100,
	})
	journal.Emit(events.AgreementHeartbeat{AgreementIndex: 9, Checkpoint: 12})

	entries, err := journal.Recent(context.Background(), "", 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, events.TypeAgreementHeartbeat, entries[0].Type)
	require.Equal(t, "12", entries[0].Attributes["checkpoint"])
	require.Equal(t, events.TypeResourceRegistered, entries[1].Type)
	require.Equal(t, "peer-1", entries[1].Attributes["peerId"])
	require.NotEmpty(t, entries[1].ID)
}

func TestJournalFiltersByType(t *testing.T) {
	journal := newTestJournal(t)
	for i := uint64(1); i <= 3; i++ {
		journal.Emit(events.AgreementHeartbeat{AgreementIndex: i, Checkpoint: i})
	}
	journal.Emit(events.ModulePause{Module: "rental", Paused: true})

	entries, err := journal.Recent(context.Background(), events.TypeModulePause, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "true", entries[0].Attributes["paused"])

	entries, err = journal.Recent(context.Background(), events.TypeAgreementHeartbeat, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "3", entries[0].Attributes["agreementIndex"])
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open("mysql", "dsn")
	require.ErrorContains(t, err, "unsupported driver")
}
