package events

import (
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/zjrosen/ticketbay/internal/escrow/types"
)

func TestRecorder_StampsTime(t *testing.T) {
	fixed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	r := NewRecorder(func() time.Time { return fixed })

	r.Record(Event{Type: AssetMinted, AssetID: 1})
	explicit := fixed.Add(time.Hour)
	r.Record(Event{Type: AssetVerified, AssetID: 1, At: explicit})

	require.Equal(t, 2, r.Len())
	require.Equal(t, fixed, r.Events()[0].At)
	require.Equal(t, explicit, r.Events()[1].At)
}

func TestEvent_String(t *testing.T) {
	e := Event{
		Seq:     3,
		Type:    Purchased,
		AssetID: 7,
		Actor:   "bob",
		Party:   "alice",
		Amount:  uint256.NewInt(100),
	}
	require.Equal(t, "#3 purchased asset=7 actor=bob party=alice amount=100", e.String())

	fee := Event{Seq: 4, Type: FeeUpdated, Actor: "owner", FeeBps: types.BasisPoints(300)}
	require.Equal(t, "#4 fee_updated actor=owner fee=3.00%", fee.String())

	dispute := Event{Seq: 5, Type: DisputeRaised, AssetID: 7, Reason: "item not received"}
	require.Contains(t, dispute.String(), `reason="item not received"`)
}

func TestEvent_CloneDetachesAmount(t *testing.T) {
	e := Event{Type: Listed, Amount: uint256.NewInt(10)}
	c := e.Clone()
	c.Amount.SetUint64(99)
	require.Equal(t, uint64(10), e.Amount.Uint64())
}

func TestCount(t *testing.T) {
	evts := []Event{{Type: Confirmed}, {Type: Confirmed}, {Type: EscrowCompleted}}
	require.Equal(t, 2, Count(evts, Confirmed))
	require.Equal(t, 0, Count(evts, Listed))
}
