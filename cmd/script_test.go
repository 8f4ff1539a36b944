package cmd

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/ticketbay/internal/escrow/types"
)

func TestParseScript(t *testing.T) {
	s, err := ParseScript([]byte(`
start: 2025-06-01T09:00:00Z
deposits:
  bob: "5"
steps:
  - op: mint
    as: alice
    event: Cup Final
    date: 2025-07-04T19:30:00Z
    save: final
  - {op: verify, as: carol, asset: $final}
  - {op: show, asset: 1}
`))
	require.NoError(t, err)
	require.Equal(t, time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC), s.Start.UTC())
	require.Equal(t, "5", s.Deposits["bob"])
	require.Len(t, s.Steps, 3)
	require.Equal(t, 2025, s.Steps[0].Date.Year())
	require.Equal(t, "$final", s.Steps[1].Asset)
	require.Equal(t, "1", s.Steps[2].Asset)
}

func TestParseScript_Empty(t *testing.T) {
	s, err := ParseScript(nil)
	require.NoError(t, err)
	require.Empty(t, s.Steps)
}

func TestParseScript_Errors(t *testing.T) {
	tests := []struct {
		name    string
		script  string
		wantErr string
	}{
		{name: "missing op", script: "steps:\n  - {as: alice}\n", wantErr: "op is required"},
		{name: "unknown op", script: "steps:\n  - {op: teleport}\n", wantErr: `unknown op "teleport"`},
		{name: "unknown expect", script: "steps:\n  - {op: verify, expect: maybe}\n", wantErr: `unknown expect "maybe"`},
		{name: "unknown field", script: "steps:\n  - {op: verify, colour: red}\n", wantErr: "colour"},
		{name: "not yaml", script: "steps: [", wantErr: "parsing script"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScript([]byte(tt.script))
			require.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestSimClock(t *testing.T) {
	start := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	c := &simClock{now: start}
	require.Equal(t, start, c.Now())
	c.Advance(36 * time.Hour)
	require.Equal(t, start.Add(36*time.Hour), c.Now())
}

func TestRunner_AssetRef(t *testing.T) {
	r := &runner{names: map[string]types.AssetID{"final": 7}}

	id, err := r.assetRef("$final")
	require.NoError(t, err)
	require.Equal(t, types.AssetID(7), id)

	id, err = r.assetRef(" 12 ")
	require.NoError(t, err)
	require.Equal(t, types.AssetID(12), id)

	_, err = r.assetRef("$missing")
	require.ErrorIs(t, err, types.ErrInvalidValue)

	_, err = r.assetRef("seven")
	require.ErrorIs(t, err, types.ErrInvalidValue)
}
