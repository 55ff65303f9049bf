package model

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTierOrdering(t *testing.T) {
	require.True(t, TierNormal < TierWarning)
	require.True(t, TierWarning < TierEmergency)
	require.False(t, TierNormal.Alerting())
	require.True(t, TierWarning.Alerting())
	require.True(t, TierEmergency.Alerting())
}

func TestTierJSON(t *testing.T) {
	data, err := json.Marshal(map[string]Tier{"tier": TierEmergency})
	require.NoError(t, err)
	require.JSONEq(t, `{"tier":"emergency"}`, string(data))

	var out struct {
		Tier Tier `json:"tier"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"tier":"Warning"}`), &out))
	require.Equal(t, TierWarning, out.Tier)
	require.Error(t, json.Unmarshal([]byte(`{"tier":"critical"}`), &out))
}

func TestValidateItem(t *testing.T) {
	tests := []struct {
		name    string
		item    TrackedItem
		wantErr bool
		field   string
	}{
		{name: "valid", item: TrackedItem{ID: "abc", WarningThreshold: 30, EmergencyThreshold: 80, Status: StatusActive}},
		{name: "missing id", item: TrackedItem{WarningThreshold: 30, EmergencyThreshold: 80, Status: StatusActive}, wantErr: true, field: "id"},
		{name: "zero warning", item: TrackedItem{ID: "abc", WarningThreshold: 0, EmergencyThreshold: 80, Status: StatusActive}, wantErr: true, field: "warningThreshold"},
		{name: "emergency equal warning", item: TrackedItem{ID: "abc", WarningThreshold: 80, EmergencyThreshold: 80, Status: StatusActive}, wantErr: true, field: "emergencyThreshold"},
		{name: "bad status", item: TrackedItem{ID: "abc", WarningThreshold: 30, EmergencyThreshold: 80, Status: "deleted"}, wantErr: true, field: "status"},
		{name: "blank recipient", item: TrackedItem{ID: "abc", WarningThreshold: 30, EmergencyThreshold: 80, Status: StatusPaused,
			Recipients: Recipients{SMS: []string{" "}}}, wantErr: true, field: "recipients.sms[0]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.item.Validate()
			if !tt.wantErr {
				require.NoError(t, err)
				return
			}
			var vErr *ValidationError
			require.True(t, errors.As(err, &vErr))
			found := false
			for _, d := range vErr.Details {
				if d.Field == tt.field {
					found = true
				}
			}
			require.True(t, found, "expected detail for %s, got %v", tt.field, vErr.Details)
		})
	}
}

func TestRecipientsFor(t *testing.T) {
	r := Recipients{Email: []string{"a@example.com"}, SMS: []string{"+100", "+200"}}
	require.Equal(t, []string{"a@example.com"}, r.For(ChannelEmail))
	require.Empty(t, r.For(ChannelChat))
	require.Len(t, r.For(ChannelSMS), 2)
	require.Equal(t, 3, r.Count())
}
