package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeClientMessage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
		want ClientMessage
	}{
		{"login", `{"type":"login","data":{"token":"abc"}}`, LoginMessage{Token: "abc"}},
		{"heartbeat", `{"type":"heartbeat"}`, HeartbeatMessage{}},
		{"match request", `{"type":"match_request"}`, MatchRequestMessage{}},
		{"match cancel", `{"type":"match_cancel","data":{}}`, MatchCancelMessage{}},
		{"ready", `{"type":"battle_ready","data":{"battle_id":"B1"}}`, BattleReadyMessage{BattleID: "B1"}},
		{"action", `{"type":"battle_action","data":{"battle_id":"B1","kind":1,"param_id":7}}`,
			BattleActionMessage{BattleID: "B1", Kind: ActionSkill, ParamID: 7}},
		{"surrender", `{"type":"battle_surrender","data":{"battle_id":"B1"}}`, BattleSurrenderMessage{BattleID: "B1"}},
		{"rejoin", `{"type":"battle_rejoin"}`, BattleRejoinMessage{}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := DecodeClientMessage([]byte(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeClientMessageRejectsMalformed(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{
		`not json`,
		`{"type":"teleport"}`,
		`{"type":"battle_action"}`,
		`{"type":"battle_action","data":{"kind":"x"}}`,
	} {
		_, err := DecodeClientMessage([]byte(raw))
		assert.Error(t, err, raw)
	}
}

func TestServerMessageEnvelope(t *testing.T) {
	t.Parallel()

	out, err := json.Marshal(NewMatchSuccess("B1", PlayerInfo{AccountID: 2, Nickname: "bob", Rating: 1030}))
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"type":"match_success","data":{"battle_id":"B1","opponent":{"account_id":2,"nickname":"bob","rating":1030}}}`,
		string(out))
}
