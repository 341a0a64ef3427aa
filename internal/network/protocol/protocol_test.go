package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lk2023060901/circuit-go/pkg/util/merr"
)

func TestEncodeDecode(t *testing.T) {
	frame, err := Encode(OpRefresh, Refresh{ComponentID: "c-1"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"op":"refresh","data":{"component_id":"c-1"}}`, string(frame))

	env, err := Decode(frame)
	require.NoError(t, err)
	assert.Equal(t, OpRefresh, env.Op)

	var r Refresh
	require.NoError(t, env.Bind(&r))
	assert.Equal(t, "c-1", r.ComponentID)
}

func TestEncodeWithoutData(t *testing.T) {
	frame, err := Encode(OpActivity, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"op":"activity"}`, string(frame))

	env, err := Decode(frame)
	require.NoError(t, err)
	var a Activity
	assert.ErrorIs(t, env.Bind(&a), merr.ErrParameterInvalid)
}

func TestDecodeInvalid(t *testing.T) {
	_, err := Decode([]byte(`{"op":`))
	assert.Error(t, err)

	_, err = Decode([]byte(`{"data":{}}`))
	assert.ErrorIs(t, err, merr.ErrParameterInvalid)

	env, err := Decode([]byte(`{"op":"mount","data":"oops"}`))
	require.NoError(t, err)
	var m Mount
	assert.Error(t, env.Bind(&m))
}

func TestCheckVersion(t *testing.T) {
	cases := []struct {
		in string
		ok bool
	}{
		{"", true},
		{"1.0.0", true},
		{"1.4.2", true},
		{"v1.2", true},
		{"2.0.0", false},
		{"0.9.0", false},
		{"banana", false},
	}
	for _, c := range cases {
		t.Run(c.in, func(t *testing.T) {
			_, err := CheckVersion(c.in)
			if c.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, merr.ErrProtocolVersion)
			}
		})
	}
}
