package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeAuth(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"string token", `{"token": "token1"}`, "token1", false},
		{"empty string token", `{"token": ""}`, "", false},
		{"extra fields are ignored", `{"token": "token2", "im_in": true}`, "token2", false},
		{"numeric token", `{"token": 42}`, "", true},
		{"null token", `{"token": null}`, "", true},
		{"missing token", `{"im_in": true}`, "", true},
		{"not json", `token1`, "", true},
		{"array", `["token1"]`, "", true},
		{"null message", `null`, "", true},
		{"key is case sensitive", `{"TOKEN": "token1"}`, "", true},
		{"mixed case key", `{"Token": "token1"}`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeAuth([]byte(tt.input))
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidAuth)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeCommand(t *testing.T) {
	tests := []struct {
		input string
		want  Kind
	}{
		{`{"im_in": true}`, MarkIn},
		{`{"im_in": false}`, MarkOut},
		{`{"im_in": "true"}`, Unrecognized},
		{`{"im_in": 1}`, Unrecognized},
		{`{"im_in": null}`, Unrecognized},
		{`{"im_in" :  null }`, Unrecognized},
		{`{"IM_IN": true}`, Unrecognized},
		{`null`, Unrecognized},
		{`{"token": "token1"}`, Unrecognized},
		{`{}`, Unrecognized},
		{`[]`, Unrecognized},
		{`not json`, Unrecognized},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, DecodeCommand([]byte(tt.input)).Kind)
		})
	}
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "IM_IN", MarkIn.String())
	assert.Equal(t, "IM_OUT", MarkOut.String())
	assert.Equal(t, "UNRECOGNIZED", Unrecognized.String())
}

func TestEncodeShapes(t *testing.T) {
	data, err := Encode(Snapshot{PeopleIn: 2, ImIn: true})
	require.NoError(t, err)
	assert.JSONEq(t, `{"people_in": 2, "im_in": true}`, string(data))

	data, err = Encode(CountUpdate{PeopleIn: 0})
	require.NoError(t, err)
	assert.JSONEq(t, `{"people_in": 0}`, string(data))

	data, err = Encode(FlagUpdate{ImIn: false})
	require.NoError(t, err)
	assert.JSONEq(t, `{"im_in": false}`, string(data))
}
