package domain

import (
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateMessage(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"plain", "hello there", ""},
		{"empty", "", MsgEmptyMessage},
		{"blocked word", "well SHIT happens", MsgInappropriate},
		{"blocked prefix", "fucking great", MsgInappropriate},
		{"leet speak", "sh1t", MsgInappropriate},
		{"spaced out letters", "f u c k you", MsgInappropriate},
		{"misspelling", "fuk you", MsgInappropriate},
		{"place name", "Scunthorpe", ""},
		{"mushroom", "shitake risotto tonight", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateMessage(tt.text)
			if tt.want == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.want, RejectionMessage(err))
		})
	}
}

func TestValidateName(t *testing.T) {
	assert.NoError(t, ValidateName("ann"))
	assert.Equal(t, MsgEmptyName, RejectionMessage(ValidateName("")))
}

func TestValidatePoint(t *testing.T) {
	assert.NoError(t, ValidatePoint(0, 100))
	assert.NoError(t, ValidatePoint(25.5, 75))
	for _, p := range [][2]float64{{-1, 5}, {5, 100.01}, {math.NaN(), 1}} {
		assert.Equal(t, MsgInvalidPoint, RejectionMessage(ValidatePoint(p[0], p[1])), p)
	}
}

func TestRejectionMessageFallsBack(t *testing.T) {
	assert.Equal(t, "boom", RejectionMessage(errors.New("boom")))
}

func TestDecodeRow(t *testing.T) {
	id := MustParseIdentity(strings.Repeat("0f", IdentitySize))
	sent := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	row, err := DecodeRow(TableMessage, []byte(`{"id":4,"sender":"`+id.String()+`","room":1,"text":"hi","sent":"`+sent.Format(time.RFC3339Nano)+`"}`))
	require.NoError(t, err)
	assert.Equal(t, Message{ID: 4, Sender: id, Room: 1, Text: "hi", Sent: sent}, row)

	row, err = DecodeRow(TablePointer, []byte(`{"owner":"`+id.String()+`","position_x":1.5,"position_y":2}`))
	require.NoError(t, err)
	assert.Equal(t, Pointer{Owner: id, PositionX: 1.5, PositionY: 2}, row)

	_, err = DecodeRow("nope", []byte(`{}`))
	assert.Error(t, err)
	_, err = DecodeRow(TableRoom, []byte(`{"id":"x"}`))
	assert.Error(t, err)
}
