package batch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"beacon-locator/internal/bases"
)

func TestParseBatchRejectsNonArray(t *testing.T) {
	for _, payload := range []string{`{"bdaddr":"AA"}`, `garbage`, ``} {
		_, err := ParseBatch([]byte(payload))
		assert.Error(t, err, payload)
	}

	got, err := ParseBatch([]byte(`[]`))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestValidateAcceptsWireForms(t *testing.T) {
	sightings, err := ParseBatch([]byte(`[
		{"bdaddr":"AA:BB","time":1402, "baseId":2,  "rssi":-61.5,"magnet":"0x39 0x01 0x43 0xff 0x58 0x01","accel":"0x20 0x00 0x00"},
		{"bdaddr":"AA:BB","time":"1403","baseId":"1","rssi":"-70", "magnet":"390143ff5801"},
		{"bdaddr":"AA:BB","time":1404, "baseId":3.0,"rssi":-80}
	]`))
	require.NoError(t, err)
	require.Len(t, sightings, 3)

	reg := bases.Reference()

	r, err := Validate(sightings[0], reg)
	require.NoError(t, err)
	assert.Equal(t, "AA:BB", r.TagID)
	assert.Equal(t, 1402.0, r.Time)
	assert.Equal(t, 2, r.BaseID)
	assert.Equal(t, -61.5, r.RSSI)
	assert.Equal(t, []byte{0x39, 0x01, 0x43, 0xff, 0x58, 0x01}, r.Magnet)
	assert.Equal(t, []byte{0x20, 0x00, 0x00}, r.Accel)

	r, err = Validate(sightings[1], reg)
	require.NoError(t, err)
	assert.Equal(t, 1403.0, r.Time)
	assert.Equal(t, 1, r.BaseID)
	assert.Equal(t, -70.0, r.RSSI)
	assert.Nil(t, r.Accel)

	r, err = Validate(sightings[2], reg)
	require.NoError(t, err)
	assert.Equal(t, 3, r.BaseID)
	assert.Nil(t, r.Magnet)
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name  string
		json  string
		field string
	}{
		{"not an object", `7`, ""},
		{"missing tag", `{"time":1,"baseId":1,"rssi":-60}`, "bdaddr"},
		{"empty tag", `{"bdaddr":"","time":1,"baseId":1,"rssi":-60}`, "bdaddr"},
		{"numeric tag", `{"bdaddr":12,"time":1,"baseId":1,"rssi":-60}`, "bdaddr"},
		{"missing time", `{"bdaddr":"AA","baseId":1,"rssi":-60}`, "time"},
		{"null time", `{"bdaddr":"AA","time":null,"baseId":1,"rssi":-60}`, "time"},
		{"text time", `{"bdaddr":"AA","time":"soon","baseId":1,"rssi":-60}`, "time"},
		{"missing rssi", `{"bdaddr":"AA","time":1,"baseId":1}`, "rssi"},
		{"boolean rssi", `{"bdaddr":"AA","time":1,"baseId":1,"rssi":true}`, "rssi"},
		{"nan rssi", `{"bdaddr":"AA","time":1,"baseId":1,"rssi":"NaN"}`, "rssi"},
		{"missing base", `{"bdaddr":"AA","time":1,"rssi":-60}`, "baseId"},
		{"fractional base", `{"bdaddr":"AA","time":1,"baseId":1.5,"rssi":-60}`, "baseId"},
		{"unknown base", `{"bdaddr":"AA","time":1,"baseId":7,"rssi":-60}`, "baseId"},
	}

	reg := bases.Reference()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sightings, err := ParseBatch([]byte("[" + tt.json + "]"))
			require.NoError(t, err)
			require.Len(t, sightings, 1)

			_, err = Validate(sightings[0], reg)
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

func TestValidateKeepsReadingWithBadPayload(t *testing.T) {
	sightings, err := ParseBatch([]byte(`[{"bdaddr":"AA","time":1,"baseId":0,"rssi":-60,"magnet":"0xzz","accel":42}]`))
	require.NoError(t, err)

	r, err := Validate(sightings[0], bases.Reference())
	require.NoError(t, err)
	assert.Nil(t, r.Magnet)
	assert.Error(t, r.magnetErr)
	assert.Error(t, r.accelErr)
}
