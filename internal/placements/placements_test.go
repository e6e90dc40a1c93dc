package placements

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"airsense-acquisition/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	data := "serial_number,sensor,x,y,note\n" +
		"ABC123, PMS5003, 1.5, 2\n" +
		"OPC-7,OPC-R2,-3,4.25,left arm\n"

	got, err := Parse(strings.NewReader(data))
	require.NoError(t, err)

	assert.Equal(t, []models.Placement{
		{Sensor: "PMS5003", SerialNumber: "ABC123", X: 1.5, Y: 2},
		{Sensor: "OPC-R2", SerialNumber: "OPC-7", X: -3, Y: 4.25},
	}, got)
}

func TestParse_HeaderOnly(t *testing.T) {
	got, err := Parse(strings.NewReader("sensor,serial_number,x,y\n"))
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestParse_Errors(t *testing.T) {
	cases := map[string]string{
		"empty":          "",
		"missing column": "sensor,serial_number,x\nPMS5003,A,1\n",
		"bad x":          "sensor,serial_number,x,y\nPMS5003,A,left,1\n",
		"short row":      "sensor,serial_number,x,y\nPMS5003,A,1\n",
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(data))
			assert.Error(t, err)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "placements.csv")
	require.NoError(t, os.WriteFile(path, []byte("sensor,serial_number,x,y\nPMS5003,ABC123,0,0\n"), 0o644))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	_, err = Load(filepath.Join(t.TempDir(), "missing.csv"))
	assert.Error(t, err)
}
