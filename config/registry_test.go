package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kite-backfill/internal/model"
)

func TestDefaultRegistry(t *testing.T) {
	r, err := LoadRegistry("")
	require.NoError(t, err)
	require.NoError(t, r.Validate())
	assert.Equal(t, model.Instrument{Name: "NIFTY 50", Token: 256265}, r.Instruments[0])
	assert.Len(t, r.Instruments, 3)
}

func TestLoadRegistry_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "instruments.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
instruments:
  - name: BAJAJFINSV
    token: 4268801
  - name: NIFTY 50
    token: 256265
`), 0o644))

	r, err := LoadRegistry(path)
	require.NoError(t, err)
	assert.Equal(t, []model.Instrument{
		{Name: "BAJAJFINSV", Token: 4268801},
		{Name: "NIFTY 50", Token: 256265},
	}, r.Instruments)
}

func TestLoadRegistry_MissingFile(t *testing.T) {
	_, err := LoadRegistry(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestParseRegistry_Invalid(t *testing.T) {
	cases := map[string]string{
		"empty":     "instruments: []",
		"no name":   "instruments:\n  - token: 1",
		"no token":  "instruments:\n  - name: X",
		"path":      "instruments:\n  - name: ../etc\n    token: 1",
		"duplicate": "instruments:\n  - name: X\n    token: 1\n  - name: X\n    token: 2",
		"syntax":    "instruments: [",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseRegistry([]byte(doc))
			assert.Error(t, err)
		})
	}
}
