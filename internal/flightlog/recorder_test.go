package flightlog

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/chacha20poly1305"
)

func TestRecordAndRecentRoundTripUnencrypted(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "flight.db")
	r, err := Open(dbPath, "")
	require.NoError(t, err)
	defer r.Close()

	require.NoError(t, r.Record("mission-1", EventTransition, map[string]string{"from": "REACHED", "to": "ACTIVE"}))
	require.NoError(t, r.Record("mission-1", EventPosition, map[string]float64{"lat": 1.5, "lon": 2.5}))

	events, err := r.Recent(10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, EventPosition, events[0].Kind)
	assert.Equal(t, EventTransition, events[1].Kind)

	var detail map[string]float64
	require.NoError(t, json.Unmarshal(events[0].Detail, &detail))
	assert.Equal(t, 1.5, detail["lat"])
}

func TestRecordEncryptsDetailAtRest(t *testing.T) {
	key := make([]byte, chacha20poly1305.KeySize)
	_, err := rand.Read(key)
	require.NoError(t, err)
	keyHex := hex.EncodeToString(key)

	dbPath := filepath.Join(t.TempDir(), "flight.db")
	r, err := Open(dbPath, keyHex)
	require.NoError(t, err)
	defer r.Close()

	require.NoError(t, r.Record("mission-2", EventTarget, map[string]float64{"lat": 9.9}))

	var raw []byte
	require.NoError(t, r.db.QueryRow(`SELECT detail FROM events LIMIT 1`).Scan(&raw))
	assert.NotContains(t, string(raw), "9.9")

	events, err := r.Recent(1)
	require.NoError(t, err)
	require.Len(t, events, 1)
	var detail map[string]float64
	require.NoError(t, json.Unmarshal(events[0].Detail, &detail))
	assert.Equal(t, 9.9, detail["lat"])
}

func TestOpenRejectsMalformedKeyHex(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "flight.db")
	_, err := Open(dbPath, "not-hex")
	assert.Error(t, err)
}

func TestRecentLimitsResultCount(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "flight.db")
	r, err := Open(dbPath, "")
	require.NoError(t, err)
	defer r.Close()

	for i := 0; i < 5; i++ {
		require.NoError(t, r.Record("m", EventPosition, map[string]int{"i": i}))
	}

	events, err := r.Recent(2)
	require.NoError(t, err)
	assert.Len(t, events, 2)
}
