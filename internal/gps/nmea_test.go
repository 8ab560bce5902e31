package gps

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func checksumOf(body string) string {
	var c byte
	for i := 0; i < len(body); i++ {
		c ^= body[i]
	}
	return fmt.Sprintf("%02X", c)
}

func buildSentence(body string) string {
	return "$" + body + "*" + checksumOf(body)
}

func TestValidateChecksumAccepts(t *testing.T) {
	sentence := buildSentence("GNRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394")
	assert.True(t, validateChecksum(sentence))
}

func TestValidateChecksumRejectsTamperedByte(t *testing.T) {
	sentence := buildSentence("GNRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394")
	tampered := []byte(sentence)
	// flip a byte strictly between '$' and '*'
	tampered[10] ^= 0x01
	assert.False(t, validateChecksum(string(tampered)))
}

func TestValidateChecksumRejectsMissingDelimiters(t *testing.T) {
	assert.False(t, validateChecksum("GNRMC,123519,A*00"))
	assert.False(t, validateChecksum("$GNRMC,123519,A"))
}

func TestConvertToDecimalDegreesLatitude(t *testing.T) {
	got, err := convertToDecimalDegrees("4807.038", 'N')
	require.NoError(t, err)
	assert.InDelta(t, 48.1173, got, 1e-4)

	south, err := convertToDecimalDegrees("4807.038", 'S')
	require.NoError(t, err)
	assert.Negative(t, south)
}

func TestConvertToDecimalDegreesLongitude(t *testing.T) {
	got, err := convertToDecimalDegrees("01131.000", 'E')
	require.NoError(t, err)
	assert.InDelta(t, 11.5167, got, 1e-4)

	west, err := convertToDecimalDegrees("01131.000", 'W')
	require.NoError(t, err)
	assert.Negative(t, west)
}

func TestParseRMCRejectsVoidStatus(t *testing.T) {
	sentence := "$GNRMC,123519,V,4807.038,N,01131.000,E,022.4,084.4,230394*00"
	_, ok := parseRMC(sentence)
	assert.False(t, ok)
}

func TestParseRMCAcceptsActiveStatus(t *testing.T) {
	sentence := "$GNRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394*00"
	f, ok := parseRMC(sentence)
	require.True(t, ok)
	assert.Equal(t, "123519", f.time)
	assert.Equal(t, byte('N'), f.ns)
}

func TestParseGGARequiresCompleteFields(t *testing.T) {
	sentence := "$GNGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M*00"
	f, ok := parseGGA(sentence)
	require.True(t, ok)
	assert.Equal(t, 1, f.fixQuality)
	assert.Equal(t, 8, f.satellites)

	_, ok = parseGGA("$GNGGA,123519,4807.038,N,01131.000,E*00")
	assert.False(t, ok)
}
