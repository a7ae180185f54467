package client

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseClickhouseURL(t *testing.T) {
	tests := []struct {
		raw    string
		addr   string
		host   string
		secure bool
	}{
		{raw: "localhost", addr: "localhost:9000", host: "localhost"},
		{raw: "clickhouse:9001", addr: "clickhouse:9001", host: "clickhouse"},
		{raw: "http://ch.internal", addr: "ch.internal:9000", host: "ch.internal"},
		{raw: "tcp://10.0.0.5:9000", addr: "10.0.0.5:9000", host: "10.0.0.5"},
		{raw: "https://ch.example.com", addr: "ch.example.com:9440", host: "ch.example.com", secure: true},
		{raw: "clickhouses://ch.example.com:9441", addr: "ch.example.com:9441", host: "ch.example.com", secure: true},
		{raw: " tls://[::1] ", addr: "[::1]:9440", host: "::1", secure: true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			ep, err := parseClickhouseURL(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.addr, ep.addr)
			assert.Equal(t, tt.host, ep.host)
			assert.Equal(t, tt.secure, ep.secure)
		})
	}
}

func TestParseClickhouseURLRejectsBadInput(t *testing.T) {
	for _, raw := range []string{"", "   ", "ftp://ch.example.com", "http://:9000"} {
		_, err := parseClickhouseURL(raw)
		assert.Error(t, err, raw)
	}
}

func TestClickhouseTLS(t *testing.T) {
	cfg, err := clickhouseTLS("ch.example.com", "")
	require.NoError(t, err)
	assert.Equal(t, "ch.example.com", cfg.ServerName)
	assert.Nil(t, cfg.RootCAs)

	_, err = clickhouseTLS("ch.example.com", filepath.Join(t.TempDir(), "missing.pem"))
	assert.Error(t, err)

	notPEM := filepath.Join(t.TempDir(), "ca.pem")
	require.NoError(t, os.WriteFile(notPEM, []byte("not a certificate"), 0o600))
	_, err = clickhouseTLS("ch.example.com", notPEM)
	assert.Error(t, err)
}
