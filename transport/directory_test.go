package transport

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/submitkit/mailsubmit"
)

func TestDirectoryTransport_WritesMessageAndSidecar(t *testing.T) {
	dir := t.TempDir()
	dt := NewDirectoryTransport(dir)

	from := mustAddr(t, "sender@example.com")
	env := mailsubmit.Envelope{
		ReversePath:  &from,
		ForwardPaths: []mailsubmit.Address{mustAddr(t, "rcpt@example.com")},
	}
	payload := []byte("Subject: hi\r\n\r\nbody\r\n")

	report, err := dt.Send(context.Background(), env, "abc123", payload)
	require.NoError(t, err)
	assert.Equal(t, mailsubmit.ClassificationSuccess, report.Classification)

	emlBytes, err := os.ReadFile(filepath.Join(dir, "abc123.eml"))
	require.NoError(t, err)
	assert.Equal(t, payload, emlBytes)

	jsonBytes, err := os.ReadFile(filepath.Join(dir, "abc123.json"))
	require.NoError(t, err)
	var sc sidecar
	require.NoError(t, json.Unmarshal(jsonBytes, &sc))
	assert.Equal(t, "abc123", sc.MessageID)
	require.NotNil(t, sc.Envelope.ReversePath)
	assert.Equal(t, "sender@example.com", *sc.Envelope.ReversePath)
	assert.Equal(t, []string{"rcpt@example.com"}, sc.Envelope.ForwardPaths)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(jsonBytes, &raw))
	envelope, ok := raw["envelope"].(map[string]interface{})
	require.True(t, ok, "sidecar JSON must nest an \"envelope\" object")
	assert.Contains(t, envelope, "forward_path")
	assert.Contains(t, envelope, "reverse_path")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp", "temp file leaked into the directory")
	}
}

func TestDirectoryTransport_NullReversePathSerializesAsJSONNull(t *testing.T) {
	dir := t.TempDir()
	dt := NewDirectoryTransport(dir)
	env := mailsubmit.Envelope{ForwardPaths: []mailsubmit.Address{mustAddr(t, "rcpt@example.com")}}

	_, err := dt.Send(context.Background(), env, "nullsender", []byte("body"))
	require.NoError(t, err)

	jsonBytes, err := os.ReadFile(filepath.Join(dir, "nullsender.json"))
	require.NoError(t, err)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(jsonBytes, &raw))
	envelope := raw["envelope"].(map[string]interface{})
	reversePath, ok := envelope["reverse_path"]
	require.True(t, ok, "reverse_path key must be present even when null")
	assert.Nil(t, reversePath, "reverse_path must serialize as JSON null, not be omitted")
}

func TestDirectoryTransport_GeneratesMessageIDWhenEmpty(t *testing.T) {
	dir := t.TempDir()
	dt := NewDirectoryTransport(dir)
	env := mailsubmit.Envelope{ForwardPaths: []mailsubmit.Address{mustAddr(t, "rcpt@example.com")}}

	_, err := dt.Send(context.Background(), env, "", []byte("body"))
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var emlCount int
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".eml" {
			emlCount++
		}
	}
	assert.Equal(t, 1, emlCount)
}
