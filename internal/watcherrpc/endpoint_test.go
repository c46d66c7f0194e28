package watcherrpc

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestParseEndpointUnix(t *testing.T) {
	ep, err := ParseEndpoint("unix:/tmp/watcher.sock")
	require.NoError(t, err)
	require.Equal(t, EndpointLocal, ep.Kind)
	require.Equal(t, "/tmp/watcher.sock", ep.Path)
}

func TestParseEndpointTCP(t *testing.T) {
	ep, err := ParseEndpoint("tcp:127.0.0.1:7777")
	require.NoError(t, err)
	require.Equal(t, EndpointTCP, ep.Kind)
	require.Equal(t, "127.0.0.1", ep.Host)
	require.Equal(t, uint16(7777), ep.Port)
}

func TestParseEndpointPipe(t *testing.T) {
	ep, err := ParseEndpoint("pipe:seren-watcher")
	require.NoError(t, err)
	require.Equal(t, EndpointPipe, ep.Kind)
	require.Equal(t, "seren-watcher", ep.Name)
}

func TestParseEndpointRejectsUnknownScheme(t *testing.T) {
	_, err := ParseEndpoint("http://localhost:8080")
	require.Error(t, err)
}

func TestParseEndpointRejectsEmptyUnixPath(t *testing.T) {
	_, err := ParseEndpoint("unix:")
	require.Error(t, err)
}

func TestParseEndpointRejectsMissingPort(t *testing.T) {
	_, err := ParseEndpoint("tcp:127.0.0.1")
	require.Error(t, err)
}

func TestParseEndpointRejectsBadPort(t *testing.T) {
	_, err := ParseEndpoint("tcp:127.0.0.1:notaport")
	require.Error(t, err)
}

func TestSpawnRejectsPipeAtBindTime(t *testing.T) {
	server := NewServer(nil, "token", zerolog.Nop())
	_, err := Spawn(server, Endpoint{Kind: EndpointPipe, Name: "seren-watcher"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "named pipes are not yet supported")
}

func TestSpawnBindsTCPEndpoint(t *testing.T) {
	server := NewServer(nil, "token", zerolog.Nop())
	ep, err := ParseEndpoint("tcp:127.0.0.1:0")
	require.NoError(t, err)

	handle, err := Spawn(server, ep)
	require.NoError(t, err)
	defer handle.Stop()
}
