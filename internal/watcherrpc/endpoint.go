package watcherrpc

import (
	"fmt"
	"strconv"
	"strings"
)

// EndpointKind tags which of the three listener forms an Endpoint holds.
type EndpointKind int

const (
	// EndpointTCP binds a TCP host:port, e.g. "tcp:127.0.0.1:7777".
	EndpointTCP EndpointKind = iota
	// EndpointLocal binds a Unix domain socket path, e.g. "unix:/tmp/w.sock".
	EndpointLocal
	// EndpointPipe names a Windows named pipe, e.g. "pipe:seren-watcher".
	// Accepted syntactically but rejected at bind time on every platform.
	EndpointPipe
)

// Endpoint is a closed tagged sum over the three listener forms the
// watcher's RPC surface can be configured with: Tcp{host,port},
// Local{path}, or Pipe{name}.
type Endpoint struct {
	Kind EndpointKind
	Host string
	Port uint16
	Path string
	Name string
}

// ParseEndpoint parses a listener descriptor of the form "unix:<path>",
// "tcp:<host>:<port>", or "pipe:<name>".
func ParseEndpoint(value string) (Endpoint, error) {
	switch {
	case strings.HasPrefix(value, "unix:"):
		rest := strings.TrimPrefix(value, "unix:")
		if rest == "" {
			return Endpoint{}, fmt.Errorf("watcherrpc: unix endpoint requires a path")
		}
		return Endpoint{Kind: EndpointLocal, Path: rest}, nil

	case strings.HasPrefix(value, "tcp:"):
		rest := strings.TrimPrefix(value, "tcp:")
		idx := strings.LastIndex(rest, ":")
		if idx < 0 {
			return Endpoint{}, fmt.Errorf("watcherrpc: tcp endpoint missing port")
		}
		host := rest[:idx]
		if host == "" {
			return Endpoint{}, fmt.Errorf("watcherrpc: tcp endpoint missing host")
		}
		port, err := strconv.ParseUint(rest[idx+1:], 10, 16)
		if err != nil {
			return Endpoint{}, fmt.Errorf("watcherrpc: invalid tcp port: %w", err)
		}
		return Endpoint{Kind: EndpointTCP, Host: host, Port: uint16(port)}, nil

	case strings.HasPrefix(value, "pipe:"):
		rest := strings.TrimPrefix(value, "pipe:")
		if rest == "" {
			return Endpoint{}, fmt.Errorf("watcherrpc: pipe endpoint requires a name")
		}
		return Endpoint{Kind: EndpointPipe, Name: rest}, nil

	default:
		return Endpoint{}, fmt.Errorf("watcherrpc: unsupported listener endpoint: %s", value)
	}
}

// String renders the endpoint back into its descriptor form.
func (e Endpoint) String() string {
	switch e.Kind {
	case EndpointTCP:
		return fmt.Sprintf("tcp:%s:%d", e.Host, e.Port)
	case EndpointLocal:
		return "unix:" + e.Path
	case EndpointPipe:
		return "pipe:" + e.Name
	default:
		return "unknown endpoint"
	}
}

// Spawn binds server to the given endpoint. Tcp and Local bind
// immediately; Pipe is syntactically valid but rejected here since named
// pipes are not yet implemented on any supported platform.
func Spawn(server *Server, endpoint Endpoint) (*Handle, error) {
	switch endpoint.Kind {
	case EndpointTCP:
		return SpawnTCP(server, fmt.Sprintf("%s:%d", endpoint.Host, endpoint.Port))
	case EndpointLocal:
		return SpawnUnix(server, endpoint.Path)
	case EndpointPipe:
		return nil, fmt.Errorf("watcherrpc: named pipes are not yet supported (%s)", endpoint.Name)
	default:
		return nil, fmt.Errorf("watcherrpc: unknown endpoint kind")
	}
}
