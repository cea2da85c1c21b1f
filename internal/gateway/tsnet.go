//go:build tsnet

package gateway

import (
	"fmt"
	"net"
	"os"

	"tailscale.com/tsnet"
)

// tailscaleListener brings up a tsnet node and listens on the gateway port.
// The auth key comes from TS_AUTHKEY only.
func (s *Server) tailscaleListener() (net.Listener, error) {
	ts := s.cfg.Gateway.Tailscale
	srv := &tsnet.Server{
		Hostname:  ts.Hostname,
		Dir:       ts.StateDir,
		AuthKey:   os.Getenv("TS_AUTHKEY"),
		Ephemeral: ts.Ephemeral,
	}
	ln, err := srv.Listen("tcp", fmt.Sprintf(":%d", s.cfg.Gateway.GatewayPort()))
	if err != nil {
		return nil, fmt.Errorf("tsnet listen: %w", err)
	}
	return ln, nil
}
