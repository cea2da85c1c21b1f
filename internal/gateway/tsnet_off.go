//go:build !tsnet

package gateway

import (
	"errors"
	"net"
)

// tailscaleListener is only available in builds with the tsnet tag.
func (s *Server) tailscaleListener() (net.Listener, error) {
	return nil, errors.New("built without tsnet support")
}
