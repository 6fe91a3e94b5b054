package weight

import (
	"fmt"

	E "github.com/sagernet/sing/common/exceptions"
	M "github.com/sagernet/sing/common/metadata"
)

var ErrUnsupportedAddressFamily = E.New("unsupported address family")

// Identity names the weight record of the connection local <-> remote.
// IPv4 tuples are formatted as addr:port-addr:port, IPv6 tuples bracket the
// addresses. Any other combination, including mixed families, is rejected.
func Identity(local M.Socksaddr, remote M.Socksaddr) (string, error) {
	local, remote = local.Unwrap(), remote.Unwrap()
	switch {
	case local.IsIPv4() && remote.IsIPv4():
		return fmt.Sprintf("%s:%d-%s:%d", local.Addr, local.Port, remote.Addr, remote.Port), nil
	case local.IsIPv6() && remote.IsIPv6():
		return fmt.Sprintf("[%s]:%d-[%s]:%d", local.Addr, local.Port, remote.Addr, remote.Port), nil
	default:
		return "", E.Cause(ErrUnsupportedAddressFamily, local.String(), "-", remote.String())
	}
}
