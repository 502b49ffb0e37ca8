package config

import (
	"net"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
)

func convertToAddressSlice(addresses []string) []common.Address {
	result := make([]common.Address, len(addresses))
	for i, addr := range addresses {
		result[i] = common.HexToAddress(addr)
	}
	return result
}

// hostPort joins a config address/port pair, falling back to def when the
// pair is unset.
func hostPort(host string, port uint16, def string) string {
	if host == "" && port == 0 {
		return def
	}
	if port == 0 {
		_, defPort, err := net.SplitHostPort(def)
		if err != nil {
			return def
		}
		return net.JoinHostPort(host, defPort)
	}
	if host == "" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, strconv.Itoa(int(port)))
}
