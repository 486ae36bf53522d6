package admin

import (
	"net"

	"github.com/NebulousLabs/go-upnp"
	gonat "github.com/jackpal/gateway"
	natpmp "github.com/jackpal/go-nat-pmp"
)

// discoverPublicIP tries UPnP first, then NAT-PMP against the detected
// gateway, and returns ok=false if neither answers. A tenant's listen
// address is recorded with whatever is discovered; failure here is
// never fatal to node creation, matching the teacher's treatment of NAT
// traversal as best-effort.
func discoverPublicIP() (net.IP, bool) {
	if igd, err := upnp.Discover(); err == nil {
		if extIP, err := igd.ExternalIP(); err == nil {
			if ip := net.ParseIP(extIP); ip != nil {
				return ip, true
			}
		}
	}

	gatewayIP, err := gonat.DiscoverGateway()
	if err != nil {
		return nil, false
	}
	client := natpmp.NewClient(gatewayIP)
	resp, err := client.GetExternalAddress()
	if err != nil {
		return nil, false
	}
	ip := net.IP(resp.ExternalIPAddress[:])
	return ip, true
}
