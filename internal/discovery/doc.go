// Package discovery advertises websocket listeners over mDNS and finds them.
//
// Listeners register as "_websocket._tcp" services in the "local." domain.
// The TXT record carries the upgrade path, whether the listener expects TLS
// and the sub-protocols it advertises:
//
//	path=/
//	secure=false
//	protocols=chat,superchat
//
// # Usage Example
//
//	ad, err := discovery.Advertise("build-box", 8080, discovery.Info{Path: "/"})
//	if err != nil {
//	    return err
//	}
//	defer ad.Shutdown()
//
//	listeners, err := discovery.NewScanner().Scan(ctx)
//	for _, l := range listeners {
//	    fmt.Println(l.URL())
//	}
//
// Discovery needs multicast on the local network segment. Containers and
// some VPN setups block it; Scan then returns an empty list, not an error.
package discovery
