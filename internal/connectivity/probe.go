package connectivity

import (
	"context"
	"fmt"
	"slices"

	psnet "github.com/shirou/gopsutil/v3/net"

	"github.com/tphakala/pipecounter/internal/httpclient"
)

// Prober answers whether the device is online right now.
type Prober interface {
	Probe(ctx context.Context) (bool, error)
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context) (bool, error)

func (f ProberFunc) Probe(ctx context.Context) (bool, error) { return f(ctx) }

// InterfaceProber is online when a non-loopback interface is up and has an
// address.
type InterfaceProber struct {
	list func(ctx context.Context) (psnet.InterfaceStatList, error)
}

// NewInterfaceProber reads interfaces through gopsutil.
func NewInterfaceProber() *InterfaceProber {
	return &InterfaceProber{list: psnet.InterfacesWithContext}
}

func (p *InterfaceProber) Probe(ctx context.Context) (bool, error) {
	ifaces, err := p.list(ctx)
	if err != nil {
		return false, fmt.Errorf("list interfaces: %w", err)
	}
	for _, iface := range ifaces {
		if slices.Contains(iface.Flags, "loopback") || !slices.Contains(iface.Flags, "up") {
			continue
		}
		if len(iface.Addrs) > 0 {
			return true, nil
		}
	}
	return false, nil
}

// HTTPProber is online when a HEAD request to URL gets any non-5xx answer.
type HTTPProber struct {
	client *httpclient.Client
	url    string
}

// NewHTTPProber probes url with client.
func NewHTTPProber(client *httpclient.Client, url string) *HTTPProber {
	return &HTTPProber{client: client, url: url}
}

func (p *HTTPProber) Probe(ctx context.Context) (bool, error) {
	status, err := p.client.Head(ctx, p.url)
	if err != nil {
		return false, err
	}
	return status < 500, nil
}

// AllOf is online only when every prober is. The first error wins.
func AllOf(probers ...Prober) Prober {
	return ProberFunc(func(ctx context.Context) (bool, error) {
		for _, p := range probers {
			online, err := p.Probe(ctx)
			if err != nil || !online {
				return false, err
			}
		}
		return true, nil
	})
}
