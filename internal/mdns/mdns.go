// Package mdns finds networked bench instruments that announce themselves
// over multicast DNS.
package mdns

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
)

// DefaultServices are the service types browsed when none are given: LXI
// instruments and raw SCPI sockets.
var DefaultServices = []string{"_lxi._tcp", "_scpi-raw._tcp"}

// Instrument is one discovered service instance.
type Instrument struct {
	Service   string // "_lxi._tcp"
	Instance  string // "RIGOL DSG3030 DSG3A123"
	Hostname  string // "dsg3030.local."
	Addresses []net.IP
	Port      int
	TXT       []string
}

// Address returns host:port, preferring the first IPv4 address.
func (i Instrument) Address() string {
	host := strings.TrimSuffix(i.Hostname, ".")
	for _, ip := range i.Addresses {
		if ip.To4() != nil {
			host = ip.String()
			break
		}
	}
	if host == "" && len(i.Addresses) > 0 {
		host = i.Addresses[0].String()
	}
	return net.JoinHostPort(host, strconv.Itoa(i.Port))
}

type browseFunc func(ctx context.Context, service, domain string, entries chan *zeroconf.ServiceEntry) error

// browse is replaced in tests.
var browse browseFunc = func(ctx context.Context, service, domain string, entries chan *zeroconf.ServiceEntry) error {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return fmt.Errorf("resolver error: %w", err)
	}
	return resolver.Browse(ctx, service, domain, entries)
}

// DiscoverInstruments browses every service for timeout and returns the
// deduplicated instances sorted by service and name.
func DiscoverInstruments(ctx context.Context, timeout time.Duration, services ...string) ([]Instrument, error) {
	if len(services) == 0 {
		services = DefaultServices
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var (
		mu        sync.Mutex
		resultMap = make(map[string]Instrument)
		wg        sync.WaitGroup
		errs      = make([]error, len(services))
	)
	for i, service := range services {
		entries := make(chan *zeroconf.ServiceEntry)
		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				select {
				case e, ok := <-entries:
					if !ok {
						return
					}
					if e == nil {
						continue
					}
					addrs := make([]net.IP, 0, len(e.AddrIPv4)+len(e.AddrIPv6))
					addrs = append(addrs, e.AddrIPv4...)
					addrs = append(addrs, e.AddrIPv6...)
					key := fmt.Sprintf("%s|%s|%d", service, e.HostName, e.Port)
					mu.Lock()
					resultMap[key] = Instrument{
						Service:   service,
						Instance:  cleanInstance(e.Instance),
						Hostname:  e.HostName,
						Addresses: addrs,
						Port:      e.Port,
						TXT:       append([]string{}, e.Text...),
					}
					mu.Unlock()
				case <-ctx.Done():
					return
				}
			}
		}()

		if err := browse(ctx, service, "local.", entries); err != nil {
			errs[i] = fmt.Errorf("browse %s: %w", service, err)
			cancel()
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-done
		}()
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	out := make([]Instrument, 0, len(resultMap))
	for _, h := range resultMap {
		out = append(out, h)
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].Service != out[b].Service {
			return out[a].Service < out[b].Service
		}
		return out[a].Instance < out[b].Instance
	})
	return out, nil
}

// cleanInstance removes Zeroconf escape sequences: "\ " => " "
func cleanInstance(s string) string {
	return strings.ReplaceAll(s, `\ `, " ")
}
