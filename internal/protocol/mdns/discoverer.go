package mdns

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/enbility/zeroconf/v3"

	"github.com/hallgrove/iohub/internal/protocol"
)

// Discovery defaults.
const (
	// DefaultService is the mDNS service type iohub devices advertise.
	DefaultService = "_iohub._tcp"

	// DefaultDomain is the mDNS domain.
	DefaultDomain = "local."

	// defaultTimeout bounds a browse when the caller passes none.
	defaultTimeout = 5 * time.Second
)

// Logger is the logging interface used by the discoverer.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// browseFunc matches zeroconf.Browse, injectable for tests.
type browseFunc func(ctx context.Context, service, domain string, entries, removed chan<- *zeroconf.ServiceEntry, opts ...zeroconf.ClientOption) error

// Config configures the discoverer.
type Config struct {
	// Service is the mDNS service type to browse. Defaults to DefaultService.
	Service string

	// Domain is the mDNS domain. Defaults to DefaultDomain.
	Domain string

	// USBIDs is the statically configured list of attached USB devices.
	// USB enumeration returns this list; mDNS cannot see the USB bus.
	USBIDs []protocol.DeviceID

	// Logger receives discovery diagnostics. Defaults to a no-op logger.
	Logger Logger
}

// Discoverer finds iohub devices. Network devices are discovered by
// browsing mDNS; USB devices come from static configuration.
//
// It implements protocol.Discoverer.
type Discoverer struct {
	service string
	domain  string
	usbIDs  []protocol.DeviceID
	logger  Logger
	browse  browseFunc
}

// New creates a discoverer.
func New(cfg Config) *Discoverer {
	if cfg.Service == "" {
		cfg.Service = DefaultService
	}
	if cfg.Domain == "" {
		cfg.Domain = DefaultDomain
	}
	if cfg.Logger == nil {
		cfg.Logger = noopLogger{}
	}
	return &Discoverer{
		service: cfg.Service,
		domain:  cfg.Domain,
		usbIDs:  append([]protocol.DeviceID(nil), cfg.USBIDs...),
		logger:  cfg.Logger,
		browse:  zeroconf.Browse,
	}
}

// EnumerateUSB returns the configured USB device list.
func (d *Discoverer) EnumerateUSB(ctx context.Context) ([]protocol.DeviceID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return append([]protocol.DeviceID(nil), d.usbIDs...), nil
}

// EnumerateNetwork browses mDNS for the configured service type and
// returns whatever answered within the timeout. The browse never blocks
// past the timeout; an empty network yields an empty, non-error result.
func (d *Discoverer) EnumerateNetwork(ctx context.Context, timeout time.Duration) ([]protocol.DeviceID, error) {
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	browseCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	removed := make(chan *zeroconf.ServiceEntry)

	browseErr := make(chan error, 1)
	go func() {
		browseErr <- d.browse(browseCtx, d.service, d.domain, entries, removed)
	}()

	seen := make(map[protocol.DeviceID]struct{})

collect:
	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				break collect
			}
			id := entryDeviceID(entry)
			if id == "" {
				continue
			}
			if _, dup := seen[id]; !dup {
				seen[id] = struct{}{}
				d.logger.Debug("discovered network device", "device", id, "host", entry.HostName)
			}
		case <-removed:
			// Departures during a one-shot browse are irrelevant; the
			// device still answered within the window.
		case <-browseCtx.Done():
			break collect
		}
	}

	// Browse errors other than the expected deadline are surfaced as a
	// warning but do not fail enumeration; partial results still count.
	select {
	case err := <-browseErr:
		if err != nil && browseCtx.Err() == nil {
			d.logger.Warn("mdns browse failed", "error", err)
		}
	default:
	}

	ids := make([]protocol.DeviceID, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// entryDeviceID extracts the device ID from a service entry. The TXT
// record "id=<deviceID>" wins; otherwise the instance name is the ID.
func entryDeviceID(entry *zeroconf.ServiceEntry) protocol.DeviceID {
	for _, txt := range entry.Text {
		if value, ok := strings.CutPrefix(txt, "id="); ok && value != "" {
			return protocol.DeviceID(value)
		}
	}
	return protocol.DeviceID(entry.Instance)
}
