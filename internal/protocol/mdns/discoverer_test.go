package mdns

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/enbility/zeroconf/v3"

	"github.com/hallgrove/iohub/internal/protocol"
)

// fakeBrowse returns a browseFunc that sends the given entries and then
// blocks until the browse context is cancelled, like a real browse.
func fakeBrowse(sent []*zeroconf.ServiceEntry) browseFunc {
	return func(ctx context.Context, service, domain string, entries, removed chan<- *zeroconf.ServiceEntry, opts ...zeroconf.ClientOption) error {
		for _, entry := range sent {
			select {
			case entries <- entry:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		<-ctx.Done()
		return ctx.Err()
	}
}

func entry(instance string, txt ...string) *zeroconf.ServiceEntry {
	e := &zeroconf.ServiceEntry{}
	e.Instance = instance
	e.Text = txt
	return e
}

func TestEnumerateUSB_ReturnsConfiguredIDs(t *testing.T) {
	d := New(Config{USBIDs: []protocol.DeviceID{"USB-1", "USB-2"}})

	ids, err := d.EnumerateUSB(context.Background())
	if err != nil {
		t.Fatalf("EnumerateUSB() error = %v", err)
	}
	if len(ids) != 2 || ids[0] != "USB-1" || ids[1] != "USB-2" {
		t.Errorf("EnumerateUSB() = %v, want [USB-1 USB-2]", ids)
	}
}

func TestEnumerateUSB_EmptyConfig(t *testing.T) {
	d := New(Config{})

	ids, err := d.EnumerateUSB(context.Background())
	if err != nil {
		t.Fatalf("EnumerateUSB() error = %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("EnumerateUSB() = %v, want empty", ids)
	}
}

func TestEnumerateUSB_CancelledContext(t *testing.T) {
	d := New(Config{USBIDs: []protocol.DeviceID{"USB-1"}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := d.EnumerateUSB(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("EnumerateUSB() error = %v, want context.Canceled", err)
	}
}

func TestEnumerateNetwork_CollectsDevices(t *testing.T) {
	d := New(Config{})
	d.browse = fakeBrowse([]*zeroconf.ServiceEntry{
		entry("NET-100", "id=NET-100", "fw=4.2"),
		entry("iohub-box", "id=NET-200"),
	})

	ids, err := d.EnumerateNetwork(context.Background(), 50*time.Millisecond)
	if err != nil {
		t.Fatalf("EnumerateNetwork() error = %v", err)
	}
	if len(ids) != 2 || ids[0] != "NET-100" || ids[1] != "NET-200" {
		t.Errorf("EnumerateNetwork() = %v, want [NET-100 NET-200]", ids)
	}
}

func TestEnumerateNetwork_InstanceNameFallback(t *testing.T) {
	d := New(Config{})
	d.browse = fakeBrowse([]*zeroconf.ServiceEntry{
		entry("NET-300", "fw=4.2"),
	})

	ids, err := d.EnumerateNetwork(context.Background(), 50*time.Millisecond)
	if err != nil {
		t.Fatalf("EnumerateNetwork() error = %v", err)
	}
	if len(ids) != 1 || ids[0] != "NET-300" {
		t.Errorf("EnumerateNetwork() = %v, want [NET-300]", ids)
	}
}

func TestEnumerateNetwork_Deduplicates(t *testing.T) {
	// Same device answering on two interfaces.
	d := New(Config{})
	d.browse = fakeBrowse([]*zeroconf.ServiceEntry{
		entry("NET-400", "id=NET-400"),
		entry("NET-400", "id=NET-400"),
	})

	ids, err := d.EnumerateNetwork(context.Background(), 50*time.Millisecond)
	if err != nil {
		t.Fatalf("EnumerateNetwork() error = %v", err)
	}
	if len(ids) != 1 {
		t.Errorf("EnumerateNetwork() = %v, want one device", ids)
	}
}

func TestEnumerateNetwork_BoundedByTimeout(t *testing.T) {
	d := New(Config{})
	d.browse = fakeBrowse(nil) // Nothing answers

	start := time.Now()
	ids, err := d.EnumerateNetwork(context.Background(), 50*time.Millisecond)
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("EnumerateNetwork() error = %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("EnumerateNetwork() = %v, want empty", ids)
	}
	if elapsed > time.Second {
		t.Errorf("EnumerateNetwork() took %v, should return near the timeout", elapsed)
	}
}

func TestEnumerateNetwork_CallerCancellation(t *testing.T) {
	d := New(Config{})
	d.browse = fakeBrowse(nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	ids, err := d.EnumerateNetwork(ctx, 10*time.Second)
	if err != nil {
		t.Fatalf("EnumerateNetwork() error = %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("EnumerateNetwork() = %v, want empty", ids)
	}
	if time.Since(start) > time.Second {
		t.Error("EnumerateNetwork() should return promptly on cancelled context")
	}
}

func TestEntryDeviceID(t *testing.T) {
	tests := []struct {
		name  string
		entry *zeroconf.ServiceEntry
		want  protocol.DeviceID
	}{
		{"txt id wins", entry("instance", "id=NET-1"), "NET-1"},
		{"instance fallback", entry("NET-2"), "NET-2"},
		{"empty txt id ignored", entry("NET-3", "id="), "NET-3"},
		{"other txt ignored", entry("NET-4", "fw=4.2", "id=NET-5"), "NET-5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := entryDeviceID(tt.entry); got != tt.want {
				t.Errorf("entryDeviceID() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNew_Defaults(t *testing.T) {
	d := New(Config{})
	if d.service != DefaultService {
		t.Errorf("service = %q, want %q", d.service, DefaultService)
	}
	if d.domain != DefaultDomain {
		t.Errorf("domain = %q, want %q", d.domain, DefaultDomain)
	}
}
