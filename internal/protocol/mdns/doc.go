// Package mdns discovers iohub devices on the local network.
//
// Network devices advertise the _iohub._tcp service over mDNS with a
// TXT record carrying their device ID. EnumerateNetwork browses for a
// bounded window and returns every device that answered; it never
// blocks past the timeout. USB devices cannot be seen over mDNS, so
// EnumerateUSB returns the statically configured list instead.
package mdns
