//go:build !linux

package canbus

import "errors"

var errNoSocketCAN = errors.New("canbus: SocketCAN is only available on linux")

// DialSocketCAN is only available on linux.
func DialSocketCAN(iface string) (Bus, error) {
	return nil, errNoSocketCAN
}

// BringUp is only available on linux.
func BringUp(name string, bitrate uint32) error {
	return errNoSocketCAN
}
