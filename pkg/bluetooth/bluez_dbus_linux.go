//go:build linux

package bluetooth

import (
	"fmt"

	"github.com/godbus/dbus/v5"
)

const (
	bluezBus      = "org.bluez"
	bluezAdapter1 = "org.bluez.Adapter1"
)

// adapterInfo is what BlueZ reports for a local controller
type adapterInfo struct {
	Path    dbus.ObjectPath
	Address string
	Powered bool
}

// adapterPath returns the BlueZ object path of controller hciN; -1 selects hci0
func adapterPath(deviceID int) dbus.ObjectPath {
	if deviceID < 0 {
		deviceID = 0
	}
	return dbus.ObjectPath(fmt.Sprintf("/org/bluez/hci%d", deviceID))
}

// probeAdapter checks that BlueZ is running and exports the controller
func probeAdapter(deviceID int) (adapterInfo, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return adapterInfo{}, fmt.Errorf("failed to connect to system DBus: %w", err)
	}
	// conn is the shared system bus connection and stays open

	var hasOwner bool
	if err := conn.BusObject().Call("org.freedesktop.DBus.NameHasOwner", 0, bluezBus).Store(&hasOwner); err != nil {
		return adapterInfo{}, fmt.Errorf("failed to query DBus for %s: %w", bluezBus, err)
	}
	if !hasOwner {
		return adapterInfo{}, fmt.Errorf("%s is not running on the system bus", bluezBus)
	}

	info := adapterInfo{Path: adapterPath(deviceID)}
	if info.Address, err = getDBusProperty[string](conn, info.Path, bluezAdapter1, "Address"); err != nil {
		return adapterInfo{}, fmt.Errorf("adapter %s not available: %w", info.Path, err)
	}
	if info.Powered, err = getDBusProperty[bool](conn, info.Path, bluezAdapter1, "Powered"); err != nil {
		return adapterInfo{}, fmt.Errorf("adapter %s not available: %w", info.Path, err)
	}
	return info, nil
}

// getDBusProperty reads a property from a BlueZ object
func getDBusProperty[T any](conn *dbus.Conn, path dbus.ObjectPath, iface, property string) (T, error) {
	var zero T
	variant, err := conn.Object(bluezBus, path).GetProperty(iface + "." + property)
	if err != nil {
		return zero, err
	}

	val, ok := variant.Value().(T)
	if !ok {
		return zero, fmt.Errorf("property %s.%s has unexpected type %T", iface, property, variant.Value())
	}
	return val, nil
}
