// Package health samples printer and power state for the advisory banners and
// blocking screens that sit in front of the voter flow.
//
// Samples come from the Linux power-supply class in sysfs and the printer
// device node. When hotplug is enabled a udev netlink watcher forces a
// resample on USB and power-supply events.
package health
