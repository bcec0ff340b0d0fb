package health

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

// Sampler reads power and printer state from the filesystem.
type Sampler struct {
	PowerSupplyDir string
	PrinterDevice  string
	now            func() time.Time
}

// NewSampler returns a Sampler for the given sysfs power-supply directory and
// printer device node.
func NewSampler(powerSupplyDir, printerDevice string) *Sampler {
	return &Sampler{PowerSupplyDir: powerSupplyDir, PrinterDevice: printerDevice, now: time.Now}
}

// Sample reads the current flags. A missing power-supply directory yields no
// charger and no battery; the returned error is informational and the flags
// are always usable.
func (s *Sampler) Sample() (Flags, error) {
	flags := Flags{SampledAt: s.now()}
	flags.PrinterConnected = s.printerConnected()

	entries, err := os.ReadDir(s.PowerSupplyDir)
	if err != nil {
		return flags, fmt.Errorf("read power supplies: %w", err)
	}
	for _, entry := range entries {
		dir := filepath.Join(s.PowerSupplyDir, entry.Name())
		switch strings.ToLower(readAttr(dir, "type")) {
		case "mains", "usb", "usb_c", "usb_pd":
			if readAttr(dir, "online") == "1" {
				flags.ChargerConnected = true
			}
		case "battery":
			if present := readAttr(dir, "present"); present == "0" {
				continue
			}
			capacity, err := strconv.Atoi(readAttr(dir, "capacity"))
			if err != nil {
				continue
			}
			flags.BatteryPresent = true
			if capacity > flags.BatteryPercent {
				flags.BatteryPercent = min(max(capacity, 0), 100)
			}
		}
	}
	return flags, nil
}

// printerConnected reports whether the printer device node exists. A node we
// cannot write to still counts as attached.
func (s *Sampler) printerConnected() bool {
	if s.PrinterDevice == "" {
		return false
	}
	err := unix.Access(s.PrinterDevice, unix.W_OK)
	return err == nil || errors.Is(err, unix.EACCES) || errors.Is(err, unix.EROFS)
}

func readAttr(dir, name string) string {
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
