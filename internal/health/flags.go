package health

import "time"

// Flags is one sample of peripheral and power state.
type Flags struct {
	PrinterConnected bool      `json:"printerConnected"`
	ChargerConnected bool      `json:"chargerConnected"`
	BatteryPresent   bool      `json:"batteryPresent"`
	BatteryPercent   int       `json:"batteryPercent"`
	SampledAt        time.Time `json:"sampledAt"`
}

// Banner is an advisory message shown over the voter screens.
type Banner string

const (
	BannerNoCharger  Banner = "no_charger"
	BannerLowBattery Banner = "low_battery"
)

// Gate is a full-screen condition shown in front of the whole voter flow.
type Gate string

const (
	GateNone      Gate = ""
	GateNoPower   Gate = "no_power"
	GateNoPrinter Gate = "no_printer"
)

// Banners lists the advisory banners for f. lowPercent is the battery level
// below which the low-battery banner appears while unplugged.
func (f Flags) Banners(lowPercent int) []Banner {
	var banners []Banner
	if !f.ChargerConnected {
		banners = append(banners, BannerNoCharger)
		if f.BatteryPresent && f.BatteryPercent < lowPercent {
			banners = append(banners, BannerLowBattery)
		}
	}
	return banners
}

// Gate reports the blocking screen for f, if any. Missing power wins over a
// missing printer.
func (f Flags) Gate() Gate {
	switch {
	case !f.ChargerConnected && (!f.BatteryPresent || f.BatteryPercent <= 0):
		return GateNoPower
	case !f.PrinterConnected:
		return GateNoPrinter
	default:
		return GateNone
	}
}

// Equal compares everything but the sample time.
func (f Flags) Equal(other Flags) bool {
	return f.PrinterConnected == other.PrinterConnected &&
		f.ChargerConnected == other.ChargerConnected &&
		f.BatteryPresent == other.BatteryPresent &&
		f.BatteryPercent == other.BatteryPercent
}
