package discovery

// canonicalNames maps value template keys used by BLE and Zigbee
// gateways to the field names written to the time-series store.
var canonicalNames = map[string]string{
	"temp":  "Temperature",
	"tempc": "Temperature",
	"lux":   "Light",
	"batt":  "BatteryLevel",
	"moi":   "SoilMoisture",
	"fer":   "SoilFertility",
	"hum":   "AirHumidity",
	"press": "Pressure",
}

// CanonicalName returns the stored field name for a value template
// key. Keys outside the table are not stored.
func CanonicalName(key string) (string, bool) {
	name, ok := canonicalNames[key]
	return name, ok
}
