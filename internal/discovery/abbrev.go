package discovery

import "strings"

// baseTopicKey is the discovery key holding the base topic that "~"
// expands to inside other topic values.
const baseTopicKey = "~"

// componentAbbreviations maps abbreviated top-level discovery keys to
// their full names. Only keys hassflux reads or logs are listed.
var componentAbbreviations = map[string]string{
	"avty_t":       "availability_topic",
	"dev":          "device",
	"dev_cla":      "device_class",
	"ent_cat":      "entity_category",
	"exp_aft":      "expire_after",
	"frc_upd":      "force_update",
	"ic":           "icon",
	"json_attr_t":  "json_attributes_topic",
	"obj_id":       "object_id",
	"pl_avail":     "payload_available",
	"pl_not_avail": "payload_not_available",
	"pl_off":       "payload_off",
	"pl_on":        "payload_on",
	"stat_cla":     "state_class",
	"stat_t":       "state_topic",
	"uniq_id":      "unique_id",
	"unit_of_meas": "unit_of_measurement",
	"val_tpl":      "value_template",
}

// deviceAbbreviations maps abbreviated keys of the device block.
var deviceAbbreviations = map[string]string{
	"cns": "connections",
	"cu":  "configuration_url",
	"hw":  "hw_version",
	"ids": "identifiers",
	"mdl": "model",
	"mf":  "manufacturer",
	"sa":  "suggested_area",
	"sw":  "sw_version",
	"via": "via_device",
}

// expandAbbreviations rewrites abbreviated keys to their full names and
// substitutes the "~" base topic into topic values. raw is modified in
// place and returned.
func expandAbbreviations(raw map[string]any) map[string]any {
	for short, long := range componentAbbreviations {
		renameKey(raw, short, long)
	}

	if dev, ok := raw["device"].(map[string]any); ok {
		for short, long := range deviceAbbreviations {
			renameKey(dev, short, long)
		}
	}

	base, _ := raw[baseTopicKey].(string)
	if base == "" {
		return raw
	}
	for k, v := range raw {
		s, ok := v.(string)
		if !ok || !strings.HasSuffix(k, "_topic") {
			continue
		}
		switch {
		case strings.HasPrefix(s, baseTopicKey):
			raw[k] = base + strings.TrimPrefix(s, baseTopicKey)
		case strings.HasSuffix(s, baseTopicKey):
			raw[k] = strings.TrimSuffix(s, baseTopicKey) + base
		}
	}
	return raw
}

// renameKey moves m[from] to m[to] unless the full key is already
// present, in which case the explicit full key wins.
func renameKey(m map[string]any, from, to string) {
	v, ok := m[from]
	if !ok || from == to {
		return
	}
	delete(m, from)
	if _, exists := m[to]; !exists {
		m[to] = v
	}
}
