package registry

import (
	"strings"
	"unicode"

	"github.com/nugget/integration-hub/internal/capability"
	"github.com/nugget/integration-hub/internal/connector"
)

// Factory constructs a fresh Driver for one connector instance. Each
// created instance gets its own Driver, since drivers hold live
// connection state.
type Factory func() connector.Driver

// TypeInfo is the immutable, registered-once metadata for a connector
// type, per §3's Connector Type.
type TypeInfo struct {
	ID           string
	Version      string
	Capabilities []capability.Definition
	factory      Factory // nil for a type known only through auto-discovery
}

// Instantiable reports whether a compiled-in factory backs this type. A
// type discovered from a bare descriptor file with no matching factory
// is catalogued but cannot be instantiated.
func (t TypeInfo) Instantiable() bool { return t.factory != nil }

// multiWordMapping is the fixed table of §6's known multi-word
// identifiers, checked before the generic CamelCase-to-kebab-case rule.
var multiWordMapping = map[string]string{
	"UnifiProtect":      "unifi-protect",
	"WebGui":            "web-gui",
	"GuiDesigner":       "gui-designer",
	"ADSB":              "adsb",
	"APRS":              "aprs",
	"LLM":               "llm",
	"AnkkeDvr":          "ankke-dvr",
	"SpeedDetectionGui": "speed-detection-gui",
	"SpeedCalculation":  "speed-calculation",
}

// DeriveTypeID implements §4.4/§6's type-identifier derivation: strip a
// trailing "Connector", consult the fixed multi-word mapping, otherwise
// convert CamelCase to kebab-case.
func DeriveTypeID(name string) string {
	base := strings.TrimSuffix(name, "Connector")
	if kebab, ok := multiWordMapping[base]; ok {
		return kebab
	}
	return camelToKebab(base)
}

func camelToKebab(s string) string {
	var b strings.Builder
	runes := []rune(s)
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 {
				prevLower := unicode.IsLower(runes[i-1])
				nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
				if prevLower || (nextLower && unicode.IsUpper(runes[i-1])) {
					b.WriteByte('-')
				}
			}
			b.WriteRune(unicode.ToLower(r))
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}
