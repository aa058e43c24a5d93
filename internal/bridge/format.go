package bridge

import (
	"fmt"
	"strings"
	"time"

	"github.com/EchoPBX/devtools-bridge/pkg/sdk"
)

// DefaultLocation is the zone log lines are stamped in unless configured.
var DefaultLocation = time.FixedZone("UTC+3", 3*60*60)

const lineTimeLayout = "02.01.2006 15:04:05"

// FormatLine renders an entry the way the dev menu shows it, e.g.
//
//	📠 [01.05.2024 13:00:00 WARN]: ▸ low memory 512, true
func FormatLine(level sdk.Level, msg string, params []any, at time.Time, loc *time.Location) string {
	if loc == nil {
		loc = DefaultLocation
	}
	parts := make([]string, len(params))
	for i, p := range params {
		parts[i] = fmt.Sprint(p)
	}
	return fmt.Sprintf("📠 [%s %s]: ▸ %s %s",
		at.In(loc).Format(lineTimeLayout), level, msg, strings.Join(parts, ", "))
}
