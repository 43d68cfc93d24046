package eventqueue

import (
	"errors"
	"fmt"
	"strings"
)

// dataCarrier is implemented by error types that want structured key/value
// pairs included in FormatFailure's dump, alongside the message and type.
type dataCarrier interface {
	FailureData() map[string]any
}

// FormatFailure produces the indented, recursive dump used for
// UnhandledEventFailure.FormattedText and CriticalFailure.FormattedText: the
// error's type, its message, any structured data it carries, and the same
// for every error wrapped beneath it via errors.Unwrap.
func FormatFailure(err error) string {
	var b strings.Builder
	formatFailureLevel(&b, err, 0)
	return b.String()
}

func formatFailureLevel(b *strings.Builder, err error, depth int) {
	if err == nil {
		return
	}

	indent := strings.Repeat("  ", depth)
	fmt.Fprintf(b, "%s%T: %s\n", indent, err, err.Error())

	if dc, ok := err.(dataCarrier); ok {
		for k, v := range dc.FailureData() {
			fmt.Fprintf(b, "%s  %s = %v\n", indent, k, v)
		}
	}

	if inner := errors.Unwrap(err); inner != nil {
		fmt.Fprintf(b, "%sCaused by:\n", indent)
		formatFailureLevel(b, inner, depth+1)
	}
}
