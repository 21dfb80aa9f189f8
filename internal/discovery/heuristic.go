package discovery

import (
	"bytes"
	"strings"
)

// scriptBodyThreshold is the size under which script-heavy pages are treated
// as client-rendered.
const scriptBodyThreshold = 2048

var spaMarkers = [][]byte{
	[]byte("__next"),
	[]byte(`id="root"`),
	[]byte(`id="app"`),
	[]byte("data-reactroot"),
}

// ScriptRendered reports whether a page that yielded no job cards looks like
// it needs a JavaScript runtime to produce its content.
func ScriptRendered(body []byte) bool {
	if len(body) == 0 {
		return true
	}
	for _, marker := range spaMarkers {
		if bytes.Contains(body, marker) {
			return true
		}
	}
	return len(body) < scriptBodyThreshold && scriptDensityHigh(body)
}

// scriptDensityHigh measures how much of the document sits inside <script>
// tags; a quarter or more means the markup is mostly bootstrap code.
func scriptDensityHigh(body []byte) bool {
	lower := strings.ToLower(string(body))
	total := len(lower)
	if total == 0 {
		return false
	}

	covered := 0
	pos := 0
	for {
		open := strings.Index(lower[pos:], "<script")
		if open == -1 {
			break
		}
		start := pos + open

		tagEnd := strings.IndexByte(lower[start:], '>')
		if tagEnd == -1 {
			// Malformed open tag; count the rest of the document.
			covered += total - start
			break
		}

		end := total
		if rel := strings.Index(lower[start+tagEnd+1:], "</script>"); rel != -1 {
			end = start + tagEnd + 1 + rel + len("</script>")
		}
		covered += end - start
		pos = end
	}

	if covered == 0 {
		return false
	}
	return covered*100/total >= 25
}
