package devserver

import (
	"bytes"
	"net/http"
	"strings"
)

const maxInjectSize = 512 * 1024

var scriptTag = []byte(`<script async src="` + ScriptPath + `"></script>`)

// injector buffers HTML responses so the live reload script can be placed
// before </body>. Other content types and oversized pages pass through.
type injector struct {
	http.ResponseWriter
	status        int
	buf           []byte
	headerWritten bool
	passthrough   bool
}

func newInjector(w http.ResponseWriter) *injector {
	return &injector{ResponseWriter: w, status: http.StatusOK}
}

func (i *injector) WriteHeader(code int) {
	i.status = code
	if i.passthrough {
		i.ResponseWriter.WriteHeader(code)
		i.headerWritten = true
	}
}

func (i *injector) Write(data []byte) (int, error) {
	if !i.passthrough && i.buf == nil {
		ct := i.Header().Get("Content-Type")
		if ct != "" && !strings.Contains(ct, "text/html") {
			i.passthrough = true
			i.ResponseWriter.WriteHeader(i.status)
			i.headerWritten = true
			return i.ResponseWriter.Write(data)
		}
		i.buf = make([]byte, 0, 16*1024)
	}
	if i.passthrough {
		return i.ResponseWriter.Write(data)
	}

	if len(i.buf)+len(data) > maxInjectSize {
		i.passthrough = true
		i.Header().Del("Content-Length")
		i.ResponseWriter.WriteHeader(i.status)
		i.headerWritten = true
		if _, err := i.ResponseWriter.Write(i.buf); err != nil {
			return 0, err
		}
		return i.ResponseWriter.Write(data)
	}

	i.buf = append(i.buf, data...)
	return len(data), nil
}

// finish writes the buffered page with the script in place
func (i *injector) finish() {
	if i.passthrough || len(i.buf) == 0 {
		if !i.headerWritten {
			i.ResponseWriter.WriteHeader(i.status)
		}
		return
	}
	i.Header().Del("Content-Length")
	i.ResponseWriter.WriteHeader(i.status)
	_, _ = i.ResponseWriter.Write(InjectScript(i.buf))
}

// InjectScript places the live reload script tag before the last </body>,
// or appends it when the page has no body end tag.
func InjectScript(page []byte) []byte {
	idx := bytes.LastIndex(bytes.ToLower(page), []byte("</body>"))
	if idx < 0 {
		return append(append([]byte(nil), page...), scriptTag...)
	}
	out := make([]byte, 0, len(page)+len(scriptTag))
	out = append(out, page[:idx]...)
	out = append(out, scriptTag...)
	return append(out, page[idx:]...)
}
