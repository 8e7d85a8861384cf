package llm

import (
	"bufio"
	"bytes"
	"io"
)

// sseReader reads "data:" payloads from a Server-Sent Events body.
type sseReader struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
}

func newSSEReader(body io.ReadCloser) *sseReader {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4<<20)
	return &sseReader{body: body, scanner: scanner}
}

// next returns the next event's data. Multi-line data fields are joined with
// newlines. It reports false when the body is exhausted.
func (r *sseReader) next() ([]byte, bool) {
	var data [][]byte
	for r.scanner.Scan() {
		line := bytes.TrimRight(r.scanner.Bytes(), "\r")
		if len(line) == 0 {
			if len(data) > 0 {
				return bytes.Join(data, []byte("\n")), true
			}
			continue
		}
		if bytes.HasPrefix(line, []byte(":")) {
			continue
		}
		if payload, ok := bytes.CutPrefix(line, []byte("data:")); ok {
			data = append(data, bytes.Clone(bytes.TrimPrefix(payload, []byte(" "))))
		}
	}
	if len(data) > 0 {
		return bytes.Join(data, []byte("\n")), true
	}
	return nil, false
}

func (r *sseReader) err() error { return r.scanner.Err() }

func (r *sseReader) close() error { return r.body.Close() }
