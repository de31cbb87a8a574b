package devproxy

import (
	"bufio"
	"bytes"
	"fmt"
	"net/http"
	"net/http/httputil"
)

const respPrefix = "---HTTP-RESPONSE---\n"

// serializeResponse renders resp in wire format, body included. The body
// reader is replaced, so the response can still be written to the client
// afterwards.
func serializeResponse(resp *http.Response) ([]byte, error) {
	b, err := httputil.DumpResponse(resp, true)
	if err != nil {
		return nil, err
	}

	return append([]byte(respPrefix), b...), nil
}

func deserializeResponse(b []byte) (*http.Response, error) {
	if len(b) < len(respPrefix) || string(b[:len(respPrefix)]) != respPrefix {
		return nil, fmt.Errorf("invalid cached response prefix")
	}

	resp, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(b[len(respPrefix):])), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize response: %w", err)
	}

	return resp, nil
}
