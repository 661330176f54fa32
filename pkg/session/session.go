package session

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/samogod/bookrnn/pkg/config"
)

var DebugLog func(string, ...interface{})

type LoggingTransport struct {
	Transport http.RoundTripper
}

func (t *LoggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if DebugLog != nil {
		DebugLog("requesting url: %s", req.URL.String())

		if len(req.Header) > 0 {
			var headers []string
			for k, v := range req.Header {
				if k != "User-Agent" && k != "Authorization" {
					headers = append(headers, fmt.Sprintf("%s: %s", k, strings.Join(v, ", ")))
				}
			}
			if len(headers) > 0 {
				DebugLog("request headers: %s", strings.Join(headers, " | "))
			}
		}
	}

	resp, err := t.Transport.RoundTrip(req)

	if DebugLog != nil {
		host := hostName(req.URL.String())

		if err != nil {
			DebugLog("request to %s failed: %v", host, err)
		} else {
			DebugLog("response for %s: status code %d", req.URL.String(), resp.StatusCode)

			if length := resp.Header.Get("Content-Length"); length != "" {
				DebugLog("response content-length: %s", length)
			}

			if resp.StatusCode >= 400 {
				DebugLog("unexpected status code %d received from %s", resp.StatusCode, host)
			}
		}
	}

	return resp, err
}

func hostName(url string) string {
	parts := strings.Split(url, "://")
	if len(parts) > 1 {
		return strings.Split(parts[1], "/")[0]
	}
	return "unknown"
}

// New returns a client for downloads. The run timeout (minutes) bounds each
// request; 0 means none.
func New(cfg *config.Config) *http.Client {
	baseTransport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}

	var transport http.RoundTripper = baseTransport
	if DebugLog != nil {
		transport = &LoggingTransport{Transport: baseTransport}
	}

	return &http.Client{
		Timeout:   time.Duration(cfg.DefaultSettings.Timeout) * time.Minute,
		Transport: transport,
	}
}

// Drain reads and discards up to limit bytes so the connection can be reused.
func Drain(body io.ReadCloser, limit int64) {
	io.Copy(io.Discard, io.LimitReader(body, limit))
	body.Close()
}
