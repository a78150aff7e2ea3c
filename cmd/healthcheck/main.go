// Command healthcheck probes the recorder's /healthz endpoint and exits
// non-zero when it is unreachable. Intended for container HEALTHCHECK.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"strings"
	"time"
)

func main() {
	target := healthURL(os.Args[1:], os.Getenv("HTTP_ADDR"))
	client := &http.Client{Timeout: 3 * time.Second}
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, target, nil)
	if err != nil {
		os.Exit(1)
	}
	resp, err := client.Do(req)
	if err != nil {
		os.Exit(1)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Printf("failed to close response body: %v", err)
		}
	}()
	if resp.StatusCode != http.StatusOK {
		os.Exit(1)
	}
}

// healthURL picks the probe target: an explicit URL argument, else /healthz on
// the HTTP_ADDR port of localhost.
func healthURL(args []string, addr string) string {
	if len(args) > 0 && args[0] != "" {
		return args[0]
	}
	if addr == "" {
		addr = ":8080"
	}
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr + "/healthz"
}
