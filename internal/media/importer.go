package media

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// Importer downloads remote images through an SSRF-guarded client.
type Importer struct {
	client   *http.Client
	validate func(string) error
}

// NewImporter builds an importer whose client only reaches public
// http/https hosts on ports 80 and 443.
func NewImporter(timeout time.Duration) *Importer {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes("http", "https").
		SetAllowedPorts(80, 443).
		Build()
	return &Importer{client: safeurl.Client(config).Client, validate: ValidateURL}
}

// NewImporterWithClient uses client as is. The static URL checks still run.
func NewImporterWithClient(client *http.Client) *Importer {
	return &Importer{client: client, validate: ValidateURL}
}

// Fetch downloads rawURL and returns the image bytes and detected type.
func (i *Importer) Fetch(ctx context.Context, rawURL string) ([]byte, string, error) {
	if err := i.validate(rawURL); err != nil {
		return nil, "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "image/*")

	resp, err := i.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetch image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, "", fmt.Errorf("fetch image: status %d", resp.StatusCode)
	}
	if resp.ContentLength > MaxImageBytes {
		return nil, "", ErrTooLarge
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxImageBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("read image: %w", err)
	}
	mime, err := Sniff(data)
	if err != nil {
		return nil, "", err
	}
	return data, mime, nil
}

// ValidateURL is a static pre-check. Resolved addresses are checked again
// by the safeurl dialer, which covers DNS rebinding.
func ValidateURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("empty URL")
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("disallowed scheme: %s", parsed.Scheme)
	}
	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("empty host in URL: %s", rawURL)
	}
	if strings.EqualFold(host, "localhost") {
		return fmt.Errorf("blocked host: %s", host)
	}
	if ip := net.ParseIP(host); ip != nil {
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsUnspecified() {
			return fmt.Errorf("blocked IP address: %s", ip)
		}
	}
	return nil
}
