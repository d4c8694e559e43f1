package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultTimeout   = 10 * time.Second
	maxDocumentBytes = 1 << 20 // 1 MiB
)

// Attribute is a single display trait attached to an item document.
type Attribute struct {
	TraitType string `json:"trait_type"`
	Value     any    `json:"value"`
}

// Document is the off-chain JSON record an item's content ref points at. It
// is presentation data only; nothing in it ever feeds back into engine state.
type Document struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Image       string      `json:"image"`
	Attributes  []Attribute `json:"attributes,omitempty"`
}

// Client fetches item documents from an IPFS-style HTTP gateway by content
// identifier.
type Client struct {
	gatewayURL string
	httpClient *http.Client
}

// NewClient constructs a metadata client for the supplied gateway base URL
// (e.g. "https://ipfs.io").
func NewClient(gatewayURL string) (*Client, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(gatewayURL), "/")
	if trimmed == "" {
		return nil, fmt.Errorf("metadata: gateway URL required")
	}
	parsed, err := url.Parse(trimmed)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("metadata: invalid gateway URL %q", gatewayURL)
	}
	return &Client{
		gatewayURL: trimmed,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}, nil
}

// Fetch retrieves and decodes the document for the given content ref. The
// "ipfs://" scheme prefix is accepted and stripped.
func (c *Client) Fetch(ctx context.Context, contentRef string) (*Document, error) {
	cid := strings.TrimSpace(contentRef)
	cid = strings.TrimPrefix(cid, "ipfs://")
	cid = strings.Trim(cid, "/")
	if cid == "" {
		return nil, fmt.Errorf("metadata: content ref required")
	}
	endpoint := fmt.Sprintf("%s/ipfs/%s", c.gatewayURL, cid)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("metadata: fetch %s: %w", cid, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("metadata: fetch %s: unexpected status %d", cid, resp.StatusCode)
	}

	doc := &Document{}
	decoder := json.NewDecoder(io.LimitReader(resp.Body, maxDocumentBytes))
	if err := decoder.Decode(doc); err != nil {
		return nil, fmt.Errorf("metadata: decode %s: %w", cid, err)
	}
	return doc, nil
}
