package downloader

import (
	"net/url"
	"strings"

	"github.com/go-resty/resty/v2"
)

// HostKind is which per-host auth convention a URL's host resolves to (§4.F.1).
type HostKind string

const (
	HostCivitAI     HostKind = "civitai"
	HostHuggingFace HostKind = "huggingface"
	HostDirect      HostKind = "direct"
)

// Fetcher resolves a download URL to a host kind and applies that host's auth
// convention to the outgoing request. civitai.com appends the bearer token as
// a query parameter (its API convention); huggingface.co/hf.co use a standard
// Authorization header; every other (direct) host gets no token.
type Fetcher struct {
	// Tokens maps a HostKind to the bearer token configured for it, if any.
	Tokens map[HostKind]string
}

// DefaultFetcher returns a Fetcher with no configured tokens: every request
// goes out unauthenticated unless the caller supplies per-request
// Credentials.
func DefaultFetcher() *Fetcher {
	return &Fetcher{Tokens: map[HostKind]string{}}
}

// ResolveHost classifies rawURL's host per §4.F.1.
func ResolveHost(rawURL string) HostKind {
	u, err := url.Parse(rawURL)
	if err != nil {
		return HostDirect
	}
	host := strings.ToLower(u.Hostname())
	switch {
	case host == "civitai.com" || strings.HasSuffix(host, ".civitai.com"):
		return HostCivitAI
	case host == "huggingface.co" || host == "hf.co" || strings.HasSuffix(host, ".huggingface.co"):
		return HostHuggingFace
	default:
		return HostDirect
	}
}

// Authenticate attaches whichever auth convention the target host expects,
// preferring request-scoped Credentials over the Fetcher's configured
// per-host token.
func (f *Fetcher) Authenticate(req *resty.Request, rawURL string, creds *Credentials) {
	host := ResolveHost(rawURL)

	token := ""
	if creds != nil {
		token = creds.BearerToken
	} else if f != nil {
		token = f.Tokens[host]
	}
	if token == "" {
		return
	}

	switch host {
	case HostCivitAI:
		req.SetQueryParam("token", token)
	case HostHuggingFace:
		req.SetHeader("Authorization", "Bearer "+token)
	}
}
