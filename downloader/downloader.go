// Package downloader implements the Downloader collaborator (spec.md §4.F):
// streaming HTTP(S) downloads with inline hashing, atomic rename, progress
// reporting, retryable transport failures, and pluggable per-host auth.
package downloader

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"lukechampine.com/blake3"

	"github.com/comfydock/comfydock-core/hasher"
	"github.com/comfydock/comfydock-core/internal/cerr"
	"github.com/comfydock/comfydock-core/model"
)

// Credentials carries a per-source bearer token, looked up by host (§6.7).
type Credentials struct {
	BearerToken string
}

// Request is one download to perform (§4.F).
type Request struct {
	URL                string
	TargetRelativePath string // relative to Downloader's root
	ExpectedSize       int64  // 0 if unknown
	ExpectedHash       model.QuickHash
	Credentials        *Credentials
}

// ProgressFunc receives bytes downloaded so far and the content length, or 0
// if the server didn't report one. Called at most every 250ms (§4.F.4).
type ProgressFunc func(bytesSoFar, total int64)

// Result is the outcome of one successful download (§4.F.6).
type Result struct {
	FinalPath string
	QuickHash model.QuickHash
	SHA256    string
	BLAKE3    string
	Bytes     int64
}

const (
	maxRedirects    = 10
	progressInterval = 250 * time.Millisecond
)

// Downloader streams one model file at a time by default; Root is the
// directory target_relative_path is resolved against.
type Downloader struct {
	Root    string
	Client  *resty.Client
	Fetcher *Fetcher

	mu       sync.Mutex
	inFlight map[string]struct{} // target_relative_path currently downloading (§4.F "Concurrency")
}

// New builds a Downloader rooted at root, using a resty client with no
// overall timeout and a redirect policy capped at maxRedirects. The client
// itself does not retry; retries come from DownloadWithRetry.
func New(root string, fetcher *Fetcher) *Downloader {
	client := resty.New().
		SetTimeout(0). // streaming downloads can legitimately run long, so no overall timeout
		SetRedirectPolicy(resty.FlexibleRedirectPolicy(maxRedirects))

	return &Downloader{
		Root:     root,
		Client:   client,
		Fetcher:  fetcher,
		inFlight: make(map[string]struct{}),
	}
}

// Download runs one request to completion, per §4.F's numbered protocol.
func (d *Downloader) Download(ctx context.Context, req Request, progress ProgressFunc) (Result, error) {
	if err := d.lockTarget(req.TargetRelativePath); err != nil {
		return Result{}, err
	}
	defer d.unlockTarget(req.TargetRelativePath)

	finalPath := filepath.Join(d.Root, req.TargetRelativePath)
	tmpPath := finalPath + ".tmp"

	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		return Result{}, cerr.New(cerr.KindDiskFull, "creating download target directory", err)
	}

	result, err := d.stream(ctx, req, tmpPath, progress)
	if err != nil {
		os.Remove(tmpPath)
		return Result{}, err
	}

	if !req.ExpectedHash.IsZero() && req.ExpectedHash != result.QuickHash {
		os.Remove(tmpPath)
		return Result{}, cerr.New(cerr.KindHashMismatch, "downloaded file does not match expected hash", nil).
			WithDetails(map[string]any{"expected": req.ExpectedHash.String(), "got": result.QuickHash.String()})
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return Result{}, cerr.New(cerr.KindDiskFull, "renaming completed download into place", err)
	}

	result.FinalPath = finalPath
	return result, nil
}

func (d *Downloader) lockTarget(target string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, busy := d.inFlight[target]; busy {
		return cerr.New(cerr.KindConflict, "download already in progress for target", nil).
			WithDetails(map[string]any{"target": target})
	}
	d.inFlight[target] = struct{}{}
	return nil
}

func (d *Downloader) unlockTarget(target string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.inFlight, target)
}

// stream performs the GET, tee-ing bytes through hashers and a byte counter
// into tmpPath (§4.F.2-5), without touching the final path.
func (d *Downloader) stream(ctx context.Context, req Request, tmpPath string, progress ProgressFunc) (Result, error) {
	fetcher := d.Fetcher
	if fetcher == nil {
		fetcher = DefaultFetcher()
	}

	httpReq := d.Client.R().SetContext(ctx).SetDoNotParseResponse(true)
	fetcher.Authenticate(httpReq, req.URL, req.Credentials)

	resp, err := httpReq.Get(req.URL)
	if err != nil {
		return Result{}, classifyTransportErr(err)
	}
	body := resp.RawBody()
	defer body.Close()

	if status := resp.StatusCode(); status != http.StatusOK {
		return Result{}, classifyStatus(status, req.URL)
	}

	out, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return Result{}, cerr.New(cerr.KindDiskFull, "creating temp download file", err)
	}
	defer out.Close()

	contentLength := resp.RawResponse.ContentLength
	if contentLength < 0 {
		contentLength = 0
	}
	if req.ExpectedSize > 0 {
		contentLength = req.ExpectedSize
	}

	sha := sha256.New()
	full := blake3.New(32, nil)
	mw := io.MultiWriter(out, sha, full)

	buf := make([]byte, 1<<20)
	var total int64
	var lastReport time.Time
	for {
		select {
		case <-ctx.Done():
			return Result{}, cerr.New(cerr.KindCanceled, "download canceled", ctx.Err())
		default:
		}

		n, rerr := body.Read(buf)
		if n > 0 {
			if _, werr := mw.Write(buf[:n]); werr != nil {
				return Result{}, cerr.New(cerr.KindDiskFull, "writing downloaded bytes", werr)
			}
			total += int64(n)
			if progress != nil && (lastReport.IsZero() || time.Since(lastReport) >= progressInterval) {
				progress(total, contentLength)
				lastReport = time.Now()
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return Result{}, classifyTransportErr(rerr)
		}
	}
	if progress != nil {
		progress(total, contentLength)
	}

	if err := out.Sync(); err != nil {
		return Result{}, cerr.New(cerr.KindDiskFull, "fsyncing downloaded file", err)
	}

	// Quick-hash is windowed for files >=45MiB (§3.1); that needs random
	// access to the completed file, so it's computed here rather than inline
	// with the streaming SHA-256/BLAKE3 digests above.
	qhResult, err := hasher.QuickHashFile(tmpPath)
	if err != nil {
		return Result{}, cerr.New(cerr.KindDiskFull, "quick-hashing downloaded file", err)
	}

	return Result{
		QuickHash: qhResult.Hash,
		SHA256:    fmt.Sprintf("%x", sha.Sum(nil)),
		BLAKE3:    fmt.Sprintf("%x", full.Sum(nil)),
		Bytes:     total,
	}, nil
}

func classifyStatus(status int, url string) error {
	switch status {
	case http.StatusUnauthorized:
		return cerr.New(cerr.KindAuthenticationReq, "download requires authentication", nil).
			WithDetails(map[string]any{"url": url})
	case http.StatusForbidden:
		return cerr.New(cerr.KindForbidden, "download forbidden", nil).WithDetails(map[string]any{"url": url})
	case http.StatusNotFound:
		return cerr.New(cerr.KindNotFound, "download target not found", nil).WithDetails(map[string]any{"url": url})
	default:
		return cerr.Newf(cerr.KindTransport, nil, "unexpected HTTP status %d from %s", status, url)
	}
}

func classifyTransportErr(err error) error {
	if errors.Is(err, context.Canceled) {
		return cerr.New(cerr.KindCanceled, "download canceled", err)
	}
	return cerr.New(cerr.KindTransport, "download transport error", err)
}
