// Package upload implements the client half of the resumable catalog
// upload protocol described in §4.G/§4.H: initiate, upload the
// catalog, upload whatever extents the server reports missing, then
// finalize. Every step is idempotent so a client can be killed and
// restarted at any point and simply re-run Upload with the same
// session id.
package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/tumulus/tumulus/internal/catalog"
	"github.com/tumulus/tumulus/internal/debug"
	"github.com/tumulus/tumulus/internal/errors"
	"github.com/tumulus/tumulus/internal/ids"
)

// Client talks to one tumulus server over HTTP.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// New returns a Client targeting baseURL (e.g. "http://backup-host:8080").
func New(baseURL string) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: http.DefaultClient,
	}
}

// IdChanged is returned by Upload when the server already has a
// session under the requested id with a different checksum (e.g. a
// prior aborted upload of unrelated content reused the id). The
// caller should restart the upload using Assigned.
type IdChanged struct {
	Requested string
	Assigned  string
}

func (e *IdChanged) Error() string {
	return fmt.Sprintf("upload: catalog id %s is in use with a different checksum, server assigned %s", e.Requested, e.Assigned)
}

// ExtentChanged is returned when re-reading an extent from the source
// tree immediately before upload no longer hashes to the id recorded
// in the catalog (§4.G "extent changed during upload").
type ExtentChanged struct {
	ExtentID ids.B3
	Path     string
	Expected ids.B3
	Actual   ids.B3
}

func (e *ExtentChanged) Error() string {
	return fmt.Sprintf("upload: %s changed on disk since the catalog was written (expected %s, got %s)", e.Path, e.Expected, e.Actual)
}

// Options configures one Upload call.
type Options struct {
	// ID is the session id, normally derived from the snapshot's tree
	// hash so that re-running catalog creation against unchanged
	// content resumes the same session.
	ID string

	CatalogPath string

	// SourceRoot is joined with each catalog-relative path when
	// re-reading extent content; overridable (e.g. --override-source)
	// when the source tree has moved since the catalog was written.
	SourceRoot string

	// Backoff configures the finalize retry loop. A nil value uses a
	// default exponential backoff with a five-minute ceiling.
	Backoff *backoff.ExponentialBackOff
}

// Result summarizes one completed upload.
type Result struct {
	ID          string
	Resumed     bool
	ExtentsSent int
}

// Upload runs the full three-phase protocol against opts.CatalogPath,
// returning once the server reports the catalog Complete.
func (c *Client) Upload(ctx context.Context, opts Options) (Result, error) {
	catalogBody, err := os.ReadFile(opts.CatalogPath)
	if err != nil {
		return Result{}, errors.Wrap(err, "read catalog")
	}
	checksum := ids.Sum(catalogBody)

	initResp, err := c.initiate(ctx, opts.ID, checksum)
	if err != nil {
		return Result{}, err
	}
	if initResp.ID != opts.ID {
		return Result{}, &IdChanged{Requested: opts.ID, Assigned: initResp.ID}
	}

	missing, err := parseHexList(initResp.MissingExtents)
	if err != nil {
		return Result{}, err
	}

	if !initResp.Resuming {
		putResp, err := c.putCatalog(ctx, initResp.ID, catalogBody)
		if err != nil {
			return Result{}, err
		}
		missing, err = parseHexList(putResp.MissingExtents)
		if err != nil {
			return Result{}, err
		}
	}

	sent, err := c.uploadMissingExtents(ctx, opts, missing)
	if err != nil {
		return Result{}, err
	}

	if err := c.finalizeWithRetry(ctx, opts, initResp.ID); err != nil {
		return Result{}, err
	}

	return Result{ID: initResp.ID, Resumed: initResp.Resuming, ExtentsSent: sent}, nil
}

// uploadMissingExtents re-reads, re-hashes, and uploads every extent
// in missing, reading each one out of the catalog at opts.CatalogPath
// to locate its source file and byte range.
func (c *Client) uploadMissingExtents(ctx context.Context, opts Options, missing []ids.B3) (int, error) {
	if len(missing) == 0 {
		return 0, nil
	}

	reader, err := catalog.Open(opts.CatalogPath)
	if err != nil {
		return 0, errors.Wrap(err, "open catalog for extent lookup")
	}
	defer reader.Close()

	sent := 0
	for _, extID := range missing {
		relPath, offset, length, err := reader.LocateExtent(extID)
		if err != nil {
			return sent, errors.Wrapf(err, "locate extent %v in catalog", extID)
		}

		data, err := readRange(opts.SourceRoot, relPath, offset, length)
		if err != nil {
			return sent, errors.Wrapf(err, "re-read %v for extent %v", relPath, extID)
		}

		if actual := ids.Sum(data); actual != extID {
			return sent, &ExtentChanged{ExtentID: extID, Path: relPath, Expected: extID, Actual: actual}
		}

		if err := c.putExtent(ctx, extID, data); err != nil {
			return sent, err
		}
		sent++
		debug.Log("uploaded extent %v (%d bytes) from %v", extID, len(data), relPath)
	}
	return sent, nil
}

func readRange(sourceRoot, relPath string, offset, length uint64) ([]byte, error) {
	path := filepath.Join(sourceRoot, filepath.FromSlash(relPath))
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open source file")
	}
	defer f.Close()

	buf := make([]byte, length)
	if _, err := f.ReadAt(buf, int64(offset)); err != nil {
		return nil, errors.Wrap(err, "read source range")
	}
	return buf, nil
}

// finalizeWithRetry calls finalize in an exponential-backoff loop
// (§4.G), uploading any newly-reported missing extents between
// attempts, until the server reports the catalog Complete.
func (c *Client) finalizeWithRetry(ctx context.Context, opts Options, id string) error {
	bo := opts.Backoff
	if bo == nil {
		bo = backoff.NewExponentialBackOff()
		bo.MaxElapsedTime = 5 * time.Minute
	}

	operation := func() error {
		resp, err := c.finalize(ctx, id)
		if err != nil {
			return backoff.Permanent(err)
		}
		if resp.Complete {
			return nil
		}

		missing, err := parseHexList(resp.MissingExtents)
		if err != nil {
			return backoff.Permanent(err)
		}
		if _, err := c.uploadMissingExtents(ctx, opts, missing); err != nil {
			return backoff.Permanent(err)
		}
		return errors.New("upload: catalog still incomplete after uploading reported extents")
	}

	return errors.Wrap(backoff.Retry(operation, backoff.WithContext(bo, ctx)), "finalize")
}

func (c *Client) initiate(ctx context.Context, id string, checksum ids.B3) (initiateResponse, error) {
	var resp initiateResponse
	body, err := json.Marshal(initiateRequest{ID: id, Checksum: checksum.String()})
	if err != nil {
		return resp, errors.Wrap(err, "encode initiate request")
	}
	err = c.doJSON(ctx, http.MethodPost, "/catalogs/", bytes.NewReader(body), &resp)
	return resp, err
}

func (c *Client) putCatalog(ctx context.Context, id string, body []byte) (putCatalogResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.BaseURL+"/catalogs/"+id, bytes.NewReader(body))
	if err != nil {
		return putCatalogResponse{}, errors.Wrap(err, "build put-catalog request")
	}
	httpResp, err := c.HTTPClient.Do(req)
	if err != nil {
		return putCatalogResponse{}, errors.Wrap(err, "put catalog")
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return putCatalogResponse{}, errorFromResponse(httpResp)
	}
	var resp putCatalogResponse
	return resp, errors.Wrap(json.NewDecoder(httpResp.Body).Decode(&resp), "decode put-catalog response")
}

func (c *Client) finalize(ctx context.Context, id string) (finalizeResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/catalogs/"+id, nil)
	if err != nil {
		return finalizeResponse{}, errors.Wrap(err, "build finalize request")
	}
	httpResp, err := c.HTTPClient.Do(req)
	if err != nil {
		return finalizeResponse{}, errors.Wrap(err, "finalize request")
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode == http.StatusNoContent {
		return finalizeResponse{Complete: true}, nil
	}
	if httpResp.StatusCode != http.StatusOK {
		return finalizeResponse{}, errorFromResponse(httpResp)
	}

	var resp finalizeResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return finalizeResponse{}, errors.Wrap(err, "decode finalize response")
	}
	return resp, nil
}

func (c *Client) putExtent(ctx context.Context, id ids.B3, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.BaseURL+"/extents/"+id.String(), bytes.NewReader(data))
	if err != nil {
		return errors.Wrap(err, "build put-extent request")
	}
	httpResp, err := c.HTTPClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "put extent")
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusCreated && httpResp.StatusCode != http.StatusOK {
		return errorFromResponse(httpResp)
	}
	return nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body io.Reader, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")

	httpResp, err := c.HTTPClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "request")
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return errorFromResponse(httpResp)
	}
	return errors.Wrap(json.NewDecoder(httpResp.Body).Decode(out), "decode response")
}

func errorFromResponse(resp *http.Response) error {
	var body struct {
		Error  string `json:"error"`
		Detail string `json:"detail"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&body)
	if body.Error == "" {
		return errors.Errorf("upload: server returned %s", resp.Status)
	}
	return errors.Errorf("upload: server returned %s: %s: %s", resp.Status, body.Error, body.Detail)
}

func parseHexList(hexes []string) ([]ids.B3, error) {
	out := make([]ids.B3, len(hexes))
	for i, h := range hexes {
		id, err := ids.Parse(h)
		if err != nil {
			return nil, errors.Wrapf(err, "parse extent id %q", h)
		}
		out[i] = id
	}
	return out, nil
}

type initiateRequest struct {
	ID       string `json:"id"`
	Checksum string `json:"checksum"`
}

type initiateResponse struct {
	ID             string   `json:"id"`
	Resuming       bool     `json:"resuming"`
	MissingExtents []string `json:"missing_extents,omitempty"`
}

type putCatalogResponse struct {
	MissingExtents []string `json:"missing_extents"`
}

type finalizeResponse struct {
	Complete       bool     `json:"complete"`
	MissingExtents []string `json:"missing_extents,omitempty"`
}
