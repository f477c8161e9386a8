// Package cluster provides an HTTP client for a CouchDB-compatible cluster.
//
// The client drives two standard endpoints: GET /_all_dbs for database discovery
// and POST /_replicate for server-side replication. It never replicates data
// itself; the remote cluster does the transfer.
package cluster

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/couchrepl/couchrepl/errors"
	"github.com/couchrepl/couchrepl/log"
)

const maxErrorBodySize = 64 * 1024

// Endpoint is a parsed cluster base URL, possibly with embedded credentials.
// Immutable once constructed.
type Endpoint struct {
	u *url.URL
}

// ParseEndpoint validates and parses a cluster base URL.
func ParseEndpoint(raw string) (*Endpoint, error) {
	u, err := url.Parse(strings.TrimSuffix(raw, "/"))
	if err != nil {
		return nil, errors.Wrap(err, "parse endpoint URL")
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errors.Errorf("unsupported scheme %q: endpoint must be http or https", u.Scheme)
	}

	if u.Host == "" {
		return nil, errors.New("endpoint URL has no host")
	}

	return &Endpoint{u: u}, nil
}

// DatabaseURL returns the absolute URL of a database on this endpoint,
// credentials included, with the database name escaped.
func (e *Endpoint) DatabaseURL(db string) string {
	return e.u.String() + "/" + EscapeDatabase(db)
}

// String returns the endpoint URL with any password redacted.
func (e *Endpoint) String() string {
	return e.u.Redacted()
}

// EscapeDatabase escapes a database name for use in a URL path or payload.
// CouchDB accepts "/" in database names (e.g. "a/b"), which must be encoded.
func EscapeDatabase(name string) string {
	return url.QueryEscape(name)
}

// Options configures a cluster client.
type Options struct {
	// Timeout bounds discovery and continuous-setup calls, and the
	// connection/TLS setup of one-shot replication calls. The one-shot
	// completion wait itself is unbounded.
	Timeout time.Duration

	// InsecureTLS disables certificate verification.
	InsecureTLS bool

	// CAFile is a PEM bundle of additional trusted roots, for clusters with
	// self-signed or private-CA certificates.
	CAFile string
}

// Client issues requests against one cluster endpoint. It keeps no state
// across calls and is safe for concurrent use.
type Client struct {
	endpoint *Endpoint

	// bounded is used for discovery and continuous-setup calls.
	bounded *http.Client
	// waiting has no overall deadline: a one-shot /_replicate call blocks
	// until the remote finishes replicating, which may take hours.
	waiting *http.Client
}

// NewClient creates a client for the given endpoint.
func NewClient(endpoint *Endpoint, opts Options) (*Client, error) {
	tlsConfig, err := makeTLSConfig(opts)
	if err != nil {
		return nil, err
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: opts.Timeout,
		}).DialContext,
		TLSHandshakeTimeout: opts.Timeout,
		TLSClientConfig:     tlsConfig,
	}

	return &Client{
		endpoint: endpoint,
		bounded: &http.Client{
			Transport: transport,
			Timeout:   opts.Timeout,
		},
		waiting: &http.Client{
			Transport: transport,
		},
	}, nil
}

func makeTLSConfig(opts Options) (*tls.Config, error) {
	if !opts.InsecureTLS && opts.CAFile == "" {
		return nil, nil //nolint:nilnil
	}

	cfg := &tls.Config{
		InsecureSkipVerify: opts.InsecureTLS, //nolint:gosec
	}

	if opts.CAFile != "" {
		pem, err := os.ReadFile(opts.CAFile)
		if err != nil {
			return nil, errors.Wrap(err, "read CA file")
		}

		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, errors.Errorf("no certificates found in %s", opts.CAFile)
		}

		cfg.RootCAs = pool
	}

	return cfg, nil
}

// Endpoint returns the cluster endpoint this client targets.
func (c *Client) Endpoint() *Endpoint {
	return c.endpoint
}

// ListDatabases returns all database names on the cluster via GET /_all_dbs.
// Any failure is a DiscoveryError: there is nothing meaningful to replicate
// against a cluster that cannot be listed.
func (c *Client) ListDatabases(ctx context.Context) ([]string, error) {
	reqURL := c.endpoint.u.String() + "/_all_dbs"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return nil, &DiscoveryError{Err: err}
	}

	log.Ctx(ctx).Tracef("GET %s/_all_dbs", c.endpoint)

	res, err := c.bounded.Do(req)
	if err != nil {
		return nil, &DiscoveryError{Err: err}
	}
	defer res.Body.Close() //nolint:errcheck

	if res.StatusCode != http.StatusOK {
		return nil, &DiscoveryError{Err: classifyStatus(res.StatusCode, "", readErrorBody(res.Body))}
	}

	// The listing can be large on big clusters; decode it streaming.
	var databases []string

	err = json.NewDecoder(res.Body).Decode(&databases)
	if err != nil {
		return nil, &DiscoveryError{Err: errors.Wrap(err, "decode _all_dbs response")}
	}

	return databases, nil
}

// ReplicateRequest describes a single /_replicate call. Immutable per job.
type ReplicateRequest struct {
	// Source and Target are the clusters the remote replicates between.
	// They are independent of which cluster's API receives this request.
	Source *Endpoint
	Target *Endpoint

	Database   string
	Continuous bool
}

// ReplicateResult carries the remote's response to a replication request.
type ReplicateResult struct {
	Ok        bool   `json:"ok"`
	SessionID string `json:"session_id"`
	// LocalID identifies the continuous replication document, when continuous.
	LocalID string `json:"_local_id"`

	History []ReplicationHistory `json:"history"`
}

// ReplicationHistory is one entry of the one-shot replication log.
type ReplicationHistory struct {
	DocsRead         int64 `json:"docs_read"`
	DocsWritten      int64 `json:"docs_written"`
	DocWriteFailures int64 `json:"doc_write_failures"`
	MissingChecked   int64 `json:"missing_checked"`
	MissingFound     int64 `json:"missing_found"`
}

// DocsWritten returns the document count of the most recent history entry.
func (r *ReplicateResult) DocsWritten() int64 {
	if len(r.History) == 0 {
		return 0
	}

	return r.History[0].DocsWritten
}

type replicatePayload struct {
	Source       string `json:"source"`
	Target       string `json:"target"`
	CreateTarget bool   `json:"create_target"`
	Continuous   bool   `json:"continuous,omitempty"`
}

// Replicate issues POST /_replicate on this client's cluster.
//
// For a one-shot request the call blocks until the remote reports the
// replication finished; for a continuous request it returns as soon as the
// replication document is accepted.
func (c *Client) Replicate(ctx context.Context, req *ReplicateRequest) (*ReplicateResult, error) {
	payload := replicatePayload{
		Source:       req.Source.DatabaseURL(req.Database),
		Target:       req.Target.DatabaseURL(req.Database),
		CreateTarget: true,
		Continuous:   req.Continuous,
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "encode payload")
	}

	reqURL := c.endpoint.u.String() + "/_replicate"

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}

	httpReq.Header.Set("Content-Type", "application/json")

	log.Ctx(ctx).Tracef("POST %s/_replicate %s", c.endpoint, redactPayload(req))

	hc := c.waiting
	if req.Continuous {
		hc = c.bounded
	}

	res, err := hc.Do(httpReq)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer res.Body.Close() //nolint:errcheck

	if res.StatusCode < 200 || res.StatusCode > 299 {
		body := readErrorBody(res.Body)
		log.Ctx(ctx).Tracef("HTTP %d %s", res.StatusCode, body)

		return nil, classifyStatus(res.StatusCode, req.Database, body)
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, classifyTransportError(err)
	}

	log.Ctx(ctx).Tracef("HTTP %d %s", res.StatusCode, string(body))

	var result ReplicateResult

	err = json.Unmarshal(body, &result)
	if err != nil {
		return nil, errors.Wrap(err, "decode _replicate response")
	}

	if !result.Ok {
		return nil, &RemoteError{Status: res.StatusCode, Body: string(body)}
	}

	return &result, nil
}

// readErrorBody captures a bounded amount of an error response for diagnostics.
func readErrorBody(r io.Reader) string {
	body, err := io.ReadAll(io.LimitReader(r, maxErrorBodySize))
	if err != nil {
		return ""
	}

	return string(body)
}

// redactPayload renders a request for trace logging without credentials.
func redactPayload(req *ReplicateRequest) string {
	return `{"source":"` + req.Source.String() + "/" + EscapeDatabase(req.Database) +
		`","target":"` + req.Target.String() + "/" + EscapeDatabase(req.Database) +
		`","continuous":` + boolString(req.Continuous) + `}`
}

func boolString(b bool) string {
	if b {
		return "true"
	}

	return "false"
}
