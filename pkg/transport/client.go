package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"

	"github.com/srediag/plugin-chrdev/pkg/chrdev"
	"github.com/srediag/plugin-chrdev/pkg/globalmem"
)

// StatusError is a non-2xx reply from the HTTP surface. It unwraps to the
// sentinel error the status code was mapped from, when there is one.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%d %s: %s", e.Code, http.StatusText(e.Code), e.Message)
}

func (e *StatusError) Unwrap() error {
	switch e.Code {
	case http.StatusRequestedRangeNotSatisfiable:
		return globalmem.ErrInvalidOffset
	case http.StatusConflict:
		return globalmem.ErrInvalidState
	case http.StatusNotFound:
		return chrdev.ErrNoSuchDevice
	case http.StatusInternalServerError:
		return globalmem.ErrIOTransfer
	}
	return nil
}

func (e *StatusError) temporary() bool {
	return e.Code == http.StatusServiceUnavailable || e.Code == http.StatusGatewayTimeout
}

// Client talks to the HTTP surface of a running daemon. Connection failures
// and 503/504 replies are retried with exponential backoff.
type Client struct {
	base       *url.URL
	hc         *http.Client
	maxElapsed time.Duration
}

// NewClient returns a Client for the daemon at baseURL. A nil hc uses
// http.DefaultClient. maxElapsed bounds the retries of one call; zero
// disables them.
func NewClient(baseURL string, hc *http.Client, maxElapsed time.Duration) (*Client, error) {
	u, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return nil, errors.Wrapf(err, "parse server url %q", baseURL)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, errors.Errorf("server url %q must be absolute", baseURL)
	}
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{base: u, hc: hc, maxElapsed: maxElapsed}, nil
}

// Read reads up to length bytes at offset from node.
func (c *Client) Read(ctx context.Context, node string, offset, length uint64) ([]byte, error) {
	q := url.Values{}
	q.Set("offset", strconv.FormatUint(offset, 10))
	q.Set("length", strconv.FormatUint(length, 10))
	return c.call(ctx, http.MethodGet, "/dev/"+url.PathEscape(node), q, nil)
}

// Write writes data at offset to node.
func (c *Client) Write(ctx context.Context, node string, offset uint64, data []byte) (WriteResult, error) {
	q := url.Values{}
	q.Set("offset", strconv.FormatUint(offset, 10))
	var result WriteResult
	body, err := c.call(ctx, http.MethodPut, "/dev/"+url.PathEscape(node), q, data)
	if err != nil {
		return result, err
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return result, errors.Wrap(err, "decode write result")
	}
	return result, nil
}

// Devices lists the registered device nodes.
func (c *Client) Devices(ctx context.Context) ([]DeviceInfo, error) {
	body, err := c.call(ctx, http.MethodGet, "/devices", nil, nil)
	if err != nil {
		return nil, err
	}
	var list []DeviceInfo
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, errors.Wrap(err, "decode device list")
	}
	return list, nil
}

func (c *Client) call(ctx context.Context, method, path string, query url.Values, payload []byte) ([]byte, error) {
	u := *c.base
	u.Path += path
	u.RawQuery = query.Encode()

	var body []byte
	op := func() error {
		var rd io.Reader
		if payload != nil {
			rd = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, u.String(), rd)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := c.hc.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		defer resp.Body.Close()
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if resp.StatusCode >= http.StatusBadRequest {
			serr := &StatusError{Code: resp.StatusCode, Message: strings.TrimSpace(string(data))}
			if serr.temporary() {
				return serr
			}
			return backoff.Permanent(serr)
		}
		body = data
		return nil
	}

	var b backoff.BackOff = &backoff.StopBackOff{}
	if c.maxElapsed > 0 {
		eb := backoff.NewExponentialBackOff()
		eb.InitialInterval = 50 * time.Millisecond
		eb.MaxElapsedTime = c.maxElapsed
		b = eb
	}
	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		return nil, errors.WithMessagef(err, "%s %s", method, path)
	}
	return body, nil
}
