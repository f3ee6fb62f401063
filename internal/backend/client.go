package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/aquamarinepk/aqm"
)

// AuthStyle selects how the session token is presented to the backend. The
// backend is migrating between two authorization conventions, so requests may
// need to be replayed under a different presentation of the same token.
type AuthStyle int

const (
	// AuthNone sends no session identity.
	AuthNone AuthStyle = iota
	// AuthNative uses the session scheme the backend issued the token under.
	AuthNative
	// AuthBearer presents the same token as a bearer credential.
	AuthBearer
	// AuthRawHeader sends only the raw token header, no Authorization line.
	AuthRawHeader
)

// AuthLadder returns the auth presentations to try, in order, when a request
// is rejected as unauthorized. The token and payload stay identical across
// rungs; only the headers change.
func AuthLadder() []AuthStyle {
	return []AuthStyle{AuthNative, AuthBearer, AuthRawHeader}
}

const (
	headerSessionToken   = "X-Session-Token"
	headerIdempotencyKey = "Idempotency-Key"
)

// Request describes one call against the backend.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Body   any

	// Token is the session token; Style controls its presentation.
	Token string
	Style AuthStyle

	// AdminToken carries the staff credential for admin-scoped routes.
	AdminToken string

	// IdempotencyKey, when set, lets the backend collapse retried
	// submissions of the same logical request.
	IdempotencyKey string
}

// Response is the backend's standard envelope.
type Response struct {
	Status  int             `json:"-"`
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

// DecodeData copies the response payload into dest.
func DecodeData(resp *Response, dest any) error {
	if resp == nil {
		return errors.New("nil response")
	}
	if len(resp.Data) == 0 {
		return errors.New("response carries no data")
	}
	return json.Unmarshal(resp.Data, dest)
}

// Client is the HTTP boundary to the booth backend.
type Client struct {
	baseURL string
	hc      *http.Client
	logger  aqm.Logger
}

func NewClient(baseURL string, logger aqm.Logger) *Client {
	if logger == nil {
		logger = aqm.NewNoopLogger()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		hc:      &http.Client{},
		logger:  logger,
	}
}

// Do executes the request. On a non-2xx response it returns both the decoded
// envelope and a classified *Error; on a network failure the response is nil
// and the error has CodeTransport.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	var body io.Reader
	if req.Body != nil {
		raw, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	target := c.baseURL + req.Path
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Accept", "application/json")
	c.applyAuth(httpReq, req)

	if req.IdempotencyKey != "" {
		httpReq.Header.Set(headerIdempotencyKey, req.IdempotencyKey)
	}

	httpResp, err := c.hc.Do(httpReq)
	if err != nil {
		c.logger.Debug("backend request failed", "method", req.Method, "path", req.Path, "error", err)
		return nil, TransportError(err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, TransportError(err)
	}

	resp := &Response{Status: httpResp.StatusCode}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, resp); err != nil {
			// Not every error path returns the envelope; keep the raw
			// text so classification can still see the message.
			resp.Message = strings.TrimSpace(string(raw))
		}
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		be := Classify(httpResp.StatusCode, resp.Message)
		c.logger.Debug("backend rejected request",
			"method", req.Method,
			"path", req.Path,
			"status", httpResp.StatusCode,
			"code", string(be.Code),
		)
		return resp, be
	}

	return resp, nil
}

// applyAuth sets the identity headers. The raw token header travels with
// every authenticated style; only the Authorization line varies. The backend
// is migrating between conventions and accepts either, so the redundancy is
// kept until it settles.
func (c *Client) applyAuth(httpReq *http.Request, req Request) {
	if req.AdminToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.AdminToken)
		return
	}

	if req.Token == "" {
		return
	}

	switch req.Style {
	case AuthNative:
		httpReq.Header.Set("Authorization", "Session "+req.Token)
		httpReq.Header.Set(headerSessionToken, req.Token)
	case AuthBearer:
		httpReq.Header.Set("Authorization", "Bearer "+req.Token)
		httpReq.Header.Set(headerSessionToken, req.Token)
	case AuthRawHeader:
		httpReq.Header.Set(headerSessionToken, req.Token)
	}
}
