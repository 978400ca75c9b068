package vk

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
	"time"

	"vkharvest/pkg/config"
	vkerrors "vkharvest/pkg/errors"
	"vkharvest/pkg/logger"
	"vkharvest/pkg/models"
	"vkharvest/pkg/ratelimit"
)

// Client calls the VK API. It holds no crawl state.
type Client struct {
	httpClient *http.Client
	headers    map[string]string
	baseURL    string
	token      string
	version    string
	limiter    ratelimit.Limiter
	logger     logger.Logger
}

// NewClient creates a client for the configured API endpoint. limiter may
// be nil to disable request capping.
func NewClient(cfg *config.VKConfig, limiter ratelimit.Limiter, log logger.Logger) *Client {
	if log == nil {
		log = logger.GetLogger()
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = BaseURL
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	headers := map[string]string{
		"Accept": "application/json",
	}
	if cfg.UserAgent != "" {
		headers["User-Agent"] = cfg.UserAgent
	}

	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		headers:    headers,
		baseURL:    baseURL,
		token:      cfg.AccessToken,
		version:    cfg.APIVersion,
		limiter:    limiter,
		logger:     log.WithField("component", "vk"),
	}
}

// FetchProfiles requests profile information for ids
func (c *Client) FetchProfiles(ctx context.Context, ids []string, challenge *models.Challenge) Result[[]User] {
	var res Result[[]User]

	if len(ids) == 0 || len(ids) > MaxProfileIDs {
		res.Outcome = OutcomeInvalidRequest
		res.Err = vkerrors.New(vkerrors.ErrorTypeInvalidRequest,
			fmt.Sprintf("profile request needs 1 to %d ids, got %d", MaxProfileIDs, len(ids)))
		return res
	}

	payload, outcome, apiErr, err := c.call(ctx, MethodUsersGet, ProfileParams(ids), challenge)
	res.Outcome, res.APIError, res.Err = outcome, apiErr, err
	if outcome != OutcomeSuccess {
		return res
	}

	if err := json.Unmarshal(payload, &res.Value); err != nil {
		res.Outcome = OutcomeMalformed
		res.Err = vkerrors.Wrap(vkerrors.ErrorTypeMalformed, err, "users.get response is not a profile list")
		return res
	}

	return res
}

// FetchPosts requests one page of posts from sourceID's wall starting at offset
func (c *Client) FetchPosts(ctx context.Context, sourceID string, offset, pageSize int, challenge *models.Challenge) Result[WallPage] {
	var res Result[WallPage]

	if sourceID == "" || offset < 0 {
		res.Outcome = OutcomeInvalidRequest
		res.Err = vkerrors.New(vkerrors.ErrorTypeInvalidRequest,
			fmt.Sprintf("invalid wall request source=%q offset=%d", sourceID, offset))
		return res
	}

	payload, outcome, apiErr, err := c.call(ctx, MethodWallGet, WallParams(sourceID, offset, pageSize), challenge)
	res.Outcome, res.APIError, res.Err = outcome, apiErr, err
	if outcome != OutcomeSuccess {
		return res
	}

	var wall wallPayload
	if err := json.Unmarshal(payload, &wall); err != nil {
		res.Outcome = OutcomeMalformed
		res.Err = vkerrors.Wrap(vkerrors.ErrorTypeMalformed, err, "wall.get response is not an object")
		return res
	}
	if isNull(wall.Items) {
		res.Outcome = OutcomeMalformed
		res.Err = vkerrors.New(vkerrors.ErrorTypeMalformed, "wall.get response has no items")
		return res
	}

	res.Value.Count = wall.Count
	if err := json.Unmarshal(wall.Items, &res.Value.Items); err != nil {
		res.Outcome = OutcomeMalformed
		res.Err = vkerrors.Wrap(vkerrors.ErrorTypeMalformed, err, "wall.get items are not posts")
		return res
	}

	return res
}

// call performs one GET and classifies the answer. On success the raw
// response payload is returned.
func (c *Client) call(ctx context.Context, method string, params url.Values, challenge *models.Challenge) (json.RawMessage, Outcome, *APIError, error) {
	params.Set("access_token", c.token)
	params.Set("v", c.version)
	if challenge.Answered() {
		params.Set("captcha_sid", challenge.SID)
		params.Set("captcha_key", challenge.Solution)
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, OutcomeTransportFailure, nil, vkerrors.Wrap(vkerrors.ErrorTypeTransport, err, "request cap")
		}
	}

	reqURL := c.baseURL + "/" + method + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, OutcomeInvalidRequest, nil, vkerrors.Wrap(vkerrors.ErrorTypeInvalidRequest, err, "build request")
	}

	body, status, err := c.doRequest(req, method)
	if err != nil {
		return nil, OutcomeTransportFailure, nil, err
	}

	if status < 200 || status > 299 {
		c.logger.WarnWithFields("unexpected HTTP status", map[string]interface{}{
			"method": method,
			"status": status,
		})
		return nil, OutcomeTransportFailure, nil, &vkerrors.Error{
			Type:    vkerrors.ErrorTypeTransport,
			Message: fmt.Sprintf("unexpected status code: %d", status),
			Code:    status,
		}
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		c.logger.ErrorWithFields("failed to parse JSON response", map[string]interface{}{
			"method":       method,
			"status":       status,
			"error":        err.Error(),
			"body_preview": preview(body),
		})
		return nil, OutcomeTransportFailure, nil, vkerrors.Wrap(vkerrors.ErrorTypeTransport, err, "response is not JSON")
	}

	if env.Error != nil {
		c.logger.DebugWithFields("API returned an error", map[string]interface{}{
			"method":     method,
			"error_code": env.Error.Code,
			"error_msg":  env.Error.Message,
		})
		return nil, OutcomeAPIError, env.Error, env.Error
	}

	if isNull(env.Response) {
		return nil, OutcomeMalformed, nil, vkerrors.New(vkerrors.ErrorTypeMalformed, method+" response has no payload")
	}

	return env.Response, OutcomeSuccess, nil, nil
}

// doRequest sends req with the configured headers and reads the body
func (c *Client) doRequest(req *http.Request, method string) ([]byte, int, error) {
	for key, value := range c.headers {
		req.Header.Set(key, value)
	}

	start := time.Now()
	c.logger.DebugWithFields("sending HTTP request", map[string]interface{}{
		"method": method,
		"url":    redactURL(req.URL),
	})

	resp, err := c.httpClient.Do(req)
	duration := time.Since(start)
	if err != nil {
		c.logger.WarnWithFields("HTTP request failed", map[string]interface{}{
			"method":   method,
			"error":    redactError(err, c.token),
			"duration": duration,
		})
		return nil, 0, &vkerrors.Error{
			Type:    vkerrors.ErrorTypeTransport,
			Message: "request failed",
			Err:     errors.New(redactError(err, c.token)),
		}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, &vkerrors.Error{
			Type:    vkerrors.ErrorTypeTransport,
			Message: "failed to read response body",
			Code:    resp.StatusCode,
			Err:     err,
		}
	}

	c.logger.DebugWithFields("HTTP request completed", map[string]interface{}{
		"method":   method,
		"status":   resp.StatusCode,
		"bytes":    len(body),
		"duration": duration,
	})

	return body, resp.StatusCode, nil
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func preview(body []byte) string {
	s := string(body)
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}

// redactURL hides the access token
func redactURL(u *url.URL) string {
	cp := *u
	q := cp.Query()
	if q.Has("access_token") {
		q.Set("access_token", "***")
	}
	cp.RawQuery = q.Encode()
	return cp.String()
}

// redactError removes the token from errors that embed the request URL
func redactError(err error, token string) string {
	msg := err.Error()
	if token != "" {
		msg = strings.ReplaceAll(msg, token, "***")
		msg = strings.ReplaceAll(msg, url.QueryEscape(token), "***")
	}
	return msg
}
