package vk

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"vkharvest/pkg/config"
	vkerrors "vkharvest/pkg/errors"
	"vkharvest/pkg/logger"
	"vkharvest/pkg/models"
	"vkharvest/pkg/ratelimit"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testToken = "secret-token-123"

// mockRoundTripper allows us to intercept HTTP requests
type mockRoundTripper struct {
	handler func(req *http.Request) (*http.Response, error)
}

func (m *mockRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	return m.handler(req)
}

func testConfig(baseURL string) *config.VKConfig {
	return &config.VKConfig{
		AccessToken: testToken,
		APIVersion:  "5.131",
		BaseURL:     baseURL,
		Timeout:     5 * time.Second,
		UserAgent:   "vkharvest-test",
	}
}

// newTestServer starts a fake API answering every call with body
func newTestServer(t *testing.T, status int, body string, inspect func(r *http.Request)) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if inspect != nil {
			inspect(r)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestNewClient(t *testing.T) {
	log := logger.NewTestLogger()

	t.Run("uses configured values", func(t *testing.T) {
		client := NewClient(testConfig("https://example.test/method/"), nil, log)

		require.NotNil(t, client)
		assert.Equal(t, "https://example.test/method", client.baseURL)
		assert.Equal(t, 5*time.Second, client.httpClient.Timeout)
		assert.Equal(t, "vkharvest-test", client.headers["User-Agent"])
	})

	t.Run("falls back to defaults", func(t *testing.T) {
		client := NewClient(&config.VKConfig{AccessToken: testToken}, nil, log)

		assert.Equal(t, BaseURL, client.baseURL)
		assert.Equal(t, 30*time.Second, client.httpClient.Timeout)
	})
}

func TestFetchPosts_Success(t *testing.T) {
	var got *http.Request
	server := newTestServer(t, http.StatusOK, `{"response":{"count":3,"items":[
		{"id":10,"owner_id":-1,"from_id":-1,"date":1700000000,"text":"hello","comments":{"count":4}},
		{"id":11,"owner_id":-1,"from_id":5,"date":1700000100,"text":"","copy_history":[{"id":1,"owner_id":2,"text":"original"}]}
	]}}`, func(r *http.Request) { got = r })

	client := NewClient(testConfig(server.URL), nil, logger.NewTestLogger())
	res := client.FetchPosts(context.Background(), "durov", 200, 100, nil)

	require.True(t, res.OK(), "unexpected outcome %s: %v", res.Outcome, res.Err)
	assert.Equal(t, 3, res.Value.Count)
	require.Len(t, res.Value.Items, 2)
	assert.Equal(t, int64(10), res.Value.Items[0].ID)
	assert.Equal(t, 4, res.Value.Items[0].CommentCount())
	assert.Equal(t, 0, res.Value.Items[1].CommentCount())
	require.Len(t, res.Value.Items[1].CopyHistory, 1)
	assert.Equal(t, "original", res.Value.Items[1].CopyHistory[0].Text)

	require.NotNil(t, got)
	assert.Equal(t, "/"+MethodWallGet, got.URL.Path)
	q := got.URL.Query()
	assert.Equal(t, "durov", q.Get("domain"))
	assert.Equal(t, "200", q.Get("offset"))
	assert.Equal(t, "100", q.Get("count"))
	assert.Equal(t, testToken, q.Get("access_token"))
	assert.Equal(t, "5.131", q.Get("v"))
	assert.False(t, q.Has("captcha_sid"))
	assert.Equal(t, "vkharvest-test", got.Header.Get("User-Agent"))
}

func TestFetchPosts_Outcomes(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		want    Outcome
		wantErr vkerrors.ErrorType
	}{
		{
			name:   "empty items is success",
			status: http.StatusOK,
			body:   `{"response":{"count":0,"items":[]}}`,
			want:   OutcomeSuccess,
		},
		{
			name:    "missing items is malformed",
			status:  http.StatusOK,
			body:    `{"response":{"count":5}}`,
			want:    OutcomeMalformed,
			wantErr: vkerrors.ErrorTypeMalformed,
		},
		{
			name:    "null items is malformed",
			status:  http.StatusOK,
			body:    `{"response":{"count":5,"items":null}}`,
			want:    OutcomeMalformed,
			wantErr: vkerrors.ErrorTypeMalformed,
		},
		{
			name:    "missing response is malformed",
			status:  http.StatusOK,
			body:    `{"foo":"bar"}`,
			want:    OutcomeMalformed,
			wantErr: vkerrors.ErrorTypeMalformed,
		},
		{
			name:    "items of wrong type is malformed",
			status:  http.StatusOK,
			body:    `{"response":{"count":1,"items":"nope"}}`,
			want:    OutcomeMalformed,
			wantErr: vkerrors.ErrorTypeMalformed,
		},
		{
			name:    "invalid JSON is a transport failure",
			status:  http.StatusOK,
			body:    `<html>bad gateway</html>`,
			want:    OutcomeTransportFailure,
			wantErr: vkerrors.ErrorTypeTransport,
		},
		{
			name:    "server error is a transport failure",
			status:  http.StatusBadGateway,
			body:    `{"response":{"count":0,"items":[]}}`,
			want:    OutcomeTransportFailure,
			wantErr: vkerrors.ErrorTypeTransport,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := newTestServer(t, tt.status, tt.body, nil)
			client := NewClient(testConfig(server.URL), nil, logger.NewTestLogger())

			res := client.FetchPosts(context.Background(), "durov", 0, 100, nil)

			assert.Equal(t, tt.want, res.Outcome)
			if tt.want == OutcomeSuccess {
				assert.NoError(t, res.Err)
				assert.Empty(t, res.Value.Items)
				return
			}
			require.Error(t, res.Err)
			assert.True(t, vkerrors.IsType(res.Err, tt.wantErr), "error type: %v", res.Err)
		})
	}
}

func TestFetchPosts_APIError(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		code    int
		sid     string
		captcha string
	}{
		{
			name: "rate limit",
			body: `{"error":{"error_code":29,"error_msg":"Rate limit reached"}}`,
			code: 29,
		},
		{
			name:    "captcha with numeric sid",
			body:    `{"error":{"error_code":14,"error_msg":"Captcha needed","captcha_sid":"123456","captcha_img":"https://api.vk.com/captcha.php?sid=123456"}}`,
			code:    14,
			sid:     "123456",
			captcha: "https://api.vk.com/captcha.php?sid=123456",
		},
		{
			name:    "captcha with number sid",
			body:    `{"error":{"error_code":14,"error_msg":"Captcha needed","captcha_sid":987,"captcha_img":"img"}}`,
			code:    14,
			sid:     "987",
			captcha: "img",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := newTestServer(t, http.StatusOK, tt.body, nil)
			client := NewClient(testConfig(server.URL), nil, logger.NewTestLogger())

			res := client.FetchPosts(context.Background(), "durov", 0, 100, nil)

			assert.Equal(t, OutcomeAPIError, res.Outcome)
			require.NotNil(t, res.APIError)
			assert.Equal(t, tt.code, res.APIError.Code)
			assert.Equal(t, tt.sid, string(res.APIError.CaptchaSID))
			assert.Equal(t, tt.captcha, res.APIError.CaptchaImg)
			assert.Contains(t, res.Err.Error(), "vk api error")
		})
	}
}

func TestFetchPosts_ChallengeParams(t *testing.T) {
	var query atomic.Value
	server := newTestServer(t, http.StatusOK, `{"response":{"count":0,"items":[]}}`, func(r *http.Request) {
		query.Store(r.URL.Query())
	})
	client := NewClient(testConfig(server.URL), nil, logger.NewTestLogger())

	t.Run("answered challenge is attached", func(t *testing.T) {
		ch := &models.Challenge{SID: "42", ImageURL: "img", Solution: "abcd"}
		res := client.FetchPosts(context.Background(), "-1", 0, 100, ch)
		require.True(t, res.OK())

		q := query.Load().(url.Values)
		assert.Equal(t, []string{"42"}, q["captcha_sid"])
		assert.Equal(t, []string{"abcd"}, q["captcha_key"])
		assert.Equal(t, []string{"-1"}, q["owner_id"])
	})

	t.Run("unanswered challenge is not attached", func(t *testing.T) {
		ch := &models.Challenge{SID: "42", ImageURL: "img"}
		res := client.FetchPosts(context.Background(), "durov", 0, 100, ch)
		require.True(t, res.OK())

		q := query.Load().(url.Values)
		assert.NotContains(t, q, "captcha_sid")
		assert.NotContains(t, q, "captcha_key")
	})
}

func TestFetchPosts_InvalidRequest(t *testing.T) {
	var calls int32
	server := newTestServer(t, http.StatusOK, `{"response":{"count":0,"items":[]}}`, func(r *http.Request) {
		atomic.AddInt32(&calls, 1)
	})
	client := NewClient(testConfig(server.URL), nil, logger.NewTestLogger())

	res := client.FetchPosts(context.Background(), "", 0, 100, nil)
	assert.Equal(t, OutcomeInvalidRequest, res.Outcome)
	assert.True(t, vkerrors.IsType(res.Err, vkerrors.ErrorTypeInvalidRequest))

	res = client.FetchPosts(context.Background(), "durov", -1, 100, nil)
	assert.Equal(t, OutcomeInvalidRequest, res.Outcome)

	assert.Equal(t, int32(0), atomic.LoadInt32(&calls), "invalid requests must not reach the network")
}

func TestFetchProfiles(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		var got *http.Request
		server := newTestServer(t, http.StatusOK, `{"response":[
			{"id":1,"domain":"durov","first_name":"Pavel","last_name":"Durov","status":"","about":"founder"},
			{"id":2,"domain":"team","first_name":"Team","last_name":"VK"}
		]}`, func(r *http.Request) { got = r })
		client := NewClient(testConfig(server.URL), nil, logger.NewTestLogger())

		res := client.FetchProfiles(context.Background(), []string{"durov", "team"}, nil)

		require.True(t, res.OK(), "unexpected outcome %s: %v", res.Outcome, res.Err)
		require.Len(t, res.Value, 2)
		assert.Equal(t, "durov", res.Value[0].Domain)
		assert.Equal(t, "founder", res.Value[0].About)
		assert.Equal(t, "", res.Value[1].About)

		require.NotNil(t, got)
		assert.Equal(t, "/"+MethodUsersGet, got.URL.Path)
		assert.Equal(t, "durov,team", got.URL.Query().Get("user_ids"))
		assert.Equal(t, ProfileFields, got.URL.Query().Get("fields"))
	})

	t.Run("object instead of list is malformed", func(t *testing.T) {
		server := newTestServer(t, http.StatusOK, `{"response":{"id":1}}`, nil)
		client := NewClient(testConfig(server.URL), nil, logger.NewTestLogger())

		res := client.FetchProfiles(context.Background(), []string{"durov"}, nil)
		assert.Equal(t, OutcomeMalformed, res.Outcome)
	})

	t.Run("id list bounds", func(t *testing.T) {
		client := NewClient(testConfig("http://127.0.0.1:1"), nil, logger.NewTestLogger())

		res := client.FetchProfiles(context.Background(), nil, nil)
		assert.Equal(t, OutcomeInvalidRequest, res.Outcome)

		ids := make([]string, MaxProfileIDs+1)
		for i := range ids {
			ids[i] = "id"
		}
		res = client.FetchProfiles(context.Background(), ids, nil)
		assert.Equal(t, OutcomeInvalidRequest, res.Outcome)
	})
}

func TestClient_TransportErrorRedactsToken(t *testing.T) {
	log := logger.NewTestLogger()
	client := NewClient(testConfig("https://api.example.test/method"), nil, log)
	client.httpClient = &http.Client{
		Transport: &mockRoundTripper{handler: func(req *http.Request) (*http.Response, error) {
			return nil, errors.New("dial failed for " + req.URL.String())
		}},
	}

	res := client.FetchPosts(context.Background(), "durov", 0, 100, nil)

	assert.Equal(t, OutcomeTransportFailure, res.Outcome)
	require.Error(t, res.Err)
	assert.NotContains(t, res.Err.Error(), testToken)
	assert.NotContains(t, log.String(), testToken)
	assert.True(t, log.HasMessage("HTTP request failed"))
}

func TestClient_DebugLogRedactsToken(t *testing.T) {
	var buf bytes.Buffer
	log, err := logger.NewWithWriter(&config.LoggingConfig{Level: "debug"}, &buf)
	require.NoError(t, err)

	server := newTestServer(t, http.StatusOK, `{"response":{"count":0,"items":[]}}`, nil)
	client := NewClient(testConfig(server.URL), nil, log)

	res := client.FetchPosts(context.Background(), "durov", 0, 100, nil)
	require.True(t, res.OK())

	out := buf.String()
	assert.Contains(t, out, "sending HTTP request")
	assert.NotContains(t, out, testToken)
}

func TestClient_LimiterHonoursContext(t *testing.T) {
	server := newTestServer(t, http.StatusOK, `{"response":{"count":0,"items":[]}}`, nil)
	client := NewClient(testConfig(server.URL), ratelimit.NewRequestLimiter(1, 1), logger.NewTestLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := client.FetchPosts(ctx, "durov", 0, 100, nil)
	assert.Equal(t, OutcomeTransportFailure, res.Outcome)
	assert.ErrorIs(t, res.Err, context.Canceled)
}

func TestClient_ReadBodyFailure(t *testing.T) {
	client := NewClient(testConfig("https://api.example.test/method"), nil, logger.NewTestLogger())
	client.httpClient = &http.Client{
		Transport: &mockRoundTripper{handler: func(req *http.Request) (*http.Response, error) {
			return &http.Response{
				StatusCode: http.StatusOK,
				Body:       io.NopCloser(&failingReader{}),
				Header:     make(http.Header),
			}, nil
		}},
	}

	res := client.FetchPosts(context.Background(), "durov", 0, 100, nil)
	assert.Equal(t, OutcomeTransportFailure, res.Outcome)
	assert.True(t, strings.Contains(res.Err.Error(), "failed to read response body"))
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("connection reset") }
