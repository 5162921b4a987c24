package provider

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// requestTimeout bounds control-plane API requests.
	requestTimeout = 60 * time.Second
	// uploadTimeout bounds app build uploads and video downloads.
	uploadTimeout = 10 * time.Minute
	// retryInterval is the wait between retried API requests.
	retryInterval = 500 * time.Millisecond
	// maxRetries specifies max attempts per API request.
	maxRetries = 3

	idempotencyKeyHeader = "Appwright-Idempotency-Key"
)

// apiClient talks to a cloud provider's REST API with basic auth,
// bounded retries and idempotency keys on mutating requests.
type apiClient struct {
	client    *http.Client
	uploads   *http.Client
	username  string
	accessKey string
	logger    logrus.FieldLogger

	retries       int
	retryInterval time.Duration
}

func newAPIClient(username, accessKey string, logger logrus.FieldLogger) *apiClient {
	return &apiClient{
		client:        &http.Client{Timeout: requestTimeout},
		uploads:       &http.Client{Timeout: uploadTimeout},
		username:      username,
		accessKey:     accessKey,
		logger:        logger,
		retries:       maxRetries,
		retryInterval: retryInterval,
	}
}

// NewRequest creates a new HTTP request. A non-nil data is serialized as
// the JSON body.
func (c *apiClient) NewRequest(method, url string, data interface{}) (*http.Request, error) {
	var buf io.Reader
	if data != nil {
		b, err := json.Marshal(&data)
		if err != nil {
			return nil, err
		}
		buf = bytes.NewBuffer(b)
	}
	return http.NewRequest(method, url, buf)
}

// Do executes a request and decodes the JSON response into v. Responses
// with 5xx or 429 status are retried, as are transport errors.
func (c *apiClient) Do(req *http.Request, v interface{}) error {
	return c.doRetrying(c.client, req, v)
}

// DoUpload is Do with the long transfer timeout.
func (c *apiClient) DoUpload(req *http.Request, v interface{}) error {
	return c.doRetrying(c.uploads, req, v)
}

func (c *apiClient) doRetrying(client *http.Client, req *http.Request, v interface{}) error {
	if req.Body != nil && req.GetBody == nil {
		originalBody, err := io.ReadAll(req.Body)
		if err != nil {
			return err
		}
		if err = req.Body.Close(); err != nil {
			return err
		}
		req.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(originalBody)), nil
		}
		req.Body, _ = req.GetBody()
	}

	c.prepareHeaders(req)

	for i := 1; i <= c.retries; i++ {
		retry, err := c.do(client, req, v, i)
		if retry {
			time.Sleep(c.retryInterval)
			if req.GetBody != nil {
				req.Body, _ = req.GetBody()
			}
			continue
		}
		return err
	}
	return nil
}

func (c *apiClient) prepareHeaders(req *http.Request) {
	if req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.username != "" {
		req.SetBasicAuth(c.username, c.accessKey)
	}
	if shouldAddIdempotencyKey(req) {
		req.Header.Set(idempotencyKeyHeader, randomStrHex())
	}
	req.Header.Set("User-Agent", "appwright")
}

func (c *apiClient) do(client *http.Client, req *http.Request, v interface{}, attempt int) (retry bool, err error) {
	resp, err := client.Do(req)

	defer func() {
		if resp != nil {
			if cerr := resp.Body.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}
	}()

	if shouldRetry(resp, err, attempt, c.retries) {
		c.logger.WithError(err).WithField("attempt", attempt).Debug("provider API request retried")
		return true, err
	}
	if err != nil {
		return false, err
	}
	if err = checkResponse(resp); err != nil {
		return false, err
	}

	if v != nil {
		if err = json.NewDecoder(resp.Body).Decode(v); err == io.EOF {
			err = nil // Ignore EOF from empty body
		}
	}
	return false, err
}

// ErrorResponse is an error payload returned by a provider API.
type ErrorResponse struct {
	Response *http.Response `json:"-"`

	Message string   `json:"message"`
	Errors  []string `json:"errors"`
}

func (e ErrorResponse) Error() string {
	msg := e.Message
	for _, v := range e.Errors {
		if v != msg {
			msg += "\n " + v
		}
	}
	if e.Response != nil {
		msg = fmt.Sprintf("(%d) %s", e.Response.StatusCode, msg)
	}
	return msg
}

func checkResponse(r *http.Response) error {
	if r == nil {
		return fmt.Errorf("no response from provider API")
	}
	if c := r.StatusCode; c >= 200 && c <= 299 {
		return nil
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		return err
	}

	var payload ErrorResponse
	if err := json.Unmarshal(data, &payload); err != nil || payload.Message == "" {
		return fmt.Errorf("unexpected HTTP error from %s: %d %s",
			r.Request.URL, r.StatusCode, http.StatusText(r.StatusCode))
	}
	payload.Response = r
	return payload
}

func shouldRetry(resp *http.Response, err error, attempt, maxAttempts int) bool {
	if attempt >= maxAttempts {
		return false
	}
	if resp == nil || err != nil {
		return true
	}
	if resp.StatusCode >= 500 || resp.StatusCode == 429 {
		return true
	}
	return false
}

func shouldAddIdempotencyKey(req *http.Request) bool {
	switch req.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return false
	default:
		return req.Header.Get(idempotencyKeyHeader) == ""
	}
}

// randomStrHex returns 16 hex characters for idempotency keys.
func randomStrHex() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// uploadForm builds a multipart request that streams a local file under
// fieldName plus any extra fields.
func uploadForm(url, fieldName, path string, fields map[string]string) (*http.Request, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return nil, err
		}
	}
	fw, err := mw.CreateFormFile(fieldName, filepath.Base(path))
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(fw, file); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequest(http.MethodPost, url, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req, nil
}

// isUploadRef reports whether path already is a provider-side app
// reference such as bs://… or lt://… rather than a local file.
func isUploadRef(path, scheme string) bool {
	return strings.HasPrefix(path, scheme+"://")
}
