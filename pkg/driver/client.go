// Package driver speaks the W3C WebDriver wire protocol to an Appium
// compatible endpoint: a local Appium server or a cloud provider hub. It
// carries no session semantics of its own beyond create/delete; everything
// else is a thin call onto the remote end.
package driver

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bheemreddy-samsara/appwright/pkg/core"
)

// W3C WebDriver element identifier key (standard constant)
const w3cElementKey = "element-6066-11e4-a52e-4f735466cecf"

// Client handles HTTP communication with a WebDriver endpoint.
type Client struct {
	endpoint  string
	sessionID string
	client    *http.Client
	logger    logrus.FieldLogger
	platform  string // ios, android
	screenW   int
	screenH   int
}

// NewClient creates a client for the given WebDriver endpoint. Cloud hubs
// embed credentials in the endpoint URL.
func NewClient(endpoint string, logger logrus.FieldLogger) *Client {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Client{
		endpoint: strings.TrimSuffix(endpoint, "/"),
		client: &http.Client{
			Timeout: 5 * time.Minute, // Long timeout for install/screenshot
		},
		logger: logger.WithField("component", "driver"),
	}
}

// Connect creates a new session with the given capabilities.
func (c *Client) Connect(capabilities map[string]interface{}) error {
	body := map[string]interface{}{
		"capabilities": map[string]interface{}{
			"alwaysMatch": capabilities,
		},
	}

	resp, err := c.post("/session", body)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	value, ok := resp["value"].(map[string]interface{})
	if !ok {
		return fmt.Errorf("invalid session response")
	}

	c.sessionID, _ = value["sessionId"].(string)
	if c.sessionID == "" {
		return fmt.Errorf("no session ID in response")
	}

	// Extract platform from negotiated capabilities
	if caps, ok := value["capabilities"].(map[string]interface{}); ok {
		if platform, ok := caps["platformName"].(string); ok {
			c.platform = strings.ToLower(platform)
		}
	}

	c.fetchScreenSize()
	return nil
}

// Disconnect closes the session.
func (c *Client) Disconnect() error {
	if c.sessionID == "" {
		return nil
	}
	_, err := c.delete(c.sessionPath())
	c.sessionID = ""
	return err
}

// SessionID returns the active session ID, empty before Connect.
func (c *Client) SessionID() string {
	return c.sessionID
}

// Platform returns the platform (ios/android).
func (c *Client) Platform() string {
	return c.platform
}

// ScreenSize returns the screen dimensions.
func (c *Client) ScreenSize() (int, int) {
	return c.screenW, c.screenH
}

// Status queries the server's /status endpoint. It works without a session
// and reports whether the endpoint is reachable and answering.
func (c *Client) Status() (map[string]interface{}, error) {
	resp, err := c.get("/status")
	if err != nil {
		return nil, err
	}
	value, _ := resp["value"].(map[string]interface{})
	return value, nil
}

func (c *Client) fetchScreenSize() {
	resp, err := c.get(c.sessionPath() + "/window/rect")
	if err != nil {
		return
	}
	if value, ok := resp["value"].(map[string]interface{}); ok {
		if w, ok := value["width"].(float64); ok {
			c.screenW = int(w)
		}
		if h, ok := value["height"].(float64); ok {
			c.screenH = int(h)
		}
	}
}

// Element Operations

// FindElement finds a single element.
func (c *Client) FindElement(strategy, value string) (string, error) {
	body := map[string]interface{}{
		"using": strategy,
		"value": value,
	}

	resp, err := c.post(c.sessionPath()+"/element", body)
	if err != nil {
		return "", err
	}

	elemValue, ok := resp["value"].(map[string]interface{})
	if !ok {
		return "", core.ErrElementNotFound
	}

	id := extractElementID(elemValue)
	if id == "" {
		return "", core.ErrElementNotFound
	}
	return id, nil
}

// FindElements finds multiple elements.
func (c *Client) FindElements(strategy, value string) ([]string, error) {
	body := map[string]interface{}{
		"using": strategy,
		"value": value,
	}

	resp, err := c.post(c.sessionPath()+"/elements", body)
	if err != nil {
		return nil, err
	}

	values, ok := resp["value"].([]interface{})
	if !ok {
		return nil, nil
	}

	var ids []string
	for _, v := range values {
		if elem, ok := v.(map[string]interface{}); ok {
			if id := extractElementID(elem); id != "" {
				ids = append(ids, id)
			}
		}
	}
	return ids, nil
}

// ClickElement clicks an element using the WebDriver standard endpoint.
func (c *Client) ClickElement(elementID string) error {
	_, err := c.post(c.elementPath(elementID)+"/click", nil)
	return err
}

// ClearElement clears an element's text.
func (c *Client) ClearElement(elementID string) error {
	_, err := c.post(c.elementPath(elementID)+"/clear", nil)
	return err
}

// ElementText returns an element's text.
func (c *Client) ElementText(elementID string) (string, error) {
	resp, err := c.get(c.elementPath(elementID) + "/text")
	if err != nil {
		return "", err
	}
	text, _ := resp["value"].(string)
	return text, nil
}

// ElementDisplayed checks if an element is visible.
func (c *Client) ElementDisplayed(elementID string) (bool, error) {
	resp, err := c.get(c.elementPath(elementID) + "/displayed")
	if err != nil {
		return false, err
	}
	displayed, _ := resp["value"].(bool)
	return displayed, nil
}

// SendKeysToElement types text into an element.
func (c *Client) SendKeysToElement(elementID, text string) error {
	_, err := c.post(c.elementPath(elementID)+"/value", map[string]interface{}{
		"text": text,
	})
	return err
}

// Touch/Gesture Operations (W3C Actions)

func (c *Client) performTouchAction(actions []map[string]interface{}) error {
	payload := []map[string]interface{}{
		{
			"type":       "pointer",
			"id":         "finger1",
			"parameters": map[string]interface{}{"pointerType": "touch"},
			"actions":    actions,
		},
	}
	_, err := c.post(c.sessionPath()+"/actions", map[string]interface{}{"actions": payload})
	return err
}

// Tap performs a tap at coordinates using W3C touch actions.
func (c *Client) Tap(x, y int) error {
	return c.performTouchAction([]map[string]interface{}{
		{"type": "pointerMove", "duration": 0, "x": x, "y": y, "origin": "viewport"},
		{"type": "pointerDown", "button": 0},
		{"type": "pause", "duration": 50},
		{"type": "pointerUp", "button": 0},
	})
}

// TapElement performs a tap on an element using W3C touch actions with
// element origin.
func (c *Client) TapElement(elementID string) error {
	return c.performTouchAction([]map[string]interface{}{
		{
			"type":     "pointerMove",
			"duration": 0,
			"x":        0,
			"y":        0,
			"origin":   map[string]interface{}{w3cElementKey: elementID},
		},
		{"type": "pointerDown", "button": 0},
		{"type": "pause", "duration": 50},
		{"type": "pointerUp", "button": 0},
	})
}

// LongPress performs a long press at coordinates.
func (c *Client) LongPress(x, y, durationMs int) error {
	return c.performTouchAction([]map[string]interface{}{
		{"type": "pointerMove", "duration": 0, "x": x, "y": y},
		{"type": "pointerDown", "button": 0},
		{"type": "pause", "duration": durationMs},
		{"type": "pointerUp", "button": 0},
	})
}

// Swipe performs a swipe gesture.
func (c *Client) Swipe(startX, startY, endX, endY, durationMs int) error {
	return c.performTouchAction([]map[string]interface{}{
		{"type": "pointerMove", "duration": 0, "x": startX, "y": startY},
		{"type": "pointerDown", "button": 0},
		{"type": "pointerMove", "duration": durationMs, "x": endX, "y": endY},
		{"type": "pointerUp", "button": 0},
	})
}

// Keys and Navigation

// PressKeyCode presses a key by keycode (Android).
func (c *Client) PressKeyCode(keycode int) error {
	_, err := c.post(c.sessionPath()+"/appium/device/press_keycode", map[string]interface{}{
		"keycode": keycode,
	})
	return err
}

// HideKeyboard hides the on-screen keyboard.
func (c *Client) HideKeyboard() error {
	_, err := c.post(c.sessionPath()+"/appium/device/hide_keyboard", nil)
	return err
}

// App Management

// ActivateApp activates an app by package name or bundle ID.
func (c *Client) ActivateApp(appID string) error {
	body := make(map[string]interface{})
	if c.platform == "ios" {
		body["bundleId"] = appID
	} else {
		body["appId"] = appID
	}
	_, err := c.post(c.sessionPath()+"/appium/device/activate_app", body)
	return err
}

// TerminateApp terminates an app.
func (c *Client) TerminateApp(appID string) error {
	body := make(map[string]interface{})
	if c.platform == "ios" {
		body["bundleId"] = appID
	} else {
		body["appId"] = appID
	}
	_, err := c.post(c.sessionPath()+"/appium/device/terminate_app", body)
	return err
}

// Screen Operations

// Screenshot returns a screenshot as PNG bytes.
func (c *Client) Screenshot() ([]byte, error) {
	resp, err := c.get(c.sessionPath() + "/screenshot")
	if err != nil {
		return nil, err
	}
	encoded, ok := resp["value"].(string)
	if !ok {
		return nil, fmt.Errorf("invalid screenshot response")
	}
	return base64.StdEncoding.DecodeString(encoded)
}

// Source returns the page source XML.
func (c *Client) Source() (string, error) {
	resp, err := c.get(c.sessionPath() + "/source")
	if err != nil {
		return "", err
	}
	source, _ := resp["value"].(string)
	return source, nil
}

// Clipboard

// GetClipboard returns clipboard text.
func (c *Client) GetClipboard() (string, error) {
	resp, err := c.post(c.sessionPath()+"/appium/device/get_clipboard", map[string]interface{}{
		"contentType": "plaintext",
	})
	if err != nil {
		return "", err
	}
	encoded, _ := resp["value"].(string)
	decoded, _ := base64.StdEncoding.DecodeString(encoded)
	return string(decoded), nil
}

// SetClipboard sets clipboard text.
func (c *Client) SetClipboard(text string) error {
	encoded := base64.StdEncoding.EncodeToString([]byte(text))
	_, err := c.post(c.sessionPath()+"/appium/device/set_clipboard", map[string]interface{}{
		"content":     encoded,
		"contentType": "plaintext",
	})
	return err
}

// Deep Links

// OpenURL opens a URL in the system default handler.
func (c *Client) OpenURL(url string) error {
	_, err := c.post(c.sessionPath()+"/url", map[string]interface{}{
		"url": url,
	})
	return err
}

// Timeouts and Settings

// SetImplicitWait sets the implicit wait timeout.
func (c *Client) SetImplicitWait(timeout time.Duration) error {
	_, err := c.post(c.sessionPath()+"/timeouts", map[string]interface{}{
		"implicit": timeout.Milliseconds(),
	})
	return err
}

// SetSettings updates Appium driver settings.
func (c *Client) SetSettings(settings map[string]interface{}) error {
	_, err := c.post(c.sessionPath()+"/appium/settings", map[string]interface{}{
		"settings": settings,
	})
	return err
}

// ExecuteMobile executes a mobile: command.
func (c *Client) ExecuteMobile(command string, args map[string]interface{}) (interface{}, error) {
	resp, err := c.post(c.sessionPath()+"/execute/sync", map[string]interface{}{
		"script": "mobile: " + command,
		"args":   []interface{}{args},
	})
	if err != nil {
		return nil, err
	}
	return resp["value"], nil
}

// HTTP Helpers

func (c *Client) sessionPath() string {
	return "/session/" + c.sessionID
}

func (c *Client) elementPath(elementID string) string {
	return c.sessionPath() + "/element/" + elementID
}

func (c *Client) get(path string) (map[string]interface{}, error) {
	return c.request("GET", path, nil)
}

func (c *Client) post(path string, body interface{}) (map[string]interface{}, error) {
	return c.request("POST", path, body)
}

func (c *Client) delete(path string) (map[string]interface{}, error) {
	return c.request("DELETE", path, nil)
}

func (c *Client) request(method, path string, body interface{}) (map[string]interface{}, error) {
	url := c.endpoint + path

	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequest(method, url, bodyReader)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, core.ErrServerUnreachable.WithCause(err)
	}
	if resp == nil {
		return nil, core.ErrServerUnreachable.WithCause(fmt.Errorf("nil response from server"))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	c.logger.WithFields(logrus.Fields{
		"method":   method,
		"path":     path,
		"status":   resp.StatusCode,
		"duration": time.Since(start),
	}).Debug("webdriver request")

	var result map[string]interface{}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	// Check for WebDriver error
	if errValue, ok := result["value"].(map[string]interface{}); ok {
		if errType, ok := errValue["error"].(string); ok {
			errMsg, _ := errValue["message"].(string)
			return result, mapWireError(errType, errMsg)
		}
	}

	return result, nil
}

// mapWireError folds W3C error strings onto the shared error taxonomy so
// callers can errors.Is against the predefined values.
func mapWireError(errType, errMsg string) error {
	msg := errType
	if errMsg != "" {
		msg = fmt.Sprintf("%s: %s", errType, errMsg)
	}

	switch errType {
	case "no such element", "stale element reference":
		return core.ErrElementNotFound.WithMessage(msg)
	case "element not interactable", "invalid element state":
		return core.ErrElementNotVisible.WithMessage(msg)
	case "timeout", "script timeout":
		return core.ErrTimeout.WithMessage(msg)
	case "invalid session id", "session not created":
		return core.ErrSessionLost.WithMessage(msg)
	default:
		return fmt.Errorf("%s", msg)
	}
}

func extractElementID(value map[string]interface{}) string {
	// W3C format
	if id, ok := value[w3cElementKey].(string); ok {
		return id
	}
	// Legacy format
	if id, ok := value["ELEMENT"].(string); ok {
		return id
	}
	return ""
}
