package signalwire

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrNotConfigured is returned when API credentials are missing.
var ErrNotConfigured = errors.New("SignalWire credentials not configured")

// Call statuses used when updating a live call.
const (
	StatusCompleted = "completed"
	StatusCanceled  = "canceled"
)

// Client is a SignalWire LaML REST client
type Client struct {
	projectID  string
	token      string
	space      string
	baseURL    string
	httpClient *http.Client
}

// CallResource is a call as returned by the Calls API
type CallResource struct {
	SID       string `json:"sid"`
	From      string `json:"from"`
	To        string `json:"to"`
	Status    string `json:"status"`
	Direction string `json:"direction"`
	Duration  string `json:"duration"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

// MessageResource is an SMS as returned by the Messages API
type MessageResource struct {
	SID       string `json:"sid"`
	From      string `json:"from"`
	To        string `json:"to"`
	Body      string `json:"body"`
	Status    string `json:"status"`
	Direction string `json:"direction"`
}

// IncomingNumber is a phone number owned by the project
type IncomingNumber struct {
	SID          string       `json:"sid"`
	PhoneNumber  string       `json:"phone_number"`
	FriendlyName string       `json:"friendly_name"`
	Capabilities Capabilities `json:"capabilities"`
}

// Capabilities of an owned number
type Capabilities struct {
	Voice bool `json:"voice"`
	SMS   bool `json:"sms"`
}

// AccountInfo describes the project account
type AccountInfo struct {
	SID          string `json:"sid"`
	FriendlyName string `json:"friendly_name"`
	Status       string `json:"status"`
}

// Active reports whether the account can place calls.
func (a AccountInfo) Active() bool {
	return a.Status == "active"
}

// CallRequest options for placing a call
type CallRequest struct {
	From           string
	To             string
	URL            string // LaML fetched when the callee answers
	StatusCallback string
	Timeout        int
}

// NewClient creates a new SignalWire API client
func NewClient(projectID, token, space string) *Client {
	return &Client{
		projectID: projectID,
		token:     token,
		space:     space,
		baseURL:   fmt.Sprintf("https://%s/api/laml/2010-04-01", space),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// WithBaseURL points the client at a different API root.
func (c *Client) WithBaseURL(baseURL string) *Client {
	c.baseURL = strings.TrimSuffix(baseURL, "/")
	return c
}

// ValidateConfiguration checks if SignalWire is properly configured
func (c *Client) ValidateConfiguration() error {
	if c.projectID == "" {
		return fmt.Errorf("SIGNALWIRE_PROJECT_ID not configured")
	}
	if c.token == "" {
		return fmt.Errorf("SIGNALWIRE_TOKEN not configured")
	}
	if c.space == "" {
		return fmt.Errorf("SIGNALWIRE_SPACE not configured")
	}
	return nil
}

// CreateCall initiates an outbound call
func (c *Client) CreateCall(ctx context.Context, r CallRequest) (*CallResource, error) {
	form := url.Values{}
	form.Set("From", r.From)
	form.Set("To", r.To)
	form.Set("Url", r.URL)
	form.Set("Method", "POST")
	if r.StatusCallback != "" {
		form.Set("StatusCallback", r.StatusCallback)
		form.Set("StatusCallbackMethod", "POST")
		for _, ev := range []string{"initiated", "ringing", "answered", "completed"} {
			form.Add("StatusCallbackEvent", ev)
		}
	}
	if r.Timeout > 0 {
		form.Set("Timeout", fmt.Sprint(r.Timeout))
	}

	var call CallResource
	if err := c.do(ctx, http.MethodPost, "/Calls.json", form, &call); err != nil {
		return nil, err
	}
	return &call, nil
}

// GetCall retrieves call details
func (c *Client) GetCall(ctx context.Context, callSID string) (*CallResource, error) {
	var call CallResource
	if err := c.do(ctx, http.MethodGet, "/Calls/"+callSID+".json", nil, &call); err != nil {
		return nil, err
	}
	return &call, nil
}

// UpdateCallTwiML replaces the instructions a live call is executing.
func (c *Client) UpdateCallTwiML(ctx context.Context, callSID, twiml string) error {
	form := url.Values{}
	form.Set("Twiml", twiml)
	return c.do(ctx, http.MethodPost, "/Calls/"+callSID+".json", form, nil)
}

// SetCallStatus ends a call: completed hangs up a live call, canceled stops
// one that has not been answered.
func (c *Client) SetCallStatus(ctx context.Context, callSID, status string) error {
	form := url.Values{}
	form.Set("Status", status)
	return c.do(ctx, http.MethodPost, "/Calls/"+callSID+".json", form, nil)
}

// SendSMS sends a text message
func (c *Client) SendSMS(ctx context.Context, from, to, body string) (*MessageResource, error) {
	form := url.Values{}
	form.Set("From", from)
	form.Set("To", to)
	form.Set("Body", body)

	var msg MessageResource
	if err := c.do(ctx, http.MethodPost, "/Messages.json", form, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// ListPhoneNumbers lists the numbers owned by the project
func (c *Client) ListPhoneNumbers(ctx context.Context) ([]IncomingNumber, error) {
	var page struct {
		Numbers []IncomingNumber `json:"incoming_phone_numbers"`
	}
	if err := c.do(ctx, http.MethodGet, "/IncomingPhoneNumbers.json", nil, &page); err != nil {
		return nil, err
	}
	return page.Numbers, nil
}

// GetAccountInfo retrieves account information
func (c *Client) GetAccountInfo(ctx context.Context) (*AccountInfo, error) {
	if c.projectID == "" || c.token == "" {
		return nil, ErrNotConfigured
	}
	var info AccountInfo
	reqURL := fmt.Sprintf("%s/Accounts/%s.json", c.baseURL, c.projectID)
	if err := c.send(ctx, http.MethodGet, reqURL, nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// do calls an account scoped resource.
func (c *Client) do(ctx context.Context, method, resource string, form url.Values, out interface{}) error {
	if c.projectID == "" || c.token == "" {
		return ErrNotConfigured
	}
	reqURL := fmt.Sprintf("%s/Accounts/%s%s", c.baseURL, c.projectID, resource)
	return c.send(ctx, method, reqURL, form, out)
}

func (c *Client) send(ctx context.Context, method, reqURL string, form url.Values, out interface{}) error {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	req.SetBasicAuth(c.projectID, c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(data)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// APIError is a non-2xx response from the API
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("SignalWire API error (%d): %s", e.StatusCode, e.Body)
}
