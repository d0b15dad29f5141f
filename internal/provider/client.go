package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"
)

const defaultHTTPTimeout = 30 * time.Second

// Client talks to one municipality's Itron-hosted portal on behalf of one
// set of credentials. Sessions are cookie-based and expire after a few
// minutes of inactivity, so callers re-login every cycle instead of trying
// to reuse or refresh a session.
type Client struct {
	http     *http.Client
	muni     *Municipality
	base     string
	username string
	password string
	log      *slog.Logger

	// now is swappable in tests; timestamps derive from the municipality's
	// timezone, never the machine's.
	now func() time.Time
}

// NewClient creates a portal client. The returned client owns a cookie jar
// for the login session and applies a finite timeout to every request so a
// hung call fails as a connection error instead of stalling the schedule.
func NewClient(muni *Municipality, username, password string, log *slog.Logger) *Client {
	jar, _ := cookiejar.New(nil)
	if log == nil {
		log = slog.Default()
	}
	// Municipality base URLs are bare hosts; an explicit scheme is allowed
	// so the table can also point at local fixtures.
	base := muni.BaseURL
	if !strings.Contains(base, "://") {
		base = "https://" + base
	}
	return &Client{
		http: &http.Client{
			Jar:     jar,
			Timeout: defaultHTTPTimeout,
		},
		muni:     muni,
		base:     base,
		username: username,
		password: password,
		log:      log.With("component", "provider", "municipality", muni.Code),
		now:      time.Now,
	}
}

// Municipality returns the municipality this client is bound to.
func (c *Client) Municipality() *Municipality {
	return c.muni
}

// Now returns the current time in the municipality's timezone.
func (c *Client) Now() time.Time {
	return c.now().In(c.muni.Location())
}

// Login authenticates the session. Must be called at the start of every
// cycle; the portal expires sessions after a few minutes of inactivity.
func (c *Client) Login(ctx context.Context) error {
	body, err := json.Marshal(map[string]string{
		"username": c.username,
		"password": c.password,
	})
	if err != nil {
		return fmt.Errorf("encoding login body: %w", err)
	}

	url := c.apiURL("User/Login")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return &ConnectError{Op: "login", Err: err}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &AuthError{StatusCode: resp.StatusCode}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return &ConnectError{Op: "login", StatusCode: resp.StatusCode}
	}

	c.log.Debug("login succeeded")
	return nil
}

// apiURL builds a full portal API URL for the given endpoint path.
func (c *Client) apiURL(endpoint string) string {
	return fmt.Sprintf("%s/PortalServices/api/%s", c.base, endpoint)
}

// getJSON performs a GET and decodes the JSON response into out,
// classifying failures into the error taxonomy.
func (c *Client) getJSON(ctx context.Context, op, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating %s request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return &ConnectError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &AuthError{StatusCode: resp.StatusCode}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return &ConnectError{Op: op, StatusCode: resp.StatusCode}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &ConnectError{Op: op, Err: fmt.Errorf("decoding response: %w", err)}
	}
	return nil
}

// isoLayouts are the shapes the portal uses for date strings. No explicit
// UTC offset is ever included; values are naive local time.
var isoLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// convertDate parses an ISO date string as naive local time in the
// municipality's timezone. An empty string yields the current time in that
// timezone, matching the portal's "no value = now" convention.
func (c *Client) convertDate(s string) (time.Time, error) {
	if s == "" {
		return c.Now(), nil
	}
	loc := c.muni.Location()
	for _, layout := range isoLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable provider date %q", s)
}
