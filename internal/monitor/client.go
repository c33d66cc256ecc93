package monitor

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/banshee-data/downlink/internal/httputil"
)

// Client reads and changes stream rates on a running daemon through its
// debug routes.
type Client struct {
	base string
	http httputil.HTTPClient
}

// NewClient returns a client for the debug server at base, e.g.
// "http://localhost:8080".
func NewClient(base string, c httputil.HTTPClient) *Client {
	return &Client{base: strings.TrimRight(base, "/"), http: c}
}

// Streams fetches the current streams report.
func (c *Client) Streams() (StreamsReport, error) {
	var rep StreamsReport
	resp, err := c.http.Get(c.base + "/debug/streams")
	if err != nil {
		return rep, fmt.Errorf("failed to fetch streams: %w", err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return rep, err
	}
	if err := json.NewDecoder(resp.Body).Decode(&rep); err != nil {
		return rep, fmt.Errorf("failed to decode streams: %w", err)
	}
	return rep, nil
}

// SetRate asks the daemon to change a group's rate.
func (c *Client) SetRate(group string, hz uint16) error {
	resp, err := c.http.PostForm(c.base+"/debug/set-rate", url.Values{
		"group": {group},
		"hz":    {strconv.Itoa(int(hz))},
	})
	if err != nil {
		return fmt.Errorf("failed to set rate: %w", err)
	}
	defer resp.Body.Close()
	return checkStatus(resp)
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		return fmt.Errorf("status %d: %s", resp.StatusCode, e.Error)
	}
	return fmt.Errorf("unexpected status %d", resp.StatusCode)
}
