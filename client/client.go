// Package client is the Go client of the omws HTTP API.
package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"net/url"
	"strings"

	"github.com/pkg/errors"
	"github.com/sethgrid/pester"
	log "github.com/sirupsen/logrus"

	"github.com/openmodeller/omws/api"
	"github.com/openmodeller/omws/ticket"
)

const (
	DefaultAddr = "localhost:8085"
	// Exponential backoff over this many tries spans about two minutes.
	DefaultHttpTries = 7
)

// Doer sends one HTTP request. *pester.Client and *http.Client are Doers.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// MakePesterClient retries connection failures and 5xx answers with
// exponential backoff.
func MakePesterClient(tries int) *pester.Client {
	c := pester.New()
	c.Backoff = pester.ExponentialBackoff
	c.MaxRetries = tries
	c.LogHook = func(e pester.ErrEntry) {
		log.Warnf("retrying after failed attempt: %+v", e)
	}
	return c
}

type Client struct {
	root string
	http Doer
}

// NewClient talks to the server at addr with a retrying pester client.
func NewClient(addr string) *Client {
	return NewCustomClient(addr, MakePesterClient(DefaultHttpTries))
}

func NewCustomClient(addr string, doer Doer) *Client {
	if addr == "" {
		addr = DefaultAddr
	}
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	return &Client{root: strings.TrimSuffix(addr, "/") + api.APIPrefix, http: doer}
}

func (c *Client) Ping() error {
	var resp api.PingResponse
	return c.call(http.MethodGet, api.PingPath, nil, nil, &resp)
}

// Submit sends a standalone job request and returns its ticket.
func (c *Client) Submit(jobType ticket.JobType, request []byte) (ticket.ID, error) {
	var resp api.SubmitResponse
	path := strings.Replace(api.JobsPath, ":type", jobType.String(), 1)
	if err := c.call(http.MethodPost, path, nil, request, &resp); err != nil {
		return "", err
	}
	return resp.Ticket, nil
}

// SubmitExperiment sends an experiment document.
func (c *Client) SubmitExperiment(submission []byte) (*api.ExperimentResponse, error) {
	var resp api.ExperimentResponse
	if err := c.call(http.MethodPost, api.ExperimentsPath, nil, submission, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) GetProgress(ids ...ticket.ID) ([]api.TicketProgress, error) {
	var resp api.ProgressResponse
	if err := c.call(http.MethodGet, api.ProgressPath, ticketsQuery(ids), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Progress, nil
}

// Cancel returns the tickets that were actually cancelled.
func (c *Client) Cancel(ids ...ticket.ID) ([]ticket.ID, error) {
	var resp api.CancelResponse
	if err := c.call(http.MethodPost, api.CancelPath, ticketsQuery(ids), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Cancelled, nil
}

func (c *Client) GetResult(id ticket.ID) ([]byte, error) {
	return c.raw(http.MethodGet, ticketPath(api.ResultPath, id))
}

// GetResults returns the result documents of the tickets, experiments
// expanded to the members that succeeded.
func (c *Client) GetResults(ids ...ticket.ID) (map[ticket.ID]json.RawMessage, error) {
	var resp api.ResultsResponse
	if err := c.call(http.MethodGet, api.ResultsPath, ticketsQuery(ids), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

func (c *Client) GetLog(id ticket.ID) ([]byte, error) {
	return c.raw(http.MethodGet, ticketPath(api.LogPath, id))
}

func (c *Client) GetState(id ticket.ID) (string, error) {
	var resp api.StateResponse
	if err := c.call(http.MethodGet, ticketPath(api.StatePath, id), nil, nil, &resp); err != nil {
		return "", err
	}
	return resp.State, nil
}

func ticketPath(route string, id ticket.ID) string {
	return strings.Replace(route, ":ticket", url.PathEscape(string(id)), 1)
}

func ticketsQuery(ids []ticket.ID) url.Values {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = string(id)
	}
	return url.Values{api.TicketsParam: {strings.Join(parts, ",")}}
}

func (c *Client) do(method, path string, query url.Values, body []byte) (*http.Response, error) {
	uri := c.root + path
	if len(query) > 0 {
		uri += "?" + query.Encode()
	}
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequest(method, uri, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	log.Debugf("%s %s", method, uri)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "%s %s", method, uri)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, decodeError(resp)
	}
	return resp, nil
}

func (c *Client) call(method, path string, query url.Values, body []byte, out interface{}) error {
	resp, err := c.do(method, path, query, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return errors.Wrap(json.NewDecoder(resp.Body).Decode(out), "decoding response")
}

func (c *Client) raw(method, path string) ([]byte, error) {
	resp, err := c.do(method, path, nil, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return ioutil.ReadAll(resp.Body)
}

// decodeError rebuilds the api error type the server reported.
func decodeError(resp *http.Response) error {
	data, _ := ioutil.ReadAll(resp.Body)
	var e api.ErrorResponse
	if err := json.Unmarshal(data, &e); err != nil || e.Kind == "" {
		return fmt.Errorf("server answered %s: %s", resp.Status, strings.TrimSpace(string(data)))
	}
	switch e.Kind {
	case api.KindInvalidRequest:
		return &api.InvalidRequest{Message: e.Message}
	case api.KindServiceUnavailable:
		return &api.ServiceUnavailable{Message: e.Message}
	case api.KindNotFound:
		return &api.NotFound{Message: e.Message}
	case api.KindNotReady:
		return &api.NotReady{Message: e.Message}
	default:
		return errors.New(e.Message)
	}
}
