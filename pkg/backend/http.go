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
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/andrej220/devbackup/internal/lg"
	"github.com/andrej220/devbackup/pkg/models"
)

const (
	defaultTimeout  = 30 * time.Second
	maxBodyLog      = 512
	defaultAttempts = 3
)

// Config locates the backend API.
type Config struct {
	Scheme  string        `yaml:"scheme" json:"scheme" bson:"scheme" validate:"required,oneof=http https"`
	Site    string        `yaml:"site" json:"site" bson:"site" validate:"required"`
	Token   string        `yaml:"token" json:"token" bson:"token"`
	Timeout time.Duration `yaml:"timeout" json:"timeout" bson:"timeout"`
}

// Client is the HTTP Backend. Transport failures are retried with a bounded
// exponential backoff behind a circuit breaker; status errors are not.
type Client struct {
	cfg      Config
	http     *http.Client
	cb       *gobreaker.CircuitBreaker
	backOff  func() backoff.BackOff
	log      lg.Logger
	attempts uint64
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.http = h } }
func WithLogger(l lg.Logger) Option        { return func(c *Client) { c.log = l } }

// WithBackOff replaces the retry policy. Tests use backoff.ZeroBackOff.
func WithBackOff(f func() backoff.BackOff) Option { return func(c *Client) { c.backOff = f } }

func NewClient(cfg Config, opts ...Option) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	c := &Client{
		cfg:      cfg,
		http:     &http.Client{Timeout: cfg.Timeout},
		log:      lg.Discard,
		attempts: defaultAttempts,
		backOff: func() backoff.BackOff {
			return &backoff.ExponentialBackOff{
				InitialInterval:     500 * time.Millisecond,
				MaxInterval:         5 * time.Second,
				MaxElapsedTime:      30 * time.Second,
				Multiplier:          1.5,
				RandomizationFactor: 0.5,
				Stop:                backoff.Stop,
				Clock:               backoff.SystemClock,
			}
		},
	}
	c.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "backend-api",
		MaxRequests: 5,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		// the backend answered, so it is up
		IsSuccessful: func(err error) bool {
			var re *ResponseError
			return err == nil || errors.As(err, &re)
		},
	})
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) endpoint(method string, params url.Values) string {
	q := url.Values{}
	q.Set("r", apiPrefix+method)
	for k, vs := range params {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	u := url.URL{Scheme: c.cfg.Scheme, Host: c.cfg.Site, Path: "/", RawQuery: q.Encode()}
	return u.String()
}

func (c *Client) get(ctx context.Context, method string, params url.Values, out any) error {
	body, err := c.do(ctx, http.MethodGet, method, params, nil, http.StatusOK)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: backend %s: %v", models.ErrParse, method, err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, method string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("backend %s: marshal: %w", method, err)
	}
	_, err = c.do(ctx, http.MethodPost, method, nil, data, http.StatusCreated)
	return err
}

func (c *Client) do(ctx context.Context, verb, method string, params url.Values, payload []byte, want int) ([]byte, error) {
	target := c.endpoint(method, params)
	var body []byte
	op := func() error {
		res, err := c.cb.Execute(func() (any, error) {
			return c.roundTrip(ctx, verb, method, target, payload, want)
		})
		if err != nil {
			var re *ResponseError
			if errors.As(err, &re) || ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			c.log.Warn("backend request failed", lg.String("method", method), lg.Err(err))
			return err
		}
		body = res.([]byte)
		return nil
	}
	b := backoff.WithContext(backoff.WithMaxRetries(c.backOff(), c.attempts-1), ctx)
	if err := backoff.Retry(op, b); err != nil {
		return nil, err
	}
	return body, nil
}

func (c *Client) roundTrip(ctx context.Context, verb, method, target string, payload []byte, want int) ([]byte, error) {
	var rd io.Reader
	if payload != nil {
		rd = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, verb, target, rd)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != want {
		text := string(body)
		if len(text) > maxBodyLog {
			text = text[:maxBodyLog]
		}
		return nil, &ResponseError{Method: method, Code: resp.StatusCode, Body: text}
	}
	return body, nil
}

func (c *Client) NodeCredentials(ctx context.Context, co models.Coordinates) (models.Credentials, error) {
	var raw map[string]string
	if err := c.get(ctx, MethodNodeCredentials, url.Values{"node_id": {co.NodeID}}, &raw); err != nil {
		return models.Credentials{}, err
	}
	return models.ParseCredentials(raw)
}

func (c *Client) Jobs(ctx context.Context, co models.Coordinates) ([]models.Job, error) {
	var raw map[string]map[string]string
	if err := c.get(ctx, MethodJobs, url.Values{"worker_id": {co.WorkerID}}, &raw); err != nil {
		return nil, err
	}
	return models.ParseJobs(raw)
}

func (c *Client) Hash(ctx context.Context, co models.Coordinates) (string, error) {
	var hash *string
	params := url.Values{"task_name": {co.TaskName}, "node_id": {co.NodeID}}
	if err := c.get(ctx, MethodHash, params, &hash); err != nil {
		return "", err
	}
	if hash == nil {
		return "", nil
	}
	return *hash, nil
}

func (c *Client) SetWorkerResult(ctx context.Context, _ models.Coordinates, r models.WorkerResult) error {
	return c.post(ctx, MethodSetWorkerResult, r)
}

func (c *Client) Variables(ctx context.Context, _ models.Coordinates) (map[string]string, error) {
	vars := map[string]string{}
	if err := c.get(ctx, MethodVariables, nil, &vars); err != nil {
		return nil, err
	}
	return vars, nil
}

func (c *Client) NodesByTask(ctx context.Context, co models.Coordinates) ([]models.NodeAssignment, error) {
	params := url.Values{"schedule_id": {co.ScheduleID}, "task_name": {co.TaskName}}
	return c.nodes(ctx, MethodNodesByTask, params)
}

func (c *Client) WorkerByNode(ctx context.Context, co models.Coordinates, nodeID string) ([]models.NodeAssignment, error) {
	params := url.Values{"node_id": {nodeID}, "task_name": {co.TaskName}}
	return c.nodes(ctx, MethodWorkerByNode, params)
}

// nodes decodes the node id → assignment map into a list in node id order.
func (c *Client) nodes(ctx context.Context, method string, params url.Values) ([]models.NodeAssignment, error) {
	var raw map[string]models.NodeAssignment
	if err := c.get(ctx, method, params, &raw); err != nil {
		return nil, err
	}
	out := make([]models.NodeAssignment, 0, len(raw))
	for _, id := range models.SortedKeys(raw) {
		a := raw[id]
		a.NodeID = id
		out = append(out, a)
	}
	return out, nil
}

func (c *Client) Networks(ctx context.Context, _ models.Coordinates) ([]models.Network, error) {
	var raw map[string]models.Network
	if err := c.get(ctx, MethodNetworks, nil, &raw); err != nil {
		return nil, err
	}
	out := make([]models.Network, 0, len(raw))
	for _, cidr := range models.SortedKeys(raw) {
		n := raw[cidr]
		n.CIDR = cidr
		out = append(out, n)
	}
	return out, nil
}

func (c *Client) Exclusions(ctx context.Context, _ models.Coordinates) ([]string, error) {
	var out []string
	if err := c.get(ctx, MethodExclusions, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) SetDiscoveryResult(ctx context.Context, _ models.Coordinates, result map[string]string) error {
	return c.post(ctx, MethodSetDiscoveryResult, result)
}

func (c *Client) SystemTask(ctx context.Context, co models.Coordinates) (bool, error) {
	var ok bool
	if err := c.get(ctx, SystemTaskMethod(co.TaskName), nil, &ok); err != nil {
		return false, err
	}
	return ok, nil
}

// SystemTaskMethod maps a system task name onto its API method.
func SystemTaskMethod(taskName string) string {
	return strings.ReplaceAll(taskName, "_", "-")
}

func (c *Client) ConsoleCommand(ctx context.Context, co models.Coordinates) error {
	params := url.Values{"schedule_id": {co.ScheduleID}, "task_name": {co.TaskName}}
	return c.get(ctx, MethodConsoleCommand, params, nil)
}

func (c *Client) Log(ctx context.Context, scope Scope, e models.LogEntry) error {
	if scope == ScopeSystem {
		e.ScheduleID, e.NodeID = "", ""
	}
	return c.post(ctx, scope.method(), e)
}

func (c *Client) Settings(ctx context.Context) (models.Settings, error) {
	var raw map[string]string
	if err := c.get(ctx, MethodConfig, nil, &raw); err != nil {
		return models.Settings{}, err
	}
	return models.ParseSettings(raw)
}

func (c *Client) Task(ctx context.Context, name string) (models.TaskInfo, error) {
	var rows []models.TaskInfo
	if err := c.get(ctx, MethodTask, url.Values{"task_name": {name}}, &rows); err != nil {
		return models.TaskInfo{}, err
	}
	for _, t := range rows {
		if t.Name == name {
			return t, nil
		}
	}
	return models.TaskInfo{}, fmt.Errorf("%w: task %q not found", models.ErrValidation, name)
}
