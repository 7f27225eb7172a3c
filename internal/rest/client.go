package rest

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/sirupsen/logrus"

	"github.com/quantfabric/paradise/errs"
	"github.com/quantfabric/paradise/internal/auth"
	"github.com/quantfabric/paradise/internal/clock"
	"github.com/quantfabric/paradise/internal/logging"
	"github.com/quantfabric/paradise/internal/schema"
	"github.com/quantfabric/paradise/internal/throttler"
)

// HTTPDoer is the transport collaborator executing prepared requests.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

const (
	maxResponseBytes = 4 << 20
	defaultTimeout   = 10 * time.Second
)

// Options configure a dispatcher.
type Options struct {
	Environment Environment
	HTTPClient  HTTPDoer
	Signer      *auth.Signer
	Throttler   *throttler.Throttler
	Clock       *clock.Synchronized
}

// Dispatcher issues typed REST operations through the rate limiter and
// signer. It owns clock resynchronization on time-sync rejections.
type Dispatcher struct {
	baseURL   string
	http      HTTPDoer
	signer    *auth.Signer
	throttler *throttler.Throttler
	clock     *clock.Synchronized
	log       *logrus.Entry
}

// NewDispatcher validates the options and constructs a dispatcher.
func NewDispatcher(opts Options) (*Dispatcher, error) {
	if opts.Throttler == nil {
		return nil, errs.New("rest", errs.CodeConfig, errs.WithMessage("throttler required"))
	}
	if opts.Clock == nil {
		opts.Clock = clock.NewSynchronized(clock.System{})
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Dispatcher{
		baseURL:   opts.Environment.BaseURL(),
		http:      opts.HTTPClient,
		signer:    opts.Signer,
		throttler: opts.Throttler,
		clock:     opts.Clock,
		log:       logging.Component("rest"),
	}, nil
}

// CallOptions select authentication and rate-limit scoping for one call.
type CallOptions struct {
	AuthRequired bool
	// Pair scopes the rate limit bucket to a trading pair.
	Pair schema.Pair
	// LimitID overrides the endpoint path as the base rate limit id.
	LimitID string
}

// Get performs a rate-limited GET against the endpoint and returns the raw
// response body.
func (d *Dispatcher) Get(ctx context.Context, endpoint string, params url.Values, opts CallOptions) (json.RawMessage, error) {
	return d.execute(ctx, http.MethodGet, endpoint, params, nil, opts, true)
}

// Post performs a rate-limited POST with a JSON body against the endpoint
// and returns the raw response body.
func (d *Dispatcher) Post(ctx context.Context, endpoint string, body any, opts CallOptions) (json.RawMessage, error) {
	var payload []byte
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, errs.New("rest", errs.CodeInvalid, errs.WithMessage("encode body"), errs.WithCause(err))
		}
		payload = encoded
	}
	return d.execute(ctx, http.MethodPost, endpoint, nil, payload, opts, true)
}

// ServerTime fetches the authoritative exchange clock.
func (d *Dispatcher) ServerTime(ctx context.Context) (time.Time, error) {
	raw, err := d.execute(ctx, http.MethodGet, EndpointServerTime, nil, nil, CallOptions{}, false)
	if err != nil {
		return time.Time{}, err
	}
	var payload struct {
		Epoch float64 `json:"epoch"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return time.Time{}, errs.New("rest", errs.CodeNetwork, errs.WithMessage("decode server time"), errs.WithCause(err))
	}
	sec := int64(payload.Epoch)
	nsec := int64((payload.Epoch - float64(sec)) * float64(time.Second))
	return time.Unix(sec, nsec), nil
}

// SyncClock refreshes the shared server-time offset.
func (d *Dispatcher) SyncClock(ctx context.Context) error {
	serverTime, err := d.ServerTime(ctx)
	if err != nil {
		return err
	}
	d.clock.Update(serverTime)
	d.log.WithField("offset", d.clock.Offset().String()).Info("resynchronized exchange clock")
	return nil
}

func (d *Dispatcher) execute(ctx context.Context, method, endpoint string, params url.Values, body []byte, opts CallOptions, allowResync bool) (json.RawMessage, error) {
	limitID := endpoint
	if opts.LimitID != "" {
		limitID = opts.LimitID
	}
	if opts.Pair != "" {
		limitID = throttler.PairLimitID(limitID, string(opts.Pair))
	}
	if err := d.throttler.Acquire(ctx, limitID); err != nil {
		return nil, err
	}

	raw, err := d.perform(ctx, method, endpoint, params, body, opts)
	if err == nil || !errs.HasCode(err, errs.CodeTimeSync) || !allowResync {
		return raw, err
	}

	// The exchange rejected our nonce. Resync the shared clock offset once
	// and retry the call with fresh headers.
	d.log.WithError(err).Warn("time-sync rejection, resyncing clock")
	if syncErr := d.SyncClock(ctx); syncErr != nil {
		return nil, syncErr
	}
	if err := d.throttler.Acquire(ctx, limitID); err != nil {
		return nil, err
	}
	return d.perform(ctx, method, endpoint, params, body, opts)
}

func (d *Dispatcher) perform(ctx context.Context, method, endpoint string, params url.Values, body []byte, opts CallOptions) (json.RawMessage, error) {
	fullURL := d.baseURL + endpoint
	if len(params) > 0 {
		fullURL += "?" + params.Encode()
	}

	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, fullURL, reader)
	if err != nil {
		return nil, errs.New("rest", errs.CodeInvalid, errs.WithMessage("build request"), errs.WithCause(err))
	}
	req.Header.Set("Content-Type", "application/json")
	if opts.AuthRequired {
		if d.signer == nil {
			return nil, errs.New("rest", errs.CodeConfig, errs.WithMessage("authenticated call without credentials"))
		}
		d.signer.SignREST(method, signPath(endpoint), body, req.Header)
	}

	resp, err := d.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errs.New("rest", errs.CodeNetwork, errs.WithMessage(method+" "+endpoint), errs.WithCause(err))
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, errs.New("rest", errs.CodeNetwork, errs.WithMessage("read response"), errs.WithCause(err))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, classifyError(endpoint, resp.StatusCode, raw)
	}
	if err := envelopeError(endpoint, raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// signPath strips the futures mount point: the exchange signs paths relative
// to the futures API root.
func signPath(endpoint string) string {
	return strings.TrimPrefix(endpoint, "/futures")
}

type envelope struct {
	Status  *int   `json:"status"`
	Message string `json:"message"`
	Msg     string `json:"msg"`
}

// envelopeError inspects the business status field carried by object
// responses. Endpoints returning bare arrays have no envelope and pass
// through.
func envelopeError(endpoint string, raw []byte) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil
	}
	var env envelope
	if err := json.Unmarshal(trimmed, &env); err != nil || env.Status == nil {
		return nil
	}
	if *env.Status == RetCodeOK {
		return nil
	}
	return retCodeError(endpoint, 0, *env.Status, firstNonEmpty(env.Message, env.Msg))
}

func classifyError(endpoint string, httpStatus int, raw []byte) error {
	var env envelope
	if err := json.Unmarshal(bytes.TrimSpace(raw), &env); err == nil && env.Status != nil {
		return retCodeError(endpoint, httpStatus, *env.Status, firstNonEmpty(env.Message, env.Msg))
	}
	return errs.New("rest/"+endpoint, errs.CodeExchange,
		errs.WithHTTP(httpStatus),
		errs.WithMessage(strings.TrimSpace(string(raw))))
}

func retCodeError(endpoint string, httpStatus, retCode int, message string) error {
	code := errs.CodeExchange
	switch {
	case isTimeSyncRetCode(retCode, message):
		code = errs.CodeTimeSync
	case retCode == RetCodeOrderNotExists:
		code = errs.CodeNotFound
	}
	return errs.New("rest/"+endpoint, code,
		errs.WithHTTP(httpStatus),
		errs.WithRetCode(retCode),
		errs.WithMessage(message))
}

func isTimeSyncRetCode(retCode int, message string) bool {
	if retCode == RetCodeAuthTimestampError {
		return true
	}
	return retCode == RetCodeParamsError && strings.Contains(strings.ToLower(message), "invalid timestamp")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
