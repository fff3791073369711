// Package httptask provides a weaver.Handler that executes an HTTP
// request described by a task's payload, rate-limited per host with
// golang.org/x/time/rate.
package httptask

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/kamojiro/weaver/internal/weaver"
)

// TaskType is the registered task type tag for this handler.
const TaskType weaver.TaskType = "weaver.http.request.v1"

// artifactStore is the subset of ports.ArtifactStore this handler needs,
// declared locally so httptask does not import internal/ports (and, through
// it, every other backend) just to offload one response body.
type artifactStore interface {
	Put(ctx context.Context, key string, data []byte, ttl time.Duration) (ref string, err error)
}

// largeResponseThreshold is the response size past which a handler with an
// artifactStore configured offloads the body instead of inlining it into
// the Outcome's Json artifact.
const largeResponseThreshold = 64 * 1024

// Request is the payload shape this handler decodes: an HTTP method, a
// URL, optional headers and a JSON body, plus a template variable map
// substituted into URL/body via {{key}} placeholders.
type Request struct {
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    json.RawMessage   `json:"body,omitempty"`
	Vars    map[string]string `json:"vars,omitempty"`
}

// Handler executes Request payloads over a shared *http.Client, rate
// limited per host so a misbehaving task can't monopolize an endpoint.
type Handler struct {
	client    *http.Client
	mu        sync.Mutex
	hostLim   map[string]*rate.Limiter
	rps       float64
	burst     int
	artifacts artifactStore
}

// NewHandler builds a Handler with the given client (a nil client gets
// pooled-transport defaults) and per-host rate limit.
func NewHandler(client *http.Client, ratePerSecond float64, burst int) *Handler {
	if client == nil {
		client = &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	return &Handler{client: client, hostLim: make(map[string]*rate.Limiter), rps: ratePerSecond, burst: burst}
}

// WithArtifactStore configures h to offload response bodies larger than
// largeResponseThreshold to store, reporting a Url artifact pointing at the
// returned ref instead of inlining the body. Without a store, every
// response is inlined regardless of size.
func (h *Handler) WithArtifactStore(store artifactStore) *Handler {
	h.artifacts = store
	return h
}

func (h *Handler) limiterFor(host string) *rate.Limiter {
	h.mu.Lock()
	defer h.mu.Unlock()
	lim, ok := h.hostLim[host]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(h.rps), h.burst)
		h.hostLim[host] = lim
	}
	return lim
}

// Handle decodes envelope's payload as a Request, waits for its host's
// rate limiter, issues the request and reports the result as an Outcome.
// Decode errors and non-2xx responses are reported as Failure, never
// returned as a Go error, so the engine's decider sees them as retryable
// task outcomes rather than infrastructure faults.
func (h *Handler) Handle(ctx context.Context, envelope weaver.TaskEnvelope) (weaver.Outcome, error) {
	var req Request
	if err := envelope.DecodePayload(&req); err != nil {
		return weaver.Failure(fmt.Sprintf("decode request: %v", err)), nil
	}

	url := resolveTemplate(req.URL, req.Vars)
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if len(req.Body) > 0 {
		bodyStr := resolveTemplate(string(req.Body), req.Vars)
		body = strings.NewReader(bodyStr)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return weaver.Failure(fmt.Sprintf("build request: %v", err)), nil
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	limiter := h.limiterFor(httpReq.URL.Host)
	if err := limiter.Wait(ctx); err != nil {
		return weaver.Outcome{}, err
	}

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return weaver.Failure(fmt.Sprintf("request failed: %v", err)), nil
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return weaver.Failure(fmt.Sprintf("read response: %v", err)), nil
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return weaver.Failure(fmt.Sprintf("http status %d", resp.StatusCode)), nil
	}

	if h.artifacts != nil && len(respBody) > largeResponseThreshold {
		ref, err := h.artifacts.Put(ctx, httpReq.URL.Host, respBody, time.Hour)
		if err == nil {
			artifact := weaver.NewStringArtifact(weaver.ArtifactURL, ref)
			return weaver.Outcome{Kind: weaver.OutcomeSuccess, Artifacts: []weaver.Artifact{artifact}}, nil
		}
	}

	artifact, err := weaver.NewJSONArtifact(json.RawMessage(respBody))
	if err != nil {
		artifact = weaver.NewStringArtifact(weaver.ArtifactStdout, string(respBody))
	}
	return weaver.Outcome{Kind: weaver.OutcomeSuccess, Artifacts: []weaver.Artifact{artifact}}, nil
}

// resolveTemplate substitutes {{key}} placeholders in s with vars[key].
func resolveTemplate(s string, vars map[string]string) string {
	if len(vars) == 0 {
		return s
	}
	out := s
	for k, v := range vars {
		out = strings.ReplaceAll(out, "{{"+k+"}}", v)
	}
	return out
}
