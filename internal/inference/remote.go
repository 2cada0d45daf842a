package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/contractml/internal/model"
	"github.com/sells-group/contractml/internal/resilience"
)

// RemoteOption configures the remote factory.
type RemoteOption func(*remoteFactory)

// WithHTTPClient sets the HTTP client used for predictions.
func WithHTTPClient(hc *http.Client) RemoteOption {
	return func(f *remoteFactory) {
		f.http = hc
	}
}

// WithGuard sets the retry and circuit breaker guard.
func WithGuard(g *resilience.Guard) RemoteOption {
	return func(f *remoteFactory) {
		f.guard = g
	}
}

// WithTimeout bounds each prediction request.
func WithTimeout(d time.Duration) RemoteOption {
	return func(f *remoteFactory) {
		f.timeout = d
	}
}

type remoteFactory struct {
	endpoints map[string]string
	http      *http.Client
	guard     *resilience.Guard
	timeout   time.Duration
}

// RemoteFactories returns one Factory per configured kind. Each forwards
// predictions to a model server endpoint that owns the actual runtime.
func RemoteFactories(endpoints map[string]string, opts ...RemoteOption) map[string]Factory {
	f := &remoteFactory{
		endpoints: endpoints,
		http: &http.Client{
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		guard:   resilience.NewGuard(resilience.DefaultPolicy(), resilience.BreakerConfig{}),
		timeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(f)
	}

	out := make(map[string]Factory, len(endpoints))
	for kind, url := range endpoints {
		if url == "" {
			continue
		}
		out[kind] = f.factory(url)
	}
	return out
}

func (f *remoteFactory) factory(url string) Factory {
	return func(_ context.Context, path, kind string) (Backend, error) {
		return &remoteBackend{factory: f, url: url, path: path, kind: kind}, nil
	}
}

type remoteBackend struct {
	factory *remoteFactory
	url     string
	path    string
	kind    string
}

type predictRequest struct {
	Model  string      `json:"model"`
	Kind   string      `json:"kind"`
	Inputs [][]float32 `json:"inputs"`
}

type predictResponse struct {
	Predictions any   `json:"predictions"`
	Shape       []int `json:"output_shape"`
}

func (b *remoteBackend) Kind() string { return b.kind }

// Predict posts one input row to the model server.
func (b *remoteBackend) Predict(ctx context.Context, inputs []float32) (*model.Prediction, error) {
	body, err := json.Marshal(predictRequest{Model: b.path, Kind: b.kind, Inputs: [][]float32{inputs}})
	if err != nil {
		return nil, &model.ModelError{Path: b.path, Op: model.OpPredict, Err: eris.Wrap(err, "inference: encode request")}
	}

	resp, err := resilience.Do(ctx, b.factory.guard, b.url, "predict", func(ctx context.Context) (*predictResponse, error) {
		return b.post(ctx, body)
	})
	if err != nil {
		return nil, &model.ModelError{Path: b.path, Op: model.OpPredict, Err: err}
	}

	shape := resp.Shape
	if len(shape) == 0 {
		shape = inferShape(resp.Predictions)
	}
	return &model.Prediction{Predictions: resp.Predictions, Shape: shape, Kind: b.kind}, nil
}

func (b *remoteBackend) post(ctx context.Context, body []byte) (*predictResponse, error) {
	if b.factory.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.factory.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.url, bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "inference: build request")
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := b.factory.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "inference: post")
	}
	defer res.Body.Close() //nolint:errcheck

	data, err := io.ReadAll(io.LimitReader(res.Body, 32<<20))
	if err != nil {
		return nil, eris.Wrap(err, "inference: read response")
	}

	if res.StatusCode >= 400 {
		msg := fmt.Errorf("model server returned %d: %s", res.StatusCode, truncate(string(data), 200))
		if resilience.RetryableStatus(res.StatusCode) {
			return nil, resilience.Transient(msg, res.StatusCode)
		}
		return nil, msg
	}

	var out predictResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, eris.Wrap(err, "inference: decode response")
	}
	return &out, nil
}

// inferShape reports the dimensions of nested JSON arrays.
func inferShape(v any) []int {
	var shape []int
	for {
		arr, ok := v.([]any)
		if !ok {
			return shape
		}
		shape = append(shape, len(arr))
		if len(arr) == 0 {
			return shape
		}
		v = arr[0]
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
