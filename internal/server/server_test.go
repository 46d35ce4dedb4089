package server

import (
	"bytes"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/fxnlabs/gemmcheck/internal/app"
	"github.com/fxnlabs/gemmcheck/internal/auth"
	"github.com/fxnlabs/gemmcheck/internal/config"
	"github.com/fxnlabs/gemmcheck/internal/gemm"
	"github.com/fxnlabs/gemmcheck/internal/gpu"
	"github.com/fxnlabs/gemmcheck/internal/metrics"
	"github.com/fxnlabs/gemmcheck/internal/suite"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap/zaptest"
)

// newTestServer wires the full application with fx and serves its mux.
func newTestServer(t *testing.T, opts ...func(*config.Config)) *httptest.Server {
	t.Helper()
	cfg := config.Default()
	cfg.Logger.Verbosity = "debug"
	cfg.Server.ListenAddress = "127.0.0.1:0"
	for _, opt := range opts {
		opt(cfg)
	}

	var mux *http.ServeMux
	fxApp := fxtest.New(t, fx.Supply(cfg), app.Module, Module, fx.Populate(&mux))
	fxApp.RequireStart()
	t.Cleanup(fxApp.RequireStop)

	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestGemmHandler(t *testing.T) {
	ts := newTestServer(t)

	ascending := func(n int) []float32 {
		out := make([]float32, n)
		for i := range out {
			out[i] = float32(i)
		}
		return out
	}

	testCases := []struct {
		name         string
		body         map[string]any
		expectedCode int
		validateResp func(*testing.T, GemmResponse)
	}{
		{
			name: "rhs offset",
			body: map[string]any{
				"params": map[string]int{"b": 1, "m": 2, "n": 4, "k": 3},
				"lhs":    map[string]any{"data": ascending(12), "strides": []int{6, 3, 1}, "offset": 0},
				"rhs":    map[string]any{"data": ascending(24), "strides": []int{12, 4, 1}, "offset": 12},
			},
			expectedCode: http.StatusOK,
			validateResp: func(t *testing.T, resp GemmResponse) {
				assert.Equal(t, []float32{56, 59, 62, 65, 200, 212, 224, 236}, resp.Output)
				assert.Equal(t, "sgemm", resp.Kernel)
				assert.Equal(t, "cpu", resp.Backend)
				assert.NotEmpty(t, resp.Digest)
				assert.Nil(t, resp.Verified)
			},
		},
		{
			name: "verified with digits",
			body: map[string]any{
				"params": map[string]int{"b": 2, "m": 2, "n": 4, "k": 3},
				"lhs":    map[string]any{"data": ascending(12), "strides": []int{6, 3, 1}},
				"rhs":    map[string]any{"data": ascending(24), "strides": []int{12, 4, 1}},
				"digits": 2,
				"verify": true,
			},
			expectedCode: http.StatusOK,
			validateResp: func(t *testing.T, resp GemmResponse) {
				assert.Equal(t, []float32{20, 23, 26, 29, 56, 68, 80, 92, 344, 365, 386, 407, 488, 518, 548, 578}, resp.Output)
				require.NotNil(t, resp.Verified)
				assert.True(t, *resp.Verified)
			},
		},
		{
			name: "out of bounds",
			body: map[string]any{
				"params": map[string]int{"b": 2, "m": 2, "n": 4, "k": 3},
				"lhs":    map[string]any{"data": ascending(12), "strides": []int{6, 3, 1}},
				"rhs":    map[string]any{"data": ascending(24), "strides": []int{12, 4, 1}, "offset": 12},
			},
			expectedCode: http.StatusBadRequest,
		},
		{
			name: "digits out of range",
			body: map[string]any{
				"params": map[string]int{"b": 1, "m": 2, "n": 4, "k": 3},
				"lhs":    map[string]any{"data": ascending(12), "strides": []int{6, 3, 1}},
				"rhs":    map[string]any{"data": ascending(12), "strides": []int{12, 4, 1}},
				"digits": 40,
			},
			expectedCode: http.StatusBadRequest,
		},
		{
			name: "negative digits",
			body: map[string]any{
				"params": map[string]int{"b": 1, "m": 2, "n": 4, "k": 3},
				"lhs":    map[string]any{"data": ascending(12), "strides": []int{6, 3, 1}},
				"rhs":    map[string]any{"data": ascending(12), "strides": []int{12, 4, 1}},
				"digits": -1,
			},
			expectedCode: http.StatusBadRequest,
		},
		{
			name: "stride past the buffer",
			body: map[string]any{
				"params": map[string]int{"b": 4, "m": 1, "n": 1, "k": 1},
				"lhs":    map[string]any{"data": ascending(4), "strides": []int{1 << 62, 1, 1}},
				"rhs":    map[string]any{"data": ascending(4), "strides": []int{1, 1, 1}},
			},
			expectedCode: http.StatusBadRequest,
		},
		{
			name: "non-contiguous operand for sgemm",
			body: map[string]any{
				"params": map[string]int{"b": 1, "m": 2, "n": 2, "k": 2},
				"lhs":    map[string]any{"data": ascending(8), "strides": []int{8, 4, 2}},
				"rhs":    map[string]any{"data": ascending(4), "strides": []int{4, 2, 1}},
			},
			expectedCode: http.StatusInternalServerError,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			resp := postJSON(t, ts.URL+"/gemm", tc.body)
			require.Equal(t, tc.expectedCode, resp.StatusCode)
			if tc.validateResp == nil {
				return
			}
			var out GemmResponse
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
			tc.validateResp(t, out)
		})
	}

	t.Run("invalid body", func(t *testing.T) {
		resp, err := http.Post(ts.URL+"/gemm", "application/json", bytes.NewBufferString("{"))
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("method not allowed", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/gemm")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	})
}

func TestWriteJSONStatus(t *testing.T) {
	t.Run("encodes with status", func(t *testing.T) {
		rec := httptest.NewRecorder()
		writeJSONStatus(rec, zaptest.NewLogger(t), http.StatusUnprocessableEntity, map[string]int{"a": 1})
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		assert.JSONEq(t, `{"a":1}`, rec.Body.String())
	})

	t.Run("unencodable value is a server error", func(t *testing.T) {
		rec := httptest.NewRecorder()
		writeJSON(rec, zaptest.NewLogger(t), GemmResponse{Output: []float32{float32(math.NaN())}})
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.NotContains(t, rec.Header().Get("Content-Type"), "application/json")
	})
}

func TestBatchHandler(t *testing.T) {
	ts := newTestServer(t)
	ascending := func(n int) []float32 {
		out := make([]float32, n)
		for i := range out {
			out[i] = float32(i)
		}
		return out
	}
	gemmReq := func(lhsOffset, rhsOffset int) map[string]any {
		return map[string]any{
			"params": map[string]int{"b": 1, "m": 2, "n": 4, "k": 3},
			"lhs":    map[string]any{"data": ascending(12), "strides": []int{6, 3, 1}, "offset": lhsOffset},
			"rhs":    map[string]any{"data": ascending(24), "strides": []int{12, 4, 1}, "offset": rhsOffset},
			"verify": true,
		}
	}

	t.Run("results in request order", func(t *testing.T) {
		resp := postJSON(t, ts.URL+"/gemm/batch", map[string]any{
			"requests": []any{gemmReq(6, 12), gemmReq(0, 0), gemmReq(0, 12)},
		})
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var out BatchResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
		require.Len(t, out.Results, 3)
		assert.Equal(t, []float32{344, 365, 386, 407, 488, 518, 548, 578}, out.Results[0].Output)
		assert.Equal(t, []float32{20, 23, 26, 29, 56, 68, 80, 92}, out.Results[1].Output)
		assert.Equal(t, []float32{56, 59, 62, 65, 200, 212, 224, 236}, out.Results[2].Output)
		for _, res := range out.Results {
			require.NotNil(t, res.Verified)
			assert.True(t, *res.Verified)
		}
	})

	t.Run("one bad request fails the batch", func(t *testing.T) {
		resp := postJSON(t, ts.URL+"/gemm/batch", map[string]any{
			"requests": []any{gemmReq(0, 0), gemmReq(0, 24)},
		})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("digits out of range fails the batch", func(t *testing.T) {
		bad := gemmReq(0, 0)
		bad["digits"] = 40
		resp := postJSON(t, ts.URL+"/gemm/batch", map[string]any{
			"requests": []any{gemmReq(0, 0), bad},
		})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("empty batch", func(t *testing.T) {
		resp := postJSON(t, ts.URL+"/gemm/batch", map[string]any{"requests": []any{}})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var out BatchResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
		assert.Empty(t, out.Results)
	})
}

func TestScenariosHandler(t *testing.T) {
	t.Run("defaults pass", func(t *testing.T) {
		ts := newTestServer(t)
		before := testutil.ToFloat64(metrics.EndpointResponses.WithLabelValues("/scenarios", "200"))

		resp := postJSON(t, ts.URL+"/scenarios", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var results []suite.Result
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&results))
		require.Len(t, results, 3)
		for _, res := range results {
			assert.True(t, res.Passed, res.Name)
		}
		assert.Equal(t, before+1, testutil.ToFloat64(metrics.EndpointResponses.WithLabelValues("/scenarios", "200")))
	})

	t.Run("mismatch is reported", func(t *testing.T) {
		bad := suite.Defaults()[:1]
		bad[0].Expected = []float32{0, 0, 0, 0, 0, 0, 0, 0}

		log := zaptest.NewLogger(t)
		backend := gpu.NewCPUBackend(nil)
		require.NoError(t, backend.Initialize())
		defer backend.Cleanup()
		exec := gemm.NewExecutor(backend, "", log)
		mux := NewMux(MuxParams{
			Config:    config.Default(),
			Executor:  exec,
			Runner:    suite.NewRunner(exec, 4, log),
			Scenarios: bad,
			Log:       log,
		})
		ts := httptest.NewServer(mux)
		defer ts.Close()

		resp := postJSON(t, ts.URL+"/scenarios", nil)
		require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

		var results []suite.Result
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&results))
		require.Len(t, results, 1)
		assert.False(t, results[0].Passed)
		assert.Contains(t, results[0].Error, "8 of 8 values differ")
	})
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAuth(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	ts := newTestServer(t, func(cfg *config.Config) {
		cfg.Server.Auth.Enabled = true
		cfg.Server.Auth.AllowedAddresses = []string{crypto.PubkeyToAddress(key.PublicKey).Hex()}
	})

	send := func(t *testing.T, path string, sign bool) int {
		req, err := http.NewRequest(http.MethodPost, ts.URL+path, nil)
		require.NoError(t, err)
		if sign {
			require.NoError(t, auth.SignRequest(req, nil, key))
		}
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		return resp.StatusCode
	}

	t.Run("unsigned request rejected", func(t *testing.T) {
		assert.Equal(t, http.StatusUnauthorized, send(t, "/scenarios", false))
	})

	t.Run("signed request accepted", func(t *testing.T) {
		assert.Equal(t, http.StatusOK, send(t, "/scenarios", true))
	})

	t.Run("metrics stay open", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/metrics")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})
}

func TestNewAllowlist(t *testing.T) {
	cfg := config.Default()
	cfg.Server.Auth.Enabled = true
	_, err := NewAllowlist(cfg)
	assert.Error(t, err)

	cfg.Server.Auth.AllowedAddresses = []string{"0x1F98431c8aD98523631AE4a59f267346ea31F984"}
	allow, err := NewAllowlist(cfg)
	require.NoError(t, err)
	assert.True(t, allow.Allowed("0x1F98431c8aD98523631AE4a59f267346ea31F984"))
}
