// Package server exposes the batched GEMM executor and the scenario suite
// over HTTP.
package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"time"

	"github.com/fxnlabs/gemmcheck/internal/gemm"
	"github.com/fxnlabs/gemmcheck/internal/layout"
	"github.com/fxnlabs/gemmcheck/internal/metrics"
	"github.com/fxnlabs/gemmcheck/internal/suite"
	"github.com/fxnlabs/gemmcheck/internal/verify"
	"go.uber.org/zap"
)

// freivaldsIterations bounds the chance of accepting a wrong product by 2^-8.
const freivaldsIterations = 8

// GemmRequest is the body of POST /gemm.
type GemmRequest struct {
	Params layout.Params `json:"params"`
	LHS    gemm.Operand  `json:"lhs"`
	RHS    gemm.Operand  `json:"rhs"`
	// Digits overrides the canonicalisation precision when set.
	Digits *int `json:"digits,omitempty"`
	// Verify runs a Freivalds check of the raw output against the inputs.
	Verify bool `json:"verify,omitempty"`
}

// GemmResponse carries the canonicalised output and the digest of the raw
// output.
type GemmResponse struct {
	Output   []float32 `json:"output"`
	Digest   string    `json:"digest"`
	Kernel   string    `json:"kernel"`
	Backend  string    `json:"backend"`
	Verified *bool     `json:"verified,omitempty"`
}

// BatchRequest is the body of POST /gemm/batch.
type BatchRequest struct {
	Requests []GemmRequest `json:"requests"`
}

type BatchResponse struct {
	Results []GemmResponse `json:"results"`
}

func (g GemmRequest) request() gemm.Request {
	return gemm.Request{Params: g.Params, LHS: g.LHS, RHS: g.RHS}
}

func (g GemmRequest) validate() error {
	if g.Digits == nil {
		return nil
	}
	return verify.ValidateDigits(*g.Digits)
}

func respond(exec *gemm.Executor, req GemmRequest, out []float32, digits int, rng *rand.Rand) GemmResponse {
	d := digits
	if req.Digits != nil {
		d = *req.Digits
	}
	resp := GemmResponse{
		Output:  verify.Approx(out, d),
		Digest:  verify.Digest(out),
		Kernel:  exec.Kernel(),
		Backend: exec.Backend().GetDeviceInfo().Backend,
	}
	if req.Verify {
		ok := verify.Freivalds(req.Params,
			verify.Tensor{Data: req.LHS.Data, View: req.LHS.View(req.Params.LHSShape())},
			verify.Tensor{Data: req.RHS.Data, View: req.RHS.View(req.Params.RHSShape())},
			out, freivaldsIterations, rng)
		resp.Verified = &ok
		outcome := "pass"
		if !ok {
			outcome = "mismatch"
		}
		metrics.Verifications.WithLabelValues(outcome).Inc()
	}
	return resp
}

// writeExecError maps contract violations to 400 and everything else to 500.
func writeExecError(w http.ResponseWriter, log *zap.Logger, err error) {
	var contractErr *gemm.ContractError
	if errors.As(err, &contractErr) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	log.Error("gemm request failed", zap.Error(err))
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

func newRand() *rand.Rand {
	return rand.New(rand.NewSource(time.Now().UnixNano()))
}

// GemmHandler runs one batched GEMM per request.
func GemmHandler(exec *gemm.Executor, digits int, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var req GemmRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if err := req.validate(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		out, err := exec.Execute(r.Context(), req.Params, req.LHS, req.RHS)
		if err != nil {
			writeExecError(w, log, err)
			return
		}
		writeJSON(w, log, respond(exec, req, out, digits, newRand()))
	}
}

// BatchHandler runs independent GEMMs, concurrently when the backend allows
// it. Any failure fails the whole batch.
func BatchHandler(exec *gemm.Executor, digits int, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var batch BatchRequest
		if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		reqs := make([]gemm.Request, len(batch.Requests))
		for i, req := range batch.Requests {
			if err := req.validate(); err != nil {
				http.Error(w, fmt.Sprintf("request %d: %v", i, err), http.StatusBadRequest)
				return
			}
			reqs[i] = req.request()
		}

		outs, err := exec.ExecuteAll(r.Context(), reqs)
		if err != nil {
			writeExecError(w, log, err)
			return
		}
		rng := newRand()
		resp := BatchResponse{Results: make([]GemmResponse, len(outs))}
		for i, out := range outs {
			resp.Results[i] = respond(exec, batch.Requests[i], out, digits, rng)
		}
		writeJSON(w, log, resp)
	}
}

// ScenariosHandler runs the configured scenarios and reports every result.
// The status is 200 when all pass and 422 otherwise.
func ScenariosHandler(runner *suite.Runner, scenarios []suite.Scenario, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		results := runner.Run(r.Context(), scenarios)
		status := http.StatusOK
		if !suite.AllPassed(results) {
			status = http.StatusUnprocessableEntity
		}
		writeJSONStatus(w, log, status, results)
	}
}

func writeJSON(w http.ResponseWriter, log *zap.Logger, v any) {
	writeJSONStatus(w, log, http.StatusOK, v)
}

// writeJSONStatus encodes v before committing the status, so an encoding
// failure still reaches the client as a 500.
func writeJSONStatus(w http.ResponseWriter, log *zap.Logger, status int, v any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		log.Error("failed to encode response", zap.Error(err))
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(buf.Bytes()); err != nil {
		log.Debug("failed to write response", zap.Error(err))
	}
}
