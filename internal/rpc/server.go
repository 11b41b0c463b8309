// Package rpc implements the newline-delimited JSON-RPC 2.0 transport the
// engine speaks over stdio. One frame per line in both directions; requests
// may resolve out of order, so callers correlate replies by id.
package rpc

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"webweaver/engine/internal/logging"
)

const protocolVersion = "2.0"

// Frames carry whole file trees and assembled preview documents, so the cap
// is well above what a typical JSON-RPC transport would allow.
const maxFrameBytes = 32 * 1024 * 1024

const faultCode = -32000

// Handler serves one method. A non-nil *Error becomes the JSON-RPC error
// object; Data passes through verbatim so handlers can attach structured
// detail for the host UI.
type Handler func(ctx context.Context, params json.RawMessage) (any, *Error)

// Error is the handler-side failure value.
type Error struct {
	Message string
	Data    any
}

type inbound struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	APIVer  string          `json:"api_version,omitempty"`
}

type outbound struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Result  any             `json:"result,omitempty"`
	Params  any             `json:"params,omitempty"`
	Error   *faultBody      `json:"error,omitempty"`
}

type faultBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Server reads frames from r, dispatches each request on its own goroutine,
// and serializes writes to w. Register all handlers before calling Serve.
type Server struct {
	apiVersion string
	in         *bufio.Reader
	out        *bufio.Writer
	enc        *json.Encoder
	writeMu    sync.Mutex
	inflight   sync.WaitGroup
	handlers   map[string]Handler
	logger     *slog.Logger
}

func NewServer(apiVersion string, r io.Reader, w io.Writer, logger *slog.Logger) *Server {
	if logger == nil {
		logger = logging.Nop()
	}
	out := bufio.NewWriter(w)
	return &Server{
		apiVersion: apiVersion,
		in:         bufio.NewReader(r),
		out:        out,
		enc:        json.NewEncoder(out),
		handlers:   make(map[string]Handler),
		logger:     logger,
	}
}

func (s *Server) Register(method string, handler Handler) {
	s.handlers[method] = handler
}

// Serve reads frames until EOF or a read error. On EOF it waits for in-flight
// requests to finish so a session result is not lost to a closing host.
func (s *Server) Serve(ctx context.Context) error {
	for {
		frame, err := s.in.ReadBytes('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				if f := bytes.TrimSpace(frame); len(f) > 0 {
					s.dispatch(ctx, f)
				}
				s.inflight.Wait()
				return nil
			}
			s.logger.Error("rpc.read_failed", "error", err.Error())
			return err
		}
		frame = bytes.TrimSpace(frame)
		if len(frame) == 0 {
			continue
		}
		s.dispatch(ctx, frame)
	}
}

func (s *Server) dispatch(ctx context.Context, frame []byte) {
	if len(frame) > maxFrameBytes {
		s.logger.Warn("rpc.frame_too_large", "bytes", len(frame))
		s.writeFault(nil, "frame too large", nil)
		return
	}
	var req inbound
	if err := json.Unmarshal(frame, &req); err != nil {
		s.logger.Warn("rpc.malformed_frame", "error", err.Error())
		s.writeFault(nil, "invalid json", nil)
		return
	}
	if req.JSONRPC != protocolVersion {
		s.logger.Warn("rpc.bad_protocol_version", "version", req.JSONRPC)
		s.writeFault(req.ID, "invalid jsonrpc version", nil)
		return
	}
	if req.APIVer != "" && req.APIVer != s.apiVersion {
		s.logger.Warn("rpc.api_version_mismatch", "requested", req.APIVer, "expected", s.apiVersion)
		s.writeFault(req.ID, "incompatible api_version", map[string]string{"expected": s.apiVersion})
		return
	}
	handler, ok := s.handlers[req.Method]
	if !ok {
		s.logger.Warn("rpc.unknown_method", "method", req.Method)
		s.writeFault(req.ID, fmt.Sprintf("method not found: %s", req.Method), nil)
		return
	}
	s.logger.Debug("rpc.request", "method", req.Method, "id", string(req.ID), "params", logging.RedactJSON(req.Params))
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		s.run(ctx, req, handler)
	}()
}

func (s *Server) run(ctx context.Context, req inbound, handler Handler) {
	result, herr := handler(ctx, req.Params)
	if req.ID == nil {
		// Notification-style request; the caller does not want a reply.
		return
	}
	if herr != nil {
		s.logger.Error("rpc.request_failed", "method", req.Method, "id", string(req.ID), "error", logging.RedactAny(herr.Data))
		s.writeFault(req.ID, herr.Message, herr.Data)
		return
	}
	s.logger.Debug("rpc.response", "method", req.Method, "id", string(req.ID), "result", logging.RedactAny(result))
	s.write(outbound{JSONRPC: protocolVersion, ID: req.ID, Result: result})
}

// Notify pushes a server-initiated notification. Safe from any goroutine.
func (s *Server) Notify(method string, params any) {
	s.logger.Debug("rpc.notify", "method", method, "params", logging.RedactAny(params))
	s.write(outbound{JSONRPC: protocolVersion, Method: method, Params: params})
}

func (s *Server) writeFault(id json.RawMessage, message string, data any) {
	s.write(outbound{
		JSONRPC: protocolVersion,
		ID:      id,
		Error:   &faultBody{Code: faultCode, Message: message, Data: data},
	})
}

func (s *Server) write(frame outbound) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.enc.Encode(frame); err != nil {
		s.logger.Error("rpc.write_failed", "error", err.Error())
		return
	}
	_ = s.out.Flush()
}
