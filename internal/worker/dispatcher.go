// Package worker decodes host requests, runs them against the worker state
// and streams correlated responses and events back over a connection.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/Aman-CERP/annworker/internal/embed"
	werrors "github.com/Aman-CERP/annworker/internal/errors"
	"github.com/Aman-CERP/annworker/internal/index"
	"github.com/Aman-CERP/annworker/internal/metrics"
	"github.com/Aman-CERP/annworker/internal/protocol"
)

// State is everything a request can touch. Tests build isolated instances.
type State struct {
	Manager *index.Manager
	Gateway *embed.Gateway

	// Source supplies records for importHnswFileData. May be nil.
	Source index.RecordSource
}

// Dispatcher turns request envelopes into response envelopes.
type Dispatcher struct {
	state   *State
	hub     *Hub
	metrics *metrics.Metrics
}

// NewDispatcher creates a dispatcher over state. hub and m may be nil.
func NewDispatcher(state *State, hub *Hub, m *metrics.Metrics) *Dispatcher {
	if hub == nil {
		hub = NewHub(m)
	}
	return &Dispatcher{state: state, hub: hub, metrics: m}
}

// State returns the worker state the dispatcher runs against.
func (d *Dispatcher) State() *State {
	return d.state
}

// Hub returns the event hub.
func (d *Dispatcher) Hub() *Hub {
	return d.hub
}

// EmbedResult is the response to embedQuery.
type EmbedResult struct {
	Embedding []float32 `json:"embedding"`
	Model     string    `json:"model"`
}

// SyncResult is the response to syncIDBFS.
type SyncResult struct {
	Contexts []index.ContextInfo `json:"contexts"`
}

// Handle runs one request and returns its terminal response. It never
// panics and never returns an envelope without the request's id.
func (d *Dispatcher) Handle(ctx context.Context, env protocol.Envelope) (resp protocol.Envelope) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("request_panic",
				slog.String("id", env.ID),
				slog.String("type", env.Type),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
			resp = protocol.Failure(env.ID, env.Type,
				werrors.InternalError(fmt.Sprintf("panic handling %s: %v", env.Type, r), nil))
		}
		d.observe(env, resp, time.Since(start))
	}()

	req, err := protocol.Decode(env)
	if err != nil {
		return protocol.Failure(env.ID, env.Type, err)
	}

	data, err := d.dispatch(ctx, req)
	if err != nil {
		slog.LogAttrs(ctx, slog.LevelWarn, "request_failed",
			append([]slog.Attr{slog.String("id", env.ID), slog.String("type", env.Type)},
				werrors.FormatForLog(err)...)...)
		return protocol.Failure(env.ID, env.Type, err)
	}

	out, err := protocol.Result(env.ID, env.Type, data)
	if err != nil {
		return protocol.Failure(env.ID, env.Type, werrors.InternalError("failed to encode result", err))
	}
	return out
}

// Call builds a request with a fresh id and handles it in-process.
func (d *Dispatcher) Call(ctx context.Context, reqType string, data any) (protocol.Envelope, error) {
	env, err := protocol.NewRequest(reqType, data)
	if err != nil {
		return protocol.Envelope{}, werrors.InvalidArgument("failed to encode %s request: %v", reqType, err)
	}
	return d.Handle(ctx, env), nil
}

func (d *Dispatcher) dispatch(ctx context.Context, req protocol.Request) (any, error) {
	mgr := d.state.Manager

	switch r := req.(type) {
	case *protocol.InitLib:
		return mgr.LoadEngine(ctx)

	case *protocol.InitIndex:
		return mgr.Initialize(ctx, index.InitOptions{
			Name:     r.IndexContext,
			Capacity: r.MaxElements,
			Params: index.BuildParams{
				M:              r.M,
				EfConstruction: r.EfConstruction,
				EfSearch:       r.EfSearch,
			},
			Filename:     r.Filename,
			ForceRebuild: r.ForceRebuild,
			Persist:      r.PersistIndex,
			Token:        r.OperationID,
		})

	case *protocol.AddPoints:
		records := make([]index.Record, len(r.Points))
		for i, p := range r.Points {
			records[i] = index.Record{ID: string(p.ID), Vector: p.Embedding}
		}
		return mgr.AddRecords(ctx, r.IndexContext, records, r.OperationID)

	case *protocol.Search:
		return mgr.Search(ctx, r.IndexContext, r.QueryEmbedding, r.Limit)

	case *protocol.SaveIndex:
		return mgr.Save(ctx, r.IndexContext, r.Filename)

	case *protocol.SwitchContext:
		return mgr.SwitchActive(ctx, r.TargetContext, r.Filename)

	case *protocol.ExportIndex:
		return mgr.Export(ctx, r.IndexContext, r.Filename)

	case *protocol.ImportIndex:
		return mgr.ImportFromSource(ctx, r.Filename, d.state.Source)

	case *protocol.SyncFS:
		if err := mgr.SyncFromDurable(ctx); err != nil {
			return nil, err
		}
		return SyncResult{Contexts: mgr.Contexts()}, nil

	case *protocol.LoadModel:
		if d.state.Gateway == nil {
			return nil, werrors.ModelUnavailable("no embedding provider is configured", nil)
		}
		res, err := d.state.Gateway.Load(ctx, r.ModelName, d.hub.ModelProgress)
		d.metrics.ModelLoad(err == nil)
		return res, err

	case *protocol.EmbedQuery:
		if d.state.Gateway == nil {
			return nil, werrors.ModelUnavailable("no embedding provider is configured", nil)
		}
		vec, err := d.state.Gateway.Embed(ctx, r.Query, d.hub.ModelProgress)
		if err != nil {
			return nil, err
		}
		return EmbedResult{Embedding: vec, Model: d.state.Gateway.Loaded()}, nil

	case *protocol.Unknown:
		return nil, werrors.UnknownMessageType(r.Type)

	default:
		return nil, werrors.InternalError(fmt.Sprintf("no handler for %T", req), nil)
	}
}

func (d *Dispatcher) observe(req, resp protocol.Envelope, elapsed time.Duration) {
	code := ""
	if !resp.Succeeded() {
		code = werrors.ErrCodeInternal
		var fd protocol.FailureData
		if err := json.Unmarshal(resp.Data, &fd); err == nil && fd.Code != "" {
			code = fd.Code
		}
	}

	reqType := req.Type
	if !knownType(reqType) {
		reqType = "unknown"
	}
	d.metrics.ObserveRequest(reqType, code, elapsed)
	if d.state.Manager != nil {
		for _, info := range d.state.Manager.Contexts() {
			d.metrics.SetIndexItems(info.Name, info.ItemCount)
		}
	}

	slog.Debug("request_handled",
		slog.String("id", req.ID),
		slog.String("type", req.Type),
		slog.Bool("success", code == ""),
		slog.Duration("elapsed", elapsed))
}

func knownType(t string) bool {
	for _, k := range protocol.KnownTypes {
		if k == t {
			return true
		}
	}
	return false
}
