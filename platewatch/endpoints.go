package platewatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/hazyhaar/plates/kit"
	"github.com/hazyhaar/plates/platewatch/detection"
	"github.com/hazyhaar/plates/platewatch/internal/store"
)

const (
	defaultLimit = 20
	maxLimit     = 500
)

var errBadRequest = errors.New("bad request")

// StatusReport is the answer of the status endpoint.
type StatusReport struct {
	Poller  Status              `json:"poller"`
	History store.Stats         `json:"history"`
	Last    *detection.Snapshot `json:"last_snapshot,omitempty"`
}

// DispatchesRequest filters the dispatch history.
type DispatchesRequest struct {
	Plate string `json:"plate,omitempty"`
	Limit int    `json:"limit,omitempty"`
}

// SnapshotsRequest lists stored snapshots.
type SnapshotsRequest struct {
	Limit int `json:"limit,omitempty"`
}

// SnapshotRequest loads one stored snapshot.
type SnapshotRequest struct {
	ID string `json:"id"`
}

// endpoints are shared by the HTTP and MCP surfaces.
type endpoints struct {
	status     kit.Endpoint
	dispatches kit.Endpoint
	snapshots  kit.Endpoint
	snapshot   kit.Endpoint
}

func (s *Service) buildEndpoints() endpoints {
	logged := func(op string, ep kit.Endpoint) kit.Endpoint {
		return kit.Chain(kit.Logging(s.logger, op))(ep)
	}
	return endpoints{
		status:     logged("status", s.statusEndpoint),
		dispatches: logged("dispatches", s.dispatchesEndpoint),
		snapshots:  logged("snapshots", s.snapshotsEndpoint),
		snapshot:   logged("snapshot", s.snapshotEndpoint),
	}
}

func (s *Service) statusEndpoint(ctx context.Context, _ any) (any, error) {
	st, err := s.history.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return &StatusReport{
		Poller:  s.poller.Status(),
		History: st,
		Last:    s.poller.LastSnapshot(),
	}, nil
}

func (s *Service) dispatchesEndpoint(ctx context.Context, req any) (any, error) {
	r := req.(*DispatchesRequest)
	out, err := s.history.RecentDispatches(ctx, r.Plate, clampLimit(r.Limit))
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []detection.Dispatch{}
	}
	return out, nil
}

func (s *Service) snapshotsEndpoint(ctx context.Context, req any) (any, error) {
	r := req.(*SnapshotsRequest)
	out, err := s.history.RecentSnapshots(ctx, clampLimit(r.Limit))
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []store.SnapshotSummary{}
	}
	return out, nil
}

func (s *Service) snapshotEndpoint(ctx context.Context, req any) (any, error) {
	r := req.(*SnapshotRequest)
	if r.ID == "" {
		return nil, fmt.Errorf("%w: id is required", errBadRequest)
	}
	return s.history.GetSnapshot(ctx, r.ID)
}

func clampLimit(n int) int {
	switch {
	case n <= 0:
		return defaultLimit
	case n > maxLimit:
		return maxLimit
	}
	return n
}
