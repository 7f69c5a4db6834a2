package ledger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
)

// Registry maps organization ids to their gateways. It is immutable after
// construction and safe for concurrent use.
type Registry struct {
	gateways map[string]Gateway
	closers  []io.Closer
}

// NewRegistry builds a registry from ready gateways
func NewRegistry(gateways map[string]Gateway) *Registry {
	r := &Registry{gateways: make(map[string]Gateway, len(gateways))}
	for orgID, gw := range gateways {
		r.gateways[orgID] = gw
		if c, ok := gw.(io.Closer); ok {
			r.closers = append(r.closers, c)
		}
	}
	return r
}

// ConnectRegistry loads every organization identity and opens one Fabric
// gateway per organization
func ConnectRegistry(specs []OrganizationSpec, opts FabricOptions, logger *slog.Logger) (*Registry, error) {
	r := &Registry{gateways: make(map[string]Gateway, len(specs))}

	for _, spec := range specs {
		id, err := LoadIdentity(spec)
		if err != nil {
			r.Close()
			return nil, err
		}

		opts.Logger = logger
		gw, err := NewFabricGateway(id, opts)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("failed to create gateway for %s: %w", spec.OrgID, err)
		}

		r.gateways[spec.OrgID] = NewThrottledGateway(gw, spec.SubmitRatePerSecond, spec.SubmitBurst)
		r.closers = append(r.closers, gw)

		logger.Info("Organization registered",
			slog.String("org_id", spec.OrgID),
			slog.String("msp_id", spec.MSPID),
			slog.Float64("submit_rate_per_second", spec.SubmitRatePerSecond),
		)
	}

	return r, nil
}

// Resolve returns the gateway of orgID
func (r *Registry) Resolve(orgID string) (Gateway, error) {
	gw, ok := r.gateways[orgID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownOrganization, orgID)
	}
	return gw, nil
}

// Evaluate runs a read-only query as orgID
func (r *Registry) Evaluate(ctx context.Context, orgID, function string, args []string) ([]byte, error) {
	gw, err := r.Resolve(orgID)
	if err != nil {
		return nil, err
	}
	return gw.Evaluate(ctx, function, args)
}

// Organizations lists the registered organization ids
func (r *Registry) Organizations() []string {
	ids := make([]string, 0, len(r.gateways))
	for id := range r.gateways {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Close closes every gateway connection
func (r *Registry) Close() error {
	var errs []error
	for _, c := range r.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
