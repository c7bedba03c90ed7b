package controlplane

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"connectrpc.com/connect"

	"github.com/sebastianm/provinggrounds/internal/connectutil"
	"github.com/sebastianm/provinggrounds/internal/metrics"
)

// ConnectClient calls the control plane over Connect unary RPCs.
type ConnectClient struct {
	provision   *connect.Client[ProvisionCall, ProvisionReply]
	deprovision *connect.Client[DeprovisionCall, DeprovisionReply]
	accounts    *connect.Client[AccountsCall, AccountsReply]
}

// NewConnectClient creates a client for the backend at baseURL. secret is
// sent as a bearer token; timeout bounds every call.
func NewConnectClient(baseURL, secret string, timeout time.Duration) *ConnectClient {
	httpClient := connectutil.NewHTTPClient(timeout)
	baseURL = strings.TrimRight(baseURL, "/")
	opts := []connect.ClientOption{
		connect.WithCodec(connectutil.JSONCodec{}),
		connect.WithInterceptors(connectutil.BearerAuth(secret)),
	}

	return &ConnectClient{
		provision:   connect.NewClient[ProvisionCall, ProvisionReply](httpClient, baseURL+ProvisionProcedure, opts...),
		deprovision: connect.NewClient[DeprovisionCall, DeprovisionReply](httpClient, baseURL+DeprovisionProcedure, opts...),
		accounts:    connect.NewClient[AccountsCall, AccountsReply](httpClient, baseURL+AccountsProcedure, opts...),
	}
}

func (c *ConnectClient) Provision(ctx context.Context, req ProvisionRequest) (Provisioned, error) {
	resp, err := c.provision.CallUnary(ctx, connect.NewRequest(&ProvisionCall{
		EnvironmentID: req.EnvironmentID,
		Owner:         req.Owner,
	}))
	if err != nil {
		return Provisioned{}, classify("provision", err)
	}

	msg := resp.Msg
	if !msg.Success {
		return Provisioned{}, rejected("provision", msg.Error)
	}
	if msg.ContainerIdentity == "" || msg.LeasedAddress == "" {
		return Provisioned{}, rejected("provision", "reply is missing container identity or address")
	}
	metrics.ControlPlaneCallsTotal.WithLabelValues("provision", "ok").Inc()
	return Provisioned{ContainerID: msg.ContainerIdentity, Address: msg.LeasedAddress}, nil
}

func (c *ConnectClient) Deprovision(ctx context.Context, containerID string) error {
	resp, err := c.deprovision.CallUnary(ctx, connect.NewRequest(&DeprovisionCall{ContainerIdentity: containerID}))
	if err != nil {
		return classify("deprovision", err)
	}
	if !resp.Msg.Success {
		return rejected("deprovision", resp.Msg.Error)
	}
	metrics.ControlPlaneCallsTotal.WithLabelValues("deprovision", "ok").Inc()
	return nil
}

func (c *ConnectClient) Accounts(ctx context.Context, containerID string) ([]Account, error) {
	resp, err := c.accounts.CallUnary(ctx, connect.NewRequest(&AccountsCall{ContainerIdentity: containerID}))
	if err != nil {
		return nil, classify("accounts", err)
	}
	if !resp.Msg.Success {
		return nil, rejected("accounts", resp.Msg.Error)
	}
	metrics.ControlPlaneCallsTotal.WithLabelValues("accounts", "ok").Inc()
	return resp.Msg.Accounts, nil
}

func rejected(procedure, reason string) error {
	metrics.ControlPlaneCallsTotal.WithLabelValues(procedure, "rejected").Inc()
	if reason == "" {
		reason = "no reason given"
	}
	return fmt.Errorf("%s: %w: %s", procedure, ErrRejected, reason)
}

// classify maps a Connect error onto the two failure classes. Codes that
// mean the backend understood and refused the call count as rejections;
// everything else means the backend could not answer.
func classify(procedure string, err error) error {
	switch connect.CodeOf(err) {
	case connect.CodeInvalidArgument, connect.CodeFailedPrecondition, connect.CodeNotFound,
		connect.CodeAlreadyExists, connect.CodePermissionDenied, connect.CodeUnauthenticated,
		connect.CodeResourceExhausted:
		metrics.ControlPlaneCallsTotal.WithLabelValues(procedure, "rejected").Inc()
		var ce *connect.Error
		if errors.As(err, &ce) {
			return fmt.Errorf("%s: %w: %s", procedure, ErrRejected, ce.Message())
		}
		return fmt.Errorf("%s: %w: %w", procedure, ErrRejected, err)
	}
	metrics.ControlPlaneCallsTotal.WithLabelValues(procedure, "unavailable").Inc()
	return fmt.Errorf("%s: %w: %w", procedure, ErrUnavailable, err)
}
