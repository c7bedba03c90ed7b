package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"connectrpc.com/connect"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sebastianm/provinggrounds/internal/connectutil"
	"github.com/sebastianm/provinggrounds/internal/controlplane"
)

// Handler serves the Connect control-plane procedures, the REST accounts
// route, VPN config generation and Prometheus metrics. secret guards the
// Connect procedures only.
func (b *Backend) Handler(secret string) http.Handler {
	opts := []connect.HandlerOption{
		connect.WithCodec(connectutil.JSONCodec{}),
		connect.WithInterceptors(connectutil.BearerAuth(secret)),
	}

	mux := http.NewServeMux()
	mux.Handle(controlplane.ProvisionProcedure, connect.NewUnaryHandler(controlplane.ProvisionProcedure, b.handleProvision, opts...))
	mux.Handle(controlplane.DeprovisionProcedure, connect.NewUnaryHandler(controlplane.DeprovisionProcedure, b.handleDeprovision, opts...))
	mux.Handle(controlplane.AccountsProcedure, connect.NewUnaryHandler(controlplane.AccountsProcedure, b.handleAccounts, opts...))

	mux.HandleFunc("GET /accounts/{container}", b.serveAccounts)
	mux.HandleFunc("POST /generate-vpn", b.serveVPN)
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

// Business failures are reported in the reply body with success=false.

func (b *Backend) handleProvision(ctx context.Context, req *connect.Request[controlplane.ProvisionCall]) (*connect.Response[controlplane.ProvisionReply], error) {
	p, err := b.Provision(ctx, req.Msg.EnvironmentID, req.Msg.Owner)
	if err != nil {
		b.log.Warn("provision refused", "environment_id", req.Msg.EnvironmentID, "error", err)
		return connect.NewResponse(&controlplane.ProvisionReply{Error: err.Error()}), nil
	}
	return connect.NewResponse(&controlplane.ProvisionReply{
		Success:           true,
		ContainerIdentity: p.ContainerID,
		LeasedAddress:     p.Address,
	}), nil
}

func (b *Backend) handleDeprovision(ctx context.Context, req *connect.Request[controlplane.DeprovisionCall]) (*connect.Response[controlplane.DeprovisionReply], error) {
	if err := b.Deprovision(ctx, req.Msg.ContainerIdentity); err != nil {
		return connect.NewResponse(&controlplane.DeprovisionReply{Error: err.Error()}), nil
	}
	return connect.NewResponse(&controlplane.DeprovisionReply{Success: true}), nil
}

func (b *Backend) handleAccounts(ctx context.Context, req *connect.Request[controlplane.AccountsCall]) (*connect.Response[controlplane.AccountsReply], error) {
	return connect.NewResponse(b.accountsReply(ctx, req.Msg.ContainerIdentity)), nil
}

func (b *Backend) accountsReply(ctx context.Context, containerID string) *controlplane.AccountsReply {
	accounts, err := b.Accounts(ctx, containerID)
	if err != nil {
		return &controlplane.AccountsReply{ContainerName: containerID, Error: err.Error()}
	}
	return &controlplane.AccountsReply{Success: true, ContainerName: containerID, Accounts: accounts}
}

func (b *Backend) serveAccounts(w http.ResponseWriter, r *http.Request) {
	reply := b.accountsReply(r.Context(), r.PathValue("container"))
	w.Header().Set("Content-Type", "application/json")
	if !reply.Success {
		w.WriteHeader(http.StatusNotFound)
	}
	_ = json.NewEncoder(w).Encode(reply)
}

type vpnRequest struct {
	UserID string `json:"user_id"`
}

func (b *Backend) serveVPN(w http.ResponseWriter, r *http.Request) {
	var req vpnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.UserID) == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/x-openvpn-profile")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "vpn-config-"+req.UserID+".ovpn"))
	fmt.Fprintf(w, ovpnTemplate, req.UserID)
	b.log.Info("vpn config generated", "user_id", req.UserID)
}

const ovpnTemplate = `# provinggrounds lab network profile for %s
client
dev tun
proto udp
remote 127.0.0.1 1194
resolv-retry infinite
nobind
persist-key
persist-tun
route 10.10.11.0 255.255.255.0
verb 3
`
