// Package scanner lists the contracts deployed on a running lab's chain.
//
// Every lab container exposes an Ethereum JSON-RPC node. A scan reads the
// latest block number, walks back over a fixed window of blocks and keeps
// the transactions without a recipient whose receipt names the created
// contract.
package scanner

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/sebastianm/provinggrounds/internal/metrics"
)

const (
	DefaultScheme = "https"
	DefaultPort   = 8545
	// DefaultWindow is how many blocks before the latest one a scan covers.
	DefaultWindow = 50
)

// ErrNoAddress is returned when a scan is asked for without a node address.
var ErrNoAddress = errors.New("no lab address to scan")

// Deployment is one contract creation found on chain.
type Deployment struct {
	TxHash          string
	Block           uint64
	From            string
	ContractAddress string
	Gas             uint64
	GasUsed         uint64
}

type Options struct {
	Scheme string
	Port   int
	Window uint64
	// HTTPClient defaults to a client with a 10s timeout. Lab nodes use
	// self-signed certificates, see InsecureClient.
	HTTPClient *http.Client
	Log        *slog.Logger
}

type Scanner struct {
	scheme string
	port   int
	window uint64
	http   *http.Client
	log    *slog.Logger
	tracer trace.Tracer
}

func New(opts Options) *Scanner {
	if opts.Scheme == "" {
		opts.Scheme = DefaultScheme
	}
	if opts.Port <= 0 {
		opts.Port = DefaultPort
	}
	if opts.Window == 0 {
		opts.Window = DefaultWindow
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	return &Scanner{
		scheme: opts.Scheme,
		port:   opts.Port,
		window: opts.Window,
		http:   opts.HTTPClient,
		log:    opts.Log.With("component", "scanner"),
		tracer: otel.Tracer("github.com/sebastianm/provinggrounds/internal/scanner"),
	}
}

// InsecureClient returns an HTTP client that accepts the lab nodes'
// self-signed certificates.
func InsecureClient(timeout time.Duration) *http.Client {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // lab nodes are throwaway
	return &http.Client{Timeout: timeout, Transport: tr}
}

// URL is the JSON-RPC endpoint of the node at address.
func (s *Scanner) URL(address string) string {
	return s.scheme + "://" + net.JoinHostPort(address, strconv.Itoa(s.port))
}

// Window is the number of blocks behind the latest one that a scan covers.
func (s *Scanner) Window() uint64 { return s.window }

// Scan lists contract deployments in the last Window blocks of the node at
// address, oldest first. Any failed call aborts the whole scan.
func (s *Scanner) Scan(ctx context.Context, address string) (_ []Deployment, err error) {
	if address == "" {
		return nil, ErrNoAddress
	}
	url := s.URL(address)
	ctx, span := s.tracer.Start(ctx, "scanner.scan", trace.WithAttributes(attribute.String("rpc_url", url)))
	started := time.Now()
	defer func() {
		result := "success"
		if err != nil {
			result = "failure"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		metrics.ContractScansTotal.WithLabelValues(result).Inc()
		metrics.ContractScanDuration.Observe(time.Since(started).Seconds())
		span.End()
	}()

	rpc := &rpcClient{url: url, http: s.http}
	latest, err := rpc.blockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", url, err)
	}
	first := uint64(0)
	if latest > s.window {
		first = latest - s.window
	}
	span.SetAttributes(attribute.Int64("first_block", int64(first)), attribute.Int64("latest_block", int64(latest)))

	var found []Deployment
	for n := first; n <= latest; n++ {
		block, err := rpc.blockByNumber(ctx, n)
		if err != nil {
			return nil, fmt.Errorf("scanning %s: block %d: %w", url, n, err)
		}
		if block == nil {
			continue
		}
		for _, tx := range block.Transactions {
			if tx.To != nil {
				continue
			}
			d, ok, err := s.deployment(ctx, rpc, n, tx)
			if err != nil {
				return nil, fmt.Errorf("scanning %s: tx %s: %w", url, tx.Hash, err)
			}
			if ok {
				found = append(found, d)
			}
		}
	}

	s.log.Debug("scan finished", "url", url, "first_block", first, "latest_block", latest, "contracts", len(found))
	return found, nil
}

func (s *Scanner) deployment(ctx context.Context, rpc *rpcClient, block uint64, tx rpcTransaction) (Deployment, bool, error) {
	receipt, err := rpc.transactionReceipt(ctx, tx.Hash)
	if err != nil {
		return Deployment{}, false, err
	}
	if receipt == nil || receipt.ContractAddress == nil || *receipt.ContractAddress == "" {
		return Deployment{}, false, nil
	}

	d := Deployment{
		TxHash:          tx.Hash,
		Block:           block,
		From:            tx.From,
		ContractAddress: *receipt.ContractAddress,
	}
	if tx.BlockNumber != "" {
		if d.Block, err = parseQuantity(tx.BlockNumber); err != nil {
			return Deployment{}, false, err
		}
	}
	if d.Gas, err = parseQuantity(tx.Gas); err != nil {
		return Deployment{}, false, err
	}
	if d.GasUsed, err = parseQuantity(receipt.GasUsed); err != nil {
		return Deployment{}, false, err
	}
	return d, true, nil
}
