package connectutil

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"connectrpc.com/connect"
)

const bearerPrefix = "Bearer "

// JSONCodec marshals plain Go structs with encoding/json so Connect services
// can be declared without generated protobuf types. It registers under the
// "json" name, replacing Connect's protojson codec on both ends.
type JSONCodec struct{}

func (JSONCodec) Name() string { return "json" }

func (JSONCodec) Marshal(msg any) ([]byte, error) {
	return json.Marshal(msg)
}

func (JSONCodec) Unmarshal(data []byte, msg any) error {
	if err := json.Unmarshal(data, msg); err != nil {
		return fmt.Errorf("decoding json message: %w", err)
	}
	return nil
}

// NewHTTPClient returns an HTTP client for Connect RPC calls. The timeout
// bounds the whole call and is the only cutoff for an in-flight request.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}

// H2CServerProtocols returns an *http.Protocols configured for both HTTP/1
// and unencrypted HTTP/2, suitable for Connect RPC servers.
func H2CServerProtocols() *http.Protocols {
	p := new(http.Protocols)
	p.SetHTTP1(true)
	p.SetUnencryptedHTTP2(true)
	return p
}

// BearerAuth returns a Connect interceptor that attaches the shared secret on
// outgoing client requests and validates it on incoming handler requests.
// An empty secret disables the check.
func BearerAuth(secret string) connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			if secret == "" {
				return next(ctx, req)
			}
			if req.Spec().IsClient {
				req.Header().Set("Authorization", bearerPrefix+secret)
				return next(ctx, req)
			}

			token := extractBearer(req.Header().Get("Authorization"))
			if subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
				return nil, connect.NewError(connect.CodeUnauthenticated, errors.New("invalid or missing authorization"))
			}
			return next(ctx, req)
		}
	}
}

func extractBearer(val string) string {
	if len(val) > len(bearerPrefix) && val[:len(bearerPrefix)] == bearerPrefix {
		return val[len(bearerPrefix):]
	}
	return ""
}
