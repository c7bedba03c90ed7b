package vpn

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate(t *testing.T) {
	ctx := context.Background()

	t.Run("posts user id and returns body", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			var req map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "0xabc", req["user_id"])
			_, _ = w.Write([]byte("client\ndev tun\n"))
		}))
		defer srv.Close()

		profile, err := NewClient(srv.URL, srv.Client()).Generate(ctx, "0xabc")
		require.NoError(t, err)
		assert.Equal(t, "client\ndev tun\n", string(profile))
	})

	t.Run("requires subject", func(t *testing.T) {
		_, err := NewClient("http://unused", nil).Generate(ctx, " ")
		assert.ErrorIs(t, err, ErrNoSubject)
	})

	t.Run("non-200 fails", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		}))
		defer srv.Close()

		_, err := NewClient(srv.URL, nil).Generate(ctx, "0xabc")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "500")
	})
}

func TestFilename(t *testing.T) {
	assert.Equal(t, "vpn-config-0xabc.ovpn", Filename("0xabc"))
}
