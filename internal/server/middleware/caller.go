package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// CallerHeader carries the wallet address of the acting user.
const CallerHeader = "X-Wallet-Address"

type callerKey struct{}

// Caller returns middleware that reads the acting wallet from CallerHeader,
// converts it to checksum form and stores it on the request context.
// Requests without the header pass through anonymously; a malformed
// address is rejected with 400.
//
// The header is not authenticated: any client can claim any wallet, so
// Caller is not an auth boundary. Authorization belongs to the Ledger
// signer and the API key middleware.
func Caller() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimSpace(r.Header.Get(CallerHeader))
			if raw == "" {
				next.ServeHTTP(w, r)
				return
			}
			if !common.IsHexAddress(raw) {
				w.Header().Set("Content-Type", "application/json; charset=utf-8")
				w.WriteHeader(http.StatusBadRequest)
				w.Write([]byte(`{"error":"invalid ` + CallerHeader + ` header"}`))
				return
			}
			ctx := WithCaller(r.Context(), common.HexToAddress(raw).Hex())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// WithCaller attaches caller to ctx.
func WithCaller(ctx context.Context, caller string) context.Context {
	return context.WithValue(ctx, callerKey{}, caller)
}

// CallerFrom returns the wallet stored by Caller. The value is whatever the
// client claimed and proves nothing about who sent the request.
func CallerFrom(ctx context.Context) (string, bool) {
	c, ok := ctx.Value(callerKey{}).(string)
	return c, ok && c != ""
}
