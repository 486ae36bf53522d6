package admin

import (
	"context"
	"time"

	"github.com/grpc-ecosystem/go-grpc-middleware"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/lnhostd/lnhost/internal/auth"
)

// identityKey is the context key an authenticated call's identity is
// stashed under, per spec §6/§4.10: every tenant RPC carries either a
// verified macaroon identity or an admin access token's scope.
type identityKey struct{}

// CallIdentity is what survives authentication into the handler: either
// a tenant macaroon's identity, or an admin token's granted scope.
type CallIdentity struct {
	Tenant *auth.Identifier
	Scope  string
}

// unauthenticatedMethods lists RPCs that never require a credential,
// per spec §4.9's "GetStatus is safe to call unauthenticated".
var unauthenticatedMethods = map[string]bool{
	"/lnhost.Admin/GetStatus": true,
}

// adminScopes maps an admin RPC's full method name to the access-token
// scope it requires, per spec §4.10 ("every admin endpoint declares a
// required scope").
var adminScopes = map[string]string{
	"/lnhost.Admin/CreateAdmin":  "admin/create",
	"/lnhost.Admin/CreateNode":   "nodes/create",
	"/lnhost.Admin/StartNode":    "nodes/start",
	"/lnhost.Admin/StopNode":     "nodes/stop",
	"/lnhost.Admin/DeleteNode":   "nodes/delete",
	"/lnhost.Admin/CreateToken":  "tokens/create",
	"/lnhost.Admin/ListTokens":   "tokens/list",
	"/lnhost.Admin/DeleteToken":  "tokens/delete",
}

// AuthInterceptor extracts a macaroon or access token from the incoming
// request's metadata (header wins over cookie when both are present)
// and authenticates it against the registry before the handler runs.
// Admin-surface RPCs are authenticated by access token and scope; every
// other RPC is authenticated by tenant macaroon.
func (r *Registry) AuthInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if unauthenticatedMethods[info.FullMethod] {
			return handler(ctx, req)
		}

		header, cookie := credentialMetadata(ctx)

		if scope, ok := adminScopes[info.FullMethod]; ok {
			raw, err := auth.ExtractCredential(header, cookie)
			if err != nil {
				return nil, status.Error(codes.Unauthenticated, err.Error())
			}
			tok, err := auth.AuthenticateToken(ctx, r.db, auth.EncodeCredential(raw), scope, time.Now().Unix())
			if err != nil {
				return nil, status.Error(codes.Unauthenticated, err.Error())
			}
			return handler(context.WithValue(ctx, identityKey{}, &CallIdentity{Scope: tok.Scope}), req)
		}

		raw, err := auth.ExtractCredential(header, cookie)
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, err.Error())
		}
		ident, err := r.VerifyMacaroon(ctx, raw)
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, err.Error())
		}
		return handler(context.WithValue(ctx, identityKey{}, &CallIdentity{Tenant: ident}), req)
	}
}

// LoggingInterceptor is a minimal request logger chained ahead of
// AuthInterceptor via grpc_middleware.ChainUnaryServer.
func LoggingInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		log.Debugf("%s took %s, err=%v", info.FullMethod, time.Since(start), err)
		return resp, err
	}
}

// ChainInterceptors composes the logging and auth interceptors into the
// single interceptor grpc.NewServer expects.
func (r *Registry) ChainInterceptors() grpc.UnaryServerInterceptor {
	return grpc_middleware.ChainUnaryServer(LoggingInterceptor(), r.AuthInterceptor())
}

// IdentityFromContext retrieves the authenticated caller a handler is
// running on behalf of, set by AuthInterceptor.
func IdentityFromContext(ctx context.Context) (*CallIdentity, bool) {
	id, ok := ctx.Value(identityKey{}).(*CallIdentity)
	return id, ok
}

func credentialMetadata(ctx context.Context) (header, cookie string) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", ""
	}
	if v := md.Get("macaroon"); len(v) > 0 {
		header = v[0]
	} else if v := md.Get("token"); len(v) > 0 {
		header = v[0]
	}
	if v := md.Get("cookie"); len(v) > 0 {
		cookie = v[0]
	}
	return header, cookie
}
