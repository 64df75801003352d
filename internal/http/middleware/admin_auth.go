package middleware

import (
	"github.com/valyala/fasthttp"

	httpctx "tokengate/internal/http/ctx"
)

// AdminOnly rejects any request whose authenticated user is not an
// admin. Must run inside BearerAuth.
func AdminOnly(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		user, ok := httpctx.UserFromCtx(ctx)
		if !ok {
			ctx.SetStatusCode(fasthttp.StatusUnauthorized)
			ctx.SetBodyString("unauthorized")
			return
		}
		if !user.IsAdmin {
			ctx.SetStatusCode(fasthttp.StatusForbidden)
			ctx.SetBodyString("admin access required")
			return
		}
		next(ctx)
	}
}
