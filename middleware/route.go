package middleware

import (
	"github.com/gin-gonic/gin"
)

// RouteOpt configures a route registration; Auth, when set, runs before the
// handler.
type RouteOpt struct {
	Auth gin.HandlerFunc
}

func POST(r gin.IRoutes, path string, handler gin.HandlerFunc, opt RouteOpt) {
	if opt.Auth != nil {
		r.POST(path, opt.Auth, handler)
	} else {
		r.POST(path, handler)
	}
}

func GET(r gin.IRoutes, path string, handler gin.HandlerFunc, opt RouteOpt) {
	if opt.Auth != nil {
		r.GET(path, opt.Auth, handler)
	} else {
		r.GET(path, handler)
	}
}
