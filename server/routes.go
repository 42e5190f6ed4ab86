// Package server - HTTP-Schnittstelle fuer eine geladene VLM-Session
// Beinhaltet: Server-Struct, Router-Registrierung, Host-Middleware
package server

import (
	"net"
	"net/http"
	"net/netip"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/7blacky7/omnivlm/envconfig"
	"github.com/7blacky7/omnivlm/runner/llamarunner"
	"github.com/7blacky7/omnivlm/version"
	"github.com/7blacky7/omnivlm/vlm"
)

var mode string = gin.DebugMode

// Runtime ist ein geladenes Backend samt Bild-Encoder
type Runtime struct {
	Backend vlm.Backend
	Encoder vlm.ImageEncoder
	NumCtx  int
}

// LoadFunc laedt Modell und Projektor. Fehler sollten *vlm.InitializationError sein.
type LoadFunc func(params llamarunner.LoadParams) (*Runtime, error)

// loaded beschreibt die aktuell geladene Session
type loaded struct {
	session   *vlm.Session
	model     string
	projector string
	numCtx    int
	loadedAt  time.Time
}

// Server haelt hoechstens eine Session
type Server struct {
	addr net.Addr
	load LoadFunc

	// config ist die Basis-Konfiguration aus OMNIVLM_CONFIG
	config vlm.Config

	mu      sync.Mutex
	current *loaded
}

func init() {
	switch mode {
	case gin.DebugMode:
	case gin.ReleaseMode:
	case gin.TestMode:
	default:
		mode = gin.DebugMode
	}

	gin.SetMode(mode)
}

// NewServer erstellt einen Server ohne geladene Session
func NewServer(addr net.Addr, load LoadFunc, cfg vlm.Config) *Server {
	if load == nil {
		load = loadLlama
	}
	return &Server{addr: addr, load: load, config: cfg}
}

// loadLlama ist die Standard-LoadFunc auf Basis von llama.cpp
func loadLlama(params llamarunner.LoadParams) (*Runtime, error) {
	r, err := llamarunner.Load(params)
	if err != nil {
		return nil, err
	}
	return &Runtime{Backend: r, Encoder: r.Encoder(), NumCtx: r.NumCtx()}, nil
}

// session liefert die aktuelle Session oder errNoSession
func (s *Server) session() (*vlm.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil, errNoSession
	}
	return s.current.session, nil
}

// isLocalIP prueft ob die IP-Adresse zu einem lokalen Interface gehoert
func isLocalIP(ip netip.Addr) bool {
	interfaces, err := net.Interfaces()
	if err != nil {
		return false
	}

	for _, iface := range interfaces {
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, a := range addrs {
			if parsed, _, err := net.ParseCIDR(a.String()); err == nil && parsed.String() == ip.String() {
				return true
			}
		}
	}

	return false
}

// allowedHost prueft ob der Host-Header einen lokalen Namen traegt
func allowedHost(host string) bool {
	host = strings.ToLower(host)

	if host == "" || host == "localhost" {
		return true
	}

	if hostname, err := os.Hostname(); err == nil && host == strings.ToLower(hostname) {
		return true
	}

	for _, tld := range []string{"localhost", "local", "internal"} {
		if strings.HasSuffix(host, "."+tld) {
			return true
		}
	}

	return false
}

// allowedHostsMiddleware blockiert fremde Host-Header, solange nur auf Loopback gelauscht wird
func allowedHostsMiddleware(addr net.Addr) gin.HandlerFunc {
	return func(c *gin.Context) {
		if addr == nil {
			c.Next()
			return
		}

		if addr, err := netip.ParseAddrPort(addr.String()); err == nil && !addr.Addr().IsLoopback() {
			c.Next()
			return
		}

		host, _, err := net.SplitHostPort(c.Request.Host)
		if err != nil {
			host = c.Request.Host
		}

		if addr, err := netip.ParseAddr(host); err == nil {
			if addr.IsLoopback() || addr.IsPrivate() || addr.IsUnspecified() || isLocalIP(addr) {
				c.Next()
				return
			}
		}

		if allowedHost(host) {
			if c.Request.Method == http.MethodOptions {
				c.AbortWithStatus(http.StatusNoContent)
				return
			}

			c.Next()
			return
		}

		c.AbortWithStatus(http.StatusForbidden)
	}
}

// GenerateRoutes erstellt und konfiguriert den HTTP-Router
func (s *Server) GenerateRoutes() http.Handler {
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowWildcard = true
	corsConfig.AllowBrowserExtensions = true
	corsConfig.AllowHeaders = []string{
		"Authorization",
		"Content-Type",
		"User-Agent",
		"Accept",
		"X-Requested-With",
	}
	corsConfig.AllowOrigins = envconfig.AllowedOrigins()

	r := gin.Default()
	r.HandleMethodNotAllowed = true
	r.Use(
		cors.New(corsConfig),
		allowedHostsMiddleware(s.addr),
	)

	// General
	r.HEAD("/", func(c *gin.Context) { c.String(http.StatusOK, "omnivlm is running") })
	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, "omnivlm is running") })
	r.HEAD("/api/version", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"version": version.Version}) })
	r.GET("/api/version", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"version": version.Version}) })

	// Session
	r.POST("/api/load", s.LoadHandler)
	r.POST("/api/unload", s.UnloadHandler)
	r.GET("/api/status", s.StatusHandler)

	// Inferenz
	r.POST("/api/infer", s.InferHandler)

	return r
}
