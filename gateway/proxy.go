package main

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/pavitra93/go-school-tenancy/shared/gate"
	"github.com/pavitra93/go-school-tenancy/shared/middleware"
	"github.com/pavitra93/go-school-tenancy/shared/utils"
)

// hopHeaders are not forwarded in either direction
var hopHeaders = map[string]bool{
	"Connection":        true,
	"Keep-Alive":        true,
	"Transfer-Encoding": true,
	"Upgrade":           true,
	"Content-Length":    true,
}

// accountHeaders are set only by the gateway, from verified claims
var accountHeaders = []string{"X-Account-ID", "X-Account-Email", "X-Account-Role", "X-Tenant-ID"}

// ServiceClient handles HTTP communication with a backend service
type ServiceClient struct {
	name        string
	baseURL     string
	stripPrefix string
	httpClient  *http.Client
	log         logrus.FieldLogger
}

// ServiceClients holds all service clients
type ServiceClients struct {
	AuthService     *ServiceClient
	TenantService   *ServiceClient
	FrontendService *ServiceClient
}

// NewServiceClient creates a client for the service at baseURL. Request paths
// lose stripPrefix before being forwarded.
func NewServiceClient(name, baseURL, stripPrefix string, log logrus.FieldLogger) *ServiceClient {
	return &ServiceClient{
		name:        name,
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		stripPrefix: stripPrefix,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			// Redirects belong to the browser
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		log: log,
	}
}

// ProxyRequest forwards the request to the service and relays its response
func (sc *ServiceClient) ProxyRequest(c *gin.Context) {
	path := strings.TrimPrefix(gate.CleanPath(c.Request.URL.Path), sc.stripPrefix)
	if path == "" {
		path = "/"
	}
	targetURL := sc.baseURL + path
	if c.Request.URL.RawQuery != "" {
		targetURL += "?" + c.Request.URL.RawQuery
	}

	var body io.Reader
	if c.Request.Body != nil {
		bodyBytes, err := io.ReadAll(c.Request.Body)
		if err != nil {
			utils.InternalServerErrorResponse(c, "Failed to read request body")
			return
		}
		body = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(c.Request.Context(), c.Request.Method, targetURL, body)
	if err != nil {
		utils.InternalServerErrorResponse(c, "Failed to create request")
		return
	}

	copyHeaders(req.Header, c.Request.Header)
	for _, h := range accountHeaders {
		req.Header.Del(h)
	}
	req.Header.Set("X-Forwarded-For", c.ClientIP())

	// Add account context headers
	if claims, ok := middleware.ClaimsFromContext(c); ok {
		req.Header.Set("X-Account-ID", claims.AccountID)
		req.Header.Set("X-Account-Email", claims.Email)
		req.Header.Set("X-Account-Role", string(claims.Role))
		if claims.TenantID != "" {
			req.Header.Set("X-Tenant-ID", claims.TenantID)
		}
	}

	resp, err := sc.httpClient.Do(req)
	if err != nil {
		sc.log.WithError(err).WithField("service", sc.name).Warn("Upstream request failed")
		utils.ServiceUnavailableResponse(c, "Failed to communicate with service")
		return
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		utils.InternalServerErrorResponse(c, "Failed to read response")
		return
	}

	copyHeaders(c.Writer.Header(), resp.Header)
	c.Data(resp.StatusCode, resp.Header.Get("Content-Type"), responseBody)
}

func copyHeaders(dst, src http.Header) {
	for key, values := range src {
		if hopHeaders[http.CanonicalHeaderKey(key)] {
			continue
		}
		for _, value := range values {
			dst.Add(key, value)
		}
	}
}

// Route picks the backend for a request by path prefix. API calls go to the
// service that owns them and everything else to the frontend.
func (scs *ServiceClients) Route(c *gin.Context) {
	path := gate.CleanPath(c.Request.URL.Path)
	switch {
	case hasPathPrefix(path, "/api/auth"):
		scs.AuthService.ProxyRequest(c)
	case hasPathPrefix(path, "/api/tenants"):
		scs.TenantService.ProxyRequest(c)
	case strings.HasPrefix(path, "/api/") || scs.FrontendService == nil:
		utils.NotFoundResponse(c, "Not found")
	default:
		scs.FrontendService.ProxyRequest(c)
	}
}

func hasPathPrefix(path, prefix string) bool {
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}

// HealthCheck checks if a service is healthy
func (sc *ServiceClient) HealthCheck() error {
	req, err := http.NewRequest(http.MethodGet, sc.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := sc.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("service returned status %d", resp.StatusCode)
	}

	return nil
}

// GetServiceStatus returns the status of all backend services
func (scs *ServiceClients) GetServiceStatus() map[string]interface{} {
	status := make(map[string]interface{})
	for _, sc := range []*ServiceClient{scs.AuthService, scs.TenantService} {
		if sc == nil {
			continue
		}
		if err := sc.HealthCheck(); err != nil {
			status[sc.name] = map[string]interface{}{
				"healthy": false,
				"error":   err.Error(),
			}
			continue
		}
		status[sc.name] = map[string]interface{}{
			"healthy": true,
		}
	}
	return status
}
