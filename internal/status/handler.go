package status

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/shirou/gopsutil/v4/host"

	"carrental.app/rentalctl/internal/platform/web"
)

type CheckStatus struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type HostInfo struct {
	Hostname string `json:"hostname"`
	OS       string `json:"os"`
	Platform string `json:"platform,omitempty"`
	Uptime   uint64 `json:"uptime_seconds"`
}

type StatusResponse struct {
	Status  string                 `json:"status"`
	Version string                 `json:"version"`
	Checks  map[string]CheckStatus `json:"checks"`
	Host    *HostInfo              `json:"host,omitempty"`
	Hosts   []string               `json:"hosts"`
}

type Handler struct {
	db       *sql.DB
	port     string
	version  string
	hostInfo func(ctx context.Context) (*host.InfoStat, error)
}

func NewHandler(db *sql.DB, port, version string) *Handler {
	return &Handler{
		db:       db,
		port:     port,
		version:  version,
		hostInfo: host.InfoWithContext,
	}
}

func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("GET /api/health/", web.Handler(h.handleHealth))
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) *web.Error {
	checks := map[string]CheckStatus{
		"database": h.checkDatabase(r.Context()),
	}

	resp := StatusResponse{
		Status:  "healthy",
		Version: h.version,
		Checks:  checks,
		Host:    h.describeHost(r.Context()),
		Hosts:   h.getAccessibleHosts(),
	}
	code := http.StatusOK
	for _, check := range checks {
		if check.Status != "healthy" {
			resp.Status = "unhealthy"
			code = http.StatusServiceUnavailable
		}
	}

	web.WriteJSON(w, code, resp)
	return nil
}

func (h *Handler) checkDatabase(ctx context.Context) CheckStatus {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	if err := h.db.PingContext(ctx); err != nil {
		return CheckStatus{Status: "unhealthy", Message: "database unreachable"}
	}
	return CheckStatus{Status: "healthy", Message: "ok"}
}

// 호스트 정보 조회 실패는 헬스 상태에 영향을 주지 않는다
func (h *Handler) describeHost(ctx context.Context) *HostInfo {
	info, err := h.hostInfo(ctx)
	if err != nil || info == nil {
		return nil
	}
	return &HostInfo{
		Hostname: info.Hostname,
		OS:       info.OS,
		Platform: info.Platform,
		Uptime:   info.Uptime,
	}
}

func (h *Handler) getAccessibleHosts() []string {
	hosts := []string{fmt.Sprintf("localhost:%s", h.port)}

	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return hosts
	}

	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() || ipNet.IP.To4() == nil {
			continue
		}
		hosts = append(hosts, fmt.Sprintf("%s:%s", ipNet.IP.String(), h.port))
	}

	return hosts
}
