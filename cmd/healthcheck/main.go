package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"order-gateway/internal/engine"
	"order-gateway/pkg/config"
)

type HealthStatus struct {
	Service   string    `json:"service"`
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type HealthReport struct {
	Overall  string         `json:"overall"`
	Services []HealthStatus `json:"services"`
}

func main() {
	jsonOut := flag.Bool("json", false, "print the report as JSON")
	base := flag.String("url", "", "gateway base URL (default derived from HTTP_ADDR)")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	cfgStatus, cfg := checkConfig()
	report := HealthReport{Overall: "HEALTHY", Services: []HealthStatus{cfgStatus}}

	url := *base
	if url == "" && cfg != nil {
		url = baseURL(cfg.HTTPAddr)
	}
	if url != "" {
		client := &http.Client{Timeout: 5 * time.Second}
		report.Services = append(report.Services,
			checkAPIServer(ctx, client, url),
			checkGateway(ctx, client, url),
		)
	}

	report.Overall = overall(report.Services)

	if *jsonOut {
		jsonData, _ := json.MarshalIndent(report, "", "  ")
		fmt.Println(string(jsonData))
	} else {
		fmt.Println("Order Gateway Health Check")
		fmt.Println("==========================")
		for _, svc := range report.Services {
			fmt.Printf("%-4s %-14s %-9s %s\n", icon(svc.Status), svc.Service, svc.Status, svc.Message)
		}
		fmt.Printf("\nOverall Status: %s\n", report.Overall)
	}

	if report.Overall == "UNHEALTHY" {
		os.Exit(1)
	}
}

func overall(services []HealthStatus) string {
	result := "HEALTHY"
	for _, svc := range services {
		switch svc.Status {
		case "UNHEALTHY":
			return "UNHEALTHY"
		case "DEGRADED":
			result = "DEGRADED"
		}
	}
	return result
}

func icon(status string) string {
	switch status {
	case "UNHEALTHY":
		return "[x]"
	case "DEGRADED":
		return "[!]"
	}
	return "[ok]"
}

// baseURL turns a listen address such as ":8080" into a local URL.
func baseURL(addr string) string {
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr
}

func checkConfig() (HealthStatus, *config.Config) {
	status := HealthStatus{Service: "Configuration", Status: "HEALTHY", Timestamp: time.Now()}

	cfg, err := config.Load()
	if err != nil {
		status.Status = "UNHEALTHY"
		status.Message = fmt.Sprintf("Failed to load: %v", err)
		return status, nil
	}
	status.Message = fmt.Sprintf("addr=%s window=%s-%s %s", cfg.HTTPAddr, cfg.SessionStart, cfg.SessionEnd, cfg.SessionTimezone)
	return status, cfg
}

func checkAPIServer(ctx context.Context, client *http.Client, base string) HealthStatus {
	status := HealthStatus{Service: "API Server", Status: "HEALTHY", Timestamp: time.Now()}

	resp, err := get(ctx, client, base+"/health")
	if err != nil {
		status.Status = "UNHEALTHY"
		status.Message = fmt.Sprintf("Not reachable: %v", err)
		return status
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		status.Status = "DEGRADED"
		status.Message = fmt.Sprintf("HTTP %d", resp.StatusCode)
		return status
	}
	status.Message = "Running"
	return status
}

// checkGateway reports session state and backlog. A closed session is
// normal outside trading hours and does not degrade the result.
func checkGateway(ctx context.Context, client *http.Client, base string) HealthStatus {
	status := HealthStatus{Service: "Gateway", Status: "HEALTHY", Timestamp: time.Now()}

	resp, err := get(ctx, client, base+"/api/status")
	if err != nil {
		status.Status = "UNHEALTHY"
		status.Message = fmt.Sprintf("Not reachable: %v", err)
		return status
	}
	defer resp.Body.Close()

	var st engine.Status
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		status.Status = "DEGRADED"
		status.Message = fmt.Sprintf("Bad status payload: %v", err)
		return status
	}
	status.Message = fmt.Sprintf("session=%s pending=%d inflight=%d responses=%d",
		st.Session, st.Pending, st.InFlight, st.Responses)
	return status
}

func get(ctx context.Context, client *http.Client, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return client.Do(req)
}
