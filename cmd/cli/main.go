package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
)

// Interactive helper for registering a target against a running instance.
func main() {
	api := os.Getenv("API_BASE")
	if api == "" {
		api = "http://localhost:8080"
	}
	adminKey := os.Getenv("ADMIN_API_KEY")

	reader := bufio.NewReader(os.Stdin)

	fmt.Print("Enter the service URL to keep alive (e.g., https://myapp.onrender.com): ")
	raw, _ := reader.ReadString('\n')
	raw = strings.TrimSpace(raw)
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	if _, err := url.ParseRequestURI(raw); err != nil {
		fmt.Println("Invalid URL.")
		return
	}

	fmt.Print("Provider (render/koyeb): ")
	prov, _ := reader.ReadString('\n')
	prov = strings.TrimSpace(strings.ToLower(prov))
	if prov == "" {
		prov = "render"
	}

	fmt.Print("Deploy hook URL (empty to skip auto redeploy): ")
	hook, _ := reader.ReadString('\n')
	hook = strings.TrimSpace(hook)

	payload := map[string]any{
		"url":      raw,
		"provider": prov,
	}
	if hook != "" {
		payload["deploy_hook"] = hook
	}

	body, _ := json.Marshal(payload)
	req, err := http.NewRequest(http.MethodPost, api+"/api/targets", bytes.NewReader(body))
	if err != nil {
		fmt.Println("Error building request:", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if adminKey != "" {
		req.Header.Set("X-API-Key", adminKey)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Println("Error contacting API:", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		fmt.Println("Added! Check GET /api/targets for health.")
		return
	}
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	fmt.Printf("API returned %s: %s\n", resp.Status, strings.TrimSpace(string(msg)))
}
