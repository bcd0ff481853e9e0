// Command test_integration smoke-tests a running `annals serve` instance.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"
)

func main() {
	baseURL := os.Getenv("ANNALS_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	name := os.Getenv("ANNALS_PERSON")
	if name == "" {
		name = "朱温"
	}

	// Wait for server to start
	time.Sleep(2 * time.Second)

	fmt.Println("Starting API smoke test against", baseURL)

	steps := []struct {
		label, method, path string
		payload             any
	}{
		{"health", http.MethodGet, "/healthz", nil},
		{"stats", http.MethodGet, "/stats", nil},
		{"person lookup", http.MethodGet, "/persons?name=" + url.QueryEscape(name), nil},
		{"search", http.MethodPost, "/search", map[string]any{"query": name, "limit": 5}},
		{"metrics", http.MethodGet, "/metrics", nil},
	}
	for i, s := range steps {
		fmt.Printf("%d. %s...\n", i+1, s.label)
		if !sendRequest(baseURL, s.method, s.path, s.payload) {
			fmt.Println("FAILED:", s.label)
			os.Exit(1)
		}
		fmt.Println("PASSED:", s.label)
	}
}

func sendRequest(baseURL, method, endpoint string, payload any) bool {
	var body io.Reader
	if payload != nil {
		jsonBytes, _ := json.Marshal(payload)
		body = bytes.NewBuffer(jsonBytes)
	}

	req, err := http.NewRequest(method, baseURL+endpoint, body)
	if err != nil {
		fmt.Printf("Error creating request: %v\n", err)
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		fmt.Printf("Error sending request: %v\n", err)
		return false
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		fmt.Printf("Request failed with status %d: %s\n", resp.StatusCode, string(respBody))
		return false
	}
	if len(respBody) > 400 {
		respBody = respBody[:400]
	}
	fmt.Printf("Response: %s\n", string(respBody))
	return true
}
