package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// adminClient talks to a running origin's admin API.
type adminClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func adminClientFromFlags(cmd *cobra.Command) *adminClient {
	server, _ := cmd.Flags().GetString("server")
	token, _ := cmd.Flags().GetString("admin-token")
	if token == "" {
		token = os.Getenv("COLDSTORE_ADMIN_TOKEN")
	}
	return &adminClient{
		baseURL: server,
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *adminClient) get(path string, out interface{}) error {
	return c.do(http.MethodGet, path, nil, out)
}

func (c *adminClient) post(path string, in, out interface{}) error {
	return c.do(http.MethodPost, path, in, out)
}

func (c *adminClient) do(method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach origin at %s: %v", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("origin returned %d: %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("origin returned status %d", resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
