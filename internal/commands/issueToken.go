package commands

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"fitchat/internal/auth"
	"fitchat/internal/config"
)

// IssueToken asks the running server's admin API for a bearer token and
// prints it.
func IssueToken(username string, cfg *config.Config, out io.Writer) error {
	reqBody, err := json.Marshal(auth.IssueTokenRequest{Username: username})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("http://%s/admin/tokens", cfg.AdminAddr)
	resp, err := http.Post(url, "application/json", bytes.NewBuffer(reqBody))
	if err != nil {
		return fmt.Errorf("failed to call admin API: %w. Is the server running?", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("failed to issue token (Status: %d): %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	var result auth.TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	fmt.Fprintf(out, "\nToken Issued Successfully!\n")
	fmt.Fprintf(out, "Username:  %s\n", result.Username)
	fmt.Fprintf(out, "Token:     %s\n", result.Token)
	fmt.Fprintf(out, "Expires:   %s\n\n", time.Unix(result.ExpiresAt, 0).Format(time.RFC3339))
	return nil
}
