package commands

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"campuschat/internal/api"
	"campuschat/internal/auth"
	"campuschat/internal/config"
)

// IssueToken asks the running server's admin API for a token for userID and
// prints it together with a ready-to-use gateway URL.
func IssueToken(userID string, cfg *config.Config, out io.Writer) error {
	reqBody, err := json.Marshal(api.IssueTokenRequest{UserID: userID})
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
		return fmt.Errorf("failed to issue token (Status: %d): %s", resp.StatusCode, string(body))
	}

	var result auth.TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	fmt.Fprintf(out, "\nToken issued!\n")
	fmt.Fprintf(out, "User ID:  %s\n", result.UserID)
	fmt.Fprintf(out, "Expires:  %s\n", time.Unix(result.TokenExpiry, 0).UTC().Format(time.RFC3339))
	fmt.Fprintf(out, "Token:    %s\n\n", result.Token)
	fmt.Fprintf(out, "Connect with: ws://%s/ws?token=%s\n", cfg.APIAddr, result.Token)
	return nil
}
