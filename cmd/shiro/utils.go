package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"
	"github.com/urfave/cli/v2"
	"golang.org/x/term"
)

const (
	timeout              = 2 * time.Minute
	idempotencyKeyHeader = "Idempotency-Key"
)

type apiError struct {
	Name     string            `json:"name"`
	Message  string            `json:"message"`
	Metadata map[string]string `json:"metadata"`
}

func (e apiError) Error() string {
	if len(e.Metadata) <= 0 {
		return fmt.Sprintf("%s: %s", e.Name, e.Message)
	}
	buf, _ := json.Marshal(e.Metadata)
	return fmt.Sprintf("%s: %s %s", e.Name, e.Message, buf)
}

func baseURL(ctx *cli.Context) string {
	if !ctx.IsSet(urlFlagName) {
		if u := viper.GetString(urlFlagName); u != "" {
			return strings.TrimSuffix(u, "/")
		}
	}
	return strings.TrimSuffix(ctx.String(urlFlagName), "/")
}

func post[T any](ctx *cli.Context, path string, body any) (T, error) {
	return do[T](ctx, http.MethodPost, path, body)
}

func put[T any](ctx *cli.Context, path string, body any) (T, error) {
	return do[T](ctx, http.MethodPut, path, body)
}

func get[T any](ctx *cli.Context, path string) (T, error) {
	return do[T](ctx, http.MethodGet, path, nil)
}

func del[T any](ctx *cli.Context, path string, body any) (T, error) {
	return do[T](ctx, http.MethodDelete, path, body)
}

// do sends the request and decodes the json response into T.
// Mutating requests carry a fresh idempotency key so that retries by proxies are harmless.
func do[T any](ctx *cli.Context, method, path string, body any) (result T, err error) {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return result, err
		}
		reader = strings.NewReader(string(buf))
	}

	req, err := http.NewRequestWithContext(ctx.Context, method, baseURL(ctx)+path, reader)
	if err != nil {
		return
	}
	req.Header.Add("Content-Type", "application/json")
	if method != http.MethodGet {
		req.Header.Add(idempotencyKeyHeader, uuid.NewString())
	}

	client := &http.Client{Timeout: timeout}
	resp, err := client.Do(req)
	if err != nil {
		return
	}
	// nolint
	defer resp.Body.Close()

	buf, err := io.ReadAll(resp.Body)
	if err != nil {
		return
	}
	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := apiError{}
		if err := json.Unmarshal(buf, &apiErr); err != nil || apiErr.Name == "" {
			return result, fmt.Errorf("%s %s failed: %s", method, path, string(buf))
		}
		return result, apiErr
	}

	if err = json.Unmarshal(buf, &result); err != nil {
		return
	}
	return
}

// streamEvents prints the transfer events until the server closes the stream.
func streamEvents(ctx *cli.Context, topics []string) error {
	path := "/wallet/events"
	if len(topics) > 0 {
		path += "?topics=" + url.QueryEscape(strings.Join(topics, ","))
	}
	req, err := http.NewRequestWithContext(ctx.Context, http.MethodGet, baseURL(ctx)+path, nil)
	if err != nil {
		return err
	}
	req.Header.Add("Accept", "text/event-stream")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	// nolint
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		buf, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("failed to open event stream: %s", string(buf))
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		var event map[string]any
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			return fmt.Errorf("invalid event: %s", err)
		}
		if err := printJSON(event); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func readPassword(ctx *cli.Context) (string, error) {
	password := ctx.String(passwordFlagName)
	if len(password) == 0 {
		fmt.Print("wallet password: ")
		buf, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err != nil {
			return "", err
		}
		password = string(buf)
	}
	return password, nil
}

func printJSON(resp interface{}) error {
	jsonBytes, err := json.MarshalIndent(resp, "", "\t")
	if err != nil {
		return err
	}
	fmt.Println(string(jsonBytes))
	return nil
}
