/*
Copyright 2025 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Command rewire-ctl is the administration CLI for a running
// rewire-server: it creates and toggles expectations over the
// bearer-guarded /admin/* routes.
package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "rewire-ctl:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		return usageError()
	}
	cmd, rest := args[0], args[1:]

	switch cmd {
	case "new-schedule":
		return newSchedule(rest)
	case "new-alertpath":
		return newAlertPath(rest)
	case "enable":
		return setEnabled(rest, true)
	case "disable":
		return setEnabled(rest, false)
	default:
		return fmt.Errorf("unknown command %q: %w", cmd, usageError())
	}
}

func usageError() error {
	return fmt.Errorf(`usage: rewire-ctl <command> [flags]

commands:
  new-schedule    create a schedule expectation
  new-alertpath   create an alert-path expectation
  enable          enable an expectation
  disable         disable an expectation

every command additionally requires --base-url and --admin-token`)
}

func newSchedule(args []string) error {
	fs := pflag.NewFlagSet("new-schedule", pflag.ExitOnError)
	baseURL := fs.String("base-url", "", "rewire server URL")
	token := fs.String("admin-token", "", "admin API token")
	name := fs.String("name", "", "expectation name")
	email := fs.String("email", "", "owner email")
	expectedIntervalS := fs.Int64("expected-interval-s", 0, "expected interval between runs, seconds")
	toleranceS := fs.Int64("tolerance-s", 0, "grace period, seconds")
	maxRuntimeS := fs.Int64("max-runtime-s", 0, "max runtime before a longrun violation, 0 disables")
	minSpacingS := fs.Int64("min-spacing-s", 0, "min gap between runs, 0 disables")
	allowOverlap := fs.Bool("allow-overlap", false, "allow overlapping runs")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *name == "" || *email == "" || *expectedIntervalS == 0 {
		return fmt.Errorf("--name, --email and --expected-interval-s are required")
	}

	params, err := json.Marshal(map[string]any{
		"max_runtime_s": *maxRuntimeS,
		"min_spacing_s": *minSpacingS,
		"allow_overlap": *allowOverlap,
	})
	if err != nil {
		return err
	}

	out, err := postAdmin(*baseURL, *token, "/admin/new", url.Values{
		"type":                {"schedule"},
		"name":                {*name},
		"email":               {*email},
		"expected_interval_s": {strconv.FormatInt(*expectedIntervalS, 10)},
		"tolerance_s":         {strconv.FormatInt(*toleranceS, 10)},
		"params_json":         {string(params)},
	})
	if err != nil {
		return err
	}
	printResult(out)
	fmt.Println("\nInstrument your job:")
	fmt.Printf("  curl -fsS -X POST %q -d kind=start\n", out["observe_url"])
	fmt.Println("  # ... do work ...")
	fmt.Printf("  curl -fsS -X POST %q -d kind=end\n", out["observe_url"])
	return nil
}

func newAlertPath(args []string) error {
	fs := pflag.NewFlagSet("new-alertpath", pflag.ExitOnError)
	baseURL := fs.String("base-url", "", "rewire server URL")
	token := fs.String("admin-token", "", "admin API token")
	name := fs.String("name", "", "expectation name")
	email := fs.String("email", "", "owner email")
	testIntervalS := fs.Int64("test-interval-s", 0, "how often to send synthetic tests")
	ackWindowS := fs.Int64("ack-window-s", 0, "time allowed to acknowledge")
	expectedIntervalS := fs.Int64("expected-interval-s", 3600, "expected interval, seconds")
	toleranceS := fs.Int64("tolerance-s", 0, "grace period, seconds")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *name == "" || *email == "" || *testIntervalS == 0 || *ackWindowS == 0 {
		return fmt.Errorf("--name, --email, --test-interval-s and --ack-window-s are required")
	}

	params, err := json.Marshal(map[string]any{
		"test_interval_s": *testIntervalS,
		"ack_window_s":    *ackWindowS,
	})
	if err != nil {
		return err
	}

	out, err := postAdmin(*baseURL, *token, "/admin/new", url.Values{
		"type":                {"alert_path"},
		"name":                {*name},
		"email":               {*email},
		"expected_interval_s": {strconv.FormatInt(*expectedIntervalS, 10)},
		"tolerance_s":         {strconv.FormatInt(*toleranceS, 10)},
		"params_json":         {string(params)},
	})
	if err != nil {
		return err
	}
	printResult(out)
	fmt.Println("\nSynthetic tests will be sent to", *email)
	fmt.Println("ACK via the /ack/<trial> link in each email.")
	return nil
}

func setEnabled(args []string, enabled bool) error {
	name := "enable"
	route := "/admin/enable"
	if !enabled {
		name = "disable"
		route = "/admin/disable"
	}
	fs := pflag.NewFlagSet(name, pflag.ExitOnError)
	baseURL := fs.String("base-url", "", "rewire server URL")
	token := fs.String("admin-token", "", "admin API token")
	id := fs.String("id", "", "expectation ID")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == "" {
		return fmt.Errorf("--id is required")
	}

	out, err := postAdmin(*baseURL, *token, route, url.Values{"id": {*id}})
	if err != nil {
		return err
	}
	printResult(out)
	return nil
}

func postAdmin(baseURL, token, path string, form url.Values) (map[string]any, error) {
	if baseURL == "" || token == "" {
		return nil, fmt.Errorf("--base-url and --admin-token are required")
	}
	endpoint := strings.TrimRight(baseURL, "/") + path

	req, err := http.NewRequest(http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+token)

	client := &http.Client{Timeout: 20 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", path, err)
	}
	defer resp.Body.Close()

	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response from %s: %w", path, err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%s: %s (status %d)", path, out["error"], resp.StatusCode)
	}
	return out, nil
}

func printResult(out map[string]any) {
	b, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		fmt.Println(out)
		return
	}
	fmt.Println(string(b))
}
