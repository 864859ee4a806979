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

// Command rewire-invariants connects to the store directly and runs the
// offline invariant probe, printing a pass/fail report and exiting
// non-zero on any failure.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/rewirehq/rewire/internal/logging"
	"github.com/rewirehq/rewire/pkg/invariants"
	"github.com/rewirehq/rewire/pkg/store"
)

func main() {
	os.Exit(run())
}

func run() int {
	dsn := pflag.String("storage-dsn", "", "storage connection string")
	verbose := pflag.BoolP("verbose", "v", false, "show all results, not just failures")
	pflag.Parse()

	if *dsn == "" {
		fmt.Fprintln(os.Stderr, "rewire-invariants: --storage-dsn is required")
		return 2
	}

	logger, err := logging.NewProduction("error")
	if err != nil {
		fmt.Fprintln(os.Stderr, "rewire-invariants:", err)
		return 2
	}

	db, err := store.Connect(*dsn, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, "rewire-invariants: connect store:", err)
		return 2
	}
	defer db.Close()
	st := store.NewPostgresStore(db, logger)

	ctx := context.Background()
	report, err := invariants.CheckAll(ctx, st, time.Now().Unix())
	if err != nil {
		fmt.Fprintln(os.Stderr, "rewire-invariants: check failed:", err)
		return 2
	}

	fmt.Printf("Invariant check: %d passed, %d failed\n", report.Passed, report.Failed)
	for _, r := range report.Results {
		if r.Passed && !*verbose {
			continue
		}
		status := "PASS"
		if !r.Passed {
			status = "FAIL"
		}
		fmt.Printf("  [%s] %s: %s\n", status, r.Name, r.Message)
		if len(r.Evidence) > 0 {
			evidence, err := json.Marshal(r.Evidence)
			if err == nil {
				fmt.Printf("         evidence: %s\n", evidence)
			}
		}
	}

	if report.Failed > 0 {
		return 1
	}
	return 0
}
