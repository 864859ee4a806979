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

package config

import (
	"os"
	"path/filepath"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestConfig(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Config Suite")
}

var _ = Describe("Load", func() {
	baseArgs := func(extra ...string) []string {
		return append([]string{
			"--storage-dsn", "postgres://localhost/rewire",
			"--admin-token", "s3cret",
		}, extra...)
	}

	It("loads required flags and keeps defaults for everything else", func() {
		cfg, err := Load(baseArgs())
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Storage.DSN).To(Equal("postgres://localhost/rewire"))
		Expect(cfg.Server.AdminToken).To(Equal("s3cret"))
		Expect(cfg.Server.ListenAddr).To(Equal(":8080"))
		Expect(cfg.Checker.PeriodS).To(Equal(int64(60)))
	})

	It("overrides defaults from flags", func() {
		cfg, err := Load(baseArgs("--checker-period-s", "30", "--listen-addr", ":9000"))
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Checker.PeriodS).To(Equal(int64(30)))
		Expect(cfg.Server.ListenAddr).To(Equal(":9000"))
	})

	It("fails when the storage DSN is missing", func() {
		_, err := Load([]string{"--admin-token", "s3cret"})
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("storage DSN"))
	})

	It("fails when the admin token is missing", func() {
		_, err := Load([]string{"--storage-dsn", "postgres://localhost/rewire"})
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("admin token"))
	})

	Context("with a YAML overlay for secrets", func() {
		var tempDir, configFile string

		BeforeEach(func() {
			var err error
			tempDir, err = os.MkdirTemp("", "rewire-config-test")
			Expect(err).NotTo(HaveOccurred())
			configFile = filepath.Join(tempDir, "secrets.yaml")

			contents := []byte("smtp:\n  host: \"smtp.example.com\"\n  password: \"hunter2\"\nwebhooks:\n  slack: \"https://hooks.example.com/abc\"\n")
			Expect(os.WriteFile(configFile, contents, 0644)).To(Succeed())
		})

		AfterEach(func() {
			os.RemoveAll(tempDir)
		})

		It("merges YAML values beneath flags", func() {
			cfg, err := Load(baseArgs("--config-file", configFile))
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.SMTP.Host).To(Equal("smtp.example.com"))
			Expect(cfg.SMTP.Password).To(Equal("hunter2"))
			Expect(cfg.Webhooks.Slack).To(Equal("https://hooks.example.com/abc"))
		})

		It("lets a flag win over the YAML value", func() {
			cfg, err := Load(baseArgs("--config-file", configFile, "--smtp-host", "override.example.com"))
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.SMTP.Host).To(Equal("override.example.com"))
		})

		It("errors on a nonexistent config file", func() {
			_, err := Load(baseArgs("--config-file", "/nonexistent/secrets.yaml"))
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("failed to read config file"))
		})
	})
})

var _ = Describe("Validate", func() {
	It("accepts a well-formed config", func() {
		cfg := DefaultConfig()
		cfg.Storage.DSN = "postgres://localhost/rewire"
		cfg.Server.AdminToken = "token"
		Expect(Validate(cfg)).To(Succeed())
	})

	It("rejects a non-positive checker period", func() {
		cfg := DefaultConfig()
		cfg.Storage.DSN = "x"
		cfg.Server.AdminToken = "y"
		cfg.Checker.PeriodS = 0
		Expect(Validate(cfg)).NotTo(Succeed())
	})

	It("rejects a negative renotify window", func() {
		cfg := DefaultConfig()
		cfg.Storage.DSN = "x"
		cfg.Server.AdminToken = "y"
		cfg.Checker.RenotifyS = -1
		Expect(Validate(cfg)).NotTo(Succeed())
	})
})
