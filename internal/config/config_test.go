/*
Copyright 2026 The Mahavishnu Authors.

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

var _ = Describe("Config", func() {
	var (
		tempDir    string
		configFile string
	)

	BeforeEach(func() {
		var err error
		tempDir, err = os.MkdirTemp("", "config-test")
		Expect(err).NotTo(HaveOccurred())
		configFile = filepath.Join(tempDir, "config.yaml")
	})

	AfterEach(func() {
		os.RemoveAll(tempDir)
	})

	Describe("Load", func() {
		Context("when config file exists with valid content", func() {
			BeforeEach(func() {
				validConfig := `
server:
  listen_addr: ":9001"
  metrics_addr: ":9091"

dlq:
  enabled: true
  max_size: 5000
  default_retry_policy: "linear"
  default_max_retries: 5
  retry_interval_seconds: 30

ordering:
  default_strategy: "priority_first"
  urgent_deadline_days: 2
  approaching_deadline_days: 5

subscription:
  ping_interval_seconds: 15
  delivery_queue_size: 512

logging:
  level: "debug"
  format: "console"
`
				err := os.WriteFile(configFile, []byte(validConfig), 0644)
				Expect(err).NotTo(HaveOccurred())
			})

			It("should load configuration successfully", func() {
				cfg, err := Load(configFile)
				Expect(err).NotTo(HaveOccurred())
				Expect(cfg).NotTo(BeNil())

				Expect(cfg.Server.ListenAddr).To(Equal(":9001"))
				Expect(cfg.Server.MetricsAddr).To(Equal(":9091"))

				Expect(cfg.DLQ.MaxSize).To(Equal(5000))
				Expect(cfg.DLQ.DefaultRetryPolicy).To(Equal(RetryPolicyLinear))
				Expect(cfg.DLQ.DefaultMaxRetries).To(Equal(5))
				Expect(cfg.DLQ.RetryIntervalSeconds).To(Equal(30))

				Expect(cfg.Ordering.DefaultStrategy).To(Equal(StrategyPriorityFirst))
				Expect(cfg.Ordering.UrgentDeadlineDays).To(Equal(2))
				Expect(cfg.Ordering.ApproachingDeadlineDays).To(Equal(5))

				Expect(cfg.Subscription.PingIntervalSeconds).To(Equal(15))
				Expect(cfg.Subscription.DeliveryQueueSize).To(Equal(512))

				Expect(cfg.Logging.Level).To(Equal("debug"))
				Expect(cfg.Logging.Format).To(Equal("console"))
			})
		})

		Context("when config file has minimal content", func() {
			BeforeEach(func() {
				minimalConfig := `
dlq:
  max_size: 2000
`
				err := os.WriteFile(configFile, []byte(minimalConfig), 0644)
				Expect(err).NotTo(HaveOccurred())
			})

			It("should load with defaults for missing values", func() {
				cfg, err := Load(configFile)
				Expect(err).NotTo(HaveOccurred())

				Expect(cfg.DLQ.MaxSize).To(Equal(2000))
				Expect(cfg.DLQ.DefaultRetryPolicy).To(Equal(RetryPolicyExponential))
				Expect(cfg.Ordering.DefaultStrategy).To(Equal(StrategyBalanced))
				Expect(cfg.Subscription.PingIntervalSeconds).To(Equal(20))
			})
		})

		Context("when config file does not exist", func() {
			It("should return an error", func() {
				_, err := Load("/nonexistent/config.yaml")
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("failed to read config file"))
			})
		})

		Context("when config file has invalid YAML", func() {
			BeforeEach(func() {
				invalidConfig := `
dlq:
  max_size: [
`
				err := os.WriteFile(configFile, []byte(invalidConfig), 0644)
				Expect(err).NotTo(HaveOccurred())
			})

			It("should return an error", func() {
				_, err := Load(configFile)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("failed to parse config file"))
			})
		})
	})

	Describe("validate", func() {
		var cfg *Config

		BeforeEach(func() {
			cfg = defaults()
		})

		Context("when config is valid", func() {
			It("should pass validation", func() {
				Expect(validate(cfg)).NotTo(HaveOccurred())
			})
		})

		Context("when dlq.max_size is out of range", func() {
			It("rejects too small", func() {
				cfg.DLQ.MaxSize = 10
				Expect(validate(cfg)).To(MatchError(ContainSubstring("dlq.max_size")))
			})

			It("rejects too large", func() {
				cfg.DLQ.MaxSize = 1_000_000
				Expect(validate(cfg)).To(MatchError(ContainSubstring("dlq.max_size")))
			})
		})

		Context("when retry policy is invalid", func() {
			It("should return a validation error", func() {
				cfg.DLQ.DefaultRetryPolicy = "sometimes"
				Expect(validate(cfg)).To(MatchError(ContainSubstring("unsupported dlq.default_retry_policy")))
			})
		})

		Context("when ordering strategy is invalid", func() {
			It("should return a validation error", func() {
				cfg.Ordering.DefaultStrategy = "random"
				Expect(validate(cfg)).To(MatchError(ContainSubstring("unsupported ordering.default_strategy")))
			})
		})

		Context("when pool worker bounds are inverted", func() {
			It("should return a validation error", func() {
				cfg.Pool.DefaultMinWorkers = 10
				cfg.Pool.DefaultMaxWorkers = 2
				Expect(validate(cfg)).To(HaveOccurred())
			})
		})
	})

	Describe("loadFromEnv", func() {
		var cfg *Config

		BeforeEach(func() {
			cfg = &Config{}
			os.Clearenv()
		})

		Context("when environment variables are set", func() {
			BeforeEach(func() {
				os.Setenv("MAHAVISHNU_LISTEN_ADDR", ":7777")
				os.Setenv("MAHAVISHNU_LOG_LEVEL", "debug")
				os.Setenv("MAHAVISHNU_DLQ_MAX_SIZE", "1234")
				os.Setenv("MAHAVISHNU_DLQ_ENABLED", "false")
			})

			AfterEach(func() {
				os.Clearenv()
			})

			It("should load values from environment", func() {
				err := loadFromEnv(cfg)
				Expect(err).NotTo(HaveOccurred())

				Expect(cfg.Server.ListenAddr).To(Equal(":7777"))
				Expect(cfg.Logging.Level).To(Equal("debug"))
				Expect(cfg.DLQ.MaxSize).To(Equal(1234))
				Expect(cfg.DLQ.Enabled).To(BeFalse())
			})
		})

		Context("when no environment variables are set", func() {
			It("should not modify config", func() {
				original := *cfg
				Expect(loadFromEnv(cfg)).NotTo(HaveOccurred())
				Expect(*cfg).To(Equal(original))
			})
		})
	})
})
