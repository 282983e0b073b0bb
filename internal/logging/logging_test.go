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

package logging

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sirupsen/logrus"
)

func TestLogging(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Logging Suite")
}

var _ = Describe("NewLogrus", func() {
	It("defaults to info level on an unrecognized level string", func() {
		log := NewLogrus("not-a-level", "json")
		Expect(log.GetLevel()).To(Equal(logrus.InfoLevel))
	})

	It("honors an explicit level", func() {
		log := NewLogrus("debug", "json")
		Expect(log.GetLevel()).To(Equal(logrus.DebugLevel))
	})

	It("selects a text formatter when format is not json", func() {
		log := NewLogrus("info", "text")
		_, ok := log.Formatter.(*logrus.TextFormatter)
		Expect(ok).To(BeTrue())
	})
})

var _ = Describe("NewLogr", func() {
	It("builds a usable logger for a recognized level", func() {
		log, err := NewLogr("info", "json")
		Expect(err).NotTo(HaveOccurred())
		Expect(log.GetSink()).NotTo(BeNil())
	})

	It("falls back to info level on an unrecognized level string", func() {
		log, err := NewLogr("not-a-level", "json")
		Expect(err).NotTo(HaveOccurred())
		Expect(log.GetSink()).NotTo(BeNil())
		Expect(log.V(0).Enabled()).To(BeTrue())
		Expect(log.V(1).Enabled()).To(BeFalse())
	})
})
