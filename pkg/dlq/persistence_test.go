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

package dlq

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/redis/go-redis/v9"
)

func TestPersistence(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "DLQ Persistence Suite")
}

var _ = Describe("RedisPersistence", func() {
	var (
		mr     *miniredis.Miniredis
		client *redis.Client
		persist *RedisPersistence
		ctx    context.Context
	)

	BeforeEach(func() {
		var err error
		mr, err = miniredis.Run()
		Expect(err).NotTo(HaveOccurred())
		client = redis.NewClient(&redis.Options{Addr: mr.Addr()})
		persist = NewRedisPersistence(client, "mahavishnu:dlq:")
		ctx = context.Background()
	})

	AfterEach(func() {
		client.Close()
		mr.Close()
	})

	It("saves a record under the configured key prefix", func() {
		record := &FailedTaskRecord{TaskID: "task-1", LastError: "boom", RetryCount: 1, MaxRetries: 3}
		Expect(persist.Save(ctx, record)).To(Succeed())
		Expect(mr.Exists("mahavishnu:dlq:task-1")).To(BeTrue())
	})

	It("deletes a saved record", func() {
		record := &FailedTaskRecord{TaskID: "task-2", LastError: "boom"}
		Expect(persist.Save(ctx, record)).To(Succeed())
		Expect(persist.Delete(ctx, "task-2")).To(Succeed())
		Expect(mr.Exists("mahavishnu:dlq:task-2")).To(BeFalse())
	})

	It("returns an error when redis is unreachable", func() {
		mr.Close()
		err := persist.Save(ctx, &FailedTaskRecord{TaskID: "task-3"})
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("NoopPersistence", func() {
	It("discards writes without error", func() {
		var p Persistence = NoopPersistence{}
		Expect(p.Save(context.Background(), &FailedTaskRecord{TaskID: "x"})).To(Succeed())
		Expect(p.Delete(context.Background(), "x")).To(Succeed())
	})
})

var _ = Describe("RedisPersistence circuit breaker", func() {
	It("trips after consecutive failures and rejects fast", func() {
		mr, err := miniredis.Run()
		Expect(err).NotTo(HaveOccurred())
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		persist := NewRedisPersistence(client, "mahavishnu:dlq:")
		mr.Close()

		for i := 0; i < 5; i++ {
			_ = persist.Save(context.Background(), &FailedTaskRecord{TaskID: "t"})
		}

		start := time.Now()
		err = persist.Save(context.Background(), &FailedTaskRecord{TaskID: "t"})
		Expect(err).To(HaveOccurred())
		Expect(time.Since(start)).To(BeNumerically("<", 50*time.Millisecond))
	})
})
