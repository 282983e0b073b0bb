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

package ulid

import (
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestULID(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "ULID Identifier Service Suite")
}

var _ = Describe("Generator", func() {
	var gen *Generator

	BeforeEach(func() {
		gen = NewGenerator(0)
	})

	It("mints identifiers of the correct length and alphabet", func() {
		id, err := gen.Generate()
		Expect(err).NotTo(HaveOccurred())
		Expect(id).To(HaveLen(Length))
		Expect(Validate(id)).To(BeTrue())
	})

	It("never emits the excluded letters i, l, o, u", func() {
		for i := 0; i < 200; i++ {
			id, err := gen.Generate()
			Expect(err).NotTo(HaveOccurred())
			for _, excluded := range []byte{'i', 'l', 'o', 'u'} {
				Expect(id).NotTo(ContainSubstring(string(excluded)))
			}
		}
	})

	It("produces lexicographically increasing ids across distinct milliseconds", func() {
		first, err := gen.generateAt(time.UnixMilli(1_700_000_000_000))
		Expect(err).NotTo(HaveOccurred())
		second, err := gen.generateAt(time.UnixMilli(1_700_000_000_001))
		Expect(err).NotTo(HaveOccurred())

		Expect(first < second).To(BeTrue())
	})

	It("produces strictly increasing ids within the same millisecond", func() {
		at := time.UnixMilli(1_700_000_000_000)
		var ids []string
		for i := 0; i < 50; i++ {
			id, err := gen.generateAt(at)
			Expect(err).NotTo(HaveOccurred())
			ids = append(ids, id)
		}
		for i := 1; i < len(ids); i++ {
			Expect(ids[i-1] < ids[i]).To(BeTrue(), "id %d (%s) should sort before id %d (%s)", i-1, ids[i-1], i, ids[i])
		}
	})

	It("reports ClockRewindError when the clock jumps backward beyond slack", func() {
		gen = NewGenerator(50 * time.Millisecond)
		_, err := gen.generateAt(time.UnixMilli(1_700_000_001_000))
		Expect(err).NotTo(HaveOccurred())

		_, err = gen.generateAt(time.UnixMilli(1_700_000_000_000))
		Expect(err).To(HaveOccurred())
		var rewindErr *ClockRewindError
		Expect(err).To(BeAssignableToTypeOf(rewindErr))
	})

	It("tolerates a clock rewind within slack", func() {
		gen = NewGenerator(100 * time.Millisecond)
		_, err := gen.generateAt(time.UnixMilli(1_700_000_001_000))
		Expect(err).NotTo(HaveOccurred())

		_, err = gen.generateAt(time.UnixMilli(1_700_000_000_950))
		Expect(err).NotTo(HaveOccurred())
	})
})

var _ = Describe("Validate", func() {
	It("rejects the wrong length", func() {
		Expect(Validate("short")).To(BeFalse())
	})

	It("rejects characters outside the alphabet", func() {
		id := "0123456789abcdefghjkmnpq"
		id += "iz" // contains the excluded 'i'
		Expect(Validate(id)).To(BeFalse())
	})

	It("accepts a generated identifier", func() {
		gen := NewGenerator(0)
		id, err := gen.Generate()
		Expect(err).NotTo(HaveOccurred())
		Expect(Validate(id)).To(BeTrue())
	})
})

var _ = Describe("ExtractTimestamp", func() {
	It("round-trips the millisecond timestamp used to mint the id", func() {
		gen := NewGenerator(0)
		at := time.UnixMilli(1_700_000_123_456)
		id, err := gen.generateAt(at)
		Expect(err).NotTo(HaveOccurred())

		extracted, err := ExtractTimestamp(id)
		Expect(err).NotTo(HaveOccurred())
		Expect(extracted.UnixMilli()).To(Equal(at.UnixMilli()))
	})

	It("errors on an invalid identifier", func() {
		_, err := ExtractTimestamp("not-a-valid-id")
		Expect(err).To(HaveOccurred())
	})
})
