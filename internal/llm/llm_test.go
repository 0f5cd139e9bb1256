package llm_test

import (
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"agentcore/internal/domain"
	"agentcore/internal/llm"
)

var _ = Describe("SanitizeName", func() {
	DescribeTable("sanitizes free-text names for the OpenAI name parameter",
		func(input, expected string) {
			Expect(llm.SanitizeName(input)).To(Equal(expected))
		},
		Entry("valid name unchanged", "alice", "alice"),
		Entry("dots replaced with underscore", "alice.smith", "alice_smith"),
		Entry("@ replaced with underscore", "alice@dev", "alice_dev"),
		Entry("hyphens preserved", "alice-dev", "alice-dev"),
		Entry("underscores preserved", "alice_dev", "alice_dev"),
		Entry("numbers preserved", "alice123", "alice123"),
		Entry("mixed case preserved", "AliceSmith", "AliceSmith"),
		Entry("multiple special chars replaced", "alice.smith@dev!", "alice_smith_dev_"),
		Entry("spaces replaced", "alice smith", "alice_smith"),
		Entry("long name truncated to 64 chars", strings.Repeat("a", 100), strings.Repeat("a", 64)),
		Entry("exactly 64 chars unchanged", strings.Repeat("b", 64), strings.Repeat("b", 64)),
		Entry("empty string unchanged", "", ""),
	)
})

var _ = Describe("ChatMessage", func() {
	Describe("Name field", func() {
		It("accepts a name for user messages", func() {
			msg := domain.User("Hello world")
			msg.Name = "alice"
			Expect(msg.Role).To(Equal(domain.RoleUser))
			Expect(msg.Name).To(Equal("alice"))
			Expect(msg.Content).To(Equal("Hello world"))
		})

		It("allows empty name (optional field)", func() {
			msg := domain.User("Hello world")
			Expect(msg.Name).To(BeEmpty())
		})

		It("can be used with a sanitized external username", func() {
			externalUsername := "alice.smith@company"
			msg := domain.User("We need bulk refund support")
			msg.Name = llm.SanitizeName(externalUsername)
			Expect(msg.Name).To(Equal("alice_smith_company"))
		})
	})

	Describe("HasToolCalls", func() {
		It("is false for a plain assistant reply", func() {
			msg := domain.Assistant("all done")
			Expect(msg.HasToolCalls()).To(BeFalse())
		})

		It("is true once a tool call is attached", func() {
			msg := domain.Assistant("", domain.ToolCall{ID: "1", Name: "read_file", Arguments: `{"path":"a.go"}`})
			Expect(msg.HasToolCalls()).To(BeTrue())
		})
	})
})
