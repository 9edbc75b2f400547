package scanning

import (
	"time"

	"github.com/google/generative-ai-go/genai"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Gemini", func() {
	It("requires an API key", func() {
		_, err := NewGemini("", "", time.Second)
		Expect(err).To(MatchError(ContainSubstring("api key is required")))
	})

	Describe("configureModel", func() {
		var model *genai.GenerativeModel

		BeforeEach(func() {
			model = &genai.GenerativeModel{}
		})

		It("sets the instruction as the system prompt", func() {
			configureModel(model, Request{Instruction: "classify", Input: "taxi"})
			Expect(model.SystemInstruction).NotTo(BeNil())
			Expect(model.SystemInstruction.Parts).To(Equal([]genai.Part{genai.Text("classify")}))
			Expect(model.Temperature).To(BeNil())
		})

		It("pins the temperature for JSON requests", func() {
			configureModel(model, Request{Input: "taxi", JSON: true})
			Expect(model.SystemInstruction).To(BeNil())
			Expect(model.Temperature).NotTo(BeNil())
			Expect(*model.Temperature).To(BeZero())
		})
	})
})
