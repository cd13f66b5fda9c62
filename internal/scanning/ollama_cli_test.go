package scanning

import (
	"context"
	"os"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("OllamaCLI", func() {
	var (
		runner *fakeRunner
		cli    *OllamaCLI
		ctx    context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		runner = newFakeRunner()
		cli = NewOllamaCLI(runner, "llava", 0)
	})

	Describe("Chat", func() {
		var (
			req ChatRequest
			out string
			err error
		)

		BeforeEach(func() {
			req = ChatRequest{Messages: []Message{{Role: RoleUser, Content: "Summarize this"}}}
			runner.handlers["ollama"] = func(args []string, stdin string) ([]byte, []byte, error) {
				return []byte("- Total: 12.50\n"), nil, nil
			}
		})

		JustBeforeEach(func() {
			out, err = cli.Chat(ctx, req)
		})

		It("should run the model with the prompt on stdin", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(Equal("- Total: 12.50\n"))
			Expect(runner.calls).To(HaveLen(1))
			Expect(runner.calls[0].args).To(Equal([]string{"run", "--nowordwrap", "llava"}))
			Expect(runner.calls[0].stdin).To(Equal("Summarize this"))
		})

		When("images are attached", func() {
			var imagePath string

			BeforeEach(func() {
				req.Images = [][]byte{testPNG(50)}
				runner.handlers["ollama"] = func(args []string, stdin string) ([]byte, []byte, error) {
					lines := strings.Split(stdin, "\n")
					imagePath = lines[len(lines)-1]
					data, readErr := os.ReadFile(imagePath)
					Expect(readErr).NotTo(HaveOccurred())
					Expect(data).To(Equal(testPNG(50)))
					return []byte("ok"), nil, nil
				}
			})

			It("should mention the image files in the prompt and remove them afterwards", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(imagePath).To(HaveSuffix("page-1.png"))
				_, statErr := os.Stat(imagePath)
				Expect(os.IsNotExist(statErr)).To(BeTrue())
			})
		})

		When("ollama exits with an error", func() {
			BeforeEach(func() {
				runner.handlers["ollama"] = func(args []string, stdin string) ([]byte, []byte, error) {
					return nil, []byte("Error: model 'llava' not found\n"), fakeExit{code: 1}
				}
			})

			It("should return an upstream error with stderr", func() {
				Expect(err).To(MatchError(ErrUpstream))
				Expect(err.Error()).To(ContainSubstring("exited with status 1"))
				Expect(err.Error()).To(ContainSubstring("model 'llava' not found"))
			})
		})

		When("ollama is not installed", func() {
			BeforeEach(func() {
				runner.missing["ollama"] = true
			})

			It("should explain how to install it", func() {
				Expect(err).To(MatchError(ErrDependencyMissing))
				Expect(err.Error()).To(ContainSubstring("ollama.com/download"))
			})
		})
	})

	Describe("Available", func() {
		var (
			list string
			err  error
		)

		BeforeEach(func() {
			list = "NAME              ID            SIZE    MODIFIED\nmistral:latest    abc123        4.1 GB  2 days ago\nllava:latest      def456        4.7 GB  3 days ago\n"
		})

		JustBeforeEach(func() {
			runner.handlers["ollama"] = func(args []string, stdin string) ([]byte, []byte, error) {
				Expect(args).To(Equal([]string{"list"}))
				return []byte(list), nil, nil
			}
			err = cli.Available(ctx)
		})

		It("should find the pulled model", func() {
			Expect(err).NotTo(HaveOccurred())
		})

		When("the model has not been pulled", func() {
			BeforeEach(func() {
				list = "NAME              ID            SIZE    MODIFIED\nmistral:latest    abc123        4.1 GB  2 days ago\n"
			})

			It("should explain how to pull it", func() {
				Expect(err).To(MatchError(ErrDependencyMissing))
				Expect(err.Error()).To(ContainSubstring("ollama pull llava"))
			})
		})
	})
})

var _ = Describe("OllamaCLI timeout", func() {
	var (
		runner *fakeRunner
		cli    *OllamaCLI
	)

	BeforeEach(func() {
		runner = newFakeRunner()
		runner.hang["ollama"] = true
		cli = NewOllamaCLI(runner, "llava", 50*time.Millisecond)
	})

	It("should stop a hung call and report it as a timeout", func() {
		start := time.Now()
		_, err := cli.Chat(context.Background(), ChatRequest{Messages: []Message{{Role: RoleUser, Content: "hello"}}})
		Expect(time.Since(start)).To(BeNumerically("<", time.Second))
		Expect(err).To(MatchError(ErrConnectivity))
		Expect(err).To(MatchError(context.DeadlineExceeded))
	})

	It("should bound the availability check too", func() {
		start := time.Now()
		err := cli.Available(context.Background())
		Expect(time.Since(start)).To(BeNumerically("<", time.Second))
		Expect(err).To(MatchError(ErrConnectivity))
	})
})

var _ = Describe("buildTranscript", func() {
	It("should send a lone prompt as-is", func() {
		Expect(buildTranscript([]Message{{Role: RoleUser, Content: "hello"}}, nil)).To(Equal("hello"))
	})

	It("should tag every turn of a longer conversation", func() {
		out := buildTranscript([]Message{
			{Role: RoleUser, Content: "q1"},
			{Role: RoleAssistant, Content: "a1"},
			{Role: RoleUser, Content: "q2"},
		}, nil)
		Expect(out).To(Equal("<|im_start|>user\nq1\n<|im_end|>\n<|im_start|>assistant\na1\n<|im_end|>\n<|im_start|>user\nq2\n<|im_end|>\n<|im_start|>assistant\n"))
	})

	It("should append image paths", func() {
		out := buildTranscript([]Message{{Role: RoleUser, Content: "read"}}, []string{"/tmp/a.png", "/tmp/b.png"})
		Expect(out).To(Equal("read\n/tmp/a.png\n/tmp/b.png"))
	})
})
