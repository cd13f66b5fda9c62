package conversation

import (
	"context"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Registry", func() {
	var registry *Registry

	BeforeEach(func() {
		registry = NewRegistry()
	})

	It("should register new sessions under unique IDs", func() {
		a := registry.New()
		b := registry.New()
		Expect(a.ID).NotTo(Equal(b.ID))
		Expect(a.State).To(Equal(StateEmpty))
		Expect(registry.Len()).To(Equal(2))

		got, ok := registry.Get(a.ID)
		Expect(ok).To(BeTrue())
		Expect(got).To(BeIdenticalTo(a))
	})

	It("should report unknown sessions", func() {
		_, ok := registry.Get("missing")
		Expect(ok).To(BeFalse())
	})

	It("should discard a session", func() {
		s := registry.New()
		registry.Discard(s.ID)
		_, ok := registry.Get(s.ID)
		Expect(ok).To(BeFalse())
		registry.Discard(s.ID)
		Expect(registry.Len()).To(Equal(0))
	})

	It("should discard every session of a document", func() {
		a := registry.New()
		registry.Attach(a, 1)
		b := registry.New()
		registry.Attach(b, 1)
		c := registry.New()
		registry.Attach(c, 2)

		Expect(registry.DiscardDocument(1)).To(Equal(2))
		Expect(registry.Len()).To(Equal(1))
		_, ok := registry.Get(c.ID)
		Expect(ok).To(BeTrue())
	})

	It("should record the document on the session too", func() {
		s := registry.New()
		registry.Attach(s, 9)
		Expect(s.Snapshot().DocumentID).To(Equal(uint64(9)))
	})

	It("should ignore sessions it does not hold", func() {
		s := NewSession("stray")
		registry.Attach(s, 3)
		Expect(registry.DiscardDocument(3)).To(Equal(0))
	})

	When("a model call is running on a session of the document", func() {
		var (
			analyzer *mockAnalyzer
			busy     *Session
			other    *Session
			done     chan struct{}
		)

		BeforeEach(func() {
			analyzer = &mockAnalyzer{gate: make(chan struct{}), entered: make(chan struct{}, 1)}
			manager := NewManager(analyzer)

			busy = registry.New()
			Expect(manager.Resume(busy, 1, "text", "analysis")).To(Succeed())
			registry.Attach(busy, 1)
			other = registry.New()

			done = make(chan struct{})
			go func() {
				defer GinkgoRecover()
				defer close(done)
				_, err := manager.Ask(context.Background(), busy, "slow question")
				Expect(err).NotTo(HaveOccurred())
			}()
			Eventually(analyzer.entered).Should(Receive())
		})

		AfterEach(func() {
			close(analyzer.gate)
			Eventually(done).Should(BeClosed())
		})

		It("should discard it without waiting for the call", func() {
			discarded := make(chan int, 1)
			go func() {
				discarded <- registry.DiscardDocument(1)
			}()
			Eventually(discarded, time.Second).Should(Receive(Equal(1)))

			_, ok := registry.Get(other.ID)
			Expect(ok).To(BeTrue())
			_, ok = registry.Get(busy.ID)
			Expect(ok).To(BeFalse())
		})
	})

	It("should be safe for concurrent use", func() {
		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer GinkgoRecover()
				s := registry.New()
				_, ok := registry.Get(s.ID)
				Expect(ok).To(BeTrue())
			}()
		}
		wg.Wait()
		Expect(registry.Len()).To(Equal(50))
	})
})
