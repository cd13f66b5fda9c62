package document

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/zombor/invoice-reader/internal/scanning"
)

// scriptedModel answers vision requests with fixed fields and echoes the
// prompt kind for text requests
type scriptedModel struct {
	mu    sync.Mutex
	calls []scanning.ChatRequest
}

func (m *scriptedModel) Chat(ctx context.Context, req scanning.ChatRequest) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, req)

	last := req.Messages[len(req.Messages)-1].Content
	switch {
	case len(req.Images) > 0:
		return "- Issuer: ACME S.L.\n- Total: 12.50 EUR", nil
	case strings.Contains(last, "correction"):
		return "- Issuer: ACME S.L.\n- Total: 15.00 EUR (corrected field: Total)", nil
	case len(req.Messages) == 1:
		return "```markdown\n- Issuer: ACME S.L.\n- Total: 12.50 EUR\n```", nil
	default:
		return "The total is 12.50 EUR.", nil
	}
}

func (m *scriptedModel) Available(ctx context.Context) error { return nil }

func (m *scriptedModel) Close() error { return nil }

func samplePNG() []byte {
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for x := 0; x < 8; x++ {
		img.Set(x, x, color.Black)
	}
	var buf bytes.Buffer
	Expect(png.Encode(&buf, img)).To(Succeed())
	return buf.Bytes()
}

var _ = Describe("Integration", func() {
	var (
		db       *BoltDB
		model    *scriptedModel
		server   *Server
		ghServer *ghttp.Server
	)

	BeforeEach(func() {
		var err error
		db, err = NewBoltDB(filepath.Join(GinkgoT().TempDir(), "test.db"))
		Expect(err).NotTo(HaveOccurred())

		model = &scriptedModel{}
		adapter, err := scanning.NewAdapter(scanning.AdapterConfig{
			Strategy:   scanning.StrategyHostedVision,
			Analyst:    model,
			Reader:     scanning.NewVisionReader(model),
			Rasterizer: scanning.NewFitzRasterizer(72),
		})
		Expect(err).NotTo(HaveOccurred())

		server = NewServer(NewService(db, adapter), BasicAuth{})
		ghServer = ghttp.NewServer()
	})

	AfterEach(func() {
		if ghServer != nil {
			ghServer.Close()
		}
		if db != nil {
			db.Close()
		}
	})

	It("should upload, analyze, correct and persist a document", func() {
		ghServer.AppendHandlers(server.ServeHTTP, server.ServeHTTP, server.ServeHTTP)

		// --- Step 1: upload ---
		body, contentType := multipartUpload("ticket.png", samplePNG(), nil)
		resp, err := http.Post(ghServer.URL()+"/api/documents", contentType, body)
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.StatusCode).To(Equal(http.StatusCreated))

		var uploaded Upload
		decodeBody(resp, &uploaded)
		Expect(uploaded.Document.ExtractedText).To(Equal("- Issuer: ACME S.L.\n- Total: 12.50 EUR"))
		Expect(uploaded.Document.Analysis).To(Equal("- Issuer: ACME S.L.\n- Total: 12.50 EUR"))
		Expect(uploaded.Session.History).To(HaveLen(2))

		// --- Step 2: correction ---
		payload, _ := json.Marshal(map[string]any{"content": "The total is 15.00", "correction": true})
		resp, err = http.Post(ghServer.URL()+"/api/sessions/"+uploaded.Session.ID+"/messages", "application/json", bytes.NewReader(payload))
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		var reply Reply
		decodeBody(resp, &reply)
		Expect(reply.Reply).To(ContainSubstring("corrected field: Total"))
		Expect(reply.Session.History).To(HaveLen(4))

		// --- Step 3: the stored record carries the correction ---
		resp, err = http.Get(ghServer.URL() + "/api/documents/" + "1")
		Expect(err).NotTo(HaveOccurred())
		var record Record
		decodeBody(resp, &record)
		Expect(record.Analysis).To(ContainSubstring("15.00 EUR"))
		Expect(record.ModelUsed).To(Equal("hosted-vision"))

		saved, err := db.GetDocument(1)
		Expect(err).NotTo(HaveOccurred())
		Expect(saved.RawBytes).To(Equal(samplePNG()))

		// One vision call, one analysis, one correction
		Expect(model.calls).To(HaveLen(3))
		Expect(model.calls[2].Messages).To(HaveLen(3))
	})

	It("should not store anything when the upload is not a document", func() {
		ghServer.AppendHandlers(server.ServeHTTP)

		body, contentType := multipartUpload("notes.png", []byte("definitely not an image"), nil)
		resp, err := http.Post(ghServer.URL()+"/api/documents", contentType, body)
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		msg, _ := io.ReadAll(resp.Body)

		Expect(resp.StatusCode).To(Equal(http.StatusUnprocessableEntity))
		Expect(string(msg)).To(ContainSubstring(scanning.ErrCannotAnalyze.Error()))
		Expect(model.calls).To(BeEmpty())

		summaries, err := db.ListDocuments(0)
		Expect(err).NotTo(HaveOccurred())
		Expect(summaries).To(BeEmpty())
	})
})
