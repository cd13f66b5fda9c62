package scanning

import (
	"bytes"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("normalizeImage", func() {
	var (
		input       []byte
		contentType string
		output      []byte
		err         error
	)

	BeforeEach(func() {
		contentType = ""
	})

	JustBeforeEach(func() {
		output, err = normalizeImage(input, contentType)
	})

	When("the image is already a PNG", func() {
		BeforeEach(func() {
			input = testPNG(120)
		})

		It("should pass it through untouched", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(output).To(Equal(input))
		})
	})

	When("the image is a JPEG", func() {
		BeforeEach(func() {
			img := image.NewRGBA(image.Rect(0, 0, 10, 6))
			img.Set(2, 2, color.Black)
			var buf bytes.Buffer
			Expect(jpeg.Encode(&buf, img, nil)).To(Succeed())
			input = buf.Bytes()
		})

		It("should convert it to PNG with the same size", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(string(output)).To(HavePrefix(pngSignature))
			decoded, _, decodeErr := image.Decode(bytes.NewReader(output))
			Expect(decodeErr).NotTo(HaveOccurred())
			Expect(decoded.Bounds().Dx()).To(Equal(10))
			Expect(decoded.Bounds().Dy()).To(Equal(6))
		})
	})

	When("the image is a GIF", func() {
		BeforeEach(func() {
			img := image.NewPaletted(image.Rect(0, 0, 4, 4), color.Palette{color.White, color.Black})
			var buf bytes.Buffer
			Expect(gif.Encode(&buf, img, nil)).To(Succeed())
			input = buf.Bytes()
		})

		It("should convert it to PNG", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(string(output)).To(HavePrefix(pngSignature))
		})
	})

	When("the upload is empty", func() {
		BeforeEach(func() {
			input = []byte{}
		})

		It("should return a validation error", func() {
			Expect(err).To(MatchError(ErrValidation))
			Expect(err.Error()).To(ContainSubstring("empty upload"))
		})
	})

	When("the upload is not an image", func() {
		BeforeEach(func() {
			input = []byte("<html><body>hi</body></html>")
		})

		It("should return a validation error", func() {
			Expect(err).To(MatchError(ErrValidation))
		})
	})
})

var _ = DescribeTable("isHEICFormat",
	func(data []byte, expected bool) {
		Expect(isHEICFormat(data)).To(Equal(expected))
	},
	Entry("heic brand", []byte("\x00\x00\x00\x18ftypheic...."), true),
	Entry("heif brand", []byte("\x00\x00\x00\x18ftypheif...."), true),
	Entry("mif1 brand", []byte("\x00\x00\x00\x18ftypmif1...."), true),
	Entry("mp4 brand", []byte("\x00\x00\x00\x18ftypisom...."), false),
	Entry("too short", []byte("ftyp"), false),
	Entry("png", []byte(pngSignature+"rest"), false),
)

var _ = DescribeTable("isHEICMimeType",
	func(mimeType string, expected bool) {
		Expect(isHEICMimeType(mimeType)).To(Equal(expected))
	},
	Entry("heic", "image/heic", true),
	Entry("heif with spaces and case", " Image/HEIF ", true),
	Entry("jpeg", "image/jpeg", false),
	Entry("empty", "", false),
)

var _ = DescribeTable("KindFromContentType",
	func(contentType string, expected Kind) {
		Expect(KindFromContentType(contentType)).To(Equal(expected))
	},
	Entry("pdf", "application/pdf", KindPaginated),
	Entry("pdf uppercase", "Application/PDF", KindPaginated),
	Entry("pdf with parameters", "application/pdf; name=x.pdf", KindPaginated),
	Entry("pdf with padding", " application/pdf ", KindPaginated),
	Entry("empty", "", KindImage),
	Entry("png", "image/png", KindImage),
	Entry("unknown", "application/octet-stream", KindImage),
)
