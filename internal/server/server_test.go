package server

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"grain-size-analysis/internal/config"
	"grain-size-analysis/internal/core"
	"grain-size-analysis/internal/export"
	imageio "grain-size-analysis/internal/io"
	"grain-size-analysis/internal/render"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const grainCount = 4

// micrographPNG encodes four bright grains on a dark background with an
// 80-row caption strip below them.
func micrographPNG(t *testing.T) []byte {
	t.Helper()

	img := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(30, 30, 30, 0), 330, 250, gocv.MatTypeCV8UC3)
	defer img.Close()

	bright := color.RGBA{R: 220, G: 220, B: 220, A: 255}
	for _, c := range []image.Point{{60, 60}, {180, 60}, {60, 180}, {180, 180}} {
		gocv.Circle(&img, c, 22, bright, -1)
	}

	buf, err := gocv.IMEncode(gocv.PNGFileExt, img)
	require.NoError(t, err)
	defer buf.Close()

	return append([]byte(nil), buf.GetBytes()...)
}

func newTestServer(t *testing.T, mutate func(*config.Config)) *Server {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Server.ScratchDir = t.TempDir()
	if mutate != nil {
		mutate(cfg)
	}

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	pipeline := core.NewPipeline(imageio.NewImageLoader(logger), core.SettingsFromConfig(cfg), logger)
	return New(cfg, pipeline, logger)
}

func uploadRequest(t *testing.T, filename string, data []byte, fields map[string]string) *http.Request {
	t.Helper()

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	if data != nil {
		part, err := w.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func serve(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func errorMessage(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()

	var body struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error
}

func TestUploadAnalyzesImage(t *testing.T) {
	s := newTestServer(t, nil)

	rec := serve(s, uploadRequest(t, "my sample.png", micrographPNG(t), nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var analysis core.Analysis
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &analysis))
	assert.Equal(t, grainCount, analysis.GlobalStats.TotalParticles)
	assert.Len(t, analysis.IndividualMeasurements, grainCount)
	assert.Equal(t, "my_sample.png", analysis.ImageName)
	assert.NotEmpty(t, analysis.DistributionPlot)
	assert.NotEmpty(t, analysis.SegmentedImage)
	assert.NotEmpty(t, analysis.ColoredImage)
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))
}

func TestUploadAcceptsNamesWithoutUsableExtension(t *testing.T) {
	s := newTestServer(t, nil)
	data := micrographPNG(t)

	tests := []struct {
		filename string
		name     string
	}{
		{"scan", "scan"},
		{"图.png", "upload.png"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(s, uploadRequest(t, tt.filename, data, nil))
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

			var analysis core.Analysis
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &analysis))
			assert.Equal(t, tt.name, analysis.ImageName)
			assert.Equal(t, grainCount, analysis.GlobalStats.TotalParticles)
		})
	}
}

func TestUploadScaleField(t *testing.T) {
	s := newTestServer(t, nil)
	data := micrographPNG(t)

	decode := func(rec *httptest.ResponseRecorder) core.Analysis {
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var a core.Analysis
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &a))
		return a
	}

	base := decode(serve(s, uploadRequest(t, "a.png", data, nil)))
	doubled := decode(serve(s, uploadRequest(t, "a.png", data, map[string]string{"pixels_to_um": "1.0"})))

	assert.InDelta(t, 4*base.GlobalStats.TotalGrainArea, doubled.GlobalStats.TotalGrainArea, 0.05)
}

func TestUploadRejectsBadInput(t *testing.T) {
	s := newTestServer(t, nil)
	png := micrographPNG(t)

	tests := []struct {
		name    string
		req     *http.Request
		message string
	}{
		{"text file", uploadRequest(t, "notes.txt", []byte("hello"), nil), "unsupported image format"},
		{"text disguised as png", uploadRequest(t, "notes.png", []byte("hello"), nil), "could not read the image file"},
		{"text without extension", uploadRequest(t, "notes", []byte("hello"), nil), "could not read the image file"},
		{"missing file part", uploadRequest(t, "", nil, map[string]string{"pixels_to_um": "0.5"}), "No file part"},
		{"not multipart", httptest.NewRequest(http.MethodPost, "/", strings.NewReader("x=1")), "No file part"},
		{"bad scale", uploadRequest(t, "a.png", png, map[string]string{"pixels_to_um": "abc"}), "invalid pixel scale"},
		{"negative scale", uploadRequest(t, "a.png", png, map[string]string{"pixels_to_um": "-1"}), "invalid pixel scale"},
		{"bad roi", uploadRequest(t, "a.png", png, map[string]string{"roi": "1,2,3"}), "invalid region of interest"},
		{"roi outside image", uploadRequest(t, "a.png", png, map[string]string{"roi": "5000,5000,10,10"}), "invalid region of interest"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(s, tt.req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, errorMessage(t, rec), tt.message)
		})
	}
}

func TestUploadTooLarge(t *testing.T) {
	s := newTestServer(t, func(cfg *config.Config) {
		cfg.Server.MaxUploadBytes = 1024
	})

	rec := serve(s, uploadRequest(t, "big.png", micrographPNG(t), nil))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestScratchDirectoriesRemoved(t *testing.T) {
	s := newTestServer(t, nil)

	serve(s, uploadRequest(t, "a.png", micrographPNG(t), nil))
	serve(s, uploadRequest(t, "notes.png", []byte("hello"), nil))

	entries, err := os.ReadDir(s.cfg.Server.ScratchDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRepeatedRequestsReleaseFigures(t *testing.T) {
	s := newTestServer(t, nil)
	data := micrographPNG(t)

	for i := 0; i < 5; i++ {
		rec := serve(s, uploadRequest(t, "a.png", data, nil))
		require.Equal(t, http.StatusOK, rec.Code)
	}
	assert.Equal(t, 0, render.OpenFigures())

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var health struct {
		Status      string `json:"status"`
		OpenFigures int    `json:"open_figures"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, 0, health.OpenFigures)
}

func TestDownloadCSVRoundTrip(t *testing.T) {
	s := newTestServer(t, nil)

	rec := serve(s, uploadRequest(t, "sample.png", micrographPNG(t), nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var analysis core.Analysis
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &analysis))

	req := httptest.NewRequest(http.MethodPost, "/download_csv", bytes.NewReader(rec.Body.Bytes()))
	req.Header.Set("Content-Type", "application/json")
	rec = serve(s, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.Contains(t, rec.Header().Get("Content-Type"), "text/csv")
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "sample.png_measurements.csv")

	parsed, err := export.ParseCSV(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, analysis.GlobalStats, parsed.GlobalStats)
	assert.Equal(t, analysis.IndividualMeasurements, parsed.IndividualMeasurements)
}

func TestDownloadCSVRejectsEmptyPayload(t *testing.T) {
	s := newTestServer(t, nil)

	for _, body := range []string{"", "{}", "not json"} {
		req := httptest.NewRequest(http.MethodPost, "/download_csv", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		rec := serve(s, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "body %q", body)
		assert.Equal(t, "No data provided", errorMessage(t, rec))
	}
}

func TestIndexPage(t *testing.T) {
	s := newTestServer(t, nil)

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), `name="pixels_to_um"`)
}

func TestBusyServerGivesUp(t *testing.T) {
	s := newTestServer(t, nil)
	s.slots <- struct{}{}
	defer func() { <-s.slots }()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	req := uploadRequest(t, "a.png", micrographPNG(t), nil).WithContext(ctx)
	rec := serve(s, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCORS(t *testing.T) {
	s := newTestServer(t, func(cfg *config.Config) {
		cfg.Server.AllowedOrigins = []string{"http://lab.example"}
	})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "http://lab.example")
	rec := serve(s, req)
	assert.Equal(t, "http://lab.example", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, statusFor(core.ErrDecode))
	assert.Equal(t, http.StatusBadRequest, statusFor(core.ErrNoFile))
	assert.Equal(t, http.StatusRequestEntityTooLarge, statusFor(core.ErrTooLarge))
	assert.Equal(t, http.StatusRequestEntityTooLarge, statusFor(&http.MaxBytesError{Limit: 10}))
	assert.Equal(t, http.StatusInternalServerError, statusFor(core.ErrProcessing))
	assert.Equal(t, http.StatusInternalServerError, statusFor(io.ErrUnexpectedEOF))
}
