package moderation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"modqueue/internal/ledger"
)

// fakeLedger returns a fixed redemption outcome.
type fakeLedger struct {
	err error
}

func (l *fakeLedger) Redeem(ctx context.Context, token string) error { return l.err }

func (l *fakeLedger) Close() error { return nil }

type serviceFixture struct {
	*fixture
	server *httptest.Server
}

func newServiceFixture(t *testing.T, tokens ledger.TokenLedger, adminKey string) *serviceFixture {
	t.Helper()
	f := newFixture(t)

	config := DefaultServiceConfig()
	config.AdminKey = adminKey
	service := NewService(f.app, f.store, tokens, config)

	mux := http.NewServeMux()
	service.RegisterRoutes(mux)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return &serviceFixture{fixture: f, server: server}
}

// multipartUpload builds a submit request body with an image part of the
// given content type plus caption and token fields.
func multipartUpload(t *testing.T, contentType string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="image"; filename="pic.png"`)
	header.Set("Content-Type", contentType)
	part, err := mw.CreatePart(header)
	require.NoError(t, err)
	_, err = part.Write([]byte("not a real image"))
	require.NoError(t, err)

	require.NoError(t, mw.WriteField("caption", "a caption"))
	require.NoError(t, mw.WriteField("token", "tok-1"))
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func postSubmit(t *testing.T, f *serviceFixture, contentType string) *http.Response {
	t.Helper()
	body, formType := multipartUpload(t, contentType)
	resp, err := http.Post(f.server.URL+"/api/submit", formType, body)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func postResolution(t *testing.T, f *serviceFixture, path, itemID, adminKey string) *http.Response {
	t.Helper()
	payload := fmt.Sprintf(`{"id":%q}`, itemID)
	req, err := http.NewRequest(http.MethodPost, f.server.URL+path, strings.NewReader(payload))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if adminKey != "" {
		req.Header.Set("X-Admin-Key", adminKey)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func TestSubmitAcceptsImage(t *testing.T) {
	f := newServiceFixture(t, ledger.OpenLedger{}, "")

	resp := postSubmit(t, f, "image/png")

	require.Equal(t, http.StatusCreated, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.NotEmpty(t, body["id"])
	assert.Equal(t, 1, f.app.PendingCount())
}

func TestSubmitRejectsUnsupportedType(t *testing.T) {
	f := newServiceFixture(t, ledger.OpenLedger{}, "")

	resp := postSubmit(t, f, "application/pdf")

	assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)
	assert.Equal(t, 0, f.app.PendingCount())
}

func TestSubmitRequiresImagePart(t *testing.T) {
	f := newServiceFixture(t, ledger.OpenLedger{}, "")

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("caption", "no image here"))
	require.NoError(t, mw.Close())

	resp, err := http.Post(f.server.URL+"/api/submit", mw.FormDataContentType(), &buf)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSubmitTokenOutcomes(t *testing.T) {
	tests := []struct {
		name       string
		redeemErr  error
		wantStatus int
	}{
		{name: "unknown token", redeemErr: ledger.ErrTokenUnknown, wantStatus: http.StatusForbidden},
		{name: "used token", redeemErr: ledger.ErrTokenUsed, wantStatus: http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newServiceFixture(t, &fakeLedger{err: tt.redeemErr}, "")

			resp := postSubmit(t, f, "image/png")

			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			assert.Equal(t, 0, f.app.PendingCount())
		})
	}
}

func TestApproveRequiresAdminKey(t *testing.T) {
	f := newServiceFixture(t, ledger.OpenLedger{}, "letmein")
	id := f.submit(t, "x")

	resp := postResolution(t, f, "/api/approve", id, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, 1, f.app.PendingCount())

	resp = postResolution(t, f, "/api/approve", id, "letmein")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 0, f.app.PendingCount())
}

func TestResolutionUnknownItem(t *testing.T) {
	f := newServiceFixture(t, ledger.OpenLedger{}, "")

	resp := postResolution(t, f, "/api/approve", "no-such-item", "")

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestResolutionStorageFailureIsRetryable(t *testing.T) {
	f := newServiceFixture(t, ledger.OpenLedger{}, "")
	id := f.submit(t, "x")
	f.app.store = &failingStore{ArtifactStore: f.store}

	resp := postResolution(t, f, "/api/deny", id, "")

	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, 1, f.app.PendingCount(), "failed resolution keeps the item pending")
}

func TestResolutionRejectsMissingID(t *testing.T) {
	f := newServiceFixture(t, ledger.OpenLedger{}, "")

	resp := postResolution(t, f, "/api/deny", "", "")

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestResolutionMethodNotAllowed(t *testing.T) {
	f := newServiceFixture(t, ledger.OpenLedger{}, "")

	resp, err := http.Get(f.server.URL + "/api/approve")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestGalleryListsApprovedImages(t *testing.T) {
	f := newServiceFixture(t, ledger.OpenLedger{}, "")
	id := f.submit(t, "x")
	require.NoError(t, f.app.Approve(context.Background(), id))

	resp, err := http.Get(f.server.URL + "/api/gallery")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string][]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, []string{f.store.PublicURL(id)}, body["images"])
}

func TestDeleteRemovesFromGallery(t *testing.T) {
	f := newServiceFixture(t, ledger.OpenLedger{}, "")
	id := f.submit(t, "x")
	require.NoError(t, f.app.Approve(context.Background(), id))

	resp := postResolution(t, f, "/api/delete", id, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	galleryResp, err := http.Get(f.server.URL + "/api/gallery")
	require.NoError(t, err)
	defer galleryResp.Body.Close()
	var body map[string][]string
	require.NoError(t, json.NewDecoder(galleryResp.Body).Decode(&body))
	assert.Empty(t, body["images"])
}
