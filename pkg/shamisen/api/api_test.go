package api_test

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/shamisen/internal/testaudio"
	"github.com/tendant/shamisen/pkg/shamisen"
	"github.com/tendant/shamisen/pkg/shamisen/api"
	catalogmemory "github.com/tendant/shamisen/pkg/shamisen/catalog/memory"
	"github.com/tendant/shamisen/pkg/shamisen/extract"
	"github.com/tendant/shamisen/pkg/shamisen/grant"
	memorystorage "github.com/tendant/shamisen/pkg/shamisen/storage/memory"
)

const testBaseURL = "http://shamisen.test/blobs"

type fixture struct {
	router  http.Handler
	signer  *grant.Signer
	objects *memorystorage.Backend
	now     time.Time
}

func newFixture(t *testing.T, mode shamisen.ListMode, maxUploadBytes int64) *fixture {
	t.Helper()

	f := &fixture{
		objects: memorystorage.New(),
		now:     time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return f.now }
	f.signer = grant.New(
		grant.WithAccount("devaccount"),
		grant.WithSecretKey("devsecret"),
		grant.WithClock(clock),
	)

	svc, err := shamisen.New(
		shamisen.WithExtractor(extract.New()),
		shamisen.WithObjectStore(f.objects),
		shamisen.WithCatalogStore(catalogmemory.New()),
		shamisen.WithSigner(f.signer),
		shamisen.WithBaseURL(testBaseURL),
		shamisen.WithClock(clock),
	)
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Mount("/songs", api.NewSongsHandler(svc, mode, maxUploadBytes).Routes())
	r.Mount("/blobs", api.NewBlobHandler(f.objects, f.signer).Routes())
	f.router = r
	return f
}

func sakuraMP3() []byte {
	return testaudio.MP3(testaudio.Tags{
		Title:     "Sakura",
		Artist:    "Unknown",
		Album:     "Demo",
		CoverMIME: "image/jpeg",
		Cover:     testaudio.JPEG(256),
	})
}

func (f *fixture) do(t *testing.T, method, target string, body []byte, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *fixture) upload(t *testing.T, body []byte) *shamisen.CatalogEntry {
	t.Helper()
	w := f.do(t, http.MethodPost, "/songs", body, "audio/mpeg")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var entry shamisen.CatalogEntry
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &entry))
	return &entry
}

// objectPath turns an entry URL plus a listing grant into a request target
func objectPath(t *testing.T, objectURL, sasURI string) string {
	t.Helper()
	u, err := url.Parse(objectURL)
	require.NoError(t, err)
	sas, err := url.Parse(sasURI)
	require.NoError(t, err)
	return u.Path + "?" + sas.RawQuery
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) api.ErrorResponse {
	t.Helper()
	var resp api.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestUploadThenList(t *testing.T) {
	f := newFixture(t, shamisen.ListCatalogBacked, 0)

	entry := f.upload(t, sakuraMP3())
	assert.NotEmpty(t, entry.ID)
	assert.Equal(t, "Sakura", entry.Title)
	assert.Equal(t, "Unknown", entry.Artist)
	assert.Equal(t, "Demo", entry.Album)
	assert.Equal(t, testBaseURL+"/songs/"+entry.ID, entry.URL)
	assert.Equal(t, testBaseURL+"/covers/"+entry.ID, entry.ArtworkURL)

	w := f.do(t, http.MethodGet, "/songs", nil, "")
	require.Equal(t, http.StatusOK, w.Code)

	var listing api.ListSongsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listing))
	require.Len(t, listing.Songs, 1)
	assert.Equal(t, entry.ID, listing.Songs[0].ID)
	assert.Equal(t, entry.URL, listing.Songs[0].URL)
	assert.Contains(t, listing.SASURI, testBaseURL+"/?")
}

func TestListEmptyCatalog(t *testing.T) {
	f := newFixture(t, shamisen.ListCatalogBacked, 0)

	w := f.do(t, http.MethodGet, "/songs", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"songs":[]`)
}

func TestFetchObjectsWithListingGrant(t *testing.T) {
	f := newFixture(t, shamisen.ListCatalogBacked, 0)
	data := sakuraMP3()
	entry := f.upload(t, data)

	w := f.do(t, http.MethodGet, "/songs", nil, "")
	var listing api.ListSongsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listing))

	song := f.do(t, http.MethodGet, objectPath(t, entry.URL, listing.SASURI), nil, "")
	require.Equal(t, http.StatusOK, song.Code, song.Body.String())
	assert.Equal(t, "audio/mpeg", song.Header().Get("Content-Type"))
	assert.Equal(t, data, song.Body.Bytes())
	assert.NotEmpty(t, song.Header().Get("ETag"))

	cover := f.do(t, http.MethodGet, objectPath(t, entry.ArtworkURL, listing.SASURI), nil, "")
	require.Equal(t, http.StatusOK, cover.Code, cover.Body.String())
	assert.Equal(t, "image/jpeg", cover.Header().Get("Content-Type"))
	assert.Equal(t, testaudio.JPEG(256), cover.Body.Bytes())
}

func TestFetchWithExpiredGrantIsDenied(t *testing.T) {
	f := newFixture(t, shamisen.ListCatalogBacked, 0)
	entry := f.upload(t, sakuraMP3())

	w := f.do(t, http.MethodGet, "/songs", nil, "")
	var listing api.ListSongsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listing))
	target := objectPath(t, entry.URL, listing.SASURI)

	f.now = f.now.Add(24*time.Hour - time.Second)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, target, nil, "").Code)

	f.now = f.now.Add(time.Second)
	assert.Equal(t, http.StatusForbidden, f.do(t, http.MethodGet, target, nil, "").Code)
}

func TestFetchWithoutGrant(t *testing.T) {
	f := newFixture(t, shamisen.ListCatalogBacked, 0)
	entry := f.upload(t, sakuraMP3())

	u, err := url.Parse(entry.URL)
	require.NoError(t, err)
	w := f.do(t, http.MethodGet, u.Path, nil, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestFetchWithTamperedGrant(t *testing.T) {
	f := newFixture(t, shamisen.ListCatalogBacked, 0)
	entry := f.upload(t, sakuraMP3())

	g, err := f.signer.Issue([]string{shamisen.ContainerSongs}, grant.Read, time.Hour)
	require.NoError(t, err)
	q, err := url.ParseQuery(g.Encode())
	require.NoError(t, err)
	q.Set("sp", "racwdl")

	u, err := url.Parse(entry.URL)
	require.NoError(t, err)
	w := f.do(t, http.MethodGet, u.Path+"?"+q.Encode(), nil, "")
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestFetchOutsideGrantScope(t *testing.T) {
	f := newFixture(t, shamisen.ListCatalogBacked, 0)
	entry := f.upload(t, sakuraMP3())

	g, err := f.signer.Issue([]string{shamisen.ContainerSongs}, grant.Read, time.Hour)
	require.NoError(t, err)
	w := f.do(t, http.MethodGet, objectPath(t, entry.ArtworkURL, testBaseURL+"/?"+g.Encode()), nil, "")
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestFetchMissingObject(t *testing.T) {
	f := newFixture(t, shamisen.ListCatalogBacked, 0)

	g, err := f.signer.Issue([]string{shamisen.ContainerSongs}, grant.Read, time.Hour)
	require.NoError(t, err)
	w := f.do(t, http.MethodGet, "/blobs/songs/does-not-exist?"+g.Encode(), nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", decodeError(t, w).Error)
}

func TestListContainerKeys(t *testing.T) {
	f := newFixture(t, shamisen.ListCatalogBacked, 0)
	entry := f.upload(t, sakuraMP3())

	readOnly, err := f.signer.Issue([]string{shamisen.ContainerSongs}, grant.Read, time.Hour)
	require.NoError(t, err)
	w := f.do(t, http.MethodGet, "/blobs/songs?"+readOnly.Encode(), nil, "")
	assert.Equal(t, http.StatusForbidden, w.Code)

	listable, err := f.signer.Issue([]string{shamisen.ContainerSongs}, grant.Read|grant.List, time.Hour)
	require.NoError(t, err)
	w = f.do(t, http.MethodGet, "/blobs/songs?"+listable.Encode(), nil, "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp api.ListBlobsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, []string{entry.ID}, resp.Keys)
}

func TestUploadRejectsNonAudio(t *testing.T) {
	f := newFixture(t, shamisen.ListCatalogBacked, 0)

	w := f.do(t, http.MethodPost, "/songs", []byte("this is not an audio file"), "text/plain")
	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)
	assert.Equal(t, "unsupported_media", decodeError(t, w).Error)

	list := f.do(t, http.MethodGet, "/songs", nil, "")
	assert.Contains(t, list.Body.String(), `"songs":[]`)
}

func TestUploadRejectsMissingCover(t *testing.T) {
	f := newFixture(t, shamisen.ListCatalogBacked, 0)

	body := testaudio.MP3(testaudio.Tags{Title: "Sakura", Artist: "Unknown"})
	w := f.do(t, http.MethodPost, "/songs", body, "audio/mpeg")
	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)
}

func TestUploadEmptyBody(t *testing.T) {
	f := newFixture(t, shamisen.ListCatalogBacked, 0)

	w := f.do(t, http.MethodPost, "/songs", nil, "audio/mpeg")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "empty_body", decodeError(t, w).Error)
}

func TestUploadTooLarge(t *testing.T) {
	f := newFixture(t, shamisen.ListCatalogBacked, 64)

	w := f.do(t, http.MethodPost, "/songs", sakuraMP3(), "audio/mpeg")
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Equal(t, "body_too_large", decodeError(t, w).Error)
}

func TestUploadMultipart(t *testing.T) {
	f := newFixture(t, shamisen.ListCatalogBacked, 0)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("note", "ignored"))
	part, err := mw.CreateFormFile("file", "sakura.mp3")
	require.NoError(t, err)
	_, err = part.Write(sakuraMP3())
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	w := f.do(t, http.MethodPost, "/songs", buf.Bytes(), mw.FormDataContentType())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var entry shamisen.CatalogEntry
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &entry))
	assert.Equal(t, "Sakura", entry.Title)
}

func TestUploadMultipartWithoutFile(t *testing.T) {
	f := newFixture(t, shamisen.ListCatalogBacked, 0)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("note", "no file here"))
	require.NoError(t, mw.Close())

	w := f.do(t, http.MethodPost, "/songs", buf.Bytes(), mw.FormDataContentType())
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListRawKeys(t *testing.T) {
	f := newFixture(t, shamisen.ListRawKeys, 0)
	entry := f.upload(t, sakuraMP3())

	w := f.do(t, http.MethodGet, "/songs", nil, "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp api.ListKeysResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, []string{entry.ID}, resp.Songs)
	assert.Equal(t, testBaseURL, resp.BaseStorageURL)
	assert.Contains(t, resp.SASURI, testBaseURL+"/?")

	// A raw-mode grant covers the songs container only
	song := f.do(t, http.MethodGet, objectPath(t, entry.URL, resp.SASURI), nil, "")
	assert.Equal(t, http.StatusOK, song.Code)
	cover := f.do(t, http.MethodGet, objectPath(t, entry.ArtworkURL, resp.SASURI), nil, "")
	assert.Equal(t, http.StatusForbidden, cover.Code)
}

func TestListModeOverride(t *testing.T) {
	f := newFixture(t, shamisen.ListCatalogBacked, 0)
	f.upload(t, sakuraMP3())

	w := f.do(t, http.MethodGet, "/songs?mode=raw", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"baseStorageUrl"`)

	w = f.do(t, http.MethodGet, "/songs?mode=everything", nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_list_mode", decodeError(t, w).Error)
}
