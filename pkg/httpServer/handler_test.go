package httpServer

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pinledger-backend/pkg/models"
	v1 "pinledger-backend/pkg/models/api/v1"
	"pinledger-backend/pkg/models/db"
)

const adminToken = "s3cret"

type fakePricing struct {
	size uint64
	days uint32
	err  error
}

func (f *fakePricing) Quote(_ context.Context, sizeBytes uint64, durationDays uint32) (v1.Quote, error) {
	f.size, f.days = sizeBytes, durationDays
	if f.err != nil {
		return v1.Quote{}, f.err
	}
	return v1.Quote{TotalCost: sizeBytes * uint64(durationDays), SizeBytes: sizeBytes, DurationDays: durationDays}, nil
}

type fakeDeposits struct {
	built   v1.DepositRequest
	status  v1.ConfirmStatus
	owner   string
	page    int
	limit   int
	err     error
	confirm v1.ConfirmRequest
}

func (f *fakeDeposits) Build(_ context.Context, req v1.DepositRequest) (v1.DepositResponse, error) {
	f.built = req
	if f.err != nil {
		return v1.DepositResponse{}, f.err
	}
	return v1.DepositResponse{CID: "bafytest", FileCount: len(req.Files)}, nil
}

func (f *fakeDeposits) Confirm(_ context.Context, req v1.ConfirmRequest) (v1.ConfirmStatus, v1.Deposit, error) {
	f.confirm = req
	if f.err != nil {
		return "", v1.Deposit{}, f.err
	}
	return f.status, v1.Deposit{CID: req.CID, TransactionSignature: &req.TransactionHash}, nil
}

func (f *fakeDeposits) History(_ context.Context, owner string, page, limit int) (v1.HistoryResponse, error) {
	f.owner, f.page, f.limit = owner, page, limit
	return v1.HistoryResponse{Deposits: []v1.Deposit{}, Page: page, Limit: limit}, nil
}

type fakeUploads struct {
	cid   string
	files map[string][]byte
}

func (f *fakeUploads) Upload(_ context.Context, cid string, files map[string][]byte) (v1.UploadResponse, error) {
	f.cid, f.files = cid, files
	return v1.UploadResponse{CID: cid, URL: "https://gw/" + cid}, nil
}

type fakeRenewals struct {
	days   uint32
	status v1.ConfirmStatus
}

func (f *fakeRenewals) QuoteRenewal(_ context.Context, cid string, additionalDays uint32) (v1.RenewalCostResponse, error) {
	f.days = additionalDays
	return v1.RenewalCostResponse{CID: cid, AdditionalDays: additionalDays}, nil
}

func (f *fakeRenewals) BuildRenewal(_ context.Context, req v1.RenewRequest) (v1.RenewResponse, error) {
	if req.PublicKey != "owner" {
		return v1.RenewResponse{}, models.ErrNotOwner
	}
	return v1.RenewResponse{CID: req.CID}, nil
}

func (f *fakeRenewals) ConfirmRenewal(_ context.Context, req v1.ConfirmRenewalRequest) (v1.ConfirmStatus, v1.Deposit, error) {
	return f.status, v1.Deposit{CID: req.CID, DurationDays: req.Duration}, nil
}

type fakeUsage struct {
	unresolved bool
	resolved   string
}

func (f *fakeUsage) DailySnapshot(context.Context) (db.UsageSnapshot, []db.UsageAlert, error) {
	return db.UsageSnapshot{ID: "snap", InternalBytes: 10}, []db.UsageAlert{}, nil
}

func (f *fakeUsage) WeeklyComparison(context.Context) (db.UsageComparison, []db.UsageAlert, error) {
	return db.UsageComparison{}, nil, models.ErrUpstream
}

func (f *fakeUsage) ListAlerts(_ context.Context, unresolvedOnly bool, _ int) ([]db.UsageAlert, error) {
	f.unresolved = unresolvedOnly
	return []db.UsageAlert{{ID: "a1", AlertType: "threshold_80", Level: db.AlertLevelWarning}}, nil
}

func (f *fakeUsage) ResolveAlert(_ context.Context, id string) error {
	if id != "a1" {
		return models.ErrAlertNotFound
	}
	f.resolved = id
	return nil
}

type testServer struct {
	app      *fiber.App
	pricing  *fakePricing
	deposits *fakeDeposits
	uploads  *fakeUploads
	renewals *fakeRenewals
	usage    *fakeUsage
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	ts := &testServer{
		app:      fiber.New(),
		pricing:  &fakePricing{},
		deposits: &fakeDeposits{status: v1.ConfirmStatusCreated},
		uploads:  &fakeUploads{},
		renewals: &fakeRenewals{status: v1.ConfirmStatusCreated},
		usage:    &fakeUsage{},
	}

	hash := md5.Sum([]byte(adminToken))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := New(ts.app, ts.pricing, ts.deposits, ts.uploads, ts.renewals, ts.usage,
		[]string{fmt.Sprintf("%x", hash[:])}, "test", "server", logger)
	h.RegisterRoutes()

	return ts
}

func (ts *testServer) do(t *testing.T, req *http.Request) (int, map[string]any) {
	t.Helper()

	resp, err := ts.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var out map[string]any
	if len(body) > 0 && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(body, &out))
	}

	return resp.StatusCode, out
}

func jsonRequest(method, target string, body any) *http.Request {
	data, _ := json.Marshal(body)
	req := httptest.NewRequest(method, target, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func multipartRequest(t *testing.T, target string, fields map[string]string, files map[string]string) *http.Request {
	t.Helper()

	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	for name, content := range files {
		hdr := make(textproto.MIMEHeader)
		hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name="files"; filename="%s"`, name))
		hdr.Set("Content-Type", "application/octet-stream")
		part, err := w.CreatePart(hdr)
		require.NoError(t, err)
		_, err = part.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, target, buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)

	code, body := ts.do(t, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
}

func TestQuote(t *testing.T) {
	ts := newTestServer(t)

	code, body := ts.do(t, httptest.NewRequest(http.MethodGet, "/pricing/quote?size=1048576&duration=30", nil))
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, uint64(1048576), ts.pricing.size)
	assert.Equal(t, uint32(30), ts.pricing.days)

	quote, ok := body["quote"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(1048576*30), quote["totalCost"])

	code, body = ts.do(t, httptest.NewRequest(http.MethodGet, "/pricing/quote?size=abc&duration=30", nil))
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, models.ErrInvalidSize.Message, body["error"])

	code, _ = ts.do(t, httptest.NewRequest(http.MethodGet, "/pricing/quote?size=10", nil))
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestQuote_ErrorMapping(t *testing.T) {
	ts := newTestServer(t)

	ts.pricing.err = models.ErrUpstream
	code, body := ts.do(t, httptest.NewRequest(http.MethodGet, "/pricing/quote?size=1&duration=1", nil))
	assert.Equal(t, http.StatusBadGateway, code)
	assert.Equal(t, models.ErrUpstream.Message, body["error"])

	ts.pricing.err = models.ErrIntegrityMismatch
	code, body = ts.do(t, httptest.NewRequest(http.MethodGet, "/pricing/quote?size=1&duration=1", nil))
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, "internal server error", body["error"])

	ts.pricing.err = fmt.Errorf("wrapped: %w", models.ErrInvalidAmount)
	code, body = ts.do(t, httptest.NewRequest(http.MethodGet, "/pricing/quote?size=1&duration=1", nil))
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, models.ErrInvalidAmount.Message, body["error"])

	ts.pricing.err = io.ErrUnexpectedEOF
	code, body = ts.do(t, httptest.NewRequest(http.MethodGet, "/pricing/quote?size=1&duration=1", nil))
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, "internal server error", body["error"])
}

func TestBuildDeposit(t *testing.T) {
	ts := newTestServer(t)

	req := multipartRequest(t, "/upload/deposit",
		map[string]string{"publicKey": "payer", "duration": "2592000", "userEmail": "me@example.com"},
		map[string]string{"album/a.txt": "hello", "b.txt": "world"},
	)

	code, body := ts.do(t, req)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "bafytest", body["cid"])

	built := ts.deposits.built
	assert.Equal(t, "payer", built.Owner)
	assert.Equal(t, int64(2592000), built.DurationSeconds)
	require.NotNil(t, built.UserEmail)
	assert.Equal(t, "me@example.com", *built.UserEmail)
	assert.Equal(t, map[string][]byte{"album/a.txt": []byte("hello"), "b.txt": []byte("world")}, built.Files)
}

func TestBuildDeposit_Validation(t *testing.T) {
	ts := newTestServer(t)

	code, body := ts.do(t, multipartRequest(t, "/upload/deposit",
		map[string]string{"duration": "86400"},
		map[string]string{"a.txt": "x"},
	))
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, models.ErrMissingFields.Message, body["error"])

	code, body = ts.do(t, multipartRequest(t, "/upload/deposit",
		map[string]string{"publicKey": "payer", "duration": "86400"},
		nil,
	))
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, models.ErrNoFiles.Message, body["error"])

	code, _ = ts.do(t, multipartRequest(t, "/upload/deposit",
		map[string]string{"publicKey": "payer", "duration": "a month"},
		map[string]string{"a.txt": "x"},
	))
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = ts.do(t, jsonRequest(http.MethodPost, "/upload/deposit", map[string]string{"publicKey": "payer"}))
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestConfirmDeposit(t *testing.T) {
	ts := newTestServer(t)

	req := v1.ConfirmRequest{CID: "bafytest", TransactionHash: "sig", DepositMetadata: &v1.DepositMetadata{CID: "bafytest"}}

	code, body := ts.do(t, jsonRequest(http.MethodPost, "/upload/confirm", req))
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, string(v1.ConfirmStatusCreated), body["status"])
	assert.Equal(t, "sig", ts.deposits.confirm.TransactionHash)
	require.NotNil(t, ts.deposits.confirm.DepositMetadata)

	ts.deposits.status = v1.ConfirmStatusAlreadyConfirmed
	code, body = ts.do(t, jsonRequest(http.MethodPost, "/upload/confirm", req))
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, string(v1.ConfirmStatusAlreadyConfirmed), body["status"])
	deposit, ok := body["deposit"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "bafytest", deposit["cid"])

	ts.deposits.err = models.ErrMissingFields
	code, _ = ts.do(t, jsonRequest(http.MethodPost, "/upload/confirm", v1.ConfirmRequest{}))
	assert.Equal(t, http.StatusBadRequest, code)

	bad := httptest.NewRequest(http.MethodPost, "/upload/confirm", strings.NewReader("{"))
	bad.Header.Set("Content-Type", "application/json")
	code, _ = ts.do(t, bad)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestUploadFiles(t *testing.T) {
	ts := newTestServer(t)

	code, body := ts.do(t, multipartRequest(t, "/upload/files",
		map[string]string{"cid": "bafytest"},
		map[string]string{"a.txt": "hello"},
	))
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "https://gw/bafytest", body["url"])
	assert.Equal(t, "bafytest", ts.uploads.cid)
	assert.Equal(t, []byte("hello"), ts.uploads.files["a.txt"])

	code, _ = ts.do(t, multipartRequest(t, "/upload/files", nil, map[string]string{"a.txt": "hello"}))
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestHistory(t *testing.T) {
	ts := newTestServer(t)

	code, body := ts.do(t, httptest.NewRequest(http.MethodGet, "/upload/history?userAddress=payer&page=2&limit=5", nil))
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "payer", ts.deposits.owner)
	assert.Equal(t, 2, ts.deposits.page)
	assert.Equal(t, 5, ts.deposits.limit)
	assert.Equal(t, float64(2), body["page"])

	code, _ = ts.do(t, httptest.NewRequest(http.MethodGet, "/upload/history", nil))
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestRenewals(t *testing.T) {
	ts := newTestServer(t)

	code, body := ts.do(t, httptest.NewRequest(http.MethodGet, "/storage/renewal-cost?cid=bafytest&duration=15", nil))
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, uint32(15), ts.renewals.days)
	assert.Equal(t, float64(15), body["additionalDays"])

	code, _ = ts.do(t, httptest.NewRequest(http.MethodGet, "/storage/renewal-cost?cid=bafytest&duration=0", nil))
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = ts.do(t, jsonRequest(http.MethodPost, "/storage/renew", v1.RenewRequest{CID: "bafytest", Duration: 15, PublicKey: "owner"}))
	assert.Equal(t, http.StatusOK, code)

	code, body = ts.do(t, jsonRequest(http.MethodPost, "/storage/renew", v1.RenewRequest{CID: "bafytest", Duration: 15, PublicKey: "thief"}))
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, models.ErrNotOwner.Message, body["error"])

	renewal := v1.ConfirmRenewalRequest{CID: "bafytest", Duration: 15, TransactionHash: "sig"}
	code, _ = ts.do(t, jsonRequest(http.MethodPost, "/storage/confirm-renewal", renewal))
	assert.Equal(t, http.StatusOK, code)

	ts.renewals.status = v1.ConfirmStatusAlreadyConfirmed
	code, body = ts.do(t, jsonRequest(http.MethodPost, "/storage/confirm-renewal", renewal))
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, string(v1.ConfirmStatusAlreadyConfirmed), body["status"])
}

func TestAdmin_Auth(t *testing.T) {
	ts := newTestServer(t)

	code, _ := ts.do(t, httptest.NewRequest(http.MethodGet, "/admin/usage/alerts", nil))
	assert.Equal(t, http.StatusUnauthorized, code)

	req := httptest.NewRequest(http.MethodGet, "/admin/usage/alerts", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	code, _ = ts.do(t, req)
	assert.Equal(t, http.StatusForbidden, code)

	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	code, _ = ts.do(t, req)
	assert.Equal(t, http.StatusUnauthorized, code)

	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken)
	code, _ = ts.do(t, req)
	assert.Equal(t, http.StatusOK, code)
}

func TestAdmin_Usage(t *testing.T) {
	ts := newTestServer(t)

	admin := func(method, target string) *http.Request {
		req := httptest.NewRequest(method, target, nil)
		req.Header.Set("Authorization", "Bearer "+adminToken)
		return req
	}

	code, body := ts.do(t, admin(http.MethodGet, "/admin/usage/alerts?unresolved=true"))
	require.Equal(t, http.StatusOK, code)
	assert.True(t, ts.usage.unresolved)
	alerts, ok := body["alerts"].([]any)
	require.True(t, ok)
	assert.Len(t, alerts, 1)

	code, _ = ts.do(t, admin(http.MethodPost, "/admin/usage/alerts/a1/resolve"))
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "a1", ts.usage.resolved)

	code, body = ts.do(t, admin(http.MethodPost, "/admin/usage/alerts/missing/resolve"))
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, models.ErrAlertNotFound.Message, body["error"])

	code, body = ts.do(t, admin(http.MethodPost, "/admin/usage/snapshot"))
	require.Equal(t, http.StatusOK, code)
	snapshot, ok := body["snapshot"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "snap", snapshot["id"])

	code, _ = ts.do(t, admin(http.MethodPost, "/admin/usage/comparison"))
	assert.Equal(t, http.StatusBadGateway, code)
}

func TestBearerToken(t *testing.T) {
	assert.Equal(t, "abc", bearerToken("Bearer abc"))
	assert.Equal(t, "abc", bearerToken("bearer  abc "))
	assert.Equal(t, "abc", bearerToken("abc"))
	assert.Equal(t, "", bearerToken(""))
}
