package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wedogs/backend/internal/http/dto"
	"github.com/wedogs/backend/internal/middleware"
	"github.com/wedogs/backend/internal/models"
	"github.com/wedogs/backend/internal/services"
	"go.uber.org/zap"
)

type capturingRecorder struct {
	ctx     context.Context
	req     services.RecordRequest
	receipt services.Receipt
}

func (r *capturingRecorder) Record(ctx context.Context, req services.RecordRequest) (*services.Receipt, error) {
	r.ctx = ctx
	r.req = req
	return &r.receipt, nil
}

type noProjection struct{}

func (noProjection) Project(ctx context.Context, donorID uuid.UUID) (*models.Snapshot, error) {
	return nil, services.ErrDonorNotFound
}

func postDonation(t *testing.T, app *fiber.App, requestID string) *http.Response {
	t.Helper()
	body, err := json.Marshal(dto.RecordDonationRequest{
		Rail:       "instant",
		Amount:     "6",
		Asset:      "TON",
		CampaignID: uuid.NewString(),
		TxHash:     "abc123",
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/donations", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	resp, err := app.Test(req)
	require.NoError(t, err)
	return resp
}

func TestRecordDonation_ContextOutlivesRequest(t *testing.T) {
	rec := &capturingRecorder{receipt: services.Receipt{State: models.DonationStatePersisted, Syncing: true}}
	h := NewDonationHandler(rec, noProjection{}, zap.NewNop())

	app := fiber.New()
	app.Use(middleware.RequestIDMiddleware())
	app.Post("/donations", h.RecordDonation)

	resp := postDonation(t, app, "req-7")
	assert.Equal(t, fiber.StatusAccepted, resp.StatusCode)

	require.NotNil(t, rec.ctx)
	assert.Equal(t, "req-7", middleware.RequestIDFromContext(rec.ctx))

	// the fasthttp request is recycled by now; the handed out context is not tied to it
	assert.NoError(t, rec.ctx.Err())

	resp = postDonation(t, app, "req-8")
	assert.Equal(t, fiber.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "req-8", middleware.RequestIDFromContext(rec.ctx))
}

func TestRecordDonation_StatusCodes(t *testing.T) {
	tests := []struct {
		name    string
		receipt services.Receipt
		want    int
	}{
		{"syncing", services.Receipt{Syncing: true}, fiber.StatusAccepted},
		{"confirmed", services.Receipt{}, fiber.StatusCreated},
		{"duplicate", services.Receipt{Duplicate: true, Syncing: true}, fiber.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewDonationHandler(&capturingRecorder{receipt: tt.receipt}, noProjection{}, zap.NewNop())
			app := fiber.New()
			app.Post("/donations", h.RecordDonation)

			assert.Equal(t, tt.want, postDonation(t, app, "r").StatusCode)
		})
	}
}

func TestGetProgression_UnknownDonor(t *testing.T) {
	h := NewDonationHandler(&capturingRecorder{}, noProjection{}, zap.NewNop())
	app := fiber.New()
	app.Get("/donors/:id/progression", h.GetProgression)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/donors/"+uuid.NewString()+"/progression", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/donors/nope/progression", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}
