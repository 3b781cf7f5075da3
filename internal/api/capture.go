package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/smazurov/framegrab/internal/api/models"
	"github.com/smazurov/framegrab/internal/preview"
)

func (s *Server) registerCaptureRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "get-capture-status",
		Method:      http.MethodGet,
		Path:        "/api/capture",
		Summary:     "Capture Status",
		Description: "Engine state, negotiated format, optional settings and frame counters of the capture loop",
		Tags:        []string{"capture"},
		Security:    withAuth(),
		Errors:      []int{401, 503},
	}, func(_ context.Context, _ *struct{}) (*models.CaptureStatusResponse, error) {
		if s.capture == nil {
			return nil, huma.Error503ServiceUnavailable("capture loop is not running")
		}
		return &models.CaptureStatusResponse{Body: s.capture.Status()}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-capture-frame",
		Method:      http.MethodGet,
		Path:        "/api/capture/frame.png",
		Summary:     "Latest Frame",
		Description: "Luma plane of the most recent frame as a grayscale PNG",
		Tags:        []string{"capture"},
		Security:    withAuth(),
		Errors:      []int{401, 500, 503},
		Responses: map[string]*huma.Response{
			"200": {
				Description: "PNG image",
				Content:     map[string]*huma.MediaType{"image/png": {}},
			},
		},
	}, func(_ context.Context, _ *struct{}) (*models.FrameResponse, error) {
		if s.capture == nil {
			return nil, huma.Error503ServiceUnavailable("capture loop is not running")
		}
		data, frame, err := s.capture.Latest().PNG()
		if errors.Is(err, preview.ErrNoFrame) {
			return nil, huma.Error503ServiceUnavailable("no frame captured yet")
		}
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to encode frame", err)
		}
		return &models.FrameResponse{
			ContentType:  "image/png",
			CacheControl: "no-store",
			Sequence:     strconv.FormatUint(frame.Sequence, 10),
			Captured:     frame.Captured.UTC().Format(time.RFC3339Nano),
			Body:         data,
		}, nil
	})
}
