package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/smazurov/pwmirror/internal/api/models"
	"github.com/smazurov/pwmirror/internal/metrics"
	"github.com/smazurov/pwmirror/internal/negotiate"
)

func (s *Server) registerSessionRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "get-session",
		Method:      http.MethodGet,
		Path:        "/api/session",
		Summary:     "Session",
		Description: "State, negotiated format and counters of the mirroring session",
		Tags:        []string{"session"},
		Security:    withAuth(),
		Errors:      []int{401, 503},
	}, func(_ context.Context, _ *struct{}) (*models.SessionResponse, error) {
		src := s.currentSession()
		if src == nil {
			return nil, huma.Error503ServiceUnavailable("no session is running")
		}
		return &models.SessionResponse{Body: s.sessionData(src)}, nil
	})
}

func (s *Server) sessionData(src SessionSource) models.SessionData {
	data := models.SessionData{
		ID:         src.ID(),
		State:      src.State().String(),
		Stats:      src.Stats(),
		Properties: s.options.Properties,
	}
	if err := src.Err(); err != nil {
		data.Error = err.Error()
	}
	if f := src.Format(); !f.IsZero() {
		data.Format = &models.FormatData{
			Width:       f.Width,
			Height:      f.Height,
			PixelFormat: f.PixelFormat.String(),
			Modifier:    f.Modifier,
		}
		if code, ok := negotiate.DRMFromVideoFormat(f.PixelFormat); ok {
			data.Format.FourCC = negotiate.FourCC(code)
		}
	}
	if m := metrics.GetSessionMetrics(src.ID()); m != nil && m.ZeroCopyPlanes+m.CopiedPlanes > 0 {
		data.Staging = &models.StagingData{
			ZeroCopyPlanes: m.ZeroCopyPlanes,
			CopiedPlanes:   m.CopiedPlanes,
			CopiedBytes:    m.CopiedBytes,
		}
	}
	return data
}
