package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/tejusbharadwaj/domotik/internal/config"
	"github.com/tejusbharadwaj/domotik/internal/export"
	"github.com/tejusbharadwaj/domotik/internal/models"
	middleware "github.com/tejusbharadwaj/domotik/internal/server/middlewares"
)

func (s *Server) handleDatetime(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"value": s.now().In(s.cfg.Location).Format("2006/01/02 15:04:05"),
	})
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	devices := []config.Device{}
	if s.svc.Devices != nil {
		devices = s.svc.Devices.All()
	}
	writeJSON(w, http.StatusOK, devices)
}

func (s *Server) handleLinkyCSV(w http.ResponseWriter, r *http.Request) {
	s.streamCSV(w, r, models.Linky())
}

func (s *Server) handlePressureCSV(w http.ResponseWriter, r *http.Request) {
	s.streamCSV(w, r, models.Pressure())
}

func (s *Server) handleOnOffCSV(w http.ResponseWriter, r *http.Request) {
	device := r.URL.Query().Get("device")
	if device == "" {
		s.writeFailure(w, r, models.NewParamError("device", "missing parameter"))
		return
	}
	s.streamCSV(w, r, models.OnOff(device))
}

func (s *Server) handleTemperatureHumidityCSV(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		s.writeFailure(w, r, models.NewParamError("name", "missing parameter"))
		return
	}
	s.streamCSV(w, r, models.TemperatureHumidity(name))
}

// streamCSV validates the request, then streams the export. Validation and
// stream preparation errors still get a proper status; later errors abort.
func (s *Server) streamCSV(w http.ResponseWriter, r *http.Request, kind models.SensorKind) {
	win, err := s.svc.Resolver.FromQuery(r.URL.Query())
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	st, err := s.svc.Exporter.Open(kind, win)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", export.Filename(kind, s.now())))
	w.WriteHeader(http.StatusOK)

	n, err := s.svc.Exporter.Write(r.Context(), w, st)
	if err != nil {
		s.logger.WithFields(logrus.Fields{
			"request_id": middleware.RequestID(r.Context()),
			"kind":       kind.String(),
			"window":     win.String(),
			"rows":       n,
		}).WithError(err).Error("CSV export aborted")
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) handleOnOffJSON(w http.ResponseWriter, r *http.Request) {
	win, err := s.svc.Resolver.FromQuerySpan(r.URL.Query(), s.cfg.EventSpan)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}

	events := map[string][]string{}
	if s.svc.Devices != nil {
		for _, d := range s.svc.Devices.ByType(config.DeviceEvent) {
			st, err := s.svc.Source.Open(models.OnOff(d.Name), win)
			if err != nil {
				s.writeFailure(w, r, err)
				return
			}
			records, err := st.Collect(r.Context())
			if err != nil {
				s.writeFailure(w, r, err)
				return
			}
			times := make([]string, 0, len(records))
			for _, rec := range records {
				times = append(times, rec.Time().In(s.cfg.Location).Format("2006/01/02 15:04"))
			}
			events[d.Name] = times
		}
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleLinkyImage(w http.ResponseWriter, r *http.Request) {
	s.servePNG(w, r, func(win models.TimeWindow) ([]byte, error) {
		return s.svc.Renderer.Linky(r.Context(), win)
	})
}

func (s *Server) handlePressureImage(w http.ResponseWriter, r *http.Request) {
	s.servePNG(w, r, func(win models.TimeWindow) ([]byte, error) {
		return s.svc.Renderer.Pressure(r.Context(), win)
	})
}

func (s *Server) handleOverviewImage(w http.ResponseWriter, r *http.Request) {
	s.servePNG(w, r, func(win models.TimeWindow) ([]byte, error) {
		return s.svc.Renderer.Overview(r.Context(), win)
	})
}

func (s *Server) handleTemperatureHumidityImage(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	s.servePNG(w, r, func(win models.TimeWindow) ([]byte, error) {
		return s.svc.Renderer.TemperatureHumidity(r.Context(), name, win)
	})
}

func (s *Server) servePNG(w http.ResponseWriter, r *http.Request, chart func(models.TimeWindow) ([]byte, error)) {
	win, err := s.svc.Resolver.FromQuerySpan(r.URL.Query(), s.cfg.DefaultSpan)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	img, err := chart(win)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(img)
}

// statusFor maps the error taxonomy onto HTTP statuses.
func statusFor(err error) int {
	if errors.Is(err, models.ErrBadParameter) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (s *Server) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		s.logger.WithFields(logrus.Fields{
			"request_id": middleware.RequestID(r.Context()),
			"path":       r.URL.Path,
		}).WithError(err).Error("Request failed")
	}
	writeError(w, code, err)
}

func writeError(w http.ResponseWriter, code int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
