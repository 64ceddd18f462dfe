package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"quant_valuation/pkg/core/calc"
	"quant_valuation/pkg/core/engine"
	"quant_valuation/pkg/core/ingest"
	"quant_valuation/pkg/core/narrative"
	"quant_valuation/pkg/core/projection"
	"quant_valuation/pkg/core/report"
	"quant_valuation/pkg/core/validate"
	"quant_valuation/pkg/models"
)

// SampleParams asks for generated demo records instead of uploaded ones.
type SampleParams struct {
	Seed      int64 `json:"seed"`
	StartYear int   `json:"start_year"`
	Years     int   `json:"years"`
}

// recordsPayload is embedded by every compute request.
type recordsPayload struct {
	Records []models.FinancialRecord `json:"records"`
	Sample  *SampleParams            `json:"sample,omitempty"`
}

type forecastRequest struct {
	recordsPayload
	engine.ForecastRequest
}

type forecastResponse struct {
	*projection.ForecastResult
	Narrative narrative.Summary `json:"narrative"`
}

type valuationRequest struct {
	recordsPayload
	engine.ValuationRequest
}

type sensitivityRequest struct {
	recordsPayload
	engine.SensitivityRequest
}

type integrityRequest struct {
	recordsPayload
	RequiredFields []string `json:"required_fields,omitempty"`
}

type analyzeRequest struct {
	recordsPayload
	Forecast       engine.ForecastRequest  `json:"forecast"`
	Valuation      engine.ValuationRequest `json:"valuation"`
	RequiredFields []string                `json:"required_fields,omitempty"`
}

type ingestResponse struct {
	Records   []models.FinancialRecord `json:"records"`
	Integrity validate.IntegrityReport `json:"integrity"`
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"service": "quant-valuation",
		"backend": s.engine.Backend(),
	})
}

func (s *Server) handleForecast(w http.ResponseWriter, r *http.Request) {
	var req forecastRequest
	rs, ok := s.decodeWithRecords(w, r, &req, &req.recordsPayload)
	if !ok {
		return
	}
	res, err := s.engine.Forecast(r.Context(), rs, req.ForecastRequest)
	if err != nil {
		s.writeComputeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, forecastResponse{
		ForecastResult: res,
		Narrative:      narrative.Analyze(res.Points, res.Horizon),
	})
}

func (s *Server) handleValuation(w http.ResponseWriter, r *http.Request) {
	var req valuationRequest
	rs, ok := s.decodeWithRecords(w, r, &req, &req.recordsPayload)
	if !ok {
		return
	}
	res, err := s.engine.Valuate(r.Context(), rs, req.ValuationRequest)
	if err != nil {
		s.writeComputeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleSensitivity(w http.ResponseWriter, r *http.Request) {
	var req sensitivityRequest
	rs, ok := s.decodeWithRecords(w, r, &req, &req.recordsPayload)
	if !ok {
		return
	}
	grid, err := s.engine.Sensitivity(r.Context(), rs, req.SensitivityRequest)
	if err != nil {
		s.writeComputeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, grid)
}

func (s *Server) handleIntegrity(w http.ResponseWriter, r *http.Request) {
	var req integrityRequest
	rs, ok := s.decodeWithRecords(w, r, &req, &req.recordsPayload)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, s.engine.Scan(rs, req.RequiredFields))
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	res, ok := s.analyze(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

// handleReport renders the analysis as HTML, or Markdown with ?format=markdown.
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	res, ok := s.analyze(w, r)
	if !ok {
		return
	}

	if r.URL.Query().Get("format") == "markdown" {
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, report.Markdown(res))
		return
	}

	page, err := report.HTML(res)
	if err != nil {
		s.log.Error().Err(err).Str("analysis_id", res.ID).Msg("Failed to render report")
		s.writeError(w, http.StatusInternalServerError, "failed to render report")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, page)
}

// handleIngest parses a raw CSV, JSON/HJSON or HTML body. The format comes
// from ?format=, then Content-Type, then content sniffing.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	hint := r.URL.Query().Get("format")
	if hint == "" {
		hint = r.Header.Get("Content-Type")
	}
	format, err := ingest.ParseFormat(hint)
	if err != nil {
		// unknown content types fall back to sniffing
		format = ingest.FormatAuto
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		s.writeError(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}

	rs, err := s.ingestor.Ingest(body, format)
	if err != nil {
		s.writeComputeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ingestResponse{
		Records:   rs.Records(),
		Integrity: s.engine.Scan(rs, nil),
	})
}

// handleSample returns generated demo records.
func (s *Server) handleSample(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sp := SampleParams{Seed: 1, StartYear: 2018, Years: 6}
	if v := q.Get("seed"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid seed")
			return
		}
		sp.Seed = n
	}
	for key, dst := range map[string]*int{"start_year": &sp.StartYear, "years": &sp.Years} {
		if v := q.Get(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				s.writeError(w, http.StatusBadRequest, "invalid "+key)
				return
			}
			*dst = n
		}
	}

	rs, err := s.sampleRecords(sp)
	if err != nil {
		s.writeComputeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"records": rs.Records()})
}

func (s *Server) analyze(w http.ResponseWriter, r *http.Request) (*engine.AnalysisResult, bool) {
	var req analyzeRequest
	rs, ok := s.decodeWithRecords(w, r, &req, &req.recordsPayload)
	if !ok {
		return nil, false
	}
	res, err := s.engine.Analyze(r.Context(), engine.AnalysisRequest{
		Records:        rs,
		Forecast:       req.Forecast,
		Valuation:      req.Valuation,
		RequiredFields: req.RequiredFields,
	})
	if err != nil {
		s.writeComputeError(w, err)
		return nil, false
	}
	return res, true
}

// decodeWithRecords decodes the JSON body into dst and builds the record set
// from its embedded payload. On failure the response is already written.
func (s *Server) decodeWithRecords(w http.ResponseWriter, r *http.Request, dst interface{}, payload *recordsPayload) (*models.RecordSet, bool) {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return nil, false
	}

	var (
		rs  *models.RecordSet
		err error
	)
	if payload.Sample != nil {
		rs, err = s.sampleRecords(*payload.Sample)
	} else {
		rs, err = s.ingestor.Build(payload.Records)
	}
	if err != nil {
		s.writeComputeError(w, err)
		return nil, false
	}
	return rs, true
}

func (s *Server) sampleRecords(sp SampleParams) (*models.RecordSet, error) {
	const maxSampleYears = 50
	if sp.Years > maxSampleYears {
		return nil, calc.Invalid("years", "at most %d sample years, got %d", maxSampleYears, sp.Years)
	}
	return s.ingestor.Generate(sp.Seed, sp.StartYear, sp.Years)
}

// statusFor maps engine errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, calc.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, calc.ErrInsufficientData):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (s *Server) writeComputeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Error().Err(err).Int("status", status).Msg("Computation failed")
	}
	if status == http.StatusInternalServerError {
		s.writeError(w, status, "internal computation error")
		return
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeError writes an error response
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{
		"error": message,
	})
}
