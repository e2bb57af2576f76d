package collector

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/common/expfmt"

	dto "github.com/prometheus/client_model/go"

	"github.com/pulse/pulse/internal/transport"
	"github.com/pulse/pulse/pkg/log"
	"github.com/pulse/pulse/pkg/metrics"
	"github.com/pulse/pulse/pkg/tracing"
)

// maxReportBytes caps the accepted report payload size.
const maxReportBytes = 10 << 20

// Ingest outcome statuses recorded on coordinator metrics.
const (
	ingestAccepted    = "accepted"
	ingestBadRequest  = "bad_request"
	ingestUnsupported = "unsupported"
	ingestMalformed   = "malformed"
)

// Sink receives a notification for every accepted report.
type Sink interface {
	ReportAccepted(src Source)
}

// Handler accepts metric reports pushed by cluster nodes and applies them
// to the aggregate store. Payloads arrive as protobuf-delimited or text
// Prometheus exposition, negotiated from the Content-Type header.
type Handler struct {
	store   *Store
	logger  log.Logger
	metrics *metrics.CoordinatorMetrics
	sink    Sink
}

// NewHandler creates an ingest handler. sink may be nil; a nil cm
// disables ingest metrics.
func NewHandler(store *Store, logger log.Logger, cm *metrics.CoordinatorMetrics, sink Sink) *Handler {
	return &Handler{
		store:   store,
		logger:  logger.With("component", "collector"),
		metrics: cm,
		sink:    sink,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		h.record(ingestBadRequest, start, 0)
		return
	}

	ctx, span := tracing.StartSpan(r.Context(), "collector.ingest")
	defer span.End()

	query := r.URL.Query()
	group := query.Get(transport.ParamGroup)
	label := query.Get(transport.ParamLabel)
	reporter := query.Get(transport.ParamReporter)

	if group == "" || reporter == "" {
		writeJSONError(w, http.StatusBadRequest, "group and reporter parameters are required")
		h.record(ingestBadRequest, start, 0)
		return
	}

	tracing.AddSpanAttributes(ctx,
		tracing.AttrGroup.String(group),
		tracing.AttrReporterID.String(reporter),
	)

	format := expfmt.ResponseFormat(r.Header)
	if format.FormatType() == expfmt.TypeUnknown {
		writeJSONError(w, http.StatusUnsupportedMediaType, "unsupported report content type")
		h.record(ingestUnsupported, start, 0)
		return
	}

	body := http.MaxBytesReader(w, r.Body, maxReportBytes)
	dec := expfmt.NewDecoder(body, format)

	var families []*dto.MetricFamily
	for {
		fam := &dto.MetricFamily{}
		err := dec.Decode(fam)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			tracing.RecordError(ctx, err)
			h.logger.Warn().
				Err(err).
				Str("group", group).
				Str("reporter", reporter).
				Msg("Rejected malformed metric report")
			writeJSONError(w, http.StatusBadRequest, "malformed report payload")
			h.record(ingestMalformed, start, 0)
			return
		}
		families = append(families, fam)
	}

	rateUnit := r.Header.Get(transport.HeaderRateUnit)
	if rateUnit == "" {
		rateUnit = transport.DefaultRateUnit
	}
	durationUnit := r.Header.Get(transport.HeaderDurationUnit)
	if durationUnit == "" {
		durationUnit = transport.DefaultDurationUnit
	}

	src, err := h.store.Ingest(Report{
		Group:        group,
		Label:        label,
		Reporter:     reporter,
		RateUnit:     rateUnit,
		DurationUnit: durationUnit,
		Families:     families,
	})
	if err != nil {
		tracing.RecordError(ctx, err)
		writeJSONError(w, http.StatusBadRequest, err.Error())
		h.record(ingestBadRequest, start, 0)
		return
	}

	if h.sink != nil {
		h.sink.ReportAccepted(src)
	}

	h.record(ingestAccepted, start, len(families))
	h.logger.Debug().
		Str("group", group).
		Str("label", label).
		Str("reporter", reporter).
		Int("families", len(families)).
		Msg("Accepted metric report")

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) record(status string, start time.Time, families int) {
	if h.metrics != nil {
		h.metrics.RecordIngest(status, time.Since(start).Seconds(), families)
	}
}

func writeJSONError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
