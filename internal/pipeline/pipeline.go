package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/invoice-dispatch/constants"
	"github.com/joseph-ayodele/invoice-dispatch/internal/common"
	"github.com/joseph-ayodele/invoice-dispatch/internal/entity"
	"github.com/joseph-ayodele/invoice-dispatch/internal/llm"
	"github.com/joseph-ayodele/invoice-dispatch/internal/metrics"
	"github.com/joseph-ayodele/invoice-dispatch/internal/parser"
	"github.com/joseph-ayodele/invoice-dispatch/internal/raster"
	"github.com/joseph-ayodele/invoice-dispatch/internal/reconcile"
)

type Rasterizer interface {
	Rasterize(ctx context.Context, doc []byte, mimeType string, opts raster.Options) (*raster.Image, error)
}

type Saver interface {
	Save(ctx context.Context, entry *entity.DispatchEntry, allowDuplicate bool) (*reconcile.SaveResult, error)
}

// Catalog supplies the product snapshot used for fuzzy matching.
type Catalog interface {
	List(ctx context.Context, companyID string) ([]entity.Product, error)
}

type ParseFunc func(raw string) (llm.ExtractedInvoice, error)

// Pipeline runs the effects Machine asks for and keeps one session per company.
// Effects run outside the lock; their outcomes are applied only if the session
// they started from is still current.
type Pipeline struct {
	machine   Machine
	raster    Rasterizer
	extractor llm.Extractor
	parse     ParseFunc
	saver     Saver
	catalog   Catalog
	metrics   *metrics.Metrics
	logger    *slog.Logger

	mu       sync.Mutex
	sessions map[string]Session
}

type Option func(*Pipeline)

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithParser replaces parser.Parse.
func WithParser(fn ParseFunc) Option {
	return func(p *Pipeline) {
		if fn != nil {
			p.parse = fn
		}
	}
}

func New(machine Machine, rz Rasterizer, extractor llm.Extractor, saver Saver, catalog Catalog, logger *slog.Logger, opts ...Option) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pipeline{
		machine:   machine,
		raster:    rz,
		extractor: extractor,
		parse:     parser.Parse,
		saver:     saver,
		catalog:   catalog,
		logger:    logger,
		sessions:  make(map[string]Session),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Upload starts a new session for the company and drives it until it needs the user:
// AwaitingConfirmation on success, Failed otherwise. Refused while another session is busy.
func (p *Pipeline) Upload(ctx context.Context, companyID string, doc Document) (Snapshot, error) {
	if strings.TrimSpace(companyID) == "" {
		return Snapshot{}, common.ValidationFailed("company_id is required")
	}
	if len(doc.Data) == 0 {
		return Snapshot{}, common.ValidationFailed("document is empty")
	}
	if mt := strings.TrimSpace(doc.MIMEType); mt == "" || mt == "application/octet-stream" {
		doc.MIMEType = constants.DetectMIME(doc.Data)
	}
	format := constants.MapMIMEToFormat(doc.MIMEType)
	if format == constants.UNKNOWN {
		return Snapshot{}, common.ValidationFailed(fmt.Sprintf("unsupported document type %q", doc.MIMEType))
	}

	var catalog []entity.Product
	if p.catalog != nil {
		list, err := p.catalog.List(ctx, companyID)
		if err != nil {
			// matching degrades to manual selection
			p.logger.Warn("pipeline.catalog.load_failed", "company_id", companyID, "error", err)
		}
		catalog = list
	}

	sid := uuid.NewString()
	p.metrics.Upload(strings.ToLower(string(format)))
	p.logger.Info("pipeline.upload.start",
		"company_id", companyID, "session_id", sid,
		"mime", doc.MIMEType, "bytes", len(doc.Data), "catalog_size", len(catalog),
	)
	return p.dispatch(ctx, companyID, "", Uploaded{SessionID: sid, CompanyID: companyID, Document: doc, Catalog: catalog})
}

// Current returns the company's session, or an Idle snapshot.
func (p *Pipeline) Current(companyID string) Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.sessions[companyID]
	if !ok {
		return Snapshot{CompanyID: companyID, State: StateIdle}
	}
	return s.Snapshot()
}

func (p *Pipeline) SelectEntry(ctx context.Context, companyID string, index int) (Snapshot, error) {
	return p.dispatch(ctx, companyID, "", EntrySelected{Index: index})
}

func (p *Pipeline) UpdateDraft(ctx context.Context, companyID string, patch DraftPatch) (Snapshot, error) {
	return p.dispatch(ctx, companyID, "", DraftUpdated{Patch: patch})
}

// Confirm saves the current draft. A duplicate warning comes back as an
// AwaitingConfirmation snapshot listing the suspected duplicates.
func (p *Pipeline) Confirm(ctx context.Context, companyID string, allowDuplicate bool) (Snapshot, error) {
	return p.dispatch(ctx, companyID, "", Confirmed{AllowDuplicate: allowDuplicate})
}

func (p *Pipeline) Cancel(ctx context.Context, companyID string) (Snapshot, error) {
	return p.dispatch(ctx, companyID, "", Cancelled{})
}

func (p *Pipeline) dispatch(ctx context.Context, companyID, expectID string, ev Event) (Snapshot, error) {
	s, effects, err := p.apply(companyID, expectID, ev)
	if err != nil {
		p.logger.Info("pipeline.event.refused", "company_id", companyID, "event", ev.eventName(), "state", s.State, "error", err)
		return s.Snapshot(), err
	}

	// in-flight work runs to completion even if the caller goes away
	runCtx := common.WithSessionID(context.WithoutCancel(ctx), s.ID)
	for len(effects) > 0 {
		eff := effects[0]
		effects = effects[1:]
		next := p.execute(runCtx, s, eff)
		if next == nil {
			continue
		}
		var more []Effect
		s, more, err = p.apply(companyID, s.ID, next)
		if err != nil {
			p.logger.Warn("pipeline.event.dropped", "company_id", companyID, "event", next.eventName(), "error", err)
			return s.Snapshot(), err
		}
		effects = append(effects, more...)
	}
	return s.Snapshot(), nil
}

func (p *Pipeline) apply(companyID, expectID string, ev Event) (Session, []Effect, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	cur, ok := p.sessions[companyID]
	if !ok {
		cur = Session{CompanyID: companyID, State: StateIdle}
	}
	if expectID != "" && cur.ID != expectID {
		return cur, nil, common.NewAppError(common.CodeInvalidTransition, "session was replaced", common.ErrTransition)
	}

	next, effects, err := p.machine.Transition(cur, ev)
	if err != nil {
		return cur, nil, err
	}
	p.sessions[companyID] = next
	for _, eff := range effects {
		if _, ok := eff.(DiscardSession); ok {
			delete(p.sessions, companyID)
		}
	}
	if next.State != cur.State {
		p.logger.Info("pipeline.state",
			"company_id", companyID, "session_id", next.ID,
			"from", cur.State, "to", next.State, "event", ev.eventName(),
		)
	}
	return next, effects, nil
}

func (p *Pipeline) execute(ctx context.Context, s Session, eff Effect) Event {
	log := p.logger.With("session_id", s.ID, "company_id", s.CompanyID)
	switch e := eff.(type) {
	case RasterizeDocument:
		img, err := p.raster.Rasterize(ctx, e.Document.Data, e.Document.MIMEType, e.Options)
		p.metrics.Rasterized(err)
		if err != nil {
			if common.KindOf(err) == "" {
				err = common.RasterizationError("rasterization failed", err)
			}
			p.metrics.Fallback()
			log.Warn("pipeline.rasterize.fallback", "error", err)
			return RasterizeFailed{Err: err}
		}
		return Rasterized{Image: img}

	case CallModel:
		start := time.Now()
		raw, err := p.extractor.Extract(ctx, e.Request)
		p.metrics.Extracted(string(e.Source), time.Since(start), err)
		if err != nil {
			if common.KindOf(err) == "" {
				err = common.ExtractionError(0, "extraction failed", err)
			}
			log.Error("pipeline.extract.failed", "source", e.Source, "error", err)
			return ExtractFailed{Err: err}
		}
		log.Info("pipeline.extract.ok", "source", e.Source, "raw_len", len(raw), "elapsed_ms", time.Since(start).Milliseconds())
		return Extracted{Raw: raw}

	case ParseResponse:
		inv, err := p.parse(e.Raw)
		p.metrics.Parsed(err)
		if err != nil {
			if common.KindOf(err) == "" {
				err = common.ParseError("model output could not be parsed", err)
			}
			log.Warn("pipeline.parse.failed", "error", err)
			return ParseFailed{Err: err}
		}
		log.Info("pipeline.parse.ok", "entries", len(inv.Entries))
		log.Debug("pipeline.parse.invoice", "invoice", parser.String(inv))
		return ParseSucceeded{Invoice: inv}

	case SaveEntry:
		entry := e.Entry
		res, err := p.saver.Save(ctx, &entry, e.AllowDuplicate)
		var dup *reconcile.DuplicateWarning
		switch {
		case errors.As(err, &dup):
			return DuplicateDetected{Duplicates: dup.Duplicates}
		case err != nil:
			if common.KindOf(err) == "" {
				err = common.PersistenceError("save failed", err)
			}
			return SaveFailed{Err: err}
		}
		return SaveSucceeded{Result: res}
	}
	return nil
}
